package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/harmonia-studio/mls-api/internal/models"
	"github.com/harmonia-studio/mls-api/internal/repository"
	appErrors "github.com/harmonia-studio/mls-api/pkg/errors"
	"github.com/harmonia-studio/mls-api/pkg/realtime"
)

// defaultRejectNote is applied when a teacher rejects without a note.
const defaultRejectNote = "Request declined"

type rescheduleStore interface {
	Create(ctx context.Context, req *models.RescheduleRequest) error
	FindByID(ctx context.Context, id string) (*models.RescheduleRequest, error)
	HasPending(ctx context.Context, sessionID, studentID string) (bool, error)
	List(ctx context.Context, filter models.RescheduleFilter) ([]models.RescheduleRequest, int, error)
	Reject(ctx context.Context, id, note, resolvedBy string, resolvedAt time.Time) error
	Approve(ctx context.Context, requestID, sessionID, date, startTime, endTime, note, resolvedBy string, resolvedAt time.Time) error
	PurgeResolvedBySession(ctx context.Context, sessionID string) (int64, error)
}

type rescheduleSessionReader interface {
	FindByID(ctx context.Context, id string) (*models.Session, error)
}

type rescheduleEnrollmentReader interface {
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
}

// SubmitRescheduleRequest describes a student's proposal to move a session.
type SubmitRescheduleRequest struct {
	StudentID     string `json:"-"`
	StudentName   string `json:"-"`
	SessionID     string `json:"session_id" validate:"required"`
	RequestedDate string `json:"requested_date" validate:"required"`
	RequestedTime string `json:"requested_time" validate:"required"`
	Message       string `json:"message"`
}

// ApproveRescheduleRequest optionally overrides the requested date and time.
// Empty fields fall back to what the student asked for.
type ApproveRescheduleRequest struct {
	Date      string `json:"date"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Note      string `json:"note"`
}

// RescheduleService runs the pending/approved/rejected workflow.
type RescheduleService struct {
	requests    rescheduleStore
	sessions    rescheduleSessionReader
	enrollments rescheduleEnrollmentReader
	events      changePublisher
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewRescheduleService constructs RescheduleService.
func NewRescheduleService(requests rescheduleStore, sessions rescheduleSessionReader, enrollments rescheduleEnrollmentReader, events changePublisher, validate *validator.Validate, logger *zap.Logger) *RescheduleService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RescheduleService{requests: requests, sessions: sessions, enrollments: enrollments, events: events, validator: validate, logger: logger}
}

// Submit opens a pending request. A student gets at most one open request per
// session; enrollment in the session's course is required.
func (s *RescheduleService) Submit(ctx context.Context, req SubmitRescheduleRequest) (*models.RescheduleRequest, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid reschedule payload")
	}

	session, err := s.sessions.FindByID(ctx, req.SessionID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "session not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session")
	}
	if session.Archived {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "session is archived")
	}

	enrollmentKey := models.EnrollmentKey(req.StudentID, session.CourseID)
	if _, err := s.enrollments.FindByID(ctx, enrollmentKey); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "not enrolled in this course")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}

	pending, err := s.requests.HasPending(ctx, req.SessionID, req.StudentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check pending requests")
	}
	if pending {
		return nil, appErrors.Clone(appErrors.ErrConflict, "a pending request already exists for this session")
	}

	request := &models.RescheduleRequest{
		SessionID:     session.ID,
		CourseID:      session.CourseID,
		StudentID:     req.StudentID,
		StudentName:   req.StudentName,
		TeacherID:     session.TeacherID,
		RequestedDate: req.RequestedDate,
		RequestedTime: req.RequestedTime,
		Message:       req.Message,
	}
	if err := s.requests.Create(ctx, request); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create reschedule request")
	}

	s.publish(ctx, realtime.KindUpserted, request.ID, request)
	s.logger.Info("reschedule request submitted",
		zap.String("request_id", request.ID),
		zap.String("session_id", session.ID),
		zap.String("student_id", req.StudentID))
	return request, nil
}

// Approve resolves a pending request and moves its session in one step. The
// override fields fall back to the student's requested date and time, and the
// session keeps its current end time when none can be derived.
func (s *RescheduleService) Approve(ctx context.Context, id string, req ApproveRescheduleRequest, actorID string, actorRole models.UserRole) (*models.RescheduleRequest, error) {
	request, err := s.loadPending(ctx, id)
	if err != nil {
		return nil, err
	}
	if actorRole != models.RoleAdmin && request.TeacherID != actorID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the session teacher can resolve this request")
	}

	session, err := s.sessions.FindByID(ctx, request.SessionID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "session no longer exists")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session")
	}

	date := req.Date
	if date == "" {
		date = request.RequestedDate
	}
	if date == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "no date to reschedule to")
	}
	startTime, endTime := req.StartTime, req.EndTime
	if startTime == "" {
		startTime, endTime = splitTimeRange(request.RequestedTime)
	}
	if endTime == "" {
		endTime = session.EndTime
	}

	now := time.Now().UTC()
	if err := s.requests.Approve(ctx, request.ID, session.ID, date, startTime, endTime, req.Note, actorID, now); err != nil {
		if errors.Is(err, repository.ErrRequestResolved) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "request already resolved")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to approve reschedule request")
	}

	request.Status = models.RescheduleStatusApproved
	request.ResolutionNote = req.Note
	request.ResolvedAt = &now
	request.ResolvedBy = actorID

	s.publish(ctx, realtime.KindUpserted, request.ID, request)
	if s.events != nil {
		s.events.Publish(ctx, realtime.Event{Topic: TopicSessions, Kind: realtime.KindUpserted, Key: session.ID})
	}
	s.logger.Info("reschedule request approved",
		zap.String("request_id", request.ID),
		zap.String("session_id", session.ID),
		zap.String("new_date", date),
		zap.String("new_start_time", startTime))
	return request, nil
}

// Reject resolves a pending request without touching the session. An empty
// note gets the standard wording.
func (s *RescheduleService) Reject(ctx context.Context, id, note, actorID string, actorRole models.UserRole) (*models.RescheduleRequest, error) {
	request, err := s.loadPending(ctx, id)
	if err != nil {
		return nil, err
	}
	if actorRole != models.RoleAdmin && request.TeacherID != actorID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the session teacher can resolve this request")
	}

	if note == "" {
		note = defaultRejectNote
	}
	now := time.Now().UTC()
	if err := s.requests.Reject(ctx, request.ID, note, actorID, now); err != nil {
		if errors.Is(err, repository.ErrRequestResolved) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "request already resolved")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reject reschedule request")
	}

	request.Status = models.RescheduleStatusRejected
	request.ResolutionNote = note
	request.ResolvedAt = &now
	request.ResolvedBy = actorID

	s.publish(ctx, realtime.KindUpserted, request.ID, request)
	s.logger.Info("reschedule request rejected", zap.String("request_id", request.ID))
	return request, nil
}

// List returns requests with pagination metadata.
func (s *RescheduleService) List(ctx context.Context, filter models.RescheduleFilter) ([]models.RescheduleRequest, *models.Pagination, error) {
	requests, total, err := s.requests.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list reschedule requests")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return requests, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// PurgeResolved clears resolved requests for a session, leaving pending ones.
func (s *RescheduleService) PurgeResolved(ctx context.Context, sessionID string, actorID string, actorRole models.UserRole) (int64, error) {
	session, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, appErrors.Clone(appErrors.ErrNotFound, "session not found")
		}
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session")
	}
	if actorRole != models.RoleAdmin && session.TeacherID != actorID {
		return 0, appErrors.Clone(appErrors.ErrForbidden, "only the session teacher can purge requests")
	}
	removed, err := s.requests.PurgeResolvedBySession(ctx, sessionID)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to purge reschedule requests")
	}
	s.logger.Info("resolved reschedule requests purged",
		zap.String("session_id", sessionID),
		zap.Int64("removed", removed))
	return removed, nil
}

func (s *RescheduleService) loadPending(ctx context.Context, id string) (*models.RescheduleRequest, error) {
	request, err := s.requests.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "reschedule request not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load reschedule request")
	}
	if request.Status.Terminal() {
		return nil, appErrors.Clone(appErrors.ErrConflict, "request already resolved")
	}
	return request, nil
}

func (s *RescheduleService) publish(ctx context.Context, kind, key string, data interface{}) {
	if s.events == nil {
		return
	}
	s.events.Publish(ctx, realtime.Event{Topic: TopicReschedules, Kind: kind, Key: key, Data: data})
}

// splitTimeRange breaks "15:00 - 16:00" style strings into their bounds. A
// bare start time yields an empty end.
func splitTimeRange(value string) (string, string) {
	parts := strings.SplitN(value, "-", 2)
	start := strings.TrimSpace(parts[0])
	if len(parts) == 1 {
		return start, ""
	}
	return start, strings.TrimSpace(parts[1])
}
