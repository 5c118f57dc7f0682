package service

import (
	"context"
	"database/sql"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/harmonia-studio/mls-api/internal/models"
	appErrors "github.com/harmonia-studio/mls-api/pkg/errors"
	"github.com/harmonia-studio/mls-api/pkg/realtime"
)

type sessionStore interface {
	List(ctx context.Context, filter models.SessionFilter) ([]models.Session, int, error)
	FindByID(ctx context.Context, id string) (*models.Session, error)
	Create(ctx context.Context, session *models.Session) error
	Update(ctx context.Context, session *models.Session) error
	SetArchived(ctx context.Context, id string, archived bool) error
	Delete(ctx context.Context, id string) error
}

type scheduleCourseReader interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
}

// CreateSessionRequest describes a new lesson session.
type CreateSessionRequest struct {
	CourseID  string `json:"course_id" validate:"required"`
	Date      string `json:"date" validate:"required"`
	StartTime string `json:"start_time" validate:"required"`
	EndTime   string `json:"end_time" validate:"required"`
	Location  string `json:"location"`
	Notes     string `json:"notes"`
}

// UpdateSessionRequest carries the editable session fields.
type UpdateSessionRequest struct {
	Date      string `json:"date" validate:"required"`
	StartTime string `json:"start_time" validate:"required"`
	EndTime   string `json:"end_time" validate:"required"`
	Location  string `json:"location"`
	Notes     string `json:"notes"`
}

// ScheduleService manages lesson sessions.
type ScheduleService struct {
	sessions  sessionStore
	courses   scheduleCourseReader
	events    changePublisher
	validator *validator.Validate
	logger    *zap.Logger
}

// NewScheduleService constructs ScheduleService.
func NewScheduleService(sessions sessionStore, courses scheduleCourseReader, events changePublisher, validate *validator.Validate, logger *zap.Logger) *ScheduleService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScheduleService{sessions: sessions, courses: courses, events: events, validator: validate, logger: logger}
}

// List returns sessions with pagination metadata.
func (s *ScheduleService) List(ctx context.Context, filter models.SessionFilter) ([]models.Session, *models.Pagination, error) {
	sessions, total, err := s.sessions.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list sessions")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return sessions, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Get returns a single session.
func (s *ScheduleService) Get(ctx context.Context, id string) (*models.Session, error) {
	session, err := s.sessions.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "session not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session")
	}
	return session, nil
}

// Create schedules a new session for a course owned by the acting teacher.
func (s *ScheduleService) Create(ctx context.Context, req CreateSessionRequest, actorID string, actorRole models.UserRole) (*models.Session, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid session payload")
	}
	course, err := s.courses.FindByID(ctx, req.CourseID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	if actorRole != models.RoleAdmin && course.TeacherID != actorID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the course teacher can schedule sessions")
	}

	session := &models.Session{
		CourseID:  course.ID,
		TeacherID: course.TeacherID,
		Date:      req.Date,
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
		Location:  req.Location,
		Notes:     req.Notes,
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create session")
	}
	s.publish(ctx, realtime.KindUpserted, session.ID, session)
	s.logger.Info("session scheduled", zap.String("session_id", session.ID), zap.String("course_id", course.ID))
	return session, nil
}

// Update edits a session's date, time and location fields.
func (s *ScheduleService) Update(ctx context.Context, id string, req UpdateSessionRequest, actorID string, actorRole models.UserRole) (*models.Session, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid session payload")
	}
	session, err := s.loadOwned(ctx, id, actorID, actorRole)
	if err != nil {
		return nil, err
	}
	session.Date = req.Date
	session.StartTime = req.StartTime
	session.EndTime = req.EndTime
	session.Location = req.Location
	session.Notes = req.Notes
	if err := s.sessions.Update(ctx, session); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update session")
	}
	s.publish(ctx, realtime.KindUpserted, session.ID, session)
	return session, nil
}

// SetArchived archives or restores a session.
func (s *ScheduleService) SetArchived(ctx context.Context, id string, archived bool, actorID string, actorRole models.UserRole) error {
	session, err := s.loadOwned(ctx, id, actorID, actorRole)
	if err != nil {
		return err
	}
	if err := s.sessions.SetArchived(ctx, id, archived); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to archive session")
	}
	session.Archived = archived
	s.publish(ctx, realtime.KindUpserted, session.ID, session)
	return nil
}

// Delete removes a session and all its attendance marks and reschedule
// requests.
func (s *ScheduleService) Delete(ctx context.Context, id string, actorID string, actorRole models.UserRole) error {
	if _, err := s.loadOwned(ctx, id, actorID, actorRole); err != nil {
		return err
	}
	if err := s.sessions.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete session")
	}
	s.publish(ctx, realtime.KindDeleted, id, nil)
	s.logger.Info("session deleted", zap.String("session_id", id))
	return nil
}

func (s *ScheduleService) loadOwned(ctx context.Context, id, actorID string, actorRole models.UserRole) (*models.Session, error) {
	session, err := s.sessions.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "session not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session")
	}
	if actorRole != models.RoleAdmin && session.TeacherID != actorID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the session teacher can modify it")
	}
	return session, nil
}

func (s *ScheduleService) publish(ctx context.Context, kind, key string, data interface{}) {
	if s.events == nil {
		return
	}
	s.events.Publish(ctx, realtime.Event{Topic: TopicSessions, Kind: kind, Key: key, Data: data})
}
