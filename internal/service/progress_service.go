package service

import (
	"context"
	"database/sql"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/harmonia-studio/mls-api/internal/models"
	appErrors "github.com/harmonia-studio/mls-api/pkg/errors"
	"github.com/harmonia-studio/mls-api/pkg/realtime"
)

type progressEnrollmentStore interface {
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
	SetQuizResult(ctx context.Context, id string, score int, completedAt time.Time) error
	SetProgress(ctx context.Context, id string, progress int, note string) error
}

// SubmitQuizRequest records a student's placement quiz outcome.
type SubmitQuizRequest struct {
	Score int `json:"score" validate:"min=0,max=100"`
}

// UpdateProgressRequest is the teacher's progress report for a student.
type UpdateProgressRequest struct {
	Progress int    `json:"progress" validate:"min=0,max=100"`
	Note     string `json:"note"`
}

// ProgressService handles quiz results and teacher progress reports, both of
// which live on the enrollment record and require paid access.
type ProgressService struct {
	enrollments progressEnrollmentStore
	events      changePublisher
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewProgressService constructs ProgressService.
func NewProgressService(enrollments progressEnrollmentStore, events changePublisher, validate *validator.Validate, logger *zap.Logger) *ProgressService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProgressService{enrollments: enrollments, events: events, validator: validate, logger: logger}
}

// SubmitQuiz stores the quiz score on the student's own enrollment.
func (s *ProgressService) SubmitQuiz(ctx context.Context, studentID, courseID string, req SubmitQuizRequest) (*models.Enrollment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid quiz payload")
	}
	enrollment, err := s.loadPaid(ctx, studentID, courseID)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	if err := s.enrollments.SetQuizResult(ctx, enrollment.ID, req.Score, now); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store quiz result")
	}
	enrollment.QuizScore = &req.Score
	enrollment.QuizCompletedAt = &now
	s.publish(ctx, enrollment)
	s.logger.Info("quiz submitted", zap.String("enrollment_id", enrollment.ID), zap.Int("score", req.Score))
	return enrollment, nil
}

// UpdateProgress stores a teacher's progress report on an enrollment.
func (s *ProgressService) UpdateProgress(ctx context.Context, studentID, courseID string, req UpdateProgressRequest) (*models.Enrollment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid progress payload")
	}
	enrollment, err := s.loadPaid(ctx, studentID, courseID)
	if err != nil {
		return nil, err
	}
	if err := s.enrollments.SetProgress(ctx, enrollment.ID, req.Progress, req.Note); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store progress")
	}
	enrollment.Progress = req.Progress
	enrollment.ProgressNote = req.Note
	s.publish(ctx, enrollment)
	return enrollment, nil
}

func (s *ProgressService) loadPaid(ctx context.Context, studentID, courseID string) (*models.Enrollment, error) {
	key := models.EnrollmentKey(studentID, courseID)
	enrollment, err := s.enrollments.FindByID(ctx, key)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "no paid enrollment for this course")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	if !CanTakeQuiz(enrollment) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "no paid enrollment for this course")
	}
	return enrollment, nil
}

func (s *ProgressService) publish(ctx context.Context, enrollment *models.Enrollment) {
	if s.events == nil {
		return
	}
	s.events.Publish(ctx, realtime.Event{Topic: TopicEnrollments, Kind: realtime.KindUpserted, Key: enrollment.ID, Data: enrollment})
}
