package service

import (
	"context"
	"database/sql"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/harmonia-studio/mls-api/internal/models"
	appErrors "github.com/harmonia-studio/mls-api/pkg/errors"
)

type reviewStore interface {
	Upsert(ctx context.Context, review *models.Review) error
	ListByCourse(ctx context.Context, courseID string) ([]models.ReviewDetail, error)
	Delete(ctx context.Context, courseID, studentID string) error
}

// SubmitReviewRequest carries a rating and optional comment.
type SubmitReviewRequest struct {
	Rating  int    `json:"rating" validate:"required,min=1,max=5"`
	Comment string `json:"comment" validate:"max=2000"`
}

// ReviewService stores course reviews from paying students.
type ReviewService struct {
	reviews     reviewStore
	enrollments rescheduleEnrollmentReader
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewReviewService constructs ReviewService.
func NewReviewService(reviews reviewStore, enrollments rescheduleEnrollmentReader, validate *validator.Validate, logger *zap.Logger) *ReviewService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReviewService{reviews: reviews, enrollments: enrollments, validator: validate, logger: logger}
}

// Submit writes or replaces the student's review. Only paying students may
// review a course.
func (s *ReviewService) Submit(ctx context.Context, studentID, courseID string, req SubmitReviewRequest) (*models.Review, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid review payload")
	}

	key := models.EnrollmentKey(studentID, courseID)
	enrollment, err := s.enrollments.FindByID(ctx, key)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "only enrolled students can review a course")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	if !CanSubmitReview(enrollment) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only paying students can review a course")
	}

	review := &models.Review{CourseID: courseID, StudentID: studentID, Rating: req.Rating, Comment: req.Comment}
	if err := s.reviews.Upsert(ctx, review); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store review")
	}
	s.logger.Info("review submitted", zap.String("course_id", courseID), zap.String("student_id", studentID), zap.Int("rating", req.Rating))
	return review, nil
}

// List returns the reviews of a course.
func (s *ReviewService) List(ctx context.Context, courseID string) ([]models.ReviewDetail, error) {
	reviews, err := s.reviews.ListByCourse(ctx, courseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list reviews")
	}
	return reviews, nil
}

// Delete removes the student's own review.
func (s *ReviewService) Delete(ctx context.Context, studentID, courseID string) error {
	if err := s.reviews.Delete(ctx, courseID, studentID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete review")
	}
	return nil
}
