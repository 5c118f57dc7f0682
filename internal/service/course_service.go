package service

import (
	"context"
	"database/sql"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/harmonia-studio/mls-api/internal/models"
	appErrors "github.com/harmonia-studio/mls-api/pkg/errors"
)

type courseStore interface {
	List(ctx context.Context, filter models.CourseFilter) ([]models.Course, int, error)
	FindByID(ctx context.Context, id string) (*models.Course, error)
	Create(ctx context.Context, course *models.Course) error
	Update(ctx context.Context, course *models.Course) error
	SetArchived(ctx context.Context, id string, archived bool) error
	ListTimeSlots(ctx context.Context, courseID string, publishedOnly bool) ([]models.TimeSlot, error)
	ReplaceTimeSlots(ctx context.Context, courseID string, slots []models.TimeSlot) error
}

// CourseRequest carries the editable course fields.
type CourseRequest struct {
	Title        string `json:"title" validate:"required"`
	Headline     string `json:"headline"`
	Description  string `json:"description"`
	TeacherID    string `json:"teacher_id" validate:"required"`
	Level        string `json:"level"`
	Duration     string `json:"duration"`
	TuitionCents int64  `json:"tuition_cents" validate:"gt=0"`
	Currency     string `json:"currency"`
}

// TimeSlotRequest is one schedule option in a slot replacement.
type TimeSlotRequest struct {
	Label     string `json:"label" validate:"required"`
	Published bool   `json:"published"`
}

// CourseService manages the course catalog.
type CourseService struct {
	courses         courseStore
	defaultCurrency string
	validator       *validator.Validate
	logger          *zap.Logger
}

// NewCourseService constructs CourseService.
func NewCourseService(courses courseStore, defaultCurrency string, validate *validator.Validate, logger *zap.Logger) *CourseService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if defaultCurrency == "" {
		defaultCurrency = "myr"
	}
	return &CourseService{courses: courses, defaultCurrency: defaultCurrency, validator: validate, logger: logger}
}

// List returns courses with pagination metadata.
func (s *CourseService) List(ctx context.Context, filter models.CourseFilter) ([]models.Course, *models.Pagination, error) {
	courses, total, err := s.courses.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list courses")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return courses, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Get returns a course with its published time slots.
func (s *CourseService) Get(ctx context.Context, id string) (*models.CourseDetail, error) {
	course, err := s.courses.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	slots, err := s.courses.ListTimeSlots(ctx, id, true)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load time slots")
	}
	return &models.CourseDetail{Course: *course, TimeSlots: slots}, nil
}

// Create adds a new course to the catalog.
func (s *CourseService) Create(ctx context.Context, req CourseRequest) (*models.Course, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid course payload")
	}
	course := &models.Course{
		Title:        req.Title,
		Headline:     req.Headline,
		Description:  req.Description,
		TeacherID:    req.TeacherID,
		Level:        req.Level,
		Duration:     req.Duration,
		TuitionCents: req.TuitionCents,
		Currency:     s.currency(req.Currency),
	}
	if err := s.courses.Create(ctx, course); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create course")
	}
	s.logger.Info("course created", zap.String("course_id", course.ID), zap.String("title", course.Title))
	return course, nil
}

// Update edits an existing course.
func (s *CourseService) Update(ctx context.Context, id string, req CourseRequest) (*models.Course, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid course payload")
	}
	course, err := s.courses.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	course.Title = req.Title
	course.Headline = req.Headline
	course.Description = req.Description
	course.Level = req.Level
	course.Duration = req.Duration
	course.TuitionCents = req.TuitionCents
	course.Currency = s.currency(req.Currency)
	if err := s.courses.Update(ctx, course); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update course")
	}
	return course, nil
}

// SetArchived closes or reopens a course for enrollment.
func (s *CourseService) SetArchived(ctx context.Context, id string, archived bool) error {
	if _, err := s.courses.FindByID(ctx, id); err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	if err := s.courses.SetArchived(ctx, id, archived); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to archive course")
	}
	return nil
}

// ReplaceTimeSlots swaps the full slot set of a course.
func (s *CourseService) ReplaceTimeSlots(ctx context.Context, courseID string, reqs []TimeSlotRequest) ([]models.TimeSlot, error) {
	if _, err := s.courses.FindByID(ctx, courseID); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	slots := make([]models.TimeSlot, 0, len(reqs))
	for _, req := range reqs {
		if err := s.validator.Struct(req); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid time slot payload")
		}
		slots = append(slots, models.TimeSlot{CourseID: courseID, Label: req.Label, Published: req.Published})
	}
	if err := s.courses.ReplaceTimeSlots(ctx, courseID, slots); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to replace time slots")
	}
	return slots, nil
}

func (s *CourseService) currency(value string) string {
	if value == "" {
		return s.defaultCurrency
	}
	return strings.ToLower(value)
}
