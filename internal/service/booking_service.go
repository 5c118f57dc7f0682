package service

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/harmonia-studio/mls-api/internal/models"
	appErrors "github.com/harmonia-studio/mls-api/pkg/errors"
	"github.com/harmonia-studio/mls-api/pkg/payment"
	"github.com/harmonia-studio/mls-api/pkg/realtime"
)

// Realtime topics for change events.
const (
	TopicEnrollments = "enrollments"
	TopicSessions    = "sessions"
	TopicReschedules = "reschedule_requests"
)

type bookingEnrollmentStore interface {
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
	Upsert(ctx context.Context, enrollment *models.Enrollment) error
	SetCheckoutSession(ctx context.Context, id, sessionID string) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.Enrollment, int, error)
	ListByStudent(ctx context.Context, studentID string) ([]models.Enrollment, error)
}

type bookingCourseReader interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
	FindTimeSlot(ctx context.Context, id string) (*models.TimeSlot, error)
}

type checkoutGateway interface {
	CreateCheckoutSession(ctx context.Context, p payment.CheckoutParams) (*payment.CheckoutSession, error)
}

type changePublisher interface {
	Publish(ctx context.Context, event realtime.Event)
}

type checkoutMetrics interface {
	RecordCheckoutSession(result string)
}

// SubmitEnrollmentRequest describes an enrollment submission. The student
// identity fields come from the authenticated context, never the payload.
type SubmitEnrollmentRequest struct {
	StudentID     string `json:"-"`
	StudentName   string `json:"-"`
	StudentEmail  string `json:"-"`
	CourseID      string `json:"course_id" validate:"required"`
	TimeSlotID    string `json:"time_slot_id"`
	PaymentOption string `json:"payment_option" validate:"required,oneof=pay_now"`
}

// SubmitEnrollmentResult returns the stored enrollment and, for pay_now, the
// hosted checkout URL the student is redirected to. Updated distinguishes a
// refreshed registration from a first submission.
type SubmitEnrollmentResult struct {
	Enrollment  *models.Enrollment `json:"enrollment"`
	CheckoutURL string             `json:"checkout_url,omitempty"`
	Updated     bool               `json:"updated"`
}

// BookingService owns the enrollment lifecycle: submission, checkout hand-off,
// cancellation and entitlement reads.
type BookingService struct {
	enrollments bookingEnrollmentStore
	courses     bookingCourseReader
	gateway     checkoutGateway
	events      changePublisher
	metrics     checkoutMetrics
	successURL  string
	cancelURL   string
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewBookingService constructs BookingService.
func NewBookingService(enrollments bookingEnrollmentStore, courses bookingCourseReader, gateway checkoutGateway, events changePublisher, metrics checkoutMetrics, successURL, cancelURL string, validate *validator.Validate, logger *zap.Logger) *BookingService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BookingService{
		enrollments: enrollments,
		courses:     courses,
		gateway:     gateway,
		events:      events,
		metrics:     metrics,
		successURL:  successURL,
		cancelURL:   cancelURL,
		validator:   validate,
		logger:      logger,
	}
}

// Submit registers or refreshes an enrollment and opens a checkout session.
// Re-submission merges over the existing row; it never clears payment, quiz or
// progress state. A paid row still takes the registration merge but reports
// already-paid instead of opening checkout; a row with a checkout in flight is
// rejected without a write. Each outcome carries its own error code so the
// client can react distinctly.
func (s *BookingService) Submit(ctx context.Context, req SubmitEnrollmentRequest) (*SubmitEnrollmentResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid enrollment payload")
	}
	req.StudentName = strings.TrimSpace(req.StudentName)
	if req.StudentName == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "student name is required")
	}

	course, err := s.courses.FindByID(ctx, req.CourseID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	if course.Archived {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "course is no longer open for enrollment")
	}

	var slotLabel string
	if req.TimeSlotID != "" {
		slot, err := s.courses.FindTimeSlot(ctx, req.TimeSlotID)
		if err != nil {
			if err == sql.ErrNoRows {
				return nil, appErrors.Clone(appErrors.ErrNotFound, "time slot not found")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load time slot")
		}
		if slot.CourseID != course.ID || !slot.Published {
			return nil, appErrors.Clone(appErrors.ErrValidation, "time slot does not belong to course")
		}
		slotLabel = slot.Label
	}

	key := models.EnrollmentKey(req.StudentID, req.CourseID)
	existing, err := s.enrollments.FindByID(ctx, key)
	if err != nil && err != sql.ErrNoRows {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	if existing != nil && !HasPaidAccess(existing) && existing.CheckoutSessionID != "" {
		return nil, appErrors.Clone(appErrors.ErrPaymentInProgress, "")
	}

	enrollment := &models.Enrollment{
		ID:              key,
		StudentID:       req.StudentID,
		CourseID:        req.CourseID,
		StudentName:     req.StudentName,
		StudentEmail:    req.StudentEmail,
		TimeSlotID:      req.TimeSlotID,
		TimeSlotLabel:   slotLabel,
		PaymentOption:   models.PaymentOption(req.PaymentOption),
		PaymentStatus:   models.PaymentStatusPending,
		Status:          models.StatusAwaitingPayment,
		PaymentCurrency: course.Currency,
		EnrolledAt:      time.Now().UTC(),
	}
	if existing != nil {
		enrollment.EnrolledAt = existing.EnrolledAt
	}
	if err := s.enrollments.Upsert(ctx, enrollment); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store enrollment")
	}

	if existing != nil && HasPaidAccess(existing) {
		// The registration details were refreshed above; the settled payment
		// stays untouched and no new checkout opens.
		s.publish(ctx, realtime.KindUpserted, key, existing)
		s.logger.Info("registration refreshed on paid enrollment", zap.String("enrollment_id", key))
		return nil, appErrors.Clone(appErrors.ErrAlreadyPaid, "")
	}

	session, err := s.gateway.CreateCheckoutSession(ctx, payment.CheckoutParams{
		CourseID:     course.ID,
		CourseTitle:  course.Title,
		EnrollmentID: key,
		StudentName:  req.StudentName,
		StudentEmail: req.StudentEmail,
		AmountCents:  course.TuitionCents,
		Currency:     course.Currency,
		SuccessURL:   s.successURL,
		CancelURL:    s.cancelURL,
	})
	if err != nil {
		// The row stays behind unpaid so the student can retry; only the
		// checkout hand-off failed.
		s.logger.Error("checkout session creation failed",
			zap.String("enrollment_id", key),
			zap.String("course_id", course.ID),
			zap.Error(err))
		s.recordCheckout("gateway_error")
		return nil, appErrors.Wrap(err, appErrors.ErrPaymentGateway.Code, appErrors.ErrPaymentGateway.Status, appErrors.ErrPaymentGateway.Message)
	}
	if err := s.enrollments.SetCheckoutSession(ctx, key, session.SessionID); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store checkout reference")
	}
	enrollment.CheckoutSessionID = session.SessionID

	s.recordCheckout("opened")
	s.publish(ctx, realtime.KindUpserted, key, enrollment)
	s.logger.Info("enrollment submitted",
		zap.String("enrollment_id", key),
		zap.String("course_id", course.ID),
		zap.String("payment_option", req.PaymentOption))

	return &SubmitEnrollmentResult{Enrollment: enrollment, CheckoutURL: session.URL, Updated: existing != nil}, nil
}

// Cancel removes the enrollment entirely. Paid rows are removed too; the act
// is logged since it discards a settled payment record.
func (s *BookingService) Cancel(ctx context.Context, studentID, courseID string) error {
	key := models.EnrollmentKey(studentID, courseID)
	existing, err := s.enrollments.FindByID(ctx, key)
	if err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	if HasPaidAccess(existing) {
		s.logger.Warn("cancelling a paid enrollment",
			zap.String("enrollment_id", key),
			zap.String("payment_intent_id", existing.PaymentIntentID))
	}
	if err := s.enrollments.Delete(ctx, key); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete enrollment")
	}
	s.publish(ctx, realtime.KindDeleted, key, nil)
	s.logger.Info("enrollment cancelled", zap.String("enrollment_id", key))
	return nil
}

// Entitlement returns the access snapshot for a (student, course) pair. A
// missing row is a valid answer, not an error.
func (s *BookingService) Entitlement(ctx context.Context, studentID, courseID string) (Entitlement, error) {
	key := models.EnrollmentKey(studentID, courseID)
	enrollment, err := s.enrollments.FindByID(ctx, key)
	if err != nil {
		if err == sql.ErrNoRows {
			return EvaluateEntitlement(nil), nil
		}
		return EvaluateEntitlement(nil), appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	return EvaluateEntitlement(enrollment), nil
}

// Get returns a single enrollment.
func (s *BookingService) Get(ctx context.Context, studentID, courseID string) (*models.Enrollment, error) {
	key := models.EnrollmentKey(studentID, courseID)
	enrollment, err := s.enrollments.FindByID(ctx, key)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	return enrollment, nil
}

// List returns enrollments with pagination metadata.
func (s *BookingService) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.Enrollment, *models.Pagination, error) {
	enrollments, total, err := s.enrollments.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return enrollments, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// ListMine returns the authenticated student's enrollments.
func (s *BookingService) ListMine(ctx context.Context, studentID string) ([]models.Enrollment, error) {
	enrollments, err := s.enrollments.ListByStudent(ctx, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
	}
	return enrollments, nil
}

// ListMyPayments returns the student's paid enrollments, newest payment first.
// This backs the payment history view with its receipt links.
func (s *BookingService) ListMyPayments(ctx context.Context, studentID string) ([]models.Enrollment, error) {
	enrollments, err := s.enrollments.ListByStudent(ctx, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list payments")
	}
	paid := make([]models.Enrollment, 0, len(enrollments))
	for _, enrollment := range enrollments {
		e := enrollment
		if HasPaidAccess(&e) {
			paid = append(paid, e)
		}
	}
	sort.SliceStable(paid, func(i, j int) bool {
		ti, tj := paid[i].PaidAt, paid[j].PaidAt
		if ti == nil || tj == nil {
			return tj == nil && ti != nil
		}
		return ti.After(*tj)
	})
	return paid, nil
}

func (s *BookingService) recordCheckout(result string) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordCheckoutSession(result)
}

func (s *BookingService) publish(ctx context.Context, kind, key string, data interface{}) {
	if s.events == nil {
		return
	}
	s.events.Publish(ctx, realtime.Event{Topic: TopicEnrollments, Kind: kind, Key: key, Data: data})
}
