package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harmonia-studio/mls-api/internal/models"
	appErrors "github.com/harmonia-studio/mls-api/pkg/errors"
	"github.com/harmonia-studio/mls-api/pkg/payment"
	"github.com/harmonia-studio/mls-api/pkg/realtime"
)

type mockEnrollmentStore struct {
	enrollments map[string]models.Enrollment
	upserted    *models.Enrollment
	deleted     []string
	checkouts   map[string]string
}

func newMockEnrollmentStore() *mockEnrollmentStore {
	return &mockEnrollmentStore{
		enrollments: make(map[string]models.Enrollment),
		checkouts:   make(map[string]string),
	}
}

func (m *mockEnrollmentStore) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	if e, ok := m.enrollments[id]; ok {
		return &e, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockEnrollmentStore) Upsert(ctx context.Context, enrollment *models.Enrollment) error {
	existing, seen := m.enrollments[enrollment.ID]
	stored := *enrollment
	if seen {
		// Registration fields replace, payment and progress fields survive.
		stored.PaymentStatus = existing.PaymentStatus
		stored.Status = existing.Status
		stored.CheckoutSessionID = existing.CheckoutSessionID
		stored.PaymentIntentID = existing.PaymentIntentID
		stored.ReceiptURL = existing.ReceiptURL
		stored.PaidAt = existing.PaidAt
		stored.QuizScore = existing.QuizScore
		stored.Progress = existing.Progress
	}
	m.enrollments[enrollment.ID] = stored
	m.upserted = enrollment
	return nil
}

func (m *mockEnrollmentStore) SetCheckoutSession(ctx context.Context, id, sessionID string) error {
	m.checkouts[id] = sessionID
	if e, ok := m.enrollments[id]; ok {
		e.CheckoutSessionID = sessionID
		m.enrollments[id] = e
	}
	return nil
}

func (m *mockEnrollmentStore) Delete(ctx context.Context, id string) error {
	delete(m.enrollments, id)
	m.deleted = append(m.deleted, id)
	return nil
}

func (m *mockEnrollmentStore) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.Enrollment, int, error) {
	return nil, 0, nil
}

func (m *mockEnrollmentStore) ListByStudent(ctx context.Context, studentID string) ([]models.Enrollment, error) {
	var out []models.Enrollment
	for _, e := range m.enrollments {
		if e.StudentID == studentID {
			out = append(out, e)
		}
	}
	return out, nil
}

type mockCourseReader struct {
	courses map[string]models.Course
	slots   map[string]models.TimeSlot
}

func (m *mockCourseReader) FindByID(ctx context.Context, id string) (*models.Course, error) {
	if c, ok := m.courses[id]; ok {
		return &c, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockCourseReader) FindTimeSlot(ctx context.Context, id string) (*models.TimeSlot, error) {
	if s, ok := m.slots[id]; ok {
		return &s, nil
	}
	return nil, sql.ErrNoRows
}

type mockGateway struct {
	session *payment.CheckoutSession
	err     error
	calls   int
}

func (m *mockGateway) CreateCheckoutSession(ctx context.Context, p payment.CheckoutParams) (*payment.CheckoutSession, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.session, nil
}

type mockPublisher struct {
	events []realtime.Event
}

func (m *mockPublisher) Publish(ctx context.Context, event realtime.Event) {
	m.events = append(m.events, event)
}

func newBookingFixture() (*BookingService, *mockEnrollmentStore, *mockGateway, *mockPublisher) {
	store := newMockEnrollmentStore()
	courses := &mockCourseReader{
		courses: map[string]models.Course{
			"course-1": {ID: "course-1", Title: "Violin Foundations", TeacherID: "teacher-1", TuitionCents: 25000, Currency: "myr"},
		},
		slots: map[string]models.TimeSlot{
			"slot-1": {ID: "slot-1", CourseID: "course-1", Label: "Sat 10:00", Published: true},
		},
	}
	gateway := &mockGateway{session: &payment.CheckoutSession{SessionID: "cs_1", URL: "https://pay.example.com/cs_1"}}
	publisher := &mockPublisher{}
	svc := NewBookingService(store, courses, gateway, publisher, nil, "https://app.example.com/ok", "https://app.example.com/cancel", nil, nil)
	return svc, store, gateway, publisher
}

func TestBookingSubmitOpensCheckout(t *testing.T) {
	svc, store, gateway, publisher := newBookingFixture()

	result, err := svc.Submit(context.Background(), SubmitEnrollmentRequest{
		StudentID:     "stu-1",
		StudentName:   "Mei Lin",
		StudentEmail:  "mei@example.com",
		CourseID:      "course-1",
		TimeSlotID:    "slot-1",
		PaymentOption: "pay_now",
	})
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, "https://pay.example.com/cs_1", result.CheckoutURL)
	assert.Equal(t, "stu-1_course-1", result.Enrollment.ID)
	assert.Equal(t, models.PaymentStatusPending, result.Enrollment.PaymentStatus)
	assert.Equal(t, models.StatusAwaitingPayment, result.Enrollment.Status)
	assert.Equal(t, "Sat 10:00", result.Enrollment.TimeSlotLabel)
	assert.False(t, result.Updated)
	assert.Equal(t, 1, gateway.calls)
	assert.Equal(t, "cs_1", store.checkouts["stu-1_course-1"])
	require.Len(t, publisher.events, 1)
	assert.Equal(t, TopicEnrollments, publisher.events[0].Topic)
}

func TestBookingSubmitAlreadyPaid(t *testing.T) {
	svc, store, gateway, _ := newBookingFixture()
	paidAt := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	store.enrollments["stu-1_course-1"] = models.Enrollment{
		ID:            "stu-1_course-1",
		StudentName:   "Old Name",
		PaymentStatus: models.PaymentStatusPaid,
		Status:        models.StatusPaid,
		PaidAt:        &paidAt,
	}

	_, err := svc.Submit(context.Background(), SubmitEnrollmentRequest{
		StudentID:     "stu-1",
		StudentName:   "Mei Lin",
		TimeSlotID:    "slot-1",
		CourseID:      "course-1",
		PaymentOption: "pay_now",
	})
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrAlreadyPaid))
	assert.Zero(t, gateway.calls)

	// The registration details still merge; the settled payment survives.
	stored := store.enrollments["stu-1_course-1"]
	assert.Equal(t, "Mei Lin", stored.StudentName)
	assert.Equal(t, "Sat 10:00", stored.TimeSlotLabel)
	assert.Equal(t, models.PaymentStatusPaid, stored.PaymentStatus)
	assert.Equal(t, models.StatusPaid, stored.Status)
	require.NotNil(t, stored.PaidAt)
	assert.Equal(t, paidAt, *stored.PaidAt)
}

func TestBookingSubmitPaymentInProgress(t *testing.T) {
	svc, store, gateway, _ := newBookingFixture()
	store.enrollments["stu-1_course-1"] = models.Enrollment{
		ID:                "stu-1_course-1",
		PaymentStatus:     models.PaymentStatusPending,
		CheckoutSessionID: "cs_old",
	}

	_, err := svc.Submit(context.Background(), SubmitEnrollmentRequest{
		StudentID:     "stu-1",
		StudentName:   "Mei Lin",
		CourseID:      "course-1",
		PaymentOption: "pay_now",
	})
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrPaymentInProgress))
	assert.Zero(t, gateway.calls)
}

func TestBookingSubmitGatewayFailureKeepsRow(t *testing.T) {
	svc, store, gateway, _ := newBookingFixture()
	gateway.err = errors.New("stripe unreachable")

	_, err := svc.Submit(context.Background(), SubmitEnrollmentRequest{
		StudentID:     "stu-1",
		StudentName:   "Mei Lin",
		CourseID:      "course-1",
		PaymentOption: "pay_now",
	})
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrPaymentGateway))

	// The enrollment row survives the failed hand-off, still unpaid and
	// without a checkout marker so the student can retry.
	stored, ok := store.enrollments["stu-1_course-1"]
	require.True(t, ok)
	assert.Equal(t, models.PaymentStatusPending, stored.PaymentStatus)
	assert.Empty(t, stored.CheckoutSessionID)
	assert.Equal(t, models.PaymentStateUnpaidPending, PaymentStateOf(&stored))
}

func TestBookingResubmitPreservesPaymentFields(t *testing.T) {
	svc, store, _, _ := newBookingFixture()
	score := 80
	store.enrollments["stu-1_course-1"] = models.Enrollment{
		ID:            "stu-1_course-1",
		PaymentStatus: models.PaymentStatusPending,
		Status:        models.StatusAwaitingPayment,
		QuizScore:     &score,
	}

	result, err := svc.Submit(context.Background(), SubmitEnrollmentRequest{
		StudentID:     "stu-1",
		StudentName:   "Mei Lin (updated)",
		CourseID:      "course-1",
		PaymentOption: "pay_now",
	})
	require.NoError(t, err)
	assert.True(t, result.Updated)

	stored := store.enrollments["stu-1_course-1"]
	assert.Equal(t, "Mei Lin (updated)", stored.StudentName)
	require.NotNil(t, stored.QuizScore)
	assert.Equal(t, 80, *stored.QuizScore)
}

func TestBookingSubmitRejectsBlankName(t *testing.T) {
	svc, _, gateway, _ := newBookingFixture()

	_, err := svc.Submit(context.Background(), SubmitEnrollmentRequest{
		StudentID:     "stu-1",
		StudentName:   "   ",
		CourseID:      "course-1",
		PaymentOption: "pay_now",
	})
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrValidation))
	assert.Zero(t, gateway.calls)
}

func TestBookingCancelDeletesRow(t *testing.T) {
	svc, store, _, publisher := newBookingFixture()
	store.enrollments["stu-1_course-1"] = models.Enrollment{ID: "stu-1_course-1"}

	err := svc.Cancel(context.Background(), "stu-1", "course-1")
	require.NoError(t, err)
	assert.NotContains(t, store.enrollments, "stu-1_course-1")
	require.Len(t, publisher.events, 1)
	assert.Equal(t, realtime.KindDeleted, publisher.events[0].Kind)
}

func TestBookingCancelMissingEnrollment(t *testing.T) {
	svc, _, _, _ := newBookingFixture()

	err := svc.Cancel(context.Background(), "stu-1", "course-1")
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrNotFound))
}

func TestBookingListMyPaymentsFiltersAndOrders(t *testing.T) {
	svc, store, _, _ := newBookingFixture()
	earlier := time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)
	later := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	store.enrollments["stu-1_course-1"] = models.Enrollment{
		ID: "stu-1_course-1", StudentID: "stu-1", CourseID: "course-1",
		PaymentStatus: models.PaymentStatusPaid, PaidAt: &earlier,
	}
	store.enrollments["stu-1_course-2"] = models.Enrollment{
		ID: "stu-1_course-2", StudentID: "stu-1", CourseID: "course-2",
		PaymentStatus: models.PaymentStatusPaid, PaidAt: &later,
	}
	store.enrollments["stu-1_course-3"] = models.Enrollment{
		ID: "stu-1_course-3", StudentID: "stu-1", CourseID: "course-3",
		PaymentStatus: models.PaymentStatusPending,
	}

	payments, err := svc.ListMyPayments(context.Background(), "stu-1")
	require.NoError(t, err)
	require.Len(t, payments, 2)
	assert.Equal(t, "stu-1_course-2", payments[0].ID)
	assert.Equal(t, "stu-1_course-1", payments[1].ID)
}

func TestBookingEntitlementFailsClosedWhenAbsent(t *testing.T) {
	svc, _, _, _ := newBookingFixture()

	snapshot, err := svc.Entitlement(context.Background(), "stu-1", "course-1")
	require.NoError(t, err)
	assert.False(t, snapshot.Enrolled)
	assert.False(t, snapshot.HasPaidAccess)
	assert.Equal(t, "NONE", snapshot.State)
}
