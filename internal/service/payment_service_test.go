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
)

type mockPaymentStore struct {
	enrollments   map[string]models.Enrollment
	confirmations []models.PaymentConfirmation
	markPaidErr   error
}

func (m *mockPaymentStore) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	if e, ok := m.enrollments[id]; ok {
		return &e, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockPaymentStore) MarkPaid(ctx context.Context, conf models.PaymentConfirmation) (bool, error) {
	if m.markPaidErr != nil {
		return false, m.markPaidErr
	}
	m.confirmations = append(m.confirmations, conf)
	e, ok := m.enrollments[conf.EnrollmentID]
	if !ok {
		return false, nil
	}
	if e.PaymentStatus == models.PaymentStatusPaid {
		return false, nil
	}
	e.PaymentStatus = models.PaymentStatusPaid
	e.Status = models.StatusPaid
	e.PaymentIntentID = conf.PaymentIntentID
	e.ReceiptURL = conf.ReceiptURL
	paidAt := conf.PaidAt
	e.PaidAt = &paidAt
	m.enrollments[conf.EnrollmentID] = e
	return true, nil
}

type mockWebhookGateway struct {
	event     *payment.Event
	verifyErr error
	intent    *payment.IntentDetails
	intentErr error
}

func (m *mockWebhookGateway) VerifyEvent(payload []byte, signature string) (*payment.Event, error) {
	if m.verifyErr != nil {
		return nil, m.verifyErr
	}
	return m.event, nil
}

func (m *mockWebhookGateway) RetrievePaymentIntent(ctx context.Context, intentID string) (*payment.IntentDetails, error) {
	if m.intentErr != nil {
		return nil, m.intentErr
	}
	return m.intent, nil
}

type mockMarker struct {
	seen    map[string]bool
	cleared []string
}

func (m *mockMarker) MarkOnce(ctx context.Context, eventID string, ttl time.Duration) bool {
	if m.seen == nil {
		m.seen = make(map[string]bool)
	}
	if m.seen[eventID] {
		return false
	}
	m.seen[eventID] = true
	return true
}

func (m *mockMarker) Clear(ctx context.Context, eventID string) {
	delete(m.seen, eventID)
	m.cleared = append(m.cleared, eventID)
}

func checkoutEvent() *payment.Event {
	return &payment.Event{
		ID:              "evt_1",
		Type:            payment.EventTypeCheckoutCompleted,
		EnrollmentID:    "stu-1_course-1",
		CourseID:        "course-1",
		PaymentIntentID: "pi_1",
	}
}

func newPaymentFixture(store *mockPaymentStore, gateway *mockWebhookGateway) (*PaymentService, *mockPublisher) {
	publisher := &mockPublisher{}
	svc := NewPaymentService(store, gateway, &mockMarker{}, publisher, nil, nil, time.Hour, nil)
	return svc, publisher
}

func TestWebhookConfirmsPayment(t *testing.T) {
	store := &mockPaymentStore{enrollments: map[string]models.Enrollment{
		"stu-1_course-1": {ID: "stu-1_course-1", PaymentStatus: models.PaymentStatusPending, Status: models.StatusAwaitingPayment},
	}}
	gateway := &mockWebhookGateway{
		event:  checkoutEvent(),
		intent: &payment.IntentDetails{AmountReceived: 25000, Currency: "myr", ReceiptURL: "https://pay.example.com/r/1"},
	}
	svc, publisher := newPaymentFixture(store, gateway)

	err := svc.HandleWebhook(context.Background(), []byte(`{}`), "sig")
	require.NoError(t, err)

	stored := store.enrollments["stu-1_course-1"]
	assert.Equal(t, models.PaymentStatusPaid, stored.PaymentStatus)
	assert.Equal(t, models.StatusPaid, stored.Status)
	assert.Equal(t, "pi_1", stored.PaymentIntentID)
	assert.Equal(t, "https://pay.example.com/r/1", stored.ReceiptURL)
	require.NotNil(t, stored.PaidAt)
	assert.True(t, HasPaidAccess(&stored))
	require.Len(t, publisher.events, 1)
}

func TestWebhookSignatureFailureIsFatal(t *testing.T) {
	store := &mockPaymentStore{enrollments: map[string]models.Enrollment{
		"stu-1_course-1": {ID: "stu-1_course-1", PaymentStatus: models.PaymentStatusPending},
	}}
	gateway := &mockWebhookGateway{verifyErr: errors.New("bad signature")}
	svc, _ := newPaymentFixture(store, gateway)

	err := svc.HandleWebhook(context.Background(), []byte(`{}`), "sig")
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrInvalidSignature))
	assert.Empty(t, store.confirmations)
}

func TestWebhookRedeliveryIsIdempotent(t *testing.T) {
	store := &mockPaymentStore{enrollments: map[string]models.Enrollment{
		"stu-1_course-1": {ID: "stu-1_course-1", PaymentStatus: models.PaymentStatusPending},
	}}
	gateway := &mockWebhookGateway{event: checkoutEvent(), intent: &payment.IntentDetails{AmountReceived: 25000, Currency: "myr"}}
	// No marker: force the database guard to carry idempotency alone.
	svc := NewPaymentService(store, gateway, nil, nil, nil, nil, time.Hour, nil)

	require.NoError(t, svc.HandleWebhook(context.Background(), []byte(`{}`), "sig"))
	first := store.enrollments["stu-1_course-1"]
	firstPaidAt := *first.PaidAt

	require.NoError(t, svc.HandleWebhook(context.Background(), []byte(`{}`), "sig"))
	second := store.enrollments["stu-1_course-1"]
	assert.Equal(t, firstPaidAt, *second.PaidAt)
	assert.Equal(t, models.PaymentStatusPaid, second.PaymentStatus)
}

func TestWebhookMarkerShortCircuitsRedelivery(t *testing.T) {
	store := &mockPaymentStore{enrollments: map[string]models.Enrollment{
		"stu-1_course-1": {ID: "stu-1_course-1", PaymentStatus: models.PaymentStatusPending},
	}}
	gateway := &mockWebhookGateway{event: checkoutEvent(), intent: &payment.IntentDetails{}}
	svc, _ := newPaymentFixture(store, gateway)

	require.NoError(t, svc.HandleWebhook(context.Background(), []byte(`{}`), "sig"))
	require.NoError(t, svc.HandleWebhook(context.Background(), []byte(`{}`), "sig"))
	assert.Len(t, store.confirmations, 1)
}

func TestWebhookStoreFailureReleasesMarkerForRedelivery(t *testing.T) {
	store := &mockPaymentStore{
		enrollments: map[string]models.Enrollment{
			"stu-1_course-1": {ID: "stu-1_course-1", PaymentStatus: models.PaymentStatusPending},
		},
		markPaidErr: errors.New("connection reset"),
	}
	gateway := &mockWebhookGateway{event: checkoutEvent(), intent: &payment.IntentDetails{AmountReceived: 25000, Currency: "myr"}}
	marker := &mockMarker{}
	svc := NewPaymentService(store, gateway, marker, nil, nil, nil, time.Hour, nil)

	// The transient write failure returns an error so the gateway retries,
	// and must also release the dedupe marker.
	err := svc.HandleWebhook(context.Background(), []byte(`{}`), "sig")
	require.Error(t, err)
	assert.Equal(t, []string{"evt_1"}, marker.cleared)

	// The store recovers; the redelivery must apply the payment instead of
	// being skipped as a duplicate.
	store.markPaidErr = nil
	require.NoError(t, svc.HandleWebhook(context.Background(), []byte(`{}`), "sig"))

	stored := store.enrollments["stu-1_course-1"]
	assert.Equal(t, models.PaymentStatusPaid, stored.PaymentStatus)
	require.Len(t, store.confirmations, 1)
}

func TestWebhookMissingEnrollmentIsAcknowledged(t *testing.T) {
	store := &mockPaymentStore{enrollments: map[string]models.Enrollment{}}
	gateway := &mockWebhookGateway{event: checkoutEvent()}
	svc, publisher := newPaymentFixture(store, gateway)

	err := svc.HandleWebhook(context.Background(), []byte(`{}`), "sig")
	require.NoError(t, err)
	assert.Empty(t, store.confirmations)
	assert.Empty(t, publisher.events)
}

func TestWebhookIntentLookupFailureStillConfirms(t *testing.T) {
	store := &mockPaymentStore{enrollments: map[string]models.Enrollment{
		"stu-1_course-1": {ID: "stu-1_course-1", PaymentStatus: models.PaymentStatusPending},
	}}
	gateway := &mockWebhookGateway{event: checkoutEvent(), intentErr: errors.New("stripe read failed")}
	svc, _ := newPaymentFixture(store, gateway)

	err := svc.HandleWebhook(context.Background(), []byte(`{}`), "sig")
	require.NoError(t, err)

	stored := store.enrollments["stu-1_course-1"]
	assert.Equal(t, models.PaymentStatusPaid, stored.PaymentStatus)
	assert.Empty(t, stored.ReceiptURL)
	require.Len(t, store.confirmations, 1)
	assert.Nil(t, store.confirmations[0].Amount)
}

func TestWebhookIgnoresOtherEventTypes(t *testing.T) {
	store := &mockPaymentStore{enrollments: map[string]models.Enrollment{}}
	gateway := &mockWebhookGateway{event: &payment.Event{ID: "evt_2", Type: "invoice.created"}}
	svc, _ := newPaymentFixture(store, gateway)

	err := svc.HandleWebhook(context.Background(), []byte(`{}`), "sig")
	require.NoError(t, err)
	assert.Empty(t, store.confirmations)
}
