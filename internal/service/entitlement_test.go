package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/harmonia-studio/mls-api/internal/models"
)

func TestHasPaidAccessSignals(t *testing.T) {
	now := time.Now().UTC()

	cases := []struct {
		name       string
		enrollment *models.Enrollment
		want       bool
	}{
		{name: "nil enrollment fails closed", enrollment: nil, want: false},
		{name: "fresh pending row", enrollment: &models.Enrollment{PaymentStatus: models.PaymentStatusPending, Status: models.StatusAwaitingPayment}, want: false},
		{name: "payment status paid", enrollment: &models.Enrollment{PaymentStatus: models.PaymentStatusPaid}, want: true},
		{name: "workflow label paid", enrollment: &models.Enrollment{Status: "Paid"}, want: true},
		{name: "workflow label paid lowercase", enrollment: &models.Enrollment{Status: "paid"}, want: true},
		{name: "paid_at artifact only", enrollment: &models.Enrollment{PaymentStatus: models.PaymentStatusPending, PaidAt: &now}, want: true},
		{name: "receipt artifact only", enrollment: &models.Enrollment{PaymentStatus: models.PaymentStatusPending, ReceiptURL: "https://pay.example.com/r/1"}, want: true},
		{name: "intent artifact only", enrollment: &models.Enrollment{PaymentStatus: models.PaymentStatusPending, PaymentIntentID: "pi_1"}, want: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, HasPaidAccess(tc.enrollment))
		})
	}
}

func TestPaymentStateOf(t *testing.T) {
	assert.Equal(t, models.PaymentStateNone, PaymentStateOf(nil))
	assert.Equal(t, models.PaymentStateUnpaidPending, PaymentStateOf(&models.Enrollment{PaymentStatus: models.PaymentStatusPending}))
	assert.Equal(t, models.PaymentStatePaid, PaymentStateOf(&models.Enrollment{PaymentStatus: models.PaymentStatusPaid}))
}

func TestEvaluateEntitlementSnapshot(t *testing.T) {
	snapshot := EvaluateEntitlement(nil)
	assert.False(t, snapshot.Enrolled)
	assert.False(t, snapshot.HasPaidAccess)
	assert.False(t, snapshot.PaymentPending)
	assert.False(t, snapshot.CanViewMaterials)
	assert.Equal(t, "NONE", snapshot.State)

	snapshot = EvaluateEntitlement(&models.Enrollment{PaymentStatus: models.PaymentStatusPending})
	assert.True(t, snapshot.Enrolled)
	assert.False(t, snapshot.HasPaidAccess)
	assert.True(t, snapshot.PaymentPending)
	assert.False(t, snapshot.CanViewMaterials)
	assert.Equal(t, "UNPAID_PENDING", snapshot.State)

	snapshot = EvaluateEntitlement(&models.Enrollment{PaymentStatus: models.PaymentStatusPaid})
	assert.True(t, snapshot.HasPaidAccess)
	assert.False(t, snapshot.PaymentPending)
	assert.True(t, snapshot.CanViewMaterials)
	assert.Equal(t, "PAID", snapshot.State)
}

func TestAccessPredicates(t *testing.T) {
	paid := &models.Enrollment{PaymentStatus: models.PaymentStatusPaid}
	pending := &models.Enrollment{PaymentStatus: models.PaymentStatusPending}

	assert.False(t, IsEnrolled(nil))
	assert.True(t, IsEnrolled(pending))

	assert.False(t, IsPaymentPending(nil))
	assert.True(t, IsPaymentPending(pending))
	assert.True(t, IsPaymentPending(&models.Enrollment{Status: models.StatusAwaitingPayment}))
	assert.False(t, IsPaymentPending(paid))
	// Unpaid but not awaiting payment: neither pending signal is set.
	assert.False(t, IsPaymentPending(&models.Enrollment{PaymentStatus: "not_required", Status: "Pending"}))

	assert.False(t, CanTakeQuiz(pending))
	assert.True(t, CanTakeQuiz(paid))
	assert.False(t, CanSubmitReview(nil))
	assert.True(t, CanSubmitReview(paid))
}
