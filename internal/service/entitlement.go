package service

import (
	"strings"

	"github.com/harmonia-studio/mls-api/internal/models"
)

// Entitlement is the derived access snapshot for a (student, course) pair.
// The UI gates course materials, the quiz and reviews directly on it.
type Entitlement struct {
	Enrolled         bool                `json:"enrolled"`
	HasPaidAccess    bool                `json:"has_paid_access"`
	PaymentPending   bool                `json:"payment_pending"`
	CanViewMaterials bool                `json:"can_view_materials"`
	PaymentState     models.PaymentState `json:"-"`
	State            string              `json:"payment_state"`
}

// HasPaidAccess evaluates the redundant paid signals on an enrollment. The
// signals are OR-ed so that a record written by an older client, or one where
// the confirmation only landed partially, still grants access:
//
//   - payment_status is "paid"
//   - the workflow label reads "paid" (case-insensitive)
//   - any payment artifact exists (paid_at, receipt URL, intent reference)
//
// A nil enrollment never grants access.
func HasPaidAccess(enrollment *models.Enrollment) bool {
	if enrollment == nil {
		return false
	}
	if enrollment.PaymentStatus == models.PaymentStatusPaid {
		return true
	}
	if strings.EqualFold(enrollment.Status, models.StatusPaid) {
		return true
	}
	return enrollment.PaidAt != nil || enrollment.ReceiptURL != "" || enrollment.PaymentIntentID != ""
}

// IsEnrolled reports whether a record exists at all.
func IsEnrolled(enrollment *models.Enrollment) bool {
	return enrollment != nil
}

// IsPaymentPending reports an enrollment awaiting payment: payment_status is
// "pending" or the workflow label reads "Awaiting payment". Other unpaid
// statuses (e.g. "not_required") are not pending. Paid dominates: once any
// paid signal is present the record is never pending again.
func IsPaymentPending(enrollment *models.Enrollment) bool {
	if enrollment == nil || HasPaidAccess(enrollment) {
		return false
	}
	return enrollment.PaymentStatus == models.PaymentStatusPending ||
		strings.EqualFold(enrollment.Status, models.StatusAwaitingPayment)
}

// CanTakeQuiz gates the placement quiz on paid access.
func CanTakeQuiz(enrollment *models.Enrollment) bool {
	return IsEnrolled(enrollment) && HasPaidAccess(enrollment)
}

// CanViewMaterials gates course materials on paid access.
func CanViewMaterials(enrollment *models.Enrollment) bool {
	return IsEnrolled(enrollment) && HasPaidAccess(enrollment)
}

// CanSubmitReview gates course reviews on paid access.
func CanSubmitReview(enrollment *models.Enrollment) bool {
	return IsEnrolled(enrollment) && HasPaidAccess(enrollment)
}

// PaymentStateOf collapses the legacy payment columns into the normalized
// lifecycle enum.
func PaymentStateOf(enrollment *models.Enrollment) models.PaymentState {
	if enrollment == nil {
		return models.PaymentStateNone
	}
	if HasPaidAccess(enrollment) {
		return models.PaymentStatePaid
	}
	return models.PaymentStateUnpaidPending
}

// EvaluateEntitlement builds the full snapshot. Any lookup failure upstream
// must be presented here as a nil enrollment so the evaluation fails closed.
func EvaluateEntitlement(enrollment *models.Enrollment) Entitlement {
	state := PaymentStateOf(enrollment)
	return Entitlement{
		Enrolled:         IsEnrolled(enrollment),
		HasPaidAccess:    state == models.PaymentStatePaid,
		PaymentPending:   IsPaymentPending(enrollment),
		CanViewMaterials: CanViewMaterials(enrollment),
		PaymentState:     state,
		State:            state.String(),
	}
}
