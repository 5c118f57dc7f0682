package models

import (
	"fmt"
	"time"
)

// PaymentStatus is the machine-readable payment field on an enrollment.
type PaymentStatus string

const (
	PaymentStatusNotRequired PaymentStatus = "not_required"
	PaymentStatusPending     PaymentStatus = "pending"
	PaymentStatusPaid        PaymentStatus = "paid"
)

// Human-readable workflow labels mirrored into the status column. Both fields
// are written on every transition for compatibility with consumers that read
// only one of them.
const (
	StatusPending         = "Pending"
	StatusAwaitingPayment = "Awaiting payment"
	StatusPaid            = "Paid"
)

// PaymentOption selects how the student intends to settle tuition.
type PaymentOption string

// PaymentOptionPayNow is currently the only supported option.
const PaymentOptionPayNow PaymentOption = "pay_now"

// PaymentState is the normalized enrollment payment lifecycle derived from the
// two legacy columns. New code branches on this enum instead of re-reading the
// raw fields.
type PaymentState int

const (
	PaymentStateNone PaymentState = iota
	PaymentStateUnpaidPending
	PaymentStatePaid
)

func (s PaymentState) String() string {
	switch s {
	case PaymentStateUnpaidPending:
		return "UNPAID_PENDING"
	case PaymentStatePaid:
		return "PAID"
	default:
		return "NONE"
	}
}

// Enrollment captures a student's registration for a course offering together
// with its payment and progress state. Exactly one row exists per
// (student, course) pair; the id is the deterministic composite key.
type Enrollment struct {
	ID              string        `db:"id" json:"id"`
	StudentID       string        `db:"student_id" json:"student_id"`
	CourseID        string        `db:"course_id" json:"course_id"`
	StudentName     string        `db:"student_name" json:"student_name"`
	StudentEmail    string        `db:"student_email" json:"student_email"`
	TimeSlotID      string        `db:"time_slot_id" json:"time_slot_id"`
	TimeSlotLabel   string        `db:"time_slot_label" json:"time_slot_label"`
	PaymentOption   PaymentOption `db:"payment_option" json:"payment_option"`
	PaymentStatus   PaymentStatus `db:"payment_status" json:"payment_status"`
	Status          string        `db:"status" json:"status"`
	// CheckoutSessionID marks an in-flight hosted checkout. It is deliberately
	// separate from PaymentIntentID, which is only written on confirmation and
	// counts as a paid artifact.
	CheckoutSessionID string     `db:"checkout_session_id" json:"checkout_session_id,omitempty"`
	PaymentIntentID   string     `db:"payment_intent_id" json:"payment_intent_id,omitempty"`
	PaymentProvider   string     `db:"payment_provider" json:"payment_provider,omitempty"`
	PaymentAmount     *int64     `db:"payment_amount" json:"payment_amount,omitempty"`
	PaymentCurrency   string     `db:"payment_currency" json:"payment_currency,omitempty"`
	ReceiptURL        string     `db:"payment_receipt_url" json:"payment_receipt_url,omitempty"`
	EnrolledAt        time.Time  `db:"enrolled_at" json:"enrolled_at"`
	PaidAt            *time.Time `db:"paid_at" json:"paid_at,omitempty"`
	QuizScore         *int       `db:"quiz_score" json:"quiz_score,omitempty"`
	QuizCompletedAt   *time.Time `db:"quiz_completed_at" json:"quiz_completed_at,omitempty"`
	Progress          int        `db:"progress" json:"progress"`
	ProgressNote      string     `db:"progress_note" json:"progress_note,omitempty"`
}

// EnrollmentKey builds the deterministic enrollment id for a (student, course)
// pair, mirroring the composite document key used by older clients.
func EnrollmentKey(studentID, courseID string) string {
	return fmt.Sprintf("%s_%s", studentID, courseID)
}

// PaymentConfirmation carries the merge-written fields applied when a checkout
// completes. Amount and receipt may be absent when the authoritative intent
// lookup was unavailable.
type PaymentConfirmation struct {
	EnrollmentID    string
	PaymentIntentID string
	Provider        string
	Amount          *int64
	Currency        string
	ReceiptURL      string
	PaidAt          time.Time
}

// EnrollmentFilter provides filters for listing enrollments.
type EnrollmentFilter struct {
	StudentID     string
	CourseID      string
	PaymentStatus PaymentStatus
	Page          int
	PageSize      int
	SortBy        string
	SortOrder     string
}
