package models

import "time"

// RescheduleStatus is the lifecycle of a reschedule request. Requests start
// pending and resolve exactly once; resolved requests are immutable apart from
// archival deletion.
type RescheduleStatus string

const (
	RescheduleStatusPending  RescheduleStatus = "pending"
	RescheduleStatusApproved RescheduleStatus = "approved"
	RescheduleStatusRejected RescheduleStatus = "rejected"
)

// Terminal reports whether the status can no longer change.
func (s RescheduleStatus) Terminal() bool {
	return s == RescheduleStatusApproved || s == RescheduleStatusRejected
}

// RescheduleRequest is a student proposal to move a lesson session.
type RescheduleRequest struct {
	ID             string           `db:"id" json:"id"`
	SessionID      string           `db:"session_id" json:"session_id"`
	CourseID       string           `db:"course_id" json:"course_id"`
	StudentID      string           `db:"student_id" json:"student_id"`
	StudentName    string           `db:"student_name" json:"student_name"`
	TeacherID      string           `db:"teacher_id" json:"teacher_id"`
	RequestedDate  string           `db:"requested_date" json:"requested_date"`
	RequestedTime  string           `db:"requested_time" json:"requested_time"`
	Message        string           `db:"message" json:"message"`
	Status         RescheduleStatus `db:"status" json:"status"`
	ResolutionNote string           `db:"resolution_note" json:"resolution_note,omitempty"`
	ResolvedAt     *time.Time       `db:"resolved_at" json:"resolved_at,omitempty"`
	ResolvedBy     string           `db:"resolved_by" json:"resolved_by,omitempty"`
	CreatedAt      time.Time        `db:"created_at" json:"created_at"`
}

// RescheduleFilter scopes request listing queries.
type RescheduleFilter struct {
	TeacherID string
	StudentID string
	SessionID string
	CourseID  string
	Status    RescheduleStatus
	Page      int
	PageSize  int
}
