package models

import "time"

// AttendanceStatus represents the status for attendance records. A student
// with no row for a session is implicitly pending.
type AttendanceStatus string

const (
	AttendanceStatusPresent AttendanceStatus = "present"
	AttendanceStatusAbsent  AttendanceStatus = "absent"
	AttendanceStatusExcused AttendanceStatus = "excused"
)

// Valid returns true when the status is a supported value.
func (s AttendanceStatus) Valid() bool {
	switch s {
	case AttendanceStatusPresent, AttendanceStatusAbsent, AttendanceStatusExcused:
		return true
	default:
		return false
	}
}

// Attendance is a per-session, per-student mark recorded by the teacher.
type Attendance struct {
	SessionID    string           `db:"session_id" json:"session_id"`
	StudentEmail string           `db:"student_email" json:"student_email"`
	Status       AttendanceStatus `db:"status" json:"status"`
	Remark       string           `db:"remark" json:"remark,omitempty"`
	MarkedAt     time.Time        `db:"marked_at" json:"marked_at"`
	MarkedBy     string           `db:"marked_by" json:"marked_by"`
}
