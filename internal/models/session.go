package models

import "time"

// Session is a scheduled lesson occurrence belonging to a course and teacher.
// Students never mutate sessions directly; an approved reschedule request is
// the only indirect path.
type Session struct {
	ID        string    `db:"id" json:"id"`
	CourseID  string    `db:"course_id" json:"course_id"`
	TeacherID string    `db:"teacher_id" json:"teacher_id"`
	Date      string    `db:"date" json:"date"`
	StartTime string    `db:"start_time" json:"start_time"`
	EndTime   string    `db:"end_time" json:"end_time"`
	Location  string    `db:"location" json:"location"`
	Notes     string    `db:"notes" json:"notes"`
	Archived  bool      `db:"archived" json:"archived"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// SessionDetail enriches a session with course context.
type SessionDetail struct {
	Session
	CourseTitle string `db:"course_title" json:"course_title"`
}

// SessionFilter scopes session listing queries.
type SessionFilter struct {
	CourseID        string
	TeacherID       string
	IncludeArchived bool
	DateFrom        string
	DateTo          string
	Page            int
	PageSize        int
	SortOrder       string
}
