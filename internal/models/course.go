package models

import "time"

// Course is a published course offering taught by a single teacher.
type Course struct {
	ID           string    `db:"id" json:"id"`
	Title        string    `db:"title" json:"title"`
	Headline     string    `db:"headline" json:"headline"`
	Description  string    `db:"description" json:"description"`
	TeacherID    string    `db:"teacher_id" json:"teacher_id"`
	Level        string    `db:"level" json:"level"`
	Duration     string    `db:"duration" json:"duration"`
	TuitionCents int64     `db:"tuition_cents" json:"tuition_cents"`
	Currency     string    `db:"currency" json:"currency"`
	Archived     bool      `db:"archived" json:"archived"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// TimeSlot is a published schedule option students pick during enrollment.
type TimeSlot struct {
	ID        string `db:"id" json:"id"`
	CourseID  string `db:"course_id" json:"course_id"`
	Label     string `db:"label" json:"label"`
	Published bool   `db:"published" json:"published"`
}

// CourseDetail enriches a course with its published time slots.
type CourseDetail struct {
	Course
	TimeSlots []TimeSlot `json:"time_slots"`
}

// CourseFilter scopes course listing queries.
type CourseFilter struct {
	TeacherID       string
	IncludeArchived bool
	Search          string
	Page            int
	PageSize        int
}
