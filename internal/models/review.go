package models

import "time"

// Review is a course rating left by a paying student. One review per
// (course, student) pair; re-submission replaces the previous one.
type Review struct {
	ID        string    `db:"id" json:"id"`
	CourseID  string    `db:"course_id" json:"course_id"`
	StudentID string    `db:"student_id" json:"student_id"`
	Rating    int       `db:"rating" json:"rating"`
	Comment   string    `db:"comment" json:"comment,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// ReviewDetail enriches a review with the student's display name.
type ReviewDetail struct {
	Review
	StudentName string `db:"student_name" json:"student_name"`
}
