package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/harmonia-studio/mls-api/internal/models"
)

// AttendanceRepository handles persistence of per-session attendance marks.
type AttendanceRepository struct {
	db *sqlx.DB
}

// NewAttendanceRepository constructs the repository.
func NewAttendanceRepository(db *sqlx.DB) *AttendanceRepository {
	return &AttendanceRepository{db: db}
}

// Upsert writes a mark for a (session, student) pair, replacing any previous
// one.
func (r *AttendanceRepository) Upsert(ctx context.Context, mark *models.Attendance) error {
	if mark.MarkedAt.IsZero() {
		mark.MarkedAt = time.Now().UTC()
	}
	const query = `INSERT INTO attendance (session_id, student_email, status, remark, marked_at, marked_by)
        VALUES (:session_id, :student_email, :status, :remark, :marked_at, :marked_by)
        ON CONFLICT (session_id, student_email) DO UPDATE SET
            status = EXCLUDED.status,
            remark = EXCLUDED.remark,
            marked_at = EXCLUDED.marked_at,
            marked_by = EXCLUDED.marked_by`
	if _, err := r.db.NamedExecContext(ctx, query, mark); err != nil {
		return fmt.Errorf("upsert attendance: %w", err)
	}
	return nil
}

// ListBySession returns all marks recorded for a session.
func (r *AttendanceRepository) ListBySession(ctx context.Context, sessionID string) ([]models.Attendance, error) {
	const query = `SELECT session_id, student_email, status, remark, marked_at, marked_by FROM attendance WHERE session_id = $1 ORDER BY student_email ASC`
	var marks []models.Attendance
	if err := r.db.SelectContext(ctx, &marks, query, sessionID); err != nil {
		return nil, fmt.Errorf("list attendance: %w", err)
	}
	return marks, nil
}

// ListByStudent returns a student's marks across sessions, newest first.
func (r *AttendanceRepository) ListByStudent(ctx context.Context, studentEmail string) ([]models.Attendance, error) {
	const query = `SELECT session_id, student_email, status, remark, marked_at, marked_by FROM attendance WHERE student_email = $1 ORDER BY marked_at DESC`
	var marks []models.Attendance
	if err := r.db.SelectContext(ctx, &marks, query, studentEmail); err != nil {
		return nil, fmt.Errorf("list student attendance: %w", err)
	}
	return marks, nil
}

// Delete removes a single mark, returning the student to the implicit pending
// state.
func (r *AttendanceRepository) Delete(ctx context.Context, sessionID, studentEmail string) error {
	const query = `DELETE FROM attendance WHERE session_id = $1 AND student_email = $2`
	if _, err := r.db.ExecContext(ctx, query, sessionID, studentEmail); err != nil {
		return fmt.Errorf("delete attendance: %w", err)
	}
	return nil
}
