package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/harmonia-studio/mls-api/internal/models"
)

// ErrRequestResolved is returned when a resolution targets a request that is
// no longer pending. A partial unique index on (session_id, student_id) for
// pending rows backs up HasPending against concurrent submissions.
var ErrRequestResolved = fmt.Errorf("reschedule request already resolved")

// RescheduleRepository handles persistence of reschedule requests.
type RescheduleRepository struct {
	db *sqlx.DB
}

// NewRescheduleRepository constructs the repository.
func NewRescheduleRepository(db *sqlx.DB) *RescheduleRepository {
	return &RescheduleRepository{db: db}
}

const rescheduleColumns = `id, session_id, course_id, student_id, student_name, teacher_id, requested_date,
        requested_time, message, status, resolution_note, resolved_at, resolved_by, created_at`

// Create persists a new pending request.
func (r *RescheduleRepository) Create(ctx context.Context, req *models.RescheduleRequest) error {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}
	req.Status = models.RescheduleStatusPending
	const query = `INSERT INTO reschedule_requests (id, session_id, course_id, student_id, student_name, teacher_id, requested_date, requested_time, message, status, created_at)
        VALUES (:id, :session_id, :course_id, :student_id, :student_name, :teacher_id, :requested_date, :requested_time, :message, :status, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, req); err != nil {
		return fmt.Errorf("create reschedule request: %w", err)
	}
	return nil
}

// FindByID returns a request by its ID.
func (r *RescheduleRepository) FindByID(ctx context.Context, id string) (*models.RescheduleRequest, error) {
	query := fmt.Sprintf(`SELECT %s FROM reschedule_requests WHERE id = $1`, rescheduleColumns)
	var req models.RescheduleRequest
	if err := r.db.GetContext(ctx, &req, query, id); err != nil {
		return nil, err
	}
	return &req, nil
}

// HasPending reports whether the student already has an open request for the
// session.
func (r *RescheduleRepository) HasPending(ctx context.Context, sessionID, studentID string) (bool, error) {
	const query = `SELECT 1 FROM reschedule_requests WHERE session_id = $1 AND student_id = $2 AND status = $3 LIMIT 1`
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, sessionID, studentID, models.RescheduleStatusPending); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check pending reschedule: %w", err)
	}
	return true, nil
}

// List returns requests filtered by the provided criteria.
func (r *RescheduleRepository) List(ctx context.Context, filter models.RescheduleFilter) ([]models.RescheduleRequest, int, error) {
	baseQuery := `FROM reschedule_requests WHERE 1=1`
	var conditions []string
	var args []interface{}

	if filter.TeacherID != "" {
		conditions = append(conditions, fmt.Sprintf("teacher_id = $%d", len(args)+1))
		args = append(args, filter.TeacherID)
	}
	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.SessionID != "" {
		conditions = append(conditions, fmt.Sprintf("session_id = $%d", len(args)+1))
		args = append(args, filter.SessionID)
	}
	if filter.CourseID != "" {
		conditions = append(conditions, fmt.Sprintf("course_id = $%d", len(args)+1))
		args = append(args, filter.CourseID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}

	if len(conditions) > 0 {
		baseQuery += " AND " + strings.Join(conditions, " AND ")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	listQuery := fmt.Sprintf(`SELECT %s %s ORDER BY created_at DESC LIMIT %d OFFSET %d`, rescheduleColumns, baseQuery, size, offset)

	var requests []models.RescheduleRequest
	if err := r.db.SelectContext(ctx, &requests, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list reschedule requests: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", baseQuery)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count reschedule requests: %w", err)
	}
	return requests, total, nil
}

// Reject resolves a pending request without touching its session. Returns
// ErrRequestResolved when the row was already resolved by another actor.
func (r *RescheduleRepository) Reject(ctx context.Context, id, note, resolvedBy string, resolvedAt time.Time) error {
	const query = `UPDATE reschedule_requests SET status = $2, resolution_note = $3, resolved_by = $4, resolved_at = $5 WHERE id = $1 AND status = $6`
	res, err := r.db.ExecContext(ctx, query, id, models.RescheduleStatusRejected, note, resolvedBy, resolvedAt, models.RescheduleStatusPending)
	if err != nil {
		return fmt.Errorf("reject reschedule request: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reject reschedule request: %w", err)
	}
	if affected == 0 {
		return ErrRequestResolved
	}
	return nil
}

// Approve moves the session to its new date and time and marks the request
// approved in a single transaction. Either both records change or neither
// does; an already-resolved request aborts with ErrRequestResolved.
func (r *RescheduleRepository) Approve(ctx context.Context, requestID, sessionID, date, startTime, endTime, note, resolvedBy string, resolvedAt time.Time) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin approve reschedule: %w", err)
	}
	defer tx.Rollback()

	const resolve = `UPDATE reschedule_requests SET status = $2, resolution_note = $3, resolved_by = $4, resolved_at = $5 WHERE id = $1 AND status = $6`
	res, err := tx.ExecContext(ctx, resolve, requestID, models.RescheduleStatusApproved, note, resolvedBy, resolvedAt, models.RescheduleStatusPending)
	if err != nil {
		return fmt.Errorf("approve reschedule request: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("approve reschedule request: %w", err)
	}
	if affected == 0 {
		return ErrRequestResolved
	}

	const move = `UPDATE sessions SET date = $2, start_time = $3, end_time = $4, updated_at = $5 WHERE id = $1`
	if _, err := tx.ExecContext(ctx, move, sessionID, date, startTime, endTime, resolvedAt); err != nil {
		return fmt.Errorf("move session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit approve reschedule: %w", err)
	}
	return nil
}

// PurgeResolvedBySession removes resolved requests for a session. Pending
// requests are left alone.
func (r *RescheduleRepository) PurgeResolvedBySession(ctx context.Context, sessionID string) (int64, error) {
	const query = `DELETE FROM reschedule_requests WHERE session_id = $1 AND status <> $2`
	res, err := r.db.ExecContext(ctx, query, sessionID, models.RescheduleStatusPending)
	if err != nil {
		return 0, fmt.Errorf("purge resolved reschedule requests: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge resolved reschedule requests: %w", err)
	}
	return affected, nil
}
