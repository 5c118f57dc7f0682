package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/harmonia-studio/mls-api/internal/models"
)

// EnrollmentRepository handles persistence of enrollments. The enrollment id
// is the deterministic (student, course) composite key, so writes address a
// row directly without a lookup.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

const enrollmentColumns = `id, student_id, course_id, student_name, student_email, time_slot_id, time_slot_label,
        payment_option, payment_status, status, checkout_session_id, payment_intent_id, payment_provider, payment_amount,
        payment_currency, payment_receipt_url, enrolled_at, paid_at, quiz_score, quiz_completed_at, progress, progress_note`

// FindByID returns an enrollment by its composite id.
func (r *EnrollmentRepository) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	query := fmt.Sprintf(`SELECT %s FROM enrollments WHERE id = $1`, enrollmentColumns)
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, id); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// List returns enrollments filtered by the provided criteria.
func (r *EnrollmentRepository) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.Enrollment, int, error) {
	baseQuery := `FROM enrollments WHERE 1=1`
	var conditions []string
	var args []interface{}

	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.CourseID != "" {
		conditions = append(conditions, fmt.Sprintf("course_id = $%d", len(args)+1))
		args = append(args, filter.CourseID)
	}
	if filter.PaymentStatus != "" {
		conditions = append(conditions, fmt.Sprintf("payment_status = $%d", len(args)+1))
		args = append(args, filter.PaymentStatus)
	}

	if len(conditions) > 0 {
		baseQuery += " AND " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"enrolled_at":  "enrolled_at",
		"paid_at":      "paid_at",
		"student_name": "student_name",
	}
	sortBy := allowedSorts[filter.SortBy]
	if sortBy == "" {
		sortBy = "enrolled_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
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

	listQuery := fmt.Sprintf(`SELECT %s %s ORDER BY %s %s LIMIT %d OFFSET %d`, enrollmentColumns, baseQuery, sortBy, order, size, offset)

	var enrollments []models.Enrollment
	if err := r.db.SelectContext(ctx, &enrollments, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list enrollments: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", baseQuery)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count enrollments: %w", err)
	}
	return enrollments, total, nil
}

// Upsert inserts or refreshes the registration fields of an enrollment. On
// conflict only the identity, slot and workflow columns are replaced; payment,
// quiz and progress columns are never touched so a re-submission cannot wipe
// state written by other flows.
func (r *EnrollmentRepository) Upsert(ctx context.Context, enrollment *models.Enrollment) error {
	if enrollment.ID == "" {
		enrollment.ID = models.EnrollmentKey(enrollment.StudentID, enrollment.CourseID)
	}
	if enrollment.EnrolledAt.IsZero() {
		enrollment.EnrolledAt = time.Now().UTC()
	}
	// The conflict branch deliberately omits payment_status and status: a paid
	// row must survive a racing resubmission untouched, and an unpaid row
	// already carries the pending pair from its insert.
	const query = `INSERT INTO enrollments (id, student_id, course_id, student_name, student_email, time_slot_id, time_slot_label, payment_option, payment_status, status, payment_currency, enrolled_at)
        VALUES (:id, :student_id, :course_id, :student_name, :student_email, :time_slot_id, :time_slot_label, :payment_option, :payment_status, :status, :payment_currency, :enrolled_at)
        ON CONFLICT (id) DO UPDATE SET
            student_name = EXCLUDED.student_name,
            student_email = EXCLUDED.student_email,
            time_slot_id = EXCLUDED.time_slot_id,
            time_slot_label = EXCLUDED.time_slot_label,
            payment_option = EXCLUDED.payment_option`
	if _, err := r.db.NamedExecContext(ctx, query, enrollment); err != nil {
		return fmt.Errorf("upsert enrollment: %w", err)
	}
	return nil
}

// MarkPaid applies a payment confirmation. The guard clause makes the write
// idempotent: once a row is paid, redelivered confirmations leave paid_at and
// the captured receipt untouched. Returns whether the update applied.
func (r *EnrollmentRepository) MarkPaid(ctx context.Context, conf models.PaymentConfirmation) (bool, error) {
	const query = `UPDATE enrollments SET
            payment_status = $2,
            status = $3,
            payment_intent_id = $4,
            payment_provider = $5,
            payment_amount = COALESCE($6, payment_amount),
            payment_currency = COALESCE(NULLIF($7, ''), payment_currency),
            payment_receipt_url = COALESCE(NULLIF($8, ''), payment_receipt_url),
            paid_at = $9
        WHERE id = $1 AND payment_status <> $2`
	res, err := r.db.ExecContext(ctx, query, conf.EnrollmentID,
		models.PaymentStatusPaid, models.StatusPaid,
		conf.PaymentIntentID, conf.Provider, conf.Amount, conf.Currency, conf.ReceiptURL, conf.PaidAt)
	if err != nil {
		return false, fmt.Errorf("mark enrollment paid: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark enrollment paid: %w", err)
	}
	return affected > 0, nil
}

// SetCheckoutSession records the in-flight checkout reference after a hosted
// session is opened. The payment columns stay untouched until confirmation.
func (r *EnrollmentRepository) SetCheckoutSession(ctx context.Context, id, sessionID string) error {
	const query = `UPDATE enrollments SET checkout_session_id = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, sessionID); err != nil {
		return fmt.Errorf("set checkout session: %w", err)
	}
	return nil
}

// Delete removes an enrollment row entirely.
func (r *EnrollmentRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM enrollments WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("delete enrollment: %w", err)
	}
	return nil
}

// SetQuizResult stores the quiz outcome on an enrollment.
func (r *EnrollmentRepository) SetQuizResult(ctx context.Context, id string, score int, completedAt time.Time) error {
	const query = `UPDATE enrollments SET quiz_score = $2, quiz_completed_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, score, completedAt); err != nil {
		return fmt.Errorf("set quiz result: %w", err)
	}
	return nil
}

// SetProgress stores the teacher-reported progress on an enrollment.
func (r *EnrollmentRepository) SetProgress(ctx context.Context, id string, progress int, note string) error {
	const query = `UPDATE enrollments SET progress = $2, progress_note = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, progress, note); err != nil {
		return fmt.Errorf("set progress: %w", err)
	}
	return nil
}

// ListByCourse returns all enrollments of a course ordered by student name.
func (r *EnrollmentRepository) ListByCourse(ctx context.Context, courseID string) ([]models.Enrollment, error) {
	query := fmt.Sprintf(`SELECT %s FROM enrollments WHERE course_id = $1 ORDER BY student_name ASC`, enrollmentColumns)
	var enrollments []models.Enrollment
	if err := r.db.SelectContext(ctx, &enrollments, query, courseID); err != nil {
		return nil, fmt.Errorf("list course enrollments: %w", err)
	}
	return enrollments, nil
}

// ListByStudent returns all enrollments of a student, newest first.
func (r *EnrollmentRepository) ListByStudent(ctx context.Context, studentID string) ([]models.Enrollment, error) {
	query := fmt.Sprintf(`SELECT %s FROM enrollments WHERE student_id = $1 ORDER BY enrolled_at DESC`, enrollmentColumns)
	var enrollments []models.Enrollment
	if err := r.db.SelectContext(ctx, &enrollments, query, studentID); err != nil {
		return nil, fmt.Errorf("list student enrollments: %w", err)
	}
	return enrollments, nil
}
