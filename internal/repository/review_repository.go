package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/harmonia-studio/mls-api/internal/models"
)

// ReviewRepository handles persistence of course reviews.
type ReviewRepository struct {
	db *sqlx.DB
}

// NewReviewRepository constructs the repository.
func NewReviewRepository(db *sqlx.DB) *ReviewRepository {
	return &ReviewRepository{db: db}
}

// Upsert writes a review for a (course, student) pair, replacing any previous
// one.
func (r *ReviewRepository) Upsert(ctx context.Context, review *models.Review) error {
	if review.ID == "" {
		review.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if review.CreatedAt.IsZero() {
		review.CreatedAt = now
	}
	review.UpdatedAt = now
	const query = `INSERT INTO reviews (id, course_id, student_id, rating, comment, created_at, updated_at)
        VALUES (:id, :course_id, :student_id, :rating, :comment, :created_at, :updated_at)
        ON CONFLICT (course_id, student_id) DO UPDATE SET
            rating = EXCLUDED.rating,
            comment = EXCLUDED.comment,
            updated_at = EXCLUDED.updated_at`
	if _, err := r.db.NamedExecContext(ctx, query, review); err != nil {
		return fmt.Errorf("upsert review: %w", err)
	}
	return nil
}

// ListByCourse returns reviews for a course together with student names.
func (r *ReviewRepository) ListByCourse(ctx context.Context, courseID string) ([]models.ReviewDetail, error) {
	const query = `SELECT r.id, r.course_id, r.student_id, r.rating, r.comment, r.created_at, r.updated_at,
        COALESCE(u.full_name, '') AS student_name
        FROM reviews r
        LEFT JOIN users u ON u.id = r.student_id
        WHERE r.course_id = $1 ORDER BY r.updated_at DESC`
	var reviews []models.ReviewDetail
	if err := r.db.SelectContext(ctx, &reviews, query, courseID); err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}
	return reviews, nil
}

// Delete removes a student's review for a course.
func (r *ReviewRepository) Delete(ctx context.Context, courseID, studentID string) error {
	const query = `DELETE FROM reviews WHERE course_id = $1 AND student_id = $2`
	if _, err := r.db.ExecContext(ctx, query, courseID, studentID); err != nil {
		return fmt.Errorf("delete review: %w", err)
	}
	return nil
}
