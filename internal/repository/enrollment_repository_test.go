package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/harmonia-studio/mls-api/internal/models"
)

func newEnrollmentRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestEnrollmentRepositoryUpsertBuildsCompositeKey(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO enrollments")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	enrollment := &models.Enrollment{
		StudentID:     "stu-1",
		CourseID:      "course-1",
		StudentName:   "Aisyah Rahman",
		StudentEmail:  "aisyah@example.com",
		PaymentOption: models.PaymentOptionPayNow,
		PaymentStatus: models.PaymentStatusPending,
		Status:        models.StatusAwaitingPayment,
	}
	err := repo.Upsert(context.Background(), enrollment)
	require.NoError(t, err)
	require.Equal(t, "stu-1_course-1", enrollment.ID)
	require.False(t, enrollment.EnrolledAt.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryUpsertConflictLeavesPaymentColumns(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	// Anchored at the end of the statement: the conflict branch stops at
	// payment_option, so a racing resubmission can never rewrite
	// payment_status or status on a row the webhook already marked paid.
	mock.ExpectExec(`ON CONFLICT \(id\) DO UPDATE SET\s+` +
		`student_name = EXCLUDED\.student_name,\s+` +
		`student_email = EXCLUDED\.student_email,\s+` +
		`time_slot_id = EXCLUDED\.time_slot_id,\s+` +
		`time_slot_label = EXCLUDED\.time_slot_label,\s+` +
		`payment_option = EXCLUDED\.payment_option$`).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.Upsert(context.Background(), &models.Enrollment{
		StudentID:     "stu-1",
		CourseID:      "course-1",
		StudentName:   "Aisyah Rahman",
		PaymentOption: models.PaymentOptionPayNow,
		PaymentStatus: models.PaymentStatusPending,
		Status:        models.StatusAwaitingPayment,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryMarkPaidApplied(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrollments SET")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	amount := int64(25000)
	applied, err := repo.MarkPaid(context.Background(), models.PaymentConfirmation{
		EnrollmentID:    "stu-1_course-1",
		PaymentIntentID: "pi_123",
		Provider:        "stripe",
		Amount:          &amount,
		Currency:        "myr",
		ReceiptURL:      "https://pay.example.com/r/1",
		PaidAt:          time.Now().UTC(),
	})
	require.NoError(t, err)
	require.True(t, applied)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryMarkPaidAlreadyPaid(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrollments SET")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	applied, err := repo.MarkPaid(context.Background(), models.PaymentConfirmation{
		EnrollmentID:    "stu-1_course-1",
		PaymentIntentID: "pi_123",
		Provider:        "stripe",
		PaidAt:          time.Now().UTC(),
	})
	require.NoError(t, err)
	require.False(t, applied)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryFindByIDNotFound(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT")).
		WithArgs("stu-1_course-1").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.FindByID(context.Background(), "stu-1_course-1")
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryDelete(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM enrollments WHERE id = $1")).
		WithArgs("stu-1_course-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Delete(context.Background(), "stu-1_course-1")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
