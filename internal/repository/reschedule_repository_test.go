package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
)

func newRescheduleRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestRescheduleRepositoryApproveMovesSessionAndResolves(t *testing.T) {
	db, mock, cleanup := newRescheduleRepoMock(t)
	defer cleanup()
	repo := NewRescheduleRepository(db)

	now := time.Now().UTC()
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE reschedule_requests SET")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE sessions SET")).
		WithArgs("sess-1", "2026-09-12", "15:00", "16:00", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.Approve(context.Background(), "req-1", "sess-1", "2026-09-12", "15:00", "16:00", "Approved", "teacher-1", now)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRescheduleRepositoryApproveAlreadyResolved(t *testing.T) {
	db, mock, cleanup := newRescheduleRepoMock(t)
	defer cleanup()
	repo := NewRescheduleRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE reschedule_requests SET")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.Approve(context.Background(), "req-1", "sess-1", "2026-09-12", "15:00", "16:00", "Approved", "teacher-1", time.Now().UTC())
	require.ErrorIs(t, err, ErrRequestResolved)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRescheduleRepositoryRejectAlreadyResolved(t *testing.T) {
	db, mock, cleanup := newRescheduleRepoMock(t)
	defer cleanup()
	repo := NewRescheduleRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE reschedule_requests SET")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Reject(context.Background(), "req-1", "Request declined", "teacher-1", time.Now().UTC())
	require.ErrorIs(t, err, ErrRequestResolved)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRescheduleRepositoryHasPending(t *testing.T) {
	db, mock, cleanup := newRescheduleRepoMock(t)
	defer cleanup()
	repo := NewRescheduleRepository(db)

	rows := sqlmock.NewRows([]string{"?column?"}).AddRow(1)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM reschedule_requests")).
		WithArgs("sess-1", "stu-1", "pending").
		WillReturnRows(rows)

	pending, err := repo.HasPending(context.Background(), "sess-1", "stu-1")
	require.NoError(t, err)
	require.True(t, pending)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRescheduleRepositoryPurgeResolvedKeepsPending(t *testing.T) {
	db, mock, cleanup := newRescheduleRepoMock(t)
	defer cleanup()
	repo := NewRescheduleRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM reschedule_requests WHERE session_id = $1 AND status <> $2")).
		WithArgs("sess-1", "pending").
		WillReturnResult(sqlmock.NewResult(0, 3))

	removed, err := repo.PurgeResolvedBySession(context.Background(), "sess-1")
	require.NoError(t, err)
	require.Equal(t, int64(3), removed)
	require.NoError(t, mock.ExpectationsWereMet())
}
