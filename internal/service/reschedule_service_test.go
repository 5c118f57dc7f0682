package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harmonia-studio/mls-api/internal/models"
	"github.com/harmonia-studio/mls-api/internal/repository"
	appErrors "github.com/harmonia-studio/mls-api/pkg/errors"
)

type mockRescheduleStore struct {
	requests map[string]models.RescheduleRequest
	sessions *mockSessionReader
	purged   []string
}

func (m *mockRescheduleStore) Create(ctx context.Context, req *models.RescheduleRequest) error {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	req.Status = models.RescheduleStatusPending
	req.CreatedAt = time.Now().UTC()
	m.requests[req.ID] = *req
	return nil
}

func (m *mockRescheduleStore) FindByID(ctx context.Context, id string) (*models.RescheduleRequest, error) {
	if r, ok := m.requests[id]; ok {
		return &r, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockRescheduleStore) HasPending(ctx context.Context, sessionID, studentID string) (bool, error) {
	for _, r := range m.requests {
		if r.SessionID == sessionID && r.StudentID == studentID && r.Status == models.RescheduleStatusPending {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockRescheduleStore) List(ctx context.Context, filter models.RescheduleFilter) ([]models.RescheduleRequest, int, error) {
	var out []models.RescheduleRequest
	for _, r := range m.requests {
		out = append(out, r)
	}
	return out, len(out), nil
}

func (m *mockRescheduleStore) Reject(ctx context.Context, id, note, resolvedBy string, resolvedAt time.Time) error {
	r, ok := m.requests[id]
	if !ok || r.Status != models.RescheduleStatusPending {
		return repository.ErrRequestResolved
	}
	r.Status = models.RescheduleStatusRejected
	r.ResolutionNote = note
	r.ResolvedBy = resolvedBy
	r.ResolvedAt = &resolvedAt
	m.requests[id] = r
	return nil
}

func (m *mockRescheduleStore) Approve(ctx context.Context, requestID, sessionID, date, startTime, endTime, note, resolvedBy string, resolvedAt time.Time) error {
	r, ok := m.requests[requestID]
	if !ok || r.Status != models.RescheduleStatusPending {
		return repository.ErrRequestResolved
	}
	r.Status = models.RescheduleStatusApproved
	r.ResolutionNote = note
	r.ResolvedBy = resolvedBy
	r.ResolvedAt = &resolvedAt
	m.requests[requestID] = r

	s := m.sessions.sessions[sessionID]
	s.Date = date
	s.StartTime = startTime
	s.EndTime = endTime
	m.sessions.sessions[sessionID] = s
	return nil
}

func (m *mockRescheduleStore) PurgeResolvedBySession(ctx context.Context, sessionID string) (int64, error) {
	var removed int64
	for id, r := range m.requests {
		if r.SessionID == sessionID && r.Status != models.RescheduleStatusPending {
			delete(m.requests, id)
			m.purged = append(m.purged, id)
			removed++
		}
	}
	return removed, nil
}

type mockSessionReader struct {
	sessions map[string]models.Session
}

func (m *mockSessionReader) FindByID(ctx context.Context, id string) (*models.Session, error) {
	if s, ok := m.sessions[id]; ok {
		return &s, nil
	}
	return nil, sql.ErrNoRows
}

func newRescheduleFixture() (*RescheduleService, *mockRescheduleStore, *mockSessionReader) {
	sessions := &mockSessionReader{sessions: map[string]models.Session{
		"sess-1": {
			ID:        "sess-1",
			CourseID:  "course-1",
			TeacherID: "teacher-1",
			Date:      "2026-09-01",
			StartTime: "10:00",
			EndTime:   "11:00",
		},
	}}
	store := &mockRescheduleStore{requests: make(map[string]models.RescheduleRequest), sessions: sessions}
	enrollments := newMockEnrollmentStore()
	enrollments.enrollments["stu-1_course-1"] = models.Enrollment{ID: "stu-1_course-1", PaymentStatus: models.PaymentStatusPaid}
	svc := NewRescheduleService(store, sessions, enrollments, &mockPublisher{}, nil, nil)
	return svc, store, sessions
}

func submitRequest(t *testing.T, svc *RescheduleService) *models.RescheduleRequest {
	t.Helper()
	request, err := svc.Submit(context.Background(), SubmitRescheduleRequest{
		StudentID:     "stu-1",
		StudentName:   "Mei Lin",
		SessionID:     "sess-1",
		RequestedDate: "2026-09-08",
		RequestedTime: "15:00 - 16:00",
		Message:       "clash with school recital",
	})
	require.NoError(t, err)
	return request
}

func TestRescheduleSubmitOpensPendingRequest(t *testing.T) {
	svc, store, _ := newRescheduleFixture()

	request := submitRequest(t, svc)
	assert.Equal(t, models.RescheduleStatusPending, request.Status)
	assert.Equal(t, "course-1", request.CourseID)
	assert.Equal(t, "teacher-1", request.TeacherID)
	assert.Contains(t, store.requests, request.ID)
}

func TestRescheduleSubmitDuplicatePendingConflicts(t *testing.T) {
	svc, _, _ := newRescheduleFixture()
	submitRequest(t, svc)

	_, err := svc.Submit(context.Background(), SubmitRescheduleRequest{
		StudentID:     "stu-1",
		SessionID:     "sess-1",
		RequestedDate: "2026-09-15",
		RequestedTime: "09:00",
	})
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrConflict))
}

func TestRescheduleSubmitRequiresEnrollment(t *testing.T) {
	svc, _, _ := newRescheduleFixture()

	_, err := svc.Submit(context.Background(), SubmitRescheduleRequest{
		StudentID:     "stu-2",
		SessionID:     "sess-1",
		RequestedDate: "2026-09-08",
		RequestedTime: "15:00",
	})
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrForbidden))
}

func TestRescheduleApproveMovesSession(t *testing.T) {
	svc, _, sessions := newRescheduleFixture()
	request := submitRequest(t, svc)

	resolved, err := svc.Approve(context.Background(), request.ID, ApproveRescheduleRequest{
		Date:      "2026-09-10",
		StartTime: "14:00",
		EndTime:   "15:00",
		Note:      "works for me",
	}, "teacher-1", models.RoleTeacher)
	require.NoError(t, err)
	assert.Equal(t, models.RescheduleStatusApproved, resolved.Status)
	assert.Equal(t, "works for me", resolved.ResolutionNote)
	require.NotNil(t, resolved.ResolvedAt)

	session := sessions.sessions["sess-1"]
	assert.Equal(t, "2026-09-10", session.Date)
	assert.Equal(t, "14:00", session.StartTime)
	assert.Equal(t, "15:00", session.EndTime)
}

func TestRescheduleApproveFallsBackToRequestedSlot(t *testing.T) {
	svc, _, sessions := newRescheduleFixture()
	request := submitRequest(t, svc)

	_, err := svc.Approve(context.Background(), request.ID, ApproveRescheduleRequest{}, "teacher-1", models.RoleTeacher)
	require.NoError(t, err)

	session := sessions.sessions["sess-1"]
	assert.Equal(t, "2026-09-08", session.Date)
	assert.Equal(t, "15:00", session.StartTime)
	assert.Equal(t, "16:00", session.EndTime)
}

func TestRescheduleApproveKeepsEndTimeForBareStart(t *testing.T) {
	svc, store, sessions := newRescheduleFixture()
	request := submitRequest(t, svc)
	r := store.requests[request.ID]
	r.RequestedTime = "15:00"
	store.requests[request.ID] = r

	_, err := svc.Approve(context.Background(), request.ID, ApproveRescheduleRequest{}, "teacher-1", models.RoleTeacher)
	require.NoError(t, err)

	session := sessions.sessions["sess-1"]
	assert.Equal(t, "15:00", session.StartTime)
	assert.Equal(t, "11:00", session.EndTime)
}

func TestRescheduleApproveRequiresSessionTeacher(t *testing.T) {
	svc, _, _ := newRescheduleFixture()
	request := submitRequest(t, svc)

	_, err := svc.Approve(context.Background(), request.ID, ApproveRescheduleRequest{}, "teacher-2", models.RoleTeacher)
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrForbidden))
}

func TestRescheduleResolveTwiceConflicts(t *testing.T) {
	svc, _, _ := newRescheduleFixture()
	request := submitRequest(t, svc)

	_, err := svc.Approve(context.Background(), request.ID, ApproveRescheduleRequest{}, "teacher-1", models.RoleTeacher)
	require.NoError(t, err)

	_, err = svc.Reject(context.Background(), request.ID, "", "teacher-1", models.RoleTeacher)
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrConflict))
}

func TestRescheduleRejectDefaultNote(t *testing.T) {
	svc, _, sessions := newRescheduleFixture()
	request := submitRequest(t, svc)

	resolved, err := svc.Reject(context.Background(), request.ID, "", "teacher-1", models.RoleTeacher)
	require.NoError(t, err)
	assert.Equal(t, models.RescheduleStatusRejected, resolved.Status)
	assert.Equal(t, "Request declined", resolved.ResolutionNote)

	// The session is untouched on a rejection.
	session := sessions.sessions["sess-1"]
	assert.Equal(t, "2026-09-01", session.Date)
}

func TestReschedulePurgeKeepsPending(t *testing.T) {
	svc, store, _ := newRescheduleFixture()
	request := submitRequest(t, svc)
	_, err := svc.Reject(context.Background(), request.ID, "no", "teacher-1", models.RoleTeacher)
	require.NoError(t, err)

	// A second student's request stays pending.
	store.requests["req-pending"] = models.RescheduleRequest{
		ID:        "req-pending",
		SessionID: "sess-1",
		StudentID: "stu-2",
		Status:    models.RescheduleStatusPending,
	}

	removed, err := svc.PurgeResolved(context.Background(), "sess-1", "teacher-1", models.RoleTeacher)
	require.NoError(t, err)
	assert.EqualValues(t, 1, removed)
	assert.Contains(t, store.requests, "req-pending")
	assert.NotContains(t, store.requests, request.ID)
}
