package service

import (
	"context"
	"database/sql"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/harmonia-studio/mls-api/internal/models"
	appErrors "github.com/harmonia-studio/mls-api/pkg/errors"
)

type attendanceStore interface {
	Upsert(ctx context.Context, mark *models.Attendance) error
	ListBySession(ctx context.Context, sessionID string) ([]models.Attendance, error)
	ListByStudent(ctx context.Context, studentEmail string) ([]models.Attendance, error)
	Delete(ctx context.Context, sessionID, studentEmail string) error
}

type attendanceEnrollmentReader interface {
	ListByCourse(ctx context.Context, courseID string) ([]models.Enrollment, error)
}

// MarkAttendanceRequest records one student's status for a session.
type MarkAttendanceRequest struct {
	StudentEmail string `json:"student_email" validate:"required,email"`
	Status       string `json:"status" validate:"required,oneof=present absent excused"`
	Remark       string `json:"remark"`
}

// RosterEntry is one student row in the session roster. Students with no
// recorded mark show up as pending.
type RosterEntry struct {
	StudentEmail string `json:"student_email"`
	StudentName  string `json:"student_name"`
	Status       string `json:"status"`
	Remark       string `json:"remark,omitempty"`
}

// AttendanceService records and reads per-session attendance.
type AttendanceService struct {
	attendance  attendanceStore
	sessions    rescheduleSessionReader
	enrollments attendanceEnrollmentReader
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewAttendanceService constructs AttendanceService.
func NewAttendanceService(attendance attendanceStore, sessions rescheduleSessionReader, enrollments attendanceEnrollmentReader, validate *validator.Validate, logger *zap.Logger) *AttendanceService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AttendanceService{attendance: attendance, sessions: sessions, enrollments: enrollments, validator: validate, logger: logger}
}

// Mark records or replaces a student's attendance for a session.
func (s *AttendanceService) Mark(ctx context.Context, sessionID string, req MarkAttendanceRequest, actorID string, actorRole models.UserRole) (*models.Attendance, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid attendance payload")
	}
	session, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "session not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session")
	}
	if actorRole != models.RoleAdmin && session.TeacherID != actorID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the session teacher can mark attendance")
	}

	mark := &models.Attendance{
		SessionID:    sessionID,
		StudentEmail: req.StudentEmail,
		Status:       models.AttendanceStatus(req.Status),
		Remark:       req.Remark,
		MarkedBy:     actorID,
	}
	if err := s.attendance.Upsert(ctx, mark); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store attendance")
	}
	return mark, nil
}

// Roster returns every enrolled student of the session's course with their
// mark for this session, defaulting to "pending" when none exists.
func (s *AttendanceService) Roster(ctx context.Context, sessionID string) ([]RosterEntry, error) {
	session, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "session not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session")
	}

	enrollments, err := s.enrollments.ListByCourse(ctx, session.CourseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
	}
	marks, err := s.attendance.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list attendance")
	}

	byEmail := make(map[string]models.Attendance, len(marks))
	for _, mark := range marks {
		byEmail[mark.StudentEmail] = mark
	}

	roster := make([]RosterEntry, 0, len(enrollments))
	for _, enrollment := range enrollments {
		entry := RosterEntry{
			StudentEmail: enrollment.StudentEmail,
			StudentName:  enrollment.StudentName,
			Status:       "pending",
		}
		if mark, ok := byEmail[enrollment.StudentEmail]; ok {
			entry.Status = string(mark.Status)
			entry.Remark = mark.Remark
		}
		roster = append(roster, entry)
	}
	return roster, nil
}

// History returns a student's attendance marks across sessions.
func (s *AttendanceService) History(ctx context.Context, studentEmail string) ([]models.Attendance, error) {
	marks, err := s.attendance.ListByStudent(ctx, studentEmail)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list attendance history")
	}
	return marks, nil
}

// Clear removes a mark, returning the student to pending.
func (s *AttendanceService) Clear(ctx context.Context, sessionID, studentEmail string, actorID string, actorRole models.UserRole) error {
	session, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrNotFound, "session not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session")
	}
	if actorRole != models.RoleAdmin && session.TeacherID != actorID {
		return appErrors.Clone(appErrors.ErrForbidden, "only the session teacher can clear attendance")
	}
	if err := s.attendance.Delete(ctx, sessionID, studentEmail); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to clear attendance")
	}
	return nil
}
