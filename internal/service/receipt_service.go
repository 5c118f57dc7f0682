package service

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/harmonia-studio/mls-api/internal/models"
	appErrors "github.com/harmonia-studio/mls-api/pkg/errors"
	"github.com/harmonia-studio/mls-api/pkg/export"
	"github.com/harmonia-studio/mls-api/pkg/jobs"
)

const jobTypeReceipt = "receipt.render"

type receiptStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
}

type receiptSigner interface {
	Generate(exportID, relPath string) (string, time.Time, error)
	Parse(token string, allowExpired bool) (exportID, relPath string, expiresAt time.Time, err error)
}

type rosterEnrollmentReader interface {
	ListByCourse(ctx context.Context, courseID string) ([]models.Enrollment, error)
}

// receiptJob is the payload queued after a payment confirmation.
type receiptJob struct {
	Enrollment   models.Enrollment
	Confirmation models.PaymentConfirmation
}

// ReceiptDownload is a ready-to-serve stored file.
type ReceiptDownload struct {
	File     *os.File
	Filename string
}

// ReceiptService renders payment receipts in the background and produces
// course roster exports on demand. Receipts are written to local storage and
// served through signed, expiring download tokens.
type ReceiptService struct {
	queue       *jobs.Queue
	pdf         *export.PDFExporter
	csv         *export.CSVExporter
	storage     receiptStorage
	signer      receiptSigner
	enrollments rosterEnrollmentReader
	logger      *zap.Logger
}

// NewReceiptService constructs ReceiptService. Call Start before scheduling.
func NewReceiptService(storage receiptStorage, signer receiptSigner, enrollments rosterEnrollmentReader, queueCfg jobs.QueueConfig, logger *zap.Logger) *ReceiptService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &ReceiptService{
		pdf:         export.NewPDFExporter(),
		csv:         export.NewCSVExporter(),
		storage:     storage,
		signer:      signer,
		enrollments: enrollments,
		logger:      logger,
	}
	queueCfg.Logger = logger
	s.queue = jobs.NewQueue("receipts", s.handle, queueCfg)
	return s
}

// Start launches the background workers.
func (s *ReceiptService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains the workers.
func (s *ReceiptService) Stop() {
	s.queue.Stop()
}

// Schedule queues receipt rendering for a confirmed payment. Failures are
// logged and retried by the queue; the payment flow never waits on the PDF.
func (s *ReceiptService) Schedule(enrollment models.Enrollment, conf models.PaymentConfirmation) {
	job := jobs.Job{
		ID:      uuid.NewString(),
		Type:    jobTypeReceipt,
		Payload: receiptJob{Enrollment: enrollment, Confirmation: conf},
	}
	if err := s.queue.Enqueue(job); err != nil {
		s.logger.Warn("receipt job not queued", zap.String("enrollment_id", enrollment.ID), zap.Error(err))
	}
}

func (s *ReceiptService) handle(ctx context.Context, job jobs.Job) error {
	payload, ok := job.Payload.(receiptJob)
	if !ok {
		s.logger.Error("receipt job with unexpected payload", zap.String("job_id", job.ID))
		return nil
	}
	enrollment := payload.Enrollment
	conf := payload.Confirmation

	fields := []export.ReceiptField{
		{Label: "Receipt for", Value: enrollment.StudentName},
		{Label: "Email", Value: enrollment.StudentEmail},
		{Label: "Course", Value: enrollment.CourseID},
		{Label: "Payment reference", Value: conf.PaymentIntentID},
		{Label: "Paid at", Value: conf.PaidAt.Format(time.RFC3339)},
	}
	if conf.Amount != nil {
		fields = append(fields, export.ReceiptField{
			Label: "Amount",
			Value: formatAmount(*conf.Amount, conf.Currency),
		})
	}

	data, err := s.pdf.RenderReceipt("Tuition Payment Receipt", fields)
	if err != nil {
		return fmt.Errorf("render receipt: %w", err)
	}
	filename := receiptFilename(enrollment.ID)
	if _, err := s.storage.Save(filename, data); err != nil {
		return fmt.Errorf("store receipt: %w", err)
	}
	s.logger.Info("receipt rendered", zap.String("enrollment_id", enrollment.ID), zap.String("file", filename))
	return nil
}

// DownloadURL returns a signed token for an enrollment's stored receipt.
func (s *ReceiptService) DownloadURL(enrollmentID string) (string, time.Time, error) {
	filename := receiptFilename(enrollmentID)
	file, err := s.storage.Open(filename)
	if err != nil {
		return "", time.Time{}, appErrors.Clone(appErrors.ErrNotFound, "receipt not available")
	}
	_ = file.Close()
	token, expiresAt, err := s.signer.Generate(enrollmentID, filename)
	if err != nil {
		return "", time.Time{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign download token")
	}
	return token, expiresAt, nil
}

// Resolve validates a download token and opens the referenced file.
func (s *ReceiptService) Resolve(token string) (*ReceiptDownload, error) {
	exportID, relPath, _, err := s.signer.Parse(token, false)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "invalid or expired download token")
	}
	file, err := s.storage.Open(relPath)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "receipt not available")
	}
	return &ReceiptDownload{File: file, Filename: fmt.Sprintf("receipt-%s.pdf", exportID)}, nil
}

// RenderRoster produces a CSV export of a course's enrollments for teachers.
func (s *ReceiptService) RenderRoster(ctx context.Context, courseID string) ([]byte, string, error) {
	enrollments, err := s.enrollments.ListByCourse(ctx, courseID)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
	}

	dataset := export.Dataset{
		Headers: []string{"Student", "Email", "Time Slot", "Payment State", "Enrolled At", "Paid At"},
	}
	for _, enrollment := range enrollments {
		e := enrollment
		row := map[string]string{
			"Student":       e.StudentName,
			"Email":         e.StudentEmail,
			"Time Slot":     e.TimeSlotLabel,
			"Payment State": PaymentStateOf(&e).String(),
			"Enrolled At":   e.EnrolledAt.Format("2006-01-02"),
		}
		if e.PaidAt != nil {
			row["Paid At"] = e.PaidAt.Format("2006-01-02")
		}
		dataset.Rows = append(dataset.Rows, row)
	}

	data, err := s.csv.Render(dataset)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render roster")
	}
	filename := fmt.Sprintf("roster-%s.csv", courseID)
	return data, filename, nil
}

func receiptFilename(enrollmentID string) string {
	safe := strings.ReplaceAll(enrollmentID, "/", "_")
	return fmt.Sprintf("receipt-%s.pdf", safe)
}

func formatAmount(cents int64, currency string) string {
	return fmt.Sprintf("%.2f %s", float64(cents)/100, strings.ToUpper(currency))
}
