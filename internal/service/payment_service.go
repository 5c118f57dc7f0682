package service

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"

	"github.com/harmonia-studio/mls-api/internal/models"
	appErrors "github.com/harmonia-studio/mls-api/pkg/errors"
	"github.com/harmonia-studio/mls-api/pkg/payment"
	"github.com/harmonia-studio/mls-api/pkg/realtime"
)

// Webhook handling results used for metrics labels.
const (
	WebhookResultConfirmed = "confirmed"
	WebhookResultDuplicate = "duplicate"
	WebhookResultIgnored   = "ignored"
	WebhookResultOrphan    = "orphan"
	WebhookResultRejected  = "rejected"
	WebhookResultFailed    = "failed"
)

type paymentEnrollmentStore interface {
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
	MarkPaid(ctx context.Context, conf models.PaymentConfirmation) (bool, error)
}

type webhookGateway interface {
	VerifyEvent(payload []byte, signature string) (*payment.Event, error)
	RetrievePaymentIntent(ctx context.Context, intentID string) (*payment.IntentDetails, error)
}

type eventMarker interface {
	MarkOnce(ctx context.Context, eventID string, ttl time.Duration) bool
	Clear(ctx context.Context, eventID string)
}

type webhookMetrics interface {
	RecordWebhookEvent(result string)
	RecordPaymentConfirmed(amountCents int64)
}

type receiptScheduler interface {
	Schedule(enrollment models.Enrollment, conf models.PaymentConfirmation)
}

// PaymentService reconciles gateway webhook deliveries with enrollments.
type PaymentService struct {
	enrollments paymentEnrollmentStore
	gateway     webhookGateway
	markers     eventMarker
	events      changePublisher
	metrics     webhookMetrics
	receipts    receiptScheduler
	provider    string
	markerTTL   time.Duration
	logger      *zap.Logger
}

// NewPaymentService constructs PaymentService.
func NewPaymentService(enrollments paymentEnrollmentStore, gateway webhookGateway, markers eventMarker, events changePublisher, metrics webhookMetrics, receipts receiptScheduler, markerTTL time.Duration, logger *zap.Logger) *PaymentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if markerTTL <= 0 {
		markerTTL = 24 * time.Hour
	}
	return &PaymentService{
		enrollments: enrollments,
		gateway:     gateway,
		markers:     markers,
		events:      events,
		metrics:     metrics,
		receipts:    receipts,
		provider:    "stripe",
		markerTTL:   markerTTL,
		logger:      logger,
	}
}

// HandleWebhook processes a raw webhook delivery. The signature check is the
// only fatal precondition; everything after it either confirms the payment or
// acknowledges the delivery as a no-op so the gateway stops retrying.
// Redelivered events converge on the same final state.
func (s *PaymentService) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	event, err := s.gateway.VerifyEvent(payload, signature)
	if err != nil {
		s.record(WebhookResultRejected)
		s.logger.Warn("webhook signature rejected", zap.Error(err))
		return appErrors.Wrap(err, appErrors.ErrInvalidSignature.Code, appErrors.ErrInvalidSignature.Status, appErrors.ErrInvalidSignature.Message)
	}

	if event.Type != payment.EventTypeCheckoutCompleted {
		s.record(WebhookResultIgnored)
		s.logger.Debug("webhook event ignored", zap.String("event_id", event.ID), zap.String("type", event.Type))
		return nil
	}
	if event.EnrollmentID == "" {
		s.record(WebhookResultOrphan)
		s.logger.Warn("checkout event without enrollment reference", zap.String("event_id", event.ID))
		return nil
	}

	if s.markers != nil && !s.markers.MarkOnce(ctx, event.ID, s.markerTTL) {
		s.record(WebhookResultDuplicate)
		s.logger.Info("webhook event already processed", zap.String("event_id", event.ID))
		return nil
	}

	enrollment, err := s.enrollments.FindByID(ctx, event.EnrollmentID)
	if err != nil {
		if err == sql.ErrNoRows {
			// The enrollment was cancelled between checkout and confirmation.
			// Acknowledge so the gateway stops retrying a record that will
			// never exist.
			s.record(WebhookResultOrphan)
			s.logger.Warn("payment confirmed for missing enrollment",
				zap.String("event_id", event.ID),
				zap.String("enrollment_id", event.EnrollmentID))
			return nil
		}
		s.record(WebhookResultFailed)
		s.releaseMarker(ctx, event.ID)
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}

	conf := models.PaymentConfirmation{
		EnrollmentID:    event.EnrollmentID,
		PaymentIntentID: event.PaymentIntentID,
		Provider:        s.provider,
		PaidAt:          time.Now().UTC(),
	}

	// The intent lookup enriches the record with the settled amount and
	// receipt. It is best-effort: the payment already happened, so a gateway
	// read failure must not fail the confirmation.
	if event.PaymentIntentID != "" {
		details, err := s.gateway.RetrievePaymentIntent(ctx, event.PaymentIntentID)
		if err != nil {
			s.logger.Warn("payment intent lookup failed, confirming without receipt",
				zap.String("event_id", event.ID),
				zap.String("payment_intent_id", event.PaymentIntentID),
				zap.Error(err))
		} else {
			conf.Amount = &details.AmountReceived
			conf.Currency = details.Currency
			conf.ReceiptURL = details.ReceiptURL
		}
	}

	applied, err := s.enrollments.MarkPaid(ctx, conf)
	if err != nil {
		s.record(WebhookResultFailed)
		s.releaseMarker(ctx, event.ID)
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to apply payment confirmation")
	}
	if !applied {
		s.record(WebhookResultDuplicate)
		s.logger.Info("enrollment already paid, confirmation skipped",
			zap.String("event_id", event.ID),
			zap.String("enrollment_id", event.EnrollmentID))
		return nil
	}

	s.record(WebhookResultConfirmed)
	if s.metrics != nil && conf.Amount != nil {
		s.metrics.RecordPaymentConfirmed(*conf.Amount)
	}
	if s.receipts != nil {
		s.receipts.Schedule(*enrollment, conf)
	}
	if s.events != nil {
		s.events.Publish(ctx, realtime.Event{Topic: TopicEnrollments, Kind: realtime.KindUpserted, Key: event.EnrollmentID})
	}
	s.logger.Info("payment confirmed",
		zap.String("event_id", event.ID),
		zap.String("enrollment_id", event.EnrollmentID),
		zap.String("payment_intent_id", event.PaymentIntentID),
		zap.Bool("receipt_captured", conf.ReceiptURL != ""))
	return nil
}

// releaseMarker drops the dedupe marker after a failed confirmation so the
// gateway's redelivery is not mistaken for a duplicate. The error returned to
// the gateway is the retry driver; the marker must not outlive the failure.
func (s *PaymentService) releaseMarker(ctx context.Context, eventID string) {
	if s.markers != nil {
		s.markers.Clear(ctx, eventID)
	}
}

func (s *PaymentService) record(result string) {
	if s.metrics != nil {
		s.metrics.RecordWebhookEvent(result)
	}
}
