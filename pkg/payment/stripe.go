package payment

import (
	"context"
	"encoding/json"
	"fmt"

	stripe "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/harmonia-studio/mls-api/pkg/config"
)

// EventTypeCheckoutCompleted is the only webhook event type the platform acts on.
const EventTypeCheckoutCompleted = "checkout.session.completed"

// CheckoutParams describes a hosted checkout session to create.
type CheckoutParams struct {
	CourseID     string
	CourseTitle  string
	EnrollmentID string
	StudentName  string
	StudentEmail string
	AmountCents  int64
	Currency     string
	SuccessURL   string
	CancelURL    string
}

// CheckoutSession is the gateway-hosted payment flow reference.
type CheckoutSession struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
}

// IntentDetails carries the authoritative payment facts for a completed intent.
type IntentDetails struct {
	AmountReceived int64
	Currency       string
	ReceiptURL     string
}

// Event is a verified inbound webhook event.
type Event struct {
	ID              string
	Type            string
	EnrollmentID    string
	CourseID        string
	PaymentIntentID string
}

// StripeGateway talks to Stripe for checkout, intent lookups and webhook verification.
type StripeGateway struct {
	api           *client.API
	webhookSecret string
}

// NewStripeGateway builds a gateway from config.
func NewStripeGateway(cfg config.StripeConfig) *StripeGateway {
	api := &client.API{}
	api.Init(cfg.SecretKey, nil)
	return &StripeGateway{api: api, webhookSecret: cfg.WebhookSecret}
}

// CreateCheckoutSession opens a hosted checkout flow for a course enrollment.
// The enrollment id travels in session metadata so the completion webhook can
// find its way back to the record.
func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, p CheckoutParams) (*CheckoutSession, error) {
	if p.AmountCents <= 0 {
		return nil, fmt.Errorf("invalid tuition amount: %d", p.AmountCents)
	}

	params := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		SuccessURL:         stripe.String(p.SuccessURL),
		CancelURL:          stripe.String(p.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Quantity: stripe.Int64(1),
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(p.Currency),
					UnitAmount: stripe.Int64(p.AmountCents),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(fmt.Sprintf("%s - %s", p.CourseTitle, displayName(p.StudentName))),
					},
				},
			},
		},
	}
	if p.StudentEmail != "" {
		params.CustomerEmail = stripe.String(p.StudentEmail)
	}
	params.Context = ctx
	params.AddMetadata("enrollmentId", p.EnrollmentID)
	params.AddMetadata("courseId", p.CourseID)

	session, err := g.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}
	return &CheckoutSession{SessionID: session.ID, URL: session.URL}, nil
}

// RetrievePaymentIntent fetches the amount, currency and receipt for an intent.
func (g *StripeGateway) RetrievePaymentIntent(ctx context.Context, intentID string) (*IntentDetails, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	params.AddExpand("latest_charge")

	intent, err := g.api.PaymentIntents.Get(intentID, params)
	if err != nil {
		return nil, fmt.Errorf("retrieve payment intent: %w", err)
	}

	details := &IntentDetails{
		AmountReceived: intent.AmountReceived,
		Currency:       string(intent.Currency),
	}
	if intent.LatestCharge != nil {
		details.ReceiptURL = intent.LatestCharge.ReceiptURL
	}
	return details, nil
}

// VerifyEvent checks the webhook signature and extracts the event payload.
// A signature failure is fatal for the delivery and must not mutate state.
func (g *StripeGateway) VerifyEvent(payload []byte, signature string) (*Event, error) {
	stripeEvent, err := webhook.ConstructEvent(payload, signature, g.webhookSecret)
	if err != nil {
		return nil, fmt.Errorf("verify webhook signature: %w", err)
	}

	event := &Event{ID: stripeEvent.ID, Type: string(stripeEvent.Type)}
	if event.Type != EventTypeCheckoutCompleted {
		return event, nil
	}

	var session stripe.CheckoutSession
	if err := json.Unmarshal(stripeEvent.Data.Raw, &session); err != nil {
		return nil, fmt.Errorf("decode checkout session payload: %w", err)
	}
	event.EnrollmentID = session.Metadata["enrollmentId"]
	event.CourseID = session.Metadata["courseId"]
	if session.PaymentIntent != nil {
		event.PaymentIntentID = session.PaymentIntent.ID
	}
	return event, nil
}

func displayName(name string) string {
	if name == "" {
		return "Student"
	}
	return name
}
