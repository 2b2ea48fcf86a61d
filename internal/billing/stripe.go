package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/checkout/session"
	"github.com/stripe/stripe-go/v76/webhook"
)

// StripeConfig holds the keys and price of the concierge product.
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	PriceID       string
	// BackendURL overrides the Stripe API endpoint.
	BackendURL string
}

// StripeCheckout implements Checkout with Stripe Checkout Sessions.
type StripeCheckout struct {
	sessions      session.Client
	webhookSecret string
	priceID       string
}

// NewStripeCheckout routes Stripe API calls through client and logs the
// SDK through logger.
func NewStripeCheckout(cfg StripeConfig, client *http.Client, logger *slog.Logger) *StripeCheckout {
	backendCfg := &stripe.BackendConfig{
		HTTPClient:        client,
		LeveledLogger:     &slogLogger{logger: logger},
		MaxNetworkRetries: stripe.Int64(2),
	}
	if cfg.BackendURL != "" {
		backendCfg.URL = stripe.String(cfg.BackendURL)
	}

	return &StripeCheckout{
		sessions: session.Client{
			B:   stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg),
			Key: cfg.SecretKey,
		},
		webhookSecret: cfg.WebhookSecret,
		priceID:       cfg.PriceID,
	}
}

// CreateSession creates a one-off payment session tagged with the upload id.
func (s *StripeCheckout) CreateSession(ctx context.Context, req CheckoutRequest) (*Session, error) {
	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(s.priceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		ClientReferenceID: stripe.String(req.AccountID),
	}
	if req.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}
	params.Context = ctx
	params.AddMetadata("upload_id", req.UploadID)
	params.AddMetadata("account_id", req.AccountID)

	cs, err := s.sessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}

	return &Session{ID: cs.ID, URL: cs.URL}, nil
}

// ParseEvent verifies the Stripe-Signature header and decodes the event.
func (s *StripeCheckout) ParseEvent(payload []byte, signature string) (*Event, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, s.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	out := &Event{ID: event.ID, Type: string(event.Type)}
	if out.Type != EventCheckoutCompleted {
		return out, nil
	}

	if event.Data == nil {
		return nil, ErrInvalidEvent
	}
	var cs stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &cs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}

	out.SessionID = cs.ID
	out.UploadID = cs.Metadata["upload_id"]
	if cs.PaymentIntent != nil {
		out.PaymentIntentID = cs.PaymentIntent.ID
	}
	if out.UploadID == "" {
		return nil, fmt.Errorf("%w: checkout session %s has no upload_id", ErrInvalidEvent, cs.ID)
	}

	return out, nil
}

// slogLogger routes stripe-go client logs through slog.
type slogLogger struct {
	logger *slog.Logger
}

func (l *slogLogger) Debugf(format string, v ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, v...), "component", "stripe")
}

func (l *slogLogger) Infof(format string, v ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, v...), "component", "stripe")
}

func (l *slogLogger) Warnf(format string, v ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, v...), "component", "stripe")
}

func (l *slogLogger) Errorf(format string, v ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, v...), "component", "stripe")
}
