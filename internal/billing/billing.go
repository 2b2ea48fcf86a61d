// Package billing sells the concierge audit through Stripe Checkout.
package billing

import (
	"context"
	"errors"
)

var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrInvalidEvent     = errors.New("invalid webhook event")
)

const EventCheckoutCompleted = "checkout.session.completed"

// CheckoutRequest describes the concierge purchase for one upload.
type CheckoutRequest struct {
	UploadID      string
	AccountID     string
	CustomerEmail string
	SuccessURL    string
	CancelURL     string
}

// Session is a created checkout session; URL is where the customer pays.
type Session struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// Event is the subset of a verified webhook event the concierge flow needs.
// UploadID and PaymentIntentID are only set for completed checkouts.
type Event struct {
	ID              string
	Type            string
	SessionID       string
	UploadID        string
	PaymentIntentID string
}

// Checkout creates payment sessions and verifies webhook deliveries.
type Checkout interface {
	CreateSession(ctx context.Context, req CheckoutRequest) (*Session, error)
	// ParseEvent verifies the signature header and decodes the payload.
	ParseEvent(payload []byte, signature string) (*Event, error)
}
