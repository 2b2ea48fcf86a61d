package billing

import (
	"context"
	"errors"
	"net/http"

	"github.com/felipepmaragno/llm-cost-audit/internal/circuitbreaker"
	"github.com/stripe/stripe-go/v76"
)

const breakerName = "stripe"

// GuardedCheckout puts session creation behind the "stripe" breaker.
// Webhook parsing is local and never guarded.
type GuardedCheckout struct {
	next     Checkout
	breakers *circuitbreaker.Manager
}

// WithBreaker wraps next so session creation goes through the "stripe"
// breaker.
func WithBreaker(next Checkout, breakers *circuitbreaker.Manager) *GuardedCheckout {
	return &GuardedCheckout{next: next, breakers: breakers}
}

func (g *GuardedCheckout) CreateSession(ctx context.Context, req CheckoutRequest) (*Session, error) {
	var session *Session
	err := g.breakers.Do(ctx, breakerName, upstreamFailure, func(ctx context.Context) error {
		var err error
		session, err = g.next.CreateSession(ctx, req)
		return err
	})
	return session, err
}

// ParseEvent is local signature verification and bypasses the breaker.
func (g *GuardedCheckout) ParseEvent(payload []byte, signature string) (*Event, error) {
	return g.next.ParseEvent(payload, signature)
}

// upstreamFailure reports whether err means Stripe itself is unhealthy.
// Request errors Stripe answered with a 4xx other than 429 do not count.
func upstreamFailure(err error) bool {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode != 0 {
		return stripeErr.HTTPStatusCode >= 500 || stripeErr.HTTPStatusCode == http.StatusTooManyRequests
	}
	return true
}
