package notifications

import (
	"context"

	"github.com/felipepmaragno/llm-cost-audit/internal/circuitbreaker"
)

// GuardedNotifier sends through the "sns" breaker so a failing topic does
// not hold up webhook and admin requests waiting on publish retries.
type GuardedNotifier struct {
	next     Notifier
	breakers *circuitbreaker.Manager
}

// WithBreaker wraps next so publishes go through the "sns" breaker.
func WithBreaker(next Notifier, breakers *circuitbreaker.Manager) *GuardedNotifier {
	return &GuardedNotifier{next: next, breakers: breakers}
}

func (g *GuardedNotifier) Send(ctx context.Context, notification Notification) error {
	return g.breakers.Do(ctx, "sns", nil, func(ctx context.Context) error {
		return g.next.Send(ctx, notification)
	})
}
