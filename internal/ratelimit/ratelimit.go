// Package ratelimit throttles anonymous uploads per client IP with a sliding
// window. The in-memory limiter serves single instances; the Redis limiter
// shares the window across API replicas.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// DefaultWindow is the period over which the upload limit applies.
const DefaultWindow = time.Minute

// RateLimiter reports whether one more request from key fits in the window,
// the quota left and when the next slot frees up. Rejected attempts do not
// consume quota.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int) (allowed bool, remaining int, resetAt time.Time, err error)
}

// InMemoryRateLimiter keeps the accepted request times per client.
type InMemoryRateLimiter struct {
	mu        sync.Mutex
	window    time.Duration
	hits      map[string][]time.Time
	now       func() time.Time
	lastSweep time.Time
}

// NewInMemoryRateLimiter returns a limiter over window. A non-positive
// window means DefaultWindow.
func NewInMemoryRateLimiter(window time.Duration) *InMemoryRateLimiter {
	if window <= 0 {
		window = DefaultWindow
	}
	return &InMemoryRateLimiter{
		window: window,
		hits:   make(map[string][]time.Time),
		now:    time.Now,
	}
}

// Allow records a request by key when fewer than limit were accepted in
// the last window.
func (r *InMemoryRateLimiter) Allow(ctx context.Context, key string, limit int) (bool, int, time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.sweep(now)

	hits := live(r.hits[key], now.Add(-r.window))
	if len(hits) >= limit {
		r.hits[key] = hits
		resetAt := now.Add(r.window)
		if len(hits) > 0 {
			resetAt = hits[0].Add(r.window)
		}
		return false, 0, resetAt, nil
	}

	hits = append(hits, now)
	r.hits[key] = hits
	return true, limit - len(hits), hits[0].Add(r.window), nil
}

// live drops hits at or before cutoff; hits are in arrival order.
func live(hits []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	return hits[i:]
}

// sweep forgets idle clients at most once per window.
func (r *InMemoryRateLimiter) sweep(now time.Time) {
	if now.Sub(r.lastSweep) < r.window {
		return
	}
	r.lastSweep = now
	cutoff := now.Add(-r.window)
	for key, hits := range r.hits {
		if len(live(hits, cutoff)) == 0 {
			delete(r.hits, key)
		}
	}
}
