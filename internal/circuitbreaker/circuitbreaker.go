// Package circuitbreaker fails fast on outbound dependencies (Stripe, SNS)
// that keep erroring, so a struggling third party does not tie up request
// handlers.
//
// States:
//   - Closed: calls pass through
//   - Open: calls fail immediately with ErrOpen
//   - Half-Open: trial calls allowed until enough succeed
//
// InMemoryCircuitBreaker serves a single instance. RedisCircuitBreaker shares
// state across API replicas through Lua scripts.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/felipepmaragno/llm-cost-audit/internal/metrics"
	"github.com/redis/go-redis/v9"
)

var ErrOpen = errors.New("dependency circuit open")

// CircuitBreaker tracks the health of one outbound dependency.
type CircuitBreaker interface {
	// Allow returns ErrOpen while the circuit is open.
	Allow(ctx context.Context) error
	RecordSuccess(ctx context.Context)
	RecordFailure(ctx context.Context)
	State(ctx context.Context) State
}

// State is the position of a breaker.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config sets the thresholds shared by every breaker a Manager creates.
type Config struct {
	FailureThreshold int           // consecutive failures before opening
	SuccessThreshold int           // trial successes to close from half-open
	Timeout          time.Duration // open period before probing
}

// DefaultConfig opens after 5 failures, half-opens after 30s and closes after
// 2 successful trial calls.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
	}
}

type event int

const (
	eventAllow event = iota
	eventSuccess
	eventFailure
)

// InMemoryCircuitBreaker applies the same transitions as the Redis script
// to state held in the process.
type InMemoryCircuitBreaker struct {
	mu        sync.Mutex
	config    Config
	now       func() time.Time
	state     State
	failures  int
	successes int
	openedAt  time.Time
}

// NewInMemory returns a closed breaker.
func NewInMemory(cfg Config) *InMemoryCircuitBreaker {
	return &InMemoryCircuitBreaker{config: cfg, now: time.Now}
}

func (cb *InMemoryCircuitBreaker) apply(e event) State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch e {
	case eventAllow:
		if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.config.Timeout {
			cb.state, cb.successes = StateHalfOpen, 0
		}
	case eventSuccess:
		switch cb.state {
		case StateClosed:
			cb.failures = 0
		case StateHalfOpen:
			cb.successes++
			if cb.successes >= cb.config.SuccessThreshold {
				cb.state, cb.failures, cb.successes = StateClosed, 0, 0
			}
		}
	case eventFailure:
		if cb.state == StateClosed {
			cb.failures++
		}
		if cb.state == StateHalfOpen || (cb.state == StateClosed && cb.failures >= cb.config.FailureThreshold) {
			cb.state, cb.successes, cb.openedAt = StateOpen, 0, cb.now()
		}
	}
	return cb.state
}

func (cb *InMemoryCircuitBreaker) Allow(context.Context) error {
	if cb.apply(eventAllow) == StateOpen {
		return ErrOpen
	}
	return nil
}

func (cb *InMemoryCircuitBreaker) RecordSuccess(context.Context) { cb.apply(eventSuccess) }

func (cb *InMemoryCircuitBreaker) RecordFailure(context.Context) { cb.apply(eventFailure) }

func (cb *InMemoryCircuitBreaker) State(context.Context) State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Manager hands out one breaker per named dependency.
type Manager struct {
	mu       sync.RWMutex
	breakers map[string]CircuitBreaker
	config   Config
	factory  func(dependency string) CircuitBreaker
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithRedisClient shares breaker state through an existing Redis client.
func WithRedisClient(client *redis.Client) ManagerOption {
	return func(m *Manager) {
		m.factory = func(dependency string) CircuitBreaker {
			return NewRedis(client, dependency, m.config)
		}
	}
}

// NewManager returns a Manager that creates breakers lazily with cfg.
func NewManager(cfg Config, opts ...ManagerOption) *Manager {
	m := &Manager{
		breakers: make(map[string]CircuitBreaker),
		config:   cfg,
	}
	m.factory = func(string) CircuitBreaker { return NewInMemory(m.config) }

	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Get returns the breaker of dependency, creating it on first use.
func (m *Manager) Get(dependency string) CircuitBreaker {
	m.mu.RLock()
	cb, ok := m.breakers[dependency]
	m.mu.RUnlock()
	if ok {
		return cb
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if cb, ok := m.breakers[dependency]; ok {
		return cb
	}
	cb = m.factory(dependency)
	m.breakers[dependency] = cb
	return cb
}

// States reports every breaker handed out so far, for the readiness check.
func (m *Manager) States(ctx context.Context) map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	states := make(map[string]string, len(m.breakers))
	for name, cb := range m.breakers {
		states[name] = cb.State(ctx).String()
	}
	return states
}

// Do runs fn behind the named dependency's breaker. Errors for which
// countable returns false (caller mistakes such as a declined card) pass
// through without tripping the breaker.
func (m *Manager) Do(ctx context.Context, dependency string, countable func(error) bool, fn func(context.Context) error) error {
	cb := m.Get(dependency)
	if err := cb.Allow(ctx); err != nil {
		metrics.RecordBreakerRejection(dependency)
		return err
	}

	err := fn(ctx)
	switch {
	case err == nil:
		cb.RecordSuccess(ctx)
	case errors.Is(err, context.Canceled):
	case countable == nil || countable(err):
		cb.RecordFailure(ctx)
	default:
		cb.RecordSuccess(ctx)
	}
	metrics.RecordBreakerState(dependency, int(cb.State(ctx)))
	return err
}
