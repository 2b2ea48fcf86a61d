package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/felipepmaragno/llm-cost-audit/internal/storage"
)

// Version is reported by the health endpoints.
const Version = "1.0.0"

// HealthChecker is one dependency checked by the readiness endpoint.
type HealthChecker interface {
	Check(ctx context.Context) error
	Name() string
}

// HealthStatus is the /health/ready body. "degraded" means only optional
// dependencies failed and the instance keeps serving.
type HealthStatus struct {
	Status   string                 `json:"status"`
	Checks   map[string]CheckResult `json:"checks,omitempty"`
	Breakers map[string]string      `json:"breakers,omitempty"`
	Version  string                 `json:"version,omitempty"`
}

// CheckResult is the outcome of one HealthChecker in a readiness report.
type CheckResult struct {
	Status   string `json:"status"`
	Optional bool   `json:"optional,omitempty"`
	Duration string `json:"duration,omitempty"`
	Error    string `json:"error,omitempty"`
}

// PingChecker adapts any client exposing Ping, such as the Redis-backed
// cache and rate limiter.
type PingChecker struct {
	name string
	ping func(ctx context.Context) error
}

// NewPingChecker adapts a ping function, such as a Redis client ping, into
// a HealthChecker.
func NewPingChecker(name string, ping func(ctx context.Context) error) *PingChecker {
	return &PingChecker{name: name, ping: ping}
}

func (c *PingChecker) Name() string                    { return c.name }
func (c *PingChecker) Check(ctx context.Context) error { return c.ping(ctx) }

// PostgresHealthChecker pings the database pool.
type PostgresHealthChecker struct {
	db *sql.DB
}

// NewPostgresHealthChecker returns a checker named "postgres".
func NewPostgresHealthChecker(db *sql.DB) *PostgresHealthChecker {
	return &PostgresHealthChecker{db: db}
}

func (c *PostgresHealthChecker) Name() string {
	return "postgres"
}

// Check pings the pool with the caller's deadline.
func (c *PostgresHealthChecker) Check(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// NewStoreChecker checks the upload archive with an existence lookup. A
// missing sentinel object is healthy; only transport errors fail.
func NewStoreChecker(store storage.Store) *PingChecker {
	return NewPingChecker("archive", func(ctx context.Context) error {
		_, err := store.Exists(ctx, "healthcheck/ping")
		return err
	})
}

type optionalChecker struct {
	HealthChecker
}

// Optional marks a dependency whose failure degrades the instance without
// taking it out of rotation.
func Optional(c HealthChecker) HealthChecker {
	return optionalChecker{c}
}

func isOptional(c HealthChecker) bool {
	_, ok := c.(optionalChecker)
	return ok
}

func runHealthChecks(ctx context.Context, checkers []HealthChecker) map[string]CheckResult {
	results := make(map[string]CheckResult, len(checkers))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, checker := range checkers {
		wg.Add(1)
		go func(c HealthChecker) {
			defer wg.Done()

			start := time.Now()
			err := c.Check(ctx)

			result := CheckResult{
				Status:   "ok",
				Optional: isOptional(c),
				Duration: time.Since(start).String(),
			}
			if err != nil {
				result.Status = "error"
				result.Error = err.Error()
			}

			mu.Lock()
			results[c.Name()] = result
			mu.Unlock()
		}(checker)
	}

	wg.Wait()
	return results
}

func handleHealthReadyWithCheckers(checkers []HealthChecker, breakers func(context.Context) map[string]string, timeout time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		status := HealthStatus{
			Status:  "ready",
			Checks:  runHealthChecks(ctx, checkers),
			Version: Version,
		}
		if breakers != nil {
			status.Breakers = breakers(ctx)
		}

		httpStatus := http.StatusOK
		for _, result := range status.Checks {
			if result.Status == "ok" {
				continue
			}
			if !result.Optional {
				status.Status = "not_ready"
				httpStatus = http.StatusServiceUnavailable
				break
			}
			status.Status = "degraded"
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(httpStatus)
		json.NewEncoder(w).Encode(status)
	}
}
