// Package cache keeps rendered analysis reports close to the API so repeated
// dashboard reads do not hit Postgres. It supports an in-memory backend for a
// single instance and Redis for a fleet.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/felipepmaragno/llm-cost-audit/internal/domain"
	"github.com/redis/go-redis/v9"
)

// Cache stores reports by key. A Get error and a miss look the same to
// callers; the database remains the source of truth.
type Cache interface {
	Get(ctx context.Context, key string) (*domain.Report, bool)
	Set(ctx context.Context, key string, report *domain.Report, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// DefaultTTL bounds how long a cached report may outlive a re-analysis
// that failed to invalidate it.
const DefaultTTL = 24 * time.Hour

const sweepInterval = time.Minute

// ReportKey is the cache key of the analysis report for an upload.
func ReportKey(uploadID string) string {
	return "report:" + uploadID
}

// Both backends hold the encoded report, so every Get hands out a private
// copy and a handler can annotate it without touching other readers.
func encode(report *domain.Report) ([]byte, error) {
	data, err := json.Marshal(report)
	if err != nil {
		return nil, fmt.Errorf("encode report: %w", err)
	}
	return data, nil
}

func decode(data []byte) (*domain.Report, bool) {
	var report domain.Report
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, false
	}
	return &report, true
}

type entry struct {
	data      []byte
	expiresAt time.Time
}

// InMemoryCache is a single-process Cache. Expired entries are dropped on
// read and by a background sweep until Close.
type InMemoryCache struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time
	stop    chan struct{}
	once    sync.Once
}

// NewInMemoryCache starts the expiry sweeper; call Close to stop it.
func NewInMemoryCache() *InMemoryCache {
	c := &InMemoryCache{
		entries: make(map[string]entry),
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

func (c *InMemoryCache) Get(_ context.Context, key string) (*domain.Report, bool) {
	c.mu.Lock()
	e, ok := c.entries[key]
	if ok && !c.now().Before(e.expiresAt) {
		delete(c.entries, key)
		ok = false
	}
	c.mu.Unlock()

	if !ok {
		return nil, false
	}
	return decode(e.data)
}

// Set stores a copy of report. A non-positive ttl means DefaultTTL.
func (c *InMemoryCache) Set(_ context.Context, key string, report *domain.Report, ttl time.Duration) error {
	data, err := encode(report)
	if err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	c.mu.Lock()
	c.entries[key] = entry{data: data, expiresAt: c.now().Add(ttl)}
	c.mu.Unlock()
	return nil
}

func (c *InMemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	return nil
}

// Len reports the number of stored entries, expired or not.
func (c *InMemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Close stops the expiry sweeper.
func (c *InMemoryCache) Close() error {
	c.once.Do(func() { close(c.stop) })
	return nil
}

func (c *InMemoryCache) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

func (c *InMemoryCache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for key, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, key)
		}
	}
}

// RedisCache stores encoded reports with a Redis TTL.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache connects to redisURL and fails if Redis does not answer a
// ping within five seconds.
func NewRedisCache(redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisCache{client: client}, nil
}

func (c *RedisCache) Get(ctx context.Context, key string) (*domain.Report, bool) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	return decode(data)
}

func (c *RedisCache) Set(ctx context.Context, key string, report *domain.Report, ttl time.Duration) error {
	data, err := encode(report)
	if err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return c.client.Set(ctx, key, data, ttl).Err()
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

// Ping reports whether Redis is reachable; used by the readiness check.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
