package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// KEYS: window set. ARGV: now (ms), window (ms), limit, member.
// Returns {allowed, count, oldest (ms)}.
var slidingWindowScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', now - window)
local count = redis.call('ZCARD', KEYS[1])
local allowed = 0
if count < limit then
    redis.call('ZADD', KEYS[1], now, ARGV[4])
    redis.call('PEXPIRE', KEYS[1], window)
    count = count + 1
    allowed = 1
end

local oldest = now
local first = redis.call('ZRANGE', KEYS[1], 0, 0, 'WITHSCORES')
if first[2] then
    oldest = tonumber(first[2])
end
return {allowed, count, oldest}
`)

// RedisRateLimiter shares the sliding window across replicas.
type RedisRateLimiter struct {
	client *redis.Client
	window time.Duration
}

// NewRedisRateLimiter connects to redisURL and fails if Redis does not
// answer a ping.
func NewRedisRateLimiter(redisURL string, window time.Duration) (*RedisRateLimiter, error) {
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

	if window <= 0 {
		window = DefaultWindow
	}
	return &RedisRateLimiter{client: client, window: window}, nil
}

func (r *RedisRateLimiter) Allow(ctx context.Context, key string, limit int) (bool, int, time.Time, error) {
	now := time.Now()
	res, err := slidingWindowScript.Run(ctx, r.client,
		[]string{"ratelimit:upload:" + key},
		now.UnixMilli(), r.window.Milliseconds(), limit, uuid.NewString(),
	).Int64Slice()
	if err != nil {
		return false, 0, time.Time{}, err
	}

	allowed, count, oldest := res[0] == 1, int(res[1]), res[2]
	remaining := limit - count
	if remaining < 0 || !allowed {
		remaining = 0
	}
	return allowed, remaining, time.UnixMilli(oldest).Add(r.window), nil
}

// Ping reports whether Redis is reachable; used by the readiness check.
func (r *RedisRateLimiter) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisRateLimiter) Close() error {
	return r.client.Close()
}

// Client exposes the connection pool for other Redis-backed components.
func (r *RedisRateLimiter) Client() *redis.Client {
	return r.client
}
