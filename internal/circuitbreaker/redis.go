package circuitbreaker

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// idleExpiry drops the hash of a dependency nobody has called for a day.
const idleExpiry = 24 * time.Hour

// transitionScript applies one event to a breaker hash and returns the
// resulting state. Fields: state, failures, successes, opened_at (ms).
//
// KEYS[1] breaker hash
// ARGV[1] event: allow | success | failure
// ARGV[2] failure threshold, ARGV[3] success threshold
// ARGV[4] open period ms, ARGV[5] idle expiry ms
var transitionScript = redis.NewScript(`
local key = KEYS[1]
local event = ARGV[1]
local t = redis.call('TIME')
local now = tonumber(t[1]) * 1000 + math.floor(tonumber(t[2]) / 1000)

local state = redis.call('HGET', key, 'state') or 'closed'

if event == 'allow' then
    if state == 'open' then
        local opened = tonumber(redis.call('HGET', key, 'opened_at') or '0')
        if now - opened < tonumber(ARGV[4]) then
            return 'open'
        end
        state = 'half-open'
        redis.call('HSET', key, 'state', state, 'successes', 0)
    end
elseif event == 'success' then
    if state == 'closed' then
        redis.call('HSET', key, 'failures', 0)
    elseif state == 'half-open' then
        if redis.call('HINCRBY', key, 'successes', 1) >= tonumber(ARGV[3]) then
            state = 'closed'
            redis.call('HSET', key, 'state', state, 'failures', 0, 'successes', 0)
        end
    end
elseif event == 'failure' then
    if state == 'half-open' or
        (state == 'closed' and redis.call('HINCRBY', key, 'failures', 1) >= tonumber(ARGV[2])) then
        state = 'open'
        redis.call('HSET', key, 'state', state, 'opened_at', now, 'successes', 0)
    end
end

redis.call('PEXPIRE', key, ARGV[5])
return state
`)

// RedisCircuitBreaker keeps one dependency's breaker in a Redis hash so
// every API replica sees the same state. Redis errors fail open.
type RedisCircuitBreaker struct {
	client *redis.Client
	config Config
	key    string
}

// NewRedis returns the shared breaker of dependency. Open periods shorter
// than a second are rounded up.
func NewRedis(client *redis.Client, dependency string, cfg Config) *RedisCircuitBreaker {
	return &RedisCircuitBreaker{
		client: client,
		config: cfg,
		key:    "breaker:" + dependency,
	}
}

func (cb *RedisCircuitBreaker) apply(ctx context.Context, event string) (State, error) {
	openFor := cb.config.Timeout
	if openFor < time.Second {
		openFor = time.Second
	}
	args := []any{
		event,
		cb.config.FailureThreshold,
		cb.config.SuccessThreshold,
		openFor.Milliseconds(),
		idleExpiry.Milliseconds(),
	}
	s, err := transitionScript.Run(ctx, cb.client, []string{cb.key}, args...).Text()
	if err != nil {
		return StateClosed, err
	}
	return parseState(s), nil
}

func (cb *RedisCircuitBreaker) Allow(ctx context.Context) error {
	state, err := cb.apply(ctx, "allow")
	if err == nil && state == StateOpen {
		return ErrOpen
	}
	return nil
}

func (cb *RedisCircuitBreaker) RecordSuccess(ctx context.Context) {
	cb.apply(ctx, "success")
}

func (cb *RedisCircuitBreaker) RecordFailure(ctx context.Context) {
	cb.apply(ctx, "failure")
}

func (cb *RedisCircuitBreaker) State(ctx context.Context) State {
	s, err := cb.client.HGet(ctx, cb.key, "state").Result()
	if err != nil {
		return StateClosed
	}
	return parseState(s)
}

// Reset closes the breaker by hand.
func (cb *RedisCircuitBreaker) Reset(ctx context.Context) error {
	return cb.client.Del(ctx, cb.key).Err()
}

func parseState(s string) State {
	switch s {
	case StateOpen.String():
		return StateOpen
	case StateHalfOpen.String():
		return StateHalfOpen
	default:
		return StateClosed
	}
}
