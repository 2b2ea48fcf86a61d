// Package dedup claims one-time keys so an event delivered more than once,
// or to more than one replica, is handled once.
package dedup

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduplicator records which one-time keys have been handled.
type Deduplicator interface {
	// Claim reports whether the caller is the first to see key within the
	// retention window.
	Claim(ctx context.Context, key string) bool

	// Release gives up a claim so a redelivery can be processed again.
	Release(ctx context.Context, key string)
}

// InMemoryDeduplicator holds claims in the process. Expired claims are
// swept on Claim at most once per retention window.
type InMemoryDeduplicator struct {
	mu        sync.Mutex
	seen      map[string]time.Time
	ttl       time.Duration
	now       func() time.Time
	lastSweep time.Time
}

// NewInMemory returns a deduplicator that remembers claims for ttl.
func NewInMemory(ttl time.Duration) *InMemoryDeduplicator {
	return &InMemoryDeduplicator{
		seen: make(map[string]time.Time),
		ttl:  ttl,
		now:  time.Now,
	}
}

func (d *InMemoryDeduplicator) Claim(ctx context.Context, key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	d.sweep(now)
	if expires, ok := d.seen[key]; ok && now.Before(expires) {
		return false
	}
	d.seen[key] = now.Add(d.ttl)
	return true
}

func (d *InMemoryDeduplicator) sweep(now time.Time) {
	if now.Sub(d.lastSweep) < d.ttl {
		return
	}
	d.lastSweep = now
	for key, expires := range d.seen {
		if !now.Before(expires) {
			delete(d.seen, key)
		}
	}
}

// Len reports the number of claims held, expired or not.
func (d *InMemoryDeduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

func (d *InMemoryDeduplicator) Release(ctx context.Context, key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, key)
}

// RedisDeduplicator shares claims across replicas with SETNX.
type RedisDeduplicator struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis returns a deduplicator whose claims expire from Redis after ttl.
func NewRedis(client *redis.Client, ttl time.Duration) *RedisDeduplicator {
	return &RedisDeduplicator{client: client, ttl: ttl}
}

func (d *RedisDeduplicator) key(k string) string {
	return "dedup:" + k
}

// Claim fails open on Redis errors; callers must tolerate an occasional
// duplicate.
func (d *RedisDeduplicator) Claim(ctx context.Context, key string) bool {
	acquired, err := d.client.SetNX(ctx, d.key(key), time.Now().Unix(), d.ttl).Result()
	if err != nil {
		return true
	}
	return acquired
}

func (d *RedisDeduplicator) Release(ctx context.Context, key string) {
	d.client.Del(ctx, d.key(key))
}
