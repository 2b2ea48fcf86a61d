//go:build integration

package ratelimit

import (
	"context"
	"os"
	"testing"
	"time"
)

func TestRedisRateLimiter_SlidingWindow(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}

	rl, err := NewRedisRateLimiter(url, 2*time.Second)
	if err != nil {
		t.Fatalf("NewRedisRateLimiter() error = %v", err)
	}
	defer rl.Close()

	ctx := context.Background()
	key := "it-" + time.Now().Format("150405.000000")

	for i := 0; i < 2; i++ {
		if allowed, _, _, err := rl.Allow(ctx, key, 2); err != nil || !allowed {
			t.Fatalf("request %d: allowed = %v, err = %v", i, allowed, err)
		}
	}

	for i := 0; i < 5; i++ {
		allowed, remaining, resetAt, err := rl.Allow(ctx, key, 2)
		if err != nil || allowed || remaining != 0 {
			t.Fatalf("over-limit request: allowed = %v, remaining = %d, err = %v", allowed, remaining, err)
		}
		if time.Until(resetAt) > 2*time.Second {
			t.Errorf("resetAt %v is beyond the window", resetAt)
		}
	}

	time.Sleep(2100 * time.Millisecond)
	if allowed, _, _, _ := rl.Allow(ctx, key, 2); !allowed {
		t.Error("rejected attempts should not extend the lockout")
	}
}
