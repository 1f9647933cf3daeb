package ratelimit

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestLimiterCapacity(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	limiter := New(client, 2, 1, time.Minute)

	allowed, err := limiter.AllowBidder(ctx, "tech-1")
	if err != nil || !allowed {
		t.Fatalf("expected first submission allowed, got allowed=%v err=%v", allowed, err)
	}
	if allowed, _ = limiter.AllowBidder(ctx, "tech-1"); !allowed {
		t.Fatalf("expected second submission allowed")
	}
	if allowed, _ = limiter.AllowBidder(ctx, "tech-1"); allowed {
		t.Fatalf("expected third submission rejected")
	}

	// Buckets are independent per bidder.
	if allowed, _ = limiter.AllowBidder(ctx, "tech-2"); !allowed {
		t.Fatalf("expected fresh bidder allowed")
	}

	// Refill cannot be tested with miniredis.FastForward(): the script
	// takes its clock from Go, not Redis.
}
