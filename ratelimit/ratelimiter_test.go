package ratelimit

import (
	"context"
	"testing"
	"time"
)

// No Redis client: the limiter must fall back to the in-memory store.
func newInMemoryLimiter(maxTokens, refillRate int, refillInterval time.Duration) *TokenBucketLimiter {
	return NewTokenBucketLimiter(nil, Config{
		MaxTokens:      maxTokens,
		RefillRate:     refillRate,
		RefillInterval: refillInterval,
	})
}

func TestTokenBucketLimiter_Exhaustion(t *testing.T) {
	limiter := newInMemoryLimiter(3, 1, 1*time.Hour)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		result, err := limiter.Allow(ctx, "shareholder:alice")
		if err != nil {
			t.Fatalf("Allow: %v", err)
		}
		if !result.Allowed {
			t.Fatalf("request %d denied before bucket exhausted", i+1)
		}
	}

	result, err := limiter.Allow(ctx, "shareholder:alice")
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if result.Allowed {
		t.Error("request allowed after bucket exhausted")
	}
	if result.RetryAfter <= 0 {
		t.Error("denied result should carry a positive RetryAfter")
	}
	if result.ResetAt.IsZero() {
		t.Error("denied result should carry a reset time")
	}
}

func TestTokenBucketLimiter_KeysAreIndependent(t *testing.T) {
	limiter := newInMemoryLimiter(1, 1, 1*time.Hour)
	ctx := context.Background()

	if result, _ := limiter.Allow(ctx, "shareholder:alice"); !result.Allowed {
		t.Fatal("first request for alice denied")
	}
	if result, _ := limiter.Allow(ctx, "shareholder:alice"); result.Allowed {
		t.Error("alice's bucket should be exhausted")
	}
	if result, _ := limiter.Allow(ctx, "shareholder:bob"); !result.Allowed {
		t.Error("bob's bucket must be unaffected by alice's usage")
	}
}

func TestTokenBucketLimiter_Refill(t *testing.T) {
	// 1 token per millisecond: exhaust, then wait for refill.
	limiter := newInMemoryLimiter(2, 1, 1*time.Millisecond)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if result, _ := limiter.Allow(ctx, "shareholder:alice"); !result.Allowed {
			t.Fatalf("request %d denied before exhaustion", i+1)
		}
	}

	time.Sleep(50 * time.Millisecond)

	if result, _ := limiter.Allow(ctx, "shareholder:alice"); !result.Allowed {
		t.Error("bucket should have refilled")
	}
}

func TestTokenBucketLimiter_Whitelist(t *testing.T) {
	limiter := NewTokenBucketLimiter(nil, Config{
		MaxTokens:       1,
		RefillRate:      1,
		RefillInterval:  1 * time.Hour,
		WhitelistedKeys: []string{"shareholder:market-maker-1"},
	})
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		result, err := limiter.Allow(ctx, "shareholder:market-maker-1")
		if err != nil {
			t.Fatalf("Allow: %v", err)
		}
		if !result.Allowed {
			t.Fatal("whitelisted key must never be limited")
		}
	}

	limiter.RemoveWhitelistedKey("shareholder:market-maker-1")
	if limiter.IsWhitelisted("shareholder:market-maker-1") {
		t.Error("key still whitelisted after removal")
	}

	limiter.AddWhitelistedKey("ip:127.0.0.1")
	if !limiter.IsWhitelisted("ip:127.0.0.1") {
		t.Error("added key not whitelisted")
	}
}

func TestTokenBucketLimiter_ConservativeFallback(t *testing.T) {
	limiter := NewTokenBucketLimiter(nil, Config{
		MaxTokens:            100,
		RefillRate:           10,
		RefillInterval:       1 * time.Second,
		ConservativeFallback: true,
	})

	// Without Redis the per-instance limit is halved.
	if limiter.maxTokens != 50 {
		t.Errorf("maxTokens = %d with conservative fallback, want 50", limiter.maxTokens)
	}
	if limiter.refillRate != 5 {
		t.Errorf("refillRate = %d with conservative fallback, want 5", limiter.refillRate)
	}
}

func TestTokenBucketLimiter_GetStats(t *testing.T) {
	limiter := newInMemoryLimiter(5, 1, 1*time.Hour)
	ctx := context.Background()

	tokens, err := limiter.GetStats(ctx, "shareholder:alice")
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if tokens != 5 {
		t.Errorf("unused key tokens = %f, want full bucket 5", tokens)
	}

	_, _ = limiter.Allow(ctx, "shareholder:alice")

	tokens, err = limiter.GetStats(ctx, "shareholder:alice")
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if tokens >= 5 {
		t.Errorf("tokens = %f after one request, want < 5", tokens)
	}
}
