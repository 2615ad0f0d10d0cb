package ratelimit

import (
	"context"
	"testing"
	"time"

	"go-crmsync/internal/apperrors"
	"go-crmsync/internal/cache"
)

func TestLimiterAllowsUpToLimit(t *testing.T) {
	l := NewLimiter(cache.NewMemoryCache(), 3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := l.Allow(ctx, "crm"); err != nil {
			t.Fatalf("Allow() call %d error = %v", i+1, err)
		}
	}

	err := l.Allow(ctx, "crm")
	if err == nil {
		t.Fatal("Allow() beyond limit returned nil, want rate limit error")
	}
	if apperrors.CodeOf(err) != apperrors.CodeRateLimit {
		t.Errorf("CodeOf(err) = %v, want CodeRateLimit", apperrors.CodeOf(err))
	}
	if apperrors.RetryAfterOf(err) <= 0 {
		t.Error("rate limit error carries no retry-after hint")
	}
	if !apperrors.Retryable(err) {
		t.Error("rate limit error must be retryable")
	}
}

func TestLimiterWindowRolls(t *testing.T) {
	l := NewLimiter(cache.NewMemoryCache(), 1)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 30, 0, time.UTC)
	l.now = func() time.Time { return base }

	if err := l.Allow(ctx, "crm"); err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if err := l.Allow(ctx, "crm"); err == nil {
		t.Fatal("Allow() in same window returned nil, want error")
	}

	// Next window, counter starts fresh
	l.now = func() time.Time { return base.Add(time.Minute) }
	if err := l.Allow(ctx, "crm"); err != nil {
		t.Errorf("Allow() in next window error = %v", err)
	}
}

func TestLimiterKeysAreIndependent(t *testing.T) {
	l := NewLimiter(cache.NewMemoryCache(), 1)
	ctx := context.Background()

	if err := l.Allow(ctx, "crm"); err != nil {
		t.Fatalf("Allow(crm) error = %v", err)
	}
	if err := l.Allow(ctx, "webhooks"); err != nil {
		t.Errorf("Allow(webhooks) error = %v, keys must not share counters", err)
	}
}
