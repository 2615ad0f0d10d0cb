// Package ratelimit bounds call rate with fixed one-minute windows whose
// counters live in the shared cache, so the limit holds across instances.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"go-crmsync/internal/apperrors"
	"go-crmsync/internal/cache"
)

const window = time.Minute

type Limiter struct {
	cache cache.Cache
	limit int64
	now   func() time.Time
}

func NewLimiter(c cache.Cache, perMinute int) *Limiter {
	return &Limiter{
		cache: c,
		limit: int64(perMinute),
		now:   time.Now,
	}
}

// Allow consumes one call slot for key. When the window is exhausted it
// returns a RateLimitExceeded error carrying the retry-after hint.
func (l *Limiter) Allow(ctx context.Context, key string) error {
	if l.limit <= 0 {
		return nil
	}

	now := l.now()
	windowStart := now.Truncate(window)
	counterKey := fmt.Sprintf("rl:%s:%d", key, windowStart.Unix())

	count, err := l.cache.Incr(ctx, counterKey, window)
	if err != nil {
		return err
	}

	if count > l.limit {
		retryAfter := windowStart.Add(window).Sub(now)
		appErr := apperrors.Newf(apperrors.CodeRateLimit, "rate limit of %d/min exceeded for %s", l.limit, key)
		appErr.RetryAfter = retryAfter
		return appErr
	}
	return nil
}
