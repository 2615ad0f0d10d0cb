// Package cache provides the shared ephemeral store used for rate-limit
// counters and per-module sync locks. Entries carry a TTL so a crashed
// worker's lock expires instead of deadlocking the module.
package cache

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("cache: key not found")

type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error

	// Incr atomically increments the counter at key, creating it with the
	// given TTL on first use, and returns the new value.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// AcquireLock takes the named lock for owner if it is free or expired.
	AcquireLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)

	// ReleaseLock frees the lock only if owner still holds it.
	ReleaseLock(ctx context.Context, key, owner string) error
}
