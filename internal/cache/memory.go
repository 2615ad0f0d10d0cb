package cache

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	value     string
	counter   int64
	owner     string
	expiresAt time.Time
}

// MemoryCache is a process-local Cache used in tests and single-node
// deployments where no shared store is configured.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	now     func() time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]*memoryEntry),
		now:     time.Now,
	}
}

func (c *MemoryCache) live(key string) *memoryEntry {
	entry, ok := c.entries[key]
	if !ok {
		return nil
	}
	if c.now().After(entry.expiresAt) {
		delete(c.entries, key)
		return nil
	}
	return entry
}

func (c *MemoryCache) Get(ctx context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := c.live(key)
	if entry == nil {
		return "", ErrNotFound
	}
	return entry.value, nil
}

func (c *MemoryCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = &memoryEntry{value: value, expiresAt: c.now().Add(ttl)}
	return nil
}

func (c *MemoryCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, key)
	return nil
}

func (c *MemoryCache) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := c.live(key)
	if entry == nil {
		entry = &memoryEntry{expiresAt: c.now().Add(ttl)}
		c.entries[key] = entry
	}
	entry.counter++
	return entry.counter, nil
}

func (c *MemoryCache) AcquireLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := c.live(key)
	if entry != nil && entry.owner != "" && entry.owner != owner {
		return false, nil
	}
	c.entries[key] = &memoryEntry{owner: owner, expiresAt: c.now().Add(ttl)}
	return true, nil
}

func (c *MemoryCache) ReleaseLock(ctx context.Context, key, owner string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry := c.live(key); entry != nil && entry.owner == owner {
		delete(c.entries, key)
	}
	return nil
}
