package cache

import (
	"context"
	"sync"
	"time"

	"github.com/tigerroll/marlin/pkg/bulk/core/ports"
)

type entry struct {
	value string
	// expiresAt is the zero time for entries without expiry.
	expiresAt time.Time
}

// InMemoryCache implements ports.Cache on a mutex-guarded map with lazy expiry.
type InMemoryCache struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// NewInMemoryCache creates an empty cache.
func NewInMemoryCache() *InMemoryCache {
	return &InMemoryCache{entries: make(map[string]entry)}
}

// Get returns the value of a key; the boolean reports presence.
func (c *InMemoryCache) Get(ctx context.Context, key string) (string, bool, error) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return "", false, nil
	}
	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return "", false, nil
	}
	return e.value, true, nil
}

// Put stores a value under the key with the given TTL. A non-positive TTL
// stores the entry without expiry.
func (c *InMemoryCache) Put(ctx context.Context, key, value string, ttl time.Duration) error {
	e := entry{value: value}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	}
	c.mu.Lock()
	c.entries[key] = e
	c.mu.Unlock()
	return nil
}

// Forget removes a key.
func (c *InMemoryCache) Forget(ctx context.Context, key string) error {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	return nil
}

// TTL returns the remaining lifetime of a key, or zero when absent.
func (c *InMemoryCache) TTL(ctx context.Context, key string) (time.Duration, error) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || e.expiresAt.IsZero() {
		return 0, nil
	}
	remaining := time.Until(e.expiresAt)
	if remaining < 0 {
		return 0, nil
	}
	return remaining, nil
}

// Verify interfaces
var _ ports.Cache = (*InMemoryCache)(nil)
