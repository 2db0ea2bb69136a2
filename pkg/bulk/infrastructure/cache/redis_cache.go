// Package cache provides the best-effort TTL cache implementations backing
// progress checkpoints, cancellation flags and gate cooldowns.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tigerroll/marlin/pkg/bulk/core/ports"
)

// RedisCache implements ports.Cache on Redis.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new RedisCache.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Get returns the value of a key; the boolean reports presence.
func (c *RedisCache) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("cache get '%s' failed: %w", key, err)
	}
	return value, true, nil
}

// Put stores a value under the key with the given TTL.
func (c *RedisCache) Put(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("cache put '%s' failed: %w", key, err)
	}
	return nil
}

// Forget removes a key.
func (c *RedisCache) Forget(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("cache forget '%s' failed: %w", key, err)
	}
	return nil
}

// TTL returns the remaining lifetime of a key, or zero when absent.
func (c *RedisCache) TTL(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := c.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("cache ttl '%s' failed: %w", key, err)
	}
	if ttl < 0 {
		// -1 (no expiry) and -2 (missing key) both read as zero.
		return 0, nil
	}
	return ttl, nil
}

// Verify interfaces
var _ ports.Cache = (*RedisCache)(nil)
