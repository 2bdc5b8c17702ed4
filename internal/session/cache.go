// Package session keeps the liveness registry for access tokens. A token
// that is absent from the registry is rejected even when its signature
// and expiry are still valid, which is how access tokens are revoked.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// KeyPrefix namespaces access token entries.
const KeyPrefix = "access_token:"

// Cache is a Redis-backed session registry.
type Cache struct {
	rdb redis.UniversalClient
}

// NewCache wraps an existing Redis client.
func NewCache(rdb redis.UniversalClient) *Cache { return &Cache{rdb: rdb} }

// Key returns the Redis key that marks token as live.
func Key(token string) string { return KeyPrefix + token }

// MarkValid registers token as live for ttl.
func (c *Cache) MarkValid(ctx context.Context, token string, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("session ttl must be positive, got %s", ttl)
	}
	if err := c.rdb.Set(ctx, Key(token), "1", ttl).Err(); err != nil {
		return fmt.Errorf("mark session valid: %w", err)
	}
	return nil
}

// IsValid reports whether token has a live entry. A Redis failure is
// returned as an error, never as false.
func (c *Cache) IsValid(ctx context.Context, token string) (bool, error) {
	err := c.rdb.Get(ctx, Key(token)).Err()
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, redis.Nil):
		return false, nil
	default:
		return false, fmt.Errorf("check session: %w", err)
	}
}

// Revoke deletes the entry for token. Revoking an absent token is not an error.
func (c *Cache) Revoke(ctx context.Context, token string) error {
	if err := c.rdb.Del(ctx, Key(token)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

// Ping checks connectivity to the backing store.
func (c *Cache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}
