package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultCreditTTL bounds how stale a cached balance can get if an
// invalidation is ever missed.
const DefaultCreditTTL = 30 * time.Second

// CreditCache caches the displayed credit balance per user.
//
// The database is the only source of truth. The cache is filled on read,
// dropped after anything that changes the balance, and never adjusted in
// place.
type CreditCache interface {
	// Get returns (credits, true, nil) on a hit and (0, false, nil) on a miss.
	Get(ctx context.Context, userID string) (int, bool, error)
	Set(ctx context.Context, userID string, credits int) error
	Invalidate(ctx context.Context, userID string) error
}

// RedisCreditCache stores balances under "credits:<user id>" with a TTL.
type RedisCreditCache struct {
	client *redis.Client
	ttl    time.Duration
}

var _ CreditCache = (*RedisCreditCache)(nil)

// NewRedisCreditCache creates a cache; ttl <= 0 uses DefaultCreditTTL.
func NewRedisCreditCache(client *redis.Client, ttl time.Duration) *RedisCreditCache {
	if ttl <= 0 {
		ttl = DefaultCreditTTL
	}
	return &RedisCreditCache{client: client, ttl: ttl}
}

func creditKey(userID string) string {
	return "credits:" + userID
}

func (c *RedisCreditCache) Get(ctx context.Context, userID string) (int, bool, error) {
	n, err := c.client.Get(ctx, creditKey(userID)).Int()
	if err != nil {
		// redis.Nil is go-redis's "key does not exist", a plain miss.
		if errors.Is(err, redis.Nil) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("cache: reading credits for %s: %w", userID, err)
	}
	return n, true, nil
}

func (c *RedisCreditCache) Set(ctx context.Context, userID string, credits int) error {
	if err := c.client.Set(ctx, creditKey(userID), credits, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache: writing credits for %s: %w", userID, err)
	}
	return nil
}

func (c *RedisCreditCache) Invalidate(ctx context.Context, userID string) error {
	if err := c.client.Del(ctx, creditKey(userID)).Err(); err != nil {
		return fmt.Errorf("cache: invalidating credits for %s: %w", userID, err)
	}
	return nil
}

// NopCreditCache always misses. Used when Redis is not configured.
type NopCreditCache struct{}

var _ CreditCache = NopCreditCache{}

func (NopCreditCache) Get(context.Context, string) (int, bool, error) { return 0, false, nil }
func (NopCreditCache) Set(context.Context, string, int) error { return nil }
func (NopCreditCache) Invalidate(context.Context, string) error { return nil }
