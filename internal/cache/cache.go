package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// DefaultTTL bounds staleness for cached read snapshots.
const DefaultTTL = 30 * time.Second

// keyPrefix namespaces ledger keys in a shared redis.
const keyPrefix = "creditledger:"

// Cache is a redis-backed snapshot cache for read paths. A nil Cache (or a
// Cache with a nil client) is valid and disables caching; the ledger stays
// correct without it, reads just hit the database.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// New constructs a Cache. ttl <= 0 falls back to DefaultTTL.
func New(client *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{client: client, ttl: ttl}
}

// BreakdownKey returns the cache key for a user's balance breakdown.
func BreakdownKey(userID uint64) string {
	return fmt.Sprintf("%sbreakdown:%d", keyPrefix, userID)
}

// Get returns the cached payload for key, if present.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}
	payload, errGet := c.client.Get(ctx, key).Bytes()
	if errGet != nil {
		if !errors.Is(errGet, redis.Nil) {
			log.WithError(errGet).WithField("key", key).Debug("cache: get failed")
		}
		return nil, false
	}
	return payload, true
}

// Set stores a payload under key with the cache TTL. Failures are logged and
// swallowed; the cache is best effort.
func (c *Cache) Set(ctx context.Context, key string, payload []byte) {
	if c == nil || c.client == nil {
		return
	}
	if errSet := c.client.Set(ctx, key, payload, c.ttl).Err(); errSet != nil {
		log.WithError(errSet).WithField("key", key).Debug("cache: set failed")
	}
}

// Invalidate drops cached entries. Called after every ledger write so reads
// never serve a pre-write snapshot beyond the TTL.
func (c *Cache) Invalidate(ctx context.Context, keys ...string) {
	if c == nil || c.client == nil || len(keys) == 0 {
		return
	}
	if errDel := c.client.Del(ctx, keys...).Err(); errDel != nil {
		log.WithError(errDel).WithField("keys", keys).Debug("cache: invalidate failed")
	}
}
