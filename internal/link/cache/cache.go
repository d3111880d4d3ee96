// Package cache is the read-side cache for link resolution. Resolution is by
// far the hottest path (every tracked click hits it), so links are cached by
// short code with a TTL. Expiry and status are still re-evaluated on every
// hit; the cache only saves the store round trip, never a correctness check.
package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"refledger/internal/link/models"
)

const keyPrefix = "link:code:"

// Cache is the link resolution cache. Implementations are best-effort: a
// cache failure degrades to a store read, never to a request failure.
type Cache interface {
	Get(ctx context.Context, shortCode string) (*models.Link, bool)
	Set(ctx context.Context, link *models.Link)
	Invalidate(ctx context.Context, shortCode string)
}

// RedisCache caches links in Redis as JSON.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedis constructs a Redis-backed link cache.
func NewRedis(client *redis.Client, ttl time.Duration, logger *slog.Logger) *RedisCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisCache{client: client, ttl: ttl, logger: logger}
}

func (c *RedisCache) Get(ctx context.Context, shortCode string) (*models.Link, bool) {
	raw, err := c.client.Get(ctx, keyPrefix+shortCode).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.WarnContext(ctx, "link cache read failed", "short_code", shortCode, "error", err)
		}
		return nil, false
	}
	var link models.Link
	if err := json.Unmarshal(raw, &link); err != nil {
		c.logger.WarnContext(ctx, "link cache entry corrupt", "short_code", shortCode, "error", err)
		return nil, false
	}
	return &link, true
}

func (c *RedisCache) Set(ctx context.Context, link *models.Link) {
	raw, err := json.Marshal(link)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, keyPrefix+link.ShortCode, raw, c.ttl).Err(); err != nil {
		c.logger.WarnContext(ctx, "link cache write failed", "short_code", link.ShortCode, "error", err)
	}
}

func (c *RedisCache) Invalidate(ctx context.Context, shortCode string) {
	if err := c.client.Del(ctx, keyPrefix+shortCode).Err(); err != nil {
		c.logger.WarnContext(ctx, "link cache invalidate failed", "short_code", shortCode, "error", err)
	}
}

// Noop disables caching; every resolution reads the store.
type Noop struct{}

func (Noop) Get(context.Context, string) (*models.Link, bool) { return nil, false }
func (Noop) Set(context.Context, *models.Link)                {}
func (Noop) Invalidate(context.Context, string)               {}
