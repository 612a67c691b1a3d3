package cache

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/marketcart/checkout-api/internal/platform/config"
)

const (
	defaultQuoteTTL  = 5 * time.Minute
	defaultKeyPrefix = "checkout:quote:"
	maxJitter        = 30 * time.Second
)

// NewRedisClient builds a client from configuration. It does not dial until first use.
func NewRedisClient(cfg config.CacheConfig) (*redis.Client, error) {
	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("cache: redis address is required")
	}
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}), nil
}

// RedisQuoteCache shares carrier fee quotes between instances. Entries expire after the quote
// TTL plus a small jitter so a burst of identical quotes does not expire at once.
type RedisQuoteCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger func(ctx context.Context, event string, fields map[string]any)
}

// RedisQuoteCacheOption customises the cache.
type RedisQuoteCacheOption func(*RedisQuoteCache)

// WithQuoteTTL overrides the base entry lifetime.
func WithQuoteTTL(ttl time.Duration) RedisQuoteCacheOption {
	return func(c *RedisQuoteCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithKeyPrefix namespaces the cache keys.
func WithKeyPrefix(prefix string) RedisQuoteCacheOption {
	return func(c *RedisQuoteCache) {
		if prefix = strings.TrimSpace(prefix); prefix != "" {
			c.prefix = prefix
		}
	}
}

// WithLogger reports Redis failures, which are otherwise treated as cache misses.
func WithLogger(logger func(ctx context.Context, event string, fields map[string]any)) RedisQuoteCacheOption {
	return func(c *RedisQuoteCache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewRedisQuoteCache wraps client as a quote cache.
func NewRedisQuoteCache(client *redis.Client, opts ...RedisQuoteCacheOption) (*RedisQuoteCache, error) {
	if client == nil {
		return nil, errors.New("cache: redis client is required")
	}
	c := &RedisQuoteCache{
		client: client,
		prefix: defaultKeyPrefix,
		ttl:    defaultQuoteTTL,
		logger: func(context.Context, string, map[string]any) {},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// Get returns the cached fee for key.
func (c *RedisQuoteCache) Get(ctx context.Context, key string) (int64, bool) {
	raw, err := c.client.Get(ctx, c.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false
	}
	if err != nil {
		c.logger(ctx, "cache.quote_get_failed", map[string]any{"key": key, "error": err.Error()})
		return 0, false
	}
	fee, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		c.logger(ctx, "cache.quote_corrupt", map[string]any{"key": key, "value": raw})
		return 0, false
	}
	return fee, true
}

// Put stores fee under key.
func (c *RedisQuoteCache) Put(ctx context.Context, key string, fee int64) {
	ttl := c.ttl + rand.N(maxJitter)
	if err := c.client.Set(ctx, c.prefix+key, strconv.FormatInt(fee, 10), ttl).Err(); err != nil {
		c.logger(ctx, "cache.quote_put_failed", map[string]any{"key": key, "error": err.Error()})
	}
}

// Ping verifies connectivity for readiness probes.
func (c *RedisQuoteCache) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("cache: redis ping: %w", err)
	}
	return nil
}
