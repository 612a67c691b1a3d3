package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// MemoryQuoteCache keeps carrier fees in process with a fixed TTL.
type MemoryQuoteCache struct {
	ttl time.Duration
	now func() time.Time
	mu  sync.RWMutex
	m   map[string]quoteCacheEntry
}

type quoteCacheEntry struct {
	fee     int64
	expires time.Time
}

// NewMemoryQuoteCache builds an in-process quote cache.
func NewMemoryQuoteCache(ttl time.Duration, now func() time.Time) *MemoryQuoteCache {
	if ttl <= 0 {
		ttl = defaultShippingQuoteTTL
	}
	if now == nil {
		now = time.Now
	}
	return &MemoryQuoteCache{
		ttl: ttl,
		now: now,
		m:   make(map[string]quoteCacheEntry),
	}
}

func (c *MemoryQuoteCache) Get(_ context.Context, key string) (int64, bool) {
	c.mu.RLock()
	entry, ok := c.m[key]
	c.mu.RUnlock()
	if !ok {
		return 0, false
	}
	if c.now().After(entry.expires) {
		c.mu.Lock()
		delete(c.m, key)
		c.mu.Unlock()
		return 0, false
	}
	return entry.fee, true
}

func (c *MemoryQuoteCache) Put(_ context.Context, key string, fee int64) {
	c.mu.Lock()
	c.m[key] = quoteCacheEntry{fee: fee, expires: c.now().Add(c.ttl)}
	c.mu.Unlock()
}

// shippingCacheKey identifies a carrier query by route, weight and service.
func shippingCacheKey(from, to Origin, weightGrams int64, serviceTypeID int) string {
	return strings.Join([]string{
		fmt.Sprintf("%d", from.DistrictCode),
		strings.ToUpper(strings.TrimSpace(from.WardCode)),
		fmt.Sprintf("%d", to.DistrictCode),
		strings.ToUpper(strings.TrimSpace(to.WardCode)),
		fmt.Sprintf("%d", weightGrams),
		fmt.Sprintf("%d", serviceTypeID),
	}, "|")
}
