package pricing

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Cache is a time-bounded symbol to price memo.
type Cache interface {
	Get(symbol string) (decimal.Decimal, bool)
	Set(symbol string, price decimal.Decimal, ttl time.Duration)
}

type cacheEntry struct {
	price     decimal.Decimal
	fetchedAt time.Time
	ttl       time.Duration
}

// MemoryCache keeps prices in process memory. Entries on distinct keys never
// contend; an expired entry reads as absent and is dropped on that read.
type MemoryCache struct {
	entries sync.Map // symbol -> *cacheEntry
	now     func() time.Time
}

var _ Cache = (*MemoryCache)(nil)

// CacheOption configures a MemoryCache.
type CacheOption func(*MemoryCache)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) CacheOption {
	return func(c *MemoryCache) { c.now = now }
}

// NewMemoryCache creates an empty cache.
func NewMemoryCache(opts ...CacheOption) *MemoryCache {
	c := &MemoryCache{now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the price stored for symbol if it was written no more than
// its ttl ago.
func (c *MemoryCache) Get(symbol string) (decimal.Decimal, bool) {
	v, ok := c.entries.Load(symbol)
	if !ok {
		return decimal.Zero, false
	}
	e := v.(*cacheEntry)
	if c.expired(e) {
		c.entries.CompareAndDelete(symbol, e)
		return decimal.Zero, false
	}
	return e.price, true
}

// Set stores price for symbol. A non-positive ttl stores nothing.
func (c *MemoryCache) Set(symbol string, price decimal.Decimal, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.entries.Store(symbol, &cacheEntry{price: price, fetchedAt: c.now(), ttl: ttl})
}

// Purge drops every expired entry and returns how many were removed.
func (c *MemoryCache) Purge() int {
	removed := 0
	c.entries.Range(func(key, v any) bool {
		e := v.(*cacheEntry)
		if c.expired(e) && c.entries.CompareAndDelete(key, e) {
			removed++
		}
		return true
	})
	return removed
}

func (c *MemoryCache) expired(e *cacheEntry) bool {
	return c.now().Sub(e.fetchedAt) > e.ttl
}
