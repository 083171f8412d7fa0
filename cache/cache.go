// Package cache implements the proxy's process-local response cache.
//
// Entries expire after a TTL and are evicted oldest-first when the cache is
// full. The cache records hit and miss counts so operators can see how much
// upstream traffic it saves.
package cache

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/jassus213/go-finance-proxy/expiring"
)

const (
	DefaultTTL             = 10 * time.Second
	DefaultMaxSize         = 1000
	DefaultCleanupInterval = 30 * time.Second
)

// Options configures a Cache. Zero values select the defaults.
type Options struct {
	TTL     time.Duration
	MaxSize int
	// CleanupInterval is how often expired entries are swept. Negative
	// disables the background sweep.
	CleanupInterval time.Duration
	Now             func() time.Time
}

func (o Options) withDefaults() Options {
	if o.TTL <= 0 {
		o.TTL = DefaultTTL
	}
	if o.MaxSize <= 0 {
		o.MaxSize = DefaultMaxSize
	}
	if o.CleanupInterval == 0 {
		o.CleanupInterval = DefaultCleanupInterval
	}
	if o.CleanupInterval < 0 {
		o.CleanupInterval = 0
	}
	return o
}

// Stats is a snapshot of cache activity since creation or the last Clear.
type Stats struct {
	Size      int     `json:"size"`
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Total     int64   `json:"totalRequests"`
	HitRate   float64 `json:"hitRate"`
	Evictions int64   `json:"evictions"`
}

// Cache maps a key to a value with a TTL.
type Cache[T any] struct {
	ttl     time.Duration
	entries *expiring.Map[string, T]

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

// New creates a Cache and starts its background sweep. The sweep stops when
// ctx is canceled or Close is called.
func New[T any](ctx context.Context, opts Options) *Cache[T] {
	opts = opts.withDefaults()

	c := &Cache[T]{ttl: opts.TTL}
	c.entries = expiring.New(ctx, expiring.Options[string, T]{
		MaxSize:       opts.MaxSize,
		SweepInterval: opts.CleanupInterval,
		Now:           opts.Now,
		OnEvict: func(_ string, _ T, reason expiring.Reason) {
			if reason == expiring.Capacity {
				c.evictions.Add(1)
			}
		},
	})
	return c
}

// Get returns the live value for key and records a hit or a miss.
func (c *Cache[T]) Get(key string) (T, bool) {
	v, ok := c.entries.Get(key)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return v, ok
}

// Set stores value under key. A ttl <= 0 uses the cache's default TTL.
func (c *Cache[T]) Set(key string, value T, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttl
	}
	c.entries.Set(key, value, ttl)
}

// Has reports whether key holds a live value. It does not affect the stats.
func (c *Cache[T]) Has(key string) bool {
	return c.entries.Has(key)
}

// Delete removes key and reports whether it held a live value.
func (c *Cache[T]) Delete(key string) bool {
	return c.entries.Delete(key)
}

// Clear drops every entry and resets the stats.
func (c *Cache[T]) Clear() {
	c.entries.Clear()
	c.hits.Store(0)
	c.misses.Store(0)
	c.evictions.Store(0)
}

// Stats returns a snapshot of the cache counters.
func (c *Cache[T]) Stats() Stats {
	hits, misses := c.hits.Load(), c.misses.Load()
	total := hits + misses

	var rate float64
	if total > 0 {
		rate = float64(hits) / float64(total)
	}
	return Stats{
		Size:      c.entries.Len(),
		Hits:      hits,
		Misses:    misses,
		Total:     total,
		HitRate:   rate,
		Evictions: c.evictions.Load(),
	}
}

// Close stops the background sweep and drops every entry.
func (c *Cache[T]) Close() {
	c.entries.Close()
}
