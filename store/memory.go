// Package store provides storage backends for the proxy's rate limiters.
//
// Currently supported backends:
//   - MemoryStore: in-memory store for a single proxy process
//   - RedisStore: Redis-based store for several replicas sharing one budget
//
// Stores implement the ratelimiter.Store interface, providing atomic operations
// for the fixed window and token bucket algorithms.
//
// Example usage:
//
//	ctx := context.Background()
//	store := store.NewMemory(ctx, store.MemoryOptions{})
//	defer store.Close()
//	limiter := ratelimiter.NewTokenBucket(store, 1.0, 60)
package store

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/jassus213/go-finance-proxy/expiring"
	"github.com/jassus213/go-finance-proxy/ratelimiter"
)

const (
	// DefaultMaxBuckets bounds the number of token buckets kept in memory.
	DefaultMaxBuckets = 1000
	// DefaultIdleTimeout is how long a bucket may go unused before cleanup
	// removes it. Cleanup runs on the same interval.
	DefaultIdleTimeout = 5 * time.Minute
)

// MemoryOptions configures a MemoryStore. Zero values select the defaults.
type MemoryOptions struct {
	// MaxBuckets bounds the token bucket table. When it is full, idle buckets
	// are removed first and then the least recently used bucket is evicted.
	MaxBuckets int
	// IdleTimeout is how long an unused bucket survives.
	IdleTimeout time.Duration
	// CleanupInterval is how often idle buckets and expired windows are
	// removed. Defaults to IdleTimeout; negative disables the background pass.
	CleanupInterval time.Duration
	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

func (o MemoryOptions) withDefaults() MemoryOptions {
	if o.MaxBuckets <= 0 {
		o.MaxBuckets = DefaultMaxBuckets
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = DefaultIdleTimeout
	}
	if o.CleanupInterval == 0 {
		o.CleanupInterval = o.IdleTimeout
	}
	if o.CleanupInterval < 0 {
		o.CleanupInterval = 0
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// fixedWindowEntry stores the counter and expiration time for a fixed window key.
type fixedWindowEntry struct {
	count     int64
	expiresAt time.Time
}

// MemoryStore is an in-memory implementation of ratelimiter.Store.
//
// Token buckets are golang.org/x/time/rate limiters: they start full, refill
// continuously and leave the bucket untouched when a request is denied.
//
// Note: MemoryStore is suitable for single-instance deployments.
type MemoryStore struct {
	now         func() time.Time
	idleTimeout time.Duration

	buckets *expiring.Map[string, *rate.Limiter]
	windows *expiring.Map[string, fixedWindowEntry]
}

var _ ratelimiter.Store = (*MemoryStore)(nil)

// NewMemory creates a new MemoryStore.
//
// ctx bounds the lifetime of the background cleanup goroutines; Close stops
// them as well.
func NewMemory(ctx context.Context, opts MemoryOptions) *MemoryStore {
	opts = opts.withDefaults()

	return &MemoryStore{
		now:         opts.Now,
		idleTimeout: opts.IdleTimeout,
		buckets: expiring.New(ctx, expiring.Options[string, *rate.Limiter]{
			MaxSize:       opts.MaxBuckets,
			SweepInterval: opts.CleanupInterval,
			Now:           opts.Now,
		}),
		windows: expiring.New(ctx, expiring.Options[string, fixedWindowEntry]{
			SweepInterval: opts.CleanupInterval,
			Now:           opts.Now,
		}),
	}
}

// Increment atomically increases the counter for a given key in the fixed window.
//
// Returns the new counter value and the time left until the window resets.
func (s *MemoryStore) Increment(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	now := s.now()

	e := s.windows.Upsert(key, func(e fixedWindowEntry, found bool) (fixedWindowEntry, time.Duration) {
		if !found {
			e = fixedWindowEntry{expiresAt: now.Add(window)}
		}
		e.count++
		return e, e.expiresAt.Sub(now)
	})
	return e.count, e.expiresAt.Sub(now), nil
}

// TakeToken atomically refills the bucket for key and consumes one token if a
// whole token is available.
//
// Returns:
//   - allowed: true if a token was successfully taken
//   - remaining: tokens left in the bucket, possibly fractional
//   - error: always nil for MemoryStore
func (s *MemoryStore) TakeToken(ctx context.Context, key string, r float64, burst int64) (bool, float64, error) {
	now := s.now()
	limit := rate.Limit(r)

	var (
		allowed   bool
		remaining float64
	)
	s.buckets.Upsert(key, func(l *rate.Limiter, found bool) (*rate.Limiter, time.Duration) {
		if !found {
			l = rate.NewLimiter(limit, int(burst))
		} else {
			if l.Limit() != limit {
				l.SetLimitAt(now, limit)
			}
			if l.Burst() != int(burst) {
				l.SetBurstAt(now, int(burst))
			}
		}
		allowed = l.AllowN(now, 1)
		remaining = l.TokensAt(now)
		return l, s.idleTimeout
	})

	// rate.Limiter admits when the missing fraction of a token refills in
	// under 1ns, which can leave its count a hair below zero.
	if remaining < 0 {
		remaining = 0
	}
	return allowed, remaining, nil
}

// Len returns the number of resident token buckets.
func (s *MemoryStore) Len() int {
	return s.buckets.Len()
}

// Close stops background cleanup and drops all state.
func (s *MemoryStore) Close() error {
	s.buckets.Close()
	s.windows.Close()
	return nil
}
