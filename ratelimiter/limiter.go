// Package ratelimiter provides the rate-limiting algorithms and interfaces used
// by the finance proxy.
//
// The package defines four core abstractions:
//   - Limiter: the rate-limiting algorithm interface (TokenBucketLimiter, FixedWindowLimiter)
//   - Store: backend interface for storing rate-limiting state (MemoryStore, RedisStore)
//   - Result: outcome of a rate limit check, used for HTTP headers and retry guidance
//   - ScopedLimiter: per-scope token buckets, one configuration per upstream host
package ratelimiter

import (
	"context"
	"time"
)

// Result contains the outcome of a rate limit check.
//
// It provides the necessary data to populate standard rate-limiting HTTP headers
// such as `X-RateLimit-Limit`, `X-RateLimit-Remaining`, `X-RateLimit-Reset`
// and `Retry-After`.
type Result struct {
	// Allowed indicates whether the request is permitted.
	Allowed bool
	// Limit is the bucket capacity, or the number of requests allowed per window.
	Limit int64
	// Remaining is the number of whole requests that could still be admitted now.
	Remaining int64
	// ResetAfter is how long the caller should wait before the next request
	// can be admitted. Zero when the request was allowed.
	ResetAfter time.Duration
}

// Limiter defines the interface for rate-limiting algorithms.
//
// Middleware and the proxy interact with Limiter to enforce limits on requests.
type Limiter interface {
	// Allow checks if a request is permitted for a given key.
	//
	// Parameters:
	//   - ctx: context for cancellation and timeouts
	//   - key: unique identifier for the bucket (see BucketID)
	//
	// Returns:
	//   - Result: contains the outcome and headers-related info
	//   - error: any error that occurred in the backing Store
	Allow(ctx context.Context, key string) (Result, error)
}

// Store defines the interface for storing rate-limiting data.
//
// This abstraction allows interchangeable backends such as the in-memory store
// or Redis when several proxy replicas must share one budget.
type Store interface {
	// Increment atomically increments the counter for a given key and returns
	// the new value together with the time left in the current window.
	//
	// If the key does not exist, it is created with a value of 1 and an
	// expiration equal to the window.
	Increment(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)

	// TakeToken atomically refills and consumes tokens for the token bucket.
	//
	// A missing bucket starts full. Refill is continuous:
	// tokens = min(burst, tokens + elapsed*rate). One token is consumed only
	// when at least one whole token is available.
	//
	// Parameters:
	//   - ctx: context for cancellation
	//   - key: unique bucket identifier
	//   - rate: refill rate per second
	//   - burst: maximum tokens in the bucket
	//
	// Returns:
	//   - allowed: true if a token was successfully taken
	//   - remaining: number of tokens left, possibly fractional
	//   - error if the operation fails
	TakeToken(ctx context.Context, key string, rate float64, burst int64) (bool, float64, error)
}

// BucketConfig describes one token bucket: its capacity and how fast it refills.
type BucketConfig struct {
	// Capacity is the maximum number of tokens, which is also the burst size.
	Capacity int64
	// RefillPerMs is the number of tokens added per millisecond.
	RefillPerMs float64
}

// DefaultBucket applies to scopes with no explicit configuration:
// 60 tokens, refilling one token per second.
var DefaultBucket = BucketConfig{Capacity: 60, RefillPerMs: 1.0 / 1000}

// RefillEvery returns a BucketConfig that adds one token every interval.
func RefillEvery(capacity int64, interval time.Duration) BucketConfig {
	return BucketConfig{
		Capacity:    capacity,
		RefillPerMs: 1 / float64(interval.Milliseconds()),
	}
}

// Rate returns the refill rate in tokens per second.
func (c BucketConfig) Rate() float64 {
	return c.RefillPerMs * 1000
}

// Valid reports whether the configuration can admit any request at all.
func (c BucketConfig) Valid() bool {
	return c.Capacity >= 1 && c.RefillPerMs > 0
}
