package ratelimiter

import (
	"context"
	"time"
)

// FixedWindowLimiter implements the "Fixed Window" rate-limiting algorithm.
//
// The Fixed Window algorithm limits the number of requests (Limit) within a
// window that starts with the first request for a key. It is simple and
// memory-efficient but may allow bursts of traffic at the edges of windows.
// The proxy uses it for the optional per-client ceiling across all hosts.
type FixedWindowLimiter struct {
	store  Store
	limit  int64
	window time.Duration
}

// NewFixedWindow creates a new FixedWindowLimiter instance.
//
// Parameters:
//   - store: a ratelimiter.Store implementation to persist request counts
//   - limit: maximum number of requests allowed per window
//   - window: duration of each fixed window
func NewFixedWindow(store Store, limit int64, window time.Duration) *FixedWindowLimiter {
	return &FixedWindowLimiter{
		store:  store,
		limit:  limit,
		window: window,
	}
}

// Allow checks whether a request with the given key is allowed under the fixed window.
//
// It returns a Result struct containing details that can be used for HTTP headers:
//
//   - Allowed: true if the request is within the limit
//   - Limit: maximum number of requests in the window
//   - Remaining: requests left in the current window
//   - ResetAfter: duration until the window resets, set only on denial
func (l *FixedWindowLimiter) Allow(ctx context.Context, key string) (Result, error) {
	currentCount, ttl, err := l.store.Increment(ctx, key, l.window)
	if err != nil {
		return Result{Allowed: false}, err
	}

	allowed := currentCount <= l.limit
	remaining := l.limit - currentCount
	if remaining < 0 {
		remaining = 0
	}

	result := Result{
		Allowed:   allowed,
		Limit:     l.limit,
		Remaining: remaining,
	}
	if !allowed {
		result.ResetAfter = ttl
	}
	return result, nil
}
