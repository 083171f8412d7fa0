package ratelimiter

import (
	"context"
)

// ScopedLimiter keeps one token bucket configuration per scope, all backed by
// the same Store. The proxy uses the upstream hostname as the scope and the
// caller IP as the key, so every caller gets its own bucket per host.
type ScopedLimiter struct {
	limiters map[string]*TokenBucketLimiter
	fallback *TokenBucketLimiter
}

// NewScoped creates a ScopedLimiter. Scopes missing from the map use fallback.
func NewScoped(store Store, scopes map[string]BucketConfig, fallback BucketConfig) *ScopedLimiter {
	limiters := make(map[string]*TokenBucketLimiter, len(scopes))
	for scope, cfg := range scopes {
		limiters[scope] = NewTokenBucketFromConfig(store, cfg)
	}
	return &ScopedLimiter{
		limiters: limiters,
		fallback: NewTokenBucketFromConfig(store, fallback),
	}
}

// CheckLimit takes one token from the bucket identified by (scope, key).
// An exhausted bucket is reported through Result.Allowed, not as an error;
// errors come only from the backing Store.
func (s *ScopedLimiter) CheckLimit(ctx context.Context, key, scope string) (Result, error) {
	if key == "" {
		key = UnknownKey
	}
	limiter, ok := s.limiters[scope]
	if !ok {
		limiter = s.fallback
	}
	return limiter.Allow(ctx, BucketID(scope, key))
}
