package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jassus213/go-finance-proxy/ratelimiter"
)

const incrementLua = `
	local current = redis.call("INCR", KEYS[1])
	local ttl = redis.call("PTTL", KEYS[1])
	if tonumber(ttl) < 0 then
		redis.call("PEXPIRE", KEYS[1], ARGV[1])
		ttl = tonumber(ARGV[1])
	end
	return {current, ttl}
`

const takeTokenLua = `
	local key = KEYS[1]
	local rate = tonumber(ARGV[1])
	local burst = tonumber(ARGV[2])
	local now = tonumber(ARGV[3])
	local cost = 1

	local entry = redis.call("HMGET", key, "tokens", "last_updated")
	local tokens = tonumber(entry[1])
	local last_updated = tonumber(entry[2])

	if tokens == nil or last_updated == nil then
		tokens = burst
		last_updated = now
	end

	local elapsed = now - last_updated
	if elapsed > 0 then
		tokens = tokens + elapsed * rate
	else
		now = last_updated
	end

	if tokens > burst then
		tokens = burst
	end

	local allowed = 0
	if tokens >= cost then
		tokens = tokens - cost
		allowed = 1
	end

	redis.call("HSET", key, "tokens", tostring(tokens), "last_updated", tostring(now))
	local ttl = math.ceil((burst / rate) * 2)
	if ttl < 10 then
		ttl = 10
	end
	redis.call("EXPIRE", key, ttl)

	return {allowed, tostring(tokens)}
`

// RedisStore implements the ratelimiter.Store interface using Redis as the backend.
// It lets several proxy replicas share one rate-limit budget per caller and
// host. It uses Lua scripts to ensure atomicity.
type RedisStore struct {
	client          redis.UniversalClient
	now             func() time.Time
	incrementScript *redis.Script
	takeTokenScript *redis.Script
}

var _ ratelimiter.Store = (*RedisStore)(nil)

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithRedisClock overrides the clock used to timestamp token bucket refills.
func WithRedisClock(now func() time.Time) RedisOption {
	return func(s *RedisStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewRedis creates a new instance of RedisStore.
// It pre-compiles Lua scripts for both algorithms.
func NewRedis(client redis.UniversalClient, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client:          client,
		now:             time.Now,
		incrementScript: redis.NewScript(incrementLua),
		takeTokenScript: redis.NewScript(takeTokenLua),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Increment executes the pre-compiled Lua script for the Fixed Window algorithm.
func (s *RedisStore) Increment(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	res, err := s.incrementScript.Run(ctx, s.client, []string{key}, window.Milliseconds()).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("redis increment %q: %w", key, err)
	}

	arr, ok := res.([]interface{})
	if !ok || len(arr) < 2 {
		return 0, 0, fmt.Errorf("redis increment %q: unexpected reply %v", key, res)
	}
	count, _ := arr[0].(int64)
	ttl, _ := arr[1].(int64)
	return count, time.Duration(ttl) * time.Millisecond, nil
}

// TakeToken executes the token bucket Lua script and parses its multi-value response.
// It returns true if the request is allowed, the number of remaining tokens, and an error.
func (s *RedisStore) TakeToken(ctx context.Context, key string, rate float64, burst int64) (bool, float64, error) {
	now := float64(s.now().UnixNano()) / 1e9

	res, err := s.takeTokenScript.Run(ctx, s.client, []string{key}, rate, burst, now).Result()
	if err != nil {
		return false, 0, fmt.Errorf("redis take token %q: %w", key, err)
	}

	arr, ok := res.([]interface{})
	if !ok || len(arr) < 2 {
		return false, 0, fmt.Errorf("redis take token %q: unexpected reply %v", key, res)
	}

	allowed, _ := arr[0].(int64)

	remainingTokensStr, _ := arr[1].(string)
	remainingTokens, err := strconv.ParseFloat(remainingTokensStr, 64)
	if err != nil {
		return false, 0, fmt.Errorf("redis take token %q: parse remaining: %w", key, err)
	}

	return allowed == 1, remainingTokens, nil
}

// Close closes the underlying Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
