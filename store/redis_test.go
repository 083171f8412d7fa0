package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T, clock *fakeClock) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	s := NewRedis(client, WithRedisClock(clock.Now))
	t.Cleanup(func() { _ = s.Close() })
	return s, server
}

func TestRedisStore_TakeToken(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	s, _ := newTestRedis(t, clock)

	for i := 0; i < 3; i++ {
		allowed, remaining, err := s.TakeToken(ctx, "api.polygon.io:10.0.0.1", 1, 3)
		require.NoError(t, err)
		assert.True(t, allowed, "request %d", i+1)
		assert.InDelta(t, float64(2-i), remaining, 1e-9)
	}

	allowed, remaining, err := s.TakeToken(ctx, "api.polygon.io:10.0.0.1", 1, 3)
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.InDelta(t, 0, remaining, 1e-9)

	clock.Advance(time.Second)
	allowed, _, err = s.TakeToken(ctx, "api.polygon.io:10.0.0.1", 1, 3)
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestRedisStore_TakeTokenSetsExpiry(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	s, server := newTestRedis(t, clock)

	_, _, err := s.TakeToken(ctx, "bucket", 0.5, 5)
	require.NoError(t, err)

	assert.True(t, server.Exists("bucket"))
	assert.Equal(t, 20*time.Second, server.TTL("bucket"))
}

func TestRedisStore_Increment(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	s, server := newTestRedis(t, clock)

	count, ttl, err := s.Increment(ctx, "global:10.0.0.1", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	assert.Equal(t, time.Minute, ttl)

	server.FastForward(20 * time.Second)
	count, ttl, err = s.Increment(ctx, "global:10.0.0.1", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
	assert.Equal(t, 40*time.Second, ttl)

	server.FastForward(41 * time.Second)
	count, _, err = s.Increment(ctx, "global:10.0.0.1", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestRedisStore_Unavailable(t *testing.T) {
	clock := newFakeClock()
	s, server := newTestRedis(t, clock)
	server.Close()

	_, _, err := s.TakeToken(context.Background(), "k", 1, 1)
	assert.Error(t, err)
}
