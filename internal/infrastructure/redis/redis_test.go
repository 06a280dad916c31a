package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hybridauth/internal/config"
)

func setupRedis(t *testing.T) (*goredis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb, mr
}

func TestConnectDisabled(t *testing.T) {
	rdb, err := Connect(context.Background(), config.RedisConfig{})
	require.NoError(t, err)
	assert.Nil(t, rdb)
}

func TestDenylist(t *testing.T) {
	rdb, mr := setupRedis(t)
	d := NewDenylist(rdb)
	ctx := context.Background()

	revoked, err := d.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.False(t, revoked)

	require.NoError(t, d.Revoke(ctx, "jti-1", time.Now().Add(10*time.Minute)))
	revoked, err = d.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.True(t, revoked)

	mr.FastForward(11 * time.Minute)
	revoked, err = d.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.False(t, revoked)
}

func TestDenylistSkipsExpiredTokens(t *testing.T) {
	rdb, mr := setupRedis(t)
	d := NewDenylist(rdb)

	require.NoError(t, d.Revoke(context.Background(), "old", time.Now().Add(-time.Second)))
	assert.Empty(t, mr.Keys())
}

func TestRateLimiterFixedWindow(t *testing.T) {
	rdb, mr := setupRedis(t)
	l := NewRateLimiter(rdb, 3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, _, err := l.Allow(ctx, "login:ada@example.com:10.0.0.1")
		require.NoError(t, err)
		assert.True(t, ok, "attempt %d", i+1)
	}
	ok, retry, err := l.Allow(ctx, "login:ada@example.com:10.0.0.1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Greater(t, retry, time.Duration(0))
	assert.LessOrEqual(t, retry, time.Minute)

	// Other keys are independent.
	ok, _, err = l.Allow(ctx, "login:bob@example.com:10.0.0.1")
	require.NoError(t, err)
	assert.True(t, ok)

	mr.FastForward(time.Minute + time.Second)
	ok, _, err = l.Allow(ctx, "login:ada@example.com:10.0.0.1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRateLimiterReset(t *testing.T) {
	rdb, _ := setupRedis(t)
	l := NewRateLimiter(rdb, 1, time.Minute)
	ctx := context.Background()

	ok, _, _ := l.Allow(ctx, "k")
	assert.True(t, ok)
	ok, _, _ = l.Allow(ctx, "k")
	assert.False(t, ok)

	require.NoError(t, l.Reset(ctx, "k"))
	ok, _, err := l.Allow(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLocalRateLimiter(t *testing.T) {
	l := NewLocalRateLimiter(2, time.Minute)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, _, err := l.Allow(ctx, "k")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, retry, err := l.Allow(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.InDelta(t, float64(30*time.Second), float64(retry), float64(time.Millisecond))

	now = now.Add(30 * time.Second)
	ok, _, _ = l.Allow(ctx, "k")
	assert.True(t, ok)

	require.NoError(t, l.Reset(ctx, "k"))
	ok, _, _ = l.Allow(ctx, "k")
	assert.True(t, ok)

	now = now.Add(3 * time.Minute)
	_, _, _ = l.Allow(ctx, "other")
	assert.Len(t, l.buckets, 1)
}
