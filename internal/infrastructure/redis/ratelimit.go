package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"hybridauth/internal/domain/auth"
)

const rateLimitPrefix = "hybridauth:rl:"

// fixedWindow counts attempts and starts the window on the first one.
var fixedWindow = goredis.NewScript(`
	local n = redis.call('INCR', KEYS[1])
	if n == 1 then
		redis.call('PEXPIRE', KEYS[1], ARGV[1])
	end
	local ttl = redis.call('PTTL', KEYS[1])
	return { n, ttl }
`)

// RateLimiter is a fixed window limiter shared by all server instances.
type RateLimiter struct {
	rdb    goredis.UniversalClient
	limit  int
	window time.Duration
}

// NewRateLimiter allows limit attempts per key and window.
func NewRateLimiter(rdb goredis.UniversalClient, limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{rdb: rdb, limit: limit, window: window}
}

func (l *RateLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	vals, err := fixedWindow.Run(ctx, l.rdb, []string{rateLimitPrefix + key}, l.window.Milliseconds()).Int64Slice()
	if err != nil {
		return false, 0, fmt.Errorf("rate limit: %w", err)
	}
	if len(vals) != 2 {
		return false, 0, fmt.Errorf("rate limit: unexpected script result %v", vals)
	}
	if int(vals[0]) <= l.limit {
		return true, 0, nil
	}
	retry := time.Duration(vals[1]) * time.Millisecond
	if retry < 0 {
		retry = l.window
	}
	return false, retry, nil
}

func (l *RateLimiter) Reset(ctx context.Context, key string) error {
	if err := l.rdb.Del(ctx, rateLimitPrefix+key).Err(); err != nil {
		return fmt.Errorf("reset rate limit: %w", err)
	}
	return nil
}

// LocalRateLimiter is the in-process fallback used when Redis is not
// configured. Each key gets a token bucket refilled over window.
type LocalRateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   int
	window  time.Duration
	now     func() time.Time
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// NewLocalRateLimiter allows limit attempts per key and window.
func NewLocalRateLimiter(limit int, window time.Duration) *LocalRateLimiter {
	return &LocalRateLimiter{
		buckets: make(map[string]*bucket),
		limit:   limit,
		window:  window,
		now:     time.Now,
	}
}

func (l *LocalRateLimiter) Allow(_ context.Context, key string) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.evict(now)
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(rate.Every(l.window/time.Duration(l.limit)), l.limit)}
		l.buckets[key] = b
	}
	b.seen = now
	if b.lim.AllowN(now, 1) {
		return true, 0, nil
	}
	r := b.lim.ReserveN(now, 1)
	retry := r.DelayFrom(now)
	r.CancelAt(now)
	return false, retry, nil
}

func (l *LocalRateLimiter) Reset(_ context.Context, key string) error {
	l.mu.Lock()
	delete(l.buckets, key)
	l.mu.Unlock()
	return nil
}

// evict drops buckets idle for two windows. Caller holds mu.
func (l *LocalRateLimiter) evict(now time.Time) {
	for k, b := range l.buckets {
		if now.Sub(b.seen) > 2*l.window {
			delete(l.buckets, k)
		}
	}
}

var (
	_ auth.RateLimiter = (*RateLimiter)(nil)
	_ auth.RateLimiter = (*LocalRateLimiter)(nil)
)
