// Package redis holds Redis-backed auth components: the revoked token
// denylist and the distributed login rate limiter.
package redis

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"hybridauth/internal/config"
)

// Connect creates a client and pings it. Returns nil, nil when Redis is not
// configured.
func Connect(ctx context.Context, cfg config.RedisConfig) (*goredis.Client, error) {
	if cfg.Addr == "" {
		return nil, nil
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}
