package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"hybridauth/internal/domain/auth"
)

const denylistPrefix = "hybridauth:jti:"

// Denylist stores revoked access token ids with a TTL equal to the token's
// remaining lifetime.
type Denylist struct {
	rdb goredis.UniversalClient
	now func() time.Time
}

// NewDenylist creates a denylist on rdb.
func NewDenylist(rdb goredis.UniversalClient) *Denylist {
	return &Denylist{rdb: rdb, now: time.Now}
}

func (d *Denylist) Revoke(ctx context.Context, jti string, until time.Time) error {
	ttl := until.Sub(d.now())
	if ttl <= 0 {
		return nil
	}
	if err := d.rdb.Set(ctx, denylistPrefix+jti, 1, ttl).Err(); err != nil {
		return fmt.Errorf("revoke jti: %w", err)
	}
	return nil
}

func (d *Denylist) IsRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := d.rdb.Exists(ctx, denylistPrefix+jti).Result()
	if err != nil {
		return false, fmt.Errorf("check jti: %w", err)
	}
	return n > 0, nil
}

var _ auth.Denylist = (*Denylist)(nil)
