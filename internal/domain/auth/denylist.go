package auth

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// DefaultLocalDenylistSize bounds the in-process denylist.
const DefaultLocalDenylistSize = 100_000

// LocalDenylist keeps revoked access token ids in process memory. It is the
// fallback when no shared store is configured, so revocations are only seen
// by the instance that recorded them.
type LocalDenylist struct {
	entries *expirable.LRU[string, time.Time]
	now     func() time.Time
}

// NewLocalDenylist creates a denylist whose entries live at most ttl, which
// should be the access token lifetime.
func NewLocalDenylist(size int, ttl time.Duration) *LocalDenylist {
	if size <= 0 {
		size = DefaultLocalDenylistSize
	}
	return &LocalDenylist{
		entries: expirable.NewLRU[string, time.Time](size, nil, ttl),
		now:     time.Now,
	}
}

func (d *LocalDenylist) Revoke(_ context.Context, jti string, until time.Time) error {
	if !until.After(d.now()) {
		return nil
	}
	d.entries.Add(jti, until)
	return nil
}

func (d *LocalDenylist) IsRevoked(_ context.Context, jti string) (bool, error) {
	until, ok := d.entries.Get(jti)
	if !ok {
		return false, nil
	}
	if !until.After(d.now()) {
		d.entries.Remove(jti)
		return false, nil
	}
	return true, nil
}

var _ Denylist = (*LocalDenylist)(nil)
