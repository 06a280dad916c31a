// Package cache provides in-process caches over central data and their
// invalidation through PostgreSQL LISTEN/NOTIFY.
package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"hybridauth/internal/domain/rbac"
)

// CatalogCache wraps an rbac.Catalog with an expirable LRU. Names are cached
// individually so Missing only reaches the database for unseen names.
type CatalogCache struct {
	next   rbac.Catalog
	exists *expirable.LRU[string, bool]
	lists  *expirable.LRU[string, []rbac.Permission]
}

// NewCatalogCache creates a cache holding up to size names for ttl.
func NewCatalogCache(next rbac.Catalog, size int, ttl time.Duration) *CatalogCache {
	if size <= 0 {
		size = 1024
	}
	return &CatalogCache{
		next:   next,
		exists: expirable.NewLRU[string, bool](size, nil, ttl),
		lists:  expirable.NewLRU[string, []rbac.Permission](64, nil, ttl),
	}
}

func (c *CatalogCache) Exists(ctx context.Context, name string) (bool, error) {
	if ok, hit := c.exists.Get(name); hit {
		return ok, nil
	}
	ok, err := c.next.Exists(ctx, name)
	if err != nil {
		return false, err
	}
	c.exists.Add(name, ok)
	return ok, nil
}

func (c *CatalogCache) Missing(ctx context.Context, names []string) ([]string, error) {
	var unknown []string
	for _, n := range names {
		if _, hit := c.exists.Peek(n); !hit {
			unknown = append(unknown, n)
		}
	}
	if len(unknown) > 0 {
		missing, err := c.next.Missing(ctx, unknown)
		if err != nil {
			return nil, err
		}
		absent := make(map[string]struct{}, len(missing))
		for _, n := range missing {
			absent[n] = struct{}{}
		}
		for _, n := range unknown {
			_, gone := absent[n]
			c.exists.Add(n, !gone)
		}
	}

	var out []string
	for _, n := range names {
		if ok, hit := c.exists.Get(n); hit && !ok {
			out = append(out, n)
		} else if !hit {
			// Evicted between the two passes.
			ok, err := c.Exists(ctx, n)
			if err != nil {
				return nil, err
			}
			if !ok {
				out = append(out, n)
			}
		}
	}
	return out, nil
}

func (c *CatalogCache) List(ctx context.Context, module string) ([]rbac.Permission, error) {
	if ps, hit := c.lists.Get(module); hit {
		return append([]rbac.Permission(nil), ps...), nil
	}
	ps, err := c.next.List(ctx, module)
	if err != nil {
		return nil, err
	}
	c.lists.Add(module, ps)
	return append([]rbac.Permission(nil), ps...), nil
}

// Purge drops every cached entry.
func (c *CatalogCache) Purge() {
	c.exists.Purge()
	c.lists.Purge()
}

var _ rbac.Catalog = (*CatalogCache)(nil)
