package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"hybridauth/internal/core/tenant"
)

// RegistryCache caches tenant lookups by id and by domain. Writes go to the
// wrapped registry and drop the affected entries.
type RegistryCache struct {
	tenant.Registry
	byID     *expirable.LRU[string, *tenant.Tenant]
	byDomain *expirable.LRU[string, string]
}

// NewRegistryCache wraps next.
func NewRegistryCache(next tenant.Registry, size int, ttl time.Duration) *RegistryCache {
	if size <= 0 {
		size = 512
	}
	return &RegistryCache{
		Registry: next,
		byID:     expirable.NewLRU[string, *tenant.Tenant](size, nil, ttl),
		byDomain: expirable.NewLRU[string, string](size, nil, ttl),
	}
}

func copyTenant(t *tenant.Tenant) *tenant.Tenant {
	cp := *t
	cp.Domains = append([]string(nil), t.Domains...)
	return &cp
}

func (c *RegistryCache) remember(t *tenant.Tenant) {
	c.byID.Add(t.ID, copyTenant(t))
	for _, d := range t.Domains {
		c.byDomain.Add(d, t.ID)
	}
}

func (c *RegistryCache) GetByID(ctx context.Context, tenantID string) (*tenant.Tenant, error) {
	if t, hit := c.byID.Get(tenantID); hit {
		return copyTenant(t), nil
	}
	t, err := c.Registry.GetByID(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	c.remember(t)
	return t, nil
}

func (c *RegistryCache) GetByDomain(ctx context.Context, domain string) (*tenant.Tenant, error) {
	domain = tenant.NormalizeDomain(domain)
	if tid, hit := c.byDomain.Get(domain); hit {
		if t, hit := c.byID.Get(tid); hit && t.HasDomain(domain) {
			return copyTenant(t), nil
		}
	}
	t, err := c.Registry.GetByDomain(ctx, domain)
	if err != nil {
		return nil, err
	}
	c.remember(t)
	return t, nil
}

func (c *RegistryCache) UpdateStatusByID(ctx context.Context, tenantID string, status tenant.Status) error {
	defer c.Invalidate(tenantID)
	return c.Registry.UpdateStatusByID(ctx, tenantID, status)
}

func (c *RegistryCache) AddDomain(ctx context.Context, tenantID, domain string) error {
	defer c.Invalidate(tenantID)
	return c.Registry.AddDomain(ctx, tenantID, domain)
}

func (c *RegistryCache) RemoveDomain(ctx context.Context, tenantID, domain string) error {
	defer c.Invalidate(tenantID)
	return c.Registry.RemoveDomain(ctx, tenantID, domain)
}

// Invalidate drops the tenant and the domains pointing at it.
func (c *RegistryCache) Invalidate(tenantID string) {
	c.byID.Remove(tenantID)
	for _, d := range c.byDomain.Keys() {
		if tid, ok := c.byDomain.Peek(d); ok && tid == tenantID {
			c.byDomain.Remove(d)
		}
	}
}

// Purge drops every cached tenant.
func (c *RegistryCache) Purge() {
	c.byID.Purge()
	c.byDomain.Purge()
}

var _ tenant.Registry = (*RegistryCache)(nil)
