package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hybridauth/internal/core/tenant"
	"hybridauth/internal/domain/rbac"
	"hybridauth/pkg/logger"
)

type countingCatalog struct {
	names   map[string]bool
	exists  int
	missing int
	lists   int
}

func (c *countingCatalog) Exists(_ context.Context, name string) (bool, error) {
	c.exists++
	return c.names[name], nil
}

func (c *countingCatalog) Missing(_ context.Context, names []string) ([]string, error) {
	c.missing++
	var out []string
	for _, n := range names {
		if !c.names[n] {
			out = append(out, n)
		}
	}
	return out, nil
}

func (c *countingCatalog) List(_ context.Context, module string) ([]rbac.Permission, error) {
	c.lists++
	var out []rbac.Permission
	for n := range c.names {
		out = append(out, rbac.Permission{Name: n, Module: module})
	}
	return out, nil
}

func TestCatalogCacheExists(t *testing.T) {
	next := &countingCatalog{names: map[string]bool{"Users.users.read": true}}
	c := NewCatalogCache(next, 16, time.Minute)
	ctx := context.Background()

	for range 3 {
		ok, err := c.Exists(ctx, "Users.users.read")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := c.Exists(ctx, "Users.users.fly")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 2, next.exists)

	c.Purge()
	_, _ = c.Exists(ctx, "Users.users.read")
	assert.Equal(t, 3, next.exists)
}

func TestCatalogCacheMissingQueriesOnlyUnseen(t *testing.T) {
	next := &countingCatalog{names: map[string]bool{"A.b.c": true, "A.b.d": true}}
	c := NewCatalogCache(next, 16, time.Minute)
	ctx := context.Background()

	missing, err := c.Missing(ctx, []string{"A.b.c", "X.y.z", "A.b.d"})
	require.NoError(t, err)
	assert.Equal(t, []string{"X.y.z"}, missing)
	assert.Equal(t, 1, next.missing)

	missing, err = c.Missing(ctx, []string{"X.y.z", "A.b.c"})
	require.NoError(t, err)
	assert.Equal(t, []string{"X.y.z"}, missing)
	assert.Equal(t, 1, next.missing)
	assert.Zero(t, next.exists)
}

func TestCatalogCacheListReturnsCopies(t *testing.T) {
	next := &countingCatalog{names: map[string]bool{"A.b.c": true}}
	c := NewCatalogCache(next, 16, time.Minute)

	first, err := c.List(context.Background(), "A")
	require.NoError(t, err)
	first[0].Name = "mutated"

	second, err := c.List(context.Background(), "A")
	require.NoError(t, err)
	assert.Equal(t, "A.b.c", second[0].Name)
	assert.Equal(t, 1, next.lists)
}

type countingRegistry struct {
	tenant.Registry
	tenants map[string]*tenant.Tenant
	gets    int
}

func (r *countingRegistry) GetByID(_ context.Context, id string) (*tenant.Tenant, error) {
	r.gets++
	t, ok := r.tenants[id]
	if !ok {
		return nil, tenant.ErrTenantNotFound
	}
	cp := *t
	return &cp, nil
}

func (r *countingRegistry) GetByDomain(_ context.Context, domain string) (*tenant.Tenant, error) {
	r.gets++
	for _, t := range r.tenants {
		if t.HasDomain(domain) {
			cp := *t
			return &cp, nil
		}
	}
	return nil, tenant.ErrTenantNotFound
}

func (r *countingRegistry) UpdateStatusByID(_ context.Context, id string, s tenant.Status) error {
	r.tenants[id].Status = s
	return nil
}

func newRegistry() *countingRegistry {
	return &countingRegistry{tenants: map[string]*tenant.Tenant{
		"acme": {ID: "acme", Status: tenant.StatusActive, Domains: []string{"acme.example.com"}},
	}}
}

func TestRegistryCacheHitsAndInvalidation(t *testing.T) {
	next := newRegistry()
	c := NewRegistryCache(next, 8, time.Minute)
	ctx := context.Background()

	got, err := c.GetByDomain(ctx, "ACME.example.com")
	require.NoError(t, err)
	assert.Equal(t, "acme", got.ID)

	got, err = c.GetByID(ctx, "acme")
	require.NoError(t, err)
	got.Status = tenant.StatusDeleted
	_, err = c.GetByDomain(ctx, "acme.example.com")
	require.NoError(t, err)
	assert.Equal(t, 1, next.gets)

	require.NoError(t, c.UpdateStatusByID(ctx, "acme", tenant.StatusSuspended))
	got, err = c.GetByID(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, tenant.StatusSuspended, got.Status)
	assert.Equal(t, 2, next.gets)

	_, err = c.GetByID(ctx, "nope")
	assert.ErrorIs(t, err, tenant.ErrTenantNotFound)
}

type recordingInvalidator struct{ ids []string }

func (r *recordingInvalidator) Invalidate(id string) { r.ids = append(r.ids, id) }

func TestListenerDispatch(t *testing.T) {
	next := newRegistry()
	reg := NewRegistryCache(next, 8, time.Minute)
	catalog := NewCatalogCache(&countingCatalog{}, 8, time.Minute)
	pools := &recordingInvalidator{}

	l := NewListener(nil, logger.Nop())
	l.On(ChannelTenants, PurgeTenants(reg, pools))
	l.On(ChannelPermissions, PurgeCatalog(catalog))
	l.On(ChannelPermissions, func(string) { panic("boom") })

	_, err := reg.GetByID(context.Background(), "acme")
	require.NoError(t, err)
	_, _ = catalog.Exists(context.Background(), "A.b.c")

	l.dispatch(ChannelTenants, "acme")
	assert.Equal(t, []string{"acme"}, pools.ids)
	assert.Zero(t, reg.byID.Len())

	assert.NotPanics(t, func() { l.dispatch(ChannelPermissions, "") })
	assert.Zero(t, catalog.exists.Len())
	assert.Equal(t, []string{ChannelPermissions, ChannelTenants}, l.channels())
}
