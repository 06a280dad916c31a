package middleware

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"

	"hybridauth/internal/core/apperror"
	"hybridauth/internal/core/tenant"
	"hybridauth/internal/domain/identity"
)

const (
	// TenantHeader is the HTTP header for tenant identification.
	TenantHeader = "X-Tenant-ID"

	// TenantParam is the route parameter and query key naming the tenant.
	TenantParam = "tenant"
)

// TenantHint collects the tenant hints of a request.
func TenantHint(c *gin.Context) tenant.Hint {
	return tenant.Hint{
		RouteParam: c.Param(TenantParam),
		Query:      c.Query(TenantParam),
		Header:     c.GetHeader(TenantHeader),
		Host:       c.Request.Host,
	}
}

func (g *Gate) resolveTenant(c *gin.Context, ctx context.Context, span trace.Span) (*tenant.Tenant, bool) {
	hint := TenantHint(c)
	t, err := g.Tenants.Resolve(ctx, hint)
	if err != nil {
		if errors.Is(err, tenant.ErrNoHint) || errors.Is(err, tenant.ErrTenantNotFound) || errors.Is(err, tenant.ErrTenantNotActive) {
			g.reject(c, ctx, span, ReasonTenantNotFound, hint.Value(), apperror.NewTenantNotFound(hint.Value()))
			return nil, false
		}
		g.reject(c, ctx, span, ReasonInternal, hint.Value(), apperror.NewInternal(err))
		return nil, false
	}
	return t, true
}

// checkMembership runs before activation so that outsiders never open a scope.
func (g *Gate) checkMembership(c *gin.Context, ctx context.Context, span trace.Span, t *tenant.Tenant, central *identity.CentralIdentity) bool {
	ok, err := g.Memberships.UserCanAccessTenant(ctx, t.ID, central.GlobalID)
	if err != nil {
		g.reject(c, ctx, span, ReasonInternal, t.ID, apperror.NewInternal(err))
		return false
	}
	if !ok {
		g.reject(c, ctx, span, ReasonNoTenantAccess, t.ID, apperror.NewTenantAccessDenied(t.ID))
		return false
	}
	return true
}

func (g *Gate) loadLocal(c *gin.Context, ctx context.Context, span trace.Span, t *tenant.Tenant, central *identity.CentralIdentity) (*identity.LocalIdentity, bool) {
	local, err := g.LocalIdentities.GetByGlobalID(ctx, central.GlobalID)
	if err != nil {
		if apperror.IsNotFound(err) {
			g.reject(c, ctx, span, ReasonNotSynchronized, t.ID, apperror.NewNotSynchronized(t.ID))
			return nil, false
		}
		g.reject(c, ctx, span, ReasonInternal, t.ID, apperror.NewInternal(err))
		return nil, false
	}
	return local, true
}
