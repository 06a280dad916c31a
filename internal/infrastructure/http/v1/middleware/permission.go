package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"

	"hybridauth/internal/core/apperror"
	appctx "hybridauth/internal/core/context"
	"hybridauth/internal/core/tenant"
	"hybridauth/internal/domain/identity"
	"hybridauth/internal/domain/rbac"
)

func (g *Gate) authorize(c *gin.Context, ctx context.Context, span trace.Span, t *tenant.Tenant, local *identity.LocalIdentity, expr rbac.Expression) (rbac.PermissionSet, bool) {
	ok, set, err := g.Permissions.Satisfies(ctx, local.ID, expr)
	if err != nil {
		g.reject(c, ctx, span, ReasonInternal, t.ID, apperror.NewInternal(err))
		return nil, false
	}
	if !ok {
		g.reject(c, ctx, span, ReasonInsufficientPermissions, t.ID,
			apperror.NewInsufficientPermissions(expr.String()))
		return nil, false
	}
	return set, true
}

// Require checks expr against the permission set the gate bound to the
// request. Use it behind HybridAuth to narrow a route further.
func Require(expr rbac.Expression) gin.HandlerFunc {
	return func(c *gin.Context) {
		p := appctx.GetPrincipal(c.Request.Context())
		if !p.HasTenant() {
			_ = c.Error(apperror.NewUnauthenticated("authentication required"))
			c.Abort()
			return
		}
		set := make(rbac.PermissionSet, len(p.PermissionSet))
		for _, name := range p.PermissionSet {
			set[name] = struct{}{}
		}
		if !expr.Evaluate(set.Has) {
			_ = c.Error(apperror.NewInsufficientPermissions(expr.String()))
			c.Abort()
			return
		}
		c.Next()
	}
}
