package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"hybridauth/internal/core/apperror"
	appctx "hybridauth/internal/core/context"
	"hybridauth/internal/core/tenant"
	"hybridauth/internal/domain/auth"
	"hybridauth/internal/domain/identity"
	"hybridauth/internal/domain/rbac"
	"hybridauth/pkg/logger"
)

var tracer = otel.Tracer("hybridauth/gate")

// Rejection reasons reported in logs and metrics.
const (
	ReasonMissingToken            = "missing_token"
	ReasonInvalidToken            = "invalid_token"
	ReasonIdentityInactive        = "identity_inactive"
	ReasonTenantNotFound          = "tenant_not_found"
	ReasonNoTenantAccess          = "no_tenant_access"
	ReasonNotSynchronized         = "not_synchronized"
	ReasonInsufficientPermissions = "insufficient_permissions"
	ReasonInternal                = "internal_error"
)

// Gin keys set by the gate.
const (
	KeyPrincipal = "principal"
	KeyClaims    = "claims"
	KeyIdentity  = "central_identity"
	KeyTenant    = "tenant"
)

// Authenticator validates a bearer token and loads the active identity it
// was issued for.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*identity.CentralIdentity, *auth.Claims, error)
}

// TenantResolver maps request hints to an active tenant.
type TenantResolver interface {
	Resolve(ctx context.Context, h tenant.Hint) (*tenant.Tenant, error)
}

// MembershipChecker reports whether an identity belongs to a tenant.
type MembershipChecker interface {
	UserCanAccessTenant(ctx context.Context, tenantID string, globalID uuid.UUID) (bool, error)
}

// PermissionChecker evaluates an expression for a local identity in the
// active scope.
type PermissionChecker interface {
	Satisfies(ctx context.Context, localID int64, expr rbac.Expression) (bool, rbac.PermissionSet, error)
}

// GateMetrics receives gate decisions.
type GateMetrics interface {
	Allowed()
	Rejected(reason string)
}

type nopMetrics struct{}

func (nopMetrics) Allowed()        {}
func (nopMetrics) Rejected(string) {}

// Gate holds the collaborators of the hybrid auth pipeline.
type Gate struct {
	Tokens          Authenticator
	Tenants         TenantResolver
	Memberships     MembershipChecker
	Scopes          tenant.Activator
	LocalIdentities identity.LocalRepository
	Permissions     PermissionChecker
	Metrics         GateMetrics
	Logger          *logger.Logger
}

func (g *Gate) metrics() GateMetrics {
	if g.Metrics == nil {
		return nopMetrics{}
	}
	return g.Metrics
}

func (g *Gate) log() *logger.Logger {
	if g.Logger == nil {
		return logger.Default()
	}
	return g.Logger
}

// CentralAuth authenticates the caller without binding a tenant.
func CentralAuth(g *Gate) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "hybridauth/gate",
			trace.WithAttributes(attribute.String("gate.mode", "central")))
		defer span.End()

		central, claims, ok := g.authenticate(c, ctx, span)
		if !ok {
			return
		}

		ctx = appctx.WithPrincipal(ctx, centralPrincipal(central, claims))
		g.bind(c, ctx, span, central, claims, nil)
		c.Next()
	}
}

// HybridAuth authenticates the caller, resolves and activates the tenant and
// evaluates expr. The tenant scope is deactivated when the handler chain
// returns, including on abort and panic.
func HybridAuth(g *Gate, expr rbac.Expression) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "hybridauth/gate",
			trace.WithAttributes(attribute.String("gate.mode", "tenant")))
		defer span.End()

		central, claims, ok := g.authenticate(c, ctx, span)
		if !ok {
			return
		}
		t, ok := g.resolveTenant(c, ctx, span)
		if !ok {
			return
		}
		span.SetAttributes(attribute.String("tenant.id", t.ID))

		if !g.checkMembership(c, ctx, span, t, central) {
			return
		}

		scoped, deactivate, err := g.Scopes.Activate(ctx, t)
		if err != nil {
			g.reject(c, ctx, span, ReasonInternal, t.ID,
				apperror.NewUnavailable("Tenant database unavailable").WithCause(err))
			return
		}
		defer deactivate()

		local, ok := g.loadLocal(c, scoped, span, t, central)
		if !ok {
			return
		}
		set, ok := g.authorize(c, scoped, span, t, local, expr)
		if !ok {
			return
		}

		p := centralPrincipal(central, claims)
		p.TenantID = t.ID
		p.LocalUserID = local.ID
		p.PermissionSet = set.Names()
		scoped = appctx.WithPrincipal(scoped, p)
		scoped = logger.WithLogger(scoped, g.log().With("tenant_id", t.ID))

		g.bind(c, scoped, span, central, claims, t)
		c.Next()
	}
}

func centralPrincipal(c *identity.CentralIdentity, claims *auth.Claims) *appctx.Principal {
	return &appctx.Principal{
		CentralUserID: c.ID.String(),
		GlobalID:      c.GlobalID,
		Email:         c.Email,
		Name:          c.Name,
		TokenID:       claims.ID,
	}
}

// bind stores the request state and records the pass.
func (g *Gate) bind(c *gin.Context, ctx context.Context, span trace.Span, central *identity.CentralIdentity, claims *auth.Claims, t *tenant.Tenant) {
	c.Request = c.Request.WithContext(ctx)
	c.Set(KeyPrincipal, appctx.GetPrincipal(ctx))
	c.Set(KeyIdentity, central)
	c.Set(KeyClaims, claims)
	if t != nil {
		c.Set(KeyTenant, t)
	}
	span.SetAttributes(attribute.String("gate.outcome", "allowed"))
	g.metrics().Allowed()
}

// bearerToken extracts the token of an "Authorization: Bearer" header.
func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func (g *Gate) authenticate(c *gin.Context, ctx context.Context, span trace.Span) (*identity.CentralIdentity, *auth.Claims, bool) {
	token, ok := bearerToken(c.GetHeader("Authorization"))
	if !ok {
		g.reject(c, ctx, span, ReasonMissingToken, "",
			apperror.NewUnauthenticated("Missing or malformed bearer token"))
		return nil, nil, false
	}

	central, claims, err := g.Tokens.Authenticate(ctx, token)
	if err != nil {
		reason := ReasonInvalidToken
		switch {
		case errors.Is(err, auth.ErrIdentityInactive):
			reason = ReasonIdentityInactive
		case !apperror.HasCode(err, apperror.CodeUnauthenticated):
			reason = ReasonInternal
		}
		g.reject(c, ctx, span, reason, "", err)
		return nil, nil, false
	}
	return central, claims, true
}

// reject aborts the request with err and records the reason.
func (g *Gate) reject(c *gin.Context, ctx context.Context, span trace.Span, reason, tenantID string, err error) {
	status := apperror.GetHTTPStatus(err)
	if _, ok := apperror.AsAppError(err); !ok {
		err = apperror.NewInternal(err)
		status = http.StatusInternalServerError
	}

	span.SetAttributes(
		attribute.String("gate.outcome", reason),
		attribute.Int("http.status_code", status),
	)
	if status >= http.StatusInternalServerError {
		span.SetStatus(codes.Error, reason)
	}
	g.metrics().Rejected(reason)

	kv := []any{"reason", reason, "status", status, "path", c.FullPath()}
	if tenantID != "" {
		kv = append(kv, "tenant_id", tenantID)
	}
	log := g.log().WithContext(ctx)
	switch {
	case status >= http.StatusInternalServerError:
		log.Errorw("gate rejected", append(kv, "error", err)...)
	case status == http.StatusForbidden:
		log.Infow("gate rejected", kv...)
	default:
		log.Warnw("gate rejected", kv...)
	}

	_ = c.Error(err)
	c.Abort()
}
