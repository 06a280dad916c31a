// Package context provides request-scoped values extraction.
package context

import (
	"context"

	"github.com/google/uuid"
)

// Principal is the authenticated caller as seen by downstream handlers.
// The central fields are always set once a bearer token is accepted; the
// tenant fields are set only after the hybrid gate has bound a tenant.
type Principal struct {
	CentralUserID string
	GlobalID      uuid.UUID
	Email         string
	Name          string
	TokenID       string // jti of the presented access token

	TenantID       string
	LocalUserID    int64
	PermissionSet  []string
	TwoFactorLogin bool
}

// HasTenant reports whether the principal is bound to a tenant.
func (p *Principal) HasTenant() bool {
	return p != nil && p.TenantID != ""
}

type principalKey struct{}

// WithPrincipal adds Principal to context.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// GetPrincipal returns Principal from context.
func GetPrincipal(ctx context.Context) *Principal {
	if v, ok := ctx.Value(principalKey{}).(*Principal); ok {
		return v
	}
	return nil
}

// GetCentralUserID returns the central user ID from context or empty string.
func GetCentralUserID(ctx context.Context) string {
	if p := GetPrincipal(ctx); p != nil {
		return p.CentralUserID
	}
	return ""
}

// GetTenantID returns the bound tenant ID from context or empty string.
func GetTenantID(ctx context.Context) string {
	if p := GetPrincipal(ctx); p != nil {
		return p.TenantID
	}
	return ""
}
