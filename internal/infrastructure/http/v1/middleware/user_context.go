package middleware

import (
	"github.com/gin-gonic/gin"

	appctx "hybridauth/internal/core/context"
	"hybridauth/internal/core/tenant"
	"hybridauth/internal/domain/auth"
	"hybridauth/internal/domain/identity"
)

// Principal returns the caller bound by the gate, or nil.
func Principal(c *gin.Context) *appctx.Principal {
	return appctx.GetPrincipal(c.Request.Context())
}

// CentralIdentity returns the identity loaded by the gate, or nil.
func CentralIdentity(c *gin.Context) *identity.CentralIdentity {
	if v, ok := c.Get(KeyIdentity); ok {
		if ci, ok := v.(*identity.CentralIdentity); ok {
			return ci
		}
	}
	return nil
}

// Claims returns the validated access token claims, or nil.
func Claims(c *gin.Context) *auth.Claims {
	if v, ok := c.Get(KeyClaims); ok {
		if cl, ok := v.(*auth.Claims); ok {
			return cl
		}
	}
	return nil
}

// Tenant returns the tenant bound by HybridAuth, or nil.
func Tenant(c *gin.Context) *tenant.Tenant {
	if v, ok := c.Get(KeyTenant); ok {
		if t, ok := v.(*tenant.Tenant); ok {
			return t
		}
	}
	return nil
}
