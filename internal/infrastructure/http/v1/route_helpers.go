package v1

import (
	"github.com/gin-gonic/gin"

	"hybridauth/internal/domain/rbac"
	"hybridauth/internal/infrastructure/http/v1/middleware"
)

// guards builds per-route gate chains from named permission expressions.
type guards struct {
	gate  *middleware.Gate
	exprs rbac.Named
}

// central authenticates without a tenant.
func (g guards) central() gin.HandlerFunc {
	return middleware.CentralAuth(g.gate)
}

// member admits any synchronized member of the tenant.
func (g guards) member() gin.HandlerFunc {
	return middleware.HybridAuth(g.gate, rbac.Expression{})
}

// named admits members satisfying the named expression.
func (g guards) named(name string) gin.HandlerFunc {
	return middleware.HybridAuth(g.gate, g.exprs.Get(name))
}

// perms admits members holding the permissions of a single clause list.
func (g guards) perms(clauses ...string) gin.HandlerFunc {
	return middleware.HybridAuth(g.gate, rbac.MustParseExpression(clauses...))
}
