package membership

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists membership edges in the central database.
type Repository interface {
	// Create inserts an edge. Returns a duplicate error if it exists.
	Create(ctx context.Context, e *Edge) error

	// Get retrieves one edge.
	Get(ctx context.Context, tenantID string, globalID uuid.UUID) (*Edge, error)

	// Exists reports whether the edge exists.
	Exists(ctx context.Context, tenantID string, globalID uuid.UUID) (bool, error)

	// Delete removes an edge.
	Delete(ctx context.Context, tenantID string, globalID uuid.UUID) error

	// TenantIDsOf lists the tenants an identity belongs to.
	TenantIDsOf(ctx context.Context, globalID uuid.UUID) ([]string, error)

	// ListByTenant lists all edges of a tenant.
	ListByTenant(ctx context.Context, tenantID string) ([]Edge, error)
}

// Directory lists members from the tenant database bound to ctx.
type Directory interface {
	ListUsers(ctx context.Context, f UserFilter) ([]TenantUser, int, error)
}
