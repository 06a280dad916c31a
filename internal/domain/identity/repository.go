package identity

import (
	"context"
	"time"

	"github.com/google/uuid"

	"hybridauth/internal/core/id"
)

// CentralRepository persists central identities.
type CentralRepository interface {
	// Create inserts a new identity. Returns a duplicate error for a taken email.
	Create(ctx context.Context, c *CentralIdentity) error

	// GetByID retrieves an identity by its central id.
	GetByID(ctx context.Context, centralID id.ID) (*CentralIdentity, error)

	// GetByGlobalID retrieves an identity by its global id.
	GetByGlobalID(ctx context.Context, globalID uuid.UUID) (*CentralIdentity, error)

	// GetByEmail retrieves an identity by normalized email.
	GetByEmail(ctx context.Context, email string) (*CentralIdentity, error)

	// Update writes all mutable columns.
	Update(ctx context.Context, c *CentralIdentity) error

	// RecordLogin bumps login_count and sets last_login_at.
	RecordLogin(ctx context.Context, centralID id.ID, at time.Time) error
}

// LocalRepository persists tenant-local projections. Every method requires an
// active tenant scope in ctx.
type LocalRepository interface {
	// GetByGlobalID retrieves the projection for a global id.
	GetByGlobalID(ctx context.Context, globalID uuid.UUID) (*LocalIdentity, error)

	// Upsert inserts or refreshes the synced attributes and returns the stored row.
	Upsert(ctx context.Context, l *LocalIdentity) (*LocalIdentity, error)

	// DeleteByGlobalID removes the projection.
	DeleteByGlobalID(ctx context.Context, globalID uuid.UUID) error
}

// MembershipLister lists the tenants an identity belongs to.
type MembershipLister interface {
	TenantIDsOf(ctx context.Context, globalID uuid.UUID) ([]string, error)
}
