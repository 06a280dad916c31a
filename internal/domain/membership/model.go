// Package membership manages which central identities belong to which
// tenants. The edge lives in the central database; the tenant-local
// projection and role assignments live in the tenant database.
package membership

import (
	"time"

	"github.com/google/uuid"

	"hybridauth/internal/domain/identity"
)

// Edge records that an identity belongs to a tenant.
type Edge struct {
	TenantID   string     `db:"tenant_id" json:"tenant_id"`
	GlobalID   uuid.UUID  `db:"global_user_id" json:"global_id"`
	InvitedBy  *uuid.UUID `db:"invited_by" json:"invited_by,omitempty"`
	AttachedAt time.Time  `db:"attached_at" json:"attached_at"`
}

// AttachInput describes an attach request.
type AttachInput struct {
	TenantID  string
	GlobalID  uuid.UUID
	Role      string
	InvitedBy *uuid.UUID
}

// TenantUser is one member as seen from inside the tenant.
type TenantUser struct {
	LocalID         int64           `db:"id" json:"id"`
	GlobalID        uuid.UUID       `db:"global_id" json:"global_id"`
	Name            string          `db:"name" json:"name"`
	Email           string          `db:"email" json:"email"`
	Status          identity.Status `db:"status" json:"status"`
	EmailVerifiedAt *time.Time      `db:"email_verified_at" json:"email_verified_at,omitempty"`
	Roles           []string        `db:"roles" json:"roles"`
	AttachedAt      *time.Time      `db:"-" json:"attached_at,omitempty"`
}

// UserFilter narrows tenant user listings.
type UserFilter struct {
	Search string
	Status identity.Status
	Role   string
	Limit  int
	Offset int
}

// Normalize applies paging defaults.
func (f *UserFilter) Normalize() {
	if f.Limit <= 0 || f.Limit > 100 {
		f.Limit = 25
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
}

// UserPage is a page of tenant users.
type UserPage struct {
	Users  []TenantUser `json:"users"`
	Total  int          `json:"total"`
	Limit  int          `json:"limit"`
	Offset int          `json:"offset"`
}
