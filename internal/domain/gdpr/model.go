// Package gdpr implements personal data export and the reviewed account
// deletion workflow.
package gdpr

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"hybridauth/internal/core/id"
	"hybridauth/internal/domain/analytics"
	"hybridauth/internal/domain/identity"
)

// RequestStatus of a deletion request.
type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestApproved RequestStatus = "approved"
	RequestDenied   RequestStatus = "denied"
)

// DeleteRequest asks for an account to be erased. At most one request per
// identity is pending at a time.
type DeleteRequest struct {
	ID            id.ID         `db:"id" json:"id"`
	CentralUserID id.ID         `db:"central_user_id" json:"central_user_id"`
	GlobalID      uuid.UUID     `db:"global_user_id" json:"global_user_id"`
	Email         string        `db:"email" json:"email"`
	Reason        string        `db:"reason" json:"reason,omitempty"`
	Status        RequestStatus `db:"status" json:"status"`
	RequestedAt   time.Time     `db:"requested_at" json:"requested_at"`
	ProcessedAt   *time.Time    `db:"processed_at" json:"processed_at,omitempty"`
	ProcessedBy   *uuid.UUID    `db:"processed_by" json:"processed_by,omitempty"`
	Note          string        `db:"note" json:"note,omitempty"`
}

// IsPending reports whether the request still awaits a decision.
func (r *DeleteRequest) IsPending() bool { return r.Status == RequestPending }

// Repository stores deletion requests centrally.
type Repository interface {
	Create(ctx context.Context, r *DeleteRequest) error
	Get(ctx context.Context, requestID id.ID) (*DeleteRequest, error)
	// PendingFor returns the pending request of an identity or a not found error.
	PendingFor(ctx context.Context, centralID id.ID) (*DeleteRequest, error)
	ListPending(ctx context.Context, limit int) ([]*DeleteRequest, error)
	Update(ctx context.Context, r *DeleteRequest) error
}

// Document is the content of a data export.
type Document struct {
	GeneratedAt time.Time              `json:"generated_at"`
	Identity    ExportedIdentity       `json:"identity"`
	Memberships []string               `json:"tenant_memberships"`
	LoginEvents []analytics.LoginEvent `json:"login_events"`
	Requests    []*DeleteRequest       `json:"deletion_requests,omitempty"`
}

// ExportedIdentity lists the stored account attributes. Secrets are omitted.
type ExportedIdentity struct {
	ID               id.ID          `json:"id"`
	GlobalID         uuid.UUID      `json:"global_id"`
	Name             string         `json:"name"`
	Email            string         `json:"email"`
	EmailVerifiedAt  *time.Time     `json:"email_verified_at,omitempty"`
	Status           string         `json:"status"`
	TwoFactorEnabled bool           `json:"two_factor_enabled"`
	Preferences      map[string]any `json:"preferences,omitempty"`
	LastLoginAt      *time.Time     `json:"last_login_at,omitempty"`
	LoginCount       int            `json:"login_count"`
	CreatedAt        time.Time      `json:"created_at"`
}

func exportIdentity(c *identity.CentralIdentity) ExportedIdentity {
	return ExportedIdentity{
		ID:               c.ID,
		GlobalID:         c.GlobalID,
		Name:             c.Name,
		Email:            c.Email,
		EmailVerifiedAt:  c.EmailVerifiedAt,
		Status:           string(c.Status),
		TwoFactorEnabled: c.TwoFactorEnabled,
		Preferences:      c.Preferences,
		LastLoginAt:      c.LastLoginAt,
		LoginCount:       c.LoginCount,
		CreatedAt:        c.CreatedAt,
	}
}

// anonymize strips personal attributes from c and deactivates it. The row
// survives so foreign keys in analytics stay valid.
func anonymize(c *identity.CentralIdentity, at time.Time) {
	c.Name = "Deleted User"
	c.Email = fmt.Sprintf("deleted-%s@deleted.invalid", c.GlobalID)
	c.PasswordHash = ""
	c.EmailVerifiedAt = nil
	c.Status = identity.StatusInactive
	c.TwoFactorEnabled = false
	c.TwoFactorSecret = nil
	c.RecoveryCodes = nil
	c.Preferences = nil
	c.GDPRDeletionRequestedAt = nil
	c.UpdatedAt = at
}
