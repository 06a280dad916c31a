// Package identity holds the central identity and its tenant-local projection.
//
// The central database is the source of truth. Every tenant a user belongs to
// carries a LocalIdentity row keyed by the immutable GlobalID; only the synced
// attributes (name, email, email_verified_at, status) are copied, and always
// in the central-to-tenant direction.
package identity

import (
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"hybridauth/internal/core/id"
)

// Status represents the central account state.
type Status string

const (
	StatusPendingVerification Status = "pending_verification"
	StatusActive              Status = "active"
	StatusSuspended           Status = "suspended"
	StatusInactive            Status = "inactive"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPendingVerification, StatusActive, StatusSuspended, StatusInactive:
		return true
	}
	return false
}

// MinPasswordLength is enforced on registration and password change.
const MinPasswordLength = 8

// CentralIdentity is an account in the central database.
type CentralIdentity struct {
	ID                      id.ID          `db:"id" json:"id"`
	GlobalID                uuid.UUID      `db:"global_id" json:"global_id"`
	Name                    string         `db:"name" json:"name"`
	Email                   string         `db:"email" json:"email"`
	PasswordHash            string         `db:"password_hash" json:"-"`
	EmailVerifiedAt         *time.Time     `db:"email_verified_at" json:"email_verified_at,omitempty"`
	Status                  Status         `db:"status" json:"status"`
	TwoFactorEnabled        bool           `db:"two_factor_enabled" json:"two_factor_enabled"`
	TwoFactorSecret         []byte         `db:"two_factor_secret" json:"-"`
	RecoveryCodes           []byte         `db:"two_factor_recovery_codes" json:"-"`
	Preferences             map[string]any `db:"preferences" json:"preferences,omitempty"`
	LastLoginAt             *time.Time     `db:"last_login_at" json:"last_login_at,omitempty"`
	LoginCount              int            `db:"login_count" json:"login_count"`
	GDPRDeletionRequestedAt *time.Time     `db:"gdpr_deletion_requested_at" json:"gdpr_deletion_requested_at,omitempty"`
	CreatedAt               time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt               time.Time      `db:"updated_at" json:"updated_at"`
}

// NewCentralIdentity creates an unverified account with fresh identifiers.
func NewCentralIdentity(name, email string) *CentralIdentity {
	now := time.Now().UTC()
	return &CentralIdentity{
		ID:        id.New(),
		GlobalID:  id.NewGlobal(),
		Name:      strings.TrimSpace(name),
		Email:     NormalizeEmail(email),
		Status:    StatusPendingVerification,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Validate checks required fields.
func (c *CentralIdentity) Validate() error {
	if c.Name == "" {
		return errors.New("name is required")
	}
	if len(c.Name) > 255 {
		return errors.New("name must be 255 characters or less")
	}
	if _, err := mail.ParseAddress(c.Email); err != nil {
		return errors.New("email is invalid")
	}
	if !c.Status.Valid() {
		return errors.New("status is invalid")
	}
	return nil
}

func (c *CentralIdentity) IsActive() bool         { return c.Status == StatusActive }
func (c *CentralIdentity) IsSuspended() bool      { return c.Status == StatusSuspended }
func (c *CentralIdentity) HasVerifiedEmail() bool { return c.EmailVerifiedAt != nil }

// MarkEmailVerified records verification and activates a pending account.
// Suspended and inactive accounts keep their status.
func (c *CentralIdentity) MarkEmailVerified(at time.Time) {
	c.EmailVerifiedAt = &at
	if c.Status == StatusPendingVerification {
		c.Status = StatusActive
	}
	c.UpdatedAt = at
}

// SetPassword hashes and stores a new password.
func (c *CentralIdentity) SetPassword(plain string, cost int) error {
	if len(plain) < MinPasswordLength {
		return errors.New("password must be at least 8 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), cost)
	if err != nil {
		return err
	}
	c.PasswordHash = string(hash)
	return nil
}

// CheckPassword compares plain against the stored hash.
func (c *CentralIdentity) CheckPassword(plain string) bool {
	if c.PasswordHash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(c.PasswordHash), []byte(plain)) == nil
}

// RecordLogin updates login statistics.
func (c *CentralIdentity) RecordLogin(at time.Time) {
	c.LastLoginAt = &at
	c.LoginCount++
}

// NormalizeEmail lowercases and trims an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// LocalIdentity is the projection of a central identity inside one tenant database.
type LocalIdentity struct {
	ID              int64      `db:"id" json:"id"`
	GlobalID        uuid.UUID  `db:"global_id" json:"global_id"`
	Name            string     `db:"name" json:"name"`
	Email           string     `db:"email" json:"email"`
	EmailVerifiedAt *time.Time `db:"email_verified_at" json:"email_verified_at,omitempty"`
	Status          Status     `db:"status" json:"status"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
}

// ProjectionOf builds the tenant-local projection of c. Only synced
// attributes are copied.
func ProjectionOf(c *CentralIdentity) *LocalIdentity {
	return &LocalIdentity{
		GlobalID:        c.GlobalID,
		Name:            c.Name,
		Email:           c.Email,
		EmailVerifiedAt: c.EmailVerifiedAt,
		Status:          c.Status,
	}
}

// InSyncWith reports whether the projection already matches c.
func (l *LocalIdentity) InSyncWith(c *CentralIdentity) bool {
	if l.GlobalID != c.GlobalID || l.Name != c.Name || l.Email != c.Email || l.Status != c.Status {
		return false
	}
	switch {
	case l.EmailVerifiedAt == nil && c.EmailVerifiedAt == nil:
		return true
	case l.EmailVerifiedAt == nil || c.EmailVerifiedAt == nil:
		return false
	default:
		return l.EmailVerifiedAt.Equal(*c.EmailVerifiedAt)
	}
}
