package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"

	"hybridauth/internal/core/id"
	"hybridauth/internal/domain/identity"
)

// RefreshTokenTTL is the default refresh token lifetime.
const RefreshTokenTTL = 30 * 24 * time.Hour

// RefreshToken is an opaque, server-side refresh credential.
type RefreshToken struct {
	TokenID       string     `db:"token_id"`
	CentralUserID id.ID      `db:"central_user_id"`
	JTI           string     `db:"jti"`
	ExpiresAt     time.Time  `db:"expires_at"`
	Revoked       bool       `db:"revoked"`
	LastUsedAt    *time.Time `db:"last_used_at"`
	LastUsedIP    *string    `db:"last_used_ip"`
	LastUsedAgent *string    `db:"last_used_user_agent"`
	CreatedAt     time.Time  `db:"created_at"`
}

// IsUsable reports whether the token can still be exchanged at now.
func (t *RefreshToken) IsUsable(now time.Time) bool {
	return !t.Revoked && now.Before(t.ExpiresAt)
}

// MagicLinkType distinguishes what a magic link grants.
type MagicLinkType string

const (
	MagicLinkLogin             MagicLinkType = "login"
	MagicLinkEmailVerification MagicLinkType = "email_verification"
)

// Valid reports whether t is a known type.
func (t MagicLinkType) Valid() bool {
	return t == MagicLinkLogin || t == MagicLinkEmailVerification
}

// MagicLinkTTL is the default magic link lifetime.
const MagicLinkTTL = 15 * time.Minute

// MagicLinkToken is a stored single-use link. Only the hash of the raw token
// is persisted.
type MagicLinkToken struct {
	ID        id.ID         `db:"id"`
	Email     string        `db:"email"`
	TokenHash string        `db:"token_hash"`
	Type      MagicLinkType `db:"type"`
	ExpiresAt time.Time     `db:"expires_at"`
	UsedAt    *time.Time    `db:"used_at"`
	IP        *string       `db:"ip_address"`
	UserAgent *string       `db:"user_agent"`
	CreatedAt time.Time     `db:"created_at"`
}

// IsUsable reports whether the link is unused and unexpired at now.
func (t *MagicLinkToken) IsUsable(now time.Time) bool {
	return t.UsedAt == nil && now.Before(t.ExpiresAt)
}

// InvitationTTL is how long an emailed tenant invitation stays valid.
const InvitationTTL = 7 * 24 * time.Hour

// Invitation invites an email without an account into a tenant with a role.
// Only the hash of the raw token is persisted.
type Invitation struct {
	ID        id.ID      `db:"id" json:"id"`
	TenantID  string     `db:"tenant_id" json:"tenant_id"`
	Email     string     `db:"email" json:"email"`
	TokenHash string     `db:"token_hash" json:"-"`
	Role      string     `db:"role" json:"role"`
	InvitedBy *uuid.UUID `db:"invited_by" json:"invited_by,omitempty"`
	ExpiresAt time.Time  `db:"expires_at" json:"expires_at"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
}

// TokenPair is returned on successful authentication.
type TokenPair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresAt    time.Time `json:"expires_at"`
	ExpiresIn    int       `json:"expires_in"`
}

// Meta describes the client presenting a credential.
type Meta struct {
	IP        string
	UserAgent string
	TenantID  string
}

// LoginResult is either a token pair or a pending two-factor challenge.
type LoginResult struct {
	Identity          *identity.CentralIdentity
	Tokens            *TokenPair
	TwoFactorRequired bool
	ChallengeToken    string
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// HashToken returns the sha256 hex digest stored for a raw magic link token.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
