package auth

import (
	"context"
	"time"

	"hybridauth/internal/core/id"
)

// RefreshTokenRepository persists refresh tokens in the central database.
type RefreshTokenRepository interface {
	// Create stores a new token.
	Create(ctx context.Context, t *RefreshToken) error

	// Get retrieves a token by its opaque id.
	Get(ctx context.Context, tokenID string) (*RefreshToken, error)

	// Touch records the last use of a token and the access token it minted.
	Touch(ctx context.Context, tokenID, jti, ip, userAgent string, at time.Time) error

	// Revoke marks one token as revoked. Returns false when it was already
	// revoked or does not exist.
	Revoke(ctx context.Context, tokenID string) (bool, error)

	// RevokeAllForUser revokes every token of a user.
	RevokeAllForUser(ctx context.Context, centralID id.ID) error

	// DeleteExpired removes tokens expired or revoked before cutoff.
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

// MagicLinkRepository persists magic link tokens in the central database.
type MagicLinkRepository interface {
	// DeleteUnused removes unused tokens of the same email and type.
	DeleteUnused(ctx context.Context, email string, t MagicLinkType) error

	// Create stores a new token.
	Create(ctx context.Context, t *MagicLinkToken) error

	// GetByHash retrieves a token by hash and type.
	GetByHash(ctx context.Context, hash string, t MagicLinkType) (*MagicLinkToken, error)

	// MarkUsed sets used_at if still unused. Returns false when another request
	// consumed it first.
	MarkUsed(ctx context.Context, tokenID id.ID, at time.Time, ip, userAgent string) (bool, error)

	// DeleteExpired removes tokens that expired before cutoff.
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

// InvitationRepository persists tenant invitations in the central database.
type InvitationRepository interface {
	// Upsert stores an invitation, replacing any pending one for the same
	// tenant and email.
	Upsert(ctx context.Context, inv *Invitation) error

	// Take deletes and returns the unexpired invitation with the given hash.
	Take(ctx context.Context, hash string, now time.Time) (*Invitation, error)

	// DeleteExpired removes invitations that expired before cutoff.
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

// Denylist holds revoked access token ids until they expire.
type Denylist interface {
	Revoke(ctx context.Context, jti string, until time.Time) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// RateLimiter throttles attempts per key.
type RateLimiter interface {
	// Allow counts one attempt; when over the limit it returns false and the
	// time until the window resets.
	Allow(ctx context.Context, key string) (bool, time.Duration, error)

	// Reset clears the counter for key.
	Reset(ctx context.Context, key string) error
}

// Attachment is a file sent with a message.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Message is an outgoing email.
type Message struct {
	To          string
	Subject     string
	Body        string
	Attachments []Attachment
}

// Mailer sends email.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}
