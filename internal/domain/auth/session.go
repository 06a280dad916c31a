package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"hybridauth/internal/core/apperror"
	"hybridauth/internal/core/id"
	"hybridauth/internal/core/tx"
	"hybridauth/internal/domain/identity"
	"hybridauth/pkg/logger"
)

// ErrIdentityInactive is the cause attached when a valid token belongs to an
// account that may no longer authenticate.
var ErrIdentityInactive = errors.New("identity is not active")

// SessionConfig configures refresh token handling.
type SessionConfig struct {
	RefreshTTL    time.Duration
	RotateRefresh bool

	// LocalDenylistSize bounds the in-process denylist used when no shared
	// denylist is given.
	LocalDenylistSize int
}

// DefaultSessionConfig returns a 30 day TTL with rotation on.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{RefreshTTL: RefreshTokenTTL, RotateRefresh: true}
}

// SessionService owns the lifecycle of token pairs.
type SessionService struct {
	tokens     *TokenService
	refresh    RefreshTokenRepository
	central    tx.Manager
	identities identity.CentralRepository
	denylist   Denylist
	config     SessionConfig
	now        func() time.Time
}

// NewSessionService creates the session service. central is the transaction
// manager of the database holding refresh tokens. A nil denylist is replaced
// by a LocalDenylist sized for the access token lifetime.
func NewSessionService(
	tokens *TokenService,
	refresh RefreshTokenRepository,
	central tx.Manager,
	identities identity.CentralRepository,
	denylist Denylist,
	config SessionConfig,
) *SessionService {
	if config.RefreshTTL == 0 {
		config.RefreshTTL = RefreshTokenTTL
	}
	if central == nil {
		central = tx.Passthrough
	}
	if denylist == nil {
		denylist = NewLocalDenylist(config.LocalDenylistSize, tokens.AccessTTL())
	}
	return &SessionService{
		tokens:     tokens,
		refresh:    refresh,
		central:    central,
		identities: identities,
		denylist:   denylist,
		config:     config,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Tokens returns the underlying token service.
func (s *SessionService) Tokens() *TokenService { return s.tokens }

// IssuePair signs an access token and stores a new refresh token for c.
func (s *SessionService) IssuePair(ctx context.Context, c *identity.CentralIdentity) (*TokenPair, error) {
	access, err := s.tokens.IssueAccessToken(c)
	if err != nil {
		return nil, apperror.NewInternal(err)
	}
	tokenID, err := randomHex(32)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("generate refresh token: %w", err))
	}
	now := s.now()
	rt := &RefreshToken{
		TokenID:       tokenID,
		CentralUserID: c.ID,
		JTI:           access.JTI,
		ExpiresAt:     now.Add(s.config.RefreshTTL),
		CreatedAt:     now,
	}
	if err := s.refresh.Create(ctx, rt); err != nil {
		return nil, fmt.Errorf("store refresh token: %w", err)
	}
	return s.pair(access, tokenID), nil
}

func (s *SessionService) pair(access AccessToken, refreshID string) *TokenPair {
	return &TokenPair{
		AccessToken:  access.Token,
		RefreshToken: refreshID,
		TokenType:    "Bearer",
		ExpiresAt:    access.ExpiresAt,
		ExpiresIn:    int(s.tokens.AccessTTL().Seconds()),
	}
}

// Refresh exchanges a refresh token for a new access token. With rotation on,
// the presented token is revoked and a new one returned; of two concurrent
// refreshes with the same token only the one that revokes it succeeds.
func (s *SessionService) Refresh(ctx context.Context, tokenID string, meta Meta) (*TokenPair, error) {
	rt, err := s.refresh.Get(ctx, tokenID)
	if err != nil {
		if apperror.IsNotFound(err) {
			return nil, apperror.NewUnauthenticated("Invalid refresh token")
		}
		return nil, err
	}
	now := s.now()
	if !rt.IsUsable(now) {
		return nil, apperror.NewUnauthenticated("Refresh token expired or revoked")
	}

	c, err := s.identities.GetByID(ctx, rt.CentralUserID)
	if err != nil {
		if apperror.IsNotFound(err) {
			return nil, apperror.NewUnauthenticated("Invalid refresh token")
		}
		return nil, err
	}
	if !c.IsActive() {
		return nil, apperror.NewUnauthenticated("Account is not active").WithCause(ErrIdentityInactive)
	}

	if !s.config.RotateRefresh {
		access, err := s.tokens.IssueAccessToken(c)
		if err != nil {
			return nil, apperror.NewInternal(err)
		}
		if err := s.refresh.Touch(ctx, tokenID, access.JTI, meta.IP, meta.UserAgent, now); err != nil {
			return nil, fmt.Errorf("touch refresh token: %w", err)
		}
		return s.pair(access, tokenID), nil
	}

	var next *TokenPair
	err = s.central.RunInTransaction(ctx, func(ctx context.Context) error {
		revoked, err := s.refresh.Revoke(ctx, tokenID)
		if err != nil {
			return fmt.Errorf("revoke rotated refresh token: %w", err)
		}
		if !revoked {
			return apperror.NewUnauthenticated("Refresh token expired or revoked")
		}
		if err := s.refresh.Touch(ctx, tokenID, rt.JTI, meta.IP, meta.UserAgent, now); err != nil {
			return fmt.Errorf("touch refresh token: %w", err)
		}
		next, err = s.IssuePair(ctx, c)
		return err
	})
	if err != nil {
		return nil, err
	}
	return next, nil
}

// Authenticate validates a bearer token and loads its active identity.
// Every failure is UNAUTHENTICATED; inactive accounts carry ErrIdentityInactive.
func (s *SessionService) Authenticate(ctx context.Context, token string) (*identity.CentralIdentity, *Claims, error) {
	claims, err := s.tokens.ValidateAccessToken(token)
	if err != nil {
		return nil, nil, apperror.NewUnauthenticated("Invalid or expired token").WithCause(err)
	}
	revoked, err := s.denylist.IsRevoked(ctx, claims.ID)
	if err != nil {
		return nil, nil, apperror.NewUnavailable("Token revocation check failed").WithCause(err)
	}
	if revoked {
		return nil, nil, apperror.NewUnauthenticated("Token has been revoked")
	}
	centralID, err := claims.CentralUserID()
	if err != nil {
		return nil, nil, apperror.NewUnauthenticated("Invalid token subject").WithCause(err)
	}
	c, err := s.identities.GetByID(ctx, centralID)
	if err != nil {
		if apperror.IsNotFound(err) {
			return nil, nil, apperror.NewUnauthenticated("Unknown identity")
		}
		return nil, nil, err
	}
	if !c.IsActive() {
		return nil, nil, apperror.NewUnauthenticated("Account is not active").WithCause(ErrIdentityInactive)
	}
	return c, claims, nil
}

// Logout denylists the access token until it expires and revokes the given
// refresh token if it belongs to the same user.
func (s *SessionService) Logout(ctx context.Context, claims *Claims, refreshTokenID string) error {
	if claims.ExpiresAt != nil {
		if err := s.denylist.Revoke(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
			return fmt.Errorf("denylist access token: %w", err)
		}
	}
	if refreshTokenID == "" {
		return nil
	}
	rt, err := s.refresh.Get(ctx, refreshTokenID)
	if err != nil {
		if apperror.IsNotFound(err) {
			return nil
		}
		return err
	}
	if rt.CentralUserID.String() != claims.Subject {
		logger.Warn(ctx, "logout with foreign refresh token ignored", "central_user_id", claims.Subject)
		return nil
	}
	if _, err := s.refresh.Revoke(ctx, refreshTokenID); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

// RevokeAll revokes every refresh token of a user.
func (s *SessionService) RevokeAll(ctx context.Context, centralID id.ID) error {
	return s.refresh.RevokeAllForUser(ctx, centralID)
}

// CleanupExpired deletes refresh tokens that expired before now.
func (s *SessionService) CleanupExpired(ctx context.Context) (int64, error) {
	return s.refresh.DeleteExpired(ctx, s.now())
}
