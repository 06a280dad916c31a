// Package auth issues and validates credentials for central identities:
// access and refresh tokens, password and magic-link login, registration and
// two-factor authentication.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"hybridauth/internal/domain/identity"
)

// PurposeTwoFactor marks a challenge token that may only be exchanged at the
// two-factor endpoint.
const PurposeTwoFactor = "2fa"

var (
	ErrInvalidToken  = errors.New("invalid token")
	ErrTokenPurpose  = errors.New("token has wrong purpose")
	ErrMissingSecret = errors.New("jwt secret is empty")
)

// JWTConfig holds JWT configuration.
type JWTConfig struct {
	Secret       string
	Issuer       string
	AccessTTL    time.Duration
	ChallengeTTL time.Duration
}

// DefaultJWTConfig returns default JWT configuration.
func DefaultJWTConfig(secret string) JWTConfig {
	return JWTConfig{
		Secret:       secret,
		Issuer:       "hybridauth",
		AccessTTL:    15 * time.Minute,
		ChallengeTTL: 5 * time.Minute,
	}
}

// Claims represents JWT claims. The subject is the central user id.
type Claims struct {
	jwt.RegisteredClaims
	Email            string `json:"email"`
	Name             string `json:"name"`
	Status           string `json:"status"`
	TwoFactorEnabled bool   `json:"two_factor_enabled"`
	Purpose          string `json:"purpose,omitempty"`
}

// CentralUserID parses the subject.
func (c *Claims) CentralUserID() (uuid.UUID, error) {
	return uuid.Parse(c.Subject)
}

// AccessToken is a signed access token with its identifiers.
type AccessToken struct {
	Token     string
	JTI       string
	ExpiresAt time.Time
}

// TokenService signs and validates HS256 tokens.
type TokenService struct {
	config JWTConfig
	now    func() time.Time
}

// NewTokenService creates a new token service.
func NewTokenService(config JWTConfig) (*TokenService, error) {
	if config.Secret == "" {
		return nil, ErrMissingSecret
	}
	if config.ChallengeTTL == 0 {
		config.ChallengeTTL = 5 * time.Minute
	}
	return &TokenService{config: config, now: time.Now}, nil
}

// AccessTTL returns the configured access token lifetime.
func (s *TokenService) AccessTTL() time.Duration { return s.config.AccessTTL }

// IssueAccessToken signs an access token for c.
func (s *TokenService) IssueAccessToken(c *identity.CentralIdentity) (AccessToken, error) {
	return s.issue(c, "", s.config.AccessTTL)
}

// IssueChallenge signs a short-lived token that proves the password step of a
// two-factor login.
func (s *TokenService) IssueChallenge(c *identity.CentralIdentity) (AccessToken, error) {
	return s.issue(c, PurposeTwoFactor, s.config.ChallengeTTL)
}

func (s *TokenService) issue(c *identity.CentralIdentity, purpose string, ttl time.Duration) (AccessToken, error) {
	now := s.now()
	expiresAt := now.Add(ttl)
	jti := uuid.NewString()

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Issuer:    s.config.Issuer,
			Subject:   c.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Email:            c.Email,
		Name:             c.Name,
		Status:           string(c.Status),
		TwoFactorEnabled: c.TwoFactorEnabled,
		Purpose:          purpose,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.config.Secret))
	if err != nil {
		return AccessToken{}, fmt.Errorf("sign token: %w", err)
	}
	return AccessToken{Token: signed, JTI: jti, ExpiresAt: expiresAt}, nil
}

// ValidateAccessToken checks signature and expiry and rejects challenge tokens.
func (s *TokenService) ValidateAccessToken(token string) (*Claims, error) {
	claims, err := s.parse(token)
	if err != nil {
		return nil, err
	}
	if claims.Purpose != "" {
		return nil, ErrTokenPurpose
	}
	return claims, nil
}

// ValidateChallenge accepts only two-factor challenge tokens.
func (s *TokenService) ValidateChallenge(token string) (*Claims, error) {
	claims, err := s.parse(token)
	if err != nil {
		return nil, err
	}
	if claims.Purpose != PurposeTwoFactor {
		return nil, ErrTokenPurpose
	}
	return claims, nil
}

func (s *TokenService) parse(token string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.config.Secret), nil
	},
		jwt.WithIssuer(s.config.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.ID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
