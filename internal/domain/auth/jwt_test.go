package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hybridauth/internal/domain/identity"
)

func TestAccessTokenRoundTrip(t *testing.T) {
	svc, err := NewTokenService(DefaultJWTConfig("secret"))
	require.NoError(t, err)

	c := identity.NewCentralIdentity("Ada", "ada@example.com")
	c.Status = identity.StatusActive
	c.TwoFactorEnabled = true

	tok, err := svc.IssueAccessToken(c)
	require.NoError(t, err)
	assert.NotEmpty(t, tok.JTI)

	claims, err := svc.ValidateAccessToken(tok.Token)
	require.NoError(t, err)
	assert.Equal(t, c.ID.String(), claims.Subject)
	assert.Equal(t, tok.JTI, claims.ID)
	assert.Equal(t, "ada@example.com", claims.Email)
	assert.Equal(t, "Ada", claims.Name)
	assert.Equal(t, "active", claims.Status)
	assert.True(t, claims.TwoFactorEnabled)

	sub, err := claims.CentralUserID()
	require.NoError(t, err)
	assert.Equal(t, c.ID, sub)
}

func TestValidateRejectsTamperedAndExpired(t *testing.T) {
	svc, err := NewTokenService(DefaultJWTConfig("secret"))
	require.NoError(t, err)
	c := identity.NewCentralIdentity("Ada", "ada@example.com")

	tok, err := svc.IssueAccessToken(c)
	require.NoError(t, err)

	other, err := NewTokenService(DefaultJWTConfig("other-secret"))
	require.NoError(t, err)
	_, err = other.ValidateAccessToken(tok.Token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	svc.now = func() time.Time { return time.Now().Add(-time.Hour) }
	old, err := svc.IssueAccessToken(c)
	require.NoError(t, err)
	svc.now = time.Now
	_, err = svc.ValidateAccessToken(old.Token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateRejectsNoneAlgorithm(t *testing.T) {
	svc, err := NewTokenService(DefaultJWTConfig("secret"))
	require.NoError(t, err)

	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		ID:        "x",
		Issuer:    "hybridauth",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = svc.ValidateAccessToken(unsigned)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestChallengeIsNotAnAccessToken(t *testing.T) {
	svc, err := NewTokenService(DefaultJWTConfig("secret"))
	require.NoError(t, err)
	c := identity.NewCentralIdentity("Ada", "ada@example.com")

	challenge, err := svc.IssueChallenge(c)
	require.NoError(t, err)
	_, err = svc.ValidateAccessToken(challenge.Token)
	assert.ErrorIs(t, err, ErrTokenPurpose)

	claims, err := svc.ValidateChallenge(challenge.Token)
	require.NoError(t, err)
	assert.Equal(t, PurposeTwoFactor, claims.Purpose)

	access, err := svc.IssueAccessToken(c)
	require.NoError(t, err)
	_, err = svc.ValidateChallenge(access.Token)
	assert.ErrorIs(t, err, ErrTokenPurpose)
}

func TestEmptySecretRejected(t *testing.T) {
	_, err := NewTokenService(JWTConfig{})
	assert.ErrorIs(t, err, ErrMissingSecret)
}
