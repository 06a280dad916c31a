package auth

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hybridauth/internal/core/apperror"
	"hybridauth/internal/domain/analytics"
	"hybridauth/internal/domain/identity"
)

func TestLoginIssuesTokensAndRecordsEvent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := f.activeUser(t, "ada@example.com", "password123")

	res, err := f.login.Login(ctx, " ADA@example.com ", "password123", Meta{IP: "10.0.0.1", UserAgent: "Firefox", TenantID: "acme"})
	require.NoError(t, err)
	require.NotNil(t, res.Tokens)
	assert.False(t, res.TwoFactorRequired)
	assert.Equal(t, "Bearer", res.Tokens.TokenType)

	stored, err := f.identities.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.LoginCount)

	require.Len(t, f.sink.events, 1)
	e := f.sink.events[0]
	assert.True(t, e.Success)
	assert.Equal(t, analytics.MethodPassword, e.Method)
	require.NotNil(t, e.TenantID)
	assert.Equal(t, "acme", *e.TenantID)
}

func TestLoginFailuresAreUniform(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.activeUser(t, "ada@example.com", "password123")

	_, errUnknown := f.login.Login(ctx, "nobody@example.com", "password123", Meta{IP: "10.0.0.1"})
	_, errWrong := f.login.Login(ctx, "ada@example.com", "wrong-password", Meta{IP: "10.0.0.1"})

	for _, err := range []error{errUnknown, errWrong} {
		appErr, ok := apperror.AsAppError(err)
		require.True(t, ok)
		assert.Equal(t, apperror.CodeInvalidCredentials, appErr.Code)
		assert.Equal(t, 401, appErr.HTTPStatus)
		assert.Equal(t, "Invalid credentials", appErr.Message)
	}
	require.Len(t, f.sink.events, 2)
	assert.Nil(t, f.sink.events[0].CentralUserID)
	assert.NotNil(t, f.sink.events[1].CentralUserID)
}

func TestLoginAccountStateOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	suspended := f.activeUser(t, "suspended@example.com", "password123")
	suspended.Status = identity.StatusSuspended
	require.NoError(t, f.identities.Update(ctx, suspended))

	pending := identity.NewCentralIdentity("Pending", "pending@example.com")
	require.NoError(t, pending.SetPassword("password123", 4))
	require.NoError(t, f.identities.Create(ctx, pending))

	inactive := f.activeUser(t, "inactive@example.com", "password123")
	inactive.Status = identity.StatusInactive
	require.NoError(t, f.identities.Update(ctx, inactive))

	tests := []struct {
		email string
		code  string
	}{
		{"suspended@example.com", apperror.CodeAccountSuspended},
		{"pending@example.com", apperror.CodeEmailNotVerified},
		{"inactive@example.com", apperror.CodeUnauthenticated},
	}
	for _, tt := range tests {
		t.Run(tt.email, func(t *testing.T) {
			_, err := f.login.Login(ctx, tt.email, "password123", Meta{})
			assert.True(t, apperror.HasCode(err, tt.code), "got %v", err)
		})
	}
}

func TestLoginRateLimited(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.activeUser(t, "ada@example.com", "password123")

	for i := 0; i < 5; i++ {
		_, err := f.login.Login(ctx, "ada@example.com", "wrong-password", Meta{IP: "10.0.0.1"})
		require.True(t, apperror.HasCode(err, apperror.CodeInvalidCredentials))
	}
	_, err := f.login.Login(ctx, "ada@example.com", "password123", Meta{IP: "10.0.0.1"})
	appErr, ok := apperror.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperror.CodeRateLimited, appErr.Code)
	assert.Equal(t, 42, appErr.Details["retry_after"])

	_, err = f.login.Login(ctx, "ada@example.com", "password123", Meta{IP: "10.0.0.2"})
	assert.NoError(t, err)
}

func TestTwoFactorLoginFlow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := f.activeUser(t, "ada@example.com", "password123")

	setup, err := f.twoFactor.Setup(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(setup.URL, "otpauth://totp/"))

	code, err := totp.GenerateCode(setup.Secret, time.Now())
	require.NoError(t, err)
	recovery, err := f.twoFactor.Enable(ctx, c.ID, code)
	require.NoError(t, err)
	require.Len(t, recovery, RecoveryCodeCount)

	res, err := f.login.Login(ctx, "ada@example.com", "password123", Meta{})
	require.NoError(t, err)
	require.True(t, res.TwoFactorRequired)
	assert.Nil(t, res.Tokens)

	_, err = f.tokens.ValidateAccessToken(res.ChallengeToken)
	require.Error(t, err)

	_, err = f.login.CompleteTwoFactor(ctx, res.ChallengeToken, "000000", Meta{})
	if err != nil {
		assert.True(t, apperror.HasCode(err, apperror.CodeInvalidTwoFactor))
	}

	code, err = totp.GenerateCode(setup.Secret, time.Now())
	require.NoError(t, err)
	done, err := f.login.CompleteTwoFactor(ctx, res.ChallengeToken, code, Meta{})
	require.NoError(t, err)
	require.NotNil(t, done.Tokens)

	last := f.sink.events[len(f.sink.events)-1]
	assert.True(t, last.Success)
	assert.True(t, last.TwoFactorUsed)
}

func TestRecoveryCodeIsSingleUse(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := f.activeUser(t, "ada@example.com", "password123")

	setup, err := f.twoFactor.Setup(ctx, c.ID)
	require.NoError(t, err)
	code, err := totp.GenerateCode(setup.Secret, time.Now())
	require.NoError(t, err)
	recovery, err := f.twoFactor.Enable(ctx, c.ID, code)
	require.NoError(t, err)

	stored, err := f.identities.GetByID(ctx, c.ID)
	require.NoError(t, err)
	ok, err := f.twoFactor.Verify(ctx, stored, recovery[0])
	require.NoError(t, err)
	assert.True(t, ok)

	stored, err = f.identities.GetByID(ctx, c.ID)
	require.NoError(t, err)
	ok, err = f.twoFactor.Verify(ctx, stored, recovery[0])
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = f.twoFactor.Verify(ctx, stored, recovery[1])
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestTwoFactorDisable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := f.activeUser(t, "ada@example.com", "password123")

	setup, err := f.twoFactor.Setup(ctx, c.ID)
	require.NoError(t, err)
	code, err := totp.GenerateCode(setup.Secret, time.Now())
	require.NoError(t, err)
	_, err = f.twoFactor.Enable(ctx, c.ID, code)
	require.NoError(t, err)

	_, err = f.twoFactor.Setup(ctx, c.ID)
	assert.True(t, apperror.HasCode(err, apperror.CodeConflict))

	code, err = totp.GenerateCode(setup.Secret, time.Now())
	require.NoError(t, err)
	require.NoError(t, f.twoFactor.Disable(ctx, c.ID, code))

	stored, err := f.identities.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.False(t, stored.TwoFactorEnabled)
	assert.Empty(t, stored.TwoFactorSecret)
}

func TestSealerRoundTrip(t *testing.T) {
	s, err := NewSealer([]byte(strings.Repeat("k", 32)))
	require.NoError(t, err)

	sealed, err := s.Seal([]byte("JBSWY3DPEHPK3PXP"))
	require.NoError(t, err)
	assert.NotContains(t, string(sealed), "JBSWY3DPEHPK3PXP")

	plain, err := s.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "JBSWY3DPEHPK3PXP", string(plain))

	sealed[len(sealed)-1] ^= 0xff
	_, err = s.Open(sealed)
	assert.Error(t, err)

	_, err = NewSealer([]byte("short"))
	assert.Error(t, err)
}
