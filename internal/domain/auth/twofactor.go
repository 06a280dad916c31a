package auth

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"hybridauth/internal/core/apperror"
	"hybridauth/internal/core/id"
	"hybridauth/internal/domain/identity"
	"hybridauth/pkg/logger"
)

// RecoveryCodeCount is how many recovery codes Enable generates.
const RecoveryCodeCount = 8

var totpOpts = totp.ValidateOpts{
	Period:    30,
	Skew:      1,
	Digits:    otp.DigitsSix,
	Algorithm: otp.AlgorithmSHA1,
}

// TwoFactorSetup is returned by Setup for the authenticator app.
type TwoFactorSetup struct {
	Secret string `json:"secret"`
	URL    string `json:"otpauth_url"`
}

// TwoFactorService manages TOTP enrollment and verification.
type TwoFactorService struct {
	identities identity.CentralRepository
	sealer     *Sealer
	issuer     string
	now        func() time.Time
}

// NewTwoFactorService creates the service. issuer is shown in authenticator apps.
func NewTwoFactorService(identities identity.CentralRepository, sealer *Sealer, issuer string) *TwoFactorService {
	return &TwoFactorService{
		identities: identities,
		sealer:     sealer,
		issuer:     issuer,
		now:        time.Now,
	}
}

// Setup generates and stores a new secret. Two-factor stays disabled until
// Enable confirms a code.
func (s *TwoFactorService) Setup(ctx context.Context, centralID id.ID) (*TwoFactorSetup, error) {
	c, err := s.identities.GetByID(ctx, centralID)
	if err != nil {
		return nil, err
	}
	if c.TwoFactorEnabled {
		return nil, apperror.NewConflict("Two-factor authentication is already enabled")
	}
	key, err := totp.Generate(totp.GenerateOpts{Issuer: s.issuer, AccountName: c.Email})
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("generate totp key: %w", err))
	}
	sealed, err := s.sealer.Seal([]byte(key.Secret()))
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("seal totp secret: %w", err))
	}
	c.TwoFactorSecret = sealed
	c.RecoveryCodes = nil
	c.UpdatedAt = s.now().UTC()
	if err := s.identities.Update(ctx, c); err != nil {
		return nil, err
	}
	return &TwoFactorSetup{Secret: key.Secret(), URL: key.URL()}, nil
}

// Enable confirms the pending secret with a TOTP code and returns fresh
// recovery codes. They are shown once.
func (s *TwoFactorService) Enable(ctx context.Context, centralID id.ID, code string) ([]string, error) {
	c, err := s.identities.GetByID(ctx, centralID)
	if err != nil {
		return nil, err
	}
	if c.TwoFactorEnabled {
		return nil, apperror.NewConflict("Two-factor authentication is already enabled")
	}
	if len(c.TwoFactorSecret) == 0 {
		return nil, apperror.NewValidation("Two-factor setup has not been started")
	}
	ok, err := s.verifyTOTP(c, code)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperror.NewInvalidTwoFactor()
	}

	codes := make([]string, RecoveryCodeCount)
	for i := range codes {
		raw, err := randomHex(5)
		if err != nil {
			return nil, apperror.NewInternal(err)
		}
		codes[i] = raw[:5] + "-" + raw[5:]
	}
	if err := s.storeRecoveryCodes(c, codes); err != nil {
		return nil, err
	}
	c.TwoFactorEnabled = true
	c.UpdatedAt = s.now().UTC()
	if err := s.identities.Update(ctx, c); err != nil {
		return nil, err
	}
	logger.Info(ctx, "two-factor enabled", "central_user_id", c.ID)
	return codes, nil
}

// Disable turns two-factor off after verifying a TOTP or recovery code.
func (s *TwoFactorService) Disable(ctx context.Context, centralID id.ID, code string) error {
	c, err := s.identities.GetByID(ctx, centralID)
	if err != nil {
		return err
	}
	if !c.TwoFactorEnabled {
		return apperror.NewValidation("Two-factor authentication is not enabled")
	}
	ok, err := s.Verify(ctx, c, code)
	if err != nil {
		return err
	}
	if !ok {
		return apperror.NewInvalidTwoFactor()
	}
	c.TwoFactorEnabled = false
	c.TwoFactorSecret = nil
	c.RecoveryCodes = nil
	c.UpdatedAt = s.now().UTC()
	if err := s.identities.Update(ctx, c); err != nil {
		return err
	}
	logger.Info(ctx, "two-factor disabled", "central_user_id", c.ID)
	return nil
}

// Verify accepts a current TOTP code (one step of clock skew either way) or
// an unused recovery code. A recovery code is consumed on success.
func (s *TwoFactorService) Verify(ctx context.Context, c *identity.CentralIdentity, code string) (bool, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return false, nil
	}
	ok, err := s.verifyTOTP(c, code)
	if err != nil || ok {
		return ok, err
	}

	codes, err := s.recoveryCodes(c)
	if err != nil {
		return false, err
	}
	for i, rc := range codes {
		if subtle.ConstantTimeCompare([]byte(rc), []byte(code)) != 1 {
			continue
		}
		remaining := append(codes[:i:i], codes[i+1:]...)
		if err := s.storeRecoveryCodes(c, remaining); err != nil {
			return false, err
		}
		c.UpdatedAt = s.now().UTC()
		if err := s.identities.Update(ctx, c); err != nil {
			return false, err
		}
		logger.Info(ctx, "recovery code used", "central_user_id", c.ID, "remaining", len(remaining))
		return true, nil
	}
	return false, nil
}

func (s *TwoFactorService) verifyTOTP(c *identity.CentralIdentity, code string) (bool, error) {
	if len(c.TwoFactorSecret) == 0 {
		return false, nil
	}
	secret, err := s.sealer.Open(c.TwoFactorSecret)
	if err != nil {
		return false, apperror.NewInternal(fmt.Errorf("open totp secret: %w", err))
	}
	ok, err := totp.ValidateCustom(code, string(secret), s.now().UTC(), totpOpts)
	if err != nil {
		// malformed codes are simply wrong
		return false, nil
	}
	return ok, nil
}

func (s *TwoFactorService) recoveryCodes(c *identity.CentralIdentity) ([]string, error) {
	if len(c.RecoveryCodes) == 0 {
		return nil, nil
	}
	plain, err := s.sealer.Open(c.RecoveryCodes)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("open recovery codes: %w", err))
	}
	if len(plain) == 0 {
		return nil, nil
	}
	return strings.Split(string(plain), "\n"), nil
}

func (s *TwoFactorService) storeRecoveryCodes(c *identity.CentralIdentity, codes []string) error {
	sealed, err := s.sealer.Seal([]byte(strings.Join(codes, "\n")))
	if err != nil {
		return apperror.NewInternal(fmt.Errorf("seal recovery codes: %w", err))
	}
	c.RecoveryCodes = sealed
	return nil
}
