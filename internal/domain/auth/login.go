package auth

import (
	"context"
	"math"
	"time"

	"hybridauth/internal/core/apperror"
	"hybridauth/internal/domain/analytics"
	"hybridauth/internal/domain/identity"
	"hybridauth/pkg/logger"
)

// Failure reasons recorded in analytics.
const (
	reasonInvalidCredentials = "invalid_credentials"
	reasonSuspended          = "account_suspended"
	reasonUnverified         = "email_not_verified"
	reasonInactive           = "account_inactive"
	reasonInvalidTwoFactor   = "invalid_two_factor_code"
	reasonRateLimited        = "rate_limited"
)

// LoginService authenticates central identities by password.
type LoginService struct {
	identities identity.CentralRepository
	sessions   *SessionService
	twoFactor  *TwoFactorService
	limiter    RateLimiter
	recorder   analytics.Recorder
	now        func() time.Time
}

// NewLoginService creates the login service. limiter and recorder may be nil.
func NewLoginService(
	identities identity.CentralRepository,
	sessions *SessionService,
	twoFactor *TwoFactorService,
	limiter RateLimiter,
	recorder analytics.Recorder,
) *LoginService {
	return &LoginService{
		identities: identities,
		sessions:   sessions,
		twoFactor:  twoFactor,
		limiter:    limiter,
		recorder:   recorder,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func rateKey(email, ip string) string {
	return "login:" + email + "|" + ip
}

// Login checks the password and account state. Unknown emails and wrong
// passwords fail identically. With two-factor enabled the result carries a
// challenge token instead of tokens.
func (s *LoginService) Login(ctx context.Context, email, password string, meta Meta) (*LoginResult, error) {
	email = identity.NormalizeEmail(email)
	key := rateKey(email, meta.IP)

	if s.limiter != nil {
		allowed, retry, err := s.limiter.Allow(ctx, key)
		if err != nil {
			logger.Warn(ctx, "login rate limiter unavailable", "error", err)
		} else if !allowed {
			s.recordFailure(ctx, nil, meta, analytics.MethodPassword, reasonRateLimited)
			return nil, apperror.NewRateLimited(int(math.Ceil(retry.Seconds())))
		}
	}

	c, err := s.identities.GetByEmail(ctx, email)
	if err != nil {
		if apperror.IsNotFound(err) {
			s.recordFailure(ctx, nil, meta, analytics.MethodPassword, reasonInvalidCredentials)
			return nil, apperror.NewInvalidCredentials()
		}
		return nil, err
	}
	if !c.CheckPassword(password) {
		s.recordFailure(ctx, c, meta, analytics.MethodPassword, reasonInvalidCredentials)
		return nil, apperror.NewInvalidCredentials()
	}
	if err := s.checkState(ctx, c, meta, analytics.MethodPassword); err != nil {
		return nil, err
	}

	if s.limiter != nil {
		if err := s.limiter.Reset(ctx, key); err != nil {
			logger.Warn(ctx, "reset login rate limit failed", "error", err)
		}
	}

	if c.TwoFactorEnabled {
		challenge, err := s.sessions.Tokens().IssueChallenge(c)
		if err != nil {
			return nil, apperror.NewInternal(err)
		}
		return &LoginResult{Identity: c, TwoFactorRequired: true, ChallengeToken: challenge.Token}, nil
	}
	return s.Complete(ctx, c, meta, analytics.MethodPassword, false)
}

// checkState enforces account state in login order: suspended, unverified,
// then any other non-active status.
func (s *LoginService) checkState(ctx context.Context, c *identity.CentralIdentity, meta Meta, method analytics.Method) error {
	switch {
	case c.IsSuspended():
		s.recordFailure(ctx, c, meta, method, reasonSuspended)
		return apperror.NewAccountSuspended()
	case c.Status == identity.StatusPendingVerification || !c.HasVerifiedEmail():
		s.recordFailure(ctx, c, meta, method, reasonUnverified)
		return apperror.NewEmailNotVerified()
	case !c.IsActive():
		s.recordFailure(ctx, c, meta, method, reasonInactive)
		return apperror.NewUnauthenticated("Account is not active").WithCause(ErrIdentityInactive)
	}
	return nil
}

// CompleteTwoFactor exchanges a challenge token and a TOTP or recovery code
// for tokens.
func (s *LoginService) CompleteTwoFactor(ctx context.Context, challenge, code string, meta Meta) (*LoginResult, error) {
	claims, err := s.sessions.Tokens().ValidateChallenge(challenge)
	if err != nil {
		return nil, apperror.NewUnauthenticated("Invalid or expired challenge").WithCause(err)
	}
	centralID, err := claims.CentralUserID()
	if err != nil {
		return nil, apperror.NewUnauthenticated("Invalid challenge subject").WithCause(err)
	}
	c, err := s.identities.GetByID(ctx, centralID)
	if err != nil {
		if apperror.IsNotFound(err) {
			return nil, apperror.NewUnauthenticated("Unknown identity")
		}
		return nil, err
	}
	if err := s.checkState(ctx, c, meta, analytics.MethodPassword); err != nil {
		return nil, err
	}
	ok, err := s.twoFactor.Verify(ctx, c, code)
	if err != nil {
		return nil, err
	}
	if !ok {
		s.recordFailure(ctx, c, meta, analytics.MethodPassword, reasonInvalidTwoFactor)
		return nil, apperror.NewInvalidTwoFactor()
	}
	return s.Complete(ctx, c, meta, analytics.MethodPassword, true)
}

// Complete finishes a successful authentication: login statistics, tokens and
// the analytics event.
func (s *LoginService) Complete(ctx context.Context, c *identity.CentralIdentity, meta Meta, method analytics.Method, twoFactor bool) (*LoginResult, error) {
	now := s.now()
	if err := s.identities.RecordLogin(ctx, c.ID, now); err != nil {
		return nil, err
	}
	c.RecordLogin(now)

	pair, err := s.sessions.IssuePair(ctx, c)
	if err != nil {
		return nil, err
	}

	e := analytics.NewLoginEvent(method, true, meta.IP, meta.UserAgent).
		ForUser(c.ID, c.GlobalID).
		InTenant(meta.TenantID)
	e.TwoFactorUsed = twoFactor
	s.record(ctx, e)

	logger.Info(ctx, "user logged in", "central_user_id", c.ID, "method", method, "two_factor", twoFactor)
	return &LoginResult{Identity: c, Tokens: pair}, nil
}

func (s *LoginService) recordFailure(ctx context.Context, c *identity.CentralIdentity, meta Meta, method analytics.Method, reason string) {
	e := analytics.NewLoginEvent(method, false, meta.IP, meta.UserAgent).InTenant(meta.TenantID)
	e.FailureReason = reason
	if c != nil {
		e.ForUser(c.ID, c.GlobalID)
	}
	s.record(ctx, e)
}

// record never fails the login.
func (s *LoginService) record(ctx context.Context, e *analytics.LoginEvent) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.RecordLogin(ctx, e); err != nil {
		logger.Warn(ctx, "record login event failed", "error", err, "success", e.Success)
	}
}
