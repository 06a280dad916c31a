package auth

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"hybridauth/internal/core/apperror"
	"hybridauth/internal/core/id"
	"hybridauth/internal/core/tx"
	"hybridauth/internal/domain/analytics"
	"hybridauth/internal/domain/identity"
	"hybridauth/pkg/logger"
)

// EmailVerifier marks an identity's email as verified and propagates it.
type EmailVerifier interface {
	MarkEmailVerified(ctx context.Context, c *identity.CentralIdentity) error
}

// MagicLinkService issues and consumes single-use email links.
type MagicLinkService struct {
	links      MagicLinkRepository
	central    tx.Manager
	identities identity.CentralRepository
	verifier   EmailVerifier
	login      *LoginService
	mailer     Mailer
	ttl        time.Duration
	appURL     string
	now        func() time.Time
}

// issueAttempts bounds retries when a concurrent Issue for the same pair
// commits first.
const issueAttempts = 3

// NewMagicLinkService creates the service. central is the transaction manager
// of the database holding links; appURL is the base of the links placed in
// emails.
func NewMagicLinkService(
	links MagicLinkRepository,
	central tx.Manager,
	identities identity.CentralRepository,
	verifier EmailVerifier,
	login *LoginService,
	mailer Mailer,
	ttl time.Duration,
	appURL string,
) *MagicLinkService {
	if ttl == 0 {
		ttl = MagicLinkTTL
	}
	if central == nil {
		central = tx.Passthrough
	}
	return &MagicLinkService{
		links:      links,
		central:    central,
		identities: identities,
		verifier:   verifier,
		login:      login,
		mailer:     mailer,
		ttl:        ttl,
		appURL:     appURL,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Issue stores a new link for (email, type) and returns the raw token. Prior
// unused links of the same pair are deleted in the same transaction, so at
// most one unused link per pair exists.
func (s *MagicLinkService) Issue(ctx context.Context, email string, typ MagicLinkType) (string, error) {
	if !typ.Valid() {
		return "", apperror.NewValidation(fmt.Sprintf("unknown magic link type %q", typ))
	}
	email = identity.NormalizeEmail(email)
	raw, err := randomHex(32)
	if err != nil {
		return "", apperror.NewInternal(fmt.Errorf("generate magic link: %w", err))
	}
	for attempt := 1; ; attempt++ {
		err = s.central.RunInTransaction(ctx, func(ctx context.Context) error {
			if err := s.links.DeleteUnused(ctx, email, typ); err != nil {
				return fmt.Errorf("invalidate previous links: %w", err)
			}
			now := s.now()
			return s.links.Create(ctx, &MagicLinkToken{
				ID:        id.New(),
				Email:     email,
				TokenHash: HashToken(raw),
				Type:      typ,
				ExpiresAt: now.Add(s.ttl),
				CreatedAt: now,
			})
		})
		if err == nil {
			return raw, nil
		}
		if !apperror.HasCode(err, apperror.CodeDuplicate) || attempt == issueAttempts {
			return "", fmt.Errorf("store magic link: %w", err)
		}
	}
}

// Request issues a link and mails it. Unknown emails succeed silently so the
// endpoint cannot be used to enumerate accounts.
func (s *MagicLinkService) Request(ctx context.Context, email string, typ MagicLinkType) error {
	email = identity.NormalizeEmail(email)
	c, err := s.identities.GetByEmail(ctx, email)
	if err != nil {
		if apperror.IsNotFound(err) {
			logger.Info(ctx, "magic link requested for unknown email")
			return nil
		}
		return err
	}
	if typ == MagicLinkEmailVerification && c.HasVerifiedEmail() {
		return nil
	}

	raw, err := s.Issue(ctx, email, typ)
	if err != nil {
		return err
	}
	return s.mailer.Send(ctx, s.message(c, raw, typ))
}

func (s *MagicLinkService) message(c *identity.CentralIdentity, raw string, typ MagicLinkType) Message {
	q := url.Values{"token": {raw}, "type": {string(typ)}}
	link := s.appURL + "/auth/magic-link?" + q.Encode()

	subject := "Your sign-in link"
	if typ == MagicLinkEmailVerification {
		subject = "Verify your email address"
	}
	return Message{
		To:      c.Email,
		Subject: subject,
		Body: fmt.Sprintf("Hello %s,\n\nUse this link within %d minutes:\n%s\n",
			c.Name, int(s.ttl.Minutes()), link),
	}
}

// Consume validates and burns a link. Login links return tokens; verification
// links verify the email and return the identity only.
func (s *MagicLinkService) Consume(ctx context.Context, raw string, typ MagicLinkType, meta Meta) (*LoginResult, error) {
	invalid := apperror.NewUnauthenticated("Invalid or expired link")
	if !typ.Valid() {
		return nil, apperror.NewValidation(fmt.Sprintf("unknown magic link type %q", typ))
	}

	link, err := s.links.GetByHash(ctx, HashToken(raw), typ)
	if err != nil {
		if apperror.IsNotFound(err) {
			return nil, invalid
		}
		return nil, err
	}
	now := s.now()
	if !link.IsUsable(now) {
		return nil, invalid
	}
	marked, err := s.links.MarkUsed(ctx, link.ID, now, meta.IP, meta.UserAgent)
	if err != nil {
		return nil, err
	}
	if !marked {
		return nil, invalid
	}

	c, err := s.identities.GetByEmail(ctx, link.Email)
	if err != nil {
		if apperror.IsNotFound(err) {
			return nil, invalid
		}
		return nil, err
	}

	if !c.HasVerifiedEmail() && !c.IsSuspended() {
		if err := s.verifier.MarkEmailVerified(ctx, c); err != nil {
			return nil, err
		}
	}
	if typ == MagicLinkEmailVerification {
		logger.Info(ctx, "email verified", "central_user_id", c.ID)
		return &LoginResult{Identity: c}, nil
	}

	if err := s.login.checkState(ctx, c, meta, analytics.MethodMagicLink); err != nil {
		return nil, err
	}
	return s.login.Complete(ctx, c, meta, analytics.MethodMagicLink, false)
}

// CleanupExpired deletes links that expired before now.
func (s *MagicLinkService) CleanupExpired(ctx context.Context) (int64, error) {
	return s.links.DeleteExpired(ctx, s.now())
}
