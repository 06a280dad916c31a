package identity

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"hybridauth/internal/core/apperror"
	"hybridauth/internal/core/id"
	"hybridauth/internal/core/tx"
	"hybridauth/internal/domain/events"
	"hybridauth/pkg/logger"
)

// Projector refreshes tenant projections after a central change.
type Projector interface {
	SyncIdentity(ctx context.Context, c *CentralIdentity) error
}

// SessionRevoker revokes every refresh token of an identity.
type SessionRevoker interface {
	RevokeAll(ctx context.Context, centralID id.ID) error
}

// Service manages central identity state. Every change to a synced attribute
// is pushed to all tenant projections after the central commit.
type Service struct {
	repo       CentralRepository
	txm        tx.Manager
	projector  Projector
	publisher  events.Publisher
	revoker    SessionRevoker
	bcryptCost int
}

// NewService creates the identity service. revoker may be nil.
func NewService(repo CentralRepository, txm tx.Manager, projector Projector, publisher events.Publisher, revoker SessionRevoker) *Service {
	return &Service{
		repo:       repo,
		txm:        txm,
		projector:  projector,
		publisher:  publisher,
		revoker:    revoker,
		bcryptCost: bcrypt.DefaultCost,
	}
}

// SetBcryptCost overrides the hashing cost (tests use bcrypt.MinCost).
func (s *Service) SetBcryptCost(cost int) { s.bcryptCost = cost }

// BcryptCost returns the configured hashing cost.
func (s *Service) BcryptCost() int { return s.bcryptCost }

// Get returns an identity by central id.
func (s *Service) Get(ctx context.Context, centralID id.ID) (*CentralIdentity, error) {
	return s.repo.GetByID(ctx, centralID)
}

// ProfileUpdate holds optional profile changes.
type ProfileUpdate struct {
	Name        *string
	Email       *string
	Preferences map[string]any
}

// UpdateProfile changes name, email or preferences. A changed email resets
// verification.
func (s *Service) UpdateProfile(ctx context.Context, centralID id.ID, upd ProfileUpdate) (*CentralIdentity, error) {
	var updated *CentralIdentity
	err := s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		c, err := s.repo.GetByID(ctx, centralID)
		if err != nil {
			return err
		}
		if upd.Name != nil {
			c.Name = strings.TrimSpace(*upd.Name)
		}
		if upd.Email != nil {
			email := NormalizeEmail(*upd.Email)
			if email != c.Email {
				if other, err := s.repo.GetByEmail(ctx, email); err == nil && other.ID != c.ID {
					return apperror.NewDuplicate("user", "email", email)
				}
				c.Email = email
				c.EmailVerifiedAt = nil
			}
		}
		if upd.Preferences != nil {
			c.Preferences = upd.Preferences
		}
		if err := c.Validate(); err != nil {
			return apperror.NewValidation(err.Error())
		}
		c.UpdatedAt = time.Now().UTC()
		if err := s.repo.Update(ctx, c); err != nil {
			return err
		}
		updated = c
		return s.publishUpdated(ctx, c)
	})
	if err != nil {
		return nil, err
	}
	s.sync(ctx, updated)
	return updated, nil
}

// ChangePassword verifies the current password and sets a new one.
// All refresh tokens are revoked.
func (s *Service) ChangePassword(ctx context.Context, centralID id.ID, current, next string) error {
	c, err := s.repo.GetByID(ctx, centralID)
	if err != nil {
		return err
	}
	if !c.CheckPassword(current) {
		return apperror.NewInvalidCredentials()
	}
	if err := c.SetPassword(next, s.bcryptCost); err != nil {
		return apperror.NewValidation(err.Error())
	}
	c.UpdatedAt = time.Now().UTC()
	if err := s.repo.Update(ctx, c); err != nil {
		return err
	}
	return s.revokeSessions(ctx, c.ID)
}

// SetStatus moves the account to a new status and propagates it to every
// tenant. Suspension and deactivation revoke all refresh tokens.
func (s *Service) SetStatus(ctx context.Context, centralID id.ID, status Status) (*CentralIdentity, error) {
	if !status.Valid() {
		return nil, apperror.NewValidation(fmt.Sprintf("unknown status %q", status))
	}
	c, err := s.repo.GetByID(ctx, centralID)
	if err != nil {
		return nil, err
	}
	if c.Status == status {
		return c, nil
	}
	if status == StatusActive && !c.HasVerifiedEmail() {
		return nil, apperror.NewEmailNotVerified()
	}
	c.Status = status
	c.UpdatedAt = time.Now().UTC()
	if err := s.repo.Update(ctx, c); err != nil {
		return nil, err
	}
	if status == StatusSuspended || status == StatusInactive {
		if err := s.revokeSessions(ctx, c.ID); err != nil {
			return nil, err
		}
	}
	logger.Info(ctx, "identity status changed", "central_user_id", c.ID, "status", status)
	if err := s.publishUpdated(ctx, c); err != nil {
		return nil, err
	}
	s.sync(ctx, c)
	return c, nil
}

// MarkEmailVerified verifies the email of c, activating a pending account.
func (s *Service) MarkEmailVerified(ctx context.Context, c *CentralIdentity) error {
	c.MarkEmailVerified(time.Now().UTC())
	if err := s.repo.Update(ctx, c); err != nil {
		return err
	}
	if err := s.publishUpdated(ctx, c); err != nil {
		return err
	}
	s.sync(ctx, c)
	return nil
}

func (s *Service) publishUpdated(ctx context.Context, c *CentralIdentity) error {
	return s.publisher.Publish(ctx, events.New(events.IdentityUpdated, "", map[string]any{
		"global_id": c.GlobalID.String(),
	}))
}

func (s *Service) revokeSessions(ctx context.Context, centralID id.ID) error {
	if s.revoker == nil {
		return nil
	}
	return s.revoker.RevokeAll(ctx, centralID)
}

// sync never fails the caller. The central write is committed and the worker
// replays the identity.updated event for tenants that were unreachable.
func (s *Service) sync(ctx context.Context, c *CentralIdentity) {
	if s.projector == nil {
		return
	}
	if err := s.projector.SyncIdentity(ctx, c); err != nil {
		logger.Warn(ctx, "identity projection sync incomplete", "global_id", c.GlobalID, "error", err)
	}
}
