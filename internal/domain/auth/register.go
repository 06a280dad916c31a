package auth

import (
	"context"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"hybridauth/internal/core/apperror"
	"hybridauth/internal/core/tx"
	"hybridauth/internal/domain/events"
	"hybridauth/internal/domain/identity"
	"hybridauth/internal/domain/rbac"
	"hybridauth/pkg/logger"
)

// TenantAttacher adds an identity to a tenant.
type TenantAttacher interface {
	AttachIdentity(ctx context.Context, tenantID string, c *identity.CentralIdentity, role string) error
}

// RegisterInput is a self-service sign-up.
type RegisterInput struct {
	Name     string
	Email    string
	Password string
	TenantID string // optional
	Role     string // defaults to rbac.RoleMember
}

// RegisterService creates central identities.
type RegisterService struct {
	identities identity.CentralRepository
	txm        tx.Manager
	publisher  events.Publisher
	links      *MagicLinkService
	attacher   TenantAttacher
	bcryptCost int
}

// NewRegisterService creates the service. attacher may be nil when sign-up
// never targets a tenant.
func NewRegisterService(
	identities identity.CentralRepository,
	txm tx.Manager,
	publisher events.Publisher,
	links *MagicLinkService,
	attacher TenantAttacher,
) *RegisterService {
	return &RegisterService{
		identities: identities,
		txm:        txm,
		publisher:  publisher,
		links:      links,
		attacher:   attacher,
		bcryptCost: bcrypt.DefaultCost,
	}
}

// SetBcryptCost overrides the hashing cost.
func (s *RegisterService) SetBcryptCost(cost int) { s.bcryptCost = cost }

// Register creates a pending identity, emits user.created and mails a
// verification link. When a tenant is given the identity is attached to it.
func (s *RegisterService) Register(ctx context.Context, in RegisterInput) (*identity.CentralIdentity, error) {
	c := identity.NewCentralIdentity(in.Name, in.Email)
	if err := c.Validate(); err != nil {
		return nil, apperror.NewValidation(err.Error())
	}
	if err := c.SetPassword(in.Password, s.bcryptCost); err != nil {
		return nil, apperror.NewValidation(err.Error()).WithDetail("field", "password")
	}

	err := s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		if _, err := s.identities.GetByEmail(ctx, c.Email); err == nil {
			return apperror.NewDuplicate("user", "email", c.Email)
		} else if !apperror.IsNotFound(err) {
			return err
		}
		if err := s.identities.Create(ctx, c); err != nil {
			return err
		}
		return s.publisher.Publish(ctx, events.New(events.UserCreated, in.TenantID, map[string]any{
			"global_id": c.GlobalID.String(),
			"email":     c.Email,
			"name":      c.Name,
		}))
	})
	if err != nil {
		return nil, err
	}
	logger.Info(ctx, "user registered", "central_user_id", c.ID, "global_id", c.GlobalID)

	if tenantID := strings.TrimSpace(in.TenantID); tenantID != "" && s.attacher != nil {
		role := in.Role
		if role == "" {
			role = rbac.RoleMember
		}
		if err := s.attacher.AttachIdentity(ctx, tenantID, c, role); err != nil {
			return nil, err
		}
	}

	if s.links != nil {
		if err := s.links.Request(ctx, c.Email, MagicLinkEmailVerification); err != nil {
			logger.Warn(ctx, "send verification link failed", "central_user_id", c.ID, "error", err)
		}
	}
	return c, nil
}

// VerifyEmail consumes a verification link.
func (s *RegisterService) VerifyEmail(ctx context.Context, token string, meta Meta) (*identity.CentralIdentity, error) {
	res, err := s.links.Consume(ctx, token, MagicLinkEmailVerification, meta)
	if err != nil {
		return nil, err
	}
	return res.Identity, nil
}

// ResendVerification mails a fresh verification link.
func (s *RegisterService) ResendVerification(ctx context.Context, email string) error {
	return s.links.Request(ctx, email, MagicLinkEmailVerification)
}
