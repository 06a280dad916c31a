package auth

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"hybridauth/internal/core/apperror"
	"hybridauth/internal/core/id"
	"hybridauth/internal/core/tx"
	"hybridauth/internal/domain/events"
	"hybridauth/internal/domain/identity"
	"hybridauth/internal/domain/membership"
	"hybridauth/internal/domain/rbac"
	"hybridauth/pkg/logger"
)

// InviteTarget validates invited roles and attaches accepted invitees.
type InviteTarget interface {
	CheckRole(ctx context.Context, tenantID, role string) error
	Attach(ctx context.Context, in membership.AttachInput) (*membership.Edge, error)
}

// InvitationInput invites an email into a tenant.
type InvitationInput struct {
	TenantID  string
	Email     string
	Role      string // defaults to rbac.RoleMember
	InvitedBy *uuid.UUID
}

// InvitationService invites people without an account into a tenant. The
// invitee sets a name and password on acceptance and joins with the invited
// role and a verified email.
type InvitationService struct {
	invitations InvitationRepository
	central     tx.Manager
	identities  identity.CentralRepository
	publisher   events.Publisher
	target      InviteTarget
	mailer      Mailer
	appURL      string
	ttl         time.Duration
	bcryptCost  int
	now         func() time.Time
}

// NewInvitationService creates the service.
func NewInvitationService(
	invitations InvitationRepository,
	central tx.Manager,
	identities identity.CentralRepository,
	publisher events.Publisher,
	target InviteTarget,
	mailer Mailer,
	appURL string,
) *InvitationService {
	if central == nil {
		central = tx.Passthrough
	}
	return &InvitationService{
		invitations: invitations,
		central:     central,
		identities:  identities,
		publisher:   publisher,
		target:      target,
		mailer:      mailer,
		appURL:      appURL,
		ttl:         InvitationTTL,
		bcryptCost:  bcrypt.DefaultCost,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// SetBcryptCost overrides the hashing cost.
func (s *InvitationService) SetBcryptCost(cost int) { s.bcryptCost = cost }

// CreateInvitation stores an invitation and mails its link. A pending
// invitation for the same tenant and email is replaced. Emails that already
// have an account are rejected; those are attached directly.
func (s *InvitationService) CreateInvitation(ctx context.Context, in InvitationInput) (*Invitation, error) {
	email := identity.NormalizeEmail(in.Email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, apperror.NewValidation("A valid email is required").WithDetail("field", "email")
	}
	role := in.Role
	if role == "" {
		role = rbac.RoleMember
	}
	if err := s.target.CheckRole(ctx, in.TenantID, role); err != nil {
		return nil, err
	}
	if _, err := s.identities.GetByEmail(ctx, email); err == nil {
		return nil, apperror.NewConflict("An account with this email already exists").WithDetail("email", email)
	} else if !apperror.IsNotFound(err) {
		return nil, err
	}

	raw, err := randomHex(32)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("generate invitation token: %w", err))
	}
	now := s.now()
	inv := &Invitation{
		ID:        id.New(),
		TenantID:  in.TenantID,
		Email:     email,
		TokenHash: HashToken(raw),
		Role:      role,
		InvitedBy: in.InvitedBy,
		ExpiresAt: now.Add(s.ttl),
		CreatedAt: now,
	}
	if err := s.invitations.Upsert(ctx, inv); err != nil {
		return nil, fmt.Errorf("store invitation: %w", err)
	}
	if err := s.mailer.Send(ctx, s.message(inv, raw)); err != nil {
		return nil, fmt.Errorf("send invitation: %w", err)
	}
	logger.Info(ctx, "invitation sent", "tenant_id", inv.TenantID, "role", inv.Role)
	return inv, nil
}

func (s *InvitationService) message(inv *Invitation, raw string) Message {
	q := url.Values{"token": {raw}}
	link := s.appURL + "/invitations/accept?" + q.Encode()
	return Message{
		To:      inv.Email,
		Subject: "You have been invited to " + inv.TenantID,
		Body: fmt.Sprintf("Hello,\n\nYou have been invited to join %s as %s.\nAccept within %d days:\n%s\n",
			inv.TenantID, inv.Role, int(s.ttl.Hours()/24), link),
	}
}

// AcceptInvitation consumes an invitation, creates the invitee's identity
// with a verified email and attaches it to the tenant with the invited role.
func (s *InvitationService) AcceptInvitation(ctx context.Context, raw, name, password string) (*identity.CentralIdentity, error) {
	if strings.TrimSpace(name) == "" {
		return nil, apperror.NewValidation("name is required").WithDetail("field", "name")
	}
	if len(password) < identity.MinPasswordLength {
		return nil, apperror.NewValidation(
			fmt.Sprintf("password must be at least %d characters", identity.MinPasswordLength)).
			WithDetail("field", "password")
	}

	var (
		inv *Invitation
		c   *identity.CentralIdentity
	)
	err := s.central.RunInTransaction(ctx, func(ctx context.Context) error {
		now := s.now()
		var err error
		inv, err = s.invitations.Take(ctx, HashToken(raw), now)
		if err != nil {
			if apperror.IsNotFound(err) {
				return apperror.NewValidation("Invalid or expired invitation token").WithDetail("field", "token")
			}
			return err
		}
		if _, err := s.identities.GetByEmail(ctx, inv.Email); err == nil {
			return apperror.NewDuplicate("user", "email", inv.Email)
		} else if !apperror.IsNotFound(err) {
			return err
		}

		c = identity.NewCentralIdentity(name, inv.Email)
		if err := c.Validate(); err != nil {
			return apperror.NewValidation(err.Error())
		}
		if err := c.SetPassword(password, s.bcryptCost); err != nil {
			return apperror.NewValidation(err.Error()).WithDetail("field", "password")
		}
		c.MarkEmailVerified(now)
		if err := s.identities.Create(ctx, c); err != nil {
			return err
		}
		return s.publisher.Publish(ctx, events.New(events.UserCreated, inv.TenantID, map[string]any{
			"global_id": c.GlobalID.String(),
			"email":     c.Email,
			"name":      c.Name,
		}))
	})
	if err != nil {
		return nil, err
	}

	if _, err := s.target.Attach(ctx, membership.AttachInput{
		TenantID:  inv.TenantID,
		GlobalID:  c.GlobalID,
		Role:      inv.Role,
		InvitedBy: inv.InvitedBy,
	}); err != nil {
		logger.Error(ctx, "attach invited user failed", "tenant_id", inv.TenantID, "global_id", c.GlobalID, "error", err)
		return nil, fmt.Errorf("attach invited user: %w", err)
	}
	logger.Info(ctx, "invitation accepted", "tenant_id", inv.TenantID, "global_id", c.GlobalID, "role", inv.Role)
	return c, nil
}

// CleanupExpired deletes invitations that expired before now.
func (s *InvitationService) CleanupExpired(ctx context.Context) (int64, error) {
	return s.invitations.DeleteExpired(ctx, s.now())
}
