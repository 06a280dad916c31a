package membership

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"hybridauth/internal/core/apperror"
	"hybridauth/internal/core/tenant"
	"hybridauth/internal/core/tx"
	"hybridauth/internal/domain/events"
	"hybridauth/internal/domain/identity"
	"hybridauth/internal/domain/rbac"
	"hybridauth/pkg/logger"
)

// ErrNoAccount is the cause attached when an invited email has no identity.
var ErrNoAccount = errors.New("no account for email")

// Service attaches identities to tenants and manages their tenant roles.
type Service struct {
	edges      Repository
	centralTx  tx.Manager
	identities identity.CentralRepository
	registry   tenant.Registry
	syncer     *identity.Syncer
	local      identity.LocalRepository
	roles      *rbac.RoleService
	directory  Directory
	publisher  events.Publisher
}

// Deps groups the collaborators of Service.
type Deps struct {
	Edges      Repository
	CentralTx  tx.Manager
	Identities identity.CentralRepository
	Registry   tenant.Registry
	Syncer     *identity.Syncer
	Local      identity.LocalRepository
	Roles      *rbac.RoleService
	Directory  Directory
	Publisher  events.Publisher
}

// NewService creates the membership service.
func NewService(d Deps) *Service {
	return &Service{
		edges:      d.Edges,
		centralTx:  d.CentralTx,
		identities: d.Identities,
		registry:   d.Registry,
		syncer:     d.Syncer,
		local:      d.Local,
		roles:      d.Roles,
		directory:  d.Directory,
		publisher:  d.Publisher,
	}
}

func (s *Service) activeTenant(ctx context.Context, tenantID string) (*tenant.Tenant, error) {
	t, err := s.registry.GetByID(ctx, tenantID)
	if err != nil {
		if errors.Is(err, tenant.ErrTenantNotFound) {
			return nil, apperror.NewTenantNotFound(tenantID)
		}
		return nil, err
	}
	if !t.IsActive() {
		return nil, apperror.NewTenantNotFound(tenantID)
	}
	return t, nil
}

// UserCanAccessTenant reports whether the membership edge exists.
func (s *Service) UserCanAccessTenant(ctx context.Context, tenantID string, globalID uuid.UUID) (bool, error) {
	return s.edges.Exists(ctx, tenantID, globalID)
}

// TenantIDsOf lists the tenants an identity belongs to.
func (s *Service) TenantIDsOf(ctx context.Context, globalID uuid.UUID) ([]string, error) {
	return s.edges.TenantIDsOf(ctx, globalID)
}

// TenantsOf returns the active tenants an identity belongs to.
func (s *Service) TenantsOf(ctx context.Context, globalID uuid.UUID) ([]*tenant.Tenant, error) {
	ids, err := s.edges.TenantIDsOf(ctx, globalID)
	if err != nil {
		return nil, err
	}
	out := make([]*tenant.Tenant, 0, len(ids))
	for _, tid := range ids {
		t, err := s.registry.GetByID(ctx, tid)
		if err != nil {
			if errors.Is(err, tenant.ErrTenantNotFound) {
				continue
			}
			return nil, err
		}
		if t.IsActive() {
			out = append(out, t)
		}
	}
	return out, nil
}

// Attach adds an identity to a tenant with a role (member by default). The
// role must exist in the tenant. The edge is removed again if the tenant-side
// work fails.
func (s *Service) Attach(ctx context.Context, in AttachInput) (*Edge, error) {
	if in.Role == "" {
		in.Role = rbac.RoleMember
	}
	t, err := s.activeTenant(ctx, in.TenantID)
	if err != nil {
		return nil, err
	}
	c, err := s.identities.GetByGlobalID(ctx, in.GlobalID)
	if err != nil {
		return nil, err
	}
	exists, err := s.edges.Exists(ctx, t.ID, c.GlobalID)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, apperror.NewConflict("User is already attached to this tenant").
			WithDetail("tenant_id", t.ID)
	}

	edge := &Edge{
		TenantID:   t.ID,
		GlobalID:   c.GlobalID,
		InvitedBy:  in.InvitedBy,
		AttachedAt: time.Now().UTC(),
	}

	err = s.syncer.InTenant(ctx, t, func(ctx context.Context) error {
		if _, err := s.roles.GetRole(ctx, in.Role); err != nil {
			return err
		}
		if err := s.centralTx.RunInTransaction(ctx, func(ctx context.Context) error {
			if err := s.edges.Create(ctx, edge); err != nil {
				return err
			}
			return s.publisher.Publish(ctx, events.New(events.UserAttached, t.ID, map[string]any{
				"global_id": c.GlobalID.String(),
				"email":     c.Email,
				"role":      in.Role,
			}))
		}); err != nil {
			return err
		}

		local, err := s.syncer.EnsureProjection(ctx, c)
		if err == nil {
			err = s.roles.AssignRole(ctx, local.ID, in.Role)
		}
		if err != nil {
			if derr := s.edges.Delete(ctx, t.ID, c.GlobalID); derr != nil {
				logger.Error(ctx, "rollback membership edge failed", "tenant_id", t.ID, "global_id", c.GlobalID, "error", derr)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "user attached to tenant", "tenant_id", t.ID, "global_id", c.GlobalID, "role", in.Role)
	return edge, nil
}

// CheckRole verifies that role exists in an active tenant.
func (s *Service) CheckRole(ctx context.Context, tenantID, role string) error {
	t, err := s.activeTenant(ctx, tenantID)
	if err != nil {
		return err
	}
	return s.syncer.InTenant(ctx, t, func(ctx context.Context) error {
		_, err := s.roles.GetRole(ctx, role)
		return err
	})
}

// AttachIdentity attaches an already loaded identity.
func (s *Service) AttachIdentity(ctx context.Context, tenantID string, c *identity.CentralIdentity, role string) error {
	_, err := s.Attach(ctx, AttachInput{TenantID: tenantID, GlobalID: c.GlobalID, Role: role})
	return err
}

// Invite attaches an existing identity found by email. The identity must have
// a verified email.
func (s *Service) Invite(ctx context.Context, tenantID, email, role string, inviter uuid.UUID) (*Edge, error) {
	c, err := s.identities.GetByEmail(ctx, identity.NormalizeEmail(email))
	if err != nil {
		if apperror.IsNotFound(err) {
			return nil, apperror.NewNotFound("user", email).WithCause(ErrNoAccount)
		}
		return nil, err
	}
	if !c.HasVerifiedEmail() {
		return nil, apperror.NewValidation("User email is not verified").WithDetail("email", c.Email)
	}
	return s.Attach(ctx, AttachInput{TenantID: tenantID, GlobalID: c.GlobalID, Role: role, InvitedBy: &inviter})
}

// Detach removes an identity from a tenant: its tenant roles and projection
// are deleted, the central identity is kept.
func (s *Service) Detach(ctx context.Context, tenantID string, globalID uuid.UUID) error {
	t, err := s.activeTenant(ctx, tenantID)
	if err != nil {
		return err
	}
	if _, err := s.edges.Get(ctx, t.ID, globalID); err != nil {
		return err
	}

	err = s.syncer.InTenant(ctx, t, func(ctx context.Context) error {
		txm, err := tenant.GetTxManager(ctx)
		if err != nil {
			return apperror.NewInternal(err)
		}
		return txm.RunInTransaction(ctx, func(ctx context.Context) error {
			local, err := s.local.GetByGlobalID(ctx, globalID)
			if err != nil {
				if apperror.IsNotFound(err) {
					return nil
				}
				return err
			}
			if err := s.roles.RemoveAllRoles(ctx, local.ID); err != nil {
				return err
			}
			return s.local.DeleteByGlobalID(ctx, globalID)
		})
	})
	if err != nil {
		return err
	}

	err = s.centralTx.RunInTransaction(ctx, func(ctx context.Context) error {
		if err := s.edges.Delete(ctx, t.ID, globalID); err != nil {
			return err
		}
		return s.publisher.Publish(ctx, events.New(events.UserDetached, t.ID, map[string]any{
			"global_id": globalID.String(),
		}))
	})
	if err != nil {
		return fmt.Errorf("delete membership: %w", err)
	}
	logger.Info(ctx, "user detached from tenant", "tenant_id", t.ID, "global_id", globalID)
	return nil
}

// DetachAll removes an identity from every tenant it belongs to and returns
// their ids. Memberships of suspended or missing tenants lose only the central
// edge; their projections are unreachable until the tenant is reactivated.
func (s *Service) DetachAll(ctx context.Context, globalID uuid.UUID) ([]string, error) {
	ids, err := s.edges.TenantIDsOf(ctx, globalID)
	if err != nil {
		return nil, err
	}
	for _, tid := range ids {
		err := s.Detach(ctx, tid, globalID)
		if apperror.HasCode(err, apperror.CodeTenantNotFound) {
			err = s.centralTx.RunInTransaction(ctx, func(ctx context.Context) error {
				if err := s.edges.Delete(ctx, tid, globalID); err != nil {
					return err
				}
				return s.publisher.Publish(ctx, events.New(events.UserDetached, tid, map[string]any{
					"global_id": globalID.String(),
				}))
			})
		}
		if err != nil {
			return nil, fmt.Errorf("detach from %s: %w", tid, err)
		}
	}
	return ids, nil
}

// UpdateUserRole replaces the member's roles with role.
func (s *Service) UpdateUserRole(ctx context.Context, tenantID string, globalID uuid.UUID, role string) error {
	t, err := s.activeTenant(ctx, tenantID)
	if err != nil {
		return err
	}
	if _, err := s.edges.Get(ctx, t.ID, globalID); err != nil {
		return err
	}
	return s.syncer.InTenant(ctx, t, func(ctx context.Context) error {
		local, err := s.local.GetByGlobalID(ctx, globalID)
		if err != nil {
			if apperror.IsNotFound(err) {
				return apperror.NewNotSynchronized(t.ID)
			}
			return err
		}
		return s.roles.SyncRoles(ctx, local.ID, role)
	})
}

// GetUserRoles returns the member's role names, or nil if not a member.
func (s *Service) GetUserRoles(ctx context.Context, tenantID string, globalID uuid.UUID) ([]string, error) {
	t, err := s.activeTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	ok, err := s.edges.Exists(ctx, t.ID, globalID)
	if err != nil || !ok {
		return nil, err
	}
	var names []string
	err = s.syncer.InTenant(ctx, t, func(ctx context.Context) error {
		local, err := s.local.GetByGlobalID(ctx, globalID)
		if err != nil {
			if apperror.IsNotFound(err) {
				return nil
			}
			return err
		}
		names, err = s.roles.RolesOf(ctx, local.ID)
		return err
	})
	return names, err
}

// ListTenantUsers lists members of the tenant bound to ctx, annotated with
// their attach time.
func (s *Service) ListTenantUsers(ctx context.Context, f UserFilter) (*UserPage, error) {
	t := tenant.GetTenant(ctx)
	if t == nil {
		return nil, apperror.NewInternal(tenant.ErrNoScope)
	}
	f.Normalize()
	users, total, err := s.directory.ListUsers(ctx, f)
	if err != nil {
		return nil, err
	}
	edges, err := s.edges.ListByTenant(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	attached := make(map[uuid.UUID]time.Time, len(edges))
	for _, e := range edges {
		attached[e.GlobalID] = e.AttachedAt
	}
	for i := range users {
		if at, ok := attached[users[i].GlobalID]; ok {
			at := at
			users[i].AttachedAt = &at
		}
	}
	return &UserPage{Users: users, Total: total, Limit: f.Limit, Offset: f.Offset}, nil
}

// Reconcile repairs the projections of every member of an active tenant:
// missing rows are created and drifted rows rewritten from the central
// identity. It returns the number of members checked.
func (s *Service) Reconcile(ctx context.Context, tenantID string) (int, error) {
	t, err := s.activeTenant(ctx, tenantID)
	if err != nil {
		return 0, err
	}
	edges, err := s.edges.ListByTenant(ctx, t.ID)
	if err != nil {
		return 0, fmt.Errorf("list members: %w", err)
	}
	if len(edges) == 0 {
		return 0, nil
	}

	checked := 0
	err = s.syncer.InTenant(ctx, t, func(ctx context.Context) error {
		var errs []error
		for _, e := range edges {
			c, err := s.identities.GetByGlobalID(ctx, e.GlobalID)
			if err != nil {
				errs = append(errs, fmt.Errorf("load %s: %w", e.GlobalID, err))
				continue
			}
			if _, err := s.syncer.EnsureProjection(ctx, c); err != nil {
				errs = append(errs, fmt.Errorf("project %s: %w", e.GlobalID, err))
				continue
			}
			checked++
		}
		return errors.Join(errs...)
	})
	return checked, err
}
