// Package tenancy provisions tenants and applies version-checked updates to
// tenant records.
package tenancy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"hybridauth/internal/core/apperror"
	"hybridauth/internal/core/tenant"
	"hybridauth/internal/core/tx"
	"hybridauth/internal/domain/events"
	"hybridauth/internal/domain/membership"
	"hybridauth/internal/domain/rbac"
	"hybridauth/pkg/logger"
)

// Repository reads and writes tenant rows inside a central transaction.
type Repository interface {
	// GetForUpdate loads and row-locks a tenant. Must run inside a transaction.
	GetForUpdate(ctx context.Context, tenantID string) (*tenant.Tenant, error)

	// Update writes name, status, version and updated_at.
	Update(ctx context.Context, t *tenant.Tenant) error
}

// DatabaseProvisioner creates and initializes a tenant database.
type DatabaseProvisioner interface {
	CreateDatabase(ctx context.Context, t *tenant.Tenant) error
}

// MemberAttacher attaches the initial owner.
type MemberAttacher interface {
	Attach(ctx context.Context, in membership.AttachInput) (*membership.Edge, error)
}

// Invalidator drops cached state for a tenant after it changes.
type Invalidator interface {
	Invalidate(tenantID string)
}

// Patch holds optional tenant changes.
type Patch struct {
	Name   *string
	Status *tenant.Status
}

// ProvisionInput is a new tenant plus its optional owner.
type ProvisionInput struct {
	tenant.CreateInput
	OwnerGlobalID *uuid.UUID
}

// Service manages tenant records.
type Service struct {
	registry     tenant.Registry
	repo         Repository
	centralTx    tx.Manager
	provisioner  DatabaseProvisioner
	members      MemberAttacher
	publisher    events.Publisher
	invalidators []Invalidator
	now          func() time.Time
}

// NewService creates the tenancy service. provisioner and members may be nil.
func NewService(
	registry tenant.Registry,
	repo Repository,
	centralTx tx.Manager,
	provisioner DatabaseProvisioner,
	members MemberAttacher,
	publisher events.Publisher,
	invalidators ...Invalidator,
) *Service {
	return &Service{
		registry:     registry,
		repo:         repo,
		centralTx:    centralTx,
		provisioner:  provisioner,
		members:      members,
		publisher:    publisher,
		invalidators: invalidators,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Get returns a tenant by id.
func (s *Service) Get(ctx context.Context, tenantID string) (*tenant.Tenant, error) {
	t, err := s.registry.GetByID(ctx, tenantID)
	if err != nil {
		return nil, mapNotFound(err, tenantID)
	}
	return t, nil
}

// List returns all tenants.
func (s *Service) List(ctx context.Context) ([]*tenant.Tenant, error) {
	return s.registry.ListAll(ctx)
}

// Provision registers the tenant in the provisioning state, creates its
// database, then activates it at version 1 and attaches the owner. A tenant
// left provisioning by a failed attempt is resumed by the next call with the
// same id; a registration that fails leaves no database behind.
func (s *Service) Provision(ctx context.Context, in ProvisionInput) (*tenant.Tenant, error) {
	if err := in.Validate(); err != nil {
		return nil, apperror.NewValidation(err.Error())
	}

	t := &tenant.Tenant{
		ID:      in.ID,
		Name:    in.Name,
		Status:  tenant.StatusProvisioning,
		DBName:  in.DBName(),
		DBHost:  in.DBHost,
		DBPort:  in.DBPort,
		Domains: in.Domains,
	}
	existing, err := s.registry.GetByID(ctx, in.ID)
	switch {
	case err == nil && existing.Status == tenant.StatusProvisioning:
		logger.Info(ctx, "resuming tenant provisioning", "tenant_id", existing.ID)
		t = existing
	case err == nil:
		return nil, apperror.NewDuplicate("tenant", "id", in.ID)
	case !errors.Is(err, tenant.ErrTenantNotFound):
		return nil, err
	default:
		if err := s.registry.Create(ctx, t); err != nil {
			switch {
			case errors.Is(err, tenant.ErrTenantExists):
				return nil, apperror.NewDuplicate("tenant", "id", in.ID)
			case errors.Is(err, tenant.ErrDomainTaken):
				return nil, apperror.NewConflict("Domain already assigned to another tenant")
			}
			return nil, err
		}
	}

	if s.provisioner != nil {
		if err := s.provisioner.CreateDatabase(ctx, t); err != nil {
			return nil, fmt.Errorf("create tenant database: %w", err)
		}
	}
	if err := s.activate(ctx, t); err != nil {
		return nil, err
	}
	s.invalidate(t.ID)

	if in.OwnerGlobalID != nil && s.members != nil {
		if _, err := s.members.Attach(ctx, membership.AttachInput{
			TenantID: t.ID,
			GlobalID: *in.OwnerGlobalID,
			Role:     rbac.RoleOwner,
		}); err != nil {
			return nil, fmt.Errorf("attach owner: %w", err)
		}
	}
	logger.Info(ctx, "tenant provisioned", "tenant_id", t.ID, "db_name", t.DBName)
	return t, nil
}

// activate moves a provisioning tenant to active without bumping its version.
func (s *Service) activate(ctx context.Context, t *tenant.Tenant) error {
	return s.centralTx.RunInTransaction(ctx, func(ctx context.Context) error {
		stored, err := s.repo.GetForUpdate(ctx, t.ID)
		if err != nil {
			return mapNotFound(err, t.ID)
		}
		if stored.Status != tenant.StatusProvisioning {
			*t = *stored
			return nil
		}
		stored.Status = tenant.StatusActive
		stored.UpdatedAt = s.now()
		if err := s.repo.Update(ctx, stored); err != nil {
			return err
		}
		*t = *stored
		return s.publisher.Publish(ctx, events.New(events.TenantProvisioned, t.ID, map[string]any{
			"tenant_id": t.ID,
			"name":      t.Name,
		}))
	})
}

// Update applies patch if the stored version equals expectedVersion, bumping
// the version by one. A mismatch is a CONCURRENCY_CONFLICT carrying both
// versions; nothing is retried.
func (s *Service) Update(ctx context.Context, tenantID string, expectedVersion int64, patch Patch) (*tenant.Tenant, error) {
	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return nil, apperror.NewValidation("name must not be empty")
		}
		patch.Name = &name
	}
	if patch.Status != nil && !patch.Status.Valid() {
		return nil, apperror.NewValidation(fmt.Sprintf("unknown status %q", *patch.Status))
	}

	var updated *tenant.Tenant
	err := s.centralTx.RunInTransaction(ctx, func(ctx context.Context) error {
		t, err := s.repo.GetForUpdate(ctx, tenantID)
		if err != nil {
			return mapNotFound(err, tenantID)
		}
		if t.Status == tenant.StatusProvisioning {
			return apperror.NewConflict("Tenant is still being provisioned")
		}
		if t.Version != expectedVersion {
			return apperror.NewConcurrencyConflict("tenant", tenantID, expectedVersion, t.Version)
		}
		if patch.Name != nil {
			t.Name = *patch.Name
		}
		if patch.Status != nil {
			t.Status = *patch.Status
		}
		t.Version++
		t.UpdatedAt = s.now()
		if err := s.repo.Update(ctx, t); err != nil {
			return err
		}
		updated = t
		return s.publisher.Publish(ctx, events.New(events.TenantUpdated, t.ID, map[string]any{
			"tenant_id": t.ID,
			"name":      t.Name,
			"status":    string(t.Status),
			"version":   t.Version,
		}))
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(tenantID)
	logger.Info(ctx, "tenant updated", "tenant_id", tenantID, "version", updated.Version)
	return updated, nil
}

// Suspend sets the tenant to suspended at its current version.
func (s *Service) Suspend(ctx context.Context, tenantID string) (*tenant.Tenant, error) {
	return s.setStatus(ctx, tenantID, tenant.StatusSuspended)
}

// Activate sets the tenant to active at its current version.
func (s *Service) Activate(ctx context.Context, tenantID string) (*tenant.Tenant, error) {
	return s.setStatus(ctx, tenantID, tenant.StatusActive)
}

func (s *Service) setStatus(ctx context.Context, tenantID string, status tenant.Status) (*tenant.Tenant, error) {
	t, err := s.Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if t.Status == status {
		return t, nil
	}
	return s.Update(ctx, tenantID, t.Version, Patch{Status: &status})
}

// AddDomain assigns a custom domain to a tenant.
func (s *Service) AddDomain(ctx context.Context, tenantID, domain string) error {
	domain = tenant.NormalizeDomain(domain)
	if domain == "" || !strings.Contains(domain, ".") {
		return apperror.NewValidation(fmt.Sprintf("invalid domain %q", domain))
	}
	if err := s.registry.AddDomain(ctx, tenantID, domain); err != nil {
		if errors.Is(err, tenant.ErrDomainTaken) {
			return apperror.NewDuplicate("domain", "domain", domain)
		}
		return mapNotFound(err, tenantID)
	}
	s.invalidate(tenantID)
	return nil
}

// RemoveDomain detaches a custom domain.
func (s *Service) RemoveDomain(ctx context.Context, tenantID, domain string) error {
	if err := s.registry.RemoveDomain(ctx, tenantID, tenant.NormalizeDomain(domain)); err != nil {
		return mapNotFound(err, tenantID)
	}
	s.invalidate(tenantID)
	return nil
}

func (s *Service) invalidate(tenantID string) {
	for _, inv := range s.invalidators {
		inv.Invalidate(tenantID)
	}
}

func mapNotFound(err error, tenantID string) error {
	if errors.Is(err, tenant.ErrTenantNotFound) {
		return apperror.NewNotFound("tenant", tenantID)
	}
	return err
}
