package identity

import (
	"context"
	"errors"
	"fmt"

	"hybridauth/internal/core/tenant"
	"hybridauth/pkg/logger"
)

// Syncer pushes central identity attributes into tenant projections.
type Syncer struct {
	registry  tenant.Registry
	activator tenant.Activator
	local     LocalRepository
	members   MembershipLister
	log       *logger.Logger
}

// NewSyncer creates a syncer.
func NewSyncer(registry tenant.Registry, activator tenant.Activator, local LocalRepository, members MembershipLister, log *logger.Logger) *Syncer {
	return &Syncer{
		registry:  registry,
		activator: activator,
		local:     local,
		members:   members,
		log:       log.WithComponent("identity-sync"),
	}
}

// EnsureProjection upserts the projection of c in the tenant scope held by ctx.
func (s *Syncer) EnsureProjection(ctx context.Context, c *CentralIdentity) (*LocalIdentity, error) {
	current, err := s.local.GetByGlobalID(ctx, c.GlobalID)
	if err == nil && current.InSyncWith(c) {
		return current, nil
	}
	return s.local.Upsert(ctx, ProjectionOf(c))
}

// SyncIdentity refreshes the projection of c in every tenant it belongs to.
// Inactive tenants are skipped. Failures in one tenant do not stop the others;
// all errors are returned joined.
func (s *Syncer) SyncIdentity(ctx context.Context, c *CentralIdentity) error {
	tenantIDs, err := s.members.TenantIDsOf(ctx, c.GlobalID)
	if err != nil {
		return fmt.Errorf("list memberships: %w", err)
	}

	var errs []error
	for _, tenantID := range tenantIDs {
		if err := s.syncInto(ctx, tenantID, c); err != nil {
			s.log.Warnw("identity sync failed", "tenant_id", tenantID, "global_id", c.GlobalID, "error", err)
			errs = append(errs, fmt.Errorf("tenant %s: %w", tenantID, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Syncer) syncInto(ctx context.Context, tenantID string, c *CentralIdentity) error {
	t, err := s.registry.GetByID(ctx, tenantID)
	if err != nil {
		return err
	}
	if !t.IsActive() {
		return nil
	}
	return s.InTenant(ctx, t, func(ctx context.Context) error {
		_, err := s.EnsureProjection(ctx, c)
		return err
	})
}

// InTenant runs fn inside an activated scope for t. A scope for t that is
// already active in ctx is reused.
func (s *Syncer) InTenant(ctx context.Context, t *tenant.Tenant, fn func(ctx context.Context) error) error {
	if tenant.GetTenantID(ctx) == t.ID {
		if _, err := tenant.GetTxManager(ctx); err == nil {
			return fn(ctx)
		}
	}
	scoped, deactivate, err := s.activator.Activate(ctx, t)
	if err != nil {
		return err
	}
	defer deactivate()
	return fn(scoped)
}
