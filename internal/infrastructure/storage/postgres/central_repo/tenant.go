package central_repo

import (
	"context"
	"fmt"

	"github.com/georgysavva/scany/v2/pgxscan"

	"hybridauth/internal/core/apperror"
	"hybridauth/internal/core/tenant"
	"hybridauth/internal/domain/tenancy"
	"hybridauth/internal/infrastructure/storage/postgres"
)

// TenantRepo implements the locked read and versioned write used by tenant updates.
type TenantRepo struct {
	txm *postgres.TxManager
}

// NewTenantRepo creates the repository.
func NewTenantRepo(txm *postgres.TxManager) *TenantRepo {
	return &TenantRepo{txm: txm}
}

func (r *TenantRepo) GetForUpdate(ctx context.Context, tenantID string) (*tenant.Tenant, error) {
	if r.txm.GetTx(ctx) == nil {
		return nil, fmt.Errorf("GetForUpdate requires a transaction")
	}
	var t tenant.Tenant
	err := pgxscan.Get(ctx, r.txm.GetQuerier(ctx), &t, `
		SELECT id, name, version, status, db_name, db_host, db_port, created_at, updated_at,
		       COALESCE(ARRAY(SELECT d.domain FROM tenant_domains d WHERE d.tenant_id = tenants.id ORDER BY d.domain), '{}') AS domains
		FROM tenants WHERE id = $1
		FOR UPDATE
	`, tenantID)
	if err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound("tenant", tenantID)
		}
		return nil, fmt.Errorf("lock tenant: %w", err)
	}
	return &t, nil
}

func (r *TenantRepo) Update(ctx context.Context, t *tenant.Tenant) error {
	tag, err := r.txm.GetQuerier(ctx).Exec(ctx, `
		UPDATE tenants SET name = $2, status = $3, version = $4, updated_at = $5 WHERE id = $1
	`, t.ID, t.Name, t.Status, t.Version, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update tenant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewNotFound("tenant", t.ID)
	}
	return nil
}

var _ tenancy.Repository = (*TenantRepo)(nil)
