package central_repo

import (
	"context"
	"fmt"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"

	"hybridauth/internal/core/apperror"
	"hybridauth/internal/domain/membership"
	"hybridauth/internal/infrastructure/storage/postgres"
)

// MembershipRepo implements membership.Repository over tenant_users.
type MembershipRepo struct {
	txm *postgres.TxManager
}

// NewMembershipRepo creates the repository.
func NewMembershipRepo(txm *postgres.TxManager) *MembershipRepo {
	return &MembershipRepo{txm: txm}
}

func (r *MembershipRepo) Create(ctx context.Context, e *membership.Edge) error {
	err := r.txm.GetQuerier(ctx).QueryRow(ctx, `
		INSERT INTO tenant_users (tenant_id, global_user_id, invited_by)
		VALUES ($1, $2, $3)
		RETURNING attached_at
	`, e.TenantID, e.GlobalID, e.InvitedBy).Scan(&e.AttachedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.NewDuplicate("membership", "global_id", e.GlobalID.String())
		}
		return fmt.Errorf("insert membership: %w", err)
	}
	return nil
}

func (r *MembershipRepo) Get(ctx context.Context, tenantID string, globalID uuid.UUID) (*membership.Edge, error) {
	var e membership.Edge
	err := pgxscan.Get(ctx, r.txm.GetQuerier(ctx), &e, `
		SELECT tenant_id, global_user_id, invited_by, attached_at
		FROM tenant_users WHERE tenant_id = $1 AND global_user_id = $2
	`, tenantID, globalID)
	if err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound("membership", globalID.String())
		}
		return nil, fmt.Errorf("query membership: %w", err)
	}
	return &e, nil
}

func (r *MembershipRepo) Exists(ctx context.Context, tenantID string, globalID uuid.UUID) (bool, error) {
	var ok bool
	err := r.txm.GetQuerier(ctx).QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM tenant_users WHERE tenant_id = $1 AND global_user_id = $2)
	`, tenantID, globalID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("check membership: %w", err)
	}
	return ok, nil
}

func (r *MembershipRepo) Delete(ctx context.Context, tenantID string, globalID uuid.UUID) error {
	_, err := r.txm.GetQuerier(ctx).Exec(ctx,
		`DELETE FROM tenant_users WHERE tenant_id = $1 AND global_user_id = $2`, tenantID, globalID)
	if err != nil {
		return fmt.Errorf("delete membership: %w", err)
	}
	return nil
}

func (r *MembershipRepo) TenantIDsOf(ctx context.Context, globalID uuid.UUID) ([]string, error) {
	var ids []string
	err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &ids,
		`SELECT tenant_id FROM tenant_users WHERE global_user_id = $1 ORDER BY tenant_id`, globalID)
	if err != nil {
		return nil, fmt.Errorf("list memberships: %w", err)
	}
	return ids, nil
}

func (r *MembershipRepo) ListByTenant(ctx context.Context, tenantID string) ([]membership.Edge, error) {
	var edges []membership.Edge
	err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &edges, `
		SELECT tenant_id, global_user_id, invited_by, attached_at
		FROM tenant_users WHERE tenant_id = $1 ORDER BY attached_at
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list tenant memberships: %w", err)
	}
	return edges, nil
}

var _ membership.Repository = (*MembershipRepo)(nil)
