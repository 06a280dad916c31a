// Package tenant_repo provides PostgreSQL repositories over tenant databases.
// Repositories are stateless: the tenant TxManager is taken from the scope
// bound to ctx on every call.
package tenant_repo

import (
	"context"
	"fmt"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"

	"hybridauth/internal/core/apperror"
	"hybridauth/internal/domain/identity"
	"hybridauth/internal/infrastructure/storage/postgres"
)

// LocalIdentityRepo implements identity.LocalRepository over the tenant users table.
type LocalIdentityRepo struct{}

// NewLocalIdentityRepo creates a new repository.
func NewLocalIdentityRepo() *LocalIdentityRepo {
	return &LocalIdentityRepo{}
}

func (r *LocalIdentityRepo) GetByGlobalID(ctx context.Context, globalID uuid.UUID) (*identity.LocalIdentity, error) {
	var l identity.LocalIdentity
	err := pgxscan.Get(ctx, postgres.TenantTx(ctx).GetQuerier(ctx), &l, `
		SELECT id, global_id, name, email, email_verified_at, status, created_at, updated_at
		FROM users WHERE global_id = $1
	`, globalID)
	if err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound("local user", globalID.String())
		}
		return nil, fmt.Errorf("query local user: %w", err)
	}
	return &l, nil
}

// Upsert writes only the synced attributes; the local id is stable.
func (r *LocalIdentityRepo) Upsert(ctx context.Context, l *identity.LocalIdentity) (*identity.LocalIdentity, error) {
	var out identity.LocalIdentity
	err := pgxscan.Get(ctx, postgres.TenantTx(ctx).GetQuerier(ctx), &out, `
		INSERT INTO users (global_id, name, email, email_verified_at, status)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (global_id) DO UPDATE SET
			name = EXCLUDED.name,
			email = EXCLUDED.email,
			email_verified_at = EXCLUDED.email_verified_at,
			status = EXCLUDED.status,
			updated_at = now()
		RETURNING id, global_id, name, email, email_verified_at, status, created_at, updated_at
	`, l.GlobalID, l.Name, l.Email, l.EmailVerifiedAt, l.Status)
	if err != nil {
		return nil, fmt.Errorf("upsert local user: %w", err)
	}
	return &out, nil
}

func (r *LocalIdentityRepo) DeleteByGlobalID(ctx context.Context, globalID uuid.UUID) error {
	_, err := postgres.TenantTx(ctx).GetQuerier(ctx).Exec(ctx, `DELETE FROM users WHERE global_id = $1`, globalID)
	if err != nil {
		return fmt.Errorf("delete local user: %w", err)
	}
	return nil
}

var _ identity.LocalRepository = (*LocalIdentityRepo)(nil)
