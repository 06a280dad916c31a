package central_repo

import (
	"context"
	"fmt"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"

	"hybridauth/internal/core/apperror"
	"hybridauth/internal/domain/auth"
	"hybridauth/internal/infrastructure/storage/postgres"
)

const invitationColumns = `id, tenant_id, email, token_hash, role, invited_by, expires_at, created_at`

// InvitationRepo implements auth.InvitationRepository.
type InvitationRepo struct {
	txm *postgres.TxManager
}

// NewInvitationRepo creates the repository.
func NewInvitationRepo(txm *postgres.TxManager) *InvitationRepo {
	return &InvitationRepo{txm: txm}
}

func (r *InvitationRepo) Upsert(ctx context.Context, inv *auth.Invitation) error {
	err := r.txm.GetQuerier(ctx).QueryRow(ctx, `
		INSERT INTO invitations (`+invitationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (tenant_id, email) DO UPDATE
		SET token_hash = EXCLUDED.token_hash, role = EXCLUDED.role, invited_by = EXCLUDED.invited_by,
		    expires_at = EXCLUDED.expires_at, created_at = EXCLUDED.created_at
		RETURNING id
	`, inv.ID, inv.TenantID, inv.Email, inv.TokenHash, inv.Role, inv.InvitedBy, inv.ExpiresAt, inv.CreatedAt).Scan(&inv.ID)
	if err != nil {
		return fmt.Errorf("upsert invitation: %w", err)
	}
	return nil
}

func (r *InvitationRepo) Take(ctx context.Context, hash string, now time.Time) (*auth.Invitation, error) {
	var inv auth.Invitation
	err := pgxscan.Get(ctx, r.txm.GetQuerier(ctx), &inv, `
		DELETE FROM invitations WHERE token_hash = $1 AND expires_at > $2
		RETURNING `+invitationColumns, hash, now)
	if err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound("invitation", "")
		}
		return nil, fmt.Errorf("take invitation: %w", err)
	}
	return &inv, nil
}

func (r *InvitationRepo) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.txm.GetQuerier(ctx).Exec(ctx, `DELETE FROM invitations WHERE expires_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup invitations: %w", err)
	}
	return tag.RowsAffected(), nil
}

var _ auth.InvitationRepository = (*InvitationRepo)(nil)
