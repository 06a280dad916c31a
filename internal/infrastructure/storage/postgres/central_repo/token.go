package central_repo

import (
	"context"
	"fmt"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"

	"hybridauth/internal/core/apperror"
	"hybridauth/internal/core/id"
	"hybridauth/internal/domain/auth"
	"hybridauth/internal/infrastructure/storage/postgres"
)

// RefreshTokenRepo implements auth.RefreshTokenRepository.
type RefreshTokenRepo struct {
	txm *postgres.TxManager
}

// NewRefreshTokenRepo creates the repository.
func NewRefreshTokenRepo(txm *postgres.TxManager) *RefreshTokenRepo {
	return &RefreshTokenRepo{txm: txm}
}

func (r *RefreshTokenRepo) Create(ctx context.Context, t *auth.RefreshToken) error {
	_, err := r.txm.GetQuerier(ctx).Exec(ctx, `
		INSERT INTO refresh_tokens (token_id, central_user_id, jti, expires_at, revoked, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, t.TokenID, t.CentralUserID, t.JTI, t.ExpiresAt, t.Revoked, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert refresh token: %w", err)
	}
	return nil
}

func (r *RefreshTokenRepo) Get(ctx context.Context, tokenID string) (*auth.RefreshToken, error) {
	var t auth.RefreshToken
	err := pgxscan.Get(ctx, r.txm.GetQuerier(ctx), &t, `
		SELECT token_id, central_user_id, jti, expires_at, revoked,
		       last_used_at, last_used_ip, last_used_user_agent, created_at
		FROM refresh_tokens WHERE token_id = $1
	`, tokenID)
	if err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound("refresh token", "")
		}
		return nil, fmt.Errorf("query refresh token: %w", err)
	}
	return &t, nil
}

func (r *RefreshTokenRepo) Touch(ctx context.Context, tokenID, jti, ip, userAgent string, at time.Time) error {
	_, err := r.txm.GetQuerier(ctx).Exec(ctx, `
		UPDATE refresh_tokens
		SET jti = $2, last_used_at = $3, last_used_ip = NULLIF($4, ''), last_used_user_agent = NULLIF($5, '')
		WHERE token_id = $1
	`, tokenID, jti, at, ip, userAgent)
	if err != nil {
		return fmt.Errorf("touch refresh token: %w", err)
	}
	return nil
}

func (r *RefreshTokenRepo) Revoke(ctx context.Context, tokenID string) (bool, error) {
	tag, err := r.txm.GetQuerier(ctx).Exec(ctx,
		`UPDATE refresh_tokens SET revoked = TRUE WHERE token_id = $1 AND NOT revoked`, tokenID)
	if err != nil {
		return false, fmt.Errorf("revoke refresh token: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *RefreshTokenRepo) RevokeAllForUser(ctx context.Context, centralID id.ID) error {
	_, err := r.txm.GetQuerier(ctx).Exec(ctx,
		`UPDATE refresh_tokens SET revoked = TRUE WHERE central_user_id = $1 AND NOT revoked`, centralID)
	if err != nil {
		return fmt.Errorf("revoke all refresh tokens: %w", err)
	}
	return nil
}

func (r *RefreshTokenRepo) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.txm.GetQuerier(ctx).Exec(ctx,
		`DELETE FROM refresh_tokens WHERE expires_at < $1 OR (revoked AND created_at < $1)`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup refresh tokens: %w", err)
	}
	return tag.RowsAffected(), nil
}

var _ auth.RefreshTokenRepository = (*RefreshTokenRepo)(nil)

// MagicLinkRepo implements auth.MagicLinkRepository.
type MagicLinkRepo struct {
	txm *postgres.TxManager
}

// NewMagicLinkRepo creates the repository.
func NewMagicLinkRepo(txm *postgres.TxManager) *MagicLinkRepo {
	return &MagicLinkRepo{txm: txm}
}

func (r *MagicLinkRepo) DeleteUnused(ctx context.Context, email string, t auth.MagicLinkType) error {
	_, err := r.txm.GetQuerier(ctx).Exec(ctx,
		`DELETE FROM magic_link_tokens WHERE email = $1 AND type = $2 AND used_at IS NULL`, email, t)
	if err != nil {
		return fmt.Errorf("delete unused magic links: %w", err)
	}
	return nil
}

func (r *MagicLinkRepo) Create(ctx context.Context, t *auth.MagicLinkToken) error {
	_, err := r.txm.GetQuerier(ctx).Exec(ctx, `
		INSERT INTO magic_link_tokens (id, email, token_hash, type, expires_at, ip_address, user_agent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, t.ID, t.Email, t.TokenHash, t.Type, t.ExpiresAt, t.IP, t.UserAgent, t.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.NewDuplicate("magic link", "email", t.Email)
		}
		return fmt.Errorf("insert magic link: %w", err)
	}
	return nil
}

func (r *MagicLinkRepo) GetByHash(ctx context.Context, hash string, t auth.MagicLinkType) (*auth.MagicLinkToken, error) {
	var tok auth.MagicLinkToken
	err := pgxscan.Get(ctx, r.txm.GetQuerier(ctx), &tok, `
		SELECT id, email, token_hash, type, expires_at, used_at, ip_address, user_agent, created_at
		FROM magic_link_tokens WHERE token_hash = $1 AND type = $2
	`, hash, t)
	if err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound("magic link", "")
		}
		return nil, fmt.Errorf("query magic link: %w", err)
	}
	return &tok, nil
}

func (r *MagicLinkRepo) MarkUsed(ctx context.Context, tokenID id.ID, at time.Time, ip, userAgent string) (bool, error) {
	tag, err := r.txm.GetQuerier(ctx).Exec(ctx, `
		UPDATE magic_link_tokens
		SET used_at = $2, ip_address = COALESCE(NULLIF($3, ''), ip_address),
		    user_agent = COALESCE(NULLIF($4, ''), user_agent)
		WHERE id = $1 AND used_at IS NULL
	`, tokenID, at, ip, userAgent)
	if err != nil {
		return false, fmt.Errorf("mark magic link used: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *MagicLinkRepo) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.txm.GetQuerier(ctx).Exec(ctx, `DELETE FROM magic_link_tokens WHERE expires_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup magic links: %w", err)
	}
	return tag.RowsAffected(), nil
}

var _ auth.MagicLinkRepository = (*MagicLinkRepo)(nil)
