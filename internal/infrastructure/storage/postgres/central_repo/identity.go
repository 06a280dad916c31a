package central_repo

import (
	"context"
	"fmt"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"

	"hybridauth/internal/core/apperror"
	"hybridauth/internal/core/id"
	"hybridauth/internal/domain/identity"
	"hybridauth/internal/infrastructure/storage/postgres"
)

const identityColumns = `
	id, global_id, name, email, password_hash, email_verified_at, status,
	two_factor_enabled, two_factor_secret, two_factor_recovery_codes, preferences,
	last_login_at, login_count, gdpr_deletion_requested_at, created_at, updated_at`

// IdentityRepo implements identity.CentralRepository.
type IdentityRepo struct {
	txm *postgres.TxManager
}

// NewIdentityRepo creates the repository.
func NewIdentityRepo(txm *postgres.TxManager) *IdentityRepo {
	return &IdentityRepo{txm: txm}
}

func (r *IdentityRepo) Create(ctx context.Context, c *identity.CentralIdentity) error {
	_, err := r.txm.GetQuerier(ctx).Exec(ctx, `
		INSERT INTO central_users (`+identityColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`,
		c.ID, c.GlobalID, c.Name, c.Email, c.PasswordHash, c.EmailVerifiedAt, c.Status,
		c.TwoFactorEnabled, c.TwoFactorSecret, c.RecoveryCodes, c.Preferences,
		c.LastLoginAt, c.LoginCount, c.GDPRDeletionRequestedAt, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.NewDuplicate("user", "email", c.Email)
		}
		return fmt.Errorf("insert central user: %w", err)
	}
	return nil
}

func (r *IdentityRepo) get(ctx context.Context, key string, where string, arg any) (*identity.CentralIdentity, error) {
	var c identity.CentralIdentity
	err := pgxscan.Get(ctx, r.txm.GetQuerier(ctx), &c,
		`SELECT `+identityColumns+` FROM central_users WHERE `+where+` = $1`, arg)
	if err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound("user", key)
		}
		return nil, fmt.Errorf("query central user: %w", err)
	}
	return &c, nil
}

func (r *IdentityRepo) GetByID(ctx context.Context, centralID id.ID) (*identity.CentralIdentity, error) {
	return r.get(ctx, centralID.String(), "id", centralID)
}

func (r *IdentityRepo) GetByGlobalID(ctx context.Context, globalID uuid.UUID) (*identity.CentralIdentity, error) {
	return r.get(ctx, globalID.String(), "global_id", globalID)
}

func (r *IdentityRepo) GetByEmail(ctx context.Context, email string) (*identity.CentralIdentity, error) {
	email = identity.NormalizeEmail(email)
	return r.get(ctx, email, "email", email)
}

func (r *IdentityRepo) Update(ctx context.Context, c *identity.CentralIdentity) error {
	tag, err := r.txm.GetQuerier(ctx).Exec(ctx, `
		UPDATE central_users SET
			name = $2, email = $3, password_hash = $4, email_verified_at = $5, status = $6,
			two_factor_enabled = $7, two_factor_secret = $8, two_factor_recovery_codes = $9,
			preferences = $10, gdpr_deletion_requested_at = $11, updated_at = $12
		WHERE id = $1
	`,
		c.ID, c.Name, c.Email, c.PasswordHash, c.EmailVerifiedAt, c.Status,
		c.TwoFactorEnabled, c.TwoFactorSecret, c.RecoveryCodes,
		c.Preferences, c.GDPRDeletionRequestedAt, c.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.NewDuplicate("user", "email", c.Email)
		}
		return fmt.Errorf("update central user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewNotFound("user", c.ID.String())
	}
	return nil
}

func (r *IdentityRepo) RecordLogin(ctx context.Context, centralID id.ID, at time.Time) error {
	_, err := r.txm.GetQuerier(ctx).Exec(ctx, `
		UPDATE central_users SET login_count = login_count + 1, last_login_at = $2 WHERE id = $1
	`, centralID, at)
	if err != nil {
		return fmt.Errorf("record login: %w", err)
	}
	return nil
}

var _ identity.CentralRepository = (*IdentityRepo)(nil)
