package central_repo

import (
	"context"
	"fmt"

	"github.com/georgysavva/scany/v2/pgxscan"

	"hybridauth/internal/core/apperror"
	"hybridauth/internal/core/id"
	"hybridauth/internal/domain/gdpr"
	"hybridauth/internal/infrastructure/storage/postgres"
)

const requestColumns = `id, central_user_id, global_user_id, email, reason, status,
	requested_at, processed_at, processed_by, note`

// DeleteRequestRepo implements gdpr.Repository.
type DeleteRequestRepo struct {
	txm *postgres.TxManager
}

// NewDeleteRequestRepo creates the repository.
func NewDeleteRequestRepo(txm *postgres.TxManager) *DeleteRequestRepo {
	return &DeleteRequestRepo{txm: txm}
}

func (r *DeleteRequestRepo) Create(ctx context.Context, req *gdpr.DeleteRequest) error {
	_, err := r.txm.GetQuerier(ctx).Exec(ctx, `
		INSERT INTO gdpr_delete_requests (`+requestColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		req.ID, req.CentralUserID, req.GlobalID, req.Email, req.Reason, req.Status,
		req.RequestedAt, req.ProcessedAt, req.ProcessedBy, req.Note,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.NewConflict("a deletion request is already pending")
		}
		return fmt.Errorf("insert deletion request: %w", err)
	}
	return nil
}

func (r *DeleteRequestRepo) getOne(ctx context.Context, key any, where string, args ...any) (*gdpr.DeleteRequest, error) {
	var req gdpr.DeleteRequest
	err := pgxscan.Get(ctx, r.txm.GetQuerier(ctx), &req,
		`SELECT `+requestColumns+` FROM gdpr_delete_requests WHERE `+where, args...)
	if err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound("deletion request", key)
		}
		return nil, fmt.Errorf("query deletion request: %w", err)
	}
	return &req, nil
}

func (r *DeleteRequestRepo) Get(ctx context.Context, requestID id.ID) (*gdpr.DeleteRequest, error) {
	return r.getOne(ctx, requestID, `id = $1`, requestID)
}

func (r *DeleteRequestRepo) PendingFor(ctx context.Context, centralID id.ID) (*gdpr.DeleteRequest, error) {
	return r.getOne(ctx, centralID, `central_user_id = $1 AND status = $2`, centralID, gdpr.RequestPending)
}

func (r *DeleteRequestRepo) ListPending(ctx context.Context, limit int) ([]*gdpr.DeleteRequest, error) {
	var out []*gdpr.DeleteRequest
	err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &out, `
		SELECT `+requestColumns+` FROM gdpr_delete_requests
		WHERE status = $1 ORDER BY requested_at LIMIT $2
	`, gdpr.RequestPending, limit)
	if err != nil {
		return nil, fmt.Errorf("list deletion requests: %w", err)
	}
	return out, nil
}

func (r *DeleteRequestRepo) Update(ctx context.Context, req *gdpr.DeleteRequest) error {
	tag, err := r.txm.GetQuerier(ctx).Exec(ctx, `
		UPDATE gdpr_delete_requests
		SET status = $2, processed_at = $3, processed_by = $4, note = $5
		WHERE id = $1
	`, req.ID, req.Status, req.ProcessedAt, req.ProcessedBy, req.Note)
	if err != nil {
		return fmt.Errorf("update deletion request: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewNotFound("deletion request", req.ID)
	}
	return nil
}

var _ gdpr.Repository = (*DeleteRequestRepo)(nil)
