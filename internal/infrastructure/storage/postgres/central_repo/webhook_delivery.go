package central_repo

import (
	"context"
	"fmt"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"

	"hybridauth/internal/core/apperror"
	"hybridauth/internal/core/id"
	"hybridauth/internal/domain/webhooks"
	"hybridauth/internal/infrastructure/storage/postgres"
)

const deliveryColumns = `id, tenant_id, webhook_id, event_id, event_type, payload, attempts, status,
	response_code, last_error, next_attempt_at, delivered_at, created_at`

// DeliveryRepo implements webhooks.DeliveryRepository.
type DeliveryRepo struct {
	txm *postgres.TxManager
}

// NewDeliveryRepo creates the repository.
func NewDeliveryRepo(txm *postgres.TxManager) *DeliveryRepo {
	return &DeliveryRepo{txm: txm}
}

func (r *DeliveryRepo) Create(ctx context.Context, d *webhooks.Delivery) error {
	_, err := r.txm.GetQuerier(ctx).Exec(ctx, `
		INSERT INTO webhook_deliveries (`+deliveryColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`,
		d.ID, d.TenantID, d.WebhookID, d.EventID, d.EventType, d.Payload, d.Attempts, d.Status,
		d.ResponseCode, d.LastError, d.NextAttemptAt, d.DeliveredAt, d.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert webhook delivery: %w", err)
	}
	return nil
}

func (r *DeliveryRepo) Get(ctx context.Context, deliveryID string) (*webhooks.Delivery, error) {
	var d webhooks.Delivery
	err := pgxscan.Get(ctx, r.txm.GetQuerier(ctx), &d,
		`SELECT `+deliveryColumns+` FROM webhook_deliveries WHERE id = $1`, deliveryID)
	if err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound("webhook delivery", deliveryID)
		}
		return nil, fmt.Errorf("query webhook delivery: %w", err)
	}
	return &d, nil
}

func (r *DeliveryRepo) Save(ctx context.Context, d *webhooks.Delivery) error {
	_, err := r.txm.GetQuerier(ctx).Exec(ctx, `
		UPDATE webhook_deliveries
		SET attempts = $2, status = $3, response_code = $4, last_error = $5,
		    next_attempt_at = $6, delivered_at = $7
		WHERE id = $1
	`, d.ID, d.Attempts, d.Status, d.ResponseCode, d.LastError, d.NextAttemptAt, d.DeliveredAt)
	if err != nil {
		return fmt.Errorf("update webhook delivery: %w", err)
	}
	return nil
}

func (r *DeliveryRepo) ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]*webhooks.Delivery, error) {
	var out []*webhooks.Delivery
	err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &out, `
		UPDATE webhook_deliveries SET next_attempt_at = $2
		WHERE id IN (
			SELECT id FROM webhook_deliveries
			WHERE status = $3 AND next_attempt_at <= $1
			ORDER BY next_attempt_at
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+deliveryColumns,
		now, now.Add(lease), webhooks.DeliveryPending, limit)
	if err != nil {
		return nil, fmt.Errorf("claim due deliveries: %w", err)
	}
	return out, nil
}

func (r *DeliveryRepo) ListByWebhook(ctx context.Context, tenantID string, webhookID id.ID, limit int) ([]*webhooks.Delivery, error) {
	var out []*webhooks.Delivery
	err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &out, `
		SELECT `+deliveryColumns+` FROM webhook_deliveries
		WHERE tenant_id = $1 AND webhook_id = $2
		ORDER BY created_at DESC
		LIMIT $3
	`, tenantID, webhookID, limit)
	if err != nil {
		return nil, fmt.Errorf("list webhook deliveries: %w", err)
	}
	return out, nil
}

func (r *DeliveryRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.txm.GetQuerier(ctx).Exec(ctx,
		`DELETE FROM webhook_deliveries WHERE status <> $1 AND created_at < $2`, webhooks.DeliveryPending, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge webhook deliveries: %w", err)
	}
	return tag.RowsAffected(), nil
}

var _ webhooks.DeliveryRepository = (*DeliveryRepo)(nil)
