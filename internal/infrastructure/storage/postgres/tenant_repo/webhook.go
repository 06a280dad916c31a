package tenant_repo

import (
	"context"
	"fmt"

	"github.com/georgysavva/scany/v2/pgxscan"

	"hybridauth/internal/core/apperror"
	"hybridauth/internal/core/id"
	"hybridauth/internal/domain/webhooks"
	"hybridauth/internal/infrastructure/storage/postgres"
)

const webhookColumns = `id, url, secret, events, status, filter, created_at, updated_at`

// WebhookRepo implements webhooks.Repository.
type WebhookRepo struct{}

// NewWebhookRepo creates a new repository.
func NewWebhookRepo() *WebhookRepo {
	return &WebhookRepo{}
}

func (r *WebhookRepo) Create(ctx context.Context, w *webhooks.Webhook) error {
	_, err := postgres.TenantTx(ctx).GetQuerier(ctx).Exec(ctx, `
		INSERT INTO webhooks (`+webhookColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, w.ID, w.URL, w.Secret, w.Events, w.Status, w.Filter, w.CreatedAt, w.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert webhook: %w", err)
	}
	return nil
}

func (r *WebhookRepo) Get(ctx context.Context, webhookID id.ID) (*webhooks.Webhook, error) {
	var w webhooks.Webhook
	err := pgxscan.Get(ctx, postgres.TenantTx(ctx).GetQuerier(ctx), &w,
		`SELECT `+webhookColumns+` FROM webhooks WHERE id = $1`, webhookID)
	if err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound("webhook", webhookID.String())
		}
		return nil, fmt.Errorf("query webhook: %w", err)
	}
	return &w, nil
}

func (r *WebhookRepo) List(ctx context.Context) ([]*webhooks.Webhook, error) {
	var out []*webhooks.Webhook
	err := pgxscan.Select(ctx, postgres.TenantTx(ctx).GetQuerier(ctx), &out,
		`SELECT `+webhookColumns+` FROM webhooks ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list webhooks: %w", err)
	}
	return out, nil
}

func (r *WebhookRepo) ListSubscribed(ctx context.Context, eventType string) ([]*webhooks.Webhook, error) {
	var out []*webhooks.Webhook
	err := pgxscan.Select(ctx, postgres.TenantTx(ctx).GetQuerier(ctx), &out, `
		SELECT `+webhookColumns+` FROM webhooks
		WHERE status = $1 AND $2 = ANY(events)
		ORDER BY created_at
	`, webhooks.StatusActive, eventType)
	if err != nil {
		return nil, fmt.Errorf("list subscribed webhooks: %w", err)
	}
	return out, nil
}

func (r *WebhookRepo) Update(ctx context.Context, w *webhooks.Webhook) error {
	tag, err := postgres.TenantTx(ctx).GetQuerier(ctx).Exec(ctx, `
		UPDATE webhooks SET url = $2, events = $3, status = $4, filter = $5, updated_at = $6 WHERE id = $1
	`, w.ID, w.URL, w.Events, w.Status, w.Filter, w.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update webhook: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewNotFound("webhook", w.ID.String())
	}
	return nil
}

func (r *WebhookRepo) Delete(ctx context.Context, webhookID id.ID) error {
	_, err := postgres.TenantTx(ctx).GetQuerier(ctx).Exec(ctx, `DELETE FROM webhooks WHERE id = $1`, webhookID)
	if err != nil {
		return fmt.Errorf("delete webhook: %w", err)
	}
	return nil
}

var _ webhooks.Repository = (*WebhookRepo)(nil)
