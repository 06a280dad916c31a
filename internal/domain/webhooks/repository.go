package webhooks

import (
	"context"
	"time"

	"hybridauth/internal/core/id"
)

// Repository stores webhooks in the tenant database. Every method requires an
// active tenant scope in ctx.
type Repository interface {
	Create(ctx context.Context, w *Webhook) error
	Get(ctx context.Context, webhookID id.ID) (*Webhook, error)
	List(ctx context.Context) ([]*Webhook, error)
	// ListSubscribed returns active webhooks listening for eventType.
	ListSubscribed(ctx context.Context, eventType string) ([]*Webhook, error)
	Update(ctx context.Context, w *Webhook) error
	Delete(ctx context.Context, webhookID id.ID) error
}

// DeliveryRepository stores deliveries in the central database.
type DeliveryRepository interface {
	Create(ctx context.Context, d *Delivery) error
	Get(ctx context.Context, deliveryID string) (*Delivery, error)
	// Save writes attempts, status, response and scheduling columns.
	Save(ctx context.Context, d *Delivery) error
	// ClaimDue returns pending deliveries whose next attempt is due and pushes
	// their next_attempt_at forward by lease so concurrent sweeps skip them.
	ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]*Delivery, error)
	ListByWebhook(ctx context.Context, tenantID string, webhookID id.ID, limit int) ([]*Delivery, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Job asks a consumer to attempt one delivery.
type Job struct {
	DeliveryID string `json:"delivery_id"`
	TenantID   string `json:"tenant_id"`
}

// JobQueue hands delivery jobs to the consumers.
type JobQueue interface {
	Enqueue(ctx context.Context, job Job) error
}
