package webhooks

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"hybridauth/internal/core/apperror"
	"hybridauth/internal/core/tenant"
	"hybridauth/pkg/logger"
)

// Doer sends HTTP requests; *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Deliverer performs delivery attempts and schedules retries.
type Deliverer struct {
	registry   tenant.Registry
	activator  tenant.Activator
	repo       Repository
	deliveries DeliveryRepository
	client     Doer
	policy     RetryPolicy
	now        func() time.Time
	log        *logger.Logger
}

// NewDeliverer creates a deliverer. A nil client uses a 10 second timeout client.
func NewDeliverer(registry tenant.Registry, activator tenant.Activator, repo Repository,
	deliveries DeliveryRepository, client Doer, policy RetryPolicy, log *logger.Logger) *Deliverer {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Deliverer{
		registry:   registry,
		activator:  activator,
		repo:       repo,
		deliveries: deliveries,
		client:     client,
		policy:     policy,
		now:        time.Now,
		log:        log.WithComponent("webhook-deliverer"),
	}
}

// HandleJob implements the queue consumer contract.
func (d *Deliverer) HandleJob(ctx context.Context, job Job) error {
	_, err := d.Deliver(ctx, job.DeliveryID)
	return err
}

// Deliver makes one attempt for a pending delivery and returns its new state.
// Deliveries that are unknown or already settled are left alone.
func (d *Deliverer) Deliver(ctx context.Context, deliveryID string) (*Delivery, error) {
	del, err := d.deliveries.Get(ctx, deliveryID)
	if err != nil {
		if apperror.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	if del.Status != DeliveryPending {
		return del, nil
	}

	w, err := d.webhook(ctx, del)
	if err != nil {
		return nil, err
	}
	if w == nil || w.Status != StatusActive {
		del.Attempts++
		del.Status = DeliveryFailed
		del.LastError = "webhook removed or disabled"
		del.NextAttemptAt = nil
		return del, d.deliveries.Save(ctx, del)
	}

	code, sendErr := d.send(ctx, w, del)
	now := d.now().UTC()
	del.Attempts++
	if code != 0 {
		del.ResponseCode = &code
	}

	if sendErr == nil {
		del.Status = DeliverySucceeded
		del.LastError = ""
		del.DeliveredAt = &now
		del.NextAttemptAt = nil
	} else {
		del.LastError = sendErr.Error()
		if d.policy.Exhausted(del.Attempts) {
			del.Status = DeliveryFailed
			del.NextAttemptAt = nil
		} else {
			next := now.Add(d.policy.Delay(del.Attempts))
			del.NextAttemptAt = &next
		}
		d.log.Warnw("webhook delivery failed",
			"delivery_id", del.ID,
			"webhook_id", del.WebhookID,
			"attempt", del.Attempts,
			"status", del.Status,
			"error", sendErr,
		)
	}
	if err := d.deliveries.Save(ctx, del); err != nil {
		return nil, err
	}
	return del, nil
}

func (d *Deliverer) webhook(ctx context.Context, del *Delivery) (*Webhook, error) {
	t, err := d.registry.GetByID(ctx, del.TenantID)
	if err != nil {
		if errors.Is(err, tenant.ErrTenantNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if !t.IsActive() {
		return nil, nil
	}
	scoped, deactivate, err := d.activator.Activate(ctx, t)
	if err != nil {
		return nil, err
	}
	defer deactivate()

	w, err := d.repo.Get(scoped, del.WebhookID)
	if err != nil {
		if apperror.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return w, nil
}

func (d *Deliverer) send(ctx context.Context, w *Webhook, del *Delivery) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(del.Payload))
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "hybridauth-webhooks/1")
	req.Header.Set(HeaderSignature, Sign(w.Secret, del.Payload))
	req.Header.Set(HeaderEvent, del.EventType)
	req.Header.Set(HeaderDelivery, del.ID)

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, fmt.Errorf("endpoint answered %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}
