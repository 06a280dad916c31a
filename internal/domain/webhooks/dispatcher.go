package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"hybridauth/internal/core/tenant"
	"hybridauth/internal/domain/events"
	"hybridauth/pkg/logger"
)

// leaseAfterEnqueue keeps the retry sweep away from a delivery whose job was
// just queued.
const leaseAfterEnqueue = time.Minute

// Dispatcher fans events out to the subscribed webhooks of their tenant.
// It runs in the worker as the outbox handler.
type Dispatcher struct {
	registry   tenant.Registry
	activator  tenant.Activator
	repo       Repository
	deliveries DeliveryRepository
	queue      JobQueue
	now        func() time.Time
	log        *logger.Logger
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(registry tenant.Registry, activator tenant.Activator, repo Repository,
	deliveries DeliveryRepository, queue JobQueue, log *logger.Logger) *Dispatcher {
	return &Dispatcher{
		registry:   registry,
		activator:  activator,
		repo:       repo,
		deliveries: deliveries,
		queue:      queue,
		now:        time.Now,
		log:        log.WithComponent("webhook-dispatcher"),
	}
}

// Handle implements the outbox handler contract.
func (d *Dispatcher) Handle(ctx context.Context, e events.Event) error {
	_, err := d.Dispatch(ctx, e)
	return err
}

// Dispatch records one pending delivery per matching webhook and enqueues a
// job for each. Events without a tenant or of a non-subscribable type are
// ignored. Returns the created deliveries.
func (d *Dispatcher) Dispatch(ctx context.Context, e events.Event) ([]*Delivery, error) {
	if e.TenantID == "" || !events.IsWebhookType(e.Type) {
		return nil, nil
	}
	t, err := d.registry.GetByID(ctx, e.TenantID)
	if err != nil {
		if errors.Is(err, tenant.ErrTenantNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if !t.IsActive() {
		return nil, nil
	}

	body, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal event %s: %w", e.ID, err)
	}
	// The filter sees the payload exactly as subscribers will.
	var wire struct {
		Data map[string]any `json:"data"`
	}
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("decode event %s: %w", e.ID, err)
	}

	var hooks []*Webhook
	err = func() error {
		scoped, deactivate, err := d.activator.Activate(ctx, t)
		if err != nil {
			return err
		}
		defer deactivate()
		hooks, err = d.repo.ListSubscribed(scoped, string(e.Type))
		return err
	}()
	if err != nil {
		return nil, fmt.Errorf("list webhooks for %s: %w", t.ID, err)
	}

	now := d.now().UTC()
	var created []*Delivery
	for _, w := range hooks {
		if !w.Subscribes(e.Type) {
			continue
		}
		f, err := CompileFilter(w.Filter)
		if err != nil {
			d.log.Warnw("skipping webhook with invalid filter", "webhook_id", w.ID, "error", err)
			continue
		}
		ok, err := f.Match(string(e.Type), e.TenantID, wire.Data)
		if err != nil {
			d.log.Warnw("webhook filter failed", "webhook_id", w.ID, "event_id", e.ID, "error", err)
			continue
		}
		if !ok {
			continue
		}

		del := newDelivery(w, e, body, now)
		next := now.Add(leaseAfterEnqueue)
		del.NextAttemptAt = &next
		if err := d.deliveries.Create(ctx, del); err != nil {
			return created, fmt.Errorf("create delivery: %w", err)
		}
		created = append(created, del)
	}

	for _, del := range created {
		// A failed enqueue is picked up by the retry sweep once the lease expires.
		if err := d.queue.Enqueue(ctx, Job{DeliveryID: del.ID, TenantID: del.TenantID}); err != nil {
			d.log.Warnw("enqueue webhook job failed", "delivery_id", del.ID, "error", err)
		}
	}
	return created, nil
}

// Sweep re-enqueues deliveries whose retry time has come.
func (d *Dispatcher) Sweep(ctx context.Context, limit int) (int, error) {
	due, err := d.deliveries.ClaimDue(ctx, d.now().UTC(), leaseAfterEnqueue, limit)
	if err != nil {
		return 0, err
	}
	queued := 0
	for _, del := range due {
		if err := d.queue.Enqueue(ctx, Job{DeliveryID: del.ID, TenantID: del.TenantID}); err != nil {
			d.log.Warnw("re-enqueue webhook job failed", "delivery_id", del.ID, "error", err)
			continue
		}
		queued++
	}
	return queued, nil
}
