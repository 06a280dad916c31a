// Package events defines the domain events emitted by identity, membership and
// tenant operations. Events are written to the transactional outbox and fanned
// out to webhooks by the worker.
package events

import (
	"context"
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// Type names an event. The string form is what webhook subscribers see.
type Type string

const (
	UserCreated       Type = "user.created"
	UserDeleted       Type = "user.deleted"
	UserAttached      Type = "user.attached"
	UserDetached      Type = "user.detached"
	IdentityUpdated   Type = "identity.updated"
	TenantProvisioned Type = "tenant.provisioned"
	TenantUpdated     Type = "tenant.updated"
)

// WebhookTypes lists the event types a webhook may subscribe to.
var WebhookTypes = []Type{UserCreated, UserDeleted, UserAttached, UserDetached, TenantUpdated}

// IsWebhookType reports whether t can be subscribed to.
func IsWebhookType(t Type) bool {
	for _, w := range WebhookTypes {
		if w == t {
			return true
		}
	}
	return false
}

// Event is one domain occurrence. TenantID is empty for central-only events.
type Event struct {
	ID         string         `json:"id"`
	Type       Type           `json:"event"`
	TenantID   string         `json:"tenant_id,omitempty"`
	Payload    map[string]any `json:"data"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// New builds an event with a fresh ULID.
func New(t Type, tenantID string, payload map[string]any) Event {
	now := time.Now().UTC()
	return Event{
		ID:         ulid.MustNew(ulid.Timestamp(now), rand.Reader).String(),
		Type:       t,
		TenantID:   tenantID,
		Payload:    payload,
		OccurredAt: now,
	}
}

// Publisher records events for asynchronous delivery.
type Publisher interface {
	Publish(ctx context.Context, events ...Event) error
}

// Recorder is an in-memory Publisher used by tests.
type Recorder struct {
	Events []Event
}

// Publish implements Publisher.
func (r *Recorder) Publish(_ context.Context, evs ...Event) error {
	r.Events = append(r.Events, evs...)
	return nil
}

// Types returns the recorded event types in order.
func (r *Recorder) Types() []Type {
	out := make([]Type, 0, len(r.Events))
	for _, e := range r.Events {
		out = append(out, e.Type)
	}
	return out
}
