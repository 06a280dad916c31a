// Package webhooks manages tenant webhook subscriptions and the signed,
// retried delivery of domain events to them.
package webhooks

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"hybridauth/internal/core/apperror"
	"hybridauth/internal/core/id"
	"hybridauth/internal/domain/events"
)

// Status of a webhook subscription.
type Status string

const (
	StatusActive   Status = "active"
	StatusDisabled Status = "disabled"
)

// Webhook is a tenant's subscription to a set of event types.
type Webhook struct {
	ID        id.ID     `db:"id" json:"id"`
	URL       string    `db:"url" json:"url"`
	Secret    string    `db:"secret" json:"-"`
	Events    []string  `db:"events" json:"events"`
	Status    Status    `db:"status" json:"status"`
	Filter    string    `db:"filter" json:"filter,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Validate checks the URL, the subscribed events and the filter expression.
func (w *Webhook) Validate() error {
	u, err := url.Parse(strings.TrimSpace(w.URL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return apperror.NewValidation("url must be an absolute http(s) URL").WithDetail("url", w.URL)
	}
	if len(w.Events) == 0 {
		return apperror.NewValidation("at least one event is required")
	}
	seen := make(map[string]bool, len(w.Events))
	for _, e := range w.Events {
		if !events.IsWebhookType(events.Type(e)) {
			return apperror.NewValidation("unsupported event").WithDetail("event", e)
		}
		if seen[e] {
			return apperror.NewValidation("duplicate event").WithDetail("event", e)
		}
		seen[e] = true
	}
	if w.Status != StatusActive && w.Status != StatusDisabled {
		return apperror.NewValidation("invalid status").WithDetail("status", w.Status)
	}
	if _, err := CompileFilter(w.Filter); err != nil {
		return apperror.NewValidation("invalid filter").WithDetail("filter", w.Filter).WithCause(err)
	}
	return nil
}

// Subscribes reports whether the webhook is active and listens for t.
func (w *Webhook) Subscribes(t events.Type) bool {
	if w.Status != StatusActive {
		return false
	}
	for _, e := range w.Events {
		if e == string(t) {
			return true
		}
	}
	return false
}

func newSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// DeliveryStatus tracks one delivery through its attempts.
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliverySucceeded DeliveryStatus = "succeeded"
	DeliveryFailed    DeliveryStatus = "failed"
)

// Delivery is one event sent to one webhook. Deliveries are stored centrally
// so the worker can retry them without scanning tenant databases.
type Delivery struct {
	ID            string         `db:"id" json:"id"`
	TenantID      string         `db:"tenant_id" json:"tenant_id"`
	WebhookID     id.ID          `db:"webhook_id" json:"webhook_id"`
	EventID       string         `db:"event_id" json:"event_id"`
	EventType     string         `db:"event_type" json:"event_type"`
	Payload       []byte         `db:"payload" json:"-"`
	Attempts      int            `db:"attempts" json:"attempts"`
	Status        DeliveryStatus `db:"status" json:"status"`
	ResponseCode  *int           `db:"response_code" json:"response_code,omitempty"`
	LastError     string         `db:"last_error" json:"last_error,omitempty"`
	NextAttemptAt *time.Time     `db:"next_attempt_at" json:"next_attempt_at,omitempty"`
	DeliveredAt   *time.Time     `db:"delivered_at" json:"delivered_at,omitempty"`
	CreatedAt     time.Time      `db:"created_at" json:"created_at"`
}

func newDelivery(w *Webhook, e events.Event, payload []byte, now time.Time) *Delivery {
	return &Delivery{
		ID:        ulid.Make().String(),
		TenantID:  e.TenantID,
		WebhookID: w.ID,
		EventID:   e.ID,
		EventType: string(e.Type),
		Payload:   payload,
		Status:    DeliveryPending,
		CreatedAt: now,
	}
}
