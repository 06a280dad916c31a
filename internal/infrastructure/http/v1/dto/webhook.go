package dto

import (
	"time"

	"hybridauth/internal/core/id"
	"hybridauth/internal/domain/gdpr"
	"hybridauth/internal/domain/webhooks"
)

// CreateWebhookRequest subscribes a URL to events. Filter is an optional
// CEL expression over the event.
type CreateWebhookRequest struct {
	URL    string   `json:"url" binding:"required,url"`
	Events []string `json:"events" binding:"required,min=1"`
	Filter string   `json:"filter"`
}

// ToInput converts to the domain input.
func (r *CreateWebhookRequest) ToInput() webhooks.CreateInput {
	return webhooks.CreateInput{URL: r.URL, Events: r.Events, Filter: r.Filter}
}

// WebhookStatusRequest enables or disables a webhook.
type WebhookStatusRequest struct {
	Status string `json:"status" binding:"required,oneof=active disabled"`
}

// WebhookResponse is a subscription. Secret is only set on creation.
type WebhookResponse struct {
	ID        id.ID     `json:"id"`
	URL       string    `json:"url"`
	Events    []string  `json:"events"`
	Status    string    `json:"status"`
	Filter    string    `json:"filter,omitempty"`
	Secret    string    `json:"secret,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FromWebhook creates a response without the secret.
func FromWebhook(w *webhooks.Webhook) WebhookResponse {
	return WebhookResponse{
		ID:        w.ID,
		URL:       w.URL,
		Events:    w.Events,
		Status:    string(w.Status),
		Filter:    w.Filter,
		CreatedAt: w.CreatedAt,
		UpdatedAt: w.UpdatedAt,
	}
}

// FromWebhooks creates responses.
func FromWebhooks(ws []*webhooks.Webhook) []WebhookResponse {
	out := make([]WebhookResponse, 0, len(ws))
	for _, w := range ws {
		out = append(out, FromWebhook(w))
	}
	return out
}

// --- GDPR ---

// DeletionRequest files an account deletion request.
type DeletionRequest struct {
	Reason string `json:"reason" binding:"max=1000"`
}

// DenyDeletionRequest closes a request without erasing the account.
type DenyDeletionRequest struct {
	Note string `json:"note" binding:"max=1000"`
}

// ExportResponse describes a mailed export.
type ExportResponse struct {
	Filename string `json:"filename"`
	Bytes    int    `json:"bytes"`
	RawBytes int    `json:"raw_bytes"`
	Message  string `json:"message"`
}

// FromArchive creates the export response.
func FromArchive(a *gdpr.Archive) ExportResponse {
	return ExportResponse{
		Filename: a.Filename,
		Bytes:    len(a.Data),
		RawBytes: a.RawSize,
		Message:  "The export has been sent to your email address",
	}
}
