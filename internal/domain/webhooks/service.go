package webhooks

import (
	"context"
	"strings"
	"time"

	"hybridauth/internal/core/apperror"
	"hybridauth/internal/core/id"
	"hybridauth/internal/core/tenant"
)

// CreateInput describes a new subscription.
type CreateInput struct {
	URL    string
	Events []string
	Filter string
}

// Service manages the webhooks of the tenant in scope.
type Service struct {
	repo       Repository
	deliveries DeliveryRepository
	now        func() time.Time
}

// NewService creates the webhook service.
func NewService(repo Repository, deliveries DeliveryRepository) *Service {
	return &Service{repo: repo, deliveries: deliveries, now: time.Now}
}

// Create validates and stores a new active webhook with a fresh secret.
// The secret is returned once, on the created webhook.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Webhook, error) {
	secret, err := newSecret()
	if err != nil {
		return nil, apperror.NewInternal(err)
	}
	now := s.now().UTC()
	w := &Webhook{
		ID:        id.New(),
		URL:       strings.TrimSpace(in.URL),
		Secret:    secret,
		Events:    in.Events,
		Status:    StatusActive,
		Filter:    strings.TrimSpace(in.Filter),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := w.Validate(); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, w); err != nil {
		return nil, err
	}
	return w, nil
}

// List returns every webhook of the tenant.
func (s *Service) List(ctx context.Context) ([]*Webhook, error) {
	return s.repo.List(ctx)
}

// Get returns one webhook.
func (s *Service) Get(ctx context.Context, webhookID id.ID) (*Webhook, error) {
	return s.repo.Get(ctx, webhookID)
}

// SetStatus enables or disables a webhook.
func (s *Service) SetStatus(ctx context.Context, webhookID id.ID, status Status) (*Webhook, error) {
	w, err := s.repo.Get(ctx, webhookID)
	if err != nil {
		return nil, err
	}
	w.Status = status
	if err := w.Validate(); err != nil {
		return nil, err
	}
	w.UpdatedAt = s.now().UTC()
	if err := s.repo.Update(ctx, w); err != nil {
		return nil, err
	}
	return w, nil
}

// Delete removes a webhook. Pending deliveries for it fail on their next attempt.
func (s *Service) Delete(ctx context.Context, webhookID id.ID) error {
	if _, err := s.repo.Get(ctx, webhookID); err != nil {
		return err
	}
	return s.repo.Delete(ctx, webhookID)
}

// Deliveries lists the most recent deliveries of a webhook.
func (s *Service) Deliveries(ctx context.Context, webhookID id.ID, limit int) ([]*Delivery, error) {
	if _, err := s.repo.Get(ctx, webhookID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.deliveries.ListByWebhook(ctx, tenant.GetTenantID(ctx), webhookID, limit)
}
