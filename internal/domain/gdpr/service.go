package gdpr

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"hybridauth/internal/core/apperror"
	"hybridauth/internal/core/id"
	"hybridauth/internal/core/tx"
	"hybridauth/internal/domain/analytics"
	"hybridauth/internal/domain/auth"
	"hybridauth/internal/domain/events"
	"hybridauth/internal/domain/identity"
	"hybridauth/pkg/logger"
)

// exportEventLimit caps the login history included in an export.
const exportEventLimit = 1000

// Members is the membership surface the workflow needs.
type Members interface {
	TenantIDsOf(ctx context.Context, globalID uuid.UUID) ([]string, error)
	UserCanAccessTenant(ctx context.Context, tenantID string, globalID uuid.UUID) (bool, error)
	DetachAll(ctx context.Context, globalID uuid.UUID) ([]string, error)
}

// LoginHistory reads stored login events.
type LoginHistory interface {
	Events(ctx context.Context, f analytics.EventFilter) ([]analytics.LoginEvent, error)
}

// Deps groups the collaborators of Service.
type Deps struct {
	Requests   Repository
	Identities identity.CentralRepository
	Members    Members
	Logins     LoginHistory
	CentralTx  tx.Manager
	Revoker    identity.SessionRevoker
	Publisher  events.Publisher
	Mailer     auth.Mailer
}

// Service runs exports and deletion requests.
type Service struct {
	d   Deps
	now func() time.Time
}

// NewService creates the GDPR service.
func NewService(d Deps) *Service {
	return &Service{d: d, now: time.Now}
}

// Export collects everything stored about an identity, compresses it and
// mails it to the account address.
func (s *Service) Export(ctx context.Context, centralID id.ID) (*Archive, error) {
	c, err := s.d.Identities.GetByID(ctx, centralID)
	if err != nil {
		return nil, err
	}
	tenants, err := s.d.Members.TenantIDsOf(ctx, c.GlobalID)
	if err != nil {
		return nil, err
	}
	logins, err := s.d.Logins.Events(ctx, analytics.EventFilter{CentralUserID: &c.ID, Limit: exportEventLimit})
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	doc := &Document{
		GeneratedAt: now,
		Identity:    exportIdentity(c),
		Memberships: tenants,
		LoginEvents: logins,
	}
	if pending, err := s.d.Requests.PendingFor(ctx, c.ID); err == nil {
		doc.Requests = []*DeleteRequest{pending}
	} else if !apperror.IsNotFound(err) {
		return nil, err
	}

	archive, err := Pack(fmt.Sprintf("hybridauth-export-%s-%s.json.zst", c.GlobalID, now.Format("20060102")), doc)
	if err != nil {
		return nil, apperror.NewInternal(err)
	}
	err = s.d.Mailer.Send(ctx, auth.Message{
		To:      c.Email,
		Subject: "Your data export",
		Body:    "Attached is a zstd compressed JSON copy of the data stored for your account.",
		Attachments: []auth.Attachment{{
			Filename:    archive.Filename,
			ContentType: "application/zstd",
			Data:        archive.Data,
		}},
	})
	if err != nil {
		return nil, fmt.Errorf("mail export: %w", err)
	}
	logger.Info(ctx, "gdpr export sent", "central_user_id", c.ID, "bytes", len(archive.Data), "raw_bytes", archive.RawSize)
	return archive, nil
}

// RequestDeletion files a deletion request. Fails with a conflict while
// another request of the same identity is pending.
func (s *Service) RequestDeletion(ctx context.Context, centralID id.ID, reason string) (*DeleteRequest, error) {
	var req *DeleteRequest
	err := s.d.CentralTx.RunInTransaction(ctx, func(ctx context.Context) error {
		c, err := s.d.Identities.GetByID(ctx, centralID)
		if err != nil {
			return err
		}
		if _, err := s.d.Requests.PendingFor(ctx, c.ID); err == nil {
			return apperror.NewConflict("a deletion request is already pending")
		} else if !apperror.IsNotFound(err) {
			return err
		}

		now := s.now().UTC()
		req = &DeleteRequest{
			ID:            id.New(),
			CentralUserID: c.ID,
			GlobalID:      c.GlobalID,
			Email:         c.Email,
			Reason:        strings.TrimSpace(reason),
			Status:        RequestPending,
			RequestedAt:   now,
		}
		if err := s.d.Requests.Create(ctx, req); err != nil {
			return err
		}
		c.GDPRDeletionRequestedAt = &now
		c.UpdatedAt = now
		return s.d.Identities.Update(ctx, c)
	})
	if err != nil {
		return nil, err
	}
	logger.Info(ctx, "gdpr deletion requested", "central_user_id", centralID, "request_id", req.ID)
	return req, nil
}

// ListPending returns pending requests. With a tenant id only requests of
// that tenant's members are returned.
func (s *Service) ListPending(ctx context.Context, tenantID string, limit int) ([]*DeleteRequest, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	all, err := s.d.Requests.ListPending(ctx, limit)
	if err != nil {
		return nil, err
	}
	if tenantID == "" {
		return all, nil
	}
	out := make([]*DeleteRequest, 0, len(all))
	for _, r := range all {
		ok, err := s.d.Members.UserCanAccessTenant(ctx, tenantID, r.GlobalID)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, r)
		}
	}
	return out, nil
}

// load returns a pending request visible from tenantID.
func (s *Service) load(ctx context.Context, tenantID string, requestID id.ID) (*DeleteRequest, error) {
	r, err := s.d.Requests.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if tenantID != "" {
		ok, err := s.d.Members.UserCanAccessTenant(ctx, tenantID, r.GlobalID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, apperror.NewNotFound("deletion request", requestID)
		}
	}
	if !r.IsPending() {
		return nil, apperror.NewConflict("deletion request is not pending").WithDetail("status", r.Status)
	}
	return r, nil
}

// Approve erases the account: it leaves every tenant, its central row is
// anonymized, sessions are revoked and user.deleted is emitted.
func (s *Service) Approve(ctx context.Context, tenantID string, requestID id.ID, approver uuid.UUID) (*DeleteRequest, error) {
	r, err := s.load(ctx, tenantID, requestID)
	if err != nil {
		return nil, err
	}
	c, err := s.d.Identities.GetByID(ctx, r.CentralUserID)
	if err != nil {
		return nil, err
	}

	tenants, err := s.d.Members.DetachAll(ctx, c.GlobalID)
	if err != nil {
		return nil, err
	}
	if s.d.Revoker != nil {
		if err := s.d.Revoker.RevokeAll(ctx, c.ID); err != nil {
			return nil, err
		}
	}

	now := s.now().UTC()
	err = s.d.CentralTx.RunInTransaction(ctx, func(ctx context.Context) error {
		anonymize(c, now)
		if err := s.d.Identities.Update(ctx, c); err != nil {
			return err
		}
		r.Status = RequestApproved
		r.ProcessedAt = &now
		r.ProcessedBy = &approver
		if err := s.d.Requests.Update(ctx, r); err != nil {
			return err
		}

		payload := map[string]any{"global_id": c.GlobalID.String()}
		evs := []events.Event{events.New(events.UserDeleted, "", payload)}
		for _, tid := range tenants {
			evs = append(evs, events.New(events.UserDeleted, tid, payload))
		}
		return s.d.Publisher.Publish(ctx, evs...)
	})
	if err != nil {
		return nil, err
	}
	logger.Info(ctx, "gdpr deletion approved", "request_id", r.ID, "global_id", c.GlobalID, "tenants", len(tenants))
	return r, nil
}

// Deny closes the request and leaves the account untouched.
func (s *Service) Deny(ctx context.Context, tenantID string, requestID id.ID, approver uuid.UUID, note string) (*DeleteRequest, error) {
	r, err := s.load(ctx, tenantID, requestID)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	err = s.d.CentralTx.RunInTransaction(ctx, func(ctx context.Context) error {
		r.Status = RequestDenied
		r.ProcessedAt = &now
		r.ProcessedBy = &approver
		r.Note = strings.TrimSpace(note)
		if err := s.d.Requests.Update(ctx, r); err != nil {
			return err
		}
		c, err := s.d.Identities.GetByID(ctx, r.CentralUserID)
		if err != nil {
			return err
		}
		c.GDPRDeletionRequestedAt = nil
		c.UpdatedAt = now
		return s.d.Identities.Update(ctx, c)
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}
