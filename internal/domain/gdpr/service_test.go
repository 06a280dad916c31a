package gdpr

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hybridauth/internal/core/apperror"
	"hybridauth/internal/core/id"
	"hybridauth/internal/core/tx"
	"hybridauth/internal/domain/analytics"
	"hybridauth/internal/domain/auth"
	"hybridauth/internal/domain/events"
	"hybridauth/internal/domain/identity"
)

type memIdentities struct {
	identity.CentralRepository
	rows map[id.ID]*identity.CentralIdentity
}

func (m *memIdentities) GetByID(_ context.Context, cid id.ID) (*identity.CentralIdentity, error) {
	c, ok := m.rows[cid]
	if !ok {
		return nil, apperror.NewNotFound("identity", cid)
	}
	cp := *c
	return &cp, nil
}

func (m *memIdentities) Update(_ context.Context, c *identity.CentralIdentity) error {
	cp := *c
	m.rows[c.ID] = &cp
	return nil
}

type memRequests struct {
	rows []*DeleteRequest
}

func (m *memRequests) Create(_ context.Context, r *DeleteRequest) error {
	cp := *r
	m.rows = append(m.rows, &cp)
	return nil
}

func (m *memRequests) Get(_ context.Context, rid id.ID) (*DeleteRequest, error) {
	for _, r := range m.rows {
		if r.ID == rid {
			cp := *r
			return &cp, nil
		}
	}
	return nil, apperror.NewNotFound("deletion request", rid)
}

func (m *memRequests) PendingFor(_ context.Context, cid id.ID) (*DeleteRequest, error) {
	for _, r := range m.rows {
		if r.CentralUserID == cid && r.IsPending() {
			cp := *r
			return &cp, nil
		}
	}
	return nil, apperror.NewNotFound("deletion request", cid)
}

func (m *memRequests) ListPending(_ context.Context, limit int) ([]*DeleteRequest, error) {
	var out []*DeleteRequest
	for _, r := range m.rows {
		if r.IsPending() && len(out) < limit {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memRequests) Update(_ context.Context, r *DeleteRequest) error {
	for i, row := range m.rows {
		if row.ID == r.ID {
			cp := *r
			m.rows[i] = &cp
			return nil
		}
	}
	return apperror.NewNotFound("deletion request", r.ID)
}

type fakeMembers struct {
	edges map[uuid.UUID][]string
}

func (f *fakeMembers) TenantIDsOf(_ context.Context, g uuid.UUID) ([]string, error) {
	return f.edges[g], nil
}

func (f *fakeMembers) UserCanAccessTenant(_ context.Context, tid string, g uuid.UUID) (bool, error) {
	for _, t := range f.edges[g] {
		if t == tid {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeMembers) DetachAll(_ context.Context, g uuid.UUID) ([]string, error) {
	ids := f.edges[g]
	delete(f.edges, g)
	return ids, nil
}

type memLogins struct{ events []analytics.LoginEvent }

func (m *memLogins) Events(_ context.Context, f analytics.EventFilter) ([]analytics.LoginEvent, error) {
	var out []analytics.LoginEvent
	for _, e := range m.events {
		if f.CentralUserID != nil && (e.CentralUserID == nil || *e.CentralUserID != *f.CentralUserID) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

type captureMailer struct{ sent []auth.Message }

func (m *captureMailer) Send(_ context.Context, msg auth.Message) error {
	m.sent = append(m.sent, msg)
	return nil
}

type countingRevoker struct{ calls int }

func (r *countingRevoker) RevokeAll(context.Context, id.ID) error {
	r.calls++
	return nil
}

type fixture struct {
	svc        *Service
	identities *memIdentities
	requests   *memRequests
	members    *fakeMembers
	mailer     *captureMailer
	revoker    *countingRevoker
	events     *events.Recorder
	ada        *identity.CentralIdentity
	admin      uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ada := identity.NewCentralIdentity("Ada", "ada@example.com")
	ada.MarkEmailVerified(time.Now())
	ada.TwoFactorEnabled = true
	ada.TwoFactorSecret = []byte("sealed")

	login := analytics.NewLoginEvent(analytics.MethodPassword, true, "10.0.0.1", "Mozilla/5.0 Firefox/120.0")
	login.ForUser(ada.ID, ada.GlobalID)

	f := &fixture{
		identities: &memIdentities{rows: map[id.ID]*identity.CentralIdentity{ada.ID: ada}},
		requests:   &memRequests{},
		members:    &fakeMembers{edges: map[uuid.UUID][]string{ada.GlobalID: {"acme", "globex"}}},
		mailer:     &captureMailer{},
		revoker:    &countingRevoker{},
		events:     &events.Recorder{},
		ada:        ada,
		admin:      uuid.New(),
	}
	f.svc = NewService(Deps{
		Requests:   f.requests,
		Identities: f.identities,
		Members:    f.members,
		Logins:     &memLogins{events: []analytics.LoginEvent{*login}},
		CentralTx:  tx.Passthrough,
		Revoker:    f.revoker,
		Publisher:  f.events,
		Mailer:     f.mailer,
	})
	return f
}

func TestExportIsCompressedAndMailed(t *testing.T) {
	f := newFixture(t)

	archive, err := f.svc.Export(context.Background(), f.ada.ID)
	require.NoError(t, err)
	assert.Less(t, len(archive.Data), archive.RawSize)

	require.Len(t, f.mailer.sent, 1)
	msg := f.mailer.sent[0]
	assert.Equal(t, "ada@example.com", msg.To)
	require.Len(t, msg.Attachments, 1)
	assert.Equal(t, archive.Filename, msg.Attachments[0].Filename)

	doc, err := Unpack(msg.Attachments[0].Data)
	require.NoError(t, err)
	assert.Equal(t, f.ada.GlobalID, doc.Identity.GlobalID)
	assert.Equal(t, []string{"acme", "globex"}, doc.Memberships)
	assert.Len(t, doc.LoginEvents, 1)
	assert.Empty(t, doc.Requests)
}

func TestRequestDeletionOncePending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req, err := f.svc.RequestDeletion(ctx, f.ada.ID, " moving on ")
	require.NoError(t, err)
	assert.Equal(t, RequestPending, req.Status)
	assert.Equal(t, "moving on", req.Reason)
	assert.NotNil(t, f.identities.rows[f.ada.ID].GDPRDeletionRequestedAt)

	_, err = f.svc.RequestDeletion(ctx, f.ada.ID, "again")
	assert.True(t, apperror.HasCode(err, apperror.CodeConflict))
	assert.Len(t, f.requests.rows, 1)
}

func TestListPendingByTenant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.RequestDeletion(ctx, f.ada.ID, "")
	require.NoError(t, err)

	got, err := f.svc.ListPending(ctx, "acme", 0)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	got, err = f.svc.ListPending(ctx, "initech", 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestApproveAnonymizesAndDetaches(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req, err := f.svc.RequestDeletion(ctx, f.ada.ID, "")
	require.NoError(t, err)

	// Another tenant's admin cannot see the request.
	_, err = f.svc.Approve(ctx, "initech", req.ID, f.admin)
	assert.True(t, apperror.IsNotFound(err))

	done, err := f.svc.Approve(ctx, "acme", req.ID, f.admin)
	require.NoError(t, err)
	assert.Equal(t, RequestApproved, done.Status)
	require.NotNil(t, done.ProcessedBy)
	assert.Equal(t, f.admin, *done.ProcessedBy)

	c := f.identities.rows[f.ada.ID]
	assert.Equal(t, "Deleted User", c.Name)
	assert.NotEqual(t, "ada@example.com", c.Email)
	assert.Equal(t, identity.StatusInactive, c.Status)
	assert.False(t, c.TwoFactorEnabled)
	assert.Nil(t, c.TwoFactorSecret)
	assert.Equal(t, f.ada.GlobalID, c.GlobalID)
	assert.Empty(t, f.members.edges[f.ada.GlobalID])
	assert.Equal(t, 1, f.revoker.calls)
	assert.Equal(t, []events.Type{events.UserDeleted, events.UserDeleted, events.UserDeleted}, f.events.Types())

	_, err = f.svc.Approve(ctx, "", req.ID, f.admin)
	assert.True(t, apperror.HasCode(err, apperror.CodeConflict))
}

func TestDenyKeepsAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req, err := f.svc.RequestDeletion(ctx, f.ada.ID, "")
	require.NoError(t, err)

	done, err := f.svc.Deny(ctx, "acme", req.ID, f.admin, "legal hold")
	require.NoError(t, err)
	assert.Equal(t, RequestDenied, done.Status)
	assert.Equal(t, "legal hold", done.Note)

	c := f.identities.rows[f.ada.ID]
	assert.Equal(t, "Ada", c.Name)
	assert.Nil(t, c.GDPRDeletionRequestedAt)
	assert.Empty(t, f.events.Events)

	_, err = f.svc.Deny(ctx, "acme", req.ID, f.admin, "")
	assert.True(t, apperror.HasCode(err, apperror.CodeConflict))

	// A new request may be filed once the previous one is closed.
	_, err = f.svc.RequestDeletion(ctx, f.ada.ID, "")
	assert.NoError(t, err)
}
