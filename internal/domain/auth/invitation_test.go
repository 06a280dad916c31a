package auth

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"hybridauth/internal/core/apperror"
	"hybridauth/internal/domain/events"
	"hybridauth/internal/domain/membership"
	"hybridauth/internal/domain/rbac"
)

type memInvitations struct {
	mu   sync.Mutex
	rows map[string]*Invitation // tenant/email
}

func (r *memInvitations) Upsert(_ context.Context, inv *Invitation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *inv
	r.rows[inv.TenantID+"/"+inv.Email] = &cp
	return nil
}

func (r *memInvitations) Take(_ context.Context, hash string, now time.Time) (*Invitation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, inv := range r.rows {
		if inv.TokenHash == hash && inv.ExpiresAt.After(now) {
			delete(r.rows, k)
			return inv, nil
		}
	}
	return nil, apperror.NewNotFound("invitation", "")
}

func (r *memInvitations) DeleteExpired(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for k, inv := range r.rows {
		if inv.ExpiresAt.Before(cutoff) {
			delete(r.rows, k)
			n++
		}
	}
	return n, nil
}

// tenantRoles accepts the roles listed per tenant and records attachments.
type tenantRoles struct {
	roles    map[string][]string
	attached []membership.AttachInput
}

func (t *tenantRoles) CheckRole(_ context.Context, tenantID, role string) error {
	roles, ok := t.roles[tenantID]
	if !ok {
		return apperror.NewTenantNotFound(tenantID)
	}
	for _, r := range roles {
		if r == role {
			return nil
		}
	}
	return apperror.NewNotFound("role", role)
}

func (t *tenantRoles) Attach(_ context.Context, in membership.AttachInput) (*membership.Edge, error) {
	t.attached = append(t.attached, in)
	return &membership.Edge{TenantID: in.TenantID, GlobalID: in.GlobalID, InvitedBy: in.InvitedBy}, nil
}

type invitationFixture struct {
	*fixture
	invitations *memInvitations
	target      *tenantRoles
	events      *events.Recorder
	svc         *InvitationService
}

func newInvitationFixture(t *testing.T) *invitationFixture {
	t.Helper()
	f := &invitationFixture{
		fixture:     newFixture(t),
		invitations: &memInvitations{rows: map[string]*Invitation{}},
		target:      &tenantRoles{roles: map[string][]string{"acme": {rbac.RoleMember, rbac.RoleAdmin}}},
		events:      &events.Recorder{},
	}
	f.svc = NewInvitationService(f.invitations, nil, f.identities, f.events, f.target, f.mailer, "https://app.test")
	f.svc.SetBcryptCost(bcrypt.MinCost)
	return f
}

// mailedToken extracts the raw token from the last invitation email.
func (f *invitationFixture) mailedToken(t *testing.T) string {
	t.Helper()
	require.NotEmpty(t, f.mailer.sent)
	body := f.mailer.sent[len(f.mailer.sent)-1].Body
	i := strings.Index(body, "https://app.test/invitations/accept?")
	require.GreaterOrEqual(t, i, 0, body)
	u, err := url.Parse(strings.TrimSpace(body[i:]))
	require.NoError(t, err)
	return u.Query().Get("token")
}

func TestCreateInvitationMailsHashedToken(t *testing.T) {
	ctx := context.Background()
	f := newInvitationFixture(t)
	inviter := uuid.New()

	inv, err := f.svc.CreateInvitation(ctx, InvitationInput{TenantID: "acme", Email: " New@Example.com", InvitedBy: &inviter})
	require.NoError(t, err)
	assert.Equal(t, "new@example.com", inv.Email)
	assert.Equal(t, rbac.RoleMember, inv.Role)
	assert.WithinDuration(t, time.Now().Add(7*24*time.Hour), inv.ExpiresAt, 5*time.Second)

	raw := f.mailedToken(t)
	assert.Len(t, raw, 64)
	assert.Equal(t, HashToken(raw), inv.TokenHash)
	assert.Equal(t, "new@example.com", f.mailer.sent[0].To)
}

func TestCreateInvitationRejects(t *testing.T) {
	ctx := context.Background()
	f := newInvitationFixture(t)
	f.activeUser(t, "ada@example.com", "password123")

	_, err := f.svc.CreateInvitation(ctx, InvitationInput{TenantID: "acme", Email: "ada@example.com"})
	assert.True(t, apperror.HasCode(err, apperror.CodeConflict))

	_, err = f.svc.CreateInvitation(ctx, InvitationInput{TenantID: "acme", Email: "new@example.com", Role: "ghost"})
	assert.True(t, apperror.IsNotFound(err))

	_, err = f.svc.CreateInvitation(ctx, InvitationInput{TenantID: "initech", Email: "new@example.com"})
	assert.True(t, apperror.HasCode(err, apperror.CodeTenantNotFound))

	_, err = f.svc.CreateInvitation(ctx, InvitationInput{TenantID: "acme", Email: "not-an-email"})
	assert.True(t, apperror.HasCode(err, apperror.CodeValidation))

	assert.Empty(t, f.mailer.sent)
	assert.Empty(t, f.invitations.rows)
}

func TestReinviteReplacesPendingInvitation(t *testing.T) {
	ctx := context.Background()
	f := newInvitationFixture(t)

	_, err := f.svc.CreateInvitation(ctx, InvitationInput{TenantID: "acme", Email: "new@example.com"})
	require.NoError(t, err)
	first := f.mailedToken(t)
	_, err = f.svc.CreateInvitation(ctx, InvitationInput{TenantID: "acme", Email: "new@example.com", Role: rbac.RoleAdmin})
	require.NoError(t, err)
	second := f.mailedToken(t)

	assert.Len(t, f.invitations.rows, 1)
	_, err = f.svc.AcceptInvitation(ctx, first, "New Person", "password123")
	assert.True(t, apperror.HasCode(err, apperror.CodeValidation))

	_, err = f.svc.AcceptInvitation(ctx, second, "New Person", "password123")
	require.NoError(t, err)
	require.Len(t, f.target.attached, 1)
	assert.Equal(t, rbac.RoleAdmin, f.target.attached[0].Role)
}

func TestAcceptInvitationCreatesVerifiedMember(t *testing.T) {
	ctx := context.Background()
	f := newInvitationFixture(t)
	inviter := uuid.New()

	_, err := f.svc.CreateInvitation(ctx, InvitationInput{TenantID: "acme", Email: "new@example.com", Role: rbac.RoleAdmin, InvitedBy: &inviter})
	require.NoError(t, err)
	raw := f.mailedToken(t)

	c, err := f.svc.AcceptInvitation(ctx, raw, "New Person", "password123")
	require.NoError(t, err)
	assert.Equal(t, "new@example.com", c.Email)
	assert.True(t, c.HasVerifiedEmail())
	assert.True(t, c.IsActive())
	assert.True(t, c.CheckPassword("password123"))

	stored, err := f.identities.GetByEmail(ctx, "new@example.com")
	require.NoError(t, err)
	assert.Equal(t, c.GlobalID, stored.GlobalID)

	require.Len(t, f.target.attached, 1)
	got := f.target.attached[0]
	assert.Equal(t, "acme", got.TenantID)
	assert.Equal(t, c.GlobalID, got.GlobalID)
	assert.Equal(t, rbac.RoleAdmin, got.Role)
	require.NotNil(t, got.InvitedBy)
	assert.Equal(t, inviter, *got.InvitedBy)
	assert.Equal(t, []events.Type{events.UserCreated}, f.events.Types())

	// single use
	_, err = f.svc.AcceptInvitation(ctx, raw, "Again", "password123")
	assert.True(t, apperror.HasCode(err, apperror.CodeValidation))
}

func TestAcceptInvitationRejectsExpiredAndWeakInput(t *testing.T) {
	ctx := context.Background()
	f := newInvitationFixture(t)

	_, err := f.svc.CreateInvitation(ctx, InvitationInput{TenantID: "acme", Email: "new@example.com"})
	require.NoError(t, err)
	raw := f.mailedToken(t)

	_, err = f.svc.AcceptInvitation(ctx, raw, "New Person", "short")
	assert.True(t, apperror.HasCode(err, apperror.CodeValidation))
	_, err = f.svc.AcceptInvitation(ctx, raw, "  ", "password123")
	assert.True(t, apperror.HasCode(err, apperror.CodeValidation))
	assert.Len(t, f.invitations.rows, 1)

	f.svc.now = func() time.Time { return time.Now().UTC().Add(8 * 24 * time.Hour) }
	_, err = f.svc.AcceptInvitation(ctx, raw, "New Person", "password123")
	assert.True(t, apperror.HasCode(err, apperror.CodeValidation))
	assert.Empty(t, f.target.attached)

	n, err := f.svc.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
