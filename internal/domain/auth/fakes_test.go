package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"hybridauth/internal/core/apperror"
	"hybridauth/internal/core/id"
	"hybridauth/internal/domain/analytics"
	"hybridauth/internal/domain/identity"
)

type memIdentities struct {
	mu   sync.Mutex
	byID map[id.ID]*identity.CentralIdentity
}

func newMemIdentities() *memIdentities {
	return &memIdentities{byID: make(map[id.ID]*identity.CentralIdentity)}
}

func (r *memIdentities) Create(_ context.Context, c *identity.CentralIdentity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, other := range r.byID {
		if other.Email == c.Email {
			return apperror.NewDuplicate("user", "email", c.Email)
		}
	}
	cp := *c
	r.byID[c.ID] = &cp
	return nil
}

func (r *memIdentities) GetByID(_ context.Context, centralID id.ID) (*identity.CentralIdentity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.byID[centralID]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, apperror.NewNotFound("user", centralID)
}

func (r *memIdentities) GetByGlobalID(_ context.Context, globalID uuid.UUID) (*identity.CentralIdentity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.byID {
		if c.GlobalID == globalID {
			cp := *c
			return &cp, nil
		}
	}
	return nil, apperror.NewNotFound("user", globalID)
}

func (r *memIdentities) GetByEmail(_ context.Context, email string) (*identity.CentralIdentity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.byID {
		if c.Email == email {
			cp := *c
			return &cp, nil
		}
	}
	return nil, apperror.NewNotFound("user", email)
}

func (r *memIdentities) Update(_ context.Context, c *identity.CentralIdentity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *c
	r.byID[c.ID] = &cp
	return nil
}

func (r *memIdentities) RecordLogin(_ context.Context, centralID id.ID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.byID[centralID]; ok {
		c.RecordLogin(at)
	}
	return nil
}

type memRefresh struct {
	mu     sync.Mutex
	tokens map[string]*RefreshToken

	// afterGet runs outside the lock once Get has read a token.
	afterGet func()
}

func newMemRefresh() *memRefresh { return &memRefresh{tokens: make(map[string]*RefreshToken)} }

func (r *memRefresh) Create(_ context.Context, t *RefreshToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *t
	r.tokens[t.TokenID] = &cp
	return nil
}

func (r *memRefresh) Get(_ context.Context, tokenID string) (*RefreshToken, error) {
	r.mu.Lock()
	t, ok := r.tokens[tokenID]
	var cp RefreshToken
	if ok {
		cp = *t
	}
	r.mu.Unlock()
	if !ok {
		return nil, apperror.NewNotFound("refresh_token", tokenID)
	}
	if r.afterGet != nil {
		r.afterGet()
	}
	return &cp, nil
}

func (r *memRefresh) Touch(_ context.Context, tokenID, jti, ip, agent string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.tokens[tokenID]; ok {
		t.JTI, t.LastUsedAt, t.LastUsedIP, t.LastUsedAgent = jti, &at, &ip, &agent
	}
	return nil
}

func (r *memRefresh) Revoke(_ context.Context, tokenID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tokens[tokenID]
	if !ok || t.Revoked {
		return false, nil
	}
	t.Revoked = true
	return true, nil
}

func (r *memRefresh) RevokeAllForUser(_ context.Context, centralID id.ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.tokens {
		if t.CentralUserID == centralID {
			t.Revoked = true
		}
	}
	return nil
}

func (r *memRefresh) DeleteExpired(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for k, t := range r.tokens {
		if t.ExpiresAt.Before(cutoff) {
			delete(r.tokens, k)
			n++
		}
	}
	return n, nil
}

type memLinks struct {
	mu    sync.Mutex
	links map[id.ID]*MagicLinkToken

	// afterDelete runs outside the lock once DeleteUnused returns.
	afterDelete func()
}

func newMemLinks() *memLinks { return &memLinks{links: make(map[id.ID]*MagicLinkToken)} }

func (r *memLinks) DeleteUnused(_ context.Context, email string, typ MagicLinkType) error {
	r.mu.Lock()
	for k, l := range r.links {
		if l.Email == email && l.Type == typ && l.UsedAt == nil {
			delete(r.links, k)
		}
	}
	r.mu.Unlock()
	if r.afterDelete != nil {
		r.afterDelete()
	}
	return nil
}

// Create enforces one unused link per (email, type) like the partial unique
// index does.
func (r *memLinks) Create(_ context.Context, t *MagicLinkToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range r.links {
		if l.Email == t.Email && l.Type == t.Type && l.UsedAt == nil {
			return apperror.NewDuplicate("magic link", "email", t.Email)
		}
	}
	cp := *t
	r.links[t.ID] = &cp
	return nil
}

func (r *memLinks) GetByHash(_ context.Context, hash string, typ MagicLinkType) (*MagicLinkToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range r.links {
		if l.TokenHash == hash && l.Type == typ {
			cp := *l
			return &cp, nil
		}
	}
	return nil, apperror.NewNotFound("magic_link", hash)
}

func (r *memLinks) MarkUsed(_ context.Context, tokenID id.ID, at time.Time, _, _ string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.links[tokenID]
	if !ok || l.UsedAt != nil {
		return false, nil
	}
	l.UsedAt = &at
	return true, nil
}

func (r *memLinks) DeleteExpired(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for k, l := range r.links {
		if l.ExpiresAt.Before(cutoff) {
			delete(r.links, k)
			n++
		}
	}
	return n, nil
}

type memDenylist struct {
	mu  sync.Mutex
	set map[string]time.Time
}

func newMemDenylist() *memDenylist { return &memDenylist{set: make(map[string]time.Time)} }

func (d *memDenylist) Revoke(_ context.Context, jti string, until time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.set[jti] = until
	return nil
}

func (d *memDenylist) IsRevoked(_ context.Context, jti string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.set[jti]
	return ok, nil
}

type captureMailer struct {
	mu   sync.Mutex
	sent []Message
}

func (m *captureMailer) Send(_ context.Context, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return nil
}

type countingLimiter struct {
	limit  int
	counts map[string]int
}

func (l *countingLimiter) Allow(_ context.Context, key string) (bool, time.Duration, error) {
	if l.counts == nil {
		l.counts = make(map[string]int)
	}
	l.counts[key]++
	if l.counts[key] > l.limit {
		return false, 42 * time.Second, nil
	}
	return true, 0, nil
}

func (l *countingLimiter) Reset(_ context.Context, key string) error {
	delete(l.counts, key)
	return nil
}

type eventSink struct {
	mu     sync.Mutex
	events []analytics.LoginEvent
}

func (s *eventSink) RecordLogin(_ context.Context, e *analytics.LoginEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, *e)
	return nil
}

// repoVerifier verifies directly against the in-memory repository.
type repoVerifier struct{ repo *memIdentities }

func (v repoVerifier) MarkEmailVerified(ctx context.Context, c *identity.CentralIdentity) error {
	c.MarkEmailVerified(time.Now().UTC())
	return v.repo.Update(ctx, c)
}

type fixture struct {
	identities *memIdentities
	refresh    *memRefresh
	links      *memLinks
	denylist   *memDenylist
	mailer     *captureMailer
	sink       *eventSink
	limiter    *countingLimiter
	tokens     *TokenService
	sessions   *SessionService
	twoFactor  *TwoFactorService
	login      *LoginService
	magic      *MagicLinkService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		identities: newMemIdentities(),
		refresh:    newMemRefresh(),
		links:      newMemLinks(),
		denylist:   newMemDenylist(),
		mailer:     &captureMailer{},
		sink:       &eventSink{},
		limiter:    &countingLimiter{limit: 5},
	}
	var err error
	f.tokens, err = NewTokenService(DefaultJWTConfig("test-secret"))
	require.NoError(t, err)
	f.sessions = NewSessionService(f.tokens, f.refresh, nil, f.identities, f.denylist, DefaultSessionConfig())

	sealer, err := NewSealer(make([]byte, 32))
	require.NoError(t, err)
	f.twoFactor = NewTwoFactorService(f.identities, sealer, "hybridauth")
	f.login = NewLoginService(f.identities, f.sessions, f.twoFactor, f.limiter, f.sink)
	f.magic = NewMagicLinkService(f.links, nil, f.identities, repoVerifier{f.identities}, f.login, f.mailer, 0, "https://app.test")
	return f
}

// activeUser stores a verified, active identity with the given password.
func (f *fixture) activeUser(t *testing.T, email, password string) *identity.CentralIdentity {
	t.Helper()
	c := identity.NewCentralIdentity("Test User", email)
	require.NoError(t, c.SetPassword(password, bcrypt.MinCost))
	c.MarkEmailVerified(time.Now().UTC())
	require.NoError(t, f.identities.Create(context.Background(), c))
	return c
}
