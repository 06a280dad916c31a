package membership

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hybridauth/internal/core/apperror"
	"hybridauth/internal/core/tenant"
	"hybridauth/internal/core/tx"
	"hybridauth/internal/domain/events"
	"hybridauth/internal/domain/identity"
	"hybridauth/internal/domain/rbac"
	"hybridauth/pkg/logger"
)

type memEdges struct {
	edges map[string]Edge
}

func edgeKey(tid string, g uuid.UUID) string { return tid + "/" + g.String() }

func (m *memEdges) Create(_ context.Context, e *Edge) error {
	k := edgeKey(e.TenantID, e.GlobalID)
	if _, ok := m.edges[k]; ok {
		return apperror.NewDuplicate("membership", "global_id", e.GlobalID.String())
	}
	m.edges[k] = *e
	return nil
}

func (m *memEdges) Get(_ context.Context, tid string, g uuid.UUID) (*Edge, error) {
	if e, ok := m.edges[edgeKey(tid, g)]; ok {
		return &e, nil
	}
	return nil, apperror.NewNotFound("membership", g)
}

func (m *memEdges) Exists(_ context.Context, tid string, g uuid.UUID) (bool, error) {
	_, ok := m.edges[edgeKey(tid, g)]
	return ok, nil
}

func (m *memEdges) Delete(_ context.Context, tid string, g uuid.UUID) error {
	delete(m.edges, edgeKey(tid, g))
	return nil
}

func (m *memEdges) TenantIDsOf(_ context.Context, g uuid.UUID) ([]string, error) {
	var out []string
	for _, e := range m.edges {
		if e.GlobalID == g {
			out = append(out, e.TenantID)
		}
	}
	return out, nil
}

func (m *memEdges) ListByTenant(_ context.Context, tid string) ([]Edge, error) {
	var out []Edge
	for _, e := range m.edges {
		if e.TenantID == tid {
			out = append(out, e)
		}
	}
	return out, nil
}

type memIdentities struct {
	identity.CentralRepository
	all []*identity.CentralIdentity
}

func (m *memIdentities) GetByGlobalID(_ context.Context, g uuid.UUID) (*identity.CentralIdentity, error) {
	for _, c := range m.all {
		if c.GlobalID == g {
			return c, nil
		}
	}
	return nil, apperror.NewNotFound("user", g)
}

func (m *memIdentities) GetByEmail(_ context.Context, email string) (*identity.CentralIdentity, error) {
	for _, c := range m.all {
		if c.Email == email {
			return c, nil
		}
	}
	return nil, apperror.NewNotFound("user", email)
}

type stubRegistry struct {
	tenant.Registry
	tenants map[string]*tenant.Tenant
}

func (r stubRegistry) GetByID(_ context.Context, id string) (*tenant.Tenant, error) {
	if t, ok := r.tenants[id]; ok {
		return t, nil
	}
	return nil, tenant.ErrTenantNotFound
}

// memLocal keeps projections per tenant bound in ctx.
type memLocal struct {
	rows   map[string]map[uuid.UUID]*identity.LocalIdentity
	nextID int64
}

func (m *memLocal) table(ctx context.Context) map[uuid.UUID]*identity.LocalIdentity {
	tid := tenant.GetTenantID(ctx)
	if tid == "" {
		panic("no tenant scope")
	}
	if m.rows[tid] == nil {
		m.rows[tid] = map[uuid.UUID]*identity.LocalIdentity{}
	}
	return m.rows[tid]
}

func (m *memLocal) GetByGlobalID(ctx context.Context, g uuid.UUID) (*identity.LocalIdentity, error) {
	if l, ok := m.table(ctx)[g]; ok {
		cp := *l
		return &cp, nil
	}
	return nil, apperror.NewNotFound("local identity", g)
}

func (m *memLocal) Upsert(ctx context.Context, l *identity.LocalIdentity) (*identity.LocalIdentity, error) {
	t := m.table(ctx)
	if cur, ok := t[l.GlobalID]; ok {
		l.ID = cur.ID
	} else {
		m.nextID++
		l.ID = m.nextID
	}
	cp := *l
	t[l.GlobalID] = &cp
	return l, nil
}

func (m *memLocal) DeleteByGlobalID(ctx context.Context, g uuid.UUID) error {
	delete(m.table(ctx), g)
	return nil
}

// memRoles is a role table shared by all tenants; assignments are per tenant.
type memRoles struct {
	rbac.RoleRepository
	roles    map[string]*rbac.Role
	assigned map[string]map[int64]map[int64]bool
	failOn   string
}

func (m *memRoles) byTenant(ctx context.Context) map[int64]map[int64]bool {
	tid := tenant.GetTenantID(ctx)
	if m.assigned[tid] == nil {
		m.assigned[tid] = map[int64]map[int64]bool{}
	}
	return m.assigned[tid]
}

func (m *memRoles) GetByName(_ context.Context, name string) (*rbac.Role, error) {
	if r, ok := m.roles[name]; ok {
		return r, nil
	}
	return nil, apperror.NewNotFound("role", name)
}

func (m *memRoles) Assign(ctx context.Context, roleID, localID int64) error {
	if r := m.roles[m.failOn]; r != nil && r.ID == roleID {
		return errors.New("assign failed")
	}
	a := m.byTenant(ctx)
	if a[localID] == nil {
		a[localID] = map[int64]bool{}
	}
	a[localID][roleID] = true
	return nil
}

func (m *memRoles) UnassignAll(ctx context.Context, localID int64) error {
	delete(m.byTenant(ctx), localID)
	return nil
}

func (m *memRoles) RoleNamesOf(ctx context.Context, localID int64) ([]string, error) {
	var out []string
	for _, r := range m.roles {
		if m.byTenant(ctx)[localID][r.ID] {
			out = append(out, r.Name)
		}
	}
	return out, nil
}

type countingActivator struct {
	active atomic.Int32
	total  atomic.Int32
}

func (a *countingActivator) Activate(ctx context.Context, t *tenant.Tenant) (context.Context, func(), error) {
	a.active.Add(1)
	a.total.Add(1)
	ctx = tenant.WithTenant(ctx, t)
	ctx = tenant.WithTxManager(ctx, tx.Passthrough)
	return ctx, func() { a.active.Add(-1) }, nil
}

type fixture struct {
	svc       *Service
	edges     *memEdges
	local     *memLocal
	roles     *memRoles
	activator *countingActivator
	events    *events.Recorder
	verified  *identity.CentralIdentity
	pending   *identity.CentralIdentity
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	verified := identity.NewCentralIdentity("Ada", "ada@example.com")
	verified.MarkEmailVerified(time.Now())
	pending := identity.NewCentralIdentity("Bob", "bob@example.com")

	f := &fixture{
		edges: &memEdges{edges: map[string]Edge{}},
		local: &memLocal{rows: map[string]map[uuid.UUID]*identity.LocalIdentity{}},
		roles: &memRoles{
			roles: map[string]*rbac.Role{
				rbac.RoleMember: {ID: 1, Name: rbac.RoleMember},
				rbac.RoleAdmin:  {ID: 2, Name: rbac.RoleAdmin},
			},
			assigned: map[string]map[int64]map[int64]bool{},
		},
		activator: &countingActivator{},
		events:    &events.Recorder{},
		verified:  verified,
		pending:   pending,
	}
	registry := stubRegistry{tenants: map[string]*tenant.Tenant{
		"acme":   {ID: "acme", Status: tenant.StatusActive},
		"frozen": {ID: "frozen", Status: tenant.StatusSuspended},
	}}
	syncer := identity.NewSyncer(registry, f.activator, f.local, f.edges, logger.Nop())
	f.svc = NewService(Deps{
		Edges:      f.edges,
		CentralTx:  tx.Passthrough,
		Identities: &memIdentities{all: []*identity.CentralIdentity{verified, pending}},
		Registry:   registry,
		Syncer:     syncer,
		Local:      f.local,
		Roles:      rbac.NewRoleService(nil, f.roles),
		Publisher:  f.events,
	})
	return f
}

func TestAttachCreatesEdgeProjectionAndRole(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	edge, err := f.svc.Attach(ctx, AttachInput{TenantID: "acme", GlobalID: f.verified.GlobalID})
	require.NoError(t, err)
	assert.Equal(t, "acme", edge.TenantID)

	ok, err := f.svc.UserCanAccessTenant(ctx, "acme", f.verified.GlobalID)
	require.NoError(t, err)
	assert.True(t, ok)

	roles, err := f.svc.GetUserRoles(ctx, "acme", f.verified.GlobalID)
	require.NoError(t, err)
	assert.Equal(t, []string{rbac.RoleMember}, roles)

	proj := f.local.rows["acme"][f.verified.GlobalID]
	require.NotNil(t, proj)
	assert.Equal(t, f.verified.Email, proj.Email)

	assert.Equal(t, []events.Type{events.UserAttached}, f.events.Types())
	assert.Equal(t, int32(0), f.activator.active.Load())
}

func TestAttachTwiceConflicts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.svc.Attach(ctx, AttachInput{TenantID: "acme", GlobalID: f.verified.GlobalID})
	require.NoError(t, err)

	_, err = f.svc.Attach(ctx, AttachInput{TenantID: "acme", GlobalID: f.verified.GlobalID})
	assert.True(t, apperror.HasCode(err, apperror.CodeConflict))
}

func TestAttachUnknownRoleLeavesNoEdge(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.Attach(ctx, AttachInput{TenantID: "acme", GlobalID: f.verified.GlobalID, Role: "ghost"})
	assert.True(t, apperror.IsNotFound(err))
	assert.Empty(t, f.edges.edges)
}

func TestAttachRollsBackEdgeWhenAssignFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.roles.failOn = rbac.RoleAdmin

	_, err := f.svc.Attach(ctx, AttachInput{TenantID: "acme", GlobalID: f.verified.GlobalID, Role: rbac.RoleAdmin})
	require.Error(t, err)
	assert.Empty(t, f.edges.edges)
	assert.Equal(t, int32(0), f.activator.active.Load())
}

func TestAttachToInactiveTenant(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Attach(context.Background(), AttachInput{TenantID: "frozen", GlobalID: f.verified.GlobalID})
	assert.True(t, apperror.HasCode(err, apperror.CodeTenantNotFound))
	assert.Equal(t, int32(0), f.activator.total.Load())
}

func TestInviteRequiresVerifiedEmail(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	inviter := uuid.New()

	_, err := f.svc.Invite(ctx, "acme", "bob@example.com", "", inviter)
	assert.True(t, apperror.HasCode(err, apperror.CodeValidation))

	_, err = f.svc.Invite(ctx, "acme", "nobody@example.com", "", inviter)
	assert.True(t, apperror.IsNotFound(err))
	assert.ErrorIs(t, err, ErrNoAccount)

	edge, err := f.svc.Invite(ctx, "acme", " ADA@example.com", rbac.RoleAdmin, inviter)
	require.NoError(t, err)
	require.NotNil(t, edge.InvitedBy)
	assert.Equal(t, inviter, *edge.InvitedBy)
}

func TestCheckRole(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.svc.CheckRole(ctx, "acme", rbac.RoleAdmin))
	assert.True(t, apperror.IsNotFound(f.svc.CheckRole(ctx, "acme", "ghost")))
	assert.True(t, apperror.HasCode(f.svc.CheckRole(ctx, "initech", rbac.RoleMember), apperror.CodeTenantNotFound))
}

func TestDetachRemovesRolesAndProjection(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.svc.Attach(ctx, AttachInput{TenantID: "acme", GlobalID: f.verified.GlobalID})
	require.NoError(t, err)
	localID := f.local.rows["acme"][f.verified.GlobalID].ID

	require.NoError(t, f.svc.Detach(ctx, "acme", f.verified.GlobalID))

	assert.Empty(t, f.edges.edges)
	assert.Nil(t, f.local.rows["acme"][f.verified.GlobalID])
	assert.Empty(t, f.roles.assigned["acme"][localID])
	assert.Equal(t, []events.Type{events.UserAttached, events.UserDetached}, f.events.Types())

	err = f.svc.Detach(ctx, "acme", f.verified.GlobalID)
	assert.True(t, apperror.IsNotFound(err))
}

func TestUpdateUserRoleReplacesRoles(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.svc.Attach(ctx, AttachInput{TenantID: "acme", GlobalID: f.verified.GlobalID})
	require.NoError(t, err)

	require.NoError(t, f.svc.UpdateUserRole(ctx, "acme", f.verified.GlobalID, rbac.RoleAdmin))
	roles, err := f.svc.GetUserRoles(ctx, "acme", f.verified.GlobalID)
	require.NoError(t, err)
	assert.Equal(t, []string{rbac.RoleAdmin}, roles)

	roles, err = f.svc.GetUserRoles(ctx, "acme", uuid.New())
	require.NoError(t, err)
	assert.Nil(t, roles)
}

func TestTenantsOfSkipsInactive(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.svc.Attach(ctx, AttachInput{TenantID: "acme", GlobalID: f.verified.GlobalID})
	require.NoError(t, err)
	require.NoError(t, f.edges.Create(ctx, &Edge{TenantID: "frozen", GlobalID: f.verified.GlobalID}))

	tenants, err := f.svc.TenantsOf(ctx, f.verified.GlobalID)
	require.NoError(t, err)
	require.Len(t, tenants, 1)
	assert.Equal(t, "acme", tenants[0].ID)
}

func TestReconcileRepairsProjections(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.svc.Attach(ctx, AttachInput{TenantID: "acme", GlobalID: f.verified.GlobalID})
	require.NoError(t, err)
	require.NoError(t, f.edges.Create(ctx, &Edge{TenantID: "acme", GlobalID: f.pending.GlobalID}))
	f.local.rows["acme"][f.verified.GlobalID].Name = "stale"

	n, err := f.svc.Reconcile(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.Equal(t, "Ada", f.local.rows["acme"][f.verified.GlobalID].Name)
	require.NotNil(t, f.local.rows["acme"][f.pending.GlobalID])
	assert.Equal(t, f.pending.Email, f.local.rows["acme"][f.pending.GlobalID].Email)
	assert.Equal(t, int32(0), f.activator.active.Load())

	_, err = f.svc.Reconcile(ctx, "frozen")
	assert.True(t, apperror.HasCode(err, apperror.CodeTenantNotFound))
}
