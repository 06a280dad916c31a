package tenancy

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hybridauth/internal/core/apperror"
	"hybridauth/internal/core/tenant"
	"hybridauth/internal/core/tx"
	"hybridauth/internal/domain/events"
	"hybridauth/internal/domain/membership"
)

// memStore backs both the registry and the versioned repository. Its
// transaction manager holds one lock for the whole transaction, which is what
// SELECT ... FOR UPDATE gives on a single row.
type memStore struct {
	tenant.Registry
	mu      sync.Mutex
	tenants map[string]tenant.Tenant
	domains map[string]string
}

func newMemStore() *memStore {
	return &memStore{tenants: map[string]tenant.Tenant{}, domains: map[string]string{}}
}

func (m *memStore) txManager() tx.Manager {
	var lock sync.Mutex
	return tx.Func(func(ctx context.Context, fn func(context.Context) error) error {
		lock.Lock()
		defer lock.Unlock()
		return fn(ctx)
	})
}

func (m *memStore) GetByID(_ context.Context, id string) (*tenant.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tenants[id]
	if !ok {
		return nil, tenant.ErrTenantNotFound
	}
	return &t, nil
}

func (m *memStore) ListAll(_ context.Context) ([]*tenant.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*tenant.Tenant
	for _, t := range m.tenants {
		t := t
		out = append(out, &t)
	}
	return out, nil
}

func (m *memStore) Create(_ context.Context, t *tenant.Tenant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tenants[t.ID]; ok {
		return tenant.ErrTenantExists
	}
	for _, d := range t.Domains {
		if _, taken := m.domains[d]; taken {
			return tenant.ErrDomainTaken
		}
	}
	for _, d := range t.Domains {
		m.domains[d] = t.ID
	}
	t.Version = 1
	m.tenants[t.ID] = *t
	return nil
}

func (m *memStore) AddDomain(_ context.Context, id, domain string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tenants[id]; !ok {
		return tenant.ErrTenantNotFound
	}
	if _, taken := m.domains[domain]; taken {
		return tenant.ErrDomainTaken
	}
	m.domains[domain] = id
	return nil
}

func (m *memStore) GetForUpdate(ctx context.Context, id string) (*tenant.Tenant, error) {
	return m.GetByID(ctx, id)
}

func (m *memStore) Update(_ context.Context, t *tenant.Tenant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tenants[t.ID] = *t
	return nil
}

type recordingInvalidator struct {
	mu  sync.Mutex
	ids []string
}

func (r *recordingInvalidator) Invalidate(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, id)
}

type recordingAttacher struct {
	inputs []membership.AttachInput
}

func (r *recordingAttacher) Attach(_ context.Context, in membership.AttachInput) (*membership.Edge, error) {
	r.inputs = append(r.inputs, in)
	return &membership.Edge{TenantID: in.TenantID, GlobalID: in.GlobalID}, nil
}

type recordingProvisioner struct {
	dbNames []string
	fail    error
}

func (p *recordingProvisioner) CreateDatabase(_ context.Context, t *tenant.Tenant) error {
	if p.fail != nil {
		return p.fail
	}
	p.dbNames = append(p.dbNames, t.DBName)
	return nil
}

type fixture struct {
	svc         *Service
	store       *memStore
	events      *events.Recorder
	invalidator *recordingInvalidator
	attacher    *recordingAttacher
	provisioner *recordingProvisioner
}

func newFixture() *fixture {
	f := &fixture{
		store:       newMemStore(),
		events:      &events.Recorder{},
		invalidator: &recordingInvalidator{},
		attacher:    &recordingAttacher{},
		provisioner: &recordingProvisioner{},
	}
	f.svc = NewService(f.store, f.store, f.store.txManager(), f.provisioner, f.attacher, f.events, f.invalidator)
	return f
}

func TestProvisionCreatesVersionOneWithOwner(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	owner := uuid.New()

	created, err := f.svc.Provision(ctx, ProvisionInput{
		CreateInput:   tenant.CreateInput{ID: "Acme-Corp", Name: " ACME ", Domains: []string{"Portal.Acme.COM"}},
		OwnerGlobalID: &owner,
	})
	require.NoError(t, err)
	assert.Equal(t, "acme-corp", created.ID)
	assert.Equal(t, int64(1), created.Version)
	assert.Equal(t, "tenant_acme_corp", created.DBName)
	assert.Equal(t, []string{"portal.acme.com"}, created.Domains)
	assert.Equal(t, []string{"tenant_acme_corp"}, f.provisioner.dbNames)

	require.Len(t, f.attacher.inputs, 1)
	assert.Equal(t, "owner", f.attacher.inputs[0].Role)
	assert.Equal(t, owner, f.attacher.inputs[0].GlobalID)
	assert.Equal(t, []events.Type{events.TenantProvisioned}, f.events.Types())

	_, err = f.svc.Provision(ctx, ProvisionInput{CreateInput: tenant.CreateInput{ID: "acme-corp", Name: "Again"}})
	assert.True(t, apperror.HasCode(err, apperror.CodeDuplicate))
}

func TestProvisionValidates(t *testing.T) {
	f := newFixture()
	_, err := f.svc.Provision(context.Background(), ProvisionInput{CreateInput: tenant.CreateInput{ID: "x", Name: "X"}})
	assert.True(t, apperror.HasCode(err, apperror.CodeValidation))
}

func TestUpdateWithMatchingVersion(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	_, err := f.svc.Provision(ctx, ProvisionInput{CreateInput: tenant.CreateInput{ID: "acme", Name: "ACME"}})
	require.NoError(t, err)

	name := "ACME Inc"
	updated, err := f.svc.Update(ctx, "acme", 1, Patch{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Version)
	assert.Equal(t, "ACME Inc", updated.Name)
	// once on activation, once on rename
	assert.Equal(t, []string{"acme", "acme"}, f.invalidator.ids)
}

func TestUpdateWithStaleVersionConflicts(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	_, err := f.svc.Provision(ctx, ProvisionInput{CreateInput: tenant.CreateInput{ID: "acme", Name: "ACME"}})
	require.NoError(t, err)

	name := "First"
	_, err = f.svc.Update(ctx, "acme", 1, Patch{Name: &name})
	require.NoError(t, err)

	name = "Second"
	_, err = f.svc.Update(ctx, "acme", 1, Patch{Name: &name})
	appErr, ok := apperror.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperror.CodeConcurrencyConflict, appErr.Code)
	assert.Equal(t, 409, appErr.HTTPStatus)
	assert.Equal(t, int64(1), appErr.Details["expected_version"])
	assert.Equal(t, int64(2), appErr.Details["actual_version"])

	stored, err := f.svc.Get(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, "First", stored.Name)
	assert.Equal(t, int64(2), stored.Version)
}

func TestConcurrentUpdatesExactlyOneWins(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	_, err := f.svc.Provision(ctx, ProvisionInput{CreateInput: tenant.CreateInput{ID: "acme", Name: "ACME"}})
	require.NoError(t, err)

	const writers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := "writer"
			_, err := f.svc.Update(ctx, "acme", 1, Patch{Name: &name})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case apperror.IsConcurrencyConflict(err):
				conflicts++
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, writers-1, conflicts)

	stored, err := f.svc.Get(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, int64(2), stored.Version)
}

func TestSuspendAndActivate(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	_, err := f.svc.Provision(ctx, ProvisionInput{CreateInput: tenant.CreateInput{ID: "acme", Name: "ACME"}})
	require.NoError(t, err)

	suspended, err := f.svc.Suspend(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, tenant.StatusSuspended, suspended.Status)

	active, err := f.svc.Activate(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, tenant.StatusActive, active.Status)
	assert.Equal(t, int64(3), active.Version)

	_, err = f.svc.Suspend(ctx, "ghost")
	assert.True(t, apperror.IsNotFound(err))
}

func TestAddDomainConflicts(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	_, err := f.svc.Provision(ctx, ProvisionInput{CreateInput: tenant.CreateInput{ID: "acme", Name: "ACME", Domains: []string{"acme.example.com"}}})
	require.NoError(t, err)
	_, err = f.svc.Provision(ctx, ProvisionInput{CreateInput: tenant.CreateInput{ID: "globex", Name: "Globex"}})
	require.NoError(t, err)

	err = f.svc.AddDomain(ctx, "globex", "ACME.example.com")
	assert.True(t, apperror.HasCode(err, apperror.CodeDuplicate))

	require.NoError(t, f.svc.AddDomain(ctx, "globex", "globex.example.com"))
	assert.True(t, apperror.HasCode(f.svc.AddDomain(ctx, "globex", "nodot"), apperror.CodeValidation))
}

func TestProvisionLeavesNoDatabaseWhenRegistrationFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	_, err := f.svc.Provision(ctx, ProvisionInput{CreateInput: tenant.CreateInput{ID: "acme", Name: "ACME", Domains: []string{"shared.example.com"}}})
	require.NoError(t, err)

	_, err = f.svc.Provision(ctx, ProvisionInput{CreateInput: tenant.CreateInput{ID: "globex", Name: "Globex", Domains: []string{"shared.example.com"}}})
	assert.True(t, apperror.HasCode(err, apperror.CodeConflict))
	assert.Equal(t, []string{"tenant_acme"}, f.provisioner.dbNames)

	_, err = f.svc.Get(ctx, "globex")
	assert.True(t, apperror.IsNotFound(err))
}

func TestProvisionResumesAfterDatabaseFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.provisioner.fail = errors.New("connection refused")

	_, err := f.svc.Provision(ctx, ProvisionInput{CreateInput: tenant.CreateInput{ID: "acme", Name: "ACME"}})
	require.Error(t, err)

	pending, err := f.svc.Get(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, tenant.StatusProvisioning, pending.Status)
	assert.Empty(t, f.events.Types())

	name := "Renamed"
	_, err = f.svc.Update(ctx, "acme", 1, Patch{Name: &name})
	assert.True(t, apperror.HasCode(err, apperror.CodeConflict))

	f.provisioner.fail = nil
	created, err := f.svc.Provision(ctx, ProvisionInput{CreateInput: tenant.CreateInput{ID: "acme", Name: "ACME"}})
	require.NoError(t, err)
	assert.Equal(t, tenant.StatusActive, created.Status)
	assert.Equal(t, int64(1), created.Version)
	assert.Equal(t, []string{"tenant_acme"}, f.provisioner.dbNames)
	assert.Equal(t, []events.Type{events.TenantProvisioned}, f.events.Types())
}
