package rbac

import (
	"context"
	"errors"
	"sort"

	"hybridauth/internal/core/apperror"
	"hybridauth/internal/core/tenant"
	"hybridauth/internal/core/tx"
)

type memCatalog map[string]bool

func newCatalog(names ...string) memCatalog {
	c := memCatalog{}
	for _, n := range names {
		c[n] = true
	}
	return c
}

func (c memCatalog) Exists(_ context.Context, name string) (bool, error) {
	return c[name], nil
}

func (c memCatalog) Missing(_ context.Context, names []string) ([]string, error) {
	var out []string
	for _, n := range names {
		if !c[n] {
			out = append(out, n)
		}
	}
	return out, nil
}

func (c memCatalog) List(context.Context, string) ([]Permission, error) {
	var out []Permission
	for n := range c {
		out = append(out, Permission{Name: n})
	}
	return out, nil
}

type roleState struct {
	roles  map[string]*Role
	assign map[int64]map[int64]bool // localID -> roleID set
	nextID int64
}

func (s roleState) clone() roleState {
	cp := roleState{roles: map[string]*Role{}, assign: map[int64]map[int64]bool{}, nextID: s.nextID}
	for k, r := range s.roles {
		rc := *r
		rc.Permissions = append([]string(nil), r.Permissions...)
		cp.roles[k] = &rc
	}
	for l, set := range s.assign {
		cp.assign[l] = map[int64]bool{}
		for id := range set {
			cp.assign[l][id] = true
		}
	}
	return cp
}

// memRoles is a RoleRepository whose transactions snapshot and restore state.
type memRoles struct {
	state          roleState
	failSetPerms   bool
	setPermsCalled int
}

func newMemRoles() *memRoles {
	return &memRoles{state: roleState{roles: map[string]*Role{}, assign: map[int64]map[int64]bool{}}}
}

// scope returns a context carrying a transactional tenant scope over m.
func (m *memRoles) scope() context.Context {
	txm := tx.Func(func(ctx context.Context, fn func(context.Context) error) error {
		snapshot := m.state.clone()
		if err := fn(ctx); err != nil {
			m.state = snapshot
			return err
		}
		return nil
	})
	return tenant.WithTxManager(context.Background(), txm)
}

func (m *memRoles) byID(id int64) *Role {
	for _, r := range m.state.roles {
		if r.ID == id {
			return r
		}
	}
	return nil
}

func (m *memRoles) GetByName(_ context.Context, name string) (*Role, error) {
	if r, ok := m.state.roles[name]; ok {
		cp := *r
		return &cp, nil
	}
	return nil, apperror.NewNotFound("role", name)
}

func (m *memRoles) List(context.Context) ([]*Role, error) {
	var out []*Role
	for _, r := range m.state.roles {
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *memRoles) Create(_ context.Context, r *Role) error {
	m.state.nextID++
	r.ID = m.state.nextID
	cp := *r
	m.state.roles[r.Name] = &cp
	return nil
}

func (m *memRoles) Delete(_ context.Context, roleID int64) error {
	if r := m.byID(roleID); r != nil {
		delete(m.state.roles, r.Name)
	}
	for _, set := range m.state.assign {
		delete(set, roleID)
	}
	return nil
}

func (m *memRoles) SetPermissions(_ context.Context, roleID int64, names []string) error {
	m.setPermsCalled++
	if m.failSetPerms {
		return errors.New("link insert failed")
	}
	r := m.byID(roleID)
	if r == nil {
		return apperror.NewNotFound("role", roleID)
	}
	r.Permissions = append([]string(nil), names...)
	return nil
}

func (m *memRoles) Assign(_ context.Context, roleID, localID int64) error {
	if m.state.assign[localID] == nil {
		m.state.assign[localID] = map[int64]bool{}
	}
	m.state.assign[localID][roleID] = true
	return nil
}

func (m *memRoles) Unassign(_ context.Context, roleID, localID int64) error {
	delete(m.state.assign[localID], roleID)
	return nil
}

func (m *memRoles) UnassignAll(_ context.Context, localID int64) error {
	delete(m.state.assign, localID)
	return nil
}

func (m *memRoles) RoleNamesOf(_ context.Context, localID int64) ([]string, error) {
	var out []string
	for id := range m.state.assign[localID] {
		if r := m.byID(id); r != nil {
			out = append(out, r.Name)
		}
	}
	return out, nil
}

func (m *memRoles) PermissionNamesOf(_ context.Context, localID int64) ([]string, error) {
	seen := map[string]bool{}
	var out []string
	for id := range m.state.assign[localID] {
		if r := m.byID(id); r != nil {
			for _, p := range r.Permissions {
				if !seen[p] {
					seen[p] = true
					out = append(out, p)
				}
			}
		}
	}
	return out, nil
}
