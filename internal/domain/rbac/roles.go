package rbac

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"hybridauth/internal/core/apperror"
	"hybridauth/internal/core/tenant"
	"hybridauth/internal/core/tx"
	"hybridauth/pkg/logger"
)

// RoleService manages roles inside the tenant scope held by ctx. Permission
// names are checked against the central catalog before anything is written,
// and each operation commits as a single tenant transaction.
type RoleService struct {
	catalog Catalog
	roles   RoleRepository
}

// NewRoleService creates a role service.
func NewRoleService(catalog Catalog, roles RoleRepository) *RoleService {
	return &RoleService{catalog: catalog, roles: roles}
}

func (s *RoleService) txm(ctx context.Context) (tx.Manager, error) {
	txm, err := tenant.GetTxManager(ctx)
	if err != nil {
		return nil, apperror.NewInternal(err)
	}
	return txm, nil
}

func (s *RoleService) validatePermissions(ctx context.Context, names []string) ([]string, error) {
	names = dedupe(names)
	for _, n := range names {
		if !ValidPermissionName(n) {
			return nil, apperror.NewValidation(fmt.Sprintf("invalid permission name %q", n))
		}
	}
	missing, err := s.catalog.Missing(ctx, names)
	if err != nil {
		return nil, fmt.Errorf("check catalog: %w", err)
	}
	if len(missing) > 0 {
		return nil, apperror.NewValidation("unknown permissions").
			WithDetail("unknown", missing)
	}
	return names, nil
}

// ListRoles returns all roles in the tenant.
func (s *RoleService) ListRoles(ctx context.Context) ([]*Role, error) {
	return s.roles.List(ctx)
}

// GetRole returns a role by name.
func (s *RoleService) GetRole(ctx context.Context, name string) (*Role, error) {
	return s.roles.GetByName(ctx, name)
}

// CreateRoleWithPermissions creates a role linked to the given permissions.
// On any failure no role row remains.
func (s *RoleService) CreateRoleWithPermissions(ctx context.Context, name string, permissions []string) (*Role, error) {
	name = strings.TrimSpace(name)
	if !ValidRoleName(name) {
		return nil, apperror.NewValidation(fmt.Sprintf("invalid role name %q", name))
	}
	perms, err := s.validatePermissions(ctx, permissions)
	if err != nil {
		return nil, err
	}
	txm, err := s.txm(ctx)
	if err != nil {
		return nil, err
	}

	var created *Role
	err = txm.RunInTransaction(ctx, func(ctx context.Context) error {
		if _, err := s.roles.GetByName(ctx, name); err == nil {
			return apperror.NewDuplicate("role", "name", name)
		} else if !apperror.IsNotFound(err) {
			return err
		}

		now := time.Now().UTC()
		r := &Role{Name: name, Guard: DefaultGuard, CreatedAt: now, UpdatedAt: now}
		if err := s.roles.Create(ctx, r); err != nil {
			return err
		}
		if err := s.roles.SetPermissions(ctx, r.ID, perms); err != nil {
			return err
		}
		r.Permissions = perms
		created = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.Info(ctx, "role created", "role", name, "permissions", len(perms))
	return created, nil
}

// UpdateRolePermissions replaces the permission set of a role.
func (s *RoleService) UpdateRolePermissions(ctx context.Context, name string, permissions []string) (*Role, error) {
	perms, err := s.validatePermissions(ctx, permissions)
	if err != nil {
		return nil, err
	}
	txm, err := s.txm(ctx)
	if err != nil {
		return nil, err
	}

	var updated *Role
	err = txm.RunInTransaction(ctx, func(ctx context.Context) error {
		r, err := s.roles.GetByName(ctx, name)
		if err != nil {
			return err
		}
		if err := s.roles.SetPermissions(ctx, r.ID, perms); err != nil {
			return err
		}
		r.Permissions = perms
		updated = r
		return nil
	})
	return updated, err
}

// DeleteRole removes a role. The owner role cannot be deleted.
func (s *RoleService) DeleteRole(ctx context.Context, name string) error {
	if name == RoleOwner {
		return apperror.NewForbidden("the owner role cannot be deleted")
	}
	txm, err := s.txm(ctx)
	if err != nil {
		return err
	}
	return txm.RunInTransaction(ctx, func(ctx context.Context) error {
		r, err := s.roles.GetByName(ctx, name)
		if err != nil {
			return err
		}
		return s.roles.Delete(ctx, r.ID)
	})
}

// AssignRole gives localID the named role. Assigning an already held role is a no-op.
func (s *RoleService) AssignRole(ctx context.Context, localID int64, roleName string) error {
	txm, err := s.txm(ctx)
	if err != nil {
		return err
	}
	return txm.RunInTransaction(ctx, func(ctx context.Context) error {
		r, err := s.roles.GetByName(ctx, roleName)
		if err != nil {
			return err
		}
		return s.roles.Assign(ctx, r.ID, localID)
	})
}

// RemoveRole takes the named role away from localID.
func (s *RoleService) RemoveRole(ctx context.Context, localID int64, roleName string) error {
	txm, err := s.txm(ctx)
	if err != nil {
		return err
	}
	return txm.RunInTransaction(ctx, func(ctx context.Context) error {
		r, err := s.roles.GetByName(ctx, roleName)
		if err != nil {
			return err
		}
		return s.roles.Unassign(ctx, r.ID, localID)
	})
}

// SyncRoles makes roleNames the exact role set of localID.
func (s *RoleService) SyncRoles(ctx context.Context, localID int64, roleNames ...string) error {
	txm, err := s.txm(ctx)
	if err != nil {
		return err
	}
	return txm.RunInTransaction(ctx, func(ctx context.Context) error {
		ids := make([]int64, 0, len(roleNames))
		for _, name := range dedupe(roleNames) {
			r, err := s.roles.GetByName(ctx, name)
			if err != nil {
				return err
			}
			ids = append(ids, r.ID)
		}
		if err := s.roles.UnassignAll(ctx, localID); err != nil {
			return err
		}
		for _, id := range ids {
			if err := s.roles.Assign(ctx, id, localID); err != nil {
				return err
			}
		}
		return nil
	})
}

// RemoveAllRoles strips every role from localID.
func (s *RoleService) RemoveAllRoles(ctx context.Context, localID int64) error {
	return s.roles.UnassignAll(ctx, localID)
}

// RolesOf lists the role names held by localID.
func (s *RoleService) RolesOf(ctx context.Context, localID int64) ([]string, error) {
	names, err := s.roles.RoleNamesOf(ctx, localID)
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

func dedupe(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}
