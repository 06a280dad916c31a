package tenant_repo

import (
	"context"
	"fmt"

	"github.com/georgysavva/scany/v2/pgxscan"

	"hybridauth/internal/core/apperror"
	"hybridauth/internal/domain/rbac"
	"hybridauth/internal/infrastructure/storage/postgres"
)

// RoleRepo implements rbac.RoleRepository.
// Permission links are stored by name; the catalog lives centrally.
type RoleRepo struct{}

// NewRoleRepo creates a new role repository.
func NewRoleRepo() *RoleRepo {
	return &RoleRepo{}
}

func (r *RoleRepo) getTxManager(ctx context.Context) *postgres.TxManager {
	return postgres.TenantTx(ctx)
}

const selectRole = `
	SELECT r.id, r.name, r.guard_name, r.created_at, r.updated_at,
	       COALESCE(ARRAY(SELECT p.permission_name FROM role_has_permissions p
	                      WHERE p.role_id = r.id ORDER BY p.permission_name), '{}') AS permissions
	FROM roles r`

// GetByName retrieves a role with its permission names.
func (r *RoleRepo) GetByName(ctx context.Context, name string) (*rbac.Role, error) {
	var role rbac.Role
	err := pgxscan.Get(ctx, r.getTxManager(ctx).GetQuerier(ctx), &role,
		selectRole+` WHERE r.name = $1 AND r.guard_name = $2`, name, rbac.DefaultGuard)
	if err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound("role", name)
		}
		return nil, fmt.Errorf("query role: %w", err)
	}
	return &role, nil
}

// List retrieves all roles of the tenant.
func (r *RoleRepo) List(ctx context.Context) ([]*rbac.Role, error) {
	var roles []*rbac.Role
	err := pgxscan.Select(ctx, r.getTxManager(ctx).GetQuerier(ctx), &roles,
		selectRole+` WHERE r.guard_name = $1 ORDER BY r.name`, rbac.DefaultGuard)
	if err != nil {
		return nil, fmt.Errorf("query roles: %w", err)
	}
	return roles, nil
}

// Create creates a new role.
func (r *RoleRepo) Create(ctx context.Context, role *rbac.Role) error {
	if role.Guard == "" {
		role.Guard = rbac.DefaultGuard
	}
	err := r.getTxManager(ctx).GetQuerier(ctx).QueryRow(ctx, `
		INSERT INTO roles (name, guard_name) VALUES ($1, $2)
		RETURNING id, created_at, updated_at
	`, role.Name, role.Guard).Scan(&role.ID, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.NewDuplicate("role", "name", role.Name)
		}
		return fmt.Errorf("insert role: %w", err)
	}
	return nil
}

// Delete deletes a role; links and assignments cascade.
func (r *RoleRepo) Delete(ctx context.Context, roleID int64) error {
	tag, err := r.getTxManager(ctx).GetQuerier(ctx).Exec(ctx, `DELETE FROM roles WHERE id = $1`, roleID)
	if err != nil {
		return fmt.Errorf("delete role: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewNotFound("role", roleID)
	}
	return nil
}

// SetPermissions replaces the role's permission links.
func (r *RoleRepo) SetPermissions(ctx context.Context, roleID int64, names []string) error {
	q := r.getTxManager(ctx).GetQuerier(ctx)

	if _, err := q.Exec(ctx, `DELETE FROM role_has_permissions WHERE role_id = $1`, roleID); err != nil {
		return fmt.Errorf("clear role permissions: %w", err)
	}
	if len(names) == 0 {
		return nil
	}
	_, err := q.Exec(ctx, `
		INSERT INTO role_has_permissions (role_id, permission_name)
		SELECT $1, unnest($2::text[])
		ON CONFLICT DO NOTHING
	`, roleID, names)
	if err != nil {
		return fmt.Errorf("link role permissions: %w", err)
	}
	_, err = q.Exec(ctx, `UPDATE roles SET updated_at = now() WHERE id = $1`, roleID)
	if err != nil {
		return fmt.Errorf("touch role: %w", err)
	}
	return nil
}

// Assign links a role to a local user.
func (r *RoleRepo) Assign(ctx context.Context, roleID, localID int64) error {
	_, err := r.getTxManager(ctx).GetQuerier(ctx).Exec(ctx, `
		INSERT INTO model_has_roles (role_id, user_id) VALUES ($1, $2)
		ON CONFLICT (role_id, user_id) DO NOTHING
	`, roleID, localID)
	if err != nil {
		return fmt.Errorf("assign role: %w", err)
	}
	return nil
}

// Unassign removes one role from a local user.
func (r *RoleRepo) Unassign(ctx context.Context, roleID, localID int64) error {
	_, err := r.getTxManager(ctx).GetQuerier(ctx).Exec(ctx,
		`DELETE FROM model_has_roles WHERE role_id = $1 AND user_id = $2`, roleID, localID)
	if err != nil {
		return fmt.Errorf("unassign role: %w", err)
	}
	return nil
}

// UnassignAll removes every role from a local user.
func (r *RoleRepo) UnassignAll(ctx context.Context, localID int64) error {
	_, err := r.getTxManager(ctx).GetQuerier(ctx).Exec(ctx, `DELETE FROM model_has_roles WHERE user_id = $1`, localID)
	if err != nil {
		return fmt.Errorf("unassign roles: %w", err)
	}
	return nil
}

// RoleNamesOf lists role names of a local user.
func (r *RoleRepo) RoleNamesOf(ctx context.Context, localID int64) ([]string, error) {
	var names []string
	err := pgxscan.Select(ctx, r.getTxManager(ctx).GetQuerier(ctx), &names, `
		SELECT r.name FROM roles r
		JOIN model_has_roles m ON m.role_id = r.id
		WHERE m.user_id = $1
		ORDER BY r.name
	`, localID)
	if err != nil {
		return nil, fmt.Errorf("query user roles: %w", err)
	}
	return names, nil
}

// PermissionNamesOf lists permissions granted through all roles of a local user.
func (r *RoleRepo) PermissionNamesOf(ctx context.Context, localID int64) ([]string, error) {
	var names []string
	err := pgxscan.Select(ctx, r.getTxManager(ctx).GetQuerier(ctx), &names, `
		SELECT DISTINCT p.permission_name
		FROM role_has_permissions p
		JOIN model_has_roles m ON m.role_id = p.role_id
		WHERE m.user_id = $1
		ORDER BY p.permission_name
	`, localID)
	if err != nil {
		return nil, fmt.Errorf("query user permissions: %w", err)
	}
	return names, nil
}

var _ rbac.RoleRepository = (*RoleRepo)(nil)
