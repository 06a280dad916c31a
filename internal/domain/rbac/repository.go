package rbac

import "context"

// Catalog is the central permission catalog.
type Catalog interface {
	// Exists reports whether a permission name is defined.
	Exists(ctx context.Context, name string) (bool, error)

	// Missing returns the subset of names that are not defined, in input order.
	Missing(ctx context.Context, names []string) ([]string, error)

	// List returns catalog entries, optionally filtered by module.
	List(ctx context.Context, module string) ([]Permission, error)
}

// CatalogWriter maintains the catalog. Used by the seeding command.
type CatalogWriter interface {
	Upsert(ctx context.Context, p Permission) error
}

// RoleRepository persists roles and assignments in the tenant database bound
// to ctx.
type RoleRepository interface {
	// GetByName retrieves a role with its permission names.
	GetByName(ctx context.Context, name string) (*Role, error)

	// List returns all roles with their permission names.
	List(ctx context.Context) ([]*Role, error)

	// Create inserts a role and sets r.ID.
	Create(ctx context.Context, r *Role) error

	// Delete removes a role and its links and assignments.
	Delete(ctx context.Context, roleID int64) error

	// SetPermissions replaces the permission names linked to a role.
	SetPermissions(ctx context.Context, roleID int64, names []string) error

	// Assign links a role to a local identity. Assigning twice is a no-op.
	Assign(ctx context.Context, roleID, localID int64) error

	// Unassign removes one role from a local identity.
	Unassign(ctx context.Context, roleID, localID int64) error

	// UnassignAll removes every role from a local identity.
	UnassignAll(ctx context.Context, localID int64) error

	// RoleNamesOf lists the names of roles assigned to a local identity.
	RoleNamesOf(ctx context.Context, localID int64) ([]string, error)

	// PermissionNamesOf lists the distinct permission names granted through
	// all roles of a local identity.
	PermissionNamesOf(ctx context.Context, localID int64) ([]string, error)
}
