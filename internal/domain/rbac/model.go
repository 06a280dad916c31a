package rbac

import (
	"regexp"
	"time"
)

// DefaultGuard is the only guard used by the API.
const DefaultGuard = "api"

// Built-in role names.
const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// Permission is a catalog entry in the central database.
type Permission struct {
	ID          int64     `db:"id" json:"id" yaml:"-"`
	Name        string    `db:"name" json:"name" yaml:"name"`
	Guard       string    `db:"guard_name" json:"guard" yaml:"guard,omitempty"`
	Module      string    `db:"module" json:"module" yaml:"module"`
	Description string    `db:"description" json:"description,omitempty" yaml:"description,omitempty"`
	IsGlobal    bool      `db:"is_global" json:"is_global" yaml:"global,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"created_at" yaml:"-"`
}

var permissionNamePattern = regexp.MustCompile(`^[A-Z][A-Za-z]*\.[a-z_]+\.[a-z_]+$`)

// ValidPermissionName reports whether name has the Module.resource.action shape.
func ValidPermissionName(name string) bool {
	return permissionNamePattern.MatchString(name)
}

// Role is a tenant-local role.
type Role struct {
	ID          int64     `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	Guard       string    `db:"guard_name" json:"guard"`
	Permissions []string  `db:"permissions" json:"permissions"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

var roleNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_-]{1,63}$`)

// ValidRoleName reports whether name is an acceptable role name.
func ValidRoleName(name string) bool {
	return roleNamePattern.MatchString(name)
}
