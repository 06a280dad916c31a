package rbac

import (
	"context"
	"fmt"
)

// Resolver answers permission questions for a local identity in the tenant
// scope held by ctx.
type Resolver struct {
	catalog Catalog
	roles   RoleRepository
}

// NewResolver creates a resolver.
func NewResolver(catalog Catalog, roles RoleRepository) *Resolver {
	return &Resolver{catalog: catalog, roles: roles}
}

// PermissionSet is the set of catalog-valid names granted to one identity.
type PermissionSet map[string]struct{}

// Has reports whether name is in the set.
func (s PermissionSet) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// Names returns the set members.
func (s PermissionSet) Names() []string {
	out := make([]string, 0, len(s))
	for n := range s {
		out = append(out, n)
	}
	return out
}

// Permissions loads every catalog-valid permission granted to localID.
func (r *Resolver) Permissions(ctx context.Context, localID int64) (PermissionSet, error) {
	assigned, err := r.roles.PermissionNamesOf(ctx, localID)
	if err != nil {
		return nil, fmt.Errorf("load permissions: %w", err)
	}
	missing, err := r.catalog.Missing(ctx, assigned)
	if err != nil {
		return nil, fmt.Errorf("check catalog: %w", err)
	}
	unknown := make(map[string]bool, len(missing))
	for _, m := range missing {
		unknown[m] = true
	}

	set := make(PermissionSet, len(assigned))
	for _, n := range assigned {
		if !unknown[n] {
			set[n] = struct{}{}
		}
	}
	return set, nil
}

// HasPermission reports whether localID holds name. A name missing from the
// catalog yields false without error.
func (r *Resolver) HasPermission(ctx context.Context, localID int64, name string) (bool, error) {
	ok, err := r.catalog.Exists(ctx, name)
	if err != nil || !ok {
		return false, err
	}
	set, err := r.Permissions(ctx, localID)
	if err != nil {
		return false, err
	}
	return set.Has(name), nil
}

// HasAny reports whether localID holds at least one of names.
func (r *Resolver) HasAny(ctx context.Context, localID int64, names ...string) (bool, error) {
	set, err := r.Permissions(ctx, localID)
	if err != nil {
		return false, err
	}
	for _, n := range names {
		if set.Has(n) {
			return true, nil
		}
	}
	return false, nil
}

// HasAll reports whether localID holds every one of names. An empty list is true.
func (r *Resolver) HasAll(ctx context.Context, localID int64, names ...string) (bool, error) {
	set, err := r.Permissions(ctx, localID)
	if err != nil {
		return false, err
	}
	for _, n := range names {
		if !set.Has(n) {
			return false, nil
		}
	}
	return true, nil
}

// Satisfies evaluates expr for localID, loading the permission set once.
// The loaded set is returned so callers can expose it downstream.
func (r *Resolver) Satisfies(ctx context.Context, localID int64, expr Expression) (bool, PermissionSet, error) {
	set, err := r.Permissions(ctx, localID)
	if err != nil {
		return false, nil, err
	}
	return expr.Evaluate(set.Has), set, nil
}
