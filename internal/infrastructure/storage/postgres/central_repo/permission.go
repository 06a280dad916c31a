package central_repo

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"hybridauth/internal/domain/rbac"
	"hybridauth/internal/infrastructure/storage/postgres"
)

// PermissionRepo implements rbac.Catalog and rbac.CatalogWriter over the
// central permissions table.
type PermissionRepo struct {
	txm *postgres.TxManager
}

// NewPermissionRepo creates the repository.
func NewPermissionRepo(txm *postgres.TxManager) *PermissionRepo {
	return &PermissionRepo{txm: txm}
}

func (r *PermissionRepo) Exists(ctx context.Context, name string) (bool, error) {
	var ok bool
	err := r.txm.GetQuerier(ctx).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM permissions WHERE name = $1 AND guard_name = $2)`,
		name, rbac.DefaultGuard).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("check permission: %w", err)
	}
	return ok, nil
}

func (r *PermissionRepo) Missing(ctx context.Context, names []string) ([]string, error) {
	if len(names) == 0 {
		return nil, nil
	}
	var known []string
	err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &known,
		`SELECT name FROM permissions WHERE guard_name = $1 AND name = ANY($2)`, rbac.DefaultGuard, names)
	if err != nil {
		return nil, fmt.Errorf("query permissions: %w", err)
	}
	set := make(map[string]struct{}, len(known))
	for _, n := range known {
		set[n] = struct{}{}
	}
	var missing []string
	for _, n := range names {
		if _, ok := set[n]; !ok {
			missing = append(missing, n)
		}
	}
	return missing, nil
}

func (r *PermissionRepo) List(ctx context.Context, module string) ([]rbac.Permission, error) {
	q := builder().
		Select("id", "name", "guard_name", "module", "description", "is_global", "created_at").
		From("permissions").
		Where(squirrel.Eq{"guard_name": rbac.DefaultGuard}).
		OrderBy("module", "name")
	if module != "" {
		q = q.Where(squirrel.Eq{"module": module})
	}
	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	var perms []rbac.Permission
	if err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &perms, sql, args...); err != nil {
		return nil, fmt.Errorf("list permissions: %w", err)
	}
	return perms, nil
}

func (r *PermissionRepo) Upsert(ctx context.Context, p rbac.Permission) error {
	if p.Guard == "" {
		p.Guard = rbac.DefaultGuard
	}
	_, err := r.txm.GetQuerier(ctx).Exec(ctx, `
		INSERT INTO permissions (name, guard_name, module, description, is_global)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (name, guard_name) DO UPDATE
		SET module = EXCLUDED.module, description = EXCLUDED.description, is_global = EXCLUDED.is_global
	`, p.Name, p.Guard, p.Module, p.Description, p.IsGlobal)
	if err != nil {
		return fmt.Errorf("upsert permission %s: %w", p.Name, err)
	}
	return nil
}

var (
	_ rbac.Catalog       = (*PermissionRepo)(nil)
	_ rbac.CatalogWriter = (*PermissionRepo)(nil)
)
