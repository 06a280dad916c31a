package tenant_repo

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"hybridauth/internal/domain/membership"
	"hybridauth/internal/infrastructure/storage/postgres"
)

// DirectoryRepo implements membership.Directory.
type DirectoryRepo struct{}

// NewDirectoryRepo creates a new repository.
func NewDirectoryRepo() *DirectoryRepo {
	return &DirectoryRepo{}
}

// ListUsers returns one page of tenant users with their role names and the
// total count matching the filter.
func (r *DirectoryRepo) ListUsers(ctx context.Context, f membership.UserFilter) ([]membership.TenantUser, int, error) {
	f.Normalize()
	where := squirrel.And{}
	if f.Search != "" {
		pattern := "%" + f.Search + "%"
		where = append(where, squirrel.Or{
			squirrel.ILike{"u.name": pattern},
			squirrel.ILike{"u.email": pattern},
		})
	}
	if f.Status != "" {
		where = append(where, squirrel.Eq{"u.status": f.Status})
	}
	if f.Role != "" {
		where = append(where, squirrel.Expr(`EXISTS (
			SELECT 1 FROM model_has_roles m JOIN roles r ON r.id = m.role_id
			WHERE m.user_id = u.id AND r.name = ?)`, f.Role))
	}

	q := postgres.TenantTx(ctx).GetQuerier(ctx)

	countSQL, countArgs, err := builder().Select("COUNT(*)").From("users u").Where(where).ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build count query: %w", err)
	}
	var total int
	if err := q.QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count tenant users: %w", err)
	}

	listSQL, listArgs, err := builder().
		Select("u.id", "u.global_id", "u.name", "u.email", "u.status", "u.email_verified_at",
			`COALESCE(ARRAY(SELECT r.name FROM model_has_roles m JOIN roles r ON r.id = m.role_id
			  WHERE m.user_id = u.id ORDER BY r.name), '{}') AS roles`).
		From("users u").
		Where(where).
		OrderBy("u.name", "u.id").
		Limit(uint64(f.Limit)).
		Offset(uint64(f.Offset)).
		ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build list query: %w", err)
	}
	var users []membership.TenantUser
	if err := pgxscan.Select(ctx, q, &users, listSQL, listArgs...); err != nil {
		return nil, 0, fmt.Errorf("list tenant users: %w", err)
	}
	return users, total, nil
}

var _ membership.Directory = (*DirectoryRepo)(nil)
