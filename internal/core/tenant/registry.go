package tenant

import (
	"context"
	"errors"
	"fmt"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Registry provides access to tenant records stored in the central database.
type Registry interface {
	// GetByID retrieves tenant by its id.
	GetByID(ctx context.Context, tenantID string) (*Tenant, error)

	// GetByDomain retrieves the tenant owning a domain.
	GetByDomain(ctx context.Context, domain string) (*Tenant, error)

	// ListActive returns all active tenants.
	ListActive(ctx context.Context) ([]*Tenant, error)

	// ListAll returns all tenants.
	ListAll(ctx context.Context) ([]*Tenant, error)

	// Create inserts a new tenant row (version 1) together with its domains.
	Create(ctx context.Context, t *Tenant) error

	// UpdateStatusByID sets the status and bumps the version.
	UpdateStatusByID(ctx context.Context, tenantID string, status Status) error

	// AddDomain attaches a domain to the tenant.
	AddDomain(ctx context.Context, tenantID, domain string) error

	// RemoveDomain detaches a domain from the tenant.
	RemoveDomain(ctx context.Context, tenantID, domain string) error
}

// PostgresRegistry implements Registry using the central PostgreSQL database.
type PostgresRegistry struct {
	pool *pgxpool.Pool
}

func NewPostgresRegistry(pool *pgxpool.Pool) *PostgresRegistry {
	return &PostgresRegistry{pool: pool}
}

const selectTenant = `
	SELECT t.id, t.name, t.version, t.status, t.db_name, t.db_host, t.db_port,
	       t.created_at, t.updated_at,
	       COALESCE(ARRAY(SELECT d.domain FROM tenant_domains d WHERE d.tenant_id = t.id ORDER BY d.domain), '{}') AS domains
	FROM tenants t`

func (r *PostgresRegistry) GetByID(ctx context.Context, tenantID string) (*Tenant, error) {
	var t Tenant
	err := pgxscan.Get(ctx, r.pool, &t, selectTenant+` WHERE t.id = $1`, tenantID)
	if err != nil {
		if pgxscan.NotFound(err) {
			return nil, ErrTenantNotFound
		}
		return nil, fmt.Errorf("get tenant by id: %w", err)
	}
	return &t, nil
}

func (r *PostgresRegistry) GetByDomain(ctx context.Context, domain string) (*Tenant, error) {
	var t Tenant
	err := pgxscan.Get(ctx, r.pool, &t, selectTenant+`
		WHERE t.id = (SELECT tenant_id FROM tenant_domains WHERE domain = $1)`, NormalizeDomain(domain))
	if err != nil {
		if pgxscan.NotFound(err) {
			return nil, ErrTenantNotFound
		}
		return nil, fmt.Errorf("get tenant by domain: %w", err)
	}
	return &t, nil
}

func (r *PostgresRegistry) ListActive(ctx context.Context) ([]*Tenant, error) {
	var tenants []*Tenant
	err := pgxscan.Select(ctx, r.pool, &tenants, selectTenant+` WHERE t.status = $1 ORDER BY t.id`, StatusActive)
	if err != nil {
		return nil, fmt.Errorf("list active tenants: %w", err)
	}
	return tenants, nil
}

func (r *PostgresRegistry) ListAll(ctx context.Context) ([]*Tenant, error) {
	var tenants []*Tenant
	err := pgxscan.Select(ctx, r.pool, &tenants, selectTenant+` ORDER BY t.id`)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	return tenants, nil
}

func (r *PostgresRegistry) Create(ctx context.Context, t *Tenant) error {
	if t == nil {
		return fmt.Errorf("tenant is nil")
	}
	if t.Status == "" {
		t.Status = StatusActive
	}
	t.Version = 1

	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO tenants (id, name, version, status, db_name, db_host, db_port)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING created_at, updated_at
		`, t.ID, t.Name, t.Version, t.Status, t.DBName, t.DBHost, t.DBPort).Scan(&t.CreatedAt, &t.UpdatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrTenantExists
			}
			return fmt.Errorf("create tenant: %w", err)
		}
		for _, d := range t.Domains {
			if _, err := tx.Exec(ctx,
				`INSERT INTO tenant_domains (tenant_id, domain) VALUES ($1, $2)`, t.ID, NormalizeDomain(d),
			); err != nil {
				if isUniqueViolation(err) {
					return ErrDomainTaken
				}
				return fmt.Errorf("create tenant domain %s: %w", d, err)
			}
		}
		return nil
	})
}

func (r *PostgresRegistry) UpdateStatusByID(ctx context.Context, tenantID string, status Status) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE tenants
		SET status = $2, version = version + 1, updated_at = now()
		WHERE id = $1
	`, tenantID, status)
	if err != nil {
		return fmt.Errorf("update tenant status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTenantNotFound
	}
	return nil
}

func (r *PostgresRegistry) AddDomain(ctx context.Context, tenantID, domain string) error {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO tenant_domains (tenant_id, domain)
		SELECT id, $2 FROM tenants WHERE id = $1
	`, tenantID, NormalizeDomain(domain))
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDomainTaken
		}
		return fmt.Errorf("add tenant domain: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTenantNotFound
	}
	return nil
}

func (r *PostgresRegistry) RemoveDomain(ctx context.Context, tenantID, domain string) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM tenant_domains WHERE tenant_id = $1 AND domain = $2`, tenantID, NormalizeDomain(domain))
	if err != nil {
		return fmt.Errorf("remove tenant domain: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

var _ Registry = (*PostgresRegistry)(nil)
