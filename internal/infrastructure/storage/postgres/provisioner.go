package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"hybridauth/internal/core/tenant"
	"hybridauth/internal/infrastructure/storage/postgres/schema"
	"hybridauth/pkg/logger"
)

// DatabaseProvisioner creates tenant databases on the server hosting the
// central database and applies the tenant schema.
type DatabaseProvisioner struct {
	admin    *pgxpool.Pool
	user     string
	password string
	log      *logger.Logger
}

// NewDatabaseProvisioner creates a provisioner. admin must be allowed to
// CREATE DATABASE; user and password are the tenant credentials.
func NewDatabaseProvisioner(admin *pgxpool.Pool, user, password string, log *logger.Logger) *DatabaseProvisioner {
	return &DatabaseProvisioner{admin: admin, user: user, password: password, log: log.WithComponent("provisioner")}
}

// CreateDatabase implements tenancy.DatabaseProvisioner. An existing database
// is reused; the schema script is idempotent.
func (p *DatabaseProvisioner) CreateDatabase(ctx context.Context, t *tenant.Tenant) error {
	stmt := "CREATE DATABASE " + pgx.Identifier{t.DBName}.Sanitize()
	if p.user != "" {
		stmt += " OWNER " + pgx.Identifier{p.user}.Sanitize()
	}
	if _, err := p.admin.Exec(ctx, stmt); err != nil {
		var pgErr *pgconn.PgError
		if !errors.As(err, &pgErr) || pgErr.Code != "42P04" {
			return fmt.Errorf("create database %s: %w", t.DBName, err)
		}
		p.log.Infow("tenant database exists", "tenant_id", t.ID, "db_name", t.DBName)
	}

	conn, err := pgx.Connect(ctx, t.DSN(p.user, p.password))
	if err != nil {
		return fmt.Errorf("connect tenant database: %w", err)
	}
	defer conn.Close(ctx)

	if _, err := conn.Exec(ctx, schema.Tenant); err != nil {
		return fmt.Errorf("apply tenant schema: %w", err)
	}
	p.log.Infow("tenant database ready", "tenant_id", t.ID, "db_name", t.DBName)
	return nil
}

// BootstrapCentral applies the central schema.
func BootstrapCentral(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema.Central); err != nil {
		return fmt.Errorf("apply central schema: %w", err)
	}
	return nil
}
