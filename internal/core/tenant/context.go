package tenant

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"

	"hybridauth/internal/core/tx"
)

// Context keys for tenant scope values.
type ctxKey int

const (
	poolKey ctxKey = iota
	txManagerKey
	tenantKey
)

// Errors for context operations.
var (
	ErrNoScope         = errors.New("no tenant scope in context")
	ErrNoPoolInContext = errors.New("database pool not found in context")
)

// Activator binds a tenant to a request context. The returned deactivate
// function must be called exactly once; implementations make repeated calls
// harmless.
type Activator interface {
	Activate(ctx context.Context, t *Tenant) (scoped context.Context, deactivate func(), err error)
}

// ActivatorFunc adapts a function to Activator.
type ActivatorFunc func(ctx context.Context, t *Tenant) (context.Context, func(), error)

// Activate implements Activator.
func (f ActivatorFunc) Activate(ctx context.Context, t *Tenant) (context.Context, func(), error) {
	return f(ctx, t)
}

// WithPool stores database pool in context.
func WithPool(ctx context.Context, pool *pgxpool.Pool) context.Context {
	return context.WithValue(ctx, poolKey, pool)
}

// GetPool retrieves database pool from context.
func GetPool(ctx context.Context) (*pgxpool.Pool, error) {
	pool, ok := ctx.Value(poolKey).(*pgxpool.Pool)
	if !ok || pool == nil {
		return nil, ErrNoPoolInContext
	}
	return pool, nil
}

// WithTxManager stores the tenant transaction manager in context.
func WithTxManager(ctx context.Context, txm tx.Manager) context.Context {
	return context.WithValue(ctx, txManagerKey, txm)
}

// GetTxManager retrieves the tenant transaction manager from context.
func GetTxManager(ctx context.Context) (tx.Manager, error) {
	txm, ok := ctx.Value(txManagerKey).(tx.Manager)
	if !ok || txm == nil {
		return nil, ErrNoScope
	}
	return txm, nil
}

// MustGetTxManager retrieves the tenant transaction manager or panics.
// Reaching tenant storage without an active scope is a programming error.
func MustGetTxManager(ctx context.Context) tx.Manager {
	txm, err := GetTxManager(ctx)
	if err != nil {
		panic("tenant tx manager not in context: " + err.Error())
	}
	return txm
}

// WithTenant stores tenant info in context.
func WithTenant(ctx context.Context, t *Tenant) context.Context {
	return context.WithValue(ctx, tenantKey, t)
}

// GetTenant retrieves tenant from context.
func GetTenant(ctx context.Context) *Tenant {
	t, _ := ctx.Value(tenantKey).(*Tenant)
	return t
}

// GetTenantID returns tenant ID or empty string.
func GetTenantID(ctx context.Context) string {
	if t := GetTenant(ctx); t != nil {
		return t.ID
	}
	return ""
}
