// Package tx defines the transaction contract domain services depend on.
// The pgx implementation lives in infrastructure/storage/postgres; every
// tenant scope and the central database each expose one Manager.
package tx

import (
	"context"
)

// Manager runs a function inside a database transaction.
type Manager interface {
	// RunInTransaction executes fn within a transaction. An error from fn rolls
	// back; nil commits. Nested calls join the transaction already in ctx.
	RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// Func adapts an ordinary function to Manager. Used by tests and by code
// paths that have no database behind them.
type Func func(ctx context.Context, fn func(ctx context.Context) error) error

// RunInTransaction implements Manager.
func (f Func) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return f(ctx, fn)
}

// Passthrough is a Manager that simply calls fn.
var Passthrough Manager = Func(func(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
})
