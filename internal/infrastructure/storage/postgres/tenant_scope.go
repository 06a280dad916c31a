package postgres

import (
	"context"
	"sync"

	"hybridauth/internal/core/tenant"
)

// ScopeObserver is notified whenever a tenant scope opens or closes.
type ScopeObserver interface {
	ScopeActivated(tenantID string)
	ScopeDeactivated(tenantID string)
}

type nopObserver struct{}

func (nopObserver) ScopeActivated(string)   {}
func (nopObserver) ScopeDeactivated(string) {}

// ScopeActivator opens tenant scopes on pools owned by a tenant.Manager.
// A scope carries the tenant record, its pool and a tenant TxManager in the
// returned context; nothing is stored globally.
type ScopeActivator struct {
	manager  *tenant.Manager
	observer ScopeObserver
}

// NewScopeActivator creates an activator. observer may be nil.
func NewScopeActivator(manager *tenant.Manager, observer ScopeObserver) *ScopeActivator {
	if observer == nil {
		observer = nopObserver{}
	}
	return &ScopeActivator{manager: manager, observer: observer}
}

// Activate implements tenant.Activator. The pool stays referenced until
// deactivate runs; deactivate is idempotent.
func (a *ScopeActivator) Activate(ctx context.Context, t *tenant.Tenant) (context.Context, func(), error) {
	tp, err := a.manager.Pool(ctx, t)
	if err != nil {
		return ctx, func() {}, err
	}
	tp.Retain()

	scoped := tenant.WithPool(ctx, tp.Pool())
	scoped = tenant.WithTxManager(scoped, NewTxManager(tp.Pool(), t.ID))
	scoped = tenant.WithTenant(scoped, t)
	a.observer.ScopeActivated(t.ID)

	var once sync.Once
	return scoped, func() {
		once.Do(func() {
			tp.Release()
			a.observer.ScopeDeactivated(t.ID)
		})
	}, nil
}

var _ tenant.Activator = (*ScopeActivator)(nil)
