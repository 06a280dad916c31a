package main

import (
	"context"
	"sync"
	"time"

	"hybridauth/internal/core/tenant"
	"hybridauth/pkg/logger"
)

// Reconciler repairs the tenant projections of one tenant.
type Reconciler interface {
	Reconcile(ctx context.Context, tenantID string) (int, error)
}

// MultiTenantWorker keeps one reconciliation loop per active tenant. Loops
// are started and stopped as tenants appear in or leave the registry.
type MultiTenantWorker struct {
	registry   tenant.Registry
	reconciler Reconciler
	interval   time.Duration
	log        *logger.Logger
}

// NewMultiTenantWorker creates a worker. interval is both the registry
// refresh period and the per-tenant reconciliation period.
func NewMultiTenantWorker(registry tenant.Registry, reconciler Reconciler, interval time.Duration, log *logger.Logger) *MultiTenantWorker {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &MultiTenantWorker{
		registry:   registry,
		reconciler: reconciler,
		interval:   interval,
		log:        log.WithComponent("worker"),
	}
}

// Run starts tenant loops and blocks until ctx is cancelled.
func (w *MultiTenantWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	var wg sync.WaitGroup
	tenantContexts := make(map[string]context.CancelFunc) // tenant id -> cancel
	var mu sync.Mutex

	w.refreshTenants(ctx, &wg, tenantContexts, &mu)

	for {
		select {
		case <-ctx.Done():
			mu.Lock()
			for _, cancel := range tenantContexts {
				cancel()
			}
			mu.Unlock()
			wg.Wait()
			return

		case <-ticker.C:
			w.refreshTenants(ctx, &wg, tenantContexts, &mu)
		}
	}
}

func (w *MultiTenantWorker) refreshTenants(ctx context.Context, wg *sync.WaitGroup, tenantContexts map[string]context.CancelFunc, mu *sync.Mutex) {
	tenants, err := w.registry.ListActive(ctx)
	if err != nil {
		w.log.Errorw("failed to get active tenants", "error", err)
		return
	}

	active := make(map[string]struct{}, len(tenants))
	for _, t := range tenants {
		active[t.ID] = struct{}{}
	}

	mu.Lock()
	defer mu.Unlock()

	for tenantID, cancel := range tenantContexts {
		if _, ok := active[tenantID]; !ok {
			cancel()
			delete(tenantContexts, tenantID)
			w.log.Infow("stopped worker for inactive tenant", "tenant_id", tenantID)
		}
	}

	for _, t := range tenants {
		if _, exists := tenantContexts[t.ID]; exists {
			continue
		}
		tenantCtx, tenantCancel := context.WithCancel(ctx)
		tenantContexts[t.ID] = tenantCancel

		wg.Add(1)
		go func(tenantID string) {
			defer wg.Done()
			w.runTenantWorker(tenantCtx, tenantID)
		}(t.ID)

		w.log.Infow("started worker for tenant", "tenant_id", t.ID)
	}
}

func (w *MultiTenantWorker) runTenantWorker(ctx context.Context, tenantID string) {
	w.reconcile(ctx, tenantID)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Debugw("stopping worker for tenant", "tenant_id", tenantID)
			return
		case <-ticker.C:
			w.reconcile(ctx, tenantID)
		}
	}
}

func (w *MultiTenantWorker) reconcile(ctx context.Context, tenantID string) {
	n, err := w.reconciler.Reconcile(ctx, tenantID)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		w.log.Warnw("projection reconciliation incomplete", "tenant_id", tenantID, "checked", n, "error", err)
		return
	}
	w.log.Debugw("reconciled tenant projections", "tenant_id", tenantID, "checked", n)
}
