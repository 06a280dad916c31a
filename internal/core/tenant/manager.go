package tenant

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"hybridauth/pkg/logger"
)

// ManagerConfig configures the per-tenant pool manager.
type ManagerConfig struct {
	// Credentials shared by all tenant databases
	DBUser     string
	DBPassword string

	MaxConnsPerTenant int32
	MinConnsPerTenant int32
	ConnectTimeout    time.Duration

	MaxTotalPools     int           // 0 = unlimited
	PoolIdleTimeout   time.Duration // 0 = never close idle pools
	HealthCheckPeriod time.Duration
}

// DefaultManagerConfig returns production-safe defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		MaxConnsPerTenant: 10,
		MinConnsPerTenant: 1,
		ConnectTimeout:    10 * time.Second,
		MaxTotalPools:     100,
		PoolIdleTimeout:   30 * time.Minute,
		HealthCheckPeriod: time.Minute,
	}
}

// TenantPool is a tenant's connection pool with usage tracking.
// A pool with live references is never closed by eviction or health checks.
type TenantPool struct {
	pool      *pgxpool.Pool
	tenant    *Tenant
	lastUsed  atomic.Int64 // unix seconds
	refs      atomic.Int32
	unhealthy atomic.Int64 // unix seconds of first failed ping, 0 = healthy
}

func (tp *TenantPool) touch() {
	tp.lastUsed.Store(time.Now().Unix())
}

// Pool returns the underlying pgx pool.
func (tp *TenantPool) Pool() *pgxpool.Pool { return tp.pool }

// Tenant returns the record the pool was opened for.
func (tp *TenantPool) Tenant() *Tenant { return tp.tenant }

// Retain marks the pool as used by one more request.
func (tp *TenantPool) Retain() { tp.refs.Add(1) }

// Release undoes Retain.
func (tp *TenantPool) Release() { tp.refs.Add(-1) }

// Refs returns the number of live references.
func (tp *TenantPool) Refs() int32 { return tp.refs.Load() }

// Manager owns one lazily created pool per tenant database.
// Safe for concurrent use.
type Manager struct {
	config   ManagerConfig
	registry Registry

	pools     sync.Map // map[tenantID]*TenantPool
	poolCount atomic.Int32
	createMu  sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	log    *logger.Logger
}

// NewManager creates the manager and starts its maintenance loop.
func NewManager(cfg ManagerConfig, registry Registry, log *logger.Logger) *Manager {
	ctx, cancel := context.WithCancel(context.Background())

	m := &Manager{
		config:   cfg,
		registry: registry,
		ctx:      ctx,
		cancel:   cancel,
		log:      log.WithComponent("tenant-manager"),
	}

	if cfg.PoolIdleTimeout > 0 || cfg.HealthCheckPeriod > 0 {
		m.wg.Add(1)
		go m.maintain()
	}

	m.log.Infow("tenant pool manager started",
		"max_pools", cfg.MaxTotalPools,
		"idle_timeout", cfg.PoolIdleTimeout,
		"health_check_period", cfg.HealthCheckPeriod,
	)
	return m
}

// Pool returns the pool for an already resolved tenant, opening it if needed.
func (m *Manager) Pool(ctx context.Context, t *Tenant) (*TenantPool, error) {
	if !t.IsActive() {
		return nil, fmt.Errorf("%w: status=%s", ErrTenantNotActive, t.Status)
	}
	if val, ok := m.pools.Load(t.ID); ok {
		tp := val.(*TenantPool)
		tp.touch()
		return tp, nil
	}
	return m.open(ctx, t)
}

// PoolByID looks the tenant up in the registry and returns its pool.
func (m *Manager) PoolByID(ctx context.Context, tenantID string) (*TenantPool, error) {
	if val, ok := m.pools.Load(tenantID); ok {
		tp := val.(*TenantPool)
		tp.touch()
		return tp, nil
	}
	t, err := m.registry.GetByID(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return m.Pool(ctx, t)
}

func (m *Manager) open(ctx context.Context, t *Tenant) (*TenantPool, error) {
	m.createMu.Lock()
	defer m.createMu.Unlock()

	if val, ok := m.pools.Load(t.ID); ok {
		return val.(*TenantPool), nil
	}
	if m.config.MaxTotalPools > 0 && int(m.poolCount.Load()) >= m.config.MaxTotalPools {
		return nil, fmt.Errorf("%w (%d)", ErrMaxPoolLimit, m.config.MaxTotalPools)
	}

	poolCfg, err := pgxpool.ParseConfig(t.DSN(m.config.DBUser, m.config.DBPassword))
	if err != nil {
		return nil, fmt.Errorf("parse dsn for tenant %s: %w", t.ID, err)
	}
	poolCfg.MaxConns = m.config.MaxConnsPerTenant
	poolCfg.MinConns = m.config.MinConnsPerTenant
	poolCfg.ConnConfig.ConnectTimeout = m.config.ConnectTimeout
	poolCfg.ConnConfig.RuntimeParams["application_name"] = "hybridauth:" + t.ID

	openCtx, cancel := context.WithTimeout(ctx, m.config.ConnectTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(openCtx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool for tenant %s: %w", t.ID, err)
	}
	if err := pool.Ping(openCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping tenant %s: %w", t.ID, err)
	}

	tp := &TenantPool{pool: pool, tenant: t}
	tp.touch()
	m.pools.Store(t.ID, tp)
	m.poolCount.Add(1)

	m.log.Infow("opened tenant pool",
		"tenant_id", t.ID,
		"db_name", t.DBName,
		"total_pools", m.poolCount.Load(),
	)
	return tp, nil
}

// Invalidate closes the tenant's pool once no request uses it, so the next
// request reopens it with fresh tenant data.
func (m *Manager) Invalidate(tenantID string) {
	val, ok := m.pools.Load(tenantID)
	if !ok {
		return
	}
	tp := val.(*TenantPool)
	if tp.Refs() > 0 {
		tp.unhealthy.CompareAndSwap(0, time.Now().Unix())
		return
	}
	m.closePool(tenantID, tp, "invalidated")
}

func (m *Manager) maintain() {
	defer m.wg.Done()

	var evictC, healthC <-chan time.Time
	if m.config.PoolIdleTimeout > 0 {
		t := time.NewTicker(m.config.PoolIdleTimeout / 2)
		defer t.Stop()
		evictC = t.C
	}
	if m.config.HealthCheckPeriod > 0 {
		t := time.NewTicker(m.config.HealthCheckPeriod)
		defer t.Stop()
		healthC = t.C
	}

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-evictC:
			m.evictIdle()
		case <-healthC:
			m.checkHealth()
		}
	}
}

func (m *Manager) evictIdle() {
	threshold := time.Now().Add(-m.config.PoolIdleTimeout).Unix()

	m.pools.Range(func(key, value any) bool {
		tp := value.(*TenantPool)
		if tp.Refs() > 0 {
			return true
		}
		switch {
		case tp.unhealthy.Load() > 0:
			m.closePool(key.(string), tp, "unhealthy")
		case tp.lastUsed.Load() < threshold:
			m.closePool(key.(string), tp, "idle timeout")
		}
		return true
	})
}

func (m *Manager) checkHealth() {
	ctx, cancel := context.WithTimeout(m.ctx, 5*time.Second)
	defer cancel()

	m.pools.Range(func(key, value any) bool {
		tenantID := key.(string)
		tp := value.(*TenantPool)

		if err := tp.pool.Ping(ctx); err != nil {
			tp.unhealthy.CompareAndSwap(0, time.Now().Unix())
			m.log.Warnw("tenant pool health check failed", "tenant_id", tenantID, "error", err)
			if tp.Refs() == 0 {
				m.closePool(tenantID, tp, "health check failed")
			}
			return true
		}
		tp.unhealthy.Store(0)
		return true
	})
}

func (m *Manager) closePool(tenantID string, tp *TenantPool, reason string) {
	if !m.pools.CompareAndDelete(tenantID, tp) {
		return
	}
	tp.pool.Close()
	m.poolCount.Add(-1)

	m.log.Infow("closed tenant pool",
		"tenant_id", tenantID,
		"reason", reason,
		"total_pools", m.poolCount.Load(),
	)
}

// Close stops maintenance and closes every pool.
func (m *Manager) Close() {
	m.cancel()
	m.wg.Wait()

	var closed int
	m.pools.Range(func(key, value any) bool {
		value.(*TenantPool).pool.Close()
		m.pools.Delete(key)
		closed++
		return true
	})
	m.poolCount.Store(0)

	m.log.Infow("tenant pool manager closed", "pools_closed", closed)
}

// ManagerStats contains manager runtime statistics.
type ManagerStats struct {
	TotalPools    int               `json:"total_pools"`
	TotalConns    int               `json:"total_conns"`
	AcquiredConns int               `json:"acquired_conns"`
	Tenants       []TenantPoolStats `json:"tenants"`
}

// TenantPoolStats contains per-tenant pool statistics.
type TenantPoolStats struct {
	TenantID      string    `json:"tenant_id"`
	TotalConns    int       `json:"total_conns"`
	AcquiredConns int       `json:"acquired_conns"`
	ActiveRefs    int       `json:"active_refs"`
	LastUsed      time.Time `json:"last_used"`
}

// Stats returns current manager statistics.
func (m *Manager) Stats() ManagerStats {
	stats := ManagerStats{TotalPools: int(m.poolCount.Load())}

	m.pools.Range(func(key, value any) bool {
		tp := value.(*TenantPool)
		ps := tp.pool.Stat()

		stats.TotalConns += int(ps.TotalConns())
		stats.AcquiredConns += int(ps.AcquiredConns())
		stats.Tenants = append(stats.Tenants, TenantPoolStats{
			TenantID:      key.(string),
			TotalConns:    int(ps.TotalConns()),
			AcquiredConns: int(ps.AcquiredConns()),
			ActiveRefs:    int(tp.Refs()),
			LastUsed:      time.Unix(tp.lastUsed.Load(), 0),
		})
		return true
	})
	return stats
}

// Registry returns the tenant registry.
func (m *Manager) Registry() Registry {
	return m.registry
}

// Prewarm opens pools for all active tenants concurrently.
func (m *Manager) Prewarm(ctx context.Context) error {
	tenants, err := m.registry.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list active tenants: %w", err)
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
		failed   int
	)
	for _, t := range tenants {
		wg.Add(1)
		go func(t *Tenant) {
			defer wg.Done()
			if _, err := m.Pool(ctx, t); err != nil {
				mu.Lock()
				failed++
				if firstErr == nil {
					firstErr = fmt.Errorf("prewarm %s: %w", t.ID, err)
				}
				mu.Unlock()
			}
		}(t)
	}
	wg.Wait()

	m.log.Infow("prewarmed tenant pools", "tenants", len(tenants), "failed", failed)
	return firstErr
}
