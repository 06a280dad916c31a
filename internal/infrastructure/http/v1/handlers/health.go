package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"

	"hybridauth/internal/core/tenant"
)

// Pinger is a dependency the readiness check pings.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

// Ping calls f.
func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// HealthHandler provides health check endpoints.
type HealthHandler struct {
	central *pgxpool.Pool
	tenants *tenant.Manager
	checks  map[string]Pinger
	version string
}

// NewHealthHandler creates a health handler. Extra checks (redis, amqp) are
// reported by name on the readiness check.
func NewHealthHandler(central *pgxpool.Pool, tenants *tenant.Manager, version string, checks map[string]Pinger) *HealthHandler {
	return &HealthHandler{
		central: central,
		tenants: tenants,
		checks:  checks,
		version: version,
	}
}

// Live handles liveness checks.
// GET /health/live
func (h *HealthHandler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

// Ready handles readiness checks: the central database and every extra check
// must answer.
// GET /health/ready
func (h *HealthHandler) Ready(c *gin.Context) {
	ctx := c.Request.Context()
	checks := make(map[string]string, len(h.checks)+1)
	healthy := true

	report := func(name string, err error) {
		if err != nil {
			healthy = false
			checks[name] = "unhealthy: " + err.Error()
			return
		}
		checks[name] = "healthy"
	}

	report("central_database", h.central.Ping(ctx))
	for name, p := range h.checks {
		report(name, p.Ping(ctx))
	}

	if !healthy {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error", "checks": checks})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "checks": checks})
}

// Info returns application information with tenant pool totals.
// GET /health/info
func (h *HealthHandler) Info(c *gin.Context) {
	central := h.central.Stat()
	stats := h.tenants.Stats()

	c.JSON(http.StatusOK, gin.H{
		"app":     "hybridauth",
		"version": h.version,
		"central_database": map[string]any{
			"total_conns":    central.TotalConns(),
			"acquired_conns": central.AcquiredConns(),
			"idle_conns":     central.IdleConns(),
		},
		"tenants": map[string]any{
			"active_pools":   stats.TotalPools,
			"total_conns":    stats.TotalConns,
			"acquired_conns": stats.AcquiredConns,
		},
	})
}

// TenantsStats returns detailed statistics for all open tenant pools.
// GET /health/tenants
func (h *HealthHandler) TenantsStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.tenants.Stats())
}
