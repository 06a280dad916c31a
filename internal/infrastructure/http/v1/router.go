// Package v1 provides HTTP API version 1.
package v1

import (
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"hybridauth/internal/core/tenant"
	"hybridauth/internal/domain/analytics"
	"hybridauth/internal/domain/gdpr"
	"hybridauth/internal/domain/identity"
	"hybridauth/internal/domain/membership"
	"hybridauth/internal/domain/rbac"
	"hybridauth/internal/domain/tenancy"
	"hybridauth/internal/domain/webhooks"
	"hybridauth/internal/infrastructure/http/v1/handlers"
	"hybridauth/internal/infrastructure/http/v1/middleware"
	"hybridauth/internal/infrastructure/metrics"
	"hybridauth/pkg/logger"
)

// RouterConfig holds everything the API routes need.
type RouterConfig struct {
	// TenantManager manages database connections for all tenants
	TenantManager *tenant.Manager

	// CentralPool is the connection to the central database (health checks)
	CentralPool *pgxpool.Pool

	// Logger for request logging
	Logger *logger.Logger

	// Gate authenticates callers and activates tenant scopes
	Gate *middleware.Gate

	// Expressions are the named permission expressions routes refer to.
	// Nil means rbac.DefaultNamed().
	Expressions rbac.Named

	// Metrics is the registry served on /metrics. Nil disables the endpoint
	// and request metrics.
	Metrics *prometheus.Registry

	// HealthChecks are extra readiness checks by name
	HealthChecks map[string]handlers.Pinger
	Version      string

	Auth       handlers.AuthServices
	Tenancy    *tenancy.Service
	Members    *membership.Service
	Roles      *rbac.RoleService
	Catalog    rbac.Catalog
	Central    identity.CentralRepository
	Local      identity.LocalRepository
	Analytics  *analytics.Service
	Webhooks   *webhooks.Service
	GDPR       *gdpr.Service
	Production bool
}

// NewRouter creates and configures the Gin router.
func NewRouter(cfg RouterConfig) *gin.Engine {
	if cfg.Production {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Global middleware (order matters!). ErrorHandler wraps Recovery so a
	// recovered panic is rendered like any other error.
	router.Use(middleware.Trace())
	router.Use(middleware.Logger(cfg.Logger))
	if cfg.Metrics != nil {
		router.Use(middleware.Metrics(metrics.NewHTTPMetrics(cfg.Metrics)))
		router.GET("/metrics", gin.WrapH(metrics.Handler(cfg.Metrics)))
	}
	router.Use(middleware.ErrorHandler())
	router.Use(middleware.Recovery())

	// Health endpoints (no auth, no tenant required)
	healthHandler := handlers.NewHealthHandler(cfg.CentralPool, cfg.TenantManager, cfg.Version, cfg.HealthChecks)
	health := router.Group("/health")
	{
		health.GET("/live", healthHandler.Live)
		health.GET("/ready", healthHandler.Ready)
		health.GET("/info", healthHandler.Info)
		health.GET("/tenants", healthHandler.TenantsStats)
	}

	exprs := cfg.Expressions
	if exprs == nil {
		exprs = rbac.DefaultNamed()
	}
	g := guards{gate: cfg.Gate, exprs: exprs}
	base := handlers.NewBaseHandler()

	v1 := router.Group("/api/v1")
	{
		registerAuthRoutes(v1, g, base, cfg)
		registerTenantRoutes(v1, g, base, cfg)
		registerCentralRoutes(v1, g, base, cfg)

		scoped := v1.Group("/t/:" + middleware.TenantParam)
		registerUserRoutes(scoped, g, base, cfg)
		registerRoleRoutes(scoped, g, base, cfg)
		registerAnalyticsRoutes(scoped, g, base, cfg)
		registerWebhookRoutes(scoped, g, base, cfg)
		registerGDPRAdminRoutes(scoped, g, base, cfg)
	}

	return router
}

// registerAuthRoutes registers authentication endpoints. Public routes carry
// no gate; the rest authenticate centrally.
func registerAuthRoutes(rg *gin.RouterGroup, g guards, base *handlers.BaseHandler, cfg RouterConfig) {
	h := handlers.NewAuthHandler(base, cfg.Auth)

	public := rg.Group("/auth")
	{
		public.POST("/register", h.Register)
		public.POST("/verify-email", h.VerifyEmail)
		public.POST("/login", h.Login)
		public.POST("/login/2fa", h.LoginTwoFactor)
		public.POST("/refresh", h.Refresh)
		public.POST("/magic-link", h.MagicLink)
		public.POST("/magic-link/consume", h.ConsumeMagicLink)
		public.POST("/invitations/accept", h.AcceptInvitation)
	}

	protected := rg.Group("/auth", g.central())
	{
		protected.POST("/logout", h.Logout)
		protected.GET("/me", h.Me)
		protected.PATCH("/me", h.UpdateProfile)
		protected.POST("/password", h.ChangePassword)
		protected.POST("/2fa/setup", h.SetupTwoFactor)
		protected.POST("/2fa/enable", h.EnableTwoFactor)
		protected.POST("/2fa/disable", h.DisableTwoFactor)
	}
}

// registerTenantRoutes registers provisioning and tenant administration.
func registerTenantRoutes(rg *gin.RouterGroup, g guards, base *handlers.BaseHandler, cfg RouterConfig) {
	h := handlers.NewTenantHandler(base, cfg.Tenancy, cfg.Members)

	tenants := rg.Group("/tenants")
	tenants.POST("", g.central(), h.Provision)
	tenants.GET("/mine", g.central(), h.Mine)

	one := tenants.Group("/:" + middleware.TenantParam)
	one.GET("", g.member(), h.Get)
	one.PUT("", g.named(rbac.ExprOwner), h.Update)
	one.POST("/domains", g.named(rbac.ExprOwner), h.AddDomain)
	one.DELETE("/domains/:domain", g.named(rbac.ExprOwner), h.RemoveDomain)
}

// registerCentralRoutes registers tenant-less routes for the caller's own data.
func registerCentralRoutes(rg *gin.RouterGroup, g guards, base *handlers.BaseHandler, cfg RouterConfig) {
	gdprHandler := handlers.NewGDPRHandler(base, cfg.GDPR)
	privacy := rg.Group("/gdpr", g.central())
	{
		privacy.POST("/export", gdprHandler.Export)
		privacy.POST("/delete-request", gdprHandler.RequestDeletion)
	}

	analyticsHandler := handlers.NewAnalyticsHandler(base, cfg.Analytics, cfg.Central, cfg.Members)
	rg.GET("/analytics/me", g.central(), analyticsHandler.Me)
}

func registerUserRoutes(rg *gin.RouterGroup, g guards, base *handlers.BaseHandler, cfg RouterConfig) {
	h := handlers.NewUserHandler(base, cfg.Members, cfg.Auth.Invitations)

	users := rg.Group("/users")
	users.GET("", g.perms("Users.users.read"), h.List)
	users.POST("", g.perms("Users.users.create"), h.Attach)
	users.POST("/invite", g.perms("Users.users.create"), h.Invite)
	users.GET("/:user/roles", g.perms("Users.users.read"), h.Roles)
	users.PUT("/:user/role", g.named(rbac.ExprAdmin), h.UpdateRole)
	users.DELETE("/:user", g.named(rbac.ExprUserManager), h.Detach)
}

func registerRoleRoutes(rg *gin.RouterGroup, g guards, base *handlers.BaseHandler, cfg RouterConfig) {
	h := handlers.NewRoleHandler(base, cfg.Roles, cfg.Catalog, cfg.Local)

	rg.GET("/permissions", g.perms("RolesAndPermissions.roles.read"), h.Permissions)

	roles := rg.Group("/roles")
	roles.GET("", g.perms("RolesAndPermissions.roles.read"), h.List)
	roles.POST("", g.perms("RolesAndPermissions.roles.create"), h.Create)
	roles.GET("/:role", g.perms("RolesAndPermissions.roles.read"), h.Get)
	roles.PUT("/:role/permissions", g.perms("RolesAndPermissions.roles.update"), h.UpdatePermissions)
	roles.DELETE("/:role", g.named(rbac.ExprOwner), h.Delete)
	roles.POST("/:role/assign", g.perms("RolesAndPermissions.roles.assign"), h.Assign)
	roles.POST("/:role/remove", g.perms("RolesAndPermissions.roles.assign"), h.Remove)
}

func registerAnalyticsRoutes(rg *gin.RouterGroup, g guards, base *handlers.BaseHandler, cfg RouterConfig) {
	h := handlers.NewAnalyticsHandler(base, cfg.Analytics, cfg.Central, cfg.Members)

	reports := rg.Group("/analytics")
	reports.GET("", g.perms("Analytics.login_analytics.read"), h.Tenant)
	reports.GET("/users/:user", g.named(rbac.ExprAnalyticsAccess), middleware.Require(rbac.MustParseExpression("Analytics.user_analytics.read")), h.User)
}

func registerWebhookRoutes(rg *gin.RouterGroup, g guards, base *handlers.BaseHandler, cfg RouterConfig) {
	h := handlers.NewWebhookHandler(base, cfg.Webhooks)

	hooks := rg.Group("/webhooks")
	hooks.GET("", g.perms("Webhooks.webhooks.read"), h.List)
	hooks.POST("", g.perms("Webhooks.webhooks.create"), h.Create)
	hooks.GET("/:id", g.perms("Webhooks.webhooks.read"), h.Get)
	hooks.GET("/:id/deliveries", g.perms("Webhooks.webhooks.read"), h.Deliveries)
	hooks.PUT("/:id/status", g.perms("Webhooks.webhooks.update"), h.SetStatus)
	hooks.DELETE("/:id", g.named(rbac.ExprWebhookManager), h.Delete)
}

func registerGDPRAdminRoutes(rg *gin.RouterGroup, g guards, base *handlers.BaseHandler, cfg RouterConfig) {
	h := handlers.NewGDPRHandler(base, cfg.GDPR)

	requests := rg.Group("/gdpr/requests", g.perms("Gdpr.delete_requests.manage"))
	{
		requests.GET("", h.ListPending)
		requests.POST("/:id/approve", h.Approve)
		requests.POST("/:id/deny", h.Deny)
	}
}
