// Package app wires the infrastructure and domain services shared by the
// server and worker processes.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"

	"hybridauth/internal/config"
	"hybridauth/internal/core/tenant"
	"hybridauth/internal/domain/analytics"
	"hybridauth/internal/domain/auth"
	"hybridauth/internal/domain/gdpr"
	"hybridauth/internal/domain/identity"
	"hybridauth/internal/domain/membership"
	"hybridauth/internal/domain/rbac"
	"hybridauth/internal/domain/tenancy"
	"hybridauth/internal/domain/webhooks"
	"hybridauth/internal/infrastructure/cache"
	"hybridauth/internal/infrastructure/mail"
	"hybridauth/internal/infrastructure/metrics"
	"hybridauth/internal/infrastructure/queue"
	redisinfra "hybridauth/internal/infrastructure/redis"
	"hybridauth/internal/infrastructure/storage/postgres"
	"hybridauth/internal/infrastructure/storage/postgres/central_repo"
	"hybridauth/internal/infrastructure/storage/postgres/tenant_repo"
	"hybridauth/pkg/logger"
)

const (
	registryCacheSize = 1024
	registryCacheTTL  = 5 * time.Minute
	catalogCacheSize  = 4096
	catalogCacheTTL   = 10 * time.Minute
)

// Repositories are the stateless stores. Central stores are bound to the
// central pool; tenant stores take the pool from the active scope.
type Repositories struct {
	Identities  *central_repo.IdentityRepo
	Memberships *central_repo.MembershipRepo
	Tenants     *central_repo.TenantRepo
	Permissions *central_repo.PermissionRepo
	Refresh     *central_repo.RefreshTokenRepo
	MagicLinks  *central_repo.MagicLinkRepo
	Invitations *central_repo.InvitationRepo
	Analytics   *central_repo.AnalyticsRepo
	Deletions   *central_repo.DeleteRequestRepo
	Deliveries  *central_repo.DeliveryRepo

	Local     *tenant_repo.LocalIdentityRepo
	Roles     *tenant_repo.RoleRepo
	Directory *tenant_repo.DirectoryRepo
	Webhooks  *tenant_repo.WebhookRepo
}

// App holds the wired process state.
type App struct {
	Config  *config.Config
	Log     *logger.Logger
	Metrics *prometheus.Registry

	CentralPool *pgxpool.Pool
	CentralTx   *postgres.TxManager
	Redis       *goredis.Client
	Broker      *queue.Publisher

	Registry  *cache.RegistryCache
	Manager   *tenant.Manager
	Activator *postgres.ScopeActivator
	Catalog   *cache.CatalogCache
	Listener  *cache.Listener
	Notifier  *cache.TenantNotifier
	Outbox    *postgres.OutboxPublisher
	GateStats *metrics.GateMetrics

	Repos Repositories

	Tokens      *auth.TokenService
	Sessions    *auth.SessionService
	TwoFactor   *auth.TwoFactorService
	Login       *auth.LoginService
	MagicLinks  *auth.MagicLinkService
	Register    *auth.RegisterService
	Invitations *auth.InvitationService
	Syncer      *identity.Syncer
	Identities  *identity.Service
	Roles       *rbac.RoleService
	Resolver    *rbac.Resolver
	Members     *membership.Service
	Tenancy     *tenancy.Service
	Analytics   *analytics.Service
	Webhooks    *webhooks.Service
	GDPR        *gdpr.Service

	closers []func()
}

// New connects to the central database, Redis and the broker (the latter two
// when configured) and builds every service.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	a := &App{Config: cfg, Log: log, Metrics: metrics.NewRegistry()}
	if err := a.connect(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.build(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) connect(ctx context.Context) error {
	cfg := a.Config

	pool, err := postgres.NewPool(ctx, postgres.CentralPoolConfig(cfg.Database.CentralURL))
	if err != nil {
		return fmt.Errorf("connect central database: %w", err)
	}
	a.CentralPool = pool
	a.closers = append(a.closers, pool.Close)
	a.CentralTx = postgres.NewTxManager(pool, "central")

	rdb, err := redisinfra.Connect(ctx, cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	if rdb != nil {
		a.Redis = rdb
		a.closers = append(a.closers, func() { _ = rdb.Close() })
	}

	if cfg.AMQP.URL != "" {
		broker, err := queue.Dial(cfg.AMQP.URL)
		if err != nil {
			return fmt.Errorf("connect broker: %w", err)
		}
		a.Broker = broker
		a.closers = append(a.closers, func() { _ = broker.Close() })
	}
	return nil
}

func (a *App) build() error {
	cfg := a.Config
	log := a.Log

	a.Repos = Repositories{
		Identities:  central_repo.NewIdentityRepo(a.CentralTx),
		Memberships: central_repo.NewMembershipRepo(a.CentralTx),
		Tenants:     central_repo.NewTenantRepo(a.CentralTx),
		Permissions: central_repo.NewPermissionRepo(a.CentralTx),
		Refresh:     central_repo.NewRefreshTokenRepo(a.CentralTx),
		MagicLinks:  central_repo.NewMagicLinkRepo(a.CentralTx),
		Invitations: central_repo.NewInvitationRepo(a.CentralTx),
		Analytics:   central_repo.NewAnalyticsRepo(a.CentralTx),
		Deletions:   central_repo.NewDeleteRequestRepo(a.CentralTx),
		Deliveries:  central_repo.NewDeliveryRepo(a.CentralTx),
		Local:       tenant_repo.NewLocalIdentityRepo(),
		Roles:       tenant_repo.NewRoleRepo(),
		Directory:   tenant_repo.NewDirectoryRepo(),
		Webhooks:    tenant_repo.NewWebhookRepo(),
	}
	repos := a.Repos

	// --- Tenancy infrastructure ---
	a.Registry = cache.NewRegistryCache(tenant.NewPostgresRegistry(a.CentralPool), registryCacheSize, registryCacheTTL)

	managerCfg := tenant.DefaultManagerConfig()
	managerCfg.DBUser = cfg.Database.TenantUser
	managerCfg.DBPassword = cfg.Database.TenantPassword
	if cfg.Database.MaxPools > 0 {
		managerCfg.MaxTotalPools = cfg.Database.MaxPools
	}
	if cfg.Database.MaxConnsPerTenant > 0 {
		managerCfg.MaxConnsPerTenant = int32(cfg.Database.MaxConnsPerTenant)
	}
	if cfg.Database.PoolIdleTimeout > 0 {
		managerCfg.PoolIdleTimeout = cfg.Database.PoolIdleTimeout
	}
	a.Manager = tenant.NewManager(managerCfg, a.Registry, log)
	a.closers = append(a.closers, a.Manager.Close)

	a.GateStats = metrics.NewGateMetrics(a.Metrics)
	a.Activator = postgres.NewScopeActivator(a.Manager, a.GateStats)
	a.Outbox = postgres.NewOutboxPublisher(a.CentralTx)
	a.Notifier = cache.NewTenantNotifier(a.CentralPool, log)

	// --- Permission catalog ---
	a.Catalog = cache.NewCatalogCache(repos.Permissions, catalogCacheSize, catalogCacheTTL)
	a.Listener = cache.NewListener(a.CentralPool, log)
	a.Listener.On(cache.ChannelTenants, cache.PurgeTenants(a.Registry, a.Manager))
	a.Listener.On(cache.ChannelPermissions, cache.PurgeCatalog(a.Catalog))
	a.closers = append(a.closers, a.Listener.Stop)

	a.Roles = rbac.NewRoleService(a.Catalog, repos.Roles)
	a.Resolver = rbac.NewResolver(a.Catalog, repos.Roles)

	// --- Tokens and sessions ---
	jwtCfg := auth.DefaultJWTConfig(cfg.JWT.Secret)
	jwtCfg.Issuer = cfg.JWT.Issuer
	jwtCfg.AccessTTL = cfg.JWT.AccessTTL
	tokens, err := auth.NewTokenService(jwtCfg)
	if err != nil {
		return fmt.Errorf("token service: %w", err)
	}
	a.Tokens = tokens

	var denylist auth.Denylist
	var limiter auth.RateLimiter
	if a.Redis != nil {
		denylist = redisinfra.NewDenylist(a.Redis)
		limiter = redisinfra.NewRateLimiter(a.Redis, cfg.Security.LoginRateLimit, cfg.Security.LoginRateWindow)
	} else {
		// Sessions fall back to an in-process denylist.
		limiter = redisinfra.NewLocalRateLimiter(cfg.Security.LoginRateLimit, cfg.Security.LoginRateWindow)
	}
	a.Sessions = auth.NewSessionService(tokens, repos.Refresh, a.CentralTx, repos.Identities, denylist, auth.SessionConfig{
		RefreshTTL:    cfg.JWT.RefreshTTL,
		RotateRefresh: cfg.JWT.RotateRefresh,
	})

	// --- Identities and memberships ---
	a.Syncer = identity.NewSyncer(a.Registry, a.Activator, repos.Local, repos.Memberships, log)
	a.Identities = identity.NewService(repos.Identities, a.CentralTx, a.Syncer, a.Outbox, a.Sessions)
	a.Members = membership.NewService(membership.Deps{
		Edges:      repos.Memberships,
		CentralTx:  a.CentralTx,
		Identities: repos.Identities,
		Registry:   a.Registry,
		Syncer:     a.Syncer,
		Local:      repos.Local,
		Roles:      a.Roles,
		Directory:  repos.Directory,
		Publisher:  a.Outbox,
	})

	// --- Login ---
	key, err := cfg.Security.Key()
	if err != nil {
		return err
	}
	sealer, err := auth.NewSealer(key)
	if err != nil {
		return fmt.Errorf("sealer: %w", err)
	}
	a.TwoFactor = auth.NewTwoFactorService(repos.Identities, sealer, cfg.JWT.Issuer)

	a.Analytics = analytics.NewService(repos.Analytics)
	var recorder analytics.Recorder = a.Analytics
	if a.Broker != nil {
		recorder = a.Broker
	}
	a.Login = auth.NewLoginService(repos.Identities, a.Sessions, a.TwoFactor, limiter, recorder)

	mailer := mail.NewLogMailer(log, !cfg.App.IsProduction())
	a.MagicLinks = auth.NewMagicLinkService(repos.MagicLinks, a.CentralTx, repos.Identities, a.Identities, a.Login,
		mailer, cfg.Security.MagicLinkTTL, cfg.Security.AppURL)
	a.Register = auth.NewRegisterService(repos.Identities, a.CentralTx, a.Outbox, a.MagicLinks, a.Members)
	a.Invitations = auth.NewInvitationService(repos.Invitations, a.CentralTx, repos.Identities, a.Outbox, a.Members,
		mailer, cfg.Security.AppURL)

	// --- Tenants ---
	provisioner := postgres.NewDatabaseProvisioner(a.CentralPool, cfg.Database.TenantUser, cfg.Database.TenantPassword, log)
	a.Tenancy = tenancy.NewService(a.Registry, repos.Tenants, a.CentralTx, provisioner, a.Members, a.Outbox,
		a.Registry, a.Manager, a.Notifier)

	// --- Webhooks and GDPR ---
	a.Webhooks = webhooks.NewService(repos.Webhooks, repos.Deliveries)
	a.GDPR = gdpr.NewService(gdpr.Deps{
		Requests:   repos.Deletions,
		Identities: repos.Identities,
		Members:    a.Members,
		Logins:     repos.Analytics,
		CentralTx:  a.CentralTx,
		Revoker:    a.Sessions,
		Publisher:  a.Outbox,
		Mailer:     mailer,
	})
	return nil
}

// Start begins listening for cache invalidations and, when configured, opens
// pools for every active tenant.
func (a *App) Start(ctx context.Context) {
	a.Listener.Start(ctx)
	if a.Config.Database.Prewarm {
		if err := a.Manager.Prewarm(ctx); err != nil {
			a.Log.Warnw("failed to prewarm some pools", "error", err)
		}
	}
}

// Ping checks the central database and, when configured, Redis.
func (a *App) Ping(ctx context.Context) error {
	var errs []error
	if err := a.CentralPool.Ping(ctx); err != nil {
		errs = append(errs, fmt.Errorf("central database: %w", err))
	}
	if a.Redis != nil {
		if err := a.Redis.Ping(ctx).Err(); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
