// Package main is the entry point for the hybridauth API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hybridauth/internal/app"
	"hybridauth/internal/config"
	"hybridauth/internal/core/tenant"
	"hybridauth/internal/domain/rbac"
	v1 "hybridauth/internal/infrastructure/http/v1"
	"hybridauth/internal/infrastructure/http/v1/handlers"
	"hybridauth/internal/infrastructure/http/v1/middleware"
	"hybridauth/pkg/logger"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:       cfg.App.LogLevel,
		Development: !cfg.App.IsProduction(),
		Service:     "hybridauth-api",
		Version:     version,
	})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalw("invalid configuration", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	log.Infow("starting hybridauth server", "version", version, "env", cfg.App.Env)

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatalw("failed to initialize", "error", err)
	}
	defer a.Close()
	a.Start(ctx)

	log.Infow("dependencies ready",
		"redis", a.Redis != nil,
		"broker", a.Broker != nil,
		"max_pools", cfg.Database.MaxPools,
	)

	gate := &middleware.Gate{
		Tokens:          a.Sessions,
		Tenants:         tenant.NewResolver(a.Registry),
		Memberships:     a.Members,
		Scopes:          a.Activator,
		LocalIdentities: a.Repos.Local,
		Permissions:     a.Resolver,
		Metrics:         a.GateStats,
		Logger:          log.WithComponent("gate"),
	}

	exprs, err := loadExpressions(os.Getenv("EXPRESSIONS_FILE"))
	if err != nil {
		log.Fatalw("failed to load permission expressions", "error", err)
	}

	checks := map[string]handlers.Pinger{}
	if a.Redis != nil {
		checks["redis"] = handlers.PingFunc(func(ctx context.Context) error {
			return a.Redis.Ping(ctx).Err()
		})
	}

	router := v1.NewRouter(v1.RouterConfig{
		TenantManager: a.Manager,
		CentralPool:   a.CentralPool,
		Logger:        log,
		Gate:          gate,
		Expressions:   exprs,
		Metrics:       a.Metrics,
		HealthChecks:  checks,
		Version:       version,
		Auth: handlers.AuthServices{
			Register:    a.Register,
			Login:       a.Login,
			Sessions:    a.Sessions,
			MagicLinks:  a.MagicLinks,
			TwoFactor:   a.TwoFactor,
			Invitations: a.Invitations,
			Identities:  a.Identities,
			Members:     a.Members,
		},
		Tenancy:    a.Tenancy,
		Members:    a.Members,
		Roles:      a.Roles,
		Catalog:    a.Catalog,
		Central:    a.Repos.Identities,
		Local:      a.Repos.Local,
		Analytics:  a.Analytics,
		Webhooks:   a.Webhooks,
		GDPR:       a.GDPR,
		Production: cfg.App.IsProduction(),
	})

	server := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Infow("server starting", "port", cfg.App.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalw("server failed", "error", err)
		}
	}()

	// --- Graceful shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorw("server forced to shutdown", "error", err)
	}

	log.Info("server stopped")
}

// loadExpressions reads named permission expression overrides. An empty path
// yields the built-in set.
func loadExpressions(path string) (rbac.Named, error) {
	if path == "" {
		return rbac.DefaultNamed(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return rbac.LoadNamed(f)
}
