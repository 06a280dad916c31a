// Package main loads the central permission catalog.
//
// Usage: seed [--file catalog.yaml] [--bootstrap]
//
// Without --file the built-in catalog is loaded. --bootstrap applies the
// central schema first. Running it twice is safe.
package main

import (
	"context"
	"fmt"
	"os"

	"hybridauth/internal/config"
	"hybridauth/internal/domain/rbac"
	"hybridauth/internal/infrastructure/cache"
	"hybridauth/internal/infrastructure/storage/postgres"
	"hybridauth/internal/infrastructure/storage/postgres/central_repo"
	"hybridauth/pkg/logger"
)

func main() {
	log, err := logger.New(logger.Config{
		Level:       "info",
		Development: true,
	})
	if err != nil {
		fmt.Printf("failed to create logger: %v\n", err)
		os.Exit(1)
	}

	var file string
	var bootstrap bool
	for i := 1; i < len(os.Args); i++ {
		switch os.Args[i] {
		case "--file":
			if i+1 < len(os.Args) {
				file = os.Args[i+1]
				i++
			}
		case "--bootstrap":
			bootstrap = true
		}
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalw("failed to load configuration", "error", err)
	}
	if cfg.Database.CentralURL == "" {
		log.Fatal("CENTRAL_DATABASE_URL environment variable is required")
	}

	ctx := context.Background()

	poolCfg := postgres.CentralPoolConfig(cfg.Database.CentralURL)
	poolCfg.ApplicationName = "hybridauth:seed"
	poolCfg.MaxConns = 2
	poolCfg.MinConns = 0
	pool, err := postgres.NewPool(ctx, poolCfg)
	if err != nil {
		log.Fatalw("failed to connect to database", "error", err)
	}
	defer pool.Close()

	log.Info("connected to central database")

	if bootstrap {
		if err := postgres.BootstrapCentral(ctx, pool); err != nil {
			log.Fatalw("failed to apply central schema", "error", err)
		}
		log.Info("central schema applied")
	}

	perms, err := loadCatalog(file)
	if err != nil {
		log.Fatalw("failed to load permission catalog", "file", file, "error", err)
	}

	txm := postgres.NewTxManager(pool, "central")
	var writer rbac.CatalogWriter = central_repo.NewPermissionRepo(txm)
	err = txm.RunInTransaction(ctx, func(ctx context.Context) error {
		for _, p := range perms {
			if err := writer.Upsert(ctx, p); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		log.Fatalw("failed to seed permissions", "error", err)
	}

	// Running API processes drop their cached catalog.
	if err := cache.Notify(ctx, pool, cache.ChannelPermissions, ""); err != nil {
		log.Warnw("failed to notify catalog change", "error", err)
	}

	log.Infow("seeding completed successfully", "permissions", len(perms))
}

func loadCatalog(path string) ([]rbac.Permission, error) {
	if path == "" {
		return rbac.DefaultCatalog(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return rbac.LoadCatalog(f)
}
