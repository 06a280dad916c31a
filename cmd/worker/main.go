// Package main is the entry point for the hybridauth background worker.
// It runs the analytics rollup, token cleanup, the outbox relay, the queue
// consumer and per-tenant projection reconciliation.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"hybridauth/internal/app"
	"hybridauth/internal/config"
	"hybridauth/internal/domain/webhooks"
	"hybridauth/internal/infrastructure/queue"
	"hybridauth/internal/infrastructure/storage/postgres"
	"hybridauth/pkg/logger"
)

const (
	outboxBatchSize    = 100
	outboxRetention    = 7 * 24 * time.Hour
	analyticsRetention = 400 * 24 * time.Hour
	sweepInterval      = time.Minute
	sweepLimit         = 200
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:       cfg.App.LogLevel,
		Development: !cfg.App.IsProduction(),
		Service:     "hybridauth-worker",
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

	log.Info("starting hybridauth worker")

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatalw("failed to initialize", "error", err)
	}
	defer a.Close()
	a.Start(ctx)

	// --- Webhook pipeline ---
	deliverer := webhooks.NewDeliverer(a.Registry, a.Activator, a.Repos.Webhooks, a.Repos.Deliveries,
		nil, webhooks.DefaultRetryPolicy(), log)
	var jobs webhooks.JobQueue = queue.Inline{Handler: deliverer}
	if a.Broker != nil {
		jobs = a.Broker
	}
	dispatcher := webhooks.NewDispatcher(a.Registry, a.Activator, a.Repos.Webhooks, a.Repos.Deliveries, jobs, log)
	relay := postgres.NewOutboxRelay(a.CentralTx, outboxBatchSize, dispatcher, log)

	// --- Scheduled jobs ---
	jobsLog := log.WithComponent("cron")
	scheduler := cron.New(cron.WithChain(cron.Recover(cronLogger{jobsLog})))
	if _, err := scheduler.AddFunc(cfg.Worker.AggregateSchedule, func() { aggregate(ctx, a, jobsLog) }); err != nil {
		log.Fatalw("invalid aggregate schedule", "schedule", cfg.Worker.AggregateSchedule, "error", err)
	}
	if _, err := scheduler.AddFunc(cfg.Worker.CleanupSchedule, func() { cleanup(ctx, a, relay, jobsLog) }); err != nil {
		log.Fatalw("invalid cleanup schedule", "schedule", cfg.Worker.CleanupSchedule, "error", err)
	}
	scheduler.Start()

	var wg sync.WaitGroup
	run := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}

	run(func() { every(ctx, cfg.Worker.OutboxInterval, func() { drainOutbox(ctx, relay, log) }) })
	run(func() {
		every(ctx, sweepInterval, func() {
			if n, err := dispatcher.Sweep(ctx, sweepLimit); err != nil {
				log.Errorw("webhook sweep failed", "error", err)
			} else if n > 0 {
				log.Infow("requeued due webhook deliveries", "count", n)
			}
		})
	})

	if cfg.AMQP.URL != "" {
		consumer := queue.NewConsumer(cfg.AMQP.URL, log)
		consumer.Handle(queue.LoginEventsQueue, queue.LoginEvents(a.Analytics))
		consumer.Handle(queue.WebhookJobsQueue, queue.WebhookJobs(deliverer))
		run(func() {
			if err := consumer.Run(ctx); err != nil && ctx.Err() == nil {
				log.Errorw("queue consumer stopped", "error", err)
			}
		})
	}

	reconciler := NewMultiTenantWorker(a.Registry, a.Members, cfg.Worker.TenantRefresh, log)
	run(func() { reconciler.Run(ctx) })

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down worker...")
	<-scheduler.Stop().Done()
	cancel()

	wg.Wait()
	log.Info("worker stopped")
}

// every calls fn on each tick until ctx is cancelled.
func every(ctx context.Context, interval time.Duration, fn func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

// drainOutbox processes batches until one comes back short.
func drainOutbox(ctx context.Context, relay *postgres.OutboxRelay, log *logger.Logger) {
	for ctx.Err() == nil {
		n, err := relay.ProcessBatch(ctx)
		if err != nil {
			log.Errorw("outbox batch failed", "error", err)
			return
		}
		if n < outboxBatchSize {
			return
		}
	}
}

// aggregate recomputes yesterday's daily login stats.
func aggregate(ctx context.Context, a *app.App, log *logger.Logger) {
	day := time.Now().UTC().AddDate(0, 0, -1)
	n, err := a.Analytics.AggregateDay(ctx, day)
	if err != nil {
		log.Errorw("daily aggregation failed", "day", day.Format(time.DateOnly), "error", err)
		return
	}
	log.Infow("aggregated daily login stats", "day", day.Format(time.DateOnly), "rows", n)
}

func cleanup(ctx context.Context, a *app.App, relay *postgres.OutboxRelay, log *logger.Logger) {
	if n, err := a.Sessions.CleanupExpired(ctx); err != nil {
		log.Errorw("refresh token cleanup failed", "error", err)
	} else if n > 0 {
		log.Infow("cleaned up refresh tokens", "count", n)
	}

	if n, err := a.Repos.MagicLinks.DeleteExpired(ctx, time.Now()); err != nil {
		log.Errorw("magic link cleanup failed", "error", err)
	} else if n > 0 {
		log.Infow("cleaned up magic links", "count", n)
	}

	if n, err := a.Invitations.CleanupExpired(ctx); err != nil {
		log.Errorw("invitation cleanup failed", "error", err)
	} else if n > 0 {
		log.Infow("cleaned up invitations", "count", n)
	}

	if n, err := relay.Purge(ctx, outboxRetention); err != nil {
		log.Errorw("outbox purge failed", "error", err)
	} else if n > 0 {
		log.Infow("purged processed outbox rows", "count", n)
	}

	if n, err := a.Analytics.Purge(ctx, analyticsRetention); err != nil {
		log.Errorw("login event purge failed", "error", err)
	} else if n > 0 {
		log.Infow("purged login events", "count", n)
	}
}

// cronLogger adapts the logger to cron.Logger.
type cronLogger struct {
	log *logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}
