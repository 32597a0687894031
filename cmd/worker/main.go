package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	activityrepo "insight_backoffice_backend/internal/activities/repository"
	"insight_backoffice_backend/internal/contacts"
	"insight_backoffice_backend/internal/deals"
	"insight_backoffice_backend/internal/events"
	"insight_backoffice_backend/internal/imports"
	"insight_backoffice_backend/internal/notification"
	"insight_backoffice_backend/internal/replication"
	"insight_backoffice_backend/internal/scheduler"
	"insight_backoffice_backend/internal/storage"
	"insight_backoffice_backend/platform/config"
	"insight_backoffice_backend/platform/db"
	"insight_backoffice_backend/platform/logger"
	"insight_backoffice_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting worker", "env", cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var pool *pgxpool.Pool
	if err := withRetry(ctx, log, "database connection", 5, 2*time.Second, func() error {
		p, err := db.NewPool(ctx, cfg)
		if err != nil {
			return err
		}
		pool = p
		return nil
	}); err != nil {
		log.Error("failed to connect to database", "error", err)
		panic("failed to connect to database: " + err.Error())
	}
	defer pool.Close()

	eventBus := events.NewInMemoryBus(log)

	// Failure alerts fire from the worker too; import jobs and replication
	// retries run here, not in the API process.
	if cfg.IsEmailEnabled() {
		notificationModule := notification.New(notification.NewSMTPSender(cfg), log)
		notificationModule.RegisterHandlers(eventBus)
	} else {
		log.Warn("SMTP not configured; failure alerts disabled")
	}

	val := validator.New()

	var storageSvc storage.Service
	if cfg.IsMinIOEnabled() {
		minioSvc, err := storage.NewMinIOService(cfg)
		if err != nil {
			log.Error("failed to initialize storage service", "error", err)
			panic("failed to initialize storage service: " + err.Error())
		}
		storageSvc = minioSvc
	} else {
		log.Warn("MinIO not configured; queued import jobs cannot be processed")
	}

	dealRepo := deals.NewRepository(pool)
	contactRepo := contacts.NewRepository(pool)
	activityLog := activityrepo.New(pool)

	// Worker-side module wiring (no HTTP handlers required).
	importsModule := imports.NewModule(pool, dealRepo, contactRepo, storageSvc, nil, cfg, cfg, eventBus, log)
	replicationModule := replication.NewModule(pool, dealRepo, activityLog, eventBus, val, log)

	tasks, err := scheduler.NewClient(cfg)
	if err != nil {
		log.Error("failed to initialize task client", "error", err)
		panic("failed to initialize task client: " + err.Error())
	}
	defer func() { _ = tasks.Close() }()

	drainInterval := getDurationEnv("REPLICATION_DRAIN_INTERVAL", time.Minute)
	go runDrainTicker(ctx, tasks, drainInterval, log)

	worker, err := scheduler.NewWorker(cfg, importsModule.Service(), replicationModule.Service(), log)
	if err != nil {
		log.Error("failed to initialize worker", "error", err)
		panic("failed to initialize worker: " + err.Error())
	}

	worker.Run(ctx)
}

// runDrainTicker enqueues a replication drain task on a fixed interval so
// pending and re-pended queue items are retried even with no API traffic.
func runDrainTicker(ctx context.Context, tasks *scheduler.Client, interval time.Duration, log *logger.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := tasks.EnqueueReplicationDrain(ctx); err != nil {
				log.Warn("failed to enqueue replication drain", "error", err)
			}
		}
	}
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return errors.New(name + ": invalid retry attempts")
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
			log.Warn("retryable operation failed", "operation", name, "attempt", attempt, "error", err)
		}

		if attempt < attempts {
			delay := time.Duration(attempt*attempt) * baseDelay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return errors.New(name + ": " + lastErr.Error())
}

func getDurationEnv(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}

	parsed, err := time.ParseDuration(raw)
	if err != nil || parsed <= 0 {
		return fallback
	}

	return parsed
}
