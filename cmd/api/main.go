package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"insight_backoffice_backend/internal/activities"
	activityrepo "insight_backoffice_backend/internal/activities/repository"
	"insight_backoffice_backend/internal/contacts"
	"insight_backoffice_backend/internal/deals"
	"insight_backoffice_backend/internal/distribution"
	"insight_backoffice_backend/internal/events"
	"insight_backoffice_backend/internal/exports"
	apphttp "insight_backoffice_backend/internal/http"
	"insight_backoffice_backend/internal/http/router"
	"insight_backoffice_backend/internal/imports"
	"insight_backoffice_backend/internal/notification"
	"insight_backoffice_backend/internal/replication"
	"insight_backoffice_backend/internal/scheduler"
	"insight_backoffice_backend/internal/storage"
	"insight_backoffice_backend/internal/transactions"
	"insight_backoffice_backend/platform/config"
	"insight_backoffice_backend/platform/db"
	"insight_backoffice_backend/platform/logger"
	"insight_backoffice_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ensureBucket wraps the retry logic for verifying a MinIO bucket exists.
func ensureBucket(ctx context.Context, log *logger.Logger, storageSvc storage.Service, name, bucket string) {
	if err := withRetry(ctx, log, "ensure "+name+" bucket", 5, 2*time.Second, func() error {
		return storageSvc.EnsureBucketExists(ctx, bucket)
	}); err != nil {
		log.Error("failed to ensure storage bucket exists", "error", err, "bucket", bucket)
		panic("failed to ensure storage bucket exists: " + err.Error())
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	// Initialize structured logger
	log := logger.New(cfg.Env)
	log.Info("starting server", "env", cfg.Env, "addr", cfg.HTTPAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ========================================================================
	// Infrastructure Layer
	// ========================================================================

	if err := withRetry(ctx, log, "database migrations", 5, 2*time.Second, func() error {
		return db.RunMigrations(ctx, cfg)
	}); err != nil {
		log.Error("failed to run database migrations", "error", err)
		panic("failed to run database migrations: " + err.Error())
	}
	log.Info("database migrations complete")

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
	log.Info("database connection established")

	// Event bus for decoupled communication between modules
	eventBus := events.NewInMemoryBus(log)

	// Shared validator instance for dependency injection
	val := validator.New()

	// Storage service for import uploads (MinIO). Large imports require it;
	// without it every import runs synchronously from the request body.
	var storageSvc storage.Service
	if cfg.IsMinIOEnabled() {
		minioSvc, err := storage.NewMinIOService(cfg)
		if err != nil {
			log.Error("failed to initialize storage service", "error", err)
			panic("failed to initialize storage service: " + err.Error())
		}
		ensureBucket(ctx, log, minioSvc, "imports", cfg.GetMinioBucketImports())
		storageSvc = minioSvc
		log.Info("storage service initialized", "importsBucket", cfg.GetMinioBucketImports())
	} else {
		log.Warn("MinIO not configured; imports run synchronously only")
	}

	tasks, closeTasks := initTaskClient(cfg, log)
	if closeTasks != nil {
		defer closeTasks()
	}

	// ========================================================================
	// Domain Modules (Composition Root)
	// ========================================================================

	// Notification module subscribes to domain events (not HTTP-facing)
	if cfg.IsEmailEnabled() {
		notificationModule := notification.New(notification.NewSMTPSender(cfg), log)
		notificationModule.RegisterHandlers(eventBus)
	} else {
		log.Warn("SMTP not configured; failure alerts disabled")
	}

	// Shared repositories used across modules
	dealRepo := deals.NewRepository(pool)
	contactRepo := contacts.NewRepository(pool)
	activityLog := activityrepo.New(pool)

	// Initialize domain modules
	activitiesModule := activities.NewModule(pool, cfg, val, log)
	transactionsModule := transactions.NewModule(pool, cfg, eventBus, val, log)
	replicationModule := replication.NewModule(pool, dealRepo, activityLog, eventBus, val, log)
	distributionModule, err := distribution.NewModule(dealRepo, activityLog, cfg, val, log)
	if err != nil {
		log.Error("failed to initialize distribution module", "error", err)
		panic("failed to initialize distribution module: " + err.Error())
	}
	importsModule := imports.NewModule(pool, dealRepo, contactRepo, storageSvc, tasks, cfg, cfg, eventBus, log)
	exportsModule := exports.NewModule(pool, val)

	// ========================================================================
	// HTTP Layer
	// ========================================================================

	app := &apphttp.App{
		Config:   cfg,
		Logger:   log,
		Health:   db.NewPoolAdapter(pool),
		EventBus: eventBus,
		Modules: []apphttp.Module{
			activitiesModule,
			transactionsModule,
			replicationModule,
			distributionModule,
			importsModule,
			exportsModule,
		},
	}

	engine := router.New(app)

	srvErr := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.HTTPAddr)
		srvErr <- engine.Run(cfg.HTTPAddr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, gracefully shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = shutdownCtx
	case err := <-srvErr:
		if err != nil {
			log.Error("server error", "error", err)
			panic("server error: " + err.Error())
		}
	}
}

func initTaskClient(cfg config.SchedulerConfig, log *logger.Logger) (*scheduler.Client, func()) {
	if cfg.GetRedisURL() == "" {
		log.Warn("REDIS_URL not configured; background import processing disabled")
		return nil, nil
	}

	tasks, err := scheduler.NewClient(cfg)
	if err != nil {
		log.Error("failed to initialize task client", "error", err)
		return nil, nil
	}

	return tasks, func() {
		_ = tasks.Close()
	}
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return fmt.Errorf("%s: invalid retry attempts", name)
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
