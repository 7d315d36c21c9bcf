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

	"leadpipeline_backend/internal/delivery"
	"leadpipeline_backend/internal/dossier/generator"
	"leadpipeline_backend/internal/events"
	"leadpipeline_backend/internal/feed"
	"leadpipeline_backend/internal/feed/schema"
	"leadpipeline_backend/internal/handover"
	apphttp "leadpipeline_backend/internal/http"
	"leadpipeline_backend/internal/http/router"
	"leadpipeline_backend/internal/mailbox"
	"leadpipeline_backend/internal/notification"
	"leadpipeline_backend/internal/scheduler"
	"leadpipeline_backend/platform/config"
	"leadpipeline_backend/platform/db"
	"leadpipeline_backend/platform/logger"
	"leadpipeline_backend/platform/metrics"
	"leadpipeline_backend/platform/storage"
	"leadpipeline_backend/platform/validator"
	"leadpipeline_backend/platform/workerpool"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

const readHeaderTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting server", "env", cfg.Env, "addr", cfg.HTTPAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ========================================================================
	// Infrastructure Layer
	// ========================================================================

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

	if err := withRetry(ctx, log, "database migrations", 5, 2*time.Second, func() error {
		res, err := db.RunMigrations(ctx, pool)
		if err != nil {
			return err
		}
		log.Info("database migrations complete", "applied", len(res.Applied))
		return nil
	}); err != nil {
		log.Error("failed to run database migrations", "error", err)
		panic("failed to run database migrations: " + err.Error())
	}

	rec, err := metrics.NewGlobal()
	if err != nil {
		log.Error("failed to initialize metrics", "error", err)
		panic("failed to initialize metrics: " + err.Error())
	}

	eventBus := events.NewChannelBus(log, 0)
	go eventBus.Run(ctx, cfg.ShutdownDrainTimeout)

	val := validator.New()
	archive := initArchive(ctx, cfg, log)

	var (
		work        scheduler.Dispatcher
		redisClient redis.UniversalClient
		poolWorkers *workerpool.Pool
	)
	if cfg.IsSchedulerEnabled() {
		client, err := scheduler.NewClient(cfg)
		if err != nil {
			log.Error("failed to initialize task queue client", "error", err)
			panic("failed to initialize task queue client: " + err.Error())
		}
		defer func() { _ = client.Close() }()
		work = client

		rc, err := scheduler.NewRedisClient(cfg)
		if err != nil {
			log.Error("failed to initialize redis client", "error", err)
			panic("failed to initialize redis client: " + err.Error())
		}
		defer func() { _ = rc.Close() }()
		redisClient = rc
		log.Info("background work dispatched to task queue", "queue", cfg.GetAsynqQueueName())
	} else {
		poolWorkers = workerpool.New(workerpool.Config{
			Workers: cfg.GetAsynqConcurrency(),
			Drain:   cfg.ShutdownDrainTimeout,
		}, log.WithComponent("workerpool"))
		work = scheduler.NewPoolDispatcher(poolWorkers)
		log.Warn("REDIS_URL not configured; background work runs in-process")
	}

	text, err := generator.NewTextGenerator(ctx, cfg)
	if err != nil {
		log.Error("failed to initialize dossier text generator", "error", err)
		panic("failed to initialize dossier text generator: " + err.Error())
	}

	// ========================================================================
	// Domain Modules (Composition Root)
	// ========================================================================

	notificationModule := notification.New(log)
	notificationModule.RegisterHandlers(eventBus)
	defer notificationModule.Hub().Close()

	feedModule := feed.NewModule(pool, eventBus, archive, cfg, rec, val, log)

	deliveryModule, err := delivery.NewModule(pool, archive, redisClient, work, cfg, rec, log)
	if err != nil {
		log.Error("failed to initialize delivery module", "error", err)
		panic("failed to initialize delivery module: " + err.Error())
	}

	handoverModule := handover.NewModule(pool, eventBus, text, deliveryModule.Gateway(), work,
		deliveryModule.History(), cfg, rec, val, log)

	// Delivery callbacks advance handover records (breaks circular dependency)
	deliveryModule.SetStatusSink(handoverModule.Service())

	go runSchemaWatcher(ctx, cfg, feedModule.SchemaValidator(), log)

	if pd, ok := work.(*scheduler.PoolDispatcher); ok {
		pd.Bind(scheduler.Processors{
			Feed:     feedModule.Service(),
			Handover: handoverModule.Service(),
			Delivery: deliveryModule.Reconciler(),
		})
		go func() {
			if err := poolWorkers.Run(ctx); err != nil {
				log.Warn("worker pool stopped with error", "error", err)
			}
		}()

		// Without a separate worker process the API also owns the periodic jobs.
		sweeper := scheduler.NewHandoverSweeper(handoverModule.Service(), log.WithComponent("sweeper"),
			cfg.GetHandoverSweepInterval(), cfg.GetHandoverStaleAfter())
		go sweeper.Run(ctx)
		if cfg.IsIMAPEnabled() {
			go mailbox.NewPoller(mailbox.Dial(cfg), work, cfg, log.WithComponent("mailbox")).Run(ctx)
		}
	}

	// ========================================================================
	// HTTP Layer
	// ========================================================================

	app := &apphttp.App{
		Config: cfg,
		Logger: log,
		Health: pool,
		Modules: []apphttp.Module{
			feedModule,
			handoverModule,
			deliveryModule,
			notificationModule,
		},
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router.New(app),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	srvErr := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.HTTPAddr)
		srvErr <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, gracefully shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownDrainTimeout)
		defer cancel()
		notificationModule.Hub().Close()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("server shutdown failed", "error", err)
		}
		if err := deliveryModule.Gateway().Wait(shutdownCtx); err != nil {
			log.Warn("dossier backups still in flight at shutdown", "error", err)
		}
	case err := <-srvErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			panic("server error: " + err.Error())
		}
	}
}

// initArchive returns nil when object storage is not configured; raw feed
// archiving and dossier backups are then skipped.
func initArchive(ctx context.Context, cfg *config.Config, log *logger.Logger) storage.ObjectStore {
	if !cfg.IsMinIOEnabled() {
		log.Warn("MINIO_ENDPOINT not configured; raw payload archive and dossier backups disabled")
		return nil
	}

	store, err := storage.NewMinIOStore(cfg)
	if err != nil {
		log.Error("failed to initialize storage service", "error", err)
		panic("failed to initialize storage service: " + err.Error())
	}
	for _, bucket := range []string{cfg.GetMinioBucketRawFeeds(), cfg.GetMinioBucketHandoverBackups()} {
		if err := withRetry(ctx, log, "ensure bucket "+bucket, 5, 2*time.Second, func() error {
			return store.EnsureBucket(ctx, bucket)
		}); err != nil {
			log.Error("failed to ensure storage bucket exists", "error", err, "bucket", bucket)
			panic("failed to ensure storage bucket exists: " + err.Error())
		}
	}
	log.Info("storage service initialized",
		"rawFeedsBucket", cfg.GetMinioBucketRawFeeds(),
		"handoverBackupsBucket", cfg.GetMinioBucketHandoverBackups(),
	)
	return store
}

func runSchemaWatcher(ctx context.Context, cfg config.FeedConfig, target schema.Clearer, log *logger.Logger) {
	if cfg.GetFeedSchemaDir() == "" {
		return
	}
	if err := schema.NewWatcher(cfg.GetFeedSchemaDir(), target, log.WithComponent("schema")).Run(ctx); err != nil {
		log.Warn("schema watcher stopped", "error", err)
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
