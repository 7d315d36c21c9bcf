package main

import (
	"context"
	"errors"
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
	"leadpipeline_backend/internal/mailbox"
	"leadpipeline_backend/internal/notification"
	"leadpipeline_backend/internal/scheduler"
	"leadpipeline_backend/platform/config"
	"leadpipeline_backend/platform/db"
	"leadpipeline_backend/platform/logger"
	"leadpipeline_backend/platform/metrics"
	"leadpipeline_backend/platform/storage"
	"leadpipeline_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting worker", "env", cfg.Env, "queue", cfg.GetAsynqQueueName())

	if !cfg.IsSchedulerEnabled() {
		log.Error("REDIS_URL is required for the worker")
		panic("REDIS_URL is required for the worker")
	}

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

	rec, err := metrics.NewGlobal()
	if err != nil {
		log.Error("failed to initialize metrics", "error", err)
		panic("failed to initialize metrics: " + err.Error())
	}

	eventBus := events.NewChannelBus(log, 0)
	go eventBus.Run(ctx, cfg.ShutdownDrainTimeout)
	notification.New(log).RegisterHandlers(eventBus)

	var archive storage.ObjectStore
	if cfg.IsMinIOEnabled() {
		store, err := storage.NewMinIOStore(cfg)
		if err != nil {
			log.Error("failed to initialize storage service", "error", err)
			panic("failed to initialize storage service: " + err.Error())
		}
		archive = store
	}

	queue, err := scheduler.NewClient(cfg)
	if err != nil {
		log.Error("failed to initialize task queue client", "error", err)
		panic("failed to initialize task queue client: " + err.Error())
	}
	defer func() { _ = queue.Close() }()

	redisClient, err := scheduler.NewRedisClient(cfg)
	if err != nil {
		log.Error("failed to initialize redis client", "error", err)
		panic("failed to initialize redis client: " + err.Error())
	}
	defer func() { _ = redisClient.Close() }()

	text, err := generator.NewTextGenerator(ctx, cfg)
	if err != nil {
		log.Error("failed to initialize dossier text generator", "error", err)
		panic("failed to initialize dossier text generator: " + err.Error())
	}

	val := validator.New()

	// Worker-side wiring: the same modules as the API, without HTTP handlers.
	feedModule := feed.NewModule(pool, eventBus, archive, cfg, rec, val, log)
	deliveryModule, err := delivery.NewModule(pool, archive, redisClient, queue, cfg, rec, log)
	if err != nil {
		log.Error("failed to initialize delivery module", "error", err)
		panic("failed to initialize delivery module: " + err.Error())
	}
	handoverModule := handover.NewModule(pool, eventBus, text, deliveryModule.Gateway(), queue,
		deliveryModule.History(), cfg, rec, val, log)
	deliveryModule.SetStatusSink(handoverModule.Service())

	sweeper := scheduler.NewHandoverSweeper(handoverModule.Service(), log.WithComponent("sweeper"),
		cfg.GetHandoverSweepInterval(), cfg.GetHandoverStaleAfter())
	go sweeper.Run(ctx)

	if cfg.IsIMAPEnabled() {
		go mailbox.NewPoller(mailbox.Dial(cfg), queue, cfg, log.WithComponent("mailbox")).Run(ctx)
	}

	if dir := cfg.GetFeedSchemaDir(); dir != "" {
		go func() {
			if err := schema.NewWatcher(dir, feedModule.SchemaValidator(), log.WithComponent("schema")).Run(ctx); err != nil {
				log.Warn("schema watcher stopped", "error", err)
			}
		}()
	}

	worker, err := scheduler.NewWorker(cfg, scheduler.Processors{
		Feed:     feedModule.Service(),
		Handover: handoverModule.Service(),
		Delivery: deliveryModule.Reconciler(),
	}, log)
	if err != nil {
		log.Error("failed to initialize worker", "error", err)
		panic("failed to initialize worker: " + err.Error())
	}

	worker.Run(ctx)

	drainCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownDrainTimeout)
	defer cancel()
	if err := deliveryModule.Gateway().Wait(drainCtx); err != nil {
		log.Warn("dossier backups still in flight at shutdown", "error", err)
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
