// Package delivery provides the email delivery bounded context module:
// the gateway that sends dossiers and the webhook that reconciles their
// provider delivery status.
package delivery

import (
	"context"
	"errors"
	"time"

	"leadpipeline_backend/internal/delivery/gateway"
	"leadpipeline_backend/internal/delivery/handler"
	"leadpipeline_backend/internal/delivery/provider"
	"leadpipeline_backend/internal/delivery/reconciler"
	"leadpipeline_backend/internal/delivery/repository"
	apphttp "leadpipeline_backend/internal/http"
	"leadpipeline_backend/platform/breaker"
	"leadpipeline_backend/platform/config"
	"leadpipeline_backend/platform/logger"
	"leadpipeline_backend/platform/metrics"
	"leadpipeline_backend/platform/storage"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

var errStatusSinkNotSet = errors.New("delivery: status sink not set")

// ModuleConfig combines the config interfaces the delivery module needs.
type ModuleConfig interface {
	config.EmailConfig
	config.BreakerConfig
	config.WebhookConfig
	config.MinIOConfig
}

// Module is the delivery bounded context module implementing http.Module.
type Module struct {
	gateway    *gateway.Gateway
	reconciler *reconciler.Reconciler
	repo       *repository.Repository
	webhooks   *handler.WebhookHandler
	sink       *statusSink
}

// NewModule wires the provider, both circuit breakers, the gateway and the
// webhook. archive and redisClient may be nil; the backup copy is then
// skipped and callback dedupe falls back to process memory.
func NewModule(
	pool *pgxpool.Pool,
	archive storage.ObjectStore,
	redisClient redis.UniversalClient,
	queue handler.Enqueuer,
	cfg ModuleConfig,
	rec *metrics.Recorder,
	log *logger.Logger,
) (*Module, error) {
	p, err := provider.New(cfg)
	if err != nil {
		return nil, err
	}

	onOpen := breaker.WithStateChange(func(name string, from, to breaker.State) {
		log.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		if to == breaker.StateOpen {
			rec.BreakerOpened(context.Background(), name)
		}
	})
	providerBreaker := breaker.New(breakerConfig(cfg, "email:"+p.Name()), onOpen)
	backupBreaker := breaker.New(breakerConfig(cfg, "storage:handover-backup"), onOpen)

	gw := gateway.New(p, providerBreaker, gateway.Backup{
		Store:   archive,
		Bucket:  cfg.GetMinioBucketHandoverBackups(),
		Breaker: backupBreaker,
	}, rec, log.WithComponent("delivery.gateway"))

	var dedupe reconciler.Deduper
	if redisClient != nil {
		dedupe = reconciler.NewRedisDeduper(redisClient, reconciler.DefaultDedupeTTL)
	} else {
		dedupe = reconciler.NewMemoryDeduper(reconciler.DefaultDedupeTTL)
	}

	repo := repository.New(pool)
	sink := &statusSink{}
	verifier := reconciler.NewVerifier(cfg.GetWebhookSigningSecret(), cfg.GetWebhookReplayWindow())
	rc := reconciler.New(verifier, dedupe, sink, repo, log.WithComponent("delivery.reconciler"))

	return &Module{
		gateway:    gw,
		reconciler: rc,
		repo:       repo,
		webhooks:   handler.NewWebhookHandler(rc, queue),
		sink:       sink,
	}, nil
}

func breakerConfig(cfg config.BreakerConfig, name string) breaker.Config {
	return breaker.Config{
		Name:                name,
		ErrorThreshold:      cfg.GetBreakerErrorThreshold(),
		MinSamples:          cfg.GetBreakerMinSamples(),
		Window:              cfg.GetBreakerWindow(),
		Cooldown:            cfg.GetBreakerCooldown(),
		ConsecutiveFailures: cfg.GetBreakerConsecutiveFailures(),
	}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "delivery"
}

// Gateway returns the email gateway used by the handover orchestrator.
func (m *Module) Gateway() *gateway.Gateway {
	return m.gateway
}

// Reconciler returns the callback reconciler for the background worker.
func (m *Module) Reconciler() *reconciler.Reconciler {
	return m.reconciler
}

// History returns the delivery event log for handover detail queries.
func (m *Module) History() *repository.Repository {
	return m.repo
}

// SetStatusSink connects the reconciler to the handover orchestrator, which
// is built after this module. Call it before serving traffic.
func (m *Module) SetStatusSink(sink reconciler.StatusSink) {
	m.sink.target = sink
}

// RegisterRoutes mounts the provider webhook.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	m.webhooks.RegisterRoutes(ctx.Webhooks)
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)

type statusSink struct {
	target reconciler.StatusSink
}

func (s *statusSink) MarkDelivered(ctx context.Context, providerMessageID string, at time.Time) error {
	if s.target == nil {
		return errStatusSinkNotSet
	}
	return s.target.MarkDelivered(ctx, providerMessageID, at)
}

func (s *statusSink) MarkDeliveryFailed(ctx context.Context, providerMessageID, reason string, at time.Time) error {
	if s.target == nil {
		return errStatusSinkNotSet
	}
	return s.target.MarkDeliveryFailed(ctx, providerMessageID, reason, at)
}
