// Package feed provides the lead feed bounded context module.
package feed

import (
	"leadpipeline_backend/internal/events"
	"leadpipeline_backend/internal/feed/handler"
	"leadpipeline_backend/internal/feed/parser"
	"leadpipeline_backend/internal/feed/repository"
	"leadpipeline_backend/internal/feed/schema"
	"leadpipeline_backend/internal/feed/service"
	apphttp "leadpipeline_backend/internal/http"
	"leadpipeline_backend/platform/config"
	"leadpipeline_backend/platform/logger"
	"leadpipeline_backend/platform/metrics"
	"leadpipeline_backend/platform/storage"
	"leadpipeline_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Module is the lead feed bounded context module implementing http.Module.
type Module struct {
	handler   *handler.Handler
	service   *service.Service
	validator *schema.Validator
	parser    *parser.Parser
}

// ModuleConfig combines the config interfaces the feed module needs.
type ModuleConfig interface {
	config.FeedConfig
	config.MinIOConfig
}

// NewModule creates and initializes the feed module with all its dependencies.
// archive may be nil when object storage is disabled.
func NewModule(
	pool *pgxpool.Pool,
	eventBus events.Bus,
	archive storage.ObjectStore,
	cfg ModuleConfig,
	rec *metrics.Recorder,
	val *validator.Validator,
	log *logger.Logger,
) *Module {
	schemaValidator := schema.NewValidator(schema.NewCache(schema.NewSource(cfg.GetFeedSchemaDir())))
	p := parser.New(schemaValidator, parser.Config{
		DefaultVersion: cfg.GetFeedSchemaVersion(),
		StrictMode:     cfg.GetFeedStrictMode(),
		PhoneRegion:    cfg.GetFeedPhoneRegion(),
	}, rec, log.WithComponent("feed.parser"))

	repo := repository.New(pool)
	svc := service.New(p, repo, repo, eventBus, archive, cfg.GetMinioBucketRawFeeds(), log.WithComponent("feed"))
	h := handler.New(svc, service.NewQueries(repo), val)

	return &Module{handler: h, service: svc, validator: schemaValidator, parser: p}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "feed"
}

// Service returns the ingestion service for the worker and the mailbox poller.
func (m *Module) Service() *service.Service {
	return m.service
}

// SchemaValidator returns the validator so the schema watcher can clear its cache.
func (m *Module) SchemaValidator() *schema.Validator {
	return m.validator
}

// RegisterRoutes mounts feed routes on the provided router context.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	m.handler.RegisterRoutes(ctx.Internal.Group("/leads"))
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
