// Package handover provides the handover bounded context module: the
// orchestrator that turns a ready-for-handover signal into a delivered
// sales dossier, and its operator query API.
package handover

import (
	"leadpipeline_backend/internal/dossier/generator"
	"leadpipeline_backend/internal/events"
	"leadpipeline_backend/internal/handover/handler"
	"leadpipeline_backend/internal/handover/repository"
	"leadpipeline_backend/internal/handover/service"
	apphttp "leadpipeline_backend/internal/http"
	"leadpipeline_backend/platform/config"
	"leadpipeline_backend/platform/logger"
	"leadpipeline_backend/platform/metrics"
	"leadpipeline_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ModuleConfig combines the config interfaces the handover module needs.
type ModuleConfig interface {
	config.HandoverConfig
	config.DossierConfig
}

// Dispatcher schedules handover work in the background.
type Dispatcher interface {
	service.RetryScheduler
	handler.ReadyQueue
}

// Module is the handover bounded context module implementing http.Module.
type Module struct {
	handler *handler.Handler
	service *service.Service
}

// NewModule creates the orchestrator. text may be nil, in which case every
// dossier comes from the deterministic fallback.
func NewModule(
	pool *pgxpool.Pool,
	eventBus events.Bus,
	text generator.TextGenerator,
	sender service.Sender,
	dispatcher Dispatcher,
	history service.DeliveryHistory,
	cfg ModuleConfig,
	rec *metrics.Recorder,
	val *validator.Validator,
	log *logger.Logger,
) *Module {
	gen := generator.New(text, generator.Config{
		Timeout:             cfg.GetDossierTimeout(),
		HighUrgencyMessages: cfg.GetDossierHighUrgencyMessages(),
	}, rec, log.WithComponent("dossier.generator"))

	store := repository.New(pool)
	svc := service.New(store, gen, sender, dispatcher, eventBus, val, service.Config{
		EmailEnabled:   cfg.GetHandoverEmailEnabled(),
		TargetInbox:    cfg.GetHandoverTargetInbox(),
		RetryDelay:     cfg.GetDeliveryRetryDelay(),
		DossierTimeout: cfg.GetDossierTimeout(),
		SLAHigh:        cfg.GetSLAHigh(),
		SLAMedium:      cfg.GetSLAMedium(),
		SLALow:         cfg.GetSLALow(),
	}, log.WithComponent("handover"))

	return &Module{
		handler: handler.New(dispatcher, service.NewQueries(store, history), val),
		service: svc,
	}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "handover"
}

// Service returns the orchestrator for the worker, the sweeper and the
// delivery reconciler.
func (m *Module) Service() *service.Service {
	return m.service
}

// RegisterRoutes mounts handover routes on the internal API group.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	m.handler.RegisterRoutes(ctx.Internal.Group("/handovers"))
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
