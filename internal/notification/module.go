// Package notification turns handover and feed events into operator alerts
// and a live event stream. Domain modules publish events and never need to
// know who watches them.
package notification

import (
	"context"

	"leadpipeline_backend/internal/events"
	apphttp "leadpipeline_backend/internal/http"
	"leadpipeline_backend/internal/notification/sse"
	"leadpipeline_backend/platform/httpkit"
	"leadpipeline_backend/platform/logger"
)

// Module subscribes to domain events and implements http.Module for the stream.
type Module struct {
	hub *sse.Hub
	log *logger.Logger
}

func New(log *logger.Logger) *Module {
	log = log.WithComponent("notification")
	return &Module{hub: sse.New(log), log: log}
}

// RegisterHandlers subscribes the module to every event it reacts to.
func (m *Module) RegisterHandlers(bus events.Bus) {
	bus.Subscribe(events.HandoverCreated{}.EventName(), events.HandlerFunc(m.handleHandoverCreated))
	bus.Subscribe(events.HandoverStatusChanged{}.EventName(), events.HandlerFunc(m.handleStatusChanged))
	bus.Subscribe(events.HandoverNeedsAttention{}.EventName(), events.HandlerFunc(m.handleNeedsAttention))
	bus.Subscribe(events.LeadRejected{}.EventName(), events.HandlerFunc(m.handleLeadRejected))
}

func (m *Module) Name() string {
	return "notification"
}

// Hub returns the stream hub so shutdown can disconnect clients.
func (m *Module) Hub() *sse.Hub {
	return m.hub
}

func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	ctx.Internal.GET("/events/stream", m.hub.Handler(httpkit.CallingService))
}

func (m *Module) handleHandoverCreated(_ context.Context, event events.Event) error {
	e, ok := event.(events.HandoverCreated)
	if !ok {
		return nil
	}
	m.hub.Broadcast(sse.Event{Type: sse.EventHandoverCreated, Data: e})
	return nil
}

func (m *Module) handleStatusChanged(_ context.Context, event events.Event) error {
	e, ok := event.(events.HandoverStatusChanged)
	if !ok {
		return nil
	}
	m.hub.Broadcast(sse.Event{Type: sse.EventHandoverStatusChanged, Data: e})
	return nil
}

func (m *Module) handleNeedsAttention(ctx context.Context, event events.Event) error {
	e, ok := event.(events.HandoverNeedsAttention)
	if !ok {
		return nil
	}
	m.log.WithContext(ctx).Error("handover needs manual follow-up",
		"alert", true,
		"handoverId", e.HandoverID.String(),
		"conversationRef", e.ConversationRef,
		"status", e.Status,
		"reason", e.Reason,
	)
	m.hub.Broadcast(sse.Event{Type: sse.EventHandoverNeedsAttention, Data: e})
	return nil
}

func (m *Module) handleLeadRejected(ctx context.Context, event events.Event) error {
	e, ok := event.(events.LeadRejected)
	if !ok {
		return nil
	}
	m.log.WithContext(ctx).Warn("lead document rejected",
		"dealershipRef", e.DealershipRef,
		"code", e.Code,
		"attemptedFallback", e.AttemptedFallback,
		"rawPayloadRef", e.RawPayloadRef,
	)
	m.hub.Broadcast(sse.Event{Type: sse.EventLeadRejected, Data: e})
	return nil
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
