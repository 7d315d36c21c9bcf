// Package events re-exports the platform event bus for convenience.
// This allows internal modules to import events from internal/events
// while the implementation lives in platform/events.
package events

import (
	platformevents "leadpipeline_backend/platform/events"
	"leadpipeline_backend/platform/logger"
)

// ChannelBus is a type alias to the platform ChannelBus.
type ChannelBus = platformevents.ChannelBus

// NewChannelBus creates a bounded, channel-backed event bus.
func NewChannelBus(log *logger.Logger, capacity int) *ChannelBus {
	return platformevents.NewChannelBus(log, capacity)
}
