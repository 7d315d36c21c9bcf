// Package sse provides Server-Sent Events support for live handover updates.
package sse

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"

	"leadpipeline_backend/platform/logger"
)

// EventType represents different types of SSE events
type EventType string

const (
	EventHandoverCreated        EventType = "handover_created"
	EventHandoverStatusChanged  EventType = "handover_status_changed"
	EventHandoverNeedsAttention EventType = "handover_needs_attention"
	EventLeadRejected           EventType = "lead_rejected"
)

const clientBuffer = 32

// Event represents an SSE event payload
type Event struct {
	Type EventType `json:"type"`
	Data any       `json:"data,omitempty"`
}

type client struct {
	service string
	events  chan Event
}

// Hub fans events out to every connected operator stream.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
	log     *logger.Logger
}

func New(log *logger.Logger) *Hub {
	return &Hub{
		clients: make(map[*client]struct{}),
		log:     log,
	}
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.events)
}

// Clients returns the number of connected streams.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends event to every client. A slow client loses the event
// rather than stalling the publisher.
func (h *Hub) Broadcast(event Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		select {
		case c.events <- event:
		default:
			h.log.Warn("sse buffer full, event dropped", "event", string(event.Type), "service", c.service)
		}
	}
}

// Handler streams events to the caller until it disconnects. caller names the
// connected party for logging.
func (h *Hub) Handler(caller func(*gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Content-Type", "text/event-stream")
		c.Writer.Header().Set("Cache-Control", "no-cache")
		c.Writer.Header().Set("Connection", "keep-alive")
		c.Writer.Header().Set("X-Accel-Buffering", "no")

		cl := &client{service: caller(c), events: make(chan Event, clientBuffer)}
		h.add(cl)
		defer h.remove(cl)

		c.Status(http.StatusOK)
		c.SSEvent("connected", gin.H{"service": cl.service})
		c.Writer.Flush()
		h.log.Debug("sse client connected", "service", cl.service)

		clientGone := c.Request.Context().Done()
		for {
			select {
			case <-clientGone:
				h.log.Debug("sse client disconnected", "service", cl.service)
				return
			case event, ok := <-cl.events:
				if !ok {
					return
				}
				data, err := json.Marshal(event)
				if err != nil {
					h.log.Warn("sse encode failed", "event", string(event.Type), "error", err)
					continue
				}
				c.SSEvent(string(event.Type), string(data))
				c.Writer.Flush()
			}
		}
	}
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		close(c.events)
		delete(h.clients, c)
	}
}
