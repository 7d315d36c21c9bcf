package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"leadpipeline_backend/platform/logger"
)

const defaultQueueSize = 256

type envelope struct {
	ctx   context.Context
	event Event
}

// ChannelBus delivers events through a bounded queue drained by Run.
// Publishers block when the queue is full, which makes back-pressure visible
// instead of spawning unbounded goroutines.
type ChannelBus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	queue    chan envelope
	log      *logger.Logger
}

// NewChannelBus creates a bus with the given queue capacity (<=0 uses a default).
func NewChannelBus(log *logger.Logger, capacity int) *ChannelBus {
	if capacity <= 0 {
		capacity = defaultQueueSize
	}
	return &ChannelBus{
		handlers: make(map[string][]Handler),
		queue:    make(chan envelope, capacity),
		log:      log,
	}
}

// Subscribe registers a handler for eventName.
func (b *ChannelBus) Subscribe(eventName string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventName] = append(b.handlers[eventName], handler)
}

// Publish queues event for Run to dispatch.
func (b *ChannelBus) Publish(ctx context.Context, event Event) {
	select {
	case b.queue <- envelope{ctx: context.WithoutCancel(ctx), event: event}:
	case <-ctx.Done():
		b.log.Warn("event dropped: publisher context done", "event", event.EventName())
	}
}

// PublishSync runs every handler for event inline and joins their errors.
func (b *ChannelBus) PublishSync(ctx context.Context, event Event) error {
	var errs []error
	for _, h := range b.snapshot(event.EventName()) {
		if err := h.Handle(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", event.EventName(), err))
		}
	}
	return errors.Join(errs...)
}

// Run dispatches queued events until ctx is cancelled, then drains what is
// already queued for at most drain before returning.
func (b *ChannelBus) Run(ctx context.Context, drain time.Duration) {
	for {
		select {
		case env := <-b.queue:
			b.dispatch(env)
		case <-ctx.Done():
			b.drain(drain)
			return
		}
	}
}

func (b *ChannelBus) drain(limit time.Duration) {
	deadline := time.NewTimer(limit)
	defer deadline.Stop()
	for {
		select {
		case env := <-b.queue:
			b.dispatch(env)
		case <-deadline.C:
			if n := len(b.queue); n > 0 {
				b.log.Warn("event bus drain timed out", "remaining", n)
			}
			return
		default:
			return
		}
	}
}

func (b *ChannelBus) dispatch(env envelope) {
	for _, h := range b.snapshot(env.event.EventName()) {
		if err := h.Handle(env.ctx, env.event); err != nil {
			b.log.Error("event handler failed",
				"event", env.event.EventName(),
				"subject", subjectOf(env.event),
				"error", err)
		}
	}
}

func (b *ChannelBus) snapshot(name string) []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()
	hs := b.handlers[name]
	out := make([]Handler, len(hs))
	copy(out, hs)
	return out
}

var _ Bus = (*ChannelBus)(nil)
