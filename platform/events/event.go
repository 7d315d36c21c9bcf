// Package events holds the in-process event contract and the channel bus
// that fans lead and handover events out to subscribers.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event is implemented by every published event.
type Event interface {
	EventName() string
	OccurredAt() time.Time
}

// Subject is optionally implemented by events that concern one aggregate.
// The bus logs the subject when a handler fails.
type Subject interface {
	SubjectID() string
}

// BaseEvent carries an event id and the time it was raised.
type BaseEvent struct {
	ID        uuid.UUID `json:"eventId"`
	Timestamp time.Time `json:"timestamp"`
}

func (e BaseEvent) OccurredAt() time.Time { return e.Timestamp }

// NewBaseEvent stamps a fresh id and the current UTC time.
func NewBaseEvent() BaseEvent {
	return BaseEvent{ID: uuid.New(), Timestamp: time.Now().UTC()}
}

type Handler interface {
	Handle(ctx context.Context, event Event) error
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(ctx context.Context, event Event) error

func (f HandlerFunc) Handle(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Bus publishes events to handlers subscribed by event name.
type Bus interface {
	// Publish queues event for asynchronous delivery. It blocks while the
	// queue is full, until ctx is done.
	Publish(ctx context.Context, event Event)

	// PublishSync runs every handler inline and joins their errors.
	PublishSync(ctx context.Context, event Event) error

	Subscribe(eventName string, handler Handler)
}

func subjectOf(event Event) string {
	if s, ok := event.(Subject); ok {
		return s.SubjectID()
	}
	return ""
}
