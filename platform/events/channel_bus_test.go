package events

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"leadpipeline_backend/platform/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingEvent struct {
	BaseEvent
	N int
}

func (pingEvent) EventName() string { return "test.ping" }

func TestChannelBusDrainsQueuedEventsOnShutdown(t *testing.T) {
	bus := NewChannelBus(logger.Discard(), 8)
	var seen atomic.Int32
	bus.Subscribe("test.ping", HandlerFunc(func(_ context.Context, _ Event) error {
		seen.Add(1)
		return nil
	}))

	for i := 0; i < 5; i++ {
		bus.Publish(context.Background(), pingEvent{BaseEvent: NewBaseEvent(), N: i})
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	bus.Run(ctx, time.Second)

	assert.Equal(t, int32(5), seen.Load())
}

func TestChannelBusPublishSyncJoinsErrors(t *testing.T) {
	bus := NewChannelBus(logger.Discard(), 1)
	boom := errors.New("boom")
	bus.Subscribe("test.ping", HandlerFunc(func(context.Context, Event) error { return boom }))
	bus.Subscribe("test.ping", HandlerFunc(func(context.Context, Event) error { return nil }))

	err := bus.PublishSync(context.Background(), pingEvent{BaseEvent: NewBaseEvent()})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestChannelBusPublishGivesUpWhenContextDone(t *testing.T) {
	bus := NewChannelBus(logger.Discard(), 1)
	bus.Publish(context.Background(), pingEvent{})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		bus.Publish(ctx, pingEvent{})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked past context deadline")
	}
}

type keyedEvent struct {
	BaseEvent
}

func (keyedEvent) EventName() string { return "test.keyed" }
func (keyedEvent) SubjectID() string { return "lead-42" }

func TestBaseEventAndSubject(t *testing.T) {
	a, b := NewBaseEvent(), NewBaseEvent()
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, time.UTC, a.OccurredAt().Location())

	assert.Equal(t, "lead-42", subjectOf(keyedEvent{BaseEvent: a}))
	assert.Empty(t, subjectOf(pingEvent{BaseEvent: a}))
}
