package workerpool

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

func TestPoolRunsSubmittedJobs(t *testing.T) {
	p := New(Config{Workers: 3, QueueSize: 10, Drain: time.Second}, logger.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		_ = p.Run(ctx)
		close(stopped)
	}()

	var ran atomic.Int32
	done := make(chan struct{}, 10)
	for i := 0; i < 10; i++ {
		require.NoError(t, p.Submit(context.Background(), "count", func(context.Context) error {
			ran.Add(1)
			done <- struct{}{}
			return nil
		}))
	}
	for i := 0; i < 10; i++ {
		<-done
	}
	cancel()
	<-stopped

	assert.Equal(t, int32(10), ran.Load())
	assert.ErrorIs(t, p.Submit(context.Background(), "late", func(context.Context) error { return nil }), ErrClosed)
}

func TestPoolDrainsQueueOnShutdown(t *testing.T) {
	p := New(Config{Workers: 1, QueueSize: 5, Drain: time.Second}, logger.Discard())
	var ran atomic.Int32
	for i := 0; i < 5; i++ {
		require.NoError(t, p.Submit(context.Background(), "queued", func(context.Context) error {
			ran.Add(1)
			return nil
		}))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, p.Run(ctx))

	assert.Equal(t, int32(5), ran.Load())
}

func TestPoolCancelsJobsAfterDrainPeriod(t *testing.T) {
	p := New(Config{Workers: 1, QueueSize: 1, Drain: 20 * time.Millisecond}, logger.Discard())
	started := make(chan struct{})
	var sawCancel atomic.Bool
	require.NoError(t, p.Submit(context.Background(), "slow", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		sawCancel.Store(errors.Is(ctx.Err(), context.Canceled))
		return ctx.Err()
	}))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	finished := make(chan struct{})
	go func() {
		_ = p.Run(ctx)
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("pool did not stop after drain period")
	}
	assert.True(t, sawCancel.Load())
}

func TestSubmitAfterDelays(t *testing.T) {
	p := New(Config{Workers: 1, Drain: time.Second}, logger.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = p.Run(ctx) }()

	start := time.Now()
	done := make(chan time.Time, 1)
	require.NoError(t, p.SubmitAfter(30*time.Millisecond, "later", func(context.Context) error {
		done <- time.Now()
		return nil
	}))

	select {
	case at := <-done:
		assert.GreaterOrEqual(t, at.Sub(start), 30*time.Millisecond)
	case <-time.After(2 * time.Second):
		t.Fatal("delayed job never ran")
	}
}
