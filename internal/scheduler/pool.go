package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	feeddomain "leadpipeline_backend/internal/feed/domain"
	handoverdomain "leadpipeline_backend/internal/handover/domain"
	"leadpipeline_backend/platform/workerpool"
)

// ErrNotBound is returned when work is dispatched before Bind.
var ErrNotBound = errors.New("scheduler: processors not bound")

// PoolDispatcher runs dispatched work on an in-process worker pool. It is
// used when no Redis is configured; delayed retries do not survive a
// restart and are picked up by the handover sweeper instead.
type PoolDispatcher struct {
	pool  *workerpool.Pool
	procs atomic.Pointer[Processors]
	now   func() time.Time
}

var _ Dispatcher = (*PoolDispatcher)(nil)

func NewPoolDispatcher(pool *workerpool.Pool) *PoolDispatcher {
	return &PoolDispatcher{pool: pool, now: time.Now}
}

// Bind sets the processors. The handover service depends on the dispatcher
// for retries, so processors are attached after construction.
func (d *PoolDispatcher) Bind(procs Processors) {
	d.procs.Store(&procs)
}

func (d *PoolDispatcher) processors() (Processors, error) {
	p := d.procs.Load()
	if p == nil {
		return Processors{}, ErrNotBound
	}
	return *p, nil
}

func (d *PoolDispatcher) EnqueueIngest(ctx context.Context, raw feeddomain.RawDocument) error {
	procs, err := d.processors()
	if err != nil {
		return err
	}
	payload := ingestPayloadFrom(raw)
	return d.pool.Submit(ctx, TaskIngestLead, func(ctx context.Context) error {
		return procs.ingest(ctx, payload)
	})
}

func (d *PoolDispatcher) EnqueueHandoverReady(ctx context.Context, ev handoverdomain.ReadyForHandover) error {
	procs, err := d.processors()
	if err != nil {
		return err
	}
	return d.pool.Submit(ctx, TaskHandoverReady, func(ctx context.Context) error {
		return procs.handoverReady(ctx, ev)
	})
}

func (d *PoolDispatcher) ScheduleDeliveryRetry(_ context.Context, handoverID uuid.UUID, runAt time.Time) error {
	procs, err := d.processors()
	if err != nil {
		return err
	}
	payload := DeliveryRetryPayload{HandoverID: handoverID.String()}
	delay := max(runAt.Sub(d.now()), 0)
	return d.pool.SubmitAfter(delay, TaskDeliveryRetry, func(ctx context.Context) error {
		return procs.deliveryRetry(ctx, payload)
	})
}

func (d *PoolDispatcher) EnqueueDeliveryStatus(ctx context.Context, provider string, body []byte) error {
	procs, err := d.processors()
	if err != nil {
		return err
	}
	payload := DeliveryStatusPayload{Provider: provider, Body: append([]byte(nil), body...)}
	return d.pool.Submit(ctx, TaskDeliveryStatus, func(ctx context.Context) error {
		return procs.deliveryStatus(ctx, payload)
	})
}
