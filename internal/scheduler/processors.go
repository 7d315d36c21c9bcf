package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	feeddomain "leadpipeline_backend/internal/feed/domain"
	feedservice "leadpipeline_backend/internal/feed/service"
	handoverdomain "leadpipeline_backend/internal/handover/domain"
)

// Dispatcher hands units of work to a background executor.
type Dispatcher interface {
	EnqueueIngest(ctx context.Context, raw feeddomain.RawDocument) error
	EnqueueHandoverReady(ctx context.Context, ev handoverdomain.ReadyForHandover) error
	ScheduleDeliveryRetry(ctx context.Context, handoverID uuid.UUID, runAt time.Time) error
	EnqueueDeliveryStatus(ctx context.Context, provider string, body []byte) error
}

type FeedIngester interface {
	Ingest(ctx context.Context, raw feeddomain.RawDocument) (feedservice.Outcome, error)
}

type HandoverRunner interface {
	HandleReady(ctx context.Context, ev handoverdomain.ReadyForHandover) (handoverdomain.Record, bool, error)
	RetryDelivery(ctx context.Context, id uuid.UUID) (handoverdomain.Record, error)
}

type StatusReconciler interface {
	Reconcile(ctx context.Context, provider string, body []byte) error
}

// Processors executes dispatched work. Both the asynq worker and the
// in-process pool call into it.
type Processors struct {
	Feed     FeedIngester
	Handover HandoverRunner
	Delivery StatusReconciler
}

func (p Processors) ingest(ctx context.Context, payload IngestLeadPayload) error {
	if p.Feed == nil {
		return fmt.Errorf("%s: no feed processor", TaskIngestLead)
	}
	_, err := p.Feed.Ingest(ctx, payload.document())
	return err
}

func (p Processors) handoverReady(ctx context.Context, ev handoverdomain.ReadyForHandover) error {
	if p.Handover == nil {
		return fmt.Errorf("%s: no handover processor", TaskHandoverReady)
	}
	_, _, err := p.Handover.HandleReady(ctx, ev)
	return err
}

func (p Processors) deliveryRetry(ctx context.Context, payload DeliveryRetryPayload) error {
	if p.Handover == nil {
		return fmt.Errorf("%s: no handover processor", TaskDeliveryRetry)
	}
	id, err := uuid.Parse(payload.HandoverID)
	if err != nil {
		return fmt.Errorf("%s: %w", TaskDeliveryRetry, err)
	}
	_, err = p.Handover.RetryDelivery(ctx, id)
	return err
}

func (p Processors) deliveryStatus(ctx context.Context, payload DeliveryStatusPayload) error {
	if p.Delivery == nil {
		return fmt.Errorf("%s: no delivery processor", TaskDeliveryStatus)
	}
	return p.Delivery.Reconcile(ctx, payload.Provider, payload.Body)
}
