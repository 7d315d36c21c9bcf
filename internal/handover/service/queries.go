package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	deliveryrepo "leadpipeline_backend/internal/delivery/repository"
	"leadpipeline_backend/internal/handover/domain"
	"leadpipeline_backend/internal/handover/repository"
	"leadpipeline_backend/platform/apperr"
)

// DeliveryHistory lists recorded provider callbacks for a message.
type DeliveryHistory interface {
	ListByMessageID(ctx context.Context, providerMessageID string) ([]deliveryrepo.EventRow, error)
}

// Detail is a handover record together with its delivery callbacks.
type Detail struct {
	Record         domain.Record
	DeliveryEvents []deliveryrepo.EventRow
}

// Queries serves the operator read side.
type Queries struct {
	store   repository.Store
	history DeliveryHistory
}

// NewQueries creates the read service. history may be nil.
func NewQueries(store repository.Store, history DeliveryHistory) *Queries {
	return &Queries{store: store, history: history}
}

func (q *Queries) Get(ctx context.Context, id uuid.UUID) (Detail, error) {
	rec, err := q.store.Get(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return Detail{}, apperr.NotFound("handover not found").WithOp("handover.Get")
	}
	if err != nil {
		return Detail{}, err
	}

	detail := Detail{Record: rec, DeliveryEvents: []deliveryrepo.EventRow{}}
	if q.history == nil || rec.ProviderMessageID == "" {
		return detail, nil
	}
	events, err := q.history.ListByMessageID(ctx, rec.ProviderMessageID)
	if err != nil {
		return Detail{}, fmt.Errorf("list delivery events: %w", err)
	}
	detail.DeliveryEvents = events
	return detail, nil
}

func (q *Queries) List(ctx context.Context, status domain.Status, limit, offset int) ([]domain.Record, error) {
	if status != "" && !status.Valid() {
		return nil, apperr.Validation("unknown handover status").WithOp("handover.List")
	}
	return q.store.List(ctx, status, limit, offset)
}
