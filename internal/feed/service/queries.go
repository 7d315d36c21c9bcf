package service

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"leadpipeline_backend/internal/feed/repository"
	"leadpipeline_backend/platform/apperr"
)

// LeadReader is the read side of the lead store.
type LeadReader interface {
	GetLead(ctx context.Context, id uuid.UUID) (repository.StoredLead, error)
	ListFailures(ctx context.Context, dealershipRef string, limit int) ([]repository.ParseFailure, error)
}

// Queries serves stored leads and the dead-letter list.
type Queries struct {
	reader LeadReader
}

// NewQueries creates the read service.
func NewQueries(reader LeadReader) *Queries {
	return &Queries{reader: reader}
}

func (q *Queries) GetLead(ctx context.Context, id uuid.UUID) (repository.StoredLead, error) {
	lead, err := q.reader.GetLead(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return repository.StoredLead{}, apperr.NotFound("lead not found").WithOp("feed.GetLead")
	}
	return lead, err
}

func (q *Queries) ListFailures(ctx context.Context, dealershipRef string, limit int) ([]repository.ParseFailure, error) {
	return q.reader.ListFailures(ctx, dealershipRef, limit)
}
