package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"leadpipeline_backend/internal/delivery/domain"
)

// Repository stores applied delivery callbacks.
type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Record appends an audit row; a repeated (messageId, eventType) is ignored.
func (r *Repository) Record(ctx context.Context, ev domain.StatusEvent) error {
	occurred := ev.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now().UTC()
	}
	var reason *string
	if ev.Reason != "" {
		reason = &ev.Reason
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO delivery_events (
			id, provider, provider_message_id, event_type, outcome, reason, occurred_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (provider_message_id, event_type) DO NOTHING
	`, uuid.New(), ev.Provider, ev.ProviderMessageID, ev.EventType, string(ev.Kind), reason, occurred)
	if err != nil {
		return fmt.Errorf("insert delivery event: %w", err)
	}
	return nil
}

// EventRow is a stored delivery callback.
type EventRow struct {
	Provider   string
	EventType  string
	Outcome    string
	Reason     string
	OccurredAt time.Time
}

// ListByMessageID returns the callbacks recorded for a provider message, oldest first.
func (r *Repository) ListByMessageID(ctx context.Context, providerMessageID string) ([]EventRow, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT provider, event_type, outcome, COALESCE(reason, ''), occurred_at
		FROM delivery_events
		WHERE provider_message_id = $1
		ORDER BY occurred_at ASC
	`, providerMessageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]EventRow, 0)
	for rows.Next() {
		var e EventRow
		if err := rows.Scan(&e.Provider, &e.EventType, &e.Outcome, &e.Reason, &e.OccurredAt); err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return items, nil
}
