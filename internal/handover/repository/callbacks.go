package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"

	"leadpipeline_backend/internal/handover/domain"
)

const callbackColumns = `provider_message_id, outcome, reason, occurred_at, received_at`

func (r *Repository) ParkCallback(ctx context.Context, cb domain.DeliveryCallback) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO early_delivery_callbacks (`+callbackColumns+`)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (provider_message_id) DO NOTHING
	`, cb.ProviderMessageID, string(cb.Outcome), cb.Reason, cb.OccurredAt, cb.ReceivedAt)
	if err != nil {
		return fmt.Errorf("park delivery callback: %w", err)
	}
	return nil
}

func (r *Repository) TakeCallback(ctx context.Context, providerMessageID string) (domain.DeliveryCallback, bool, error) {
	cb, err := scanCallback(r.pool.QueryRow(ctx, `
		DELETE FROM early_delivery_callbacks
		WHERE provider_message_id = $1
		RETURNING `+callbackColumns,
		providerMessageID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.DeliveryCallback{}, false, nil
	}
	if err != nil {
		return domain.DeliveryCallback{}, false, fmt.Errorf("take delivery callback: %w", err)
	}
	return cb, true, nil
}

func (r *Repository) ListParkedCallbacks(ctx context.Context, limit int) ([]domain.DeliveryCallback, error) {
	limit, _ = clampPage(limit, 0)

	rows, err := r.pool.Query(ctx, `
		SELECT `+callbackColumns+`
		FROM early_delivery_callbacks
		ORDER BY received_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list parked callbacks: %w", err)
	}
	defer rows.Close()

	out := make([]domain.DeliveryCallback, 0)
	for rows.Next() {
		cb, err := scanCallback(rows)
		if err != nil {
			return nil, fmt.Errorf("scan parked callback: %w", err)
		}
		out = append(out, cb)
	}
	return out, rows.Err()
}

func scanCallback(row pgx.Row) (domain.DeliveryCallback, error) {
	var (
		cb      domain.DeliveryCallback
		outcome string
	)
	if err := row.Scan(&cb.ProviderMessageID, &outcome, &cb.Reason, &cb.OccurredAt, &cb.ReceivedAt); err != nil {
		return domain.DeliveryCallback{}, err
	}
	cb.Outcome = domain.CallbackOutcome(outcome)
	return cb, nil
}

func (m *MemoryStore) ParkCallback(_ context.Context, cb domain.DeliveryCallback) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.parked[cb.ProviderMessageID]; !ok {
		m.parked[cb.ProviderMessageID] = cb
	}
	return nil
}

func (m *MemoryStore) TakeCallback(_ context.Context, providerMessageID string) (domain.DeliveryCallback, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cb, ok := m.parked[providerMessageID]
	if ok {
		delete(m.parked, providerMessageID)
	}
	return cb, ok, nil
}

func (m *MemoryStore) ListParkedCallbacks(_ context.Context, limit int) ([]domain.DeliveryCallback, error) {
	limit, _ = clampPage(limit, 0)

	m.mu.Lock()
	out := make([]domain.DeliveryCallback, 0, len(m.parked))
	for _, cb := range m.parked {
		out = append(out, cb)
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.Before(out[j].ReceivedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
