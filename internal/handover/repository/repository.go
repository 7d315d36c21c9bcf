// Package repository persists handover records.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	dossier "leadpipeline_backend/internal/dossier/domain"
	"leadpipeline_backend/internal/handover/domain"
)

// Store is the persistence contract the orchestrator depends on.
type Store interface {
	// InsertIfAbsent creates rec unless the conversation already has an
	// in-flight record, in which case that record is returned with created=false.
	InsertIfAbsent(ctx context.Context, rec domain.Record) (stored domain.Record, created bool, err error)
	Get(ctx context.Context, id uuid.UUID) (domain.Record, error)
	FindByProviderMessageID(ctx context.Context, providerMessageID string) (domain.Record, error)
	// AttachDossier stores the dossier once. A second call returns domain.ErrDossierAttached.
	AttachDossier(ctx context.Context, id uuid.UUID, d dossier.Dossier, at time.Time) (domain.Record, error)
	// Transition moves the record to `to` only if its current status is in
	// from. Otherwise it returns domain.ErrStaleTransition.
	Transition(ctx context.Context, id uuid.UUID, from []domain.Status, to domain.Status, patch domain.Patch) (domain.Record, error)
	List(ctx context.Context, status domain.Status, limit, offset int) ([]domain.Record, error)
	// ListStale returns records in status last updated before `before`, oldest first.
	ListStale(ctx context.Context, status domain.Status, before time.Time, limit int) ([]domain.Record, error)

	// ParkCallback keeps a callback whose message id is not recorded yet.
	// The first parked callback for a message id wins.
	ParkCallback(ctx context.Context, cb domain.DeliveryCallback) error
	// TakeCallback removes and returns the parked callback for a message id.
	TakeCallback(ctx context.Context, providerMessageID string) (domain.DeliveryCallback, bool, error)
	// ListParkedCallbacks returns parked callbacks, oldest first.
	ListParkedCallbacks(ctx context.Context, limit int) ([]domain.DeliveryCallback, error)
}

const (
	DefaultListLimit = 50
	MaxListLimit     = 200
	insertAttempts   = 3
)

const recordColumns = `
	id, conversation_ref, status, dossier, target_inbox, provider_message_id,
	delivery_attempts, failure_reason, created_at, updated_at,
	email_sent_at, email_delivered_at, email_failed_at, sla_deadline`

// Repository is the PostgreSQL Store.
type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) InsertIfAbsent(ctx context.Context, rec domain.Record) (domain.Record, bool, error) {
	inFlight := statusStrings(domain.InFlightStatuses)

	// The existing in-flight record can finish between the conflicting
	// insert and the lookup, so retry the pair a few times.
	for range insertAttempts {
		row := r.pool.QueryRow(ctx, `
			INSERT INTO handover_records (
				id, conversation_ref, status, target_inbox, created_at, updated_at, sla_deadline
			)
			VALUES ($1, $2, $3, $4, $5, $5, $6)
			ON CONFLICT (conversation_ref)
				WHERE status IN ('pending', 'dossier_generating', 'delivery_retry_pending')
				DO NOTHING
			RETURNING `+recordColumns,
			rec.ID, rec.ConversationRef, string(rec.Status), rec.TargetInbox, rec.CreatedAt, rec.SLADeadline,
		)
		stored, err := scanRecord(row)
		if err == nil {
			return stored, true, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return domain.Record{}, false, fmt.Errorf("insert handover: %w", err)
		}

		existing, err := scanRecord(r.pool.QueryRow(ctx, `
			SELECT `+recordColumns+`
			FROM handover_records
			WHERE conversation_ref = $1 AND status = ANY($2)
		`, rec.ConversationRef, inFlight))
		if err == nil {
			return existing, false, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return domain.Record{}, false, fmt.Errorf("load in-flight handover: %w", err)
		}
	}
	return domain.Record{}, false, domain.ErrHandoverInFlight
}

func (r *Repository) Get(ctx context.Context, id uuid.UUID) (domain.Record, error) {
	return scanRecord(r.pool.QueryRow(ctx, `
		SELECT `+recordColumns+` FROM handover_records WHERE id = $1
	`, id))
}

func (r *Repository) FindByProviderMessageID(ctx context.Context, providerMessageID string) (domain.Record, error) {
	return scanRecord(r.pool.QueryRow(ctx, `
		SELECT `+recordColumns+`
		FROM handover_records
		WHERE provider_message_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, providerMessageID))
}

func (r *Repository) AttachDossier(ctx context.Context, id uuid.UUID, d dossier.Dossier, at time.Time) (domain.Record, error) {
	payload, err := json.Marshal(d)
	if err != nil {
		return domain.Record{}, fmt.Errorf("marshal dossier: %w", err)
	}

	rec, err := scanRecord(r.pool.QueryRow(ctx, `
		UPDATE handover_records
		SET dossier = $2, sla_deadline = $3, updated_at = $4
		WHERE id = $1 AND dossier IS NULL
		RETURNING `+recordColumns,
		id, payload, d.SLADeadline, at,
	))
	if errors.Is(err, domain.ErrNotFound) {
		if _, getErr := r.Get(ctx, id); getErr != nil {
			return domain.Record{}, getErr
		}
		return domain.Record{}, domain.ErrDossierAttached
	}
	return rec, err
}

func (r *Repository) Transition(ctx context.Context, id uuid.UUID, from []domain.Status, to domain.Status, patch domain.Patch) (domain.Record, error) {
	increment := 0
	if patch.IncrementAttempts {
		increment = 1
	}

	rec, err := scanRecord(r.pool.QueryRow(ctx, `
		UPDATE handover_records
		SET status = $3,
			provider_message_id = COALESCE($4, provider_message_id),
			failure_reason = COALESCE($5, failure_reason),
			delivery_attempts = delivery_attempts + $6,
			email_sent_at = COALESCE($7, email_sent_at),
			email_delivered_at = COALESCE($8, email_delivered_at),
			email_failed_at = COALESCE($9, email_failed_at),
			updated_at = $10
		WHERE id = $1 AND status = ANY($2)
		RETURNING `+recordColumns,
		id, statusStrings(from), string(to),
		patch.ProviderMessageID, patch.FailureReason, increment,
		patch.EmailSentAt, patch.EmailDeliveredAt, patch.EmailFailedAt, patch.At,
	))
	if errors.Is(err, domain.ErrNotFound) {
		if _, getErr := r.Get(ctx, id); getErr != nil {
			return domain.Record{}, getErr
		}
		return domain.Record{}, domain.ErrStaleTransition
	}
	return rec, err
}

func (r *Repository) List(ctx context.Context, status domain.Status, limit, offset int) ([]domain.Record, error) {
	limit, offset = clampPage(limit, offset)

	var filter *string
	if status != "" {
		s := string(status)
		filter = &s
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+recordColumns+`
		FROM handover_records
		WHERE ($1::text IS NULL OR status = $1)
		ORDER BY updated_at DESC
		LIMIT $2 OFFSET $3
	`, filter, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list handovers: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Record, 0, limit)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *Repository) ListStale(ctx context.Context, status domain.Status, before time.Time, limit int) ([]domain.Record, error) {
	limit, _ = clampPage(limit, 0)

	rows, err := r.pool.Query(ctx, `
		SELECT `+recordColumns+`
		FROM handover_records
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at ASC
		LIMIT $3
	`, string(status), before, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale handovers: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanRecord(row pgx.Row) (domain.Record, error) {
	var (
		rec               domain.Record
		status            string
		dossierJSON       []byte
		providerMessageID *string
		failureReason     *string
	)
	err := row.Scan(
		&rec.ID, &rec.ConversationRef, &status, &dossierJSON, &rec.TargetInbox, &providerMessageID,
		&rec.DeliveryAttempts, &failureReason, &rec.CreatedAt, &rec.UpdatedAt,
		&rec.EmailSentAt, &rec.EmailDeliveredAt, &rec.EmailFailedAt, &rec.SLADeadline,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Record{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Record{}, fmt.Errorf("scan handover: %w", err)
	}

	rec.Status = domain.Status(status)
	if providerMessageID != nil {
		rec.ProviderMessageID = *providerMessageID
	}
	if failureReason != nil {
		rec.FailureReason = *failureReason
	}
	if len(dossierJSON) > 0 {
		var d dossier.Dossier
		if err := json.Unmarshal(dossierJSON, &d); err != nil {
			return domain.Record{}, fmt.Errorf("decode dossier: %w", err)
		}
		rec.Dossier = &d
	}
	return rec, nil
}

func statusStrings(statuses []domain.Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
