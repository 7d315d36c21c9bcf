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

	"leadpipeline_backend/internal/feed/domain"
)

var ErrNotFound = errors.New("lead not found")

// StoredLead is a persisted lead row.
type StoredLead struct {
	ID         uuid.UUID
	Lead       domain.ParsedLead
	ParserUsed domain.ParserUsed
	Warnings   []domain.Warning
	CreatedAt  time.Time
}

// ParseFailure is a persisted dead-letter row.
type ParseFailure struct {
	ID                uuid.UUID
	DealershipRef     string
	SourceProvider    string
	Code              string
	AttemptedFallback bool
	Errors            []domain.ValidationError
	RawPayloadRef     string
	CreatedAt         time.Time
}

// Repository stores parsed leads and parse failures in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// StoreLead inserts a lead. A repeated externalId for the same dealership
// returns domain.ErrDuplicateLead and leaves the existing row untouched.
func (r *Repository) StoreLead(ctx context.Context, lead domain.ParsedLead, parser domain.ParserUsed, warnings []domain.Warning) (uuid.UUID, error) {
	warningsJSON, err := json.Marshal(nonNil(warnings))
	if err != nil {
		return uuid.Nil, fmt.Errorf("marshal warnings: %w", err)
	}

	var vMake, vModel *string
	var year *int
	if v := lead.VehicleInterest; v != nil {
		vMake, vModel = optional(v.Make), optional(v.Model)
		if v.Year != 0 {
			year = &v.Year
		}
	}

	id := uuid.New()
	var storedID uuid.UUID
	err = r.pool.QueryRow(ctx, `
		INSERT INTO leads (
			id, external_id, dealership_ref, source_provider,
			customer_name, customer_email, customer_phone,
			vehicle_make, vehicle_model, vehicle_year,
			parser_used, warnings, raw_payload_ref
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (external_id, dealership_ref) DO NOTHING
		RETURNING id
	`, id, lead.ExternalID, lead.DealershipRef, lead.SourceProvider,
		lead.Customer.Name, optional(lead.Customer.Email), optional(lead.Customer.Phone),
		vMake, vModel, year,
		string(parser), warningsJSON, lead.RawPayloadRef,
	).Scan(&storedID)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, domain.ErrDuplicateLead
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert lead: %w", err)
	}
	return storedID, nil
}

// StoreFailure appends a dead-letter row for a document that could not be parsed.
func (r *Repository) StoreFailure(ctx context.Context, meta domain.DocumentMeta, result domain.ParseResult) (uuid.UUID, error) {
	errorsJSON, err := json.Marshal(nonNil(result.Errors()))
	if err != nil {
		return uuid.Nil, fmt.Errorf("marshal parse errors: %w", err)
	}

	id := uuid.New()
	_, err = r.pool.Exec(ctx, `
		INSERT INTO lead_parse_failures (
			id, dealership_ref, source_provider, failure_code,
			attempted_fallback, errors, raw_payload_ref
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, id, meta.DealershipRef, meta.SourceProvider, result.Code(),
		result.AttemptedFallback(), errorsJSON, meta.RawPayloadRef)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert parse failure: %w", err)
	}
	return id, nil
}

// GetLead returns a stored lead by id.
func (r *Repository) GetLead(ctx context.Context, id uuid.UUID) (StoredLead, error) {
	var (
		s            StoredLead
		email, phone *string
		vMake, vModel *string
		year         *int
		parser       string
		warnings     []byte
	)
	err := r.pool.QueryRow(ctx, `
		SELECT id, external_id, dealership_ref, source_provider,
			customer_name, customer_email, customer_phone,
			vehicle_make, vehicle_model, vehicle_year,
			parser_used, warnings, raw_payload_ref, created_at
		FROM leads
		WHERE id = $1
	`, id).Scan(&s.ID, &s.Lead.ExternalID, &s.Lead.DealershipRef, &s.Lead.SourceProvider,
		&s.Lead.Customer.Name, &email, &phone,
		&vMake, &vModel, &year,
		&parser, &warnings, &s.Lead.RawPayloadRef, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return StoredLead{}, ErrNotFound
	}
	if err != nil {
		return StoredLead{}, fmt.Errorf("get lead: %w", err)
	}

	s.Lead.Customer.Email = deref(email)
	s.Lead.Customer.Phone = deref(phone)
	if vMake != nil || vModel != nil || year != nil {
		v := domain.VehicleInterest{Make: deref(vMake), Model: deref(vModel)}
		if year != nil {
			v.Year = *year
		}
		s.Lead.VehicleInterest = &v
	}
	s.ParserUsed = domain.ParserUsed(parser)
	if err := json.Unmarshal(warnings, &s.Warnings); err != nil {
		return StoredLead{}, fmt.Errorf("decode warnings: %w", err)
	}
	return s, nil
}

// ListFailures returns the most recent parse failures, newest first.
func (r *Repository) ListFailures(ctx context.Context, dealershipRef string, limit int) ([]ParseFailure, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, dealership_ref, source_provider, failure_code,
			attempted_fallback, errors, raw_payload_ref, created_at
		FROM lead_parse_failures
		WHERE ($1 = '' OR dealership_ref = $1)
		ORDER BY created_at DESC
		LIMIT $2
	`, dealershipRef, limit)
	if err != nil {
		return nil, fmt.Errorf("list parse failures: %w", err)
	}
	defer rows.Close()

	items := make([]ParseFailure, 0)
	for rows.Next() {
		var f ParseFailure
		var errs []byte
		if err := rows.Scan(&f.ID, &f.DealershipRef, &f.SourceProvider, &f.Code,
			&f.AttemptedFallback, &errs, &f.RawPayloadRef, &f.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(errs, &f.Errors); err != nil {
			return nil, fmt.Errorf("decode parse errors: %w", err)
		}
		items = append(items, f)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return items, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
