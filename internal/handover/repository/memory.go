package repository

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	dossier "leadpipeline_backend/internal/dossier/domain"
	"leadpipeline_backend/internal/handover/domain"
)

// MemoryStore is an in-process Store with the same atomicity guarantees as
// the SQL one. It backs tests and the single-binary dev mode.
type MemoryStore struct {
	mu      sync.Mutex
	records map[uuid.UUID]domain.Record
	parked  map[string]domain.DeliveryCallback
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[uuid.UUID]domain.Record),
		parked:  make(map[string]domain.DeliveryCallback),
	}
}

func (m *MemoryStore) InsertIfAbsent(_ context.Context, rec domain.Record) (domain.Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.records {
		if existing.ConversationRef == rec.ConversationRef && existing.Status.InFlight() {
			return clone(existing), false, nil
		}
	}
	rec.UpdatedAt = rec.CreatedAt
	m.records[rec.ID] = clone(rec)
	return clone(rec), true, nil
}

func (m *MemoryStore) Get(_ context.Context, id uuid.UUID) (domain.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok {
		return domain.Record{}, domain.ErrNotFound
	}
	return clone(rec), nil
}

func (m *MemoryStore) FindByProviderMessageID(_ context.Context, providerMessageID string) (domain.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var (
		found domain.Record
		ok    bool
	)
	for _, rec := range m.records {
		if rec.ProviderMessageID != providerMessageID {
			continue
		}
		if !ok || rec.CreatedAt.After(found.CreatedAt) {
			found, ok = rec, true
		}
	}
	if !ok {
		return domain.Record{}, domain.ErrNotFound
	}
	return clone(found), nil
}

func (m *MemoryStore) AttachDossier(_ context.Context, id uuid.UUID, d dossier.Dossier, at time.Time) (domain.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok {
		return domain.Record{}, domain.ErrNotFound
	}
	if rec.Dossier != nil {
		return domain.Record{}, domain.ErrDossierAttached
	}
	rec.Dossier = &d
	sla := d.SLADeadline
	rec.SLADeadline = &sla
	rec.UpdatedAt = at
	m.records[id] = rec
	return clone(rec), nil
}

func (m *MemoryStore) Transition(_ context.Context, id uuid.UUID, from []domain.Status, to domain.Status, patch domain.Patch) (domain.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok {
		return domain.Record{}, domain.ErrNotFound
	}
	if !slices.Contains(from, rec.Status) {
		return domain.Record{}, domain.ErrStaleTransition
	}
	patch.Apply(&rec, to)
	m.records[id] = rec
	return clone(rec), nil
}

func (m *MemoryStore) List(_ context.Context, status domain.Status, limit, offset int) ([]domain.Record, error) {
	limit, offset = clampPage(limit, offset)

	m.mu.Lock()
	out := make([]domain.Record, 0, len(m.records))
	for _, rec := range m.records {
		if status == "" || rec.Status == status {
			out = append(out, clone(rec))
		}
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if offset >= len(out) {
		return []domain.Record{}, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) ListStale(_ context.Context, status domain.Status, before time.Time, limit int) ([]domain.Record, error) {
	limit, _ = clampPage(limit, 0)

	m.mu.Lock()
	out := make([]domain.Record, 0)
	for _, rec := range m.records {
		if rec.Status == status && rec.UpdatedAt.Before(before) {
			out = append(out, clone(rec))
		}
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// clone detaches the dossier pointer so callers cannot mutate stored state.
func clone(rec domain.Record) domain.Record {
	if rec.Dossier != nil {
		d := *rec.Dossier
		rec.Dossier = &d
	}
	return rec
}
