package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dossier "leadpipeline_backend/internal/dossier/domain"
	"leadpipeline_backend/internal/handover/domain"
)

func newRecord(ref string) domain.Record {
	return domain.Record{
		ID:              uuid.New(),
		ConversationRef: ref,
		Status:          domain.StatusPending,
		TargetInbox:     "sales@example.com",
		CreatedAt:       time.Now(),
	}
}

func TestMemoryStoreInsertIfAbsentIsAtomic(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
		ids     = map[uuid.UUID]struct{}{}
	)
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec, ok, err := store.InsertIfAbsent(ctx, newRecord("conv-1"))
			assert.NoError(t, err)
			mu.Lock()
			defer mu.Unlock()
			if ok {
				created++
			}
			ids[rec.ID] = struct{}{}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	assert.Len(t, ids, 1)
}

func TestMemoryStoreAllowsNewRecordAfterTerminal(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	first, created, err := store.InsertIfAbsent(ctx, newRecord("conv-2"))
	require.NoError(t, err)
	require.True(t, created)

	_, err = store.Transition(ctx, first.ID, []domain.Status{domain.StatusPending}, domain.StatusDossierGenerating, domain.Patch{At: time.Now()})
	require.NoError(t, err)
	_, err = store.Transition(ctx, first.ID, []domain.Status{domain.StatusDossierGenerating}, domain.StatusDossierFailed, domain.Patch{At: time.Now()})
	require.NoError(t, err)

	second, created, err := store.InsertIfAbsent(ctx, newRecord("conv-2"))
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestMemoryStoreTransitionIsCompareAndSet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	rec, _, err := store.InsertIfAbsent(ctx, newRecord("conv-3"))
	require.NoError(t, err)

	_, err = store.Transition(ctx, rec.ID, []domain.Status{domain.StatusEmailSent}, domain.StatusEmailDelivered, domain.Patch{At: time.Now()})
	assert.ErrorIs(t, err, domain.ErrStaleTransition)

	_, err = store.Transition(ctx, uuid.New(), []domain.Status{domain.StatusPending}, domain.StatusDossierGenerating, domain.Patch{})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMemoryStoreAttachDossierOnce(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	rec, _, err := store.InsertIfAbsent(ctx, newRecord("conv-4"))
	require.NoError(t, err)

	d := dossier.Dossier{CustomerName: "Ada", SLADeadline: time.Now().Add(time.Hour)}
	stored, err := store.AttachDossier(ctx, rec.ID, d, time.Now())
	require.NoError(t, err)
	require.NotNil(t, stored.Dossier)
	require.NotNil(t, stored.SLADeadline)

	_, err = store.AttachDossier(ctx, rec.ID, dossier.Dossier{CustomerName: "Other"}, time.Now())
	assert.ErrorIs(t, err, domain.ErrDossierAttached)

	stored.Dossier.CustomerName = "mutated"
	again, err := store.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ada", again.Dossier.CustomerName)
}

func TestClampPage(t *testing.T) {
	l, o := clampPage(0, -3)
	assert.Equal(t, DefaultListLimit, l)
	assert.Equal(t, 0, o)

	l, _ = clampPage(1000, 0)
	assert.Equal(t, MaxListLimit, l)
}

func TestMemoryStoreParkedCallbacks(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC)

	first := domain.DeliveryCallback{ProviderMessageID: "m1", Outcome: domain.CallbackDelivered, ReceivedAt: now}
	require.NoError(t, store.ParkCallback(ctx, first))
	// The first parked callback for a message wins.
	require.NoError(t, store.ParkCallback(ctx, domain.DeliveryCallback{
		ProviderMessageID: "m1", Outcome: domain.CallbackFailed, ReceivedAt: now.Add(time.Second),
	}))
	require.NoError(t, store.ParkCallback(ctx, domain.DeliveryCallback{
		ProviderMessageID: "m0", Outcome: domain.CallbackFailed, ReceivedAt: now.Add(-time.Minute),
	}))

	list, err := store.ListParkedCallbacks(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "m0", list[0].ProviderMessageID)

	got, ok, err := store.TakeCallback(ctx, "m1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, first, got)

	_, ok, err = store.TakeCallback(ctx, "m1")
	require.NoError(t, err)
	assert.False(t, ok)
}
