package gateway

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadpipeline_backend/internal/delivery/domain"
	dossier "leadpipeline_backend/internal/dossier/domain"
	"leadpipeline_backend/platform/breaker"
	"leadpipeline_backend/platform/logger"
	"leadpipeline_backend/platform/metrics"
)

type fakeProvider struct {
	calls atomic.Int32
	err   error
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) Send(_ context.Context, email domain.Email) (string, error) {
	p.calls.Add(1)
	if p.err != nil {
		return "", p.err
	}
	return "msg-" + email.Reference, nil
}

type fakeStore struct {
	mu   sync.Mutex
	keys []string
	err  error
}

func (s *fakeStore) Put(_ context.Context, _, folder, name, _ string, _ []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	s.keys = append(s.keys, folder+"/"+name)
	return folder + "/" + name, nil
}

func (s *fakeStore) Get(context.Context, string, string) ([]byte, error) { return nil, nil }
func (s *fakeStore) EnsureBucket(context.Context, string) error          { return nil }

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testDossier() dossier.Dossier {
	return dossier.Dossier{
		CustomerName:        "Jane Doe",
		ConversationSummary: "Wants a Civic.",
		SuggestedApproach:   "Call.",
		Urgency:             dossier.UrgencyHigh,
		LeadScore:           70,
		GeneratedAt:         time.Unix(0, 0),
		Source:              dossier.SourceFallback,
	}
}

func newBreaker(c *clock) *breaker.Breaker {
	return breaker.New(breaker.Config{Name: "email", ConsecutiveFailures: 5, Cooldown: 30 * time.Second}, breaker.WithClock(c.Now))
}

func TestSendAcceptedReturnsMessageID(t *testing.T) {
	p := &fakeProvider{}
	store := &fakeStore{}
	c := &clock{now: time.Unix(1000, 0)}
	g := New(p, newBreaker(c), Backup{Store: store, Bucket: "backups", Breaker: newBreaker(c)}, metrics.Noop(), logger.Discard())

	out, err := g.Send(context.Background(), testDossier(), "sales@dealer.example", WithReference("h-1"))
	require.NoError(t, err)
	assert.True(t, out.Accepted())
	assert.Equal(t, "msg-h-1", out.ProviderMessageID)

	require.NoError(t, g.Wait(context.Background()))
	assert.Equal(t, []string{"handovers/h-1.json"}, store.keys)
}

func TestSendFailsFastWhileCircuitOpen(t *testing.T) {
	p := &fakeProvider{err: errors.New("503 from provider")}
	c := &clock{now: time.Unix(1000, 0)}
	g := New(p, newBreaker(c), Backup{}, metrics.Noop(), logger.Discard())
	ctx := context.Background()

	for range 5 {
		out, err := g.Send(ctx, testDossier(), "sales@dealer.example")
		var rejected *domain.RejectedError
		require.ErrorAs(t, err, &rejected)
		assert.False(t, out.Accepted())
	}
	require.EqualValues(t, 5, p.calls.Load())

	for range 3 {
		_, err := g.Send(ctx, testDossier(), "sales@dealer.example")
		require.ErrorIs(t, err, breaker.ErrOpen)
		c.Advance(5 * time.Second)
	}
	assert.EqualValues(t, 5, p.calls.Load(), "provider must not be contacted while open")

	c.Advance(30 * time.Second)
	p.err = nil
	out, err := g.Send(ctx, testDossier(), "sales@dealer.example")
	require.NoError(t, err)
	assert.True(t, out.Accepted())
	assert.EqualValues(t, 6, p.calls.Load())
}

func TestBackupFailureNeverFailsSend(t *testing.T) {
	p := &fakeProvider{}
	store := &fakeStore{err: errors.New("minio down")}
	c := &clock{now: time.Unix(1000, 0)}
	backupBreaker := newBreaker(c)
	g := New(p, newBreaker(c), Backup{Store: store, Bucket: "backups", Breaker: backupBreaker}, metrics.Noop(), logger.Discard())

	for range 7 {
		_, err := g.Send(context.Background(), testDossier(), "sales@dealer.example", WithReference("h"))
		require.NoError(t, err)
		require.NoError(t, g.Wait(context.Background()))
	}

	assert.Equal(t, breaker.StateOpen, backupBreaker.State())
	assert.EqualValues(t, 7, p.calls.Load())
}

type blockingStore struct {
	fakeStore
	release chan struct{}
}

func (s *blockingStore) Put(ctx context.Context, bucket, folder, name, contentType string, data []byte) (string, error) {
	select {
	case <-s.release:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return s.fakeStore.Put(ctx, bucket, folder, name, contentType, data)
}

func TestWaitDrainsBackupsWithinDeadline(t *testing.T) {
	store := &blockingStore{release: make(chan struct{})}
	c := &clock{now: time.Unix(1000, 0)}
	g := New(&fakeProvider{}, newBreaker(c), Backup{Store: store, Bucket: "backups"}, metrics.Noop(), logger.Discard())

	_, err := g.Send(context.Background(), testDossier(), "sales@dealer.example", WithReference("h-drain"))
	require.NoError(t, err)

	short, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, g.Wait(short), context.DeadlineExceeded)

	close(store.release)
	require.NoError(t, g.Wait(context.Background()))
	assert.Equal(t, []string{"handovers/h-drain.json"}, store.keys)
}
