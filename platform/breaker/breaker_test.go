package breaker

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestBreaker(clock *fakeClock, opts ...Option) *Breaker {
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	return New(Config{
		Name:                "email_provider",
		ErrorThreshold:      0.5,
		MinSamples:          20,
		Window:              60 * time.Second,
		Cooldown:            30 * time.Second,
		ConsecutiveFailures: 5,
	}, opts...)
}

// fail admits one call and records it as failed.
func fail(t *testing.T, b *Breaker) {
	t.Helper()
	tk, ok := b.Allow()
	require.True(t, ok)
	b.RecordFailure(tk)
}

func succeed(t *testing.T, b *Breaker) {
	t.Helper()
	tk, ok := b.Allow()
	require.True(t, ok)
	b.RecordSuccess(tk)
}

func allowed(b *Breaker) bool {
	_, ok := b.Allow()
	return ok
}

func tripped(t *testing.T, clock *fakeClock, b *Breaker) {
	t.Helper()
	for i := 0; i < 5; i++ {
		fail(t, b)
	}
	require.Equal(t, StateOpen, b.State())
	clock.Advance(30 * time.Second)
}

func TestOpensAfterConsecutiveFailuresAndRefusesUntilCooldown(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock)

	for i := 0; i < 4; i++ {
		fail(t, b)
	}
	assert.Equal(t, StateClosed, b.State())

	fail(t, b)
	assert.Equal(t, StateOpen, b.State())

	clock.Advance(29 * time.Second)
	assert.False(t, allowed(b), "must fast-fail during cool-down")

	clock.Advance(time.Second)
	probe, ok := b.Allow()
	assert.True(t, ok, "probe admitted after cool-down")
	assert.True(t, probe.Probe())
	assert.Equal(t, StateHalfOpen, b.State())
	assert.False(t, allowed(b), "only one probe while half-open")
}

func TestHalfOpenSuccessCloses(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock)
	tripped(t, clock, b)
	probe, ok := b.Allow()
	require.True(t, ok)

	b.RecordSuccess(probe)

	assert.Equal(t, StateClosed, b.State())
	assert.True(t, allowed(b))
	assert.Equal(t, int64(0), b.Snapshot().FailureCount)
}

func TestHalfOpenFailureReopens(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock)
	tripped(t, clock, b)
	probe, ok := b.Allow()
	require.True(t, ok)

	b.RecordFailure(probe)

	assert.Equal(t, StateOpen, b.State())
	assert.False(t, allowed(b))
	snap := b.Snapshot()
	assert.Equal(t, int64(2), snap.TimesOpened)
	assert.True(t, snap.NextRetryAt.Equal(clock.Now().Add(30*time.Second)))
}

func TestLateOutcomeFromBeforeTripDoesNotSettleProbe(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock)

	// Admitted while closed, still running when the breaker trips.
	slow, ok := b.Allow()
	require.True(t, ok)
	tripped(t, clock, b)

	probe, ok := b.Allow()
	require.True(t, ok)
	require.Equal(t, StateHalfOpen, b.State())

	b.RecordFailure(slow)
	assert.Equal(t, StateHalfOpen, b.State(), "late failure must not reopen")
	assert.False(t, allowed(b), "probe is still in flight")

	b.RecordSuccess(probe)
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, int64(1), b.Snapshot().TimesOpened)

	// A late success from the old period does not count either.
	b.RecordSuccess(slow)
	assert.Equal(t, int64(0), b.Snapshot().SampleCount)
}

func TestOpensOnErrorRatioOverMinSamples(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock)

	for i := 0; i < 9; i++ {
		succeed(t, b)
		fail(t, b)
	}
	succeed(t, b)
	assert.Equal(t, StateClosed, b.State(), "19 calls is below the sample minimum")

	fail(t, b)
	assert.Equal(t, StateOpen, b.State())
}

func TestLowVolumeWindowCanTrip(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock)

	fail(t, b)
	succeed(t, b)
	fail(t, b)
	assert.Equal(t, StateClosed, b.State())

	clock.Advance(61 * time.Second)
	fail(t, b)

	assert.Equal(t, StateOpen, b.State())
}

func TestHealthyTrafficStaysClosed(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock)
	for i := 0; i < 100; i++ {
		succeed(t, b)
		if i%10 == 0 {
			fail(t, b)
		}
		clock.Advance(time.Second)
	}
	assert.Equal(t, StateClosed, b.State())
}

func TestStateChangeCallbackAndOpenError(t *testing.T) {
	clock := newFakeClock()
	var transitions []string
	b := newTestBreaker(clock, WithStateChange(func(name string, from, to State) {
		transitions = append(transitions, name+":"+from.String()+"->"+to.String())
	}))
	for i := 0; i < 5; i++ {
		fail(t, b)
	}

	assert.Equal(t, []string{"email_provider:closed->open"}, transitions)
	err := error(b.OpenError())
	assert.True(t, errors.Is(err, ErrOpen))
	assert.Contains(t, err.Error(), "email_provider")
}

func TestConcurrentProbeAdmitsExactlyOne(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock)
	tripped(t, clock, b)

	var admitted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if allowed(b) {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), admitted.Load())
}
