// Package breaker implements a per-dependency circuit breaker whose hot path
// is lock-free: state and tallies live in atomics and every state change is a
// compare-and-swap.
package breaker

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

// State is the breaker position.
type State int32

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// ErrOpen is matched by every OpenError.
var ErrOpen = errors.New("circuit breaker open")

// OpenError is returned by callers that were refused by an open breaker.
type OpenError struct {
	Dependency string
	RetryAt    time.Time
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit open for %s until %s", e.Dependency, e.RetryAt.Format(time.RFC3339))
}

// Is lets errors.Is(err, ErrOpen) match.
func (e *OpenError) Is(target error) bool { return target == ErrOpen }

// Ticket is handed out by Allow and identifies the breaker period the call
// was admitted in. Outcomes recorded with a ticket from an earlier period are
// ignored.
type Ticket struct {
	word  uint64
	probe bool
}

// Probe reports whether the call is the single half-open probe.
func (t Ticket) Probe() bool { return t.probe }

// Guard is the narrow surface callers need.
type Guard interface {
	Allow() (Ticket, bool)
	RecordSuccess(t Ticket)
	RecordFailure(t Ticket)
}

// Config tunes when the breaker trips. Zero fields take the defaults below.
type Config struct {
	Name                string
	ErrorThreshold      float64       // failure ratio that trips the breaker
	MinSamples          int           // calls needed before the ratio is trusted
	Window              time.Duration // rolling tally period
	Cooldown            time.Duration // open period before a probe is allowed
	ConsecutiveFailures int           // trips regardless of ratio
}

// lowVolumeMinSamples is the smallest tally a completed window needs before
// its ratio can trip the breaker when MinSamples was never reached.
const lowVolumeMinSamples = 4

func (c Config) withDefaults() Config {
	if c.ErrorThreshold <= 0 || c.ErrorThreshold > 1 {
		c.ErrorThreshold = 0.5
	}
	if c.MinSamples <= 0 {
		c.MinSamples = 20
	}
	if c.Window <= 0 {
		c.Window = 60 * time.Second
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 30 * time.Second
	}
	if c.ConsecutiveFailures <= 0 {
		c.ConsecutiveFailures = 5
	}
	return c
}

// Snapshot is a point-in-time copy of breaker state for logs and health output.
type Snapshot struct {
	Name          string    `json:"name"`
	State         string    `json:"state"`
	FailureCount  int64     `json:"failureCount"`
	SampleCount   int64     `json:"sampleCount"`
	LastFailureAt time.Time `json:"lastFailureAt,omitempty"`
	NextRetryAt   time.Time `json:"nextRetryAt,omitempty"`
	TimesOpened   int64     `json:"timesOpened"`
}

// Option customises a Breaker.
type Option func(*Breaker)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) { b.now = now }
}

// WithStateChange registers a callback fired after every successful transition.
// It runs on the caller's goroutine and must not block.
func WithStateChange(fn func(name string, from, to State)) Option {
	return func(b *Breaker) { b.onChange = fn }
}

// Breaker is safe for concurrent use. The state and a generation counter
// share one word so a transition and the period it ends are swapped together.
type Breaker struct {
	cfg      Config
	now      func() time.Time
	onChange func(name string, from, to State)

	word          atomic.Uint64 // generation<<2 | state
	consecutive   atomic.Int64
	failures      atomic.Int64
	total         atomic.Int64
	windowStart   atomic.Int64 // unix nanos
	lastFailureAt atomic.Int64 // unix nanos
	nextRetryAt   atomic.Int64 // unix nanos
	opened        atomic.Int64
}

const stateMask = 3

func stateOf(word uint64) State { return State(word & stateMask) }

// advance returns the word for the next period in state to.
func advance(word uint64, to State) uint64 {
	return (word>>2+1)<<2 | uint64(to)
}

// New creates a closed breaker.
func New(cfg Config, opts ...Option) *Breaker {
	b := &Breaker{cfg: cfg.withDefaults(), now: time.Now}
	for _, opt := range opts {
		opt(b)
	}
	b.windowStart.Store(b.now().UnixNano())
	return b
}

// Name returns the guarded dependency name.
func (b *Breaker) Name() string { return b.cfg.Name }

// State returns the current position.
func (b *Breaker) State() State { return stateOf(b.word.Load()) }

// Allow reports whether a call may proceed. Once the cool-down has passed
// exactly one caller moves the breaker to half-open and gets the probe ticket.
func (b *Breaker) Allow() (Ticket, bool) {
	w := b.word.Load()
	switch stateOf(w) {
	case StateClosed:
		return Ticket{word: w}, true
	case StateOpen:
		if b.now().UnixNano() < b.nextRetryAt.Load() {
			return Ticket{}, false
		}
		next, ok := b.transition(w, StateHalfOpen)
		if !ok {
			return Ticket{}, false
		}
		return Ticket{word: next, probe: true}, true
	default:
		return Ticket{}, false
	}
}

// RecordSuccess reports a successful call. A probe success closes the breaker.
func (b *Breaker) RecordSuccess(t Ticket) {
	if t.probe {
		if _, ok := b.transition(t.word, StateClosed); ok {
			b.resetTallies(b.now())
		}
		return
	}
	if b.word.Load() != t.word {
		return
	}
	b.consecutive.Store(0)
	b.observe(b.now(), false)
}

// RecordFailure reports a failed call and trips the breaker when the policy
// says so. A probe failure reopens it for another cool-down.
func (b *Breaker) RecordFailure(t Ticket) {
	now := b.now()
	b.lastFailureAt.Store(now.UnixNano())

	if t.probe {
		b.trip(now, t.word)
		return
	}
	if b.word.Load() != t.word {
		return
	}

	consecutive := b.consecutive.Add(1)
	failures, total, windowDone := b.observe(now, true)
	if consecutive >= int64(b.cfg.ConsecutiveFailures) || b.ratioExceeded(failures, total, windowDone) {
		b.trip(now, t.word)
	}
}

// Snapshot returns the current state for reporting.
func (b *Breaker) Snapshot() Snapshot {
	return Snapshot{
		Name:          b.cfg.Name,
		State:         b.State().String(),
		FailureCount:  b.failures.Load(),
		SampleCount:   b.total.Load(),
		LastFailureAt: fromNanos(b.lastFailureAt.Load()),
		NextRetryAt:   fromNanos(b.nextRetryAt.Load()),
		TimesOpened:   b.opened.Load(),
	}
}

// OpenError builds the refusal error for the current open period.
func (b *Breaker) OpenError() *OpenError {
	return &OpenError{Dependency: b.cfg.Name, RetryAt: fromNanos(b.nextRetryAt.Load())}
}

// observe adds one call to the rolling tally. When the window has elapsed the
// caller that wins the rollover gets the completed window's tally back with
// windowDone set, and the counters restart.
func (b *Breaker) observe(now time.Time, failed bool) (failures, total int64, windowDone bool) {
	start := b.windowStart.Load()
	if now.UnixNano()-start >= int64(b.cfg.Window) && b.windowStart.CompareAndSwap(start, now.UnixNano()) {
		failures = b.failures.Swap(0)
		total = b.total.Swap(0) + 1
		if failed {
			failures++
		}
		return failures, total, true
	}

	if failed {
		failures = b.failures.Add(1)
	} else {
		failures = b.failures.Load()
	}
	return failures, b.total.Add(1), false
}

func (b *Breaker) ratioExceeded(failures, total int64, windowDone bool) bool {
	if total == 0 {
		return false
	}
	if total < int64(b.cfg.MinSamples) && !(windowDone && total >= lowVolumeMinSamples) {
		return false
	}
	return float64(failures)/float64(total) >= b.cfg.ErrorThreshold
}

// trip opens the breaker if it is still in the period identified by from.
// nextRetryAt is written first so no caller sees open with a stale deadline.
func (b *Breaker) trip(now time.Time, from uint64) {
	if stateOf(b.word.Load()) == StateOpen {
		return
	}
	b.nextRetryAt.Store(now.Add(b.cfg.Cooldown).UnixNano())
	if _, ok := b.transition(from, StateOpen); !ok {
		return
	}
	b.opened.Add(1)
	b.resetTallies(now)
}

func (b *Breaker) resetTallies(now time.Time) {
	b.consecutive.Store(0)
	b.failures.Store(0)
	b.total.Store(0)
	b.windowStart.Store(now.UnixNano())
}

func (b *Breaker) transition(from uint64, to State) (uint64, bool) {
	next := advance(from, to)
	if !b.word.CompareAndSwap(from, next) {
		return from, false
	}
	if b.onChange != nil {
		b.onChange(b.cfg.Name, stateOf(from), to)
	}
	return next, true
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

var _ Guard = (*Breaker)(nil)
