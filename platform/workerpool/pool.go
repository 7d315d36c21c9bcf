// Package workerpool runs independent units of work on a fixed set of
// goroutines fed by a bounded queue, with a bounded drain on shutdown.
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"leadpipeline_backend/platform/logger"

	"golang.org/x/sync/errgroup"
)

// ErrClosed is returned by Submit after shutdown has started.
var ErrClosed = errors.New("worker pool closed")

// Job is one unit of work.
type Job func(ctx context.Context) error

type task struct {
	name string
	fn   Job
}

// Pool is a fixed-size worker pool.
type Pool struct {
	size   int
	drain  time.Duration
	queue  chan task
	log    *logger.Logger
	closed atomic.Bool

	timersMu sync.Mutex
	timers   map[*time.Timer]struct{}
}

// Config sizes the pool.
type Config struct {
	Workers   int
	QueueSize int
	Drain     time.Duration
}

// New creates a pool. Run must be called to start processing.
func New(cfg Config, log *logger.Logger) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = cfg.Workers * 16
	}
	if cfg.Drain <= 0 {
		cfg.Drain = 10 * time.Second
	}
	return &Pool{
		size:   cfg.Workers,
		drain:  cfg.Drain,
		queue:  make(chan task, cfg.QueueSize),
		log:    log,
		timers: make(map[*time.Timer]struct{}),
	}
}

// Submit queues fn, blocking while the queue is full until ctx is done.
func (p *Pool) Submit(ctx context.Context, name string, fn Job) error {
	if p.closed.Load() {
		return ErrClosed
	}
	select {
	case p.queue <- task{name: name, fn: fn}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("submit %s: %w", name, ctx.Err())
	}
}

// SubmitAfter queues fn once delay has elapsed. Pending delayed jobs are
// discarded at shutdown.
func (p *Pool) SubmitAfter(delay time.Duration, name string, fn Job) error {
	if p.closed.Load() {
		return ErrClosed
	}
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		p.timersMu.Lock()
		delete(p.timers, timer)
		p.timersMu.Unlock()
		if err := p.Submit(context.Background(), name, fn); err != nil {
			p.log.Warn("workerpool: delayed job dropped", "job", name, "error", err)
		}
	})
	p.timersMu.Lock()
	p.timers[timer] = struct{}{}
	p.timersMu.Unlock()
	return nil
}

// Run processes jobs until ctx is cancelled. Queued jobs are then drained;
// jobs still running when the drain period ends see their context cancelled.
func (p *Pool) Run(ctx context.Context) error {
	jobCtx, cancelJobs := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelJobs()

	var g errgroup.Group
	for i := 0; i < p.size; i++ {
		g.Go(func() error {
			p.work(ctx, jobCtx)
			return nil
		})
	}

	<-ctx.Done()
	p.closed.Store(true)
	p.stopTimers()

	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()

	timer := time.NewTimer(p.drain)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		p.log.Warn("workerpool: drain period elapsed, cancelling running jobs", "queued", len(p.queue))
		cancelJobs()
		<-done
	}
	return nil
}

func (p *Pool) work(stop, jobCtx context.Context) {
	for {
		select {
		case t := <-p.queue:
			p.exec(jobCtx, t)
		case <-stop.Done():
			for {
				select {
				case t := <-p.queue:
					if jobCtx.Err() != nil {
						p.log.Warn("workerpool: job dropped during shutdown", "job", t.name)
						continue
					}
					p.exec(jobCtx, t)
				default:
					return
				}
			}
		}
	}
}

func (p *Pool) exec(ctx context.Context, t task) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("workerpool: job panicked", "job", t.name, "panic", r)
		}
	}()
	if err := t.fn(ctx); err != nil {
		p.log.Error("workerpool: job failed", "job", t.name, "error", err)
	}
}

func (p *Pool) stopTimers() {
	p.timersMu.Lock()
	defer p.timersMu.Unlock()
	for timer := range p.timers {
		timer.Stop()
		delete(p.timers, timer)
	}
}
