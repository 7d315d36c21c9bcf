package scheduler

import (
	"context"
	"time"

	"leadpipeline_backend/platform/logger"
)

const (
	defaultSweepInterval = time.Minute
	defaultStaleAfter    = 15 * time.Minute
)

// StalledRecovery resumes handovers that stopped moving.
type StalledRecovery interface {
	RecoverStalled(ctx context.Context, staleAfter time.Duration) (int, error)
}

// HandoverSweeper periodically recovers handovers whose worker crashed or
// whose retry task was lost.
type HandoverSweeper struct {
	recovery   StalledRecovery
	log        *logger.Logger
	interval   time.Duration
	staleAfter time.Duration
}

func NewHandoverSweeper(recovery StalledRecovery, log *logger.Logger, interval, staleAfter time.Duration) *HandoverSweeper {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	if staleAfter <= 0 {
		staleAfter = defaultStaleAfter
	}

	return &HandoverSweeper{
		recovery:   recovery,
		log:        log,
		interval:   interval,
		staleAfter: staleAfter,
	}
}

func (s *HandoverSweeper) Run(ctx context.Context) {
	if s == nil || s.recovery == nil {
		return
	}

	s.sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *HandoverSweeper) sweep(ctx context.Context) {
	moved, err := s.recovery.RecoverStalled(ctx, s.staleAfter)
	if err != nil {
		s.log.Warn("handover sweep failed", "error", err)
	}

	if moved > 0 {
		s.log.Info("handover sweep recovered stalled records", "recovered", moved)
	}
}
