// Package scheduler runs reconciliation passes on a fixed interval.
package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/cardwatch/internal/model"
)

// DefaultInterval is used when no positive interval is configured.
const DefaultInterval = 6 * time.Hour

// Runner executes one reconciliation pass.
type Runner interface {
	Run(ctx context.Context) (*model.ReconciliationResult, error)
}

// Scheduler triggers passes in the background.
type Scheduler struct {
	runner   Runner
	interval time.Duration
	onResult func(*model.ReconciliationResult)
}

// New creates a scheduler. onResult may be nil.
func New(runner Runner, interval time.Duration, onResult func(*model.ReconciliationResult)) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{runner: runner, interval: interval, onResult: onResult}
}

// Interval returns the effective delay between passes.
func (s *Scheduler) Interval() time.Duration {
	return s.interval
}

// Run performs a pass immediately and then on every tick. It blocks until
// ctx is cancelled. A failed pass is logged and the loop keeps going.
func (s *Scheduler) Run(ctx context.Context) {
	log := zap.L().With(zap.String("component", "scheduler"))
	log.Info("starting price watch", zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			log.Info("price watch stopped")
			return
		}
		s.pass(ctx, log)

		select {
		case <-ctx.Done():
			log.Info("price watch stopped")
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) pass(ctx context.Context, log *zap.Logger) {
	res, err := s.runner.Run(ctx)
	if err != nil {
		if ctx.Err() == nil {
			log.Error("scheduler: pass failed", zap.Error(err))
		}
		return
	}
	if s.onResult != nil {
		s.onResult(res)
	}
}
