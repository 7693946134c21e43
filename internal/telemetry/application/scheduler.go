package application

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// DefaultInterval separates cycles in loop mode.
const DefaultInterval = time.Minute

// CycleRunner runs one pipeline cycle.
type CycleRunner interface {
	RunOnce(ctx context.Context) (PipelineResult, error)
	SaveSpill(ctx context.Context) error
}

// Scheduler triggers pipeline cycles on a fixed interval. Cycles never overlap.
type Scheduler struct {
	runner   CycleRunner
	interval time.Duration
	logger   zerolog.Logger
}

// NewScheduler constructs a Scheduler.
func NewScheduler(runner CycleRunner, interval time.Duration, logger zerolog.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{
		runner:   runner,
		interval: interval,
		logger:   logger,
	}
}

// Serve runs a cycle immediately and then once per interval until ctx is done.
// It implements suture.Service.
func (s *Scheduler) Serve(ctx context.Context) error {
	if s == nil || s.runner == nil {
		return nil
	}
	s.runOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.runOnce(ctx)
		}
	}
}

// String names the service in supervisor logs.
func (s *Scheduler) String() string {
	return "cycle-scheduler"
}

func (s *Scheduler) runOnce(ctx context.Context) {
	result, err := s.runner.RunOnce(ctx)
	if err != nil && ctx.Err() == nil {
		s.logger.Warn().Err(err).
			Str("cycle_id", result.CycleID).
			Str("stage", result.StageName).
			Int("pending", result.Pending).
			Msg("cycle did not complete")
	}
	if err := s.runner.SaveSpill(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error().Err(err).Msg("spill save failed")
	}
}
