package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"rank-alerts/internal/logging"
)

// TickFunc is invoked on every interval.
type TickFunc func(ctx context.Context, at time.Time) error

// Options tune scheduler behaviour.
type Options struct {
	Interval time.Duration
	// Immediate fires the first tick right away instead of waiting one
	// full interval.
	Immediate    bool
	StartupDelay time.Duration
}

// Scheduler drives periodic execution of polling jobs.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	return &Scheduler{opts: opts, logger: logging.Component(logger, "scheduler")}
}

// Run blocks, invoking the tick function on each interval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	if s.opts.StartupDelay > 0 {
		timer := time.NewTimer(s.opts.StartupDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	if s.opts.Immediate {
		if err := s.execute(ctx, time.Now().UTC(), tick); err != nil {
			return err
		}
	}

	for {
		timer := time.NewTimer(s.opts.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case at := <-timer.C:
			timer.Stop()
			if err := s.execute(ctx, at.UTC(), tick); err != nil {
				return err
			}
		}
	}
}

func (s *Scheduler) execute(ctx context.Context, at time.Time, tick TickFunc) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	s.logger.Debug().Time("at", at).Msg("executing scheduled tick")
	if err := tick(ctx, at); err != nil {
		s.logger.Error().Err(err).Time("at", at).Msg("tick execution failed")
	}
	return nil
}
