package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// TickFunc is invoked on every cycle.
type TickFunc func(ctx context.Context, now time.Time) error

// IntervalFunc maps the current wall clock to the delay before the next
// cycle. The market clock supplies this so the cadence tightens while the
// market is open and relaxes while it is closed.
type IntervalFunc func(now time.Time) time.Duration

// Options tune scheduler behaviour.
type Options struct {
	Interval     IntervalFunc
	StartupDelay time.Duration
}

// Scheduler drives repeated execution of the poll cycle.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Interval == nil {
		panic("scheduler interval function is required")
	}
	return &Scheduler{opts: opts, logger: logger.With().Str("component", "scheduler").Logger()}
}

// Run blocks, invoking the tick function until ctx is cancelled. The first
// tick fires after the startup delay; each subsequent tick waits for the
// interval the IntervalFunc returns for the completion time of the previous
// one. A tick in progress is allowed to finish after cancellation; Run
// returns once it has.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	if s.opts.StartupDelay > 0 {
		if err := sleep(ctx, s.opts.StartupDelay); err != nil {
			return err
		}
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		now := time.Now()
		if err := tick(ctx, now); err != nil {
			s.logger.Error().Err(err).Msg("cycle execution failed")
		}

		delay := s.opts.Interval(time.Now())
		if delay <= 0 {
			delay = time.Second
		}
		s.logger.Debug().Dur("delay", delay).Msg("waiting for next cycle")

		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// RunDaily blocks, invoking the task once per day at the given local hour
// until ctx is cancelled.
func (s *Scheduler) RunDaily(ctx context.Context, hour int, loc *time.Location, task TickFunc) error {
	for {
		now := time.Now().In(loc)
		next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, loc)
		if !next.After(now) {
			next = next.AddDate(0, 0, 1)
		}

		s.logger.Debug().Time("next_run", next).Msg("waiting for daily task window")
		if err := sleep(ctx, time.Until(next)); err != nil {
			return err
		}

		if err := task(ctx, time.Now()); err != nil {
			s.logger.Error().Err(err).Msg("daily task failed")
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
