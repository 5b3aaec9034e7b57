package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// TickFunc is invoked once per scheduled run with the wall clock time the
// run was planned for.
type TickFunc func(ctx context.Context, scheduled time.Time) error

// Options tune scheduler behaviour.
type Options struct {
	Hour         int
	Minute       int
	Location     *time.Location
	RetryDelay   time.Duration
	MaxRetries   int
	StartupDelay time.Duration
	RunOnStart   bool
}

// Scheduler runs a job once a day at a fixed local time and retries
// failed runs.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
	now    func() time.Time
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) (*Scheduler, error) {
	if opts.Hour < 0 || opts.Hour > 23 || opts.Minute < 0 || opts.Minute > 59 {
		return nil, fmt.Errorf("invalid fetch time %02d:%02d", opts.Hour, opts.Minute)
	}
	if opts.RetryDelay <= 0 {
		return nil, fmt.Errorf("retry delay must be positive")
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Scheduler{
		opts:   opts,
		logger: logger.With().Str("component", "scheduler").Logger(),
		now:    time.Now,
	}, nil
}

// Run blocks, invoking tick daily until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	if s.opts.StartupDelay > 0 {
		if err := sleep(ctx, s.opts.StartupDelay); err != nil {
			return err
		}
	}

	if s.opts.RunOnStart {
		if err := s.runWithRetry(ctx, tick, s.now()); err != nil {
			return err
		}
	}

	for {
		next := s.NextRun(s.now())
		s.logger.Info().Time("next_run", next).Msg("waiting for next scheduled fetch")

		if err := sleep(ctx, time.Until(next)); err != nil {
			return err
		}
		if err := s.runWithRetry(ctx, tick, next); err != nil {
			return err
		}
	}
}

// NextRun returns the first configured fetch time strictly after now.
func (s *Scheduler) NextRun(now time.Time) time.Time {
	local := now.In(s.opts.Location)
	next := time.Date(local.Year(), local.Month(), local.Day(), s.opts.Hour, s.opts.Minute, 0, 0, s.opts.Location)
	if !next.After(local) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, s.opts.Hour, s.opts.Minute, 0, 0, s.opts.Location)
	}
	return next
}

// runWithRetry only returns an error when ctx is done; a run that exhausts
// its retries is logged and the schedule moves on.
func (s *Scheduler) runWithRetry(ctx context.Context, tick TickFunc, scheduled time.Time) error {
	for attempt := 0; ; attempt++ {
		s.logger.Info().Time("scheduled", scheduled).Int("attempt", attempt+1).Msg("executing scheduled fetch")

		err := tick(ctx, scheduled)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if attempt >= s.opts.MaxRetries {
			s.logger.Error().Err(err).Time("scheduled", scheduled).Int("attempts", attempt+1).Msg("scheduled fetch failed, giving up until next run")
			return nil
		}
		s.logger.Warn().Err(err).Dur("retry_in", s.opts.RetryDelay).Msg("scheduled fetch failed, retrying")
		if err := sleep(ctx, s.opts.RetryDelay); err != nil {
			return err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
