package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// ErrInvalidInterval is returned for non-positive intervals.
var ErrInvalidInterval = errors.New("scheduler interval must be positive")

// RoundFunc runs one monitoring round. The round start is aligned when AlignToStart is set.
type RoundFunc func(ctx context.Context, round time.Time) error

// Options tune scheduler behaviour.
type Options struct {
	Interval     time.Duration
	AlignToStart bool
	StartupDelay time.Duration
	// Immediate runs one round right after the startup delay instead of waiting a full interval.
	Immediate bool
}

// Scheduler drives periodic rounds until its context ends.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
	now    func() time.Time
}

// New constructs a Scheduler.
func New(opts Options, logger zerolog.Logger) (*Scheduler, error) {
	if opts.Interval <= 0 {
		return nil, ErrInvalidInterval
	}
	return &Scheduler{
		opts:   opts,
		logger: logger.With().Str("component", "scheduler").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// Run blocks until ctx is cancelled. A failing round is logged and does not stop the loop.
func (s *Scheduler) Run(ctx context.Context, round RoundFunc) error {
	if s.opts.StartupDelay > 0 {
		if err := sleep(ctx, s.opts.StartupDelay); err != nil {
			return err
		}
	}

	if s.opts.Immediate {
		s.execute(ctx, round, s.now())
	}

	next := s.nextRound(s.now())
	for {
		if next.Before(s.now()) {
			next = s.nextRound(s.now())
		}
		s.logger.Debug().Time("next_round", next).Msg("waiting for next round")
		if err := sleep(ctx, time.Until(next)); err != nil {
			return err
		}

		s.execute(ctx, round, s.roundStart(next))
		next = next.Add(s.opts.Interval)
	}
}

func (s *Scheduler) execute(ctx context.Context, round RoundFunc, at time.Time) {
	start := time.Now()
	if err := round(ctx, at); err != nil {
		s.logger.Error().Err(err).Time("round", at).Msg("monitor round failed")
		return
	}
	s.logger.Info().Time("round", at).Dur("elapsed", time.Since(start)).Msg("monitor round completed")
}

func (s *Scheduler) nextRound(now time.Time) time.Time {
	if !s.opts.AlignToStart {
		return now.Add(s.opts.Interval)
	}
	next := now.Truncate(s.opts.Interval)
	if !next.After(now) {
		next = next.Add(s.opts.Interval)
	}
	return next
}

func (s *Scheduler) roundStart(t time.Time) time.Time {
	if !s.opts.AlignToStart {
		return t
	}
	return t.Truncate(s.opts.Interval)
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
