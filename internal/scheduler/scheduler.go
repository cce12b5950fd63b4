// Package scheduler drives periodic refresh cycles.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"price-tracker/internal/logging"
)

// CycleFunc runs one refresh cycle for the given slot.
type CycleFunc func(ctx context.Context, slot time.Time) error

// Options tune scheduler behaviour.
type Options struct {
	Interval     time.Duration
	AlignToStart bool
	StartupDelay time.Duration
	RunOnStart   bool
	Now          func() time.Time
}

// Scheduler invokes a cycle at every interval until its context ends. Cycles
// never overlap; a slow cycle delays the next slot instead of stacking up.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Scheduler{opts: opts, logger: logging.Component(logger, "scheduler")}
}

// Run blocks until ctx is cancelled. Cycle errors are logged and never stop the loop.
func (s *Scheduler) Run(ctx context.Context, cycle CycleFunc) error {
	if s.opts.StartupDelay > 0 {
		timer := time.NewTimer(s.opts.StartupDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	if s.opts.RunOnStart {
		s.execute(ctx, cycle, s.opts.Now().UTC())
	}

	next := s.nextTick(s.opts.Now().UTC())
	for {
		now := s.opts.Now().UTC()
		if next.Before(now) {
			next = s.nextTick(now)
		}

		timer := time.NewTimer(next.Sub(now))
		s.logger.Debug().Time("next_slot", next).Msg("waiting for next refresh slot")

		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		s.execute(ctx, cycle, s.slotStart(next))
		next = next.Add(s.opts.Interval)
	}
}

func (s *Scheduler) execute(ctx context.Context, cycle CycleFunc, slot time.Time) {
	started := s.opts.Now()
	s.logger.Info().Time("slot", slot).Msg("executing refresh cycle")

	err := cycle(ctx, slot)
	switch {
	case err == nil:
		s.logger.Info().Time("slot", slot).Dur("elapsed", s.opts.Now().Sub(started)).Msg("refresh cycle finished")
	case errors.Is(err, context.Canceled):
		s.logger.Debug().Time("slot", slot).Msg("refresh cycle cancelled")
	default:
		s.logger.Error().Err(err).Time("slot", slot).Msg("refresh cycle failed")
	}
}

func (s *Scheduler) nextTick(now time.Time) time.Time {
	if !s.opts.AlignToStart {
		return now.Add(s.opts.Interval)
	}
	slot := now.Truncate(s.opts.Interval)
	if !slot.After(now) {
		slot = slot.Add(s.opts.Interval)
	}
	return slot
}

func (s *Scheduler) slotStart(t time.Time) time.Time {
	if !s.opts.AlignToStart {
		return t
	}
	return t.Truncate(s.opts.Interval)
}
