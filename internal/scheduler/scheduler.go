// Package scheduler triggers pipeline runs on an aligned interval with a bound
// on how many runs may be in flight at once.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// TickFunc is invoked on every interval with the scheduled time of the run.
type TickFunc func(ctx context.Context, scheduledAt time.Time) error

// Options tune scheduler behaviour.
type Options struct {
	Interval     time.Duration
	AlignToStart bool
	StartupDelay time.Duration
	// MaxActiveRuns bounds concurrent ticks; ticks beyond it are skipped, not queued.
	MaxActiveRuns int
	// OnSkip, if set, is called for every skipped tick.
	OnSkip func(scheduledAt time.Time)
}

// Scheduler drives aligned execution of pipeline runs.
type Scheduler struct {
	opts   Options
	slots  *semaphore.Weighted
	active atomic.Int64
	logger zerolog.Logger
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	if opts.MaxActiveRuns <= 0 {
		opts.MaxActiveRuns = 1
	}
	return &Scheduler{
		opts:   opts,
		slots:  semaphore.NewWeighted(int64(opts.MaxActiveRuns)),
		logger: logger.With().Str("component", "scheduler").Logger(),
	}
}

// Active returns the number of runs in flight.
func (s *Scheduler) Active() int {
	return int(s.active.Load())
}

// Run blocks, starting tick at each interval until ctx is cancelled, then
// waits for in-flight runs to return.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	if s.opts.StartupDelay > 0 {
		timer := time.NewTimer(s.opts.StartupDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	next := s.nextTick(time.Now().UTC())
	for {
		delay := time.Until(next)
		if delay < 0 {
			// missed ticks are not caught up
			next = s.nextTick(time.Now().UTC())
			delay = time.Until(next)
		}

		timer := time.NewTimer(delay)
		s.logger.Debug().Time("next_run", next).Msg("waiting for next run")

		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		scheduledAt := s.bucketStart(next)
		next = next.Add(s.opts.Interval)

		if !s.slots.TryAcquire(1) {
			s.logger.Warn().
				Time("scheduled_at", scheduledAt).
				Int("max_active_runs", s.opts.MaxActiveRuns).
				Msg("max active runs reached; skipping tick")
			if s.opts.OnSkip != nil {
				s.opts.OnSkip(scheduledAt)
			}
			continue
		}

		wg.Add(1)
		s.active.Add(1)
		go func() {
			defer wg.Done()
			defer s.slots.Release(1)
			defer s.active.Add(-1)

			s.logger.Info().Time("scheduled_at", scheduledAt).Msg("executing scheduled run")
			if err := tick(ctx, scheduledAt); err != nil {
				s.logger.Error().Err(err).Time("scheduled_at", scheduledAt).Msg("scheduled run failed")
			}
		}()
	}
}

func (s *Scheduler) nextTick(now time.Time) time.Time {
	if !s.opts.AlignToStart {
		return now.Add(s.opts.Interval)
	}
	bucket := now.Truncate(s.opts.Interval)
	if !bucket.After(now) {
		bucket = bucket.Add(s.opts.Interval)
	}
	return bucket
}

func (s *Scheduler) bucketStart(t time.Time) time.Time {
	if !s.opts.AlignToStart {
		return t
	}
	return t.Truncate(s.opts.Interval)
}
