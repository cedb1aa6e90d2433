package notifier

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/voicetel/appointment-reminder/internal/logging"
	"github.com/voicetel/appointment-reminder/internal/models"
	"github.com/voicetel/appointment-reminder/internal/state"
)

// Clock abstracts time so the loop can be driven without real sleeps.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done, returning ctx.Err() in the
	// latter case.
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

// RealClock is the wall clock.
var RealClock Clock = realClock{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Cycler runs one reminder cycle.
type Cycler interface {
	RunCycle(ctx context.Context, notified state.Set) (state.Set, *models.CycleStats, error)
}

// Scheduler alternates between running a cycle and sleeping until the next
// scheduled time. It has no terminal state of its own.
type Scheduler struct {
	cycler    Cycler
	schedule  cron.Schedule
	clock     Clock
	logger    *logging.Logger
	maxCycles int
}

type SchedulerOption func(*Scheduler)

func WithSchedulerClock(c Clock) SchedulerOption {
	return func(s *Scheduler) { s.clock = c }
}

// WithMaxCycles stops the loop after n cycles. Zero means forever.
func WithMaxCycles(n int) SchedulerOption {
	return func(s *Scheduler) { s.maxCycles = n }
}

func NewScheduler(cycler Cycler, schedule cron.Schedule, logger *logging.Logger, opts ...SchedulerOption) *Scheduler {
	if schedule == nil {
		schedule = cron.Every(time.Hour)
	}
	s := &Scheduler{
		cycler:   cycler,
		schedule: schedule,
		clock:    RealClock,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.Nop()
	}
	return s
}

// Run executes a cycle immediately and then on every scheduled tick. It
// returns the latest notified set once ctx is cancelled during a sleep or
// the configured cycle limit is reached. A cycle already in flight is never
// cancelled.
func (s *Scheduler) Run(ctx context.Context, notified state.Set) state.Set {
	for cycles := 0; ; {
		s.logger.Info("Checking for reminders")
		next, _, err := s.cycler.RunCycle(context.WithoutCancel(ctx), notified)
		if err != nil {
			s.logger.LogError("Error processing potential reminders", err)
		}
		if next != nil {
			notified = next
		}

		cycles++
		if s.maxCycles > 0 && cycles >= s.maxCycles {
			return notified
		}

		now := s.clock.Now()
		wake := s.schedule.Next(now)
		s.logger.Debug("Sleeping until next cycle", "next_run", wake.Format(time.RFC3339))
		if err := s.clock.Sleep(ctx, wake.Sub(now)); err != nil {
			s.logger.Info("Scheduler stopped", "reason", err.Error())
			return notified
		}
	}
}
