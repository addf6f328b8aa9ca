package scheduler

import (
	"context"
	"time"

	"BlogPublisher/internal/ports"
)

const defaultInterval = 5 * time.Minute

// IntervalScheduler runs a job, waits a fixed interval after it returns, and repeats.
// Runs never overlap.
type IntervalScheduler struct {
	interval time.Duration
	now      func() time.Time
}

var _ ports.Scheduler = (*IntervalScheduler)(nil)

// NewIntervalScheduler builds a scheduler; non-positive intervals use five minutes.
func NewIntervalScheduler(interval time.Duration) *IntervalScheduler {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &IntervalScheduler{interval: interval, now: time.Now}
}

// Interval reports the wait between runs.
func (s *IntervalScheduler) Interval() time.Duration {
	return s.interval
}

// Run blocks until ctx is cancelled. The first run starts immediately.
// Cancellation is observed between runs; a run in progress is not interrupted here.
func (s *IntervalScheduler) Run(ctx context.Context, job func(context.Context, time.Time)) error {
	if job == nil {
		return nil
	}

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}

		if ctx.Err() != nil {
			return nil
		}
		job(ctx, s.now())
		timer.Reset(s.interval)
	}
}
