package usecase

import (
	"context"
	"log/slog"
	"time"

	"BlogPublisher/internal/domain"
	"BlogPublisher/internal/logging"
	"BlogPublisher/internal/ports"
)

// Scheduler wires the interval driver with the scheduled-mode pipeline.
type Scheduler struct {
	driver   ports.Scheduler
	pipeline *Pipeline
	request  Request
	logger   *slog.Logger
}

// NewScheduler returns the poll-loop driver.
func NewScheduler(driver ports.Scheduler, pipeline *Pipeline, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Scheduler{
		driver:   driver,
		pipeline: pipeline,
		request:  Request{Mode: domain.ModeScheduled},
		logger:   logger,
	}
}

// WithRequest changes what each tick runs; the default is a scheduled cycle.
func (s *Scheduler) WithRequest(req Request) *Scheduler {
	s.request = req
	return s
}

// Run blocks, running one cycle per tick until ctx is cancelled.
// Cycle errors are logged; the next tick retries.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.driver == nil || s.pipeline == nil {
		return nil
	}

	s.logger.Info("poll loop started", "mode", s.request.Mode, "record_id", s.request.RecordID)
	err := s.driver.Run(ctx, func(ctx context.Context, at time.Time) {
		s.logger.Debug("poll tick", "at", at)
		// Run logs the cycle outcome itself.
		_, _ = s.pipeline.Run(ctx, s.request)
	})
	s.logger.Info("poll loop stopped")
	return err
}
