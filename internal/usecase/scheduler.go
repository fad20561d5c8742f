package usecase

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jangwonlee-rptly/hellomimir-dev/internal/domain"
	"github.com/jangwonlee-rptly/hellomimir-dev/internal/logging"
	"github.com/jangwonlee-rptly/hellomimir-dev/internal/ports"
)

// Scheduler wires the cron driver with the daily ingestion use case.
type Scheduler struct {
	driver   ports.Scheduler
	ingestor *Ingestor
	location *time.Location
	logger   *slog.Logger
	running  atomic.Bool
}

// NewScheduler returns a helper to start/stop recurring runs. Trigger times
// are converted to a calendar date in loc.
func NewScheduler(driver ports.Scheduler, ingestor *Ingestor, loc *time.Location, log *slog.Logger) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	return &Scheduler{driver: driver, ingestor: ingestor, location: loc, logger: logging.OrDiscard(log)}
}

// Start registers the daily run with the provided scheduler.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.driver == nil || s.ingestor == nil {
		return nil
	}
	return s.driver.Start(ctx, func(trigger time.Time) {
		s.run(ctx, trigger)
	})
}

// A trigger that fires while the previous run is still going is skipped.
func (s *Scheduler) run(ctx context.Context, trigger time.Time) {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Warn("previous scheduled run still in progress, skipping trigger", "trigger", trigger)
		return
	}
	defer s.running.Store(false)

	date := trigger.In(s.location).Format(domain.DateLayout)
	s.logger.Info("scheduled run triggered", "date", date)
	s.ingestor.IngestDaily(ctx, date)
}

// Stop gracefully tears down the underlying scheduler.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}
	return s.driver.Stop(ctx)
}
