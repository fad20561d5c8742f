package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jangwonlee-rptly/hellomimir-dev/internal/logging"
	"github.com/jangwonlee-rptly/hellomimir-dev/internal/ports"
)

// CronScheduler fires a job on a standard five-field cron expression.
type CronScheduler struct {
	spec     string
	location *time.Location
	logger   *slog.Logger

	mu     sync.Mutex
	engine *cron.Cron
	cancel context.CancelFunc
}

var _ ports.Scheduler = (*CronScheduler)(nil)

// NewCronScheduler builds a scheduler configured via cron expression string.
func NewCronScheduler(spec string, loc *time.Location, log *slog.Logger) *CronScheduler {
	if loc == nil {
		loc = time.UTC
	}
	return &CronScheduler{spec: spec, location: loc, logger: logging.OrDiscard(log)}
}

// Validate parses the expression without starting anything.
func Validate(spec string) error {
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", spec, err)
	}
	return nil
}

// Start registers job and begins the cron loop. Calling Start twice is a no-op.
func (c *CronScheduler) Start(ctx context.Context, job func(time.Time)) error {
	if job == nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.engine != nil {
		return nil
	}

	engine := cron.New(
		cron.WithLocation(c.location),
		cron.WithChain(cron.Recover(cronLogger{c.logger})),
	)
	id, err := engine.AddFunc(c.spec, func() { job(time.Now().In(c.location)) })
	if err != nil {
		return fmt.Errorf("register cron job %q: %w", c.spec, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.engine = engine
	c.cancel = cancel
	engine.Start()

	next := engine.Entry(id).Schedule.Next(time.Now().In(c.location))
	c.logger.Info("cron scheduler started", "spec", c.spec, "location", c.location.String(), "next", next)

	go func() {
		<-runCtx.Done()
		_ = c.Stop(context.Background())
	}()
	return nil
}

// Stop halts the cron loop and waits for a running job until ctx expires.
func (c *CronScheduler) Stop(ctx context.Context) error {
	c.mu.Lock()
	engine, cancel := c.engine, c.cancel
	c.engine, c.cancel = nil, nil
	c.mu.Unlock()

	if engine == nil {
		return nil
	}
	cancel()

	done := engine.Stop()
	select {
	case <-done.Done():
		c.logger.Info("cron scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for running job: %w", ctx.Err())
	}
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error(msg, append(keysAndValues, "error", err)...)
}
