package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jangwonlee-rptly/hellomimir-dev/internal/config"
	"github.com/jangwonlee-rptly/hellomimir-dev/internal/domain"
	"github.com/jangwonlee-rptly/hellomimir-dev/internal/httpapi"
	"github.com/jangwonlee-rptly/hellomimir-dev/internal/infrastructure/document"
	"github.com/jangwonlee-rptly/hellomimir-dev/internal/infrastructure/feed"
	"github.com/jangwonlee-rptly/hellomimir-dev/internal/infrastructure/httpx"
	"github.com/jangwonlee-rptly/hellomimir-dev/internal/infrastructure/llm"
	"github.com/jangwonlee-rptly/hellomimir-dev/internal/infrastructure/scheduler"
	"github.com/jangwonlee-rptly/hellomimir-dev/internal/infrastructure/storage"
	"github.com/jangwonlee-rptly/hellomimir-dev/internal/infrastructure/telegram"
	"github.com/jangwonlee-rptly/hellomimir-dev/internal/logging"
	"github.com/jangwonlee-rptly/hellomimir-dev/internal/ports"
	"github.com/jangwonlee-rptly/hellomimir-dev/internal/usecase"
)

// Version is reported by the health endpoints; set with -ldflags at build time.
var Version = "dev"

const shutdownTimeout = 30 * time.Second

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg      config.Config
	logger   *slog.Logger
	store    ports.Store
	postgres *storage.PostgresStore
	closers  []func() error
	ingestor *usecase.Ingestor
	vision   *llm.VisionClient
	notifier ports.Notifier
}

// New builds every adapter from cfg. The store is opened eagerly so a bad
// DSN fails at startup rather than on the first run.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	a := &Application{cfg: cfg, logger: baseLogger}

	switch cfg.Database.Driver {
	case config.DriverMemory:
		a.store = storage.NewMemoryStore(storage.FieldsFromConfig(cfg.Fields))
		baseLogger.Warn("using in-memory store, nothing survives a restart")
	default:
		db, err := storage.OpenPostgres(ctx, cfg.Database.DSN)
		if err != nil {
			return nil, err
		}
		a.postgres = storage.NewPostgresStore(db)
		a.store = a.postgres
		a.closers = append(a.closers, db.Close)
	}

	feedFetcher := httpx.NewFetcher(httpx.FetcherOptions{
		Timeout: cfg.Feed.Timeout,
		Gate:    httpx.NewCooldown(cfg.Feed.MinInterval),
		Retries: cfg.Feed.Retries,
		Logger:  baseLogger.With("component", "fetcher.feed"),
	})
	arxiv := feed.NewArxivClient(cfg.Feed.BaseURL, feedFetcher, baseLogger.With("component", "feed.arxiv"))

	docFetcher := httpx.NewFetcher(httpx.FetcherOptions{
		Timeout:  cfg.Document.Timeout,
		Retries:  cfg.Document.Retries,
		MaxBytes: cfg.Document.MaxBytes,
		Logger:   baseLogger.With("component", "fetcher.document"),
	})
	extractor := document.NewExtractor(docFetcher, baseLogger.With("component", "document"))

	if cfg.ChatGPT.APIKey == "" {
		baseLogger.Warn("chatgpt api key not set, summary and quiz generation will fail")
	}
	generator := llm.NewChatGPTClient(cfg.ChatGPT, baseLogger.With("component", "llm.chatgpt"))
	a.vision = llm.NewVisionClient(cfg.Vision, baseLogger.With("component", "llm.vision"))

	if n := telegram.NewNotifier(cfg.Notifications.Telegram); n != nil {
		a.notifier = n
	}

	a.ingestor = usecase.NewIngestor(usecase.IngestorDeps{
		Store:         a.store,
		Feed:          arxiv,
		Extractor:     extractor,
		Generator:     generator,
		Notifier:      a.notifier,
		Logger:        baseLogger.With("component", "ingestor"),
		FieldPause:    cfg.Ingest.FieldPause,
		MaxResults:    cfg.Feed.MaxResults,
		MinTextLength: cfg.Document.MinTextLength,
	})

	return a, nil
}

// Migrate applies the schema and seeds the configured fields. The in-memory
// store needs neither.
func (a *Application) Migrate(ctx context.Context) error {
	if a.postgres == nil {
		a.logger.Info("memory store selected, nothing to migrate")
		return nil
	}
	if err := a.postgres.Migrate(ctx); err != nil {
		return err
	}
	fields := storage.FieldsFromConfig(a.cfg.Fields)
	if err := a.postgres.SeedFields(ctx, fields); err != nil {
		return err
	}
	a.logger.Info("schema applied", "fields", len(fields))
	return nil
}

// RunOnce performs a single daily run for date ("" means today in UTC).
func (a *Application) RunOnce(ctx context.Context, date string) domain.RunReport {
	return a.ingestor.IngestDaily(ctx, date)
}

// ExtractRegions runs OCR over image regions with the configured vision model.
func (a *Application) ExtractRegions(ctx context.Context, regions []llm.Region) ([]string, error) {
	if !a.vision.Available() {
		return nil, llm.ErrVisionUnavailable
	}
	return a.vision.BatchExtract(ctx, regions), nil
}

// Serve runs the HTTP trigger surface and, when enabled, the cron schedule
// until ctx is done.
func (a *Application) Serve(ctx context.Context) error {
	var sched *usecase.Scheduler
	if a.cfg.Scheduler.Enabled {
		if err := scheduler.Validate(a.cfg.Scheduler.CronExpression); err != nil {
			return err
		}
		driver := scheduler.NewCronScheduler(a.cfg.Scheduler.CronExpression, a.cfg.Scheduler.Location(),
			a.logger.With("component", "scheduler"))
		sched = usecase.NewScheduler(driver, a.ingestor, a.cfg.Scheduler.Location(), a.logger.With("component", "scheduler"))
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
	}

	if a.cfg.Server.TriggerSecret == "" && !a.cfg.Server.AllowInsecureTrigger {
		a.logger.Warn("trigger secret not configured, POST /internal/papers/daily is disabled")
	}

	router := httpapi.NewRouter(httpapi.RouterConfig{
		Runner:               a.ingestor,
		Store:                a.store,
		BaseContext:          ctx,
		Logger:               a.logger.With("component", "http"),
		Version:              Version,
		TriggerSecret:        a.cfg.Server.TriggerSecret,
		AllowInsecureTrigger: a.cfg.Server.AllowInsecureTrigger,
		Services:             a.services(),
	})

	server := &http.Server{
		Addr:              a.cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if sched != nil {
		if err := sched.Stop(shutdownCtx); err != nil {
			a.logger.Warn("scheduler stop", "error", err)
		}
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("http server shutdown", "error", err)
	}

	if serveErr != nil {
		return fmt.Errorf("http server: %w", serveErr)
	}
	return nil
}

func (a *Application) services() map[string]string {
	state := func(ok bool, yes, no string) string {
		if ok {
			return yes
		}
		return no
	}
	return map[string]string{
		"arxiv":     "available",
		"openai":    state(a.cfg.ChatGPT.APIKey != "", "configured", "missing_key"),
		"vision":    state(a.vision.Available(), "available", "disabled"),
		"telegram":  state(a.notifier != nil, "enabled", "disabled"),
		"scheduler": state(a.cfg.Scheduler.Enabled, a.cfg.Scheduler.CronExpression, "disabled"),
	}
}

// Close releases the store connection.
func (a *Application) Close() error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}
