package httpapi

import (
	"context"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jangwonlee-rptly/hellomimir-dev/internal/domain"
	"github.com/jangwonlee-rptly/hellomimir-dev/internal/logging"
)

// DailyRunner is the ingestion entry point exposed over HTTP.
type DailyRunner interface {
	IngestDaily(ctx context.Context, date string) domain.RunReport
	LastReport() (domain.RunReport, bool)
}

// Pinger reports store connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RouterConfig carries everything the HTTP surface depends on.
type RouterConfig struct {
	Runner DailyRunner
	Store  Pinger
	// BaseContext bounds triggered runs. Runs are detached from the
	// request so a caller hanging up does not cancel ingestion.
	BaseContext context.Context
	Logger      *slog.Logger
	Version     string

	TriggerSecret        string
	AllowInsecureTrigger bool

	// Services holds static service states reported by /internal/status.
	Services map[string]string
	Clock    func() time.Time
}

// NewRouter builds the gin engine with health, status and trigger routes.
func NewRouter(cfg RouterConfig) *gin.Engine {
	log := logging.OrDiscard(cfg.Logger)
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	router := gin.New()
	router.Use(requestLogger(log), recovery(log))

	h := &handler{
		runner:   cfg.Runner,
		store:    cfg.Store,
		baseCtx:  cfg.BaseContext,
		logger:   log,
		version:  cfg.Version,
		services: cfg.Services,
		clock:    cfg.Clock,
	}

	router.GET("/health", h.health)
	router.GET("/internal/status", h.status)

	internal := router.Group("/internal")
	internal.Use(requireCronSecret(cfg.TriggerSecret, cfg.AllowInsecureTrigger, log))
	internal.POST("/papers/daily", h.runDaily)

	return router
}
