package httpapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jangwonlee-rptly/hellomimir-dev/internal/domain"
)

const pingTimeout = 3 * time.Second

type handler struct {
	runner   DailyRunner
	store    Pinger
	baseCtx  context.Context
	logger   *slog.Logger
	version  string
	services map[string]string
	clock    func() time.Time
}

type dailyRequest struct {
	Date string `json:"date"`
}

type dailyResponse struct {
	Message      string               `json:"message"`
	Date         string               `json:"date"`
	SuccessCount int                  `json:"success_count"`
	FailCount    int                  `json:"fail_count"`
	Results      []domain.FieldResult `json:"results"`
}

type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
}

type statusResponse struct {
	healthResponse
	DatabaseConnected bool              `json:"database_connected"`
	Services          map[string]string `json:"services"`
	LastRun           *domain.RunReport `json:"last_run,omitempty"`
}

// runDaily triggers ingestion for the optional body date, or today.
// Partial failures are still a 200 with per-field results.
func (h *handler) runDaily(c *gin.Context) {
	var req dailyRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(c, http.StatusBadRequest, "invalid_body", fmt.Errorf("invalid request body: %w", err))
		return
	}

	date := ""
	if req.Date != "" {
		parsed, err := domain.ParseDate(req.Date)
		if err != nil {
			respondError(c, http.StatusBadRequest, "invalid_date", err)
			return
		}
		date = parsed
	}

	h.logger.Info("daily ingestion triggered over http", "date", date)
	report := h.runner.IngestDaily(h.baseCtx, date)
	if report.Failed() {
		respondError(c, http.StatusInternalServerError, "run_failed", errors.New(report.Error))
		return
	}

	respondOK(c, dailyResponse{
		Message:      fmt.Sprintf("Processed %d fields", len(report.Results)),
		Date:         report.Date,
		SuccessCount: report.SuccessCount,
		FailCount:    report.FailCount,
		Results:      report.Results,
	})
}

func (h *handler) health(c *gin.Context) {
	respondOK(c, healthResponse{
		Status:    "ok",
		Timestamp: h.clock().UTC(),
		Version:   h.version,
	})
}

func (h *handler) status(c *gin.Context) {
	connected := false
	if h.store != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), pingTimeout)
		defer cancel()
		if err := h.store.Ping(ctx); err != nil {
			h.logger.Warn("store ping failed", "error", err)
		} else {
			connected = true
		}
	}

	services := map[string]string{"database": "disconnected"}
	maps.Copy(services, h.services)
	if connected {
		services["database"] = "connected"
	}

	resp := statusResponse{
		healthResponse: healthResponse{
			Status:    "ok",
			Timestamp: h.clock().UTC(),
			Version:   h.version,
		},
		DatabaseConnected: connected,
		Services:          services,
	}
	if !connected {
		resp.Status = "degraded"
	}
	if h.runner != nil {
		if last, ok := h.runner.LastReport(); ok {
			resp.LastRun = &last
		}
	}
	respondOK(c, resp)
}
