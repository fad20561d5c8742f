package llm

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jangwonlee-rptly/hellomimir-dev/internal/config"
	"github.com/jangwonlee-rptly/hellomimir-dev/internal/domain"
	"github.com/jangwonlee-rptly/hellomimir-dev/internal/logging"
)

// ErrVisionUnavailable is returned when OCR is invoked without a configured credential.
var ErrVisionUnavailable = errors.New("vision extraction unavailable: no api key configured")

// RegionKind selects the OCR prompt for an image region.
type RegionKind string

const (
	RegionTable   RegionKind = "table"
	RegionFigure  RegionKind = "figure"
	RegionFormula RegionKind = "formula"
	RegionGeneral RegionKind = "general"
)

var regionPrompts = map[RegionKind]string{
	RegionTable:   "Extract this table and convert it to Markdown format. Preserve column alignment and all data. If there are formulas in cells, include them.",
	RegionFigure:  "Describe this figure or chart in detail. Extract any text labels, axis labels, legends, and captions.",
	RegionFormula: "Extract all mathematical formulas and equations. Use LaTeX notation where appropriate.",
	RegionGeneral: "Extract all text, formulas, tables, and diagrams. For tables, output as Markdown. Preserve the document structure.",
}

// Region is one image crop queued for OCR.
type Region struct {
	Image []byte
	Kind  RegionKind
}

// VisionClient runs OCR on image regions through an OpenAI-compatible vision model.
type VisionClient struct {
	endpoint    string
	model       string
	apiKey      string
	concurrency int
	httpClient  *http.Client
	logger      *slog.Logger
}

// NewVisionClient builds the client. A missing API key only disables it;
// construction never fails.
func NewVisionClient(cfg config.VisionConfig, log *slog.Logger) *VisionClient {
	log = logging.OrDiscard(log)
	if cfg.APIKey == "" {
		log.Warn("vision api key not set, OCR will not be available")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 3
	}
	return &VisionClient{
		endpoint:    cfg.Endpoint,
		model:       cfg.Model,
		apiKey:      cfg.APIKey,
		concurrency: concurrency,
		httpClient:  &http.Client{Timeout: timeout},
		logger:      log,
	}
}

// Available reports whether a credential is configured.
func (v *VisionClient) Available() bool {
	return v != nil && v.apiKey != ""
}

// ExtractRegion returns the text found in an image region. The media type is
// sniffed from the bytes; anything that is not an image is rejected.
func (v *VisionClient) ExtractRegion(ctx context.Context, image []byte, kind RegionKind) (string, error) {
	if !v.Available() {
		return "", ErrVisionUnavailable
	}
	prompt, ok := regionPrompts[kind]
	if !ok {
		prompt = regionPrompts[RegionGeneral]
	}

	dataURL, err := imageDataURL(image)
	if err != nil {
		return "", fmt.Errorf("ocr %s region: %w", kind, err)
	}
	payload := chatPayload{
		Model: v.model,
		Messages: []chatMessage{{
			Role: "user",
			Content: []map[string]any{
				{"type": "image_url", "image_url": map[string]string{"url": dataURL}},
				{"type": "text", "text": prompt},
			},
		}},
		Temperature: 0,
		MaxTokens:   4000,
	}

	text, err := postChat(ctx, v.httpClient, v.endpoint, v.apiKey, payload)
	if err != nil {
		return "", fmt.Errorf("ocr %s region: %w", kind, err)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		v.logger.Warn("empty text extracted from region", "kind", kind)
	}
	return text, nil
}

func imageDataURL(image []byte) (string, error) {
	mediaType := http.DetectContentType(image)
	if !strings.HasPrefix(mediaType, "image/") {
		return "", fmt.Errorf("%w: region is %s, not an image", domain.ErrValidation, mediaType)
	}
	return "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(image), nil
}

// BatchExtract runs ExtractRegion over regions with bounded concurrency.
// Results keep input order; a failed region yields "" instead of failing the batch.
func (v *VisionClient) BatchExtract(ctx context.Context, regions []Region) []string {
	results := make([]string, len(regions))
	if len(regions) == 0 {
		return results
	}

	limit := v.concurrency
	if limit <= 0 {
		limit = 1
	}

	var g errgroup.Group
	g.SetLimit(limit)
	for i, region := range regions {
		g.Go(func() error {
			text, err := v.ExtractRegion(ctx, region.Image, region.Kind)
			if err != nil {
				v.logger.Error("ocr failed for region", "index", i, "kind", region.Kind, "error", err)
				return nil
			}
			results[i] = text
			return nil
		})
	}
	_ = g.Wait()

	succeeded := 0
	for _, r := range results {
		if r != "" {
			succeeded++
		}
	}
	v.logger.Info("batch ocr complete", "succeeded", succeeded, "total", len(regions))
	return results
}
