package document

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"

	"github.com/jangwonlee-rptly/hellomimir-dev/internal/domain"
	"github.com/jangwonlee-rptly/hellomimir-dev/internal/infrastructure/httpx"
	"github.com/jangwonlee-rptly/hellomimir-dev/internal/logging"
	"github.com/jangwonlee-rptly/hellomimir-dev/internal/ports"
)

// Postgres TEXT cannot hold NUL, and U+FFFD only marks bytes the decoder lost.
var unstorable = strings.NewReplacer("\x00", "", "\uFFFD", "")

// Extractor downloads PDFs and derives plain text with page/character/word counts.
type Extractor struct {
	fetcher *httpx.Fetcher
	parse   func([]byte) (domain.ExtractedDocument, error)
	logger  *slog.Logger
}

var _ ports.DocumentExtractor = (*Extractor)(nil)

// NewExtractor wires the downloader used for document URLs.
func NewExtractor(fetcher *httpx.Fetcher, log *slog.Logger) *Extractor {
	return &Extractor{
		fetcher: fetcher,
		parse:   extractPDF,
		logger:  logging.OrDiscard(log),
	}
}

// Extract downloads url and returns its sanitized text. Download problems wrap
// domain.ErrFetch; unreadable documents wrap domain.ErrExtraction. Callers must
// still check Usable before treating the result as full text.
func (e *Extractor) Extract(ctx context.Context, url string) (domain.ExtractedDocument, error) {
	if e.fetcher == nil {
		return domain.ExtractedDocument{}, errors.New("document extractor has no fetcher")
	}

	e.logger.Info("downloading document", "url", url)
	data, err := e.fetcher.Get(ctx, url)
	if err != nil {
		return domain.ExtractedDocument{}, fmt.Errorf("download document: %w", err)
	}
	e.logger.Debug("downloaded document", "url", url, "bytes", len(data))

	doc, err := e.parse(data)
	if err != nil {
		return domain.ExtractedDocument{}, err
	}

	e.logger.Info("extracted document text",
		"url", url,
		"pages", doc.PageCount,
		"characters", doc.CharacterCount,
		"words", doc.WordCount,
	)
	return doc, nil
}

func extractPDF(data []byte) (doc domain.ExtractedDocument, err error) {
	// The PDF reader panics on some malformed cross-reference tables.
	defer func() {
		if r := recover(); r != nil {
			doc = domain.ExtractedDocument{}
			err = fmt.Errorf("%w: corrupt pdf: %v", domain.ErrExtraction, r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return domain.ExtractedDocument{}, fmt.Errorf("%w: open pdf: %v", domain.ErrExtraction, err)
	}

	pages := reader.NumPage()
	var (
		sb        strings.Builder
		pageErr   error
		readPages int
	)
	for i := 1; i <= pages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			pageErr = fmt.Errorf("page %d: %w", i, err)
			continue
		}
		readPages++
		sb.WriteString(text)
		sb.WriteString("\n\n")
	}

	if readPages == 0 && pageErr != nil {
		return domain.ExtractedDocument{}, fmt.Errorf("%w: %v", domain.ErrExtraction, pageErr)
	}

	return buildDocument(sb.String(), pages), nil
}

func buildDocument(raw string, pages int) domain.ExtractedDocument {
	text := strings.TrimSpace(Sanitize(raw))
	return domain.ExtractedDocument{
		Text:           text,
		PageCount:      pages,
		CharacterCount: utf8.RuneCountInString(text),
		WordCount:      len(strings.Fields(text)),
	}
}

// Sanitize strips characters the persistence layer cannot store.
func Sanitize(text string) string {
	return unstorable.Replace(text)
}
