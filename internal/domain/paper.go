package domain

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// DateLayout is the calendar date format used for daily assignments.
const DateLayout = "2006-01-02"

// ParseDate validates a YYYY-MM-DD calendar date and returns it in canonical form.
func ParseDate(raw string) (string, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("%w: invalid date %q, expected YYYY-MM-DD", ErrValidation, raw)
	}
	return t.Format(DateLayout), nil
}

// Field is a topical category with its own feed query. Read-only to the pipeline.
type Field struct {
	ID         uuid.UUID
	Slug       string
	Name       string
	ArxivQuery string
}

// Candidate is a transient feed record considered during selection.
type Candidate struct {
	ExternalID  string
	Title       string
	Abstract    string
	Authors     []string
	Categories  []string
	PublishedAt time.Time
	PDFURL      string
}

// PaperInput carries the fields written by an upsert keyed on ExternalID.
type PaperInput struct {
	ExternalID  string
	Title       string
	Abstract    string
	Authors     []string
	Categories  []string
	PDFURL      string
	PublishedAt time.Time
}

// PaperInputFromCandidate maps a selected candidate onto the upsert payload.
func PaperInputFromCandidate(c Candidate) PaperInput {
	return PaperInput{
		ExternalID:  c.ExternalID,
		Title:       c.Title,
		Abstract:    c.Abstract,
		Authors:     c.Authors,
		Categories:  c.Categories,
		PDFURL:      c.PDFURL,
		PublishedAt: c.PublishedAt,
	}
}

// Paper is the durable record keyed by ExternalID.
type Paper struct {
	ID          uuid.UUID
	ExternalID  string
	Title       string
	Abstract    string
	FullText    string
	Authors     []string
	Categories  []string
	PDFURL      string
	PublishedAt time.Time
	CreatedAt   time.Time
}

// HasFullText reports whether extraction already stored text for the paper.
func (p Paper) HasFullText() bool {
	return strings.TrimSpace(p.FullText) != ""
}

// DailyAssignment binds one paper to one field for one calendar date.
type DailyAssignment struct {
	ID        uuid.UUID
	Date      string
	FieldID   uuid.UUID
	PaperID   uuid.UUID
	CreatedAt time.Time
}

// ExtractedDocument is the text and structural metadata derived from a PDF.
type ExtractedDocument struct {
	Text           string
	PageCount      int
	CharacterCount int
	WordCount      int
}

// Usable reports whether the trimmed text has more than minLength characters.
// Shorter output must be handled exactly like a failed extraction.
func (d ExtractedDocument) Usable(minLength int) bool {
	return utf8.RuneCountInString(strings.TrimSpace(d.Text)) > minLength
}
