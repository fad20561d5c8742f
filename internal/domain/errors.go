package domain

import (
	"errors"
	"fmt"
)

// Failure taxonomy shared by every component. Wrap with fmt.Errorf("%w: ...")
// and test with errors.Is.
var (
	ErrFetch      = errors.New("fetch failure")
	ErrParse      = errors.New("parse failure")
	ErrExtraction = errors.New("extraction failure")
	ErrValidation = errors.New("validation failure")
	ErrNotFound   = errors.New("not found")
	ErrStore      = errors.New("store failure")
)

// StatusError is a FetchFailure caused by a non-success HTTP response.
type StatusError struct {
	URL        string
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned %s", e.URL, e.Status)
}

// Unwrap classifies every StatusError as ErrFetch.
func (e *StatusError) Unwrap() error { return ErrFetch }

// Retryable reports whether the upstream may succeed on a later attempt.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}
