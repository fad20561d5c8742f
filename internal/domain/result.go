package domain

import "github.com/google/uuid"

// FieldResult is the outcome of one field's run.
type FieldResult struct {
	FieldSlug  string     `json:"field_slug"`
	Success    bool       `json:"success"`
	PaperID    *uuid.UUID `json:"paper_id,omitempty"`
	ExternalID string     `json:"arxiv_id,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// RunReport aggregates every field processed for one date. Error is set when
// the run failed as a whole, before any field could be attempted.
type RunReport struct {
	Date         string        `json:"date"`
	SuccessCount int           `json:"success_count"`
	FailCount    int           `json:"fail_count"`
	Results      []FieldResult `json:"results"`
	Error        string        `json:"error,omitempty"`
}

// Failed reports whether the run aborted before processing fields.
func (r RunReport) Failed() bool {
	return r.Error != ""
}

// NewRunReport counts outcomes; results are kept in processing order.
func NewRunReport(date string, results []FieldResult) RunReport {
	report := RunReport{Date: date, Results: results}
	for _, r := range results {
		if r.Success {
			report.SuccessCount++
		} else {
			report.FailCount++
		}
	}
	return report
}
