package harvest

import (
	"context"
	"time"

	"github.com/civichub/reportwatch/harvest/internal/category"
	"github.com/civichub/reportwatch/harvest/internal/store"
)

// ArtifactKey locates an artifact in the archive: category directory plus
// sanitized file name.
type ArtifactKey = store.Key

// Rule is a categorization rule: the first rule whose keyword matches the
// file name (case-insensitive substring) assigns its category.
type Rule = category.Rule

// Status classifies the outcome of one locator.
type Status string

const (
	// StatusSaved — fetched, validated, content changed (or first seen),
	// committed to the archive.
	StatusSaved Status = "saved"
	// StatusUnchanged — fetched and validated, digest matches the index; no
	// store mutation.
	StatusUnchanged Status = "unchanged"
	// StatusRejected — validation refused the content; no store mutation.
	StatusRejected Status = "rejected"
	// StatusFailed — fetch, digest, or commit error (including
	// cancellation).
	StatusFailed Status = "failed"
)

// Outcome is the result for a single input locator.
type Outcome struct {
	Locator  string        `json:"locator"`
	Status   Status        `json:"status"`
	Key      ArtifactKey   `json:"key,omitempty"`
	Digest   string        `json:"digest,omitempty"`
	Reason   string        `json:"reason,omitempty"`
	Error    string        `json:"error,omitempty"`
	Attempts int           `json:"attempts,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Report covers one Run call: exactly one Outcome per input locator, in
// input order, plus counters.
type Report struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Outcomes   []Outcome `json:"outcomes"`
	Saved      int       `json:"saved"`
	Unchanged  int       `json:"unchanged"`
	Rejected   int       `json:"rejected"`
	Failed     int       `json:"failed"`
}

func (r *Report) tally() {
	r.Saved, r.Unchanged, r.Rejected, r.Failed = 0, 0, 0, 0
	for _, o := range r.Outcomes {
		switch o.Status {
		case StatusSaved:
			r.Saved++
		case StatusUnchanged:
			r.Unchanged++
		case StatusRejected:
			r.Rejected++
		case StatusFailed:
			r.Failed++
		}
	}
}

// RunSummary is a condensed view of a past run, served by history sinks.
type RunSummary struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Saved      int       `json:"saved"`
	Unchanged  int       `json:"unchanged"`
	Rejected   int       `json:"rejected"`
	Failed     int       `json:"failed"`
}

// Recorder persists run reports for observability. Recording failures are
// logged and never affect the run result.
type Recorder interface {
	RecordRun(ctx context.Context, report *Report) error
}

// Historian serves past run summaries. Recorders that also implement
// Historian get their history exposed over the MCP and HTTP surfaces.
type Historian interface {
	History(ctx context.Context, limit int) ([]RunSummary, error)
	Outcomes(ctx context.Context, runID string) ([]Outcome, error)
}
