// Package pipeline orchestrates the extract, transform, load, and
// quality-check stages into runnable pipelines.
package pipeline

import (
	"time"

	"github.com/google/uuid"

	"github.com/starforge/starforge/internal/quality"
)

// Pipeline run and step statuses.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
	StatusWarning = "warning"
)

// Pipeline names as they appear in reports.
const (
	PipelineFullRefresh = "full_refresh"
	PipelineIncremental = "incremental"
	PipelineScheduled   = "scheduled"
)

// StepReport records one pipeline step's outcome. Rows is the step's
// primary row count: rows extracted, loaded, or checked.
type StepReport struct {
	Name           string  `json:"name"`
	Status         string  `json:"status"`
	Rows           int64   `json:"rows"`
	Message        string  `json:"message,omitempty"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
}

// Report is the full run record emitted by every pipeline entry point.
type Report struct {
	RunID          string           `json:"run_id"`
	Pipeline       string           `json:"pipeline"`
	StartedAt      time.Time        `json:"started_at"`
	Status         string           `json:"status"`
	Steps          []StepReport     `json:"steps"`
	ElapsedSeconds float64          `json:"elapsed_seconds"`
	TableStats     map[string]int64 `json:"table_stats,omitempty"`
	Quality        *quality.Summary `json:"quality,omitempty"`
}

func newReport(pipeline string) *Report {
	return &Report{
		RunID:     uuid.NewString(),
		Pipeline:  pipeline,
		StartedAt: time.Now().UTC(),
		Status:    StatusSuccess,
	}
}

// step runs fn, timing it and recording the outcome. A step error marks
// the run failed and is returned to abort the pipeline.
func (r *Report) step(name string, fn func() (int64, string, error)) error {
	start := time.Now()
	rows, msg, err := fn()
	s := StepReport{
		Name:           name,
		Status:         StatusSuccess,
		Rows:           rows,
		Message:        msg,
		ElapsedSeconds: round2(time.Since(start).Seconds()),
	}
	if err != nil {
		s.Status = StatusFailed
		s.Message = err.Error()
		r.Status = StatusFailed
	}
	r.Steps = append(r.Steps, s)
	return err
}

// skipStep records a step that was intentionally not run.
func (r *Report) skipStep(name, reason string) {
	r.Steps = append(r.Steps, StepReport{
		Name:    name,
		Status:  StatusSkipped,
		Message: reason,
	})
}

func (r *Report) finish() {
	r.ElapsedSeconds = round2(time.Since(r.StartedAt).Seconds())
}

func round2(f float64) float64 {
	return float64(int64(f*100+0.5)) / 100
}
