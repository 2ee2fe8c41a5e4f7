package models

import (
	"sort"
	"time"
)

// FailureClass is the healer's classification of a failed attempt.
type FailureClass string

const (
	FailureNetwork       FailureClass = "network"
	FailureTimeout       FailureClass = "timeout"
	FailureRateLimit     FailureClass = "rate_limit"
	FailureSelectorMiss  FailureClass = "selector_miss"
	FailureStructural    FailureClass = "structural_change"
	FailureNormalization FailureClass = "normalization"
	FailureHTTPClient    FailureClass = "http_client"
	FailurePersistence   FailureClass = "persistence"
	FailureUnknown       FailureClass = "unknown"
)

// Transient reports whether the class is worth a delayed retry.
func (c FailureClass) Transient() bool {
	switch c {
	case FailureNetwork, FailureTimeout, FailureRateLimit, FailureSelectorMiss:
		return true
	}
	return false
}

// Failure is one classified, abandoned unit or unpersisted listing.
type Failure struct {
	Unit     string       `json:"unit"`
	Class    FailureClass `json:"class"`
	Reason   string       `json:"reason"`
	Attempts int          `json:"attempts"`
	At       time.Time    `json:"at"`
}

// RunReport is the aggregate outcome of one orchestrator pass.
type RunReport struct {
	RunID      string        `json:"run_id"`
	Job        Job           `json:"job"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Elapsed    time.Duration `json:"elapsed"`

	Seen         int `json:"seen"`
	Extracted    int `json:"extracted"`
	Deduplicated int `json:"deduplicated"`
	Persisted    int `json:"persisted"`
	Failed       int `json:"failed"`

	ConsistencyWarnings int `json:"consistency_warnings"`
	StructuralAlerts    int `json:"structural_alerts"`

	FieldHits  map[string]int     `json:"field_hits"`
	FieldRates map[string]float64 `json:"field_rates"`
	Failures   []Failure          `json:"failures"`

	Canceled bool `json:"canceled"`
	Aborted  bool `json:"aborted"`
}

// NewRunReport starts a report for a pass.
func NewRunReport(runID string, job Job, startedAt time.Time) *RunReport {
	return &RunReport{
		RunID:      runID,
		Job:        job,
		StartedAt:  startedAt,
		FieldHits:  make(map[string]int),
		FieldRates: make(map[string]float64),
	}
}

// AddFailure appends a classified failure and bumps the failure counters.
func (r *RunReport) AddFailure(f Failure) {
	r.Failed++
	if f.Class == FailureStructural {
		r.StructuralAlerts++
	}
	r.Failures = append(r.Failures, f)
}

// Finalize computes elapsed time and per-field extraction rates over the
// units seen. Failures are ordered by time for stable output.
func (r *RunReport) Finalize(finishedAt time.Time) {
	r.FinishedAt = finishedAt
	r.Elapsed = finishedAt.Sub(r.StartedAt)
	for field, hits := range r.FieldHits {
		if r.Seen > 0 {
			r.FieldRates[field] = float64(hits) / float64(r.Seen)
		}
	}
	sort.SliceStable(r.Failures, func(i, j int) bool {
		return r.Failures[i].At.Before(r.Failures[j].At)
	})
}

// FailuresOf returns the failures with the given class.
func (r *RunReport) FailuresOf(class FailureClass) []Failure {
	var out []Failure
	for _, f := range r.Failures {
		if f.Class == class {
			out = append(out, f)
		}
	}
	return out
}
