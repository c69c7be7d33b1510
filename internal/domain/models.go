package domain

import (
	"sort"
	"time"
)

// Status is the outcome of a probe or a whole health run.
// Statuses are totally ordered: healthy < degraded < unhealthy.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Rank places s in the total order. Unknown values rank as unhealthy.
func (s Status) Rank() int {
	switch s {
	case StatusHealthy:
		return 0
	case StatusDegraded:
		return 1
	default:
		return 2
	}
}

func (s Status) Valid() bool {
	return s == StatusHealthy || s == StatusDegraded || s == StatusUnhealthy
}

// Worse returns whichever of a and b ranks higher.
func Worse(a, b Status) Status {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// ParseStatus maps a string onto a Status; anything unrecognised is unhealthy.
func ParseStatus(s string) Status {
	st := Status(s)
	if !st.Valid() {
		return StatusUnhealthy
	}
	return st
}

// CheckResult is the outcome of a single probe.
//
// Detail carries probe-specific scalar values (string, int64, float64, bool).
// Error is set only when the probe itself faulted, as opposed to measuring
// something bad.
type CheckResult struct {
	Name      string         `json:"name"`
	Status    Status         `json:"status"`
	Detail    map[string]any `json:"detail,omitempty"`
	Error     string         `json:"error,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

func (r CheckResult) Faulted() bool { return r.Error != "" }

// Effective is the status used for aggregation: a fault always counts as unhealthy.
func (r CheckResult) Effective() Status {
	if r.Faulted() {
		return StatusUnhealthy
	}
	return ParseStatus(string(r.Status))
}

func (r CheckResult) clone() CheckResult {
	out := r
	if r.Detail != nil {
		out.Detail = make(map[string]any, len(r.Detail))
		for k, v := range r.Detail {
			out.Detail[k] = v
		}
	}
	return out
}

// HealthReport is the output of one aggregator run.
type HealthReport struct {
	OverallStatus Status                 `json:"overall_status"`
	Results       map[string]CheckResult `json:"results"`
	GeneratedAt   time.Time              `json:"generated_at"`
}

// NewHealthReport folds results into a report. The report owns copies of the
// results, so later changes to the inputs never leak into it.
func NewHealthReport(results []CheckResult, generatedAt time.Time) HealthReport {
	rep := HealthReport{
		OverallStatus: OverallStatus(results),
		Results:       make(map[string]CheckResult, len(results)),
		GeneratedAt:   generatedAt,
	}
	for _, r := range results {
		if r.Timestamp.After(rep.GeneratedAt) {
			rep.GeneratedAt = r.Timestamp
		}
		rep.Results[r.Name] = r.clone()
	}
	return rep
}

// OverallStatus is the maximum effective status of results; healthy when empty.
func OverallStatus(results []CheckResult) Status {
	overall := StatusHealthy
	for _, r := range results {
		overall = Worse(overall, r.Effective())
	}
	return overall
}

// Names returns the probe names in the report, sorted.
func (r HealthReport) Names() []string {
	names := make([]string, 0, len(r.Results))
	for n := range r.Results {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Meets reports whether the overall status is no worse than max.
// A downstream stage gated on "degraded" opens for healthy and degraded reports.
func (r HealthReport) Meets(max Status) bool {
	return r.OverallStatus.Rank() <= max.Rank()
}

// Clone returns a deep copy.
func (r HealthReport) Clone() HealthReport {
	out := r
	out.Results = make(map[string]CheckResult, len(r.Results))
	for k, v := range r.Results {
		out.Results[k] = v.clone()
	}
	return out
}
