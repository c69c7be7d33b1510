package notify

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/multierr"

	"github.com/hamed0406/pipewatch/internal/domain"
)

// Notifier forwards a Message to a human-facing channel. Formatting belongs to
// the Notifier; a Message only carries the reports.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

type Kind string

const (
	KindHealth  Kind = "health"
	KindBackup  Kind = "backup"
	KindSummary Kind = "summary"
)

// Message is the typed payload handed to sinks. Exactly one of Health, Backup
// or Summary is set, matching Kind.
type Message struct {
	Kind     Kind
	Title    string
	Previous domain.Status // previous overall status, for health transitions
	Health   *domain.HealthReport
	Backup   *domain.BackupReport
	Summary  *Summary
}

func HealthMessage(rep domain.HealthReport, previous domain.Status) Message {
	title := fmt.Sprintf("Pipeline health %s", strings.ToUpper(string(rep.OverallStatus)))
	if rep.OverallStatus == domain.StatusHealthy && previous != "" && previous != domain.StatusHealthy {
		title = "Pipeline health RECOVERED"
	}
	r := rep.Clone()
	return Message{Kind: KindHealth, Title: title, Previous: previous, Health: &r}
}

func BackupMessage(rep domain.BackupReport) Message {
	title := "Backup run succeeded"
	if !rep.OverallSucceeded {
		title = fmt.Sprintf("Backup run FAILED (%d of %d)", len(rep.Failed()), len(rep.Artifacts))
	}
	r := rep.Clone()
	return Message{Kind: KindBackup, Title: title, Backup: &r}
}

// Summary condenses a period of runs.
type Summary struct {
	Since            time.Time
	Until            time.Time
	HealthRuns       int
	HealthyRuns      int
	BackupRuns       int
	FailedBackupRuns int
	MaxHoursBehind   float64
	LatestStatus     domain.Status
	TopIssues        []string
}

// NewSummary folds the reports produced in [since, until). Issues are ranked
// by how many runs reported them.
func NewSummary(since, until time.Time, healths []domain.HealthReport, backups []domain.BackupReport) Summary {
	s := Summary{Since: since, Until: until}
	issues := map[string]int{}
	var latest time.Time
	for _, h := range healths {
		if h.GeneratedAt.Before(since) || !h.GeneratedAt.Before(until) {
			continue
		}
		s.HealthRuns++
		if h.OverallStatus == domain.StatusHealthy {
			s.HealthyRuns++
		}
		if h.GeneratedAt.After(latest) {
			latest = h.GeneratedAt
			s.LatestStatus = h.OverallStatus
		}
		for _, name := range h.Names() {
			r := h.Results[name]
			for k, v := range r.Detail {
				if f, ok := v.(float64); ok && strings.HasSuffix(k, "_hours_behind") && f > s.MaxHoursBehind {
					s.MaxHoursBehind = f
				}
			}
			switch {
			case r.Faulted():
				issues[name+": "+r.Error]++
			case r.Status != domain.StatusHealthy:
				issues[name+" "+string(r.Status)+issueDetail(r)]++
			}
		}
	}
	for _, b := range backups {
		if b.StartedAt.Before(since) || !b.StartedAt.Before(until) {
			continue
		}
		s.BackupRuns++
		if !b.OverallSucceeded {
			s.FailedBackupRuns++
		}
		for _, a := range b.Failed() {
			issues["backup "+a.Category+": "+a.Error]++
		}
	}
	for k := range issues {
		s.TopIssues = append(s.TopIssues, k)
	}
	sort.Slice(s.TopIssues, func(i, j int) bool {
		a, b := s.TopIssues[i], s.TopIssues[j]
		if issues[a] != issues[b] {
			return issues[a] > issues[b]
		}
		return a < b
	})
	if len(s.TopIssues) > 5 {
		s.TopIssues = s.TopIssues[:5]
	}
	return s
}

func SummaryMessage(s Summary) Message {
	return Message{Kind: KindSummary, Title: "Daily pipeline summary", Summary: &s}
}

func issueDetail(r domain.CheckResult) string {
	for _, k := range []string{"stale_layers", "failed_rules"} {
		if v, ok := r.Detail[k]; ok {
			return fmt.Sprintf(" (%s: %v)", k, v)
		}
	}
	return ""
}

// Problems lists the non-healthy results of a health report, sorted by name,
// one line each. Shared by the renderers.
func Problems(rep domain.HealthReport) []string {
	var out []string
	for _, name := range rep.Names() {
		r := rep.Results[name]
		switch {
		case r.Faulted():
			out = append(out, fmt.Sprintf("%s: %s", name, r.Error))
		case r.Status != domain.StatusHealthy:
			out = append(out, fmt.Sprintf("%s: %s%s", name, r.Status, issueDetail(r)))
		}
	}
	return out
}

// Multi fans a message out to every notifier and returns all their errors.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, msg Message) error {
	var errs error
	for _, n := range m {
		if n == nil {
			continue
		}
		errs = multierr.Append(errs, n.Send(ctx, msg))
	}
	return errs
}
