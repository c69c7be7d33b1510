package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Backup categories.
const (
	CategorySchemas           = "schemas"
	CategoryProcedures        = "procedures"
	CategoryOrchestrationDefs = "orchestration_defs"
	projectCategoryPrefix     = "project:"
)

// ProjectCategory is the category tag of a named project tree.
func ProjectCategory(name string) string { return projectCategoryPrefix + name }

// CategoryPath turns a category into a single path segment usable on disk and
// as part of a remote key ("project:gold" -> "project-gold").
func CategoryPath(category string) string {
	return strings.NewReplacer(":", "-", "/", "_", "\\", "_").Replace(category)
}

// RunID identifies one backup run. It sorts by creation time.
type RunID string

const runIDLayout = "20060102T150405Z"

// NewRunID returns a time-prefixed id with a random suffix so two runs started
// within the same second never collide.
func NewRunID(now time.Time) RunID {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return RunID(now.UTC().Format(runIDLayout) + "-" + suffix)
}

// Time recovers the creation time encoded in the id.
func (id RunID) Time() (time.Time, bool) {
	s := string(id)
	if len(s) < len(runIDLayout) {
		return time.Time{}, false
	}
	t, err := time.Parse(runIDLayout, s[:len(runIDLayout)])
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// BackupArtifact is the output of one backup operation.
type BackupArtifact struct {
	Category  string `json:"category"`
	Location  string `json:"location,omitempty"`
	Succeeded bool   `json:"succeeded"`
	Error     string `json:"error,omitempty"`
	// RemoteUploaded is nil unless a relay was attempted for this artifact.
	RemoteUploaded *bool     `json:"remote_uploaded,omitempty"`
	RemoteLocation string    `json:"remote_location,omitempty"`
	RemoteError    string    `json:"remote_error,omitempty"`
	CapturedAt     time.Time `json:"captured_at"`
}

// BackupReport is the output of one coordinator run.
type BackupReport struct {
	RunID            RunID            `json:"run_id"`
	Artifacts        []BackupArtifact `json:"artifacts"`
	OverallSucceeded bool             `json:"overall_succeeded"`
	StartedAt        time.Time        `json:"started_at"`
	FinishedAt       time.Time        `json:"finished_at"`
	// PersistError is set on the returned copy when the durable record could
	// not be written. It never appears in a persisted report.
	PersistError string `json:"persist_error,omitempty"`
}

// AllSucceeded is the conjunction of every artifact's Succeeded flag.
// Relay outcomes do not take part.
func AllSucceeded(artifacts []BackupArtifact) bool {
	for _, a := range artifacts {
		if !a.Succeeded {
			return false
		}
	}
	return true
}

// Failed returns the artifacts whose capture failed, in report order.
func (r BackupReport) Failed() []BackupArtifact {
	var out []BackupArtifact
	for _, a := range r.Artifacts {
		if !a.Succeeded {
			out = append(out, a)
		}
	}
	return out
}

// Meets is the backup gate: open only when every capture succeeded.
func (r BackupReport) Meets() bool { return r.OverallSucceeded }

// Clone returns a deep copy.
func (r BackupReport) Clone() BackupReport {
	out := r
	out.Artifacts = make([]BackupArtifact, len(r.Artifacts))
	for i, a := range r.Artifacts {
		if a.RemoteUploaded != nil {
			v := *a.RemoteUploaded
			a.RemoteUploaded = &v
		}
		out.Artifacts[i] = a
	}
	return out
}

func BoolPtr(b bool) *bool { return &b }
