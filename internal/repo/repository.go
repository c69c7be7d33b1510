package repo

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/hamed0406/pipewatch/internal/domain"
)

// ErrNotFound is returned by lookups for a report that was never saved.
var ErrNotFound = errors.New("not found")

// SaveTimeout bounds a detached save.
const SaveTimeout = 15 * time.Second

// Detached keeps ctx's values but not its cancellation, bounded by
// SaveTimeout. A run that was cancelled still has its report written.
func Detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), SaveTimeout)
}

// Ports (interfaces); memory, filestore and postgres implement all of them.

// HealthStore keeps one document per aggregator run.
type HealthStore interface {
	SaveHealth(ctx context.Context, rep domain.HealthReport) error
	// LatestHealth returns ErrNotFound when nothing has been saved yet.
	LatestHealth(ctx context.Context) (domain.HealthReport, error)
	// ListHealth returns up to limit reports, newest first. limit <= 0 means all.
	ListHealth(ctx context.Context, limit int) ([]domain.HealthReport, error)
}

// BackupStore keeps one document per coordinator run, keyed by run id.
type BackupStore interface {
	SaveBackup(ctx context.Context, rep domain.BackupReport) error
	GetBackup(ctx context.Context, id domain.RunID) (domain.BackupReport, error)
	// ListBackups returns up to limit reports, newest run first. limit <= 0 means all.
	ListBackups(ctx context.Context, limit int) ([]domain.BackupReport, error)
}

// ReportStore is what the binaries wire: every store backend implements it.
type ReportStore interface {
	HealthStore
	BackupStore
	AlertStore
}

// Newest-first ordering shared by the backends.

func SortHealthNewestFirst(reps []domain.HealthReport) {
	sortSlice(reps, func(a, b domain.HealthReport) bool { return a.GeneratedAt.After(b.GeneratedAt) })
}

func SortBackupsNewestFirst(reps []domain.BackupReport) {
	sortSlice(reps, func(a, b domain.BackupReport) bool { return a.RunID > b.RunID })
}

func Limit[T any](s []T, n int) []T {
	if n > 0 && len(s) > n {
		return s[:n]
	}
	return s
}

func sortSlice[T any](s []T, less func(a, b T) bool) {
	sort.SliceStable(s, func(i, j int) bool { return less(s[i], s[j]) })
}
