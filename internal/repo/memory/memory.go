package memory

import (
	"context"
	"sync"
	"time"

	"github.com/hamed0406/pipewatch/internal/domain"
	"github.com/hamed0406/pipewatch/internal/repo"
)

var _ repo.ReportStore = (*Store)(nil)

// Store keeps reports in process memory. Reports are cloned on the way in and
// out so callers never share state with the store.
type Store struct {
	mu      sync.RWMutex
	health  []domain.HealthReport
	backups map[domain.RunID]domain.BackupReport
	alerts  map[string]repo.AlertRecord
}

func New() *Store {
	return &Store{
		health:  make([]domain.HealthReport, 0, 64),
		backups: make(map[domain.RunID]domain.BackupReport),
		alerts:  make(map[string]repo.AlertRecord),
	}
}

func (m *Store) SaveHealth(ctx context.Context, rep domain.HealthReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.health = append(m.health, rep.Clone())
	return nil
}

func (m *Store) LatestHealth(ctx context.Context) (domain.HealthReport, error) {
	list, _ := m.ListHealth(ctx, 1)
	if len(list) == 0 {
		return domain.HealthReport{}, repo.ErrNotFound
	}
	return list[0], nil
}

func (m *Store) ListHealth(ctx context.Context, limit int) ([]domain.HealthReport, error) {
	m.mu.RLock()
	out := make([]domain.HealthReport, 0, len(m.health))
	for _, r := range m.health {
		out = append(out, r.Clone())
	}
	m.mu.RUnlock()
	repo.SortHealthNewestFirst(out)
	return repo.Limit(out, limit), nil
}

func (m *Store) SaveBackup(ctx context.Context, rep domain.BackupReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.backups[rep.RunID] = rep.Clone()
	return nil
}

func (m *Store) GetBackup(ctx context.Context, id domain.RunID) (domain.BackupReport, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.backups[id]
	if !ok {
		return domain.BackupReport{}, repo.ErrNotFound
	}
	return r.Clone(), nil
}

func (m *Store) ListBackups(ctx context.Context, limit int) ([]domain.BackupReport, error) {
	m.mu.RLock()
	out := make([]domain.BackupReport, 0, len(m.backups))
	for _, r := range m.backups {
		out = append(out, r.Clone())
	}
	m.mu.RUnlock()
	repo.SortBackupsNewestFirst(out)
	return repo.Limit(out, limit), nil
}

func (m *Store) GetAlert(ctx context.Context, subject string) (*repo.AlertRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.alerts[subject]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (m *Store) SetAlert(ctx context.Context, subject, lastStatus string, sentAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := repo.AlertRecord{Subject: subject, LastStatus: lastStatus}
	if !sentAt.IsZero() {
		ts := sentAt
		rec.LastSentAt = &ts
	}
	m.alerts[subject] = rec
	return nil
}
