// Package filestore persists reports as JSON documents under a root directory:
//
//	<root>/reports/health/<generated_at>.json
//	<root>/reports/backup/<run_id>.json
//	<root>/reports/alerts.json
//
// Every write goes through a temp file and a rename, so a reader sees either
// the previous document or the complete new one.
package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hamed0406/pipewatch/internal/atomicfile"
	"github.com/hamed0406/pipewatch/internal/domain"
	"github.com/hamed0406/pipewatch/internal/repo"
)

var _ repo.ReportStore = (*Store)(nil)

const healthNameLayout = "20060102T150405.000000000Z"

type Store struct {
	root string
	mu   sync.Mutex // serialises alerts.json read-modify-write
}

func New(root string) (*Store, error) {
	s := &Store{root: root}
	for _, d := range []string{s.healthDir(), s.backupDir()} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("filestore: %w", err)
		}
	}
	return s, nil
}

func (s *Store) healthDir() string { return filepath.Join(s.root, "reports", "health") }
func (s *Store) backupDir() string { return filepath.Join(s.root, "reports", "backup") }
func (s *Store) alertsPath() string {
	return filepath.Join(s.root, "reports", "alerts.json")
}

// HealthPath is where a report generated at t is stored.
func (s *Store) HealthPath(t time.Time) string {
	return filepath.Join(s.healthDir(), t.UTC().Format(healthNameLayout)+".json")
}

// BackupPath is where the report of run id is stored.
func (s *Store) BackupPath(id domain.RunID) string {
	return filepath.Join(s.backupDir(), string(id)+".json")
}

func (s *Store) SaveHealth(ctx context.Context, rep domain.HealthReport) error {
	return atomicfile.WriteJSON(s.HealthPath(rep.GeneratedAt), rep)
}

func (s *Store) LatestHealth(ctx context.Context) (domain.HealthReport, error) {
	list, err := s.ListHealth(ctx, 1)
	if err != nil {
		return domain.HealthReport{}, err
	}
	if len(list) == 0 {
		return domain.HealthReport{}, repo.ErrNotFound
	}
	return list[0], nil
}

func (s *Store) ListHealth(ctx context.Context, limit int) ([]domain.HealthReport, error) {
	names, err := documents(s.healthDir(), limit)
	if err != nil {
		return nil, err
	}
	out := make([]domain.HealthReport, 0, len(names))
	for _, n := range names {
		var rep domain.HealthReport
		if err := readJSON(filepath.Join(s.healthDir(), n), &rep); err != nil {
			return nil, err
		}
		out = append(out, rep)
	}
	return out, nil
}

func (s *Store) SaveBackup(ctx context.Context, rep domain.BackupReport) error {
	if rep.RunID == "" {
		return errors.New("filestore: backup report without run id")
	}
	return atomicfile.WriteJSON(s.BackupPath(rep.RunID), rep)
}

func (s *Store) GetBackup(ctx context.Context, id domain.RunID) (domain.BackupReport, error) {
	var rep domain.BackupReport
	if strings.ContainsAny(string(id), `/\`) || id == "" {
		return rep, repo.ErrNotFound
	}
	err := readJSON(s.BackupPath(id), &rep)
	if errors.Is(err, os.ErrNotExist) {
		return rep, repo.ErrNotFound
	}
	return rep, err
}

func (s *Store) ListBackups(ctx context.Context, limit int) ([]domain.BackupReport, error) {
	names, err := documents(s.backupDir(), limit)
	if err != nil {
		return nil, err
	}
	out := make([]domain.BackupReport, 0, len(names))
	for _, n := range names {
		var rep domain.BackupReport
		if err := readJSON(filepath.Join(s.backupDir(), n), &rep); err != nil {
			return nil, err
		}
		out = append(out, rep)
	}
	return out, nil
}

func (s *Store) GetAlert(ctx context.Context, subject string) (*repo.AlertRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all, err := s.readAlerts()
	if err != nil {
		return nil, err
	}
	rec, ok := all[subject]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (s *Store) SetAlert(ctx context.Context, subject, lastStatus string, sentAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	all, err := s.readAlerts()
	if err != nil {
		return err
	}
	rec := repo.AlertRecord{Subject: subject, LastStatus: lastStatus}
	if !sentAt.IsZero() {
		ts := sentAt.UTC()
		rec.LastSentAt = &ts
	}
	all[subject] = rec
	return atomicfile.WriteJSON(s.alertsPath(), all)
}

func (s *Store) readAlerts() (map[string]repo.AlertRecord, error) {
	all := map[string]repo.AlertRecord{}
	err := readJSON(s.alertsPath(), &all)
	if errors.Is(err, os.ErrNotExist) {
		return all, nil
	}
	return all, err
}

// documents lists finished *.json documents in dir, newest (lexically
// greatest) first. Temp files start with a dot and are skipped.
func documents(dir string, limit int) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("filestore: %w", err)
	}
	var names []string
	for _, e := range entries {
		n := e.Name()
		if e.IsDir() || strings.HasPrefix(n, ".") || filepath.Ext(n) != ".json" {
			continue
		}
		names = append(names, n)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	return repo.Limit(names, limit), nil
}

func readJSON(path string, v any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("filestore: decode %s: %w", filepath.Base(path), err)
	}
	return nil
}
