package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hamed0406/pipewatch/internal/domain"
	"github.com/hamed0406/pipewatch/internal/repo"
)

var _ repo.ReportStore = (*Store)(nil)

// Schema creates the report tables. Reports are stored whole as JSONB next
// to the columns used for ordering and lookup.
const Schema = `
CREATE TABLE IF NOT EXISTS health_reports (
  id             BIGSERIAL PRIMARY KEY,
  overall_status TEXT NOT NULL,
  generated_at   TIMESTAMPTZ NOT NULL,
  report         JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_health_reports_generated_at ON health_reports (generated_at DESC);

CREATE TABLE IF NOT EXISTS backup_reports (
  run_id            TEXT PRIMARY KEY,
  overall_succeeded BOOLEAN NOT NULL,
  started_at        TIMESTAMPTZ NOT NULL,
  report            JSONB NOT NULL
);

CREATE TABLE IF NOT EXISTS alerts (
  subject      TEXT PRIMARY KEY,
  last_status  TEXT NOT NULL,
  last_sent_at TIMESTAMPTZ NULL
);
`

type Store struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

func New(ctx context.Context, dsn string, log *zap.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	ctxPing, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctxPing); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{pool: pool, log: log}, nil
}

// Migrate applies Schema; it is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// ---- HealthStore ----

func (s *Store) SaveHealth(ctx context.Context, rep domain.HealthReport) error {
	doc, err := json.Marshal(rep)
	if err != nil {
		return fmt.Errorf("marshal health report: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO health_reports (overall_status, generated_at, report)
		 VALUES ($1, $2, $3)`,
		string(rep.OverallStatus), rep.GeneratedAt, doc,
	)
	if err != nil {
		return fmt.Errorf("insert health report: %w", err)
	}
	return nil
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
	rows, err := s.pool.Query(ctx,
		`SELECT report FROM health_reports
		  ORDER BY generated_at DESC, id DESC
		  LIMIT $1`, sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list health reports: %w", err)
	}
	return collectJSON[domain.HealthReport](rows)
}

// ---- BackupStore ----

func (s *Store) SaveBackup(ctx context.Context, rep domain.BackupReport) error {
	doc, err := json.Marshal(rep)
	if err != nil {
		return fmt.Errorf("marshal backup report: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO backup_reports (run_id, overall_succeeded, started_at, report)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (run_id)
		 DO UPDATE SET overall_succeeded=EXCLUDED.overall_succeeded, report=EXCLUDED.report`,
		string(rep.RunID), rep.OverallSucceeded, rep.StartedAt, doc,
	)
	if err != nil {
		return fmt.Errorf("upsert backup report: %w", err)
	}
	return nil
}

func (s *Store) GetBackup(ctx context.Context, id domain.RunID) (domain.BackupReport, error) {
	var rep domain.BackupReport
	var doc []byte
	err := s.pool.QueryRow(ctx, `SELECT report FROM backup_reports WHERE run_id=$1`, string(id)).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return rep, repo.ErrNotFound
	}
	if err != nil {
		return rep, fmt.Errorf("get backup report: %w", err)
	}
	if err := json.Unmarshal(doc, &rep); err != nil {
		return rep, fmt.Errorf("decode backup report %s: %w", id, err)
	}
	return rep, nil
}

func (s *Store) ListBackups(ctx context.Context, limit int) ([]domain.BackupReport, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT report FROM backup_reports
		  ORDER BY run_id DESC
		  LIMIT $1`, sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list backup reports: %w", err)
	}
	return collectJSON[domain.BackupReport](rows)
}

// ---- AlertStore ----

func (s *Store) GetAlert(ctx context.Context, subject string) (*repo.AlertRecord, error) {
	const q = `SELECT last_status, last_sent_at FROM alerts WHERE subject=$1`
	r := repo.AlertRecord{Subject: subject}
	err := s.pool.QueryRow(ctx, q, subject).Scan(&r.LastStatus, &r.LastSentAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) SetAlert(ctx context.Context, subject, lastStatus string, sentAt time.Time) error {
	const q = `
		INSERT INTO alerts (subject, last_status, last_sent_at)
		VALUES ($1,$2,$3)
		ON CONFLICT (subject)
		DO UPDATE SET last_status=EXCLUDED.last_status, last_sent_at=EXCLUDED.last_sent_at
	`
	var ts *time.Time
	if !sentAt.IsZero() {
		ts = &sentAt
	}
	_, err := s.pool.Exec(ctx, q, subject, lastStatus, ts)
	return err
}

// sqlLimit maps "no limit" onto NULL, which LIMIT treats as unbounded.
func sqlLimit(n int) *int {
	if n <= 0 {
		return nil
	}
	return &n
}

func collectJSON[T any](rows pgx.Rows) ([]T, error) {
	docs, err := pgx.CollectRows(rows, pgx.RowTo[[]byte])
	if err != nil {
		return nil, fmt.Errorf("scan reports: %w", err)
	}
	out := make([]T, 0, len(docs))
	for _, d := range docs {
		var v T
		if err := json.Unmarshal(d, &v); err != nil {
			return nil, fmt.Errorf("decode report: %w", err)
		}
		out = append(out, v)
	}
	return out, nil
}
