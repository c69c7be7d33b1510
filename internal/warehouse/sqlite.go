package warehouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/hamed0406/pipewatch/internal/domain"
)

// SQLiteConnector opens a SQLite database and attaches one file per layer
// schema, so "silver.crm_cust_info" resolves the same way it would on a
// server warehouse. Used for local runs and tests.
type SQLiteConnector struct {
	Path   string
	Attach map[string]string
}

func (c *SQLiteConnector) Connect(ctx context.Context) (Conn, error) {
	path := c.Path
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, domain.NewFault(domain.ConnectionFault, "open", err)
	}
	// ATTACH is per connection; pin the pool to one so every query sees the schemas.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, domain.NewFault(domain.ConnectionFault, "ping", err)
	}

	names := make([]string, 0, len(c.Attach))
	for name := range c.Attach {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, err := db.ExecContext(ctx, "ATTACH DATABASE ? AS "+quoteIdent(name), c.Attach[name]); err != nil {
			db.Close()
			return nil, domain.NewFault(domain.ConnectionFault, "attach "+name, err)
		}
	}
	return &sqliteConn{db: db}, nil
}

type sqliteConn struct {
	db *sql.DB
}

func (s *sqliteConn) Ping(ctx context.Context) error {
	return domain.NewFault(domain.ConnectionFault, "ping", s.db.PingContext(ctx))
}

func (s *sqliteConn) Version(ctx context.Context) (string, error) {
	var v string
	if err := s.db.QueryRowContext(ctx, `SELECT sqlite_version()`).Scan(&v); err != nil {
		return "", domain.NewFault(domain.QueryFault, "version", err)
	}
	return "SQLite " + v, nil
}

func (s *sqliteConn) QueryNumber(ctx context.Context, query string) (float64, error) {
	var v any
	err := s.db.QueryRowContext(ctx, query).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, domain.NewFault(domain.QueryFault, "scalar", ErrNullResult)
	}
	if err != nil {
		return 0, domain.NewFault(domain.QueryFault, "scalar", err)
	}
	f, err := toFloat(v)
	if err != nil {
		return 0, domain.NewFault(domain.QueryFault, "scalar", err)
	}
	return f, nil
}

func (s *sqliteConn) Schemas(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `PRAGMA database_list`)
	if err != nil {
		return nil, domain.NewFault(domain.QueryFault, "list schemas", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var (
			seq        int
			name, file string
		)
		if err := rows.Scan(&seq, &name, &file); err != nil {
			return nil, domain.NewFault(domain.QueryFault, "list schemas", err)
		}
		if name == "temp" {
			continue
		}
		out = append(out, name)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewFault(domain.QueryFault, "list schemas", err)
	}
	sort.Strings(out)
	return out, nil
}

func (s *sqliteConn) Tables(ctx context.Context, schema string) ([]string, error) {
	op := "list tables " + schema
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT name FROM %s.sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%%' ORDER BY name`,
		quoteIdent(schema)))
	if err != nil {
		return nil, domain.NewFault(domain.QueryFault, op, err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, domain.NewFault(domain.QueryFault, op, err)
		}
		out = append(out, name)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewFault(domain.QueryFault, op, err)
	}
	return out, nil
}

func (s *sqliteConn) TableDDL(ctx context.Context, schema, table string) (string, error) {
	op := "table ddl " + schema + "." + table
	var ddl sql.NullString
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT sql FROM %s.sqlite_master WHERE type = 'table' AND name = ?`, quoteIdent(schema)), table).Scan(&ddl)
	if errors.Is(err, sql.ErrNoRows) {
		return "", domain.NewFault(domain.QueryFault, op, fmt.Errorf("table %s.%s no longer exists", schema, table))
	}
	if err != nil {
		return "", domain.NewFault(domain.QueryFault, op, err)
	}
	if !ddl.Valid {
		return "", domain.NewFault(domain.QueryFault, op, ErrNullResult)
	}
	return ddl.String, nil
}

// Procedures is empty: SQLite has no stored procedures.
func (s *sqliteConn) Procedures(ctx context.Context) ([]Routine, error) {
	return nil, nil
}

func (s *sqliteConn) ProcedureDDL(ctx context.Context, r Routine) (string, error) {
	return "", domain.NewFault(domain.QueryFault, "procedure ddl "+r.Key(), ErrUnsupported)
}

func (s *sqliteConn) Close() error { return s.db.Close() }

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
