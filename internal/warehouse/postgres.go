package warehouse

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/hamed0406/pipewatch/internal/domain"
)

// PostgresConnector opens single pgx connections. Table definitions are
// rebuilt from information_schema; procedure bodies come from pg_get_functiondef.
type PostgresConnector struct {
	DSN            string
	ConnectTimeout time.Duration
}

func (c *PostgresConnector) Connect(ctx context.Context) (Conn, error) {
	cfg, err := pgx.ParseConfig(c.DSN)
	if err != nil {
		return nil, domain.NewFault(domain.ConnectionFault, "parse dsn", err)
	}
	if c.ConnectTimeout > 0 {
		cfg.ConnectTimeout = c.ConnectTimeout
	}
	conn, err := pgx.ConnectConfig(ctx, cfg)
	if err != nil {
		return nil, domain.NewFault(domain.ConnectionFault, "connect", err)
	}
	return &pgConn{conn: conn}, nil
}

type pgConn struct {
	conn *pgx.Conn
}

func (p *pgConn) Ping(ctx context.Context) error {
	return domain.NewFault(domain.ConnectionFault, "ping", p.conn.Ping(ctx))
}

func (p *pgConn) Version(ctx context.Context) (string, error) {
	var v string
	if err := p.conn.QueryRow(ctx, `SELECT version()`).Scan(&v); err != nil {
		return "", domain.NewFault(domain.QueryFault, "version", err)
	}
	return v, nil
}

func (p *pgConn) QueryNumber(ctx context.Context, query string) (float64, error) {
	var v any
	err := p.conn.QueryRow(ctx, query).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, domain.NewFault(domain.QueryFault, "scalar", ErrNullResult)
	}
	if err != nil {
		return 0, domain.NewFault(domain.QueryFault, "scalar", err)
	}
	if num, ok := v.(pgtype.Numeric); ok {
		f8, err := num.Float64Value()
		if err != nil {
			return 0, domain.NewFault(domain.QueryFault, "scalar", err)
		}
		if !f8.Valid {
			return 0, domain.NewFault(domain.QueryFault, "scalar", ErrNullResult)
		}
		return f8.Float64, nil
	}
	f, err := toFloat(v)
	if err != nil {
		return 0, domain.NewFault(domain.QueryFault, "scalar", err)
	}
	return f, nil
}

func (p *pgConn) strings(ctx context.Context, op, query string, args ...any) ([]string, error) {
	rows, err := p.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, domain.NewFault(domain.QueryFault, op, err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, domain.NewFault(domain.QueryFault, op, err)
	}
	return out, nil
}

func (p *pgConn) Schemas(ctx context.Context) ([]string, error) {
	return p.strings(ctx, "list schemas", `
SELECT schema_name
  FROM information_schema.schemata
 WHERE schema_name NOT IN ('pg_catalog', 'information_schema')
   AND schema_name NOT LIKE 'pg_toast%'
 ORDER BY schema_name`)
}

func (p *pgConn) Tables(ctx context.Context, schema string) ([]string, error) {
	return p.strings(ctx, "list tables "+schema, `
SELECT table_name
  FROM information_schema.tables
 WHERE table_schema = $1 AND table_type = 'BASE TABLE'
 ORDER BY table_name`, schema)
}

func (p *pgConn) TableDDL(ctx context.Context, schema, table string) (string, error) {
	op := "table ddl " + schema + "." + table
	rows, err := p.conn.Query(ctx, `
SELECT column_name, data_type, is_nullable, column_default
  FROM information_schema.columns
 WHERE table_schema = $1 AND table_name = $2
 ORDER BY ordinal_position`, schema, table)
	if err != nil {
		return "", domain.NewFault(domain.QueryFault, op, err)
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var (
			name, typ, nullable string
			def                 *string
		)
		if err := rows.Scan(&name, &typ, &nullable, &def); err != nil {
			return "", domain.NewFault(domain.QueryFault, op, err)
		}
		col := "  " + pgx.Identifier{name}.Sanitize() + " " + typ
		if nullable == "NO" {
			col += " NOT NULL"
		}
		if def != nil {
			col += " DEFAULT " + *def
		}
		cols = append(cols, col)
	}
	if err := rows.Err(); err != nil {
		return "", domain.NewFault(domain.QueryFault, op, err)
	}
	if len(cols) == 0 {
		return "", domain.NewFault(domain.QueryFault, op, fmt.Errorf("table %s.%s has no columns or no longer exists", schema, table))
	}
	return fmt.Sprintf("CREATE TABLE %s (\n%s\n);", pgx.Identifier{schema, table}.Sanitize(), strings.Join(cols, ",\n")), nil
}

func (p *pgConn) Procedures(ctx context.Context) ([]Routine, error) {
	rows, err := p.conn.Query(ctx, `
SELECT n.nspname, p.proname, pg_get_function_identity_arguments(p.oid), p.oid::int8
  FROM pg_proc p
  JOIN pg_namespace n ON n.oid = p.pronamespace
 WHERE p.prokind = 'p'
   AND n.nspname NOT IN ('pg_catalog', 'information_schema')
 ORDER BY 1, 2, 3`)
	if err != nil {
		return nil, domain.NewFault(domain.QueryFault, "list procedures", err)
	}
	defer rows.Close()

	var out []Routine
	for rows.Next() {
		var r Routine
		var oid int64
		if err := rows.Scan(&r.Schema, &r.Name, &r.Args, &oid); err != nil {
			return nil, domain.NewFault(domain.QueryFault, "list procedures", err)
		}
		r.ref = strconv.FormatInt(oid, 10)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewFault(domain.QueryFault, "list procedures", err)
	}
	return out, nil
}

func (p *pgConn) ProcedureDDL(ctx context.Context, r Routine) (string, error) {
	op := "procedure ddl " + r.Key()
	oid, err := strconv.ParseInt(r.ref, 10, 64)
	if err != nil {
		return "", domain.NewFault(domain.QueryFault, op, fmt.Errorf("routine has no oid"))
	}
	var ddl string
	if err := p.conn.QueryRow(ctx, `SELECT pg_get_functiondef($1::oid)`, oid).Scan(&ddl); err != nil {
		return "", domain.NewFault(domain.QueryFault, op, err)
	}
	return ddl, nil
}

func (p *pgConn) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return p.conn.Close(ctx)
}
