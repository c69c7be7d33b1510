// Package warehouse is the connection capability probes and backup captures
// are handed. Each unit opens its own Conn through a Connector and closes it
// before returning.
package warehouse

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"
)

// ErrNullResult is returned when a scalar query yields NULL or no row,
// e.g. MAX(created_at) over an empty table.
var ErrNullResult = errors.New("query returned no value")

// ErrUnsupported is returned by dialects that lack a catalog object type.
var ErrUnsupported = errors.New("not supported by this warehouse dialect")

// Routine identifies a stored procedure.
type Routine struct {
	Schema string
	Name   string
	// Args is the identity argument list, used to tell overloads apart.
	Args string
	// ref is a dialect-specific handle (the pg_proc oid for Postgres).
	ref string
}

// Key is "schema.name", the name the routine is filed under in a backup.
func (r Routine) Key() string { return r.Schema + "." + r.Name }

// Conn is one open session against the warehouse.
type Conn interface {
	Ping(ctx context.Context) error
	Version(ctx context.Context) (string, error)
	// QueryNumber runs a query returning a single numeric cell.
	QueryNumber(ctx context.Context, query string) (float64, error)

	Schemas(ctx context.Context) ([]string, error)
	Tables(ctx context.Context, schema string) ([]string, error)
	TableDDL(ctx context.Context, schema, table string) (string, error)
	Procedures(ctx context.Context) ([]Routine, error)
	ProcedureDDL(ctx context.Context, r Routine) (string, error)

	Close() error
}

// Connector opens sessions.
type Connector interface {
	Connect(ctx context.Context) (Conn, error)
}

// Options selects and configures a dialect.
type Options struct {
	Driver string // "postgres" or "sqlite"
	DSN    string
	// Attach maps schema names to SQLite database files (sqlite only).
	Attach         map[string]string
	ConnectTimeout time.Duration
}

// New builds the Connector for opts.Driver.
func New(opts Options) (Connector, error) {
	switch opts.Driver {
	case "postgres", "pgx", "":
		if opts.DSN == "" {
			return nil, errors.New("warehouse: postgres DSN is empty")
		}
		return &PostgresConnector{DSN: opts.DSN, ConnectTimeout: opts.ConnectTimeout}, nil
	case "sqlite":
		return &SQLiteConnector{Path: opts.DSN, Attach: opts.Attach}, nil
	default:
		return nil, fmt.Errorf("warehouse: unknown driver %q", opts.Driver)
	}
}

// toFloat converts a scanned cell into a float64.
func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case nil:
		return 0, ErrNullResult
	case int64:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int16:
		return float64(n), nil
	case int:
		return float64(n), nil
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case bool:
		if n {
			return 1, nil
		}
		return 0, nil
	case []byte:
		return parseFloat(string(n))
	case string:
		return parseFloat(n)
	default:
		return 0, fmt.Errorf("unexpected result type %T", v)
	}
}

func parseFloat(s string) (float64, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("non-numeric result %q", s)
	}
	if math.IsNaN(f) {
		return 0, fmt.Errorf("non-numeric result %q", s)
	}
	return f, nil
}
