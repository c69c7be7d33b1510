package backup

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/hamed0406/pipewatch/internal/atomicfile"
	"github.com/hamed0406/pipewatch/internal/domain"
	"github.com/hamed0406/pipewatch/internal/warehouse"
)

// SchemaCapture writes {schema: {table: ddl}} for every allowed schema to
// <run>/schemas.json. Any failed lookup fails the whole capture; no partial
// document is written.
type SchemaCapture struct {
	Warehouse warehouse.Connector
	// Allow restricts capture to these schemas, matched case-insensitively.
	// Empty captures every schema.
	Allow   []string
	Timeout time.Duration
}

func (s *SchemaCapture) Category() string { return domain.CategorySchemas }

func (s *SchemaCapture) Capture(ctx context.Context, run Run) domain.BackupArtifact {
	return capture(ctx, s.Category(), s.Timeout, func(ctx context.Context) (string, error) {
		conn, err := s.Warehouse.Connect(ctx)
		if err != nil {
			return "", err
		}
		defer conn.Close()

		schemas, err := conn.Schemas(ctx)
		if err != nil {
			return "", err
		}
		doc := map[string]map[string]string{}
		for _, schema := range schemas {
			if !allowed(s.Allow, schema) {
				continue
			}
			tables, err := conn.Tables(ctx, schema)
			if err != nil {
				return "", err
			}
			defs := make(map[string]string, len(tables))
			for _, t := range tables {
				ddl, err := conn.TableDDL(ctx, schema, t)
				if err != nil {
					return "", err
				}
				defs[t] = ddl
			}
			doc[schema] = defs
		}

		path := filepath.Join(run.Dir, "schemas.json")
		if err := atomicfile.WriteJSON(path, doc); err != nil {
			return "", domain.NewFault(domain.CaptureFault, "write", err)
		}
		return path, nil
	})
}

// ProcedureCapture writes {"schema.procedure": ddl} to <run>/procedures.json.
type ProcedureCapture struct {
	Warehouse warehouse.Connector
	Allow     []string
	Timeout   time.Duration
}

func (p *ProcedureCapture) Category() string { return domain.CategoryProcedures }

func (p *ProcedureCapture) Capture(ctx context.Context, run Run) domain.BackupArtifact {
	return capture(ctx, p.Category(), p.Timeout, func(ctx context.Context) (string, error) {
		conn, err := p.Warehouse.Connect(ctx)
		if err != nil {
			return "", err
		}
		defer conn.Close()

		routines, err := conn.Procedures(ctx)
		if err != nil {
			return "", err
		}
		doc := make(map[string]string, len(routines))
		for _, r := range routines {
			if !allowed(p.Allow, r.Schema) {
				continue
			}
			ddl, err := conn.ProcedureDDL(ctx, r)
			if err != nil {
				return "", err
			}
			key := r.Key()
			if _, dup := doc[key]; dup {
				// overloads share schema.name
				key = fmt.Sprintf("%s(%s)", key, r.Args)
			}
			doc[key] = ddl
		}

		path := filepath.Join(run.Dir, "procedures.json")
		if err := atomicfile.WriteJSON(path, doc); err != nil {
			return "", domain.NewFault(domain.CaptureFault, "write", err)
		}
		return path, nil
	})
}

func allowed(allow []string, schema string) bool {
	if len(allow) == 0 {
		return true
	}
	for _, a := range allow {
		if strings.EqualFold(a, schema) {
			return true
		}
	}
	return false
}
