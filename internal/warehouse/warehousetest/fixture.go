// Package warehousetest builds throwaway layered SQLite warehouses for tests.
package warehousetest

import (
	"database/sql"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/hamed0406/pipewatch/internal/warehouse"
)

// Layers creates one SQLite file per schema name under t.TempDir, runs the
// given statements against each, and returns a connector attaching them all.
func Layers(t *testing.T, schemas map[string][]string) *warehouse.SQLiteConnector {
	t.Helper()
	dir := t.TempDir()
	attach := make(map[string]string, len(schemas))
	for name, stmts := range schemas {
		path := filepath.Join(dir, name+".db")
		Exec(t, path, stmts...)
		attach[name] = path
	}
	return &warehouse.SQLiteConnector{
		Path:   filepath.Join(dir, "main.db"),
		Attach: attach,
	}
}

// Exec runs statements against the SQLite file at path.
func Exec(t *testing.T, path string, stmts ...string) {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer db.Close()
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			t.Fatalf("exec %q: %v", s, err)
		}
	}
}
