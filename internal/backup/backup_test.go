package backup

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hamed0406/pipewatch/internal/domain"
	"github.com/hamed0406/pipewatch/internal/relay"
	"github.com/hamed0406/pipewatch/internal/repo"
	"github.com/hamed0406/pipewatch/internal/repo/memory"
	"github.com/hamed0406/pipewatch/internal/warehouse"
	"github.com/hamed0406/pipewatch/internal/warehouse/warehousetest"
)

// catalog is a fake warehouse with a fixed schema/table/procedure catalog.
type catalog struct {
	tables  map[string]map[string]string // schema -> table -> ddl
	procs   map[string]string            // schema.name -> ddl
	failDDL string                       // "schema.table" whose DDL fetch faults
	closed  int
}

func (c *catalog) Connect(ctx context.Context) (warehouse.Conn, error) { return &catalogConn{c: c}, nil }

type catalogConn struct {
	warehouse.Conn
	c *catalog
}

func (k *catalogConn) Schemas(ctx context.Context) ([]string, error) {
	var out []string
	for s := range k.c.tables {
		out = append(out, s)
	}
	return out, nil
}

func (k *catalogConn) Tables(ctx context.Context, schema string) ([]string, error) {
	var out []string
	for t := range k.c.tables[schema] {
		out = append(out, t)
	}
	return out, nil
}

func (k *catalogConn) TableDDL(ctx context.Context, schema, table string) (string, error) {
	if schema+"."+table == k.c.failDDL {
		return "", domain.NewFault(domain.QueryFault, "table ddl "+schema+"."+table, errors.New("insufficient privileges"))
	}
	return k.c.tables[schema][table], nil
}

func (k *catalogConn) Procedures(ctx context.Context) ([]warehouse.Routine, error) {
	var out []warehouse.Routine
	for key := range k.c.procs {
		var r warehouse.Routine
		for i := range key {
			if key[i] == '.' {
				r.Schema, r.Name = key[:i], key[i+1:]
				break
			}
		}
		out = append(out, r)
	}
	return out, nil
}

func (k *catalogConn) ProcedureDDL(ctx context.Context, r warehouse.Routine) (string, error) {
	return k.c.procs[r.Key()], nil
}

func (k *catalogConn) Close() error { k.c.closed++; return nil }

func newCatalog() *catalog {
	return &catalog{
		tables: map[string]map[string]string{
			"BRONZE":  {"CRM_CUST_INFO": "CREATE TABLE bronze.crm_cust_info (cst_id INT)"},
			"SILVER":  {"CRM_CUST_INFO": "CREATE TABLE silver.crm_cust_info (cst_id INT)", "ERP_LOC": "CREATE TABLE silver.erp_loc (cid TEXT)"},
			"GOLD":    {"DIM_CUSTOMERS": "CREATE TABLE gold.dim_customers (customer_key INT)"},
			"STAGING": {"TMP": "CREATE TABLE staging.tmp (x INT)"},
		},
		procs: map[string]string{
			"BRONZE.LOAD_BRONZE": "CREATE PROCEDURE bronze.load_bronze() ...",
			"SILVER.LOAD_SILVER": "CREATE PROCEDURE silver.load_silver() ...",
		},
	}
}

// unreachable fails every upload the way a network partition would.
type unreachable struct{}

func (unreachable) UploadFile(ctx context.Context, localPath, key string) error {
	return errors.New("dial tcp 10.0.0.1:443: connect: no route to host")
}
func (unreachable) URL(key string) string { return "s3://pipewatch/" + key }

type panicking struct{}

func (panicking) Category() string { return "exploding" }
func (panicking) Capture(context.Context, Run) domain.BackupArtifact {
	panic("driver bug")
}

func sourceTree(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for rel, content := range files {
		p := filepath.Join(dir, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	return dir
}

var allow = []string{"bronze", "silver", "gold"}

func TestSchemaCapture_AllowListAndLayout(t *testing.T) {
	cat := newCatalog()
	run := NewRun(t.TempDir(), "20250101T000000Z-00000001")

	a := (&SchemaCapture{Warehouse: cat, Allow: allow, Timeout: time.Second}).Capture(context.Background(), run)
	require.True(t, a.Succeeded, a.Error)
	assert.Equal(t, domain.CategorySchemas, a.Category)
	assert.Equal(t, filepath.Join(run.Dir, "schemas.json"), a.Location)
	assert.Equal(t, 1, cat.closed)

	var doc map[string]map[string]string
	b, err := os.ReadFile(a.Location)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(b, &doc))
	assert.Len(t, doc, 3)
	assert.NotContains(t, doc, "STAGING")
	assert.Equal(t, "CREATE TABLE silver.erp_loc (cid TEXT)", doc["SILVER"]["ERP_LOC"])
}

func TestSchemaCapture_OneTableFaultFailsAtomically(t *testing.T) {
	cat := newCatalog()
	cat.failDDL = "SILVER.ERP_LOC"
	run := NewRun(t.TempDir(), "20250101T000000Z-00000002")

	a := (&SchemaCapture{Warehouse: cat, Allow: allow}).Capture(context.Background(), run)
	assert.False(t, a.Succeeded)
	assert.Empty(t, a.Location)
	assert.Contains(t, a.Error, "insufficient privileges")
	assert.NoFileExists(t, filepath.Join(run.Dir, "schemas.json"))
	assert.Equal(t, 1, cat.closed, "connection must be released on fault")
}

func TestProcedureCapture_KeyedBySchemaAndName(t *testing.T) {
	run := NewRun(t.TempDir(), "20250101T000000Z-00000003")
	a := (&ProcedureCapture{Warehouse: newCatalog(), Allow: allow}).Capture(context.Background(), run)
	require.True(t, a.Succeeded, a.Error)

	var doc map[string]string
	b, _ := os.ReadFile(a.Location)
	require.NoError(t, json.Unmarshal(b, &doc))
	assert.Equal(t, map[string]string{
		"BRONZE.LOAD_BRONZE": "CREATE PROCEDURE bronze.load_bronze() ...",
		"SILVER.LOAD_SILVER": "CREATE PROCEDURE silver.load_silver() ...",
	}, doc)
}

func TestTreeCopy_CopiesRecursively(t *testing.T) {
	src := sourceTree(t, map[string]string{
		"bronze_dag.py":          "dag b",
		"sub/silver_dag.py":      "dag s",
		"sub/deeper/gold_dag.py": "dag g",
	})
	run := NewRun(t.TempDir(), "20250101T000000Z-00000004")

	a := NewProjectCopy("gold", src, time.Second).Capture(context.Background(), run)
	require.True(t, a.Succeeded, a.Error)
	assert.Equal(t, "project:gold", a.Category)
	assert.Equal(t, filepath.Join(run.Dir, "project-gold"), a.Location)

	b, err := os.ReadFile(filepath.Join(a.Location, "sub", "deeper", "gold_dag.py"))
	require.NoError(t, err)
	assert.Equal(t, "dag g", string(b))
	assert.NoDirExists(t, a.Location+".partial")
}

func TestTreeCopy_MissingSourceFails(t *testing.T) {
	run := NewRun(t.TempDir(), "20250101T000000Z-00000005")
	a := NewOrchestrationCopy(filepath.Join(t.TempDir(), "nope"), time.Second).Capture(context.Background(), run)
	assert.False(t, a.Succeeded)
	assert.Contains(t, a.Error, "capture fault")
	assert.NoDirExists(t, filepath.Join(run.Dir, "orchestration_defs"))
	assert.NoDirExists(t, filepath.Join(run.Dir, "orchestration_defs.partial"))
}

func TestCoordinator_SchemaFaultDoesNotStopProcedures(t *testing.T) {
	cat := newCatalog()
	cat.failDDL = "GOLD.DIM_CUSTOMERS"
	store := memory.New()
	c := NewCoordinator(t.TempDir(), store, zap.NewNop())

	ops := []Operation{
		&SchemaCapture{Warehouse: cat, Allow: allow},
		&ProcedureCapture{Warehouse: cat, Allow: allow},
	}
	rep := c.Run(context.Background(), ops, nil)

	require.Len(t, rep.Artifacts, 2)
	assert.False(t, rep.Artifacts[0].Succeeded)
	assert.NotEmpty(t, rep.Artifacts[0].Error)
	assert.True(t, rep.Artifacts[1].Succeeded)
	assert.Empty(t, rep.Artifacts[1].Error)
	assert.False(t, rep.OverallSucceeded)
	assert.Nil(t, rep.Artifacts[1].RemoteUploaded, "no relay configured")
	assert.Len(t, rep.Failed(), 1)
}

func TestCoordinator_UnreachableRelayKeepsLocalSuccess(t *testing.T) {
	root := t.TempDir()
	store := memory.New()
	c := NewCoordinator(root, store, zap.NewNop())
	cat := newCatalog()

	ops := []Operation{
		&SchemaCapture{Warehouse: cat, Allow: allow},
		&ProcedureCapture{Warehouse: cat, Allow: allow},
		NewOrchestrationCopy(sourceTree(t, map[string]string{"pipeline_dag.py": "x"}), time.Second),
		NewProjectCopy("warehouse", sourceTree(t, map[string]string{"models/gold/dim.sql": "select 1"}), time.Second),
	}
	rep := c.Run(context.Background(), ops, relay.New(unreachable{}, "backups", time.Second, nil))

	require.Len(t, rep.Artifacts, 4)
	for _, a := range rep.Artifacts {
		assert.True(t, a.Succeeded, a.Category)
		require.NotNil(t, a.RemoteUploaded, a.Category)
		assert.False(t, *a.RemoteUploaded, a.Category)
		assert.Contains(t, a.RemoteError, "relay fault")
	}
	assert.True(t, rep.OverallSucceeded)

	persisted, err := store.GetBackup(context.Background(), rep.RunID)
	require.NoError(t, err, "report must be persisted before Run returns")
	assert.Equal(t, rep.RunID, persisted.RunID)
	assert.Equal(t, []string{"schemas", "procedures", "orchestration_defs", "project:warehouse"}, categories(persisted))
}

func TestCoordinator_RelaysOnlySucceededArtifacts(t *testing.T) {
	up := &recordingUploader{}
	cat := newCatalog()
	cat.failDDL = "BRONZE.CRM_CUST_INFO"
	c := NewCoordinator(t.TempDir(), memory.New(), nil)

	ops := []Operation{
		&SchemaCapture{Warehouse: cat, Allow: allow},
		NewOrchestrationCopy(sourceTree(t, map[string]string{"a/b.py": "x"}), time.Second),
	}
	rep := c.Run(context.Background(), ops, relay.New(up, "backups", time.Second, nil))

	assert.Nil(t, rep.Artifacts[0].RemoteUploaded, "failed capture is never relayed")
	require.NotNil(t, rep.Artifacts[1].RemoteUploaded)
	assert.True(t, *rep.Artifacts[1].RemoteUploaded)
	assert.Equal(t, "mem://backups/"+string(rep.RunID)+"/orchestration_defs", rep.Artifacts[1].RemoteLocation)
	assert.Equal(t, []string{"backups/" + string(rep.RunID) + "/orchestration_defs/a/b.py"}, up.keys)
}

func TestCoordinator_PanicAndCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := NewCoordinator(t.TempDir(), memory.New(), nil)

	ops := []Operation{
		panicking{},
		cancelOp{cancel: cancel},
		&ProcedureCapture{Warehouse: newCatalog()},
	}
	rep := c.Run(ctx, ops, nil)

	require.Len(t, rep.Artifacts, 3)
	assert.Equal(t, "exploding", rep.Artifacts[0].Category)
	assert.Contains(t, rep.Artifacts[0].Error, "panicked")
	assert.True(t, rep.Artifacts[1].Succeeded)
	assert.Equal(t, "cancelled", rep.Artifacts[2].Error)
	assert.False(t, rep.OverallSucceeded)
}

func TestCoordinator_CancelledRunIsStillPersisted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := ctxStore{memory.New()}
	c := NewCoordinator(t.TempDir(), store, nil)

	rep := c.Run(ctx, []Operation{
		cancelOp{cancel: cancel},
		&ProcedureCapture{Warehouse: newCatalog()},
	}, nil)

	require.Len(t, rep.Artifacts, 2)
	assert.Equal(t, "cancelled", rep.Artifacts[1].Error)
	assert.Empty(t, rep.PersistError)
	persisted, err := store.GetBackup(context.Background(), rep.RunID)
	require.NoError(t, err)
	assert.Len(t, persisted.Artifacts, 2)
}

func TestCoordinator_RunIDsAreUnique(t *testing.T) {
	c := NewCoordinator(t.TempDir(), memory.New(), nil)
	a := c.Run(context.Background(), nil, nil)
	b := c.Run(context.Background(), nil, nil)
	assert.NotEqual(t, a.RunID, b.RunID)
	assert.True(t, a.OverallSucceeded, "empty registry trivially succeeds")
}

func TestCoordinator_PersistFailureIsReported(t *testing.T) {
	c := NewCoordinator(t.TempDir(), failingStore{}, nil)
	rep := c.Run(context.Background(), []Operation{&ProcedureCapture{Warehouse: newCatalog()}}, nil)
	assert.True(t, rep.OverallSucceeded)
	assert.Contains(t, rep.PersistError, "disk full")
}

func TestSchemaCapture_AgainstSQLiteLayers(t *testing.T) {
	wh := warehousetest.Layers(t, map[string][]string{
		"bronze": {`CREATE TABLE crm_cust_info (cst_id INTEGER NOT NULL, cst_firstname TEXT)`},
		"silver": {`CREATE TABLE crm_cust_info (cst_id INTEGER, dwh_create_date TEXT)`},
		"gold":   {`CREATE TABLE dim_customers (customer_key INTEGER)`},
	})
	run := NewRun(t.TempDir(), "20250101T000000Z-00000006")
	a := (&SchemaCapture{Warehouse: wh, Allow: []string{"BRONZE", "SILVER", "GOLD"}}).Capture(context.Background(), run)
	require.True(t, a.Succeeded, a.Error)

	var doc map[string]map[string]string
	b, _ := os.ReadFile(a.Location)
	require.NoError(t, json.Unmarshal(b, &doc))
	assert.NotContains(t, doc, "main")
	assert.Contains(t, doc["bronze"]["crm_cust_info"], "cst_id INTEGER NOT NULL")
	assert.Contains(t, doc["gold"], "dim_customers")
}

func categories(rep domain.BackupReport) []string {
	out := make([]string, len(rep.Artifacts))
	for i, a := range rep.Artifacts {
		out[i] = a.Category
	}
	return out
}

type recordingUploader struct{ keys []string }

func (r *recordingUploader) UploadFile(ctx context.Context, localPath, key string) error {
	r.keys = append(r.keys, key)
	return nil
}
func (r *recordingUploader) URL(key string) string { return "mem://" + key }

type cancelOp struct{ cancel context.CancelFunc }

func (cancelOp) Category() string { return "cancel_trigger" }
func (o cancelOp) Capture(ctx context.Context, run Run) domain.BackupArtifact {
	return capture(ctx, o.Category(), time.Second, func(context.Context) (string, error) {
		o.cancel()
		return run.Dir, nil
	})
}

type failingStore struct{}

func (failingStore) SaveBackup(context.Context, domain.BackupReport) error {
	return errors.New("write reports/backup: disk full")
}
func (failingStore) GetBackup(context.Context, domain.RunID) (domain.BackupReport, error) {
	return domain.BackupReport{}, repo.ErrNotFound
}
func (failingStore) ListBackups(context.Context, int) ([]domain.BackupReport, error) { return nil, nil }

// ctxStore rejects writes on a done context, as the postgres store does.
type ctxStore struct{ *memory.Store }

func (s ctxStore) SaveBackup(ctx context.Context, rep domain.BackupReport) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.Store.SaveBackup(ctx, rep)
}
