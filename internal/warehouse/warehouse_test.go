package warehouse_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/hamed0406/pipewatch/internal/domain"
	"github.com/hamed0406/pipewatch/internal/warehouse"
	"github.com/hamed0406/pipewatch/internal/warehouse/warehousetest"
)

func TestSQLite_CatalogAcrossAttachedLayers(t *testing.T) {
	conn := warehousetest.Layers(t, map[string][]string{
		"bronze": {`CREATE TABLE crm_cust_info (cst_id INTEGER, cst_create_date TEXT)`},
		"silver": {
			`CREATE TABLE crm_cust_info (cst_id INTEGER NOT NULL, cst_create_date TEXT)`,
			`CREATE TABLE crm_sales_details (sls_sales REAL)`,
		},
	})
	ctx := context.Background()
	c, err := conn.Connect(ctx)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Close()

	schemas, err := c.Schemas(ctx)
	if err != nil {
		t.Fatalf("schemas: %v", err)
	}
	if strings.Join(schemas, ",") != "bronze,main,silver" {
		t.Fatalf("unexpected schemas %v", schemas)
	}

	tables, err := c.Tables(ctx, "silver")
	if err != nil {
		t.Fatalf("tables: %v", err)
	}
	if len(tables) != 2 || tables[0] != "crm_cust_info" || tables[1] != "crm_sales_details" {
		t.Fatalf("unexpected tables %v", tables)
	}

	ddl, err := c.TableDDL(ctx, "silver", "crm_cust_info")
	if err != nil {
		t.Fatalf("ddl: %v", err)
	}
	if !strings.Contains(ddl, "NOT NULL") {
		t.Fatalf("ddl missing column definition: %q", ddl)
	}

	if _, err := c.TableDDL(ctx, "silver", "missing"); err == nil {
		t.Fatalf("want error for missing table")
	}
}

func TestSQLite_QueryNumber(t *testing.T) {
	conn := warehousetest.Layers(t, map[string][]string{
		"gold": {
			`CREATE TABLE dim_customers (customer_key INTEGER, create_date TEXT)`,
			`INSERT INTO dim_customers VALUES (1, '2025-01-01'), (2, NULL)`,
		},
	})
	ctx := context.Background()
	c, err := conn.Connect(ctx)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Close()

	n, err := c.QueryNumber(ctx, `SELECT COUNT(*) FROM gold.dim_customers WHERE create_date IS NULL`)
	if err != nil || n != 1 {
		t.Fatalf("count=%v err=%v", n, err)
	}

	_, err = c.QueryNumber(ctx, `SELECT MAX(create_date) FROM gold.dim_customers WHERE 1 = 0`)
	if !errors.Is(err, warehouse.ErrNullResult) {
		t.Fatalf("want ErrNullResult, got %v", err)
	}

	_, err = c.QueryNumber(ctx, `SELECT * FROM gold.nope`)
	if kind, _ := domain.KindOf(err); kind != domain.QueryFault {
		t.Fatalf("want query fault, got %v", err)
	}

	v, err := c.Version(ctx)
	if err != nil || !strings.HasPrefix(v, "SQLite ") {
		t.Fatalf("version=%q err=%v", v, err)
	}

	procs, err := c.Procedures(ctx)
	if err != nil || len(procs) != 0 {
		t.Fatalf("sqlite has no procedures: %v %v", procs, err)
	}
}

func TestSQLite_AttachFailureIsConnectionFault(t *testing.T) {
	conn := &warehouse.SQLiteConnector{
		Path:   ":memory:",
		Attach: map[string]string{"bronze": t.TempDir() + "/no/such/dir/bronze.db"},
	}
	_, err := conn.Connect(context.Background())
	if kind, _ := domain.KindOf(err); kind != domain.ConnectionFault {
		t.Fatalf("want connection fault, got %v", err)
	}
}

func TestNew_Drivers(t *testing.T) {
	if _, err := warehouse.New(warehouse.Options{Driver: "postgres"}); err == nil {
		t.Fatalf("empty DSN should be rejected")
	}
	if _, err := warehouse.New(warehouse.Options{Driver: "oracle", DSN: "x"}); err == nil {
		t.Fatalf("unknown driver should be rejected")
	}
	c, err := warehouse.New(warehouse.Options{Driver: "sqlite", DSN: ":memory:"})
	if err != nil {
		t.Fatalf("sqlite: %v", err)
	}
	if _, ok := c.(*warehouse.SQLiteConnector); !ok {
		t.Fatalf("want *SQLiteConnector, got %T", c)
	}
}
