package relay

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hamed0406/pipewatch/internal/domain"
)

type memUploader struct {
	mu   sync.Mutex
	objs map[string]string
	fail error
}

func (m *memUploader) UploadFile(ctx context.Context, localPath, key string) error {
	if m.fail != nil {
		return m.fail
	}
	b, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.objs == nil {
		m.objs = map[string]string{}
	}
	m.objs[key] = string(b)
	return nil
}

func (m *memUploader) URL(key string) string { return "mem://bucket/" + key }

func (m *memUploader) keys() []string {
	out := make([]string, 0, len(m.objs))
	for k := range m.objs {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func writeFile(t *testing.T, p, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestKey(t *testing.T) {
	run := domain.RunID("20250101T000000Z-abcd1234")
	cases := []struct {
		prefix, category, rel, want string
	}{
		{"backups", "schemas", "schemas.json", "backups/20250101T000000Z-abcd1234/schemas/schemas.json"},
		{"/backups/", "project:gold", filepath.Join("models", "dim.sql"), "backups/20250101T000000Z-abcd1234/project-gold/models/dim.sql"},
		{"", "orchestration_defs", "", "20250101T000000Z-abcd1234/orchestration_defs"},
	}
	for _, c := range cases {
		if got := Key(c.prefix, run, c.category, c.rel); got != c.want {
			t.Fatalf("Key(%q,%q,%q)=%q want %q", c.prefix, c.category, c.rel, got, c.want)
		}
	}
}

func TestUpload_DirectoryPreservesRelativePaths(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "dags", "bronze.py"), "b")
	writeFile(t, filepath.Join(dir, "dags", "sub", "gold.py"), "g")
	writeFile(t, filepath.Join(dir, "README"), "r")

	up := &memUploader{}
	r := New(up, "backups", time.Second, nil)
	loc, err := r.Upload(context.Background(), "run1", domain.CategoryOrchestrationDefs, dir)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if loc != "mem://bucket/backups/run1/orchestration_defs" {
		t.Fatalf("location=%q", loc)
	}
	want := []string{
		"backups/run1/orchestration_defs/README",
		"backups/run1/orchestration_defs/dags/bronze.py",
		"backups/run1/orchestration_defs/dags/sub/gold.py",
	}
	got := up.keys()
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("keys=%v", got)
	}
}

func TestUpload_SingleFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "schemas.json")
	writeFile(t, p, "{}")
	up := &memUploader{}
	if _, err := New(up, "p", 0, nil).Upload(context.Background(), "run1", domain.CategorySchemas, p); err != nil {
		t.Fatal(err)
	}
	if up.objs["p/run1/schemas/schemas.json"] != "{}" {
		t.Fatalf("objs=%v", up.objs)
	}
}

func TestUpload_FailureIsRelayFault(t *testing.T) {
	p := filepath.Join(t.TempDir(), "procedures.json")
	writeFile(t, p, "{}")
	_, err := New(&memUploader{fail: errors.New("dial tcp: no route to host")}, "p", time.Second, nil).
		Upload(context.Background(), "run1", domain.CategoryProcedures, p)
	if kind, ok := domain.KindOf(err); !ok || kind != domain.RelayFault {
		t.Fatalf("want relay fault, got %v", err)
	}

	_, err = New(&memUploader{}, "p", time.Second, nil).Upload(context.Background(), "run1", "x", filepath.Join(t.TempDir(), "missing"))
	if kind, _ := domain.KindOf(err); kind != domain.RelayFault {
		t.Fatalf("missing local artifact: %v", err)
	}
}

func TestS3_UploadsAgainstCompatibleEndpoint(t *testing.T) {
	t.Setenv("AWS_ACCESS_KEY_ID", "test")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "test")

	var mu sync.Mutex
	got := map[string]string{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			http.Error(w, "unexpected", http.StatusMethodNotAllowed)
			return
		}
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		got[r.URL.Path] = string(b)
		mu.Unlock()
		w.Header().Set("ETag", `"x"`)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	up, err := NewS3("pipewatch", "us-east-1", srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	p := filepath.Join(t.TempDir(), "schemas.json")
	writeFile(t, p, `{"bronze":{}}`)

	if err := up.UploadFile(context.Background(), p, "backups/run1/schemas/schemas.json"); err != nil {
		t.Fatalf("upload: %v", err)
	}
	if got["/pipewatch/backups/run1/schemas/schemas.json"] != `{"bronze":{}}` {
		t.Fatalf("server saw %v", got)
	}
	if up.URL("k") != "s3://pipewatch/k" {
		t.Fatalf("url=%s", up.URL("k"))
	}
}

func TestOpen(t *testing.T) {
	up, err := Open(context.Background(), Options{Provider: "none"})
	if err != nil || up != nil {
		t.Fatalf("none: %v %v", up, err)
	}
	if _, err := Open(context.Background(), Options{Provider: "ftp"}); err == nil {
		t.Fatalf("want error for unknown provider")
	}
	if _, err := Open(context.Background(), Options{Provider: "s3"}); err == nil {
		t.Fatalf("want error for missing bucket")
	}
	if _, err := Open(context.Background(), Options{Provider: "gcs", Bucket: "b", CredentialsFile: filepath.Join(t.TempDir(), "nope.json")}); err == nil {
		t.Fatalf("want error for missing key file")
	}
}
