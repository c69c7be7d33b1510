package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hamed0406/pipewatch/internal/domain"
	apimw "github.com/hamed0406/pipewatch/internal/httpapi/middleware"
	"github.com/hamed0406/pipewatch/internal/repo/memory"
)

// ---- test helpers ----

type fakeController struct {
	store   *memory.Store
	healths atomic.Int32
	backups atomic.Int32
	block   chan struct{}
}

func (f *fakeController) RunHealth(ctx context.Context) domain.HealthReport {
	f.healths.Add(1)
	now := time.Now().UTC()
	rep := domain.NewHealthReport([]domain.CheckResult{
		{Name: "warehouse_connectivity", Status: domain.StatusHealthy, Timestamp: now},
		{Name: "data_quality", Status: domain.StatusDegraded, Timestamp: now},
	}, now)
	_ = f.store.SaveHealth(ctx, rep)
	return rep
}

func (f *fakeController) RunBackup(ctx context.Context) domain.BackupReport {
	f.backups.Add(1)
	if f.block != nil {
		<-f.block
	}
	now := time.Now().UTC()
	rep := domain.BackupReport{
		RunID:            domain.NewRunID(now),
		Artifacts:        []domain.BackupArtifact{{Category: domain.CategorySchemas, Succeeded: true}},
		OverallSucceeded: true,
		StartedAt:        now,
		FinishedAt:       now,
	}
	_ = f.store.SaveBackup(ctx, rep)
	return rep
}

func setup(t *testing.T) (*httptest.Server, *fakeController) {
	t.Helper()
	store := memory.New()
	ctl := &fakeController{store: store}
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("pipewatch_health_overall_status 1\n"))
	})
	srv := NewServer(zap.NewNop(), store, store, ctl, metrics)
	keys := apimw.Keys{Public: []string{"pub_test"}, Admin: []string{"adm_test"}}

	// very high rate limits to avoid flakiness in tests
	ts := httptest.NewServer(srv.Router(keys, nil, Limits{10_000, 10_000, 10_000, 10_000}))
	t.Cleanup(ts.Close)
	return ts, ctl
}

func do(t *testing.T, method, url, key string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	require.NoError(t, err)
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

// ---- tests ----

func TestHealthz_AndMetrics(t *testing.T) {
	ts, _ := setup(t)

	assert.Equal(t, http.StatusOK, do(t, http.MethodGet, ts.URL+"/healthz", "").StatusCode)
	resp := do(t, http.MethodGet, ts.URL+"/metrics", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestLatestHealth_NotFoundThenTriggered(t *testing.T) {
	ts, ctl := setup(t)

	assert.Equal(t, http.StatusNotFound, do(t, http.MethodGet, ts.URL+"/api/health/latest", "pub_test").StatusCode)

	// public key cannot trigger
	assert.Equal(t, http.StatusForbidden, do(t, http.MethodPost, ts.URL+"/api/health/run", "pub_test").StatusCode)
	assert.Equal(t, int32(0), ctl.healths.Load())

	resp := do(t, http.MethodPost, ts.URL+"/api/health/run", "adm_test")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var ran domain.HealthReport
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ran))
	assert.Equal(t, domain.StatusDegraded, ran.OverallStatus)

	resp = do(t, http.MethodGet, ts.URL+"/api/health/latest", "pub_test")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var latest domain.HealthReport
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&latest))
	assert.Len(t, latest.Results, 2)
	assert.Equal(t, domain.StatusDegraded, latest.OverallStatus)
}

func TestListHealth_Limit(t *testing.T) {
	ts, _ := setup(t)
	for i := 0; i < 3; i++ {
		do(t, http.MethodPost, ts.URL+"/api/health/run", "adm_test")
	}

	resp := do(t, http.MethodGet, ts.URL+"/api/health?limit=2", "pub_test")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []domain.HealthReport
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	assert.Len(t, list, 2)

	assert.Equal(t, http.StatusBadRequest, do(t, http.MethodGet, ts.URL+"/api/health?limit=abc", "pub_test").StatusCode)
}

func TestBackups_RunListGet(t *testing.T) {
	ts, _ := setup(t)

	resp := do(t, http.MethodGet, ts.URL+"/api/backups", "pub_test")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var empty []domain.BackupReport
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&empty))
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	resp = do(t, http.MethodPost, ts.URL+"/api/backups/run", "adm_test")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var ran domain.BackupReport
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ran))
	assert.True(t, ran.OverallSucceeded)

	resp = do(t, http.MethodGet, ts.URL+"/api/backups/"+string(ran.RunID), "pub_test")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got domain.BackupReport
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, ran.RunID, got.RunID)

	assert.Equal(t, http.StatusNotFound, do(t, http.MethodGet, ts.URL+"/api/backups/nope", "pub_test").StatusCode)
}

func TestReads_RequireKey(t *testing.T) {
	ts, _ := setup(t)
	assert.Equal(t, http.StatusUnauthorized, do(t, http.MethodGet, ts.URL+"/api/backups", "").StatusCode)
	assert.Equal(t, http.StatusOK, do(t, http.MethodGet, ts.URL+"/api/backups", "adm_test").StatusCode)
}

func TestRunBackup_RefusesOverlap(t *testing.T) {
	ts, ctl := setup(t)
	ctl.block = make(chan struct{})

	first := make(chan int, 1)
	go func() {
		req, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/backups/run", nil)
		req.Header.Set("X-API-Key", "adm_test")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			first <- 0
			return
		}
		resp.Body.Close()
		first <- resp.StatusCode
	}()

	require.Eventually(t, func() bool { return ctl.backups.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, http.StatusConflict, do(t, http.MethodPost, ts.URL+"/api/backups/run", "adm_test").StatusCode)

	close(ctl.block)
	assert.Equal(t, http.StatusOK, <-first)
}
