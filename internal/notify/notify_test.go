package notify

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/pipewatch/internal/domain"
)

type fakeNotifier struct {
	err   error
	calls int
}

func (f *fakeNotifier) Send(ctx context.Context, msg Message) error {
	f.calls++
	return f.err
}

func TestMulti_SendsToAllAndCombinesErrors(t *testing.T) {
	a := &fakeNotifier{err: errors.New("slack down")}
	b := &fakeNotifier{}
	c := &fakeNotifier{err: errors.New("smtp refused")}

	err := Multi{a, nil, b, c}.Send(context.Background(), HealthMessage(degradedReport(), ""))
	if a.calls != 1 || b.calls != 1 || c.calls != 1 {
		t.Fatalf("every notifier should be called: %d %d %d", a.calls, b.calls, c.calls)
	}
	if err == nil || !strings.Contains(err.Error(), "slack down") || !strings.Contains(err.Error(), "smtp refused") {
		t.Fatalf("want both errors, got %v", err)
	}
}

func TestHealthMessage_RecoveryTitle(t *testing.T) {
	rep := domain.NewHealthReport([]domain.CheckResult{{Name: "x", Status: domain.StatusHealthy}}, time.Now())
	if got := HealthMessage(rep, domain.StatusUnhealthy).Title; got != "Pipeline health RECOVERED" {
		t.Fatalf("title=%q", got)
	}
	if got := HealthMessage(rep, "").Title; got != "Pipeline health HEALTHY" {
		t.Fatalf("title=%q", got)
	}
}

func TestRetrying_RetriesTransientFailures(t *testing.T) {
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	r := NewRetrying(NewSlack(ts.URL), zap.NewNop())
	r.Interval = time.Millisecond
	if err := r.Send(context.Background(), BackupMessage(domain.BackupReport{RunID: "x", OverallSucceeded: true})); err != nil {
		t.Fatalf("send: %v", err)
	}
	if hits.Load() != 2 {
		t.Fatalf("hits=%d", hits.Load())
	}
}

func TestRetrying_ClientErrorIsPermanent(t *testing.T) {
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer ts.Close()

	r := NewRetrying(NewSlack(ts.URL), nil)
	r.Interval = time.Millisecond
	err := r.Send(context.Background(), BackupMessage(domain.BackupReport{RunID: "x"}))
	var he *HTTPError
	if !errors.As(err, &he) || he.StatusCode != 403 {
		t.Fatalf("want 403, got %v", err)
	}
	if hits.Load() != 1 {
		t.Fatalf("4xx should not be retried, hits=%d", hits.Load())
	}
}

func TestEmail_RendersAndSends(t *testing.T) {
	var (
		gotAddr string
		gotTo   []string
		gotMsg  string
	)
	e := NewEmail("smtp.example.com", 0, "bot", "pw", "pipewatch@example.com", []string{"oncall@example.com"})
	e.sendMail = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotTo, gotMsg = addr, to, string(msg)
		return nil
	}

	rep := domain.BackupReport{
		RunID:     "20250601T060000Z-abcdef01",
		Artifacts: []domain.BackupArtifact{{Category: "schemas", Succeeded: false, Error: "capture fault: <boom>"}},
	}
	if err := e.Send(context.Background(), BackupMessage(rep)); err != nil {
		t.Fatalf("send: %v", err)
	}
	if gotAddr != "smtp.example.com:587" || len(gotTo) != 1 {
		t.Fatalf("addr=%s to=%v", gotAddr, gotTo)
	}
	if !strings.Contains(gotMsg, "Content-Type: text/html") || !strings.Contains(gotMsg, "20250601T060000Z-abcdef01") {
		t.Fatalf("message:\n%s", gotMsg)
	}
	if strings.Contains(gotMsg, "<boom>") || !strings.Contains(gotMsg, "&lt;boom&gt;") {
		t.Fatalf("error text must be escaped:\n%s", gotMsg)
	}
}

func TestRenderHTML_Summary(t *testing.T) {
	s := Summary{HealthRuns: 4, HealthyRuns: 3, MaxHoursBehind: 30, TopIssues: []string{"pipeline_freshness degraded"}}
	b, err := RenderHTML(SummaryMessage(s))
	if err != nil {
		t.Fatal(err)
	}
	out := string(b)
	if !strings.Contains(out, "3 / 4") || !strings.Contains(out, "30.0h") || !strings.Contains(out, "pipeline_freshness degraded") {
		t.Fatalf("summary html:\n%s", out)
	}
}

func TestNewSummary(t *testing.T) {
	day := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	fresh := func(h float64, at time.Time, st domain.Status) domain.HealthReport {
		return domain.NewHealthReport([]domain.CheckResult{{
			Name: "pipeline_freshness", Status: st, Timestamp: at,
			Detail: map[string]any{"silver_hours_behind": h, "stale_layers": "silver"},
		}}, at)
	}
	healths := []domain.HealthReport{
		fresh(2, day.Add(1*time.Hour), domain.StatusHealthy),
		fresh(30, day.Add(2*time.Hour), domain.StatusDegraded),
		fresh(31, day.Add(3*time.Hour), domain.StatusDegraded),
		fresh(99, day.Add(-time.Hour), domain.StatusDegraded), // outside the window
	}
	backups := []domain.BackupReport{
		{RunID: "a", StartedAt: day.Add(time.Hour), OverallSucceeded: true},
		{RunID: "b", StartedAt: day.Add(2 * time.Hour), Artifacts: []domain.BackupArtifact{{Category: "schemas", Error: "capture fault"}}},
	}
	s := NewSummary(day, day.Add(24*time.Hour), healths, backups)

	if s.HealthRuns != 3 || s.HealthyRuns != 1 || s.BackupRuns != 2 || s.FailedBackupRuns != 1 {
		t.Fatalf("counts: %+v", s)
	}
	if s.MaxHoursBehind != 31 || s.LatestStatus != domain.StatusDegraded {
		t.Fatalf("freshness/latest: %+v", s)
	}
	if len(s.TopIssues) != 2 || !strings.HasPrefix(s.TopIssues[0], "pipeline_freshness degraded") {
		t.Fatalf("issues: %v", s.TopIssues)
	}
}
