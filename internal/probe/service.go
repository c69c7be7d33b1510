package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/hamed0406/pipewatch/internal/domain"
)

// ServiceHealth queries an external service's own health endpoint (e.g. the
// scheduler web server's /health) and maps its vocabulary onto Status.
type ServiceHealth struct {
	ProbeName string
	URL       string
	Username  string
	Password  string
	Client    *http.Client
	Timeout   time.Duration
}

func NewServiceHealth(url, user, pass string, timeout time.Duration) *ServiceHealth {
	return &ServiceHealth{
		URL:      url,
		Username: user,
		Password: pass,
		Client:   &http.Client{Timeout: timeout},
		Timeout:  timeout,
	}
}

func (s *ServiceHealth) Name() string { return orDefault(s.ProbeName, "scheduler_health") }

func (s *ServiceHealth) Evaluate(ctx context.Context) domain.CheckResult {
	return evaluate(ctx, s.Name(), s.Timeout, func(ctx context.Context) (domain.Status, map[string]any, error) {
		client := s.Client
		if client == nil {
			client = http.DefaultClient
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
		if err != nil {
			return "", nil, domain.NewFault(domain.ConnectionFault, "build request", err)
		}
		if s.Username != "" {
			req.SetBasicAuth(s.Username, s.Password)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return "", nil, domain.NewFault(domain.ConnectionFault, "GET "+s.URL, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return "", nil, domain.NewFault(domain.ConnectionFault, "GET "+s.URL, fmt.Errorf("unexpected status %s", resp.Status))
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return "", nil, domain.NewFault(domain.ConnectionFault, "read body", err)
		}
		components, err := parseHealthBody(body)
		if err != nil {
			return "", nil, domain.NewFault(domain.QueryFault, "decode health body", err)
		}

		detail := map[string]any{
			"http_status": int64(resp.StatusCode),
		}
		status := domain.StatusHealthy
		names := make([]string, 0, len(components))
		for n := range components {
			names = append(names, n)
		}
		sort.Strings(names)
		for _, n := range names {
			native := components[n]
			detail[n+"_status"] = native
			status = domain.Worse(status, MapNativeStatus(native))
		}
		return status, detail, nil
	})
}

// parseHealthBody extracts component -> native status. It accepts
// {"component": {"status": "..."}} objects and a top-level "status" string.
// An empty body means the endpoint reports nothing beyond its 2xx.
func parseHealthBody(body []byte) (map[string]string, error) {
	out := map[string]string{}
	if len(strings.TrimSpace(string(body))) == 0 {
		return out, nil
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}
	for name, msg := range raw {
		var str string
		if err := json.Unmarshal(msg, &str); err == nil {
			if name == "status" {
				out[name] = str
			}
			continue
		}
		var comp struct {
			Status *string `json:"status"`
		}
		if err := json.Unmarshal(msg, &comp); err == nil && comp.Status != nil {
			out[name] = *comp.Status
		}
	}
	return out, nil
}

// MapNativeStatus maps a service's own health word onto Status.
func MapNativeStatus(native string) domain.Status {
	switch strings.ToLower(strings.TrimSpace(native)) {
	case "healthy", "ok", "up", "pass", "passing":
		return domain.StatusHealthy
	case "degraded", "warn", "warning":
		return domain.StatusDegraded
	case "unhealthy", "down", "fail", "failed", "error", "critical":
		return domain.StatusUnhealthy
	default:
		return domain.StatusDegraded
	}
}
