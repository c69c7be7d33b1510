package probe

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/hamed0406/pipewatch/internal/domain"
	"github.com/hamed0406/pipewatch/internal/warehouse"
)

// Rule is a data quality rule. Query returns the number of violating rows.
type Rule struct {
	Name  string
	Query string
}

// Quality runs every rule; any non-zero count degrades the probe.
type Quality struct {
	ProbeName string
	Warehouse warehouse.Connector
	Rules     []Rule
	Timeout   time.Duration
}

func NewQuality(wh warehouse.Connector, rules []Rule, timeout time.Duration) *Quality {
	return &Quality{Warehouse: wh, Rules: rules, Timeout: timeout}
}

func (q *Quality) Name() string { return orDefault(q.ProbeName, "data_quality") }

func (q *Quality) Evaluate(ctx context.Context) domain.CheckResult {
	return evaluate(ctx, q.Name(), q.Timeout, func(ctx context.Context) (domain.Status, map[string]any, error) {
		conn, err := q.Warehouse.Connect(ctx)
		if err != nil {
			return "", nil, err
		}
		defer conn.Close()

		detail := make(map[string]any, len(q.Rules)+2)
		var failed []string
		for _, r := range q.Rules {
			n, err := conn.QueryNumber(ctx, r.Query)
			if err != nil {
				return "", nil, fmt.Errorf("rule %s: %w", r.Name, err)
			}
			count := int64(math.Round(n))
			detail["rule."+r.Name] = count
			if count > 0 {
				failed = append(failed, r.Name)
			}
		}
		sort.Strings(failed)
		detail["failed_checks"] = int64(len(failed))
		if len(failed) == 0 {
			return domain.StatusHealthy, detail, nil
		}
		detail["failed_rules"] = strings.Join(failed, ",")
		return domain.StatusDegraded, detail, nil
	})
}
