package probe

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hamed0406/pipewatch/internal/domain"
	"github.com/hamed0406/pipewatch/internal/warehouse"
)

// DefaultFreshnessThreshold is the lag a layer may reach before it counts as stale.
const DefaultFreshnessThreshold = 24 * time.Hour

// Layer is one monitored pipeline layer. Query must return the number of
// hours since the layer's most recent record.
type Layer struct {
	Name  string
	Query string
	// MaxLag overrides the probe threshold for this layer when non-zero.
	MaxLag time.Duration
}

// Freshness measures lag per layer. Healthy iff every layer is within its
// threshold, degraded otherwise. A query fault on any layer makes the whole
// probe unhealthy: freshness cannot be partially trusted.
type Freshness struct {
	ProbeName string
	Warehouse warehouse.Connector
	Layers    []Layer
	Threshold time.Duration
	Timeout   time.Duration
}

func NewFreshness(wh warehouse.Connector, layers []Layer, threshold, timeout time.Duration) *Freshness {
	return &Freshness{Warehouse: wh, Layers: layers, Threshold: threshold, Timeout: timeout}
}

func (f *Freshness) Name() string { return orDefault(f.ProbeName, "pipeline_freshness") }

func (f *Freshness) threshold() time.Duration {
	if f.Threshold <= 0 {
		return DefaultFreshnessThreshold
	}
	return f.Threshold
}

func (f *Freshness) Evaluate(ctx context.Context) domain.CheckResult {
	return evaluate(ctx, f.Name(), f.Timeout, func(ctx context.Context) (domain.Status, map[string]any, error) {
		conn, err := f.Warehouse.Connect(ctx)
		if err != nil {
			return "", nil, err
		}
		defer conn.Close()

		detail := map[string]any{"threshold_hours": f.threshold().Hours()}
		var stale []string
		for _, l := range f.Layers {
			hours, err := conn.QueryNumber(ctx, l.Query)
			if err != nil {
				return "", nil, fmt.Errorf("layer %s: %w", l.Name, err)
			}
			limit := f.threshold()
			if l.MaxLag > 0 {
				limit = l.MaxLag
			}
			detail[l.Name+"_hours_behind"] = hours
			if hours > limit.Hours() {
				stale = append(stale, l.Name)
			}
		}

		if len(stale) == 0 {
			return domain.StatusHealthy, detail, nil
		}
		detail["stale_layers"] = strings.Join(stale, ",")
		return domain.StatusDegraded, detail, nil
	})
}
