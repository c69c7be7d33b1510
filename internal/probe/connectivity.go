package probe

import (
	"context"
	"time"

	"github.com/hamed0406/pipewatch/internal/domain"
	"github.com/hamed0406/pipewatch/internal/warehouse"
)

// Connectivity opens a session and asks the warehouse for its version.
// Any connection or query fault collapses to unhealthy. Round-trip time is
// left to the probe duration histogram so reruns against the same warehouse
// produce the same detail.
type Connectivity struct {
	ProbeName string
	Warehouse warehouse.Connector
	Timeout   time.Duration
}

func NewConnectivity(wh warehouse.Connector, timeout time.Duration) *Connectivity {
	return &Connectivity{Warehouse: wh, Timeout: timeout}
}

func (c *Connectivity) Name() string { return orDefault(c.ProbeName, "warehouse_connectivity") }

func (c *Connectivity) Evaluate(ctx context.Context) domain.CheckResult {
	return evaluate(ctx, c.Name(), c.Timeout, func(ctx context.Context) (domain.Status, map[string]any, error) {
		conn, err := c.Warehouse.Connect(ctx)
		if err != nil {
			return "", nil, err
		}
		defer conn.Close()

		version, err := conn.Version(ctx)
		if err != nil {
			return "", nil, err
		}
		return domain.StatusHealthy, map[string]any{"version": version}, nil
	})
}
