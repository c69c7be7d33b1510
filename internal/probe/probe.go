package probe

import (
	"context"
	"fmt"
	"time"

	"github.com/hamed0406/pipewatch/internal/domain"
)

// DefaultTimeout bounds a probe that was built without an explicit timeout.
const DefaultTimeout = 30 * time.Second

// Probe is one independently failing health check.
//
// Evaluate never returns an error and never panics past its boundary: every
// fault is reported as an unhealthy CheckResult with Error set.
type Probe interface {
	Name() string
	Evaluate(ctx context.Context) domain.CheckResult
}

// measureFunc performs the probe's work. A non-nil error is a fault; the
// returned status and detail are discarded in that case.
type measureFunc func(ctx context.Context) (domain.Status, map[string]any, error)

// evaluate runs fn under the probe's own timeout and converts whatever comes
// back, including a panic, into a CheckResult.
func evaluate(ctx context.Context, name string, timeout time.Duration, fn measureFunc) (res domain.CheckResult) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	res.Name = name

	defer func() {
		if p := recover(); p != nil {
			res = faulted(name, fmt.Errorf("probe panicked: %v", p))
		}
		res.Timestamp = time.Now().UTC()
	}()

	if err := ctx.Err(); err != nil {
		return faulted(name, domain.ErrCancelled)
	}

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	status, detail, err := fn(cctx)
	if err != nil {
		if ctx.Err() != nil {
			err = domain.ErrCancelled
		} else if cctx.Err() == context.DeadlineExceeded {
			err = fmt.Errorf("timed out after %s: %w", timeout, err)
		}
		return faulted(name, err)
	}
	res.Status = status
	res.Detail = detail
	return res
}

func faulted(name string, err error) domain.CheckResult {
	res := domain.CheckResult{
		Name:   name,
		Status: domain.StatusUnhealthy,
		Error:  domain.ErrorText(err),
	}
	if kind, ok := domain.KindOf(err); ok {
		res.Detail = map[string]any{"fault": string(kind)}
	}
	return res
}

func orDefault(name, def string) string {
	if name == "" {
		return def
	}
	return name
}
