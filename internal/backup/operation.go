// Package backup captures pipeline state into per-run artifact directories
// and reports what succeeded, what failed and why.
package backup

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/hamed0406/pipewatch/internal/domain"
)

// DefaultTimeout bounds an operation built without an explicit timeout.
const DefaultTimeout = 10 * time.Minute

// Run is what an operation needs to know about the invocation it belongs to.
type Run struct {
	ID domain.RunID
	// Dir is the run's artifact directory, <root>/<run_id>.
	Dir string
}

func NewRun(root string, id domain.RunID) Run {
	return Run{ID: id, Dir: filepath.Join(root, string(id))}
}

// Operation is one independently failing capture.
//
// Capture never panics past its boundary and never returns an error: a
// failure is an artifact with Succeeded false and Error set.
type Operation interface {
	Category() string
	Capture(ctx context.Context, run Run) domain.BackupArtifact
}

type captureFunc func(ctx context.Context) (location string, err error)

// capture runs fn under timeout and converts its outcome into an artifact.
func capture(ctx context.Context, category string, timeout time.Duration, fn captureFunc) (a domain.BackupArtifact) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	a.Category = category

	defer func() {
		if p := recover(); p != nil {
			a = failed(category, domain.NewFault(domain.CaptureFault, "", fmt.Errorf("operation panicked: %v", p)))
		}
		a.CapturedAt = time.Now().UTC()
	}()

	if ctx.Err() != nil {
		return failed(category, domain.ErrCancelled)
	}

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	loc, err := fn(cctx)
	if err != nil {
		if ctx.Err() != nil {
			err = domain.ErrCancelled
		} else if cctx.Err() == context.DeadlineExceeded {
			err = fmt.Errorf("timed out after %s: %w", timeout, err)
		}
		if _, ok := domain.KindOf(err); !ok && err != domain.ErrCancelled {
			err = domain.NewFault(domain.CaptureFault, "", err)
		}
		return failed(category, err)
	}
	a.Location = loc
	a.Succeeded = true
	return a
}

func failed(category string, err error) domain.BackupArtifact {
	return domain.BackupArtifact{
		Category:  category,
		Succeeded: false,
		Error:     domain.ErrorText(err),
	}
}
