package domain

import (
	"context"
	"errors"
	"fmt"
)

// FaultKind classifies why a unit could not produce a trustworthy result.
// A measured value that breaches policy is not a fault; it is a degraded finding.
type FaultKind string

const (
	ConnectionFault FaultKind = "connection"
	QueryFault      FaultKind = "query"
	CaptureFault    FaultKind = "capture"
	RelayFault      FaultKind = "relay"
)

// ErrCancelled is reported for units that never completed because the run was cancelled.
var ErrCancelled = errors.New("cancelled")

// Fault wraps an error with its kind and the operation that failed.
type Fault struct {
	Kind FaultKind
	Op   string
	Err  error
}

func (f *Fault) Error() string {
	if f.Op == "" {
		return fmt.Sprintf("%s fault: %v", f.Kind, f.Err)
	}
	return fmt.Sprintf("%s fault: %s: %v", f.Kind, f.Op, f.Err)
}

func (f *Fault) Unwrap() error { return f.Err }

// NewFault wraps err. A nil err yields nil.
func NewFault(kind FaultKind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Fault{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the outermost Fault in err's chain.
func KindOf(err error) (FaultKind, bool) {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind, true
	}
	return "", false
}

// ErrorText renders err for a result's Error field. Cancellation collapses to
// "cancelled" so reports from aborted runs read the same regardless of where
// the context was noticed.
func ErrorText(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled) {
		return ErrCancelled.Error()
	}
	return err.Error()
}
