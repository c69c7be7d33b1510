// Package health runs a set of probes and folds their results into one report.
package health

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hamed0406/pipewatch/internal/domain"
	"github.com/hamed0406/pipewatch/internal/probe"
)

// Observer is told about every probe result and every finished report.
// The metrics package implements it.
type Observer interface {
	ObserveProbe(res domain.CheckResult, took time.Duration)
	ObserveReport(rep domain.HealthReport)
}

type Aggregator struct {
	logger      *zap.Logger
	concurrency int
	observer    Observer
	now         func() time.Time
}

type Option func(*Aggregator)

// WithConcurrency lets up to n probes run at once. n <= 1 keeps the default
// sequential order.
func WithConcurrency(n int) Option {
	return func(a *Aggregator) { a.concurrency = n }
}

func WithObserver(o Observer) Option {
	return func(a *Aggregator) { a.observer = o }
}

func New(logger *zap.Logger, opts ...Option) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Aggregator{logger: logger, concurrency: 1, now: time.Now}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Run evaluates every probe and returns a report with exactly one result per
// probe. It never fails: faults, panics and timeouts become unhealthy results,
// and probes not yet started when ctx is cancelled report "cancelled".
func (a *Aggregator) Run(ctx context.Context, probes []probe.Probe) domain.HealthReport {
	names := uniqueNames(probes)
	results := make([]domain.CheckResult, len(probes))

	if a.concurrency <= 1 {
		for i, p := range probes {
			results[i] = a.runOne(ctx, names[i], p)
		}
	} else {
		var g errgroup.Group
		g.SetLimit(a.concurrency)
		for i, p := range probes {
			g.Go(func() error {
				results[i] = a.runOne(ctx, names[i], p)
				return nil
			})
		}
		_ = g.Wait()
	}

	rep := domain.NewHealthReport(results, a.now().UTC())
	a.logger.Info("health_run_completed",
		zap.String("overall_status", string(rep.OverallStatus)),
		zap.Int("probes", len(results)),
	)
	if a.observer != nil {
		a.observer.ObserveReport(rep)
	}
	return rep
}

func (a *Aggregator) runOne(ctx context.Context, name string, p probe.Probe) (res domain.CheckResult) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			res = domain.CheckResult{
				Status: domain.StatusUnhealthy,
				Error:  fmt.Sprintf("probe panicked: %v", r),
			}
		}
		res.Name = name
		if res.Timestamp.IsZero() {
			res.Timestamp = a.now().UTC()
		}
		if res.Faulted() || !res.Status.Valid() {
			res.Status = res.Effective()
		}
		a.log(res, time.Since(start))
		if a.observer != nil {
			a.observer.ObserveProbe(res, time.Since(start))
		}
	}()

	if ctx.Err() != nil {
		return domain.CheckResult{Status: domain.StatusUnhealthy, Error: domain.ErrCancelled.Error()}
	}
	return p.Evaluate(ctx)
}

func (a *Aggregator) log(res domain.CheckResult, took time.Duration) {
	fields := []zap.Field{
		zap.String("probe", res.Name),
		zap.String("status", string(res.Status)),
		zap.Duration("took", took),
	}
	if res.Faulted() {
		a.logger.Warn("probe_faulted", append(fields, zap.String("error", res.Error))...)
		return
	}
	a.logger.Debug("probe_evaluated", fields...)
}

// uniqueNames keys results by probe name; a repeated name gets a "#n" suffix
// so no result is lost.
func uniqueNames(probes []probe.Probe) []string {
	taken := make(map[string]bool, len(probes))
	out := make([]string, len(probes))
	for i, p := range probes {
		base := p.Name()
		n := base
		for k := 2; taken[n]; k++ {
			n = base + "#" + strconv.Itoa(k)
		}
		taken[n] = true
		out[i] = n
	}
	return out
}
