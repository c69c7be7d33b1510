package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Loop runs Job every Interval. It is the reference trigger mechanism; any
// external scheduler can call the Controller directly instead.
type Loop struct {
	Logger   *zap.Logger
	Name     string
	Interval time.Duration
	Job      func(ctx context.Context)
}

func NewLoop(logger *zap.Logger, name string, interval time.Duration, job func(ctx context.Context)) *Loop {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval < 0 {
		interval = 0
	}
	return &Loop{Logger: logger, Name: name, Interval: interval, Job: job}
}

// Run starts the loop. It does an immediate pass, then runs each tick.
// Stops when ctx is cancelled. A zero interval disables the loop.
func (l *Loop) Run(ctx context.Context) {
	log := l.Logger.With(zap.String("loop", l.Name))
	if l.Interval == 0 {
		log.Info("loop_disabled")
		return
	}
	t := time.NewTicker(l.Interval)
	defer t.Stop()

	log.Info("loop_started", zap.Duration("interval", l.Interval))
	l.Job(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Info("loop_stopped")
			return
		case <-t.C:
			l.Job(ctx)
		}
	}
}
