package backup

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/pipewatch/internal/domain"
	"github.com/hamed0406/pipewatch/internal/repo"
)

// Relay copies a finished local artifact to remote storage and returns its
// remote location. *relay.Relay implements it.
type Relay interface {
	Upload(ctx context.Context, run domain.RunID, category, local string) (string, error)
}

// Observer is told about every finished report. The metrics package implements it.
type Observer interface {
	ObserveBackup(rep domain.BackupReport)
}

type Coordinator struct {
	Root     string
	Reports  repo.BackupStore
	Logger   *zap.Logger
	Observer Observer

	now func() time.Time
}

func NewCoordinator(root string, reports repo.BackupStore, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{Root: root, Reports: reports, Logger: logger, now: time.Now}
}

// Run executes ops in order under one run id, relays successful artifacts
// when target is non-nil, and persists the report before returning it.
//
// Run never fails. Every operation is attempted and reported even when an
// earlier one failed; relay outcomes never change Succeeded.
func (c *Coordinator) Run(ctx context.Context, ops []Operation, target Relay) domain.BackupReport {
	now := c.now
	if now == nil {
		now = time.Now
	}
	start := now().UTC()
	rep := domain.BackupReport{
		RunID:     domain.NewRunID(start),
		Artifacts: make([]domain.BackupArtifact, 0, len(ops)),
		StartedAt: start,
	}
	run := NewRun(c.Root, rep.RunID)
	log := c.Logger.With(zap.String("run_id", string(rep.RunID)))
	log.Info("backup_run_started", zap.Int("operations", len(ops)), zap.String("dir", run.Dir))

	if err := os.MkdirAll(run.Dir, 0o755); err != nil {
		log.Error("backup_run_dir_failed", zap.Error(err))
	}

	for _, op := range ops {
		a := c.captureOne(ctx, op, run)
		if a.Succeeded {
			log.Info("backup_op_done", zap.String("category", a.Category), zap.String("location", a.Location))
		} else {
			log.Warn("backup_op_failed", zap.String("category", a.Category), zap.String("error", a.Error))
		}
		rep.Artifacts = append(rep.Artifacts, a)
	}

	if target != nil {
		for i := range rep.Artifacts {
			a := &rep.Artifacts[i]
			if !a.Succeeded || a.Location == "" {
				continue
			}
			c.relayOne(ctx, log, target, rep.RunID, a)
		}
	}

	rep.OverallSucceeded = domain.AllSucceeded(rep.Artifacts)
	rep.FinishedAt = now().UTC()

	if c.Reports != nil {
		saveCtx, cancel := repo.Detached(ctx)
		err := c.Reports.SaveBackup(saveCtx, rep)
		cancel()
		if err != nil {
			rep.PersistError = err.Error()
			log.Error("backup_report_persist_failed", zap.Error(err))
		}
	}
	log.Info("backup_run_completed",
		zap.Bool("overall_succeeded", rep.OverallSucceeded),
		zap.Int("failed", len(rep.Failed())),
		zap.Duration("took", rep.FinishedAt.Sub(rep.StartedAt)),
	)
	if c.Observer != nil {
		c.Observer.ObserveBackup(rep)
	}
	return rep.Clone()
}

// captureOne isolates operations that do not convert their own panics.
func (c *Coordinator) captureOne(ctx context.Context, op Operation, run Run) (a domain.BackupArtifact) {
	category := op.Category()
	defer func() {
		if p := recover(); p != nil {
			a = failed(category, domain.NewFault(domain.CaptureFault, "", fmt.Errorf("operation panicked: %v", p)))
			a.CapturedAt = time.Now().UTC()
		}
		if a.Category == "" {
			a.Category = category
		}
		if a.Succeeded {
			a.Error = ""
		} else if a.Error == "" {
			a.Error = "capture fault: operation reported failure without a reason"
		}
	}()
	return op.Capture(ctx, run)
}

func (c *Coordinator) relayOne(ctx context.Context, log *zap.Logger, target Relay, id domain.RunID, a *domain.BackupArtifact) {
	var (
		loc string
		err error
	)
	func() {
		defer func() {
			if p := recover(); p != nil {
				err = domain.NewFault(domain.RelayFault, "", fmt.Errorf("relay panicked: %v", p))
			}
		}()
		if ctx.Err() != nil {
			err = domain.ErrCancelled
			return
		}
		loc, err = target.Upload(ctx, id, a.Category, a.Location)
	}()

	if err != nil {
		a.RemoteUploaded = domain.BoolPtr(false)
		a.RemoteError = domain.ErrorText(err)
		log.Warn("backup_relay_failed", zap.String("category", a.Category), zap.Error(err))
		return
	}
	a.RemoteUploaded = domain.BoolPtr(true)
	a.RemoteLocation = loc
}
