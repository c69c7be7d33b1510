// Package scheduler is the trigger side of the controller: it invokes health
// and backup runs, persists and alerts on their reports, and offers a simple
// periodic loop for deployments without an external scheduler.
package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/pipewatch/internal/backup"
	"github.com/hamed0406/pipewatch/internal/domain"
	"github.com/hamed0406/pipewatch/internal/health"
	"github.com/hamed0406/pipewatch/internal/notify"
	"github.com/hamed0406/pipewatch/internal/probe"
	"github.com/hamed0406/pipewatch/internal/repo"
)

// Controller runs "now, with this registry". The returned report's
// OverallStatus / OverallSucceeded is the exit signal for the caller.
type Controller struct {
	Logger *zap.Logger

	Aggregator *health.Aggregator
	Probes     []probe.Probe
	Health     repo.HealthStore

	Coordinator *backup.Coordinator
	Operations  []backup.Operation
	// Relay is nil when no remote target is configured.
	Relay backup.Relay
	// Keep is the number of run directories retained after a backup; 0 keeps all.
	Keep int

	Alerter  *Alerter
	Notifier notify.Notifier
	Backups  repo.BackupStore
}

// RunHealth aggregates the registered probes, saves the report, and hands it
// to the alerter. Saving and alerting outlive a cancelled ctx; their failures
// are logged only.
func (c *Controller) RunHealth(ctx context.Context) domain.HealthReport {
	log := c.logger()
	rep := c.Aggregator.Run(ctx, c.Probes)
	ctx, cancel := repo.Detached(ctx)
	defer cancel()
	if c.Health != nil {
		if err := c.Health.SaveHealth(ctx, rep); err != nil {
			log.Error("health_report_persist_failed", zap.Error(err))
		}
	}
	if c.Alerter != nil {
		if err := c.Alerter.Health(ctx, rep); err != nil {
			log.Warn("health_alert_failed", zap.Error(err))
		}
	}
	return rep
}

// RunBackup runs the registered operations through the coordinator, alerts,
// then prunes old run directories.
func (c *Controller) RunBackup(ctx context.Context) domain.BackupReport {
	log := c.logger()
	rep := c.Coordinator.Run(ctx, c.Operations, c.Relay)
	if c.Alerter != nil {
		ctx, cancel := repo.Detached(ctx)
		defer cancel()
		if err := c.Alerter.Backup(ctx, rep); err != nil {
			log.Warn("backup_alert_failed", zap.Error(err))
		}
	}
	if c.Keep > 0 {
		removed, err := backup.Prune(c.Coordinator.Root, c.Keep)
		if err != nil {
			log.Warn("backup_prune_failed", zap.Error(err))
		}
		if len(removed) > 0 {
			log.Info("backup_pruned", zap.Int("removed", len(removed)), zap.Int("kept", c.Keep))
		}
	}
	return rep
}

// SendSummary notifies a digest of the reports stored for [until-window, until).
func (c *Controller) SendSummary(ctx context.Context, until time.Time, window time.Duration) (notify.Summary, error) {
	since := until.Add(-window)
	var (
		healths []domain.HealthReport
		backups []domain.BackupReport
		err     error
	)
	if c.Health != nil {
		if healths, err = c.Health.ListHealth(ctx, 0); err != nil {
			return notify.Summary{}, err
		}
	}
	if c.Backups != nil {
		if backups, err = c.Backups.ListBackups(ctx, 0); err != nil {
			return notify.Summary{}, err
		}
	}
	s := notify.NewSummary(since, until, healths, backups)
	if c.Notifier == nil {
		return s, nil
	}
	return s, c.Notifier.Send(ctx, notify.SummaryMessage(s))
}

func (c *Controller) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}
