package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/pipewatch/internal/domain"
	"github.com/hamed0406/pipewatch/internal/notify"
	"github.com/hamed0406/pipewatch/internal/repo"
)

// Alert subjects tracked in the AlertStore.
const (
	SubjectHealth = "health"
	SubjectBackup = "backup"
)

const (
	backupSucceeded = "succeeded"
	backupFailed    = "failed"
)

type AlerterConfig struct {
	AlertOnRecovery bool
	Cooldown        time.Duration
}

// Alerter notifies on status transitions. Repeated bad states are
// suppressed for Cooldown; recoveries bypass the cooldown.
type Alerter struct {
	alerts   repo.AlertStore
	notifier notify.Notifier
	cfg      AlerterConfig
	logger   *zap.Logger
	now      func() time.Time
}

func NewAlerter(alerts repo.AlertStore, notifier notify.Notifier, cfg AlerterConfig, logger *zap.Logger) *Alerter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Alerter{alerts: alerts, notifier: notifier, cfg: cfg, logger: logger, now: time.Now}
}

// Health alerts when the overall status differs from the last one recorded.
func (a *Alerter) Health(ctx context.Context, rep domain.HealthReport) error {
	status := string(rep.OverallStatus)
	return a.transition(ctx, SubjectHealth, status, rep.OverallStatus != domain.StatusHealthy,
		func(prev string) notify.Message { return notify.HealthMessage(rep, domain.Status(prev)) })
}

// Backup alerts when a run fails after a success (or first run), and on
// recovery when enabled.
func (a *Alerter) Backup(ctx context.Context, rep domain.BackupReport) error {
	status := backupSucceeded
	if !rep.OverallSucceeded {
		status = backupFailed
	}
	return a.transition(ctx, SubjectBackup, status, !rep.OverallSucceeded,
		func(string) notify.Message { return notify.BackupMessage(rep) })
}

func (a *Alerter) transition(ctx context.Context, subject, status string, bad bool, message func(prev string) notify.Message) error {
	rec, err := a.alerts.GetAlert(ctx, subject)
	if err != nil {
		return err
	}
	now := a.now()

	var prev string
	if rec != nil {
		prev = rec.LastStatus
	}
	// A first good run is the baseline, not a recovery.
	stateChanged := (rec == nil && bad) || (rec != nil && rec.LastStatus != status)

	cooled := true
	if rec != nil && rec.LastSentAt != nil {
		cooled = now.Sub(*rec.LastSentAt) >= a.cfg.Cooldown
	}

	badAlert := stateChanged && bad && cooled
	recoveryAlert := stateChanged && !bad && a.cfg.AlertOnRecovery

	if badAlert || recoveryAlert {
		if a.notifier != nil {
			if err := a.notifier.Send(ctx, message(prev)); err != nil {
				// Record nothing so the next run tries again.
				return err
			}
		}
		a.logger.Info("alert_sent", zap.String("subject", subject), zap.String("from", prev), zap.String("to", status))
		return a.alerts.SetAlert(ctx, subject, status, now)
	}

	// State changed (or first sighting) without a send: keep the new state
	// and the previous send time so the cooldown keeps running.
	if rec == nil || rec.LastStatus != status {
		var sentAt time.Time
		if rec != nil && rec.LastSentAt != nil {
			sentAt = *rec.LastSentAt
		}
		return a.alerts.SetAlert(ctx, subject, status, sentAt)
	}
	return nil
}
