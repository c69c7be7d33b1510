package main

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/hamed0406/pipewatch/internal/backup"
	"github.com/hamed0406/pipewatch/internal/config"
	"github.com/hamed0406/pipewatch/internal/health"
	"github.com/hamed0406/pipewatch/internal/metrics"
	"github.com/hamed0406/pipewatch/internal/notify"
	"github.com/hamed0406/pipewatch/internal/probe"
	"github.com/hamed0406/pipewatch/internal/relay"
	"github.com/hamed0406/pipewatch/internal/repo"
	"github.com/hamed0406/pipewatch/internal/repo/filestore"
	"github.com/hamed0406/pipewatch/internal/repo/memory"
	"github.com/hamed0406/pipewatch/internal/repo/postgres"
	"github.com/hamed0406/pipewatch/internal/scheduler"
	"github.com/hamed0406/pipewatch/internal/warehouse"
)

// app is everything a subcommand needs, built once from the config.
type app struct {
	cfg     config.Config
	log     *zap.Logger
	store   repo.ReportStore
	metrics *metrics.Recorder
	ctl     *scheduler.Controller

	closers []func() error
}

func newApp(ctx context.Context, cfg config.Config, log *zap.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, log: log, metrics: metrics.New()}
	defer func() {
		if err != nil {
			err = multierr.Append(err, a.Close())
		}
	}()

	if a.store, err = a.openStore(ctx); err != nil {
		return nil, err
	}

	wh, err := warehouse.New(warehouse.Options{
		Driver:         cfg.Warehouse.Driver,
		DSN:            cfg.Warehouse.DSN,
		Attach:         cfg.Warehouse.Attach,
		ConnectTimeout: cfg.Warehouse.ConnectTimeout,
	})
	if err != nil {
		return nil, err
	}

	coord := backup.NewCoordinator(cfg.Backup.Root, a.store, log)
	coord.Observer = a.metrics

	a.ctl = &scheduler.Controller{
		Logger: log,
		Aggregator: health.New(log,
			health.WithConcurrency(cfg.Concurrency),
			health.WithObserver(a.metrics),
		),
		Probes:      buildProbes(cfg, wh),
		Health:      a.store,
		Coordinator: coord,
		Operations:  buildOperations(cfg, wh),
		Keep:        cfg.Backup.Keep,
		Backups:     a.store,
	}

	up, err := relay.Open(ctx, relay.Options{
		Provider:        cfg.Relay.Provider,
		Bucket:          cfg.Relay.Bucket,
		Region:          cfg.Relay.Region,
		Endpoint:        cfg.Relay.Endpoint,
		CredentialsFile: cfg.Relay.CredentialsFile,
	})
	if err != nil {
		return nil, err
	}
	if up != nil {
		if c, ok := up.(io.Closer); ok {
			a.closers = append(a.closers, c.Close)
		}
		a.ctl.Relay = relay.New(up, cfg.Relay.Prefix, cfg.Relay.Timeout, log)
	}

	if n := buildNotifier(cfg, log); n != nil {
		a.ctl.Notifier = n
		a.ctl.Alerter = scheduler.NewAlerter(a.store, n, scheduler.AlerterConfig{
			AlertOnRecovery: cfg.Schedule.AlertOnRecovery,
			Cooldown:        cfg.Schedule.AlertCooldown,
		}, log)
	} else {
		// Still track transitions so the first configured sink starts from
		// the right baseline.
		a.ctl.Alerter = scheduler.NewAlerter(a.store, nil, scheduler.AlerterConfig{}, log)
	}
	return a, nil
}

func (a *app) openStore(ctx context.Context) (repo.ReportStore, error) {
	switch a.cfg.Store.Kind {
	case "memory":
		return memory.New(), nil
	case "postgres":
		pg, err := postgres.New(ctx, a.cfg.Store.DSN, a.log)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error { pg.Close(); return nil })
		if err := pg.Migrate(ctx); err != nil {
			return nil, err
		}
		return pg, nil
	case "file", "":
		return filestore.New(a.cfg.Backup.Root)
	default:
		return nil, fmt.Errorf("unknown store %q", a.cfg.Store.Kind)
	}
}

func (a *app) Close() error {
	var errs error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = multierr.Append(errs, a.closers[i]())
	}
	a.closers = nil
	return errs
}

func buildProbes(cfg config.Config, wh warehouse.Connector) []probe.Probe {
	probes := []probe.Probe{probe.NewConnectivity(wh, cfg.Warehouse.QueryTimeout)}
	if len(cfg.Freshness.Layers) > 0 {
		layers := make([]probe.Layer, 0, len(cfg.Freshness.Layers))
		for _, l := range cfg.Freshness.Layers {
			layers = append(layers, probe.Layer{Name: l.Name, Query: l.Query, MaxLag: l.MaxLag})
		}
		probes = append(probes, probe.NewFreshness(wh, layers, cfg.Freshness.Threshold, cfg.Warehouse.QueryTimeout))
	}
	if len(cfg.Quality.Rules) > 0 {
		rules := make([]probe.Rule, 0, len(cfg.Quality.Rules))
		for _, r := range cfg.Quality.Rules {
			rules = append(rules, probe.Rule{Name: r.Name, Query: r.Query})
		}
		probes = append(probes, probe.NewQuality(wh, rules, cfg.Warehouse.QueryTimeout))
	}
	if cfg.Service.URL != "" {
		probes = append(probes, probe.NewServiceHealth(cfg.Service.URL, cfg.Service.Username, cfg.Service.Password, cfg.Service.Timeout))
	}
	return probes
}

func buildOperations(cfg config.Config, wh warehouse.Connector) []backup.Operation {
	ops := []backup.Operation{
		&backup.SchemaCapture{Warehouse: wh, Allow: cfg.Backup.Schemas, Timeout: cfg.Backup.Timeout},
		&backup.ProcedureCapture{Warehouse: wh, Allow: cfg.Backup.Schemas, Timeout: cfg.Backup.Timeout},
	}
	if cfg.Backup.OrchestrationDir != "" {
		ops = append(ops, backup.NewOrchestrationCopy(cfg.Backup.OrchestrationDir, cfg.Backup.Timeout))
	}
	for _, p := range cfg.Backup.Projects {
		ops = append(ops, backup.NewProjectCopy(p.Name, p.Dir, cfg.Backup.Timeout))
	}
	return ops
}

// buildNotifier returns nil when no sink is configured.
func buildNotifier(cfg config.Config, log *zap.Logger) notify.Notifier {
	var sinks notify.Multi
	if s := notify.NewSlack(cfg.Notify.SlackWebhook); s != nil {
		s.LinkURL = cfg.Notify.LinkURL
		sinks = append(sinks, notify.NewRetrying(s, log))
	}
	if e := notify.NewEmail(cfg.Notify.SMTPHost, cfg.Notify.SMTPPort, cfg.Notify.SMTPUser,
		cfg.Notify.SMTPPassword, cfg.Notify.SMTPFrom, cfg.Notify.SMTPTo); e != nil {
		sinks = append(sinks, notify.NewRetrying(e, log))
	}
	if len(sinks) == 0 {
		return nil
	}
	return sinks
}
