package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hamed0406/pipewatch/internal/httpapi"
	apimw "github.com/hamed0406/pipewatch/internal/httpapi/middleware"
	"github.com/hamed0406/pipewatch/internal/scheduler"
)

const shutdownGrace = 15 * time.Second

func newServeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the report API and run health, backup and summary loops",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer a.shutdown()
			return a.serve(cmd.Context())
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	cfg := a.cfg
	api := httpapi.NewServer(a.log, a.store, a.store, a.ctl, a.metrics.Handler())
	srv := &http.Server{
		Addr: cfg.Addr,
		Handler: api.Router(
			apimw.Keys{Public: cfg.PublicAPIKeys, Admin: cfg.AdminAPIKeys},
			cfg.CORSOrigins,
			httpapi.Limits{
				PublicPerMin: cfg.PublicRPM,
				PublicBurst:  cfg.PublicBurst,
				AdminPerMin:  cfg.AdminRPM,
				AdminBurst:   cfg.AdminBurst,
			},
		),
		ReadHeaderTimeout: 10 * time.Second,
	}

	loops := []*scheduler.Loop{
		scheduler.NewLoop(a.log, "health", cfg.Schedule.HealthInterval, func(ctx context.Context) {
			a.ctl.RunHealth(ctx)
		}),
		scheduler.NewLoop(a.log, "backup", cfg.Schedule.BackupInterval, func(ctx context.Context) {
			a.ctl.RunBackup(ctx)
		}),
		scheduler.NewLoop(a.log, "summary", cfg.Schedule.SummaryInterval, func(ctx context.Context) {
			if _, err := a.ctl.SendSummary(ctx, time.Now().UTC(), cfg.Schedule.SummaryInterval); err != nil {
				a.log.Warn("summary_failed", zap.Error(err))
			}
		}),
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, l := range loops {
		g.Go(func() error {
			l.Run(ctx)
			return nil
		})
	}
	g.Go(func() error {
		a.log.Info("api_listen", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		a.log.Info("api_shutdown")
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}
