package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/hamed0406/pipewatch/internal/backup"
	"github.com/hamed0406/pipewatch/internal/domain"
	"github.com/hamed0406/pipewatch/internal/repo"
)

func newHealthCmd(opts *options) *cobra.Command {
	var maxStatus string
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Run every probe once and print the health report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			limit, err := parseMax(maxStatus)
			if err != nil {
				return err
			}
			a, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer a.shutdown()

			rep := a.ctl.RunHealth(cmd.Context())
			if err := printJSON(cmd, rep); err != nil {
				return err
			}
			if !rep.Meets(limit) {
				return errGateClosed
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&maxStatus, "max-status", string(domain.StatusDegraded),
		"worst overall status that still exits 0 (healthy, degraded, unhealthy)")
	return cmd
}

func newBackupCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "backup",
		Short: "Capture schemas, procedures and project trees once and print the report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer a.shutdown()

			rep := a.ctl.RunBackup(cmd.Context())
			if err := printJSON(cmd, rep); err != nil {
				return err
			}
			if rep.PersistError != "" {
				return fmt.Errorf("report not persisted: %s", rep.PersistError)
			}
			if !rep.Meets() {
				return errGateClosed
			}
			return nil
		},
	}
}

// newGateCmd checks the latest persisted report without running anything,
// for schedulers that gate a downstream stage.
func newGateCmd(opts *options) *cobra.Command {
	var (
		maxStatus string
		ofBackup  bool
		maxAge    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "gate",
		Short: "Exit 0 when the latest report lets downstream stages proceed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			limit, err := parseMax(maxStatus)
			if err != nil {
				return err
			}
			a, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer a.shutdown()
			ctx := cmd.Context()

			if ofBackup {
				reps, err := a.store.ListBackups(ctx, 1)
				if err != nil {
					return err
				}
				if len(reps) == 0 {
					return fmt.Errorf("%w: no backup report", errGateClosed)
				}
				rep := reps[0]
				if err := printJSON(cmd, rep); err != nil {
					return err
				}
				if stale(rep.FinishedAt, maxAge) || !rep.Meets() {
					return errGateClosed
				}
				return nil
			}

			rep, err := a.store.LatestHealth(ctx)
			if errors.Is(err, repo.ErrNotFound) {
				return fmt.Errorf("%w: no health report", errGateClosed)
			}
			if err != nil {
				return err
			}
			if err := printJSON(cmd, rep); err != nil {
				return err
			}
			if stale(rep.GeneratedAt, maxAge) || !rep.Meets(limit) {
				return errGateClosed
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&maxStatus, "max-status", string(domain.StatusDegraded),
		"worst overall status that still opens the gate")
	cmd.Flags().BoolVar(&ofBackup, "backup", false, "gate on the latest backup report instead")
	cmd.Flags().DurationVar(&maxAge, "max-age", 0, "treat reports older than this as failing (0 disables)")
	return cmd
}

func newPruneCmd(opts *options) *cobra.Command {
	var keep int
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove all but the newest backup run directories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := opts.load()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()
			if !cmd.Flags().Changed("keep") {
				keep = cfg.Backup.Keep
			}
			removed, err := backup.Prune(cfg.Backup.Root, keep)
			if removed == nil {
				removed = []domain.RunID{}
			}
			if perr := printJSON(cmd, map[string]any{"removed": removed}); perr != nil {
				return perr
			}
			return err
		},
	}
	cmd.Flags().IntVar(&keep, "keep", 7, "run directories to keep (defaults to backup.keep)")
	return cmd
}

func newSummaryCmd(opts *options) *cobra.Command {
	var window time.Duration
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Send a digest of recent runs to the configured sinks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer a.shutdown()

			s, err := a.ctl.SendSummary(cmd.Context(), time.Now().UTC(), window)
			if perr := printJSON(cmd, s); perr != nil {
				return perr
			}
			return err
		},
	}
	cmd.Flags().DurationVar(&window, "window", 24*time.Hour, "period to summarise")
	return cmd
}

func parseMax(s string) (domain.Status, error) {
	st := domain.Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("invalid --max-status %q", s)
	}
	return st, nil
}

func stale(at time.Time, maxAge time.Duration) bool {
	return maxAge > 0 && time.Since(at) > maxAge
}
