package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hamed0406/pipewatch/internal/config"
	"github.com/hamed0406/pipewatch/internal/logging"
)

// errGateClosed makes the process exit with status 2: the run completed but
// its report does not let downstream stages proceed.
var errGateClosed = errors.New("gate closed")

var version = "dev"

type options struct {
	configFile string
	console    bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:           "pipectl",
		Short:         "Pipeline health checks, gated runs and backups",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "",
		"YAML config file (default $"+config.EnvFile+")")
	cmd.PersistentFlags().BoolVar(&opts.console, "console", false, "also log to stderr")

	cmd.AddCommand(
		newHealthCmd(opts),
		newBackupCmd(opts),
		newGateCmd(opts),
		newPruneCmd(opts),
		newSummaryCmd(opts),
		newServeCmd(opts),
	)
	return cmd
}

// load reads the config and opens the logger. The caller syncs the logger.
func (o *options) load() (config.Config, *zap.Logger, error) {
	if o.configFile != "" {
		if err := os.Setenv(config.EnvFile, o.configFile); err != nil {
			return config.Config{}, nil, err
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return cfg, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, nil, fmt.Errorf("invalid config: %w", err)
	}
	log, err := logging.NewLogger(logging.Options{
		Dir:     cfg.LogDir,
		Console: cfg.LogConsole || o.console,
		Level:   cfg.LogLevel,
	})
	if err != nil {
		return cfg, nil, err
	}
	return cfg, log, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// open loads config and builds the app for commands that run the controller.
func (o *options) open(cmd *cobra.Command) (*app, error) {
	cfg, log, err := o.load()
	if err != nil {
		return nil, err
	}
	a, err := newApp(cmd.Context(), cfg, log)
	if err != nil {
		_ = log.Sync()
		return nil, err
	}
	return a, nil
}

func (a *app) shutdown() {
	if err := a.Close(); err != nil {
		a.log.Warn("shutdown_error", zap.Error(err))
	}
	_ = a.log.Sync()
}
