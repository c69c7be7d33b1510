// Command preflight checks a deployment's configuration before pipectl runs.
package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/multierr"

	"github.com/hamed0406/pipewatch/internal/config"
)

func main() {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			fmt.Fprintln(os.Stderr, "✖ .env:", err)
			os.Exit(1)
		}
	}
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "✖", err)
		os.Exit(1)
	}
	if !check(cfg, os.Stdout, os.Stderr) {
		os.Exit(1)
	}
}

// check prints one line per finding and reports whether the config is usable.
func check(cfg config.Config, out, errOut io.Writer) bool {
	fail := func(msg string) { fmt.Fprintln(errOut, "✖", msg) }
	warn := func(msg string) { fmt.Fprintln(errOut, "⚠", msg) }
	ok := func(msg string) { fmt.Fprintln(out, "✔", msg) }

	passed := true
	for _, err := range multierr.Errors(cfg.Validate()) {
		fail(err.Error())
		passed = false
	}

	if len(cfg.AdminAPIKeys) == 0 {
		warn("ADMIN_API_KEYS is empty; anyone can trigger runs through the API.")
	}
	if len(cfg.PublicAPIKeys) == 0 && len(cfg.AdminAPIKeys) == 0 {
		warn("no API keys configured; report routes are open.")
	}
	ok("API_ADDR=" + cfg.Addr)

	ok(fmt.Sprintf("warehouse driver=%s", cfg.Warehouse.Driver))
	if len(cfg.Freshness.Layers) == 0 {
		warn("no freshness layers configured; pipeline_freshness will not run.")
	} else {
		names := make([]string, 0, len(cfg.Freshness.Layers))
		for _, l := range cfg.Freshness.Layers {
			names = append(names, l.Name)
		}
		ok("freshness layers: " + strings.Join(names, ", "))
	}
	if len(cfg.Quality.Rules) == 0 {
		warn("no quality rules configured; data_quality will not run.")
	}

	if _, err := os.Stat(cfg.Backup.OrchestrationDir); cfg.Backup.OrchestrationDir != "" && err != nil {
		warn("orchestration_dir not readable now: " + err.Error())
	}
	for _, p := range cfg.Backup.Projects {
		if _, err := os.Stat(p.Dir); err != nil {
			warn(fmt.Sprintf("project %s not readable now: %v", p.Name, err))
		}
	}

	switch strings.ToLower(cfg.Relay.Provider) {
	case "", "none":
		warn("relay disabled; backups stay on local disk only.")
	default:
		ok(fmt.Sprintf("relay %s bucket=%s prefix=%s", cfg.Relay.Provider, cfg.Relay.Bucket, cfg.Relay.Prefix))
	}

	if cfg.Notify.SlackWebhook == "" && cfg.Notify.SMTPHost == "" {
		warn("no notification sink configured; alerts are tracked but not sent.")
	}
	ok("store=" + cfg.Store.Kind)

	if passed {
		ok("preflight passed")
	}
	return passed
}
