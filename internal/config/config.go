// Package config assembles the runtime configuration from built-in defaults,
// an optional YAML file and environment variables, in that order.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

// EnvFile names the environment variable holding the YAML config path.
const EnvFile = "PIPEWATCH_CONFIG"

type Config struct {
	Addr       string `yaml:"addr"`        // API bind address, e.g. "127.0.0.1:8080" or ":8080" (Docker)
	LogDir     string `yaml:"log_dir"`     // logs directory
	LogConsole bool   `yaml:"log_console"` // also log to stderr
	LogLevel   string `yaml:"log_level"`   // debug, info, warn or error

	PublicAPIKeys []string `yaml:"public_api_keys"`
	AdminAPIKeys  []string `yaml:"admin_api_keys"`
	CORSOrigins   []string `yaml:"cors_origins"` // empty allows all
	PublicRPM     int      `yaml:"public_rpm"`
	PublicBurst   int      `yaml:"public_burst"`
	AdminRPM      int      `yaml:"admin_rpm"`
	AdminBurst    int      `yaml:"admin_burst"`

	// Concurrency bounds parallel probes; 0 or 1 runs them in order.
	Concurrency int `yaml:"concurrency"`

	Warehouse Warehouse `yaml:"warehouse"`
	Freshness Freshness `yaml:"freshness"`
	Quality   Quality   `yaml:"quality"`
	Service   Service   `yaml:"service"`
	Backup    Backup    `yaml:"backup"`
	Relay     Relay     `yaml:"relay"`
	Notify    Notify    `yaml:"notify"`
	Store     Store     `yaml:"store"`
	Schedule  Schedule  `yaml:"schedule"`
}

type Warehouse struct {
	Driver string `yaml:"driver"` // postgres or sqlite
	DSN    string `yaml:"dsn"`
	// Attach maps schema names to extra SQLite files (bronze, silver, gold).
	Attach         map[string]string `yaml:"attach"`
	ConnectTimeout time.Duration     `yaml:"connect_timeout"`
	QueryTimeout   time.Duration     `yaml:"query_timeout"`
}

type Layer struct {
	Name  string `yaml:"name"`
	Query string `yaml:"query"`
	// MaxLag overrides Freshness.Threshold for this layer.
	MaxLag time.Duration `yaml:"max_lag"`
}

type Freshness struct {
	Threshold time.Duration `yaml:"threshold"`
	Layers    []Layer       `yaml:"layers"`
}

type Rule struct {
	Name  string `yaml:"name"`
	Query string `yaml:"query"`
}

type Quality struct {
	Rules []Rule `yaml:"rules"`
}

type Service struct {
	URL      string        `yaml:"url"` // empty disables the probe
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	Timeout  time.Duration `yaml:"timeout"`
}

type Project struct {
	Name string `yaml:"name"`
	Dir  string `yaml:"dir"`
}

type Backup struct {
	Root             string        `yaml:"root"`
	Schemas          []string      `yaml:"schemas"` // empty captures every schema
	OrchestrationDir string        `yaml:"orchestration_dir"`
	Projects         []Project     `yaml:"projects"`
	Keep             int           `yaml:"keep"` // run directories retained; 0 keeps all
	Timeout          time.Duration `yaml:"timeout"`
}

type Relay struct {
	Provider        string        `yaml:"provider"` // s3, gcs or none
	Bucket          string        `yaml:"bucket"`
	Prefix          string        `yaml:"prefix"`
	Region          string        `yaml:"region"`
	Endpoint        string        `yaml:"endpoint"`
	CredentialsFile string        `yaml:"credentials_file"`
	Timeout         time.Duration `yaml:"timeout"`
}

type Notify struct {
	SlackWebhook string   `yaml:"slack_webhook"`
	LinkURL      string   `yaml:"link_url"`
	SMTPHost     string   `yaml:"smtp_host"`
	SMTPPort     int      `yaml:"smtp_port"`
	SMTPUser     string   `yaml:"smtp_user"`
	SMTPPassword string   `yaml:"smtp_password"`
	SMTPFrom     string   `yaml:"smtp_from"`
	SMTPTo       []string `yaml:"smtp_to"`
}

type Store struct {
	Kind string `yaml:"kind"` // file, postgres or memory
	DSN  string `yaml:"dsn"`
}

type Schedule struct {
	HealthInterval  time.Duration `yaml:"health_interval"` // 0 disables the loop
	BackupInterval  time.Duration `yaml:"backup_interval"`
	SummaryInterval time.Duration `yaml:"summary_interval"`
	AlertCooldown   time.Duration `yaml:"alert_cooldown"`
	AlertOnRecovery bool          `yaml:"alert_on_recovery"`
}

func Default() Config {
	return Config{
		Addr:        "127.0.0.1:8080",
		LogDir:      "logs",
		LogLevel:    "info",
		PublicRPM:   120,
		PublicBurst: 60,
		AdminRPM:    30,
		AdminBurst:  10,
		Concurrency: 1,
		Warehouse: Warehouse{
			Driver:         "postgres",
			ConnectTimeout: 10 * time.Second,
			QueryTimeout:   30 * time.Second,
		},
		Freshness: Freshness{Threshold: 24 * time.Hour},
		Service:   Service{Timeout: 10 * time.Second},
		Backup: Backup{
			Root:    "backups",
			Keep:    7,
			Timeout: 10 * time.Minute,
		},
		Relay:  Relay{Provider: "none", Prefix: "backups", Timeout: 5 * time.Minute},
		Notify: Notify{SMTPPort: 587},
		Store:  Store{Kind: "file"},
		Schedule: Schedule{
			HealthInterval:  15 * time.Minute,
			BackupInterval:  24 * time.Hour,
			SummaryInterval: 24 * time.Hour,
			AlertCooldown:   30 * time.Minute,
			AlertOnRecovery: true,
		},
	}
}

// Load reads the YAML file named by PIPEWATCH_CONFIG (if any) over the
// defaults, then applies environment overrides.
func Load() (Config, error) {
	cfg := Default()
	if path := os.Getenv(EnvFile); path != "" {
		if err := cfg.ReadFile(path); err != nil {
			return cfg, err
		}
	}
	cfg.ApplyEnv()
	return cfg, nil
}

// ReadFile merges a YAML document into c. Unknown keys are rejected.
func (c *Config) ReadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// FromEnv is Default with environment overrides applied; no file is read.
func FromEnv() Config {
	cfg := Default()
	cfg.ApplyEnv()
	return cfg
}

// ApplyEnv overrides fields whose environment variable is set. Unparseable
// numbers keep the current value.
func (c *Config) ApplyEnv() {
	setStr(&c.Addr, "API_ADDR")
	setStr(&c.LogDir, "LOG_DIR")
	setBool(&c.LogConsole, "LOG_CONSOLE")
	setStr(&c.LogLevel, "LOG_LEVEL")

	setList(&c.PublicAPIKeys, "PUBLIC_API_KEYS")
	setList(&c.AdminAPIKeys, "ADMIN_API_KEYS")
	setList(&c.CORSOrigins, "CORS_ORIGINS")
	setInt(&c.PublicRPM, "PUBLIC_RPM")
	setInt(&c.PublicBurst, "PUBLIC_BURST")
	setInt(&c.AdminRPM, "ADMIN_RPM")
	setInt(&c.AdminBurst, "ADMIN_BURST")
	setInt(&c.Concurrency, "MAX_CONCURRENT_PROBES")

	setStr(&c.Warehouse.Driver, "WAREHOUSE_DRIVER")
	setStr(&c.Warehouse.DSN, "WAREHOUSE_DSN")
	setMillis(&c.Warehouse.ConnectTimeout, "WAREHOUSE_CONNECT_TIMEOUT_MS")
	setMillis(&c.Warehouse.QueryTimeout, "QUERY_TIMEOUT_MS")
	if v := os.Getenv("FRESHNESS_THRESHOLD_HOURS"); v != "" {
		if h, err := strconv.ParseFloat(v, 64); err == nil && h > 0 {
			c.Freshness.Threshold = time.Duration(h * float64(time.Hour))
		}
	}

	setStr(&c.Service.URL, "SERVICE_HEALTH_URL")
	setStr(&c.Service.Username, "SERVICE_HEALTH_USER")
	setStr(&c.Service.Password, "SERVICE_HEALTH_PASSWORD")
	setMillis(&c.Service.Timeout, "SERVICE_HEALTH_TIMEOUT_MS")

	setStr(&c.Backup.Root, "BACKUP_ROOT")
	setList(&c.Backup.Schemas, "BACKUP_SCHEMAS")
	setStr(&c.Backup.OrchestrationDir, "ORCHESTRATION_DIR")
	if v := os.Getenv("PROJECT_DIRS"); v != "" {
		c.Backup.Projects = parseProjects(v)
	}
	setInt(&c.Backup.Keep, "BACKUP_KEEP")

	setStr(&c.Relay.Provider, "RELAY_PROVIDER")
	setStr(&c.Relay.Bucket, "RELAY_BUCKET")
	setStr(&c.Relay.Prefix, "RELAY_PREFIX")
	setStr(&c.Relay.Region, "RELAY_REGION")
	setStr(&c.Relay.Endpoint, "RELAY_ENDPOINT")
	setStr(&c.Relay.CredentialsFile, "RELAY_CREDENTIALS_FILE")

	setStr(&c.Notify.SlackWebhook, "SLACK_WEBHOOK_URL")
	setStr(&c.Notify.LinkURL, "DASHBOARD_URL")
	setStr(&c.Notify.SMTPHost, "SMTP_HOST")
	setInt(&c.Notify.SMTPPort, "SMTP_PORT")
	setStr(&c.Notify.SMTPUser, "SMTP_USER")
	setStr(&c.Notify.SMTPPassword, "SMTP_PASSWORD")
	setStr(&c.Notify.SMTPFrom, "SMTP_FROM")
	setList(&c.Notify.SMTPTo, "ALERT_EMAILS")

	setStr(&c.Store.Kind, "STORE")
	setStr(&c.Store.DSN, "DATABASE_URL")

	setMillis(&c.Schedule.HealthInterval, "HEALTH_INTERVAL_MS")
	setMillis(&c.Schedule.BackupInterval, "BACKUP_INTERVAL_MS")
	setMillis(&c.Schedule.SummaryInterval, "SUMMARY_INTERVAL_MS")
	setMillis(&c.Schedule.AlertCooldown, "ALERT_COOLDOWN_MS")
	setBool(&c.Schedule.AlertOnRecovery, "ALERT_ON_RECOVERY")
}

// Validate reports every problem at once.
func (c Config) Validate() error {
	var errs error
	add := func(format string, args ...any) {
		errs = multierr.Append(errs, fmt.Errorf(format, args...))
	}

	switch c.Warehouse.Driver {
	case "postgres", "sqlite":
	default:
		add("warehouse.driver must be postgres or sqlite, got %q", c.Warehouse.Driver)
	}
	if c.Warehouse.DSN == "" {
		add("warehouse.dsn is required")
	}
	if c.Warehouse.Driver != "sqlite" && len(c.Warehouse.Attach) > 0 {
		add("warehouse.attach is only supported for sqlite")
	}
	if c.Freshness.Threshold <= 0 {
		add("freshness.threshold must be positive")
	}
	seen := map[string]bool{}
	for i, l := range c.Freshness.Layers {
		switch {
		case l.Name == "":
			add("freshness.layers[%d]: name is required", i)
		case seen[l.Name]:
			add("freshness.layers[%d]: duplicate layer %q", i, l.Name)
		}
		seen[l.Name] = true
		if l.Query == "" {
			add("freshness.layers[%d]: query is required", i)
		}
		if l.MaxLag < 0 {
			add("freshness.layers[%d]: max_lag must not be negative", i)
		}
	}
	seen = map[string]bool{}
	for i, r := range c.Quality.Rules {
		switch {
		case r.Name == "":
			add("quality.rules[%d]: name is required", i)
		case seen[r.Name]:
			add("quality.rules[%d]: duplicate rule %q", i, r.Name)
		}
		seen[r.Name] = true
		if r.Query == "" {
			add("quality.rules[%d]: query is required", i)
		}
	}

	if c.Backup.Root == "" {
		add("backup.root is required")
	}
	if c.Backup.Keep < 0 {
		add("backup.keep must not be negative")
	}
	seen = map[string]bool{}
	for i, p := range c.Backup.Projects {
		if p.Name == "" || p.Dir == "" {
			add("backup.projects[%d]: name and dir are required", i)
		}
		if seen[p.Name] {
			add("backup.projects[%d]: duplicate project %q", i, p.Name)
		}
		seen[p.Name] = true
	}

	switch strings.ToLower(c.Relay.Provider) {
	case "", "none":
	case "s3", "gcs":
		if c.Relay.Bucket == "" {
			add("relay.bucket is required for provider %s", c.Relay.Provider)
		}
	default:
		add("relay.provider must be s3, gcs or none, got %q", c.Relay.Provider)
	}

	switch c.Store.Kind {
	case "file", "memory":
	case "postgres":
		if c.Store.DSN == "" {
			add("store.dsn is required for the postgres store")
		}
	default:
		add("store.kind must be file, postgres or memory, got %q", c.Store.Kind)
	}

	if c.Notify.SMTPHost != "" {
		if c.Notify.SMTPPort <= 0 || c.Notify.SMTPPort > 65535 {
			add("notify.smtp_port out of range: %d", c.Notify.SMTPPort)
		}
		if len(c.Notify.SMTPTo) == 0 {
			add("notify.smtp_to is required when smtp_host is set")
		}
	}

	if c.Concurrency < 0 {
		add("concurrency must not be negative")
	}
	for name, d := range map[string]time.Duration{
		"schedule.health_interval":  c.Schedule.HealthInterval,
		"schedule.backup_interval":  c.Schedule.BackupInterval,
		"schedule.summary_interval": c.Schedule.SummaryInterval,
		"schedule.alert_cooldown":   c.Schedule.AlertCooldown,
	} {
		if d < 0 {
			add("%s must not be negative", name)
		}
	}
	return errs
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setMillis(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms >= 0 {
			*dst = time.Duration(ms) * time.Millisecond
		}
	}
}

func setList(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = splitList(v)
	}
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseProjects reads "name=dir,name2=dir2".
func parseProjects(s string) []Project {
	var out []Project
	for _, item := range splitList(s) {
		name, dir, _ := strings.Cut(item, "=")
		out = append(out, Project{Name: strings.TrimSpace(name), Dir: strings.TrimSpace(dir)})
	}
	return out
}
