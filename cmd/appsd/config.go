package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/goliatone/go-apps/scheduler"
)

const (
	driverPostgres = "postgres"
	driverSQLite   = "sqlite3"
)

// daemonConfig holds the process level settings. Runtime settings of the
// apps service travel separately as a raw map through cfgx.
type daemonConfig struct {
	Addr            string
	ShutdownTimeout time.Duration

	DatabaseDriver string
	DatabaseDSN    string
	DatabaseDebug  bool

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	AppKey       string
	ScheduleSpec string
	CacheTTL     time.Duration
	AssetsDir    string

	OutlookClientID     string
	OutlookClientSecret string
	OutlookTenant       string
	GoogleClientID      string
	GoogleClientSecret  string
	EnableBuiltins      []string

	Runtime map[string]any
}

func (c daemonConfig) GetDebug() bool { return c.DatabaseDebug }
func (c daemonConfig) GetDriver() string { return c.DatabaseDriver }
func (c daemonConfig) GetServer() string { return c.DatabaseDSN }
func (c daemonConfig) GetPingTimeout() time.Duration { return 5 * time.Second }
func (c daemonConfig) GetOtelIdentifier() string { return "go-apps" }

// loadConfig reads .env when present and then the APPS_* environment.
func loadConfig(lookup func(string) (string, bool)) (daemonConfig, error) {
	if lookup == nil {
		_ = godotenv.Load()
		lookup = os.LookupEnv
	}
	env := envReader{lookup: lookup}

	cfg := daemonConfig{
		Addr:            env.str("APPS_ADDR", ":8080"),
		ShutdownTimeout: env.duration("APPS_SHUTDOWN_TIMEOUT", 10*time.Second),

		DatabaseDriver: strings.ToLower(env.str("APPS_DB_DRIVER", driverSQLite)),
		DatabaseDSN:    env.str("APPS_DB_DSN", "file:apps.db?cache=shared&_foreign_keys=on"),
		DatabaseDebug:  env.bool("APPS_DB_DEBUG", false),

		RedisAddr:     env.str("APPS_REDIS_ADDR", ""),
		RedisPassword: env.str("APPS_REDIS_PASSWORD", ""),
		RedisDB:       env.int("APPS_REDIS_DB", 0),

		AppKey:       env.str("APPS_APP_KEY", ""),
		ScheduleSpec: env.str("APPS_SCHEDULE", scheduler.DefaultSpec),
		CacheTTL:     env.duration("APPS_CACHE_TTL", 0),
		AssetsDir:    env.str("APPS_ASSETS_DIR", "./assets"),

		OutlookClientID:     env.str("APPS_OUTLOOK_CLIENT_ID", ""),
		OutlookClientSecret: env.str("APPS_OUTLOOK_CLIENT_SECRET", ""),
		OutlookTenant:       env.str("APPS_OUTLOOK_TENANT", ""),
		GoogleClientID:      env.str("APPS_GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret:  env.str("APPS_GOOGLE_CLIENT_SECRET", ""),
		EnableBuiltins:      env.list("APPS_BUILTINS"),

		Runtime: map[string]any{},
	}

	for key, envKey := range map[string]string{
		"service_name":     "APPS_SERVICE_NAME",
		"app_base_url":     "APPS_BASE_URL",
		"admin_apps_path":  "APPS_ADMIN_APPS_PATH",
		"default_timezone": "APPS_DEFAULT_TIMEZONE",
	} {
		if value := env.str(envKey, ""); value != "" {
			cfg.Runtime[key] = value
		}
	}
	for key, envKey := range map[string]string{
		"vendor_timeout":      "APPS_VENDOR_TIMEOUT",
		"refresh_lock_ttl":    "APPS_REFRESH_LOCK_TTL",
		"refresh_lead_window": "APPS_REFRESH_LEAD_WINDOW",
	} {
		if value := env.str(envKey, ""); value != "" {
			d, err := time.ParseDuration(value)
			if err != nil {
				return daemonConfig{}, fmt.Errorf("appsd: %s: %w", envKey, err)
			}
			cfg.Runtime[key] = d
		}
	}
	if value := env.str("APPS_SCHEDULED_CONCURRENCY", ""); value != "" {
		n, err := strconv.Atoi(value)
		if err != nil {
			return daemonConfig{}, fmt.Errorf("appsd: APPS_SCHEDULED_CONCURRENCY: %w", err)
		}
		cfg.Runtime["scheduled_concurrency"] = n
	}

	return cfg, cfg.validate()
}

func (c daemonConfig) validate() error {
	switch c.DatabaseDriver {
	case driverPostgres, driverSQLite:
	default:
		return fmt.Errorf("appsd: unsupported database driver %q", c.DatabaseDriver)
	}
	if strings.TrimSpace(c.DatabaseDSN) == "" {
		return fmt.Errorf("appsd: APPS_DB_DSN is required")
	}
	if strings.TrimSpace(c.AppKey) == "" {
		return fmt.Errorf("appsd: APPS_APP_KEY is required")
	}
	return nil
}

func (c daemonConfig) builtinEnabled(name string) bool {
	if len(c.EnableBuiltins) == 0 {
		return true
	}
	for _, candidate := range c.EnableBuiltins {
		if strings.EqualFold(candidate, name) {
			return true
		}
	}
	return false
}

type envReader struct {
	lookup func(string) (string, bool)
}

func (e envReader) str(key, fallback string) string {
	if value, ok := e.lookup(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func (e envReader) bool(key string, fallback bool) bool {
	value := e.str(key, "")
	if value == "" {
		return fallback
	}
	return value == "true" || value == "1"
}

func (e envReader) int(key string, fallback int) int {
	if n, err := strconv.Atoi(e.str(key, "")); err == nil {
		return n
	}
	return fallback
}

func (e envReader) duration(key string, fallback time.Duration) time.Duration {
	if d, err := time.ParseDuration(e.str(key, "")); err == nil {
		return d
	}
	return fallback
}

func (e envReader) list(key string) []string {
	var out []string
	for _, part := range strings.Split(e.str(key, ""), ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
