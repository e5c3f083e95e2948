// Package config loads server settings. Environment variables win; an
// optional YAML file (CONFIG_FILE) supplies defaults below them. Provider
// credentials are deliberately absent: apart from the optional PageSpeed
// key they travel in request bodies, never in server config.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Config struct {
	Port            string `yaml:"port"`
	DatabaseDriver  string `yaml:"database_driver"`
	DatabaseURL     string `yaml:"database_url"`
	SQLitePath      string `yaml:"sqlite_path"`
	PageSpeedAPIKey string `yaml:"pagespeed_api_key"`
	NATSURL         string `yaml:"nats_url"`

	ScheduleHour   int `yaml:"schedule_hour"`
	ScheduleMinute int `yaml:"schedule_minute"`

	// RequestDelaySeconds spaces sequential PageSpeed calls in a batch.
	RequestDelaySeconds int `yaml:"request_delay_seconds"`
}

// Load reads the optional YAML file, applies environment overrides, and
// fills in defaults.
func Load() (Config, error) {
	cfg := Config{
		Port:                "8080",
		SQLitePath:          "perfwatch.db",
		ScheduleHour:        2,
		ScheduleMinute:      0,
		RequestDelaySeconds: 2,
	}
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.Port = getenv("PORT", cfg.Port)
	cfg.DatabaseDriver = getenv("DATABASE_DRIVER", cfg.DatabaseDriver)
	cfg.DatabaseURL = getenv("DATABASE_URL", cfg.DatabaseURL)
	cfg.SQLitePath = getenv("SQLITE_PATH", cfg.SQLitePath)
	cfg.PageSpeedAPIKey = getenv("PAGESPEED_API_KEY", cfg.PageSpeedAPIKey)
	cfg.NATSURL = getenv("NATS_URL", cfg.NATSURL)
	cfg.ScheduleHour = getenvInt("SCHEDULE_HOUR", cfg.ScheduleHour)
	cfg.ScheduleMinute = getenvInt("SCHEDULE_MINUTE", cfg.ScheduleMinute)
	cfg.RequestDelaySeconds = getenvInt("REQUEST_DELAY_SECONDS", cfg.RequestDelaySeconds)

	// Presence of a Postgres DSN selects the Postgres backend; otherwise
	// local SQLite.
	if cfg.DatabaseDriver == "" {
		if strings.HasPrefix(cfg.DatabaseURL, "postgres://") || strings.HasPrefix(cfg.DatabaseURL, "postgresql://") {
			cfg.DatabaseDriver = DriverPostgres
		} else {
			cfg.DatabaseDriver = DriverSQLite
		}
	}
	switch cfg.DatabaseDriver {
	case DriverPostgres:
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("DATABASE_URL is required for the postgres driver")
		}
	case DriverSQLite:
	default:
		return Config{}, fmt.Errorf("unsupported database driver %q", cfg.DatabaseDriver)
	}
	if cfg.ScheduleHour < 0 || cfg.ScheduleHour > 23 || cfg.ScheduleMinute < 0 || cfg.ScheduleMinute > 59 {
		return Config{}, fmt.Errorf("invalid schedule time %02d:%02d", cfg.ScheduleHour, cfg.ScheduleMinute)
	}
	return cfg, nil
}

// RequestDelay returns the batch spacing as a duration.
func (c Config) RequestDelay() time.Duration {
	return time.Duration(c.RequestDelaySeconds) * time.Second
}

func getenv(key, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func getenvInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	if parsed, err := strconv.Atoi(val); err == nil {
		return parsed
	}
	return fallback
}
