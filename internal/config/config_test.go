package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "8080" || cfg.DatabaseDriver != DriverSQLite {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.ScheduleHour != 2 || cfg.ScheduleMinute != 0 {
		t.Fatalf("schedule = %02d:%02d", cfg.ScheduleHour, cfg.ScheduleMinute)
	}
}

func TestLoadInfersPostgresFromDSN(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://user:pw@localhost:5432/perfwatch")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DatabaseDriver != DriverPostgres {
		t.Fatalf("driver = %q", cfg.DatabaseDriver)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("port: \"9000\"\nschedule_hour: 4\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("PORT", "9100")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "9100" {
		t.Fatalf("port = %q, env must win", cfg.Port)
	}
	if cfg.ScheduleHour != 4 {
		t.Fatalf("schedule hour = %d, file value expected", cfg.ScheduleHour)
	}
}

func TestLoadRejectsBadSchedule(t *testing.T) {
	t.Setenv("SCHEDULE_HOUR", "25")
	if _, err := Load(); err == nil {
		t.Fatal("want error for hour 25")
	}
}

func TestLoadRejectsPostgresWithoutDSN(t *testing.T) {
	t.Setenv("DATABASE_DRIVER", DriverPostgres)
	if _, err := Load(); err == nil {
		t.Fatal("want error for postgres driver without DSN")
	}
}
