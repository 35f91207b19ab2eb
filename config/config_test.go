package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Tracking.MinMovementMeters != 1 || cfg.Tracking.Staleness != 2*time.Second {
		t.Fatalf("tracking defaults = %+v", cfg.Tracking)
	}
	if cfg.Tracking.FallbackLon != 76.889709 || cfg.Tracking.FallbackLat != 43.238949 {
		t.Fatalf("fallback = %v,%v", cfg.Tracking.FallbackLon, cfg.Tracking.FallbackLat)
	}
	if cfg.Map.RecenterMeters != 50 || cfg.Map.RecenterDuration != time.Second {
		t.Fatalf("map defaults = %+v", cfg.Map)
	}
	if Current() != cfg {
		t.Fatal("Current does not return the loaded config")
	}
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := []byte(`
tracking:
  min_movement_meters: 0.5
  staleness: 3s
db:
  host: db
kafka:
  brokers: ["k1:9092", "k2:9092"]
`)
	if err := os.WriteFile(path, yaml, 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SERVER_ADDR", ":9999")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Tracking.MinMovementMeters != 0.5 || cfg.Tracking.Staleness != 3*time.Second {
		t.Fatalf("tracking = %+v", cfg.Tracking)
	}
	if cfg.Server.Addr != ":9999" {
		t.Fatalf("env override ignored: addr=%q", cfg.Server.Addr)
	}
	if len(cfg.Kafka.Brokers) != 2 {
		t.Fatalf("brokers = %v", cfg.Kafka.Brokers)
	}
	if got := cfg.DB.DSN(); got != "postgres://postgres:postgres@db:5432/zholda?sslmode=disable" {
		t.Fatalf("DSN = %q", got)
	}
}

func TestLoadRejectsBrokenYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("tracking: [unterminated"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestWatchReloadsAndLogsDecodeFailures(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	// Renamed into place so the watcher never reads a half-written file.
	write := func(body string) {
		t.Helper()
		if err := os.WriteFile(path+".tmp", []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
		if err := os.Rename(path+".tmp", path); err != nil {
			t.Fatal(err)
		}
	}
	write("tracking:\n  staleness: 3s\n")

	core, logs := observer.New(zap.InfoLevel)
	changes := make(chan *Config, 16)
	err := Watch(path, zap.New(core), func(c *Config) {
		select {
		case changes <- c:
		default:
		}
	})
	if err != nil {
		t.Fatal(err)
	}

	write("tracking:\n  staleness: 5s\n")
	deadline := time.After(5 * time.Second)
	for reloaded := false; !reloaded; {
		select {
		case c := <-changes:
			reloaded = c.Tracking.Staleness == 5*time.Second
		case <-deadline:
			t.Fatal("valid change not reloaded")
		}
	}

	write("tracking:\n  staleness: soon\n")
	const failed = "config reload failed, keeping previous config"
	for start := time.Now(); logs.FilterMessage(failed).Len() == 0; {
		if time.Since(start) > 5*time.Second {
			t.Fatalf("decode failure not logged, entries: %v", logs.All())
		}
		time.Sleep(20 * time.Millisecond)
	}
	if got := Current().Tracking.Staleness; got != 5*time.Second {
		t.Errorf("staleness after failed reload = %v, want 5s", got)
	}
}
