package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadOrDefault_MissingFileReturnsDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOrDefault(filepath.Join(dir, "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("LoadOrDefault() error: %v", err)
	}
	if cfg.Paths.StatsDir != "./stats" {
		t.Errorf("Paths.StatsDir = %q, want ./stats", cfg.Paths.StatsDir)
	}
	if cfg.Replicate.WindowDays != 31 {
		t.Errorf("Replicate.WindowDays = %d, want 31", cfg.Replicate.WindowDays)
	}
	if cfg.Replicate.ForceRefreshDays != 3 {
		t.Errorf("Replicate.ForceRefreshDays = %d, want 3", cfg.Replicate.ForceRefreshDays)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want info", cfg.Logging.Level)
	}
}

func TestLoad_OverridesDefaultsFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
paths:
  stats_dir: /var/lib/foostats
  local_host: gateway1
replicate:
  peers:
    - peer-a.example.org
    - peer-b.example.org
  window_days: 10
logging:
  level: debug
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("writing config fixture: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Paths.StatsDir != "/var/lib/foostats" {
		t.Errorf("Paths.StatsDir = %q, want /var/lib/foostats", cfg.Paths.StatsDir)
	}
	if len(cfg.Replicate.Peers) != 2 {
		t.Fatalf("Replicate.Peers = %v, want 2 entries", cfg.Replicate.Peers)
	}
	if cfg.Replicate.WindowDays != 10 {
		t.Errorf("Replicate.WindowDays = %d, want 10 (overridden)", cfg.Replicate.WindowDays)
	}
	// Unset in the YAML: must keep the default rather than zeroing out.
	if cfg.Replicate.ForceRefreshDays != 3 {
		t.Errorf("Replicate.ForceRefreshDays = %d, want 3 (default preserved)", cfg.Replicate.ForceRefreshDays)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
}

func TestLoad_UnreadableFileErrors(t *testing.T) {
	dir := t.TempDir()
	if _, err := Load(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected an error loading a nonexistent config file")
	}
}

func TestDiff_ReportsChangedFields(t *testing.T) {
	old := defaultConfig()
	newCfg := defaultConfig()
	newCfg.Paths.StatsDir = "/new/path"
	newCfg.Replicate.Peers = []string{"peer-a.example.org"}
	newCfg.Replicate.WindowDays = 14
	newCfg.Logging.Level = "warn"

	changes := Diff(old, newCfg)
	if len(changes) != 4 {
		t.Fatalf("Diff() returned %d changes, want 4: %v", len(changes), changes)
	}
}

func TestDiff_NoChanges(t *testing.T) {
	old := defaultConfig()
	newCfg := defaultConfig()
	if changes := Diff(old, newCfg); len(changes) != 0 {
		t.Errorf("Diff() of identical configs = %v, want empty", changes)
	}
}

func TestShortHostname(t *testing.T) {
	tests := []struct{ host, want string }{
		{"gateway1.example.org", "gateway1"},
		{"gateway1", "gateway1"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := shortHostname(tt.host); got != tt.want {
			t.Errorf("shortHostname(%q) = %q, want %q", tt.host, got, tt.want)
		}
	}
}

func TestDefaultConfigPath_HonorsXDGConfigHome(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/custom/xdg")
	got := DefaultConfigPath()
	want := filepath.Join("/custom/xdg", "foostats", "config.yaml")
	if got != want {
		t.Errorf("DefaultConfigPath() = %q, want %q", got, want)
	}
}

func TestReplicateConfig_TimeoutDefault(t *testing.T) {
	cfg := defaultConfig()
	if cfg.Replicate.Timeout != 30*time.Second {
		t.Errorf("Replicate.Timeout = %v, want 30s", cfg.Replicate.Timeout)
	}
}
