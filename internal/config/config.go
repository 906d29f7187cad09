// Package config loads the YAML configuration shared by all three phases.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Paths     PathsConfig     `yaml:"paths"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Replicate ReplicateConfig `yaml:"replicate"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// PathsConfig locates the on-disk state this node owns.
type PathsConfig struct {
	StatsDir     string `yaml:"stats_dir"`
	PatternsFile string `yaml:"patterns_file"`
	FilterLog    string `yaml:"filter_log"`
	LocalHost    string `yaml:"local_host"`
}

// IngestConfig points at the raw log sources for the two protocols.
type IngestConfig struct {
	WebLogGlob    string `yaml:"web_log_glob"`
	GeminiLogGlob string `yaml:"gemini_log_glob"`
}

// ReplicateConfig controls the peer-fetch freshness policy and transport.
type ReplicateConfig struct {
	Peers            []string      `yaml:"peers"`
	Timeout          time.Duration `yaml:"timeout"`
	ForceRefreshDays int           `yaml:"force_refresh_days"`
	WindowDays       int           `yaml:"window_days"`
	RetryMax         int           `yaml:"retry_max"`
}

// LoggingConfig controls the operational (not filter) log.
type LoggingConfig struct {
	Level            string `yaml:"level"`
	JSON             bool   `yaml:"json"`
	RotatePath       string `yaml:"rotate_path"`
	RotateMaxSizeMB  int    `yaml:"rotate_max_size_mb"`
	RotateMaxBackups int    `yaml:"rotate_max_backups"`
}

// Load reads and parses a YAML config file at path, starting from
// defaultConfig so unset sections keep sane values.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %q: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault loads path if it exists, or returns defaultConfig otherwise.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return defaultConfig(), nil
	}
	return Load(path)
}

func defaultConfig() *Config {
	host, err := os.Hostname()
	if err != nil {
		host = "localhost"
	}

	return &Config{
		Paths: PathsConfig{
			StatsDir:  "./stats",
			LocalHost: shortHostname(host),
		},
		Replicate: ReplicateConfig{
			Timeout:          30 * time.Second,
			ForceRefreshDays: 3,
			WindowDays:       31,
			RetryMax:         2,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

func shortHostname(host string) string {
	if name, _, found := strings.Cut(host, "."); found {
		return name
	}
	return host
}

// DefaultConfigPath returns the XDG-compliant default config path.
func DefaultConfigPath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "foostats", "config.yaml")
}

// Diff compares two configs and reports human-readable descriptions of
// what changed, mirroring the kind of drift report an operator running
// replication on a cron cadence would want after editing the peer list.
// Only paths.stats_dir, replicate.peers, replicate.force_refresh_days,
// replicate.window_days and logging.level are compared; changes to any
// other field are not reported.
func Diff(old, newCfg *Config) []string {
	var changes []string

	if old.Paths.StatsDir != newCfg.Paths.StatsDir {
		changes = append(changes, fmt.Sprintf("paths.stats_dir: %q -> %q", old.Paths.StatsDir, newCfg.Paths.StatsDir))
	}
	if !slices.Equal(old.Replicate.Peers, newCfg.Replicate.Peers) {
		changes = append(changes, fmt.Sprintf("replicate.peers: %v -> %v", old.Replicate.Peers, newCfg.Replicate.Peers))
	}
	if old.Replicate.ForceRefreshDays != newCfg.Replicate.ForceRefreshDays {
		changes = append(changes, fmt.Sprintf("replicate.force_refresh_days: %d -> %d", old.Replicate.ForceRefreshDays, newCfg.Replicate.ForceRefreshDays))
	}
	if old.Replicate.WindowDays != newCfg.Replicate.WindowDays {
		changes = append(changes, fmt.Sprintf("replicate.window_days: %d -> %d", old.Replicate.WindowDays, newCfg.Replicate.WindowDays))
	}
	if old.Logging.Level != newCfg.Logging.Level {
		changes = append(changes, fmt.Sprintf("logging.level: %q -> %q", old.Logging.Level, newCfg.Logging.Level))
	}

	return changes
}
