// Package config holds all narrowd configuration: scan scope, the safety
// gate, the checker command, history paths, and monitor thresholds. Loaded
// from .narrowd/config.yaml with environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all narrowd configuration.
type Config struct {
	Scan    ScanConfig    `yaml:"scan"`
	Safety  SafetyConfig  `yaml:"safety"`
	Checker CheckerConfig `yaml:"checker"`
	Monitor MonitorConfig `yaml:"monitor"`
	Store   StoreConfig   `yaml:"store"`
	Logging LoggingConfig `yaml:"logging"`
}

// ScanConfig bounds the occurrence scanner.
type ScanConfig struct {
	SurroundingLines int `yaml:"surrounding_lines"`
}

// SafetyConfig tunes the replacement safety gate and backups.
type SafetyConfig struct {
	Threshold     float64 `yaml:"threshold"`
	BackupDir     string  `yaml:"backup_dir"`
	RetentionDays int     `yaml:"retention_days"`
	VCSCheckpoint bool    `yaml:"vcs_checkpoint"`
}

// Retention returns the backup retention period.
func (s SafetyConfig) Retention() time.Duration {
	return time.Duration(s.RetentionDays) * 24 * time.Hour
}

// CheckerConfig configures the type-checker subprocess.
type CheckerConfig struct {
	Command        []string `yaml:"command"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

// Timeout returns the checker timeout as a duration.
func (c CheckerConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// MonitorConfig configures the periodic monitoring loop.
type MonitorConfig struct {
	IntervalSeconds         int     `yaml:"interval_seconds"`
	SuccessRateThreshold    float64 `yaml:"success_rate_threshold"`
	AccuracyThreshold       float64 `yaml:"accuracy_threshold"`
	StallHours              int     `yaml:"stall_hours"`
	ConsecutiveFailureLimit int     `yaml:"consecutive_failure_limit"`
	SafetyEventLimit        int     `yaml:"safety_event_limit"`
	AlertHistoryPath        string  `yaml:"alert_history_path"`
	StabilityHistoryPath    string  `yaml:"stability_history_path"`
	AlertHistoryCap         int     `yaml:"alert_history_cap"`
	StabilityHistoryCap     int     `yaml:"stability_history_cap"`
}

// Interval returns the monitor period as a duration.
func (m MonitorConfig) Interval() time.Duration {
	return time.Duration(m.IntervalSeconds) * time.Second
}

// StallWindow returns the progress-stall alert window.
func (m MonitorConfig) StallWindow() time.Duration {
	return time.Duration(m.StallHours) * time.Hour
}

// StoreConfig locates the campaign metrics database.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig configures the zap logging layer.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
	JSON  bool   `yaml:"json"`
}

// Default returns the configuration used when no file exists, rooted at
// the given workspace.
func Default(workspace string) *Config {
	stateDir := filepath.Join(workspace, ".narrowd")
	return &Config{
		Scan: ScanConfig{SurroundingLines: 3},
		Safety: SafetyConfig{
			Threshold:     0.7,
			BackupDir:     filepath.Join(stateDir, "backups"),
			RetentionDays: 7,
		},
		Checker: CheckerConfig{
			Command:        []string{"npx", "tsc", "--noEmit", "--pretty", "false"},
			TimeoutSeconds: 120,
		},
		Monitor: MonitorConfig{
			IntervalSeconds:         300,
			SuccessRateThreshold:    70,
			AccuracyThreshold:       70,
			StallHours:              4,
			ConsecutiveFailureLimit: 3,
			SafetyEventLimit:        5,
			AlertHistoryPath:        filepath.Join(stateDir, "alert_history.json"),
			StabilityHistoryPath:    filepath.Join(stateDir, "stability_history.json"),
			AlertHistoryCap:         100,
			StabilityHistoryCap:     50,
		},
		Store:   StoreConfig{Path: filepath.Join(stateDir, "campaign.db")},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads .narrowd/config.yaml under workspace, falling back to defaults
// when the file is missing, then applies environment overrides. A malformed
// file is an error; a missing one is not.
func Load(workspace string) (*Config, error) {
	cfg := Default(workspace)

	path := filepath.Join(workspace, ".narrowd", "config.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
		applyEnvOverrides(cfg)
		return cfg, nil
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

// Save writes the config back to .narrowd/config.yaml.
func (c *Config) Save(workspace string) error {
	dir := filepath.Join(workspace, ".narrowd")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, "config.yaml"), data, 0o644)
}

// applyEnvOverrides lets deployments tune hot settings without editing the
// config file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("NARROWD_SAFETY_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Safety.Threshold = f
		}
	}
	if v := os.Getenv("NARROWD_CHECKER_TIMEOUT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Checker.TimeoutSeconds = n
		}
	}
	if v := os.Getenv("NARROWD_MONITOR_INTERVAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Monitor.IntervalSeconds = n
		}
	}
	if v := os.Getenv("NARROWD_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}
