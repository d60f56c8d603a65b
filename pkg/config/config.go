// Package config provides configuration file support for the pipeline.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config represents the pipeline configuration, loaded from
// .selfmod/config.yaml under the repository root.
type Config struct {
	Store      StoreConfig      `yaml:"store"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Approval   ApprovalConfig   `yaml:"approval"`
	Backups    BackupConfig     `yaml:"backups"`
	Logging    LoggingConfig    `yaml:"logging"`
	Alerts     AlertConfig      `yaml:"alerts"`
}

// StoreConfig selects the audit/approval store backend.
type StoreConfig struct {
	// Backend is "sqlite" (default) or "postgres".
	Backend string `yaml:"backend"`
	// DSN is the connection string for the postgres backend. Ignored
	// for sqlite, which always lives at .selfmod/audit.db.
	DSN string `yaml:"dsn,omitempty"`
}

// ClassifierConfig overrides risk scoring parameters. Score ranges are
// configuration, not behavior: the ordinal tier semantics stay fixed.
type ClassifierConfig struct {
	// Tier thresholds: score < CautionAt is safe, < SensitiveAt is
	// caution, < CriticalAt is sensitive, else critical.
	CautionAt   float64 `yaml:"caution_at"`
	SensitiveAt float64 `yaml:"sensitive_at"`
	CriticalAt  float64 `yaml:"critical_at"`

	// Weights overrides individual signal weights by signal name.
	Weights map[string]float64 `yaml:"weights,omitempty"`

	// CriticalModules lists path fragments whose files carry a baseline
	// severity floor regardless of other signals.
	CriticalModules []string `yaml:"critical_modules,omitempty"`
}

// ApprovalConfig overrides the tier-to-phrase table.
type ApprovalConfig struct {
	Phrases map[string]string `yaml:"phrases,omitempty"`
}

// BackupConfig configures the backup directory.
type BackupConfig struct {
	// Dir is relative to the repository root when not absolute.
	Dir string `yaml:"dir"`
}

// LoggingConfig configures logging behavior.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json, text
}

// AlertConfig configures the webhook notifier for alert-worthy events
// (rollback failures, critical-tier applies). Disabled by default; the
// pipeline itself never requires network access.
type AlertConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url,omitempty"`
	Secret     string `yaml:"secret,omitempty"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			Backend: "sqlite",
		},
		Classifier: ClassifierConfig{
			CautionAt:   10,
			SensitiveAt: 30,
			CriticalAt:  60,
		},
		Backups: BackupConfig{
			Dir: filepath.Join(".selfmod", "backups"),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from .selfmod/config.yaml.
// Returns default config if the file doesn't exist.
func Load(repoRoot string) (*Config, error) {
	cfg := Default()
	cfgPath := filepath.Join(repoRoot, ".selfmod", "config.yaml")

	data, err := os.ReadFile(cfgPath)
	if os.IsNotExist(err) {
		return cfg, nil // No config file is OK, use defaults
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to .selfmod/config.yaml.
func Save(repoRoot string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	cfgPath := filepath.Join(repoRoot, ".selfmod", "config.yaml")
	if err := os.MkdirAll(filepath.Dir(cfgPath), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(cfgPath, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Validate checks configuration consistency.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "", "sqlite":
	case "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown store backend: %s", c.Store.Backend)
	}

	if !(c.Classifier.CautionAt < c.Classifier.SensitiveAt &&
		c.Classifier.SensitiveAt < c.Classifier.CriticalAt) {
		return fmt.Errorf("classifier thresholds must be strictly increasing")
	}
	return nil
}

// BackupDir resolves the configured backup directory against the root.
func (c *Config) BackupDir(repoRoot string) string {
	if filepath.IsAbs(c.Backups.Dir) {
		return c.Backups.Dir
	}
	return filepath.Join(repoRoot, c.Backups.Dir)
}
