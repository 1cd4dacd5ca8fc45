package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is used when no path is given.
const DefaultConfigPath = "config.yaml"

// ConfigPathEnv overrides the config path when set.
const ConfigPathEnv = "CREDITLEDGER_CONFIG"

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// DSN is a postgres URL/keyword DSN or a sqlite file path.
	DSN string `yaml:"dsn"`
}

// RedisConfig holds optional cache settings. An empty Addr disables the
// cache entirely.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	// SnapshotTTLSeconds bounds staleness of cached balance reads.
	SnapshotTTLSeconds int `yaml:"snapshot-ttl-seconds"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	// Level is a logrus level name; empty means info.
	Level string `yaml:"level"`
	// File enables rotating file output when set; empty logs to stderr.
	File string `yaml:"file"`
	// MaxSizeMB is the rotation threshold per log file.
	MaxSizeMB int `yaml:"max-size-mb"`
	// MaxBackups is the number of rotated files kept.
	MaxBackups int `yaml:"max-backups"`
	// MaxAgeDays is the retention of rotated files in days.
	MaxAgeDays int `yaml:"max-age-days"`
}

// Config is the application configuration.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Log      LogConfig      `yaml:"log"`
}

// ResolveConfigPath picks the effective config path from the argument, the
// environment, or the default.
func ResolveConfigPath(path string) string {
	if trimmed := strings.TrimSpace(path); trimmed != "" {
		return trimmed
	}
	if fromEnv := strings.TrimSpace(os.Getenv(ConfigPathEnv)); fromEnv != "" {
		return fromEnv
	}
	return DefaultConfigPath
}

// Load reads and parses the config file at path.
func Load(path string) (*Config, error) {
	resolved := ResolveConfigPath(path)
	data, errRead := os.ReadFile(filepath.Clean(resolved))
	if errRead != nil {
		return nil, fmt.Errorf("config: read %s: %w", resolved, errRead)
	}

	cfg := &Config{}
	if errUnmarshal := yaml.Unmarshal(data, cfg); errUnmarshal != nil {
		return nil, fmt.Errorf("config: parse %s: %w", resolved, errUnmarshal)
	}

	cfg.applyDefaults()
	if errValidate := cfg.validate(); errValidate != nil {
		return nil, errValidate
	}
	return cfg, nil
}

// applyDefaults fills unset values.
func (c *Config) applyDefaults() {
	if c.Log.MaxSizeMB <= 0 {
		c.Log.MaxSizeMB = 100
	}
	if c.Log.MaxBackups <= 0 {
		c.Log.MaxBackups = 5
	}
	if c.Log.MaxAgeDays <= 0 {
		c.Log.MaxAgeDays = 30
	}
	if c.Redis.SnapshotTTLSeconds <= 0 {
		c.Redis.SnapshotTTLSeconds = 30
	}
}

// validate rejects unusable configurations.
func (c *Config) validate() error {
	if strings.TrimSpace(c.Database.DSN) == "" {
		return fmt.Errorf("config: database.dsn is required")
	}
	return nil
}
