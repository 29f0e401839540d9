// Package config loads deepwell's configuration via viper. Flag/CLI wiring
// belongs to the transport layer; this package only turns a config file
// plus environment overrides into a typed Config.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration for a deepwell process.
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Password PasswordConfig `mapstructure:"password"`
	Log      LogConfig      `mapstructure:"log"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// DatabaseConfig selects and configures the relational backend.
type DatabaseConfig struct {
	// Driver is "postgres" or "sqlite".
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
}

// StorageConfig locates the per-wiki revision-store working directories.
type StorageConfig struct {
	Root string `mapstructure:"root"`
}

// PasswordConfig tunes the password engine's default scrypt cost and policy.
type PasswordConfig struct {
	LogN            uint8  `mapstructure:"log_n"`
	R               uint32 `mapstructure:"r"`
	P               uint32 `mapstructure:"p"`
	BlacklistPath   string `mapstructure:"blacklist_path"`
	FailurePauseMS  int    `mapstructure:"failure_pause_ms"`
	DisablePauseTst bool   `mapstructure:"disable_pause_for_tests"`
}

// LogConfig controls internal/logger.New.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// MetricsConfig controls whether Prometheus collectors are registered.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// Defaults returns the recommended baseline: scrypt log_n=15, r=8, p=1 and
// a 500ms post-failure pause.
func Defaults() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver:          "postgres",
			MaxConns:        10,
			MinConns:        2,
			MaxConnLifetime: time.Hour,
			MaxConnIdleTime: 10 * time.Minute,
			ConnectTimeout:  5 * time.Second,
		},
		Storage: StorageConfig{
			Root: "./data/wikis",
		},
		Password: PasswordConfig{
			LogN:           15,
			R:              8,
			P:              1,
			FailurePauseMS: 500,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{Enabled: true},
	}
}

// Load reads configuration from the named file (any format viper supports:
// yaml, json, toml, ...) layered over Defaults, with DEEPWELL_-prefixed
// environment variables taking precedence.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DEEPWELL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// AutomaticEnv only consults keys viper already knows about, so bind
	// every key explicitly for env overrides to apply without a file.
	for _, key := range []string{
		"database.driver", "database.dsn", "database.max_conns", "database.min_conns",
		"database.max_conn_lifetime", "database.max_conn_idle_time", "database.connect_timeout",
		"storage.root", "password.log_n", "password.r", "password.p", "password.blacklist_path",
		"password.failure_pause_ms", "password.disable_pause_for_tests",
		"log.level", "log.format", "log.output", "log.filename", "log.max_size_mb",
		"log.max_backups", "log.max_age_days", "log.compress", "metrics.enabled",
	} {
		_ = v.BindEnv(key)
	}

	cfg := Defaults()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal defaults: %w", err)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := v.Unmarshal(cfg); err != nil {
			return nil, fmt.Errorf("config: unmarshal %s: %w", path, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the fields that would otherwise fail confusingly deep
// inside the database or revision-store layers.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("config: unsupported database driver %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("config: database.dsn is required")
	}
	if c.Storage.Root == "" {
		return fmt.Errorf("config: storage.root is required")
	}
	if c.Password.LogN == 0 {
		return fmt.Errorf("config: password.log_n must be positive")
	}
	return nil
}
