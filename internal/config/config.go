// Evertrail - Audit Event Pipeline and Trail Analytics
// Copyright 2026 Evertrail Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/evertrail/evertrail

// Package config loads layered configuration: struct defaults, then an
// optional YAML file, then environment variables (highest priority).
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the root application configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server" validate:"required"`
	Bus       BusConfig       `koanf:"bus" validate:"required"`
	Collector CollectorConfig `koanf:"collector" validate:"required"`
	Storage   StorageConfig   `koanf:"storage" validate:"required"`
	Archive   ArchiveConfig   `koanf:"archive"`
	Retention RetentionConfig `koanf:"retention"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// ServerConfig holds HTTP API settings.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	CORSOrigins     []string      `koanf:"cors_origins"`
	RateLimitReqs   int           `koanf:"rate_limit_reqs"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
}

// BusConfig holds NATS event bus settings.
type BusConfig struct {
	URL            string        `koanf:"url" validate:"required"`
	EmbeddedServer bool          `koanf:"embedded_server"`
	StoreDir       string        `koanf:"store_dir"`
	MaxMemory      int64         `koanf:"max_memory"`
	MaxStore       int64         `koanf:"max_store"`
	StreamName     string        `koanf:"stream_name" validate:"required"`
	DurableName    string        `koanf:"durable_name"`
	QueueGroup     string        `koanf:"queue_group"`
	AckWaitTimeout time.Duration `koanf:"ack_wait_timeout"`
	MaxDeliver     int           `koanf:"max_deliver"`
}

// CollectorConfig holds batching and circuit-breaker settings.
type CollectorConfig struct {
	BatchSize           int           `koanf:"batch_size" validate:"min=1"`
	FlushInterval       time.Duration `koanf:"flush_interval"`
	FlushTimeout        time.Duration `koanf:"flush_timeout"`
	BreakerMaxFailures  uint32        `koanf:"breaker_max_failures" validate:"min=1"`
	BreakerResetTimeout time.Duration `koanf:"breaker_reset_timeout"`
}

// StorageConfig holds DuckDB trail settings.
type StorageConfig struct {
	Path      string `koanf:"path" validate:"required"`
	MaxMemory string `koanf:"max_memory"`
	Threads   int    `koanf:"threads"`
}

// ArchiveConfig holds cold-tier archive settings.
type ArchiveConfig struct {
	Enabled    bool   `koanf:"enabled"`
	Path       string `koanf:"path"`
	SyncWrites bool   `koanf:"sync_writes"`

	// GCInterval is how often value-log garbage collection runs.
	GCInterval time.Duration `koanf:"gc_interval"`
}

// RetentionConfig holds tier-migration sweeper settings.
type RetentionConfig struct {
	Enabled       bool          `koanf:"enabled"`
	SweepInterval time.Duration `koanf:"sweep_interval"`

	// MigrationsPerSecond paces tier migrations so sweeps do not starve
	// the write path. Zero means unpaced.
	MigrationsPerSecond float64 `koanf:"migrations_per_second"`

	// SweepBatchLimit caps how many events one sweep migrates per tier.
	SweepBatchLimit int `koanf:"sweep_batch_limit"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"omitempty,oneof=trace debug info warn error fatal"`
	Format string `koanf:"format" validate:"omitempty,oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// defaultConfig returns the full default configuration. Defaults are
// applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			CORSOrigins:     []string{},
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
		},
		Bus: BusConfig{
			URL:            "nats://127.0.0.1:4222",
			EmbeddedServer: true,
			StoreDir:       "/data/nats/jetstream",
			MaxMemory:      1 << 30,  // 1GB
			MaxStore:       10 << 30, // 10GB
			StreamName:     "AUDIT",
			DurableName:    "audit-collector",
			QueueGroup:     "collectors",
			AckWaitTimeout: 30 * time.Second,
			MaxDeliver:     3,
		},
		Collector: CollectorConfig{
			BatchSize:           50,
			FlushInterval:       5 * time.Second,
			FlushTimeout:        30 * time.Second,
			BreakerMaxFailures:  3,
			BreakerResetTimeout: 60 * time.Second,
		},
		Storage: StorageConfig{
			Path:      "/data/evertrail.duckdb",
			MaxMemory: "2GB",
			Threads:   0, // 0 = runtime.NumCPU()
		},
		Archive: ArchiveConfig{
			Enabled:    true,
			Path:       "/data/evertrail-cold",
			SyncWrites: false,
			GCInterval: 10 * time.Minute,
		},
		Retention: RetentionConfig{
			Enabled:             true,
			SweepInterval:       time.Hour,
			MigrationsPerSecond: 100,
			SweepBatchLimit:     5000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

var validate = validator.New()

// Validate checks configuration invariants beyond struct tags.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}
	if c.Collector.FlushInterval <= 0 {
		return fmt.Errorf("collector flush interval must be positive")
	}
	if c.Collector.BreakerResetTimeout <= 0 {
		return fmt.Errorf("collector breaker reset timeout must be positive")
	}
	if c.Archive.Enabled && c.Archive.Path == "" {
		return fmt.Errorf("archive path required when archive is enabled")
	}
	if c.Retention.Enabled && c.Retention.SweepInterval <= 0 {
		return fmt.Errorf("retention sweep interval must be positive")
	}
	if c.Bus.EmbeddedServer && c.Bus.StoreDir == "" {
		return fmt.Errorf("bus store dir required for embedded server")
	}
	return nil
}

// findConfigFile returns the first existing config file path, honoring
// the CONFIG_PATH override.
func findConfigFile() string {
	if path := os.Getenv(ConfigPathEnvVar); path != "" {
		return path
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}
