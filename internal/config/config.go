// StreamWarden - Real-Time GitHub Event Anomaly Detection
// Copyright 2026 StreamWarden Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

// Package config defines the typed configuration for the pipeline and loads
// it in layers: built-in defaults, an optional YAML file, then environment
// variables (highest priority).
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the root configuration.
type Config struct {
	Logging   LoggingConfig   `koanf:"logging"`
	GitHub    GitHubConfig    `koanf:"github"`
	NATS      NATSConfig      `koanf:"nats"`
	Pipeline  PipelineConfig  `koanf:"pipeline"`
	Detectors DetectorConfig  `koanf:"detectors"`
	Profiles  ProfileConfig   `koanf:"profiles"`
	Database  DatabaseConfig  `koanf:"database"`
	Server    ServerConfig    `koanf:"server"`
}

// LoggingConfig controls the zerolog output.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json console"`
}

// GitHubConfig controls the upstream events API poller.
type GitHubConfig struct {
	// Token authenticates against the events API. Required: unauthenticated
	// quota is too small to poll the public firehose.
	Token string `koanf:"token" validate:"required"`

	// BaseURL is the API root. Overridable for tests.
	BaseURL string `koanf:"base_url" validate:"required,url"`

	// PerPage is the page size requested from the events endpoint.
	PerPage int `koanf:"per_page" validate:"min=1,max=100"`

	// MaxPagesPerCycle bounds catch-up pagination per tick.
	MaxPagesPerCycle int `koanf:"max_pages_per_cycle" validate:"min=1,max=10"`

	// SafetyMargin is the quota floor kept in reserve.
	SafetyMargin int `koanf:"safety_margin" validate:"min=0"`

	// ActivePollers is the expected number of peer pollers sharing the
	// quota. Each instance budgets remaining/ActivePollers requests.
	ActivePollers int `koanf:"active_pollers" validate:"min=1"`

	// Region tags the shared rate-limit cache entry.
	Region string `koanf:"region"`

	// BreakerFailures is the consecutive-failure count that trips the
	// poller circuit breaker.
	BreakerFailures int `koanf:"breaker_failures" validate:"min=1"`

	// BreakerCooldown is how long the breaker stays open before a probe.
	BreakerCooldown time.Duration `koanf:"breaker_cooldown"`

	// RequestTimeout bounds a single upstream request.
	RequestTimeout time.Duration `koanf:"request_timeout"`
}

// NATSConfig holds JetStream configuration for the event queue and the
// anomaly fan-out.
type NATSConfig struct {
	URL            string `koanf:"url" validate:"required"`
	EmbeddedServer bool   `koanf:"embedded_server"`
	StoreDir       string `koanf:"store_dir"`
	MaxMemory      int64  `koanf:"max_memory"`
	MaxStore       int64  `koanf:"max_store"`

	// EventStreamMaxMsgs bounds the raw event stream; this is the queue
	// bound that drives backpressure.
	EventStreamMaxMsgs int64 `koanf:"event_stream_max_msgs" validate:"min=1"`

	RetentionHours int           `koanf:"retention_hours" validate:"min=1"`
	DurableName    string        `koanf:"durable_name"`
	QueueGroup     string        `koanf:"queue_group"`
	MaxReconnects  int           `koanf:"max_reconnects"`
	ReconnectWait  time.Duration `koanf:"reconnect_wait"`
	AckWait        time.Duration `koanf:"ack_wait"`

	// EnqueueTimeout is how long the poller blocks on a full queue before
	// the priority drop policy applies.
	EnqueueTimeout time.Duration `koanf:"enqueue_timeout"`
}

// PipelineConfig controls the stream processor.
type PipelineConfig struct {
	BatchMax        int           `koanf:"batch_max" validate:"min=1"`
	BatchMaxWait    time.Duration `koanf:"batch_max_wait"`
	Lanes           int           `koanf:"lanes" validate:"min=1"`
	ReportFloor     float64       `koanf:"report_floor" validate:"min=0,max=1"`
	DetectorTimeout time.Duration `koanf:"detector_timeout"`
	EventTimeout    time.Duration `koanf:"event_timeout"`
	BatchTimeout    time.Duration `koanf:"batch_timeout"`

	// PrioritySampleLow is the kept fraction of low-priority events.
	PrioritySampleLow float64 `koanf:"priority_sample_low" validate:"min=0,max=1"`

	// DedupTTL is the seen-set window for event ids.
	DedupTTL time.Duration `koanf:"dedup_ttl"`

	// PrefilterMinSamples and PrefilterTypeShare gate the cheap
	// trivially-normal rejection for low-priority events.
	PrefilterMinSamples int64   `koanf:"prefilter_min_samples" validate:"min=0"`
	PrefilterTypeShare  float64 `koanf:"prefilter_type_share" validate:"min=0,max=1"`
}

// DetectorConfig holds the statistical thresholds shared by detectors.
type DetectorConfig struct {
	EWMAAlpha float64 `koanf:"ewma_alpha" validate:"gt=0,lt=1"`
	WarmN     int64   `koanf:"warm_n" validate:"min=1"`
	MVNN      int64   `koanf:"mvn_n" validate:"min=1"`

	BurstWindow   time.Duration `koanf:"burst_window"`
	BurstMinCount int           `koanf:"burst_min_count" validate:"min=1"`
	BurstMinRate  float64       `koanf:"burst_min_rate" validate:"gt=0"`

	CoordWindow    time.Duration `koanf:"coord_window"`
	CoordMinActors int           `koanf:"coord_min_actors" validate:"min=1"`
	CoordMinEvents int           `koanf:"coord_min_events" validate:"min=1"`
}

// ProfileConfig controls the profile store.
type ProfileConfig struct {
	Dir            string        `koanf:"dir" validate:"required"`
	CacheCapacity  int           `koanf:"cache_capacity" validate:"min=1"`
	CacheTTL       time.Duration `koanf:"cache_ttl"`
	UserTTL        time.Duration `koanf:"user_ttl"`
	CriticalityTTL time.Duration `koanf:"criticality_ttl"`
	GCInterval     time.Duration `koanf:"gc_interval"`
	LockStripes    int           `koanf:"lock_stripes" validate:"min=1"`
}

// DatabaseConfig controls DuckDB persistence.
type DatabaseConfig struct {
	Path          string        `koanf:"path" validate:"required"`
	MaxMemory     string        `koanf:"max_memory"`
	FlushInterval time.Duration `koanf:"flush_interval"`
}

// ServerConfig controls the operational HTTP surface.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port" validate:"min=1,max=65535"`
	Timeout         time.Duration `koanf:"timeout"`
	CORSOrigins     []string      `koanf:"cors_origins"`
	RateLimitReqs   int           `koanf:"rate_limit_reqs" validate:"min=1"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
}

// defaultConfig returns the built-in defaults, applied before file and
// environment layers.
func defaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		GitHub: GitHubConfig{
			Token:            "",
			BaseURL:          "https://api.github.com",
			PerPage:          100,
			MaxPagesPerCycle: 3,
			SafetyMargin:     500,
			ActivePollers:    1,
			Region:           "default",
			BreakerFailures:  10,
			BreakerCooldown:  2 * time.Minute,
			RequestTimeout:   20 * time.Second,
		},
		NATS: NATSConfig{
			URL:                "nats://127.0.0.1:4222",
			EmbeddedServer:     true,
			StoreDir:           "/data/streamwarden/jetstream",
			MaxMemory:          1 << 30,  // 1GB
			MaxStore:           10 << 30, // 10GB
			EventStreamMaxMsgs: 500_000,
			RetentionHours:     48,
			DurableName:        "anomaly-processor",
			QueueGroup:         "processors",
			MaxReconnects:      60,
			ReconnectWait:      2 * time.Second,
			AckWait:            30 * time.Second,
			EnqueueTimeout:     5 * time.Second,
		},
		Pipeline: PipelineConfig{
			BatchMax:            50,
			BatchMaxWait:        500 * time.Millisecond,
			Lanes:               8,
			ReportFloor:         0.15,
			DetectorTimeout:     2 * time.Second,
			EventTimeout:        5 * time.Second,
			BatchTimeout:        30 * time.Second,
			PrioritySampleLow:   0.20,
			DedupTTL:            10 * time.Minute,
			PrefilterMinSamples: 50,
			PrefilterTypeShare:  0.20,
		},
		Detectors: DetectorConfig{
			EWMAAlpha:      0.05,
			WarmN:          10,
			MVNN:           30,
			BurstWindow:    5 * time.Minute,
			BurstMinCount:  5,
			BurstMinRate:   2.0,
			CoordWindow:    10 * time.Minute,
			CoordMinActors: 3,
			CoordMinEvents: 10,
		},
		Profiles: ProfileConfig{
			Dir:            "/data/streamwarden/profiles",
			CacheCapacity:  50_000,
			CacheTTL:       15 * time.Minute,
			UserTTL:        30 * 24 * time.Hour,
			CriticalityTTL: time.Hour,
			GCInterval:     time.Hour,
			LockStripes:    256,
		},
		Database: DatabaseConfig{
			Path:          "/data/streamwarden/streamwarden.duckdb",
			MaxMemory:     "2GB",
			FlushInterval: 5 * time.Second,
		},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            3860,
			Timeout:         30 * time.Second,
			CORSOrigins:     nil,
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
		},
	}
}

// Validate checks the configuration with struct tags plus cross-field
// rules. A validation failure is fatal at startup.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}

	if c.Pipeline.BatchMaxWait <= 0 {
		return fmt.Errorf("pipeline.batch_max_wait must be positive")
	}
	if c.Pipeline.DetectorTimeout > c.Pipeline.EventTimeout {
		return fmt.Errorf("pipeline.detector_timeout (%s) exceeds event_timeout (%s)",
			c.Pipeline.DetectorTimeout, c.Pipeline.EventTimeout)
	}
	if c.Pipeline.EventTimeout > c.Pipeline.BatchTimeout {
		return fmt.Errorf("pipeline.event_timeout (%s) exceeds batch_timeout (%s)",
			c.Pipeline.EventTimeout, c.Pipeline.BatchTimeout)
	}
	if c.Detectors.WarmN > c.Detectors.MVNN {
		return fmt.Errorf("detectors.warm_n (%d) exceeds mvn_n (%d)", c.Detectors.WarmN, c.Detectors.MVNN)
	}
	return nil
}
