// Clipherd - Camera Event Correlation and Notification Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clipherd

// Package config loads and validates Clipherd configuration using Koanf v2
// with layered sources: built-in defaults, an optional YAML file, and
// environment variables (highest precedence).
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the Clipherd pipeline.
type Config struct {
	Google    GoogleConfig    `koanf:"google"`
	Telegram  TelegramConfig  `koanf:"telegram"`
	Sources   SourcesConfig   `koanf:"sources"`
	Correlate CorrelateConfig `koanf:"correlate"`
	Store     StoreConfig     `koanf:"store"`
	Delivery  DeliveryConfig  `koanf:"delivery"`
	Logging   LoggingConfig   `koanf:"logging"`
	Metrics   MetricsConfig   `koanf:"metrics"`
}

// GoogleConfig holds credentials and endpoints for both Google upstreams:
// the SDM/Home metadata APIs and the Pub/Sub clip-ready topic.
type GoogleConfig struct {
	// ProjectID is the Device Access (SDM) project id.
	ProjectID    string `koanf:"project_id"`
	ClientID     string `koanf:"client_id"`
	ClientSecret string `koanf:"client_secret"`
	RefreshToken string `koanf:"refresh_token"`

	// PubSubTopic is the full topic name,
	// projects/PROJECT_ID/topics/TOPIC_NAME.
	PubSubTopic string `koanf:"pubsub_topic"`

	// CloudProject is the GCP project that owns the Pub/Sub subscription
	// (distinct from the Device Access project).
	CloudProject string `koanf:"cloud_project"`

	// PubSubSubscription names the subscription; created when missing.
	PubSubSubscription string `koanf:"pubsub_subscription"`

	// ServiceAccountFile is the JSON credentials file for the Pub/Sub
	// subscriber client.
	ServiceAccountFile string `koanf:"service_account_file"`

	// DeviceAliases maps Home-namespace device ids (used by the metadata
	// timeline) to their SDM device ids. The SDM listing cannot discover
	// these, so they are operator-supplied.
	DeviceAliases map[string]string `koanf:"device_aliases"`
}

// TelegramConfig holds the notifier's destination and rendering options.
type TelegramConfig struct {
	BotToken string `koanf:"bot_token"`

	// ChannelID is either a numeric chat id or an @channel username.
	ChannelID string `koanf:"channel_id"`

	// Timezone is the IANA zone for caption timestamps; empty means local.
	Timezone string `koanf:"timezone"`

	// TimeFormat is "24h", "12h", or a custom Go reference layout.
	TimeFormat string `koanf:"time_format"`

	// SendsPerMinute rate-limits outbound messages per chat.
	SendsPerMinute int `koanf:"sends_per_minute"`
}

// SourcesConfig controls the two source adapters. Either, both, or neither
// may be enabled; the correlator behaves identically regardless.
type SourcesConfig struct {
	PollEnabled bool `koanf:"poll_enabled"`

	// PollInterval is the metadata fetch cadence, clamped to [1m, 60m].
	PollInterval time.Duration `koanf:"poll_interval"`

	// TrailingWindow is how far back each poll looks.
	TrailingWindow time.Duration `koanf:"trailing_window"`

	PushEnabled bool `koanf:"push_enabled"`
}

// CorrelateConfig tunes the matching engine.
type CorrelateConfig struct {
	// Tolerance is the timestamp window within which a metadata event and a
	// clip event on the same device are considered the same physical event.
	Tolerance time.Duration `koanf:"tolerance"`

	// ReadinessTimeout caps how long a composite with a clip waits for
	// metadata before being promoted unlabeled. It is authoritative: waits
	// implied by a larger Tolerance are capped at this value.
	ReadinessTimeout time.Duration `koanf:"readiness_timeout"`

	// MaxLifetime discards composites that never receive a clip. Zero means
	// "use the store retention window".
	MaxLifetime time.Duration `koanf:"max_lifetime"`

	// IngestBuffer bounds the ingestion bus; publishers block when full.
	IngestBuffer int `koanf:"ingest_buffer"`

	// ReadyBuffer bounds the readiness queue; the correlator blocks when
	// delivery lags (backpressure).
	ReadyBuffer int `koanf:"ready_buffer"`

	// SweepInterval is how often the correlator checks open composites for
	// readiness timeouts and lifetime expiry.
	SweepInterval time.Duration `koanf:"sweep_interval"`
}

// StoreConfig configures the durable dedup store.
type StoreConfig struct {
	Path string `koanf:"path"`

	// Retention is how long sent records are kept before pruning.
	Retention time.Duration `koanf:"retention"`

	// PruneInterval is the cadence of the retention sweep.
	PruneInterval time.Duration `koanf:"prune_interval"`

	// SyncWrites forces fsync on every commit. Slower, but a crash can never
	// lose a sent record (which would cause a duplicate send on restart).
	SyncWrites bool `koanf:"sync_writes"`
}

// DeliveryConfig tunes the delivery worker pool.
type DeliveryConfig struct {
	// Workers bounds concurrent outbound calls; this is the primary
	// backpressure control between ingestion and delivery.
	Workers int `koanf:"workers"`

	RetryAttempts int           `koanf:"retry_attempts"`
	RetryBackoff  time.Duration `koanf:"retry_backoff"`

	ClipFetchTimeout time.Duration `koanf:"clip_fetch_timeout"`
	NotifyTimeout    time.Duration `koanf:"notify_timeout"`

	// ForceResend bypasses the dedup check entirely. Operator-driven
	// re-delivery only; never a silent default, and loudly logged at startup.
	ForceResend bool `koanf:"force_resend"`
}

// LoggingConfig mirrors internal/logging.Config.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `koanf:"enabled"`
	Addr    string `koanf:"addr"`
}

// defaultConfig returns a Config with all defaults applied. Defaults are
// loaded first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Google: GoogleConfig{
			ServiceAccountFile: "service-account.json",
		},
		Telegram: TelegramConfig{
			TimeFormat:     "",
			SendsPerMinute: 20, // Telegram's documented per-chat ceiling
		},
		Sources: SourcesConfig{
			PollEnabled:    true,
			PollInterval:   2 * time.Minute,
			TrailingWindow: 3 * time.Hour,
			PushEnabled:    true,
		},
		Correlate: CorrelateConfig{
			Tolerance:        90 * time.Second,
			ReadinessTimeout: 45 * time.Second,
			MaxLifetime:      0, // falls back to store retention
			IngestBuffer:     256,
			ReadyBuffer:      64,
			SweepInterval:    5 * time.Second,
		},
		Store: StoreConfig{
			Path:          "/data/clipherd/sent",
			Retention:     7 * 24 * time.Hour,
			PruneInterval: 24 * time.Hour,
			SyncWrites:    true,
		},
		Delivery: DeliveryConfig{
			Workers:          3,
			RetryAttempts:    3,
			RetryBackoff:     2 * time.Second,
			ClipFetchTimeout: 30 * time.Second,
			NotifyTimeout:    60 * time.Second,
			ForceResend:      false,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    ":9641",
		},
	}
}

const (
	minPollInterval = 1 * time.Minute
	maxPollInterval = 60 * time.Minute
)

// Validate checks and normalizes the configuration. Out-of-range tunables
// are clamped; missing credentials for an enabled component are errors.
func (c *Config) Validate() error {
	if c.Sources.PollInterval < minPollInterval {
		c.Sources.PollInterval = minPollInterval
	}
	if c.Sources.PollInterval > maxPollInterval {
		c.Sources.PollInterval = maxPollInterval
	}
	if c.Sources.TrailingWindow <= 0 {
		return fmt.Errorf("sources.trailing_window must be positive, got %v", c.Sources.TrailingWindow)
	}

	if c.Correlate.Tolerance <= 0 {
		return fmt.Errorf("correlate.tolerance must be positive, got %v", c.Correlate.Tolerance)
	}
	if c.Correlate.ReadinessTimeout <= 0 {
		return fmt.Errorf("correlate.readiness_timeout must be positive, got %v", c.Correlate.ReadinessTimeout)
	}
	if c.Correlate.MaxLifetime == 0 {
		c.Correlate.MaxLifetime = c.Store.Retention
	}
	if c.Correlate.IngestBuffer < 1 {
		c.Correlate.IngestBuffer = 1
	}
	if c.Correlate.ReadyBuffer < 1 {
		c.Correlate.ReadyBuffer = 1
	}
	if c.Correlate.SweepInterval <= 0 {
		c.Correlate.SweepInterval = 5 * time.Second
	}

	if c.Store.Path == "" {
		return fmt.Errorf("store.path must not be empty")
	}
	if c.Store.Retention <= 0 {
		return fmt.Errorf("store.retention must be positive, got %v", c.Store.Retention)
	}
	if c.Store.PruneInterval <= 0 {
		return fmt.Errorf("store.prune_interval must be positive, got %v", c.Store.PruneInterval)
	}

	if c.Delivery.Workers < 1 {
		c.Delivery.Workers = 1
	}
	if c.Delivery.RetryAttempts < 0 {
		c.Delivery.RetryAttempts = 0
	}
	if c.Delivery.RetryBackoff <= 0 {
		c.Delivery.RetryBackoff = time.Second
	}
	if c.Delivery.ClipFetchTimeout <= 0 {
		return fmt.Errorf("delivery.clip_fetch_timeout must be positive, got %v", c.Delivery.ClipFetchTimeout)
	}
	if c.Delivery.NotifyTimeout <= 0 {
		return fmt.Errorf("delivery.notify_timeout must be positive, got %v", c.Delivery.NotifyTimeout)
	}

	if c.Telegram.SendsPerMinute < 1 {
		c.Telegram.SendsPerMinute = 1
	}
	if c.Telegram.BotToken == "" {
		return fmt.Errorf("telegram.bot_token is required")
	}
	if c.Telegram.ChannelID == "" {
		return fmt.Errorf("telegram.channel_id is required")
	}

	if c.Sources.PushEnabled {
		if c.Google.PubSubTopic == "" {
			return fmt.Errorf("google.pubsub_topic is required when the push adapter is enabled")
		}
		if c.Google.CloudProject == "" {
			return fmt.Errorf("google.cloud_project is required when the push adapter is enabled")
		}
	}
	if c.Sources.PollEnabled {
		if c.Google.ClientID == "" || c.Google.ClientSecret == "" || c.Google.RefreshToken == "" {
			return fmt.Errorf("google oauth credentials are required when the poll adapter is enabled")
		}
	}

	return nil
}
