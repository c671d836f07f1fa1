// Clipherd - Camera Event Correlation and Notification Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clipherd

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists where config files are searched, in priority
// order. The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/clipherd/config.yaml",
	"/etc/clipherd/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// Load builds the configuration from layered sources:
//  1. Defaults: built-in sensible defaults
//  2. Config file: optional YAML file (if present)
//  3. Environment variables: override any setting
func Load() (*Config, error) {
	k := koanf.New(".")

	// Layer 1: defaults from struct
	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	// Layer 2: optional config file
	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	// Layer 3: environment variables (highest priority)
	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile returns the first existing config file path, or "".
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envTransformFunc maps environment variable names to koanf config paths.
// Unmapped variables return "" and are skipped, so stray environment noise
// cannot pollute the configuration. The SDM_*, TELEGRAM_* and
// FORCE_RESEND_ALL names are kept for compatibility with existing
// deployments.
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	envMappings := map[string]string{
		// Google upstreams
		"sdm_project_id":           "google.project_id",
		"sdm_client_id":            "google.client_id",
		"sdm_client_secret":        "google.client_secret",
		"sdm_refresh_token":        "google.refresh_token",
		"sdm_pubsub_topic":         "google.pubsub_topic",
		"cloud_project":            "google.cloud_project",
		"pubsub_subscription":      "google.pubsub_subscription",
		"sdm_service_account_file": "google.service_account_file",

		// Telegram notifier
		"telegram_bot_token":        "telegram.bot_token",
		"telegram_channel_id":       "telegram.channel_id",
		"timezone":                  "telegram.timezone",
		"time_format":               "telegram.time_format",
		"telegram_sends_per_minute": "telegram.sends_per_minute",

		// Source adapters
		"poll_enabled":    "sources.poll_enabled",
		"poll_interval":   "sources.poll_interval",
		"trailing_window": "sources.trailing_window",
		"push_enabled":    "sources.push_enabled",

		// Correlator
		"match_tolerance":   "correlate.tolerance",
		"readiness_timeout": "correlate.readiness_timeout",
		"max_lifetime":      "correlate.max_lifetime",
		"ingest_buffer":     "correlate.ingest_buffer",
		"ready_buffer":      "correlate.ready_buffer",

		// Dedup store
		"store_path":        "store.path",
		"retention_window":  "store.retention",
		"prune_interval":    "store.prune_interval",
		"store_sync_writes": "store.sync_writes",

		// Delivery
		"delivery_workers":   "delivery.workers",
		"retry_attempts":     "delivery.retry_attempts",
		"retry_backoff":      "delivery.retry_backoff",
		"clip_fetch_timeout": "delivery.clip_fetch_timeout",
		"notify_timeout":     "delivery.notify_timeout",
		"force_resend_all":   "delivery.force_resend",

		// Logging
		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",

		// Metrics
		"metrics_enabled": "metrics.enabled",
		"metrics_addr":    "metrics.addr",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}
	return ""
}
