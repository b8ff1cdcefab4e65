// Lumen - Dynamic Image Generation Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lumen

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the locations searched for a config file, in order.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/lumen/config.yaml",
	"/etc/lumen/config.yml",
}

// ConfigPathEnvVar names the environment variable that points at a config file.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config with all default values set.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8088,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			Environment:     "development",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
		Imaging: ImagingConfig{
			SourceRoot:     "/data/images",
			PixelBudget:    96_000_000,
			MaxDimension:   10000,
			MaxDPI:         2400,
			MaxTileGrid:    16,
			DefaultFormat:  "jpg",
			DefaultQuality: 85,
			DefaultFill:    "ffffff",
			Expires:        24 * time.Hour,
		},
		Templates: TemplatesConfig{
			CacheSize: 256,
			CacheTTL:  5 * time.Minute,
		},
		Cache: CacheConfig{
			MaxEntries: 10000,
			MaxBytes:   512 << 20,
			TTL:        24 * time.Hour,
			Replicas:   64,
			KeyPrefix:  "lumen:",
		},
		Generation: GenerationConfig{
			MaxConcurrentBuilds: 8,
			WaitTimeout:         10 * time.Second,
			BuildTimeout:        30 * time.Second,
			RetryDelay:          250 * time.Millisecond,
			LockTTL:             45 * time.Second,
			LockPoll:            100 * time.Millisecond,
			BreakerFailures:     5,
			BreakerOpenFor:      30 * time.Second,
		},
		Tasks: TasksConfig{
			Store:                "memory",
			BadgerPath:           "/data/tasks",
			Workers:              2,
			PollInterval:         500 * time.Millisecond,
			LeaseTTL:             time.Minute,
			HousekeepingInterval: time.Minute,
			DefaultKeepFor:       time.Hour,
			FileOpsPerSecond:     0,
		},
		Database: DatabaseConfig{
			MaxConns: 10,
			MinConns: 1,
			Migrate:  true,
		},
		Artifacts: ArtifactsConfig{
			Backend:   "fs",
			Dir:       "/data/exports",
			Prefix:    "exports/",
			Region:    "us-east-1",
			ExportTTL: 24 * time.Hour,
		},
		Stats: StatsConfig{
			Enabled:       true,
			Path:          "/data/stats",
			RetentionDays: 90,
		},
		Events: EventsConfig{
			Backend:       "local",
			URL:           "nats://127.0.0.1:4222",
			SubjectPrefix: "lumen",
			Name:          "lumen",
		},
		Security: SecurityConfig{
			AuthMode:        "none",
			JWTIssuer:       "lumen",
			RateLimitReqs:   600,
			RateLimitWindow: time.Minute,
			CORSOrigins:     []string{"*"},
		},
	}
}

// Load loads configuration using Koanf v2 with layered sources:
//  1. Defaults: Built-in sensible defaults
//  2. Config File: Optional YAML config file (if exists)
//  3. Environment Variables: Override any setting
func Load() (*Config, error) {
	k := koanf.New(".")

	// Layer 1: Load defaults from struct
	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Layer 2: Load config file (optional)
	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Layer 3: Load environment variables (highest priority)
	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile returns the first config file found, or "" if none exists.
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

// sliceConfigPaths defines which config paths are parsed as comma-separated slices
var sliceConfigPaths = []string{
	"cache.nodes",
	"security.cors_origins",
	"security.trusted_proxies",
}

// processSliceFields converts comma-separated string values to slices for
// known slice fields. Env vars arrive as strings; YAML lists pass through.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// envMappings maps environment variable names (lower-cased) to koanf paths.
var envMappings = map[string]string{
	// Server mappings
	"http_host":          "server.host",
	"http_port":          "server.port",
	"http_read_timeout":  "server.read_timeout",
	"http_write_timeout": "server.write_timeout",
	"http_idle_timeout":  "server.idle_timeout",
	"shutdown_timeout":   "server.shutdown_timeout",
	"environment":        "server.environment",
	"node_id":            "server.node_id",

	// Logging mappings
	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",

	// Imaging mappings
	"image_root":            "imaging.source_root",
	"image_pixel_budget":    "imaging.pixel_budget",
	"image_max_dimension":   "imaging.max_dimension",
	"image_max_dpi":         "imaging.max_dpi",
	"image_max_tile_grid":   "imaging.max_tile_grid",
	"image_default_format":  "imaging.default_format",
	"image_default_quality": "imaging.default_quality",
	"image_default_fill":    "imaging.default_fill",
	"image_expires":         "imaging.expires",

	// Template mappings
	"template_cache_size": "templates.cache_size",
	"template_cache_ttl":  "templates.cache_ttl",

	// Cache mappings
	"cache_max_entries":  "cache.max_entries",
	"cache_max_bytes":    "cache.max_bytes",
	"cache_ttl":          "cache.ttl",
	"cache_nodes":        "cache.nodes",
	"cache_replicas":     "cache.replicas",
	"redis_password":     "cache.redis_password",
	"redis_db":           "cache.redis_db",
	"cache_key_prefix":   "cache.key_prefix",
	"cache_cluster_lock": "cache.cluster_lock",

	// Generation mappings
	"max_concurrent_builds":       "generation.max_concurrent_builds",
	"generation_wait_timeout":     "generation.wait_timeout",
	"generation_build_timeout":    "generation.build_timeout",
	"generation_retry_delay":      "generation.retry_delay",
	"generation_lock_ttl":         "generation.lock_ttl",
	"generation_lock_poll":        "generation.lock_poll",
	"generation_breaker_failures": "generation.breaker_failures",
	"generation_breaker_open_for": "generation.breaker_open_for",

	// Task mappings
	"task_store":            "tasks.store",
	"task_badger_path":      "tasks.badger_path",
	"task_workers":          "tasks.workers",
	"task_poll_interval":    "tasks.poll_interval",
	"task_lease_ttl":        "tasks.lease_ttl",
	"housekeeping_interval": "tasks.housekeeping_interval",
	"task_default_keep_for": "tasks.default_keep_for",
	"file_ops_per_second":   "tasks.file_ops_per_second",

	// Database mappings
	"database_url":       "database.url",
	"database_max_conns": "database.max_conns",
	"database_min_conns": "database.min_conns",
	"database_migrate":   "database.migrate",

	// Artifact mappings
	"artifact_backend":          "artifacts.backend",
	"artifact_dir":              "artifacts.dir",
	"artifact_bucket":           "artifacts.bucket",
	"artifact_prefix":           "artifacts.prefix",
	"artifact_region":           "artifacts.region",
	"artifact_endpoint":         "artifacts.endpoint",
	"artifact_access_key_id":    "artifacts.access_key_id",
	"artifact_secret_key":       "artifacts.secret_access_key",
	"artifact_use_path_style":   "artifacts.use_path_style",
	"artifact_credentials_file": "artifacts.credentials_file",
	"export_ttl":                "artifacts.export_ttl",

	// Stats mappings
	"stats_enabled":        "stats.enabled",
	"stats_path":           "stats.path",
	"stats_retention_days": "stats.retention_days",

	// Event mappings
	"events_backend":   "events.backend",
	"nats_url":         "events.url",
	"nats_subject":     "events.subject_prefix",
	"nats_client_name": "events.name",

	// Security mappings
	"auth_mode":           "security.auth_mode",
	"jwt_secret":          "security.jwt_secret",
	"jwt_issuer":          "security.jwt_issuer",
	"rate_limit_requests": "security.rate_limit_reqs",
	"rate_limit_window":   "security.rate_limit_window",
	"disable_rate_limit":  "security.rate_limit_disabled",
	"cors_origins":        "security.cors_origins",
	"trusted_proxies":     "security.trusted_proxies",
}

// envTransformFunc maps an environment variable name to its koanf path.
//
// Examples:
//   - HTTP_PORT -> server.port
//   - CACHE_NODES -> cache.nodes
//   - DATABASE_URL -> database.url
//
// Unmapped variables return "" and are skipped, so unrelated environment
// variables never leak into the configuration.
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}
