// Lumen - Dynamic Image Generation Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lumen

package config

import (
	"net"
	"strconv"
	"time"
)

// Config holds all application configuration loaded from defaults, an
// optional YAML file and environment variables.
//
// Configuration Loading Order (Koanf v2):
//  1. Defaults: Built-in sensible defaults for all optional settings
//  2. Config File: Optional YAML config file (config.yaml)
//  3. Environment Variables: Override any setting
//
// Configuration Categories:
//
//  1. Image pipeline:
//     - Imaging: source root, decode budget, output defaults
//     - Templates: template cache sizing
//     - Cache: in-process and distributed result cache
//     - Generation: build coordination limits and timeouts
//
//  2. Background work:
//     - Tasks: task store backend, workers and housekeeping
//     - Artifacts: where exports are written
//     - Stats: request counter store
//
//  3. Infrastructure:
//     - Database: PostgreSQL connection and migrations
//     - Events: invalidation broadcast (NATS or in-process)
//     - Server: HTTP server
//
//  4. API & Security, Observability:
//     - Security: authentication, CORS and rate limiting
//     - Logging: log level and output format
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Logging    LoggingConfig    `koanf:"logging"`
	Imaging    ImagingConfig    `koanf:"imaging"`
	Templates  TemplatesConfig  `koanf:"templates"`
	Cache      CacheConfig      `koanf:"cache"`
	Generation GenerationConfig `koanf:"generation"`
	Tasks      TasksConfig      `koanf:"tasks"`
	Database   DatabaseConfig   `koanf:"database"`
	Artifacts  ArtifactsConfig  `koanf:"artifacts"`
	Stats      StatsConfig      `koanf:"stats"`
	Events     EventsConfig     `koanf:"events"`
	Security   SecurityConfig   `koanf:"security"`
}

// ServerConfig holds the HTTP server settings.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	IdleTimeout     time.Duration `koanf:"idle_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	Environment     string        `koanf:"environment"` // development, staging, production

	// NodeID identifies this process in cluster locks and task leases.
	// Empty means a random id is generated at startup.
	NodeID string `koanf:"node_id"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level: trace, debug, info, warn, error.
	// Default: info
	Level string `koanf:"level"`

	// Format is the output format: json or console.
	// Default: json
	Format string `koanf:"format"`

	// Caller includes caller file:line in log output.
	Caller bool `koanf:"caller"`
}

// ImagingConfig holds the source tree and output defaults.
type ImagingConfig struct {
	// SourceRoot is the directory every src path is resolved against.
	SourceRoot string `koanf:"source_root"`

	// PixelBudget bounds the decoded pixels held across concurrent builds.
	PixelBudget int64 `koanf:"pixel_budget"`

	MaxDimension   int    `koanf:"max_dimension"`
	MaxDPI         int    `koanf:"max_dpi"`
	MaxTileGrid    int    `koanf:"max_tile_grid"`
	DefaultFormat  string `koanf:"default_format"`
	DefaultQuality int    `koanf:"default_quality"`
	DefaultFill    string `koanf:"default_fill"`

	// Expires is the Cache-Control max-age sent with generated images.
	Expires time.Duration `koanf:"expires"`
}

// TemplatesConfig sizes the parsed template cache.
type TemplatesConfig struct {
	CacheSize int           `koanf:"cache_size"`
	CacheTTL  time.Duration `koanf:"cache_ttl"`
}

// CacheConfig holds result cache settings.
type CacheConfig struct {
	MaxEntries int           `koanf:"max_entries"`
	MaxBytes   int           `koanf:"max_bytes"`
	TTL        time.Duration `koanf:"ttl"`

	// Nodes lists redis addresses forming the distributed tier. Empty
	// disables it and the cache stays in-process.
	Nodes         []string `koanf:"nodes"`
	Replicas      int      `koanf:"replicas"`
	RedisPassword string   `koanf:"redis_password"`
	RedisDB       int      `koanf:"redis_db"`
	KeyPrefix     string   `koanf:"key_prefix"`

	// ClusterLock enables the cross-node build lock on the first node.
	ClusterLock bool `koanf:"cluster_lock"`
}

// GenerationConfig bounds build coordination.
type GenerationConfig struct {
	MaxConcurrentBuilds int           `koanf:"max_concurrent_builds"`
	WaitTimeout         time.Duration `koanf:"wait_timeout"`
	BuildTimeout        time.Duration `koanf:"build_timeout"`
	RetryDelay          time.Duration `koanf:"retry_delay"`
	LockTTL             time.Duration `koanf:"lock_ttl"`
	LockPoll            time.Duration `koanf:"lock_poll"`
	BreakerFailures     uint32        `koanf:"breaker_failures"`
	BreakerOpenFor      time.Duration `koanf:"breaker_open_for"`
}

// TasksConfig holds background task settings.
type TasksConfig struct {
	// Store is the task store backend: memory, badger or postgres.
	Store string `koanf:"store"`

	// BadgerPath is the data directory for the badger store.
	BadgerPath string `koanf:"badger_path"`

	Workers              int           `koanf:"workers"`
	PollInterval         time.Duration `koanf:"poll_interval"`
	LeaseTTL             time.Duration `koanf:"lease_ttl"`
	HousekeepingInterval time.Duration `koanf:"housekeeping_interval"`

	// DefaultKeepFor is applied to tasks submitted without keep_for.
	DefaultKeepFor time.Duration `koanf:"default_keep_for"`

	// FileOpsPerSecond throttles per-file work inside export jobs. Zero
	// disables the throttle.
	FileOpsPerSecond float64 `koanf:"file_ops_per_second"`
}

// DatabaseConfig holds PostgreSQL settings. An empty URL keeps metadata
// in memory.
type DatabaseConfig struct {
	URL      string `koanf:"url"`
	MaxConns int32  `koanf:"max_conns"`
	MinConns int32  `koanf:"min_conns"`
	Migrate  bool   `koanf:"migrate"`
}

// ArtifactsConfig selects where export archives are written.
type ArtifactsConfig struct {
	// Backend is one of fs, s3 or gcs.
	Backend string `koanf:"backend"`

	Dir    string `koanf:"dir"`
	Bucket string `koanf:"bucket"`
	Prefix string `koanf:"prefix"`

	// S3 specific
	Region          string `koanf:"region"`
	Endpoint        string `koanf:"endpoint"`
	AccessKeyID     string `koanf:"access_key_id"`
	SecretAccessKey string `koanf:"secret_access_key"`
	UsePathStyle    bool   `koanf:"use_path_style"`

	// GCS specific
	CredentialsFile string `koanf:"credentials_file"`

	ExportTTL time.Duration `koanf:"export_ttl"`
}

// StatsConfig holds request counter settings.
type StatsConfig struct {
	Enabled bool   `koanf:"enabled"`
	Path    string `koanf:"path"`

	// RetentionDays is the default window kept by stats.purge.
	RetentionDays int `koanf:"retention_days"`
}

// EventsConfig holds invalidation broadcast settings.
type EventsConfig struct {
	// Backend is local or nats.
	Backend       string `koanf:"backend"`
	URL           string `koanf:"url"`
	SubjectPrefix string `koanf:"subject_prefix"`
	Name          string `koanf:"name"`
}

// SecurityConfig holds authentication and request limiting settings.
type SecurityConfig struct {
	// AuthMode is none or jwt. With none every caller is anonymous.
	AuthMode          string        `koanf:"auth_mode"`
	JWTSecret         string        `koanf:"jwt_secret"`
	JWTIssuer         string        `koanf:"jwt_issuer"`
	RateLimitReqs     int           `koanf:"rate_limit_reqs"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`
	CORSOrigins       []string      `koanf:"cors_origins"`
	TrustedProxies    []string      `koanf:"trusted_proxies"`
}

// Addr returns the host:port the HTTP server listens on.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// MaskSecret hides all but the last four characters of a secret for logging.
func MaskSecret(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return "****" + s[len(s)-4:]
}
