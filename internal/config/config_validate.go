// Lumen - Dynamic Image Generation Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lumen

package config

import (
	"fmt"
	"net/url"
	"strings"
)

var (
	validLogLevels    = map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
	validLogFormats   = map[string]bool{"json": true, "console": true}
	validFormats      = map[string]bool{"jpg": true, "jpeg": true, "png": true, "gif": true, "tif": true, "tiff": true, "bmp": true}
	validTaskStores   = map[string]bool{"memory": true, "badger": true, "postgres": true}
	validArtifactKind = map[string]bool{"fs": true, "s3": true, "gcs": true}
	validEventKinds   = map[string]bool{"local": true, "nats": true}
	validAuthModes    = map[string]bool{"none": true, "jwt": true}
)

// Validate checks that required configuration is present and valid
func (c *Config) Validate() error {
	validators := []func() error{
		c.validateServer,
		c.validateLogging,
		c.validateImaging,
		c.validateCache,
		c.validateGeneration,
		c.validateTasks,
		c.validateArtifacts,
		c.validateEvents,
		c.validateSecurity,
	}
	for _, v := range validators {
		if err := v(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("HTTP_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}
	return nil
}

// validateLogging validates logging configuration
func (c *Config) validateLogging() error {
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("LOG_LEVEL must be one of: trace, debug, info, warn, error")
	}
	if c.Logging.Format != "" && !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("LOG_FORMAT must be one of: json, console")
	}
	return nil
}

func (c *Config) validateImaging() error {
	if c.Imaging.SourceRoot == "" {
		return fmt.Errorf("IMAGE_ROOT is required")
	}
	if c.Imaging.PixelBudget <= 0 {
		return fmt.Errorf("IMAGE_PIXEL_BUDGET must be positive, got %d", c.Imaging.PixelBudget)
	}
	if !validFormats[strings.ToLower(c.Imaging.DefaultFormat)] {
		return fmt.Errorf("IMAGE_DEFAULT_FORMAT %q is not a supported output format", c.Imaging.DefaultFormat)
	}
	if c.Imaging.DefaultQuality < 1 || c.Imaging.DefaultQuality > 100 {
		return fmt.Errorf("IMAGE_DEFAULT_QUALITY must be between 1 and 100, got %d", c.Imaging.DefaultQuality)
	}
	return nil
}

func (c *Config) validateCache() error {
	if c.Cache.MaxEntries <= 0 || c.Cache.MaxBytes <= 0 {
		return fmt.Errorf("CACHE_MAX_ENTRIES and CACHE_MAX_BYTES must be positive")
	}
	if len(c.Cache.Nodes) > 0 && c.Cache.Replicas <= 0 {
		return fmt.Errorf("CACHE_REPLICAS must be positive when CACHE_NODES is set")
	}
	if c.Cache.ClusterLock && len(c.Cache.Nodes) == 0 {
		return fmt.Errorf("CACHE_CLUSTER_LOCK requires CACHE_NODES")
	}
	return nil
}

func (c *Config) validateGeneration() error {
	g := c.Generation
	if g.MaxConcurrentBuilds <= 0 {
		return fmt.Errorf("MAX_CONCURRENT_BUILDS must be positive, got %d", g.MaxConcurrentBuilds)
	}
	if g.WaitTimeout <= 0 || g.BuildTimeout <= 0 {
		return fmt.Errorf("GENERATION_WAIT_TIMEOUT and GENERATION_BUILD_TIMEOUT must be positive")
	}
	if g.RetryDelay < 0 {
		return fmt.Errorf("GENERATION_RETRY_DELAY must not be negative")
	}
	if c.Cache.ClusterLock && g.LockTTL < g.BuildTimeout {
		return fmt.Errorf("GENERATION_LOCK_TTL (%v) must be at least GENERATION_BUILD_TIMEOUT (%v)", g.LockTTL, g.BuildTimeout)
	}
	return nil
}

func (c *Config) validateTasks() error {
	t := c.Tasks
	if !validTaskStores[t.Store] {
		return fmt.Errorf("TASK_STORE must be one of: memory, badger, postgres")
	}
	if t.Store == "badger" && t.BadgerPath == "" {
		return fmt.Errorf("TASK_BADGER_PATH is required when TASK_STORE=badger")
	}
	if t.Store == "postgres" && c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required when TASK_STORE=postgres")
	}
	if t.Workers < 0 {
		return fmt.Errorf("TASK_WORKERS must not be negative")
	}
	if t.PollInterval <= 0 || t.LeaseTTL <= 0 || t.HousekeepingInterval <= 0 {
		return fmt.Errorf("TASK_POLL_INTERVAL, TASK_LEASE_TTL and HOUSEKEEPING_INTERVAL must be positive")
	}
	if t.FileOpsPerSecond < 0 {
		return fmt.Errorf("FILE_OPS_PER_SECOND must not be negative")
	}
	return nil
}

func (c *Config) validateArtifacts() error {
	a := c.Artifacts
	if !validArtifactKind[a.Backend] {
		return fmt.Errorf("ARTIFACT_BACKEND must be one of: fs, s3, gcs")
	}
	switch a.Backend {
	case "fs":
		if a.Dir == "" {
			return fmt.Errorf("ARTIFACT_DIR is required when ARTIFACT_BACKEND=fs")
		}
	case "s3", "gcs":
		if a.Bucket == "" {
			return fmt.Errorf("ARTIFACT_BUCKET is required when ARTIFACT_BACKEND=%s", a.Backend)
		}
	}
	if a.Endpoint != "" {
		if err := validateHTTPURL(a.Endpoint, "ARTIFACT_ENDPOINT"); err != nil {
			return err
		}
	}
	if a.ExportTTL <= 0 {
		return fmt.Errorf("EXPORT_TTL must be positive")
	}
	return nil
}

func (c *Config) validateEvents() error {
	if !validEventKinds[c.Events.Backend] {
		return fmt.Errorf("EVENTS_BACKEND must be one of: local, nats")
	}
	if c.Events.Backend == "nats" {
		if err := validateNATSURL(c.Events.URL); err != nil {
			return fmt.Errorf("NATS_URL is invalid: %w", err)
		}
	}
	return nil
}

func (c *Config) validateSecurity() error {
	s := c.Security
	if !validAuthModes[s.AuthMode] {
		return fmt.Errorf("AUTH_MODE must be one of: none, jwt")
	}
	if s.AuthMode == "jwt" {
		if len(s.JWTSecret) < 32 {
			return fmt.Errorf("JWT_SECRET must be at least 32 characters when AUTH_MODE=jwt")
		}
		if containsPlaceholder(s.JWTSecret) {
			return fmt.Errorf("JWT_SECRET contains a placeholder value")
		}
	}
	if c.IsProduction() && s.AuthMode == "none" {
		return fmt.Errorf("AUTH_MODE=none is not allowed when ENVIRONMENT=production")
	}
	if !s.RateLimitDisabled {
		if s.RateLimitReqs <= 0 {
			return fmt.Errorf("RATE_LIMIT_REQUESTS must be positive")
		}
		if s.RateLimitWindow <= 0 {
			return fmt.Errorf("RATE_LIMIT_WINDOW must be positive")
		}
	}
	return nil
}

// IsProduction reports whether the server runs in production mode.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Server.Environment, "production")
}

// ShouldWarnAboutCORS reports a wildcard CORS origin outside development.
func (c *Config) ShouldWarnAboutCORS() bool {
	if strings.EqualFold(c.Server.Environment, "development") {
		return false
	}
	for _, o := range c.Security.CORSOrigins {
		if o == "*" {
			return true
		}
	}
	return false
}

// validateHTTPURL validates that a URL is a base http or https URL.
func validateHTTPURL(rawURL, fieldName string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%s failed to parse URL: %w", fieldName, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s scheme must be http or https, got: %s", fieldName, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%s host is required", fieldName)
	}
	return nil
}

// validateNATSURL accepts nats://, tls://, ws:// and wss:// URLs, comma separated.
func validateNATSURL(rawURL string) error {
	validSchemes := map[string]bool{"nats": true, "tls": true, "ws": true, "wss": true}
	for _, part := range strings.Split(rawURL, ",") {
		u, err := url.Parse(strings.TrimSpace(part))
		if err != nil {
			return fmt.Errorf("failed to parse URL: %w", err)
		}
		if !validSchemes[u.Scheme] {
			return fmt.Errorf("scheme must be nats, tls, ws, or wss, got: %s", u.Scheme)
		}
		if u.Host == "" {
			return fmt.Errorf("host is required (e.g., localhost:4222)")
		}
	}
	return nil
}

// placeholderPatterns are values that indicate a secret was never set.
var placeholderPatterns = []string{
	"REPLACE",
	"CHANGEME",
	"CHANGE_ME",
	"YOUR_SECRET",
	"PLACEHOLDER",
	"EXAMPLE",
}

func containsPlaceholder(value string) bool {
	upper := strings.ToUpper(value)
	for _, p := range placeholderPatterns {
		if strings.Contains(upper, p) {
			return true
		}
	}
	return false
}
