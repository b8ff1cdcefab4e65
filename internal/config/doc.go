// Lumen - Dynamic Image Generation Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lumen

/*
Package config provides centralized configuration management for Lumen.

Configuration is layered with Koanf v2: built-in defaults, then an optional
YAML file, then environment variables. The file is found through
CONFIG_PATH or the first of DefaultConfigPaths that exists.

# Configuration Sections

  - server: HTTP listener and node identity
  - logging: zerolog level and format
  - imaging: source root, decode pixel budget, output defaults
  - templates: parsed template cache
  - cache: in-process LRU and the optional redis ring
  - generation: build concurrency, wait and build timeouts, breaker
  - tasks: task store backend, workers, leases, housekeeping
  - database: PostgreSQL DSN and pool sizing
  - artifacts: export archive backend (fs, s3, gcs)
  - stats: request counter store
  - events: invalidation broadcast (local or nats)
  - security: auth mode, JWT secret, CORS, rate limits

# Environment Variables

Only variables listed in the env mapping table are read. A selection:

  - HTTP_PORT: listen port (default: 8088)
  - IMAGE_ROOT: source image directory (default: /data/images)
  - CACHE_NODES: comma-separated redis addresses
  - MAX_CONCURRENT_BUILDS: build slots (default: 8)
  - TASK_STORE: memory, badger or postgres (default: memory)
  - DATABASE_URL: PostgreSQL DSN
  - ARTIFACT_BACKEND: fs, s3 or gcs (default: fs)
  - EVENTS_BACKEND: local or nats (default: local)
  - AUTH_MODE: none or jwt (default: none)
  - JWT_SECRET: HMAC secret, at least 32 characters in jwt mode

# Usage

	cfg, err := config.Load()
	if err != nil {
	    logging.Fatal().Err(err).Msg("Failed to load configuration")
	}
*/
package config
