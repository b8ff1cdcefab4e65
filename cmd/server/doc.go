// Lumen - Dynamic Image Generation Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lumen

/*
Package main is the entry point for the Lumen image server.

Lumen serves resized, cropped and filtered renditions of originals stored
under a source directory. Every rendition is described by URL parameters,
optionally layered over a named template, and cached under a key derived
from the source identity and the normalized operations.

# Application Architecture

	RootSupervisor ("lumen")
	├── StorageSupervisor ("storage-layer")
	│   └── Stats recorder flush loop (when STATS_ENABLED)
	├── BackgroundSupervisor ("background-layer")
	│   ├── Task workers (TASK_WORKERS)
	│   ├── Housekeeper (expired tasks, exports, cache entries, stats purge)
	│   └── Event listener (template and catalog invalidation)
	└── APISupervisor ("api-layer")
	    └── HTTP Server

Component initialization order:

 1. Configuration: Koanf v2 with environment variables and config file
 2. Logging: zerolog with JSON or console output
 3. Metadata: PostgreSQL (DATABASE_URL) or in memory
 4. Catalog: folder tree and permissions loaded from metadata
 5. Cache: in-process LRU, optionally tiered over a redis ring
 6. Generation coordinator, imaging engine and render pipeline
 7. Task store, job registry, workers and housekeeper
 8. Event bus: local or NATS
 9. HTTP router with authentication and route policy
 10. Supervisor tree

# Configuration

	Priority: Environment variables > Config file > Defaults

Core environment variables:

	HTTP_PORT=8088               # HTTP listen port
	LOG_LEVEL=info               # trace, debug, info, warn, error
	IMAGE_ROOT=/data/images      # directory holding the originals
	AUTH_MODE=jwt                # jwt or none
	JWT_SECRET=<32+ chars>       # required for jwt mode
	DATABASE_URL=postgres://...  # empty keeps metadata in memory
	TASK_STORE=badger            # memory, badger or postgres
	CACHE_NODES=redis-a:6379,redis-b:6379
	EVENTS_BACKEND=nats          # local or nats
	ARTIFACT_BACKEND=s3          # fs, s3 or gcs

# Signal Handling

SIGINT and SIGTERM cancel the root context. The HTTP server drains
in-flight requests for SHUTDOWN_TIMEOUT, workers finish or abandon their
current task, the stats recorder flushes, and stores are closed last.
*/
package main
