// Lumen - Dynamic Image Generation Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lumen

/*
Package metrics provides Prometheus instrumentation for the image server.

All collectors are registered with the default registry through promauto and
exposed at /metrics by the API router.

# Families

  - lumen_http_*: request counts and latency per route pattern
  - lumen_cache_*: hits, misses and identity-tag collisions per tier
  - lumen_generation_*: builds, waits, retries and rejected requests
  - circuit_breaker_*: breaker state around the imaging backend
  - lumen_tasks_*: submissions, completions and housekeeping
  - lumen_db_*: metadata query latency

Helpers such as RecordGeneration and RecordTaskCompleted keep label values
consistent across callers.
*/
package metrics
