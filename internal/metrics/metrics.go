// Lumen - Dynamic Image Generation Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lumen

package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP Metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lumen_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lumen_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "route"},
	)

	HTTPActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lumen_http_active_requests",
			Help: "Number of HTTP requests currently being served",
		},
	)

	// Cache Metrics
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lumen_cache_hits_total",
			Help: "Total number of image cache hits",
		},
		[]string{"tier"}, // "memory", "redis", "ring"
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lumen_cache_misses_total",
			Help: "Total number of image cache misses",
		},
		[]string{"tier"},
	)

	CacheCollisions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lumen_cache_collisions_total",
			Help: "Cache entries whose identity tag did not match the request",
		},
	)

	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lumen_cache_errors_total",
			Help: "Cache backend errors by operation",
		},
		[]string{"tier", "operation"},
	)

	CacheBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lumen_cache_memory_bytes",
			Help: "Bytes held by the in-process image cache",
		},
	)

	CacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lumen_cache_memory_entries",
			Help: "Entries held by the in-process image cache",
		},
	)

	// Generation Metrics
	GenerationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lumen_generation_duration_seconds",
			Help:    "Time spent building an image",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"format"},
	)

	GenerationResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lumen_generation_results_total",
			Help: "Image requests by outcome",
		},
		[]string{"outcome"}, // "cached", "built", "shared", "busy", "capacity", "error"
	)

	GenerationRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lumen_generation_retries_total",
			Help: "Builds retried after a transient backend error",
		},
	)

	GenerationInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lumen_generation_in_flight",
			Help: "Builds currently running on this node",
		},
	)

	GenerationWaiters = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lumen_generation_waiters",
			Help: "Requests waiting on another request's build",
		},
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker",
		},
		[]string{"name", "result"}, // result: "success", "failure", "rejected"
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// Task Metrics
	TasksSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lumen_tasks_submitted_total",
			Help: "Tasks submitted by function name and outcome",
		},
		[]string{"funcname", "outcome"}, // outcome: "queued", "coalesced", "rejected"
	)

	TasksCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lumen_tasks_completed_total",
			Help: "Tasks finished by function name and result status",
		},
		[]string{"funcname", "status"},
	)

	TaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lumen_task_duration_seconds",
			Help:    "Time from claim to completion",
			Buckets: []float64{.1, .5, 1, 5, 10, 30, 60, 300, 900, 3600},
		},
		[]string{"funcname"},
	)

	TasksPurged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lumen_tasks_purged_total",
			Help: "Expired tasks removed by housekeeping",
		},
	)

	HousekeepingRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lumen_housekeeping_runs_total",
			Help: "Housekeeping passes by job and outcome",
		},
		[]string{"job", "outcome"},
	)

	// Permission Metrics
	PermissionChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lumen_permission_checks_total",
			Help: "Folder permission checks by outcome",
		},
		[]string{"outcome"}, // "allowed", "denied"
	)

	// Database Metrics
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lumen_db_query_duration_seconds",
			Help:    "Duration of metadata queries in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "table"},
	)

	DBQueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lumen_db_query_errors_total",
			Help: "Total number of metadata query errors",
		},
		[]string{"operation", "table"},
	)

	// Event Metrics
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lumen_events_published_total",
			Help: "Domain events published by subject",
		},
		[]string{"subject", "result"},
	)
)

// RecordHTTPRequest records an HTTP request metric
func RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// TrackActiveRequest tracks active HTTP requests
func TrackActiveRequest(inc bool) {
	if inc {
		HTTPActiveRequests.Inc()
	} else {
		HTTPActiveRequests.Dec()
	}
}

// RecordCacheLookup records a hit or miss for the named tier.
func RecordCacheLookup(tier string, hit bool) {
	if hit {
		CacheHits.WithLabelValues(tier).Inc()
		return
	}
	CacheMisses.WithLabelValues(tier).Inc()
}

// RecordCacheError records a failed cache backend call.
func RecordCacheError(tier, operation string) {
	CacheErrors.WithLabelValues(tier, operation).Inc()
}

// UpdateMemoryCache sets the in-process cache gauges.
func UpdateMemoryCache(entries int, bytes int64) {
	CacheEntries.Set(float64(entries))
	CacheBytes.Set(float64(bytes))
}

// RecordGeneration records a completed build.
func RecordGeneration(format string, duration time.Duration) {
	GenerationDuration.WithLabelValues(format).Observe(duration.Seconds())
}

// RecordGenerationOutcome counts a served or rejected image request.
func RecordGenerationOutcome(outcome string) {
	GenerationResults.WithLabelValues(outcome).Inc()
}

// RecordTaskSubmitted counts a submission by outcome.
func RecordTaskSubmitted(funcname, outcome string) {
	TasksSubmitted.WithLabelValues(funcname, outcome).Inc()
}

// RecordTaskCompleted counts a finished task and observes its run time.
func RecordTaskCompleted(funcname string, status int, duration time.Duration) {
	TasksCompleted.WithLabelValues(funcname, strconv.Itoa(status)).Inc()
	TaskDuration.WithLabelValues(funcname).Observe(duration.Seconds())
}

// RecordHousekeeping counts a housekeeping pass.
func RecordHousekeeping(job string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	HousekeepingRuns.WithLabelValues(job, outcome).Inc()
}

// RecordPermissionCheck counts a folder permission decision.
func RecordPermissionCheck(allowed bool) {
	if allowed {
		PermissionChecks.WithLabelValues("allowed").Inc()
		return
	}
	PermissionChecks.WithLabelValues("denied").Inc()
}

// RecordDBQuery records a metadata query metric
func RecordDBQuery(operation, table string, duration time.Duration, err error) {
	DBQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
	if err != nil {
		DBQueryErrors.WithLabelValues(operation, table).Inc()
	}
}

// RecordEventPublished counts a published event.
func RecordEventPublished(subject string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	EventsPublished.WithLabelValues(subject, result).Inc()
}
