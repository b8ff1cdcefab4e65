// Lumen - Dynamic Image Generation Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lumen

/*
Package middleware provides the infrastructure HTTP middleware shared by
every route.

Key Components:

  - RequestID: accepts or generates X-Request-ID and seeds the logging
    context with request_id and correlation_id
  - Metrics: records Prometheus request counts and latency labelled by the
    chi route pattern, so /api/v1/tasks/17 and /api/v1/tasks/18 share a series
  - Compression: gzip for JSON API responses

All middleware has the chi signature func(http.Handler) http.Handler.

Usage Example:

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Metrics)
	r.Route("/api/v1", func(r chi.Router) {
	    r.Use(middleware.Compression)
	    r.Get("/templates", h.ListTemplates)
	})

Image responses are not compressed: every supported output format is
already compressed or is meant to be delivered byte for byte.
*/
package middleware
