// Lumen - Dynamic Image Generation Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lumen

/*
Package api provides the HTTP surface of Lumen on the chi router.

Routes:

  - GET /image, GET /original: generated images and originals
  - /api/v1/templates: template listing, admin upsert and delete
  - /api/v1/folders: folder view, create, and background move and delete
  - /api/v1/exports: background zip exports, download and delete
  - /api/v1/tasks/{id}: task polling
  - /api/v1/stats: per-source request counters
  - /api/v1/admin: templates, permissions, groups and stats purge
  - /health/live, /health/ready, /metrics: probes and Prometheus

Middleware Stack:

Every request passes RequestID, RealIP (for trusted proxies), Recoverer,
CORS and Metrics. Image and API routes then add rate limiting, JWT
authentication (anonymous when no token is sent) and casbin route
authorization. Folder-level permissions are checked in the handlers,
after the target folder is known.

Responses:

JSON bodies use the {status, message, data} wrapper of models.Result.
Every error is written through WriteError, which maps the error kind to
the HTTP status.
*/
package api
