// Lumen - Dynamic Image Generation Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lumen

package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/lumen/internal/artifacts"
	"github.com/tomtom215/lumen/internal/catalog"
	"github.com/tomtom215/lumen/internal/events"
	"github.com/tomtom215/lumen/internal/generator"
	"github.com/tomtom215/lumen/internal/models"
	"github.com/tomtom215/lumen/internal/render"
	"github.com/tomtom215/lumen/internal/resolver"
	"github.com/tomtom215/lumen/internal/stats"
	"github.com/tomtom215/lumen/internal/tasks"
)

// ReadinessCheck reports whether one dependency can serve traffic.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Deps are the services the handlers call.
type Deps struct {
	Render      *render.Service
	Resolver    *resolver.Resolver
	Catalog     *catalog.Catalog
	Scheduler   *tasks.Scheduler
	Artifacts   artifacts.Store
	Coordinator *generator.Coordinator

	// Stats and Events are optional.
	Stats  *stats.Recorder
	Events *events.Publisher

	Readiness []ReadinessCheck
	Now       func() time.Time
}

// Handler holds the HTTP handlers.
type Handler struct {
	d Deps
}

// NewHandler creates the handlers.
func NewHandler(d Deps) *Handler {
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Handler{d: d}
}

// pathID parses an int64 URL parameter.
func pathID(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, models.InvalidParameter(name, "must be a positive integer, got %q", raw)
	}
	return id, nil
}

// respondTask writes a submitted task as 202 Accepted.
func respondTask(w http.ResponseWriter, sub tasks.Submitted) {
	if sub.Coalesced {
		w.Header().Set("X-Task-Coalesced", "true")
	}
	respondJSON(w, models.Accepted(sub.Task))
}
