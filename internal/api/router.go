// Lumen - Dynamic Image Generation Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lumen

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/lumen/internal/auth"
	"github.com/tomtom215/lumen/internal/authz"
	"github.com/tomtom215/lumen/internal/middleware"
	"github.com/tomtom215/lumen/internal/models"
)

// Router wires handlers and middleware into a chi router.
type Router struct {
	handler       *Handler
	chiMiddleware *ChiMiddleware
	authn         *auth.Middleware
	authz         *authz.Middleware
}

// NewRouter creates a Router.
func NewRouter(handler *Handler, chiMw *ChiMiddleware, authn *auth.Middleware, authzMw *authz.Middleware) *Router {
	return &Router{handler: handler, chiMiddleware: chiMw, authn: authn, authz: authzMw}
}

// SetupChi configures all HTTP routes using Chi router.
func (router *Router) SetupChi() http.Handler {
	r := chi.NewRouter()

	// ========================
	// Global Middleware Stack
	// ========================
	r.Use(middleware.RequestID)
	r.Use(router.chiMiddleware.RealIP())
	r.Use(chimiddleware.Recoverer)
	r.Use(router.chiMiddleware.CORS()) // CORS must be global to handle OPTIONS preflight
	r.Use(middleware.Metrics)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, r, models.NotFound("route", r.URL.Path))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, models.Result{Status: http.StatusMethodNotAllowed, Message: r.Method + " not allowed"})
	})

	// ========================
	// Probes
	// ========================
	r.Get("/health/live", router.handler.HealthLive)
	r.Get("/health/ready", router.handler.HealthReady)
	r.Handle("/metrics", promhttp.Handler())

	// ========================
	// Images
	// ========================
	r.Group(func(r chi.Router) {
		r.Use(router.chiMiddleware.RateLimit())
		r.Use(router.authn.Authenticate)
		r.Use(router.authz.Authorize)

		r.Get("/image", router.handler.Image)
		r.Head("/image", router.handler.Image)
		r.Get("/original", router.handler.Original)
		r.Head("/original", router.handler.Original)
	})

	// ========================
	// JSON API
	// ========================
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(router.chiMiddleware.RateLimit())
		r.Use(middleware.Compression)
		r.Use(router.authn.Authenticate)
		r.Use(router.authz.Authorize)

		r.Get("/templates", router.handler.ListTemplates)
		r.Get("/templates/{name}", router.handler.GetTemplate)

		r.Post("/folders", router.handler.CreateFolder)
		r.Get("/folders/{id}", router.handler.GetFolder)
		r.Delete("/folders/{id}", router.handler.DeleteFolder)
		r.Post("/folders/{id}/move", router.handler.MoveFolder)

		r.Post("/exports", router.handler.CreateExport)
		r.Get("/exports/{id}", router.handler.DownloadExport)
		r.Delete("/exports/{id}", router.handler.DeleteExport)

		r.Get("/tasks/{id}", router.handler.GetTask)
		r.Get("/stats", router.handler.Stats)

		r.Route("/admin", func(r chi.Router) {
			r.Put("/templates/{name}", router.handler.PutTemplate)
			r.Delete("/templates/{name}", router.handler.DeleteTemplate)
			r.Put("/permissions", router.handler.SetPermission)
			r.Delete("/permissions/{folder_id}/{group_id}", router.handler.DeletePermission)
			r.Get("/folders/{id}/permissions", router.handler.FolderPermissions)
			r.Put("/groups", router.handler.PutGroup)
			r.Post("/stats/purge", router.handler.PurgeStats)
		})
	})

	return r
}
