// Lumen - Dynamic Image Generation Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lumen

package authz

import (
	"net/http"

	"github.com/tomtom215/lumen/internal/auth"
	"github.com/tomtom215/lumen/internal/logging"
	"github.com/tomtom215/lumen/internal/models"
)

// Middleware enforces route policy for the caller's primary role.
type Middleware struct {
	enforcer   *Enforcer
	writeError auth.ErrorWriter
}

// NewMiddleware creates a new authorization middleware.
func NewMiddleware(enforcer *Enforcer, writeError auth.ErrorWriter) *Middleware {
	return &Middleware{enforcer: enforcer, writeError: writeError}
}

// Authorize rejects requests whose route the caller's role may not use.
// Anonymous callers get 401 so clients know to log in; others get 403.
func (m *Middleware) Authorize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller := auth.CallerFrom(r.Context())
		role := caller.PrimaryRole()

		allowed, err := m.enforcer.Enforce(role, r.URL.Path, r.Method)
		if err != nil {
			logging.Ctx(r.Context()).Error().Err(err).Msg("Authorization error")
			m.writeError(w, r, models.Internal("authorize", err))
			return
		}
		if !allowed {
			if caller.Anonymous {
				m.writeError(w, r, models.AuthRequired("authentication required"))
				return
			}
			m.writeError(w, r, models.Forbidden("role %s may not %s %s", role, r.Method, r.URL.Path))
			return
		}
		next.ServeHTTP(w, r)
	})
}
