// Lumen - Dynamic Image Generation Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lumen

// Package auth identifies the caller of each request.
//
// In jwt mode a Bearer token (or the "token" cookie) is verified and turned
// into a models.Caller. Requests without a token proceed as the anonymous
// caller; requests with a bad token are rejected with 401. In none mode
// every request is anonymous.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tomtom215/lumen/internal/config"
	"github.com/tomtom215/lumen/internal/logging"
	"github.com/tomtom215/lumen/internal/models"
)

// AuthMode represents the authentication strategy.
type AuthMode string

const (
	// AuthModeNone disables authentication
	AuthModeNone AuthMode = "none"

	// AuthModeJWT uses JWT Bearer tokens
	AuthModeJWT AuthMode = "jwt"
)

// ParseAuthMode converts a string to AuthMode.
func ParseAuthMode(s string) (AuthMode, error) {
	switch s {
	case "none", "":
		return AuthModeNone, nil
	case "jwt":
		return AuthModeJWT, nil
	default:
		return "", errors.New("invalid auth mode: " + s)
	}
}

type callerKey struct{}

// WithCaller returns ctx carrying caller.
func WithCaller(ctx context.Context, caller models.Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

// CallerFrom returns the caller stored in ctx, or the anonymous caller.
func CallerFrom(ctx context.Context) models.Caller {
	if c, ok := ctx.Value(callerKey{}).(models.Caller); ok {
		return c
	}
	return models.AnonymousCaller()
}

// ErrorWriter writes an error response.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, err error)

// Middleware attaches the caller to every request.
type Middleware struct {
	mode        AuthMode
	manager     *JWTManager
	tokenCookie string
	writeError  ErrorWriter
}

// NewMiddleware builds the middleware for cfg.AuthMode.
func NewMiddleware(cfg config.SecurityConfig, writeError ErrorWriter) (*Middleware, error) {
	mode, err := ParseAuthMode(cfg.AuthMode)
	if err != nil {
		return nil, err
	}
	m := &Middleware{mode: mode, tokenCookie: "token", writeError: writeError}
	if mode == AuthModeJWT {
		if m.manager, err = NewJWTManager(cfg); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Manager returns the JWT manager, or nil in none mode.
func (m *Middleware) Manager() *JWTManager { return m.manager }

// Authenticate resolves the caller and stores it in the request context.
func (m *Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.mode == AuthModeNone {
			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), models.AnonymousCaller())))
			return
		}

		tokenStr := m.extractToken(r)
		if tokenStr == "" {
			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), models.AnonymousCaller())))
			return
		}

		caller, err := m.authenticate(tokenStr)
		if err != nil {
			logging.Ctx(r.Context()).Debug().Err(err).Msg("Rejected bearer token")
			m.writeError(w, r, err)
			return
		}
		ctx := WithCaller(r.Context(), caller)
		ctx = logging.ContextWithLogger(ctx, logging.LoggerFromContext(ctx).With().Int64("user_id", *caller.UserID).Logger())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *Middleware) authenticate(tokenStr string) (models.Caller, error) {
	claims, err := m.manager.ValidateToken(tokenStr)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return models.Caller{}, &models.Error{Kind: models.KindAuthRequired, Message: "token expired", Err: err}
		}
		return models.Caller{}, &models.Error{Kind: models.KindAuthRequired, Message: "invalid token", Err: err}
	}
	caller, err := CallerFromClaims(claims)
	if err != nil {
		return models.Caller{}, &models.Error{Kind: models.KindAuthRequired, Message: "invalid token", Err: err}
	}
	return caller, nil
}

// extractToken extracts the bearer token from Authorization header or cookie.
func (m *Middleware) extractToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	if c, err := r.Cookie(m.tokenCookie); err == nil {
		return c.Value
	}
	return ""
}

// RequireAuthenticated rejects anonymous callers with 401.
func RequireAuthenticated(writeError ErrorWriter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if CallerFrom(r.Context()).Anonymous {
				writeError(w, r, models.AuthRequired("authentication required"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
