// Lumen - Dynamic Image Generation Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lumen

package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/tomtom215/lumen/internal/logging"
	"github.com/tomtom215/lumen/internal/models"
	"github.com/tomtom215/lumen/internal/validation"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// respondJSON sends a JSON response with proper headers
func respondJSON(w http.ResponseWriter, result models.Result) {
	data, err := json.Marshal(result)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(result.Status)
	if _, err := w.Write(data); err != nil {
		logging.Error().Err(err).Msg("Failed to write JSON response")
	}
}

// WriteError writes err as a wrapped JSON error. Server-side failures are
// logged with the request's context; client errors are not.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	result := models.ResultFromError(err)
	if result.Status >= http.StatusInternalServerError {
		logging.Ctx(r.Context()).Error().
			Err(err).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", result.Status).
			Msg("Request failed")
	}
	respondJSON(w, result)
}

// decodeJSON reads a bounded JSON body into v and validates it.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	if err := readJSON(w, r, v); err != nil {
		return err
	}
	return validation.Validate(v)
}

// readJSON reads a bounded JSON body into v.
func readJSON(w http.ResponseWriter, r *http.Request, v any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			return models.InvalidParameter("body", "exceeds %d bytes", maxBodyBytes)
		case errors.Is(err, io.EOF):
			return models.InvalidParameter("body", "is required")
		default:
			return models.InvalidParameter("body", "malformed JSON: %v", err)
		}
	}
	return nil
}
