// Lumen - Dynamic Image Generation Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lumen

package api

import (
	"net/http"

	"github.com/tomtom215/lumen/internal/models"
	"github.com/tomtom215/lumen/internal/source"
)

// Stats returns the request counters of one source.
//
// Method: GET
// Path: /api/v1/stats?src=<path>
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	if h.d.Stats == nil {
		WriteError(w, r, models.NotFound("feature", "stats"))
		return
	}
	src, err := source.Clean(r.URL.Query().Get("src"))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	sum, err := h.d.Stats.Query(src)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	respondJSON(w, models.OK(sum))
}
