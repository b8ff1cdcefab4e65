// Lumen - Dynamic Image Generation Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lumen

package api

import (
	"net/http"

	"github.com/tomtom215/lumen/internal/auth"
	"github.com/tomtom215/lumen/internal/models"
)

// GetTask polls a task. Tasks submitted by a user are visible to that
// user and to admins; system tasks only to admins.
//
// Method: GET
// Path: /api/v1/tasks/{id}
func (h *Handler) GetTask(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		WriteError(w, r, err)
		return
	}
	t, err := h.d.Scheduler.Poll(r.Context(), id)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	if err := ownerOrAdmin(t, auth.CallerFrom(r.Context())); err != nil {
		WriteError(w, r, err)
		return
	}
	respondJSON(w, models.OK(t))
}
