// Lumen - Dynamic Image Generation Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lumen

package api

import (
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/tomtom215/lumen/internal/auth"
	"github.com/tomtom215/lumen/internal/jobs"
	"github.com/tomtom215/lumen/internal/logging"
	"github.com/tomtom215/lumen/internal/models"
)

// CreateExport queues a zip of originals. The caller needs Download on the
// folder of every path.
//
// Method: POST
// Path: /api/v1/exports
func (h *Handler) CreateExport(w http.ResponseWriter, r *http.Request) {
	var req jobs.ExportParams
	if err := decodeJSON(w, r, &req); err != nil {
		WriteError(w, r, err)
		return
	}
	ctx := r.Context()
	caller := auth.CallerFrom(ctx)
	for _, p := range req.Paths {
		if err := h.d.Catalog.CheckPath(p, caller, models.AccessDownload); err != nil {
			WriteError(w, r, err)
			return
		}
	}
	sub, err := jobs.SubmitExport(ctx, h.d.Scheduler, req, caller.UserID)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	respondTask(w, sub)
}

// DownloadExport streams the archive of a finished export to its owner or
// an admin.
//
// Method: GET
// Path: /api/v1/exports/{id}
func (h *Handler) DownloadExport(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		WriteError(w, r, err)
		return
	}
	ctx := r.Context()
	t, err := h.d.Scheduler.Poll(ctx, id)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	if err := ownerOrAdmin(t, auth.CallerFrom(ctx)); err != nil {
		WriteError(w, r, err)
		return
	}
	res, err := jobs.ExportOf(t)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	rc, obj, err := h.d.Artifacts.Open(ctx, res.Key)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Length", strconv.FormatInt(obj.Size, 10))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": res.Name}))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Int64("task_id", id).Msg("Export download aborted")
	}
}

// DeleteExport removes the archive of a finished export.
//
// Method: DELETE
// Path: /api/v1/exports/{id}
func (h *Handler) DeleteExport(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		WriteError(w, r, err)
		return
	}
	if err := jobs.DeleteExport(r.Context(), h.d.Scheduler, h.d.Artifacts, id, auth.CallerFrom(r.Context())); err != nil {
		WriteError(w, r, err)
		return
	}
	respondJSON(w, models.OK(nil))
}

// ownerOrAdmin allows the submitter of t or an admin.
func ownerOrAdmin(t *models.Task, caller models.Caller) error {
	if caller.HasRole(models.RoleAdmin) {
		return nil
	}
	if t.UserID != nil && caller.UserID != nil && *t.UserID == *caller.UserID {
		return nil
	}
	return models.Forbidden("task %d belongs to another user", t.ID)
}
