// Lumen - Dynamic Image Generation Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lumen

package api

import (
	"net/http"

	"github.com/tomtom215/lumen/internal/auth"
	"github.com/tomtom215/lumen/internal/events"
	"github.com/tomtom215/lumen/internal/jobs"
	"github.com/tomtom215/lumen/internal/logging"
	"github.com/tomtom215/lumen/internal/models"
)

// PermissionRequest sets the level of one group on one folder.
type PermissionRequest struct {
	FolderID int64              `json:"folder_id" validate:"required,gt=0"`
	GroupID  int64              `json:"group_id" validate:"required,gt=0"`
	Level    models.AccessLevel `json:"level" validate:"accesslevel"`
}

// GroupRequest creates or updates a group.
type GroupRequest struct {
	ID        int64  `json:"id" validate:"gte=0"`
	Name      string `json:"name" validate:"required,max=100"`
	FileAdmin bool   `json:"file_admin"`
}

// PurgeRequest is the body of a stats purge.
type PurgeRequest struct {
	OlderThanDays int `json:"older_than_days" validate:"gte=0,lte=3650"`
}

// SetPermission upserts a permission record.
//
// Method: PUT
// Path: /api/v1/admin/permissions
func (h *Handler) SetPermission(w http.ResponseWriter, r *http.Request) {
	var req PermissionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteError(w, r, err)
		return
	}
	ctx := r.Context()
	rec := models.PermissionRecord{FolderID: req.FolderID, GroupID: req.GroupID, Level: req.Level}
	if err := h.d.Catalog.SetPermission(ctx, rec); err != nil {
		WriteError(w, r, err)
		return
	}
	h.d.Events.Publish(ctx, events.CatalogChanged, "")

	logging.Ctx(ctx).Info().
		Int64("folder_id", rec.FolderID).
		Int64("group_id", rec.GroupID).
		Stringer("level", rec.Level).
		Msg("Permission set")
	respondJSON(w, models.OK(rec))
}

// DeletePermission removes a permission record, restoring inheritance.
//
// Method: DELETE
// Path: /api/v1/admin/permissions/{folder_id}/{group_id}
func (h *Handler) DeletePermission(w http.ResponseWriter, r *http.Request) {
	folderID, err := pathID(r, "folder_id")
	if err != nil {
		WriteError(w, r, err)
		return
	}
	groupID, err := pathID(r, "group_id")
	if err != nil {
		WriteError(w, r, err)
		return
	}
	ctx := r.Context()
	if err := h.d.Catalog.DeletePermission(ctx, folderID, groupID); err != nil {
		WriteError(w, r, err)
		return
	}
	h.d.Events.Publish(ctx, events.CatalogChanged, "")

	logging.Ctx(ctx).Info().Int64("folder_id", folderID).Int64("group_id", groupID).Msg("Permission removed")
	respondJSON(w, models.OK(nil))
}

// FolderPermissions lists the explicit records on a folder.
//
// Method: GET
// Path: /api/v1/admin/folders/{id}/permissions
func (h *Handler) FolderPermissions(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		WriteError(w, r, err)
		return
	}
	if _, err := h.d.Catalog.Folder(id); err != nil {
		WriteError(w, r, err)
		return
	}
	recs := h.d.Catalog.Permissions().Records(id)
	if recs == nil {
		recs = []models.PermissionRecord{}
	}
	respondJSON(w, models.OK(recs))
}

// PutGroup creates (id 0) or updates a group.
//
// Method: PUT
// Path: /api/v1/admin/groups
func (h *Handler) PutGroup(w http.ResponseWriter, r *http.Request) {
	var req GroupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteError(w, r, err)
		return
	}
	ctx := r.Context()
	g, err := h.d.Catalog.PutGroup(ctx, models.Group{ID: req.ID, Name: req.Name, FileAdmin: req.FileAdmin})
	if err != nil {
		WriteError(w, r, err)
		return
	}
	h.d.Events.Publish(ctx, events.CatalogChanged, "")

	logging.Ctx(ctx).Info().Int64("group_id", g.ID).Bool("file_admin", g.FileAdmin).Msg("Group saved")
	respondJSON(w, models.OK(g))
}

// PurgeStats queues a stats.purge task.
//
// Method: POST
// Path: /api/v1/admin/stats/purge
func (h *Handler) PurgeStats(w http.ResponseWriter, r *http.Request) {
	if h.d.Stats == nil {
		WriteError(w, r, models.NotFound("feature", "stats"))
		return
	}
	var req PurgeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteError(w, r, err)
		return
	}
	ctx := r.Context()
	sub, err := h.d.Scheduler.Submit(ctx, jobs.PurgeSubmission(req.OlderThanDays, auth.CallerFrom(ctx).UserID))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	respondTask(w, sub)
}
