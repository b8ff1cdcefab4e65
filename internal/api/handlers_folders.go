// Lumen - Dynamic Image Generation Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lumen

package api

import (
	"net/http"

	"github.com/tomtom215/lumen/internal/auth"
	"github.com/tomtom215/lumen/internal/catalog"
	"github.com/tomtom215/lumen/internal/events"
	"github.com/tomtom215/lumen/internal/jobs"
	"github.com/tomtom215/lumen/internal/logging"
	"github.com/tomtom215/lumen/internal/models"
	"github.com/tomtom215/lumen/internal/validation"
)

// CreateFolderRequest is the body of a folder create.
type CreateFolderRequest struct {
	ParentID int64  `json:"parent_id" validate:"required,gt=0"`
	Name     string `json:"name" validate:"required,foldername"`
}

// MoveFolderRequest is the body of a folder move.
type MoveFolderRequest struct {
	ParentID int64 `json:"parent_id" validate:"required,gt=0"`
}

// FolderResponse is a folder with the caller's effective level on it.
type FolderResponse struct {
	catalog.FolderView
	Access models.AccessLevel `json:"access"`
}

// GetFolder returns a folder, its path and its children.
//
// Method: GET
// Path: /api/v1/folders/{id}
func (h *Handler) GetFolder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		WriteError(w, r, err)
		return
	}
	caller := auth.CallerFrom(r.Context())
	view, err := h.d.Catalog.Folder(id)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	if err := h.d.Catalog.Check(id, caller, models.AccessView); err != nil {
		WriteError(w, r, err)
		return
	}
	level, err := h.d.Catalog.Permissions().Resolve(id, caller)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	respondJSON(w, models.OK(FolderResponse{FolderView: view, Access: level}))
}

// CreateFolder creates a subfolder.
//
// Method: POST
// Path: /api/v1/folders
func (h *Handler) CreateFolder(w http.ResponseWriter, r *http.Request) {
	var req CreateFolderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteError(w, r, err)
		return
	}
	ctx := r.Context()
	if err := h.d.Catalog.Check(req.ParentID, auth.CallerFrom(ctx), models.AccessCreateFolder); err != nil {
		WriteError(w, r, err)
		return
	}
	f, err := h.d.Catalog.CreateFolder(ctx, req.ParentID, req.Name)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	h.d.Events.Publish(ctx, events.CatalogChanged, "")

	logging.Ctx(ctx).Info().Int64("folder_id", f.ID).Int64("parent_id", f.ParentID).Str("name", f.Name).Msg("Folder created")
	respondJSON(w, models.Result{Status: http.StatusCreated, Message: "Created", Data: f})
}

// MoveFolder validates a move and queues it. The caller needs DeleteFolder
// on the folder and CreateFolder on the destination.
//
// Method: POST
// Path: /api/v1/folders/{id}/move
func (h *Handler) MoveFolder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		WriteError(w, r, err)
		return
	}
	var req MoveFolderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteError(w, r, err)
		return
	}
	params := jobs.MoveParams{FolderID: id, ParentID: req.ParentID}
	if err := validation.Validate(&params); err != nil {
		WriteError(w, r, err)
		return
	}

	ctx := r.Context()
	caller := auth.CallerFrom(ctx)
	if err := h.d.Catalog.Check(id, caller, models.AccessDeleteFolder); err != nil {
		WriteError(w, r, err)
		return
	}
	if err := h.d.Catalog.Check(req.ParentID, caller, models.AccessCreateFolder); err != nil {
		WriteError(w, r, err)
		return
	}
	if err := h.d.Catalog.CheckMove(id, req.ParentID); err != nil {
		WriteError(w, r, err)
		return
	}

	sub, err := jobs.SubmitMove(ctx, h.d.Scheduler, params, caller.UserID)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	respondTask(w, sub)
}

// DeleteFolder queues the removal of a folder and its subtree.
//
// Method: DELETE
// Path: /api/v1/folders/{id}
func (h *Handler) DeleteFolder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		WriteError(w, r, err)
		return
	}
	params := jobs.DeleteParams{FolderID: id}
	if err := validation.Validate(&params); err != nil {
		WriteError(w, r, err)
		return
	}

	ctx := r.Context()
	caller := auth.CallerFrom(ctx)
	if _, err := h.d.Catalog.Folder(id); err != nil {
		WriteError(w, r, err)
		return
	}
	if err := h.d.Catalog.Check(id, caller, models.AccessDeleteFolder); err != nil {
		WriteError(w, r, err)
		return
	}

	sub, err := jobs.SubmitDelete(ctx, h.d.Scheduler, params, caller.UserID)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	respondTask(w, sub)
}
