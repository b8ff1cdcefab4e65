// Lumen - Dynamic Image Generation Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lumen

package jobs

import (
	"context"

	"github.com/tomtom215/lumen/internal/events"
	"github.com/tomtom215/lumen/internal/models"
	"github.com/tomtom215/lumen/internal/tasks"
)

// MoveParams are the params of folder.move.
type MoveParams struct {
	FolderID int64 `json:"folder_id" validate:"required,gt=1"`
	ParentID int64 `json:"parent_id" validate:"required,gt=0"`
}

// DeleteParams are the params of folder.delete.
type DeleteParams struct {
	FolderID int64 `json:"folder_id" validate:"required,gt=1"`
}

func (r *Runner) moveFolder(ctx context.Context, task *models.Task) (any, error) {
	var p MoveParams
	if err := tasks.DecodeParams(task, &p); err != nil {
		return nil, err
	}
	res, err := r.d.Catalog.MoveFolder(ctx, p.FolderID, p.ParentID)
	if err != nil {
		return nil, err
	}
	r.d.Events.Publish(ctx, events.CatalogChanged, "")
	return res, nil
}

func (r *Runner) deleteFolder(ctx context.Context, task *models.Task) (any, error) {
	var p DeleteParams
	if err := tasks.DecodeParams(task, &p); err != nil {
		return nil, err
	}
	res, err := r.d.Catalog.DeleteFolder(ctx, p.FolderID)
	if err != nil {
		return nil, err
	}
	r.d.Events.Publish(ctx, events.CatalogChanged, "")
	return res, nil
}
