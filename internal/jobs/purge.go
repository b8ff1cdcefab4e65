// Lumen - Dynamic Image Generation Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lumen

package jobs

import (
	"context"

	"github.com/tomtom215/lumen/internal/models"
	"github.com/tomtom215/lumen/internal/tasks"
)

// PurgeParams are the params of stats.purge.
type PurgeParams struct {
	OlderThanDays int `json:"older_than_days" validate:"gte=0,lte=3650"`
}

// PurgeResult is the data of a finished stats.purge.
type PurgeResult struct {
	OlderThanDays int `json:"older_than_days"`
	Removed       int `json:"removed"`
}

func (r *Runner) purgeStats(ctx context.Context, task *models.Task) (any, error) {
	var p PurgeParams
	if err := tasks.DecodeParams(task, &p); err != nil {
		return nil, err
	}
	n, err := r.d.Stats.Purge(ctx, p.OlderThanDays)
	if err != nil {
		return nil, err
	}
	return PurgeResult{OlderThanDays: p.OlderThanDays, Removed: n}, nil
}
