// Lumen - Dynamic Image Generation Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lumen

// Package jobs defines the background task functions Lumen runs and the
// lock ids that keep them from overlapping.
//
//	folder.move    {folder_id, parent_id}  reject    folder:<id>
//	folder.delete  {folder_id}             reject    folder:<id>
//	zip.export     {paths, name}           coalesce  zip:<user>:<digest>
//	stats.purge    {older_than_days}       coalesce  stats.purge
//
// Submit helpers build the lock id from the params, so callers never
// spell lock ids by hand.
package jobs

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/tomtom215/lumen/internal/artifacts"
	"github.com/tomtom215/lumen/internal/catalog"
	"github.com/tomtom215/lumen/internal/events"
	"github.com/tomtom215/lumen/internal/source"
	"github.com/tomtom215/lumen/internal/stats"
	"github.com/tomtom215/lumen/internal/tasks"
)

// Task function names.
const (
	FolderMove   = "folder.move"
	FolderDelete = "folder.delete"
	ZipExport    = "zip.export"
	StatsPurge   = "stats.purge"
)

// Deps are the components job handlers act on. Artifacts and Stats may
// be nil, in which case the matching functions are not registered.
type Deps struct {
	Catalog   *catalog.Catalog
	Sources   *source.Store
	Artifacts artifacts.Store
	Stats     *stats.Recorder
	Events    *events.Publisher

	ExportTTL        time.Duration
	FileOpsPerSecond float64
	Now              func() time.Time
}

// Runner holds the dependencies shared by every handler.
type Runner struct {
	d       Deps
	limiter *rate.Limiter
}

// Register adds every available job function to reg.
func Register(reg *tasks.Registry, d Deps) *Runner {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.ExportTTL <= 0 {
		d.ExportTTL = 24 * time.Hour
	}
	r := &Runner{d: d, limiter: rate.NewLimiter(rate.Inf, 1)}
	if d.FileOpsPerSecond > 0 {
		r.limiter = rate.NewLimiter(rate.Limit(d.FileOpsPerSecond), 1)
	}

	if d.Catalog != nil {
		reg.Register(tasks.Definition{Name: FolderMove, Lock: tasks.LockReject, Handler: r.moveFolder})
		reg.Register(tasks.Definition{Name: FolderDelete, Lock: tasks.LockReject, Handler: r.deleteFolder})
	}
	if d.Artifacts != nil && d.Sources != nil {
		reg.Register(tasks.Definition{Name: ZipExport, Lock: tasks.LockCoalesce, Handler: r.exportZip})
	}
	if d.Stats != nil {
		reg.Register(tasks.Definition{Name: StatsPurge, Lock: tasks.LockCoalesce, Handler: r.purgeStats})
	}
	return r
}

// folderLock is shared by move and delete so the two cannot race on one
// folder.
func folderLock(id int64) string {
	return fmt.Sprintf("folder:%d", id)
}

// SubmitMove queues a folder move.
func SubmitMove(ctx context.Context, s *tasks.Scheduler, p MoveParams, userID *int64) (tasks.Submitted, error) {
	return s.Submit(ctx, tasks.Submit{
		Func:     FolderMove,
		Params:   p,
		LockID:   folderLock(p.FolderID),
		Priority: 10,
		UserID:   userID,
	})
}

// SubmitDelete queues a folder delete.
func SubmitDelete(ctx context.Context, s *tasks.Scheduler, p DeleteParams, userID *int64) (tasks.Submitted, error) {
	return s.Submit(ctx, tasks.Submit{
		Func:     FolderDelete,
		Params:   p,
		LockID:   folderLock(p.FolderID),
		Priority: 10,
		UserID:   userID,
	})
}

// SubmitExport queues a zip export. Identical requests from one user share
// one task; other users get their own.
func SubmitExport(ctx context.Context, s *tasks.Scheduler, p ExportParams, userID *int64) (tasks.Submitted, error) {
	p, err := p.normalize()
	if err != nil {
		return tasks.Submitted{}, err
	}
	return s.Submit(ctx, tasks.Submit{
		Func:   ZipExport,
		Params: p,
		LockID: exportLock(userID, p),
		UserID: userID,
	})
}

// exportLock scopes the export lock to the submitter so a coalesced
// submission always returns a task the caller may read.
func exportLock(userID *int64, p ExportParams) string {
	owner := "anon"
	if userID != nil {
		owner = strconv.FormatInt(*userID, 10)
	}
	return "zip:" + owner + ":" + p.Digest()
}

// PurgeSubmission is the stats.purge submission used by both the API and
// the housekeeper.
func PurgeSubmission(olderThanDays int, userID *int64) tasks.Submit {
	return tasks.Submit{
		Func:     StatsPurge,
		Params:   PurgeParams{OlderThanDays: olderThanDays},
		LockID:   StatsPurge,
		Priority: -10,
		UserID:   userID,
	}
}
