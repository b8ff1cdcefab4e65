// Lumen - Dynamic Image Generation Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lumen

package jobs

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/goccy/go-json"
	"golang.org/x/sync/errgroup"

	"github.com/tomtom215/lumen/internal/artifacts"
	"github.com/tomtom215/lumen/internal/logging"
	"github.com/tomtom215/lumen/internal/models"
	"github.com/tomtom215/lumen/internal/source"
	"github.com/tomtom215/lumen/internal/tasks"
)

const defaultExportName = "export.zip"

// ExportParams are the params of zip.export.
type ExportParams struct {
	Paths []string `json:"paths" validate:"required,min=1,max=1000,dive,required"`
	Name  string   `json:"name,omitempty" validate:"omitempty,max=100"`
}

// normalize cleans, dedupes and sorts the paths so equal requests share a
// digest.
func (p ExportParams) normalize() (ExportParams, error) {
	if len(p.Paths) == 0 {
		return p, models.InvalidParameter("paths", "at least one path is required")
	}
	out := ExportParams{Paths: make([]string, 0, len(p.Paths)), Name: p.Name}
	for _, raw := range p.Paths {
		clean, err := source.Clean(raw)
		if err != nil {
			return p, models.InvalidParameter("paths", "invalid path %q", raw)
		}
		out.Paths = append(out.Paths, clean)
	}
	slices.Sort(out.Paths)
	out.Paths = slices.Compact(out.Paths)

	if out.Name == "" {
		out.Name = defaultExportName
	}
	if strings.ContainsAny(out.Name, "/\\") {
		return p, models.InvalidParameter("name", "must not contain path separators")
	}
	if !strings.HasSuffix(out.Name, ".zip") {
		out.Name += ".zip"
	}
	return out, nil
}

// Digest identifies the archive content.
func (p ExportParams) Digest() string {
	h := xxhash.New()
	for _, s := range p.Paths {
		_, _ = h.WriteString(s)
		_, _ = h.Write([]byte{0})
	}
	_, _ = h.WriteString(p.Name)
	return strconv.FormatUint(h.Sum64(), 16)
}

// artifactName makes the stored object unique per task; exports that share
// a name and finish in the same second must not replace each other.
func artifactName(taskID int64, name string) string {
	return strconv.FormatInt(taskID, 10) + "-" + name
}

// ExportResult is the data of a finished zip.export.
type ExportResult struct {
	Key       string    `json:"key"`
	Name      string    `json:"name"`
	Size      int64     `json:"size"`
	Files     int       `json:"files"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (r *Runner) exportZip(ctx context.Context, task *models.Task) (any, error) {
	var p ExportParams
	if err := tasks.DecodeParams(task, &p); err != nil {
		return nil, err
	}
	p, err := p.normalize()
	if err != nil {
		return nil, err
	}
	log := logging.Ctx(ctx)
	expires := r.d.Now().Add(r.d.ExportTTL)

	pr, pw := io.Pipe()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := r.writeZip(gctx, pw, p.Paths)
		pw.CloseWithError(err)
		return err
	})

	var obj artifacts.Object
	g.Go(func() error {
		var err error
		obj, err = r.d.Artifacts.Put(gctx, artifactName(task.ID, p.Name), pr, expires)
		pr.CloseWithError(err)
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	log.Info().Str("key", obj.Key).Int64("size", obj.Size).Int("files", len(p.Paths)).Msg("Export written")
	return ExportResult{Key: obj.Key, Name: p.Name, Size: obj.Size, Files: len(p.Paths), ExpiresAt: obj.Expires}, nil
}

func (r *Runner) writeZip(ctx context.Context, w io.Writer, paths []string) error {
	zw := zip.NewWriter(w)
	for _, p := range paths {
		if err := r.limiter.Wait(ctx); err != nil {
			return err
		}
		if err := addFile(ctx, zw, r.d.Sources, p); err != nil {
			return err
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finish archive: %w", err)
	}
	return nil
}

func addFile(ctx context.Context, zw *zip.Writer, src *source.Store, p string) error {
	f, info, err := src.Open(ctx, p)
	if err != nil {
		return err
	}
	defer f.Close()

	hdr := &zip.FileHeader{Name: info.Path, Method: zip.Deflate, Modified: info.ModTime}
	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return fmt.Errorf("add %s to archive: %w", p, err)
	}
	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("copy %s into archive: %w", p, err)
	}
	return nil
}

// ExportOf returns the artifact of a finished, successful export task.
func ExportOf(t *models.Task) (ExportResult, error) {
	if t.FuncName != ZipExport {
		return ExportResult{}, models.NotFound("export", t.ID)
	}
	if t.Status.Active() {
		return ExportResult{}, models.Conflict("export %d is still running", t.ID)
	}
	var res struct {
		Status int          `json:"status"`
		Data   ExportResult `json:"data"`
	}
	if err := json.Unmarshal(t.Result, &res); err != nil || res.Status != http.StatusOK {
		return ExportResult{}, models.NotFound("export artifact", t.ID)
	}
	return res.Data, nil
}

// DeleteExport removes the artifact of export task id. Only the submitter
// or an admin may delete it, and only once the task has finished.
func DeleteExport(ctx context.Context, s *tasks.Scheduler, store artifacts.Store, id int64, caller models.Caller) error {
	t, err := s.Poll(ctx, id)
	if err != nil {
		return err
	}
	if t.FuncName != ZipExport {
		return models.NotFound("export", id)
	}
	owner := t.UserID != nil && caller.UserID != nil && *t.UserID == *caller.UserID
	if !owner && !caller.HasRole(models.RoleAdmin) {
		return models.Forbidden("export %d belongs to another user", id)
	}
	res, err := ExportOf(t)
	if err != nil {
		return err
	}
	if err := store.Delete(ctx, res.Key); err != nil {
		return err
	}
	logging.Ctx(ctx).Info().Int64("task_id", id).Str("key", res.Key).Msg("Export deleted")
	return nil
}
