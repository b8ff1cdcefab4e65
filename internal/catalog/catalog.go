// Lumen - Dynamic Image Generation Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lumen

// Package catalog keeps the folder tree, the permission records, the
// metadata store and the originals directory consistent with each other.
//
// The in-memory tree and permission resolver are caches of the metadata
// store. Every mutation writes the store first, then the disk, then the
// tree, all while holding the tree's exclusive lock, so a reader resolving
// a path or a permission sees the folder either before or after the change.
package catalog

import (
	"context"
	"fmt"
	"path"

	"github.com/rs/zerolog"

	"github.com/tomtom215/lumen/internal/folders"
	"github.com/tomtom215/lumen/internal/logging"
	"github.com/tomtom215/lumen/internal/metadata"
	"github.com/tomtom215/lumen/internal/models"
	"github.com/tomtom215/lumen/internal/permissions"
	"github.com/tomtom215/lumen/internal/source"
)

// Dirs is the part of source.Store the catalog mutates.
type Dirs interface {
	MakeDir(ctx context.Context, dir string) error
	MoveDir(ctx context.Context, from, to string) error
	RemoveDir(ctx context.Context, dir string) error
}

// Catalog is the folder and permission service.
type Catalog struct {
	meta   metadata.Store
	dirs   Dirs
	tree   *folders.Tree
	perms  *permissions.Resolver
	logger zerolog.Logger
}

// New creates a catalog. Call Load before use.
func New(meta metadata.Store, dirs Dirs) *Catalog {
	tree := folders.NewTree()
	return &Catalog{
		meta:   meta,
		dirs:   dirs,
		tree:   tree,
		perms:  permissions.New(tree),
		logger: logging.WithComponent("catalog"),
	}
}

// Load rebuilds the tree and the permission records from the store.
func (c *Catalog) Load(ctx context.Context) error {
	rows, err := c.meta.Folders(ctx)
	if err != nil {
		return fmt.Errorf("load folders: %w", err)
	}
	groups, err := c.meta.Groups(ctx)
	if err != nil {
		return fmt.Errorf("load groups: %w", err)
	}
	recs, err := c.meta.Permissions(ctx)
	if err != nil {
		return fmt.Errorf("load permissions: %w", err)
	}
	loaded, err := folders.Load(rows)
	if err != nil {
		return fmt.Errorf("build folder tree: %w", err)
	}

	// Swap contents in place so the resolver keeps its tree reference.
	err = c.tree.Edit(func(e *folders.Editor) error {
		e.Replace(loaded)
		return nil
	})
	if err != nil {
		return err
	}
	c.perms.Load(recs, groups)
	c.logger.Info().Int("folders", len(rows)).Int("groups", len(groups)).Int("permissions", len(recs)).
		Msg("Catalog loaded")
	return nil
}

// Tree returns the folder tree.
func (c *Catalog) Tree() *folders.Tree { return c.tree }

// Permissions returns the permission resolver.
func (c *Catalog) Permissions() *permissions.Resolver { return c.perms }

// Metadata returns the underlying store.
func (c *Catalog) Metadata() metadata.Store { return c.meta }

// FolderOf returns the folder governing the original at src: the deepest
// registered folder on the file's directory path. Directories that exist
// only on disk inherit from their nearest registered ancestor.
func (c *Catalog) FolderOf(src string) (int64, error) {
	clean, err := source.Clean(src)
	if err != nil {
		return 0, err
	}
	dir := source.FolderOf(clean)
	for {
		if id, ok := c.tree.Lookup(dir); ok {
			return id, nil
		}
		if dir == "" {
			return models.RootFolderID, nil
		}
		dir = source.FolderOf(dir)
	}
}

// CheckPath checks the caller's access on the folder holding src.
func (c *Catalog) CheckPath(src string, caller models.Caller, need models.AccessLevel) error {
	id, err := c.FolderOf(src)
	if err != nil {
		return err
	}
	return c.perms.Check(id, caller, need)
}

// Check checks the caller's access on folderID.
func (c *Catalog) Check(folderID int64, caller models.Caller, need models.AccessLevel) error {
	return c.perms.Check(folderID, caller, need)
}

// FolderView is a folder with its path.
type FolderView struct {
	models.Folder
	Path     string          `json:"path"`
	Children []models.Folder `json:"children"`
}

// Folder returns the folder with its path and direct children.
func (c *Catalog) Folder(id int64) (FolderView, error) {
	f, ok := c.tree.Get(id)
	if !ok {
		return FolderView{}, models.NotFound("folder", id)
	}
	p, err := c.tree.Path(id)
	if err != nil {
		return FolderView{}, err
	}
	kids, err := c.tree.Children(id)
	if err != nil {
		return FolderView{}, err
	}
	return FolderView{Folder: f, Path: p, Children: kids}, nil
}

// CreateFolder creates a subfolder of parentID in the store, on disk and
// in the tree.
func (c *Catalog) CreateFolder(ctx context.Context, parentID int64, name string) (models.Folder, error) {
	if err := folders.ValidName(name); err != nil {
		return models.Folder{}, err
	}
	var created models.Folder
	err := c.tree.Edit(func(e *folders.Editor) error {
		if _, ok := e.Get(parentID); !ok {
			return models.NotFound("folder", parentID)
		}
		parentPath, err := e.Path(parentID)
		if err != nil {
			return err
		}
		f, err := c.meta.CreateFolder(ctx, parentID, name)
		if err != nil {
			return err
		}
		if err := c.dirs.MakeDir(ctx, path.Join(parentPath, name)); err != nil {
			if rerr := c.meta.DeleteFolders(ctx, []int64{f.ID}); rerr != nil {
				c.logger.Error().Err(rerr).Int64("folder_id", f.ID).Msg("Failed to roll back folder creation")
			}
			return err
		}
		if err := e.Insert(f); err != nil {
			return err
		}
		created = f
		return nil
	})
	return created, err
}

// MoveResult describes a completed move.
type MoveResult struct {
	FolderID int64  `json:"folder_id"`
	From     string `json:"from"`
	To       string `json:"to"`
}

// CheckMove validates a move without performing it.
func (c *Catalog) CheckMove(id, parentID int64) error {
	return c.tree.Edit(func(e *folders.Editor) error { return e.CheckMove(id, parentID) })
}

// MoveFolder re-parents id under parentID. If the disk move fails the
// store change is rolled back and the tree is left untouched.
func (c *Catalog) MoveFolder(ctx context.Context, id, parentID int64) (MoveResult, error) {
	var res MoveResult
	err := c.tree.Edit(func(e *folders.Editor) error {
		if err := e.CheckMove(id, parentID); err != nil {
			return err
		}
		f, _ := e.Get(id)
		if f.ParentID == parentID {
			p, _ := e.Path(id)
			res = MoveResult{FolderID: id, From: p, To: p}
			return nil
		}
		from, err := e.Path(id)
		if err != nil {
			return err
		}
		parentPath, err := e.Path(parentID)
		if err != nil {
			return err
		}
		to := path.Join(parentPath, f.Name)

		if err := c.meta.MoveFolder(ctx, id, parentID); err != nil {
			return err
		}
		if err := c.dirs.MoveDir(ctx, from, to); err != nil {
			if rerr := c.meta.MoveFolder(context.WithoutCancel(ctx), id, f.ParentID); rerr != nil {
				c.logger.Error().Err(rerr).Int64("folder_id", id).Msg("Failed to roll back folder move")
			}
			return err
		}
		if err := e.Move(id, parentID); err != nil {
			return err
		}
		res = MoveResult{FolderID: id, From: from, To: to}
		return nil
	})
	if err == nil {
		logging.Ctx(ctx).Info().Int64("folder_id", id).Str("from", res.From).Str("to", res.To).Msg("Folder moved")
	}
	return res, err
}

// DeleteResult describes a completed delete.
type DeleteResult struct {
	FolderID int64   `json:"folder_id"`
	Path     string  `json:"path"`
	Removed  []int64 `json:"removed"`
}

// DeleteFolder removes id, its subtree, their permission records and the
// directory on disk.
func (c *Catalog) DeleteFolder(ctx context.Context, id int64) (DeleteResult, error) {
	var res DeleteResult
	err := c.tree.Edit(func(e *folders.Editor) error {
		if id == models.RootFolderID {
			return models.InvalidParameter("folder_id", "the root folder cannot be deleted")
		}
		ids, err := e.Subtree(id)
		if err != nil {
			return err
		}
		p, err := e.Path(id)
		if err != nil {
			return err
		}
		if err := c.meta.DeleteFolders(ctx, ids); err != nil {
			return err
		}
		if _, err := e.Remove(id); err != nil {
			return err
		}
		c.perms.ForgetFolders(ids)
		res = DeleteResult{FolderID: id, Path: p, Removed: ids}

		// Metadata is authoritative; a failed disk removal leaves orphaned
		// files but no folder that points at them.
		if err := c.dirs.RemoveDir(ctx, p); err != nil {
			return fmt.Errorf("folder %d deleted but its directory remains: %w", id, err)
		}
		return nil
	})
	if err == nil {
		logging.Ctx(ctx).Info().Int64("folder_id", id).Str("path", res.Path).Int("removed", len(res.Removed)).
			Msg("Folder deleted")
	}
	return res, err
}

// SetPermission stores rec and applies it.
func (c *Catalog) SetPermission(ctx context.Context, rec models.PermissionRecord) error {
	if _, ok := c.tree.Get(rec.FolderID); !ok {
		return models.NotFound("folder", rec.FolderID)
	}
	if err := c.meta.SetPermission(ctx, rec); err != nil {
		return err
	}
	c.perms.Set(rec)
	return nil
}

// DeletePermission removes the record for (folderID, groupID).
func (c *Catalog) DeletePermission(ctx context.Context, folderID, groupID int64) error {
	if err := c.meta.DeletePermission(ctx, folderID, groupID); err != nil {
		return err
	}
	c.perms.Delete(folderID, groupID)
	return nil
}

// PutGroup stores g and applies its file administration flag.
func (c *Catalog) PutGroup(ctx context.Context, g models.Group) (models.Group, error) {
	out, err := c.meta.PutGroup(ctx, g)
	if err != nil {
		return models.Group{}, err
	}
	c.perms.SetGroup(out)
	return out, nil
}
