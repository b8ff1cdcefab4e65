// Lumen - Dynamic Image Generation Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lumen

// Package metadata persists templates, groups, folders and permission
// records.
//
// Two implementations are provided: MemoryStore for a single process and
// tests, and PostgresStore for deployments where several server processes
// share the same metadata. Both satisfy resolver.TemplateSource.
package metadata

import (
	"context"

	"github.com/tomtom215/lumen/internal/models"
)

// TemplateStore persists named templates.
type TemplateStore interface {
	// Template returns the named template or a NotFound error.
	Template(ctx context.Context, name string) (*models.Template, error)

	// DefaultTemplate returns the system default, or nil when none is set.
	DefaultTemplate(ctx context.Context) (*models.Template, error)

	ListTemplates(ctx context.Context) ([]*models.Template, error)

	// PutTemplate creates or replaces the template with t.Name. When
	// t.IsDefault is set any previous default loses the flag.
	PutTemplate(ctx context.Context, t *models.Template) (*models.Template, error)

	DeleteTemplate(ctx context.Context, name string) error
}

// FolderStore persists the folder hierarchy. The root row always exists.
type FolderStore interface {
	Folders(ctx context.Context) ([]models.Folder, error)
	CreateFolder(ctx context.Context, parentID int64, name string) (models.Folder, error)
	MoveFolder(ctx context.Context, id, parentID int64) error

	// DeleteFolders removes every id in one operation. Callers pass a
	// whole subtree.
	DeleteFolders(ctx context.Context, ids []int64) error
}

// AccessStore persists groups and permission records.
type AccessStore interface {
	Groups(ctx context.Context) ([]models.Group, error)
	PutGroup(ctx context.Context, g models.Group) (models.Group, error)
	Permissions(ctx context.Context) ([]models.PermissionRecord, error)

	// SetPermission upserts the record for (FolderID, GroupID).
	SetPermission(ctx context.Context, rec models.PermissionRecord) error
	DeletePermission(ctx context.Context, folderID, groupID int64) error
}

// Store is the complete metadata store.
type Store interface {
	TemplateStore
	FolderStore
	AccessStore
}
