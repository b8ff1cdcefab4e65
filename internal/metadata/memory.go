// Lumen - Dynamic Image Generation Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lumen

package metadata

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tomtom215/lumen/internal/models"
)

type permKey struct {
	folder int64
	group  int64
}

// MemoryStore keeps metadata in process memory.
type MemoryStore struct {
	mu sync.RWMutex

	templates  map[string]*models.Template
	templateID int64

	folders  map[int64]models.Folder
	folderID int64

	groups  map[int64]models.Group
	groupID int64

	perms map[permKey]models.AccessLevel

	now func() time.Time
}

// NewMemoryStore returns a store holding the root folder and the public
// group.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		templates: make(map[string]*models.Template),
		folders: map[int64]models.Folder{
			models.RootFolderID: {ID: models.RootFolderID},
		},
		folderID: models.RootFolderID,
		groups: map[int64]models.Group{
			models.PublicGroupID: {ID: models.PublicGroupID, Name: "public"},
		},
		groupID: models.PublicGroupID,
		perms:   make(map[permKey]models.AccessLevel),
		now:     time.Now,
	}
}

func (s *MemoryStore) Template(_ context.Context, name string) (*models.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.templates[name]
	if !ok {
		return nil, models.NotFound("template", name)
	}
	return t.Clone(), nil
}

func (s *MemoryStore) DefaultTemplate(_ context.Context) (*models.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, t := range s.templates {
		if t.IsDefault {
			return t.Clone(), nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) ListTemplates(_ context.Context) ([]*models.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.Template, 0, len(s.templates))
	for _, t := range s.templates {
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryStore) PutTemplate(_ context.Context, t *models.Template) (*models.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := t.Clone()
	if prev, ok := s.templates[c.Name]; ok {
		c.ID = prev.ID
	} else {
		s.templateID++
		c.ID = s.templateID
	}
	if c.IsDefault {
		for _, other := range s.templates {
			other.IsDefault = false
		}
	}
	c.UpdatedAt = s.now().UTC()
	s.templates[c.Name] = c
	return c.Clone(), nil
}

func (s *MemoryStore) DeleteTemplate(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.templates[name]; !ok {
		return models.NotFound("template", name)
	}
	delete(s.templates, name)
	return nil
}

func (s *MemoryStore) Folders(_ context.Context) ([]models.Folder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Folder, 0, len(s.folders))
	for _, f := range s.folders {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) nameTaken(parentID int64, name string, except int64) bool {
	for _, f := range s.folders {
		if f.ID != except && f.ID != models.RootFolderID && f.ParentID == parentID && f.Name == name {
			return true
		}
	}
	return false
}

func (s *MemoryStore) CreateFolder(_ context.Context, parentID int64, name string) (models.Folder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.folders[parentID]; !ok {
		return models.Folder{}, models.NotFound("folder", parentID)
	}
	if s.nameTaken(parentID, name, 0) {
		return models.Folder{}, models.Conflict("folder %q already exists", name)
	}
	s.folderID++
	f := models.Folder{ID: s.folderID, ParentID: parentID, Name: name}
	s.folders[f.ID] = f
	return f, nil
}

func (s *MemoryStore) MoveFolder(_ context.Context, id, parentID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.folders[id]
	if !ok {
		return models.NotFound("folder", id)
	}
	if _, ok := s.folders[parentID]; !ok {
		return models.NotFound("folder", parentID)
	}
	if s.nameTaken(parentID, f.Name, id) {
		return models.Conflict("folder %q already exists in the destination", f.Name)
	}
	f.ParentID = parentID
	s.folders[id] = f
	return nil
}

func (s *MemoryStore) DeleteFolders(_ context.Context, ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		if id == models.RootFolderID {
			return models.InvalidParameter("folder_id", "the root folder cannot be deleted")
		}
	}
	for _, id := range ids {
		delete(s.folders, id)
		for k := range s.perms {
			if k.folder == id {
				delete(s.perms, k)
			}
		}
	}
	return nil
}

func (s *MemoryStore) Groups(_ context.Context) ([]models.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Group, 0, len(s.groups))
	for _, g := range s.groups {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) PutGroup(_ context.Context, g models.Group) (models.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if g.ID == 0 {
		for _, existing := range s.groups {
			if existing.Name == g.Name {
				g.ID = existing.ID
				break
			}
		}
	}
	if g.ID == 0 {
		s.groupID++
		g.ID = s.groupID
	} else if g.ID > s.groupID {
		s.groupID = g.ID
	}
	s.groups[g.ID] = g
	return g, nil
}

func (s *MemoryStore) Permissions(_ context.Context) ([]models.PermissionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.PermissionRecord, 0, len(s.perms))
	for k, lvl := range s.perms {
		out = append(out, models.PermissionRecord{FolderID: k.folder, GroupID: k.group, Level: lvl})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FolderID != out[j].FolderID {
			return out[i].FolderID < out[j].FolderID
		}
		return out[i].GroupID < out[j].GroupID
	})
	return out, nil
}

func (s *MemoryStore) SetPermission(_ context.Context, rec models.PermissionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !rec.Level.Valid() {
		return models.InvalidParameter("level", "unknown access level %d", rec.Level)
	}
	if _, ok := s.folders[rec.FolderID]; !ok {
		return models.NotFound("folder", rec.FolderID)
	}
	if _, ok := s.groups[rec.GroupID]; !ok {
		return models.NotFound("group", rec.GroupID)
	}
	s.perms[permKey{rec.FolderID, rec.GroupID}] = rec.Level
	return nil
}

func (s *MemoryStore) DeletePermission(_ context.Context, folderID, groupID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := permKey{folderID, groupID}
	if _, ok := s.perms[k]; !ok {
		return models.NotFound("permission", fmt.Sprintf("%d:%d", folderID, groupID))
	}
	delete(s.perms, k)
	return nil
}
