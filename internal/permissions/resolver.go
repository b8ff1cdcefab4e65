// Lumen - Dynamic Image Generation Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lumen

// Package permissions computes a caller's access level on a folder.
//
// Records are inherited down the tree. Resolution walks from the folder to
// the root and stops at the first folder holding a record for any of the
// caller's groups; the result is the highest level among those records.
// Anonymous callers are evaluated as the public group only. A group with
// the file administration flag grants full access everywhere.
package permissions

import (
	"sync"

	"github.com/tomtom215/lumen/internal/folders"
	"github.com/tomtom215/lumen/internal/metrics"
	"github.com/tomtom215/lumen/internal/models"
)

// Resolver holds permission records and group flags in memory.
type Resolver struct {
	tree *folders.Tree

	mu      sync.RWMutex
	records map[int64]map[int64]models.AccessLevel // folder -> group -> level
	admins  map[int64]bool                         // groups with FileAdmin
}

// New creates an empty Resolver over tree.
func New(tree *folders.Tree) *Resolver {
	return &Resolver{
		tree:    tree,
		records: make(map[int64]map[int64]models.AccessLevel),
		admins:  make(map[int64]bool),
	}
}

// Load replaces all records and groups.
func (r *Resolver) Load(records []models.PermissionRecord, groups []models.Group) {
	recs := make(map[int64]map[int64]models.AccessLevel)
	for _, rec := range records {
		byGroup, ok := recs[rec.FolderID]
		if !ok {
			byGroup = make(map[int64]models.AccessLevel)
			recs[rec.FolderID] = byGroup
		}
		byGroup[rec.GroupID] = rec.Level
	}
	admins := make(map[int64]bool)
	for _, g := range groups {
		if g.FileAdmin {
			admins[g.ID] = true
		}
	}

	r.mu.Lock()
	r.records, r.admins = recs, admins
	r.mu.Unlock()
}

// Set stores or replaces one record.
func (r *Resolver) Set(rec models.PermissionRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	byGroup, ok := r.records[rec.FolderID]
	if !ok {
		byGroup = make(map[int64]models.AccessLevel)
		r.records[rec.FolderID] = byGroup
	}
	byGroup[rec.GroupID] = rec.Level
}

// Delete removes the record of group on folder. Inheritance from above
// applies again afterwards.
func (r *Resolver) Delete(folderID, groupID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if byGroup, ok := r.records[folderID]; ok {
		delete(byGroup, groupID)
		if len(byGroup) == 0 {
			delete(r.records, folderID)
		}
	}
}

// SetGroup updates the file administration flag of a group.
func (r *Resolver) SetGroup(g models.Group) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if g.FileAdmin {
		r.admins[g.ID] = true
	} else {
		delete(r.admins, g.ID)
	}
}

// ForgetFolders drops the records of removed folders.
func (r *Resolver) ForgetFolders(ids []int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		delete(r.records, id)
	}
}

// Records returns the explicit records on folderID.
func (r *Resolver) Records(folderID int64) []models.PermissionRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.PermissionRecord, 0, len(r.records[folderID]))
	for gid, lvl := range r.records[folderID] {
		out = append(out, models.PermissionRecord{FolderID: folderID, GroupID: gid, Level: lvl})
	}
	return out
}

// Resolve returns the caller's access level on folderID. The cost is
// linear in the depth of the folder.
func (r *Resolver) Resolve(folderID int64, caller models.Caller) (models.AccessLevel, error) {
	chain, err := r.tree.Ancestors(folderID)
	if err != nil {
		return models.AccessNone, err
	}

	groups := caller.GroupIDs
	if caller.Anonymous {
		groups = []int64{models.PublicGroupID}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, g := range groups {
		if r.admins[g] {
			return models.AccessFull, nil
		}
	}

	for _, fid := range chain {
		byGroup, ok := r.records[fid]
		if !ok {
			continue
		}
		best, found := models.AccessNone, false
		for _, g := range groups {
			if lvl, ok := byGroup[g]; ok {
				found = true
				if lvl > best {
					best = lvl
				}
			}
		}
		if found {
			return best, nil
		}
	}
	return models.AccessNone, nil
}

// Check returns nil when the caller holds at least need on folderID.
// Anonymous callers are told to authenticate; others are forbidden.
func (r *Resolver) Check(folderID int64, caller models.Caller, need models.AccessLevel) error {
	lvl, err := r.Resolve(folderID, caller)
	if err != nil {
		return err
	}
	allowed := lvl.Allows(need)
	metrics.RecordPermissionCheck(allowed)
	if allowed {
		return nil
	}
	if caller.Anonymous {
		return models.AuthRequired("authentication required for " + need.String() + " access")
	}
	return models.Forbidden("%s access required on folder %d", need, folderID)
}
