// Lumen - Dynamic Image Generation Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lumen

package folders

import (
	"github.com/tomtom215/lumen/internal/models"
)

// Editor mutates a tree while Edit holds its exclusive lock. It must not
// be retained after the Edit callback returns.
type Editor struct {
	t *Tree
}

// Get returns the folder with id.
func (e *Editor) Get(id int64) (models.Folder, bool) {
	n, ok := e.t.nodes[id]
	if !ok {
		return models.Folder{}, false
	}
	return n.folder, true
}

// Path returns the path of id.
func (e *Editor) Path(id int64) (string, error) { return e.t.path(id) }

// Subtree returns id and its descendants.
func (e *Editor) Subtree(id int64) ([]int64, error) { return e.t.subtree(id) }

// Insert adds a folder with a caller-assigned id, such as a database key.
func (e *Editor) Insert(f models.Folder) error {
	if err := ValidName(f.Name); err != nil {
		return err
	}
	if _, exists := e.t.nodes[f.ID]; exists {
		return models.Conflict("folder %d already exists", f.ID)
	}
	parent, ok := e.t.nodes[f.ParentID]
	if !ok {
		return models.NotFound("folder", f.ParentID)
	}
	if _, clash := parent.children[f.Name]; clash {
		return models.Conflict("folder %q already exists", f.Name)
	}
	e.t.nodes[f.ID] = &node{folder: f, children: make(map[string]int64)}
	parent.children[f.Name] = f.ID
	if f.ID >= e.t.nextID {
		e.t.nextID = f.ID + 1
	}
	return nil
}

// Create adds a folder with the next free id.
func (e *Editor) Create(parentID int64, name string) (models.Folder, error) {
	f := models.Folder{ID: e.t.nextID, ParentID: parentID, Name: name}
	if err := e.Insert(f); err != nil {
		return models.Folder{}, err
	}
	return f, nil
}

// CheckMove validates moving id under newParent without changing anything.
func (e *Editor) CheckMove(id, newParent int64) error {
	if id == models.RootFolderID {
		return models.InvalidParameter("folder_id", "the root folder cannot be moved")
	}
	n, ok := e.t.nodes[id]
	if !ok {
		return models.NotFound("folder", id)
	}
	dest, ok := e.t.nodes[newParent]
	if !ok {
		return models.NotFound("folder", newParent)
	}
	if e.t.isDescendant(newParent, id) {
		return models.InvalidParameter("parent_id", "cannot move a folder into itself or its own subfolder")
	}
	if other, clash := dest.children[n.folder.Name]; clash && other != id {
		return models.Conflict("folder %q already exists in the destination", n.folder.Name)
	}
	return nil
}

// Move re-parents id under newParent.
func (e *Editor) Move(id, newParent int64) error {
	if err := e.CheckMove(id, newParent); err != nil {
		return err
	}
	n := e.t.nodes[id]
	if n.folder.ParentID == newParent {
		return nil
	}
	delete(e.t.nodes[n.folder.ParentID].children, n.folder.Name)
	n.folder.ParentID = newParent
	e.t.nodes[newParent].children[n.folder.Name] = id
	return nil
}

// Rename changes the name of id within its parent.
func (e *Editor) Rename(id int64, name string) error {
	if id == models.RootFolderID {
		return models.InvalidParameter("folder_id", "the root folder cannot be renamed")
	}
	if err := ValidName(name); err != nil {
		return err
	}
	n, ok := e.t.nodes[id]
	if !ok {
		return models.NotFound("folder", id)
	}
	parent := e.t.nodes[n.folder.ParentID]
	if other, clash := parent.children[name]; clash && other != id {
		return models.Conflict("folder %q already exists", name)
	}
	delete(parent.children, n.folder.Name)
	n.folder.Name = name
	parent.children[name] = id
	return nil
}

// Remove deletes id and its subtree and returns the removed ids, parents first.
func (e *Editor) Remove(id int64) ([]int64, error) {
	if id == models.RootFolderID {
		return nil, models.InvalidParameter("folder_id", "the root folder cannot be deleted")
	}
	ids, err := e.t.subtree(id)
	if err != nil {
		return nil, err
	}
	n := e.t.nodes[id]
	delete(e.t.nodes[n.folder.ParentID].children, n.folder.Name)
	for _, rid := range ids {
		delete(e.t.nodes, rid)
	}
	return ids, nil
}

// Replace swaps the tree's contents for those of other. other must not be
// used afterwards.
func (e *Editor) Replace(other *Tree) {
	e.t.nodes = other.nodes
	e.t.nextID = other.nextID
}
