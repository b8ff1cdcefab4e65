// Lumen - Dynamic Image Generation Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lumen

// Package folders holds the folder hierarchy as an arena of nodes keyed by
// integer id. Each node refers to its parent by id; there are no pointers
// between nodes, so the structure can be rebuilt from rows at any time.
//
// The tree is rooted and acyclic by construction: Insert requires an
// existing parent and Move rejects a destination inside the moved subtree.
// Reads take a shared lock. Edit runs a function under the exclusive lock
// so a move or delete and the matching disk change appear atomic to
// readers.
package folders

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/tomtom215/lumen/internal/models"
)

type node struct {
	folder   models.Folder
	children map[string]int64
}

// Tree is the in-memory folder arena.
type Tree struct {
	mu     sync.RWMutex
	nodes  map[int64]*node
	nextID int64
}

// NewTree returns a tree holding only the root.
func NewTree() *Tree {
	t := &Tree{nodes: make(map[int64]*node), nextID: models.RootFolderID + 1}
	t.nodes[models.RootFolderID] = &node{
		folder:   models.Folder{ID: models.RootFolderID},
		children: make(map[string]int64),
	}
	return t
}

// Load builds a tree from stored rows. Rows may come in any order. A row
// whose parent is missing, or that would close a cycle, is an error.
func Load(rows []models.Folder) (*Tree, error) {
	t := NewTree()
	pending := make(map[int64]models.Folder, len(rows))
	for _, f := range rows {
		if f.ID == models.RootFolderID {
			continue
		}
		pending[f.ID] = f
	}

	e := &Editor{t: t}
	for len(pending) > 0 {
		progressed := false
		ids := make([]int64, 0, len(pending))
		for id := range pending {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

		for _, id := range ids {
			f := pending[id]
			if _, ok := t.nodes[f.ParentID]; !ok {
				continue
			}
			if err := e.Insert(f); err != nil {
				return nil, err
			}
			delete(pending, id)
			progressed = true
		}
		if !progressed {
			return nil, fmt.Errorf("folders: %d rows have missing parents or form a cycle", len(pending))
		}
	}
	return t, nil
}

// Get returns the folder with id.
func (t *Tree) Get(id int64) (models.Folder, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.nodes[id]
	if !ok {
		return models.Folder{}, false
	}
	return n.folder, true
}

// Ancestors returns id followed by each parent up to and including the root.
func (t *Tree) Ancestors(id int64) ([]int64, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.ancestors(id)
}

func (t *Tree) ancestors(id int64) ([]int64, error) {
	var out []int64
	for cur := id; cur != 0; {
		n, ok := t.nodes[cur]
		if !ok {
			return nil, models.NotFound("folder", id)
		}
		out = append(out, cur)
		cur = n.folder.ParentID
	}
	return out, nil
}

// Path returns the slash-separated path of id. The root's path is "".
func (t *Tree) Path(id int64) (string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.path(id)
}

func (t *Tree) path(id int64) (string, error) {
	chain, err := t.ancestors(id)
	if err != nil {
		return "", err
	}
	parts := make([]string, 0, len(chain))
	for i := len(chain) - 2; i >= 0; i-- {
		parts = append(parts, t.nodes[chain[i]].folder.Name)
	}
	return strings.Join(parts, "/"), nil
}

// Lookup returns the id of the folder at path. "" is the root.
func (t *Tree) Lookup(path string) (int64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	cur := models.RootFolderID
	if path == "" {
		return cur, true
	}
	for _, part := range strings.Split(path, "/") {
		next, ok := t.nodes[cur].children[part]
		if !ok {
			return 0, false
		}
		cur = next
	}
	return cur, true
}

// Children returns the direct subfolders of id sorted by name.
func (t *Tree) Children(id int64) ([]models.Folder, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.nodes[id]
	if !ok {
		return nil, models.NotFound("folder", id)
	}
	out := make([]models.Folder, 0, len(n.children))
	for _, cid := range n.children {
		out = append(out, t.nodes[cid].folder)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// IsDescendant reports whether id is ancestor or lies below it.
func (t *Tree) IsDescendant(id, ancestor int64) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.isDescendant(id, ancestor)
}

func (t *Tree) isDescendant(id, ancestor int64) bool {
	for cur := id; cur != 0; {
		if cur == ancestor {
			return true
		}
		n, ok := t.nodes[cur]
		if !ok {
			return false
		}
		cur = n.folder.ParentID
	}
	return false
}

// Subtree returns id and every folder below it, parents before children.
func (t *Tree) Subtree(id int64) ([]int64, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.subtree(id)
}

func (t *Tree) subtree(id int64) ([]int64, error) {
	if _, ok := t.nodes[id]; !ok {
		return nil, models.NotFound("folder", id)
	}
	out := []int64{id}
	for i := 0; i < len(out); i++ {
		for _, cid := range t.nodes[out[i]].children {
			out = append(out, cid)
		}
	}
	return out, nil
}

// Len returns the number of folders including the root.
func (t *Tree) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.nodes)
}

// Create adds a folder under parentID with a tree-assigned id.
func (t *Tree) Create(parentID int64, name string) (models.Folder, error) {
	var f models.Folder
	err := t.Edit(func(e *Editor) error {
		var err error
		f, err = e.Create(parentID, name)
		return err
	})
	return f, err
}

// Move re-parents id under newParent.
func (t *Tree) Move(id, newParent int64) error {
	return t.Edit(func(e *Editor) error { return e.Move(id, newParent) })
}

// Remove deletes id and its subtree and returns the removed ids.
func (t *Tree) Remove(id int64) ([]int64, error) {
	var removed []int64
	err := t.Edit(func(e *Editor) error {
		var err error
		removed, err = e.Remove(id)
		return err
	})
	return removed, err
}

// Edit runs fn with exclusive access to the tree.
func (t *Tree) Edit(fn func(e *Editor) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return fn(&Editor{t: t})
}

// ValidName reports whether name can be used for a folder.
func ValidName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return models.InvalidParameter("name", "folder name %q is not allowed", name)
	case strings.ContainsAny(name, "/\\\x00"):
		return models.InvalidParameter("name", "folder name must not contain path separators")
	case len(name) > 255:
		return models.InvalidParameter("name", "folder name is longer than 255 bytes")
	}
	return nil
}
