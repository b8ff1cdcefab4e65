// Lumen - Dynamic Image Generation Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lumen

// Package source reads and manages original images on local disk.
//
// Paths are slash-separated and relative to the store root. The directory
// holding an original is the folder used for permission checks; the root
// directory is the root folder. Originals are never modified by image
// generation.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/tomtom215/lumen/internal/cachekey"
	"github.com/tomtom215/lumen/internal/models"
)

// Info describes one original on disk.
type Info struct {
	Path    string
	Size    int64
	ModTime time.Time
}

// Identity returns the cache identity of the original.
func (i Info) Identity() cachekey.SourceIdentity {
	return cachekey.SourceIdentity{Path: i.Path, Size: i.Size, ModTime: i.ModTime}
}

// Store manages originals below a root directory.
type Store struct {
	root string
}

// New creates the root directory if needed and returns a Store over it.
func New(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create originals directory %s: %w", root, err)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve originals directory %s: %w", root, err)
	}
	return &Store{root: abs}, nil
}

// Root returns the absolute root directory.
func (s *Store) Root() string { return s.root }

// Clean normalises a client-supplied path. Absolute paths, parent
// references and the empty path are rejected.
func Clean(p string) (string, error) {
	p = strings.ReplaceAll(p, "\\", "/")
	if p == "" || strings.HasPrefix(p, "/") {
		return "", models.InvalidParameter("src", "must be a relative file path")
	}
	clean := path.Clean(p)
	if clean == "." || !filepath.IsLocal(filepath.FromSlash(clean)) {
		return "", models.InvalidParameter("src", "must be a relative file path")
	}
	return clean, nil
}

// FolderOf returns the folder path holding p, or "" for the root folder.
func FolderOf(p string) string {
	dir := path.Dir(p)
	if dir == "." || dir == "/" {
		return ""
	}
	return dir
}

func (s *Store) full(p string) string {
	return filepath.Join(s.root, filepath.FromSlash(p))
}

// Stat returns the identity of the original at p.
func (s *Store) Stat(_ context.Context, p string) (Info, error) {
	clean, err := Clean(p)
	if err != nil {
		return Info{}, err
	}
	fi, err := os.Stat(s.full(clean))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Info{}, models.NotFound("source", clean)
		}
		return Info{}, fmt.Errorf("stat %s: %w", clean, err)
	}
	if fi.IsDir() {
		return Info{}, models.NotFound("source", clean)
	}
	return Info{Path: clean, Size: fi.Size(), ModTime: fi.ModTime().UTC()}, nil
}

// ReadFile returns the bytes of the original and its identity.
func (s *Store) ReadFile(ctx context.Context, p string) ([]byte, Info, error) {
	f, info, err := s.Open(ctx, p)
	if err != nil {
		return nil, Info{}, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, Info{}, fmt.Errorf("read %s: %w", info.Path, err)
	}
	return data, info, nil
}

// Open opens the original for streaming. The caller closes the file.
func (s *Store) Open(ctx context.Context, p string) (*os.File, Info, error) {
	info, err := s.Stat(ctx, p)
	if err != nil {
		return nil, Info{}, err
	}
	f, err := os.Open(s.full(info.Path))
	if err != nil {
		return nil, Info{}, fmt.Errorf("open %s: %w", info.Path, err)
	}
	return f, info, nil
}

// Save writes r to p through a temporary file, fsync and rename so a
// reader never sees a partial original.
func (s *Store) Save(ctx context.Context, p string, r io.Reader) (Info, error) {
	clean, err := Clean(p)
	if err != nil {
		return Info{}, err
	}
	full := s.full(clean)
	if err := os.MkdirAll(filepath.Dir(full), 0o750); err != nil {
		return Info{}, fmt.Errorf("create folder for %s: %w", clean, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(full), ".upload-*")
	if err != nil {
		return Info{}, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return Info{}, fmt.Errorf("write %s: %w", clean, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return Info{}, fmt.Errorf("fsync %s: %w", clean, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return Info{}, fmt.Errorf("close %s: %w", clean, err)
	}
	if err := os.Rename(tmpPath, full); err != nil {
		os.Remove(tmpPath)
		return Info{}, fmt.Errorf("rename %s: %w", clean, err)
	}
	return s.Stat(ctx, clean)
}

// List returns the originals directly inside folder dir, sorted by name.
func (s *Store) List(_ context.Context, dir string) ([]Info, error) {
	full := s.root
	if dir != "" {
		clean, err := Clean(dir)
		if err != nil {
			return nil, err
		}
		dir = clean
		full = s.full(clean)
	}
	entries, err := os.ReadDir(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, models.NotFound("folder", dir)
		}
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	out := make([]Info, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, Info{Path: path.Join(dir, e.Name()), Size: fi.Size(), ModTime: fi.ModTime().UTC()})
	}
	return out, nil
}

// MakeDir creates the folder directory dir.
func (s *Store) MakeDir(_ context.Context, dir string) error {
	clean, err := Clean(dir)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.full(clean), 0o750); err != nil {
		return fmt.Errorf("create folder %s: %w", clean, err)
	}
	return nil
}

// MoveDir renames folder directory from to to. An existing destination is
// a conflict. A missing source directory is not an error because folders
// may exist in metadata before anything is stored in them.
func (s *Store) MoveDir(_ context.Context, from, to string) error {
	src, err := Clean(from)
	if err != nil {
		return err
	}
	dst, err := Clean(to)
	if err != nil {
		return err
	}
	if _, err := os.Stat(s.full(dst)); err == nil {
		return models.Conflict("destination %s already exists", dst)
	}
	if _, err := os.Stat(s.full(src)); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.full(dst)), 0o750); err != nil {
		return fmt.Errorf("create parent of %s: %w", dst, err)
	}
	if err := os.Rename(s.full(src), s.full(dst)); err != nil {
		return fmt.Errorf("move %s to %s: %w", src, dst, err)
	}
	return nil
}

// RemoveDir deletes folder directory dir and everything below it.
func (s *Store) RemoveDir(_ context.Context, dir string) error {
	clean, err := Clean(dir)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(s.full(clean)); err != nil {
		return fmt.Errorf("remove folder %s: %w", clean, err)
	}
	return nil
}
