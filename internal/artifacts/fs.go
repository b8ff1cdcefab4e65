// Lumen - Dynamic Image Generation Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lumen

package artifacts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tomtom215/lumen/internal/models"
)

// FSStore keeps artifacts in a local directory. The key prefix becomes a
// subdirectory.
type FSStore struct {
	dir    string
	prefix string
}

// NewFSStore creates the directory if needed.
func NewFSStore(dir, prefix string) (*FSStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("artifact directory is required")
	}
	s := &FSStore{dir: dir, prefix: prefix}
	if err := os.MkdirAll(s.base(), 0o750); err != nil {
		return nil, fmt.Errorf("create artifact directory: %w", err)
	}
	return s, nil
}

func (s *FSStore) Backend() string { return "fs" }

func (s *FSStore) base() string {
	return filepath.Join(s.dir, filepath.FromSlash(strings.TrimSuffix(s.prefix, "/")))
}

// file maps a key to its path, rejecting keys outside the prefix.
func (s *FSStore) file(key string) (string, error) {
	if _, _, ok := ParseKey(s.prefix, key); !ok {
		return "", models.NotFound("artifact", key)
	}
	rel := strings.TrimPrefix(key, s.prefix)
	if strings.ContainsAny(rel, "/\\") {
		return "", models.NotFound("artifact", key)
	}
	return filepath.Join(s.base(), rel), nil
}

func (s *FSStore) Put(_ context.Context, name string, r io.Reader, expires time.Time) (Object, error) {
	if err := validName(name); err != nil {
		return Object{}, err
	}
	key := Key(s.prefix, name, expires)
	dst, _ := s.file(key)

	tmp, err := os.CreateTemp(s.base(), ".upload-*")
	if err != nil {
		return Object{}, fmt.Errorf("create artifact: %w", err)
	}
	n, err := io.Copy(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		return Object{}, fmt.Errorf("write artifact %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		_ = os.Remove(tmp.Name())
		return Object{}, fmt.Errorf("publish artifact %s: %w", key, err)
	}
	return Object{Key: key, Size: n, Expires: expires.Truncate(time.Second).UTC()}, nil
}

func (s *FSStore) Open(_ context.Context, key string) (io.ReadCloser, Object, error) {
	p, err := s.file(key)
	if err != nil {
		return nil, Object{}, err
	}
	f, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, Object{}, models.NotFound("artifact", key)
	}
	if err != nil {
		return nil, Object{}, fmt.Errorf("open artifact %s: %w", key, err)
	}
	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, Object{}, fmt.Errorf("stat artifact %s: %w", key, err)
	}
	exp, _, _ := ParseKey(s.prefix, key)
	return f, Object{Key: key, Size: fi.Size(), Expires: exp}, nil
}

func (s *FSStore) Delete(_ context.Context, key string) error {
	p, err := s.file(key)
	if err != nil {
		return err
	}
	err = os.Remove(p)
	if errors.Is(err, fs.ErrNotExist) {
		return models.NotFound("artifact", key)
	}
	if err != nil {
		return fmt.Errorf("delete artifact %s: %w", key, err)
	}
	return nil
}

func (s *FSStore) List(_ context.Context) ([]Object, error) {
	entries, err := os.ReadDir(s.base())
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	var out []Object
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		key := s.prefix + e.Name()
		exp, _, ok := ParseKey(s.prefix, key)
		if !ok {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, Object{Key: key, Size: fi.Size(), Expires: exp})
	}
	return out, nil
}
