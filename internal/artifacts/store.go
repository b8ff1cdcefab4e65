// Lumen - Dynamic Image Generation Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lumen

// Package artifacts publishes generated files such as zip exports to a
// local directory, S3 or Google Cloud Storage.
//
// Every artifact has an expiry. The expiry is encoded in the object key
// (<prefix><unix-seconds>-<name>), so listing a bucket is enough to find
// what the housekeeper should remove and no backend needs object metadata.
package artifacts

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/tomtom215/lumen/internal/config"
	"github.com/tomtom215/lumen/internal/logging"
	"github.com/tomtom215/lumen/internal/models"
)

// Object describes a stored artifact.
type Object struct {
	Key     string    `json:"key"`
	Size    int64     `json:"size"`
	Expires time.Time `json:"expires"`
}

// Store is an artifact backend.
type Store interface {
	// Put stores the content of r under a key derived from name and
	// expires, and returns the stored object.
	Put(ctx context.Context, name string, r io.Reader, expires time.Time) (Object, error)

	// Open returns the artifact content. A missing key is NotFound.
	Open(ctx context.Context, key string) (io.ReadCloser, Object, error)

	// Delete removes the artifact. A missing key is NotFound.
	Delete(ctx context.Context, key string) error

	// List returns every artifact under the store's prefix.
	List(ctx context.Context) ([]Object, error)

	// Backend names the implementation for logs and metrics.
	Backend() string
}

// Key builds the object key for name expiring at expires.
func Key(prefix, name string, expires time.Time) string {
	return prefix + strconv.FormatInt(expires.Unix(), 10) + "-" + name
}

// ParseKey returns the expiry and name encoded in key. ok is false for
// keys not written by this package.
func ParseKey(prefix, key string) (expires time.Time, name string, ok bool) {
	rest, found := strings.CutPrefix(key, prefix)
	if !found {
		return time.Time{}, "", false
	}
	ts, name, found := strings.Cut(rest, "-")
	if !found || name == "" {
		return time.Time{}, "", false
	}
	secs, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return time.Time{}, "", false
	}
	return time.Unix(secs, 0).UTC(), name, true
}

// validName rejects names that would leave the prefix.
func validName(name string) error {
	if name == "" || strings.ContainsAny(name, "/\\\x00") || name == "." || name == ".." {
		return models.InvalidParameter("name", "artifact name %q is not allowed", name)
	}
	return nil
}

// SweepExpired deletes every artifact whose expiry is not after now and
// returns how many were removed. Objects deleted concurrently by another
// sweeper are not errors.
func SweepExpired(ctx context.Context, s Store, now time.Time) (int, error) {
	objs, err := s.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list %s artifacts: %w", s.Backend(), err)
	}
	removed := 0
	for _, o := range objs {
		if o.Expires.After(now) {
			continue
		}
		if err := s.Delete(ctx, o.Key); err != nil {
			if models.IsKind(err, models.KindNotFound) {
				continue
			}
			return removed, fmt.Errorf("delete artifact %s: %w", o.Key, err)
		}
		removed++
	}
	if removed > 0 {
		logging.Debug().Str("backend", s.Backend()).Int("removed", removed).Msg("Expired artifacts removed")
	}
	return removed, nil
}

// Open creates the store selected by cfg.
func Open(ctx context.Context, cfg config.ArtifactsConfig) (Store, error) {
	switch cfg.Backend {
	case "", "fs":
		return NewFSStore(cfg.Dir, cfg.Prefix)
	case "s3":
		return NewS3Store(S3Options{
			Bucket:          cfg.Bucket,
			Prefix:          cfg.Prefix,
			Region:          cfg.Region,
			Endpoint:        cfg.Endpoint,
			AccessKeyID:     cfg.AccessKeyID,
			SecretAccessKey: cfg.SecretAccessKey,
			UsePathStyle:    cfg.UsePathStyle,
		})
	case "gcs":
		return NewGCSStore(ctx, GCSOptions{
			Bucket:          cfg.Bucket,
			Prefix:          cfg.Prefix,
			Endpoint:        cfg.Endpoint,
			CredentialsFile: cfg.CredentialsFile,
		})
	default:
		return nil, fmt.Errorf("unknown artifact backend %q", cfg.Backend)
	}
}
