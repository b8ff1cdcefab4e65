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
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/tomtom215/lumen/internal/models"
)

// GCSOptions configures a GCSStore. Without a credentials file the client
// uses Application Default Credentials.
type GCSOptions struct {
	Bucket          string
	Prefix          string
	Endpoint        string
	CredentialsFile string
}

// GCSStore keeps artifacts in a Google Cloud Storage bucket.
type GCSStore struct {
	client *storage.Client
	bucket *storage.BucketHandle
	name   string
	prefix string
}

// NewGCSStore creates a store with its own client.
func NewGCSStore(ctx context.Context, opts GCSOptions) (*GCSStore, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("gcs bucket is required")
	}
	var clientOpts []option.ClientOption
	if opts.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(opts.CredentialsFile))
	}
	if opts.Endpoint != "" {
		// Emulators take no credentials.
		clientOpts = append(clientOpts, option.WithEndpoint(opts.Endpoint), option.WithoutAuthentication())
	}
	client, err := storage.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	return &GCSStore{
		client: client,
		bucket: client.Bucket(opts.Bucket),
		name:   opts.Bucket,
		prefix: opts.Prefix,
	}, nil
}

func (s *GCSStore) Backend() string { return "gcs" }

// Close releases the client.
func (s *GCSStore) Close() error { return s.client.Close() }

func (s *GCSStore) Put(ctx context.Context, name string, r io.Reader, expires time.Time) (Object, error) {
	if err := validName(name); err != nil {
		return Object{}, err
	}
	key := Key(s.prefix, name, expires)

	wc := s.bucket.Object(key).NewWriter(ctx)
	wc.ContentType = "application/zip"
	wc.Metadata = map[string]string{"expires-at": expires.UTC().Format(time.RFC3339)}
	n, err := io.Copy(wc, r)
	if err != nil {
		_ = wc.Close()
		return Object{}, fmt.Errorf("upload %s to bucket %s: %w", key, s.name, err)
	}
	if err := wc.Close(); err != nil {
		return Object{}, fmt.Errorf("finish upload %s to bucket %s: %w", key, s.name, err)
	}
	return Object{Key: key, Size: n, Expires: expires.Truncate(time.Second).UTC()}, nil
}

func (s *GCSStore) Open(ctx context.Context, key string) (io.ReadCloser, Object, error) {
	exp, _, ok := ParseKey(s.prefix, key)
	if !ok {
		return nil, Object{}, models.NotFound("artifact", key)
	}
	rc, err := s.bucket.Object(key).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, Object{}, models.NotFound("artifact", key)
	}
	if err != nil {
		return nil, Object{}, fmt.Errorf("read %s from bucket %s: %w", key, s.name, err)
	}
	return rc, Object{Key: key, Size: rc.Attrs.Size, Expires: exp}, nil
}

func (s *GCSStore) Delete(ctx context.Context, key string) error {
	if _, _, ok := ParseKey(s.prefix, key); !ok {
		return models.NotFound("artifact", key)
	}
	err := s.bucket.Object(key).Delete(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return models.NotFound("artifact", key)
	}
	if err != nil {
		return fmt.Errorf("delete %s from bucket %s: %w", key, s.name, err)
	}
	return nil
}

func (s *GCSStore) List(ctx context.Context) ([]Object, error) {
	var out []Object
	it := s.bucket.Objects(ctx, &storage.Query{Prefix: s.prefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list bucket %s: %w", s.name, err)
		}
		exp, _, ok := ParseKey(s.prefix, attrs.Name)
		if !ok {
			continue
		}
		out = append(out, Object{Key: attrs.Name, Size: attrs.Size, Expires: exp})
	}
	return out, nil
}
