// Lumen - Dynamic Image Generation Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lumen

package cache

import (
	"context"
	"time"

	"github.com/tomtom215/lumen/internal/logging"
	"github.com/tomtom215/lumen/internal/metrics"
)

// Tiered reads through a local store to a shared one. Errors from the
// shared tier degrade to a miss; writes go to both tiers.
type Tiered struct {
	local  Store
	shared Store
}

// NewTiered layers local in front of shared.
func NewTiered(local, shared Store) *Tiered {
	return &Tiered{local: local, shared: shared}
}

// Get implements Store. A shared hit is copied into the local tier.
func (t *Tiered) Get(ctx context.Context, key string) (*Entry, bool, error) {
	if e, ok, _ := t.local.Get(ctx, key); ok {
		metrics.RecordCacheLookup("local", true)
		return e, true, nil
	}
	metrics.RecordCacheLookup("local", false)
	e, ok, err := t.shared.Get(ctx, key)
	if err != nil {
		metrics.RecordCacheError("shared", "get")
		logging.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("Shared cache read failed, treating as miss")
		return nil, false, nil
	}
	metrics.RecordCacheLookup("shared", ok)
	if !ok {
		return nil, false, nil
	}
	_ = t.local.Set(ctx, key, e, 0)
	return e, true, nil
}

// Set implements Store. A shared-tier failure is returned after the local
// write has succeeded.
func (t *Tiered) Set(ctx context.Context, key string, e *Entry, ttl time.Duration) error {
	if err := t.local.Set(ctx, key, e, ttl); err != nil {
		return err
	}
	if err := t.shared.Set(ctx, key, e, ttl); err != nil {
		metrics.RecordCacheError("shared", "set")
		return err
	}
	return nil
}

// Delete implements Store.
func (t *Tiered) Delete(ctx context.Context, key string) error {
	_ = t.local.Delete(ctx, key)
	return t.shared.Delete(ctx, key)
}
