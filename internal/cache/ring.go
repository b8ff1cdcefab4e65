// Lumen - Dynamic Image Generation Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lumen

package cache

import (
	"context"
	"sync"
	"time"

	"github.com/tomtom215/lumen/internal/cachekey"
)

// RingStore spreads keys over several stores with consistent hashing.
type RingStore struct {
	mu     sync.RWMutex
	ring   *cachekey.Ring
	stores map[string]Store
}

// NewRingStore creates a store over the given node stores.
func NewRingStore(stores map[string]Store, replicas int) *RingStore {
	r := &RingStore{ring: cachekey.NewRing(nil, replicas)}
	r.SetNodes(stores)
	return r
}

// SetNodes replaces the membership. Keys owned by surviving nodes keep
// their placement.
func (r *RingStore) SetNodes(stores map[string]Store) {
	names := make([]string, 0, len(stores))
	copied := make(map[string]Store, len(stores))
	for name, s := range stores {
		names = append(names, name)
		copied[name] = s
	}
	r.mu.Lock()
	r.stores = copied
	r.ring.Set(names)
	r.mu.Unlock()
}

// NodeFor returns the node name owning key.
func (r *RingStore) NodeFor(key string) string {
	return r.ring.Node(key)
}

func (r *RingStore) route(key string) Store {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stores[r.ring.Node(key)]
}

// Get implements Store. An empty ring is a miss.
func (r *RingStore) Get(ctx context.Context, key string) (*Entry, bool, error) {
	s := r.route(key)
	if s == nil {
		return nil, false, nil
	}
	return s.Get(ctx, key)
}

// Set implements Store.
func (r *RingStore) Set(ctx context.Context, key string, e *Entry, ttl time.Duration) error {
	s := r.route(key)
	if s == nil {
		return nil
	}
	return s.Set(ctx, key, e, ttl)
}

// Delete implements Store.
func (r *RingStore) Delete(ctx context.Context, key string) error {
	s := r.route(key)
	if s == nil {
		return nil
	}
	return s.Delete(ctx, key)
}
