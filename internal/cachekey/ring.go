// Lumen - Dynamic Image Generation Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lumen

package cachekey

import (
	"sort"
	"strconv"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// DefaultReplicas is the number of virtual points per node.
const DefaultReplicas = 160

// Ring is a consistent-hash ring. Adding or removing one node remaps only
// the keys that hash to that node's points.
type Ring struct {
	mu       sync.RWMutex
	replicas int
	points   []uint64
	owners   map[uint64]string
	nodes    []string
}

// NewRing builds a ring over nodes. replicas <= 0 uses DefaultReplicas.
func NewRing(nodes []string, replicas int) *Ring {
	if replicas <= 0 {
		replicas = DefaultReplicas
	}
	r := &Ring{replicas: replicas}
	r.Set(nodes)
	return r
}

// Set replaces the membership and recomputes the ring. Duplicate and
// empty node names are ignored.
func (r *Ring) Set(nodes []string) {
	seen := make(map[string]struct{}, len(nodes))
	unique := make([]string, 0, len(nodes))
	for _, n := range nodes {
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		unique = append(unique, n)
	}
	sort.Strings(unique)

	points := make([]uint64, 0, len(unique)*r.replicas)
	owners := make(map[uint64]string, len(unique)*r.replicas)
	for _, n := range unique {
		for i := 0; i < r.replicas; i++ {
			h := xxhash.Sum64String(n + "#" + strconv.Itoa(i))
			if _, taken := owners[h]; taken {
				continue
			}
			owners[h] = n
			points = append(points, h)
		}
	}
	sort.Slice(points, func(i, j int) bool { return points[i] < points[j] })

	r.mu.Lock()
	r.points, r.owners, r.nodes = points, owners, unique
	r.mu.Unlock()
}

// Add inserts a node.
func (r *Ring) Add(node string) {
	r.Set(append(r.Nodes(), node))
}

// Remove deletes a node.
func (r *Ring) Remove(node string) {
	nodes := r.Nodes()
	out := nodes[:0]
	for _, n := range nodes {
		if n != node {
			out = append(out, n)
		}
	}
	r.Set(out)
}

// Nodes returns the current membership in sorted order.
func (r *Ring) Nodes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.nodes...)
}

// Node returns the owner of key, or "" when the ring is empty.
func (r *Ring) Node(key string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.points) == 0 {
		return ""
	}
	h := xxhash.Sum64String(key)
	i := sort.Search(len(r.points), func(i int) bool { return r.points[i] >= h })
	if i == len(r.points) {
		i = 0
	}
	return r.owners[r.points[i]]
}
