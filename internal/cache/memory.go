// Lumen - Dynamic Image Generation Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lumen

package cache

import (
	"context"
	"sync"
	"time"

	"github.com/tomtom215/lumen/internal/metrics"
)

// lruNode is one entry of the recency list.
type lruNode struct {
	key       string
	entry     *Entry
	size      int
	expiresAt time.Time
	prev      *lruNode
	next      *lruNode
}

// MemoryStore is a thread-safe LRU bounded by entry count and total bytes,
// with per-entry TTL and lazy expiry.
//
// A doubly-linked list with sentinel nodes orders entries by recency;
// head.next is the most recently used and tail.prev the next eviction.
type MemoryStore struct {
	mu sync.Mutex

	maxEntries int
	maxBytes   int
	ttl        time.Duration

	items map[string]*lruNode
	head  *lruNode
	tail  *lruNode
	bytes int

	hits      int64
	misses    int64
	evictions int64

	now func() time.Time
}

// MemoryStats is a snapshot of store counters.
type MemoryStats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Entries   int
	Bytes     int
}

// NewMemoryStore creates a store. Non-positive limits fall back to
// 10000 entries, 256 MiB and a one-hour TTL.
func NewMemoryStore(maxEntries, maxBytes int, ttl time.Duration) *MemoryStore {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	if maxBytes <= 0 {
		maxBytes = 256 << 20
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	s := &MemoryStore{
		maxEntries: maxEntries,
		maxBytes:   maxBytes,
		ttl:        ttl,
		items:      make(map[string]*lruNode),
		head:       &lruNode{},
		tail:       &lruNode{},
		now:        time.Now,
	}
	s.head.next = s.tail
	s.tail.prev = s.head
	return s
}

// Get implements Store. Hits move to the front of the list.
func (s *MemoryStore) Get(_ context.Context, key string) (*Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.items[key]
	if !ok {
		s.misses++
		return nil, false, nil
	}
	if !s.now().Before(n.expiresAt) {
		s.remove(n)
		s.misses++
		return nil, false, nil
	}
	s.moveToFront(n)
	s.hits++
	return n.entry, true, nil
}

// Set implements Store. An entry larger than the byte limit is not stored.
func (s *MemoryStore) Set(_ context.Context, key string, e *Entry, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = s.ttl
	}
	size := e.Size() + len(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.items[key]; ok {
		s.remove(old)
	}
	if size > s.maxBytes {
		return nil
	}

	n := &lruNode{key: key, entry: e, size: size, expiresAt: s.now().Add(ttl)}
	s.addToFront(n)
	s.items[key] = n
	s.bytes += size

	for len(s.items) > s.maxEntries || s.bytes > s.maxBytes {
		s.evictOldest()
	}
	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.items[key]; ok {
		s.remove(n)
	}
	return nil
}

// CleanupExpired drops expired entries and returns how many were removed.
func (s *MemoryStore) CleanupExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for n := s.tail.prev; n != s.head; {
		prev := n.prev
		if !now.Before(n.expiresAt) {
			s.remove(n)
			removed++
		}
		n = prev
	}
	metrics.UpdateMemoryCache(len(s.items), int64(s.bytes))
	return removed
}

// Stats returns a snapshot of the counters.
func (s *MemoryStore) Stats() MemoryStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return MemoryStats{
		Hits:      s.hits,
		Misses:    s.misses,
		Evictions: s.evictions,
		Entries:   len(s.items),
		Bytes:     s.bytes,
	}
}

// Len returns the number of stored entries.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// The helpers below must be called with mu held.

func (s *MemoryStore) addToFront(n *lruNode) {
	n.prev = s.head
	n.next = s.head.next
	s.head.next.prev = n
	s.head.next = n
}

func (s *MemoryStore) moveToFront(n *lruNode) {
	n.prev.next = n.next
	n.next.prev = n.prev
	s.addToFront(n)
}

func (s *MemoryStore) remove(n *lruNode) {
	n.prev.next = n.next
	n.next.prev = n.prev
	delete(s.items, n.key)
	s.bytes -= n.size
}

func (s *MemoryStore) evictOldest() {
	oldest := s.tail.prev
	if oldest == s.head {
		return
	}
	s.remove(oldest)
	s.evictions++
}
