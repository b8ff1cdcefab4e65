// Lumen - Dynamic Image Generation Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lumen

package cache

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

func entry(data string) *Entry {
	return &Entry{Data: []byte(data), Tag: []byte("tag-" + data), ContentType: "image/jpeg", CreatedAt: time.Unix(1700000000, 0)}
}

func TestMemoryStore_BasicOperations(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(3, 0, time.Minute)

	for _, k := range []string{"a", "b", "c"} {
		if err := s.Set(ctx, k, entry(k), 0); err != nil {
			t.Fatalf("Set(%s): %v", k, err)
		}
	}
	for _, k := range []string{"a", "b", "c"} {
		e, ok, err := s.Get(ctx, k)
		if err != nil || !ok {
			t.Fatalf("Expected to find key %q (err=%v)", k, err)
		}
		if string(e.Data) != k {
			t.Errorf("Expected data %q, got %q", k, e.Data)
		}
	}
	if s.Len() != 3 {
		t.Errorf("Expected len 3, got %d", s.Len())
	}

	_ = s.Delete(ctx, "b")
	if _, ok, _ := s.Get(ctx, "b"); ok {
		t.Error("Expected 'b' to be deleted")
	}
}

func TestMemoryStore_EvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(3, 0, time.Minute)

	_ = s.Set(ctx, "a", entry("a"), 0)
	_ = s.Set(ctx, "b", entry("b"), 0)
	_ = s.Set(ctx, "c", entry("c"), 0)
	_, _, _ = s.Get(ctx, "a")
	_ = s.Set(ctx, "d", entry("d"), 0)

	if _, ok, _ := s.Get(ctx, "b"); ok {
		t.Error("Expected 'b' to be evicted")
	}
	for _, k := range []string{"a", "c", "d"} {
		if _, ok, _ := s.Get(ctx, k); !ok {
			t.Errorf("Expected %q to be present", k)
		}
	}
	if got := s.Stats().Evictions; got != 1 {
		t.Errorf("Expected 1 eviction, got %d", got)
	}
}

func TestMemoryStore_ByteLimit(t *testing.T) {
	ctx := context.Background()
	one := entry("0123456789")
	limit := 2*(one.Size()+1) + 1
	s := NewMemoryStore(100, limit, time.Minute)

	_ = s.Set(ctx, "x", entry("0123456789"), 0)
	_ = s.Set(ctx, "y", entry("0123456789"), 0)
	_ = s.Set(ctx, "z", entry("0123456789"), 0)

	st := s.Stats()
	if st.Entries != 2 {
		t.Errorf("Expected 2 entries under byte limit, got %d", st.Entries)
	}
	if st.Bytes > limit {
		t.Errorf("Expected bytes <= %d, got %d", limit, st.Bytes)
	}
	if _, ok, _ := s.Get(ctx, "x"); ok {
		t.Error("Expected oldest entry to be evicted by byte pressure")
	}

	huge := &Entry{Data: bytes.Repeat([]byte{1}, limit*2)}
	_ = s.Set(ctx, "huge", huge, 0)
	if _, ok, _ := s.Get(ctx, "huge"); ok {
		t.Error("Expected oversized entry to be rejected")
	}
}

func TestMemoryStore_TTL(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(10, 0, time.Minute)
	now := time.Unix(1700000000, 0)
	s.now = func() time.Time { return now }

	_ = s.Set(ctx, "short", entry("short"), time.Second)
	_ = s.Set(ctx, "long", entry("long"), 0)

	now = now.Add(2 * time.Second)
	if _, ok, _ := s.Get(ctx, "short"); ok {
		t.Error("Expected 'short' to expire")
	}
	if _, ok, _ := s.Get(ctx, "long"); !ok {
		t.Error("Expected 'long' to survive")
	}

	now = now.Add(time.Hour)
	if removed := s.CleanupExpired(); removed != 1 {
		t.Errorf("Expected 1 expired entry removed, got %d", removed)
	}
}

func TestMemoryStore_Concurrent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(50, 0, time.Minute)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("k%d", (g*200+i)%80)
				_ = s.Set(ctx, key, entry(key), 0)
				_, _, _ = s.Get(ctx, key)
			}
		}(g)
	}
	wg.Wait()

	if s.Len() > 50 {
		t.Errorf("Expected at most 50 entries, got %d", s.Len())
	}
}
