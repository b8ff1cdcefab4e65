// Lumen - Dynamic Image Generation Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lumen

// Package cache stores generated images.
//
// All implementations satisfy Store:
//
//   - MemoryStore: in-process LRU bounded by entry count and total bytes
//   - RedisStore: one redis node, entries framed by EncodeEntry
//   - RingStore: routes each key to one of several stores through a
//     consistent-hash ring (internal/cachekey)
//   - Tiered: a fast local store in front of a shared one
//
// Entries may disappear at any time (eviction, TTL, node loss). Callers
// treat a missing entry as a miss and rebuild; read failures of remote
// stores are reported as misses for the same reason.
//
// Entries are immutable once stored. Callers must not modify the Data or
// Tag slices of an entry returned by Get.
package cache
