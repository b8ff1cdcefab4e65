// Lumen - Dynamic Image Generation Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lumen

// Package stats counts image requests per source and per day in an
// embedded pebble database.
//
// Record only touches an in-memory buffer; a background flush folds the
// buffer into the database. Keys are ordered by source and then by day,
// so reading one source's history is a single range scan.
package stats

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/rs/zerolog"

	"github.com/tomtom215/lumen/internal/logging"
	"github.com/tomtom215/lumen/internal/models"
)

const (
	keyPrefix = "s/"
	dayLayout = "20060102"
	valueSize = 24
)

// Counts are the counters kept for one source and day.
type Counts struct {
	Requests  uint64 `json:"requests"`
	CacheHits uint64 `json:"cache_hits"`
	Bytes     uint64 `json:"bytes"`
}

func (c *Counts) add(o Counts) {
	c.Requests += o.Requests
	c.CacheHits += o.CacheHits
	c.Bytes += o.Bytes
}

// DayCounts are the counters of one day.
type DayCounts struct {
	Day string `json:"day"`
	Counts
}

// Summary is the request history of one source.
type Summary struct {
	Source string      `json:"source"`
	Total  Counts      `json:"total"`
	Days   []DayCounts `json:"days"`
}

type bucket struct {
	src string
	day string
}

// Recorder buffers and persists request counters.
type Recorder struct {
	db     *pebble.DB
	logger zerolog.Logger
	every  time.Duration
	now    func() time.Time

	mu      sync.Mutex
	pending map[bucket]Counts

	// flushMu serializes read-modify-write cycles against the database.
	flushMu sync.Mutex
}

// Options configures a Recorder.
type Options struct {
	// Dir is the database directory. Empty keeps the database in memory.
	Dir string

	FlushInterval time.Duration
	Now           func() time.Time
}

// Open opens or creates the stats database.
func Open(opts Options) (*Recorder, error) {
	po := &pebble.Options{}
	dir := opts.Dir
	if dir == "" {
		po.FS = vfs.NewMem()
		dir = "stats"
	}
	db, err := pebble.Open(dir, po)
	if err != nil {
		return nil, fmt.Errorf("open stats database: %w", err)
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 5 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Recorder{
		db:      db,
		logger:  logging.WithComponent("stats"),
		every:   opts.FlushInterval,
		now:     opts.Now,
		pending: make(map[bucket]Counts),
	}, nil
}

func encodeKey(src, day string) []byte {
	return []byte(keyPrefix + src + "\x00" + day)
}

func decodeKey(k []byte) (src, day string, ok bool) {
	rest, found := strings.CutPrefix(string(k), keyPrefix)
	if !found {
		return "", "", false
	}
	src, day, found = strings.Cut(rest, "\x00")
	return src, day, found && len(day) == len(dayLayout)
}

func encodeCounts(c Counts) []byte {
	b := make([]byte, valueSize)
	binary.BigEndian.PutUint64(b[0:], c.Requests)
	binary.BigEndian.PutUint64(b[8:], c.CacheHits)
	binary.BigEndian.PutUint64(b[16:], c.Bytes)
	return b
}

func decodeCounts(b []byte) Counts {
	if len(b) < valueSize {
		return Counts{}
	}
	return Counts{
		Requests:  binary.BigEndian.Uint64(b[0:]),
		CacheHits: binary.BigEndian.Uint64(b[8:]),
		Bytes:     binary.BigEndian.Uint64(b[16:]),
	}
}

// Record counts one delivered request for src.
func (r *Recorder) Record(src string, fromCache bool, bytes int) {
	c := Counts{Requests: 1, Bytes: uint64(max(bytes, 0))}
	if fromCache {
		c.CacheHits = 1
	}
	b := bucket{src: src, day: r.now().UTC().Format(dayLayout)}

	r.mu.Lock()
	cur := r.pending[b]
	cur.add(c)
	r.pending[b] = cur
	r.mu.Unlock()
}

// Flush writes buffered counters to the database.
func (r *Recorder) Flush() error {
	r.mu.Lock()
	pending := r.pending
	r.pending = make(map[bucket]Counts)
	r.mu.Unlock()
	if len(pending) == 0 {
		return nil
	}

	r.flushMu.Lock()
	defer r.flushMu.Unlock()

	batch := r.db.NewBatch()
	defer batch.Close()
	for b, c := range pending {
		key := encodeKey(b.src, b.day)
		val, closer, err := r.db.Get(key)
		switch {
		case errors.Is(err, pebble.ErrNotFound):
		case err != nil:
			r.requeue(pending)
			return fmt.Errorf("read counters: %w", err)
		default:
			c.add(decodeCounts(val))
			_ = closer.Close()
		}
		if err := batch.Set(key, encodeCounts(c), nil); err != nil {
			r.requeue(pending)
			return fmt.Errorf("stage counters: %w", err)
		}
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		r.requeue(pending)
		return fmt.Errorf("commit counters: %w", err)
	}
	return nil
}

// requeue puts counters back after a failed flush so they are not lost.
func (r *Recorder) requeue(pending map[bucket]Counts) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for b, c := range pending {
		cur := r.pending[b]
		cur.add(c)
		r.pending[b] = cur
	}
}

// Query returns the history of src, including buffered counters.
func (r *Recorder) Query(src string) (Summary, error) {
	if err := r.Flush(); err != nil {
		return Summary{}, err
	}
	lower := []byte(keyPrefix + src + "\x00")
	upper := []byte(keyPrefix + src + "\x01")
	iter, err := r.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return Summary{}, fmt.Errorf("scan counters: %w", err)
	}
	defer iter.Close()

	sum := Summary{Source: src, Days: []DayCounts{}}
	for iter.First(); iter.Valid(); iter.Next() {
		_, day, ok := decodeKey(iter.Key())
		if !ok {
			continue
		}
		c := decodeCounts(iter.Value())
		sum.Total.add(c)
		sum.Days = append(sum.Days, DayCounts{Day: day, Counts: c})
	}
	return sum, iter.Error()
}

// Purge deletes counters of days older than olderThanDays before today
// and returns how many day records were removed.
func (r *Recorder) Purge(ctx context.Context, olderThanDays int) (int, error) {
	if olderThanDays < 0 {
		return 0, models.InvalidParameter("older_than_days", "must not be negative")
	}
	if err := r.Flush(); err != nil {
		return 0, err
	}
	cutoff := r.now().UTC().AddDate(0, 0, -olderThanDays).Format(dayLayout)

	r.flushMu.Lock()
	defer r.flushMu.Unlock()

	iter, err := r.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(keyPrefix),
		UpperBound: []byte("s0"),
	})
	if err != nil {
		return 0, fmt.Errorf("scan counters: %w", err)
	}
	batch := r.db.NewBatch()
	defer batch.Close()

	n := 0
	for iter.First(); iter.Valid(); iter.Next() {
		if err := ctx.Err(); err != nil {
			_ = iter.Close()
			return 0, err
		}
		_, day, ok := decodeKey(iter.Key())
		if !ok || day >= cutoff {
			continue
		}
		key := append([]byte(nil), iter.Key()...)
		if err := batch.Delete(key, nil); err != nil {
			_ = iter.Close()
			return 0, fmt.Errorf("stage delete: %w", err)
		}
		n++
	}
	if err := iter.Close(); err != nil {
		return 0, fmt.Errorf("scan counters: %w", err)
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return 0, fmt.Errorf("commit purge: %w", err)
	}
	r.logger.Info().Int("older_than_days", olderThanDays).Int("removed", n).Msg("Request statistics purged")
	return n, nil
}

// Serve implements suture.Service; it flushes every interval and once
// more on shutdown.
func (r *Recorder) Serve(ctx context.Context) error {
	ticker := time.NewTicker(r.every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := r.Flush(); err != nil {
				r.logger.Warn().Err(err).Msg("Stats flush failed")
			}
		case <-ctx.Done():
			if err := r.Flush(); err != nil {
				r.logger.Warn().Err(err).Msg("Final stats flush failed")
			}
			return ctx.Err()
		}
	}
}

// String implements fmt.Stringer for suture logging.
func (r *Recorder) String() string { return "stats-recorder" }

// Close flushes and closes the database.
func (r *Recorder) Close() error {
	ferr := r.Flush()
	if err := r.db.Close(); err != nil {
		return fmt.Errorf("close stats database: %w", err)
	}
	return ferr
}
