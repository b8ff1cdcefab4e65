// Lumen - Dynamic Image Generation Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lumen

package cache

import (
	"context"
	"encoding/binary"
	"errors"
	"time"
)

// Entry is one generated image and its metadata.
type Entry struct {
	Data        []byte
	Tag         []byte
	ContentType string
	CreatedAt   time.Time
	BuildTime   time.Duration
}

// Size is the number of bytes the entry accounts for.
func (e *Entry) Size() int {
	return len(e.Data) + len(e.Tag) + len(e.ContentType)
}

// Store is a key/value store for entries.
type Store interface {
	// Get returns the entry and true on a hit.
	Get(ctx context.Context, key string) (*Entry, bool, error)
	// Set stores the entry. ttl <= 0 uses the store's default.
	Set(ctx context.Context, key string, e *Entry, ttl time.Duration) error
	// Delete removes the entry if present.
	Delete(ctx context.Context, key string) error
}

// ErrCorruptEntry is returned when a stored envelope cannot be decoded.
var ErrCorruptEntry = errors.New("cache: corrupt entry")

const envelopeMagic = "LME1"

// EncodeEntry frames an entry for byte-oriented stores:
//
//	magic(4) | created(8) | build(8) | taglen(4) | tag | ctlen(2) | ct | data
func EncodeEntry(e *Entry) []byte {
	buf := make([]byte, 0, 4+8+8+4+len(e.Tag)+2+len(e.ContentType)+len(e.Data))
	buf = append(buf, envelopeMagic...)
	var created int64
	if !e.CreatedAt.IsZero() {
		created = e.CreatedAt.UnixNano()
	}
	buf = binary.BigEndian.AppendUint64(buf, uint64(created))
	buf = binary.BigEndian.AppendUint64(buf, uint64(e.BuildTime))
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(e.Tag)))
	buf = append(buf, e.Tag...)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(e.ContentType)))
	buf = append(buf, e.ContentType...)
	buf = append(buf, e.Data...)
	return buf
}

// DecodeEntry parses an envelope written by EncodeEntry. The returned
// entry aliases b.
func DecodeEntry(b []byte) (*Entry, error) {
	const fixed = 4 + 8 + 8 + 4
	if len(b) < fixed || string(b[:4]) != envelopeMagic {
		return nil, ErrCorruptEntry
	}
	created := int64(binary.BigEndian.Uint64(b[4:12]))
	build := int64(binary.BigEndian.Uint64(b[12:20]))
	tagLen := int(binary.BigEndian.Uint32(b[20:24]))
	rest := b[fixed:]
	if tagLen > len(rest) {
		return nil, ErrCorruptEntry
	}
	tag, rest := rest[:tagLen], rest[tagLen:]
	if len(rest) < 2 {
		return nil, ErrCorruptEntry
	}
	ctLen := int(binary.BigEndian.Uint16(rest[:2]))
	rest = rest[2:]
	if ctLen > len(rest) {
		return nil, ErrCorruptEntry
	}
	e := &Entry{
		Tag:         tag,
		ContentType: string(rest[:ctLen]),
		Data:        rest[ctLen:],
		BuildTime:   time.Duration(build),
	}
	if created != 0 {
		e.CreatedAt = time.Unix(0, created)
	}
	return e, nil
}
