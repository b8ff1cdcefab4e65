// Lumen - Dynamic Image Generation Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lumen

// Package cachekey derives content keys for generated images and places
// them on a consistent-hash ring of cache nodes.
//
// A Fingerprint has two parts. Tag is a canonical, versioned text
// encoding of the source identity, the identity of every other original
// the image reads (overlays), each content-affecting option and the output
// format. Key is the hex BLAKE2b-256 digest of Tag. Stores keep Tag
// next to the cached bytes so a reader can compare it before trusting a
// hit; a digest collision or a stale entry is then a miss, never a wrong
// image.
package cachekey

import (
	"bytes"
	"encoding/hex"
	"strconv"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/tomtom215/lumen/internal/ops"
)

// version is bumped whenever the canonical encoding changes so that old
// entries stop matching.
const version = "v2"

// SourceIdentity names an original and the state it was in when read.
// Size and ModTime together are the modification marker: replacing the
// file changes at least one of them.
type SourceIdentity struct {
	Path    string
	Size    int64
	ModTime time.Time
}

// Fingerprint is the derived cache identity of one generated image.
type Fingerprint struct {
	Key string
	Tag []byte
}

// Matches reports whether a stored tag belongs to this fingerprint.
func (f Fingerprint) Matches(tag []byte) bool {
	return bytes.Equal(f.Tag, tag)
}

// Compute derives the fingerprint. It is a pure function of its inputs.
// Delivery-only options (stats, attach, expires) do not contribute.
//
// set should already carry the deployment defaults for options the request
// left unset, so a default change yields a new key.
func Compute(src SourceIdentity, set ops.OperationSet, format ops.Format, inputs ...SourceIdentity) Fingerprint {
	var buf bytes.Buffer
	buf.Grow(128)

	buf.WriteString(version)
	buf.WriteByte('\n')
	writeField(&buf, "src", src.Path)
	writeField(&buf, "size", strconv.FormatInt(src.Size, 10))
	writeField(&buf, "mtime", strconv.FormatInt(src.ModTime.UnixNano(), 10))
	for _, in := range inputs {
		writeField(&buf, "in", in.Path)
		writeField(&buf, "insize", strconv.FormatInt(in.Size, 10))
		writeField(&buf, "inmtime", strconv.FormatInt(in.ModTime.UnixNano(), 10))
	}
	writeField(&buf, "out", string(format))
	for _, p := range set.ContentParams() {
		writeField(&buf, p.Key, p.Value)
	}

	tag := buf.Bytes()
	sum := blake2b.Sum256(tag)
	return Fingerprint{Key: hex.EncodeToString(sum[:]), Tag: tag}
}

// writeField writes a length-prefixed key=value line so no combination of
// values can be confused with another.
func writeField(buf *bytes.Buffer, key, value string) {
	buf.WriteString(key)
	buf.WriteByte('=')
	buf.WriteString(strconv.Itoa(len(value)))
	buf.WriteByte(':')
	buf.WriteString(value)
	buf.WriteByte('\n')
}
