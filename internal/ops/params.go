// Lumen - Dynamic Image Generation Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lumen

package ops

import (
	"net/url"
	"strings"
)

// Param is one key/value pair from a query string or an overlay.
type Param struct {
	Key   string
	Value string
}

// Params is an ordered list of parameters. When a key repeats, the last
// occurrence wins.
type Params []Param

// ParseQuery splits a raw query string preserving the order of pairs.
// Keys are lower-cased.
func ParseQuery(raw string) (Params, error) {
	var out Params
	for raw != "" {
		var pair string
		pair, raw, _ = strings.Cut(raw, "&")
		if pair == "" {
			continue
		}
		k, v, _ := strings.Cut(pair, "=")
		key, err := url.QueryUnescape(k)
		if err != nil {
			return nil, err
		}
		val, err := url.QueryUnescape(v)
		if err != nil {
			return nil, err
		}
		out = append(out, Param{Key: strings.ToLower(key), Value: val})
	}
	return out, nil
}

// Get returns the last value for key.
func (p Params) Get(key string) (string, bool) {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i].Key == key {
			return p[i].Value, true
		}
	}
	return "", false
}

// Overlay returns p followed by extra, so extra's keys take precedence.
// Neither input is modified.
func (p Params) Overlay(extra Params) Params {
	out := make(Params, 0, len(p)+len(extra))
	out = append(out, p...)
	for _, e := range extra {
		out = append(out, Param{Key: strings.ToLower(e.Key), Value: e.Value})
	}
	return out
}

// Without returns a copy of p with the given keys removed.
func (p Params) Without(keys ...string) Params {
	out := make(Params, 0, len(p))
next:
	for _, kv := range p {
		for _, k := range keys {
			if kv.Key == k {
				continue next
			}
		}
		out = append(out, kv)
	}
	return out
}

// Encode renders p as a query string, keeping order.
func (p Params) Encode() string {
	var sb strings.Builder
	for i, kv := range p {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(url.QueryEscape(kv.Key))
		sb.WriteByte('=')
		sb.WriteString(url.QueryEscape(kv.Value))
	}
	return sb.String()
}
