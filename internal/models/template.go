// Lumen - Dynamic Image Generation Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lumen

package models

import (
	"sort"
	"time"
)

// Template is a named set of parameter defaults.
//
// Values maps a parameter name to its raw string value. A present key with
// a nil value is an explicit "inherit"; an absent key is "unset". Both
// leave the option to the layer above (the URL parameters).
type Template struct {
	ID        int64              `json:"id"`
	Name      string             `json:"name"`
	IsDefault bool               `json:"is_default"`
	Values    map[string]*string `json:"values"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// Keys returns the template's option names in sorted order.
func (t *Template) Keys() []string {
	keys := make([]string, 0, len(t.Values))
	for k := range t.Values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a deep copy so cached templates cannot be mutated by callers.
func (t *Template) Clone() *Template {
	c := *t
	c.Values = make(map[string]*string, len(t.Values))
	for k, v := range t.Values {
		if v == nil {
			c.Values[k] = nil
			continue
		}
		s := *v
		c.Values[k] = &s
	}
	return &c
}

// StringPtr is a helper for building template values.
func StringPtr(s string) *string { return &s }
