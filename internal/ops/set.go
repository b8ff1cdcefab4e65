// Lumen - Dynamic Image Generation Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lumen

package ops

import (
	"fmt"
	"sort"

	"github.com/tomtom215/lumen/internal/models"
)

// OperationSet is the typed collection of per-request options. Every
// field is a tagged Value; a resolved set contains only Set and Unset.
type OperationSet struct {
	Page           Value[int]
	Format         Value[Format]
	Quality        Value[int]
	Width          Value[int]
	Height         Value[int]
	AutoSizeFit    Value[bool]
	Left           Value[float64]
	Top            Value[float64]
	Right          Value[float64]
	Bottom         Value[float64]
	AutoCropFit    Value[bool]
	Fill           Value[Color]
	Flip           Value[FlipAxis]
	Angle          Value[int]
	Overlay        Value[string]
	OverlaySize    Value[float64]
	OverlayPos     Value[Position]
	OverlayOpacity Value[float64]
	ICC            Value[string]
	Intent         Value[Intent]
	BPC            Value[bool]
	Colorspace     Value[Colorspace]
	Tile           Value[Tile]
	Strip          Value[bool]
	DPI            Value[int]

	// Delivery options. They change accounting and response headers, never
	// the generated bytes, so they are not part of the content key.
	Stats   Value[bool]
	Attach  Value[bool]
	Expires Value[int]
}

// Limits bounds option values that depend on deployment configuration.
type Limits struct {
	MaxDimension int
	MaxDPI       int
	MaxTileGrid  int
}

// DefaultLimits returns the limits used when none are configured.
func DefaultLimits() Limits {
	return Limits{MaxDimension: 10000, MaxDPI: 2400, MaxTileGrid: 16}
}

// Parse builds a set from ordered parameters. Unknown keys (including src
// and tmp) and empty values are ignored; a value outside its domain is a
// validation error naming the parameter.
func Parse(p Params) (OperationSet, error) {
	var s OperationSet
	for _, kv := range p {
		f, ok := fieldsByName[kv.Key]
		if !ok || kv.Value == "" {
			continue
		}
		if err := f.parse(&s, kv.Value); err != nil {
			return OperationSet{}, err
		}
	}
	return s, nil
}

// ParseTemplate builds a set from stored template values. A nil value
// becomes Inherit. Unknown option names are rejected.
func ParseTemplate(values map[string]*string) (OperationSet, error) {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var s OperationSet
	for _, k := range keys {
		f, ok := fieldsByName[k]
		if !ok {
			return OperationSet{}, models.InvalidParameter(k, "unknown template option %q", k)
		}
		v := values[k]
		if v == nil {
			f.inherit(&s)
			continue
		}
		if err := f.parse(&s, *v); err != nil {
			return OperationSet{}, err
		}
	}
	return s, nil
}

// Over layers s on top of under, field by field.
func (s OperationSet) Over(under OperationSet) OperationSet {
	var out OperationSet
	for i := range fields {
		fields[i].merge(&out, &s, &under)
	}
	return out
}

// Settle replaces every Inherit with Unset.
func (s OperationSet) Settle() OperationSet {
	for i := range fields {
		fields[i].settle(&s)
	}
	return s
}

// Settled reports whether no field is Inherit.
func (s OperationSet) Settled() bool {
	for i := range fields {
		if _, st := fields[i].encode(&s); st == Inherit {
			return false
		}
	}
	return true
}

// Params lists every Set field in canonical order.
func (s OperationSet) Params() Params {
	return s.collect(false)
}

// ContentParams lists the Set fields that affect the generated bytes, in
// canonical order.
func (s OperationSet) ContentParams() Params {
	return s.collect(true)
}

func (s OperationSet) collect(contentOnly bool) Params {
	var out Params
	for i := range fields {
		if contentOnly && !fields[i].content {
			continue
		}
		if v, st := fields[i].encode(&s); st == Set {
			out = append(out, Param{Key: fields[i].name, Value: v})
		}
	}
	return out
}

// CropBox returns the requested crop with missing edges defaulted to the
// image border. ok is false when no crop edge is set.
func (s OperationSet) CropBox() (box CropBox, ok bool) {
	ok = s.Left.IsSet() || s.Top.IsSet() || s.Right.IsSet() || s.Bottom.IsSet()
	box = CropBox{
		Left:   s.Left.Or(0),
		Top:    s.Top.Or(0),
		Right:  s.Right.Or(1),
		Bottom: s.Bottom.Or(1),
	}
	return box, ok
}

// Validate checks constraints spanning several options, and options
// bounded by deployment limits.
func (s OperationSet) Validate(lim Limits) error {
	if box, ok := s.CropBox(); ok {
		if box.Left >= box.Right {
			return models.InvalidParameter("left", "left (%g) must be less than right (%g)", box.Left, box.Right)
		}
		if box.Top >= box.Bottom {
			return models.InvalidParameter("top", "top (%g) must be less than bottom (%g)", box.Top, box.Bottom)
		}
	}
	if lim.MaxDimension > 0 {
		if w, ok := s.Width.Get(); ok && w > lim.MaxDimension {
			return models.InvalidParameter("width", "width %d exceeds the maximum of %d", w, lim.MaxDimension)
		}
		if h, ok := s.Height.Get(); ok && h > lim.MaxDimension {
			return models.InvalidParameter("height", "height %d exceeds the maximum of %d", h, lim.MaxDimension)
		}
	}
	if d, ok := s.DPI.Get(); ok && lim.MaxDPI > 0 && d > lim.MaxDPI {
		return models.InvalidParameter("dpi", "dpi %d exceeds the maximum of %d", d, lim.MaxDPI)
	}
	if t, ok := s.Tile.Get(); ok && lim.MaxTileGrid > 0 && t.Grid > lim.MaxTileGrid {
		return models.InvalidParameter("tile", "tile grid %d exceeds the maximum of %d", t.Grid, lim.MaxTileGrid)
	}
	if !s.ICC.IsSet() {
		if s.Intent.IsSet() {
			return models.InvalidParameter("intent", "intent requires an icc profile")
		}
		if s.BPC.IsSet() {
			return models.InvalidParameter("bpc", "bpc requires an icc profile")
		}
	}
	return nil
}

// String renders the Set fields for logging.
func (s OperationSet) String() string {
	return fmt.Sprintf("ops{%s}", s.Params().Encode())
}
