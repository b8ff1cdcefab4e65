// Lumen - Dynamic Image Generation Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lumen

package ops

import (
	"errors"
	"math"

	"github.com/tomtom215/lumen/internal/models"
)

// SourceInfo describes the original before any step is applied.
type SourceInfo struct {
	Width  int
	Height int
	Format Format
}

// Defaults supplies values for options left Unset after resolution.
type Defaults struct {
	Fill    Color
	Format  Format
	Quality int
}

// Apply fills the options d covers that s leaves unset. The output format
// is not among them; callers fix it separately.
func (d Defaults) Apply(s OperationSet) OperationSet {
	if !s.Quality.IsSet() && d.Quality > 0 {
		s.Quality = Of(d.Quality)
	}
	if !s.Fill.IsSet() {
		s.Fill = Of(d.Fill)
	}
	return s
}

// Output describes how the final image is encoded.
type Output struct {
	Format  Format
	Quality int
	DPI     int
	Page    int
}

// Plan is the ordered list of steps plus encoding options.
type Plan struct {
	Steps  []Step
	Output Output
	// Size is the expected output size in pixels, before tiling rounding.
	Size Dimensions
	// Padded is true when the resize leaves a border of fill colour.
	Padded bool
}

// Kinds returns the step kinds in order.
func (p Plan) Kinds() []StepKind {
	out := make([]StepKind, len(p.Steps))
	for i, s := range p.Steps {
		out[i] = s.Kind()
	}
	return out
}

// Sequence turns a resolved set into the fixed pipeline
// flip, rotate, crop, resize, overlay, tile, profile, colorspace, strip.
// Only configured stages are emitted. The order never depends on the
// order in which options were supplied.
func Sequence(s OperationSet, src SourceInfo, d Defaults) (Plan, error) {
	if !s.Settled() {
		return Plan{}, models.Internal("sequence", errors.New("operation set contains unresolved inherit values"))
	}
	if src.Width <= 0 || src.Height <= 0 {
		return Plan{}, models.UnsupportedSource("", errors.New("source has no dimensions"))
	}

	var plan Plan
	dims := Dimensions{Width: float64(src.Width), Height: float64(src.Height)}
	fill := s.Fill.Or(d.Fill)

	if axis, ok := s.Flip.Get(); ok {
		plan.Steps = append(plan.Steps, FlipStep{Axis: axis})
	}

	if angle := s.Angle.Or(0); angle != 0 {
		plan.Steps = append(plan.Steps, RotateStep{Angle: angle, Fill: fill})
		dims = rotatedBounds(dims, angle)
	}

	width, height := s.Width.Or(0), s.Height.Or(0)

	if box, ok := s.CropBox(); ok {
		if s.AutoCropFit.Or(false) && width > 0 && height > 0 {
			box = autoCropFit(box, dims, float64(width)/float64(height))
		}
		if !box.Full() {
			plan.Steps = append(plan.Steps, CropStep{Box: box})
			dims = Dimensions{Width: dims.Width * box.Width(), Height: dims.Height * box.Height()}
		}
	}

	if width > 0 || height > 0 {
		step, padded := planResize(dims, width, height, s.AutoSizeFit.Or(false), fill)
		plan.Steps = append(plan.Steps, step)
		plan.Padded = padded
		dims = resizedDims(dims, step)
	}

	if ov, ok := s.Overlay.Get(); ok {
		plan.Steps = append(plan.Steps, OverlayStep{
			Source:   ov,
			Size:     s.OverlaySize.Or(1),
			Position: s.OverlayPos.Or(PosCenter),
			Opacity:  s.OverlayOpacity.Or(1),
		})
	}

	if t, ok := s.Tile.Get(); ok {
		plan.Steps = append(plan.Steps, TileStep{Index: t.Index, Grid: t.Grid})
		dims = Dimensions{Width: dims.Width / float64(t.Grid), Height: dims.Height / float64(t.Grid)}
	}

	if icc, ok := s.ICC.Get(); ok {
		plan.Steps = append(plan.Steps, ProfileStep{
			Name:       icc,
			Intent:     s.Intent.Or(IntentPerceptual),
			BlackPoint: s.BPC.Or(false),
		})
	}

	if cs, ok := s.Colorspace.Get(); ok {
		plan.Steps = append(plan.Steps, ColorspaceStep{Space: cs})
	}

	if s.Strip.Or(false) {
		plan.Steps = append(plan.Steps, StripStep{})
	}

	format := d.Format
	if src.Format != "" {
		format = src.Format
	}
	plan.Output = Output{
		Format:  s.Format.Or(format),
		Quality: s.Quality.Or(d.Quality),
		DPI:     s.DPI.Or(0),
		Page:    s.Page.Or(1),
	}
	plan.Size = dims
	return plan, nil
}

// rotatedBounds returns the bounding box of dims rotated by angle degrees.
func rotatedBounds(dims Dimensions, angle int) Dimensions {
	switch angle % 180 {
	case 0:
		return dims
	case 90:
		return Dimensions{Width: dims.Height, Height: dims.Width}
	}
	rad := float64(angle) * math.Pi / 180
	c, s := math.Abs(math.Cos(rad)), math.Abs(math.Sin(rad))
	return Dimensions{
		Width:  dims.Width*c + dims.Height*s,
		Height: dims.Width*s + dims.Height*c,
	}
}

// sameAspect reports whether scaling dims to w x h distorts by less than
// half a pixel.
func sameAspect(dims Dimensions, w, h int) bool {
	a := dims.Aspect()
	if a == 0 {
		return false
	}
	return math.Abs(float64(w)/a-float64(h)) < 0.5 || math.Abs(float64(h)*a-float64(w)) < 0.5
}

func planResize(dims Dimensions, w, h int, autoSizeFit bool, fill Color) (ResizeStep, bool) {
	if w == 0 || h == 0 || sameAspect(dims, w, h) {
		return ResizeStep{Width: w, Height: h, Mode: ResizeScale}, false
	}
	if autoSizeFit {
		fw, fh := fitInside(dims, w, h)
		return ResizeStep{Width: fw, Height: fh, Mode: ResizeScale}, false
	}
	return ResizeStep{Width: w, Height: h, Mode: ResizePad, Fill: fill}, true
}

// fitInside returns the largest size with dims' aspect that fits w x h.
func fitInside(dims Dimensions, w, h int) (int, int) {
	a := dims.Aspect()
	if a >= float64(w)/float64(h) {
		return w, max(1, int(math.Round(float64(w)/a)))
	}
	return max(1, int(math.Round(float64(h)*a))), h
}

func resizedDims(dims Dimensions, r ResizeStep) Dimensions {
	w, h := float64(r.Width), float64(r.Height)
	switch {
	case w == 0:
		w = h * dims.Aspect()
	case h == 0 && dims.Aspect() > 0:
		h = w / dims.Aspect()
	}
	return Dimensions{Width: w, Height: h}
}

// autoCropFit widens box along the axis that would otherwise be padded
// so that its pixel aspect matches target. Expansion is centred, shifts
// when it meets an edge and stops at the full extent of the axis; any
// remaining mismatch is padded by the resize.
func autoCropFit(box CropBox, dims Dimensions, target float64) CropBox {
	cw := box.Width() * dims.Width
	ch := box.Height() * dims.Height
	if ch <= 0 || cw <= 0 {
		return box
	}
	current := cw / ch
	if math.Abs(current-target) < 1e-9 {
		return box
	}
	if current < target {
		box.Left, box.Right = expandSpan(box.Left, box.Right, ch*target/dims.Width)
	} else {
		box.Top, box.Bottom = expandSpan(box.Top, box.Bottom, cw/target/dims.Height)
	}
	return box
}

func expandSpan(lo, hi, span float64) (float64, float64) {
	if span >= 1 {
		return 0, 1
	}
	c := (lo + hi) / 2
	lo, hi = c-span/2, c+span/2
	if lo < 0 {
		hi -= lo
		lo = 0
	}
	if hi > 1 {
		lo -= hi - 1
		hi = 1
	}
	return math.Max(0, lo), math.Min(1, hi)
}
