// Lumen - Dynamic Image Generation Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lumen

package ops

// StepKind identifies a pipeline stage. The numeric order is the order in
// which stages are applied.
type StepKind int

const (
	StepFlip StepKind = iota
	StepRotate
	StepCrop
	StepResize
	StepOverlay
	StepTile
	StepProfile
	StepColorspace
	StepStrip
)

var stepNames = [...]string{"flip", "rotate", "crop", "resize", "overlay", "tile", "profile", "colorspace", "strip"}

func (k StepKind) String() string {
	if k < 0 || int(k) >= len(stepNames) {
		return "unknown"
	}
	return stepNames[k]
}

// Step is one concrete instruction for the imaging backend.
type Step interface {
	Kind() StepKind
}

// FlipStep mirrors the image.
type FlipStep struct {
	Axis FlipAxis
}

// RotateStep rotates clockwise by Angle degrees. For angles that are not a
// multiple of 90 the canvas grows to the rotated bounds and the exposed
// corners are painted with Fill.
type RotateStep struct {
	Angle int
	Fill  Color
}

// CropStep keeps the fractional Box of the current image.
type CropStep struct {
	Box CropBox
}

// ResizeMode selects how a resize treats the requested box.
type ResizeMode int

const (
	// ResizeScale scales to Width x Height exactly; a zero dimension is
	// derived from the aspect ratio.
	ResizeScale ResizeMode = iota
	// ResizePad fits the image inside Width x Height preserving aspect and
	// pads the remainder with Fill.
	ResizePad
)

// ResizeStep changes the image size.
type ResizeStep struct {
	Width  int
	Height int
	Mode   ResizeMode
	Fill   Color
}

// OverlayStep composites another original onto the image. Size is the
// overlay width relative to the image width.
type OverlayStep struct {
	Source   string
	Size     float64
	Position Position
	Opacity  float64
}

// TileStep keeps cell Index (1-based, row-major) of a Grid x Grid split.
type TileStep struct {
	Index int
	Grid  int
}

// ProfileStep applies an ICC colour profile.
type ProfileStep struct {
	Name       string
	Intent     Intent
	BlackPoint bool
}

// ColorspaceStep converts to a colour model.
type ColorspaceStep struct {
	Space Colorspace
}

// StripStep removes embedded metadata.
type StripStep struct{}

func (FlipStep) Kind() StepKind       { return StepFlip }
func (RotateStep) Kind() StepKind     { return StepRotate }
func (CropStep) Kind() StepKind       { return StepCrop }
func (ResizeStep) Kind() StepKind     { return StepResize }
func (OverlayStep) Kind() StepKind    { return StepOverlay }
func (TileStep) Kind() StepKind       { return StepTile }
func (ProfileStep) Kind() StepKind    { return StepProfile }
func (ColorspaceStep) Kind() StepKind { return StepColorspace }
func (StripStep) Kind() StepKind      { return StepStrip }
