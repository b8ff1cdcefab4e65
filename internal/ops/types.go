// Lumen - Dynamic Image Generation Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lumen

package ops

import (
	"fmt"
	"strconv"
	"strings"
)

// Format is an output image format.
type Format string

const (
	FormatJPEG Format = "jpg"
	FormatPNG  Format = "png"
	FormatGIF  Format = "gif"
	FormatTIFF Format = "tif"
	FormatBMP  Format = "bmp"
)

// ContentType returns the MIME type served for the format.
func (f Format) ContentType() string {
	switch f {
	case FormatPNG:
		return "image/png"
	case FormatGIF:
		return "image/gif"
	case FormatTIFF:
		return "image/tiff"
	case FormatBMP:
		return "image/bmp"
	default:
		return "image/jpeg"
	}
}

// ParseFormat normalises a format name or file extension.
func ParseFormat(s string) (Format, bool) {
	switch strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), ".") {
	case "jpg", "jpeg", "jpe", "pjpeg":
		return FormatJPEG, true
	case "png":
		return FormatPNG, true
	case "gif":
		return FormatGIF, true
	case "tif", "tiff":
		return FormatTIFF, true
	case "bmp":
		return FormatBMP, true
	default:
		return "", false
	}
}

// FlipAxis mirrors the image horizontally, vertically, or both.
type FlipAxis string

const (
	FlipHorizontal FlipAxis = "h"
	FlipVertical   FlipAxis = "v"
	FlipBoth       FlipAxis = "hv"
)

// Position anchors an overlay on the image.
type Position string

const (
	PosCenter    Position = "c"
	PosNorth     Position = "n"
	PosNorthEast Position = "ne"
	PosEast      Position = "e"
	PosSouthEast Position = "se"
	PosSouth     Position = "s"
	PosSouthWest Position = "sw"
	PosWest      Position = "w"
	PosNorthWest Position = "nw"
)

var positions = map[string]Position{
	"c": PosCenter, "n": PosNorth, "ne": PosNorthEast, "e": PosEast, "se": PosSouthEast,
	"s": PosSouth, "sw": PosSouthWest, "w": PosWest, "nw": PosNorthWest,
}

// Intent is an ICC rendering intent.
type Intent string

const (
	IntentPerceptual Intent = "perceptual"
	IntentRelative   Intent = "relative"
	IntentSaturation Intent = "saturation"
	IntentAbsolute   Intent = "absolute"
)

// Colorspace is a target colour model.
type Colorspace string

const (
	ColorspaceRGB  Colorspace = "rgb"
	ColorspaceSRGB Colorspace = "srgb"
	ColorspaceCMYK Colorspace = "cmyk"
	ColorspaceGray Colorspace = "gray"
)

// Tile selects cell Index (1-based, row-major) of a Grid x Grid split.
type Tile struct {
	Index int
	Grid  int
}

func (t Tile) String() string { return fmt.Sprintf("%d:%d", t.Index, t.Grid) }

// Color is a straight-alpha RGBA fill colour.
type Color struct {
	R, G, B, A uint8
}

// String returns the canonical lowercase #rrggbbaa form.
func (c Color) String() string {
	return fmt.Sprintf("#%02x%02x%02x%02x", c.R, c.G, c.B, c.A)
}

var namedColors = map[string]Color{
	"white":       {255, 255, 255, 255},
	"black":       {0, 0, 0, 255},
	"gray":        {128, 128, 128, 255},
	"grey":        {128, 128, 128, 255},
	"red":         {255, 0, 0, 255},
	"green":       {0, 128, 0, 255},
	"blue":        {0, 0, 255, 255},
	"yellow":      {255, 255, 0, 255},
	"none":        {0, 0, 0, 0},
	"transparent": {0, 0, 0, 0},
}

// ParseColor accepts a colour name, #rgb, #rrggbb or #rrggbbaa (the leading
// '#' is optional).
func ParseColor(s string) (Color, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if c, ok := namedColors[s]; ok {
		return c, nil
	}
	hex := strings.TrimPrefix(s, "#")
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	if len(hex) == 6 {
		hex += "ff"
	}
	if len(hex) != 8 {
		return Color{}, fmt.Errorf("invalid colour %q", s)
	}
	n, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return Color{}, fmt.Errorf("invalid colour %q", s)
	}
	return Color{R: uint8(n >> 24), G: uint8(n >> 16), B: uint8(n >> 8), A: uint8(n)}, nil
}

// CropBox is a fractional crop region; all coordinates lie in [0,1].
type CropBox struct {
	Left, Top, Right, Bottom float64
}

// Full reports whether the box covers the whole image.
func (b CropBox) Full() bool {
	return b.Left == 0 && b.Top == 0 && b.Right == 1 && b.Bottom == 1
}

// Width is the fractional width.
func (b CropBox) Width() float64 { return b.Right - b.Left }

// Height is the fractional height.
func (b CropBox) Height() float64 { return b.Bottom - b.Top }

// Dimensions is a pixel size. Fractional values are allowed for
// intermediate geometry.
type Dimensions struct {
	Width, Height float64
}

// Aspect returns width/height, or 0 for an empty size.
func (d Dimensions) Aspect() float64 {
	if d.Height <= 0 {
		return 0
	}
	return d.Width / d.Height
}
