// Lumen - Dynamic Image Generation Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lumen

// Package imaging is the reference imaging backend. It decodes an
// original, applies an ops.Plan step by step and encodes the result using
// github.com/disintegration/imaging.
//
// Decoding is bounded by a weighted semaphore measured in pixels, so a
// burst of large originals queues instead of exhausting memory. Failing to
// obtain the budget before the build deadline is a transient backend error.
package imaging

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	"golang.org/x/sync/semaphore"

	"github.com/tomtom215/lumen/internal/logging"
	"github.com/tomtom215/lumen/internal/models"
	"github.com/tomtom215/lumen/internal/ops"
)

// Backend applies an ordered plan to the bytes of an original.
type Backend interface {
	Probe(ctx context.Context, data []byte) (ops.SourceInfo, error)
	Apply(ctx context.Context, data []byte, plan ops.Plan) ([]byte, error)
}

// OverlayLoader returns the bytes of an overlay original by path.
type OverlayLoader func(ctx context.Context, path string) ([]byte, error)

// Options configures an Engine.
type Options struct {
	// PixelBudget is the total number of decoded pixels allowed at once.
	PixelBudget int64
	// Overlays loads overlay originals. Without it overlay steps fail.
	Overlays OverlayLoader
}

// Engine is the disintegration/imaging implementation of Backend.
type Engine struct {
	budget      *semaphore.Weighted
	budgetTotal int64
	overlays    OverlayLoader
}

// DefaultPixelBudget allows roughly four 24 megapixel decodes at once.
const DefaultPixelBudget = 96_000_000

// NewEngine creates an Engine.
func NewEngine(opts Options) *Engine {
	if opts.PixelBudget <= 0 {
		opts.PixelBudget = DefaultPixelBudget
	}
	return &Engine{
		budget:      semaphore.NewWeighted(opts.PixelBudget),
		budgetTotal: opts.PixelBudget,
		overlays:    opts.Overlays,
	}
}

// Probe reads the dimensions and format without decoding pixels.
func (e *Engine) Probe(_ context.Context, data []byte) (ops.SourceInfo, error) {
	cfg, name, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return ops.SourceInfo{}, models.UnsupportedSource("", err)
	}
	format, _ := ops.ParseFormat(name)
	return ops.SourceInfo{Width: cfg.Width, Height: cfg.Height, Format: format}, nil
}

// Apply decodes data, runs every step of plan in order and encodes the
// result in plan.Output.Format.
func (e *Engine) Apply(ctx context.Context, data []byte, plan ops.Plan) ([]byte, error) {
	if plan.Output.Page > 1 {
		return nil, models.InvalidParameter("page", "source has a single page")
	}

	info, err := e.Probe(ctx, data)
	if err != nil {
		return nil, err
	}
	release, err := e.reserve(ctx, int64(info.Width)*int64(info.Height))
	if err != nil {
		return nil, err
	}
	defer release()

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, models.UnsupportedSource("", err)
	}

	for _, step := range plan.Steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		img, err = e.apply(ctx, img, step)
		if err != nil {
			return nil, fmt.Errorf("%s step: %w", step.Kind(), err)
		}
	}

	return encode(img, plan.Output)
}

func (e *Engine) reserve(ctx context.Context, pixels int64) (func(), error) {
	if pixels > e.budgetTotal {
		return nil, models.UnsupportedSource("", fmt.Errorf("image of %d pixels exceeds the decode budget", pixels))
	}
	if err := e.budget.Acquire(ctx, pixels); err != nil {
		return nil, models.Transient("imaging.decode", err)
	}
	return func() { e.budget.Release(pixels) }, nil
}

func (e *Engine) apply(ctx context.Context, img image.Image, step ops.Step) (image.Image, error) {
	switch s := step.(type) {
	case ops.FlipStep:
		return flip(img, s.Axis), nil
	case ops.RotateStep:
		// imaging rotates counter-clockwise.
		return imaging.Rotate(img, float64(360-s.Angle), toColor(s.Fill)), nil
	case ops.CropStep:
		return crop(img, s.Box), nil
	case ops.ResizeStep:
		return resize(img, s), nil
	case ops.OverlayStep:
		return e.overlay(ctx, img, s)
	case ops.TileStep:
		return tile(img, s.Index, s.Grid), nil
	case ops.ProfileStep:
		logging.Ctx(ctx).Debug().Str("profile", s.Name).Msg("colour profile accepted, not applied")
		return img, nil
	case ops.ColorspaceStep:
		if s.Space == ops.ColorspaceGray {
			return imaging.Grayscale(img), nil
		}
		return img, nil
	case ops.StripStep:
		// Encoders never copy metadata.
		return img, nil
	default:
		return nil, models.Internal("imaging.apply", fmt.Errorf("unknown step %T", step))
	}
}

func flip(img image.Image, axis ops.FlipAxis) image.Image {
	switch axis {
	case ops.FlipHorizontal:
		return imaging.FlipH(img)
	case ops.FlipVertical:
		return imaging.FlipV(img)
	default:
		return imaging.FlipV(imaging.FlipH(img))
	}
}

func crop(img image.Image, box ops.CropBox) image.Image {
	b := img.Bounds()
	w, h := float64(b.Dx()), float64(b.Dy())
	rect := image.Rect(
		b.Min.X+round(box.Left*w), b.Min.Y+round(box.Top*h),
		b.Min.X+round(box.Right*w), b.Min.Y+round(box.Bottom*h),
	)
	if rect.Dx() < 1 {
		rect.Max.X = rect.Min.X + 1
	}
	if rect.Dy() < 1 {
		rect.Max.Y = rect.Min.Y + 1
	}
	return imaging.Crop(img, rect)
}

func resize(img image.Image, s ops.ResizeStep) image.Image {
	if s.Mode != ops.ResizePad {
		return imaging.Resize(img, s.Width, s.Height, imaging.Lanczos)
	}
	fitted := imaging.Fit(img, s.Width, s.Height, imaging.Lanczos)
	canvas := imaging.New(s.Width, s.Height, toColor(s.Fill))
	return imaging.PasteCenter(canvas, fitted)
}

func (e *Engine) overlay(ctx context.Context, img image.Image, s ops.OverlayStep) (image.Image, error) {
	if e.overlays == nil {
		return nil, models.InvalidParameter("overlay", "overlays are not available")
	}
	data, err := e.overlays(ctx, s.Source)
	if err != nil {
		return nil, err
	}
	ov, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, models.UnsupportedSource(s.Source, err)
	}

	b := img.Bounds()
	width := round(float64(b.Dx()) * s.Size)
	if width < 1 {
		width = 1
	}
	ov = imaging.Resize(ov, width, 0, imaging.Lanczos)
	return imaging.Overlay(img, ov, anchor(b, ov.Bounds(), s.Position), s.Opacity), nil
}

// anchor returns the top-left point that places inner at pos within outer.
func anchor(outer, inner image.Rectangle, pos ops.Position) image.Point {
	freeX, freeY := outer.Dx()-inner.Dx(), outer.Dy()-inner.Dy()
	x, y := freeX/2, freeY/2
	switch pos {
	case ops.PosNorth, ops.PosNorthEast, ops.PosNorthWest:
		y = 0
	case ops.PosSouth, ops.PosSouthEast, ops.PosSouthWest:
		y = freeY
	}
	switch pos {
	case ops.PosWest, ops.PosNorthWest, ops.PosSouthWest:
		x = 0
	case ops.PosEast, ops.PosNorthEast, ops.PosSouthEast:
		x = freeX
	}
	return image.Pt(outer.Min.X+x, outer.Min.Y+y)
}

// tile keeps cell index (1-based, row-major) of a grid x grid split. Edge
// cells absorb the remainder.
func tile(img image.Image, index, grid int) image.Image {
	b := img.Bounds()
	row, col := (index-1)/grid, (index-1)%grid
	x0 := b.Min.X + col*b.Dx()/grid
	x1 := b.Min.X + (col+1)*b.Dx()/grid
	y0 := b.Min.Y + row*b.Dy()/grid
	y1 := b.Min.Y + (row+1)*b.Dy()/grid
	if x1 <= x0 {
		x1 = x0 + 1
	}
	if y1 <= y0 {
		y1 = y0 + 1
	}
	return imaging.Crop(img, image.Rect(x0, y0, x1, y1))
}

func encode(img image.Image, out ops.Output) ([]byte, error) {
	format, err := imagingFormat(out.Format)
	if err != nil {
		return nil, err
	}
	var opts []imaging.EncodeOption
	if out.Quality > 0 {
		opts = append(opts, imaging.JPEGQuality(out.Quality))
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, format, opts...); err != nil {
		return nil, models.Internal("imaging.encode", err)
	}
	if buf.Len() == 0 {
		return nil, models.Internal("imaging.encode", errors.New("encoder produced no bytes"))
	}
	return buf.Bytes(), nil
}

func imagingFormat(f ops.Format) (imaging.Format, error) {
	switch f {
	case ops.FormatJPEG, "":
		return imaging.JPEG, nil
	case ops.FormatPNG:
		return imaging.PNG, nil
	case ops.FormatGIF:
		return imaging.GIF, nil
	case ops.FormatTIFF:
		return imaging.TIFF, nil
	case ops.FormatBMP:
		return imaging.BMP, nil
	default:
		return 0, models.InvalidParameter("format", "unsupported output format %q", f)
	}
}

func toColor(c ops.Color) color.Color {
	return color.NRGBA{R: c.R, G: c.G, B: c.B, A: c.A}
}

func round(f float64) int {
	return int(f + 0.5)
}
