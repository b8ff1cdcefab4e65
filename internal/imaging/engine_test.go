// Lumen - Dynamic Image Generation Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lumen

package imaging

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/disintegration/imaging"

	"github.com/tomtom215/lumen/internal/models"
	"github.com/tomtom215/lumen/internal/ops"
)

func testImage(t *testing.T, w, h int, format imaging.Format) []byte {
	t.Helper()
	img := imaging.New(w, h, color.NRGBA{R: 200, G: 40, B: 40, A: 255})
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, format); err != nil {
		t.Fatalf("encode fixture: %v", err)
	}
	return buf.Bytes()
}

func decodeSize(t *testing.T, data []byte) image.Point {
	t.Helper()
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	return img.Bounds().Size()
}

func TestProbe(t *testing.T) {
	e := NewEngine(Options{})
	info, err := e.Probe(context.Background(), testImage(t, 40, 20, imaging.PNG))
	if err != nil {
		t.Fatal(err)
	}
	if info.Width != 40 || info.Height != 20 || info.Format != ops.FormatPNG {
		t.Errorf("Probe = %+v", info)
	}

	_, err = e.Probe(context.Background(), []byte("not an image"))
	if !models.IsKind(err, models.KindUnsupportedSource) {
		t.Errorf("corrupt Probe err = %v, want unsupported source", err)
	}
}

func TestApplySteps(t *testing.T) {
	src := testImage(t, 40, 20, imaging.PNG)
	white := ops.Color{R: 255, G: 255, B: 255, A: 255}

	tests := []struct {
		name  string
		steps []ops.Step
		want  image.Point
	}{
		{"no steps", nil, image.Pt(40, 20)},
		{"flip", []ops.Step{ops.FlipStep{Axis: ops.FlipBoth}}, image.Pt(40, 20)},
		{"rotate 90", []ops.Step{ops.RotateStep{Angle: 90, Fill: white}}, image.Pt(20, 40)},
		{"crop half width", []ops.Step{ops.CropStep{Box: ops.CropBox{Left: 0, Top: 0, Right: 0.5, Bottom: 1}}}, image.Pt(20, 20)},
		{"resize scale width only", []ops.Step{ops.ResizeStep{Width: 20}}, image.Pt(20, 10)},
		{"resize pad", []ops.Step{ops.ResizeStep{Width: 30, Height: 30, Mode: ops.ResizePad, Fill: white}}, image.Pt(30, 30)},
		{"tile last cell", []ops.Step{ops.TileStep{Index: 4, Grid: 2}}, image.Pt(20, 10)},
		{"gray and strip", []ops.Step{ops.ColorspaceStep{Space: ops.ColorspaceGray}, ops.StripStep{}}, image.Pt(40, 20)},
		{"profile is accepted", []ops.Step{ops.ProfileStep{Name: "srgb", Intent: ops.IntentPerceptual}}, image.Pt(40, 20)},
	}

	e := NewEngine(Options{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := ops.Plan{Steps: tt.steps, Output: ops.Output{Format: ops.FormatPNG, Page: 1}}
			out, err := e.Apply(context.Background(), src, plan)
			if err != nil {
				t.Fatalf("Apply: %v", err)
			}
			if got := decodeSize(t, out); got != tt.want {
				t.Errorf("size = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestApplyEncodesRequestedFormat(t *testing.T) {
	e := NewEngine(Options{})
	out, err := e.Apply(context.Background(), testImage(t, 10, 10, imaging.PNG), ops.Plan{
		Output: ops.Output{Format: ops.FormatJPEG, Quality: 80},
	})
	if err != nil {
		t.Fatal(err)
	}
	info, err := e.Probe(context.Background(), out)
	if err != nil {
		t.Fatal(err)
	}
	if info.Format != ops.FormatJPEG {
		t.Errorf("format = %s, want jpg", info.Format)
	}
}

func TestApplyOverlay(t *testing.T) {
	badge := testImage(t, 8, 8, imaging.PNG)
	var loaded string
	e := NewEngine(Options{Overlays: func(_ context.Context, path string) ([]byte, error) {
		loaded = path
		return badge, nil
	}})
	plan := ops.Plan{
		Steps:  []ops.Step{ops.OverlayStep{Source: "logo.png", Size: 0.25, Position: ops.PosSouthEast, Opacity: 0.5}},
		Output: ops.Output{Format: ops.FormatPNG},
	}
	out, err := e.Apply(context.Background(), testImage(t, 40, 20, imaging.PNG), plan)
	if err != nil {
		t.Fatal(err)
	}
	if loaded != "logo.png" {
		t.Errorf("overlay loaded %q", loaded)
	}
	if got := decodeSize(t, out); got != image.Pt(40, 20) {
		t.Errorf("size = %v", got)
	}
}

func TestAnchor(t *testing.T) {
	outer := image.Rect(0, 0, 100, 50)
	inner := image.Rect(0, 0, 10, 10)
	tests := []struct {
		pos  ops.Position
		want image.Point
	}{
		{ops.PosCenter, image.Pt(45, 20)},
		{ops.PosNorthWest, image.Pt(0, 0)},
		{ops.PosSouthEast, image.Pt(90, 40)},
		{ops.PosNorth, image.Pt(45, 0)},
		{ops.PosWest, image.Pt(0, 20)},
	}
	for _, tt := range tests {
		t.Run(string(tt.pos), func(t *testing.T) {
			if got := anchor(outer, inner, tt.pos); got != tt.want {
				t.Errorf("anchor = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestApplyErrors(t *testing.T) {
	src := testImage(t, 40, 20, imaging.PNG)

	t.Run("corrupt source", func(t *testing.T) {
		_, err := NewEngine(Options{}).Apply(context.Background(), []byte{0xff, 0xd8, 0x00}, ops.Plan{})
		if !models.IsKind(err, models.KindUnsupportedSource) {
			t.Errorf("err = %v, want unsupported source", err)
		}
	})

	t.Run("second page", func(t *testing.T) {
		_, err := NewEngine(Options{}).Apply(context.Background(), src, ops.Plan{Output: ops.Output{Page: 2}})
		if !models.IsKind(err, models.KindValidation) {
			t.Errorf("err = %v, want validation", err)
		}
	})

	t.Run("larger than budget", func(t *testing.T) {
		_, err := NewEngine(Options{PixelBudget: 100}).Apply(context.Background(), src, ops.Plan{})
		if !models.IsKind(err, models.KindUnsupportedSource) {
			t.Errorf("err = %v, want unsupported source", err)
		}
	})

	t.Run("budget exhausted", func(t *testing.T) {
		e := NewEngine(Options{PixelBudget: 1000})
		if err := e.budget.Acquire(context.Background(), 1000); err != nil {
			t.Fatal(err)
		}
		defer e.budget.Release(1000)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		_, err := e.Apply(ctx, src, ops.Plan{})
		if !models.IsKind(err, models.KindBackendTransient) {
			t.Errorf("err = %v, want transient", err)
		}
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("err = %v, want wrapped deadline", err)
		}
	})

	t.Run("overlay without loader", func(t *testing.T) {
		plan := ops.Plan{Steps: []ops.Step{ops.OverlayStep{Source: "x.png", Size: 1, Opacity: 1}}}
		_, err := NewEngine(Options{}).Apply(context.Background(), src, plan)
		if !models.IsKind(err, models.KindValidation) {
			t.Errorf("err = %v, want validation", err)
		}
	})
}
