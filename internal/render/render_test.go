// Lumen - Dynamic Image Generation Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lumen

package render

import (
	"bytes"
	"context"
	"image/color"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/disintegration/imaging"

	"github.com/tomtom215/lumen/internal/cache"
	"github.com/tomtom215/lumen/internal/generator"
	appimaging "github.com/tomtom215/lumen/internal/imaging"
	"github.com/tomtom215/lumen/internal/models"
	"github.com/tomtom215/lumen/internal/ops"
	"github.com/tomtom215/lumen/internal/resolver"
	"github.com/tomtom215/lumen/internal/source"
)

type templates map[string]*models.Template

func (m templates) Template(_ context.Context, name string) (*models.Template, error) {
	if t, ok := m[name]; ok {
		return t, nil
	}
	return nil, models.NotFound("template", name)
}

func (m templates) DefaultTemplate(context.Context) (*models.Template, error) {
	for _, t := range m {
		if t.IsDefault {
			return t, nil
		}
	}
	return nil, nil
}

// levelChecker grants one access level everywhere except the listed paths.
type levelChecker struct {
	level models.AccessLevel
	paths map[string]models.AccessLevel
}

func (c levelChecker) CheckPath(src string, _ models.Caller, need models.AccessLevel) error {
	level, ok := c.paths[src]
	if !ok {
		level = c.level
	}
	if level < need {
		return models.Forbidden("no access to %s", src)
	}
	return nil
}

type countingBackend struct {
	appimaging.Backend
	applies atomic.Int32
}

func (b *countingBackend) Apply(ctx context.Context, data []byte, plan ops.Plan) ([]byte, error) {
	b.applies.Add(1)
	return b.Backend.Apply(ctx, data, plan)
}

type countingStats struct {
	calls []bool
}

func (s *countingStats) Record(_ string, fromCache bool, _ int) {
	s.calls = append(s.calls, fromCache)
}

type fixture struct {
	svc     *Service
	backend *countingBackend
	stats   *countingStats
	checker *levelChecker
	sources *source.Store
}

func jpeg(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	img := imaging.New(w, h, color.NRGBA{R: 10, G: 120, B: 200, A: 255})
	if err := imaging.Encode(&buf, img, imaging.JPEG); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func png(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	img := imaging.New(w, h, color.NRGBA{R: 250, G: 250, B: 250, A: 200})
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func newFixture(t *testing.T, tmpls templates) *fixture {
	t.Helper()
	ctx := context.Background()
	src, err := source.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := src.Save(ctx, "photos/a.jpg", bytes.NewReader(jpeg(t, 400, 200))); err != nil {
		t.Fatal(err)
	}
	if _, err := src.Save(ctx, "photos/broken.jpg", bytes.NewReader([]byte("not a jpeg"))); err != nil {
		t.Fatal(err)
	}

	cfg := generator.DefaultConfig()
	cfg.RetryDelay = time.Millisecond
	coord := generator.New(cfg, cache.NewMemoryStore(100, 1<<24, time.Hour))

	engine := appimaging.NewEngine(appimaging.Options{
		Overlays: func(ctx context.Context, p string) ([]byte, error) {
			data, _, err := src.ReadFile(ctx, p)
			return data, err
		},
	})
	f := &fixture{
		backend: &countingBackend{Backend: engine},
		stats:   &countingStats{},
		checker: &levelChecker{level: models.AccessFull},
		sources: src,
	}
	f.svc = New(Deps{
		Resolver:    resolver.New(tmpls, resolver.Options{CacheSize: 10, CacheTTL: time.Minute, Limits: ops.DefaultLimits()}),
		Checker:     f.checker,
		Sources:     src,
		Backend:     f.backend,
		Coordinator: coord,
		Stats:       f.stats,
	}, Options{MaxAge: time.Hour})
	return f
}

func params(t *testing.T, raw string) ops.Params {
	t.Helper()
	p, err := ops.ParseQuery(raw)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestRenderResizesAndCaches(t *testing.T) {
	f := newFixture(t, templates{})
	ctx := context.Background()

	first, err := f.svc.Render(ctx, Request{Params: params(t, "src=photos/a.jpg&width=200")})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if first.FromCache {
		t.Error("first render reported a cache hit")
	}
	img, err := imaging.Decode(bytes.NewReader(first.Data))
	if err != nil {
		t.Fatal(err)
	}
	if got := img.Bounds().Dx(); got != 200 {
		t.Errorf("width = %d, want 200", got)
	}
	if first.ContentType() != "image/jpeg" || first.MaxAge != time.Hour {
		t.Errorf("image = %s, max-age %v", first.ContentType(), first.MaxAge)
	}

	second, err := f.svc.Render(ctx, Request{Params: params(t, "width=200&src=photos/a.jpg")})
	if err != nil {
		t.Fatal(err)
	}
	if !second.FromCache || second.Key != first.Key {
		t.Errorf("second render = from_cache %v key %s, want cached %s", second.FromCache, second.Key, first.Key)
	}
	if n := f.backend.applies.Load(); n != 1 {
		t.Errorf("backend applied %d times, want 1", n)
	}
}

func TestRenderDeliveryOptionsShareKey(t *testing.T) {
	f := newFixture(t, templates{})
	ctx := context.Background()

	plain, err := f.svc.Render(ctx, Request{Params: params(t, "src=photos/a.jpg&width=100")})
	if err != nil {
		t.Fatal(err)
	}
	counted, err := f.svc.Render(ctx, Request{Params: params(t, "src=photos/a.jpg&width=100&stats=1&expires=60")})
	if err != nil {
		t.Fatal(err)
	}
	if counted.Key != plain.Key || !counted.FromCache {
		t.Errorf("stats and expires changed the key")
	}
	if counted.MaxAge != time.Minute {
		t.Errorf("MaxAge = %v, want 1m", counted.MaxAge)
	}
	if len(f.stats.calls) != 2 || f.stats.calls[0] || !f.stats.calls[1] {
		t.Errorf("stats calls = %v, want a build then a cache hit", f.stats.calls)
	}

	if _, err := f.svc.Render(ctx, Request{Params: params(t, "src=photos/a.jpg&width=100&stats=0")}); err != nil {
		t.Fatal(err)
	}
	if len(f.stats.calls) != 2 {
		t.Errorf("stats=0 was recorded: %v", f.stats.calls)
	}
}

func TestRenderDefaultsAreKeyed(t *testing.T) {
	f := newFixture(t, templates{})
	ctx := context.Background()
	q := "src=photos/a.jpg&width=100&angle=30"

	base, err := f.svc.Render(ctx, Request{Params: params(t, q)})
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		defaults ops.Defaults
	}{
		{"quality", ops.Defaults{Quality: 40}},
		{"fill", ops.Defaults{Fill: ops.Color{R: 255, A: 255}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := New(f.svc.d, Options{Defaults: tt.defaults, MaxAge: time.Hour})
			out, err := svc.Render(ctx, Request{Params: params(t, q)})
			if err != nil {
				t.Fatal(err)
			}
			if out.Key == base.Key || out.FromCache {
				t.Errorf("changed default %s reused key %s (from_cache %v)", tt.name, out.Key, out.FromCache)
			}
		})
	}

	explicit, err := f.svc.Render(ctx, Request{Params: params(t, q+"&quality=90")})
	if err != nil {
		t.Fatal(err)
	}
	if explicit.Key != base.Key || !explicit.FromCache {
		t.Error("spelling out the default quality changed the key")
	}
}

func TestRenderOverlay(t *testing.T) {
	f := newFixture(t, templates{})
	ctx := context.Background()
	if _, err := f.sources.Save(ctx, "marks/logo.png", bytes.NewReader(png(t, 20, 20))); err != nil {
		t.Fatal(err)
	}
	q := "src=photos/a.jpg&width=200&overlay=marks/logo.png"

	first, err := f.svc.Render(ctx, Request{Params: params(t, q)})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}

	if _, err := f.sources.Save(ctx, "marks/logo.png", bytes.NewReader(png(t, 30, 10))); err != nil {
		t.Fatal(err)
	}
	second, err := f.svc.Render(ctx, Request{Params: params(t, q)})
	if err != nil {
		t.Fatal(err)
	}
	if second.Key == first.Key || second.FromCache {
		t.Error("replacing the overlay served the old image")
	}

	f.checker.paths = map[string]models.AccessLevel{"marks/logo.png": models.AccessNone}
	if _, err := f.svc.Render(ctx, Request{Params: params(t, q)}); !models.IsKind(err, models.KindPermission) {
		t.Errorf("overlay without view error = %v, want permission", err)
	}
	if _, err := f.svc.Render(ctx, Request{Params: params(t, "src=photos/a.jpg&overlay=marks/none.png")}); !models.IsKind(err, models.KindNotFound) {
		t.Errorf("missing overlay error = %v, want not found", err)
	}
}

func TestRenderTemplate(t *testing.T) {
	w := "50"
	f := newFixture(t, templates{"thumb": {Name: "thumb", Values: map[string]*string{"width": &w}}})

	out, err := f.svc.Render(context.Background(), Request{Params: params(t, "src=photos/a.jpg&tmp=thumb&format=png")})
	if err != nil {
		t.Fatal(err)
	}
	if out.Template != "thumb" || out.Format != ops.FormatPNG {
		t.Errorf("image = template %q format %s", out.Template, out.Format)
	}
	img, err := imaging.Decode(bytes.NewReader(out.Data))
	if err != nil {
		t.Fatal(err)
	}
	if img.Bounds().Dx() != 50 {
		t.Errorf("width = %d, want 50", img.Bounds().Dx())
	}
	if out.Filename() != "a.png" {
		t.Errorf("Filename() = %q", out.Filename())
	}
}

func TestRenderErrors(t *testing.T) {
	tests := []struct {
		name  string
		query string
		level models.AccessLevel
		want  models.ErrorKind
	}{
		{"missing src", "width=10", models.AccessFull, models.KindValidation},
		{"escaping src", "src=../etc/passwd", models.AccessFull, models.KindValidation},
		{"bad width", "src=photos/a.jpg&width=-3", models.AccessFull, models.KindValidation},
		{"unknown template", "src=photos/a.jpg&tmp=nope", models.AccessFull, models.KindNotFound},
		{"missing source", "src=photos/none.jpg", models.AccessFull, models.KindNotFound},
		{"no view", "src=photos/a.jpg", models.AccessNone, models.KindPermission},
		{"attach needs download", "src=photos/a.jpg&attach=1", models.AccessView, models.KindPermission},
		{"corrupt source", "src=photos/broken.jpg", models.AccessFull, models.KindUnsupportedSource},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, templates{})
			f.checker.level = tt.level
			_, err := f.svc.Render(context.Background(), Request{Params: params(t, tt.query)})
			if got := models.KindOf(err); got != tt.want {
				t.Errorf("Render(%q) kind = %v (%v), want %v", tt.query, got, err, tt.want)
			}
		})
	}
}

func TestOriginal(t *testing.T) {
	f := newFixture(t, templates{})
	ctx := context.Background()

	orig, err := f.svc.Original(ctx, "photos/a.jpg", models.AnonymousCaller())
	if err != nil {
		t.Fatal(err)
	}
	data, _ := io.ReadAll(orig.File)
	_ = orig.File.Close()
	if !bytes.Equal(data, jpeg(t, 400, 200)) || orig.ContentType() != "image/jpeg" {
		t.Errorf("Original() returned %d bytes of %s", len(data), orig.ContentType())
	}

	f.checker.level = models.AccessView
	if _, err := f.svc.Original(ctx, "photos/a.jpg", models.AnonymousCaller()); !models.IsKind(err, models.KindPermission) {
		t.Errorf("Original() with view only error = %v", err)
	}
}
