// Lumen - Dynamic Image Generation Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lumen

// Package render serves one image request end to end.
//
// A request flows through the resolver (URL parameters over a template),
// the permission check on the source's folder (and the overlay's), the
// source identity lookup, the cache key codec and finally the generation
// coordinator, whose builder probes the original, sequences the plan and runs the imaging
// backend. Only the builder ever reads the original's bytes.
package render

import (
	"context"
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/lumen/internal/cache"
	"github.com/tomtom215/lumen/internal/cachekey"
	"github.com/tomtom215/lumen/internal/generator"
	"github.com/tomtom215/lumen/internal/imaging"
	"github.com/tomtom215/lumen/internal/logging"
	"github.com/tomtom215/lumen/internal/models"
	"github.com/tomtom215/lumen/internal/ops"
	"github.com/tomtom215/lumen/internal/resolver"
	"github.com/tomtom215/lumen/internal/source"
)

// Checker answers folder permission questions for a source path.
// catalog.Catalog implements it.
type Checker interface {
	CheckPath(src string, caller models.Caller, need models.AccessLevel) error
}

// Recorder counts delivered requests. stats.Recorder implements it.
type Recorder interface {
	Record(src string, fromCache bool, bytes int)
}

// Deps are the collaborators of a Service.
type Deps struct {
	Resolver    *resolver.Resolver
	Checker     Checker
	Sources     *source.Store
	Backend     imaging.Backend
	Coordinator *generator.Coordinator

	// Stats is optional. Requests are recorded unless they pass stats=0.
	Stats Recorder
}

// Options are the output defaults of a Service.
type Options struct {
	Defaults ops.Defaults
	// MaxAge is the Cache-Control lifetime when a request sets no expires.
	MaxAge   time.Duration
}

// Request is one image request.
type Request struct {
	Params ops.Params
	// Extra is an overlay applied over Params, used by server-side callers.
	Extra  ops.Params
	Caller models.Caller
}

// Image is a generated image ready to be written.
type Image struct {
	Source    string
	Template  string
	Key       string
	Data      []byte
	Format    ops.Format
	FromCache bool
	Shared    bool
	Attach    bool
	MaxAge    time.Duration
}

// ContentType returns the MIME type of the image.
func (i *Image) ContentType() string { return i.Format.ContentType() }

// Filename is the download name offered when the image is attached.
func (i *Image) Filename() string {
	base := path.Base(i.Source)
	return strings.TrimSuffix(base, path.Ext(base)) + "." + string(i.Format)
}

// Service runs the request pipeline.
type Service struct {
	d      Deps
	opts   Options
	logger zerolog.Logger
}

// New creates a Service.
func New(d Deps, opts Options) *Service {
	if opts.Defaults.Format == "" {
		opts.Defaults.Format = ops.FormatJPEG
	}
	if opts.Defaults.Quality <= 0 {
		opts.Defaults.Quality = 90
	}
	return &Service{d: d, opts: opts, logger: logging.WithComponent("render")}
}

// Render resolves, authorizes and produces one image.
func (s *Service) Render(ctx context.Context, req Request) (*Image, error) {
	res, err := s.d.Resolver.Resolve(ctx, resolver.Request{Params: req.Params, Extra: req.Extra})
	if err != nil {
		return nil, err
	}
	src, err := source.Clean(res.Source)
	if err != nil {
		return nil, err
	}

	attach := res.Set.Attach.Or(false)
	need := models.AccessView
	if attach {
		need = models.AccessDownload
	}
	if err := s.d.Checker.CheckPath(src, req.Caller, need); err != nil {
		return nil, err
	}

	info, err := s.d.Sources.Stat(ctx, src)
	if err != nil {
		return nil, err
	}
	set := s.opts.Defaults.Apply(res.Set)
	inputs, set, err := s.overlayInputs(ctx, set, req.Caller)
	if err != nil {
		return nil, err
	}
	format := s.outputFormat(set, src)
	fp := cachekey.Compute(info.Identity(), set, format, inputs...)

	out, err := s.d.Coordinator.Resolve(ctx, fp, s.builder(src, set, format))
	if err != nil {
		return nil, err
	}

	img := &Image{
		Source:    src,
		Template:  res.Template,
		Key:       fp.Key,
		Data:      out.Entry.Data,
		Format:    format,
		FromCache: out.FromCache,
		Shared:    out.Shared,
		Attach:    attach,
		MaxAge:    s.opts.MaxAge,
	}
	if secs, ok := res.Set.Expires.Get(); ok {
		img.MaxAge = time.Duration(secs) * time.Second
	}
	if res.Set.Stats.Or(true) && s.d.Stats != nil {
		s.d.Stats.Record(src, out.FromCache, len(img.Data))
	}

	logging.Ctx(ctx).Debug().
		Str("src", src).
		Str("key", fp.Key).
		Bool("from_cache", out.FromCache).
		Bool("shared", out.Shared).
		Msg("Image served")
	return img, nil
}

// overlayInputs authorizes the overlay original for viewing and returns
// its identity for the key, with the set's overlay path cleaned.
func (s *Service) overlayInputs(ctx context.Context, set ops.OperationSet, caller models.Caller) ([]cachekey.SourceIdentity, ops.OperationSet, error) {
	ov, ok := set.Overlay.Get()
	if !ok {
		return nil, set, nil
	}
	clean, err := source.Clean(ov)
	if err != nil {
		return nil, set, err
	}
	if err := s.d.Checker.CheckPath(clean, caller, models.AccessView); err != nil {
		return nil, set, err
	}
	info, err := s.d.Sources.Stat(ctx, clean)
	if err != nil {
		return nil, set, fmt.Errorf("overlay: %w", err)
	}
	set.Overlay = ops.Of(clean)
	return []cachekey.SourceIdentity{info.Identity()}, set, nil
}

// outputFormat is the requested format, else the source's own format by
// extension, else the configured default. It is fixed before the build so
// the key never depends on decoding.
func (s *Service) outputFormat(set ops.OperationSet, src string) ops.Format {
	if f, ok := set.Format.Get(); ok {
		return f
	}
	if f, ok := ops.ParseFormat(path.Ext(src)); ok {
		return f
	}
	return s.opts.Defaults.Format
}

func (s *Service) builder(src string, set ops.OperationSet, format ops.Format) generator.Builder {
	return func(ctx context.Context) (*cache.Entry, error) {
		data, _, err := s.d.Sources.ReadFile(ctx, src)
		if err != nil {
			return nil, err
		}
		info, err := s.d.Backend.Probe(ctx, data)
		if err != nil {
			return nil, fmt.Errorf("probe %s: %w", src, err)
		}
		plan, err := ops.Sequence(set, info, s.opts.Defaults)
		if err != nil {
			return nil, fmt.Errorf("sequence %s: %w", src, err)
		}
		plan.Output.Format = format
		s.logger.Debug().Str("src", src).Int("steps", len(plan.Steps)).Msg("Building image")

		out, err := s.d.Backend.Apply(ctx, data, plan)
		if err != nil {
			return nil, fmt.Errorf("render %s: %w", src, err)
		}
		return &cache.Entry{Data: out, ContentType: format.ContentType()}, nil
	}
}

// Original opens the unmodified original for download.
func (s *Service) Original(ctx context.Context, src string, caller models.Caller) (*Original, error) {
	clean, err := source.Clean(src)
	if err != nil {
		return nil, err
	}
	if err := s.d.Checker.CheckPath(clean, caller, models.AccessDownload); err != nil {
		return nil, err
	}
	f, info, err := s.d.Sources.Open(ctx, clean)
	if err != nil {
		return nil, err
	}
	format, _ := ops.ParseFormat(path.Ext(clean))
	return &Original{File: f, Info: info, Format: format}, nil
}

// Original is an opened original. The caller closes File.
type Original struct {
	File   *os.File
	Info   source.Info
	Format ops.Format
}

// ContentType returns the MIME type of the original, or a generic binary
// type when the extension is not an image format.
func (o *Original) ContentType() string {
	if o.Format == "" {
		return "application/octet-stream"
	}
	return o.Format.ContentType()
}
