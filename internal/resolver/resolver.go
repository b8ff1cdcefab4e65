// Lumen - Dynamic Image Generation Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lumen

// Package resolver turns a request into a resolved operation set.
//
// Precedence is URL parameters (with the extra overlay applied last), then
// the named template. Only when no template is named does the system
// default template take the template's place. A named template is never
// combined with the default.
package resolver

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/tomtom215/lumen/internal/models"
	"github.com/tomtom215/lumen/internal/ops"
)

// TemplateSource loads stored templates.
type TemplateSource interface {
	// Template returns the template with the given name or a NotFound error.
	Template(ctx context.Context, name string) (*models.Template, error)
	// DefaultTemplate returns the system default, or nil when there is none.
	DefaultTemplate(ctx context.Context) (*models.Template, error)
}

// Request is the input of Resolve.
type Request struct {
	// Source and Template override the src and tmp parameters when set.
	Source   string
	Template string
	Params   ops.Params
	// Extra is applied over Params; its keys win.
	Extra ops.Params
}

// Resolved is the output of Resolve.
type Resolved struct {
	Source string
	// Template names the template that was applied, if any.
	Template string
	Set      ops.OperationSet
}

// Options configures a Resolver.
type Options struct {
	CacheSize int
	CacheTTL  time.Duration
	Limits    ops.Limits
}

// Resolver merges request parameters with templates.
type Resolver struct {
	templates TemplateSource
	cache     *expirable.LRU[string, parsed]
	limits    ops.Limits
}

type parsed struct {
	name string
	set  ops.OperationSet
	ok   bool
}

// defaultKey cannot collide with a template name because names never
// contain NUL.
const defaultKey = "\x00default"

// New creates a Resolver.
func New(templates TemplateSource, opts Options) *Resolver {
	if opts.CacheSize <= 0 {
		opts.CacheSize = 256
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 5 * time.Minute
	}
	if opts.Limits == (ops.Limits{}) {
		opts.Limits = ops.DefaultLimits()
	}
	return &Resolver{
		templates: templates,
		cache:     expirable.NewLRU[string, parsed](opts.CacheSize, nil, opts.CacheTTL),
		limits:    opts.Limits,
	}
}

// Resolve produces the settled, validated operation set for req.
func (r *Resolver) Resolve(ctx context.Context, req Request) (Resolved, error) {
	params := req.Params.Overlay(req.Extra)

	src := req.Source
	if src == "" {
		src, _ = params.Get("src")
	}
	if src == "" {
		return Resolved{}, models.InvalidParameter("src", "is required")
	}
	name := req.Template
	if name == "" {
		name, _ = params.Get("tmp")
	}

	urlSet, err := ops.Parse(params)
	if err != nil {
		return Resolved{}, err
	}

	var base parsed
	if name != "" {
		base, err = r.named(ctx, name)
	} else {
		base, err = r.systemDefault(ctx)
	}
	if err != nil {
		return Resolved{}, err
	}

	set := urlSet
	if base.ok {
		set = urlSet.Over(base.set)
	}
	set = set.Settle()
	if err := set.Validate(r.limits); err != nil {
		return Resolved{}, err
	}
	return Resolved{Source: src, Template: base.name, Set: set}, nil
}

func (r *Resolver) named(ctx context.Context, name string) (parsed, error) {
	if p, ok := r.cache.Get(name); ok {
		return p, nil
	}
	t, err := r.templates.Template(ctx, name)
	if err != nil {
		return parsed{}, err
	}
	set, err := ops.ParseTemplate(t.Values)
	if err != nil {
		return parsed{}, err
	}
	p := parsed{name: t.Name, set: set, ok: true}
	r.cache.Add(name, p)
	return p, nil
}

func (r *Resolver) systemDefault(ctx context.Context) (parsed, error) {
	if p, ok := r.cache.Get(defaultKey); ok {
		return p, nil
	}
	t, err := r.templates.DefaultTemplate(ctx)
	if err != nil {
		return parsed{}, err
	}
	var p parsed
	if t != nil {
		set, err := ops.ParseTemplate(t.Values)
		if err != nil {
			return parsed{}, err
		}
		p = parsed{name: t.Name, set: set, ok: true}
	}
	r.cache.Add(defaultKey, p)
	return p, nil
}

// Invalidate drops the cached template name and the cached default. Pass
// "" to drop only the default.
func (r *Resolver) Invalidate(name string) {
	if name != "" {
		r.cache.Remove(name)
	}
	r.cache.Remove(defaultKey)
}

// Purge drops every cached template.
func (r *Resolver) Purge() {
	r.cache.Purge()
}

// Limits returns the validation limits in use.
func (r *Resolver) Limits() ops.Limits { return r.limits }
