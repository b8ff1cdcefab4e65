// Lumen - Dynamic Image Generation Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lumen

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/lumen/internal/events"
	"github.com/tomtom215/lumen/internal/logging"
	"github.com/tomtom215/lumen/internal/models"
	"github.com/tomtom215/lumen/internal/ops"
	"github.com/tomtom215/lumen/internal/validation"
)

// TemplateRequest is the body of a template upsert. A null value defers
// the option to whatever the request or the default supplies.
type TemplateRequest struct {
	Name      string             `json:"-" validate:"slug"`
	IsDefault bool               `json:"is_default"`
	Values    map[string]*string `json:"values" validate:"required,max=64"`
}

type templateName struct {
	Name string `json:"name" validate:"slug"`
}

// ListTemplates returns every stored template.
//
// Method: GET
// Path: /api/v1/templates
func (h *Handler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	list, err := h.d.Catalog.Metadata().ListTemplates(r.Context())
	if err != nil {
		WriteError(w, r, err)
		return
	}
	if list == nil {
		list = []*models.Template{}
	}
	respondJSON(w, models.OK(list))
}

// GetTemplate returns one template.
//
// Method: GET
// Path: /api/v1/templates/{name}
func (h *Handler) GetTemplate(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := validation.Validate(templateName{Name: name}); err != nil {
		WriteError(w, r, err)
		return
	}
	t, err := h.d.Catalog.Metadata().Template(r.Context(), name)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	respondJSON(w, models.OK(t))
}

// PutTemplate creates or replaces a template and tells peers to drop their
// parsed copy.
//
// Method: PUT
// Path: /api/v1/admin/templates/{name}
func (h *Handler) PutTemplate(w http.ResponseWriter, r *http.Request) {
	var req TemplateRequest
	if err := readJSON(w, r, &req); err != nil {
		WriteError(w, r, err)
		return
	}
	req.Name = chi.URLParam(r, "name")
	if err := validation.Validate(&req); err != nil {
		WriteError(w, r, err)
		return
	}
	if _, err := ops.ParseTemplate(req.Values); err != nil {
		WriteError(w, r, err)
		return
	}

	ctx := r.Context()
	t, err := h.d.Catalog.Metadata().PutTemplate(ctx, &models.Template{
		Name:      req.Name,
		IsDefault: req.IsDefault,
		Values:    req.Values,
	})
	if err != nil {
		WriteError(w, r, err)
		return
	}
	h.d.Resolver.Invalidate(t.Name)
	h.d.Events.Publish(ctx, events.TemplateChanged, t.Name)

	logging.Ctx(ctx).Info().Str("template", t.Name).Bool("is_default", t.IsDefault).Msg("Template saved")
	respondJSON(w, models.OK(t))
}

// DeleteTemplate removes a template.
//
// Method: DELETE
// Path: /api/v1/admin/templates/{name}
func (h *Handler) DeleteTemplate(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := validation.Validate(templateName{Name: name}); err != nil {
		WriteError(w, r, err)
		return
	}
	ctx := r.Context()
	if err := h.d.Catalog.Metadata().DeleteTemplate(ctx, name); err != nil {
		WriteError(w, r, err)
		return
	}
	h.d.Resolver.Invalidate(name)
	h.d.Events.Publish(ctx, events.TemplateChanged, name)

	logging.Ctx(ctx).Info().Str("template", name).Msg("Template deleted")
	respondJSON(w, models.OK(nil))
}
