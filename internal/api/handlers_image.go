// Lumen - Dynamic Image Generation Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lumen

package api

import (
	"fmt"
	"mime"
	"net/http"
	"path"
	"strconv"

	"github.com/tomtom215/lumen/internal/auth"
	"github.com/tomtom215/lumen/internal/logging"
	"github.com/tomtom215/lumen/internal/ops"
	"github.com/tomtom215/lumen/internal/render"
)

// Image serves a generated image.
//
// Method: GET
// Path: /image?src=<path>&<options>
func (h *Handler) Image(w http.ResponseWriter, r *http.Request) {
	params, err := ops.ParseQuery(r.URL.RawQuery)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	img, err := h.d.Render.Render(r.Context(), render.Request{
		Params: params,
		Caller: auth.CallerFrom(r.Context()),
	})
	if err != nil {
		WriteError(w, r, err)
		return
	}

	hdr := w.Header()
	hdr.Set("Content-Type", img.ContentType())
	hdr.Set("Content-Length", strconv.Itoa(len(img.Data)))
	hdr.Set("Cache-Control", fmt.Sprintf("max-age=%d", int(img.MaxAge.Seconds())))
	hdr.Set("ETag", `"`+img.Key+`"`)
	hdr.Set("X-From-Cache", strconv.FormatBool(img.FromCache))
	if img.Attach {
		hdr.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": img.Filename()}))
	}
	if r.Method == http.MethodHead {
		return
	}
	if _, err := w.Write(img.Data); err != nil {
		logging.Ctx(r.Context()).Debug().Err(err).Msg("Image write aborted")
	}
}

// Original serves an unmodified original as a download.
//
// Method: GET
// Path: /original?src=<path>
func (h *Handler) Original(w http.ResponseWriter, r *http.Request) {
	orig, err := h.d.Render.Original(r.Context(), r.URL.Query().Get("src"), auth.CallerFrom(r.Context()))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	defer orig.File.Close()

	name := path.Base(orig.Info.Path)
	w.Header().Set("Content-Type", orig.ContentType())
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	http.ServeContent(w, r, name, orig.Info.ModTime, orig.File)
}
