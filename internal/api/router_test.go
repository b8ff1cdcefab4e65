// Lumen - Dynamic Image Generation Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lumen

package api

import (
	"archive/zip"
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"

	"github.com/tomtom215/lumen/internal/events"
	"github.com/tomtom215/lumen/internal/models"
	"github.com/tomtom215/lumen/internal/stats"
)

func TestImageServesAndCaches(t *testing.T) {
	f := newFixture(t)

	first := f.do(t, http.MethodGet, "/image?src=photos/a.jpg&width=100", "", nil)
	if first.Code != http.StatusOK {
		t.Fatalf("GET /image = %d: %s", first.Code, first.Body.String())
	}
	hdr := first.Header()
	if hdr.Get("Content-Type") != "image/jpeg" || hdr.Get("X-From-Cache") != "false" {
		t.Errorf("headers = %v", hdr)
	}
	if hdr.Get("Cache-Control") != "max-age=3600" || hdr.Get("ETag") == "" {
		t.Errorf("cache headers = %q %q", hdr.Get("Cache-Control"), hdr.Get("ETag"))
	}
	if hdr.Get("X-Request-ID") == "" {
		t.Error("missing request id header")
	}

	second := f.do(t, http.MethodGet, "/image?width=100&src=photos/a.jpg", "", nil)
	if second.Header().Get("X-From-Cache") != "true" || second.Header().Get("ETag") != hdr.Get("ETag") {
		t.Errorf("second request from_cache=%s etag=%s", second.Header().Get("X-From-Cache"), second.Header().Get("ETag"))
	}
	if !bytes.Equal(first.Body.Bytes(), second.Body.Bytes()) {
		t.Error("cached body differs")
	}

	head := f.do(t, http.MethodHead, "/image?src=photos/a.jpg&width=100", "", nil)
	if head.Code != http.StatusOK || head.Body.Len() != 0 || head.Header().Get("Content-Length") == "" {
		t.Errorf("HEAD /image = %d, %d bytes", head.Code, head.Body.Len())
	}
}

func TestImageErrors(t *testing.T) {
	f := newFixture(t)
	user := f.token(t, 7, models.RoleUser)
	viewer := f.token(t, 8, "viewer")

	tests := []struct {
		name   string
		target string
		token  string
		want   int
	}{
		{"missing src", "/image?width=10", "", http.StatusBadRequest},
		{"bad width", "/image?src=photos/a.jpg&width=abc", "", http.StatusBadRequest},
		{"missing source", "/image?src=photos/none.jpg", "", http.StatusNotFound},
		{"unknown template", "/image?src=photos/a.jpg&tmp=nope", "", http.StatusNotFound},
		{"anonymous attach", "/image?src=photos/a.jpg&attach=1", "", http.StatusUnauthorized},
		{"anonymous original", "/original?src=photos/a.jpg", "", http.StatusUnauthorized},
		{"viewer original", "/original?src=photos/a.jpg", viewer, http.StatusForbidden},
		{"bad token", "/image?src=photos/a.jpg", "garbage", http.StatusUnauthorized},
		{"escaping original", "/original?src=../x.jpg", user, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodGet, tt.target, tt.token, nil)
			if rec.Code != tt.want {
				t.Fatalf("GET %s = %d, want %d: %s", tt.target, rec.Code, tt.want, rec.Body.String())
			}
			env := decode(t, rec)
			if env.Message == "" {
				t.Error("error without message")
			}
		})
	}
}

func TestImageAttachAndOriginal(t *testing.T) {
	f := newFixture(t)
	user := f.token(t, 7, models.RoleUser)

	rec := f.do(t, http.MethodGet, "/image?src=photos/a.jpg&width=80&format=png&attach=1", user, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /image attach = %d: %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Disposition"); got != "attachment; filename=a.png" {
		t.Errorf("Content-Disposition = %q", got)
	}
	if rec.Header().Get("Content-Type") != "image/png" {
		t.Errorf("Content-Type = %q", rec.Header().Get("Content-Type"))
	}

	orig := f.do(t, http.MethodGet, "/original?src=photos/a.jpg", user, nil)
	if orig.Code != http.StatusOK {
		t.Fatalf("GET /original = %d: %s", orig.Code, orig.Body.String())
	}
	if !bytes.Equal(orig.Body.Bytes(), testJPEG(t, 400, 200)) {
		t.Error("original body differs from source")
	}
	if got := orig.Header().Get("Content-Disposition"); got != "attachment; filename=a.jpg" {
		t.Errorf("Content-Disposition = %q", got)
	}
}

func TestTemplateAdministration(t *testing.T) {
	f := newFixture(t)
	admin := f.token(t, 1, models.RoleAdmin)
	user := f.token(t, 7, models.RoleUser)
	body := map[string]any{"is_default": false, "values": map[string]string{"width": "50", "format": "png"}}

	tests := []struct {
		name  string
		token string
		path  string
		body  any
		want  int
	}{
		{"anonymous", "", "/api/v1/admin/templates/thumb", body, http.StatusUnauthorized},
		{"user", user, "/api/v1/admin/templates/thumb", body, http.StatusForbidden},
		{"bad name", admin, "/api/v1/admin/templates/Not%20A%20Slug", body, http.StatusBadRequest},
		{"bad value", admin, "/api/v1/admin/templates/thumb", map[string]any{"values": map[string]string{"width": "wide"}}, http.StatusBadRequest},
		{"unknown field", admin, "/api/v1/admin/templates/thumb", map[string]any{"values": map[string]string{}, "x": 1}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPut, tt.path, tt.token, tt.body)
			if rec.Code != tt.want {
				t.Errorf("PUT %s = %d, want %d: %s", tt.path, rec.Code, tt.want, rec.Body.String())
			}
		})
	}
	if n := len(f.published()); n != 0 {
		t.Fatalf("rejected writes published %d events", n)
	}

	rec := f.do(t, http.MethodPut, "/api/v1/admin/templates/thumb", admin, body)
	if rec.Code != http.StatusOK {
		t.Fatalf("PUT template = %d: %s", rec.Code, rec.Body.String())
	}
	evs := f.published()
	if len(evs) != 1 || evs[0].Type != events.TemplateChanged || evs[0].Name != "thumb" {
		t.Errorf("events = %+v", evs)
	}

	got := f.do(t, http.MethodGet, "/api/v1/templates/thumb", "", nil)
	if got.Code != http.StatusOK {
		t.Fatalf("GET template = %d", got.Code)
	}
	var tmpl models.Template
	if err := json.Unmarshal(decode(t, got).Data, &tmpl); err != nil {
		t.Fatal(err)
	}
	if tmpl.Name != "thumb" || tmpl.Values["width"] == nil || *tmpl.Values["width"] != "50" {
		t.Errorf("template = %+v", tmpl)
	}

	img := f.do(t, http.MethodGet, "/image?src=photos/a.jpg&tmp=thumb", "", nil)
	if img.Code != http.StatusOK || img.Header().Get("Content-Type") != "image/png" {
		t.Errorf("GET /image with template = %d %s", img.Code, img.Header().Get("Content-Type"))
	}

	if rec := f.do(t, http.MethodDelete, "/api/v1/admin/templates/thumb", admin, nil); rec.Code != http.StatusOK {
		t.Errorf("DELETE template = %d", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/image?src=photos/a.jpg&tmp=thumb", "", nil); rec.Code != http.StatusNotFound {
		t.Errorf("GET /image after template delete = %d, want 404", rec.Code)
	}
}

func TestFolderLifecycle(t *testing.T) {
	f := newFixture(t)
	user := f.token(t, 7, models.RoleUser)
	viewer := f.token(t, 8, "viewer")

	create := func(parent int64, name string) models.Folder {
		t.Helper()
		rec := f.do(t, http.MethodPost, "/api/v1/folders", user, map[string]any{"parent_id": parent, "name": name})
		if rec.Code != http.StatusCreated {
			t.Fatalf("POST folder %s = %d: %s", name, rec.Code, rec.Body.String())
		}
		var folder models.Folder
		if err := json.Unmarshal(decode(t, rec).Data, &folder); err != nil {
			t.Fatal(err)
		}
		return folder
	}
	albums := create(models.RootFolderID, "albums")
	trips := create(models.RootFolderID, "trips")

	if rec := f.do(t, http.MethodPost, "/api/v1/folders", viewer, map[string]any{"parent_id": 1, "name": "x"}); rec.Code != http.StatusForbidden {
		t.Errorf("viewer create = %d, want 403", rec.Code)
	}
	if rec := f.do(t, http.MethodPost, "/api/v1/folders", user, map[string]any{"parent_id": 1, "name": "a/b"}); rec.Code != http.StatusBadRequest {
		t.Errorf("create with slash = %d, want 400", rec.Code)
	}

	get := f.do(t, http.MethodGet, "/api/v1/folders/1", viewer, nil)
	if get.Code != http.StatusOK {
		t.Fatalf("GET folder = %d", get.Code)
	}
	var view struct {
		Children []models.Folder   `json:"children"`
		Access   models.AccessLevel `json:"access"`
	}
	if err := json.Unmarshal(decode(t, get).Data, &view); err != nil {
		t.Fatal(err)
	}
	if len(view.Children) != 2 || view.Access != models.AccessView {
		t.Errorf("folder view = %+v", view)
	}

	target := "/api/v1/folders/" + itoa(albums.ID) + "/move"
	move := f.do(t, http.MethodPost, target, user, map[string]any{"parent_id": trips.ID})
	if move.Code != http.StatusAccepted {
		t.Fatalf("POST move = %d: %s", move.Code, move.Body.String())
	}
	task := decodeTask(t, move)

	dup := f.do(t, http.MethodPost, target, user, map[string]any{"parent_id": trips.ID})
	if dup.Code != http.StatusConflict {
		t.Errorf("duplicate move = %d, want 409: %s", dup.Code, dup.Body.String())
	}
	cycle := f.do(t, http.MethodPost, "/api/v1/folders/"+itoa(trips.ID)+"/move", user, map[string]any{"parent_id": trips.ID})
	if cycle.Code != http.StatusBadRequest && cycle.Code != http.StatusConflict {
		t.Errorf("move into itself = %d", cycle.Code)
	}

	f.runNext(t)
	poll := f.do(t, http.MethodGet, "/api/v1/tasks/"+itoa(task.ID), user, nil)
	if poll.Code != http.StatusOK {
		t.Fatalf("GET task = %d", poll.Code)
	}
	if done := decodeTask(t, poll); done.Status != models.TaskComplete {
		t.Errorf("task status = %s", done.Status)
	}
	if rec := f.do(t, http.MethodGet, "/api/v1/tasks/"+itoa(task.ID), f.token(t, 9, models.RoleUser), nil); rec.Code != http.StatusForbidden {
		t.Errorf("other user poll = %d, want 403", rec.Code)
	}
	if fv, err := f.cat.Folder(albums.ID); err != nil || fv.Folder.ParentID != trips.ID {
		t.Errorf("after move folder = %+v, %v", fv, err)
	}

	if rec := f.do(t, http.MethodDelete, "/api/v1/folders/1", user, nil); rec.Code != http.StatusBadRequest {
		t.Errorf("DELETE root = %d, want 400", rec.Code)
	}
	if rec := f.do(t, http.MethodDelete, "/api/v1/folders/999", user, nil); rec.Code != http.StatusNotFound {
		t.Errorf("DELETE missing = %d, want 404", rec.Code)
	}
	del := f.do(t, http.MethodDelete, "/api/v1/folders/"+itoa(albums.ID), user, nil)
	if del.Code != http.StatusAccepted {
		t.Fatalf("DELETE folder = %d: %s", del.Code, del.Body.String())
	}
	f.runNext(t)
	if _, err := f.cat.Folder(albums.ID); !models.IsKind(err, models.KindNotFound) {
		t.Errorf("deleted folder lookup error = %v", err)
	}
}

func TestExportLifecycle(t *testing.T) {
	f := newFixture(t)
	user := f.token(t, 7, models.RoleUser)

	if rec := f.do(t, http.MethodPost, "/api/v1/exports", f.token(t, 8, "viewer"), map[string]any{"paths": []string{"photos/a.jpg"}}); rec.Code != http.StatusForbidden {
		t.Errorf("viewer export = %d, want 403", rec.Code)
	}
	if rec := f.do(t, http.MethodPost, "/api/v1/exports", user, map[string]any{"paths": []string{}}); rec.Code != http.StatusBadRequest {
		t.Errorf("empty export = %d, want 400", rec.Code)
	}

	rec := f.do(t, http.MethodPost, "/api/v1/exports", user, map[string]any{"paths": []string{"photos/a.jpg"}, "name": "pics"})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("POST export = %d: %s", rec.Code, rec.Body.String())
	}
	task := decodeTask(t, rec)
	again := f.do(t, http.MethodPost, "/api/v1/exports", user, map[string]any{"paths": []string{"photos/a.jpg"}, "name": "pics"})
	if again.Code != http.StatusAccepted || again.Header().Get("X-Task-Coalesced") != "true" || decodeTask(t, again).ID != task.ID {
		t.Errorf("identical export not coalesced: %d %s", again.Code, again.Body.String())
	}
	f.runNext(t)

	target := "/api/v1/exports/" + itoa(task.ID)
	if rec := f.do(t, http.MethodGet, target, f.token(t, 9, models.RoleUser), nil); rec.Code != http.StatusForbidden {
		t.Errorf("other user download = %d, want 403", rec.Code)
	}
	dl := f.do(t, http.MethodGet, target, user, nil)
	if dl.Code != http.StatusOK || dl.Header().Get("Content-Type") != "application/zip" {
		t.Fatalf("GET export = %d %s: %s", dl.Code, dl.Header().Get("Content-Type"), dl.Body.String())
	}
	zr, err := zip.NewReader(bytes.NewReader(dl.Body.Bytes()), int64(dl.Body.Len()))
	if err != nil {
		t.Fatal(err)
	}
	if len(zr.File) != 1 || zr.File[0].Name != "photos/a.jpg" {
		t.Errorf("archive entries = %v", zr.File)
	}

	if rec := f.do(t, http.MethodDelete, target, user, nil); rec.Code != http.StatusOK {
		t.Fatalf("DELETE export = %d: %s", rec.Code, rec.Body.String())
	}
	if rec := f.do(t, http.MethodGet, target, user, nil); rec.Code != http.StatusNotFound {
		t.Errorf("download after delete = %d, want 404", rec.Code)
	}
}

func TestStatsEndpoint(t *testing.T) {
	f := newFixture(t)
	for _, q := range []string{"width=10", "width=10&stats=1", "width=10&stats=0"} {
		if rec := f.do(t, http.MethodGet, "/image?src=photos/a.jpg&"+q, "", nil); rec.Code != http.StatusOK {
			t.Fatalf("GET /image?%s = %d", q, rec.Code)
		}
	}
	rec := f.do(t, http.MethodGet, "/api/v1/stats?src=photos/a.jpg", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET stats = %d: %s", rec.Code, rec.Body.String())
	}
	var sum stats.Summary
	if err := json.Unmarshal(decode(t, rec).Data, &sum); err != nil {
		t.Fatal(err)
	}
	if sum.Total.Requests != 2 || sum.Total.CacheHits != 1 {
		t.Errorf("stats total = %+v", sum.Total)
	}

	admin := f.token(t, 1, models.RoleAdmin)
	purge := f.do(t, http.MethodPost, "/api/v1/admin/stats/purge", admin, map[string]any{"older_than_days": 30})
	if purge.Code != http.StatusAccepted {
		t.Errorf("POST purge = %d: %s", purge.Code, purge.Body.String())
	}
}

func TestAdminPermissions(t *testing.T) {
	f := newFixture(t)
	admin := f.token(t, 1, models.RoleAdmin)
	viewer := f.token(t, 8, "viewer")

	if rec := f.do(t, http.MethodGet, "/original?src=photos/a.jpg", viewer, nil); rec.Code != http.StatusForbidden {
		t.Fatalf("viewer original before grant = %d", rec.Code)
	}
	rec := f.do(t, http.MethodPut, "/api/v1/admin/permissions", admin, map[string]any{"folder_id": 1, "group_id": models.PublicGroupID, "level": "download"})
	if rec.Code != http.StatusOK {
		t.Fatalf("PUT permission = %d: %s", rec.Code, rec.Body.String())
	}
	if rec := f.do(t, http.MethodGet, "/original?src=photos/a.jpg", viewer, nil); rec.Code != http.StatusOK {
		t.Errorf("viewer original after grant = %d", rec.Code)
	}
	if rec := f.do(t, http.MethodPut, "/api/v1/admin/permissions", admin, map[string]any{"folder_id": 1, "group_id": 1, "level": "everything"}); rec.Code != http.StatusBadRequest {
		t.Errorf("PUT bad level = %d, want 400", rec.Code)
	}

	list := f.do(t, http.MethodGet, "/api/v1/admin/folders/1/permissions", admin, nil)
	if list.Code != http.StatusOK {
		t.Fatalf("GET permissions = %d", list.Code)
	}
	var recs []models.PermissionRecord
	if err := json.Unmarshal(decode(t, list).Data, &recs); err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 {
		t.Errorf("records = %+v", recs)
	}

	if rec := f.do(t, http.MethodDelete, "/api/v1/admin/permissions/1/1", admin, nil); rec.Code != http.StatusOK {
		t.Errorf("DELETE permission = %d", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/image?src=photos/a.jpg", "", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("anonymous image after revoke = %d, want 401", rec.Code)
	}
	if rec := f.do(t, http.MethodPut, "/api/v1/admin/groups", f.token(t, 7, models.RoleUser), map[string]any{"name": "x"}); rec.Code != http.StatusForbidden {
		t.Errorf("user PUT group = %d, want 403", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	f := newFixture(t)

	if rec := f.do(t, http.MethodGet, "/health/live", "", nil); rec.Code != http.StatusOK {
		t.Errorf("live = %d", rec.Code)
	}
	ready := f.do(t, http.MethodGet, "/health/ready", "", nil)
	if ready.Code != http.StatusOK {
		t.Fatalf("ready = %d", ready.Code)
	}
	var hs HealthStatus
	if err := json.Unmarshal(decode(t, ready).Data, &hs); err != nil {
		t.Fatal(err)
	}
	if !hs.Ready || hs.Checks["metadata"] != "ok" || hs.Breaker == "" {
		t.Errorf("health = %+v", hs)
	}

	f.ready.set(errors.New("connection refused"))
	down := f.do(t, http.MethodGet, "/health/ready", "", nil)
	if down.Code != http.StatusServiceUnavailable {
		t.Fatalf("ready with failing check = %d, want 503", down.Code)
	}
	if !strings.Contains(down.Body.String(), "connection refused") {
		t.Errorf("body = %s", down.Body.String())
	}
}

func TestRouting(t *testing.T) {
	f := newFixture(t)

	missing := f.do(t, http.MethodGet, "/nope", "", nil)
	if missing.Code != http.StatusNotFound {
		t.Errorf("unknown route = %d", missing.Code)
	}
	decode(t, missing)

	wrong := f.do(t, http.MethodPatch, "/api/v1/templates", "", nil)
	if wrong.Code != http.StatusMethodNotAllowed && wrong.Code != http.StatusUnauthorized {
		t.Errorf("PATCH templates = %d", wrong.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/templates", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Encoding") != "gzip" {
		t.Errorf("templates with gzip = %d, encoding %q", rec.Code, rec.Header().Get("Content-Encoding"))
	}
}

func TestRateLimit(t *testing.T) {
	f := newFixtureWith(t, fixtureOptions{rateLimit: 2})

	var codes []int
	for i := 0; i < 3; i++ {
		codes = append(codes, f.do(t, http.MethodGet, "/api/v1/templates", "", nil).Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Errorf("status codes = %v", codes)
	}
	if rec := f.do(t, http.MethodGet, "/health/live", "", nil); rec.Code != http.StatusOK {
		t.Errorf("probe limited: %d", rec.Code)
	}
}

func itoa(id int64) string {
	b, _ := json.Marshal(id)
	return string(b)
}
