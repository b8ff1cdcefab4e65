// Lumen - Dynamic Image Generation Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lumen

package api

import (
	"bytes"
	"context"
	"image/color"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/goccy/go-json"

	"github.com/tomtom215/lumen/internal/artifacts"
	"github.com/tomtom215/lumen/internal/auth"
	"github.com/tomtom215/lumen/internal/authz"
	"github.com/tomtom215/lumen/internal/cache"
	"github.com/tomtom215/lumen/internal/catalog"
	"github.com/tomtom215/lumen/internal/config"
	"github.com/tomtom215/lumen/internal/events"
	"github.com/tomtom215/lumen/internal/generator"
	appimaging "github.com/tomtom215/lumen/internal/imaging"
	"github.com/tomtom215/lumen/internal/jobs"
	"github.com/tomtom215/lumen/internal/metadata"
	"github.com/tomtom215/lumen/internal/models"
	"github.com/tomtom215/lumen/internal/ops"
	"github.com/tomtom215/lumen/internal/render"
	"github.com/tomtom215/lumen/internal/resolver"
	"github.com/tomtom215/lumen/internal/source"
	"github.com/tomtom215/lumen/internal/stats"
	"github.com/tomtom215/lumen/internal/tasks"
)

const testSecret = "0123456789abcdef0123456789abcdef"

const editorsGroup int64 = 2

type fixture struct {
	handler http.Handler
	cat     *catalog.Catalog
	files   *source.Store
	sched   *tasks.Scheduler
	worker  *tasks.Worker
	tokens  *auth.JWTManager
	ready   *readyFlag

	mu     sync.Mutex
	events []events.Event
}

type readyFlag struct {
	mu  sync.Mutex
	err error
}

func (f *readyFlag) check(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *readyFlag) set(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

type fixtureOptions struct {
	rateLimit int
}

func testJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	img := imaging.New(w, h, color.NRGBA{R: 30, G: 90, B: 160, A: 255})
	if err := imaging.Encode(&buf, img, imaging.JPEG); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWith(t, fixtureOptions{})
}

func newFixtureWith(t *testing.T, opts fixtureOptions) *fixture {
	t.Helper()
	ctx := context.Background()

	files, err := source.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := files.Save(ctx, "photos/a.jpg", bytes.NewReader(testJPEG(t, 400, 200))); err != nil {
		t.Fatal(err)
	}

	meta := metadata.NewMemoryStore()
	cat := catalog.New(meta, files)
	if err := cat.Load(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := cat.PutGroup(ctx, models.Group{Name: "editors"}); err != nil {
		t.Fatal(err)
	}
	for _, rec := range []models.PermissionRecord{
		{FolderID: models.RootFolderID, GroupID: models.PublicGroupID, Level: models.AccessView},
		{FolderID: models.RootFolderID, GroupID: editorsGroup, Level: models.AccessFull},
	} {
		if err := cat.SetPermission(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}

	rec, err := stats.Open(stats.Options{})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = rec.Close() })
	arts, err := artifacts.NewFSStore(t.TempDir(), "exports/")
	if err != nil {
		t.Fatal(err)
	}

	bus := events.NewLocalBus()
	t.Cleanup(func() { _ = bus.Close() })
	pub := events.NewPublisher(bus, "node-test")

	res := resolver.New(meta, resolver.Options{CacheSize: 16, CacheTTL: time.Minute, Limits: ops.DefaultLimits()})
	gcfg := generator.DefaultConfig()
	gcfg.RetryDelay = time.Millisecond
	coord := generator.New(gcfg, cache.NewMemoryStore(64, 1<<24, time.Hour))
	svc := render.New(render.Deps{
		Resolver:    res,
		Checker:     cat,
		Sources:     files,
		Backend:     appimaging.NewEngine(appimaging.Options{}),
		Coordinator: coord,
		Stats:       rec,
	}, render.Options{MaxAge: time.Hour})

	reg := tasks.NewRegistry()
	jobs.Register(reg, jobs.Deps{Catalog: cat, Sources: files, Artifacts: arts, Stats: rec, Events: pub, ExportTTL: time.Hour})
	store := tasks.NewMemoryStore()
	sched := tasks.NewScheduler(store, reg, tasks.Options{DefaultKeepFor: time.Hour})

	ready := &readyFlag{}
	h := NewHandler(Deps{
		Render:      svc,
		Resolver:    res,
		Catalog:     cat,
		Scheduler:   sched,
		Artifacts:   arts,
		Coordinator: coord,
		Stats:       rec,
		Events:      pub,
		Readiness:   []ReadinessCheck{{Name: "metadata", Check: ready.check}},
	})

	sec := config.SecurityConfig{AuthMode: "jwt", JWTSecret: testSecret, JWTIssuer: "lumen", RateLimitDisabled: opts.rateLimit == 0}
	if opts.rateLimit > 0 {
		sec.RateLimitReqs = opts.rateLimit
		sec.RateLimitWindow = time.Minute
	}
	authn, err := auth.NewMiddleware(sec, WriteError)
	if err != nil {
		t.Fatal(err)
	}
	enforcer, err := authz.NewEnforcer(authz.DefaultEnforcerConfig())
	if err != nil {
		t.Fatal(err)
	}
	chiMw, err := NewChiMiddleware(ChiMiddlewareConfigFrom(sec))
	if err != nil {
		t.Fatal(err)
	}

	f := &fixture{
		cat:    cat,
		files:  files,
		sched:  sched,
		worker: tasks.NewWorker(store, reg, tasks.WorkerConfig{Owner: "test"}),
		tokens: authn.Manager(),
		ready:  ready,
	}
	if _, err := bus.Subscribe(func(ev events.Event) {
		f.mu.Lock()
		f.events = append(f.events, ev)
		f.mu.Unlock()
	}); err != nil {
		t.Fatal(err)
	}
	f.handler = NewRouter(h, chiMw, authn, authz.NewMiddleware(enforcer, WriteError)).SetupChi()
	return f
}

// token issues a bearer token for a user in the given role. Regular users
// belong to the editors group.
func (f *fixture) token(t *testing.T, id int64, role string) string {
	t.Helper()
	caller := models.Caller{UserID: &id, Username: "u", GroupIDs: []int64{editorsGroup}, Roles: []string{role}}
	if role == "viewer" {
		caller.GroupIDs = nil
		caller.Roles = []string{models.RoleUser}
	}
	tok, err := f.tokens.GenerateToken(caller, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func (f *fixture) do(t *testing.T, method, target, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, target, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

// runNext executes one queued task.
func (f *fixture) runNext(t *testing.T) {
	t.Helper()
	ran, err := f.worker.RunNext(context.Background())
	if err != nil || !ran {
		t.Fatalf("RunNext() = %v, %v", ran, err)
	}
}

func (f *fixture) published() []events.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]events.Event(nil), f.events...)
}

type envelope struct {
	Status  int             `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Fatalf("Content-Type = %q, body %q", ct, rec.Body.String())
	}
	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	if env.Status != rec.Code {
		t.Fatalf("wrapper status %d != HTTP status %d", env.Status, rec.Code)
	}
	return env
}

func decodeTask(t *testing.T, rec *httptest.ResponseRecorder) models.Task {
	t.Helper()
	env := decode(t, rec)
	var task models.Task
	if err := json.Unmarshal(env.Data, &task); err != nil {
		t.Fatal(err)
	}
	return task
}
