// Lumen - Dynamic Image Generation Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lumen

package jobs

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/tomtom215/lumen/internal/artifacts"
	"github.com/tomtom215/lumen/internal/catalog"
	"github.com/tomtom215/lumen/internal/logging"
	"github.com/tomtom215/lumen/internal/metadata"
	"github.com/tomtom215/lumen/internal/models"
	"github.com/tomtom215/lumen/internal/source"
	"github.com/tomtom215/lumen/internal/stats"
	"github.com/tomtom215/lumen/internal/tasks"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	root   string
	cat    *catalog.Catalog
	files  *source.Store
	arts   *artifacts.FSStore
	rec    *stats.Recorder
	sched  *tasks.Scheduler
	worker *tasks.Worker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	now := func() time.Time { return t0 }

	root := t.TempDir()
	files, err := source.New(root)
	if err != nil {
		t.Fatal(err)
	}
	cat := catalog.New(metadata.NewMemoryStore(), files)
	if err := cat.Load(ctx); err != nil {
		t.Fatal(err)
	}
	arts, err := artifacts.NewFSStore(t.TempDir(), "exports/")
	if err != nil {
		t.Fatal(err)
	}
	rec, err := stats.Open(stats.Options{Now: now})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = rec.Close() })

	reg := tasks.NewRegistry()
	Register(reg, Deps{
		Catalog:   cat,
		Sources:   files,
		Artifacts: arts,
		Stats:     rec,
		ExportTTL: time.Hour,
		Now:       now,
	})
	store := tasks.NewMemoryStore()
	return &fixture{
		root:   root,
		cat:    cat,
		files:  files,
		arts:   arts,
		rec:    rec,
		sched:  tasks.NewScheduler(store, reg, tasks.Options{DefaultKeepFor: time.Hour, Now: now}),
		worker: tasks.NewWorker(store, reg, tasks.WorkerConfig{Owner: "test", Now: now}),
	}
}

func (f *fixture) mkdir(t *testing.T, parent int64, name string) models.Folder {
	t.Helper()
	folder, err := f.cat.CreateFolder(context.Background(), parent, name)
	if err != nil {
		t.Fatal(err)
	}
	return folder
}

func (f *fixture) write(t *testing.T, rel, body string) {
	t.Helper()
	full := filepath.Join(f.root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(full), 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(full, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
}

// run executes the next task and returns it as a poller sees it.
func (f *fixture) run(t *testing.T, id int64) *models.Task {
	t.Helper()
	ctx := context.Background()
	ran, err := f.worker.RunNext(ctx)
	if err != nil || !ran {
		t.Fatalf("RunNext() = %v, %v", ran, err)
	}
	task, err := f.sched.Poll(ctx, id)
	if err != nil {
		t.Fatalf("Poll(%d) error = %v", id, err)
	}
	if task.Status != models.TaskComplete {
		t.Fatalf("task %d status = %s", id, task.Status)
	}
	return task
}

func resultStatus(t *testing.T, task *models.Task) int {
	t.Helper()
	var r struct {
		Status int `json:"status"`
	}
	if err := json.Unmarshal(task.Result, &r); err != nil {
		t.Fatal(err)
	}
	return r.Status
}

func TestMoveJob(t *testing.T) {
	f := newFixture(t)
	a := f.mkdir(t, models.RootFolderID, "a")
	b := f.mkdir(t, a.ID, "b")

	sub, err := SubmitMove(context.Background(), f.sched, MoveParams{FolderID: b.ID, ParentID: models.RootFolderID}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := *sub.Task.LockID; got != "folder:"+strconv.FormatInt(b.ID, 10) {
		t.Errorf("lock id = %q", got)
	}
	task := f.run(t, sub.Task.ID)
	if s := resultStatus(t, task); s != http.StatusOK {
		t.Fatalf("result = %s", task.Result)
	}
	if p, _ := f.cat.Tree().Path(b.ID); p != "b" {
		t.Errorf("path after move = %q", p)
	}
	if _, err := os.Stat(filepath.Join(f.root, "b")); err != nil {
		t.Errorf("directory not moved: %v", err)
	}
}

func TestFolderJobsShareLock(t *testing.T) {
	tests := []struct {
		name   string
		second func(ctx context.Context, s *tasks.Scheduler, id int64) error
	}{
		{
			name: "duplicate move",
			second: func(ctx context.Context, s *tasks.Scheduler, id int64) error {
				_, err := SubmitMove(ctx, s, MoveParams{FolderID: id, ParentID: models.RootFolderID}, nil)
				return err
			},
		},
		{
			name: "delete during move",
			second: func(ctx context.Context, s *tasks.Scheduler, id int64) error {
				_, err := SubmitDelete(ctx, s, DeleteParams{FolderID: id}, nil)
				return err
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			a := f.mkdir(t, models.RootFolderID, "a")
			b := f.mkdir(t, a.ID, "b")

			first, err := SubmitMove(ctx, f.sched, MoveParams{FolderID: b.ID, ParentID: models.RootFolderID}, nil)
			if err != nil {
				t.Fatal(err)
			}
			err = tt.second(ctx, f.sched, b.ID)
			if !models.IsKind(err, models.KindConflict) {
				t.Fatalf("second submit error = %v, want conflict", err)
			}
			e, _ := models.AsError(err)
			if data, ok := e.Data.(map[string]int64); !ok || data["task_id"] != first.Task.ID {
				t.Errorf("conflict data = %#v", e.Data)
			}
		})
	}
}

func TestDeleteJob(t *testing.T) {
	f := newFixture(t)
	a := f.mkdir(t, models.RootFolderID, "a")
	f.mkdir(t, a.ID, "b")

	sub, err := SubmitDelete(context.Background(), f.sched, DeleteParams{FolderID: a.ID}, nil)
	if err != nil {
		t.Fatal(err)
	}
	task := f.run(t, sub.Task.ID)
	if s := resultStatus(t, task); s != http.StatusOK {
		t.Fatalf("result = %s", task.Result)
	}
	if _, ok := f.cat.Tree().Get(a.ID); ok {
		t.Error("folder still in tree")
	}
	if _, err := os.Stat(filepath.Join(f.root, "a")); !os.IsNotExist(err) {
		t.Errorf("directory still on disk: %v", err)
	}
}

func TestMoveJobFailureIsReportedInResult(t *testing.T) {
	f := newFixture(t)
	a := f.mkdir(t, models.RootFolderID, "a")
	b := f.mkdir(t, a.ID, "b")

	// Moving a folder into its own subtree fails inside the handler.
	sub, err := SubmitMove(context.Background(), f.sched, MoveParams{FolderID: a.ID, ParentID: b.ID}, nil)
	if err != nil {
		t.Fatal(err)
	}
	task := f.run(t, sub.Task.ID)
	if s := resultStatus(t, task); s != http.StatusBadRequest {
		t.Errorf("result = %s, want status 400", task.Result)
	}
}

func TestExportParamsNormalize(t *testing.T) {
	tests := []struct {
		name    string
		in      ExportParams
		want    ExportParams
		wantErr bool
	}{
		{
			name: "sorted and deduped",
			in:   ExportParams{Paths: []string{"b/2.jpg", "a/1.jpg", "./a/1.jpg"}},
			want: ExportParams{Paths: []string{"a/1.jpg", "b/2.jpg"}, Name: "export.zip"},
		},
		{
			name: "zip suffix added",
			in:   ExportParams{Paths: []string{"a.jpg"}, Name: "holiday"},
			want: ExportParams{Paths: []string{"a.jpg"}, Name: "holiday.zip"},
		},
		{name: "no paths", in: ExportParams{}, wantErr: true},
		{name: "escaping path", in: ExportParams{Paths: []string{"../etc/passwd"}}, wantErr: true},
		{name: "name with slash", in: ExportParams{Paths: []string{"a.jpg"}, Name: "x/y.zip"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.in.normalize()
			if (err != nil) != tt.wantErr {
				t.Fatalf("normalize() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if got.Name != tt.want.Name || len(got.Paths) != len(tt.want.Paths) {
				t.Fatalf("normalize() = %+v, want %+v", got, tt.want)
			}
			for i := range got.Paths {
				if got.Paths[i] != tt.want.Paths[i] {
					t.Errorf("Paths[%d] = %q, want %q", i, got.Paths[i], tt.want.Paths[i])
				}
			}
		})
	}
}

func TestExportDigestDependsOnContent(t *testing.T) {
	a, _ := ExportParams{Paths: []string{"x.jpg", "y.jpg"}}.normalize()
	b, _ := ExportParams{Paths: []string{"y.jpg", "x.jpg", "x.jpg"}}.normalize()
	c, _ := ExportParams{Paths: []string{"x.jpg"}}.normalize()
	d, _ := ExportParams{Paths: []string{"x.jpg", "y.jpg"}, Name: "other"}.normalize()
	if a.Digest() != b.Digest() {
		t.Error("equivalent requests have different digests")
	}
	if a.Digest() == c.Digest() || a.Digest() == d.Digest() {
		t.Error("different requests share a digest")
	}
}

func TestExportJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.write(t, "a/1.jpg", "one")
	f.write(t, "b/2.jpg", "two")
	uid := int64(7)

	first, err := SubmitExport(ctx, f.sched, ExportParams{Paths: []string{"b/2.jpg", "a/1.jpg"}}, &uid)
	if err != nil {
		t.Fatal(err)
	}
	again, err := SubmitExport(ctx, f.sched, ExportParams{Paths: []string{"a/1.jpg", "b/2.jpg"}}, &uid)
	if err != nil {
		t.Fatal(err)
	}
	if !again.Coalesced || again.Task.ID != first.Task.ID {
		t.Errorf("identical export not coalesced: %+v", again)
	}

	task := f.run(t, first.Task.ID)
	res, err := ExportOf(task)
	if err != nil {
		t.Fatalf("ExportOf() error = %v (result %s)", err, task.Result)
	}
	if res.Files != 2 || !res.ExpiresAt.Equal(t0.Add(time.Hour)) {
		t.Errorf("ExportOf() = %+v", res)
	}

	rc, obj, err := f.arts.Open(ctx, res.Key)
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(rc)
	_ = rc.Close()
	zr, err := zip.NewReader(bytes.NewReader(body), obj.Size)
	if err != nil {
		t.Fatalf("artifact is not a zip: %v", err)
	}
	if len(zr.File) != 2 || zr.File[0].Name != "a/1.jpg" || zr.File[1].Name != "b/2.jpg" {
		t.Errorf("archive entries = %v", zr.File)
	}
}

func TestExportMissingFile(t *testing.T) {
	f := newFixture(t)
	f.write(t, "a.jpg", "a")

	sub, err := SubmitExport(context.Background(), f.sched, ExportParams{Paths: []string{"a.jpg", "missing.jpg"}}, nil)
	if err != nil {
		t.Fatal(err)
	}
	task := f.run(t, sub.Task.ID)
	if s := resultStatus(t, task); s != http.StatusNotFound {
		t.Errorf("result = %s, want status 404", task.Result)
	}
	if _, err := ExportOf(task); !models.IsKind(err, models.KindNotFound) {
		t.Errorf("ExportOf(failed) error = %v", err)
	}
	list, _ := f.arts.List(context.Background())
	if len(list) != 0 {
		t.Errorf("partial artifact left behind: %v", list)
	}
}

func TestDeleteExport(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.write(t, "a.jpg", "a")
	owner, other := int64(7), int64(8)
	ownerCaller := models.Caller{UserID: &owner, Roles: []string{models.RoleUser}}
	otherCaller := models.Caller{UserID: &other, Roles: []string{models.RoleUser}}
	admin := models.Caller{UserID: &other, Roles: []string{models.RoleAdmin}}

	sub, err := SubmitExport(ctx, f.sched, ExportParams{Paths: []string{"a.jpg"}}, &owner)
	if err != nil {
		t.Fatal(err)
	}
	id := sub.Task.ID

	if err := DeleteExport(ctx, f.sched, f.arts, id, ownerCaller); !models.IsKind(err, models.KindConflict) {
		t.Errorf("DeleteExport(running) error = %v, want conflict", err)
	}
	f.run(t, id)
	if err := DeleteExport(ctx, f.sched, f.arts, id, otherCaller); !models.IsKind(err, models.KindPermission) {
		t.Errorf("DeleteExport(other user) error = %v, want permission", err)
	}
	if err := DeleteExport(ctx, f.sched, f.arts, id, admin); err != nil {
		t.Errorf("DeleteExport(admin) error = %v", err)
	}
	if err := DeleteExport(ctx, f.sched, f.arts, id, ownerCaller); !models.IsKind(err, models.KindNotFound) {
		t.Errorf("DeleteExport(deleted) error = %v, want not found", err)
	}
}

func TestExportsFinishingTogetherKeepSeparateArtifacts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.write(t, "a.jpg", "alice's original")
	f.write(t, "b.jpg", "bob's original")
	alice, bob := int64(1), int64(2)

	subA, err := SubmitExport(ctx, f.sched, ExportParams{Paths: []string{"a.jpg"}}, &alice)
	if err != nil {
		t.Fatal(err)
	}
	subB, err := SubmitExport(ctx, f.sched, ExportParams{Paths: []string{"b.jpg"}}, &bob)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if ran, err := f.worker.RunNext(ctx); err != nil || !ran {
			t.Fatalf("RunNext() = %v, %v", ran, err)
		}
	}

	results := make(map[int64]ExportResult)
	for _, id := range []int64{subA.Task.ID, subB.Task.ID} {
		task, err := f.sched.Poll(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		res, err := ExportOf(task)
		if err != nil {
			t.Fatalf("ExportOf(%d) error = %v (result %s)", id, err, task.Result)
		}
		results[id] = res
	}
	resA, resB := results[subA.Task.ID], results[subB.Task.ID]
	if resA.Key == resB.Key {
		t.Fatalf("both exports stored under %s", resA.Key)
	}
	if resA.Name != "export.zip" || resB.Name != "export.zip" {
		t.Errorf("names = %q, %q", resA.Name, resB.Name)
	}

	entry := func(key string) string {
		t.Helper()
		rc, obj, err := f.arts.Open(ctx, key)
		if err != nil {
			t.Fatalf("Open(%s) error = %v", key, err)
		}
		body, _ := io.ReadAll(rc)
		_ = rc.Close()
		zr, err := zip.NewReader(bytes.NewReader(body), obj.Size)
		if err != nil || len(zr.File) != 1 {
			t.Fatalf("artifact %s is not a one-file zip: %v", key, err)
		}
		return zr.File[0].Name
	}
	if got := entry(resA.Key); got != "a.jpg" {
		t.Errorf("alice's export contains %s", got)
	}
	if got := entry(resB.Key); got != "b.jpg" {
		t.Errorf("bob's export contains %s", got)
	}

	aliceCaller := models.Caller{UserID: &alice, Roles: []string{models.RoleUser}}
	if err := DeleteExport(ctx, f.sched, f.arts, subA.Task.ID, aliceCaller); err != nil {
		t.Fatal(err)
	}
	if got := entry(resB.Key); got != "b.jpg" {
		t.Errorf("bob's export after alice's delete contains %s", got)
	}
}

func TestExportCoalescesPerUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.write(t, "a.jpg", "a")
	alice, bob := int64(1), int64(2)
	paths := ExportParams{Paths: []string{"a.jpg"}}

	first, err := SubmitExport(ctx, f.sched, paths, &alice)
	if err != nil {
		t.Fatal(err)
	}
	again, err := SubmitExport(ctx, f.sched, paths, &alice)
	if err != nil {
		t.Fatal(err)
	}
	if !again.Coalesced || again.Task.ID != first.Task.ID {
		t.Errorf("same user's export not coalesced: %+v", again)
	}
	other, err := SubmitExport(ctx, f.sched, paths, &bob)
	if err != nil {
		t.Fatal(err)
	}
	if other.Coalesced || other.Task.ID == first.Task.ID {
		t.Fatalf("bob was given alice's task %d", other.Task.ID)
	}
	if other.Task.UserID == nil || *other.Task.UserID != bob {
		t.Errorf("bob's task owner = %v", other.Task.UserID)
	}

	for i := 0; i < 2; i++ {
		if ran, err := f.worker.RunNext(ctx); err != nil || !ran {
			t.Fatalf("RunNext() = %v, %v", ran, err)
		}
	}
	bobCaller := models.Caller{UserID: &bob, Roles: []string{models.RoleUser}}
	if err := DeleteExport(ctx, f.sched, f.arts, other.Task.ID, bobCaller); err != nil {
		t.Errorf("DeleteExport(bob's own) error = %v", err)
	}
}

func TestPurgeJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.rec.Record("a.jpg", false, 1)

	sub, err := f.sched.Submit(ctx, PurgeSubmission(0, nil))
	if err != nil {
		t.Fatal(err)
	}
	dup, err := f.sched.Submit(ctx, PurgeSubmission(30, nil))
	if err != nil || !dup.Coalesced {
		t.Fatalf("second purge = %+v, %v, want coalesced", dup, err)
	}
	task := f.run(t, sub.Task.ID)
	var r struct {
		Status int         `json:"status"`
		Data   PurgeResult `json:"data"`
	}
	if err := json.Unmarshal(task.Result, &r); err != nil {
		t.Fatal(err)
	}
	// Today's counters survive a zero-day purge.
	if r.Status != http.StatusOK || r.Data.Removed != 0 {
		t.Errorf("purge result = %+v", r)
	}
}


// lockedBuffer collects log output written from worker goroutines.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.Split(strings.TrimSpace(b.buf.String()), "\n")
}

func TestFolderJobsLogOnce(t *testing.T) {
	var out lockedBuffer
	logging.SetLogger(zerolog.New(&out))
	defer logging.Init(logging.DefaultConfig())

	f := newFixture(t)
	a := f.mkdir(t, models.RootFolderID, "a")
	b := f.mkdir(t, a.ID, "b")
	ctx := context.Background()

	move, err := SubmitMove(ctx, f.sched, MoveParams{FolderID: b.ID, ParentID: models.RootFolderID}, nil)
	if err != nil {
		t.Fatal(err)
	}
	f.run(t, move.Task.ID)
	del, err := SubmitDelete(ctx, f.sched, DeleteParams{FolderID: a.ID}, nil)
	if err != nil {
		t.Fatal(err)
	}
	f.run(t, del.Task.ID)

	counts := map[string]int{}
	for _, line := range out.lines() {
		if n := strings.Count(line, `"task_id"`); n > 1 {
			t.Errorf("task_id appears %d times: %s", n, line)
		}
		for _, msg := range []string{"Folder moved", "Folder deleted"} {
			if strings.Contains(line, `"message":"`+msg+`"`) {
				counts[msg]++
				if !strings.Contains(line, `"task_id"`) {
					t.Errorf("%s logged without task_id: %s", msg, line)
				}
			}
		}
	}
	for _, msg := range []string{"Folder moved", "Folder deleted"} {
		if counts[msg] != 1 {
			t.Errorf("%q logged %d times, want 1", msg, counts[msg])
		}
	}
}
