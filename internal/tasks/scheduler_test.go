// Lumen - Dynamic Image Generation Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lumen

package tasks

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/tomtom215/lumen/internal/models"
)

func noop(context.Context, *models.Task) (any, error) { return nil, nil }

func testRegistry() *Registry {
	r := NewRegistry()
	r.Register(Definition{Name: "folder.move", Lock: LockReject, Handler: noop})
	r.Register(Definition{Name: "stats.purge", Lock: LockCoalesce, Handler: noop})
	return r
}

func newTestScheduler(store Store, clk *clock) *Scheduler {
	return NewScheduler(store, testRegistry(), Options{DefaultKeepFor: time.Hour, Now: clk.Now})
}

func durationPtr(d time.Duration) *time.Duration { return &d }

func TestRegistryNames(t *testing.T) {
	r := testRegistry()
	got := r.Names()
	if len(got) != 2 || got[0] != "folder.move" || got[1] != "stats.purge" {
		t.Errorf("Names() = %v", got)
	}
	if _, ok := r.Lookup("zip.export"); ok {
		t.Error("Lookup(zip.export) found an unregistered function")
	}
}

func TestRegistryRegisterPanicsWithoutHandler(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("Register without handler did not panic")
		}
	}()
	NewRegistry().Register(Definition{Name: "x"})
}

func TestSubmit(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		sub      Submit
		wantKeep int
		wantKind models.ErrorKind
		wantErr  bool
	}{
		{name: "default keep", sub: Submit{Func: "folder.move", Params: map[string]int{"folder_id": 5}}, wantKeep: 3600},
		{name: "explicit keep", sub: Submit{Func: "folder.move", KeepFor: durationPtr(90 * time.Second)}, wantKeep: 90},
		{name: "zero keep", sub: Submit{Func: "folder.move", KeepFor: durationPtr(0)}, wantKeep: 0},
		{name: "negative keep", sub: Submit{Func: "folder.move", KeepFor: durationPtr(-time.Second)}, wantErr: true, wantKind: models.KindValidation},
		{name: "unknown function", sub: Submit{Func: "nope"}, wantErr: true, wantKind: models.KindValidation},
		{name: "unserializable params", sub: Submit{Func: "folder.move", Params: make(chan int)}, wantErr: true, wantKind: models.KindValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestScheduler(NewMemoryStore(), newClock())
			got, err := s.Submit(ctx, tt.sub)
			if tt.wantErr {
				if !models.IsKind(err, tt.wantKind) {
					t.Fatalf("Submit() error = %v, want kind %s", err, tt.wantKind)
				}
				return
			}
			if err != nil {
				t.Fatalf("Submit() error = %v", err)
			}
			if got.Task.Status != models.TaskNew || got.Coalesced {
				t.Errorf("Submit() = %+v", got)
			}
			if got.Task.KeepFor != tt.wantKeep {
				t.Errorf("KeepFor = %d, want %d", got.Task.KeepFor, tt.wantKeep)
			}
		})
	}
}

func TestSubmitParamsRoundTrip(t *testing.T) {
	s := newTestScheduler(NewMemoryStore(), newClock())
	got, err := s.Submit(context.Background(), Submit{
		Func:   "folder.move",
		Params: map[string]int64{"folder_id": 5, "new_parent_id": 9},
	})
	if err != nil {
		t.Fatal(err)
	}
	var p struct {
		FolderID    int64 `json:"folder_id"`
		NewParentID int64 `json:"new_parent_id"`
	}
	if err := DecodeParams(got.Task, &p); err != nil {
		t.Fatalf("DecodeParams() error = %v", err)
	}
	if p.FolderID != 5 || p.NewParentID != 9 {
		t.Errorf("params = %+v", p)
	}

	empty := &models.Task{ID: 3, FuncName: "folder.move"}
	if err := DecodeParams(empty, &p); !models.IsKind(err, models.KindValidation) {
		t.Errorf("DecodeParams(empty) error = %v", err)
	}
}

func TestSubmitRejectReportsHolder(t *testing.T) {
	ctx := context.Background()
	s := newTestScheduler(NewMemoryStore(), newClock())

	first, err := s.Submit(ctx, Submit{Func: "folder.move", LockID: "folder:5"})
	if err != nil {
		t.Fatal(err)
	}
	_, err = s.Submit(ctx, Submit{Func: "folder.move", LockID: "folder:5"})
	if !models.IsKind(err, models.KindConflict) {
		t.Fatalf("duplicate Submit() error = %v, want conflict", err)
	}
	res := models.ResultFromError(err)
	if res.Status != http.StatusConflict {
		t.Errorf("status = %d, want 409", res.Status)
	}
	data, ok := res.Data.(map[string]int64)
	if !ok || data["task_id"] != first.Task.ID {
		t.Errorf("conflict data = %#v, want task_id %d", res.Data, first.Task.ID)
	}
}

func TestSubmitCoalesce(t *testing.T) {
	ctx := context.Background()
	s := newTestScheduler(NewMemoryStore(), newClock())

	first, err := s.Submit(ctx, Submit{Func: "stats.purge", LockID: "stats.purge"})
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.Submit(ctx, Submit{Func: "stats.purge", LockID: "stats.purge"})
	if err != nil {
		t.Fatalf("coalescing Submit() error = %v", err)
	}
	if !second.Coalesced || second.Task.ID != first.Task.ID {
		t.Errorf("second = %+v, want coalesced onto %d", second, first.Task.ID)
	}
}

func TestPollHonorsRetention(t *testing.T) {
	ctx := context.Background()
	clk := newClock()
	store := NewMemoryStore()
	s := newTestScheduler(store, clk)

	sub, err := s.Submit(ctx, Submit{Func: "folder.move", KeepFor: durationPtr(30 * time.Second)})
	if err != nil {
		t.Fatal(err)
	}
	w := NewWorker(store, s.Registry(), WorkerConfig{Owner: "w", Now: clk.Now})
	if ran, err := w.RunNext(ctx); !ran || err != nil {
		t.Fatalf("RunNext() = %v, %v", ran, err)
	}

	got, err := s.Poll(ctx, sub.Task.ID)
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if got.Status != models.TaskComplete || got.KeepUntil == nil || !got.KeepUntil.Equal(t0.Add(30*time.Second)) {
		t.Errorf("Poll() = %+v", got)
	}

	clk.Advance(30 * time.Second)
	if _, err := s.Poll(ctx, sub.Task.ID); !models.IsKind(err, models.KindNotFound) {
		t.Errorf("Poll() after keep_until error = %v, want not found", err)
	}
}

func TestPollZeroKeepExpiresAtCompletion(t *testing.T) {
	ctx := context.Background()
	clk := newClock()
	store := NewMemoryStore()
	s := newTestScheduler(store, clk)

	sub, err := s.Submit(ctx, Submit{Func: "folder.move", KeepFor: durationPtr(0)})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Poll(ctx, sub.Task.ID); err != nil {
		t.Fatalf("Poll() before completion error = %v", err)
	}
	w := NewWorker(store, s.Registry(), WorkerConfig{Owner: "w", Now: clk.Now})
	if _, err := w.RunNext(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Poll(ctx, sub.Task.ID); !models.IsKind(err, models.KindNotFound) {
		t.Errorf("Poll() after completion error = %v, want not found", err)
	}
}

// Two processes submitting the same folder move against one store: the
// second is rejected until the first completes, then accepted.
func TestDuplicateFolderMoveAcrossProcesses(t *testing.T) {
	ctx := context.Background()
	clk := newClock()
	store := NewMemoryStore()
	procA := newTestScheduler(store, clk)
	procB := newTestScheduler(store, clk)

	move := Submit{Func: "folder.move", LockID: "folder:5", Params: map[string]int64{"folder_id": 5, "new_parent_id": 2}}
	first, err := procA.Submit(ctx, move)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := procB.Submit(ctx, move); !models.IsKind(err, models.KindConflict) {
		t.Fatalf("procB Submit() error = %v, want conflict", err)
	}

	w := NewWorker(store, procB.Registry(), WorkerConfig{Owner: "procB-1", Now: clk.Now})
	if ran, err := w.RunNext(ctx); !ran || err != nil {
		t.Fatalf("RunNext() = %v, %v", ran, err)
	}
	done, err := procA.Poll(ctx, first.Task.ID)
	if err != nil || done.Status != models.TaskComplete {
		t.Fatalf("Poll() = %+v, %v", done, err)
	}

	again, err := procB.Submit(ctx, move)
	if err != nil {
		t.Fatalf("Submit() after completion error = %v", err)
	}
	if again.Task.ID == first.Task.ID {
		t.Error("resubmission reused the completed task")
	}
}
