// Lumen - Dynamic Image Generation Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lumen

// Package tasks runs long or cluster-sensitive operations as trackable
// background tasks.
//
// A task moves new -> in_progress -> complete and never backwards. Handler
// failures are recorded inside the task result, so a task that exists can
// always be polled. A submission may carry a lock id; while an active task
// holds the same lock, a new submission is rejected or coalesced onto the
// holder depending on the function's LockPolicy. The store enforces locks
// so several processes sharing one store never run two holders at once.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/lumen/internal/logging"
	"github.com/tomtom215/lumen/internal/metrics"
	"github.com/tomtom215/lumen/internal/models"
)

// LockPolicy decides what a submission does when its lock is held.
type LockPolicy int

const (
	// LockReject fails the submission with a conflict naming the holder.
	LockReject LockPolicy = iota

	// LockCoalesce returns the holder so the caller watches it instead.
	LockCoalesce
)

func (p LockPolicy) String() string {
	if p == LockCoalesce {
		return "coalesce"
	}
	return "reject"
}

// Handler runs a task. The returned value becomes the result data. The
// context is canceled if the worker loses the task's lease.
type Handler func(ctx context.Context, task *models.Task) (any, error)

// Definition registers a function that tasks may name.
type Definition struct {
	Name    string
	Lock    LockPolicy
	Handler Handler
}

// Registry maps function names to definitions.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]Definition
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]Definition)}
}

// Register adds def, replacing any definition with the same name.
func (r *Registry) Register(def Definition) {
	if def.Name == "" || def.Handler == nil {
		panic("tasks: definition needs a name and a handler")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs[def.Name] = def
}

// Lookup returns the definition for name.
func (r *Registry) Lookup(name string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[name]
	return def, ok
}

// Names returns the registered function names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.defs))
	for n := range r.defs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Submit describes a task submission.
type Submit struct {
	Func     string
	Params   any
	LockID   string
	Priority int
	UserID   *int64

	// KeepFor is how long the completed task stays pollable. Nil applies
	// the scheduler default; zero expires the task at completion.
	KeepFor *time.Duration
}

// Submitted is the outcome of a submission.
type Submitted struct {
	Task *models.Task

	// Coalesced is true when Task is an existing holder of the lock.
	Coalesced bool
}

// Options configures a Scheduler.
type Options struct {
	DefaultKeepFor time.Duration
	Now            func() time.Time
}

// Scheduler accepts submissions and answers polls.
type Scheduler struct {
	store    Store
	registry *Registry
	keepFor  time.Duration
	now      func() time.Time
}

// NewScheduler creates a scheduler over store for the functions in registry.
func NewScheduler(store Store, registry *Registry, opts Options) *Scheduler {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Scheduler{store: store, registry: registry, keepFor: opts.DefaultKeepFor, now: opts.Now}
}

// Store returns the underlying task store.
func (s *Scheduler) Store() Store { return s.store }

// Registry returns the function registry.
func (s *Scheduler) Registry() *Registry { return s.registry }

// Submit stores a new task, or resolves a lock collision per the
// function's policy.
func (s *Scheduler) Submit(ctx context.Context, sub Submit) (Submitted, error) {
	def, ok := s.registry.Lookup(sub.Func)
	if !ok {
		metrics.RecordTaskSubmitted(sub.Func, "unknown")
		return Submitted{}, models.InvalidParameter("funcname", "unknown task function %q", sub.Func)
	}

	t := &models.Task{
		FuncName:  sub.Func,
		Priority:  sub.Priority,
		Status:    models.TaskNew,
		UserID:    sub.UserID,
		CreatedAt: s.now(),
	}
	keep := s.keepFor
	if sub.KeepFor != nil {
		keep = *sub.KeepFor
	}
	if keep < 0 {
		return Submitted{}, models.InvalidParameter("keep_for", "keep_for must not be negative")
	}
	t.KeepFor = int(keep / time.Second)
	if sub.Params != nil {
		raw, err := json.Marshal(sub.Params)
		if err != nil {
			return Submitted{}, models.InvalidParameter("params", "params are not serializable: %v", err)
		}
		t.Params = raw
	}
	if sub.LockID != "" {
		lock := sub.LockID
		t.LockID = &lock
	}

	log := logging.Ctx(ctx).With().Str("funcname", sub.Func).Str("lock_id", sub.LockID).Logger()

	stored, err := s.store.Insert(ctx, t)
	if err == nil {
		metrics.RecordTaskSubmitted(sub.Func, "accepted")
		log.Debug().Int64("task_id", stored.ID).Msg("Task submitted")
		return Submitted{Task: stored}, nil
	}

	var held *LockHeldError
	if !errors.As(err, &held) {
		metrics.RecordTaskSubmitted(sub.Func, "error")
		return Submitted{}, fmt.Errorf("submit %s: %w", sub.Func, err)
	}

	if def.Lock == LockCoalesce {
		holder, gerr := s.store.Get(ctx, held.Holder)
		if gerr == nil {
			metrics.RecordTaskSubmitted(sub.Func, "coalesced")
			log.Debug().Int64("task_id", holder.ID).Msg("Task coalesced onto lock holder")
			return Submitted{Task: holder, Coalesced: true}, nil
		}
		if !models.IsKind(gerr, models.KindNotFound) {
			return Submitted{}, fmt.Errorf("submit %s: %w", sub.Func, gerr)
		}
		// The holder vanished; try once more as a fresh submission.
		if stored, err := s.store.Insert(ctx, t); err == nil {
			metrics.RecordTaskSubmitted(sub.Func, "accepted")
			return Submitted{Task: stored}, nil
		}
	}

	metrics.RecordTaskSubmitted(sub.Func, "rejected")
	log.Info().Int64("holder", held.Holder).Msg("Task rejected: lock held")
	return Submitted{}, &models.Error{
		Kind:    models.KindConflict,
		Op:      "submit " + sub.Func,
		Message: held.Error(),
		Data:    map[string]int64{"task_id": held.Holder},
	}
}

// Poll returns the task, or NotFound once its retention has elapsed even
// if no sweep has removed it yet.
func (s *Scheduler) Poll(ctx context.Context, id int64) (*models.Task, error) {
	t, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Expired(s.now()) {
		return nil, notFound(id)
	}
	return t, nil
}

// DecodeParams unmarshals the task's params into v.
func DecodeParams(task *models.Task, v any) error {
	if len(task.Params) == 0 {
		return models.InvalidParameter("params", "task %d has no params", task.ID)
	}
	if err := json.Unmarshal(task.Params, v); err != nil {
		return models.InvalidParameter("params", "invalid params for %s: %v", task.FuncName, err)
	}
	return nil
}
