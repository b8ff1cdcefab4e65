// Lumen - Dynamic Image Generation Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lumen

package tasks

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/tomtom215/lumen/internal/models"
)

type memLease struct {
	owner string
	until time.Time
}

// MemoryStore keeps tasks in process memory. It serves a single process.
type MemoryStore struct {
	mu     sync.Mutex
	nextID int64
	tasks  map[int64]*models.Task
	locks  map[string]int64
	leases map[string]memLease
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks:  make(map[int64]*models.Task),
		locks:  make(map[string]int64),
		leases: make(map[string]memLease),
	}
}

func (s *MemoryStore) Insert(_ context.Context, t *models.Task) (*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.LockID != nil {
		if holder, ok := s.locks[*t.LockID]; ok {
			if h, live := s.tasks[holder]; live && h.Status.Active() {
				return nil, &LockHeldError{LockID: *t.LockID, Holder: holder}
			}
		}
	}

	s.nextID++
	c := t.Clone()
	c.ID = s.nextID
	c.Status = models.TaskNew
	s.tasks[c.ID] = c
	if c.LockID != nil {
		s.locks[*c.LockID] = c.ID
	}
	return c.Clone(), nil
}

func (s *MemoryStore) Get(_ context.Context, id int64) (*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, notFound(id)
	}
	return t.Clone(), nil
}

func (s *MemoryStore) Claim(_ context.Context, owner string, funcs []string, lease time.Duration, now time.Time) (*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	allowed := funcSet(funcs)
	var best *models.Task
	for _, t := range s.tasks {
		if !allowed[t.FuncName] || !t.Claimable(now) {
			continue
		}
		if best == nil || better(t, best) {
			best = t
		}
	}
	if best == nil {
		return nil, nil
	}
	claimTask(best, owner, lease, now)
	return best.Clone(), nil
}

func (s *MemoryStore) Renew(_ context.Context, id int64, owner string, lease time.Duration, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok || t.Status != models.TaskInProgress || t.Owner != owner {
		return ErrLeaseLost
	}
	until := now.Add(lease)
	t.LeaseUntil = &until
	return nil
}

func (s *MemoryStore) Complete(_ context.Context, id int64, owner string, result json.RawMessage, now time.Time) (*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok || t.Status != models.TaskInProgress || t.Owner != owner {
		return nil, ErrLeaseLost
	}
	completeTask(t, result, now)
	if t.LockID != nil && s.locks[*t.LockID] == id {
		delete(s.locks, *t.LockID)
	}
	return t.Clone(), nil
}

func (s *MemoryStore) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, t := range s.tasks {
		if t.Expired(now) {
			delete(s.tasks, id)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Delete(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return notFound(id)
	}
	if t.LockID != nil && s.locks[*t.LockID] == id {
		delete(s.locks, *t.LockID)
	}
	delete(s.tasks, id)
	return nil
}

func (s *MemoryStore) AcquireLease(_ context.Context, name, owner string, ttl time.Duration, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if l, ok := s.leases[name]; ok && l.owner != owner && now.Before(l.until) {
		return false, nil
	}
	s.leases[name] = memLease{owner: owner, until: now.Add(ttl)}
	return true, nil
}

func (s *MemoryStore) ReleaseLease(_ context.Context, name, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if l, ok := s.leases[name]; ok && l.owner == owner {
		delete(s.leases, name)
	}
	return nil
}
