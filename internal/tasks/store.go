// Lumen - Dynamic Image Generation Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lumen

package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/lumen/internal/models"
)

var (
	// ErrLockHeld is matched by every *LockHeldError.
	ErrLockHeld = errors.New("task lock held")

	// ErrLeaseLost means the caller no longer owns the task it tried to
	// renew or complete.
	ErrLeaseLost = errors.New("task lease lost")
)

// LockHeldError is returned by Store.Insert when an active task already
// holds the requested lock id.
type LockHeldError struct {
	LockID string
	Holder int64
}

func (e *LockHeldError) Error() string {
	return fmt.Sprintf("lock %q is held by task %d", e.LockID, e.Holder)
}

// Is makes errors.Is(err, ErrLockHeld) match.
func (e *LockHeldError) Is(target error) bool { return target == ErrLockHeld }

// Store persists tasks. Implementations must make Insert's lock check and
// Claim's status change atomic across every process sharing the store.
type Store interface {
	// Insert assigns an id and stores t as new. When t.LockID is set and an
	// active task holds it, Insert stores nothing and returns *LockHeldError.
	Insert(ctx context.Context, t *models.Task) (*models.Task, error)

	// Get returns the task or a NotFound error.
	Get(ctx context.Context, id int64) (*models.Task, error)

	// Claim moves the highest-priority claimable task (ties broken by id)
	// whose function is in funcs to in progress, owned by owner until
	// now+lease. It returns nil, nil when nothing is claimable.
	Claim(ctx context.Context, owner string, funcs []string, lease time.Duration, now time.Time) (*models.Task, error)

	// Renew extends the lease. ErrLeaseLost if owner no longer holds it.
	Renew(ctx context.Context, id int64, owner string, lease time.Duration, now time.Time) error

	// Complete records result, releases the lock and sets keep_until to
	// now+keep_for. ErrLeaseLost if owner no longer holds the task.
	Complete(ctx context.Context, id int64, owner string, result json.RawMessage, now time.Time) (*models.Task, error)

	// DeleteExpired removes complete tasks whose keep_until is not after now.
	DeleteExpired(ctx context.Context, now time.Time) (int, error)

	// Delete removes a task regardless of state.
	Delete(ctx context.Context, id int64) error

	// AcquireLease takes or extends the named lease for owner. It reports
	// false when another owner holds an unexpired lease.
	AcquireLease(ctx context.Context, name, owner string, ttl time.Duration, now time.Time) (bool, error)

	// ReleaseLease drops the lease if owner holds it.
	ReleaseLease(ctx context.Context, name, owner string) error
}

// completeTask applies completion to t in place.
func completeTask(t *models.Task, result json.RawMessage, now time.Time) {
	t.Status = models.TaskComplete
	t.Result = append(json.RawMessage(nil), result...)
	until := now.Add(time.Duration(t.KeepFor) * time.Second)
	t.KeepUntil = &until
	t.Owner = ""
	t.LeaseUntil = nil
}

// claimTask applies a claim to t in place.
func claimTask(t *models.Task, owner string, lease time.Duration, now time.Time) {
	t.Status = models.TaskInProgress
	t.Owner = owner
	until := now.Add(lease)
	t.LeaseUntil = &until
}

// better reports whether a should be claimed before b.
func better(a, b *models.Task) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return a.ID < b.ID
}

func funcSet(funcs []string) map[string]bool {
	m := make(map[string]bool, len(funcs))
	for _, f := range funcs {
		m[f] = true
	}
	return m
}

func notFound(id int64) error {
	return models.NotFound("task", id)
}
