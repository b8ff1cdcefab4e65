// Lumen - Dynamic Image Generation Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lumen

package models

import (
	"encoding/json"
	"time"
)

// TaskStatus is a background task state. Transitions are monotonic:
// new -> in_progress -> complete.
type TaskStatus string

const (
	TaskNew        TaskStatus = "new"
	TaskInProgress TaskStatus = "in_progress"
	TaskComplete   TaskStatus = "complete"
)

// Active reports whether the status still holds the task's lock id.
func (s TaskStatus) Active() bool {
	return s == TaskNew || s == TaskInProgress
}

// Task is a background task as returned to pollers. Result is present only
// when Status is complete and always holds a Result wrapper, so task
// failures are reported in-band.
type Task struct {
	ID        int64           `json:"id"`
	FuncName  string          `json:"funcname"`
	Params    json.RawMessage `json:"params"`
	Priority  int             `json:"priority"`
	Status    TaskStatus      `json:"status"`
	Result    json.RawMessage `json:"result"`
	LockID    *string         `json:"lock_id"`
	KeepFor   int             `json:"keep_for"`
	KeepUntil *time.Time      `json:"keep_until"`
	UserID    *int64          `json:"user_id"`

	CreatedAt  time.Time  `json:"-"`
	Owner      string     `json:"-"`
	LeaseUntil *time.Time `json:"-"`
}

// Expired reports whether the retention window has elapsed at now.
func (t *Task) Expired(now time.Time) bool {
	return t.Status == TaskComplete && t.KeepUntil != nil && !now.Before(*t.KeepUntil)
}

// Claimable reports whether a worker may take the task at now: either it
// is new, or it is in progress with a lapsed lease.
func (t *Task) Claimable(now time.Time) bool {
	switch t.Status {
	case TaskNew:
		return true
	case TaskInProgress:
		return t.LeaseUntil == nil || !now.Before(*t.LeaseUntil)
	default:
		return false
	}
}

// Clone returns a copy that does not share slices or pointers.
func (t *Task) Clone() *Task {
	c := *t
	c.Params = append(json.RawMessage(nil), t.Params...)
	c.Result = append(json.RawMessage(nil), t.Result...)
	if t.LockID != nil {
		s := *t.LockID
		c.LockID = &s
	}
	if t.KeepUntil != nil {
		k := *t.KeepUntil
		c.KeepUntil = &k
	}
	if t.UserID != nil {
		u := *t.UserID
		c.UserID = &u
	}
	if t.LeaseUntil != nil {
		l := *t.LeaseUntil
		c.LeaseUntil = &l
	}
	return &c
}
