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
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	gojson "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/tomtom215/lumen/internal/logging"
	"github.com/tomtom215/lumen/internal/models"
)

// Key prefixes for BadgerDB storage
const (
	taskKeyPrefix  = "task:"
	lockKeyPrefix  = "lock:"
	leaseKeyPrefix = "lease:"
	taskSeqKey     = "seq:task"

	// maxTxnRetries bounds optimistic retries on badger.ErrConflict.
	maxTxnRetries = 8
)

// badgerTask is the stored form. It carries the fields models.Task hides
// from API responses.
type badgerTask struct {
	models.Task
	CreatedAt  time.Time  `json:"created_at"`
	Owner      string     `json:"owner,omitempty"`
	LeaseUntil *time.Time `json:"lease_until,omitempty"`
}

type badgerLease struct {
	Owner string    `json:"owner"`
	Until time.Time `json:"until"`
}

// BadgerStore implements Store on BadgerDB for durable single-node use.
type BadgerStore struct {
	db  *badger.DB
	seq *badger.Sequence
}

// OpenBadger opens a BadgerDB at dir, logging through zerolog. An empty
// dir opens an in-memory database.
func OpenBadger(dir string) (*badger.DB, error) {
	opts := badger.DefaultOptions(dir).WithLogger(badgerLogger{logging.WithComponent("badger")})
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %q: %w", dir, err)
	}
	return db, nil
}

// NewBadgerStore creates a task store on db. Close releases the id sequence
// but not db.
func NewBadgerStore(db *badger.DB) (*BadgerStore, error) {
	seq, err := db.GetSequence([]byte(taskSeqKey), 64)
	if err != nil {
		return nil, fmt.Errorf("task id sequence: %w", err)
	}
	return &BadgerStore{db: db, seq: seq}, nil
}

// Close releases unused leased ids.
func (s *BadgerStore) Close() error {
	return s.seq.Release()
}

func taskKey(id int64) []byte {
	return []byte(fmt.Sprintf("%s%020d", taskKeyPrefix, id))
}

// update runs fn in a read-write transaction, retrying on conflicts with
// concurrent writers.
func (s *BadgerStore) update(fn func(txn *badger.Txn) error) error {
	var err error
	for i := 0; i < maxTxnRetries; i++ {
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

func readTask(txn *badger.Txn, id int64) (*badgerTask, error) {
	item, err := txn.Get(taskKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	var bt badgerTask
	if err := item.Value(func(val []byte) error {
		return gojson.Unmarshal(val, &bt)
	}); err != nil {
		return nil, fmt.Errorf("decode task %d: %w", id, err)
	}
	return &bt, nil
}

func writeTask(txn *badger.Txn, bt *badgerTask) error {
	data, err := gojson.Marshal(bt)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	return txn.Set(taskKey(bt.ID), data)
}

func (bt *badgerTask) toModel() *models.Task {
	t := bt.Task.Clone()
	t.CreatedAt = bt.CreatedAt
	t.Owner = bt.Owner
	t.LeaseUntil = bt.LeaseUntil
	return t
}

func fromModel(t *models.Task) *badgerTask {
	return &badgerTask{Task: *t.Clone(), CreatedAt: t.CreatedAt, Owner: t.Owner, LeaseUntil: t.LeaseUntil}
}

// lockHolder returns the id of the active task holding lockID, or 0.
func lockHolder(txn *badger.Txn, lockID string) (int64, error) {
	item, err := txn.Get([]byte(lockKeyPrefix + lockID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get lock: %w", err)
	}
	var holder int64
	if err := item.Value(func(val []byte) error {
		id, perr := strconv.ParseInt(string(val), 10, 64)
		holder = id
		return perr
	}); err != nil {
		return 0, fmt.Errorf("decode lock: %w", err)
	}
	bt, err := readTask(txn, holder)
	if models.IsKind(err, models.KindNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if !bt.Status.Active() {
		return 0, nil
	}
	return holder, nil
}

func (s *BadgerStore) Insert(_ context.Context, t *models.Task) (*models.Task, error) {
	n, err := s.seq.Next()
	if err != nil {
		return nil, fmt.Errorf("next task id: %w", err)
	}
	bt := fromModel(t)
	bt.ID = int64(n) + 1
	bt.Status = models.TaskNew

	err = s.update(func(txn *badger.Txn) error {
		if bt.LockID != nil {
			holder, err := lockHolder(txn, *bt.LockID)
			if err != nil {
				return err
			}
			if holder != 0 {
				return &LockHeldError{LockID: *bt.LockID, Holder: holder}
			}
			if err := txn.Set([]byte(lockKeyPrefix+*bt.LockID), []byte(strconv.FormatInt(bt.ID, 10))); err != nil {
				return fmt.Errorf("set lock: %w", err)
			}
		}
		return writeTask(txn, bt)
	})
	if err != nil {
		return nil, err
	}
	return bt.toModel(), nil
}

func (s *BadgerStore) Get(_ context.Context, id int64) (*models.Task, error) {
	var out *models.Task
	err := s.db.View(func(txn *badger.Txn) error {
		bt, err := readTask(txn, id)
		if err != nil {
			return err
		}
		out = bt.toModel()
		return nil
	})
	return out, err
}

// scan calls fn for every stored task in id order.
func scan(txn *badger.Txn, fn func(bt *badgerTask) error) error {
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()

	prefix := []byte(taskKeyPrefix)
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		var bt badgerTask
		if err := it.Item().Value(func(val []byte) error {
			return gojson.Unmarshal(val, &bt)
		}); err != nil {
			return fmt.Errorf("decode task %s: %w", it.Item().Key(), err)
		}
		if err := fn(&bt); err != nil {
			return err
		}
	}
	return nil
}

func (s *BadgerStore) Claim(_ context.Context, owner string, funcs []string, lease time.Duration, now time.Time) (*models.Task, error) {
	allowed := funcSet(funcs)
	var out *models.Task
	err := s.update(func(txn *badger.Txn) error {
		out = nil
		var best *badgerTask
		err := scan(txn, func(bt *badgerTask) error {
			m := bt.toModel()
			if !allowed[m.FuncName] || !m.Claimable(now) {
				return nil
			}
			if best == nil || better(m, best.toModel()) {
				best = bt
			}
			return nil
		})
		if err != nil || best == nil {
			return err
		}
		m := best.toModel()
		claimTask(m, owner, lease, now)
		if err := writeTask(txn, fromModel(m)); err != nil {
			return err
		}
		out = m
		return nil
	})
	return out, err
}

func (s *BadgerStore) Renew(_ context.Context, id int64, owner string, lease time.Duration, now time.Time) error {
	return s.update(func(txn *badger.Txn) error {
		bt, err := readTask(txn, id)
		if models.IsKind(err, models.KindNotFound) {
			return ErrLeaseLost
		}
		if err != nil {
			return err
		}
		if bt.Status != models.TaskInProgress || bt.Owner != owner {
			return ErrLeaseLost
		}
		until := now.Add(lease)
		bt.LeaseUntil = &until
		return writeTask(txn, bt)
	})
}

func (s *BadgerStore) Complete(_ context.Context, id int64, owner string, result json.RawMessage, now time.Time) (*models.Task, error) {
	var out *models.Task
	err := s.update(func(txn *badger.Txn) error {
		bt, err := readTask(txn, id)
		if models.IsKind(err, models.KindNotFound) {
			return ErrLeaseLost
		}
		if err != nil {
			return err
		}
		if bt.Status != models.TaskInProgress || bt.Owner != owner {
			return ErrLeaseLost
		}
		m := bt.toModel()
		completeTask(m, result, now)
		if err := writeTask(txn, fromModel(m)); err != nil {
			return err
		}
		if m.LockID != nil {
			if err := releaseLock(txn, *m.LockID, id); err != nil {
				return err
			}
		}
		out = m
		return nil
	})
	return out, err
}

// releaseLock deletes the lock key if it still points at id.
func releaseLock(txn *badger.Txn, lockID string, id int64) error {
	key := []byte(lockKeyPrefix + lockID)
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("get lock: %w", err)
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return fmt.Errorf("read lock: %w", err)
	}
	if string(val) != strconv.FormatInt(id, 10) {
		return nil
	}
	return txn.Delete(key)
}

func (s *BadgerStore) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	var expired []int64
	err := s.db.View(func(txn *badger.Txn) error {
		return scan(txn, func(bt *badgerTask) error {
			if bt.Expired(now) {
				expired = append(expired, bt.ID)
			}
			return nil
		})
	})
	if err != nil {
		return 0, err
	}

	const batch = 500
	deleted := 0
	for start := 0; start < len(expired); start += batch {
		end := min(start+batch, len(expired))
		chunk := expired[start:end]
		err := s.update(func(txn *badger.Txn) error {
			for _, id := range chunk {
				if err := txn.Delete(taskKey(id)); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return deleted, fmt.Errorf("delete expired tasks: %w", err)
		}
		deleted += len(chunk)
	}
	return deleted, nil
}

func (s *BadgerStore) Delete(_ context.Context, id int64) error {
	return s.update(func(txn *badger.Txn) error {
		bt, err := readTask(txn, id)
		if err != nil {
			return err
		}
		if bt.LockID != nil {
			if err := releaseLock(txn, *bt.LockID, id); err != nil {
				return err
			}
		}
		return txn.Delete(taskKey(id))
	})
}

func (s *BadgerStore) AcquireLease(_ context.Context, name, owner string, ttl time.Duration, now time.Time) (bool, error) {
	acquired := false
	err := s.update(func(txn *badger.Txn) error {
		acquired = false
		key := []byte(leaseKeyPrefix + name)
		item, err := txn.Get(key)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
		case err != nil:
			return fmt.Errorf("get lease: %w", err)
		default:
			var l badgerLease
			if err := item.Value(func(val []byte) error { return gojson.Unmarshal(val, &l) }); err != nil {
				return fmt.Errorf("decode lease: %w", err)
			}
			if l.Owner != owner && now.Before(l.Until) {
				return nil
			}
		}
		data, err := gojson.Marshal(badgerLease{Owner: owner, Until: now.Add(ttl)})
		if err != nil {
			return err
		}
		acquired = true
		return txn.Set(key, data)
	})
	return acquired, err
}

func (s *BadgerStore) ReleaseLease(_ context.Context, name, owner string) error {
	return s.update(func(txn *badger.Txn) error {
		key := []byte(leaseKeyPrefix + name)
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		var l badgerLease
		if err := item.Value(func(val []byte) error { return gojson.Unmarshal(val, &l) }); err != nil {
			return err
		}
		if l.Owner != owner {
			return nil
		}
		return txn.Delete(key)
	})
}

// badgerLogger routes badger's printf-style logs through zerolog.
type badgerLogger struct {
	log zerolog.Logger
}

func (l badgerLogger) Errorf(f string, v ...any)   { l.log.Error().Msg(trimNL(fmt.Sprintf(f, v...))) }
func (l badgerLogger) Warningf(f string, v ...any) { l.log.Warn().Msg(trimNL(fmt.Sprintf(f, v...))) }
func (l badgerLogger) Infof(f string, v ...any)    { l.log.Debug().Msg(trimNL(fmt.Sprintf(f, v...))) }
func (l badgerLogger) Debugf(f string, v ...any)   { l.log.Trace().Msg(trimNL(fmt.Sprintf(f, v...))) }

func trimNL(s string) string { return strings.TrimRight(s, "\n") }
