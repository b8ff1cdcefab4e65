// Lumen - Dynamic Image Generation Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lumen

package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/tomtom215/lumen/internal/database"
	"github.com/tomtom215/lumen/internal/models"
)

const taskColumns = `id, funcname, params, priority, status, result, lock_id, keep_for,
	keep_until, user_id, owner, lease_until, created_at`

// PostgresStore implements Store on PostgreSQL. Every server process may
// share one database: the partial unique index on tasks(lock_id) enforces
// locks and claims skip rows locked by other claimers.
type PostgresStore struct {
	db database.DBTX
}

// NewPostgresStore creates a store on db (a pool or a transaction).
func NewPostgresStore(db database.DBTX) *PostgresStore {
	return &PostgresStore{db: db}
}

func scanTask(row pgx.Row) (*models.Task, error) {
	var (
		t      models.Task
		status string
		owner  *string
	)
	err := row.Scan(&t.ID, &t.FuncName, &t.Params, &t.Priority, &status, &t.Result, &t.LockID,
		&t.KeepFor, &t.KeepUntil, &t.UserID, &owner, &t.LeaseUntil, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	t.Status = models.TaskStatus(status)
	if owner != nil {
		t.Owner = *owner
	}
	return &t, nil
}

// nullJSON maps an empty raw message to SQL NULL.
func nullJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func (s *PostgresStore) Insert(ctx context.Context, t *models.Task) (out *models.Task, err error) {
	defer database.Observe("insert", "tasks", time.Now(), &err)

	created := t.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	row := s.db.QueryRow(ctx, `
		INSERT INTO tasks (funcname, params, priority, status, lock_id, keep_for, user_id, created_at)
		VALUES ($1, $2, $3, 'new', $4, $5, $6, $7)
		ON CONFLICT (lock_id) WHERE status <> 'complete' AND lock_id IS NOT NULL DO NOTHING
		RETURNING `+taskColumns,
		t.FuncName, nullJSON(t.Params), t.Priority, t.LockID, t.KeepFor, t.UserID, created)

	out, err = scanTask(row)
	if err == nil {
		return out, nil
	}
	if !database.IsNoRows(err) || t.LockID == nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}

	// The insert was skipped because the lock is held.
	var holder int64
	err = s.db.QueryRow(ctx,
		`SELECT id FROM tasks WHERE lock_id = $1 AND status <> 'complete'`, *t.LockID).Scan(&holder)
	if database.IsNoRows(err) {
		// The holder completed between the two statements.
		return s.Insert(ctx, t)
	}
	if err != nil {
		return nil, fmt.Errorf("find lock holder: %w", err)
	}
	return nil, &LockHeldError{LockID: *t.LockID, Holder: holder}
}

func (s *PostgresStore) Get(ctx context.Context, id int64) (out *models.Task, err error) {
	defer database.Observe("get", "tasks", time.Now(), &err)

	out, err = scanTask(s.db.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id))
	if database.IsNoRows(err) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("get task %d: %w", id, err)
	}
	return out, nil
}

func (s *PostgresStore) Claim(ctx context.Context, owner string, funcs []string, lease time.Duration, now time.Time) (out *models.Task, err error) {
	defer database.Observe("claim", "tasks", time.Now(), &err)

	row := s.db.QueryRow(ctx, `
		UPDATE tasks SET status = 'in_progress', owner = $1, lease_until = $2
		WHERE id = (
			SELECT id FROM tasks
			WHERE funcname = ANY($3)
			  AND (status = 'new' OR (status = 'in_progress' AND (lease_until IS NULL OR lease_until <= $4)))
			ORDER BY priority DESC, id
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+taskColumns,
		owner, now.Add(lease), funcs, now)

	out, err = scanTask(row)
	if database.IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim task: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Renew(ctx context.Context, id int64, owner string, lease time.Duration, now time.Time) (err error) {
	defer database.Observe("renew", "tasks", time.Now(), &err)

	tag, err := s.db.Exec(ctx, `
		UPDATE tasks SET lease_until = $3
		WHERE id = $1 AND owner = $2 AND status = 'in_progress'`,
		id, owner, now.Add(lease))
	if err != nil {
		return fmt.Errorf("renew task %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrLeaseLost
	}
	return nil
}

func (s *PostgresStore) Complete(ctx context.Context, id int64, owner string, result json.RawMessage, now time.Time) (out *models.Task, err error) {
	defer database.Observe("complete", "tasks", time.Now(), &err)

	row := s.db.QueryRow(ctx, `
		UPDATE tasks SET status = 'complete', result = $3, owner = NULL, lease_until = NULL,
			completed_at = $4::timestamptz,
			keep_until = $4::timestamptz + make_interval(secs => keep_for)
		WHERE id = $1 AND owner = $2 AND status = 'in_progress'
		RETURNING `+taskColumns,
		id, owner, nullJSON(result), now)

	out, err = scanTask(row)
	if database.IsNoRows(err) {
		return nil, ErrLeaseLost
	}
	if err != nil {
		return nil, fmt.Errorf("complete task %d: %w", id, err)
	}
	return out, nil
}

func (s *PostgresStore) DeleteExpired(ctx context.Context, now time.Time) (n int, err error) {
	defer database.Observe("delete_expired", "tasks", time.Now(), &err)

	tag, err := s.db.Exec(ctx, `DELETE FROM tasks WHERE status = 'complete' AND keep_until <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired tasks: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) Delete(ctx context.Context, id int64) (err error) {
	defer database.Observe("delete", "tasks", time.Now(), &err)

	tag, err := s.db.Exec(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete task %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return notFound(id)
	}
	return nil
}

func (s *PostgresStore) AcquireLease(ctx context.Context, name, owner string, ttl time.Duration, now time.Time) (ok bool, err error) {
	defer database.Observe("acquire_lease", "leases", time.Now(), &err)

	tag, err := s.db.Exec(ctx, `
		INSERT INTO leases (name, owner, until) VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE SET owner = EXCLUDED.owner, until = EXCLUDED.until
		WHERE leases.owner = EXCLUDED.owner OR leases.until <= $4`,
		name, owner, now.Add(ttl), now)
	if err != nil {
		return false, fmt.Errorf("acquire lease %q: %w", name, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) ReleaseLease(ctx context.Context, name, owner string) (err error) {
	defer database.Observe("release_lease", "leases", time.Now(), &err)

	if _, err = s.db.Exec(ctx, `DELETE FROM leases WHERE name = $1 AND owner = $2`, name, owner); err != nil {
		return fmt.Errorf("release lease %q: %w", name, err)
	}
	return nil
}
