// Lumen - Dynamic Image Generation Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lumen

package metadata

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tomtom215/lumen/internal/database"
	"github.com/tomtom215/lumen/internal/models"
)

const templateColumns = `id, name, is_default, vals, updated_at`

// PostgresStore implements Store on PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
	tx   *database.TxRunner
}

// NewPostgresStore creates a store on pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, tx: database.NewTxRunner(pool)}
}

func scanTemplate(row pgx.Row) (*models.Template, error) {
	var (
		t    models.Template
		vals []byte
	)
	if err := row.Scan(&t.ID, &t.Name, &t.IsDefault, &vals, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.Values = make(map[string]*string)
	if len(vals) > 0 {
		if err := json.Unmarshal(vals, &t.Values); err != nil {
			return nil, fmt.Errorf("decode template %q values: %w", t.Name, err)
		}
	}
	return &t, nil
}

func (s *PostgresStore) Template(ctx context.Context, name string) (out *models.Template, err error) {
	defer database.Observe("get", "templates", time.Now(), &err)

	out, err = scanTemplate(s.pool.QueryRow(ctx,
		`SELECT `+templateColumns+` FROM templates WHERE name = $1`, name))
	if database.IsNoRows(err) {
		return nil, models.NotFound("template", name)
	}
	if err != nil {
		return nil, fmt.Errorf("get template %q: %w", name, err)
	}
	return out, nil
}

func (s *PostgresStore) DefaultTemplate(ctx context.Context) (out *models.Template, err error) {
	defer database.Observe("get_default", "templates", time.Now(), &err)

	out, err = scanTemplate(s.pool.QueryRow(ctx,
		`SELECT `+templateColumns+` FROM templates WHERE is_default`))
	if database.IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get default template: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) ListTemplates(ctx context.Context) (out []*models.Template, err error) {
	defer database.Observe("list", "templates", time.Now(), &err)

	rows, err := s.pool.Query(ctx, `SELECT `+templateColumns+` FROM templates ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *PostgresStore) PutTemplate(ctx context.Context, t *models.Template) (out *models.Template, err error) {
	defer database.Observe("put", "templates", time.Now(), &err)

	vals, err := json.Marshal(t.Values)
	if err != nil {
		return nil, fmt.Errorf("encode template %q values: %w", t.Name, err)
	}
	if t.Values == nil {
		vals = []byte("{}")
	}

	err = s.tx.RunInTx(ctx, func(tx pgx.Tx) error {
		if t.IsDefault {
			if _, err := tx.Exec(ctx,
				`UPDATE templates SET is_default = FALSE WHERE is_default AND name <> $1`, t.Name); err != nil {
				return fmt.Errorf("clear default template: %w", err)
			}
		}
		var err error
		out, err = scanTemplate(tx.QueryRow(ctx, `
			INSERT INTO templates (name, is_default, vals, updated_at)
			VALUES ($1, $2, $3, now())
			ON CONFLICT (name) DO UPDATE
			SET is_default = EXCLUDED.is_default, vals = EXCLUDED.vals, updated_at = now()
			RETURNING `+templateColumns,
			t.Name, t.IsDefault, string(vals)))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("put template %q: %w", t.Name, err)
	}
	return out, nil
}

func (s *PostgresStore) DeleteTemplate(ctx context.Context, name string) (err error) {
	defer database.Observe("delete", "templates", time.Now(), &err)

	tag, err := s.pool.Exec(ctx, `DELETE FROM templates WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("delete template %q: %w", name, err)
	}
	if tag.RowsAffected() == 0 {
		return models.NotFound("template", name)
	}
	return nil
}

func (s *PostgresStore) Folders(ctx context.Context) (out []models.Folder, err error) {
	defer database.Observe("list", "folders", time.Now(), &err)

	rows, err := s.pool.Query(ctx, `SELECT id, parent_id, name FROM folders ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list folders: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var f models.Folder
		if err := rows.Scan(&f.ID, &f.ParentID, &f.Name); err != nil {
			return nil, err
		}
		// The root row references itself to satisfy the foreign key.
		if f.ID == models.RootFolderID {
			f.ParentID = 0
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CreateFolder(ctx context.Context, parentID int64, name string) (f models.Folder, err error) {
	defer database.Observe("insert", "folders", time.Now(), &err)

	f = models.Folder{ParentID: parentID, Name: name}
	err = s.pool.QueryRow(ctx,
		`INSERT INTO folders (parent_id, name) VALUES ($1, $2) RETURNING id`,
		parentID, name).Scan(&f.ID)
	switch {
	case database.IsUniqueViolation(err):
		return models.Folder{}, models.Conflict("folder %q already exists", name)
	case database.IsForeignKeyViolation(err):
		return models.Folder{}, models.NotFound("folder", parentID)
	case err != nil:
		return models.Folder{}, fmt.Errorf("create folder %q: %w", name, err)
	}
	return f, nil
}

func (s *PostgresStore) MoveFolder(ctx context.Context, id, parentID int64) (err error) {
	defer database.Observe("move", "folders", time.Now(), &err)

	tag, err := s.pool.Exec(ctx, `UPDATE folders SET parent_id = $2 WHERE id = $1 AND id <> 1`, id, parentID)
	switch {
	case database.IsUniqueViolation(err):
		return models.Conflict("a folder with the same name already exists in the destination")
	case database.IsForeignKeyViolation(err):
		return models.NotFound("folder", parentID)
	case err != nil:
		return fmt.Errorf("move folder %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return models.NotFound("folder", id)
	}
	return nil
}

func (s *PostgresStore) DeleteFolders(ctx context.Context, ids []int64) (err error) {
	defer database.Observe("delete", "folders", time.Now(), &err)

	for _, id := range ids {
		if id == models.RootFolderID {
			return models.InvalidParameter("folder_id", "the root folder cannot be deleted")
		}
	}
	// One statement, so parent and child rows satisfy the foreign key together.
	if _, err = s.pool.Exec(ctx, `DELETE FROM folders WHERE id = ANY($1)`, ids); err != nil {
		return fmt.Errorf("delete folders: %w", err)
	}
	return nil
}

func (s *PostgresStore) Groups(ctx context.Context) (out []models.Group, err error) {
	defer database.Observe("list", "groups", time.Now(), &err)

	rows, err := s.pool.Query(ctx, `SELECT id, name, file_admin FROM groups ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var g models.Group
		if err := rows.Scan(&g.ID, &g.Name, &g.FileAdmin); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (s *PostgresStore) PutGroup(ctx context.Context, g models.Group) (out models.Group, err error) {
	defer database.Observe("put", "groups", time.Now(), &err)

	out = g
	if g.ID == 0 {
		err = s.pool.QueryRow(ctx, `
			INSERT INTO groups (name, file_admin) VALUES ($1, $2)
			ON CONFLICT (name) DO UPDATE SET file_admin = EXCLUDED.file_admin
			RETURNING id`, g.Name, g.FileAdmin).Scan(&out.ID)
	} else {
		err = s.pool.QueryRow(ctx, `
			INSERT INTO groups (id, name, file_admin) VALUES ($1, $2, $3)
			ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, file_admin = EXCLUDED.file_admin
			RETURNING id`, g.ID, g.Name, g.FileAdmin).Scan(&out.ID)
	}
	if database.IsUniqueViolation(err) {
		return models.Group{}, models.Conflict("group %q already exists", g.Name)
	}
	if err != nil {
		return models.Group{}, fmt.Errorf("put group %q: %w", g.Name, err)
	}
	return out, nil
}

func (s *PostgresStore) Permissions(ctx context.Context) (out []models.PermissionRecord, err error) {
	defer database.Observe("list", "permissions", time.Now(), &err)

	rows, err := s.pool.Query(ctx,
		`SELECT folder_id, group_id, level FROM permissions ORDER BY folder_id, group_id`)
	if err != nil {
		return nil, fmt.Errorf("list permissions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			rec   models.PermissionRecord
			level int16
		)
		if err := rows.Scan(&rec.FolderID, &rec.GroupID, &level); err != nil {
			return nil, err
		}
		rec.Level = models.AccessLevel(level)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SetPermission(ctx context.Context, rec models.PermissionRecord) (err error) {
	defer database.Observe("put", "permissions", time.Now(), &err)

	if !rec.Level.Valid() {
		return models.InvalidParameter("level", "unknown access level %d", rec.Level)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO permissions (folder_id, group_id, level) VALUES ($1, $2, $3)
		ON CONFLICT (folder_id, group_id) DO UPDATE SET level = EXCLUDED.level`,
		rec.FolderID, rec.GroupID, int16(rec.Level))
	if database.IsForeignKeyViolation(err) {
		return models.NotFound("folder or group", fmt.Sprintf("%d:%d", rec.FolderID, rec.GroupID))
	}
	if err != nil {
		return fmt.Errorf("set permission: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeletePermission(ctx context.Context, folderID, groupID int64) (err error) {
	defer database.Observe("delete", "permissions", time.Now(), &err)

	tag, err := s.pool.Exec(ctx,
		`DELETE FROM permissions WHERE folder_id = $1 AND group_id = $2`, folderID, groupID)
	if err != nil {
		return fmt.Errorf("delete permission: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.NotFound("permission", fmt.Sprintf("%d:%d", folderID, groupID))
	}
	return nil
}
