// Lumen - Dynamic Image Generation Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lumen

package metadata

import (
	"context"
	"testing"

	"github.com/tomtom215/lumen/internal/models"
	"github.com/tomtom215/lumen/internal/resolver"
)

var _ resolver.TemplateSource = (*MemoryStore)(nil)
var _ resolver.TemplateSource = (*PostgresStore)(nil)
var _ Store = (*MemoryStore)(nil)
var _ Store = (*PostgresStore)(nil)

func runStoreConformance(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("templates", func(t *testing.T) {
		s := newStore(t)

		if d, err := s.DefaultTemplate(ctx); err != nil || d != nil {
			t.Fatalf("DefaultTemplate() on empty = %v, %v", d, err)
		}
		if _, err := s.Template(ctx, "T1"); !models.IsKind(err, models.KindNotFound) {
			t.Fatalf("Template(missing) error = %v", err)
		}

		t1, err := s.PutTemplate(ctx, &models.Template{
			Name:      "T1",
			IsDefault: true,
			Values:    map[string]*string{"width": models.StringPtr("100"), "fill": nil},
		})
		if err != nil {
			t.Fatalf("PutTemplate() error = %v", err)
		}
		if t1.ID == 0 {
			t.Error("PutTemplate() did not assign an id")
		}

		got, err := s.Template(ctx, "T1")
		if err != nil {
			t.Fatal(err)
		}
		if v, ok := got.Values["width"]; !ok || v == nil || *v != "100" {
			t.Errorf("width = %v", v)
		}
		if v, ok := got.Values["fill"]; !ok || v != nil {
			t.Errorf("fill = %v, %v; want explicit null", v, ok)
		}
		if _, ok := got.Values["height"]; ok {
			t.Error("unset key present")
		}

		// A second default takes the flag.
		if _, err := s.PutTemplate(ctx, &models.Template{Name: "T2", IsDefault: true}); err != nil {
			t.Fatal(err)
		}
		d, err := s.DefaultTemplate(ctx)
		if err != nil || d == nil || d.Name != "T2" {
			t.Fatalf("DefaultTemplate() = %v, %v; want T2", d, err)
		}
		if again, _ := s.Template(ctx, "T1"); again.IsDefault {
			t.Error("T1 kept the default flag")
		}

		// Replacing keeps the id.
		t1b, err := s.PutTemplate(ctx, &models.Template{Name: "T1", Values: map[string]*string{"quality": models.StringPtr("50")}})
		if err != nil {
			t.Fatal(err)
		}
		if t1b.ID != t1.ID {
			t.Errorf("replace changed id %d -> %d", t1.ID, t1b.ID)
		}
		if _, ok := t1b.Values["width"]; ok {
			t.Error("replace merged old values")
		}

		list, err := s.ListTemplates(ctx)
		if err != nil || len(list) != 2 || list[0].Name != "T1" || list[1].Name != "T2" {
			t.Fatalf("ListTemplates() = %v, %v", list, err)
		}

		if err := s.DeleteTemplate(ctx, "T2"); err != nil {
			t.Fatal(err)
		}
		if err := s.DeleteTemplate(ctx, "T2"); !models.IsKind(err, models.KindNotFound) {
			t.Errorf("second DeleteTemplate() error = %v", err)
		}
		if d, _ := s.DefaultTemplate(ctx); d != nil {
			t.Errorf("default survived delete: %v", d.Name)
		}
	})

	t.Run("folders", func(t *testing.T) {
		s := newStore(t)

		a, err := s.CreateFolder(ctx, models.RootFolderID, "a")
		if err != nil {
			t.Fatal(err)
		}
		b, err := s.CreateFolder(ctx, a.ID, "b")
		if err != nil {
			t.Fatal(err)
		}
		c, err := s.CreateFolder(ctx, models.RootFolderID, "c")
		if err != nil {
			t.Fatal(err)
		}
		if _, err := s.CreateFolder(ctx, models.RootFolderID, "a"); !models.IsKind(err, models.KindConflict) {
			t.Errorf("duplicate CreateFolder() error = %v", err)
		}
		if _, err := s.CreateFolder(ctx, 9999, "x"); !models.IsKind(err, models.KindNotFound) {
			t.Errorf("CreateFolder(missing parent) error = %v", err)
		}

		if err := s.MoveFolder(ctx, b.ID, c.ID); err != nil {
			t.Fatalf("MoveFolder() error = %v", err)
		}
		if _, err := s.CreateFolder(ctx, a.ID, "b"); err != nil {
			t.Fatalf("name free after move: %v", err)
		}
		if err := s.MoveFolder(ctx, b.ID, a.ID); !models.IsKind(err, models.KindConflict) {
			t.Errorf("MoveFolder() onto clash error = %v", err)
		}

		rows, err := s.Folders(ctx)
		if err != nil {
			t.Fatal(err)
		}
		byID := map[int64]models.Folder{}
		for _, f := range rows {
			byID[f.ID] = f
		}
		if root := byID[models.RootFolderID]; root.ParentID != 0 {
			t.Errorf("root parent = %d, want 0", root.ParentID)
		}
		if byID[b.ID].ParentID != c.ID {
			t.Errorf("b parent = %d, want %d", byID[b.ID].ParentID, c.ID)
		}

		if err := s.DeleteFolders(ctx, []int64{c.ID, b.ID}); err != nil {
			t.Fatalf("DeleteFolders() error = %v", err)
		}
		if err := s.DeleteFolders(ctx, []int64{models.RootFolderID}); !models.IsKind(err, models.KindValidation) {
			t.Errorf("DeleteFolders(root) error = %v", err)
		}
		rows, _ = s.Folders(ctx)
		if len(rows) != 3 {
			t.Errorf("folders after delete = %d, want 3", len(rows))
		}
	})

	t.Run("groups and permissions", func(t *testing.T) {
		s := newStore(t)

		groups, err := s.Groups(ctx)
		if err != nil || len(groups) != 1 || groups[0].ID != models.PublicGroupID {
			t.Fatalf("Groups() = %v, %v; want only public", groups, err)
		}
		editors, err := s.PutGroup(ctx, models.Group{Name: "editors"})
		if err != nil {
			t.Fatal(err)
		}
		admins, err := s.PutGroup(ctx, models.Group{Name: "admins", FileAdmin: true})
		if err != nil {
			t.Fatal(err)
		}
		if editors.ID == admins.ID || editors.ID == models.PublicGroupID {
			t.Fatalf("ids = %d, %d", editors.ID, admins.ID)
		}

		f, err := s.CreateFolder(ctx, models.RootFolderID, "a")
		if err != nil {
			t.Fatal(err)
		}
		recs := []models.PermissionRecord{
			{FolderID: models.RootFolderID, GroupID: models.PublicGroupID, Level: models.AccessView},
			{FolderID: f.ID, GroupID: editors.ID, Level: models.AccessEdit},
		}
		for _, r := range recs {
			if err := s.SetPermission(ctx, r); err != nil {
				t.Fatalf("SetPermission(%+v) error = %v", r, err)
			}
		}
		// Upsert.
		if err := s.SetPermission(ctx, models.PermissionRecord{FolderID: f.ID, GroupID: editors.ID, Level: models.AccessUpload}); err != nil {
			t.Fatal(err)
		}
		got, err := s.Permissions(ctx)
		if err != nil || len(got) != 2 {
			t.Fatalf("Permissions() = %v, %v", got, err)
		}
		if got[1].Level != models.AccessUpload {
			t.Errorf("level = %v, want upload", got[1].Level)
		}

		if err := s.SetPermission(ctx, models.PermissionRecord{FolderID: 9999, GroupID: editors.ID, Level: models.AccessView}); !models.IsKind(err, models.KindNotFound) {
			t.Errorf("SetPermission(missing folder) error = %v", err)
		}

		// Records go with their folder.
		if err := s.DeleteFolders(ctx, []int64{f.ID}); err != nil {
			t.Fatal(err)
		}
		got, _ = s.Permissions(ctx)
		if len(got) != 1 {
			t.Errorf("permissions after folder delete = %v", got)
		}
		if err := s.DeletePermission(ctx, models.RootFolderID, models.PublicGroupID); err != nil {
			t.Fatal(err)
		}
		if err := s.DeletePermission(ctx, models.RootFolderID, models.PublicGroupID); !models.IsKind(err, models.KindNotFound) {
			t.Errorf("second DeletePermission() error = %v", err)
		}
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreConformance(t, func(*testing.T) Store { return NewMemoryStore() })
}
