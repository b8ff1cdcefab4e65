// Lumen - Dynamic Image Generation Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lumen

package models

import (
	"fmt"
	"strings"
)

const (
	// RootFolderID is the id of the single root folder.
	RootFolderID int64 = 1

	// PublicGroupID is the reserved group whose records apply to anonymous callers.
	PublicGroupID int64 = 1
)

// Folder is one node of the folder tree. ParentID is 0 only for the root.
type Folder struct {
	ID       int64  `json:"id"`
	ParentID int64  `json:"parent_id"`
	Name     string `json:"name"`
}

// Group is a set of users sharing folder permissions.
type Group struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	FileAdmin bool   `json:"file_admin"`
}

// AccessLevel is an ordered permission tier; each level includes all lower ones.
type AccessLevel int

const (
	AccessNone AccessLevel = iota
	AccessView
	AccessDownload
	AccessEdit
	AccessUpload
	AccessDeleteFile
	AccessCreateFolder
	AccessDeleteFolder

	// AccessFull is the highest level.
	AccessFull = AccessDeleteFolder
)

var accessNames = []string{
	"none", "view", "download", "edit", "upload", "delete_file", "create_folder", "delete_folder",
}

// String returns the level name.
func (a AccessLevel) String() string {
	if a < AccessNone || int(a) >= len(accessNames) {
		return fmt.Sprintf("access(%d)", int(a))
	}
	return accessNames[a]
}

// Allows reports whether a grants at least the required level.
func (a AccessLevel) Allows(required AccessLevel) bool {
	return a >= required
}

// Valid reports whether a is one of the defined levels.
func (a AccessLevel) Valid() bool {
	return a >= AccessNone && a <= AccessFull
}

// ParseAccessLevel accepts either a level name or its numeric value.
func ParseAccessLevel(s string) (AccessLevel, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range accessNames {
		if s == name || s == fmt.Sprint(i) {
			return AccessLevel(i), nil
		}
	}
	return AccessNone, InvalidParameter("level", "unknown access level %q", s)
}

// MarshalText encodes the level by name.
func (a AccessLevel) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText decodes a level name or number.
func (a *AccessLevel) UnmarshalText(b []byte) error {
	lvl, err := ParseAccessLevel(string(b))
	if err != nil {
		return err
	}
	*a = lvl
	return nil
}

// PermissionRecord grants a group a level on a folder and, by inheritance,
// on every descendant without an overriding record.
type PermissionRecord struct {
	FolderID int64       `json:"folder_id"`
	GroupID  int64       `json:"group_id"`
	Level    AccessLevel `json:"level"`
}
