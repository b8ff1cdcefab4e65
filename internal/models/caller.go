// Lumen - Dynamic Image Generation Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lumen

package models

// Caller identifies who is making a request.
type Caller struct {
	UserID    *int64   `json:"user_id,omitempty"`
	Username  string   `json:"username,omitempty"`
	GroupIDs  []int64  `json:"group_ids"`
	Roles     []string `json:"roles"`
	Anonymous bool     `json:"anonymous"`
}

// AnonymousCaller returns the identity used when no credential is presented.
func AnonymousCaller() Caller {
	return Caller{GroupIDs: []int64{PublicGroupID}, Roles: []string{RoleAnonymous}, Anonymous: true}
}

// Role names understood by route authorization.
const (
	RoleAdmin     = "admin"
	RoleUser      = "user"
	RoleAnonymous = "anonymous"
)

// HasRole reports whether the caller holds role.
func (c Caller) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// PrimaryRole returns the most privileged role for route authorization.
func (c Caller) PrimaryRole() string {
	switch {
	case c.Anonymous:
		return RoleAnonymous
	case c.HasRole(RoleAdmin):
		return RoleAdmin
	default:
		return RoleUser
	}
}
