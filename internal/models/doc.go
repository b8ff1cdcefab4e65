// Lumen - Dynamic Image Generation Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lumen

/*
Package models defines the entities shared between Lumen's components.

Key types:

  - Template: named, administrator-managed parameter defaults
  - Folder, Group, PermissionRecord, AccessLevel: the hierarchical permission model
  - Task, TaskStatus: background tasks as exposed to pollers
  - Caller: the authenticated (or anonymous) identity behind a request
  - Result: the {status, message, data} wrapper used by HTTP responses and task results
  - Error, ErrorKind: the error taxonomy and its HTTP status mapping

Models carry no behaviour beyond validation helpers and JSON shapes, so
every other internal package may import them.
*/
package models
