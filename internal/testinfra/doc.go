// Lumen - Dynamic Image Generation Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lumen

// Package testinfra provides container helpers for integration tests.
//
// Everything here is built only with the integration tag:
//
//	go test -tags integration ./internal/database/... ./internal/tasks/... ./internal/metadata/...
//
// # PostgreSQL
//
//	func TestStore(t *testing.T) {
//	    pg := testinfra.NewPostgresContainer(t)
//	    pool, err := database.Connect(ctx, config.DatabaseConfig{URL: pg.DSN})
//	    // ...
//	}
//
// Tests are skipped when Docker is not available or LUMEN_SKIP_DOCKER=true. The first run pulls the
// image; later runs use the local cache.
package testinfra
