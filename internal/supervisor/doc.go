// Lumen - Dynamic Image Generation Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lumen

/*
Package supervisor runs Lumen's long-lived services under suture v4.

Every background component implements suture.Service:

	type Service interface {
	    Serve(ctx context.Context) error
	}

and is added to one of three layers of a SupervisorTree. A service that
returns an error is restarted; repeated failures put its layer into
backoff without affecting the others.

# Usage

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	if err != nil {
	    return err
	}
	tree.AddStorageService(recorder)
	tree.AddBackgroundService(worker)
	tree.AddBackgroundService(housekeeper)
	tree.AddAPIService(services.NewHTTPServerService(server, 10*time.Second))

	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
	    return err
	}

Supervisor events (start, failure, backoff, restart) are logged through the
sutureslog hook, which writes to the zerolog backed slog handler.

# Shutdown

Canceling ctx stops every service. Services that exceed ShutdownTimeout
are listed by UnstoppedServiceReport.
*/
package supervisor
