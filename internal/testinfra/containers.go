// Lumen - Dynamic Image Generation Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lumen

//go:build integration

package testinfra

import (
	"context"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"testing"
	"time"
)

// SkipDockerEnv forces container tests to skip when set to a true value.
const SkipDockerEnv = "LUMEN_SKIP_DOCKER"

var (
	dockerOnce sync.Once
	dockerOK   bool
)

// SkipIfNoDocker skips t when Docker cannot be reached or SkipDockerEnv is set.
func SkipIfNoDocker(t *testing.T) {
	t.Helper()
	if skip, _ := strconv.ParseBool(os.Getenv(SkipDockerEnv)); skip {
		t.Skipf("Skipping test: %s is set", SkipDockerEnv)
	}
	if !IsDockerAvailable() {
		t.Skip("Skipping test: Docker not available")
	}
}

// IsDockerAvailable probes the daemon once per test binary.
func IsDockerAvailable() bool {
	dockerOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		dockerOK = exec.CommandContext(ctx, "docker", "info").Run() == nil
	})
	return dockerOK
}
