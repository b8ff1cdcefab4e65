// Lumen - Dynamic Image Generation Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lumen

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/tomtom215/lumen/internal/models"
)

// readinessTimeout bounds all readiness checks together.
const readinessTimeout = 3 * time.Second

// HealthStatus is the body of the readiness probe.
type HealthStatus struct {
	Ready     bool              `json:"ready"`
	Checks    map[string]string `json:"checks"`
	Breaker   string            `json:"breaker,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// HealthLive reports that the process is serving HTTP.
//
// Method: GET
// Path: /health/live
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, models.OK(map[string]string{"status": "alive"}))
}

// HealthReady runs every readiness check and returns 503 when one fails.
//
// Method: GET
// Path: /health/ready
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	status := HealthStatus{Ready: true, Checks: make(map[string]string, len(h.d.Readiness)), Timestamp: h.d.Now().UTC()}
	for _, c := range h.d.Readiness {
		if err := c.Check(ctx); err != nil {
			status.Ready = false
			status.Checks[c.Name] = err.Error()
			continue
		}
		status.Checks[c.Name] = "ok"
	}
	if h.d.Coordinator != nil {
		status.Breaker = h.d.Coordinator.BreakerState()
	}

	if !status.Ready {
		respondJSON(w, models.Result{Status: http.StatusServiceUnavailable, Message: "not ready", Data: status})
		return
	}
	respondJSON(w, models.OK(status))
}
