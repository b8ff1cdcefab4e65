// Lumen - Dynamic Image Generation Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lumen

package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordHTTPRequest(t *testing.T) {
	before := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "/api/v1/image", "200"))
	RecordHTTPRequest("GET", "/api/v1/image", 200, 12*time.Millisecond)
	after := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "/api/v1/image", "200"))
	if after-before != 1 {
		t.Errorf("request counter delta = %v, want 1", after-before)
	}
}

func TestTrackActiveRequest(t *testing.T) {
	before := testutil.ToFloat64(HTTPActiveRequests)
	TrackActiveRequest(true)
	if got := testutil.ToFloat64(HTTPActiveRequests); got != before+1 {
		t.Errorf("after inc = %v, want %v", got, before+1)
	}
	TrackActiveRequest(false)
	if got := testutil.ToFloat64(HTTPActiveRequests); got != before {
		t.Errorf("after dec = %v, want %v", got, before)
	}
}

func TestRecordCacheLookup(t *testing.T) {
	tests := []struct {
		name string
		tier string
		hit  bool
	}{
		{"memory hit", "memory", true},
		{"memory miss", "memory", false},
		{"redis hit", "redis", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := CacheMisses.WithLabelValues(tt.tier)
			if tt.hit {
				c = CacheHits.WithLabelValues(tt.tier)
			}
			before := testutil.ToFloat64(c)
			RecordCacheLookup(tt.tier, tt.hit)
			if got := testutil.ToFloat64(c); got != before+1 {
				t.Errorf("counter = %v, want %v", got, before+1)
			}
		})
	}
}

func TestRecordHousekeeping(t *testing.T) {
	ok := HousekeepingRuns.WithLabelValues("tasks", "ok")
	failed := HousekeepingRuns.WithLabelValues("tasks", "error")
	okBefore, failedBefore := testutil.ToFloat64(ok), testutil.ToFloat64(failed)

	RecordHousekeeping("tasks", nil)
	RecordHousekeeping("tasks", errors.New("store unavailable"))

	if got := testutil.ToFloat64(ok); got != okBefore+1 {
		t.Errorf("ok = %v, want %v", got, okBefore+1)
	}
	if got := testutil.ToFloat64(failed); got != failedBefore+1 {
		t.Errorf("error = %v, want %v", got, failedBefore+1)
	}
}

func TestRecordTaskCompleted(t *testing.T) {
	c := TasksCompleted.WithLabelValues("zip.export", "200")
	before := testutil.ToFloat64(c)
	RecordTaskCompleted("zip.export", 200, 2*time.Second)
	if got := testutil.ToFloat64(c); got != before+1 {
		t.Errorf("completed = %v, want %v", got, before+1)
	}
}

func TestUpdateMemoryCache(t *testing.T) {
	UpdateMemoryCache(3, 4096)
	if got := testutil.ToFloat64(CacheEntries); got != 3 {
		t.Errorf("entries = %v, want 3", got)
	}
	if got := testutil.ToFloat64(CacheBytes); got != 4096 {
		t.Errorf("bytes = %v, want 4096", got)
	}
}
