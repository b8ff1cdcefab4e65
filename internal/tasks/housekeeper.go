// Lumen - Dynamic Image Generation Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lumen

package tasks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/lumen/internal/logging"
	"github.com/tomtom215/lumen/internal/metrics"
)

// HousekeeperLease is the store lease that elects the active housekeeper.
const HousekeeperLease = "housekeeper"

// SweepFunc removes expired items and reports how many it removed.
type SweepFunc func(ctx context.Context, now time.Time) (int, error)

// HousekeeperConfig configures a Housekeeper.
type HousekeeperConfig struct {
	Owner    string
	Interval time.Duration
	Now      func() time.Time
}

type sweep struct {
	name string
	fn   SweepFunc
}

// Report summarizes one housekeeping cycle.
type Report struct {
	// Elected is false when another process held the lease and nothing ran.
	Elected bool
	Removed map[string]int
	Errors  map[string]error
}

// Housekeeper periodically removes expired tasks, runs registered sweeps
// and submits recurring tasks. Only the process holding the housekeeper
// lease does work in a cycle, and every job is idempotent if two ever
// overlap.
type Housekeeper struct {
	scheduler *Scheduler
	cfg       HousekeeperConfig
	logger    zerolog.Logger

	sweeps    []sweep
	recurring []Submit

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewHousekeeper creates a housekeeper that sweeps the scheduler's store.
func NewHousekeeper(scheduler *Scheduler, cfg HousekeeperConfig) *Housekeeper {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	h := &Housekeeper{
		scheduler: scheduler,
		cfg:       cfg,
		logger:    logging.WithComponent("housekeeper"),
	}
	h.AddSweep("tasks", scheduler.store.DeleteExpired)
	return h
}

// AddSweep registers a sweep run every cycle. Call before Start.
func (h *Housekeeper) AddSweep(name string, fn SweepFunc) {
	h.sweeps = append(h.sweeps, sweep{name: name, fn: fn})
}

// AddRecurring registers a submission made every cycle. Functions with a
// coalescing lock collapse onto the running instance.
func (h *Housekeeper) AddRecurring(sub Submit) {
	h.recurring = append(h.recurring, sub)
}

// RunOnce runs a single cycle if this process wins the lease.
func (h *Housekeeper) RunOnce(ctx context.Context) (Report, error) {
	store := h.scheduler.store
	rep := Report{Removed: map[string]int{}, Errors: map[string]error{}}

	// The lease outlives one interval so a slow cycle is not joined by a peer.
	ok, err := store.AcquireLease(ctx, HousekeeperLease, h.cfg.Owner, 2*h.cfg.Interval, h.cfg.Now())
	if err != nil {
		metrics.RecordHousekeeping("lease", err)
		return rep, fmt.Errorf("acquire housekeeper lease: %w", err)
	}
	if !ok {
		h.logger.Debug().Msg("Housekeeper lease held elsewhere; skipping cycle")
		return rep, nil
	}
	rep.Elected = true

	now := h.cfg.Now()
	for _, s := range h.sweeps {
		n, err := s.fn(ctx, now)
		metrics.RecordHousekeeping(s.name, err)
		if err != nil {
			rep.Errors[s.name] = err
			h.logger.Warn().Err(err).Str("job", s.name).Msg("Housekeeping sweep failed")
			continue
		}
		rep.Removed[s.name] = n
		if s.name == "tasks" {
			metrics.TasksPurged.Add(float64(n))
		}
		if n > 0 {
			h.logger.Info().Str("job", s.name).Int("removed", n).Msg("Housekeeping sweep removed items")
		}
	}

	for _, sub := range h.recurring {
		_, err := h.scheduler.Submit(ctx, sub)
		metrics.RecordHousekeeping("submit:"+sub.Func, err)
		if err != nil {
			rep.Errors["submit:"+sub.Func] = err
			h.logger.Warn().Err(err).Str("funcname", sub.Func).Msg("Recurring task submission failed")
		}
	}

	return rep, nil
}

// Start begins the housekeeping loop.
func (h *Housekeeper) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return fmt.Errorf("housekeeper already running")
	}
	h.running = true
	h.stopCh = make(chan struct{})
	h.doneCh = make(chan struct{})
	h.mu.Unlock()

	h.logger.Info().Dur("interval", h.cfg.Interval).Int("sweeps", len(h.sweeps)).Msg("Starting housekeeper")
	go h.run(ctx)
	return nil
}

// Stop stops the loop, waits for the current cycle and releases the lease.
func (h *Housekeeper) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return nil
	}
	h.mu.Unlock()

	close(h.stopCh)
	<-h.doneCh

	h.mu.Lock()
	h.running = false
	h.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.scheduler.store.ReleaseLease(ctx, HousekeeperLease, h.cfg.Owner); err != nil {
		h.logger.Warn().Err(err).Msg("Failed to release housekeeper lease")
	}
	h.logger.Info().Msg("Housekeeper stopped")
	return nil
}

// Serve implements suture.Service.
func (h *Housekeeper) Serve(ctx context.Context) error {
	if err := h.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	if err := h.Stop(); err != nil {
		return err
	}
	return ctx.Err()
}

// String implements fmt.Stringer for suture logging.
func (h *Housekeeper) String() string { return "housekeeper" }

func (h *Housekeeper) run(ctx context.Context) {
	defer close(h.doneCh)

	ticker := time.NewTicker(h.cfg.Interval)
	defer ticker.Stop()

	h.cycle(ctx)
	for {
		select {
		case <-ticker.C:
			h.cycle(ctx)
		case <-h.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (h *Housekeeper) cycle(ctx context.Context) {
	if _, err := h.RunOnce(ctx); err != nil && ctx.Err() == nil {
		h.logger.Warn().Err(err).Msg("Housekeeping cycle failed")
	}
}
