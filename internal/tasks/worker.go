// Lumen - Dynamic Image Generation Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lumen

package tasks

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/tomtom215/lumen/internal/logging"
	"github.com/tomtom215/lumen/internal/metrics"
	"github.com/tomtom215/lumen/internal/models"
)

// WorkerConfig configures a Worker.
type WorkerConfig struct {
	// Owner identifies the worker in task leases. It must be unique across
	// every process sharing the store.
	Owner string

	PollInterval time.Duration
	LeaseTTL     time.Duration
	Now          func() time.Time
}

// Worker claims and runs tasks. It implements suture.Service.
type Worker struct {
	store    Store
	registry *Registry
	cfg      WorkerConfig
	logger   zerolog.Logger
}

// NewWorker creates a worker for every function in registry.
func NewWorker(store Store, registry *Registry, cfg WorkerConfig) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Worker{
		store:    store,
		registry: registry,
		cfg:      cfg,
		logger:   logging.WithComponent("task-worker").With().Str("owner", cfg.Owner).Logger(),
	}
}

// Serve implements suture.Service. It claims until ctx is canceled and
// waits PollInterval whenever nothing is claimable.
func (w *Worker) Serve(ctx context.Context) error {
	w.logger.Info().Strs("funcs", w.registry.Names()).Msg("Task worker started")
	for {
		ran, err := w.RunNext(ctx)
		if err != nil && ctx.Err() == nil {
			w.logger.Warn().Err(err).Msg("Task claim failed")
		}
		if ran {
			continue
		}
		select {
		case <-ctx.Done():
			w.logger.Info().Msg("Task worker stopped")
			return ctx.Err()
		case <-time.After(w.cfg.PollInterval):
		}
	}
}

// String implements fmt.Stringer for suture logging.
func (w *Worker) String() string {
	return "task-worker:" + w.cfg.Owner
}

// RunNext claims one task and runs it to completion. It reports whether a
// task was claimed.
func (w *Worker) RunNext(ctx context.Context) (bool, error) {
	task, err := w.store.Claim(ctx, w.cfg.Owner, w.registry.Names(), w.cfg.LeaseTTL, w.cfg.Now())
	if err != nil {
		return false, fmt.Errorf("claim: %w", err)
	}
	if task == nil {
		return false, nil
	}
	w.run(ctx, task)
	return true, nil
}

func (w *Worker) run(ctx context.Context, task *models.Task) {
	// task_id comes from the context so handler logs carry it once.
	ctx = logging.ContextWithLogger(ctx, w.logger.With().Str("funcname", task.FuncName).Logger())
	ctx = logging.ContextWithTaskID(ctx, task.ID)
	log := logging.CtxWith(ctx).Logger()

	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	renewDone := make(chan struct{})
	go func() {
		defer close(renewDone)
		w.renew(jobCtx, cancel, task.ID, log)
	}()

	start := time.Now()
	log.Info().Msg("Task started")
	result := w.execute(jobCtx, task)
	cancel()
	<-renewDone

	raw, err := json.Marshal(result)
	if err != nil {
		result = models.ResultFromError(models.Internal("encode result", err))
		raw, _ = json.Marshal(result)
	}

	// Completion uses a fresh deadline so a shutdown does not strand a
	// finished task as in progress.
	cctx, ccancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer ccancel()
	if _, err := w.store.Complete(cctx, task.ID, w.cfg.Owner, raw, w.cfg.Now()); err != nil {
		if errors.Is(err, ErrLeaseLost) {
			log.Warn().Msg("Task lease lost before completion; another worker owns it")
			return
		}
		log.Error().Err(err).Msg("Failed to record task completion")
		return
	}

	metrics.RecordTaskCompleted(task.FuncName, result.Status, time.Since(start))
	log.Info().Int("status", result.Status).Dur("duration", time.Since(start)).Msg("Task complete")
}

// renew extends the lease every third of its TTL. Losing the lease
// cancels the job.
func (w *Worker) renew(ctx context.Context, cancel context.CancelFunc, id int64, log zerolog.Logger) {
	ticker := time.NewTicker(w.cfg.LeaseTTL / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := w.store.Renew(ctx, id, w.cfg.Owner, w.cfg.LeaseTTL, w.cfg.Now())
			if errors.Is(err, ErrLeaseLost) {
				log.Warn().Msg("Task lease lost; canceling")
				cancel()
				return
			}
			if err != nil && ctx.Err() == nil {
				log.Warn().Err(err).Msg("Task lease renewal failed")
			}
		}
	}
}

// execute runs the handler, turning errors and panics into a result.
func (w *Worker) execute(ctx context.Context, task *models.Task) (res models.Result) {
	def, ok := w.registry.Lookup(task.FuncName)
	if !ok {
		return models.ResultFromError(models.InvalidParameter("funcname", "unknown task function %q", task.FuncName))
	}

	defer func() {
		if r := recover(); r != nil {
			logging.Ctx(ctx).Error().
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("Task handler panicked")
			res = models.ResultFromError(models.Internal("task "+task.FuncName, fmt.Errorf("panic: %v", r)))
		}
	}()

	data, err := def.Handler(ctx, task)
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Msg("Task handler failed")
		return models.ResultFromError(err)
	}
	return models.OK(data)
}
