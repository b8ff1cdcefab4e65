// Lumen - Dynamic Image Generation Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lumen

package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tomtom215/lumen/internal/api"
	"github.com/tomtom215/lumen/internal/artifacts"
	"github.com/tomtom215/lumen/internal/auth"
	"github.com/tomtom215/lumen/internal/authz"
	"github.com/tomtom215/lumen/internal/cache"
	"github.com/tomtom215/lumen/internal/catalog"
	"github.com/tomtom215/lumen/internal/config"
	"github.com/tomtom215/lumen/internal/database"
	"github.com/tomtom215/lumen/internal/events"
	"github.com/tomtom215/lumen/internal/generator"
	"github.com/tomtom215/lumen/internal/imaging"
	"github.com/tomtom215/lumen/internal/jobs"
	"github.com/tomtom215/lumen/internal/logging"
	"github.com/tomtom215/lumen/internal/metadata"
	"github.com/tomtom215/lumen/internal/ops"
	"github.com/tomtom215/lumen/internal/render"
	"github.com/tomtom215/lumen/internal/resolver"
	"github.com/tomtom215/lumen/internal/source"
	"github.com/tomtom215/lumen/internal/stats"
	"github.com/tomtom215/lumen/internal/supervisor"
	"github.com/tomtom215/lumen/internal/supervisor/services"
	"github.com/tomtom215/lumen/internal/tasks"
)

// app is the assembled server. closers run in reverse order once the
// supervisor tree has stopped.
type app struct {
	nodeID  string
	tree    *supervisor.SupervisorTree
	closers []func() error
}

func (a *app) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logging.Error().Err(err).Msg("Error during shutdown")
		}
	}
}

//nolint:gocyclo // sequential wiring of every component
func build(ctx context.Context, cfg *config.Config) (a *app, err error) {
	a = &app{nodeID: cfg.Server.NodeID}
	if a.nodeID == "" {
		a.nodeID = uuid.NewString()
	}
	logging.SetNode(a.nodeID)
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	// Metadata
	var (
		pool      *pgxpool.Pool
		meta      metadata.Store
		readiness []api.ReadinessCheck
	)
	if cfg.Database.URL != "" {
		if cfg.Database.Migrate {
			if err := database.Migrate(cfg.Database.URL); err != nil {
				return a, err
			}
		}
		pool, err = database.Connect(ctx, cfg.Database)
		if err != nil {
			return a, err
		}
		a.onClose(func() error { pool.Close(); return nil })
		meta = metadata.NewPostgresStore(pool)
		rc := database.NewReadinessChecker(pool)
		readiness = append(readiness, api.ReadinessCheck{Name: rc.Name(), Check: rc.CheckReady})
		logging.Info().Msg("Metadata stored in PostgreSQL")
	} else {
		meta = metadata.NewMemoryStore()
		logging.Warn().Msg("DATABASE_URL not set: folders, permissions and templates are kept in memory")
	}

	files, err := source.New(cfg.Imaging.SourceRoot)
	if err != nil {
		return a, err
	}
	cat := catalog.New(meta, files)
	if err := cat.Load(ctx); err != nil {
		return a, fmt.Errorf("load catalog: %w", err)
	}

	res := resolver.New(meta, resolver.Options{
		CacheSize: cfg.Templates.CacheSize,
		CacheTTL:  cfg.Templates.CacheTTL,
		Limits: ops.Limits{
			MaxDimension: cfg.Imaging.MaxDimension,
			MaxDPI:       cfg.Imaging.MaxDPI,
			MaxTileGrid:  cfg.Imaging.MaxTileGrid,
		},
	})

	// Result cache
	local := cache.NewMemoryStore(cfg.Cache.MaxEntries, cfg.Cache.MaxBytes, cfg.Cache.TTL)
	var (
		store  cache.Store = local
		locker generator.Locker
	)
	if len(cfg.Cache.Nodes) > 0 {
		nodes := make(map[string]cache.Store, len(cfg.Cache.Nodes))
		for i, addr := range cfg.Cache.Nodes {
			opts := cache.RedisOptions{
				Addr:       addr,
				Password:   cfg.Cache.RedisPassword,
				DB:         cfg.Cache.RedisDB,
				KeyPrefix:  cfg.Cache.KeyPrefix,
				DefaultTTL: cfg.Cache.TTL,
			}
			client, err := cache.DialRedis(ctx, opts)
			if err != nil {
				return a, err
			}
			a.onClose(client.Close)
			nodes[addr] = cache.NewRedisStore(client, opts)
			if i == 0 && cfg.Cache.ClusterLock {
				locker = cache.NewRedisLocker(client, cfg.Cache.KeyPrefix+"lock:")
			}
		}
		store = cache.NewTiered(local, cache.NewRingStore(nodes, cfg.Cache.Replicas))
		logging.Info().Int("nodes", len(nodes)).Bool("cluster_lock", locker != nil).Msg("Distributed cache enabled")
	}

	gopts := []generator.Option{generator.WithOwner(a.nodeID)}
	if locker != nil {
		gopts = append(gopts, generator.WithLocker(locker))
	}
	coord := generator.New(generator.Config{
		MaxConcurrentBuilds: cfg.Generation.MaxConcurrentBuilds,
		WaitTimeout:         cfg.Generation.WaitTimeout,
		BuildTimeout:        cfg.Generation.BuildTimeout,
		RetryDelay:          cfg.Generation.RetryDelay,
		CacheTTL:            cfg.Cache.TTL,
		LockTTL:             cfg.Generation.LockTTL,
		LockPoll:            cfg.Generation.LockPoll,
		BreakerFailures:     cfg.Generation.BreakerFailures,
		BreakerOpenFor:      cfg.Generation.BreakerOpenFor,
	}, store, gopts...)

	engine := imaging.NewEngine(imaging.Options{
		PixelBudget: cfg.Imaging.PixelBudget,
		Overlays: func(ctx context.Context, p string) ([]byte, error) {
			data, _, err := files.ReadFile(ctx, p)
			return data, err
		},
	})

	defaults, err := outputDefaults(cfg.Imaging)
	if err != nil {
		return a, err
	}

	var recorder *stats.Recorder
	if cfg.Stats.Enabled {
		recorder, err = stats.Open(stats.Options{Dir: cfg.Stats.Path})
		if err != nil {
			return a, err
		}
		a.onClose(recorder.Close)
	}

	renderDeps := render.Deps{
		Resolver:    res,
		Checker:     cat,
		Sources:     files,
		Backend:     engine,
		Coordinator: coord,
	}
	if recorder != nil {
		renderDeps.Stats = recorder
	}
	renderer := render.New(renderDeps, render.Options{Defaults: defaults, MaxAge: cfg.Imaging.Expires})

	arts, err := artifacts.Open(ctx, cfg.Artifacts)
	if err != nil {
		return a, err
	}
	if c, ok := arts.(io.Closer); ok {
		a.onClose(c.Close)
	}

	// Events
	bus, err := events.Open(cfg.Events)
	if err != nil {
		return a, err
	}
	a.onClose(bus.Close)
	pub := events.NewPublisher(bus, a.nodeID)
	listener := events.NewListener(bus, a.nodeID)
	listener.Handle(events.TemplateChanged, func(ev events.Event) {
		if ev.Name == "" {
			res.Purge()
			return
		}
		res.Invalidate(ev.Name)
	})
	listener.Handle(events.CatalogChanged, func(events.Event) {
		if err := cat.Load(context.Background()); err != nil {
			logging.Error().Err(err).Msg("Failed to reload catalog after remote change")
		}
	})

	// Tasks
	taskStore, err := openTaskStore(cfg.Tasks, pool, a)
	if err != nil {
		return a, err
	}
	reg := tasks.NewRegistry()
	jobs.Register(reg, jobs.Deps{
		Catalog:          cat,
		Sources:          files,
		Artifacts:        arts,
		Stats:            recorder,
		Events:           pub,
		ExportTTL:        cfg.Artifacts.ExportTTL,
		FileOpsPerSecond: cfg.Tasks.FileOpsPerSecond,
	})
	scheduler := tasks.NewScheduler(taskStore, reg, tasks.Options{DefaultKeepFor: cfg.Tasks.DefaultKeepFor})

	housekeeper := tasks.NewHousekeeper(scheduler, tasks.HousekeeperConfig{
		Owner:    a.nodeID,
		Interval: cfg.Tasks.HousekeepingInterval,
	})
	housekeeper.AddSweep("artifacts", func(ctx context.Context, now time.Time) (int, error) {
		return artifacts.SweepExpired(ctx, arts, now)
	})
	housekeeper.AddSweep("cache", func(context.Context, time.Time) (int, error) {
		return local.CleanupExpired(), nil
	})
	if recorder != nil && cfg.Stats.RetentionDays > 0 {
		housekeeper.AddRecurring(jobs.PurgeSubmission(cfg.Stats.RetentionDays, nil))
	}

	// HTTP
	handler := api.NewHandler(api.Deps{
		Render:      renderer,
		Resolver:    res,
		Catalog:     cat,
		Scheduler:   scheduler,
		Artifacts:   arts,
		Coordinator: coord,
		Stats:       recorder,
		Events:      pub,
		Readiness:   readiness,
	})
	authn, err := auth.NewMiddleware(cfg.Security, api.WriteError)
	if err != nil {
		return a, err
	}
	enforcer, err := authz.NewEnforcer(authz.DefaultEnforcerConfig())
	if err != nil {
		return a, err
	}
	chiMw, err := api.NewChiMiddleware(api.ChiMiddlewareConfigFrom(cfg.Security))
	if err != nil {
		return a, err
	}
	router := api.NewRouter(handler, chiMw, authn, authz.NewMiddleware(enforcer, api.WriteError))

	server := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router.SetupChi(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	// Supervision
	a.tree, err = supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		FailureThreshold: 5,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  cfg.Server.ShutdownTimeout,
	})
	if err != nil {
		return a, err
	}
	if recorder != nil {
		a.tree.AddStorageService(recorder)
	}
	workers := cfg.Tasks.Workers
	if workers < 1 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		a.tree.AddBackgroundService(tasks.NewWorker(taskStore, reg, tasks.WorkerConfig{
			Owner:        fmt.Sprintf("%s/%d", a.nodeID, i),
			PollInterval: cfg.Tasks.PollInterval,
			LeaseTTL:     cfg.Tasks.LeaseTTL,
		}))
	}
	a.tree.AddBackgroundService(housekeeper)
	a.tree.AddBackgroundService(listener)
	a.tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))

	logging.Info().
		Int("workers", workers).
		Strs("functions", reg.Names()).
		Bool("stats", recorder != nil).
		Str("artifacts", arts.Backend()).
		Msg("Components initialized")
	return a, nil
}

// outputDefaults parses the configured output format, quality and fill.
func outputDefaults(cfg config.ImagingConfig) (ops.Defaults, error) {
	d := ops.Defaults{Quality: cfg.DefaultQuality}
	if cfg.DefaultFormat != "" {
		f, ok := ops.ParseFormat(cfg.DefaultFormat)
		if !ok {
			return d, fmt.Errorf("unknown default image format %q", cfg.DefaultFormat)
		}
		d.Format = f
	}
	if cfg.DefaultFill != "" {
		c, err := ops.ParseColor(cfg.DefaultFill)
		if err != nil {
			return d, fmt.Errorf("invalid default fill: %w", err)
		}
		d.Fill = c
	}
	return d, nil
}

// openTaskStore selects the task store backend.
func openTaskStore(cfg config.TasksConfig, pool *pgxpool.Pool, a *app) (tasks.Store, error) {
	switch cfg.Store {
	case "", "memory":
		return tasks.NewMemoryStore(), nil
	case "badger":
		db, err := tasks.OpenBadger(cfg.BadgerPath)
		if err != nil {
			return nil, err
		}
		s, err := tasks.NewBadgerStore(db)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		a.onClose(db.Close)
		a.onClose(s.Close)
		return s, nil
	case "postgres":
		if pool == nil {
			return nil, fmt.Errorf("task store postgres requires DATABASE_URL")
		}
		return tasks.NewPostgresStore(pool), nil
	default:
		return nil, fmt.Errorf("unknown task store %q", cfg.Store)
	}
}
