// Lumen - Dynamic Image Generation Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lumen

// Package generator coordinates image builds behind the cache.
//
// A Coordinator guarantees at most one concurrent build per cache key in
// this process, bounds the total number of builds, and optionally takes a
// cluster-wide build lock so peers wait for each other's results instead
// of building the same image twice. A result is always written to the
// cache before any waiter sees it, and a failed build never writes.
package generator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/lumen/internal/cache"
	"github.com/tomtom215/lumen/internal/cachekey"
	"github.com/tomtom215/lumen/internal/logging"
	"github.com/tomtom215/lumen/internal/metrics"
	"github.com/tomtom215/lumen/internal/models"
)

// Builder produces the entry for one fingerprint. Data and ContentType
// must be set; the coordinator fills in Tag, CreatedAt and BuildTime.
type Builder func(ctx context.Context) (*cache.Entry, error)

// Locker is a cluster-wide advisory lock. cache.RedisLocker implements it.
type Locker interface {
	TryLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key, owner string) error
}

// Config bounds the coordinator.
type Config struct {
	MaxConcurrentBuilds int
	WaitTimeout         time.Duration
	BuildTimeout        time.Duration
	RetryDelay          time.Duration
	CacheTTL            time.Duration

	// LockTTL and LockPoll apply only when a Locker is configured.
	LockTTL  time.Duration
	LockPoll time.Duration

	BreakerFailures uint32
	BreakerOpenFor  time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentBuilds: 8,
		WaitTimeout:         10 * time.Second,
		BuildTimeout:        30 * time.Second,
		RetryDelay:          250 * time.Millisecond,
		CacheTTL:            24 * time.Hour,
		LockTTL:             45 * time.Second,
		LockPoll:            100 * time.Millisecond,
		BreakerFailures:     5,
		BreakerOpenFor:      30 * time.Second,
	}
}

// Result is the outcome of Resolve.
type Result struct {
	Entry *cache.Entry
	// FromCache is true when the bytes came from the store without a build
	// by this caller or a caller it waited on.
	FromCache bool
	// Shared is true when this caller waited on another caller's build.
	Shared bool
}

// call is one in-flight build. entry and err are written before done is
// closed and never after.
type call struct {
	done    chan struct{}
	entry   *cache.Entry
	err     error
	waiters int
}

// Coordinator serializes builds per key.
type Coordinator struct {
	cfg     Config
	store   cache.Store
	locker  Locker
	owner   string
	breaker *gobreaker.CircuitBreaker[*cache.Entry]
	slots   chan struct{}
	logger  zerolog.Logger
	now     func() time.Time

	mu    sync.Mutex
	calls map[string]*call
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLocker enables the cluster-wide build lock.
func WithLocker(l Locker) Option {
	return func(c *Coordinator) { c.locker = l }
}

// WithOwner sets the identity used for cluster locks. Defaults to a random UUID.
func WithOwner(owner string) Option {
	return func(c *Coordinator) { c.owner = owner }
}

// New creates a Coordinator over store.
func New(cfg Config, store cache.Store, opts ...Option) *Coordinator {
	def := DefaultConfig()
	if cfg.MaxConcurrentBuilds <= 0 {
		cfg.MaxConcurrentBuilds = def.MaxConcurrentBuilds
	}
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = def.WaitTimeout
	}
	if cfg.BuildTimeout <= 0 {
		cfg.BuildTimeout = def.BuildTimeout
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = 0
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = def.LockTTL
	}
	if cfg.LockPoll <= 0 {
		cfg.LockPoll = def.LockPoll
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = def.BreakerFailures
	}
	if cfg.BreakerOpenFor <= 0 {
		cfg.BreakerOpenFor = def.BreakerOpenFor
	}

	c := &Coordinator{
		cfg:     cfg,
		store:   store,
		owner:   uuid.NewString(),
		breaker: newBreaker(cfg.BreakerFailures, cfg.BreakerOpenFor),
		slots:   make(chan struct{}, cfg.MaxConcurrentBuilds),
		logger:  logging.WithComponent("generator"),
		now:     time.Now,
		calls:   make(map[string]*call),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Resolve returns the entry for fp, building it with build on a miss.
//
// Concurrent callers for the same key share one build. A caller that
// waits longer than WaitTimeout gets a Busy error. When MaxConcurrentBuilds
// builds are already running, a miss gets a Capacity error.
func (c *Coordinator) Resolve(ctx context.Context, fp cachekey.Fingerprint, build Builder) (Result, error) {
	if e, ok := c.lookup(ctx, fp); ok {
		metrics.RecordGenerationOutcome("cached")
		return Result{Entry: e, FromCache: true}, nil
	}

	c.mu.Lock()
	if cl, ok := c.calls[fp.Key]; ok {
		cl.waiters++
		c.mu.Unlock()
		return c.wait(ctx, cl)
	}
	select {
	case c.slots <- struct{}{}:
	default:
		c.mu.Unlock()
		metrics.RecordGenerationOutcome("capacity")
		return Result{}, models.Capacity(c.cfg.MaxConcurrentBuilds)
	}
	cl := &call{done: make(chan struct{})}
	c.calls[fp.Key] = cl
	c.mu.Unlock()

	// The build outlives a leader whose client goes away; waiters still
	// need the result and BuildTimeout bounds it.
	metrics.GenerationInFlight.Inc()
	entry, fromCache, err := c.run(context.WithoutCancel(ctx), fp, build)
	metrics.GenerationInFlight.Dec()

	c.mu.Lock()
	cl.entry, cl.err = entry, err
	waiters := cl.waiters
	delete(c.calls, fp.Key)
	c.mu.Unlock()
	close(cl.done)
	<-c.slots

	if err != nil {
		c.recordFailure(err)
		logging.Ctx(ctx).Debug().Err(err).Str("key", fp.Key).Int("waiters", waiters).Msg("image build failed")
		return Result{}, err
	}
	if fromCache {
		metrics.RecordGenerationOutcome("cached")
	} else {
		metrics.RecordGenerationOutcome("built")
	}
	return Result{Entry: entry, FromCache: fromCache}, nil
}

// lookup reads the store. Read errors and tag mismatches are misses.
func (c *Coordinator) lookup(ctx context.Context, fp cachekey.Fingerprint) (*cache.Entry, bool) {
	e, ok, err := c.store.Get(ctx, fp.Key)
	if err != nil {
		metrics.RecordCacheError("coordinator", "get")
		c.logger.Warn().Err(err).Str("key", fp.Key).Msg("cache read failed, treating as miss")
		return nil, false
	}
	if !ok || e == nil {
		return nil, false
	}
	if !fp.Matches(e.Tag) {
		metrics.CacheCollisions.Inc()
		c.logger.Warn().Str("key", fp.Key).Msg("cache entry identity mismatch, rebuilding")
		return nil, false
	}
	return e, true
}

func (c *Coordinator) wait(ctx context.Context, cl *call) (Result, error) {
	metrics.GenerationWaiters.Inc()
	defer metrics.GenerationWaiters.Dec()

	timer := time.NewTimer(c.cfg.WaitTimeout)
	defer timer.Stop()

	select {
	case <-cl.done:
		if cl.err != nil {
			return Result{}, cl.err
		}
		metrics.RecordGenerationOutcome("shared")
		return Result{Entry: cl.entry, Shared: true}, nil
	case <-timer.C:
		metrics.RecordGenerationOutcome("busy")
		return Result{}, models.Busy("image is still being generated, retry shortly")
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// run performs the build for the leader of a key. The returned bool is true
// when the entry came from the store instead of a build.
func (c *Coordinator) run(ctx context.Context, fp cachekey.Fingerprint, build Builder) (*cache.Entry, bool, error) {
	// A previous leader may have stored the entry between this caller's
	// lookup and its registration in calls.
	if e, ok := c.lookup(ctx, fp); ok {
		return e, true, nil
	}
	if c.locker != nil {
		lockKey := "lock:" + fp.Key
		held, err := c.locker.TryLock(ctx, lockKey, c.owner, c.cfg.LockTTL)
		switch {
		case err != nil:
			c.logger.Warn().Err(err).Str("key", fp.Key).Msg("build lock unavailable, building without it")
		case held:
			defer func() {
				if err := c.locker.Unlock(context.WithoutCancel(ctx), lockKey, c.owner); err != nil {
					c.logger.Warn().Err(err).Str("key", fp.Key).Msg("build lock release failed")
				}
			}()
		default:
			if e, ok := c.awaitPeer(ctx, fp); ok {
				return e, true, nil
			}
			if err := ctx.Err(); err != nil {
				return nil, false, err
			}
			c.logger.Debug().Str("key", fp.Key).Msg("peer build did not land in time, building locally")
		}
	}

	started := c.now()
	entry, err := c.buildWithRetry(ctx, build)
	if err != nil {
		return nil, false, err
	}
	if entry == nil || len(entry.Data) == 0 {
		return nil, false, models.Internal("generator.build", errors.New("backend returned an empty image"))
	}

	stored := *entry
	stored.Tag = fp.Tag
	stored.CreatedAt = c.now()
	stored.BuildTime = stored.CreatedAt.Sub(started)
	metrics.RecordGeneration(stored.ContentType, stored.BuildTime)

	if err := c.store.Set(ctx, fp.Key, &stored, c.cfg.CacheTTL); err != nil {
		metrics.RecordCacheError("coordinator", "set")
		c.logger.Warn().Err(err).Str("key", fp.Key).Msg("cache write failed, serving uncached result")
	}
	return &stored, false, nil
}

// awaitPeer polls the store while another node holds the build lock.
func (c *Coordinator) awaitPeer(ctx context.Context, fp cachekey.Fingerprint) (*cache.Entry, bool) {
	deadline := time.NewTimer(c.cfg.WaitTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(c.cfg.LockPoll)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, false
		case <-deadline.C:
			return nil, false
		case <-tick.C:
			if e, ok := c.lookup(ctx, fp); ok {
				return e, true
			}
		}
	}
}

// buildWithRetry runs build through the breaker under BuildTimeout and
// retries once after a transient failure.
func (c *Coordinator) buildWithRetry(ctx context.Context, build Builder) (*cache.Entry, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			metrics.GenerationRetries.Inc()
			select {
			case <-time.After(c.cfg.RetryDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		entry, err := c.attempt(ctx, build)
		recordBreakerResult(err)
		if err == nil {
			return entry, nil
		}
		if breakerRejected(err) {
			return nil, models.Busy("imaging backend is recovering, retry shortly")
		}
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, models.Busy(fmt.Sprintf("image build exceeded %s", c.cfg.BuildTimeout))
		}
		if !models.IsKind(err, models.KindBackendTransient) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

func (c *Coordinator) attempt(ctx context.Context, build Builder) (*cache.Entry, error) {
	bctx, cancel := context.WithTimeout(ctx, c.cfg.BuildTimeout)
	defer cancel()
	return c.breaker.Execute(func() (*cache.Entry, error) {
		return build(bctx)
	})
}

func (c *Coordinator) recordFailure(err error) {
	switch models.KindOf(err) {
	case models.KindBusy:
		metrics.RecordGenerationOutcome("busy")
	case models.KindCapacity:
		metrics.RecordGenerationOutcome("capacity")
	default:
		metrics.RecordGenerationOutcome("error")
	}
}

// BreakerState reports the backend breaker state for readiness probes.
func (c *Coordinator) BreakerState() string {
	return stateToString(c.breaker.State())
}

// InFlight returns the number of keys currently being built.
func (c *Coordinator) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

func (c *Coordinator) waiting(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cl, ok := c.calls[key]; ok {
		return cl.waiters
	}
	return 0
}
