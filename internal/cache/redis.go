// Lumen - Dynamic Image Generation Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lumen

package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tomtom215/lumen/internal/logging"
)

// RedisOptions configures one redis cache node.
type RedisOptions struct {
	Addr        string
	Password    string
	DB          int
	KeyPrefix   string
	DefaultTTL  time.Duration
	DialTimeout time.Duration
}

// RedisStore keeps entries on a single redis node.
type RedisStore struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

// DialRedis connects to a node and verifies it with PING.
func DialRedis(ctx context.Context, opts RedisOptions) (*redis.Client, error) {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 5 * time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:        opts.Addr,
		Password:    opts.Password,
		DB:          opts.DB,
		DialTimeout: opts.DialTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, opts.DialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis %s: %w", opts.Addr, err)
	}
	return client, nil
}

// NewRedisStore wraps a connected client.
func NewRedisStore(client redis.Cmdable, opts RedisOptions) *RedisStore {
	ttl := opts.DefaultTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	prefix := opts.KeyPrefix
	if prefix == "" {
		prefix = "lumen:img:"
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

// Get implements Store. Transport errors are returned so the caller can
// log them; a corrupt envelope is deleted and reported as a miss.
func (s *RedisStore) Get(ctx context.Context, key string) (*Entry, bool, error) {
	b, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	e, err := DecodeEntry(b)
	if err != nil {
		logging.Ctx(ctx).Warn().Str("key", key).Msg("Dropping corrupt cache entry")
		_ = s.client.Del(ctx, s.prefix+key).Err()
		return nil, false, nil
	}
	return e, true, nil
}

// Set implements Store.
func (s *RedisStore) Set(ctx context.Context, key string, e *Entry, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = s.ttl
	}
	if err := s.client.Set(ctx, s.prefix+key, EncodeEntry(e), ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// unlockScript deletes the lock only if it is still held by the caller.
const unlockScript = `if redis.call("get", KEYS[1]) == ARGV[1] then return redis.call("del", KEYS[1]) else return 0 end`

// RedisLocker provides short-lived exclusive build locks shared by every
// server process that uses the same redis node.
type RedisLocker struct {
	client redis.Cmdable
	prefix string
}

// NewRedisLocker creates a locker using keys under prefix.
func NewRedisLocker(client redis.Cmdable, prefix string) *RedisLocker {
	if prefix == "" {
		prefix = "lumen:lock:"
	}
	return &RedisLocker{client: client, prefix: prefix}
}

// TryLock takes the lock for ttl if nobody holds it.
func (l *RedisLocker) TryLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.prefix+key, owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return ok, nil
}

// Unlock releases the lock if owner still holds it.
func (l *RedisLocker) Unlock(ctx context.Context, key, owner string) error {
	if err := l.client.Eval(ctx, unlockScript, []string{l.prefix + key}, owner).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis unlock: %w", err)
	}
	return nil
}
