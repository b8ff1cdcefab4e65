// Lumen - Dynamic Image Generation Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lumen

// Package events broadcasts cache invalidation hints between Lumen nodes.
//
// A node that changes a template or the folder catalog applies the change
// locally and then publishes an Event. Other nodes receive it through a
// Listener and drop or reload their copies. Delivery is best effort: the
// template cache also expires on its own TTL.
package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/lumen/internal/config"
	"github.com/tomtom215/lumen/internal/metrics"
)

// Event types.
const (
	TemplateChanged = "template.changed"
	CatalogChanged  = "catalog.changed"
)

// Event is one invalidation hint.
type Event struct {
	Type   string    `json:"type"`
	Name   string    `json:"name,omitempty"`
	Origin string    `json:"origin"`
	At     time.Time `json:"at"`
}

// Handler receives events. It must not block for long.
type Handler func(Event)

// Bus publishes events and fans them out to subscribers.
type Bus interface {
	Publish(ctx context.Context, ev Event) error
	Subscribe(h Handler) (unsubscribe func(), err error)
	Close() error
}

func encode(ev Event) ([]byte, error) {
	b, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	return b, nil
}

func decode(b []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(b, &ev); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	return ev, nil
}

// LocalBus delivers events inside one process.
type LocalBus struct {
	mu     sync.RWMutex
	next   int
	subs   map[int]Handler
	closed bool
}

// NewLocalBus creates an empty bus.
func NewLocalBus() *LocalBus {
	return &LocalBus{subs: make(map[int]Handler)}
}

func (b *LocalBus) Publish(_ context.Context, ev Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		metrics.RecordEventPublished(ev.Type, errBusClosed)
		return errBusClosed
	}
	for _, h := range b.subs {
		h(ev)
	}
	metrics.RecordEventPublished(ev.Type, nil)
	return nil
}

func (b *LocalBus) Subscribe(h Handler) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, errBusClosed
	}
	id := b.next
	b.next++
	b.subs[id] = h
	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}, nil
}

func (b *LocalBus) Close() error {
	b.mu.Lock()
	b.closed = true
	b.subs = map[int]Handler{}
	b.mu.Unlock()
	return nil
}

var errBusClosed = fmt.Errorf("event bus closed")

// Open selects the bus named by cfg.Backend.
func Open(cfg config.EventsConfig) (Bus, error) {
	switch cfg.Backend {
	case "", "local":
		return NewLocalBus(), nil
	case "nats":
		return DialNATS(NATSOptions{URL: cfg.URL, SubjectPrefix: cfg.SubjectPrefix, Name: cfg.Name})
	default:
		return nil, fmt.Errorf("unknown events backend %q", cfg.Backend)
	}
}
