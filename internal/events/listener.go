// Lumen - Dynamic Image Generation Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lumen

package events

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/lumen/internal/logging"
)

// Publisher stamps and sends events for one node.
type Publisher struct {
	bus    Bus
	origin string
	now    func() time.Time
}

// NewPublisher returns a publisher that marks events with origin.
func NewPublisher(bus Bus, origin string) *Publisher {
	return &Publisher{bus: bus, origin: origin, now: time.Now}
}

// Publish sends an event. Failures are logged and swallowed: the local
// change already succeeded and peers fall back to TTL expiry.
func (p *Publisher) Publish(ctx context.Context, eventType, name string) {
	if p == nil || p.bus == nil {
		return
	}
	ev := Event{Type: eventType, Name: name, Origin: p.origin, At: p.now().UTC()}
	if err := p.bus.Publish(ctx, ev); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("event", eventType).Msg("Event publish failed")
	}
}

// Listener applies events from other nodes. It implements suture.Service.
type Listener struct {
	bus      Bus
	origin   string
	handlers map[string]Handler
	logger   zerolog.Logger
}

// NewListener creates a listener that ignores events from origin.
func NewListener(bus Bus, origin string) *Listener {
	return &Listener{
		bus:      bus,
		origin:   origin,
		handlers: make(map[string]Handler),
		logger:   logging.WithComponent("events"),
	}
}

// Handle registers h for eventType. Call before Serve.
func (l *Listener) Handle(eventType string, h Handler) {
	l.handlers[eventType] = h
}

func (l *Listener) dispatch(ev Event) {
	if ev.Origin == l.origin {
		return
	}
	h, ok := l.handlers[ev.Type]
	if !ok {
		return
	}
	l.logger.Debug().Str("event", ev.Type).Str("name", ev.Name).Str("origin", ev.Origin).Msg("Applying remote event")
	h(ev)
}

// Serve subscribes until ctx is cancelled.
func (l *Listener) Serve(ctx context.Context) error {
	unsubscribe, err := l.bus.Subscribe(l.dispatch)
	if err != nil {
		return err
	}
	defer unsubscribe()
	l.logger.Info().Int("handlers", len(l.handlers)).Msg("Event listener started")
	<-ctx.Done()
	return ctx.Err()
}

func (l *Listener) String() string { return "event-listener" }
