// Lumen - Dynamic Image Generation Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lumen

package events

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/tomtom215/lumen/internal/logging"
	"github.com/tomtom215/lumen/internal/metrics"
)

// NATSOptions configures a NATSBus.
type NATSOptions struct {
	URL           string
	SubjectPrefix string
	Name          string
}

// NATSBus publishes events as core NATS messages on
// <prefix>.<event type>. It has no persistence; a node that is offline
// misses the hints sent meanwhile.
type NATSBus struct {
	nc     *nats.Conn
	prefix string
	logger zerolog.Logger
}

// DialNATS connects to the server at opts.URL.
func DialNATS(opts NATSOptions) (*NATSBus, error) {
	if opts.URL == "" {
		opts.URL = nats.DefaultURL
	}
	if opts.SubjectPrefix == "" {
		opts.SubjectPrefix = "lumen"
	}
	logger := logging.WithComponent("events")
	nc, err := nats.Connect(opts.URL,
		nats.Name(opts.Name),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info().Str("url", c.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return &NATSBus{nc: nc, prefix: strings.TrimSuffix(opts.SubjectPrefix, "."), logger: logger}, nil
}

func (b *NATSBus) subject(eventType string) string {
	return b.prefix + "." + eventType
}

func (b *NATSBus) Publish(_ context.Context, ev Event) error {
	data, err := encode(ev)
	if err != nil {
		return err
	}
	err = b.nc.Publish(b.subject(ev.Type), data)
	metrics.RecordEventPublished(ev.Type, err)
	if err != nil {
		return fmt.Errorf("publish %s: %w", ev.Type, err)
	}
	return nil
}

func (b *NATSBus) Subscribe(h Handler) (func(), error) {
	sub, err := b.nc.Subscribe(b.prefix+".>", func(m *nats.Msg) {
		ev, err := decode(m.Data)
		if err != nil {
			b.logger.Warn().Err(err).Str("subject", m.Subject).Msg("Dropping malformed event")
			return
		}
		h(ev)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s.>: %w", b.prefix, err)
	}
	return func() { _ = sub.Unsubscribe() }, nil
}

// Close drains pending messages and closes the connection.
func (b *NATSBus) Close() error {
	if err := b.nc.Drain(); err != nil {
		b.nc.Close()
		return fmt.Errorf("drain NATS connection: %w", err)
	}
	return nil
}
