// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"time"

	"github.com/Thermoquad/thermaprobe/internal/metrics"
	"github.com/Thermoquad/thermaprobe/pkg/decoding"
	"github.com/Thermoquad/thermaprobe/pkg/definition"
	"github.com/Thermoquad/thermaprobe/pkg/p1p2"
	"github.com/Thermoquad/thermaprobe/pkg/sink"
)

// newListener builds a bus listener from the config. Metrics hooks run
// before onPacket and onError when m is set.
func newListener(table *definition.Table, m *metrics.Metrics,
	onPacket func(*p1p2.Packet, decoding.Values, []*decoding.DecodeError),
	onError func(error)) (*p1p2.Listener, error) {
	types, err := cfg.Bus.Types()
	if err != nil {
		return nil, err
	}
	alg, err := cfg.Bus.Algorithm()
	if err != nil {
		return nil, err
	}

	lc := p1p2.Config{
		Types:    types,
		Checksum: alg,
		Logger:   logger,
		OnPacket: func(p *p1p2.Packet, values decoding.Values, errs []*decoding.DecodeError) {
			if m != nil {
				m.ObservePacket(p, values, errs)
			}
			if onPacket != nil {
				onPacket(p, values, errs)
			}
		},
		OnError: func(err error) {
			if m != nil {
				m.ObserveBusError(err)
			}
			if onError != nil {
				onError(err)
			}
		},
	}
	l, err := p1p2.NewListener(table, lc)
	if err != nil {
		return nil, err
	}
	if m != nil {
		m.WatchBus(l.Statistics())
	}
	return l, nil
}

// busReader keeps a bus connection open, reconnecting with exponential
// backoff when it is lost
type busReader struct {
	listener *p1p2.Listener
	out      sink.Sink

	// Optional connection notifications
	onConnect func(info string)
	onLost    func(err error)
}

// Run reads the bus until ctx is done. Only the first connection attempt is
// fatal.
func (b *busReader) Run(ctx context.Context) error {
	conn, info, err := OpenBusConnection()
	if err != nil {
		return err
	}

	for {
		logger.Info().Str("connection", info).Msg("bus connected")
		if b.onConnect != nil {
			b.onConnect(info)
		}

		b.listener.Reset()

		// Blocking reads only return once the connection is closed
		stop := context.AfterFunc(ctx, func() { conn.Close() })
		if cfg.Bus.Format == "monitor" {
			err = b.listener.RunLines(ctx, conn, b.out)
		} else {
			err = b.listener.Run(ctx, conn, b.out)
		}
		stop()
		conn.Close()

		if ctx.Err() != nil {
			return nil
		}
		logger.Warn().Err(err).Str("connection", info).Msg("bus connection lost")
		if b.onLost != nil {
			b.onLost(err)
		}

		if conn, info, err = b.reconnect(ctx); err != nil {
			return nil
		}
	}
}

// reconnect attempts to reconnect with exponential backoff. It only fails
// when ctx is done.
func (b *busReader) reconnect(ctx context.Context) (Connection, string, error) {
	backoff := 1 * time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			return nil, "", ctx.Err()
		case <-time.After(backoff):
		}

		conn, info, err := OpenBusConnection()
		if err == nil {
			return conn, info, nil
		}
		logger.Debug().Err(err).Dur("backoff", backoff).Msg("bus reconnect failed")

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}
