// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package p1p2

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/Thermoquad/thermaprobe/pkg/checksum"
	"github.com/Thermoquad/thermaprobe/pkg/decoding"
	"github.com/Thermoquad/thermaprobe/pkg/definition"
	"github.com/Thermoquad/thermaprobe/pkg/sink"
	"github.com/rs/zerolog"
)

// Config controls a bus listener
type Config struct {
	Types    []PacketType
	Checksum checksum.Algorithm
	Logger   zerolog.Logger
	// ReadSize is the read buffer size for raw streams
	ReadSize int

	// OnPacket is called for every validated packet with its decoded values
	OnPacket func(p *Packet, values decoding.Values, errs []*decoding.DecodeError)
	// OnError is called for every rejected frame
	OnError func(err error)
}

// Listener decodes packets from a passive bus stream. It never writes.
type Listener struct {
	cfg    Config
	table  *definition.Table
	framer *Framer
	stats  *Statistics
	noise  uint64
	logger zerolog.Logger
}

// NewListener creates a listener decoding with the bus entries of table
func NewListener(table *definition.Table, cfg Config) (*Listener, error) {
	if table == nil {
		return nil, errors.New("p1p2: table is nil")
	}
	framer, err := NewFramer(cfg.Types, cfg.Checksum)
	if err != nil {
		return nil, err
	}
	if cfg.ReadSize <= 0 {
		cfg.ReadSize = 128
	}
	return &Listener{
		cfg:    cfg,
		table:  table.Channel(definition.SourcePacket),
		framer: framer,
		stats:  NewStatistics(),
		logger: cfg.Logger.With().Str("component", "p1p2").Logger(),
	}, nil
}

// Statistics returns the listener's live statistics
func (l *Listener) Statistics() *Statistics {
	return l.stats
}

// Reset drops the bytes of an unfinished frame. Call it before reading a
// new connection.
func (l *Listener) Reset() {
	l.framer.Reset()
}

// Handle feeds raw bus bytes and returns a record per completed packet
func (l *Listener) Handle(data []byte) []sink.Record {
	packets, errs := l.framer.Feed(data)

	if noise := l.framer.NoiseBytes(); noise > l.noise {
		l.stats.AddNoise(noise - l.noise)
		l.noise = noise
	}

	for _, err := range errs {
		l.stats.ChecksumError()
		l.logger.Debug().Err(err).Msg("frame rejected")
		if l.cfg.OnError != nil {
			l.cfg.OnError(err)
		}
	}

	records := make([]sink.Record, 0, len(packets))
	for _, p := range packets {
		records = append(records, l.decode(p))
	}
	return records
}

func (l *Listener) decode(p *Packet) sink.Record {
	values, errs := decoding.DecodeSource(p.Source(), p.Payload(), l.table)

	failed := 0
	for _, err := range errs {
		if !errors.Is(err, decoding.ErrNotAvailable) {
			failed++
		}
	}
	l.stats.Packet(p, failed)

	l.logger.Debug().
		Str("type", p.Type().Name).
		Str("frame", fmt.Sprintf("% X", p.Raw())).
		Int("values", len(values)).
		Msg("packet")
	if l.cfg.OnPacket != nil {
		l.cfg.OnPacket(p, values, errs)
	}

	status := "ok"
	if failed > 0 {
		status = "partial"
	}
	src := p.Source().String()
	return sink.Record{
		Timestamp: p.Timestamp(),
		Channel:   sink.ChannelBus,
		Raw:       map[string][]byte{src: p.Payload()},
		Values:    values,
		Status:    map[string]string{src: status},
	}
}

// HandleLine decodes one line of P1P2Monitor text output. Lines without bus
// data return ErrIgnoredLine.
func (l *Listener) HandleLine(line string) ([]sink.Record, error) {
	ml, err := ParseMonitorLine(line)
	if err != nil {
		return nil, err
	}
	// Each line holds whole packets; nothing carries over
	l.framer.Reset()
	return l.Handle(ml.Frame()), nil
}

func submit(out sink.Sink, records []sink.Record) {
	if out == nil {
		return
	}
	for _, r := range records {
		out.Submit(r)
	}
}

// Run reads raw bus bytes from r until ctx is done or r ends. Packets of a
// read are handled before cancellation is observed.
func (l *Listener) Run(ctx context.Context, r io.Reader, out sink.Sink) error {
	buf := make([]byte, l.cfg.ReadSize)
	for {
		if ctx.Err() != nil {
			return nil
		}
		n, err := r.Read(buf)
		if n > 0 {
			submit(out, l.Handle(buf[:n]))
		}
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("bus read: %w", err)
		}
	}
}

// RunLines reads P1P2Monitor text output from r until ctx is done or r ends
func (l *Listener) RunLines(ctx context.Context, r io.Reader, out sink.Sink) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		records, err := l.HandleLine(scanner.Text())
		if err != nil {
			if errors.Is(err, ErrIgnoredLine) {
				l.logger.Trace().Str("line", scanner.Text()).Msg("ignoring line")
			} else {
				l.logger.Warn().Err(err).Msg("bad monitor line")
			}
			continue
		}
		submit(out, records)
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("bus read: %w", err)
	}
	return nil
}
