// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package sink hands decoded results from the poll and bus loops to
// persistence without letting slow storage stall the loops.
package sink

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/Thermoquad/thermaprobe/pkg/decoding"
	"github.com/rs/zerolog"
)

// Channel names used in records
const (
	ChannelSerial = "serial"
	ChannelBus    = "bus"
)

// Record is one poll cycle or one bus packet, handed over by value
type Record struct {
	Timestamp time.Time
	Channel   string
	// Raw bytes by location name, e.g. "page 0x10"
	Raw    map[string][]byte
	Values decoding.Values
	// Status by location name, serial records only
	Status map[string]string
}

// Sink accepts records without blocking. It reports false when the record
// was dropped.
type Sink interface {
	Submit(r Record) bool
}

// Writer persists records. It may block.
type Writer interface {
	Write(ctx context.Context, r Record) error
}

// WriterFunc adapts a function to Writer
type WriterFunc func(ctx context.Context, r Record) error

// Write calls f
func (f WriterFunc) Write(ctx context.Context, r Record) error {
	return f(ctx, r)
}

// MultiWriter writes each record to every writer
type MultiWriter []Writer

// Write writes r to all writers, joining their errors
func (m MultiWriter) Write(ctx context.Context, r Record) error {
	var errs []error
	for _, w := range m {
		if err := w.Write(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Buffered is a bounded queue in front of a Writer. Submit never blocks;
// when the queue is full the record is dropped and counted.
type Buffered struct {
	records chan Record
	writer  Writer
	logger  zerolog.Logger

	dropped atomic.Uint64
	written atomic.Uint64
	failed  atomic.Uint64
}

// NewBuffered creates a queue holding up to size records
func NewBuffered(size int, w Writer, logger zerolog.Logger) *Buffered {
	if size < 1 {
		size = 1
	}
	return &Buffered{
		records: make(chan Record, size),
		writer:  w,
		logger:  logger.With().Str("component", "sink").Logger(),
	}
}

// Submit queues r
func (b *Buffered) Submit(r Record) bool {
	select {
	case b.records <- r:
		return true
	default:
		n := b.dropped.Add(1)
		b.logger.Warn().Str("channel", r.Channel).Uint64("dropped", n).Msg("sink buffer full, record dropped")
		return false
	}
}

// Run writes queued records until ctx is done, then flushes what is left
// with a short grace period
func (b *Buffered) Run(ctx context.Context) error {
	for {
		select {
		case r := <-b.records:
			b.write(ctx, r)
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
			defer cancel()
			for {
				select {
				case r := <-b.records:
					b.write(flushCtx, r)
				default:
					return nil
				}
			}
		}
	}
}

func (b *Buffered) write(ctx context.Context, r Record) {
	if err := b.writer.Write(ctx, r); err != nil {
		b.failed.Add(1)
		b.logger.Error().Err(err).Str("channel", r.Channel).Msg("failed to write record")
		return
	}
	b.written.Add(1)
}

// Dropped returns how many records were dropped on a full queue
func (b *Buffered) Dropped() uint64 {
	return b.dropped.Load()
}

// Written returns how many records were written successfully
func (b *Buffered) Written() uint64 {
	return b.written.Load()
}

// Failed returns how many records the writer rejected
func (b *Buffered) Failed() uint64 {
	return b.failed.Load()
}
