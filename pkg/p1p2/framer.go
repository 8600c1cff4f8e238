// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package p1p2 frames and decodes the passive P1/P2 control bus.
//
// The bus carries no start or end markers. Packets are recognized by their
// prefix, then the known payload length and checksum trailer are read and
// validated. On a checksum failure the framer resumes scanning at the next
// byte, so it resynchronizes after noise without losing later packets.
package p1p2

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/Thermoquad/thermaprobe/pkg/checksum"
)

// ChecksumError reports a prefixed frame whose trailer does not match
type ChecksumError struct {
	Type     string
	Expected []byte
	Actual   []byte
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("%s packet: CRC mismatch: expected % X, got % X", e.Type, e.Expected, e.Actual)
}

// Framer splits a continuous byte stream into packets
type Framer struct {
	types  []PacketType
	alg    checksum.Algorithm
	buffer []byte
	noise  uint64
	now    func() time.Time
}

// NewFramer creates a framer recognizing types, validated with alg
func NewFramer(types []PacketType, alg checksum.Algorithm) (*Framer, error) {
	if len(types) == 0 {
		return nil, errors.New("p1p2: no packet types")
	}

	sorted := make([]PacketType, len(types))
	copy(sorted, types)
	seen := make(map[string]bool)
	for _, t := range sorted {
		if len(t.Prefix) == 0 {
			return nil, fmt.Errorf("p1p2: packet type %q has an empty prefix", t.Name)
		}
		if len(t.Prefix) > 4 {
			return nil, fmt.Errorf("p1p2: packet type %q prefix longer than 4 bytes", t.Name)
		}
		if t.PayloadLength < 0 {
			return nil, fmt.Errorf("p1p2: packet type %q has a negative payload length", t.Name)
		}
		if seen[string(t.Prefix)] {
			return nil, fmt.Errorf("p1p2: duplicate prefix % X", t.Prefix)
		}
		seen[string(t.Prefix)] = true
	}
	// Longest prefix wins
	sort.SliceStable(sorted, func(i, j int) bool {
		return len(sorted[i].Prefix) > len(sorted[j].Prefix)
	})

	return &Framer{types: sorted, alg: alg, now: time.Now}, nil
}

// Reset drops buffered bytes
func (f *Framer) Reset() {
	f.buffer = f.buffer[:0]
}

// NoiseBytes returns the number of bytes skipped as unrecognized
func (f *Framer) NoiseBytes() uint64 {
	return f.noise
}

// Buffered returns the number of bytes waiting for more input
func (f *Framer) Buffered() int {
	return len(f.buffer)
}

type scanResult int

const (
	scanNoise scanResult = iota
	scanWait
	scanPacket
	scanMismatch
)

// frameAt tries every type whose prefix matches the start of data, longest
// first. A candidate still short of bytes makes the scan wait before any
// shorter type is tried. On scanMismatch the error describes the longest
// candidate.
func (f *Framer) frameAt(data []byte) (*Packet, int, scanResult, error) {
	trailer := f.alg.Size()
	var mismatch error
	for _, t := range f.types {
		if len(data) < len(t.Prefix) {
			if bytes.HasPrefix(t.Prefix, data) {
				return nil, 0, scanWait, nil
			}
			continue
		}
		if !bytes.HasPrefix(data, t.Prefix) {
			continue
		}
		total := len(t.Prefix) + t.PayloadLength + trailer
		if len(data) < total {
			return nil, 0, scanWait, nil
		}
		body := data[:total-trailer]
		actual := data[total-trailer : total]
		if expected := f.alg.Compute(body); !bytes.Equal(expected, actual) {
			if mismatch == nil {
				mismatch = &ChecksumError{
					Type:     t.Name,
					Expected: expected,
					Actual:   append([]byte(nil), actual...),
				}
			}
			continue
		}
		return &Packet{
			ptype:     t,
			payload:   append([]byte(nil), body[len(t.Prefix):]...),
			checksum:  append([]byte(nil), actual...),
			timestamp: f.now(),
		}, total, scanPacket, nil
	}
	if mismatch != nil {
		return nil, 0, scanMismatch, mismatch
	}
	return nil, 0, scanNoise, nil
}

// Feed appends data to the stream and returns every packet completed by it,
// plus a *ChecksumError per offset where no matching type validated
func (f *Framer) Feed(data []byte) ([]*Packet, []error) {
	var (
		packets []*Packet
		errs    []error
	)

	f.buffer = append(f.buffer, data...)
	i := 0

scan:
	for i < len(f.buffer) {
		pkt, size, res, err := f.frameAt(f.buffer[i:])
		switch res {
		case scanWait:
			break scan
		case scanPacket:
			packets = append(packets, pkt)
			i += size
		case scanMismatch:
			errs = append(errs, err)
			i++
		default:
			f.noise++
			i++
		}
	}

	f.buffer = append(f.buffer[:0], f.buffer[i:]...)
	return packets, errs
}
