// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package decoding turns raw page and packet bytes into typed values using
// a decode table.
package decoding

import (
	"errors"
	"fmt"

	"github.com/Thermoquad/thermaprobe/pkg/definition"
)

var (
	// ErrUnavailable marks an entry whose bytes were not captured
	ErrUnavailable = errors.New("bytes unavailable")
	// ErrNotAvailable marks an entry the device reported as N/A
	ErrNotAvailable = errors.New("device reports N/A")
	// ErrUnsupportedConverter marks an entry the decoder cannot convert
	ErrUnsupportedConverter = errors.New("unsupported converter")
)

// Frames maps each captured location to its raw bytes
type Frames map[definition.Source][]byte

// DecodeError is scoped to a single entry
type DecodeError struct {
	Entry definition.Entry
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s (%s): %v", e.Entry.Key(), e.Entry.Label, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Decode applies every entry of table to raw. Entries whose location is
// missing or too short, or whose converter cannot be applied, are reported
// as errors without affecting the others. Errors follow table order.
func Decode(raw Frames, table *definition.Table) (Values, []*DecodeError) {
	values := make(Values)
	var errs []*DecodeError

	for _, e := range table.Entries() {
		data, ok := raw[e.Source]
		if !ok {
			errs = append(errs, &DecodeError{Entry: e, Err: fmt.Errorf("%w: %s not captured", ErrUnavailable, e.Source)})
			continue
		}
		v, err := DecodeEntry(e, data)
		if err != nil {
			errs = append(errs, &DecodeError{Entry: e, Err: err})
			continue
		}
		values[v.Key] = v
	}

	return values, errs
}

// DecodeSource applies only the entries of table reading from src
func DecodeSource(src definition.Source, data []byte, table *definition.Table) (Values, []*DecodeError) {
	values := make(Values)
	var errs []*DecodeError

	for _, e := range table.EntriesFor(src) {
		v, err := DecodeEntry(e, data)
		if err != nil {
			errs = append(errs, &DecodeError{Entry: e, Err: err})
			continue
		}
		values[v.Key] = v
	}

	return values, errs
}

// DecodeEntry converts the window of data addressed by e
func DecodeEntry(e definition.Entry, data []byte) (Value, error) {
	if e.Width < 1 || e.Width > 8 {
		return Value{}, fmt.Errorf("%w: width %d", ErrUnsupportedConverter, e.Width)
	}
	end := e.Offset + e.Width
	if e.Offset < 0 || end > len(data) {
		return Value{}, fmt.Errorf("%w: window [%d,%d) exceeds %d bytes", ErrUnavailable, e.Offset, end, len(data))
	}
	window := data[e.Offset:end]

	v := Value{
		Key:    e.Key(),
		Label:  e.Label,
		Source: e.Source,
		Offset: e.Offset,
		Raw:    append([]byte(nil), window...),
	}

	c := e.Converter
	raw := readUint(window, c.Order)

	switch c.Kind {
	case definition.KindUnsigned:
		v.Kind = ValueInt
		v.Int = int64(raw)

	case definition.KindSigned:
		v.Kind = ValueInt
		v.Int = signExtend(raw, e.Width)

	case definition.KindScaled:
		if c.Den == 0 {
			return Value{}, fmt.Errorf("%w: zero denominator", ErrUnsupportedConverter)
		}
		if c.NotAvailable && raw == uint64(1)<<(8*e.Width-1) {
			return Value{}, ErrNotAvailable
		}
		n := float64(raw)
		if c.Signed {
			n = float64(signExtend(raw, e.Width))
		}
		v.Kind = ValueFloat
		v.Float = n*float64(c.Num)/float64(c.Den) + c.Offset

	case definition.KindBit:
		if c.Bit > 7 {
			return Value{}, fmt.Errorf("%w: bit index %d", ErrUnsupportedConverter, c.Bit)
		}
		v.Kind = ValueBool
		v.Bool = window[0]>>c.Bit&0x01 == 1

	case definition.KindEnum:
		code := int64(raw >> c.Shift)
		v.Int = code
		if label, ok := c.Labels[code]; ok {
			v.Kind = ValueEnum
			v.Text = label
		} else if c.Fallback != "" {
			v.Kind = ValueEnum
			v.Text = c.Fallback
		} else if c.Passthrough {
			v.Kind = ValueInt
		} else {
			v.Kind = ValueEnum
			v.Text = fmt.Sprintf("unknown (%d)", code)
		}

	default:
		return Value{}, fmt.Errorf("%w: %s", ErrUnsupportedConverter, c.Kind)
	}

	return v, nil
}

func readUint(window []byte, order definition.ByteOrder) uint64 {
	var n uint64
	if order == definition.LittleEndian {
		for i := len(window) - 1; i >= 0; i-- {
			n = n<<8 | uint64(window[i])
		}
		return n
	}
	for _, b := range window {
		n = n<<8 | uint64(b)
	}
	return n
}

func signExtend(raw uint64, width int) int64 {
	shift := uint(64 - 8*width)
	return int64(raw<<shift) >> shift
}
