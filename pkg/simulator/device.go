// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package simulator provides an in-process serial device that answers page
// requests with captured response frames. It satisfies the serialproto Port
// interface and can inject faults for negative tests.
package simulator

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Thermoquad/thermaprobe/pkg/checksum"
)

// ErrClosed is returned by I/O on a closed device
var ErrClosed = errors.New("simulator: device closed")

// Fault alters the device's answer to one request
type Fault int

const (
	// FaultCorrupt flips the checksum trailer
	FaultCorrupt Fault = iota + 1
	// FaultSilent sends nothing
	FaultSilent
	// FaultReject sends the reject sequence
	FaultReject
	// FaultTruncate drops the last byte of the frame
	FaultTruncate
	// FaultWrongPage echoes the wrong page number
	FaultWrongPage
	// FaultNoise prepends a garbage byte
	FaultNoise
	// FaultFlipPayloadBit flips the low bit of the last payload byte and
	// keeps the original checksum
	FaultFlipPayloadBit
)

func (f Fault) String() string {
	switch f {
	case FaultCorrupt:
		return "corrupt"
	case FaultSilent:
		return "silent"
	case FaultReject:
		return "reject"
	case FaultTruncate:
		return "truncate"
	case FaultWrongPage:
		return "wrong-page"
	case FaultNoise:
		return "noise"
	case FaultFlipPayloadBit:
		return "flip-payload-bit"
	default:
		return fmt.Sprintf("fault(%d)", int(f))
	}
}

// Device answers requests framed as preamble + page + checksum
type Device struct {
	mu sync.Mutex

	responses map[byte][]byte
	preamble  []byte
	reject    []byte
	alg       checksum.Algorithm

	faults   map[byte][]Fault
	inbuf    []byte
	pending  []byte
	timeout  time.Duration
	requests []byte
	readErr  error
	closed   bool
}

// New returns a device serving the captured Altherma frames
func New() *Device {
	return NewWithResponses(Captured())
}

// NewWithResponses returns a device answering with the given frames, keyed
// by page. Daikin framing constants are used.
func NewWithResponses(responses map[byte][]byte) *Device {
	return &Device{
		responses: responses,
		preamble:  []byte{0x03, 0x40},
		reject:    []byte{0x15, 0xEA},
		alg:       checksum.SumComplement,
		faults:    make(map[byte][]Fault),
		timeout:   time.Second,
	}
}

// Inject queues faults for the next requests of page, one per request
func (d *Device) Inject(page byte, faults ...Fault) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.faults[page] = append(d.faults[page], faults...)
}

// FailReads makes every following Read return err
func (d *Device) FailReads(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.readErr = err
}

// Requests returns the pages requested so far, in order
func (d *Device) Requests() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]byte(nil), d.requests...)
}

// Write accepts request bytes. Complete requests queue their answer.
func (d *Device) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, ErrClosed
	}

	d.inbuf = append(d.inbuf, p...)
	size := len(d.preamble) + 1 + d.alg.Size()
	for len(d.inbuf) >= size {
		frame := d.inbuf[:size]
		if !bytes.HasPrefix(frame, d.preamble) || !d.alg.Verify(frame) {
			// Resync on the next byte
			d.inbuf = d.inbuf[1:]
			continue
		}
		page := frame[len(d.preamble)]
		d.inbuf = d.inbuf[size:]
		d.requests = append(d.requests, page)
		d.pending = append(d.pending, d.answer(page)...)
	}
	return len(p), nil
}

func (d *Device) answer(page byte) []byte {
	var fault Fault
	if queue := d.faults[page]; len(queue) > 0 {
		fault = queue[0]
		d.faults[page] = queue[1:]
	}

	frame, ok := d.responses[page]
	if !ok || fault == FaultReject {
		return append([]byte(nil), d.reject...)
	}
	frame = append([]byte(nil), frame...)

	switch fault {
	case FaultCorrupt:
		frame[len(frame)-1] ^= 0xFF
	case FaultSilent:
		return nil
	case FaultTruncate:
		frame = frame[:len(frame)-1]
	case FaultWrongPage:
		frame[1]++
	case FaultNoise:
		frame = append([]byte{0x00}, frame...)
	case FaultFlipPayloadBit:
		frame[len(frame)-d.alg.Size()-1] ^= 0x01
	}
	return frame
}

// Read returns queued answer bytes. With nothing queued it waits for the
// read timeout and returns 0, like a serial port.
func (d *Device) Read(p []byte) (int, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return 0, ErrClosed
	}
	if d.readErr != nil {
		err := d.readErr
		d.mu.Unlock()
		return 0, err
	}
	if len(d.pending) == 0 {
		timeout := d.timeout
		d.mu.Unlock()
		time.Sleep(timeout)
		return 0, nil
	}
	n := copy(p, d.pending)
	d.pending = d.pending[n:]
	d.mu.Unlock()
	return n, nil
}

// SetReadTimeout sets how long an empty Read waits
func (d *Device) SetReadTimeout(t time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.timeout = t
	return nil
}

// ResetInputBuffer discards unread answer bytes
func (d *Device) ResetInputBuffer() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	d.pending = nil
	return nil
}

// Close closes the device
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}
