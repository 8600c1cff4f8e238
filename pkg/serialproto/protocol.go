// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package serialproto implements the request/response polling protocol of
// the Daikin serial service port.
//
// A request is a preamble, a page selector and a checksum. The response
// echoes the preamble and page, optionally carries a length byte, then the
// page payload and a checksum. All constants come from Protocol, which is
// filled from configuration.
package serialproto

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/Thermoquad/thermaprobe/pkg/checksum"
)

// Port is the half-duplex link to the device. go.bug.st/serial ports
// satisfy it.
type Port interface {
	io.ReadWriter
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
}

// Protocol holds the framing constants of one device model
type Protocol struct {
	RequestPreamble  []byte
	ResponsePreamble []byte
	// Reject is the device's answer for pages it does not serve
	Reject   []byte
	Checksum checksum.Algorithm
	// LengthField is set when the response carries a length byte after the
	// page echo. The payload is then LengthByte - LengthOverhead bytes.
	LengthField    bool
	LengthOverhead int
	// PayloadLengths fixes the payload length per page. Required for pages
	// of protocols without a length field.
	PayloadLengths map[byte]int
}

// DaikinProtocol returns the constants observed on Altherma units
func DaikinProtocol() Protocol {
	return Protocol{
		RequestPreamble:  []byte{0x03, 0x40},
		ResponsePreamble: []byte{0x40},
		Reject:           []byte{0x15, 0xEA},
		Checksum:         checksum.SumComplement,
		LengthField:      true,
		LengthOverhead:   2,
	}
}

// Validate checks that the constants can frame a response
func (p Protocol) Validate() error {
	if len(p.RequestPreamble) == 0 {
		return fmt.Errorf("request preamble is empty")
	}
	if len(p.ResponsePreamble) == 0 {
		return fmt.Errorf("response preamble is empty")
	}
	if len(p.Reject) > 0 && p.Reject[0] == p.ResponsePreamble[0] {
		return fmt.Errorf("reject sequence starts like the response preamble")
	}
	if p.LengthField && p.LengthOverhead < 0 {
		return fmt.Errorf("negative length overhead")
	}
	if !p.LengthField && len(p.PayloadLengths) == 0 {
		return fmt.Errorf("payload lengths are required without a length field")
	}
	for page, n := range p.PayloadLengths {
		if n < 0 {
			return fmt.Errorf("page 0x%02X: negative payload length", page)
		}
	}
	return nil
}

// Request builds the request frame for page
func (p Protocol) Request(page byte) []byte {
	frame := make([]byte, 0, len(p.RequestPreamble)+1)
	frame = append(frame, p.RequestPreamble...)
	frame = append(frame, page)
	return p.Checksum.Append(frame)
}

// frameReader reads a response against one deadline
type frameReader struct {
	port     Port
	page     byte
	deadline time.Time
	timeout  time.Duration
	frame    []byte
}

// read appends exactly n bytes to the frame or fails with a timeout
func (r *frameReader) read(n int) ([]byte, error) {
	start := len(r.frame)
	want := start + n
	buf := make([]byte, n)
	for len(r.frame) < want {
		remaining := time.Until(r.deadline)
		if remaining <= 0 {
			return nil, &FrameTimeoutError{Page: r.page, Want: want, Got: len(r.frame), Timeout: r.timeout}
		}
		if err := r.port.SetReadTimeout(remaining); err != nil {
			return nil, &PortError{Op: "set timeout", Err: err}
		}
		got, err := r.port.Read(buf[:want-len(r.frame)])
		if err != nil {
			return nil, &PortError{Op: "read", Err: err}
		}
		r.frame = append(r.frame, buf[:got]...)
	}
	return r.frame[start:], nil
}

// ReadResponse reads and validates the response to a request for page,
// returning the payload and the full frame
func (p Protocol) ReadResponse(port Port, page byte, timeout time.Duration) (payload, frame []byte, err error) {
	frame, headerLen, err := p.ReadFrame(port, page, timeout)
	if err != nil {
		return nil, frame, err
	}
	payload, err = p.Verify(page, frame, headerLen)
	return payload, frame, err
}

// ReadFrame reads one response frame for page, checking its structure but
// not its checksum. headerLen is the number of bytes before the payload.
func (p Protocol) ReadFrame(port Port, page byte, timeout time.Duration) (frame []byte, headerLen int, err error) {
	r := &frameReader{port: port, page: page, deadline: time.Now().Add(timeout), timeout: timeout}

	first, err := r.read(1)
	if err != nil {
		return r.frame, 0, err
	}

	if len(p.Reject) > 0 && first[0] == p.Reject[0] {
		rest, err := r.read(len(p.Reject) - 1)
		if err != nil {
			return r.frame, 0, err
		}
		if bytes.Equal(rest, p.Reject[1:]) {
			return r.frame, 0, ErrPageRejected
		}
		return r.frame, 0, &FrameFormatError{Page: page, Reason: fmt.Sprintf("bad reject sequence % X", r.frame)}
	}

	if first[0] != p.ResponsePreamble[0] {
		return r.frame, 0, &FrameFormatError{Page: page, Reason: fmt.Sprintf("unexpected first byte 0x%02X", first[0])}
	}
	if len(p.ResponsePreamble) > 1 {
		rest, err := r.read(len(p.ResponsePreamble) - 1)
		if err != nil {
			return r.frame, 0, err
		}
		if !bytes.Equal(rest, p.ResponsePreamble[1:]) {
			return r.frame, 0, &FrameFormatError{Page: page, Reason: fmt.Sprintf("bad preamble % X", r.frame)}
		}
	}

	echo, err := r.read(1)
	if err != nil {
		return r.frame, 0, err
	}
	if echo[0] != page {
		return r.frame, 0, &FrameFormatError{Page: page, Reason: fmt.Sprintf("page echo 0x%02X", echo[0])}
	}

	length, known := p.PayloadLengths[page]
	if p.LengthField {
		lb, err := r.read(1)
		if err != nil {
			return r.frame, 0, err
		}
		n := int(lb[0]) - p.LengthOverhead
		if n < 0 {
			return r.frame, 0, &FrameFormatError{Page: page, Reason: fmt.Sprintf("length byte %d below overhead", lb[0])}
		}
		if known && n != length {
			return r.frame, 0, &FrameFormatError{Page: page, Reason: fmt.Sprintf("payload length %d, configured %d", n, length)}
		}
		length = n
	} else if !known {
		return r.frame, 0, fmt.Errorf("page 0x%02X: no payload length configured", page)
	}

	headerLen = len(r.frame)
	if _, err := r.read(length + p.Checksum.Size()); err != nil {
		return r.frame, headerLen, err
	}
	return r.frame, headerLen, nil
}

// Verify checks the trailer of a complete frame and returns a copy of its
// payload
func (p Protocol) Verify(page byte, frame []byte, headerLen int) ([]byte, error) {
	size := p.Checksum.Size()
	if len(frame) < headerLen+size {
		return nil, &FrameFormatError{Page: page, Reason: "frame shorter than header and checksum"}
	}
	body := frame[:len(frame)-size]
	expected := p.Checksum.Compute(body)
	if actual := frame[len(body):]; !bytes.Equal(expected, actual) {
		return nil, &FrameChecksumError{Page: page, Expected: expected, Actual: append([]byte(nil), actual...)}
	}
	return append([]byte(nil), frame[headerLen:len(body)]...), nil
}
