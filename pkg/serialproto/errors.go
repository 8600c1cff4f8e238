// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package serialproto

import (
	"errors"
	"fmt"
	"time"
)

// ErrPageRejected is returned when the device answers with its reject
// sequence. The page is not retried within the cycle.
var ErrPageRejected = errors.New("device rejected page request")

// FrameTimeoutError reports a response that did not complete in time
type FrameTimeoutError struct {
	Page    byte
	Want    int
	Got     int
	Timeout time.Duration
}

func (e *FrameTimeoutError) Error() string {
	return fmt.Sprintf("page 0x%02X: timeout after %v waiting for %d bytes, got %d", e.Page, e.Timeout, e.Want, e.Got)
}

// FrameChecksumError reports a response whose trailer does not match
type FrameChecksumError struct {
	Page     byte
	Expected []byte
	Actual   []byte
}

func (e *FrameChecksumError) Error() string {
	return fmt.Sprintf("page 0x%02X: checksum mismatch: expected % X, got % X", e.Page, e.Expected, e.Actual)
}

// FrameFormatError reports a response with a bad preamble, page echo or
// length byte
type FrameFormatError struct {
	Page   byte
	Reason string
}

func (e *FrameFormatError) Error() string {
	return fmt.Sprintf("page 0x%02X: malformed response: %s", e.Page, e.Reason)
}

// PortError wraps an I/O failure of the port itself. It ends the poll loop.
type PortError struct {
	Op  string
	Err error
}

func (e *PortError) Error() string {
	return fmt.Sprintf("port %s failed: %v", e.Op, e.Err)
}

func (e *PortError) Unwrap() error {
	return e.Err
}

// retryable reports whether an exchange error should be retried
func retryable(err error) bool {
	var (
		timeout  *FrameTimeoutError
		checksum *FrameChecksumError
		format   *FrameFormatError
	)
	return errors.As(err, &timeout) || errors.As(err, &checksum) || errors.As(err, &format)
}
