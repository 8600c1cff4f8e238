// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package simulator

import (
	"bytes"
	"errors"
	"testing"
	"time"
)

func readAll(t *testing.T, d *Device) []byte {
	t.Helper()
	d.SetReadTimeout(time.Millisecond)
	var out []byte
	buf := make([]byte, 8)
	for {
		n, err := d.Read(buf)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if n == 0 {
			return out
		}
		out = append(out, buf[:n]...)
	}
}

func TestDevice_AnswersCapturedPage(t *testing.T) {
	d := New()
	d.Write([]byte{0x03, 0x40, 0x10, 0xAC})

	if got := readAll(t, d); !bytes.Equal(got, capturedFrames[0x10]) {
		t.Errorf("expected % X, got % X", capturedFrames[0x10], got)
	}
	if got := d.Requests(); !bytes.Equal(got, []byte{0x10}) {
		t.Errorf("requests % X", got)
	}
}

func TestDevice_SplitAndNoisyWrites(t *testing.T) {
	d := New()
	d.Write([]byte{0xFF, 0x03})
	d.Write([]byte{0x40, 0x10})
	if got := readAll(t, d); len(got) != 0 {
		t.Fatalf("answered before request completed: % X", got)
	}
	d.Write([]byte{0xAC})
	if got := readAll(t, d); !bytes.Equal(got, capturedFrames[0x10]) {
		t.Errorf("expected page 0x10 frame, got % X", got)
	}
}

func TestDevice_BadRequestChecksumIgnored(t *testing.T) {
	d := New()
	d.Write([]byte{0x03, 0x40, 0x10, 0xAD})
	if got := d.Requests(); len(got) != 0 {
		t.Errorf("bad request accepted: % X", got)
	}
}

func TestDevice_UnknownPageRejected(t *testing.T) {
	d := New()
	d.Write([]byte{0x03, 0x40, 0xA0, 0x1C})
	if got := readAll(t, d); !bytes.Equal(got, []byte{0x15, 0xEA}) {
		t.Errorf("expected reject, got % X", got)
	}
}

func TestDevice_Faults(t *testing.T) {
	frame := capturedFrames[0x10]
	tests := []struct {
		fault Fault
		check func([]byte) bool
	}{
		{FaultCorrupt, func(b []byte) bool { return len(b) == len(frame) && b[len(b)-1] == frame[len(frame)-1]^0xFF }},
		{FaultSilent, func(b []byte) bool { return len(b) == 0 }},
		{FaultReject, func(b []byte) bool { return bytes.Equal(b, []byte{0x15, 0xEA}) }},
		{FaultTruncate, func(b []byte) bool { return bytes.Equal(b, frame[:len(frame)-1]) }},
		{FaultWrongPage, func(b []byte) bool { return b[1] == 0x11 }},
		{FaultNoise, func(b []byte) bool { return b[0] == 0x00 && bytes.Equal(b[1:], frame) }},
		{FaultFlipPayloadBit, func(b []byte) bool {
			n := len(frame) - 2
			return len(b) == len(frame) && b[n] == frame[n]^0x01 &&
				bytes.Equal(b[:n], frame[:n]) && b[n+1] == frame[n+1]
		}},
	}
	for _, tt := range tests {
		t.Run(tt.fault.String(), func(t *testing.T) {
			d := New()
			d.Inject(0x10, tt.fault)
			d.Write([]byte{0x03, 0x40, 0x10, 0xAC})
			if got := readAll(t, d); !tt.check(got) {
				t.Errorf("unexpected answer % X", got)
			}

			// Faults apply once
			d.Write([]byte{0x03, 0x40, 0x10, 0xAC})
			if got := readAll(t, d); !bytes.Equal(got, frame) {
				t.Errorf("second answer % X", got)
			}
		})
	}
}

func TestDevice_ResetAndClose(t *testing.T) {
	d := New()
	d.Write([]byte{0x03, 0x40, 0x10, 0xAC})
	d.ResetInputBuffer()
	if got := readAll(t, d); len(got) != 0 {
		t.Errorf("reset left % X", got)
	}

	d.Close()
	if _, err := d.Read(make([]byte, 1)); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}
