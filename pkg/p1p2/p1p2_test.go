// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package p1p2

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"strings"
	"testing"
	"testing/iotest"
	"time"

	"github.com/Thermoquad/thermaprobe/pkg/checksum"
	"github.com/Thermoquad/thermaprobe/pkg/definition"
	"github.com/Thermoquad/thermaprobe/pkg/sink"
	"github.com/rs/zerolog"
)

// ============================================================
// Test Helpers
// ============================================================

const capturedLine = "R 0.024: 400010010081013700180015001A000000000000400000 CRC=87"

func capturedFrame(t *testing.T) []byte {
	t.Helper()
	data, err := hex.DecodeString("400010010081013700180015001A000000000000400000")
	if err != nil {
		t.Fatal(err)
	}
	return append(data, 0x87)
}

func newTestFramer(t *testing.T) *Framer {
	t.Helper()
	f, err := NewFramer(DefaultPacketTypes(), checksum.CRC8P1P2)
	if err != nil {
		t.Fatalf("NewFramer: %v", err)
	}
	return f
}

func newTestListener(t *testing.T) *Listener {
	t.Helper()
	table, err := definition.Builtin()
	if err != nil {
		t.Fatal(err)
	}
	l, err := NewListener(table, Config{
		Types:    DefaultPacketTypes(),
		Checksum: checksum.CRC8P1P2,
		Logger:   zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("NewListener: %v", err)
	}
	return l
}

type sliceSink struct {
	records []sink.Record
}

func (s *sliceSink) Submit(r sink.Record) bool {
	s.records = append(s.records, r)
	return true
}

// ============================================================
// Framer Tests
// ============================================================

func TestFramer_CapturedPacket(t *testing.T) {
	f := newTestFramer(t)
	packets, errs := f.Feed(capturedFrame(t))
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(packets) != 1 {
		t.Fatalf("expected 1 packet, got %d", len(packets))
	}

	p := packets[0]
	if len(p.Payload()) != 20 {
		t.Errorf("expected 20 payload bytes, got %d", len(p.Payload()))
	}
	if p.Payload()[4] != 0x37 {
		t.Errorf("payload byte 4: expected 0x37, got 0x%02X", p.Payload()[4])
	}
	if !bytes.Equal(p.Checksum(), []byte{0x87}) {
		t.Errorf("checksum % X", p.Checksum())
	}
	if p.Source() != definition.Packet([]byte{0x40, 0x00, 0x10}) {
		t.Errorf("source %s", p.Source())
	}
	if !bytes.Equal(p.Raw(), capturedFrame(t)) {
		t.Errorf("raw % X", p.Raw())
	}
	if f.Buffered() != 0 {
		t.Errorf("%d bytes left buffered", f.Buffered())
	}
}

func TestFramer_ResyncAfterNoise(t *testing.T) {
	f := newTestFramer(t)
	frame := capturedFrame(t)

	var stream []byte
	stream = append(stream, frame...)
	stream = append(stream, 0x11, 0x22, 0x33, 0x44, 0x55)
	stream = append(stream, frame...)

	packets, errs := f.Feed(stream)
	if len(errs) != 0 {
		t.Errorf("unexpected errors: %v", errs)
	}
	if len(packets) != 2 {
		t.Fatalf("expected exactly 2 packets, got %d", len(packets))
	}
	if f.NoiseBytes() != 5 {
		t.Errorf("expected 5 noise bytes, got %d", f.NoiseBytes())
	}
}

func TestFramer_ChecksumFailureResync(t *testing.T) {
	f := newTestFramer(t)
	frame := capturedFrame(t)
	bad := append([]byte(nil), frame...)
	bad[len(bad)-1] ^= 0xFF

	packets, errs := f.Feed(append(bad, frame...))
	if len(packets) != 1 {
		t.Fatalf("expected 1 packet after resync, got %d", len(packets))
	}
	if len(errs) != 1 {
		t.Fatalf("expected 1 checksum error, got %d", len(errs))
	}
	var cerr *ChecksumError
	if !errors.As(errs[0], &cerr) {
		t.Fatalf("expected *ChecksumError, got %T", errs[0])
	}
	if cerr.Expected[0] != 0x87 {
		t.Errorf("expected CRC 0x87, got 0x%02X", cerr.Expected[0])
	}
}

func TestFramer_SplitFeed(t *testing.T) {
	f := newTestFramer(t)
	frame := capturedFrame(t)

	packets, _ := f.Feed(frame[:2])
	if len(packets) != 0 || f.Buffered() != 2 || f.NoiseBytes() != 0 {
		t.Fatalf("partial prefix should be retained: buffered %d, noise %d", f.Buffered(), f.NoiseBytes())
	}

	var got []*Packet
	for _, b := range frame[2:] {
		p, errs := f.Feed([]byte{b})
		if len(errs) != 0 {
			t.Fatalf("unexpected errors: %v", errs)
		}
		got = append(got, p...)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 packet, got %d", len(got))
	}
}

func TestFramer_LongestPrefix(t *testing.T) {
	f, err := NewFramer([]PacketType{
		{Name: "short", Prefix: []byte{0x40, 0x00}, PayloadLength: 1},
		{Name: "long", Prefix: []byte{0x40, 0x00, 0x10}, PayloadLength: 2},
	}, checksum.XOR)
	if err != nil {
		t.Fatal(err)
	}

	packets, errs := f.Feed(checksum.XOR.Append([]byte{0x40, 0x00, 0x10, 0xAA, 0xBB}))
	if len(errs) != 0 || len(packets) != 1 {
		t.Fatalf("expected 1 packet, got %d (%v)", len(packets), errs)
	}
	if packets[0].Type().Name != "long" {
		t.Errorf("expected long packet, got %s", packets[0].Type().Name)
	}
}

func overlappingFramer(t *testing.T) *Framer {
	t.Helper()
	f, err := NewFramer([]PacketType{
		{Name: "short", Prefix: []byte{0x40}, PayloadLength: 2},
		{Name: "long", Prefix: []byte{0x40, 0x00, 0x10}, PayloadLength: 20},
	}, checksum.CRC8P1P2)
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func TestFramer_ShorterPrefixAfterLongerFails(t *testing.T) {
	short := checksum.CRC8P1P2.Append([]byte{0x40, 0x00, 0x10})
	idle := bytes.Repeat([]byte{0xEE}, 30)

	t.Run("one feed", func(t *testing.T) {
		f := overlappingFramer(t)
		packets, errs := f.Feed(append(append([]byte(nil), short...), idle...))
		if len(errs) != 0 {
			t.Errorf("unexpected errors: %v", errs)
		}
		if len(packets) != 1 {
			t.Fatalf("expected 1 packet, got %d", len(packets))
		}
		if packets[0].Type().Name != "short" {
			t.Errorf("expected short packet, got %s", packets[0].Type().Name)
		}
		if !bytes.Equal(packets[0].Payload(), []byte{0x00, 0x10}) {
			t.Errorf("payload % X", packets[0].Payload())
		}
		if f.NoiseBytes() != 30 {
			t.Errorf("expected 30 noise bytes, got %d", f.NoiseBytes())
		}
	})

	t.Run("waits for the longer candidate", func(t *testing.T) {
		f := overlappingFramer(t)
		packets, errs := f.Feed(short)
		if len(packets) != 0 || len(errs) != 0 {
			t.Fatalf("expected nothing yet, got %d packets %v", len(packets), errs)
		}
		if f.Buffered() != len(short) {
			t.Fatalf("expected %d bytes buffered, got %d", len(short), f.Buffered())
		}

		packets, errs = f.Feed(idle)
		if len(errs) != 0 || len(packets) != 1 {
			t.Fatalf("expected 1 packet, got %d (%v)", len(packets), errs)
		}
		if packets[0].Type().Name != "short" {
			t.Errorf("expected short packet, got %s", packets[0].Type().Name)
		}
	})

	t.Run("all candidates fail", func(t *testing.T) {
		f := overlappingFramer(t)
		bad := append([]byte(nil), short...)
		bad[len(bad)-1] ^= 0x03

		packets, errs := f.Feed(append(bad, idle...))
		if len(packets) != 0 {
			t.Fatalf("expected no packets, got %d", len(packets))
		}
		if len(errs) != 1 {
			t.Fatalf("expected 1 checksum error, got %d", len(errs))
		}
		var cerr *ChecksumError
		if !errors.As(errs[0], &cerr) || cerr.Type != "long" {
			t.Errorf("expected long packet mismatch, got %v", errs[0])
		}
		if f.NoiseBytes() != 33 {
			t.Errorf("expected 33 noise bytes, got %d", f.NoiseBytes())
		}
	})
}

func TestNewFramer_Validation(t *testing.T) {
	tests := []struct {
		name  string
		types []PacketType
	}{
		{"none", nil},
		{"empty prefix", []PacketType{{Name: "x", PayloadLength: 1}}},
		{"long prefix", []PacketType{{Name: "x", Prefix: []byte{1, 2, 3, 4, 5}}}},
		{"negative length", []PacketType{{Name: "x", Prefix: []byte{1}, PayloadLength: -1}}},
		{"duplicate", []PacketType{{Name: "a", Prefix: []byte{1}}, {Name: "b", Prefix: []byte{1}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewFramer(tt.types, checksum.CRC8P1P2); err == nil {
				t.Error("expected error")
			}
		})
	}
}

// ============================================================
// Monitor Line Tests
// ============================================================

func TestParseMonitorLine(t *testing.T) {
	ml, err := ParseMonitorLine(capturedLine + "\r\n")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ml.Elapsed != 24*time.Millisecond {
		t.Errorf("elapsed %v", ml.Elapsed)
	}
	if ml.CRC != 0x87 || len(ml.Data) != 23 {
		t.Errorf("crc 0x%02X, %d data bytes", ml.CRC, len(ml.Data))
	}
	if !bytes.Equal(ml.Frame(), capturedFrame(t)) {
		t.Errorf("frame % X", ml.Frame())
	}
}

func TestParseMonitorLine_Ignored(t *testing.T) {
	for _, line := range []string{`J {"temp":55}`, "* started", ""} {
		if _, err := ParseMonitorLine(line); !errors.Is(err, ErrIgnoredLine) {
			t.Errorf("%q: expected ErrIgnoredLine, got %v", line, err)
		}
	}
	if _, err := ParseMonitorLine("R 0.1: XYZ CRC=00"); err == nil || errors.Is(err, ErrIgnoredLine) {
		t.Errorf("malformed read line: got %v", err)
	}
}

// ============================================================
// Listener Tests
// ============================================================

func TestListener_ResetDropsPartialFrame(t *testing.T) {
	frame := capturedFrame(t)
	var rejected int
	table, err := definition.Builtin()
	if err != nil {
		t.Fatal(err)
	}
	l, err := NewListener(table, Config{
		Types:    DefaultPacketTypes(),
		Checksum: checksum.CRC8P1P2,
		Logger:   zerolog.Nop(),
		OnError:  func(error) { rejected++ },
	})
	if err != nil {
		t.Fatal(err)
	}

	if records := l.Handle(frame[:10]); len(records) != 0 {
		t.Fatalf("partial frame produced %d records", len(records))
	}
	l.Reset()
	if records := l.Handle(frame); len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if rejected != 0 {
		t.Errorf("stale bytes produced %d rejected frames", rejected)
	}
}

func TestListener_HandleLine(t *testing.T) {
	l := newTestListener(t)

	records, err := l.HandleLine(capturedLine)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}

	rec := records[0]
	if rec.Channel != sink.ChannelBus {
		t.Errorf("channel %q", rec.Channel)
	}
	if got := rec.Values["p400010.4.152"].Interface(); got != int64(55) {
		t.Errorf("target DHW temperature: expected 55, got %v", got)
	}
	if rec.Status["packet 0x400010"] != "ok" {
		t.Errorf("status %v", rec.Status)
	}

	s := l.Statistics().Snapshot()
	if s.TotalPackets != 1 || s.ValidPackets != 1 || s.ByType["status"] != 1 {
		t.Errorf("statistics %+v", s)
	}
}

func TestListener_Run(t *testing.T) {
	l := newTestListener(t)
	frame := capturedFrame(t)

	var stream []byte
	stream = append(stream, 0x00, 0x01)
	stream = append(stream, frame...)
	stream = append(stream, frame[:5]...)
	stream[len(stream)-1] ^= 0x01
	stream = append(stream, frame...)

	out := &sliceSink{}
	r := iotest.OneByteReader(bytes.NewReader(stream))
	if err := l.Run(context.Background(), r, out); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(out.records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(out.records))
	}
	if s := l.Statistics().Snapshot(); s.NoiseBytes == 0 {
		t.Error("noise bytes not counted")
	}
}

func TestListener_RunLines(t *testing.T) {
	l := newTestListener(t)
	input := strings.Join([]string{
		`J {"mode":1}`,
		capturedLine,
		"R 0.5: ZZ CRC=00",
		capturedLine,
	}, "\n")

	out := &sliceSink{}
	if err := l.RunLines(context.Background(), strings.NewReader(input), out); err != nil {
		t.Fatal(err)
	}
	if len(out.records) != 2 {
		t.Errorf("expected 2 records, got %d", len(out.records))
	}
}

func TestListener_ReadError(t *testing.T) {
	l := newTestListener(t)
	boom := errors.New("bridge gone")
	err := l.Run(context.Background(), iotest.ErrReader(boom), &sliceSink{})
	if !errors.Is(err, boom) {
		t.Errorf("expected read error, got %v", err)
	}
}

func TestListener_Cancelled(t *testing.T) {
	l := newTestListener(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := &sliceSink{}
	if err := l.Run(ctx, bytes.NewReader(capturedFrame(t)), out); err != nil {
		t.Fatal(err)
	}
	if len(out.records) != 0 {
		t.Errorf("expected no records after cancel, got %d", len(out.records))
	}
}

func TestStatistics_String(t *testing.T) {
	st := NewStatistics()
	st.ChecksumError()
	st.AddNoise(3)
	out := st.String()
	for _, want := range []string{"Total Packets:", "CRC Errors:", "Noise Bytes:"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
	st.Reset()
	if s := st.Snapshot(); s.TotalPackets != 0 || s.NoiseBytes != 0 {
		t.Errorf("reset left %+v", s)
	}
}
