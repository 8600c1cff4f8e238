// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package decoding

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/Thermoquad/thermaprobe/pkg/definition"
)

// ============================================================
// Test Helpers
// ============================================================

func entry(page byte, offset, convID, width int, c definition.Converter, label string) definition.Entry {
	return definition.Entry{
		Source:    definition.Page(page),
		Offset:    offset,
		ConvID:    convID,
		Width:     width,
		Converter: c,
		Label:     label,
	}
}

func mustTable(t *testing.T, entries ...definition.Entry) *definition.Table {
	t.Helper()
	table, err := definition.NewTable("test", entries)
	if err != nil {
		t.Fatalf("NewTable failed: %v", err)
	}
	return table
}

// Payloads of pages 0x61 and 0x62 captured while temperatures changed
var capturedFrames = Frames{
	definition.Page(0x61): {128, 0, 116, 1, 111, 1, 37, 1, 67, 1, 18, 2, 250, 0, 0, 0},
	definition.Page(0x62): {128, 0, 144, 94, 1, 210, 0, 16, 1, 253, 255, 0, 94, 0, 0, 0, 0},
	definition.Page(0x21): {5, 0, 0, 0, 39, 0, 0, 190, 0, 0, 0, 0, 0, 0, 0, 0},
}

// ============================================================
// Converter Tests
// ============================================================

func TestDecodeEntry_ScaledBigEndian(t *testing.T) {
	e := entry(0x61, 0, 106, 2, definition.Scaled(definition.BigEndian, true, 1, 10), "temp")
	v, err := DecodeEntry(e, []byte{0x01, 0x74})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Kind != ValueFloat || v.Float != 37.2 {
		t.Errorf("expected 37.2, got %v (%s)", v.Float, v.Kind)
	}
}

func TestDecodeEntry_Kinds(t *testing.T) {
	tests := []struct {
		name  string
		c     definition.Converter
		width int
		data  []byte
		want  interface{}
	}{
		{"unsigned be", definition.Unsigned(definition.BigEndian), 2, []byte{0x01, 0x02}, int64(0x0102)},
		{"unsigned le", definition.Unsigned(definition.LittleEndian), 2, []byte{0x01, 0x02}, int64(0x0201)},
		{"signed byte", definition.Signed(definition.BigEndian), 1, []byte{0xFE}, int64(-2)},
		{"signed word le", definition.Signed(definition.LittleEndian), 2, []byte{0xFD, 0xFF}, int64(-3)},
		{"scaled negative", definition.Scaled(definition.LittleEndian, true, 1, 10), 2, []byte{0xF6, 0xFF}, -1.0},
		{"scaled unsigned", definition.Scaled(definition.BigEndian, false, 1, 10), 1, []byte{0xFA}, 25.0},
		{"scaled /256", definition.Scaled(definition.BigEndian, true, 1, 256), 2, []byte{0x01, 0x80}, 1.5},
		{"bit set", definition.Bit(4), 1, []byte{0x90}, true},
		{"bit clear", definition.Bit(4), 1, []byte{0x80}, false},
		{"enum", definition.EnumList("Stop", "Run"), 1, []byte{0x01}, "Run"},
		{"enum unknown", definition.EnumList("Stop", "Run"), 1, []byte{0x07}, "unknown (7)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := entry(0x10, 0, 1, tt.width, tt.c, tt.name)
			v, err := DecodeEntry(e, tt.data)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := v.Interface(); got != tt.want {
				t.Errorf("expected %v (%T), got %v (%T)", tt.want, tt.want, got, got)
			}
		})
	}
}

func TestDecodeEntry_ConvIDs(t *testing.T) {
	tests := []struct {
		convID int
		width  int
		data   []byte
		want   interface{}
	}{
		{105, 1, []byte{60}, 6.0},
		{112, 2, []byte{0x00, 0x82}, 1.0},
		{200, 1, []byte{0}, "OFF"},
		{200, 1, []byte{3}, "ON"},
		{211, 1, []byte{0}, "OFF"},
		{211, 1, []byte{42}, int64(42)},
		{217, 1, []byte{2}, "Cooling"},
		{315, 1, []byte{0x50}, "Heating + DHW"},
		{316, 1, []byte{0x10}, "Hybrid"},
	}

	for _, tt := range tests {
		c, err := definition.ConverterFor(tt.convID, tt.width)
		if err != nil {
			t.Fatalf("%d: %v", tt.convID, err)
		}
		v, err := DecodeEntry(entry(0x10, 0, tt.convID, tt.width, c, ""), tt.data)
		if err != nil {
			t.Errorf("%d: unexpected error %v", tt.convID, err)
			continue
		}
		if got := v.Interface(); got != tt.want {
			t.Errorf("%d: expected %v, got %v", tt.convID, tt.want, got)
		}
	}
}

func TestDecodeEntry_NotAvailable(t *testing.T) {
	c, _ := definition.ConverterFor(107, 2)
	_, err := DecodeEntry(entry(0x10, 0, 107, 2, c, ""), []byte{0x00, 0x80})
	if !errors.Is(err, ErrNotAvailable) {
		t.Errorf("expected ErrNotAvailable, got %v", err)
	}
}

func TestDecodeEntry_UnknownKind(t *testing.T) {
	e := entry(0x10, 0, 1, 1, definition.Converter{Kind: definition.Kind(99)}, "bogus")
	_, err := DecodeEntry(e, []byte{0x01})
	if !errors.Is(err, ErrUnsupportedConverter) {
		t.Errorf("expected ErrUnsupportedConverter, got %v", err)
	}
}

// ============================================================
// Table Decode Tests
// ============================================================

func TestDecode_EndToEndEnum(t *testing.T) {
	table := mustTable(t, entry(0x10, 0, 217, 1, definition.Enum(map[int64]string{2: "HEATING"}), "Operation Mode"))
	raw := Frames{definition.Page(0x10): {0x02, 0x00, 0x00}}

	values, errs := Decode(raw, table)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	v, ok := values["10.0.217"]
	if !ok {
		t.Fatal("10.0.217 missing")
	}
	if v.Kind != ValueEnum || v.Text != "HEATING" || v.Int != 2 {
		t.Errorf("expected HEATING, got %+v", v)
	}
	if v.Source != definition.Page(0x10) || v.Offset != 0 || !reflect.DeepEqual(v.Raw, []byte{0x02}) {
		t.Errorf("source reference wrong: %+v", v)
	}
}

func TestDecode_CapturedPages(t *testing.T) {
	table, err := definition.Parse(`
{0x61,2,105,2,1,"R1T"},
{0x61,4,105,2,1,"R2T"},
{0x61,6,105,2,1,"R3T"},
{0x61,8,105,2,1,"R4T"},
{0x61,10,105,2,1,"R5T"},
{0x62,2,304,1,-1,"Powerful DHW"},
{0x62,7,304,1,-1,"Main RT Heating"},
{0x62,12,152,1,-1,"Water pump signal"},
{0x21,4,152,1,-1,"Voltage"},
`)
	if err != nil {
		t.Fatal(err)
	}

	values, errs := Decode(capturedFrames, table)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}

	want := map[string]interface{}{
		"61.2.105":  37.2,
		"61.4.105":  36.7,
		"61.6.105":  29.3,
		"61.8.105":  32.3,
		"61.10.105": 53.0,
		"62.2.304":  true,
		"62.7.304":  true,
		"62.12.152": int64(94),
		"21.4.152":  int64(39),
	}
	for key, w := range want {
		if got := values[key].Interface(); got != w {
			t.Errorf("%s: expected %v, got %v", key, w, got)
		}
	}
}

func TestDecode_Deterministic(t *testing.T) {
	table, _ := definition.Builtin()
	v1, e1 := Decode(capturedFrames, table)
	v2, e2 := Decode(capturedFrames, table)
	if !reflect.DeepEqual(v1, v2) {
		t.Error("values differ between identical calls")
	}
	if !reflect.DeepEqual(e1, e2) {
		t.Error("errors differ between identical calls")
	}
}

func TestDecode_PartialInput(t *testing.T) {
	table := mustTable(t,
		entry(0x10, 0, 217, 1, definition.EnumList("Fan Only", "Heating", "Cooling"), "mode"),
		entry(0x10, 1, 300, 1, definition.Bit(0), "flag"),
		entry(0x11, 0, 152, 1, definition.Unsigned(definition.BigEndian), "eeprom"),
		entry(0x11, 1, 152, 1, definition.Unsigned(definition.BigEndian), "eeprom 2"),
	)
	full := Frames{
		definition.Page(0x10): {0x01, 0x01},
		definition.Page(0x11): {0x02, 0x31},
	}
	partial := Frames{definition.Page(0x11): full[definition.Page(0x11)]}

	allValues, allErrs := Decode(full, table)
	if len(allErrs) != 0 {
		t.Fatalf("unexpected errors: %v", allErrs)
	}
	values, errs := Decode(partial, table)

	for key, v := range allValues {
		e, _ := table.Lookup(key)
		got, present := values[key]
		if e.Source == definition.Page(0x10) {
			if present {
				t.Errorf("%s should be absent without page 0x10", key)
			}
			continue
		}
		if !present || !reflect.DeepEqual(got, v) {
			t.Errorf("%s changed: %+v vs %+v", key, got, v)
		}
	}
	if len(values) != 2 {
		t.Errorf("expected 2 values, got %d", len(values))
	}

	if len(errs) != 2 {
		t.Fatalf("expected 2 unavailable entries, got %d", len(errs))
	}
	for _, err := range errs {
		if !errors.Is(err, ErrUnavailable) {
			t.Errorf("expected ErrUnavailable, got %v", err)
		}
		if err.Entry.Source != definition.Page(0x10) {
			t.Errorf("unexpected entry %s", err.Entry.Key())
		}
	}
}

func TestDecode_ShortWindowAndBadConverter(t *testing.T) {
	table := mustTable(t,
		entry(0x10, 0, 152, 1, definition.Unsigned(definition.BigEndian), "ok"),
		entry(0x10, 3, 152, 2, definition.Unsigned(definition.BigEndian), "past end"),
		entry(0x10, 1, 999, 1, definition.Converter{}, "zero kind"),
	)
	values, errs := Decode(Frames{definition.Page(0x10): {7, 8, 9, 10}}, table)

	if values["10.0.152"].Int != 7 {
		t.Errorf("expected 7, got %+v", values["10.0.152"])
	}
	if len(errs) != 2 {
		t.Fatalf("expected 2 errors, got %d", len(errs))
	}
	if !errors.Is(errs[0], ErrUnavailable) || errs[0].Entry.Label != "past end" {
		t.Errorf("first error should be the short window: %v", errs[0])
	}
	if !errors.Is(errs[1], ErrUnsupportedConverter) {
		t.Errorf("second error should be the converter: %v", errs[1])
	}
	if !strings.Contains(errs[1].Error(), "10.1.999") {
		t.Errorf("error should name the key: %v", errs[1])
	}
}

func TestDecodeSource_OnlyThatLocation(t *testing.T) {
	table, err := definition.Builtin()
	if err != nil {
		t.Fatal(err)
	}
	src := definition.Packet([]byte{0x40, 0x00, 0x10})
	payload := []byte{0x01, 0x00, 0x81, 0x01, 0x37, 0x00, 0x18, 0x00, 0x15, 0x00, 0x1A, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x40, 0x00, 0x00}

	values, errs := DecodeSource(src, payload, table)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(values) != 1 {
		t.Fatalf("expected 1 value, got %d", len(values))
	}
	if values["p400010.4.152"].Int != 55 {
		t.Errorf("expected DHW target 55, got %+v", values["p400010.4.152"])
	}
}

// ============================================================
// Formatter Tests
// ============================================================

func TestFormatValues_TableOrder(t *testing.T) {
	table := mustTable(t,
		entry(0x10, 1, 152, 1, definition.Unsigned(definition.BigEndian), "second"),
		entry(0x10, 0, 300, 1, definition.Bit(0), "first"),
	)
	values, _ := Decode(Frames{definition.Page(0x10): {0x01, 0x05}}, table)
	out := FormatValues(values, table)

	want := "  second: 5 [10.1.152]\n  first: ON [10.0.300]\n"
	if out != want {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestFormatFrame(t *testing.T) {
	data := make([]byte, 18)
	out := FormatFrame(definition.Page(0x61), data)
	if !strings.HasPrefix(out, "page 0x61 (18 bytes)\n") {
		t.Errorf("unexpected header: %q", out)
	}
	if !strings.Contains(out, "  0010  00 00\n") {
		t.Errorf("missing second row: %q", out)
	}
}
