// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package simulator

// Response frames captured from an Altherma LT CA/CB 04-08kW unit. Pages the
// unit does not serve are answered with the reject sequence.
var capturedFrames = map[byte][]byte{
	0x00: {0x40, 0x00, 0x0F, 0x04, 0x01, 0x00, 0x01, 0x01, 0x01, 0x00, 0x02, 0x01, 0x01, 0x04, 0x39, 0x3C, 0x2B},
	0x10: {0x40, 0x10, 0x12, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x48, 0x03, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x52},
	0x11: {0x40, 0x11, 0x08, 0x02, 0x31, 0x95, 0x01, 0x02, 0x05, 0xD6},
	0x20: {0x40, 0x20, 0x13, 0xCD, 0x00, 0x00, 0x00, 0x18, 0x01, 0x00, 0x00, 0xBE, 0x00, 0x00, 0x00, 0xFF, 0x00, 0x83, 0x00, 0x01, 0x65},
	0x21: {0x40, 0x21, 0x12, 0x05, 0x00, 0x00, 0x00, 0x13, 0x00, 0x00, 0xBE, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0xB6},
	0x30: {0x40, 0x30, 0x0D, 0x00, 0x00, 0x00, 0xC2, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0xBF},
	0x60: {0x40, 0x60, 0x13, 0x80, 0x00, 0x40, 0x00, 0x00, 0x00, 0x47, 0x26, 0x02, 0xFA, 0x00, 0xA0, 0x00, 0x1B, 0xF2, 0x76, 0x00, 0x00},
	0x61: {0x40, 0x61, 0x12, 0x80, 0x00, 0x4E, 0x01, 0x0A, 0x01, 0x0B, 0x01, 0x11, 0x01, 0x12, 0x02, 0x04, 0x01, 0x00, 0x00, 0x3B},
	0x62: {0x40, 0x62, 0x13, 0x80, 0x00, 0x80, 0x5E, 0x01, 0xD2, 0x00, 0x00, 0x01, 0xFD, 0xFF, 0x00, 0x64, 0x00, 0x00, 0x00, 0x00, 0xB8},
	0x63: {0x40, 0x63, 0x0A, 0x80, 0x00, 0x01, 0x70, 0x64, 0x32, 0x15, 0x01, 0xB5},
	0x64: {0x40, 0x64, 0x0E, 0x80, 0x00, 0x02, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0xCB},
}

// Captured returns a copy of the captured response frames keyed by page
func Captured() map[byte][]byte {
	out := make(map[byte][]byte, len(capturedFrames))
	for page, frame := range capturedFrames {
		out[page] = append([]byte(nil), frame...)
	}
	return out
}
