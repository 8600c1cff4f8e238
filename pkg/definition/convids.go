// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package definition

import (
	"errors"
	"fmt"
)

// ErrUnknownConverter is returned for a converter id with no known meaning
var ErrUnknownConverter = errors.New("unknown converter id")

// Operation mode labels shared by converter ids 201 and 217
var operationModes = []string{
	"Fan Only", "Heating", "Cooling", "Auto", "Ventilation", "Auto Cool",
	"Auto Heat", "Dry", "Aux.", "Cooling Storage", "Heating Storage",
	"UseStrdThrm(cl)1", "UseStrdThrm(cl)2", "UseStrdThrm(cl)3", "UseStrdThrm(cl)4",
	"UseStrdThrm(ht)1", "UseStrdThrm(ht)2", "UseStrdThrm(ht)3", "UseStrdThrm(ht)4",
}

var iuOperationModes = []string{
	"Stop", "Heating", "Cooling", "??", "DHW", "Heating + DHW", "Cooling + DHW",
}

var hybridModes = []string{"H/P only", "Hybrid", "Boiler only"}

var errorTypes = []string{"Normal", "Error", "Warning", "Caution"}

// Converter ids the definition format declares but gives no decoding for.
// Entries using them are skipped.
var unsupportedConvIDs = map[int]bool{
	100: true, // text
	204: true, // nibble-swapped error code
	214: true, 215: true, 219: true,
	310: true, 311: true,
	405: true, 801: true,
	995: true, 996: true, 998: true,
}

// IsUnsupported reports whether entries with this converter id are skipped
func IsUnsupported(convID int) bool {
	return unsupportedConvIDs[convID]
}

type scaledID struct {
	order  ByteOrder
	signed bool
	num    int64
	den    int64
	offset float64
	na     bool
}

// Fixed-point converter ids, all word-sized
var scaledConvIDs = map[int]scaledID{
	103: {LittleEndian, true, 1, 256, 0, false},
	104: {BigEndian, true, 1, 256, 0, false},
	107: {LittleEndian, true, 1, 10, 0, true},
	108: {BigEndian, true, 1, 10, 0, true},
	109: {LittleEndian, true, 1, 128, 0, false},
	110: {BigEndian, true, 1, 128, 0, false},
	111: {BigEndian, true, 1, 2, 0, false},
	112: {BigEndian, true, 1, 2, -64, false},
	113: {BigEndian, true, 1, 4, 0, false},
	114: {LittleEndian, true, 1, 256, 0, true},
	115: {LittleEndian, true, 1, 2560, 0, false},
	116: {BigEndian, true, 1, 2560, 0, false},
	117: {LittleEndian, true, 1, 100, 0, false},
	118: {BigEndian, true, 1, 100, 0, false},
	119: {LittleEndian, false, 1, 256, 0, true},
	153: {LittleEndian, false, 1, 256, 0, false},
	154: {BigEndian, false, 1, 256, 0, false},
	155: {LittleEndian, false, 1, 10, 0, false},
	156: {BigEndian, false, 1, 10, 0, false},
	157: {LittleEndian, false, 1, 128, 0, false},
	158: {BigEndian, false, 1, 128, 0, false},
}

// ConverterFor resolves a converter id and data size into a Converter
func ConverterFor(convID, width int) (Converter, error) {
	byteOrWord := func(c Converter) (Converter, error) {
		if width != 1 && width != 2 {
			return Converter{}, fmt.Errorf("converter %d needs 1 or 2 bytes, got %d", convID, width)
		}
		return c, nil
	}
	word := func(c Converter) (Converter, error) {
		if width != 2 {
			return Converter{}, fmt.Errorf("converter %d needs 2 bytes, got %d", convID, width)
		}
		return c, nil
	}
	single := func(c Converter) (Converter, error) {
		if width != 1 {
			return Converter{}, fmt.Errorf("converter %d needs 1 byte, got %d", convID, width)
		}
		return c, nil
	}

	if s, ok := scaledConvIDs[convID]; ok {
		c := Scaled(s.order, s.signed, s.num, s.den)
		c.Offset = s.offset
		c.NotAvailable = s.na
		return word(c)
	}

	switch {
	case convID == 101:
		return byteOrWord(Signed(LittleEndian))
	case convID == 102:
		return byteOrWord(Signed(BigEndian))
	case convID == 105:
		return byteOrWord(Scaled(LittleEndian, true, 1, 10))
	case convID == 106:
		return byteOrWord(Scaled(BigEndian, true, 1, 10))
	case convID == 151:
		return byteOrWord(Unsigned(LittleEndian))
	case convID == 152:
		return byteOrWord(Unsigned(BigEndian))
	case convID == 200:
		c := Enum(map[int64]string{0: "OFF"})
		c.Fallback = "ON"
		return single(c)
	case convID == 201, convID == 217:
		return single(EnumList(operationModes...))
	case convID == 203:
		return single(EnumList(errorTypes...))
	case convID == 211:
		c := Enum(map[int64]string{0: "OFF"})
		c.Passthrough = true
		return single(c)
	case convID >= 300 && convID <= 307:
		return single(Bit(uint8(convID - 300)))
	case convID == 315:
		c := EnumList(iuOperationModes...)
		c.Shift = 4
		return single(c)
	case convID == 316:
		c := EnumList(hybridModes...)
		c.Shift = 4
		return single(c)
	}
	return Converter{}, fmt.Errorf("%w %d", ErrUnknownConverter, convID)
}
