// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package definition

import "fmt"

// Kind is the closed set of converter variants
type Kind int

const (
	KindUnsigned Kind = iota + 1
	KindSigned
	KindScaled
	KindBit
	KindEnum
)

// String returns the name of the converter kind
func (k Kind) String() string {
	switch k {
	case KindUnsigned:
		return "unsigned"
	case KindSigned:
		return "signed"
	case KindScaled:
		return "scaled"
	case KindBit:
		return "bit"
	case KindEnum:
		return "enum"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// ByteOrder selects how multi-byte windows are assembled
type ByteOrder int

const (
	BigEndian ByteOrder = iota
	LittleEndian
)

func (o ByteOrder) String() string {
	if o == LittleEndian {
		return "le"
	}
	return "be"
}

// Converter describes how a byte window becomes a value. Only the fields
// relevant to Kind are used.
type Converter struct {
	Kind  Kind
	Order ByteOrder

	// Scaled: value = raw * Num / Den + Offset, raw signed when Signed is set.
	// NotAvailable treats the most negative raw value of the width as N/A.
	Signed       bool
	Num          int64
	Den          int64
	Offset       float64
	NotAvailable bool

	// Bit index within the first byte of the window
	Bit uint8

	// Enum: code = raw >> Shift, looked up in Labels. Unknown codes decode
	// as Fallback when set, as the integer when Passthrough is set, and as
	// "unknown (N)" otherwise.
	Shift       uint8
	Labels      map[int64]string
	Fallback    string
	Passthrough bool
}

// Unsigned returns a raw unsigned integer converter
func Unsigned(order ByteOrder) Converter {
	return Converter{Kind: KindUnsigned, Order: order}
}

// Signed returns a two's-complement integer converter
func Signed(order ByteOrder) Converter {
	return Converter{Kind: KindSigned, Order: order}
}

// Scaled returns a fixed-point converter multiplying by num/den
func Scaled(order ByteOrder, signed bool, num, den int64) Converter {
	return Converter{Kind: KindScaled, Order: order, Signed: signed, Num: num, Den: den}
}

// Bit returns a single-bit boolean converter
func Bit(index uint8) Converter {
	return Converter{Kind: KindBit, Bit: index}
}

// Enum returns a lookup converter over labels
func Enum(labels map[int64]string) Converter {
	return Converter{Kind: KindEnum, Labels: labels}
}

// EnumList returns a lookup converter where code i maps to labels[i]
func EnumList(labels ...string) Converter {
	m := make(map[int64]string, len(labels))
	for i, l := range labels {
		m[int64(i)] = l
	}
	return Enum(m)
}

// Equal reports whether two converters have identical parameters
func (c Converter) Equal(o Converter) bool {
	if c.Kind != o.Kind || c.Order != o.Order || c.Signed != o.Signed ||
		c.Num != o.Num || c.Den != o.Den || c.Offset != o.Offset ||
		c.NotAvailable != o.NotAvailable || c.Bit != o.Bit || c.Shift != o.Shift ||
		c.Fallback != o.Fallback || c.Passthrough != o.Passthrough ||
		len(c.Labels) != len(o.Labels) {
		return false
	}
	for k, v := range c.Labels {
		if ov, ok := o.Labels[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// String returns a compact description, e.g. "scaled(le,signed,1/10)"
func (c Converter) String() string {
	switch c.Kind {
	case KindUnsigned, KindSigned:
		return fmt.Sprintf("%s(%s)", c.Kind, c.Order)
	case KindScaled:
		sign := "unsigned"
		if c.Signed {
			sign = "signed"
		}
		s := fmt.Sprintf("scaled(%s,%s,%d/%d", c.Order, sign, c.Num, c.Den)
		if c.Offset != 0 {
			s += fmt.Sprintf(",%+g", c.Offset)
		}
		if c.NotAvailable {
			s += ",na"
		}
		return s + ")"
	case KindBit:
		return fmt.Sprintf("bit(%d)", c.Bit)
	case KindEnum:
		return fmt.Sprintf("enum(%d labels)", len(c.Labels))
	default:
		return c.Kind.String()
	}
}
