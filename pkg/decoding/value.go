// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package decoding

import (
	"fmt"
	"strconv"

	"github.com/Thermoquad/thermaprobe/pkg/definition"
)

// ValueKind is the closed set of decoded value types
type ValueKind int

const (
	ValueBool ValueKind = iota + 1
	ValueInt
	ValueFloat
	ValueEnum
)

func (k ValueKind) String() string {
	switch k {
	case ValueBool:
		return "bool"
	case ValueInt:
		return "int"
	case ValueFloat:
		return "float"
	case ValueEnum:
		return "enum"
	default:
		return fmt.Sprintf("ValueKind(%d)", int(k))
	}
}

// Value is one decoded attribute. Only the field matching Kind is set,
// except enums which carry both the code (Int) and its label (Text).
type Value struct {
	Key   string
	Label string
	Kind  ValueKind

	Bool  bool
	Int   int64
	Float float64
	Text  string

	// Where the value came from
	Source definition.Source
	Offset int
	Raw    []byte
}

// Values maps decoder keys to decoded values
type Values map[string]Value

// Interface returns the value as a plain Go value: bool, int64, float64 or
// string
func (v Value) Interface() interface{} {
	switch v.Kind {
	case ValueBool:
		return v.Bool
	case ValueInt:
		return v.Int
	case ValueFloat:
		return v.Float
	case ValueEnum:
		return v.Text
	default:
		return nil
	}
}

// String renders the value without its label
func (v Value) String() string {
	switch v.Kind {
	case ValueBool:
		if v.Bool {
			return "ON"
		}
		return "OFF"
	case ValueInt:
		return strconv.FormatInt(v.Int, 10)
	case ValueFloat:
		return strconv.FormatFloat(v.Float, 'f', -1, 64)
	case ValueEnum:
		return v.Text
	default:
		return "?"
	}
}
