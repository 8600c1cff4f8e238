// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package definition

import "fmt"

// AnomalyType represents different kinds of suspicious table entries
type AnomalyType int

const (
	AnomalyByteOverlap AnomalyType = iota
	AnomalyBitOverlap
	AnomalyEmptyLabel
)

// ValidationError represents a table lint finding
type ValidationError struct {
	Type    AnomalyType
	Message string
	Details map[string]interface{}
}

// Error implements the error interface
func (v *ValidationError) Error() string {
	return v.Message
}

type bitClaim struct {
	source Source
	offset int
	bit    uint8
}

// Validate lints a table for entries that claim the same bits of one
// location and for unlabeled entries. Findings do not prevent decoding.
func Validate(t *Table) []ValidationError {
	errors := []ValidationError{}
	owner := make(map[bitClaim]int)
	reported := make(map[[2]int]bool)

	for i, e := range t.entries {
		if e.Label == "" {
			errors = append(errors, ValidationError{
				Type:    AnomalyEmptyLabel,
				Message: fmt.Sprintf("%s has no label", e.Key()),
				Details: map[string]interface{}{"key": e.Key()},
			})
		}

		for _, c := range claims(e) {
			j, taken := owner[c]
			if !taken {
				owner[c] = i
				continue
			}
			pair := [2]int{j, i}
			if reported[pair] {
				continue
			}
			reported[pair] = true

			other := t.entries[j]
			anomaly := AnomalyByteOverlap
			if e.Converter.Kind == KindBit && other.Converter.Kind == KindBit {
				anomaly = AnomalyBitOverlap
			}
			errors = append(errors, ValidationError{
				Type: anomaly,
				Message: fmt.Sprintf("%s (%s) overlaps %s (%s) at %s offset %d",
					e.Key(), e.Label, other.Key(), other.Label, c.source, c.offset),
				Details: map[string]interface{}{
					"first":  other.Key(),
					"second": e.Key(),
					"offset": c.offset,
					"bit":    c.bit,
				},
			})
		}
	}

	return errors
}

// claims lists every bit an entry reads
func claims(e Entry) []bitClaim {
	if e.Converter.Kind == KindBit {
		return []bitClaim{{e.Source, e.Offset, e.Converter.Bit}}
	}
	out := make([]bitClaim, 0, e.Width*8)
	for b := 0; b < e.Width; b++ {
		for bit := uint8(0); bit < 8; bit++ {
			out = append(out, bitClaim{e.Source, e.Offset + b, bit})
		}
	}
	return out
}
