// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package definition

import (
	_ "embed"
	"fmt"
)

//go:embed builtin/altherma_ehbh.def
var builtinEHBH string

// Builtin returns the table shipped for Altherma EHBH/X units. Its entries
// were confirmed against captures from a running unit.
func Builtin() (*Table, error) {
	t, err := Parse(builtinEHBH)
	if err != nil {
		return nil, fmt.Errorf("builtin definitions: %w", err)
	}
	return t, nil
}
