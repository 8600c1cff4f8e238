// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package decoding

import (
	"fmt"
	"strings"

	"github.com/Thermoquad/thermaprobe/pkg/definition"
)

// FormatValue formats a value as "label: value [key]"
func FormatValue(v Value) string {
	return fmt.Sprintf("%s: %s [%s]", v.Label, v.String(), v.Key)
}

// FormatValues formats values one per line in table order
func FormatValues(values Values, table *definition.Table) string {
	var b strings.Builder
	for _, e := range table.Entries() {
		v, ok := values[e.Key()]
		if !ok {
			continue
		}
		b.WriteString("  ")
		b.WriteString(FormatValue(v))
		b.WriteString("\n")
	}
	return b.String()
}

// FormatHex formats bytes as space-separated hex
func FormatHex(data []byte) string {
	return fmt.Sprintf("% X", data)
}

// FormatFrame formats a captured location as a hex dump, 16 bytes a row
func FormatFrame(src definition.Source, data []byte) string {
	result := fmt.Sprintf("%s (%d bytes)\n", src, len(data))
	for off := 0; off < len(data); off += 16 {
		end := off + 16
		if end > len(data) {
			end = len(data)
		}
		result += fmt.Sprintf("  %04X  %s\n", off, FormatHex(data[off:end]))
	}
	return result
}
