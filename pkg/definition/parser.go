// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package definition loads decode tables from ESPAltherma-style definition
// files.
//
// A data line has the form
//
//	{0x10,0,217,1,-1,"Operation Mode"},
//
// giving the location (hex), byte offset, converter id, data size, data
// type and label. ESPAltherma ships every data line commented out with a
// leading "//", and such lines are read as entries too. Keywords are
// case-insensitive:
//
//	MODEL <name>          device model the table describes
//	SOURCE SERIAL|BUS     location kind of the entries that follow
//
// Blank lines, "//" and "#" lines, /* */ blocks and the C scaffolding of
// the ESPAltherma headers are ignored.
package definition

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// DefinitionParseError reports a definition line that could not be used.
// No table is produced when it is returned.
type DefinitionParseError struct {
	Line int
	Text string
	Err  error
}

func (e *DefinitionParseError) Error() string {
	return fmt.Sprintf("definition line %d: %v: %q", e.Line, e.Err, e.Text)
}

func (e *DefinitionParseError) Unwrap() error {
	return e.Err
}

var entryPattern = regexp.MustCompile(
	`^(?://\s*)?\{\s*([^,{}]*?)\s*,\s*([^,]*?)\s*,\s*([^,]*?)\s*,\s*([^,]*?)\s*,\s*([^,]*?)\s*,\s*"([^"]*)"\s*\}\s*,?\s*(?://.*)?$`)

type parser struct {
	table          *Table
	source         SourceKind
	inBlockComment bool
}

// Parse builds a table from definition text
func Parse(text string) (*Table, error) {
	return ParseReader(strings.NewReader(text))
}

// LoadFile reads and parses a definition file
func LoadFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open definition file: %w", err)
	}
	defer f.Close()
	return ParseReader(f)
}

// ParseReader builds a table from definition text read from r
func ParseReader(r io.Reader) (*Table, error) {
	p := &parser{
		table: &Table{index: make(map[string]int)},
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := scanner.Text()
		if err := p.parseLine(strings.TrimSpace(raw)); err != nil {
			return nil, &DefinitionParseError{Line: lineNo, Text: raw, Err: err}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read definitions: %w", err)
	}
	if p.inBlockComment {
		return nil, &DefinitionParseError{Line: lineNo, Err: fmt.Errorf("unterminated block comment")}
	}
	return p.table, nil
}

func (p *parser) parseLine(line string) error {
	if p.inBlockComment {
		if i := strings.Index(line, "*/"); i >= 0 {
			p.inBlockComment = false
			return p.parseLine(strings.TrimSpace(line[i+2:]))
		}
		return nil
	}

	switch {
	case line == "":
		return nil
	case strings.HasPrefix(line, "/*"):
		if i := strings.Index(line[2:], "*/"); i >= 0 {
			return p.parseLine(strings.TrimSpace(line[i+4:]))
		}
		p.inBlockComment = true
		return nil
	}

	if m := entryPattern.FindStringSubmatch(line); m != nil {
		return p.parseEntry(m[1:])
	}

	switch {
	case strings.HasPrefix(line, "//"), strings.HasPrefix(line, "#"):
		return nil
	case line == "}" || line == "};":
		return nil
	}

	fields := strings.Fields(line)
	keyword := strings.ToLower(fields[0])
	args := strings.TrimSpace(line[len(fields[0]):])

	switch keyword {
	case "labeldef":
		return nil
	case "model":
		model := strings.Trim(args, `"`)
		if model == "" {
			return fmt.Errorf("model name missing")
		}
		p.table.model = model
		return nil
	case "source":
		switch strings.ToLower(args) {
		case "serial", "page":
			p.source = SourcePage
		case "bus", "packet":
			p.source = SourcePacket
		default:
			return fmt.Errorf("unknown source %q", args)
		}
		return nil
	}
	return fmt.Errorf("unrecognized directive %q", fields[0])
}

// parseEntry handles the six captured fields of a data line
func (p *parser) parseEntry(f []string) error {
	location, size, err := parseHex(f[0])
	if err != nil {
		return fmt.Errorf("location %q is not a hex number", f[0])
	}
	if p.source == SourcePage {
		if location > 0xFF {
			return fmt.Errorf("page 0x%X does not fit in a byte", location)
		}
		size = 1
	}
	if size > 4 {
		return fmt.Errorf("packet prefix %q longer than 4 bytes", f[0])
	}

	var nums [4]int
	for i, name := range []string{"offset", "converter id", "data size", "data type"} {
		n, err := strconv.Atoi(f[i+1])
		if err != nil {
			return fmt.Errorf("%s %q is not a number", name, f[i+1])
		}
		nums[i] = n
	}
	offset, convID, width, dataType := nums[0], nums[1], nums[2], nums[3]

	if IsUnsupported(convID) {
		p.table.skipped++
		return nil
	}

	conv, err := ConverterFor(convID, width)
	if err != nil {
		return err
	}

	_, err = p.table.add(Entry{
		Source:    Source{Kind: p.source, ID: location, Size: size},
		Offset:    offset,
		ConvID:    convID,
		Width:     width,
		DataType:  dataType,
		Converter: conv,
		Label:     f[5],
	})
	return err
}

// parseHex also returns the number of bytes the digits span, leading zeros
// included
func parseHex(s string) (uint32, int, error) {
	s = strings.TrimPrefix(strings.ToLower(s), "0x")
	v, err := strconv.ParseUint(s, 16, 32)
	return uint32(v), (len(s) + 1) / 2, err
}
