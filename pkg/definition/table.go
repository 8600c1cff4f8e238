// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package definition

import (
	"errors"
	"fmt"
	"sort"
)

// ErrDuplicateKey is returned when two different entries share a key
var ErrDuplicateKey = errors.New("duplicate decoder key")

// SourceKind distinguishes the two channels an entry can read from
type SourceKind int

const (
	// SourcePage is a register page on the serial port
	SourcePage SourceKind = iota
	// SourcePacket is a packet type on the P1/P2 bus
	SourcePacket
)

func (k SourceKind) String() string {
	if k == SourcePacket {
		return "packet"
	}
	return "page"
}

// Source is the location an entry's bytes come from. Size is the prefix
// length of a packet type, so 00 00 10 and 10 stay distinct.
type Source struct {
	Kind SourceKind
	ID   uint32
	Size int
}

// Page returns the source for a serial register page
func Page(page byte) Source {
	return Source{Kind: SourcePage, ID: uint32(page), Size: 1}
}

// Packet returns the source for a bus packet type identified by its prefix
func Packet(prefix []byte) Source {
	return Source{Kind: SourcePacket, ID: PacketID(prefix), Size: len(prefix)}
}

// PacketID packs up to four prefix bytes big-endian, so 40 00 10 is 0x400010
func PacketID(prefix []byte) uint32 {
	var id uint32
	for _, b := range prefix {
		id = id<<8 | uint32(b)
	}
	return id
}

func (s Source) String() string {
	if s.Kind == SourcePacket {
		return fmt.Sprintf("packet 0x%0*X", 2*s.Size, s.ID)
	}
	return fmt.Sprintf("page 0x%02X", s.ID)
}

// Entry maps a byte window of one source to a labeled value
type Entry struct {
	Source    Source
	Offset    int
	ConvID    int
	Width     int
	DataType  int
	Converter Converter
	Label     string
}

// Key returns the unique key of the entry: "10.0.217" for a serial page,
// "p400010.4.152" for a bus packet type
func (e Entry) Key() string {
	if e.Source.Kind == SourcePacket {
		return fmt.Sprintf("p%0*x.%d.%d", 2*e.Source.Size, e.Source.ID, e.Offset, e.ConvID)
	}
	return fmt.Sprintf("%02x.%d.%d", e.Source.ID, e.Offset, e.ConvID)
}

// BitIndex returns the bit read by a bit entry
func (e Entry) BitIndex() (uint8, bool) {
	if e.Converter.Kind != KindBit {
		return 0, false
	}
	return e.Converter.Bit, true
}

func (e Entry) same(o Entry) bool {
	return e.Source == o.Source && e.Offset == o.Offset && e.ConvID == o.ConvID &&
		e.Width == o.Width && e.DataType == o.DataType && e.Label == o.Label &&
		e.Converter.Equal(o.Converter)
}

// Table is an ordered, immutable decode table. It is safe for concurrent
// use once constructed.
type Table struct {
	model   string
	entries []Entry
	index   map[string]int
	skipped int
}

// NewTable builds a table from entries in order. An entry identical to an
// earlier one with the same key is dropped; any other repeated key fails
// with ErrDuplicateKey.
func NewTable(model string, entries []Entry) (*Table, error) {
	t := &Table{
		model:   model,
		entries: make([]Entry, 0, len(entries)),
		index:   make(map[string]int, len(entries)),
	}
	for _, e := range entries {
		if _, err := t.add(e); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// add appends e, reporting false when e collapsed into an identical entry
func (t *Table) add(e Entry) (bool, error) {
	if e.Width < 1 || e.Width > 8 {
		return false, fmt.Errorf("%s: width %d out of range 1-8", e.Key(), e.Width)
	}
	if e.Offset < 0 {
		return false, fmt.Errorf("%s: negative offset", e.Key())
	}
	key := e.Key()
	if i, ok := t.index[key]; ok {
		if t.entries[i].same(e) {
			return false, nil
		}
		return false, fmt.Errorf("%w %s: %q conflicts with %q", ErrDuplicateKey, key, e.Label, t.entries[i].Label)
	}
	t.index[key] = len(t.entries)
	t.entries = append(t.entries, e)
	return true, nil
}

// Model returns the device model name declared by the definition
func (t *Table) Model() string {
	return t.model
}

// Skipped returns how many entries were dropped for using an unsupported
// converter id
func (t *Table) Skipped() int {
	return t.skipped
}

// Len returns the number of entries
func (t *Table) Len() int {
	return len(t.entries)
}

// Entries returns a copy of the entries in insertion order
func (t *Table) Entries() []Entry {
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Lookup returns the entry with the given key
func (t *Table) Lookup(key string) (Entry, bool) {
	i, ok := t.index[key]
	if !ok {
		return Entry{}, false
	}
	return t.entries[i], true
}

// EntriesFor returns the entries reading from src, in insertion order
func (t *Table) EntriesFor(src Source) []Entry {
	var out []Entry
	for _, e := range t.entries {
		if e.Source == src {
			out = append(out, e)
		}
	}
	return out
}

// Locations returns the distinct sources of the given kind, ascending
func (t *Table) Locations(kind SourceKind) []Source {
	seen := make(map[Source]bool)
	var out []Source
	for _, e := range t.entries {
		if e.Source.Kind == kind && !seen[e.Source] {
			seen[e.Source] = true
			out = append(out, e.Source)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ID != out[j].ID {
			return out[i].ID < out[j].ID
		}
		return out[i].Size < out[j].Size
	})
	return out
}

// Channel returns a table restricted to entries of one source kind
func (t *Table) Channel(kind SourceKind) *Table {
	sub := &Table{model: t.model, index: make(map[string]int)}
	for _, e := range t.entries {
		if e.Source.Kind == kind {
			sub.index[e.Key()] = len(sub.entries)
			sub.entries = append(sub.entries, e)
		}
	}
	return sub
}
