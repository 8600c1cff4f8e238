// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// StoredValue is one decoded value as written to a CBOR stream
type StoredValue struct {
	Label string      `cbor:"1,keyasint"`
	Kind  string      `cbor:"2,keyasint"`
	Value interface{} `cbor:"3,keyasint"`
}

// StoredRecord is the CBOR form of a Record. Streams are a plain sequence
// of these, one per record.
type StoredRecord struct {
	Timestamp time.Time              `cbor:"1,keyasint"`
	Channel   string                 `cbor:"2,keyasint"`
	Raw       map[string][]byte      `cbor:"3,keyasint,omitempty"`
	Values    map[string]StoredValue `cbor:"4,keyasint"`
	Status    map[string]string      `cbor:"5,keyasint,omitempty"`
}

func storedRecord(r Record) StoredRecord {
	s := StoredRecord{
		Timestamp: r.Timestamp,
		Channel:   r.Channel,
		Raw:       r.Raw,
		Values:    make(map[string]StoredValue, len(r.Values)),
		Status:    r.Status,
	}
	for key, v := range r.Values {
		s.Values[key] = StoredValue{Label: v.Label, Kind: v.Kind.String(), Value: v.Interface()}
	}
	return s
}

// CBORWriter appends records to a CBOR sequence
type CBORWriter struct {
	mu  sync.Mutex
	enc *cbor.Encoder
}

// NewCBORWriter creates a writer encoding to w
func NewCBORWriter(w io.Writer) (*CBORWriter, error) {
	em, err := cbor.EncOptions{
		Sort: cbor.SortCanonical,
		Time: cbor.TimeRFC3339Nano,
	}.EncMode()
	if err != nil {
		return nil, fmt.Errorf("cbor encode mode: %w", err)
	}
	return &CBORWriter{enc: em.NewEncoder(w)}, nil
}

// Write encodes r
func (c *CBORWriter) Write(_ context.Context, r Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enc.Encode(storedRecord(r)); err != nil {
		return fmt.Errorf("cbor encode: %w", err)
	}
	return nil
}

// ReadCBOR decodes a CBOR record stream, calling fn for each record
func ReadCBOR(r io.Reader, fn func(StoredRecord) error) error {
	dec := cbor.NewDecoder(r)
	for {
		var rec StoredRecord
		if err := dec.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("cbor decode: %w", err)
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
}

// Keys returns the record's value keys in sorted order
func (s StoredRecord) Keys() []string {
	keys := make([]string, 0, len(s.Values))
	for k := range s.Values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
