// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package serialproto

import (
	"time"

	"github.com/Thermoquad/thermaprobe/pkg/decoding"
	"github.com/Thermoquad/thermaprobe/pkg/definition"
	"github.com/Thermoquad/thermaprobe/pkg/sink"
)

// PageFrame is the payload of one page captured during a cycle
type PageFrame struct {
	Page     byte
	Data     []byte
	Captured time.Time
}

// PollResult aggregates one full poll cycle
type PollResult struct {
	Timestamp    time.Time
	Frames       map[byte]PageFrame
	Values       decoding.Values
	Status       map[byte]PageStatus
	Attempts     map[byte]int
	PageErrors   map[byte]error
	DecodeErrors []*decoding.DecodeError
}

func newPollResult(ts time.Time) *PollResult {
	return &PollResult{
		Timestamp:  ts,
		Frames:     make(map[byte]PageFrame),
		Values:     make(decoding.Values),
		Status:     make(map[byte]PageStatus),
		Attempts:   make(map[byte]int),
		PageErrors: make(map[byte]error),
	}
}

// RawFrames returns the captured payloads keyed for the decoder
func (r *PollResult) RawFrames() decoding.Frames {
	raw := make(decoding.Frames, len(r.Frames))
	for page, f := range r.Frames {
		raw[definition.Page(page)] = f.Data
	}
	return raw
}

// Record converts the result into a sink record
func (r *PollResult) Record() sink.Record {
	rec := sink.Record{
		Timestamp: r.Timestamp,
		Channel:   sink.ChannelSerial,
		Raw:       make(map[string][]byte, len(r.Frames)),
		Values:    r.Values,
		Status:    make(map[string]string, len(r.Status)),
	}
	for page, f := range r.Frames {
		rec.Raw[definition.Page(page).String()] = f.Data
	}
	for page, s := range r.Status {
		rec.Status[definition.Page(page).String()] = s.String()
	}
	return rec
}
