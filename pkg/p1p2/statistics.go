// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package p1p2

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Statistics tracks bus packet statistics and error rates. It is safe for
// concurrent use.
type Statistics struct {
	mu sync.Mutex
	s  Snapshot
}

// Snapshot is a point-in-time copy of the statistics
type Snapshot struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	TotalPackets   uint64
	ValidPackets   uint64
	PartialPackets uint64
	ChecksumErrors uint64
	NoiseBytes     uint64
	DecodeErrors   uint64
	ByType         map[string]uint64

	// Rates (calculated)
	PacketRate float64 // packets/sec
	ErrorRate  float64 // errors/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{s: Snapshot{
		StartTime:      now,
		LastUpdateTime: now,
		ByType:         make(map[string]uint64),
	}}
}

// Packet counts a validated packet and the entries that failed to decode
func (st *Statistics) Packet(p *Packet, decodeErrors int) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.s.TotalPackets++
	st.s.ByType[p.Type().Name]++
	if decodeErrors > 0 {
		st.s.PartialPackets++
		st.s.DecodeErrors += uint64(decodeErrors)
	} else {
		st.s.ValidPackets++
	}
	st.s.LastUpdateTime = time.Now()
}

// ChecksumError counts a rejected frame
func (st *Statistics) ChecksumError() {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.s.TotalPackets++
	st.s.ChecksumErrors++
	st.s.LastUpdateTime = time.Now()
}

// AddNoise counts bytes skipped while scanning for a prefix
func (st *Statistics) AddNoise(n uint64) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.s.NoiseBytes += n
}

// Snapshot returns a copy with rates calculated
func (st *Statistics) Snapshot() Snapshot {
	st.mu.Lock()
	defer st.mu.Unlock()

	out := st.s
	out.ByType = make(map[string]uint64, len(st.s.ByType))
	for k, v := range st.s.ByType {
		out.ByType[k] = v
	}
	elapsed := time.Since(out.StartTime).Seconds()
	if elapsed > 0 {
		out.PacketRate = float64(out.TotalPackets) / elapsed
		out.ErrorRate = float64(out.ChecksumErrors+out.PartialPackets) / elapsed
	}
	return out
}

// String returns a formatted statistics summary
func (st *Statistics) String() string {
	s := st.Snapshot()

	var validPercent, partialPercent, crcPercent float64
	if s.TotalPackets > 0 {
		validPercent = float64(s.ValidPackets) * 100.0 / float64(s.TotalPackets)
		partialPercent = float64(s.PartialPackets) * 100.0 / float64(s.TotalPackets)
		crcPercent = float64(s.ChecksumErrors) * 100.0 / float64(s.TotalPackets)
	}

	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Total Packets:   %8d\n", s.TotalPackets)
	result += fmt.Sprintf("Valid Packets:   %8d (%.1f%%)\n", s.ValidPackets, validPercent)

	if s.PartialPackets > 0 {
		result += fmt.Sprintf("Partial Decodes: %8d (%.1f%%)\n", s.PartialPackets, partialPercent)
		result += fmt.Sprintf("  Entry Errors:     %5d\n", s.DecodeErrors)
	}
	if s.ChecksumErrors > 0 {
		result += fmt.Sprintf("CRC Errors:      %8d (%.1f%%)\n", s.ChecksumErrors, crcPercent)
	}
	if s.NoiseBytes > 0 {
		result += fmt.Sprintf("Noise Bytes:     %8d\n", s.NoiseBytes)
	}

	names := make([]string, 0, len(s.ByType))
	for name := range s.ByType {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		result += fmt.Sprintf("  %-16s %5d\n", name+":", s.ByType[name])
	}

	result += fmt.Sprintf("Packet Rate:     %8.1f pkts/sec\n", s.PacketRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	result += "================================\n"

	return result
}

// Reset resets all statistics counters
func (st *Statistics) Reset() {
	now := time.Now()
	st.mu.Lock()
	defer st.mu.Unlock()
	st.s = Snapshot{
		StartTime:      now,
		LastUpdateTime: now,
		ByType:         make(map[string]uint64),
	}
}
