// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package p1p2

import (
	"time"

	"github.com/Thermoquad/thermaprobe/pkg/definition"
)

// PacketType describes one bus packet layout: a fixed prefix (source,
// destination and type bytes) followed by a fixed-length payload
type PacketType struct {
	Name          string
	Prefix        []byte
	PayloadLength int
}

// ID returns the prefix packed into the definition table location id
func (t PacketType) ID() uint32 {
	return definition.PacketID(t.Prefix)
}

// DefaultPacketTypes returns the packet types observed on Altherma buses
func DefaultPacketTypes() []PacketType {
	return []PacketType{
		{Name: "status", Prefix: []byte{0x40, 0x00, 0x10}, PayloadLength: 20},
	}
}

// Packet represents one validated bus packet
type Packet struct {
	ptype     PacketType
	payload   []byte
	checksum  []byte
	timestamp time.Time
}

// Type returns the packet's type
func (p *Packet) Type() PacketType {
	return p.ptype
}

// Prefix returns the packet's prefix bytes
func (p *Packet) Prefix() []byte {
	return p.ptype.Prefix
}

// Payload returns the packet's payload bytes
func (p *Packet) Payload() []byte {
	return p.payload
}

// Checksum returns the packet's checksum trailer
func (p *Packet) Checksum() []byte {
	return p.checksum
}

// Timestamp returns the packet's decode timestamp
func (p *Packet) Timestamp() time.Time {
	return p.timestamp
}

// Source returns the definition table location of the packet
func (p *Packet) Source() definition.Source {
	return definition.Packet(p.ptype.Prefix)
}

// Raw returns the complete frame
func (p *Packet) Raw() []byte {
	raw := make([]byte, 0, len(p.ptype.Prefix)+len(p.payload)+len(p.checksum))
	raw = append(raw, p.ptype.Prefix...)
	raw = append(raw, p.payload...)
	return append(raw, p.checksum...)
}
