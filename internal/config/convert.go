// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package config

import (
	"fmt"
	"strings"

	"github.com/Thermoquad/thermaprobe/pkg/checksum"
	"github.com/Thermoquad/thermaprobe/pkg/p1p2"
	"github.com/Thermoquad/thermaprobe/pkg/serialproto"
	"github.com/Thermoquad/thermaprobe/pkg/sink"
	"go.bug.st/serial"
)

func toBytes(field string, values []int) ([]byte, error) {
	out := make([]byte, len(values))
	for i, v := range values {
		if v < 0 || v > 0xFF {
			return nil, fmt.Errorf("%s[%d]: %d is not a byte", field, i, v)
		}
		out[i] = byte(v)
	}
	return out, nil
}

func fromBytes(values []byte) []int {
	out := make([]int, len(values))
	for i, v := range values {
		out[i] = int(v)
	}
	return out
}

// protocolConfig is the inverse of Build
func protocolConfig(p serialproto.Protocol) ProtocolConfig {
	pc := ProtocolConfig{
		RequestPreamble:  fromBytes(p.RequestPreamble),
		ResponsePreamble: fromBytes(p.ResponsePreamble),
		Reject:           fromBytes(p.Reject),
		Checksum:         p.Checksum.String(),
		LengthField:      p.LengthField,
		LengthOverhead:   p.LengthOverhead,
	}
	if len(p.PayloadLengths) > 0 {
		pc.PayloadLengths = make(map[int]int, len(p.PayloadLengths))
		for page, n := range p.PayloadLengths {
			pc.PayloadLengths[int(page)] = n
		}
	}
	return pc
}

// Build converts the protocol constants
func (p ProtocolConfig) Build() (serialproto.Protocol, error) {
	var (
		proto serialproto.Protocol
		err   error
	)
	if proto.RequestPreamble, err = toBytes("request_preamble", p.RequestPreamble); err != nil {
		return proto, err
	}
	if proto.ResponsePreamble, err = toBytes("response_preamble", p.ResponsePreamble); err != nil {
		return proto, err
	}
	if proto.Reject, err = toBytes("reject", p.Reject); err != nil {
		return proto, err
	}
	if proto.Checksum, err = checksum.Parse(p.Checksum); err != nil {
		return proto, fmt.Errorf("%w, accepted: %s", err, strings.Join(ChecksumNames(), ", "))
	}
	proto.LengthField = p.LengthField
	proto.LengthOverhead = p.LengthOverhead

	if len(p.PayloadLengths) > 0 {
		proto.PayloadLengths = make(map[byte]int, len(p.PayloadLengths))
		for page, n := range p.PayloadLengths {
			if page < 0 || page > 0xFF {
				return proto, fmt.Errorf("payload_lengths: page %d is not a byte", page)
			}
			proto.PayloadLengths[byte(page)] = n
		}
	}
	return proto, proto.Validate()
}

// PageList returns the configured pages
func (s SerialConfig) PageList() ([]byte, error) {
	return toBytes("pages", s.Pages)
}

// Mode returns the port settings for go.bug.st/serial
func (s SerialConfig) Mode() (*serial.Mode, error) {
	mode := &serial.Mode{BaudRate: s.Baud, DataBits: s.DataBits}

	switch s.Parity {
	case "none":
		mode.Parity = serial.NoParity
	case "even":
		mode.Parity = serial.EvenParity
	case "odd":
		mode.Parity = serial.OddParity
	default:
		return nil, fmt.Errorf("unknown parity %q", s.Parity)
	}

	switch s.StopBits {
	case 1:
		mode.StopBits = serial.OneStopBit
	case 2:
		mode.StopBits = serial.TwoStopBits
	default:
		return nil, fmt.Errorf("unsupported stop bits %d", s.StopBits)
	}
	return mode, nil
}

// PollConfig assembles the poll engine settings, logger and hooks aside
func (s SerialConfig) PollConfig() (serialproto.Config, error) {
	proto, err := s.Protocol.Build()
	if err != nil {
		return serialproto.Config{}, err
	}
	pages, err := s.PageList()
	if err != nil {
		return serialproto.Config{}, err
	}
	return serialproto.Config{
		Protocol:   proto,
		Pages:      pages,
		Timeout:    s.Timeout,
		Attempts:   s.Attempts,
		Backoff:    s.Backoff,
		MaxBackoff: s.MaxBackoff,
		Interval:   s.Interval,
	}, nil
}

// Algorithm returns the bus checksum algorithm
func (b BusConfig) Algorithm() (checksum.Algorithm, error) {
	return checksum.Parse(b.Checksum)
}

// Types converts the packet types
func (b BusConfig) Types() ([]p1p2.PacketType, error) {
	types := make([]p1p2.PacketType, 0, len(b.PacketTypes))
	for i, pt := range b.PacketTypes {
		prefix, err := toBytes(fmt.Sprintf("packet_types[%d].prefix", i), pt.Prefix)
		if err != nil {
			return nil, err
		}
		types = append(types, p1p2.PacketType{Name: pt.Name, Prefix: prefix, PayloadLength: pt.PayloadLength})
	}
	return types, nil
}

// Sink converts the MQTT settings
func (m MQTTConfig) Sink() sink.MQTTConfig {
	return sink.MQTTConfig{
		Broker:   m.Broker,
		ClientID: m.ClientID,
		Username: m.Username,
		Password: m.Password,
		Topic:    m.Topic,
		QoS:      byte(m.QoS),
		Retained: m.Retained,
		Timeout:  m.Timeout,
	}
}
