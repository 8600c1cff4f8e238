// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package config

import (
	"fmt"
	"strings"

	"github.com/Thermoquad/thermaprobe/pkg/checksum"
	"github.com/Thermoquad/thermaprobe/pkg/p1p2"
	"github.com/rs/zerolog"
)

// Validate checks configuration correctness. It does not mutate c.
func (c *Config) Validate() error {
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil || c.Log.Level == "" {
		return fmt.Errorf("config: log.level %q is not a level", c.Log.Level)
	}
	if c.Log.Format != "console" && c.Log.Format != "json" {
		return fmt.Errorf("config: log.format must be console or json, got %q", c.Log.Format)
	}

	// ------------------------------------------------------------
	// SERIAL
	// ------------------------------------------------------------

	s := c.Serial
	if s.Baud <= 0 {
		return fmt.Errorf("config: serial.baud must be > 0")
	}
	if s.DataBits < 5 || s.DataBits > 8 {
		return fmt.Errorf("config: serial.data_bits must be 5-8, got %d", s.DataBits)
	}
	if _, err := s.Mode(); err != nil {
		return fmt.Errorf("config: serial: %w", err)
	}
	if s.Timeout <= 0 {
		return fmt.Errorf("config: serial.timeout must be > 0")
	}
	if s.Attempts < 1 {
		return fmt.Errorf("config: serial.attempts must be >= 1")
	}
	if s.Backoff < 0 {
		return fmt.Errorf("config: serial.backoff must be >= 0")
	}
	if s.MaxBackoff < s.Backoff {
		return fmt.Errorf("config: serial.max_backoff %v is below serial.backoff %v", s.MaxBackoff, s.Backoff)
	}
	if s.Interval <= 0 {
		return fmt.Errorf("config: serial.interval must be > 0")
	}
	if _, err := s.PageList(); err != nil {
		return fmt.Errorf("config: serial.%w", err)
	}
	if _, err := s.Protocol.Build(); err != nil {
		return fmt.Errorf("config: serial.protocol: %w", err)
	}

	// ------------------------------------------------------------
	// BUS
	// ------------------------------------------------------------

	b := c.Bus
	if b.Port != "" && b.URL != "" {
		return fmt.Errorf("config: bus.port and bus.url are mutually exclusive")
	}
	if b.Baud <= 0 {
		return fmt.Errorf("config: bus.baud must be > 0")
	}
	if b.Format != "raw" && b.Format != "monitor" {
		return fmt.Errorf("config: bus.format must be raw or monitor, got %q", b.Format)
	}
	alg, err := b.Algorithm()
	if err != nil {
		return fmt.Errorf("config: bus.checksum: %w, accepted: %s", err, strings.Join(ChecksumNames(), ", "))
	}
	types, err := b.Types()
	if err != nil {
		return fmt.Errorf("config: bus.%w", err)
	}
	for i, pt := range types {
		if pt.Name == "" {
			return fmt.Errorf("config: bus.packet_types[%d]: name is empty", i)
		}
	}
	if _, err := p1p2.NewFramer(types, alg); err != nil {
		return fmt.Errorf("config: bus.packet_types: %w", err)
	}

	// ------------------------------------------------------------
	// SINKS
	// ------------------------------------------------------------

	if c.Sinks.Buffer < 1 {
		return fmt.Errorf("config: sinks.buffer must be >= 1")
	}
	m := c.Sinks.MQTT
	if m.Broker != "" {
		if m.QoS < 0 || m.QoS > 2 {
			return fmt.Errorf("config: sinks.mqtt.qos must be 0, 1 or 2, got %d", m.QoS)
		}
		if m.Topic == "" {
			return fmt.Errorf("config: sinks.mqtt.topic is empty")
		}
		if m.Timeout <= 0 {
			return fmt.Errorf("config: sinks.mqtt.timeout must be > 0")
		}
	}

	return nil
}

// ChecksumNames lists the accepted checksum names, for error messages
func ChecksumNames() []string {
	names := make([]string, 0, 6)
	for alg := checksum.Sum; alg <= checksum.CRC16CCITT; alg++ {
		names = append(names, alg.String())
	}
	return names
}
