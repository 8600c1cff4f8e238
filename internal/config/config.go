// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads the thermaprobe YAML configuration.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/Thermoquad/thermaprobe/pkg/serialproto"
	"gopkg.in/yaml.v3"
)

type Config struct {
	// Definitions is a definition file path. Empty selects the built-in
	// table.
	Definitions string        `yaml:"definitions"`
	Log         LogConfig     `yaml:"log"`
	Serial      SerialConfig  `yaml:"serial"`
	Bus         BusConfig     `yaml:"bus"`
	Sinks       SinksConfig   `yaml:"sinks"`
	Metrics     MetricsConfig `yaml:"metrics"`
}

// ---- LOG ----

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console | json
}

// ---- SERIAL (active channel) ----

type SerialConfig struct {
	Port     string `yaml:"port"`
	Baud     int    `yaml:"baud"`
	DataBits int    `yaml:"data_bits"`
	Parity   string `yaml:"parity"` // none | even | odd
	StopBits int    `yaml:"stop_bits"`

	Timeout    time.Duration `yaml:"timeout"`
	Attempts   int           `yaml:"attempts"`
	Backoff    time.Duration `yaml:"backoff"`
	MaxBackoff time.Duration `yaml:"max_backoff"`
	Interval   time.Duration `yaml:"interval"`

	// Pages to poll; empty polls every page of the definitions
	Pages []int `yaml:"pages"`

	Protocol ProtocolConfig `yaml:"protocol"`
}

type ProtocolConfig struct {
	RequestPreamble  []int       `yaml:"request_preamble"`
	ResponsePreamble []int       `yaml:"response_preamble"`
	Reject           []int       `yaml:"reject"`
	Checksum         string      `yaml:"checksum"`
	LengthField      bool        `yaml:"length_field"`
	LengthOverhead   int         `yaml:"length_overhead"`
	PayloadLengths   map[int]int `yaml:"payload_lengths"`
}

// ---- BUS (passive channel) ----

type BusConfig struct {
	Port   string `yaml:"port"`
	Baud   int    `yaml:"baud"`
	URL    string `yaml:"url"`    // websocket bridge
	Format string `yaml:"format"` // raw | monitor

	Checksum    string             `yaml:"checksum"`
	PacketTypes []PacketTypeConfig `yaml:"packet_types"`
}

type PacketTypeConfig struct {
	Name          string `yaml:"name"`
	Prefix        []int  `yaml:"prefix"`
	PayloadLength int    `yaml:"payload_length"`
}

// ---- SINKS ----

type SinksConfig struct {
	Buffer int        `yaml:"buffer"`
	Log    bool       `yaml:"log"`
	CBOR   CBORConfig `yaml:"cbor"`
	MQTT   MQTTConfig `yaml:"mqtt"`
}

type CBORConfig struct {
	Path string `yaml:"path"`
}

type MQTTConfig struct {
	Broker   string        `yaml:"broker"`
	ClientID string        `yaml:"client_id"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	Topic    string        `yaml:"topic"`
	QoS      int           `yaml:"qos"`
	Retained bool          `yaml:"retained"`
	Timeout  time.Duration `yaml:"timeout"`
}

// ---- METRICS ----

type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// Default returns the configuration for an Altherma unit on /dev/ttyUSB0
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info", Format: "console"},
		Serial: SerialConfig{
			Port:       "/dev/ttyUSB0",
			Baud:       9600,
			DataBits:   8,
			Parity:     "even",
			StopBits:   1,
			Timeout:    time.Second,
			Attempts:   3,
			Backoff:    100 * time.Millisecond,
			MaxBackoff: time.Second,
			Interval:   30 * time.Second,
			Protocol:   protocolConfig(serialproto.DaikinProtocol()),
		},
		Bus: BusConfig{
			Baud:     115200,
			Format:   "raw",
			Checksum: "crc8-p1p2",
			PacketTypes: []PacketTypeConfig{
				{Name: "status", Prefix: []int{0x40, 0x00, 0x10}, PayloadLength: 20},
			},
		},
		Sinks: SinksConfig{
			Buffer: 64,
			MQTT: MQTTConfig{
				ClientID: "thermaprobe",
				Topic:    "thermaprobe",
				Timeout:  5 * time.Second,
			},
		},
	}
}

// Load reads a YAML file over the defaults. Unknown keys are rejected.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return cfg, nil
}
