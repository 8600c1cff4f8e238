// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package config

import "strings"

// Normalize canonicalizes names and fills values left empty by the file.
// It must be called before Validate.
func (c *Config) Normalize() {
	if c == nil {
		return
	}
	def := Default()

	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = def.Log.Format
	}

	c.Serial.Parity = strings.ToLower(strings.TrimSpace(c.Serial.Parity))
	if c.Serial.Parity == "" {
		c.Serial.Parity = "none"
	}
	if c.Serial.DataBits == 0 {
		c.Serial.DataBits = 8
	}
	if c.Serial.StopBits == 0 {
		c.Serial.StopBits = 1
	}
	if c.Serial.MaxBackoff == 0 {
		c.Serial.MaxBackoff = c.Serial.Backoff
	}
	c.Serial.Protocol.Checksum = strings.ToLower(strings.TrimSpace(c.Serial.Protocol.Checksum))

	c.Bus.Format = strings.ToLower(strings.TrimSpace(c.Bus.Format))
	if c.Bus.Format == "" {
		c.Bus.Format = def.Bus.Format
	}
	c.Bus.Checksum = strings.ToLower(strings.TrimSpace(c.Bus.Checksum))
	if c.Bus.Checksum == "" {
		c.Bus.Checksum = def.Bus.Checksum
	}

	if c.Sinks.Buffer == 0 {
		c.Sinks.Buffer = def.Sinks.Buffer
	}
	c.Sinks.MQTT.Topic = strings.Trim(c.Sinks.MQTT.Topic, "/")
	if c.Sinks.MQTT.ClientID == "" {
		c.Sinks.MQTT.ClientID = def.Sinks.MQTT.ClientID
	}
	if c.Sinks.MQTT.Timeout == 0 {
		c.Sinks.MQTT.Timeout = def.Sinks.MQTT.Timeout
	}
}
