// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

// Publisher is the part of mqtt.Client the MQTT writer uses
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTConfig configures the broker connection and topics
type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string
	QoS      byte
	Retained bool
	Timeout  time.Duration
}

// ConnectMQTT connects to the broker. The client reconnects in the
// background after the first connection succeeds.
func ConnectMQTT(cfg MQTTConfig, logger zerolog.Logger) (mqtt.Client, error) {
	log := logger.With().Str("component", "mqtt").Logger()

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.Info().Str("broker", cfg.Broker).Msg("connected to MQTT broker")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn().Err(err).Msg("MQTT connection lost")
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(cfg.Timeout) {
		return nil, fmt.Errorf("mqtt connect to %s: timed out", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect to %s: %w", cfg.Broker, err)
	}
	return client, nil
}

// MQTTWriter publishes every value of a record on its own topic,
// <topic>/<channel>/<key>, and the location status on <topic>/<channel>/status
type MQTTWriter struct {
	client Publisher
	cfg    MQTTConfig
}

// NewMQTTWriter creates a writer publishing through client
func NewMQTTWriter(client Publisher, cfg MQTTConfig) *MQTTWriter {
	cfg.Topic = strings.TrimSuffix(cfg.Topic, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &MQTTWriter{client: client, cfg: cfg}
}

type mqttValue struct {
	Label     string      `json:"label"`
	Value     interface{} `json:"value"`
	Timestamp time.Time   `json:"timestamp"`
}

func (m *MQTTWriter) publish(topic string, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%s: %w", topic, err)
	}
	token := m.client.Publish(topic, m.cfg.QoS, m.cfg.Retained, payload)
	if !token.WaitTimeout(m.cfg.Timeout) {
		return fmt.Errorf("%s: publish timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%s: %w", topic, err)
	}
	return nil
}

// Write publishes r. It stops early when ctx is done.
func (m *MQTTWriter) Write(ctx context.Context, r Record) error {
	base := m.cfg.Topic + "/" + r.Channel

	keys := make([]string, 0, len(r.Values))
	for k := range r.Values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var errs []error
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		v := r.Values[key]
		if err := m.publish(base+"/"+key, mqttValue{Label: v.Label, Value: v.Interface(), Timestamp: r.Timestamp}); err != nil {
			errs = append(errs, err)
		}
	}
	if len(r.Status) > 0 {
		if err := m.publish(base+"/status", r.Status); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
