// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/Thermoquad/thermaprobe/internal/metrics"
	"github.com/Thermoquad/thermaprobe/pkg/sink"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"golang.org/x/sync/errgroup"
)

// pipeline holds the record writers and metrics shared by the long-running
// commands
type pipeline struct {
	buffered *sink.Buffered
	metrics  *metrics.Metrics
	cbor     *os.File
	mqtt     mqtt.Client
}

// newPipeline builds the writers enabled in the config. Without any writer
// the pipeline has no sink.
func newPipeline() (*pipeline, error) {
	p := &pipeline{}
	var writers sink.MultiWriter

	if cfg.Sinks.Log {
		writers = append(writers, sink.NewLogWriter(logger))
	}

	if path := cfg.Sinks.CBOR.Path; path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open record file %s: %w", path, err)
		}
		p.cbor = f
		w, err := sink.NewCBORWriter(f)
		if err != nil {
			p.Close()
			return nil, err
		}
		writers = append(writers, w)
	}

	if cfg.Sinks.MQTT.Broker != "" {
		mc := cfg.Sinks.MQTT.Sink()
		client, err := sink.ConnectMQTT(mc, logger)
		if err != nil {
			p.Close()
			return nil, err
		}
		p.mqtt = client
		writers = append(writers, sink.NewMQTTWriter(client, mc))
	}

	if len(writers) > 0 {
		p.buffered = sink.NewBuffered(cfg.Sinks.Buffer, writers, logger)
	}

	if cfg.Metrics.Listen != "" {
		p.metrics = metrics.New()
		if p.buffered != nil {
			p.metrics.WatchSink(p.buffered)
		}
	}
	return p, nil
}

// Sink returns the record sink, nil when no writer is configured
func (p *pipeline) Sink() sink.Sink {
	if p.buffered == nil {
		return nil
	}
	return p.buffered
}

// Start runs the sink and the metrics server in g
func (p *pipeline) Start(ctx context.Context, g *errgroup.Group) {
	if p.buffered != nil {
		g.Go(func() error {
			return p.buffered.Run(ctx)
		})
	}
	if p.metrics != nil {
		g.Go(func() error {
			return p.metrics.Serve(ctx, cfg.Metrics.Listen, logger)
		})
	}
}

// Close releases the writers. Call after Start's goroutines returned.
func (p *pipeline) Close() {
	if p.buffered != nil {
		logger.Info().
			Uint64("written", p.buffered.Written()).
			Uint64("failed", p.buffered.Failed()).
			Uint64("dropped", p.buffered.Dropped()).
			Msg("sink closed")
	}
	if p.mqtt != nil {
		p.mqtt.Disconnect(250)
	}
	if p.cbor != nil {
		p.cbor.Close()
	}
}
