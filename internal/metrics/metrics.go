// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package metrics exports poll, bus and sink counters to Prometheus.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Thermoquad/thermaprobe/pkg/decoding"
	"github.com/Thermoquad/thermaprobe/pkg/p1p2"
	"github.com/Thermoquad/thermaprobe/pkg/serialproto"
	"github.com/Thermoquad/thermaprobe/pkg/sink"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const namespace = "thermaprobe"

// Metrics holds the collectors of one process
type Metrics struct {
	registry *prometheus.Registry

	cycles       prometheus.Counter
	exchanges    *prometheus.CounterVec
	pageStatus   *prometheus.CounterVec
	busPackets   *prometheus.CounterVec
	decodeErrors *prometheus.CounterVec
	values       *prometheus.GaugeVec
}

// New creates the collectors on a private registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_cycles_total",
			Help:      "Completed serial poll cycles.",
		}),
		exchanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "page_exchanges_total",
			Help:      "Serial request/response exchanges by page and result.",
		}, []string{"page", "result"}),
		pageStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "page_status_total",
			Help:      "Per-cycle page status.",
		}, []string{"page", "status"}),
		busPackets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_packets_total",
			Help:      "Bus frames by packet type and result.",
		}, []string{"type", "result"}),
		decodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_errors_total",
			Help:      "Entries that failed to decode, by channel and reason.",
		}, []string{"channel", "reason"}),
		values: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "value",
			Help:      "Latest numeric decoded value. Booleans are 0 or 1.",
		}, []string{"channel", "key", "label"}),
	}
	m.registry.MustRegister(m.cycles, m.exchanges, m.pageStatus, m.busPackets, m.decodeErrors, m.values)
	return m
}

// Registry returns the registry holding all collectors
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func pageLabel(page byte) string {
	return fmt.Sprintf("0x%02X", page)
}

func reason(err error) string {
	switch {
	case errors.Is(err, decoding.ErrUnavailable):
		return "unavailable"
	case errors.Is(err, decoding.ErrNotAvailable):
		return "not_available"
	case errors.Is(err, decoding.ErrUnsupportedConverter):
		return "unsupported"
	default:
		return "other"
	}
}

func (m *Metrics) setValues(channel string, values decoding.Values) {
	for key, v := range values {
		var f float64
		switch v.Kind {
		case decoding.ValueBool:
			if v.Bool {
				f = 1
			}
		case decoding.ValueInt:
			f = float64(v.Int)
		case decoding.ValueFloat:
			f = v.Float
		default:
			continue
		}
		m.values.WithLabelValues(channel, key, v.Label).Set(f)
	}
}

// Transition counts finished exchanges. It matches serialproto.Config.Transition.
func (m *Metrics) Transition(page byte, _, to serialproto.State) {
	switch to {
	case serialproto.StateAccepted:
		m.exchanges.WithLabelValues(pageLabel(page), "accepted").Inc()
	case serialproto.StateRejected:
		m.exchanges.WithLabelValues(pageLabel(page), "rejected").Inc()
	}
}

// ObservePoll records a completed cycle. It matches serialproto.Config.OnResult.
func (m *Metrics) ObservePoll(r *serialproto.PollResult) {
	m.cycles.Inc()
	for page, status := range r.Status {
		m.pageStatus.WithLabelValues(pageLabel(page), status.String()).Inc()
	}
	for _, err := range r.DecodeErrors {
		m.decodeErrors.WithLabelValues(sink.ChannelSerial, reason(err)).Inc()
	}
	m.setValues(sink.ChannelSerial, r.Values)
}

// ObservePacket records a validated bus packet. It matches p1p2.Config.OnPacket.
func (m *Metrics) ObservePacket(p *p1p2.Packet, values decoding.Values, errs []*decoding.DecodeError) {
	m.busPackets.WithLabelValues(p.Type().Name, "ok").Inc()
	for _, err := range errs {
		m.decodeErrors.WithLabelValues(sink.ChannelBus, reason(err)).Inc()
	}
	m.setValues(sink.ChannelBus, values)
}

// ObserveBusError records a rejected bus frame. It matches p1p2.Config.OnError.
func (m *Metrics) ObserveBusError(err error) {
	var cerr *p1p2.ChecksumError
	if errors.As(err, &cerr) {
		m.busPackets.WithLabelValues(cerr.Type, "checksum").Inc()
		return
	}
	m.busPackets.WithLabelValues("unknown", "error").Inc()
}

// WatchSink exports the counters of a buffered sink
func (m *Metrics) WatchSink(b *sink.Buffered) {
	m.registry.MustRegister(
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_records_dropped_total",
			Help:      "Records dropped on a full sink buffer.",
		}, func() float64 { return float64(b.Dropped()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_records_written_total",
			Help:      "Records written by the sink.",
		}, func() float64 { return float64(b.Written()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_records_failed_total",
			Help:      "Records the sink failed to write.",
		}, func() float64 { return float64(b.Failed()) }),
	)
}

// WatchBus exports the noise counter of a bus listener
func (m *Metrics) WatchBus(st *p1p2.Statistics) {
	m.registry.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bus_noise_bytes_total",
		Help:      "Bytes skipped while scanning for a packet prefix.",
	}, func() float64 { return float64(st.Snapshot().NoiseBytes) }))
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done
func (m *Metrics) Serve(ctx context.Context, addr string, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errc := make(chan error, 1)
	go func() {
		logger.Info().Str("listen", addr).Msg("serving metrics")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("metrics server shutdown: %w", err)
		}
		return nil
	}
}
