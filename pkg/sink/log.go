// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sink

import (
	"context"

	"github.com/rs/zerolog"
)

// LogWriter writes each record as one structured log event
type LogWriter struct {
	logger zerolog.Logger
}

// NewLogWriter creates a writer logging at info level
func NewLogWriter(logger zerolog.Logger) *LogWriter {
	return &LogWriter{logger: logger.With().Str("component", "record").Logger()}
}

// Write logs r
func (l *LogWriter) Write(_ context.Context, r Record) error {
	values := zerolog.Dict()
	for key, v := range r.Values {
		values = values.Interface(key, v.Interface())
	}
	event := l.logger.Info().
		Time("captured", r.Timestamp).
		Str("channel", r.Channel).
		Dict("values", values)
	if len(r.Status) > 0 {
		status := zerolog.Dict()
		for loc, s := range r.Status {
			status = status.Str(loc, s)
		}
		event = event.Dict("status", status)
	}
	event.Msg("record")
	return nil
}
