// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package p1p2

import (
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrIgnoredLine is returned for monitor output that carries no bus data,
// such as the JSON ("J ") lines
var ErrIgnoredLine = errors.New("p1p2: line carries no bus data")

var readLinePattern = regexp.MustCompile(`^R ([0-9.]+): ([0-9A-Fa-f]+) CRC=([0-9A-Fa-f]{2})$`)

// MonitorLine is one raw read reported by a P1P2Monitor adapter
type MonitorLine struct {
	Elapsed time.Duration
	Data    []byte
	CRC     byte
}

// Frame returns the packet bytes followed by the reported CRC, ready for a
// Framer
func (l MonitorLine) Frame() []byte {
	return append(append([]byte(nil), l.Data...), l.CRC)
}

// ParseMonitorLine parses a line like
//
//	R 0.024: 400010010081013700180015001A000000000000400000 CRC=87
func ParseMonitorLine(line string) (MonitorLine, error) {
	line = strings.TrimRight(line, "\r\n")
	if !strings.HasPrefix(line, "R ") {
		return MonitorLine{}, ErrIgnoredLine
	}

	m := readLinePattern.FindStringSubmatch(line)
	if m == nil {
		return MonitorLine{}, fmt.Errorf("p1p2: malformed read line %q", line)
	}

	secs, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return MonitorLine{}, fmt.Errorf("p1p2: bad timestamp %q: %w", m[1], err)
	}
	data, err := hex.DecodeString(m[2])
	if err != nil {
		return MonitorLine{}, fmt.Errorf("p1p2: bad packet hex: %w", err)
	}
	crc, err := strconv.ParseUint(m[3], 16, 8)
	if err != nil {
		return MonitorLine{}, fmt.Errorf("p1p2: bad CRC %q: %w", m[3], err)
	}

	return MonitorLine{
		Elapsed: time.Duration(secs * float64(time.Second)),
		Data:    data,
		CRC:     byte(crc),
	}, nil
}
