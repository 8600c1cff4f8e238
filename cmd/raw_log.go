// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"time"

	"github.com/Thermoquad/thermaprobe/pkg/decoding"
	"github.com/Thermoquad/thermaprobe/pkg/p1p2"
	"github.com/spf13/cobra"
)

var rawLogBytes bool

var rawLogCmd = &cobra.Command{
	Use:   "raw_log",
	Short: "Display raw bus packets in hex",
	Long: `Continuously frame and display P1P2 bus packets as they arrive, without
decoding their values.

Each packet is shown with timestamp, packet type and its bytes in hex. Frames
that fail their checksum are shown as errors. Use --bytes to also dump every
chunk read from the connection.

Supports both serial and WebSocket connections.`,
	RunE: runRawLog,
}

func init() {
	rootCmd.AddCommand(rawLogCmd)
	rawLogCmd.Flags().BoolVar(&rawLogBytes, "bytes", false, "Also print every chunk read from the connection")
}

// newFramer builds a framer from the bus config
func newFramer() (*p1p2.Framer, error) {
	types, err := cfg.Bus.Types()
	if err != nil {
		return nil, err
	}
	alg, err := cfg.Bus.Algorithm()
	if err != nil {
		return nil, err
	}
	return p1p2.NewFramer(types, alg)
}

// printRawPacket prints a framed packet
func printRawPacket(p *p1p2.Packet) {
	timestamp := p.Timestamp().Format("15:04:05.000")
	fmt.Printf("[%s] %s %s\n", timestamp, p.Type().Name, p.Source())
	fmt.Printf("  Prefix:   %s\n", decoding.FormatHex(p.Prefix()))
	fmt.Printf("  Payload:  %s\n", decoding.FormatHex(p.Payload()))
	fmt.Printf("  Checksum: %s\n\n", decoding.FormatHex(p.Checksum()))
}

func runRawLog(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenBusConnection()
	if err != nil {
		return err
	}
	defer conn.Close()

	framer, err := newFramer()
	if err != nil {
		return err
	}

	fmt.Printf("Thermaprobe - Raw Packet Log\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	feed := func(data []byte) {
		packets, errs := framer.Feed(data)
		for _, err := range errs {
			fmt.Printf("[ERROR] %v\n", err)
		}
		for _, p := range packets {
			printRawPacket(p)
		}
	}

	if cfg.Bus.Format == "monitor" {
		scanner := bufio.NewScanner(conn)
		for scanner.Scan() {
			line := scanner.Text()
			if rawLogBytes {
				fmt.Printf("[%s] %s\n", time.Now().Format("15:04:05.000"), line)
			}
			ml, err := p1p2.ParseMonitorLine(line)
			if err != nil {
				if !errors.Is(err, p1p2.ErrIgnoredLine) {
					fmt.Printf("[ERROR] %v\n", err)
				}
				continue
			}
			framer.Reset()
			feed(ml.Frame())
		}
		if err := scanner.Err(); err != nil {
			logger.Warn().Err(err).Msg("connection closed")
		}
		return nil
	}

	buf := make([]byte, 128)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			if rawLogBytes {
				fmt.Printf("[%s] << %s\n", time.Now().Format("15:04:05.000"), decoding.FormatHex(buf[:n]))
			}
			feed(buf[:n])
		}
		if err != nil {
			// A read error on either transport means the connection is gone
			logger.Warn().Err(err).Msg("connection closed")
			return nil
		}
	}
}
