// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/Thermoquad/thermaprobe/pkg/decoding"
	"github.com/Thermoquad/thermaprobe/pkg/p1p2"
	"github.com/Thermoquad/thermaprobe/pkg/serialproto"
	"github.com/spf13/cobra"
)

var (
	packetTestTimeout int
	packetTestSerial  bool
	packetTestPage    string
)

var packetTestCmd = &cobra.Command{
	Use:   "packet_test",
	Short: "Test a connection by waiting for a valid packet",
	Long: `Wait for a valid packet on a connection until timeout.

By default this command connects to the bus adapter or WebSocket bridge and
waits for any complete bus packet passing its checksum, ignoring noise.

With --serial it instead requests one page from the service interface and
waits for a valid response frame.

Exit codes:
  0 - Packet received before timeout
  1 - Timeout reached without receiving a valid packet
  2 - Connection error`,
	RunE: runPacketTest,
}

func init() {
	rootCmd.AddCommand(packetTestCmd)
	packetTestCmd.Flags().IntVar(&packetTestTimeout, "timeout", 10, "Timeout in seconds to wait for a packet")
	packetTestCmd.Flags().BoolVar(&packetTestSerial, "serial", false, "Test the service interface instead of the bus")
	packetTestCmd.Flags().StringVar(&packetTestPage, "page", "0x10", "Page to request with --serial")
}

func runPacketTest(cmd *cobra.Command, args []string) error {
	timeout := time.Duration(packetTestTimeout) * time.Second
	var code int
	if packetTestSerial {
		code = testServicePort(timeout)
	} else {
		code = testBus(timeout)
	}
	if code != 0 {
		return &ExitError{Code: code}
	}
	return nil
}

// testServicePort requests one page and reports the exit code
func testServicePort(timeout time.Duration) int {
	pages, err := parsePages([]string{packetTestPage})
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 2
	}
	page := pages[0]

	proto, err := cfg.Serial.Protocol.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 2
	}

	port, err := OpenSerialPort(cfg.Serial)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		return 2
	}
	defer port.Close()

	fmt.Printf("Thermaprobe - Packet Test\n")
	fmt.Printf("Connection: Serial: %s @ %d baud\n", cfg.Serial.Port, cfg.Serial.Baud)
	fmt.Printf("Timeout: %s\n", timeout)
	fmt.Printf("Requesting page 0x%02X...\n\n", page)

	if err := port.ResetInputBuffer(); err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		return 2
	}
	if _, err := port.Write(proto.Request(page)); err != nil {
		fmt.Fprintf(os.Stderr, "Write error: %v\n", err)
		return 2
	}

	payload, frame, err := proto.ReadResponse(port, page, timeout)
	if err != nil {
		var portErr *serialproto.PortError
		if errors.As(err, &portErr) {
			fmt.Fprintf(os.Stderr, "Read error: %v\n", err)
			return 2
		}
		fmt.Fprintf(os.Stderr, "FAILED: %v\n", err)
		return 1
	}

	fmt.Printf("SUCCESS: Received valid response\n")
	fmt.Printf("  Page: 0x%02X\n", page)
	fmt.Printf("  Length: %d bytes (%d payload)\n", len(frame), len(payload))
	fmt.Printf("  Frame: %s\n", decoding.FormatHex(frame))
	return 0
}

// testBus waits for one valid bus packet and reports the exit code
func testBus(timeout time.Duration) int {
	conn, connInfo, err := OpenBusConnection()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		return 2
	}
	defer conn.Close()

	framer, err := newFramer()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 2
	}

	fmt.Printf("Thermaprobe - Packet Test\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %s\n", timeout)
	fmt.Printf("Waiting for valid bus packet...\n\n")

	packetChan := make(chan *p1p2.Packet, 1)
	errChan := make(chan error, 1)

	go func() {
		p, err := waitForPacket(conn, framer, cfg.Bus.Format == "monitor")
		if err != nil {
			errChan <- err
			return
		}
		if noise := framer.NoiseBytes(); noise > 0 {
			fmt.Printf("(skipped %d invalid bytes before sync)\n", noise)
		}
		packetChan <- p
	}()

	select {
	case p := <-packetChan:
		fmt.Printf("SUCCESS: Received valid packet\n")
		fmt.Printf("  Type: %s (%s)\n", p.Type().Name, p.Source())
		fmt.Printf("  Length: %d bytes\n", len(p.Raw()))
		fmt.Printf("  CRC: %s\n", decoding.FormatHex(p.Checksum()))
		return 0

	case err := <-errChan:
		fmt.Fprintf(os.Stderr, "Read error: %v\n", err)
		return 2

	case <-time.After(timeout):
		fmt.Fprintf(os.Stderr, "TIMEOUT: No valid packet received within %s\n", timeout)
		return 1
	}
}

// waitForPacket reads until the framer completes a packet. Checksum
// failures are skipped.
func waitForPacket(r io.Reader, framer *p1p2.Framer, lines bool) (*p1p2.Packet, error) {
	if lines {
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			ml, err := p1p2.ParseMonitorLine(scanner.Text())
			if err != nil {
				continue
			}
			framer.Reset()
			if packets, _ := framer.Feed(ml.Frame()); len(packets) > 0 {
				return packets[0], nil
			}
		}
		if err := scanner.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}

	buf := make([]byte, 128)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if packets, _ := framer.Feed(buf[:n]); len(packets) > 0 {
				return packets[0], nil
			}
		}
		if err != nil {
			return nil, err
		}
	}
}
