// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/Thermoquad/thermaprobe/pkg/decoding"
	"github.com/Thermoquad/thermaprobe/pkg/definition"
	"github.com/Thermoquad/thermaprobe/pkg/p1p2"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	showAll       bool
	statsInterval int
	useTUI        bool
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Listen to the P1P2 bus and track decoded values and errors",
	Long: `Listen to the P1P2 bus without transmitting, decode every packet and track
errors with statistics.

This command detects:
  - CRC errors (frames are resynchronized one byte later)
  - Noise bytes between packets
  - Entries that fail to decode (partial packets)

By default, only errors and partial packets are displayed. Use --show-all to
display every packet with its decoded values.

Statistics summaries are displayed at configurable intervals. The connection
is reopened with exponential backoff when it is lost.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().BoolVar(&showAll, "show-all", false, "Show all packets (not just errors)")
	monitorCmd.Flags().IntVar(&statsInterval, "stats-interval", 10, "Statistics update interval (seconds)")
	monitorCmd.Flags().BoolVar(&useTUI, "tui", true, "Use terminal UI (false for text mode)")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	if !busConfigured() {
		return errors.New("either --bus-port or --url must be specified")
	}
	if statsInterval < 1 {
		return fmt.Errorf("--stats-interval must be >= 1, got %d", statsInterval)
	}

	table, err := loadTable()
	if err != nil {
		return err
	}

	pl, err := newPipeline()
	if err != nil {
		return err
	}
	defer pl.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if useTUI {
		return runTUIMode(ctx, table, pl)
	}
	return runTextMode(ctx, table, pl)
}

// printFrameError prints a rejected frame in highlighted format
func printFrameError(err error) {
	timestamp := time.Now().Format("15:04:05.000")
	fmt.Printf("[%s] \033[1;31mFRAME ERROR:\033[0m %v\n", timestamp, err)
	fmt.Printf("  >>> FRAME REJECTED <<<\n\n")
}

// printPacket prints a validated packet with its decoded values
func printPacket(p *p1p2.Packet, values decoding.Values, errs []*decoding.DecodeError, table *definition.Table) {
	timestamp := p.Timestamp().Format("15:04:05.000")
	fmt.Printf("[%s] \033[1;32m%s\033[0m %s (%d bytes)\n", timestamp, p.Type().Name, p.Source(), len(p.Raw()))
	fmt.Printf("  Frame: %s\n", decoding.FormatHex(p.Raw()))
	fmt.Print(decoding.FormatValues(values, table))
	printDecodeErrors(errs)
	fmt.Println()
}

// failedEntries counts decode errors other than N/A readings
func failedEntries(errs []*decoding.DecodeError) int {
	n := 0
	for _, err := range errs {
		if !errors.Is(err, decoding.ErrNotAvailable) {
			n++
		}
	}
	return n
}

// runTUIMode runs the monitor in TUI mode
func runTUIMode(ctx context.Context, table *definition.Table, pl *pipeline) error {
	feed := newBusFeed()

	l, err := newListener(table, pl.metrics, feed.packet, feed.error)
	if err != nil {
		return err
	}

	m := initialModel(table, l.Statistics(), statsInterval, showAll)
	p := tea.NewProgram(m, tea.WithAltScreen())

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	pl.Start(gctx, g)

	br := &busReader{
		listener:  l,
		out:       pl.Sink(),
		onConnect: func(info string) { p.Send(connectedMsg{info: info}) },
		onLost:    func(err error) { p.Send(connectionLostMsg{err: err}) },
	}
	g.Go(func() error {
		return br.Run(gctx)
	})
	g.Go(func() error {
		feed.run(gctx, p.Send)
		return nil
	})
	// Signals and fatal bus errors close the TUI
	g.Go(func() error {
		<-gctx.Done()
		p.Quit()
		return nil
	})

	_, tuiErr := p.Run()
	cancel()
	err = g.Wait()
	if tuiErr != nil {
		return fmt.Errorf("TUI error: %w", tuiErr)
	}
	return err
}

// runTextMode runs the monitor in text mode
func runTextMode(ctx context.Context, table *definition.Table, pl *pipeline) error {
	fmt.Printf("Thermaprobe - Bus Monitor\n")
	fmt.Printf("Statistics interval: %d seconds\n", statsInterval)
	if showAll {
		fmt.Printf("Mode: All packets\n")
	} else {
		fmt.Printf("Mode: Errors only\n")
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	var (
		l            *p1p2.Listener
		synchronized atomic.Bool
	)

	onPacket := func(p *p1p2.Packet, values decoding.Values, errs []*decoding.DecodeError) {
		if !synchronized.Swap(true) {
			// Sync tracking: noise before the first packet is expected
			if noise := l.Statistics().Snapshot().NoiseBytes; noise > 0 {
				fmt.Printf("[SYNC] Synchronized after skipping %d invalid bytes\n\n", noise)
			} else {
				fmt.Printf("[SYNC] Synchronized\n\n")
			}
		}
		if showAll || failedEntries(errs) > 0 {
			printPacket(p, values, errs, table)
		}
	}
	onError := func(err error) {
		// Not synced yet, the first bytes are likely mid-packet
		if synchronized.Load() {
			printFrameError(err)
		}
	}

	var err error
	if l, err = newListener(table, pl.metrics, onPacket, onError); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	pl.Start(gctx, g)

	br := &busReader{
		listener:  l,
		out:       pl.Sink(),
		onConnect: func(info string) { fmt.Printf("Connection: %s\n\n", info) },
		onLost: func(err error) {
			fmt.Printf("\033[1;31mCONNECTION LOST:\033[0m %v (reconnecting)\n\n", err)
			synchronized.Store(false)
		},
	}
	g.Go(func() error {
		return br.Run(gctx)
	})

	g.Go(func() error {
		statsTicker := time.NewTicker(time.Duration(statsInterval) * time.Second)
		defer statsTicker.Stop()
		for {
			select {
			case <-gctx.Done():
				fmt.Println()
				fmt.Print(l.Statistics().String())
				return nil
			case <-statsTicker.C:
				fmt.Println()
				fmt.Print(l.Statistics().String())
				fmt.Println()
			}
		}
	})

	return g.Wait()
}
