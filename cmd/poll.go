// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"syscall"

	"github.com/Thermoquad/thermaprobe/internal/metrics"
	"github.com/Thermoquad/thermaprobe/pkg/decoding"
	"github.com/Thermoquad/thermaprobe/pkg/definition"
	"github.com/Thermoquad/thermaprobe/pkg/serialproto"
	"github.com/Thermoquad/thermaprobe/pkg/simulator"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	pollSimulator bool
	pollOnce      bool
	pollRaw       bool
	pollPages     []string
)

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Poll the service interface and display decoded values",
	Long: `Request every page of the decoder table from the service interface, page by
page, and display the decoded values after each cycle.

A page that times out, fails its checksum or comes back malformed is retried
with exponential backoff. A page the device rejects is not retried. Pages
that never produce a valid frame are reported as unavailable; the other
pages of the cycle are still decoded.

Use --simulator to poll an in-process device answering with captured
frames instead of a serial port.`,
	RunE: runPoll,
}

func init() {
	rootCmd.AddCommand(pollCmd)
	pollCmd.Flags().BoolVar(&pollSimulator, "simulator", false, "Poll the built-in simulator instead of a serial port")
	pollCmd.Flags().BoolVar(&pollOnce, "once", false, "Poll a single cycle and exit")
	pollCmd.Flags().BoolVar(&pollRaw, "raw", false, "Also print the raw frame of every page")
	pollCmd.Flags().StringSliceVar(&pollPages, "pages", nil, "Pages to poll, e.g. 0x10,0x61 (default: every page in the table)")
}

// activePort is a poll engine port that can be closed
type activePort interface {
	serialproto.Port
	io.Closer
}

// openActivePort opens the service interface, or the simulator
func openActivePort(sim bool) (activePort, string, error) {
	if sim {
		return simulator.New(), "Simulator (captured frames)", nil
	}
	if cfg.Serial.Port == "" {
		return nil, "", fmt.Errorf("either --port or --simulator must be specified")
	}
	port, err := OpenSerialPort(cfg.Serial)
	if err != nil {
		return nil, "", err
	}
	return port, fmt.Sprintf("Serial: %s @ %d baud, parity %s", cfg.Serial.Port, cfg.Serial.Baud, cfg.Serial.Parity), nil
}

func parsePages(args []string) ([]byte, error) {
	pages := make([]byte, 0, len(args))
	for _, a := range args {
		v, err := strconv.ParseUint(a, 0, 8)
		if err != nil {
			return nil, fmt.Errorf("invalid page %q: %w", a, err)
		}
		pages = append(pages, byte(v))
	}
	return pages, nil
}

// newPoller builds the poll engine from the config. Every completed cycle is
// observed by the pipeline metrics, if any, then handed to onResult.
func newPoller(port serialproto.Port, table *definition.Table, pl *pipeline, onResult func(*serialproto.PollResult)) (*serialproto.Poller, error) {
	pc, err := cfg.Serial.PollConfig()
	if err != nil {
		return nil, err
	}
	if len(pollPages) > 0 {
		if pc.Pages, err = parsePages(pollPages); err != nil {
			return nil, err
		}
	}
	pc.Logger = logger
	var m *metrics.Metrics
	if pl != nil {
		m = pl.metrics
	}
	if m != nil {
		pc.Transition = m.Transition
	}
	pc.OnResult = func(res *serialproto.PollResult) {
		if m != nil {
			m.ObservePoll(res)
		}
		if onResult != nil {
			onResult(res)
		}
	}
	return serialproto.New(port, table, pc)
}

func runPoll(cmd *cobra.Command, args []string) error {
	table, err := loadTable()
	if err != nil {
		return err
	}

	port, portInfo, err := openActivePort(pollSimulator)
	if err != nil {
		return err
	}
	defer port.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if pollOnce {
		p, err := newPoller(port, table, nil, nil)
		if err != nil {
			return err
		}
		res, err := p.PollOnce(ctx)
		if err != nil {
			return err
		}
		printPollResult(res, table, pollRaw)
		return nil
	}

	pl, err := newPipeline()
	if err != nil {
		return err
	}
	defer pl.Close()

	p, err := newPoller(port, table, pl, func(res *serialproto.PollResult) {
		printPollResult(res, table, pollRaw)
	})
	if err != nil {
		return err
	}

	fmt.Printf("Thermaprobe - Poll\n")
	fmt.Printf("Connection: %s\n", portInfo)
	fmt.Printf("Pages: % X every %s\n", p.Pages(), cfg.Serial.Interval)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	g, ctx := errgroup.WithContext(ctx)
	pl.Start(ctx, g)
	g.Go(func() error {
		defer stop()
		return p.Run(ctx, pl.Sink())
	})
	return g.Wait()
}

// printPollResult prints one poll cycle
func printPollResult(res *serialproto.PollResult, table *definition.Table, raw bool) {
	fmt.Printf("[%s] \033[1;32mPOLL CYCLE\033[0m %d values\n",
		res.Timestamp.Format("15:04:05.000"), len(res.Values))

	pages := make([]int, 0, len(res.Status))
	for page := range res.Status {
		pages = append(pages, int(page))
	}
	sort.Ints(pages)

	for _, pg := range pages {
		page := byte(pg)
		status := res.Status[page]
		switch status {
		case serialproto.StatusOK:
			fmt.Printf("  Page 0x%02X: \033[1;32m%s\033[0m (attempts %d)\n", page, status, res.Attempts[page])
		case serialproto.StatusPartial:
			fmt.Printf("  Page 0x%02X: \033[1;33m%s\033[0m (attempts %d)\n", page, status, res.Attempts[page])
		default:
			fmt.Printf("  Page 0x%02X: \033[1;31m%s\033[0m: %v\n", page, status, res.PageErrors[page])
		}
		if f, ok := res.Frames[page]; ok && raw {
			fmt.Print(decoding.FormatFrame(definition.Page(page), f.Data))
		}
	}

	fmt.Print(decoding.FormatValues(res.Values, table))
	printDecodeErrors(res.DecodeErrors)
	fmt.Println()
}

// printDecodeErrors prints entry decode failures, N/A readings aside
func printDecodeErrors(errs []*decoding.DecodeError) {
	for _, err := range errs {
		if errors.Is(err, decoding.ErrNotAvailable) {
			continue
		}
		fmt.Printf("  \033[1;33mDECODE ERROR:\033[0m %v\n", err)
	}
}
