// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	runSimulator bool
	runNoPoll    bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Poll the service interface and listen to the bus as a service",
	Long: `Run the poll engine and the bus listener side by side, handing every decoded
cycle and packet to the configured sinks (log, CBOR file, MQTT), and serving
metrics when --metrics-listen is set.

The bus listener runs when --bus-port or --url is set. A failing serial port
stops the whole process; a lost bus connection is reopened.`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().BoolVar(&runSimulator, "simulator", false, "Poll the built-in simulator instead of a serial port")
	runCmd.Flags().BoolVar(&runNoPoll, "no-poll", false, "Only listen to the bus")
}

func runRun(cmd *cobra.Command, args []string) error {
	if runNoPoll && !busConfigured() {
		return errors.New("nothing to run: --no-poll without --bus-port or --url")
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

	var tasks []func(ctx context.Context) error

	if !runNoPoll {
		port, portInfo, err := openActivePort(runSimulator)
		if err != nil {
			return err
		}
		defer port.Close()

		p, err := newPoller(port, table, pl, nil)
		if err != nil {
			return err
		}
		logger.Info().Str("connection", portInfo).Hex("pages", p.Pages()).Msg("polling")
		tasks = append(tasks, func(ctx context.Context) error {
			return p.Run(ctx, pl.Sink())
		})
	}

	if busConfigured() {
		l, err := newListener(table, pl.metrics, nil, nil)
		if err != nil {
			return err
		}
		br := &busReader{listener: l, out: pl.Sink()}
		tasks = append(tasks, br.Run)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	pl.Start(ctx, g)
	for _, task := range tasks {
		task := task
		g.Go(func() error {
			return task(ctx)
		})
	}
	return g.Wait()
}
