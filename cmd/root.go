// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/Thermoquad/thermaprobe/internal/config"
	"github.com/Thermoquad/thermaprobe/internal/logging"
	"github.com/Thermoquad/thermaprobe/pkg/definition"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	configPath      string
	definitionsPath string
	logLevel        string
	logFormat       string

	// Active channel flags
	portName string
	baudRate int

	// Bus flags
	busPort string
	busBaud int

	// WebSocket bridge flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	metricsListen string
)

var (
	cfg    *config.Config
	logger zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "thermaprobe",
	Short: "Heat pump serial monitor",
	Long: `Thermaprobe - A CLI tool for reading heat pump controllers over their serial
interfaces.

Two channels are supported:
  Active:  the service port, polled page by page (--port /dev/ttyUSB0)
  Passive: the P1P2 bus, listened to without transmitting
           (--bus-port /dev/ttyUSB1, or --url ws://host/path for a bridge)

Decoder entries come from a definition file (--definitions) or the builtin
table. Settings can be kept in a YAML file (--config); flags override it.

For WebSocket authentication, the password is read from the THERMAPROBE_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.`,
	Version:           "0.3.0",
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	rootCmd.PersistentFlags().StringVarP(&definitionsPath, "definitions", "d", "", "Definition file (builtin table if empty)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "console", "Log format (console, json)")

	// Active channel flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port of the service interface")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 9600, "Baud rate of the service interface")

	// Bus flags
	rootCmd.PersistentFlags().StringVar(&busPort, "bus-port", "", "Serial port of the bus adapter")
	rootCmd.PersistentFlags().IntVar(&busBaud, "bus-baud", 115200, "Baud rate of the bus adapter")

	// WebSocket connection flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "Bus bridge WebSocket URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	rootCmd.PersistentFlags().StringVar(&metricsListen, "metrics-listen", "", "Serve Prometheus metrics on this address")
}

// loadConfig reads the config file and applies the flags the user set
func loadConfig(cmd *cobra.Command, args []string) error {
	c := config.Default()
	if configPath != "" {
		var err error
		if c, err = config.Load(configPath); err != nil {
			return err
		}
	}

	flags := cmd.Flags()
	if flags.Changed("definitions") {
		c.Definitions = definitionsPath
	}
	if flags.Changed("log-level") {
		c.Log.Level = logLevel
	}
	if flags.Changed("log-format") {
		c.Log.Format = logFormat
	}
	if flags.Changed("port") {
		c.Serial.Port = portName
	}
	if flags.Changed("baud") {
		c.Serial.Baud = baudRate
	}
	if flags.Changed("bus-port") {
		c.Bus.Port = busPort
	}
	if flags.Changed("bus-baud") {
		c.Bus.Baud = busBaud
	}
	if flags.Changed("url") {
		c.Bus.URL = wsURL
	}
	if flags.Changed("metrics-listen") {
		c.Metrics.Listen = metricsListen
	}

	c.Normalize()
	if err := c.Validate(); err != nil {
		return err
	}

	l, err := logging.New(c.Log.Level, c.Log.Format, os.Stderr)
	if err != nil {
		return err
	}
	cfg = c
	logger = l
	return nil
}

// loadTable loads the configured definition file, or the builtin table
func loadTable() (*definition.Table, error) {
	var (
		table *definition.Table
		err   error
	)
	if cfg.Definitions == "" {
		table, err = definition.Builtin()
	} else {
		table, err = definition.LoadFile(cfg.Definitions)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load definitions: %w", err)
	}

	logger.Info().
		Str("model", table.Model()).
		Int("entries", table.Len()).
		Int("skipped", table.Skipped()).
		Msg("definitions loaded")
	return table, nil
}

// ExitError ends the process with Code. The command has already printed
// its report.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

// ExitCode maps an Execute error to a process exit code
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exit *ExitError
	if errors.As(err, &exit) {
		return exit.Code
	}
	return 1
}

// Execute runs the root command
func Execute() error {
	rootCmd.SilenceErrors = true
	err := rootCmd.Execute()
	var exit *ExitError
	if err != nil && !errors.As(err, &exit) {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return err
}
