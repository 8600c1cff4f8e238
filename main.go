// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// Thermaprobe - Heat pump serial monitor
//
// A CLI tool for polling heat pump controllers over their service port and
// listening to the P1/P2 bus, decoding both into labeled values.

package main

import (
	"os"

	"github.com/Thermoquad/thermaprobe/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(cmd.ExitCode(err))
	}
}
