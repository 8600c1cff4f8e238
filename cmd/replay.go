// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"sort"

	"github.com/Thermoquad/thermaprobe/pkg/sink"
	"github.com/spf13/cobra"
)

var replayChannel string

var replayCmd = &cobra.Command{
	Use:   "replay <file>",
	Short: "Print the records of a CBOR record file",
	Long: `Print the records written by the CBOR sink (sinks.cbor.path), one block per
poll cycle or bus packet.`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	rootCmd.AddCommand(replayCmd)
	replayCmd.Flags().StringVar(&replayChannel, "channel", "", "Only print records of this channel (serial, bus)")
}

// printStoredRecord prints one stored record
func printStoredRecord(rec sink.StoredRecord) {
	fmt.Printf("[%s] \033[1;32m%s\033[0m %d values\n",
		rec.Timestamp.Local().Format("2006-01-02 15:04:05.000"), rec.Channel, len(rec.Values))
	locs := make([]string, 0, len(rec.Status))
	for loc := range rec.Status {
		locs = append(locs, loc)
	}
	sort.Strings(locs)
	for _, loc := range locs {
		fmt.Printf("  %s: %s\n", loc, rec.Status[loc])
	}
	for _, key := range rec.Keys() {
		v := rec.Values[key]
		fmt.Printf("  %s: %v [%s]\n", v.Label, v.Value, key)
	}
	fmt.Println()
}

func runReplay(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("failed to open record file: %w", err)
	}
	defer f.Close()

	count := 0
	err = sink.ReadCBOR(f, func(rec sink.StoredRecord) error {
		if replayChannel != "" && rec.Channel != replayChannel {
			return nil
		}
		count++
		printStoredRecord(rec)
		return nil
	})
	if err != nil {
		return err
	}
	fmt.Printf("%d records\n", count)
	return nil
}
