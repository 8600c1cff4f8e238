// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"

	"github.com/Thermoquad/thermaprobe/pkg/definition"
	"github.com/spf13/cobra"
)

var definitionsCmd = &cobra.Command{
	Use:   "definitions",
	Short: "Inspect decoder definition files",
	Long: `Inspect a decoder definition file, or the builtin table when no file is
given (see --definitions).`,
}

var definitionsDumpCmd = &cobra.Command{
	Use:   "dump [file]",
	Short: "List the entries of a definition table",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runDefinitionsDump,
}

var definitionsLintCmd = &cobra.Command{
	Use:   "lint [file]",
	Short: "Report overlapping and unlabeled entries",
	Long: `Report entries that read the same bits of one location, and entries without
a label. Such tables still decode; the findings usually point at a typo in
an offset or converter id.

Exit codes:
  0 - No findings
  1 - Findings reported`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDefinitionsLint,
}

func init() {
	rootCmd.AddCommand(definitionsCmd)
	definitionsCmd.AddCommand(definitionsDumpCmd)
	definitionsCmd.AddCommand(definitionsLintCmd)
}

func tableFromArgs(args []string) (*definition.Table, error) {
	if len(args) == 1 {
		cfg.Definitions = args[0]
	}
	return loadTable()
}

func runDefinitionsDump(cmd *cobra.Command, args []string) error {
	table, err := tableFromArgs(args)
	if err != nil {
		return err
	}

	fmt.Printf("Model: %s\n", table.Model())
	fmt.Printf("Entries: %d (skipped %d unsupported)\n\n", table.Len(), table.Skipped())

	for _, kind := range []definition.SourceKind{definition.SourcePage, definition.SourcePacket} {
		for _, src := range table.Locations(kind) {
			entries := table.EntriesFor(src)
			fmt.Printf("%s (%d entries)\n", src, len(entries))
			for _, e := range entries {
				fmt.Printf("  %-16s %-28s %s\n", e.Key(), e.Converter, e.Label)
			}
			fmt.Println()
		}
	}
	return nil
}

func runDefinitionsLint(cmd *cobra.Command, args []string) error {
	table, err := tableFromArgs(args)
	if err != nil {
		return err
	}

	findings := definition.Validate(table)
	if len(findings) == 0 {
		fmt.Printf("%s: %d entries, no findings\n", table.Model(), table.Len())
		return nil
	}

	for i, f := range findings {
		switch f.Type {
		case definition.AnomalyByteOverlap:
			fmt.Printf("  Issue %d: \033[1;31m%s\033[0m\n", i+1, f.Message)
		case definition.AnomalyBitOverlap:
			fmt.Printf("  Issue %d: \033[1;31m%s\033[0m\n", i+1, f.Message)
			if bit, ok := f.Details["bit"].(uint8); ok {
				fmt.Printf("    bit=%d\n", bit)
			}
		case definition.AnomalyEmptyLabel:
			fmt.Printf("  Issue %d: \033[1;33m%s\033[0m\n", i+1, f.Message)
		default:
			fmt.Printf("  Issue %d: %s\n", i+1, f.Message)
		}
	}
	fmt.Printf("\n%s: %d entries, %d findings\n", table.Model(), table.Len(), len(findings))
	return &ExitError{Code: 1}
}
