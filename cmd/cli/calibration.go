//go:build !js && !wasm
// +build !js,!wasm

package main

import (
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/himanishpuri/Tartil/pkg/models"
	"github.com/himanishpuri/Tartil/pkg/tartil/scoring"
)

func newCalibrationCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "calibration",
		Short: "Inspect and check calibration tables",
	}

	validate := &cobra.Command{
		Use:   "validate <file>",
		Short: "Check a calibration file before deploying it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			table, err := scoring.Load(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: calibration %s is valid\n", args[0], table.Version)
			return nil
		},
	}

	var asYAML bool
	show := &cobra.Command{
		Use:   "show [file]",
		Short: "Print a calibration table (the configured one when no file is given)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := cfg.CalibrationPath
			if len(args) == 1 {
				path = args[0]
			}
			table := scoring.DefaultTable()
			if path != "" {
				var err error
				if table, err = scoring.Load(path); err != nil {
					return err
				}
			}
			if asYAML {
				enc := yaml.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent(2)
				defer enc.Close()
				return enc.Encode(table)
			}
			printTable(cmd.OutOrStdout(), table)
			return nil
		},
	}
	show.Flags().BoolVar(&asYAML, "yaml", false, "print as YAML, loadable with --calibration")

	cmd.AddCommand(validate, show)
	return cmd
}

func printTable(w io.Writer, t *scoring.Table) {
	fmt.Fprintf(w, "Calibration %s\n", t.Version)
	for _, level := range models.Levels {
		lc, ok := t.Levels[level]
		if !ok {
			continue
		}
		fmt.Fprintf(w, "  %-6s scale %-10g", level, lc.Scale)
		for _, th := range lc.Thresholds {
			fmt.Fprintf(w, " %s>=%.2f", th.Label, th.Min)
		}
		fmt.Fprintln(w)
	}
	labels := slices.Sorted(maps.Keys(t.Labels))
	for _, label := range labels {
		info := t.Info(label)
		fmt.Fprintf(w, "  %-14s %-14s %s\n", label, info.Display, info.Color)
	}
}
