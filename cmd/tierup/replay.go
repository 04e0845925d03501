package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/chazu/tierup/harness"
	"github.com/chazu/tierup/pkg/osr"
)

type replayOptions struct {
	*rootOptions
	cborOut string
}

func newReplayCommand(root *rootOptions) *cobra.Command {
	opts := &replayOptions{rootOptions: root}

	cmd := &cobra.Command{
		Use:   "replay FILE...",
		Short: "Reconstruct the OSR exits of scenario files",
		Long: `Replay each scenario's variable event stream, reconstruct every exit,
and print the recoveries next to the expectations.

Exit codes:
  0 - every exit matched
  1 - some exit missed its expectations
  2 - a scenario could not be loaded`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd, args)
		},
	}
	cmd.Flags().StringVar(&opts.cborOut, "cbor", "", "write the side table of a single scenario as CBOR")
	return cmd
}

func runReplay(opts *replayOptions, cmd *cobra.Command, paths []string) error {
	if opts.cborOut != "" && len(paths) != 1 {
		return commandError("--cbor takes exactly one scenario", nil)
	}

	out := cmd.OutOrStdout()
	failed := 0
	for i, path := range paths {
		s, err := harness.LoadScenario(path)
		if err != nil {
			return commandError("load scenario", err)
		}
		result, err := harness.Run(s)
		if err != nil {
			return commandError("run scenario", err)
		}
		if i > 0 {
			fmt.Fprintln(out)
		}
		fmt.Fprint(out, result.Report())
		if result.Failed() {
			failed++
		}

		if opts.cborOut != "" {
			data, err := osr.MarshalSideTable(result.Table)
			if err != nil {
				return commandError("encode side table", err)
			}
			if err := os.WriteFile(opts.cborOut, data, 0644); err != nil {
				return commandError("write side table", err)
			}
		}
	}

	fmt.Fprintf(out, "\n%d scenarios, %d failed\n", len(paths), failed)
	if failed > 0 {
		return failure(fmt.Sprintf("%d of %d scenarios failed", failed, len(paths)))
	}
	return nil
}
