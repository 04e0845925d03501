package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/chazu/tierup/pkg/osr"
)

func newDumpCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "dump FILE.cbor",
		Short: "Print a persisted exit side table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDump(cmd, args[0])
		},
	}
}

func runDump(cmd *cobra.Command, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return commandError("read side table", err)
	}
	table, err := osr.UnmarshalSideTable(data)
	if err != nil {
		return commandError("decode side table", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "side table: %s, version %d\n", humanize.Bytes(uint64(len(data))), osr.SideTableVersion)
	if table.CodeHash != "" {
		fmt.Fprintf(out, "code hash: %s\n", table.CodeHash)
	}
	fmt.Fprintf(out, "%s, %s, %s\n",
		plural(table.Graph.Len(), "node"),
		plural(table.Events.Len(), "event"),
		plural(len(table.Exits), "exit"))
	if len(table.WeakRefs) > 0 {
		refs := make([]string, len(table.WeakRefs))
		for i, c := range table.WeakRefs {
			refs[i] = fmt.Sprintf("cell#%d", c)
		}
		fmt.Fprintf(out, "weak refs: %s\n", strings.Join(refs, " "))
	}

	if table.Graph.Len() > 0 {
		fmt.Fprintln(out, "nodes:")
		for _, n := range table.Graph.Nodes() {
			fmt.Fprintf(out, "  %s\n", n)
		}
	}
	fmt.Fprintln(out, "events:")
	if err := table.Events.Dump(out); err != nil {
		return err
	}
	fmt.Fprintln(out, "exits:")
	for i, e := range table.Exits {
		fmt.Fprintf(out, "  %d: %s\n", i, e)
	}
	return nil
}

func plural(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return fmt.Sprintf("%d %ss", n, noun)
}
