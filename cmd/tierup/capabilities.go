package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chazu/tierup/harness"
	"github.com/chazu/tierup/pkg/dfg"
	"github.com/chazu/tierup/store"
)

type capabilitiesOptions struct {
	*rootOptions
	disasm bool
}

func newCapabilitiesCommand(root *rootOptions) *cobra.Command {
	opts := &capabilitiesOptions{rootOptions: root}

	cmd := &cobra.Command{
		Use:   "capabilities FILE",
		Short: "Report whether assembled code may be optimized or inlined",
		Long: `Assemble a YAML program listing and run capability analysis over it
with the limits from tierup.toml. When the store is enabled, verdicts are
read from and written to the verdict cache.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCapabilities(opts, cmd, args[0])
		},
	}
	cmd.Flags().BoolVar(&opts.disasm, "disasm", false, "print the disassembly after the verdict")
	return cmd
}

func runCapabilities(opts *capabilitiesOptions, cmd *cobra.Command, path string) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return commandError("load config", err)
	}
	p, err := harness.LoadProgram(path)
	if err != nil {
		return commandError("load program", err)
	}
	code, err := p.Assemble()
	if err != nil {
		return commandError("assemble", err)
	}

	dfgOpts := cfg.DFGOptions()
	verdict := dfg.Analyze(code, dfgOpts)
	cache := ""
	if cfg.Store.Enabled {
		st, err := store.Open(cfg.StorePath())
		if err != nil {
			return commandError("open store", err)
		}
		defer st.Close()

		key := store.VerdictKey(code.HashString(), dfgOpts)
		cached, err := st.Verdict(key)
		switch {
		case err == nil:
			verdict, cache = cached, "hit"
		case errors.Is(err, store.ErrNotFound):
			cache = "miss"
			if err := st.PutVerdict(key, verdict); err != nil {
				return commandError("save verdict", err)
			}
		default:
			return commandError("read verdict", err)
		}
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s (%s): %d instruction words\n", code.Name, code.CodeType, code.InstructionCount())
	fmt.Fprintf(out, "compile: %s\n", verdict.Compile)
	if p.Type == "" || p.Type == "function" {
		fmt.Fprintf(out, "inline for call: %t\n", verdict.InlineForCall)
		fmt.Fprintf(out, "inline for construct: %t\n", verdict.InlineForConstruct)
	}
	if cache != "" {
		fmt.Fprintf(out, "cache: %s\n", cache)
	}
	if opts.disasm {
		fmt.Fprintf(out, "\n%s", code.Disassemble())
	}
	return nil
}
