package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chazu/tierup/pkg/bytecode"
	"github.com/chazu/tierup/vm"
)

type thresholdsOptions struct {
	*rootOptions
	instructions int
	retries      int
	codeType     string
}

func newThresholdsCommand(root *rootOptions) *cobra.Command {
	opts := &thresholdsOptions{rootOptions: root}

	cmd := &cobra.Command{
		Use:   "thresholds",
		Short: "Tabulate tier-up and reoptimization thresholds",
		Long: `Print the execution counts after which code of the given size is
optimized, and the exit counts after which its optimized code is thrown
away, under the policy from tierup.toml.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runThresholds(opts, cmd)
		},
	}
	cmd.Flags().IntVar(&opts.instructions, "instructions", 100, "code size in instruction words")
	cmd.Flags().IntVar(&opts.retries, "retries", 0, "number of earlier jettisons")
	cmd.Flags().StringVar(&opts.codeType, "type", "function", "code type (function, global, eval)")
	return cmd
}

func runThresholds(opts *thresholdsOptions, cmd *cobra.Command) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return commandError("load config", err)
	}
	var codeType bytecode.CodeType
	switch opts.codeType {
	case "function":
		codeType = bytecode.FunctionCode
	case "global":
		codeType = bytecode.GlobalCode
	case "eval":
		codeType = bytecode.EvalCode
	default:
		return commandError(fmt.Sprintf("unknown code type %q", opts.codeType), nil)
	}
	if opts.instructions < 0 {
		return commandError("--instructions must not be negative", nil)
	}
	if opts.retries < 0 || opts.retries > cfg.Reoptimization.RetryCounterMax {
		return commandError(fmt.Sprintf("--retries must be in [0, %d]", cfg.Reoptimization.RetryCounterMax), nil)
	}

	vmOpts := cfg.VMOptions()
	retries := uint32(opts.retries)
	factor := vm.AdjustThreshold(vmOpts, codeType, opts.instructions, 0, 1)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s code, %d instruction words, %d retries\n", codeType, opts.instructions, opts.retries)
	fmt.Fprintf(out, "scaling factor: %.6f\n\n", factor)

	fmt.Fprintf(out, "%-28s %8s %10s\n", "threshold", "desired", "counter")
	for _, row := range []struct {
		name    string
		desired int32
	}{
		{"optimize-after-warm-up", vmOpts.ThresholdForOptimizeAfterWarmUp},
		{"optimize-after-long-warm-up", vmOpts.ThresholdForOptimizeAfterLongWarmUp},
		{"optimize-soon", vmOpts.ThresholdForOptimizeSoon},
	} {
		adjusted := vm.ClipThreshold(vm.AdjustThreshold(vmOpts, codeType, opts.instructions, retries, row.desired))
		fmt.Fprintf(out, "%-28s %8d %10d\n", row.name, row.desired, adjusted)
	}

	fmt.Fprintln(out)
	fmt.Fprintf(out, "%-28s %8s %10s\n", "exit count", "desired", "adjusted")
	for _, row := range []struct {
		name    string
		desired uint32
	}{
		{"reoptimization", vmOpts.OSRExitCountForReoptimization},
		{"reoptimization-from-loop", vmOpts.OSRExitCountForReoptimizationFromLoop},
	} {
		fmt.Fprintf(out, "%-28s %8d %10d\n", row.name, row.desired, vm.AdjustExitCount(codeType, retries, row.desired))
	}
	return nil
}
