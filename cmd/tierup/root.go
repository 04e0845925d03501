package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/tierup/config"
)

type rootOptions struct {
	configPath string
	verbose    int
	logFile    string
}

// loadConfig reads --config when given, otherwise the nearest tierup.toml
// above the working directory, otherwise the defaults.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	if o.configPath == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		return config.FindAndLoad(wd)
	}
	data, err := os.ReadFile(o.configPath)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	c, err := config.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", o.configPath, err)
	}
	if c.Dir, err = filepath.Abs(filepath.Dir(o.configPath)); err != nil {
		return nil, err
	}
	return c, nil
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "tierup",
		Short: "Inspect tier-up policy and OSR exit reconstruction",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			var path *string
			if opts.logFile != "" {
				path = &opts.logFile
			}
			commonlog.Configure(opts.verbose, path)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to a tierup.toml file")
	cmd.PersistentFlags().CountVarP(&opts.verbose, "verbose", "v", "log verbosity (repeat for more)")
	cmd.PersistentFlags().StringVar(&opts.logFile, "log", "", "write logs to this file instead of stderr")

	cmd.AddCommand(newReplayCommand(opts))
	cmd.AddCommand(newCapabilitiesCommand(opts))
	cmd.AddCommand(newThresholdsCommand(opts))
	cmd.AddCommand(newDumpCommand(opts))
	return cmd
}
