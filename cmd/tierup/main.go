// Command tierup inspects the tiering and deoptimization machinery:
// it replays OSR exit scenarios, analyzes bytecode for optimizability,
// tabulates tier-up thresholds and dumps persisted exit side tables.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "tierup: %v\n", err)
		os.Exit(exitCode(err))
	}
}
