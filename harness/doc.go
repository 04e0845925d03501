// Package harness replays deoptimization scenarios.
//
// A scenario is a YAML file describing the shape of a baseline frame, the
// minified graph and variable event stream an optimizing compile would
// have left behind, and one or more exits. Run reconstructs every exit
// through osr.Reconstruct, optionally materializes a machine state, checks
// the expected recoveries and renders a plain-text report suitable for
// golden snapshot testing.
//
// The package also carries a small assembler for YAML bytecode listings,
// used by the capabilities command and by tests that need real code blocks.
package harness
