// Package osr reconstructs baseline-tier frames when optimized code exits.
//
// While generating code the optimizing compiler appends VariableEvents to
// a VariableEventStream: where each IR node's value was born, moved and
// died, and which bytecode operand it stands for. An exit records its
// position in the stream. Reconstruct replays the events from the nearest
// Reset up to that position and resolves every argument and local of the
// baseline frame to a ValueRecovery; Materialize applies the recoveries to
// a captured MachineState.
//
// The stream, the minified graph and the exit sites can be persisted as a
// SideTable in canonical CBOR.
package osr
