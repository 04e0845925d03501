// Package vm implements the runtime side of tiered compilation.
//
// This package contains:
//   - Linking of unlinked bytecode into CodeBlocks against a GlobalObject
//   - Execution counters and the tier-up state machine
//   - Property-access inline caches, call link infos and value profiles
//   - The JITWorklist that drives the optimizing compiler
//   - OSR exit handling, which rebuilds baseline frames through pkg/osr
//   - Garbage collector cooperation (visiting and finalizing CodeBlocks)
package vm
