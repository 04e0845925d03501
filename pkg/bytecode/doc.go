// Package bytecode defines the register-based bytecode consumed by the
// baseline tier and analyzed by the optimizing tier.
//
// The format is designed for:
//   - Fast decoding (one 32-bit word per opcode and per operand)
//   - Table-driven analysis (every opcode's operand layout is described by
//     OpcodeInfo, so validators and scanners need no per-opcode code)
//   - Cheap identity (UnlinkedCodeBlock.Hash is a stable content hash)
//
// # Architecture Overview
//
//   - Opcodes: JavaScript-like instructions covering frame setup, arithmetic,
//     property access, control flow and calls. Each opcode has a fixed length.
//
//   - VirtualRegister: operand numbering relative to the frame base. Locals
//     are non-negative, the call-frame header and arguments are negative,
//     and constants are addressed from FirstConstantRegisterIndex.
//
//   - UnlinkedCodeBlock: the immutable output of the front end for one
//     function, program or eval. The runtime links it against a global
//     object to produce an executable CodeBlock.
//
//   - Builder: assembles an UnlinkedCodeBlock and allocates per-instruction
//     metadata slots (value profiles, property inline caches, call links).
//
// # Metadata operands
//
// Some operands name a per-CodeBlock metadata slot rather than a register.
// The builder numbers these densely in stream order, so a linker can size
// its tables from NumValueProfiles, NumStructureStubs and NumCallLinks.
package bytecode
