package dfg

import (
	"fmt"

	"github.com/chazu/tierup/pkg/bytecode"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("tierup.dfg")

// CapabilityLevel is the verdict of capability analysis. Levels are
// ordered: combining two verdicts takes the lower one.
type CapabilityLevel uint8

const (
	CannotCompile CapabilityLevel = iota
	MayInline
	CanCompile
)

// String implements fmt.Stringer.
func (c CapabilityLevel) String() string {
	switch c {
	case CannotCompile:
		return "CannotCompile"
	case MayInline:
		return "MayInline"
	case CanCompile:
		return "CanCompile"
	default:
		return fmt.Sprintf("CapabilityLevel(%d)", c)
	}
}

// LeastUpperBound combines two verdicts.
func LeastUpperBound(a, b CapabilityLevel) CapabilityLevel {
	if a < b {
		return a
	}
	return b
}

// Options controls capability analysis.
type Options struct {
	// Enabled gates the optimizing tier as a whole.
	Enabled bool
	// SupportsFloatingPoint is false on targets without an FPU; opcodes
	// that need floating point then cannot compile.
	SupportsFloatingPoint bool

	MaximumOptimizationCandidateInstructionCount               int
	MaximumFunctionForCallInlineCandidateInstructionCount      int
	MaximumFunctionForConstructInlineCandidateInstructionCount int

	// DebugFail logs every opcode that blocks compilation.
	DebugFail bool
}

// DefaultOptions returns the stock limits.
func DefaultOptions() Options {
	opts := Options{Enabled: true, SupportsFloatingPoint: true}
	opts.MaximumOptimizationCandidateInstructionCount = 10000
	opts.MaximumFunctionForCallInlineCandidateInstructionCount = 180
	opts.MaximumFunctionForConstructInlineCandidateInstructionCount = 100
	return opts
}

// ---------------------------------------------------------------------------
// Size and shape gates
// ---------------------------------------------------------------------------

// MightCompileEval reports whether eval code is small enough to consider.
func MightCompileEval(code *bytecode.UnlinkedCodeBlock, opts Options) bool {
	return opts.Enabled && code.InstructionCount() <= opts.MaximumOptimizationCandidateInstructionCount
}

// MightCompileProgram reports whether global code is small enough to consider.
func MightCompileProgram(code *bytecode.UnlinkedCodeBlock, opts Options) bool {
	return opts.Enabled && code.InstructionCount() <= opts.MaximumOptimizationCandidateInstructionCount
}

// MightCompileFunctionForCall reports whether a function is small enough
// to compile for calls.
func MightCompileFunctionForCall(code *bytecode.UnlinkedCodeBlock, opts Options) bool {
	return opts.Enabled && code.InstructionCount() <= opts.MaximumOptimizationCandidateInstructionCount
}

// MightCompileFunctionForConstruct reports whether a function is small
// enough to compile for construction.
func MightCompileFunctionForConstruct(code *bytecode.UnlinkedCodeBlock, opts Options) bool {
	return opts.Enabled && code.InstructionCount() <= opts.MaximumOptimizationCandidateInstructionCount
}

// MightInlineFunctionForCall reports whether a function is a candidate for
// inlining at call sites.
func MightInlineFunctionForCall(code *bytecode.UnlinkedCodeBlock, opts Options) bool {
	return opts.Enabled &&
		code.InstructionCount() <= opts.MaximumFunctionForCallInlineCandidateInstructionCount &&
		!code.NeedsActivation &&
		code.IsInliningCandidate
}

// MightInlineFunctionForConstruct reports whether a function is a
// candidate for inlining at construct sites.
func MightInlineFunctionForConstruct(code *bytecode.UnlinkedCodeBlock, opts Options) bool {
	return opts.Enabled &&
		code.InstructionCount() <= opts.MaximumFunctionForConstructInlineCandidateInstructionCount &&
		!code.NeedsActivation &&
		code.IsInliningCandidate
}

// ---------------------------------------------------------------------------
// Per-opcode verdicts
// ---------------------------------------------------------------------------

// CanCompileOpcode classifies a single instruction.
func CanCompileOpcode(op bytecode.Opcode, code *bytecode.UnlinkedCodeBlock, operands []int32, opts Options) CapabilityLevel {
	switch op {
	case bytecode.OpDiv, bytecode.OpMod, bytecode.OpToNumber:
		if !opts.SupportsFloatingPoint {
			return CannotCompile
		}
		return CanCompile

	case bytecode.OpCallVarargs:
		// Only the forwarding form f.apply(this, arguments) is handled,
		// and only when inlined.
		if code.UsesArguments && len(operands) > 3 && bytecode.VirtualRegister(operands[3]) == code.ArgumentsRegister {
			return MayInline
		}
		return CannotCompile

	case bytecode.OpPushWithScope,
		bytecode.OpPopScope,
		bytecode.OpPushNameScope,
		bytecode.OpGetPNames,
		bytecode.OpNextPName,
		bytecode.OpCatch,
		bytecode.OpDebug,
		bytecode.OpProfileWillCall,
		bytecode.OpProfileDidCall,
		bytecode.OpDelByID,
		bytecode.OpIn,
		bytecode.OpCallEval,
		bytecode.OpSwitchString:
		return CannotCompile
	}
	if !op.IsValid() {
		return CannotCompile
	}
	return CanCompile
}

// CanInlineOpcode reports whether a single instruction may appear in
// inlined code.
func CanInlineOpcode(op bytecode.Opcode, code *bytecode.UnlinkedCodeBlock, operands []int32, opts Options) bool {
	switch op {
	// Inlining splices IR into the caller's frame; it cannot materialize a
	// nested scope.
	case bytecode.OpCreateActivation,
		bytecode.OpTearOffActivation,
		bytecode.OpInitLazyReg,
		bytecode.OpNewFunc,
		bytecode.OpNewFuncExp,
		bytecode.OpGetScopedVar,
		bytecode.OpPutScopedVar,
		bytecode.OpPushNameScope:
		return false

	// Regexp operands are not remapped into the caller.
	case bytecode.OpNewRegExp:
		return false
	}
	return CanCompileOpcode(op, code, operands, opts) != CannotCompile
}

func debugFail(code *bytecode.UnlinkedCodeBlock, op bytecode.Opcode, offset int, what string, opts Options) {
	if opts.DebugFail {
		log.Debugf("cannot %s %s at bc#%d in %s", what, op, offset, code.Name)
	}
}

// CanCompileOpcodes scans the whole stream and returns the lowest verdict.
func CanCompileOpcodes(code *bytecode.UnlinkedCodeBlock, opts Options) CapabilityLevel {
	result := CanCompile
	code.ForEachInstruction(func(offset int, op bytecode.Opcode, operands []int32) bool {
		level := CanCompileOpcode(op, code, operands, opts)
		if level != CanCompile {
			debugFail(code, op, offset, "compile", opts)
		}
		result = LeastUpperBound(result, level)
		return result != CannotCompile
	})
	return result
}

// CanInlineOpcodes reports whether every instruction may be inlined.
func CanInlineOpcodes(code *bytecode.UnlinkedCodeBlock, opts Options) bool {
	ok := true
	code.ForEachInstruction(func(offset int, op bytecode.Opcode, operands []int32) bool {
		if !CanInlineOpcode(op, code, operands, opts) {
			debugFail(code, op, offset, "inline", opts)
			ok = false
		}
		return ok
	})
	return ok
}

// ---------------------------------------------------------------------------
// Whole-code verdicts
// ---------------------------------------------------------------------------

// CanCompileEval combines the size gate with the opcode scan.
func CanCompileEval(code *bytecode.UnlinkedCodeBlock, opts Options) CapabilityLevel {
	if !MightCompileEval(code, opts) {
		return CannotCompile
	}
	return CanCompileOpcodes(code, opts)
}

// CanCompileProgram combines the size gate with the opcode scan.
func CanCompileProgram(code *bytecode.UnlinkedCodeBlock, opts Options) CapabilityLevel {
	if !MightCompileProgram(code, opts) {
		return CannotCompile
	}
	return CanCompileOpcodes(code, opts)
}

// CanCompileFunctionForCall combines the size gate with the opcode scan.
func CanCompileFunctionForCall(code *bytecode.UnlinkedCodeBlock, opts Options) CapabilityLevel {
	if !MightCompileFunctionForCall(code, opts) {
		return CannotCompile
	}
	return CanCompileOpcodes(code, opts)
}

// CanCompileFunctionForConstruct combines the size gate with the opcode scan.
func CanCompileFunctionForConstruct(code *bytecode.UnlinkedCodeBlock, opts Options) CapabilityLevel {
	if !MightCompileFunctionForConstruct(code, opts) {
		return CannotCompile
	}
	return CanCompileOpcodes(code, opts)
}

// CanInlineFunctionForCall reports whether a function may be inlined at
// call sites.
func CanInlineFunctionForCall(code *bytecode.UnlinkedCodeBlock, opts Options) bool {
	return MightInlineFunctionForCall(code, opts) && CanInlineOpcodes(code, opts)
}

// CanInlineFunctionForConstruct reports whether a function may be inlined
// at construct sites.
func CanInlineFunctionForConstruct(code *bytecode.UnlinkedCodeBlock, opts Options) bool {
	return MightInlineFunctionForConstruct(code, opts) && CanInlineOpcodes(code, opts)
}

// Verdict bundles every capability answer for one code block.
type Verdict struct {
	Compile            CapabilityLevel
	InlineForCall      bool
	InlineForConstruct bool
}

// Analyze computes the full verdict appropriate to code's type.
func Analyze(code *bytecode.UnlinkedCodeBlock, opts Options) Verdict {
	switch code.CodeType {
	case bytecode.EvalCode:
		return Verdict{Compile: CanCompileEval(code, opts)}
	case bytecode.GlobalCode:
		return Verdict{Compile: CanCompileProgram(code, opts)}
	default:
		return Verdict{
			Compile:            CanCompileFunctionForCall(code, opts),
			InlineForCall:      CanInlineFunctionForCall(code, opts),
			InlineForConstruct: CanInlineFunctionForConstruct(code, opts),
		}
	}
}
