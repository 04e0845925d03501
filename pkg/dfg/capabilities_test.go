package dfg

import (
	"testing"

	"github.com/chazu/tierup/pkg/bytecode"
	"github.com/chazu/tierup/pkg/value"
)

// straightLine builds a small function that every tier accepts, then
// lets extra append more instructions before the final return.
func straightLine(t *testing.T, extra func(b *bytecode.Builder, r bytecode.VirtualRegister)) *bytecode.UnlinkedCodeBlock {
	t.Helper()
	b := bytecode.NewBuilder("f", bytecode.FunctionCode, 2)
	b.SetInliningCandidate(true)
	r := b.NewLocal()
	one := b.AddConstant(value.FromInt32(1))
	b.Emit(bytecode.OpEnter)
	b.Emit(bytecode.OpAdd, int32(r), int32(bytecode.ArgumentToOperand(1)), int32(one))
	if extra != nil {
		extra(b, r)
	}
	b.Emit(bytecode.OpRet, int32(r))
	code, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return code
}

func TestCanCompileOpcodesStraightLine(t *testing.T) {
	code := straightLine(t, nil)
	opts := DefaultOptions()
	if got := CanCompileOpcodes(code, opts); got != CanCompile {
		t.Errorf("CanCompileOpcodes = %s, want CanCompile", got)
	}
	if !CanInlineFunctionForCall(code, opts) {
		t.Error("small candidate should inline")
	}
}

func TestUnsupportedOpcodes(t *testing.T) {
	tests := []struct {
		name string
		emit func(b *bytecode.Builder, r bytecode.VirtualRegister)
		want CapabilityLevel
	}{
		{"op_pop_scope", func(b *bytecode.Builder, r bytecode.VirtualRegister) { b.Emit(bytecode.OpPopScope) }, CannotCompile},
		{"op_catch", func(b *bytecode.Builder, r bytecode.VirtualRegister) { b.Emit(bytecode.OpCatch, int32(r)) }, CannotCompile},
		{"op_in", func(b *bytecode.Builder, r bytecode.VirtualRegister) { b.Emit(bytecode.OpIn, int32(r), int32(r), int32(r)) }, CannotCompile},
		{"op_call_eval", func(b *bytecode.Builder, r bytecode.VirtualRegister) {
			b.Emit(bytecode.OpCallEval, int32(r), int32(r), 1, 0)
		}, CannotCompile},
		{"op_call_varargs without arguments", func(b *bytecode.Builder, r bytecode.VirtualRegister) {
			b.Emit(bytecode.OpCallVarargs, int32(r), int32(r), int32(r), int32(r), 0)
		}, CannotCompile},
		{"op_loop_hint", func(b *bytecode.Builder, r bytecode.VirtualRegister) { b.Emit(bytecode.OpLoopHint) }, CanCompile},
	}

	opts := DefaultOptions()
	for _, tt := range tests {
		code := straightLine(t, tt.emit)
		if got := CanCompileOpcodes(code, opts); got != tt.want {
			t.Errorf("%s: CanCompileOpcodes = %s, want %s", tt.name, got, tt.want)
		}
	}
}

func TestCallVarargsForwardingMayInline(t *testing.T) {
	b := bytecode.NewBuilder("apply", bytecode.FunctionCode, 1)
	args := b.NewLocal()
	dst := b.NewLocal()
	b.SetUsesArguments(args)
	b.Emit(bytecode.OpEnter)
	b.Emit(bytecode.OpCreateArguments, int32(args))
	b.Emit(bytecode.OpCallVarargs, int32(dst), int32(bytecode.Callee), int32(bytecode.ArgumentToOperand(0)), int32(args), 2)
	b.Emit(bytecode.OpRet, int32(dst))
	code := b.MustBuild()

	if got := CanCompileOpcodes(code, DefaultOptions()); got != MayInline {
		t.Errorf("CanCompileOpcodes = %s, want MayInline", got)
	}
}

func TestCanInlineRejectsScopes(t *testing.T) {
	opts := DefaultOptions()
	code := straightLine(t, func(b *bytecode.Builder, r bytecode.VirtualRegister) {
		b.Emit(bytecode.OpCreateActivation, int32(r))
	})
	if CanCompileOpcodes(code, opts) != CanCompile {
		t.Error("activation creation should still compile")
	}
	if CanInlineOpcodes(code, opts) {
		t.Error("activation creation must not inline")
	}

	fn := straightLine(t, nil)
	code = straightLine(t, func(b *bytecode.Builder, r bytecode.VirtualRegister) {
		b.Emit(bytecode.OpNewFuncExp, int32(r), b.AddFunctionExpr(fn))
	})
	if CanInlineOpcodes(code, opts) {
		t.Error("closure creation must not inline")
	}
}

func TestFloatingPointGate(t *testing.T) {
	code := straightLine(t, func(b *bytecode.Builder, r bytecode.VirtualRegister) {
		b.Emit(bytecode.OpDiv, int32(r), int32(r), int32(r))
	})
	opts := DefaultOptions()
	if CanCompileOpcodes(code, opts) != CanCompile {
		t.Error("division should compile with an FPU")
	}
	opts.SupportsFloatingPoint = false
	if CanCompileOpcodes(code, opts) != CannotCompile {
		t.Error("division should not compile without an FPU")
	}
}

func TestSizeGates(t *testing.T) {
	code := straightLine(t, nil)
	opts := DefaultOptions()
	opts.MaximumOptimizationCandidateInstructionCount = code.InstructionCount() - 1
	if CanCompileFunctionForCall(code, opts) != CannotCompile {
		t.Error("oversized function should not compile")
	}
	opts = DefaultOptions()
	opts.MaximumFunctionForCallInlineCandidateInstructionCount = 1
	if CanInlineFunctionForCall(code, opts) {
		t.Error("oversized function should not inline")
	}
	opts = DefaultOptions()
	opts.Enabled = false
	if MightCompileProgram(code, opts) {
		t.Error("disabled tier compiles nothing")
	}
}

func TestCapabilityMonotonicity(t *testing.T) {
	opts := DefaultOptions()
	bases := []*bytecode.UnlinkedCodeBlock{
		straightLine(t, nil),
		straightLine(t, func(b *bytecode.Builder, r bytecode.VirtualRegister) { b.Emit(bytecode.OpLoopHint) }),
	}

	for _, base := range bases {
		before := CanCompileOpcodes(base, opts)
		for _, op := range bytecode.AllOpcodes() {
			// splice op (all operands zero) in front of the final op_ret
			ret := len(base.Instructions) - bytecode.OpRet.Length()
			stream := append([]int32(nil), base.Instructions[:ret]...)
			stream = append(stream, int32(op))
			stream = append(stream, make([]int32, op.Length()-1)...)
			stream = append(stream, base.Instructions[ret:]...)
			extended := &bytecode.UnlinkedCodeBlock{
				Name:               base.Name,
				CodeType:           base.CodeType,
				Instructions:       stream,
				NumParameters:      base.NumParameters,
				NumCalleeRegisters: base.NumCalleeRegisters,
				Constants:          base.Constants,
				ArgumentsRegister:  bytecode.InvalidVirtualRegister,
			}

			after := CanCompileOpcodes(extended, opts)
			if after > before {
				t.Errorf("appending %s raised the verdict from %s to %s", op, before, after)
			}
			single := CanCompileOpcode(op, extended, make([]int32, op.Length()-1), opts)
			if want := LeastUpperBound(before, single); after != want {
				t.Errorf("appending %s: verdict %s, want %s", op, after, want)
			}
		}
	}
}

func TestAnalyzeByCodeType(t *testing.T) {
	opts := DefaultOptions()
	fn := straightLine(t, nil)
	v := Analyze(fn, opts)
	if v.Compile != CanCompile || !v.InlineForCall || !v.InlineForConstruct {
		t.Errorf("Analyze(function) = %+v", v)
	}

	b := bytecode.NewBuilder("global", bytecode.GlobalCode, 1)
	r := b.NewLocal()
	b.Emit(bytecode.OpEnter)
	b.Emit(bytecode.OpEnd, int32(r))
	v = Analyze(b.MustBuild(), opts)
	if v.Compile != CanCompile || v.InlineForCall {
		t.Errorf("Analyze(global) = %+v", v)
	}
}
