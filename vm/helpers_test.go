package vm

import (
	"context"
	"testing"

	"github.com/chazu/tierup/pkg/bytecode"
	"github.com/chazu/tierup/pkg/dfg"
	"github.com/chazu/tierup/pkg/osr"
	"github.com/chazu/tierup/pkg/value"
)

// flatOptions makes the scaling factor exactly 1 so thresholds are
// easy to reason about.
func flatOptions() Options {
	opts := DefaultOptions()
	opts.Scaling = Scaling{D: 1}
	opts.ThresholdForOptimizeAfterWarmUp = 100
	opts.ThresholdForOptimizeAfterLongWarmUp = 500
	opts.ThresholdForOptimizeSoon = 50
	opts.ExecutionCounterIncrementForEntry = 1
	return opts
}

// sampleCode is a small function that reads a global, accesses a
// property of its first argument and calls it.
func sampleCode(t *testing.T, name string) *bytecode.UnlinkedCodeBlock {
	t.Helper()
	b := bytecode.NewBuilder(name, bytecode.FunctionCode, 2)
	r0 := b.NewLocal()
	r1 := b.NewLocal()
	one := b.AddConstant(value.FromInt32(1))
	b.AddConstant(value.FromCell(500))
	x := b.AddIdentifier("x")
	length := b.AddIdentifier("length")

	b.Emit(bytecode.OpEnter)
	b.Emit(bytecode.OpGetGlobalVar, int32(r0), x)
	b.Emit(bytecode.OpGetByID, int32(r1), int32(bytecode.ArgumentToOperand(1)), length)
	b.Emit(bytecode.OpAdd, int32(r0), int32(r0), int32(one))
	b.Emit(bytecode.OpCall, int32(r1), int32(r1), 1, 8)
	b.Emit(bytecode.OpPutGlobalVar, x, int32(r0))
	b.Emit(bytecode.OpRet, int32(r0))
	code, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return code
}

// sizedCode is a function of exactly n instruction words.
func sizedCode(t *testing.T, codeType bytecode.CodeType, n int) *bytecode.UnlinkedCodeBlock {
	t.Helper()
	b := bytecode.NewBuilder("sized", codeType, 1)
	for i := 0; i < n; i++ {
		b.Emit(bytecode.OpLoopHint)
	}
	code, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return code
}

func mustLink(t *testing.T, code *bytecode.UnlinkedCodeBlock, opts Options) *CodeBlock {
	t.Helper()
	cb, err := Link(code, NewGlobalObject(), opts)
	if err != nil {
		t.Fatalf("Link: %v", err)
	}
	return cb
}

// sampleSideTable describes one exit at stream index 4: local 0 lives
// in r0 as an int32, local 1 was stored to its stack slot.
func sampleSideTable(exits ...osr.ExitSite) *osr.SideTable {
	if len(exits) == 0 {
		exits = []osr.ExitSite{{Kind: osr.ExitBadType, Origin: osr.CodeOrigin{BytecodeIndex: 7}, StreamIndex: 4}}
	}
	return &osr.SideTable{
		Graph: dfg.NewMinifiedGraph(nil),
		Events: osr.NewVariableEventStream(
			osr.Reset{},
			osr.BirthToFill{ID: 1, Reg: osr.InGPRReg(0), Format: osr.DataFormatInteger},
			osr.MovHint{ID: 1, Operand: bytecode.LocalToOperand(0)},
			osr.SetLocal{Operand: bytecode.LocalToOperand(1), Format: osr.DataFormatJS},
		),
		Exits:    exits,
		WeakRefs: []value.CellID{42},
	}
}

// installOptimized takes baseline through the tier-up states and
// installs payload.
func installOptimized(t *testing.T, baseline *CodeBlock, payload *OptimizedPayload) *CodeBlock {
	t.Helper()
	for _, s := range []TierState{CandidateForOptimization, Optimizing} {
		if err := baseline.Transition(s); err != nil {
			t.Fatalf("Transition(%s): %v", s, err)
		}
	}
	optimized := newOptimizedCodeBlock(baseline, payload)
	if err := baseline.install(optimized); err != nil {
		t.Fatalf("install: %v", err)
	}
	return optimized
}

func payloadCompiler(table *osr.SideTable, calls *int) Compiler {
	return CompilerFunc(func(ctx context.Context, plan *Plan) (*OptimizedPayload, error) {
		if calls != nil {
			*calls++
		}
		return &OptimizedPayload{MachineCode: []byte{0x90}, SideTable: table}, nil
	})
}
