package bytecode

import (
	"errors"
	"strings"
	"testing"

	"github.com/chazu/tierup/pkg/value"
)

// buildLoop assembles:
//
//	function sum(n) { var i = 0, s = 0; while (i < n) { s = s + o.x; i++ } return s }
func buildLoop(t *testing.T) *UnlinkedCodeBlock {
	t.Helper()
	b := NewBuilder("sum", FunctionCode, 2)
	i := b.NewLocal()
	s := b.NewLocal()
	tmp := b.NewLocal()
	zero := b.AddConstant(value.FromInt32(0))
	x := b.AddIdentifier("x")
	n := ArgumentToOperand(1)

	b.Emit(OpEnter)
	b.Emit(OpMov, int32(i), int32(zero))
	b.Emit(OpMov, int32(s), int32(zero))
	head := b.NewLabel()
	exit := b.NewLabel()
	b.Bind(head)
	b.Emit(OpLoopHint)
	b.EmitJump(OpJGreaterEq, exit, int32(i), int32(n))
	b.Emit(OpGetByID, int32(tmp), int32(ArgumentToOperand(0)), x)
	b.Emit(OpAdd, int32(s), int32(s), int32(tmp))
	b.Emit(OpInc, int32(i))
	b.EmitJump(OpJmp, head)
	b.Bind(exit)
	b.Emit(OpRet, int32(s))

	code, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return code
}

func TestBuilderMetadataAllocation(t *testing.T) {
	code := buildLoop(t)

	if code.NumStructureStubs != 1 || code.NumValueProfiles != 1 {
		t.Errorf("stubs=%d profiles=%d, want 1 and 1", code.NumStructureStubs, code.NumValueProfiles)
	}
	if code.NumCallLinks != 0 {
		t.Errorf("NumCallLinks = %d, want 0", code.NumCallLinks)
	}
	if code.NumCalleeRegisters != 3 {
		t.Errorf("NumCalleeRegisters = %d, want 3", code.NumCalleeRegisters)
	}
}

func TestBuilderJumpPatching(t *testing.T) {
	code := buildLoop(t)

	var jumps []int
	code.ForEachInstruction(func(offset int, op Opcode, operands []int32) bool {
		if op.IsJump() {
			target := offset + int(operands[len(operands)-1])
			if Opcode(code.Instructions[target]) != OpLoopHint && Opcode(code.Instructions[target]) != OpRet {
				t.Errorf("%s at bc#%d lands on %s", op, offset, code.Opcode(target))
			}
			jumps = append(jumps, offset)
		}
		return true
	})
	if len(jumps) != 2 {
		t.Errorf("found %d jumps, want 2", len(jumps))
	}
}

func TestBuilderConstantDedup(t *testing.T) {
	b := NewBuilder("k", GlobalCode, 1)
	a := b.AddConstant(value.FromInt32(1))
	c := b.AddConstant(value.FromInt32(1))
	d := b.AddConstant(value.Undefined)
	if a != c {
		t.Errorf("duplicate constant got %s and %s", a, c)
	}
	if d == a {
		t.Error("distinct constants share a register")
	}
	if b.AddIdentifier("foo") != b.AddIdentifier("foo") {
		t.Error("identifiers not interned")
	}
}

func TestBuilderUnboundLabel(t *testing.T) {
	b := NewBuilder("bad", GlobalCode, 1)
	b.EmitJump(OpJmp, b.NewLabel())
	if _, err := b.Build(); !errors.Is(err, ErrInvalidBytecode) {
		t.Errorf("Build() error = %v, want ErrInvalidBytecode", err)
	}
}

func TestBuilderEmitWrongArity(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	NewBuilder("bad", GlobalCode, 1).Emit(OpAdd, 0, 1)
}

func TestValidateRejectsBadOperands(t *testing.T) {
	tests := []struct {
		name string
		code *UnlinkedCodeBlock
	}{
		{"unknown opcode", &UnlinkedCodeBlock{Instructions: []int32{9999}}},
		{"truncated", &UnlinkedCodeBlock{Instructions: []int32{int32(OpAdd), 0}, NumCalleeRegisters: 1}},
		{"local out of range", &UnlinkedCodeBlock{Instructions: []int32{int32(OpRet), 4}, NumCalleeRegisters: 1}},
		{"constant out of range", &UnlinkedCodeBlock{Instructions: []int32{int32(OpRet), int32(ConstantRegister(0))}}},
		{"jump into operand", &UnlinkedCodeBlock{Instructions: []int32{int32(OpJmp), 1}}},
		{"metadata mismatch", &UnlinkedCodeBlock{
			Instructions:       []int32{int32(OpGetCallee), 0, 0},
			NumCalleeRegisters: 1,
			NumValueProfiles:   2,
		}},
	}
	for _, tt := range tests {
		if err := tt.code.Validate(); !errors.Is(err, ErrInvalidBytecode) {
			t.Errorf("%s: Validate() = %v, want ErrInvalidBytecode", tt.name, err)
		}
	}
}

func TestHashStable(t *testing.T) {
	a := buildLoop(t)
	b := buildLoop(t)
	if a.Hash() != b.Hash() {
		t.Error("identical code hashes differently")
	}

	other := NewBuilder("sum", FunctionCode, 2)
	r := other.NewLocal()
	other.Emit(OpRet, int32(r))
	if other.MustBuild().Hash() == a.Hash() {
		t.Error("different code hashes the same")
	}
	if len(a.HashString()) != 16 {
		t.Errorf("HashString() = %q", a.HashString())
	}
}

func TestDisassemble(t *testing.T) {
	code := buildLoop(t)
	out := code.Disassemble()

	for _, want := range []string{
		"; === sum (function) ===",
		"op_get_by_id r2, this, id0(x), stub0, profile0",
		"op_mov r0, k0(0)",
		"op_jmp",
		"; Constants:",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("disassembly missing %q:\n%s", want, out)
		}
	}
}
