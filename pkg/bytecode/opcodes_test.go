package bytecode

import (
	"strings"
	"testing"
)

func TestAllOpcodesHaveMetadata(t *testing.T) {
	// Every value below numOpcodes must be described
	for op := Opcode(0); op < numOpcodes; op++ {
		info := GetOpcodeInfo(op)
		if info.Name == "" || strings.HasPrefix(info.Name, "UNKNOWN") {
			t.Errorf("Opcode %d has no metadata", op)
		}
		if !strings.HasPrefix(info.Name, "op_") {
			t.Errorf("Opcode %d name %q lacks the op_ prefix", op, info.Name)
		}
	}
	if OpcodeCount() != int(numOpcodes) {
		t.Errorf("OpcodeCount() = %d, want %d", OpcodeCount(), numOpcodes)
	}
}

func TestOpcodeNamesUnique(t *testing.T) {
	seen := make(map[string]Opcode)
	for _, op := range AllOpcodes() {
		name := op.String()
		if prev, ok := seen[name]; ok {
			t.Errorf("%s used by both %d and %d", name, prev, op)
		}
		seen[name] = op
		if got, ok := LookupOpcode(name); !ok || got != op {
			t.Errorf("LookupOpcode(%q) = %v, %v", name, got, ok)
		}
	}
}

func TestOpcodeString(t *testing.T) {
	tests := []struct {
		op   Opcode
		want string
	}{
		{OpEnter, "op_enter"},
		{OpMov, "op_mov"},
		{OpAdd, "op_add"},
		{OpGetByID, "op_get_by_id"},
		{OpCallVarargs, "op_call_varargs"},
		{OpLoopHint, "op_loop_hint"},
		{OpEnd, "op_end"},
	}

	for _, tt := range tests {
		got := tt.op.String()
		if got != tt.want {
			t.Errorf("Opcode(%d).String() = %q, want %q", tt.op, got, tt.want)
		}
	}
}

func TestUnknownOpcodeString(t *testing.T) {
	op := Opcode(9999)
	if got := op.String(); !strings.HasPrefix(got, "UNKNOWN") {
		t.Errorf("Unknown opcode should return UNKNOWN, got %q", got)
	}
	if op.IsValid() {
		t.Error("Opcode(9999).IsValid() = true")
	}
}

func TestOpcodeLength(t *testing.T) {
	tests := []struct {
		op   Opcode
		want int
	}{
		{OpEnter, 1},
		{OpMov, 3},
		{OpAdd, 4},
		{OpGetByID, 6},
		{OpPutByID, 5},
		{OpCall, 7},
		{OpJmp, 2},
		{OpJLess, 4},
		{OpLoopHint, 1},
	}

	for _, tt := range tests {
		if got := tt.op.Length(); got != tt.want {
			t.Errorf("%s.Length() = %d, want %d", tt.op, got, tt.want)
		}
	}
}

func TestOpcodeClassification(t *testing.T) {
	for _, op := range []Opcode{OpJmp, OpJTrue, OpJFalse, OpJEqNull, OpJNeqNull, OpJLess, OpJGreaterEq} {
		if !op.IsJump() {
			t.Errorf("%s.IsJump() = false, want true", op)
		}
	}
	for _, op := range []Opcode{OpAdd, OpLoopHint, OpSwitchImm, OpCall} {
		if op.IsJump() {
			t.Errorf("%s.IsJump() = true, want false", op)
		}
	}
	for _, op := range []Opcode{OpCall, OpConstruct, OpCallEval, OpCallVarargs} {
		if !op.IsCall() {
			t.Errorf("%s.IsCall() = false, want true", op)
		}
	}
	for _, op := range []Opcode{OpRet, OpEnd, OpThrow, OpJmp} {
		if !op.IsTerminal() {
			t.Errorf("%s.IsTerminal() = false, want true", op)
		}
	}
	if OpJTrue.IsTerminal() {
		t.Error("conditional jump must fall through")
	}
}

func TestEveryJumpHasTarget(t *testing.T) {
	for _, op := range AllOpcodes() {
		if !op.IsJump() {
			continue
		}
		info := GetOpcodeInfo(op)
		if info.Operands[len(info.Operands)-1] != OperandTarget {
			t.Errorf("%s: last operand is %s, want target", op, info.Operands[len(info.Operands)-1])
		}
	}
}

func TestOperandKindMetadata(t *testing.T) {
	for _, k := range []OperandKind{OperandValueProfile, OperandStructureStub, OperandCallLink} {
		if !k.IsMetadata() {
			t.Errorf("%s.IsMetadata() = false", k)
		}
	}
	for _, k := range []OperandKind{OperandRegister, OperandImmediate, OperandTarget, OperandGlobal} {
		if k.IsMetadata() {
			t.Errorf("%s.IsMetadata() = true", k)
		}
	}
}
