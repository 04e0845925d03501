package bytecode

import (
	"fmt"
	"strconv"
	"strings"
)

// VirtualRegister names an operand slot relative to the frame base.
//
// Locals are numbered 0, 1, 2, ...; the call-frame header occupies -1
// through -CallFrameHeaderSize; arguments sit below the header, argument 0
// (this) first. Constants are addressed from FirstConstantRegisterIndex.
type VirtualRegister int32

// Call-frame header slots.
const (
	Callee        VirtualRegister = -1
	ArgumentCount VirtualRegister = -2
	ReturnPC      VirtualRegister = -3
	CallerFrame   VirtualRegister = -4
	ScopeChain    VirtualRegister = -5
	CodeBlockSlot VirtualRegister = -6
)

// CallFrameHeaderSize is the number of header slots in each frame.
const CallFrameHeaderSize = 6

// FirstConstantRegisterIndex is the register of constant 0.
const FirstConstantRegisterIndex VirtualRegister = 0x40000000

// InvalidVirtualRegister marks an absent register operand.
const InvalidVirtualRegister VirtualRegister = 0x3FFFFFFF

// ArgumentToOperand returns the register of argument i (0 is this).
func ArgumentToOperand(i int) VirtualRegister {
	return VirtualRegister(-(CallFrameHeaderSize + 1 + i))
}

// LocalToOperand returns the register of local i.
func LocalToOperand(i int) VirtualRegister {
	return VirtualRegister(i)
}

// ConstantRegister returns the register that addresses constant i.
func ConstantRegister(i int) VirtualRegister {
	return FirstConstantRegisterIndex + VirtualRegister(i)
}

// IsLocal returns true for local slots.
func (r VirtualRegister) IsLocal() bool {
	return r >= 0 && r < FirstConstantRegisterIndex
}

// IsArgument returns true for argument slots, this included.
func (r VirtualRegister) IsArgument() bool {
	return r < -CallFrameHeaderSize
}

// IsHeader returns true for call-frame header slots.
func (r VirtualRegister) IsHeader() bool {
	return r < 0 && r >= -CallFrameHeaderSize
}

// IsConstant returns true for constant registers.
func (r VirtualRegister) IsConstant() bool {
	return r >= FirstConstantRegisterIndex && r != InvalidVirtualRegister
}

// ToLocal returns the local index. Panics if r is not a local.
func (r VirtualRegister) ToLocal() int {
	if !r.IsLocal() {
		panic(fmt.Sprintf("VirtualRegister.ToLocal: %s is not a local", r))
	}
	return int(r)
}

// ToArgument returns the argument index. Panics if r is not an argument.
func (r VirtualRegister) ToArgument() int {
	if !r.IsArgument() {
		panic(fmt.Sprintf("VirtualRegister.ToArgument: %s is not an argument", r))
	}
	return int(-r) - CallFrameHeaderSize - 1
}

// ToConstantIndex returns the constant pool index. Panics if r is not a
// constant register.
func (r VirtualRegister) ToConstantIndex() int {
	if !r.IsConstant() {
		panic(fmt.Sprintf("VirtualRegister.ToConstantIndex: %s is not a constant", r))
	}
	return int(r - FirstConstantRegisterIndex)
}

// Offset returns r shifted by a frame offset. Inlined frames use this to
// translate their registers into the machine frame.
func (r VirtualRegister) Offset(delta int) VirtualRegister {
	if r.IsConstant() {
		return r
	}
	return r + VirtualRegister(delta)
}

var headerNames = [...]string{"callee", "argc", "returnPC", "callerFrame", "scope", "codeBlock"}

// String implements fmt.Stringer.
func (r VirtualRegister) String() string {
	switch {
	case r == InvalidVirtualRegister:
		return "<invalid>"
	case r.IsConstant():
		return fmt.Sprintf("k%d", r.ToConstantIndex())
	case r.IsLocal():
		return fmt.Sprintf("r%d", int(r))
	case r.IsHeader():
		return headerNames[-r-1]
	case r == ArgumentToOperand(0):
		return "this"
	default:
		return fmt.Sprintf("arg%d", r.ToArgument())
	}
}

// ParseVirtualRegister is the inverse of VirtualRegister.String.
func ParseVirtualRegister(s string) (VirtualRegister, error) {
	if s == "this" {
		return ArgumentToOperand(0), nil
	}
	for i, name := range headerNames {
		if s == name {
			return VirtualRegister(-i - 1), nil
		}
	}
	for _, p := range []struct {
		prefix string
		reg    func(int) VirtualRegister
	}{
		{"arg", ArgumentToOperand},
		{"r", LocalToOperand},
		{"k", ConstantRegister},
	} {
		rest, ok := strings.CutPrefix(s, p.prefix)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(rest)
		if err != nil || n < 0 {
			break
		}
		return p.reg(n), nil
	}
	return InvalidVirtualRegister, fmt.Errorf("bytecode: bad register %q", s)
}
