package osr

import (
	"fmt"
	"strings"

	"github.com/chazu/tierup/pkg/value"
)

// InlineCallFrame describes a callee whose code was inlined into the
// machine frame of its caller. Its locals live StackOffset slots above the
// caller's, and its call-frame header occupies the CallFrameHeaderSize
// locals immediately below StackOffset.
type InlineCallFrame struct {
	Executable         string     `cbor:"1,keyasint"`
	StackOffset        int        `cbor:"2,keyasint"`
	NumCalleeRegisters int        `cbor:"3,keyasint"`
	NumArguments       int        `cbor:"4,keyasint"`
	IsCall             bool       `cbor:"5,keyasint"`
	Caller             CodeOrigin `cbor:"6,keyasint"`
}

// CodeOrigin names a bytecode position, possibly inside inlined code.
type CodeOrigin struct {
	BytecodeIndex   int              `cbor:"1,keyasint"`
	InlineCallFrame *InlineCallFrame `cbor:"2,keyasint,omitempty"`
}

// InlineDepth counts enclosing inline frames.
func (o CodeOrigin) InlineDepth() int {
	depth := 0
	for f := o.InlineCallFrame; f != nil; f = f.Caller.InlineCallFrame {
		depth++
	}
	return depth
}

// String implements fmt.Stringer.
func (o CodeOrigin) String() string {
	var parts []string
	cur := o
	for {
		if cur.InlineCallFrame == nil {
			parts = append(parts, fmt.Sprintf("bc#%d", cur.BytecodeIndex))
			break
		}
		parts = append(parts, fmt.Sprintf("%s bc#%d", cur.InlineCallFrame.Executable, cur.BytecodeIndex))
		cur = cur.InlineCallFrame.Caller
	}
	return strings.Join(parts, " <- ")
}

// Code is what reconstruction needs to know about the baseline code block
// an exit resumes in.
type Code interface {
	NumParameters() int
	NumCalleeRegisters() int
	ConstantRegister(i int) value.Value
}

// FrameLayout is a plain Code, for code blocks known only by their shape.
type FrameLayout struct {
	Parameters      int
	CalleeRegisters int
	Constants       []value.Value
}

func (f FrameLayout) NumParameters() int      { return f.Parameters }
func (f FrameLayout) NumCalleeRegisters() int { return f.CalleeRegisters }

// ConstantRegister returns constant i, or undefined when out of range.
func (f FrameLayout) ConstantRegister(i int) value.Value {
	if i < 0 || i >= len(f.Constants) {
		return value.Undefined
	}
	return f.Constants[i]
}
