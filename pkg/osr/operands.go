package osr

import (
	"fmt"

	"github.com/chazu/tierup/pkg/bytecode"
)

// Operands holds one T per argument and per local of a frame. Flat
// indexing puts the arguments first.
type Operands[T any] struct {
	arguments []T
	locals    []T
}

// NewOperands returns an Operands with every entry set to the zero T.
func NewOperands[T any](numArguments, numLocals int) Operands[T] {
	return Operands[T]{
		arguments: make([]T, numArguments),
		locals:    make([]T, numLocals),
	}
}

// Fill sets every entry to v.
func (o *Operands[T]) Fill(v T) {
	for i := range o.arguments {
		o.arguments[i] = v
	}
	for i := range o.locals {
		o.locals[i] = v
	}
}

func (o *Operands[T]) NumberOfArguments() int { return len(o.arguments) }
func (o *Operands[T]) NumberOfLocals() int    { return len(o.locals) }

// Size returns the total number of entries.
func (o *Operands[T]) Size() int { return len(o.arguments) + len(o.locals) }

func (o *Operands[T]) Argument(i int) T { return o.arguments[i] }
func (o *Operands[T]) Local(i int) T    { return o.locals[i] }

func (o *Operands[T]) SetArgument(i int, v T) { o.arguments[i] = v }

// SetLocal sets local i. Out-of-range locals are ignored.
func (o *Operands[T]) SetLocal(i int, v T) {
	if i >= 0 && i < len(o.locals) {
		o.locals[i] = v
	}
}

// HasOperand reports whether r names an entry.
func (o *Operands[T]) HasOperand(r bytecode.VirtualRegister) bool {
	switch {
	case r.IsArgument():
		return r.ToArgument() < len(o.arguments)
	case r.IsLocal():
		return r.ToLocal() < len(o.locals)
	default:
		return false
	}
}

// Operand returns the entry for r.
// Panics if r is not an argument or local in range.
func (o *Operands[T]) Operand(r bytecode.VirtualRegister) T {
	return *o.slot(r)
}

// SetOperand sets the entry for r.
// Panics if r is not an argument or local in range.
func (o *Operands[T]) SetOperand(r bytecode.VirtualRegister, v T) {
	*o.slot(r) = v
}

func (o *Operands[T]) slot(r bytecode.VirtualRegister) *T {
	if !o.HasOperand(r) {
		panic(fmt.Sprintf("osr.Operands: no operand %s in frame (%d args, %d locals)", r, len(o.arguments), len(o.locals)))
	}
	if r.IsArgument() {
		return &o.arguments[r.ToArgument()]
	}
	return &o.locals[r.ToLocal()]
}

// At returns the entry at flat index i.
func (o *Operands[T]) At(i int) T {
	if i < len(o.arguments) {
		return o.arguments[i]
	}
	return o.locals[i-len(o.arguments)]
}

// SetAt sets the entry at flat index i.
func (o *Operands[T]) SetAt(i int, v T) {
	if i < len(o.arguments) {
		o.arguments[i] = v
		return
	}
	o.locals[i-len(o.arguments)] = v
}

// OperandForIndex maps a flat index back to its register.
func (o *Operands[T]) OperandForIndex(i int) bytecode.VirtualRegister {
	if i < len(o.arguments) {
		return bytecode.ArgumentToOperand(i)
	}
	return bytecode.LocalToOperand(i - len(o.arguments))
}

// ForEach calls fn for every entry, arguments first.
func (o *Operands[T]) ForEach(fn func(r bytecode.VirtualRegister, v T)) {
	for i := 0; i < o.Size(); i++ {
		fn(o.OperandForIndex(i), o.At(i))
	}
}

// Entries returns a flat copy of every entry, arguments first.
func (o *Operands[T]) Entries() []T {
	out := make([]T, 0, o.Size())
	out = append(out, o.arguments...)
	return append(out, o.locals...)
}
