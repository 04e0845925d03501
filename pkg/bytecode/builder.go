package bytecode

import (
	"fmt"

	"github.com/chazu/tierup/pkg/value"
)

// Label is a jump target that may be bound after jumps to it are emitted.
type Label struct {
	offset int
	bound  bool
	refs   []labelRef
}

type labelRef struct {
	instr   int // offset of the jumping instruction
	operand int // absolute index of the target word
}

// Builder assembles an UnlinkedCodeBlock instruction by instruction.
// Metadata operands (value profiles, inline caches, call links) are
// allocated automatically and must be omitted by the caller.
type Builder struct {
	code   *UnlinkedCodeBlock
	consts map[value.Value]int
	idents map[string]int
	labels []*Label
}

// NewBuilder creates a builder for a code block with the given number of
// parameters, this included.
func NewBuilder(name string, codeType CodeType, numParameters int) *Builder {
	return &Builder{
		code: &UnlinkedCodeBlock{
			Name:               name,
			CodeType:           codeType,
			NumParameters:      numParameters,
			Instructions:       make([]int32, 0, 64),
			ArgumentsRegister:  InvalidVirtualRegister,
			ActivationRegister: InvalidVirtualRegister,
		},
		consts: make(map[value.Value]int),
		idents: make(map[string]int),
	}
}

// NewLocal reserves a fresh local register.
func (b *Builder) NewLocal() VirtualRegister {
	r := LocalToOperand(b.code.NumVars)
	b.code.NumVars++
	return r
}

// AddConstant adds a constant to the pool and returns its register.
// If the constant already exists, returns the existing register.
func (b *Builder) AddConstant(v value.Value) VirtualRegister {
	if idx, ok := b.consts[v]; ok {
		return ConstantRegister(idx)
	}
	idx := len(b.code.Constants)
	b.code.Constants = append(b.code.Constants, v)
	b.consts[v] = idx
	return ConstantRegister(idx)
}

// AddIdentifier interns a property or variable name and returns its index.
func (b *Builder) AddIdentifier(name string) int32 {
	if idx, ok := b.idents[name]; ok {
		return int32(idx)
	}
	idx := len(b.code.Identifiers)
	b.code.Identifiers = append(b.code.Identifiers, name)
	b.idents[name] = idx
	return int32(idx)
}

// AddRegExp adds a regexp source and returns its index.
func (b *Builder) AddRegExp(source string) int32 {
	b.code.RegExps = append(b.code.RegExps, source)
	return int32(len(b.code.RegExps) - 1)
}

// AddFunctionDecl adds a nested function declaration template.
func (b *Builder) AddFunctionDecl(fn *UnlinkedCodeBlock) int32 {
	b.code.FunctionDecls = append(b.code.FunctionDecls, fn)
	return int32(len(b.code.FunctionDecls) - 1)
}

// AddFunctionExpr adds a nested function expression template.
func (b *Builder) AddFunctionExpr(fn *UnlinkedCodeBlock) int32 {
	b.code.FunctionExprs = append(b.code.FunctionExprs, fn)
	return int32(len(b.code.FunctionExprs) - 1)
}

// AddSwitchTable adds a jump table and returns its index.
func (b *Builder) AddSwitchTable(offsets []int32) int32 {
	b.code.SwitchTables = append(b.code.SwitchTables, offsets)
	return int32(len(b.code.SwitchTables) - 1)
}

// SetUsesArguments records that the code reifies its arguments object
// into reg.
func (b *Builder) SetUsesArguments(reg VirtualRegister) {
	b.code.UsesArguments = true
	b.code.ArgumentsRegister = reg
}

// SetNeedsActivation records that the code allocates a heap scope into reg.
func (b *Builder) SetNeedsActivation(reg VirtualRegister) {
	b.code.NeedsActivation = true
	b.code.ActivationRegister = reg
}

// SetStrictMode marks the code as strict.
func (b *Builder) SetStrictMode(strict bool) { b.code.IsStrictMode = strict }

// SetInliningCandidate marks the code as eligible for inlining.
func (b *Builder) SetInliningCandidate(candidate bool) { b.code.IsInliningCandidate = candidate }

// SetNumCalleeRegisters overrides the frame size. It defaults to NumVars.
func (b *Builder) SetNumCalleeRegisters(n int) { b.code.NumCalleeRegisters = n }

// CurrentOffset returns the offset the next instruction will be emitted at.
func (b *Builder) CurrentOffset() int {
	return len(b.code.Instructions)
}

// Emit appends an instruction and returns its offset. operands lists the
// non-metadata operands in stream order.
// Panics if the operand count does not match the opcode.
func (b *Builder) Emit(op Opcode, operands ...int32) int {
	info := GetOpcodeInfo(op)
	if !op.IsValid() {
		panic(fmt.Sprintf("Builder.Emit: unknown opcode %d", int32(op)))
	}
	want := 0
	for _, k := range info.Operands {
		if !k.IsMetadata() {
			want++
		}
	}
	if len(operands) != want {
		panic(fmt.Sprintf("Builder.Emit: %s takes %d operands, got %d", info.Name, want, len(operands)))
	}

	offset := len(b.code.Instructions)
	b.code.Instructions = append(b.code.Instructions, int32(op))
	next := 0
	for _, k := range info.Operands {
		switch k {
		case OperandValueProfile:
			b.code.Instructions = append(b.code.Instructions, int32(b.code.NumValueProfiles))
			b.code.NumValueProfiles++
		case OperandStructureStub:
			b.code.Instructions = append(b.code.Instructions, int32(b.code.NumStructureStubs))
			b.code.NumStructureStubs++
		case OperandCallLink:
			b.code.Instructions = append(b.code.Instructions, int32(b.code.NumCallLinks))
			b.code.NumCallLinks++
		default:
			b.code.Instructions = append(b.code.Instructions, operands[next])
			next++
		}
	}
	return offset
}

// NewLabel creates an unbound label.
func (b *Builder) NewLabel() *Label {
	l := &Label{}
	b.labels = append(b.labels, l)
	return l
}

// IsBound reports whether Bind has been called on l.
func (l *Label) IsBound() bool { return l.bound }

// Bind binds the label to the current offset and patches earlier jumps.
// Panics if the label is already bound.
func (b *Builder) Bind(l *Label) {
	if l.bound {
		panic("Builder.Bind: label already bound")
	}
	l.offset = len(b.code.Instructions)
	l.bound = true
	for _, ref := range l.refs {
		b.code.Instructions[ref.operand] = int32(l.offset - ref.instr)
	}
	l.refs = nil
}

// EmitJump emits a jump-family instruction whose target operand is l.
// operands lists the remaining non-metadata operands, target excluded.
func (b *Builder) EmitJump(op Opcode, l *Label, operands ...int32) int {
	info := GetOpcodeInfo(op)
	targetPos := -1
	all := make([]int32, 0, len(operands)+1)
	next := 0
	for i, k := range info.Operands {
		if k.IsMetadata() {
			continue
		}
		if k == OperandTarget {
			targetPos = i
			all = append(all, 0)
			continue
		}
		if next >= len(operands) {
			panic(fmt.Sprintf("Builder.EmitJump: %s: too few operands", info.Name))
		}
		all = append(all, operands[next])
		next++
	}
	if targetPos < 0 {
		panic(fmt.Sprintf("Builder.EmitJump: %s has no target operand", info.Name))
	}
	offset := b.Emit(op, all...)
	word := offset + 1 + targetPos
	if l.bound {
		b.code.Instructions[word] = int32(l.offset - offset)
	} else {
		l.refs = append(l.refs, labelRef{instr: offset, operand: word})
	}
	return offset
}

// LabelOffset returns the bound offset of a label.
// Panics if the label is unbound.
func (b *Builder) LabelOffset(l *Label) int {
	if !l.bound {
		panic("Builder.LabelOffset: label not bound")
	}
	return l.offset
}

// AddHandler registers an exception handler over [start, end) jumping to
// target. All three labels must be bound before Build.
func (b *Builder) AddHandler(start, end, target *Label, scopeDepth int) {
	b.code.ExceptionHandlers = append(b.code.ExceptionHandlers, HandlerInfo{
		Start:      b.LabelOffset(start),
		End:        b.LabelOffset(end),
		Target:     b.LabelOffset(target),
		ScopeDepth: scopeDepth,
	})
}

// Build finalizes and validates the code block. The builder must not be
// used afterwards.
func (b *Builder) Build() (*UnlinkedCodeBlock, error) {
	for _, l := range b.labels {
		if !l.bound && len(l.refs) > 0 {
			return nil, fmt.Errorf("%w: %s: unbound label referenced at bc#%d", ErrInvalidBytecode, b.code.Name, l.refs[0].instr)
		}
	}
	if b.code.NumCalleeRegisters < b.code.NumVars {
		b.code.NumCalleeRegisters = b.code.NumVars
	}
	if err := b.code.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", b.code.Name, err)
	}
	code := b.code
	b.code = nil
	return code, nil
}

// MustBuild is like Build but panics on error.
func (b *Builder) MustBuild() *UnlinkedCodeBlock {
	code, err := b.Build()
	if err != nil {
		panic(err)
	}
	return code
}
