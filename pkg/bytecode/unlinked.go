package bytecode

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/chazu/tierup/pkg/value"
	"github.com/zeebo/xxh3"
)

// CodeType distinguishes the three kinds of executable code.
type CodeType uint8

const (
	GlobalCode CodeType = iota
	EvalCode
	FunctionCode
)

// String returns a human-readable name for the code type.
func (t CodeType) String() string {
	switch t {
	case GlobalCode:
		return "global"
	case EvalCode:
		return "eval"
	case FunctionCode:
		return "function"
	default:
		return fmt.Sprintf("CodeType(%d)", t)
	}
}

// HandlerInfo describes one exception handler range. Start and End are
// instruction offsets (End exclusive); Target is where the handler begins.
type HandlerInfo struct {
	Start      int
	End        int
	Target     int
	ScopeDepth int
}

// Contains reports whether offset lies inside the protected range.
func (h HandlerInfo) Contains(offset int) bool {
	return offset >= h.Start && offset < h.End
}

// UnlinkedCodeBlock is the immutable output of the front end for one
// function, program or eval: a flat instruction stream plus the tables its
// operands index into. It is shared by every CodeBlock linked from it and
// must not be mutated once built.
type UnlinkedCodeBlock struct {
	Name     string
	CodeType CodeType

	// Instructions is the flat stream: opcode word followed by operands.
	Instructions []int32

	NumParameters      int // including this
	NumVars            int
	NumCalleeRegisters int

	Constants     []value.Value
	Identifiers   []string
	RegExps       []string
	FunctionDecls []*UnlinkedCodeBlock
	FunctionExprs []*UnlinkedCodeBlock
	SwitchTables  [][]int32

	ExceptionHandlers []HandlerInfo

	UsesArguments       bool
	ArgumentsRegister   VirtualRegister
	NeedsActivation     bool
	ActivationRegister  VirtualRegister
	IsStrictMode        bool
	IsInliningCandidate bool

	// Per-instruction metadata slot counts. The linker allocates this many
	// value profiles, property inline caches and call link infos.
	NumValueProfiles  int
	NumStructureStubs int
	NumCallLinks      int

	hashOnce sync.Once
	hash     uint64
}

// InstructionCount returns the length of the instruction stream in words.
// Thresholds and size limits are expressed in this unit.
func (u *UnlinkedCodeBlock) InstructionCount() int {
	return len(u.Instructions)
}

// Opcode returns the opcode at the given instruction offset.
func (u *UnlinkedCodeBlock) Opcode(offset int) Opcode {
	return Opcode(u.Instructions[offset])
}

// ConstantRegisterValue returns the constant addressed by a constant register.
// Panics if the register is not a constant or is out of range.
func (u *UnlinkedCodeBlock) ConstantRegisterValue(r VirtualRegister) value.Value {
	idx := r.ToConstantIndex()
	if idx >= len(u.Constants) {
		panic("UnlinkedCodeBlock.ConstantRegisterValue: index out of range")
	}
	return u.Constants[idx]
}

// Identifier returns the identifier at index i.
// Panics if the index is out of range.
func (u *UnlinkedCodeBlock) Identifier(i int) string {
	if i < 0 || i >= len(u.Identifiers) {
		panic("UnlinkedCodeBlock.Identifier: index out of range")
	}
	return u.Identifiers[i]
}

// ForEachInstruction calls fn for every instruction in stream order. The
// operands slice aliases the stream and must not be retained or modified.
// Iteration stops early if fn returns false.
func (u *UnlinkedCodeBlock) ForEachInstruction(fn func(offset int, op Opcode, operands []int32) bool) {
	for pc := 0; pc < len(u.Instructions); {
		op := Opcode(u.Instructions[pc])
		n := op.Length()
		end := pc + n
		if n <= 1 || end > len(u.Instructions) {
			end = pc + 1
		}
		if !fn(pc, op, u.Instructions[pc+1:end]) {
			return
		}
		pc = end
	}
}

// Hash returns a content hash of the instruction stream and the tables
// that affect its meaning. It is stable across processes and used as the
// key for persisted verdicts and tiering history.
func (u *UnlinkedCodeBlock) Hash() uint64 {
	u.hashOnce.Do(func() {
		h := xxh3.New()
		var buf [8]byte
		writeWord := func(w uint64) {
			binary.LittleEndian.PutUint64(buf[:], w)
			h.Write(buf[:])
		}
		writeWord(uint64(u.CodeType))
		writeWord(uint64(u.NumParameters))
		writeWord(uint64(u.NumCalleeRegisters))
		writeWord(uint64(len(u.Instructions)))
		for _, w := range u.Instructions {
			writeWord(uint64(uint32(w)))
		}
		writeWord(uint64(len(u.Constants)))
		for _, c := range u.Constants {
			writeWord(c.Bits())
		}
		for _, id := range u.Identifiers {
			h.WriteString(id)
			h.Write([]byte{0})
		}
		for _, f := range u.FunctionDecls {
			writeWord(f.Hash())
		}
		for _, f := range u.FunctionExprs {
			writeWord(f.Hash())
		}
		flags := uint64(0)
		if u.UsesArguments {
			flags |= 1
		}
		if u.NeedsActivation {
			flags |= 2
		}
		if u.IsStrictMode {
			flags |= 4
		}
		writeWord(flags)
		u.hash = h.Sum64()
	})
	return u.hash
}

// HashString returns Hash formatted as fixed-width hex.
func (u *UnlinkedCodeBlock) HashString() string {
	return fmt.Sprintf("%016x", u.Hash())
}

// ErrInvalidBytecode is wrapped by every Validate failure.
var ErrInvalidBytecode = errors.New("invalid bytecode")

// Validate checks the structural well-formedness of the stream: every
// opcode is known, every instruction is complete, and every operand
// indexes into the table it names.
func (u *UnlinkedCodeBlock) Validate() error {
	counts := map[OperandKind]int{
		OperandValueProfile:  0,
		OperandStructureStub: 0,
		OperandCallLink:      0,
	}
	starts := make(map[int]bool)
	var jumps [][2]int

	for pc := 0; pc < len(u.Instructions); {
		op := Opcode(u.Instructions[pc])
		if !op.IsValid() {
			return fmt.Errorf("%w: unknown opcode %d at bc#%d", ErrInvalidBytecode, int32(op), pc)
		}
		info := GetOpcodeInfo(op)
		if pc+info.Length() > len(u.Instructions) {
			return fmt.Errorf("%w: truncated %s at bc#%d", ErrInvalidBytecode, info.Name, pc)
		}
		starts[pc] = true
		for i, kind := range info.Operands {
			w := u.Instructions[pc+1+i]
			if err := u.checkOperand(kind, w); err != nil {
				return fmt.Errorf("%w: %s at bc#%d operand %d: %v", ErrInvalidBytecode, info.Name, pc, i, err)
			}
			switch kind {
			case OperandTarget:
				jumps = append(jumps, [2]int{pc, pc + int(w)})
			case OperandValueProfile, OperandStructureStub, OperandCallLink:
				counts[kind]++
			}
		}
		pc += info.Length()
	}

	for _, j := range jumps {
		if !starts[j[1]] {
			return fmt.Errorf("%w: jump at bc#%d lands on bc#%d which is not an instruction", ErrInvalidBytecode, j[0], j[1])
		}
	}
	for _, h := range u.ExceptionHandlers {
		if h.Start > h.End || !starts[h.Target] {
			return fmt.Errorf("%w: bad exception handler [%d, %d) -> %d", ErrInvalidBytecode, h.Start, h.End, h.Target)
		}
	}
	if counts[OperandValueProfile] != u.NumValueProfiles ||
		counts[OperandStructureStub] != u.NumStructureStubs ||
		counts[OperandCallLink] != u.NumCallLinks {
		return fmt.Errorf("%w: metadata counts do not match the stream", ErrInvalidBytecode)
	}
	return nil
}

func (u *UnlinkedCodeBlock) checkOperand(kind OperandKind, w int32) error {
	inRange := func(n int, what string) error {
		if w < 0 || int(w) >= n {
			return fmt.Errorf("%s index %d out of range [0, %d)", what, w, n)
		}
		return nil
	}
	switch kind {
	case OperandRegister:
		r := VirtualRegister(w)
		switch {
		case r.IsConstant():
			if r.ToConstantIndex() >= len(u.Constants) {
				return fmt.Errorf("constant %s out of range", r)
			}
		case r.IsLocal():
			if int(r) >= u.NumCalleeRegisters {
				return fmt.Errorf("local %s beyond %d callee registers", r, u.NumCalleeRegisters)
			}
		case r.IsArgument():
			if r.ToArgument() >= u.NumParameters {
				return fmt.Errorf("argument %s beyond %d parameters", r, u.NumParameters)
			}
		}
	case OperandIdentifier, OperandGlobal:
		return inRange(len(u.Identifiers), "identifier")
	case OperandRegExp:
		return inRange(len(u.RegExps), "regexp")
	case OperandFunctionDecl:
		return inRange(len(u.FunctionDecls), "function declaration")
	case OperandFunctionExpr:
		return inRange(len(u.FunctionExprs), "function expression")
	case OperandSwitchTable:
		return inRange(len(u.SwitchTables), "switch table")
	case OperandValueProfile:
		return inRange(u.NumValueProfiles, "value profile")
	case OperandStructureStub:
		return inRange(u.NumStructureStubs, "structure stub")
	case OperandCallLink:
		return inRange(u.NumCallLinks, "call link")
	}
	return nil
}
