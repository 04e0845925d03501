package vm

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/chazu/tierup/pkg/bytecode"
	"github.com/chazu/tierup/pkg/value"
)

// JITType says which tier produced a CodeBlock.
type JITType uint8

const (
	BaselineJIT JITType = iota
	OptimizedJIT
)

// String implements fmt.Stringer.
func (t JITType) String() string {
	switch t {
	case BaselineJIT:
		return "baseline"
	case OptimizedJIT:
		return "optimized"
	default:
		return fmt.Sprintf("JITType(%d)", t)
	}
}

// ---------------------------------------------------------------------------
// CodeBlock: linked, executable code for one function, program or eval
// ---------------------------------------------------------------------------

// CodeBlock is linked code plus the metadata the tiers share: inline
// caches, call links, value profiles and tiering counters.
//
// A baseline CodeBlock is created by Link. When the optimizing compiler
// finishes, an optimized CodeBlock is installed as its replacement; the
// optimized block's alternative is the baseline block it falls back to.
type CodeBlock struct {
	executable *Executable
	unlinked   *bytecode.UnlinkedCodeBlock
	global     *GlobalObject
	opts       Options
	vm         *VM

	jitType      JITType
	instructions []int32
	constants    []value.Value

	stubs     []*StructureStubInfo
	callLinks []*CallLinkInfo
	profiles  []*ValueProfile

	mu                         sync.Mutex
	state                      TierState
	counter                    ExecutionCounter
	reoptimizationRetryCounter atomic.Uint32
	replacement                atomic.Pointer[CodeBlock]
	incoming                   map[*CallLinkInfo]struct{}

	// Optimized code only.
	alternative    *CodeBlock
	payload        *OptimizedPayload
	exits          []*OSRExit
	osrExitCounter atomic.Uint32
	jettisonReason string

	lastVisitedCycle atomic.Uint64
}

// Link produces a baseline CodeBlock from unlinked code. Global variable
// operands are rewritten from identifier indices to slots of global, and
// one inline cache, call link and value profile is allocated per site.
func Link(unlinked *bytecode.UnlinkedCodeBlock, global *GlobalObject, opts Options) (*CodeBlock, error) {
	return linkExecutable(NewExecutable(unlinked, 0), global, opts, nil)
}

func linkExecutable(exec *Executable, global *GlobalObject, opts Options, vm *VM) (*CodeBlock, error) {
	unlinked := exec.Unlinked
	cb := &CodeBlock{
		executable:   exec,
		unlinked:     unlinked,
		global:       global,
		opts:         opts,
		vm:           vm,
		jitType:      BaselineJIT,
		instructions: make([]int32, len(unlinked.Instructions)),
		constants:    unlinked.Constants,
		stubs:        make([]*StructureStubInfo, unlinked.NumStructureStubs),
		callLinks:    make([]*CallLinkInfo, unlinked.NumCallLinks),
		profiles:     make([]*ValueProfile, unlinked.NumValueProfiles),
		incoming:     make(map[*CallLinkInfo]struct{}),
	}
	copy(cb.instructions, unlinked.Instructions)

	var linkErr error
	unlinked.ForEachInstruction(func(offset int, op bytecode.Opcode, operands []int32) bool {
		info := bytecode.GetOpcodeInfo(op)
		for i, kind := range info.Operands {
			if i >= len(operands) {
				linkErr = fmt.Errorf("vm: link %s: truncated %s at bc#%d", unlinked.Name, info.Name, offset)
				return false
			}
			w := operands[i]
			switch kind {
			case bytecode.OperandGlobal:
				if w < 0 || int(w) >= len(unlinked.Identifiers) {
					linkErr = fmt.Errorf("vm: link %s: global identifier %d out of range at bc#%d", unlinked.Name, w, offset)
					return false
				}
				cb.instructions[offset+1+i] = int32(global.SlotFor(unlinked.Identifiers[w]))
			case bytecode.OperandStructureStub:
				if err := cb.checkSlot(w, len(cb.stubs), "structure stub", offset); err != nil {
					linkErr = err
					return false
				}
				cb.stubs[w] = NewStructureStubInfo(offset)
			case bytecode.OperandCallLink:
				if err := cb.checkSlot(w, len(cb.callLinks), "call link", offset); err != nil {
					linkErr = err
					return false
				}
				cb.callLinks[w] = newCallLinkInfo(cb, offset, op == bytecode.OpConstruct)
			case bytecode.OperandValueProfile:
				if err := cb.checkSlot(w, len(cb.profiles), "value profile", offset); err != nil {
					linkErr = err
					return false
				}
				cb.profiles[w] = NewValueProfile(offset)
			}
		}
		return true
	})
	if linkErr != nil {
		return nil, linkErr
	}

	cb.state = Unoptimized
	cb.replacement.Store(cb)
	cb.OptimizeAfterWarmUp()
	return cb, nil
}

func (cb *CodeBlock) checkSlot(w int32, n int, what string, offset int) error {
	if w < 0 || int(w) >= n {
		return fmt.Errorf("vm: link %s: %s %d out of range at bc#%d", cb.unlinked.Name, what, w, offset)
	}
	return nil
}

// newOptimizedCodeBlock wraps a compiled payload. The result shares the
// baseline block's bytecode and constants.
func newOptimizedCodeBlock(baseline *CodeBlock, payload *OptimizedPayload) *CodeBlock {
	cb := &CodeBlock{
		executable:   baseline.executable,
		unlinked:     baseline.unlinked,
		global:       baseline.global,
		opts:         baseline.opts,
		vm:           baseline.vm,
		jitType:      OptimizedJIT,
		instructions: baseline.instructions,
		constants:    baseline.constants,
		incoming:     make(map[*CallLinkInfo]struct{}),
		state:        Optimized,
		alternative:  baseline,
		payload:      payload,
	}
	if payload.SideTable != nil {
		for i, site := range payload.SideTable.Exits {
			cb.exits = append(cb.exits, &OSRExit{ExitSite: site, Index: i})
		}
	}
	cb.replacement.Store(cb)
	cb.counter.DeferIndefinitely()
	return cb
}

// Name returns the name of the code.
func (cb *CodeBlock) Name() string { return cb.unlinked.Name }

// Executable returns the owning function object.
func (cb *CodeBlock) Executable() *Executable { return cb.executable }

// Unlinked returns the code this block was linked from.
func (cb *CodeBlock) Unlinked() *bytecode.UnlinkedCodeBlock { return cb.unlinked }

// Global returns the global object the code was linked against.
func (cb *CodeBlock) Global() *GlobalObject { return cb.global }

// Options returns the tiering policy in effect.
func (cb *CodeBlock) Options() Options { return cb.opts }

// JITType returns the tier that produced the block.
func (cb *CodeBlock) JITType() JITType { return cb.jitType }

// CodeType returns the kind of code.
func (cb *CodeBlock) CodeType() bytecode.CodeType { return cb.unlinked.CodeType }

// Instructions returns the linked instruction stream.
func (cb *CodeBlock) Instructions() []int32 { return cb.instructions }

// InstructionCount returns the stream length in words.
func (cb *CodeBlock) InstructionCount() int { return len(cb.instructions) }

// Hash returns the content hash of the underlying bytecode.
func (cb *CodeBlock) Hash() string { return cb.unlinked.HashString() }

// NumParameters returns the parameter count, this included.
func (cb *CodeBlock) NumParameters() int { return cb.unlinked.NumParameters }

// NumCalleeRegisters returns the number of local registers in a frame.
func (cb *CodeBlock) NumCalleeRegisters() int { return cb.unlinked.NumCalleeRegisters }

// ConstantRegister returns constant i, or undefined if there is none.
func (cb *CodeBlock) ConstantRegister(i int) value.Value {
	if i < 0 || i >= len(cb.constants) {
		return value.Undefined
	}
	return cb.constants[i]
}

// NumStructureStubs returns the number of property access sites.
func (cb *CodeBlock) NumStructureStubs() int { return len(cb.stubs) }

// StructureStub returns the inline cache of property access site i.
func (cb *CodeBlock) StructureStub(i int) *StructureStubInfo { return cb.stubs[i] }

// NumCallLinks returns the number of call sites.
func (cb *CodeBlock) NumCallLinks() int { return len(cb.callLinks) }

// CallLink returns the link info of call site i.
func (cb *CodeBlock) CallLink(i int) *CallLinkInfo { return cb.callLinks[i] }

// NumValueProfiles returns the number of profiled instructions.
func (cb *CodeBlock) NumValueProfiles() int { return len(cb.profiles) }

// ValueProfile returns value profile i.
func (cb *CodeBlock) ValueProfile(i int) *ValueProfile { return cb.profiles[i] }

// ValueProfileForBytecodeOffset returns the profile attached to the
// instruction at offset, or nil.
func (cb *CodeBlock) ValueProfileForBytecodeOffset(offset int) *ValueProfile {
	for _, p := range cb.profiles {
		if p.BytecodeOffset == offset {
			return p
		}
	}
	return nil
}

// Alternative returns the baseline block an optimized block falls back
// to. Baseline blocks have no alternative.
func (cb *CodeBlock) Alternative() *CodeBlock { return cb.alternative }

// BaselineVersion returns the baseline block for cb.
func (cb *CodeBlock) BaselineVersion() *CodeBlock {
	if cb.alternative != nil {
		return cb.alternative
	}
	return cb
}

// Replacement returns the code currently installed for this function:
// the optimized block if one is installed, otherwise the block itself.
func (cb *CodeBlock) Replacement() *CodeBlock { return cb.replacement.Load() }

// Payload returns the compiled output of an optimized block.
func (cb *CodeBlock) Payload() *OptimizedPayload { return cb.payload }

// NumExits returns the number of OSR exits of an optimized block.
func (cb *CodeBlock) NumExits() int { return len(cb.exits) }

// Exit returns OSR exit i.
func (cb *CodeBlock) Exit(i int) *OSRExit { return cb.exits[i] }

// HandlerForBytecodeOffset returns the innermost exception handler
// covering offset.
func (cb *CodeBlock) HandlerForBytecodeOffset(offset int) (bytecode.HandlerInfo, bool) {
	var (
		best  bytecode.HandlerInfo
		found bool
	)
	for _, h := range cb.unlinked.ExceptionHandlers {
		if !h.Contains(offset) {
			continue
		}
		if !found || h.End-h.Start < best.End-best.Start {
			best, found = h, true
		}
	}
	return best, found
}

// String implements fmt.Stringer.
func (cb *CodeBlock) String() string {
	return fmt.Sprintf("%s#%s/%s", cb.unlinked.Name, cb.Hash()[:8], cb.jitType)
}
