package vm

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/chazu/tierup/pkg/bytecode"
	"github.com/chazu/tierup/pkg/value"
	"github.com/chazu/tierup/store"
)

// ---------------------------------------------------------------------------
// VM: ties linking, tier-up and collection together
// ---------------------------------------------------------------------------

// VM owns the global object, the linked code blocks and the compile
// worklist.
type VM struct {
	opts     Options
	global   *GlobalObject
	worklist *JITWorklist
	cache    VerdictCache

	mu     sync.Mutex
	blocks []*CodeBlock
	cycle  atomic.Uint64
}

// NewVM creates a VM that optimizes with compiler. cache may be nil.
func NewVM(opts Options, compiler Compiler, cache VerdictCache) *VM {
	return &VM{
		opts:     opts,
		global:   NewGlobalObject(),
		worklist: NewJITWorklist(compiler, opts, cache),
		cache:    cache,
	}
}

// Options returns the tiering policy.
func (vm *VM) Options() Options { return vm.opts }

// Global returns the global object.
func (vm *VM) Global() *GlobalObject { return vm.global }

// Worklist returns the compile worklist.
func (vm *VM) Worklist() *JITWorklist { return vm.worklist }

// Link links exec into a baseline CodeBlock. If the cache remembers
// earlier jettisons of the same bytecode, the retry counter resumes from
// there.
func (vm *VM) Link(exec *Executable) (*CodeBlock, error) {
	cb, err := linkExecutable(exec, vm.global, vm.opts, vm)
	if err != nil {
		return nil, err
	}
	if vm.cache != nil {
		retries, err := vm.cache.ReoptimizationRetries(cb.Hash())
		switch {
		case err == nil && retries > 0:
			cb.setReoptimizationRetryCounter(uint32(retries))
			cb.OptimizeAfterWarmUp()
		case err != nil && !errors.Is(err, store.ErrNotFound):
			log.Warningf("tiering history: %s", err)
		}
	}

	vm.mu.Lock()
	vm.blocks = append(vm.blocks, cb)
	vm.mu.Unlock()
	return cb, nil
}

// LinkUnlinked is Link for code with no function object.
func (vm *VM) LinkUnlinked(unlinked *bytecode.UnlinkedCodeBlock) (*CodeBlock, error) {
	return vm.Link(NewExecutable(unlinked, 0))
}

// CodeBlocks returns every baseline block linked by vm.
func (vm *VM) CodeBlocks() []*CodeBlock {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	out := make([]*CodeBlock, len(vm.blocks))
	copy(out, vm.blocks)
	return out
}

// Enter counts one entry into cb and returns the code to run. Crossing
// the threshold queues a background compile.
func (vm *VM) Enter(cb *CodeBlock) *CodeBlock {
	if cb.CountEntry() && cb.State() == Unoptimized {
		vm.worklist.Enqueue(cb)
	}
	return cb.Replacement()
}

// LoopHint counts one back edge of cb.
func (vm *VM) LoopHint(cb *CodeBlock) {
	if cb.CountLoopIteration() && cb.State() == Unoptimized {
		vm.worklist.Enqueue(cb)
	}
}

// Optimize compiles cb synchronously.
func (vm *VM) Optimize(ctx context.Context, cb *CodeBlock) (*CodeBlock, error) {
	return vm.worklist.CompileSync(ctx, cb)
}

// CollectGarbage runs one collection cycle: everything reachable from
// roots, globals and linked code is marked, then every block is
// finalized against the result. It returns the marked cells.
func (vm *VM) CollectGarbage(roots ...value.Value) LiveSet {
	v := NewMarkVisitor(vm.cycle.Add(1))
	for _, r := range roots {
		v.Append(r)
	}
	vm.global.VisitAggregate(v)

	blocks := vm.CodeBlocks()
	for _, cb := range blocks {
		cb.VisitAggregate(v)
	}
	for _, cb := range blocks {
		if r := cb.Replacement(); r != cb {
			r.FinalizeUnconditionally(v.Marked)
		}
		cb.FinalizeUnconditionally(v.Marked)
	}
	return v.Marked
}

// ICStats aggregates inline cache statistics over every linked block.
func (vm *VM) ICStats() ICStats {
	return CollectICStats(vm.CodeBlocks()...)
}

// Close stops the worklist.
func (vm *VM) Close() {
	vm.worklist.Stop()
}

func (vm *VM) noteJettison(cb *CodeBlock, reason string) {
	vm.worklist.jettisoned.Add(1)
	vm.worklist.record(cb, "jettisoned", reason)
}
