package vm

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/chazu/tierup/pkg/bytecode"
	"github.com/chazu/tierup/pkg/osr"
	"github.com/chazu/tierup/pkg/value"
)

// OSRExit is one exit site of optimized code.
type OSRExit struct {
	osr.ExitSite
	Index int

	count atomic.Uint32
}

// BytecodeOffset returns where the baseline tier resumes.
func (e *OSRExit) BytecodeOffset() int { return e.Origin.BytecodeIndex }

// Count returns how many times the exit was taken.
func (e *OSRExit) Count() uint32 { return e.count.Load() }

// ExitResult is everything the baseline tier needs to resume a frame.
type ExitResult struct {
	BytecodeOffset int
	Origin         osr.CodeOrigin
	Recoveries     osr.Operands[osr.ValueRecovery]
	Values         osr.Operands[value.Value]
	Reoptimized    bool
}

// HandleOSRExit leaves optimized code through exit exitIndex. It counts
// the exit, reconstructs the baseline frame from state, and jettisons cb
// once exits cross the reoptimization threshold.
//
// A malformed event stream is a compiler bug and panics.
func (cb *CodeBlock) HandleOSRExit(exitIndex int, state *osr.MachineState) (ExitResult, error) {
	if cb.jitType != OptimizedJIT || cb.payload == nil || cb.payload.SideTable == nil {
		return ExitResult{}, fmt.Errorf("vm: %s has no OSR exits", cb)
	}
	if exitIndex < 0 || exitIndex >= len(cb.exits) {
		return ExitResult{}, fmt.Errorf("vm: %s: exit %d out of range [0, %d)", cb, exitIndex, len(cb.exits))
	}
	exit := cb.exits[exitIndex]
	exit.count.Add(1)
	if exit.Kind.IsCountable() {
		cb.CountOSRExit()
	}

	var opts []osr.ReconstructOption
	if live := cb.payload.Liveness; live != nil {
		opts = append(opts, osr.WithLiveness(func(r bytecode.VirtualRegister) bool { return live(exitIndex, r) }))
	}
	recoveries, err := cb.payload.SideTable.Reconstruct(cb.alternative, exitIndex, opts...)
	if err != nil {
		if errors.Is(err, osr.ErrMalformedStream) {
			panic(fmt.Sprintf("vm: %s: exit %d: %s", cb, exitIndex, err))
		}
		return ExitResult{}, fmt.Errorf("vm: %s: exit %d: %w", cb, exitIndex, err)
	}

	values, err := osr.Materialize(recoveries, state)
	if err != nil {
		return ExitResult{}, fmt.Errorf("vm: %s: exit %d: %w", cb, exitIndex, err)
	}

	result := ExitResult{
		BytecodeOffset: exit.BytecodeOffset(),
		Origin:         exit.Origin,
		Recoveries:     recoveries,
		Values:         values,
	}
	log.Debugf("%s: exit %d (%s) to bc#%d", cb, exitIndex, exit.Kind, result.BytecodeOffset)

	if !cb.IsJettisoned() && cb.ShouldReoptimizeNow() {
		cb.Jettison(fmt.Sprintf("%d OSR exits", cb.OSRExitCounter()))
		result.Reoptimized = true
	}
	return result, nil
}
