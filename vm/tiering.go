package vm

import (
	"errors"
	"fmt"
	"math"

	"github.com/chazu/tierup/pkg/bytecode"
)

// ErrInvalidTransition is returned when a tier transition is not allowed
// from the current state.
var ErrInvalidTransition = errors.New("vm: invalid tier transition")

// TierState tracks where a CodeBlock is in its tiering life cycle.
type TierState uint8

const (
	Unoptimized TierState = iota
	CandidateForOptimization
	Optimizing
	Optimized
	Jettisoned
)

// String implements fmt.Stringer.
func (s TierState) String() string {
	switch s {
	case Unoptimized:
		return "Unoptimized"
	case CandidateForOptimization:
		return "CandidateForOptimization"
	case Optimizing:
		return "Optimizing"
	case Optimized:
		return "Optimized"
	case Jettisoned:
		return "Jettisoned"
	default:
		return fmt.Sprintf("TierState(%d)", s)
	}
}

// A baseline block cycles Unoptimized -> Candidate -> Optimizing ->
// Optimized and back to Unoptimized when its replacement is jettisoned or
// a compile is refused. Only optimized blocks become Jettisoned.
var validTransitions = map[TierState][]TierState{
	Unoptimized:              {CandidateForOptimization},
	CandidateForOptimization: {Optimizing, Unoptimized},
	Optimizing:               {Optimized, Unoptimized},
	Optimized:                {Unoptimized, Jettisoned},
}

// State returns the current tier state.
func (cb *CodeBlock) State() TierState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Transition moves cb to state to.
func (cb *CodeBlock) Transition(to TierState) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.transitionLocked(to)
}

func (cb *CodeBlock) transitionLocked(to TierState) error {
	from := cb.state
	if to == Jettisoned && cb.jitType != OptimizedJIT {
		return fmt.Errorf("%w: %s: baseline code cannot be jettisoned", ErrInvalidTransition, cb)
	}
	for _, next := range validTransitions[from] {
		if next == to {
			cb.state = to
			return nil
		}
	}
	return fmt.Errorf("%w: %s: %s -> %s", ErrInvalidTransition, cb, from, to)
}

// ---------------------------------------------------------------------------
// Execution counting
// ---------------------------------------------------------------------------

// Counter returns the tier-up execution counter.
func (cb *CodeBlock) Counter() *ExecutionCounter { return &cb.counter }

// CountExecutions adds n executions and reports whether the optimization
// threshold has been reached.
func (cb *CodeBlock) CountExecutions(n int32) bool {
	if !cb.counter.Add(n) {
		return false
	}
	return cb.CheckIfOptimizationThresholdReached()
}

// CountEntry counts one function entry.
func (cb *CodeBlock) CountEntry() bool {
	return cb.CountExecutions(cb.opts.ExecutionCounterIncrementForEntry)
}

// CountLoopIteration counts one back edge.
func (cb *CodeBlock) CountLoopIteration() bool {
	return cb.CountExecutions(cb.opts.ExecutionCounterIncrementForLoop)
}

// CheckIfOptimizationThresholdReached reports whether cb is hot enough
// to optimize.
func (cb *CodeBlock) CheckIfOptimizationThresholdReached() bool {
	return cb.counter.CheckIfThresholdCrossedAndSet(cb)
}

// OptimizeAfterWarmUp sets the normal tier-up threshold.
func (cb *CodeBlock) OptimizeAfterWarmUp() {
	cb.counter.SetNewThreshold(cb.opts.ThresholdForOptimizeAfterWarmUp, cb)
}

// OptimizeAfterLongWarmUp sets the threshold used after a failed compile.
func (cb *CodeBlock) OptimizeAfterLongWarmUp() {
	cb.counter.SetNewThreshold(cb.opts.ThresholdForOptimizeAfterLongWarmUp, cb)
}

// OptimizeSoon sets the threshold used when the optimizer asks for
// another attempt.
func (cb *CodeBlock) OptimizeSoon() {
	cb.counter.SetNewThreshold(cb.opts.ThresholdForOptimizeSoon, cb)
}

// OptimizeNextInvocation makes the next check fire.
func (cb *CodeBlock) OptimizeNextInvocation() {
	cb.counter.SetNewThreshold(0, cb)
}

// DontOptimizeAnytimeSoon stops the counter from firing.
func (cb *CodeBlock) DontOptimizeAnytimeSoon() {
	cb.counter.DeferIndefinitely()
}

// ---------------------------------------------------------------------------
// Threshold scaling
// ---------------------------------------------------------------------------

func codeTypeThresholdMultiplier(t bytecode.CodeType) float64 {
	if t == bytecode.EvalCode {
		return evalThresholdMultiplier
	}
	return 1
}

func (cb *CodeBlock) codeTypeThresholdMultiplier() float64 {
	return codeTypeThresholdMultiplier(cb.unlinked.CodeType)
}

// OptimizationThresholdScalingFactor grows slowly with code size, so
// small functions optimize early and large ones are discounted.
func (cb *CodeBlock) OptimizationThresholdScalingFactor() float64 {
	return cb.opts.Scaling.Factor(cb.InstructionCount()) * cb.codeTypeThresholdMultiplier()
}

// AdjustThreshold scales desired for code of the given type and size whose
// optimized versions have been thrown away retries times.
func AdjustThreshold(opts Options, codeType bytecode.CodeType, instructionCount int, retries uint32, desired int32) float64 {
	factor := opts.Scaling.Factor(instructionCount) * codeTypeThresholdMultiplier(codeType)
	return float64(desired) * factor * math.Ldexp(1, int(retries))
}

// ClipThreshold clips an adjusted threshold to [1, MaxInt32].
func ClipThreshold(t float64) int32 {
	if t < 1 {
		return 1
	}
	if t > math.MaxInt32 {
		return math.MaxInt32
	}
	return int32(t)
}

// AdjustedThreshold returns desiredThreshold scaled by code size and by
// 2^retries, without clipping.
func (cb *CodeBlock) AdjustedThreshold(desiredThreshold int32) float64 {
	retries := cb.BaselineVersion().ReoptimizationRetryCounter()
	return AdjustThreshold(cb.opts, cb.unlinked.CodeType, cb.InstructionCount(), retries, desiredThreshold)
}

// AdjustedCounterValue is AdjustedThreshold clipped to [1, MaxInt32].
func (cb *CodeBlock) AdjustedCounterValue(desiredThreshold int32) int32 {
	return ClipThreshold(cb.AdjustedThreshold(desiredThreshold))
}

// ---------------------------------------------------------------------------
// Reoptimization
// ---------------------------------------------------------------------------

// ReoptimizationRetryCounter returns how many times optimized code for
// this function has been thrown away.
func (cb *CodeBlock) ReoptimizationRetryCounter() uint32 {
	return cb.reoptimizationRetryCounter.Load()
}

// CountReoptimization bumps the retry counter, up to the configured cap.
func (cb *CodeBlock) CountReoptimization() {
	for {
		old := cb.reoptimizationRetryCounter.Load()
		if old >= cb.opts.ReoptimizationRetryCounterMax {
			log.Warningf("%s: reoptimization retry counter at cap %d", cb, old)
			return
		}
		if cb.reoptimizationRetryCounter.CompareAndSwap(old, old+1) {
			return
		}
	}
}

func (cb *CodeBlock) setReoptimizationRetryCounter(n uint32) {
	if n > cb.opts.ReoptimizationRetryCounterMax {
		n = cb.opts.ReoptimizationRetryCounterMax
	}
	cb.reoptimizationRetryCounter.Store(n)
}

// OSRExitCounter returns the number of countable exits taken from this
// optimized block.
func (cb *CodeBlock) OSRExitCounter() uint32 { return cb.osrExitCounter.Load() }

// CountOSRExit counts one exit.
func (cb *CodeBlock) CountOSRExit() { cb.osrExitCounter.Add(1) }

// AdjustExitCount scales an exit-count threshold for code of the given
// type whose optimized versions have been thrown away retries times.
func AdjustExitCount(codeType bytecode.CodeType, retries uint32, desired uint32) uint32 {
	t := uint64(desired) * uint64(codeTypeThresholdMultiplier(codeType))
	if retries >= 32 || t > math.MaxUint32>>retries {
		return math.MaxUint32
	}
	return uint32(t << retries)
}

func (cb *CodeBlock) adjustedExitCountThreshold(desired uint32) uint32 {
	return AdjustExitCount(cb.unlinked.CodeType, cb.BaselineVersion().ReoptimizationRetryCounter(), desired)
}

// ExitCountThresholdForReoptimization returns the number of exits after
// which optimized code is thrown away.
func (cb *CodeBlock) ExitCountThresholdForReoptimization() uint32 {
	return cb.adjustedExitCountThreshold(cb.opts.OSRExitCountForReoptimization)
}

// ExitCountThresholdForReoptimizationFromLoop is the threshold for exits
// taken from loop entry.
func (cb *CodeBlock) ExitCountThresholdForReoptimizationFromLoop() uint32 {
	return cb.adjustedExitCountThreshold(cb.opts.OSRExitCountForReoptimizationFromLoop)
}

// ShouldReoptimizeNow reports whether exits have crossed the threshold.
func (cb *CodeBlock) ShouldReoptimizeNow() bool {
	return cb.OSRExitCounter() >= cb.ExitCountThresholdForReoptimization()
}

// ShouldReoptimizeFromLoopNow is ShouldReoptimizeNow for loop exits.
func (cb *CodeBlock) ShouldReoptimizeFromLoopNow() bool {
	return cb.OSRExitCounter() >= cb.ExitCountThresholdForReoptimizationFromLoop()
}

// ---------------------------------------------------------------------------
// Installation and jettison
// ---------------------------------------------------------------------------

// install publishes optimized as the replacement of baseline cb.
func (cb *CodeBlock) install(optimized *CodeBlock) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if err := cb.transitionLocked(Optimized); err != nil {
		return err
	}
	cb.replacement.Store(optimized)
	log.Infof("%s: installed optimized code", cb)
	return nil
}

// IsJettisoned reports whether optimized code has been thrown away.
func (cb *CodeBlock) IsJettisoned() bool { return cb.State() == Jettisoned }

// JettisonReason returns why the block was jettisoned.
func (cb *CodeBlock) JettisonReason() string {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.jettisonReason
}

// Jettison throws away optimized code: the baseline alternative becomes
// the replacement again, its retry counter is bumped and it resumes
// counting toward a higher threshold. Jettisoning a block twice is a
// no-op. Jettisoning code with no alternative panics.
func (cb *CodeBlock) Jettison(reason string) {
	if cb.alternative == nil {
		panic(fmt.Sprintf("vm: jettison of %s: no alternative", cb))
	}

	cb.mu.Lock()
	if cb.state == Jettisoned {
		cb.mu.Unlock()
		return
	}
	cb.state = Jettisoned
	cb.jettisonReason = reason
	cb.mu.Unlock()

	cb.UnlinkIncomingCalls()

	baseline := cb.alternative
	baseline.mu.Lock()
	if baseline.replacement.Load() == cb {
		baseline.replacement.Store(baseline)
	}
	if baseline.state == Optimized {
		baseline.state = Unoptimized
	}
	baseline.mu.Unlock()

	baseline.CountReoptimization()
	baseline.OptimizeAfterWarmUp()

	log.Noticef("%s: jettisoned: %s (retries %d)", cb, reason, baseline.ReoptimizationRetryCounter())
	if cb.vm != nil {
		cb.vm.noteJettison(cb, reason)
	}
}
