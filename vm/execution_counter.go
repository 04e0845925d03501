package vm

import (
	"math"
	"sync/atomic"
)

// ExecutionCounter decides when baseline code is hot enough to optimize.
//
// The counter counts upward from -threshold; it fires once it reaches
// zero. Increments are relaxed atomics: a lost update only shifts the
// moment of tier-up slightly.
type ExecutionCounter struct {
	counter atomic.Int32
	// base is the adjusted threshold of the current epoch, so counter+base
	// is the number of executions counted since the last reset.
	base            atomic.Int64
	totalCount      atomic.Int64
	activeThreshold atomic.Int32
}

// thresholdOwner scales a requested threshold into a counter value.
type thresholdOwner interface {
	AdjustedCounterValue(desiredThreshold int32) int32
}

// SetNewThreshold starts a new epoch that fires after threshold
// executions, scaled by owner. A threshold of zero fires at the next
// check.
func (c *ExecutionCounter) SetNewThreshold(threshold int32, owner thresholdOwner) {
	c.totalCount.Add(c.epochCount())
	c.activeThreshold.Store(threshold)
	if threshold <= 0 {
		c.base.Store(0)
		c.counter.Store(0)
		return
	}
	adjusted := owner.AdjustedCounterValue(threshold)
	c.base.Store(int64(adjusted))
	c.counter.Store(-adjusted)
}

// DeferIndefinitely keeps the counter from firing until a new threshold
// is set.
func (c *ExecutionCounter) DeferIndefinitely() {
	c.totalCount.Add(c.epochCount())
	c.activeThreshold.Store(math.MaxInt32)
	c.base.Store(-math.MinInt32)
	c.counter.Store(math.MinInt32)
}

// Add counts increment executions and reports whether the counter has
// crossed its threshold.
func (c *ExecutionCounter) Add(increment int32) bool {
	for {
		old := c.counter.Load()
		next := int64(old) + int64(increment)
		if next > math.MaxInt32 {
			next = math.MaxInt32
		}
		if c.counter.CompareAndSwap(old, int32(next)) {
			return next >= 0
		}
	}
}

// HasCrossedThreshold reports whether the counter has fired.
func (c *ExecutionCounter) HasCrossedThreshold() bool {
	return c.counter.Load() >= 0
}

// CheckIfThresholdCrossedAndSet reports whether the counter has fired.
// If not, it rescales the active threshold for owner's current state
// (for example after a retry counter change), keeping the executions
// already counted, and reports whether that rescale fired it.
func (c *ExecutionCounter) CheckIfThresholdCrossedAndSet(owner thresholdOwner) bool {
	if c.HasCrossedThreshold() {
		return true
	}
	threshold := c.activeThreshold.Load()
	if threshold == math.MaxInt32 {
		return false
	}
	executed := c.epochCount()
	adjusted := int64(owner.AdjustedCounterValue(threshold))
	c.base.Store(adjusted)
	remaining := executed - adjusted
	if remaining > math.MaxInt32 {
		remaining = math.MaxInt32
	}
	c.counter.Store(int32(remaining))
	return remaining >= 0
}

// ActiveThreshold returns the unscaled threshold of the current epoch.
func (c *ExecutionCounter) ActiveThreshold() int32 { return c.activeThreshold.Load() }

// Counter returns the raw counter value.
func (c *ExecutionCounter) Counter() int32 { return c.counter.Load() }

// Count returns the total number of executions counted.
func (c *ExecutionCounter) Count() int64 {
	return c.totalCount.Load() + c.epochCount()
}

func (c *ExecutionCounter) epochCount() int64 {
	n := int64(c.counter.Load()) + c.base.Load()
	if n < 0 {
		return 0
	}
	return n
}
