package vm

import (
	"math"

	"github.com/chazu/tierup/pkg/dfg"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("tierup.vm")

// Scaling holds the coefficients of the threshold scaling curve
// d + a*sqrt(n+b) + |c*n| for a code block of n instructions.
type Scaling struct {
	A, B, C, D float64
}

// Factor evaluates the curve at instructionCount.
func (s Scaling) Factor(instructionCount int) float64 {
	n := float64(instructionCount)
	return s.D + s.A*math.Sqrt(n+s.B) + math.Abs(s.C*n)
}

// Options controls tiering policy. The zero value is not useful; start
// from DefaultOptions.
type Options struct {
	ThresholdForOptimizeAfterWarmUp     int32
	ThresholdForOptimizeAfterLongWarmUp int32
	ThresholdForOptimizeSoon            int32

	ExecutionCounterIncrementForEntry int32
	ExecutionCounterIncrementForLoop  int32

	Scaling Scaling

	OSRExitCountForReoptimization         uint32
	OSRExitCountForReoptimizationFromLoop uint32
	ReoptimizationRetryCounterMax         uint32

	Capabilities dfg.Options

	// Workers and QueueSize size the background compile worklist.
	Workers   int
	QueueSize int
}

// DefaultOptions returns the stock tiering policy.
func DefaultOptions() Options {
	return Options{
		ThresholdForOptimizeAfterWarmUp:       1000,
		ThresholdForOptimizeAfterLongWarmUp:   5000,
		ThresholdForOptimizeSoon:              1000,
		ExecutionCounterIncrementForEntry:     15,
		ExecutionCounterIncrementForLoop:      1,
		Scaling:                               Scaling{A: 0.061504, B: 1.02406, C: 0, D: 0.825914},
		OSRExitCountForReoptimization:         100,
		OSRExitCountForReoptimizationFromLoop: 5,
		ReoptimizationRetryCounterMax:         18,
		Capabilities:                          dfg.DefaultOptions(),
		Workers:                               1,
		QueueSize:                             64,
	}
}

// evalThresholdMultiplier makes eval code slower to tier up, since it is
// rarely run more than once.
const evalThresholdMultiplier = 10
