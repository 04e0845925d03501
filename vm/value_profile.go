package vm

import (
	"sync"

	"github.com/chazu/tierup/pkg/value"
)

// ValueProfileBuckets is the number of recent values a profile keeps
// between prediction updates.
const ValueProfileBuckets = 8

// ValueProfile records values produced by one instruction so the
// optimizing compiler can speculate on their type.
type ValueProfile struct {
	BytecodeOffset int

	mu         sync.Mutex
	buckets    [ValueProfileBuckets]value.Value
	next       int
	filled     int
	prediction value.SpeculatedType
	samples    uint64
}

// NewValueProfile creates an empty profile for the instruction at offset.
func NewValueProfile(offset int) *ValueProfile {
	return &ValueProfile{BytecodeOffset: offset}
}

// Observe records one produced value.
func (p *ValueProfile) Observe(v value.Value) {
	p.mu.Lock()
	p.buckets[p.next] = v
	p.next = (p.next + 1) % ValueProfileBuckets
	if p.filled < ValueProfileBuckets {
		p.filled++
	}
	p.samples++
	p.mu.Unlock()
}

// ComputeUpdatedPrediction folds the observed values into the prediction,
// empties the buckets and returns the new prediction.
func (p *ValueProfile) ComputeUpdatedPrediction() value.SpeculatedType {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := 0; i < p.filled; i++ {
		p.prediction = p.prediction.Merge(value.SpeculationFromValue(p.buckets[i]))
	}
	p.filled = 0
	p.next = 0
	return p.prediction
}

// Prediction returns the prediction as of the last update.
func (p *ValueProfile) Prediction() value.SpeculatedType {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.prediction
}

// Samples returns the total number of observed values.
func (p *ValueProfile) Samples() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.samples
}
