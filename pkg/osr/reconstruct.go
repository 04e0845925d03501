package osr

import (
	"errors"
	"fmt"

	"github.com/chazu/tierup/pkg/bytecode"
	"github.com/chazu/tierup/pkg/dfg"
	"github.com/chazu/tierup/pkg/value"
)

// ErrMalformedStream is returned when an event stream cannot have been
// produced by a correct compiler: a replay window without a Reset, or a
// Fill, Spill or Death for a node that was never born.
var ErrMalformedStream = errors.New("osr: malformed variable event stream")

// ReconstructOption configures Reconstruct.
type ReconstructOption func(*reconstructConfig)

type reconstructConfig struct {
	origin CodeOrigin
	live   func(bytecode.VirtualRegister) bool
}

// WithCodeOrigin sets the origin of the exit. Header slots of every
// enclosing inline frame recover as already in the stack.
func WithCodeOrigin(origin CodeOrigin) ReconstructOption {
	return func(c *reconstructConfig) { c.origin = origin }
}

// WithLiveness supplies bytecode liveness at the exit. Live operands that
// no event in the window mentions recover as an elided arguments object.
func WithLiveness(live func(bytecode.VirtualRegister) bool) ReconstructOption {
	return func(c *reconstructConfig) { c.live = live }
}

// generationInfo is the replayed location of one node's value.
type generationInfo struct {
	format DataFormat
	filled bool
	reg    Reg
	slot   bytecode.VirtualRegister
}

func (g *generationInfo) update(e VariableEvent) {
	switch e := e.(type) {
	case BirthToFill:
		g.format, g.filled, g.reg = e.Format, true, e.Reg
	case Fill:
		g.format, g.filled, g.reg = e.Format, true, e.Reg
	case BirthToSpill:
		g.format, g.filled, g.slot = e.Format, false, e.Slot
	case Spill:
		g.format, g.filled, g.slot = e.Format, false, e.Slot
	case Death:
		g.format = DataFormatNone
	}
}

func (g *generationInfo) usable() bool {
	return g != nil && g.format != DataFormatNone
}

func (g *generationInfo) recovery() ValueRecovery {
	if !g.filled {
		return RecoverDisplacedInJSStack(g.slot, g.format)
	}
	switch {
	case g.format == DataFormatDouble:
		return RecoverInFPR(g.reg.FPR)
	case g.reg.Kind == RegPair:
		return RecoverInPair(g.reg.Tag, g.reg.Payload)
	default:
		return RecoverInGPR(g.reg.GPR, g.format)
	}
}

// numVariables is the number of locals the exit has to populate.
func numVariables(code Code, origin CodeOrigin) int {
	n := code.NumCalleeRegisters()
	if f := origin.InlineCallFrame; f != nil {
		if inner := f.StackOffset + f.NumCalleeRegisters; inner > n {
			n = inner
		}
	}
	return n
}

// Reconstruct computes, for every argument and local of the baseline
// frame, how to recover its value at the exit whose event stream position
// is index. Events [start, index) are replayed, where start is the nearest
// Reset before index.
func Reconstruct(stream *VariableEventStream, code Code, graph *dfg.MinifiedGraph, index int, opts ...ReconstructOption) (Operands[ValueRecovery], error) {
	var cfg reconstructConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	recoveries := NewOperands[ValueRecovery](code.NumParameters(), numVariables(code, cfg.origin))

	if index < 0 || index > stream.Len() {
		return recoveries, fmt.Errorf("%w: exit index %d outside stream of %d events", ErrMalformedStream, index, stream.Len())
	}

	// An exit at the very start is an argument check failure; nothing has
	// been moved out of the stack yet.
	if index == 0 {
		recoveries.Fill(RecoverAlreadyInJSStack())
		return recoveries, nil
	}

	start := index - 1
	for start >= 0 && stream.At(start).Kind() != KindReset {
		start--
	}
	if start < 0 {
		return recoveries, fmt.Errorf("%w: no Reset before event %d", ErrMalformedStream, index)
	}

	sources := NewOperands[ValueSource](code.NumParameters(), recoveries.NumberOfLocals())
	infos := make(map[dfg.MinifiedID]*generationInfo)
	for i := start; i < index; i++ {
		switch e := stream.At(i).(type) {
		case Reset:
		case BirthToFill, BirthToSpill:
			id, _ := eventNodeID(e)
			info := &generationInfo{}
			info.update(e)
			infos[id] = info
		case Fill, Spill, Death:
			id, _ := eventNodeID(e)
			info, ok := infos[id]
			if !ok {
				return recoveries, fmt.Errorf("%w: event %d: %s of unborn node", ErrMalformedStream, i, e)
			}
			info.update(e)
		case MovHint:
			if sources.HasOperand(e.Operand) {
				sources.SetOperand(e.Operand, ValueSourceForNode(e.ID))
			}
		case SetLocal:
			if sources.HasOperand(e.Operand) {
				sources.SetOperand(e.Operand, ValueSourceForDataFormat(e.Format))
			}
		default:
			return recoveries, fmt.Errorf("%w: event %d: unknown event %T", ErrMalformedStream, i, e)
		}
	}

	at := func(id dfg.MinifiedID) *dfg.MinifiedNode {
		if graph == nil || !id.IsValid() {
			return nil
		}
		return graph.At(id)
	}

	for i := 0; i < sources.Size(); i++ {
		operand := sources.OperandForIndex(i)
		recoveries.SetAt(i, resolve(sources.At(i), operand, code, at, infos, cfg.live))
	}

	for f := cfg.origin.InlineCallFrame; f != nil; f = f.Caller.InlineCallFrame {
		for i := 0; i < bytecode.CallFrameHeaderSize; i++ {
			recoveries.SetLocal(f.StackOffset-i-1, RecoverAlreadyInJSStack())
		}
	}

	log.Debugf("reconstructed %d operands from events [%d, %d)", recoveries.Size(), start, index)
	return recoveries, nil
}

func resolve(
	source ValueSource,
	operand bytecode.VirtualRegister,
	code Code,
	at func(dfg.MinifiedID) *dfg.MinifiedNode,
	infos map[dfg.MinifiedID]*generationInfo,
	live func(bytecode.VirtualRegister) bool,
) ValueRecovery {
	if !source.IsSet() {
		if live != nil && live(operand) {
			return RecoverArgumentsThatWereNotCreated()
		}
		return RecoverConstant(value.Undefined)
	}
	if source.IsTriviallyRecoverable() {
		return source.ValueRecovery()
	}

	node := at(source.ID())
	if r, ok := constantRecovery(code, node); ok {
		return r
	}

	info := infos[source.ID()]
	if info.usable() {
		return info.recovery()
	}

	// The node itself was never materialized. A uint32 or double-as-int
	// conversion can fall back to its operand.
	if node != nil && node.HasChild1() && (node.Op == dfg.UInt32ToNumber || node.Op == dfg.DoubleAsInt32) {
		if r, ok := constantRecovery(code, at(node.Child1)); ok {
			return r
		}
		if child := infos[node.Child1]; child.usable() {
			if node.Op == dfg.UInt32ToNumber && child.filled && child.reg.Kind == RegGPR && child.format == DataFormatInteger {
				return RecoverUInt32InGPR(child.reg.GPR)
			}
			return child.recovery()
		}
	}

	// Otherwise look for a live node derived from this one.
	if id, ok := derivedNode(source.ID(), at, infos); ok {
		return infos[id].recovery()
	}
	return RecoverConstant(value.Undefined)
}

func constantRecovery(code Code, node *dfg.MinifiedNode) (ValueRecovery, bool) {
	switch {
	case node == nil:
		return ValueRecovery{}, false
	case node.HasConstantNumber():
		return RecoverConstant(code.ConstantRegister(node.ConstantNumber)), true
	case node.HasWeakConstant():
		return RecoverConstant(value.FromCell(node.Weak)), true
	case node.Op == dfg.PhantomArguments:
		return RecoverArgumentsThatWereNotCreated(), true
	}
	return ValueRecovery{}, false
}

// derivedPreference ranks conversions by how directly they give back the
// original value.
var derivedPreference = [...]dfg.NodeType{
	dfg.DoubleAsInt32,
	dfg.Int32ToDouble,
	dfg.ValueToInt32,
	dfg.UInt32ToNumber,
}

// derivedNode finds a usable conversion of source. Ties within one
// conversion kind go to the lowest ID.
func derivedNode(
	source dfg.MinifiedID,
	at func(dfg.MinifiedID) *dfg.MinifiedNode,
	infos map[dfg.MinifiedID]*generationInfo,
) (dfg.MinifiedID, bool) {
	var best [len(derivedPreference)]dfg.MinifiedID
	for i := range best {
		best[i] = dfg.InvalidMinifiedID
	}
	for id, info := range infos {
		if !info.usable() {
			continue
		}
		node := at(id)
		if node == nil || !node.HasChild1() || node.Child1 != source {
			continue
		}
		for rank, op := range derivedPreference {
			if node.Op == op && id < best[rank] {
				best[rank] = id
			}
		}
	}
	for _, id := range best {
		if id.IsValid() {
			return id, true
		}
	}
	return dfg.InvalidMinifiedID, false
}
