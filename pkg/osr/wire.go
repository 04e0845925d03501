package osr

import (
	"fmt"
	"sort"

	"github.com/chazu/tierup/pkg/bytecode"
	"github.com/chazu/tierup/pkg/dfg"
	"github.com/chazu/tierup/pkg/value"
	"github.com/fxamacker/cbor/v2"
)

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("osr: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// SideTableVersion is bumped whenever the encoding changes shape.
const SideTableVersion = 1

// SideTable is everything an optimized code block keeps for its exits.
type SideTable struct {
	CodeHash string
	Graph    *dfg.MinifiedGraph
	Events   *VariableEventStream
	Exits    []ExitSite
	WeakRefs []value.CellID
}

type wireEvent struct {
	Kind    VariableEventKind        `cbor:"1,keyasint"`
	ID      dfg.MinifiedID           `cbor:"2,keyasint,omitempty"`
	Reg     *Reg                     `cbor:"3,keyasint,omitempty"`
	Slot    bytecode.VirtualRegister `cbor:"4,keyasint,omitempty"`
	Operand bytecode.VirtualRegister `cbor:"5,keyasint,omitempty"`
	Format  DataFormat               `cbor:"6,keyasint,omitempty"`
}

type wireSideTable struct {
	Version  int                `cbor:"1,keyasint"`
	CodeHash string             `cbor:"2,keyasint,omitempty"`
	Graph    []dfg.MinifiedNode `cbor:"3,keyasint"`
	Events   []wireEvent        `cbor:"4,keyasint"`
	Exits    []ExitSite         `cbor:"5,keyasint,omitempty"`
	WeakRefs []value.CellID     `cbor:"6,keyasint,omitempty"`
}

func toWire(e VariableEvent) wireEvent {
	w := wireEvent{Kind: e.Kind()}
	if id, ok := eventNodeID(e); ok {
		w.ID = id
	}
	switch e := e.(type) {
	case BirthToFill:
		w.Reg, w.Format = &e.Reg, e.Format
	case Fill:
		w.Reg, w.Format = &e.Reg, e.Format
	case BirthToSpill:
		w.Slot, w.Format = e.Slot, e.Format
	case Spill:
		w.Slot, w.Format = e.Slot, e.Format
	case MovHint:
		w.Operand = e.Operand
	case SetLocal:
		w.Operand, w.Format = e.Operand, e.Format
	}
	return w
}

func fromWire(w wireEvent) (VariableEvent, error) {
	reg := func() (Reg, error) {
		if w.Reg == nil {
			return Reg{}, fmt.Errorf("%w: %s without a register", ErrMalformedStream, w.Kind)
		}
		return *w.Reg, nil
	}
	switch w.Kind {
	case KindReset:
		return Reset{}, nil
	case KindBirthToFill:
		r, err := reg()
		return BirthToFill{ID: w.ID, Reg: r, Format: w.Format}, err
	case KindFill:
		r, err := reg()
		return Fill{ID: w.ID, Reg: r, Format: w.Format}, err
	case KindBirthToSpill:
		return BirthToSpill{ID: w.ID, Slot: w.Slot, Format: w.Format}, nil
	case KindSpill:
		return Spill{ID: w.ID, Slot: w.Slot, Format: w.Format}, nil
	case KindDeath:
		return Death{ID: w.ID}, nil
	case KindMovHint:
		return MovHint{ID: w.ID, Operand: w.Operand}, nil
	case KindSetLocal:
		return SetLocal{Operand: w.Operand, Format: w.Format}, nil
	}
	return nil, fmt.Errorf("%w: unknown event kind %d", ErrMalformedStream, w.Kind)
}

// newGraph checks node IDs before building the prepared graph.
func newGraph(nodes []dfg.MinifiedNode) (*dfg.MinifiedGraph, error) {
	ids := make([]dfg.MinifiedID, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for i := 1; i < len(ids); i++ {
		if ids[i] == ids[i-1] {
			return nil, fmt.Errorf("osr: duplicate minified node %s", ids[i])
		}
	}
	return dfg.NewMinifiedGraph(nodes), nil
}

// MarshalEvents serializes an event stream to CBOR bytes.
func MarshalEvents(s *VariableEventStream) ([]byte, error) {
	events := make([]wireEvent, s.Len())
	for i, e := range s.Events() {
		events[i] = toWire(e)
	}
	return cborEncMode.Marshal(events)
}

// UnmarshalEvents deserializes an event stream from CBOR bytes.
func UnmarshalEvents(data []byte) (*VariableEventStream, error) {
	var events []wireEvent
	if err := cbor.Unmarshal(data, &events); err != nil {
		return nil, fmt.Errorf("osr: unmarshal events: %w", err)
	}
	s := &VariableEventStream{events: make([]VariableEvent, 0, len(events))}
	for i, w := range events {
		e, err := fromWire(w)
		if err != nil {
			return nil, fmt.Errorf("osr: unmarshal events: event %d: %w", i, err)
		}
		s.Append(e)
	}
	return s, nil
}

// MarshalGraph serializes a prepared minified graph to CBOR bytes.
func MarshalGraph(g *dfg.MinifiedGraph) ([]byte, error) {
	return cborEncMode.Marshal(g.Nodes())
}

// UnmarshalGraph deserializes a minified graph from CBOR bytes.
func UnmarshalGraph(data []byte) (*dfg.MinifiedGraph, error) {
	var nodes []dfg.MinifiedNode
	if err := cbor.Unmarshal(data, &nodes); err != nil {
		return nil, fmt.Errorf("osr: unmarshal graph: %w", err)
	}
	return newGraph(nodes)
}

// MarshalSideTable serializes a SideTable to CBOR bytes.
func MarshalSideTable(t *SideTable) ([]byte, error) {
	w := wireSideTable{
		Version:  SideTableVersion,
		CodeHash: t.CodeHash,
		Exits:    t.Exits,
		WeakRefs: t.WeakRefs,
	}
	if t.Graph != nil {
		w.Graph = t.Graph.Nodes()
	}
	if t.Events != nil {
		w.Events = make([]wireEvent, t.Events.Len())
		for i, e := range t.Events.Events() {
			w.Events[i] = toWire(e)
		}
	}
	return cborEncMode.Marshal(&w)
}

// UnmarshalSideTable deserializes a SideTable from CBOR bytes.
func UnmarshalSideTable(data []byte) (*SideTable, error) {
	var w wireSideTable
	if err := cbor.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("osr: unmarshal side table: %w", err)
	}
	if w.Version != SideTableVersion {
		return nil, fmt.Errorf("osr: unmarshal side table: version %d, want %d", w.Version, SideTableVersion)
	}
	graph, err := newGraph(w.Graph)
	if err != nil {
		return nil, fmt.Errorf("osr: unmarshal side table: %w", err)
	}
	t := &SideTable{
		CodeHash: w.CodeHash,
		Graph:    graph,
		Events:   &VariableEventStream{events: make([]VariableEvent, 0, len(w.Events))},
		Exits:    w.Exits,
		WeakRefs: w.WeakRefs,
	}
	for i, we := range w.Events {
		e, err := fromWire(we)
		if err != nil {
			return nil, fmt.Errorf("osr: unmarshal side table: event %d: %w", i, err)
		}
		t.Events.Append(e)
	}
	return t, nil
}

// Reconstruct replays the side table's stream for exit number exit.
func (t *SideTable) Reconstruct(code Code, exit int, opts ...ReconstructOption) (Operands[ValueRecovery], error) {
	if exit < 0 || exit >= len(t.Exits) {
		return Operands[ValueRecovery]{}, fmt.Errorf("osr: no exit %d (table has %d)", exit, len(t.Exits))
	}
	site := t.Exits[exit]
	opts = append([]ReconstructOption{WithCodeOrigin(site.Origin)}, opts...)
	return Reconstruct(t.Events, code, t.Graph, site.StreamIndex, opts...)
}
