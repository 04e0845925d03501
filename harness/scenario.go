package harness

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/chazu/tierup/pkg/bytecode"
	"github.com/chazu/tierup/pkg/dfg"
	"github.com/chazu/tierup/pkg/osr"
	"github.com/chazu/tierup/pkg/value"
)

// Scenario is one deoptimization test case.
type Scenario struct {
	// Name identifies the scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what the scenario exercises.
	Description string `yaml:"description"`

	// Frame is the shape of the baseline code block exits resume in.
	Frame Frame `yaml:"frame"`

	// Nodes is the minified graph.
	Nodes []NodeSpec `yaml:"nodes,omitempty"`

	// Events is the variable event stream, one event per entry in the
	// form VariableEventStream.Dump prints.
	Events []string `yaml:"events"`

	// Exits are reconstructed in order.
	Exits []ExitSpec `yaml:"exits"`

	// WeakRefs are cells the optimized code assumed alive.
	WeakRefs []uint64 `yaml:"weak_refs,omitempty"`
}

// Frame describes the baseline frame.
type Frame struct {
	// Parameters counts arguments, this included.
	Parameters      int   `yaml:"parameters"`
	CalleeRegisters int   `yaml:"callee_registers"`
	Constants       []any `yaml:"constants,omitempty"`
}

// NodeSpec is one minified node.
type NodeSpec struct {
	ID       uint32  `yaml:"id"`
	Op       string  `yaml:"op"`
	Child    *uint32 `yaml:"child,omitempty"`
	Constant int     `yaml:"constant,omitempty"`
	Weak     uint64  `yaml:"weak,omitempty"`
}

// ExitSpec is one exit and what reconstructing it should produce.
type ExitSpec struct {
	Kind     string      `yaml:"kind"`
	Bytecode int         `yaml:"bytecode"`
	Event    int         `yaml:"event"`
	Inline   *InlineSpec `yaml:"inline,omitempty"`

	// Live lists the operands live in bytecode at the exit. Operands no
	// event mentions recover as an elided arguments object when live and
	// as undefined otherwise.
	Live []string `yaml:"live,omitempty"`

	// State, if present, is materialized through the recoveries.
	State *StateSpec `yaml:"state,omitempty"`

	// Expect maps operands to the recovery they must have, written the
	// way ValueRecovery.String prints it. Unlisted operands are not
	// checked.
	Expect map[string]string `yaml:"expect,omitempty"`

	// Malformed expects reconstruction to reject the event stream.
	Malformed bool `yaml:"malformed,omitempty"`
}

// InlineSpec is an inline call frame enclosing the exit.
type InlineSpec struct {
	Executable      string      `yaml:"executable"`
	StackOffset     int         `yaml:"stack_offset"`
	CalleeRegisters int         `yaml:"callee_registers"`
	Arguments       int         `yaml:"arguments"`
	Construct       bool        `yaml:"construct,omitempty"`
	CallerBytecode  int         `yaml:"caller_bytecode"`
	Caller          *InlineSpec `yaml:"caller,omitempty"`
}

// StateSpec is the machine state at the exit. GPRs hold raw words, FPRs
// doubles, and stack slots values.
type StateSpec struct {
	GPRs  map[int]uint64  `yaml:"gprs,omitempty"`
	FPRs  map[int]float64 `yaml:"fprs,omitempty"`
	Stack map[string]any  `yaml:"stack,omitempty"`
}

// LoadScenario reads and validates a scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("harness: read scenario: %w", err)
	}
	s, err := ParseScenario(data)
	if err != nil {
		return nil, fmt.Errorf("harness: %s: %w", path, err)
	}
	return s, nil
}

// ParseScenario decodes a scenario, rejecting unknown fields.
func ParseScenario(data []byte) (*Scenario, error) {
	var s Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &s, nil
}

// Validate checks required fields and shapes.
func (s *Scenario) Validate() error {
	switch {
	case s.Name == "":
		return errors.New("name is required")
	case s.Frame.Parameters < 1:
		return errors.New("frame.parameters must count this")
	case s.Frame.CalleeRegisters < 0:
		return errors.New("frame.callee_registers must not be negative")
	case len(s.Exits) == 0:
		return errors.New("exits list is required and must be non-empty")
	}
	for i, e := range s.Exits {
		if e.Event < 0 || e.Event > len(s.Events) {
			return fmt.Errorf("exits[%d]: event %d outside stream of %d events", i, e.Event, len(s.Events))
		}
		if e.Malformed && len(e.Expect) > 0 {
			return fmt.Errorf("exits[%d]: a malformed exit has no recoveries to expect", i)
		}
	}
	return nil
}

// Layout returns the baseline frame the scenario's exits resume in.
func (s *Scenario) Layout() (osr.FrameLayout, error) {
	layout := osr.FrameLayout{Parameters: s.Frame.Parameters, CalleeRegisters: s.Frame.CalleeRegisters}
	for i, c := range s.Frame.Constants {
		v, err := ParseValue(c)
		if err != nil {
			return layout, fmt.Errorf("frame.constants[%d]: %w", i, err)
		}
		layout.Constants = append(layout.Constants, v)
	}
	return layout, nil
}

// SideTable builds the exit side table the scenario describes.
func (s *Scenario) SideTable() (*osr.SideTable, error) {
	nodes := make([]dfg.MinifiedNode, 0, len(s.Nodes))
	seen := make(map[uint32]bool)
	for i, n := range s.Nodes {
		op, err := dfg.ParseNodeType(n.Op)
		if err != nil {
			return nil, fmt.Errorf("nodes[%d]: %w", i, err)
		}
		if !op.BelongsInMinifiedGraph() {
			return nil, fmt.Errorf("nodes[%d]: %s does not belong in a minified graph", i, op)
		}
		if seen[n.ID] {
			return nil, fmt.Errorf("nodes[%d]: duplicate id %d", i, n.ID)
		}
		seen[n.ID] = true
		m := dfg.MinifiedNode{ID: dfg.MinifiedID(n.ID), Op: op, Child1: dfg.InvalidMinifiedID}
		switch {
		case op.IsNumericConversion():
			if n.Child != nil {
				m.Child1 = dfg.MinifiedID(*n.Child)
			}
		case op == dfg.JSConstant:
			m.ConstantNumber = n.Constant
		case op == dfg.WeakJSConstant:
			m.Weak = value.CellID(n.Weak)
		}
		nodes = append(nodes, m)
	}

	events := &osr.VariableEventStream{}
	for i, text := range s.Events {
		e, err := ParseEvent(text)
		if err != nil {
			return nil, fmt.Errorf("events[%d]: %w", i, err)
		}
		events.Append(e)
	}

	table := &osr.SideTable{
		Graph:  dfg.NewMinifiedGraph(nodes),
		Events: events,
	}
	for i, e := range s.Exits {
		site, err := e.site()
		if err != nil {
			return nil, fmt.Errorf("exits[%d]: %w", i, err)
		}
		table.Exits = append(table.Exits, site)
	}
	for _, c := range s.WeakRefs {
		table.WeakRefs = append(table.WeakRefs, value.CellID(c))
	}
	return table, nil
}

func (e ExitSpec) site() (osr.ExitSite, error) {
	kind := osr.ExitBadType
	if e.Kind != "" {
		k, err := osr.ParseExitKind(e.Kind)
		if err != nil {
			return osr.ExitSite{}, err
		}
		kind = k
	}
	return osr.ExitSite{
		Kind:        kind,
		Origin:      osr.CodeOrigin{BytecodeIndex: e.Bytecode, InlineCallFrame: e.Inline.frame()},
		StreamIndex: e.Event,
	}, nil
}

func (f *InlineSpec) frame() *osr.InlineCallFrame {
	if f == nil {
		return nil
	}
	return &osr.InlineCallFrame{
		Executable:         f.Executable,
		StackOffset:        f.StackOffset,
		NumCalleeRegisters: f.CalleeRegisters,
		NumArguments:       f.Arguments,
		IsCall:             !f.Construct,
		Caller:             osr.CodeOrigin{BytecodeIndex: f.CallerBytecode, InlineCallFrame: f.Caller.frame()},
	}
}

// liveness returns the liveness predicate of an exit, or nil.
func (e ExitSpec) liveness() (func(bytecode.VirtualRegister) bool, error) {
	if len(e.Live) == 0 {
		return nil, nil
	}
	live := make(map[bytecode.VirtualRegister]bool, len(e.Live))
	for _, name := range e.Live {
		r, err := bytecode.ParseVirtualRegister(name)
		if err != nil {
			return nil, err
		}
		live[r] = true
	}
	return func(r bytecode.VirtualRegister) bool { return live[r] }, nil
}

// machineState builds the exit state for a frame of the given shape.
func (st *StateSpec) machineState(numArguments, numLocals int) (*osr.MachineState, error) {
	state := osr.NewMachineState(numArguments, numLocals)
	for g, w := range st.GPRs {
		if g < 0 || g >= osr.NumGPRs {
			return nil, fmt.Errorf("state.gprs: no register r%d", g)
		}
		state.GPRs[g] = w
	}
	for f, d := range st.FPRs {
		if f < 0 || f >= osr.NumFPRs {
			return nil, fmt.Errorf("state.fprs: no register f%d", f)
		}
		state.FPRs[f] = d
	}
	for name, lit := range st.Stack {
		r, err := bytecode.ParseVirtualRegister(name)
		if err != nil {
			return nil, fmt.Errorf("state.stack: %w", err)
		}
		if !state.Stack.HasOperand(r) {
			return nil, fmt.Errorf("state.stack: %s outside frame", r)
		}
		v, err := ParseValue(lit)
		if err != nil {
			return nil, fmt.Errorf("state.stack[%s]: %w", name, err)
		}
		state.Stack.SetOperand(r, v.Bits())
	}
	return state, nil
}
