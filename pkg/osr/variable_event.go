package osr

import (
	"fmt"
	"io"
	"strings"

	"github.com/chazu/tierup/pkg/bytecode"
	"github.com/chazu/tierup/pkg/dfg"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("tierup.osr")

// VariableEventKind tags a VariableEvent.
type VariableEventKind uint8

const (
	KindReset VariableEventKind = iota
	KindBirthToFill
	KindBirthToSpill
	KindFill
	KindSpill
	KindDeath
	KindMovHint
	KindSetLocal
)

var eventKindNames = [...]string{
	KindReset:        "Reset",
	KindBirthToFill:  "BirthToFill",
	KindBirthToSpill: "BirthToSpill",
	KindFill:         "Fill",
	KindSpill:        "Spill",
	KindDeath:        "Death",
	KindMovHint:      "MovHint",
	KindSetLocal:     "SetLocal",
}

func (k VariableEventKind) String() string {
	if int(k) < len(eventKindNames) {
		return eventKindNames[k]
	}
	return fmt.Sprintf("VariableEventKind(%d)", k)
}

// ParseVariableEventKind is the inverse of VariableEventKind.String.
func ParseVariableEventKind(s string) (VariableEventKind, error) {
	for k, name := range eventKindNames {
		if name == s {
			return VariableEventKind(k), nil
		}
	}
	return 0, fmt.Errorf("osr: unknown event kind %q", s)
}

// VariableEvent is one entry of a VariableEventStream. The set of
// implementations is closed; switch on the concrete type.
type VariableEvent interface {
	Kind() VariableEventKind
	String() string
	variableEvent()
}

// Reset marks a point where the compiler's register state is known to be
// empty. Replay starts from the nearest Reset.
type Reset struct{}

// BirthToFill records that a node's value was produced into Reg.
type BirthToFill struct {
	ID     dfg.MinifiedID
	Reg    Reg
	Format DataFormat
}

// Fill records that a node's value was reloaded into Reg.
type Fill struct {
	ID     dfg.MinifiedID
	Reg    Reg
	Format DataFormat
}

// BirthToSpill records that a node's value was produced straight into a
// stack slot.
type BirthToSpill struct {
	ID     dfg.MinifiedID
	Slot   bytecode.VirtualRegister
	Format DataFormat
}

// Spill records that a node's value was stored to a stack slot.
type Spill struct {
	ID     dfg.MinifiedID
	Slot   bytecode.VirtualRegister
	Format DataFormat
}

// Death records that a node's value is no longer held anywhere.
type Death struct {
	ID dfg.MinifiedID
}

// MovHint associates a node with a bytecode operand without storing it.
type MovHint struct {
	ID      dfg.MinifiedID
	Operand bytecode.VirtualRegister
}

// SetLocal records a store to an operand's own stack slot.
type SetLocal struct {
	Operand bytecode.VirtualRegister
	Format  DataFormat
}

func (Reset) Kind() VariableEventKind        { return KindReset }
func (BirthToFill) Kind() VariableEventKind  { return KindBirthToFill }
func (Fill) Kind() VariableEventKind         { return KindFill }
func (BirthToSpill) Kind() VariableEventKind { return KindBirthToSpill }
func (Spill) Kind() VariableEventKind        { return KindSpill }
func (Death) Kind() VariableEventKind        { return KindDeath }
func (MovHint) Kind() VariableEventKind      { return KindMovHint }
func (SetLocal) Kind() VariableEventKind     { return KindSetLocal }

func (Reset) variableEvent()        {}
func (BirthToFill) variableEvent()  {}
func (Fill) variableEvent()         {}
func (BirthToSpill) variableEvent() {}
func (Spill) variableEvent()        {}
func (Death) variableEvent()        {}
func (MovHint) variableEvent()      {}
func (SetLocal) variableEvent()     {}

func (Reset) String() string { return "Reset" }

func (e BirthToFill) String() string {
	return fmt.Sprintf("BirthToFill(%s, %s, %s)", e.ID, e.Reg, e.Format)
}

func (e Fill) String() string {
	return fmt.Sprintf("Fill(%s, %s, %s)", e.ID, e.Reg, e.Format)
}

func (e BirthToSpill) String() string {
	return fmt.Sprintf("BirthToSpill(%s, *%s, %s)", e.ID, e.Slot, e.Format)
}

func (e Spill) String() string {
	return fmt.Sprintf("Spill(%s, *%s, %s)", e.ID, e.Slot, e.Format)
}

func (e Death) String() string { return fmt.Sprintf("Death(%s)", e.ID) }

func (e MovHint) String() string {
	return fmt.Sprintf("MovHint(%s, %s)", e.ID, e.Operand)
}

func (e SetLocal) String() string {
	return fmt.Sprintf("SetLocal(%s, %s)", e.Operand, e.Format)
}

// eventNodeID returns the node an event talks about, if any.
func eventNodeID(e VariableEvent) (dfg.MinifiedID, bool) {
	switch e := e.(type) {
	case BirthToFill:
		return e.ID, true
	case Fill:
		return e.ID, true
	case BirthToSpill:
		return e.ID, true
	case Spill:
		return e.ID, true
	case Death:
		return e.ID, true
	case MovHint:
		return e.ID, true
	}
	return dfg.InvalidMinifiedID, false
}

// VariableEventStream is the time-ordered log the optimizing compiler
// writes while generating code. Exits refer to positions in it.
type VariableEventStream struct {
	events []VariableEvent
}

// NewVariableEventStream returns a stream holding events.
func NewVariableEventStream(events ...VariableEvent) *VariableEventStream {
	return &VariableEventStream{events: append([]VariableEvent(nil), events...)}
}

// Append adds e and returns its index.
func (s *VariableEventStream) Append(e VariableEvent) int {
	s.events = append(s.events, e)
	return len(s.events) - 1
}

// Logged appends e and writes it to the debug log.
func (s *VariableEventStream) Logged(e VariableEvent) int {
	i := s.Append(e)
	log.Debugf("event #%d: %s", i, e)
	return i
}

// Len returns the number of events.
func (s *VariableEventStream) Len() int { return len(s.events) }

// At returns event i.
func (s *VariableEventStream) At(i int) VariableEvent { return s.events[i] }

// Events returns the backing slice. It must not be modified.
func (s *VariableEventStream) Events() []VariableEvent { return s.events }

// Dump writes one event per line.
func (s *VariableEventStream) Dump(w io.Writer) error {
	for i, e := range s.events {
		if _, err := fmt.Fprintf(w, "%4d: %s\n", i, e); err != nil {
			return err
		}
	}
	return nil
}

// String implements fmt.Stringer.
func (s *VariableEventStream) String() string {
	var b strings.Builder
	b.WriteString("{")
	for i, e := range s.events {
		if i > 0 {
			b.WriteString(" ")
		}
		b.WriteString(e.String())
	}
	b.WriteString("}")
	return b.String()
}
