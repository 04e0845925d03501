package osr

import (
	"fmt"

	"github.com/chazu/tierup/pkg/dfg"
	"github.com/chazu/tierup/pkg/value"
)

// ValueSourceKind tags a ValueSource.
type ValueSourceKind uint8

const (
	SourceNotSet ValueSourceKind = iota
	ValueInJSStack
	Int32InJSStack
	CellInJSStack
	BooleanInJSStack
	DoubleInJSStack
	ArgumentsSource
	SourceIsDead
	HaveNode
)

var sourceKindNames = [...]string{
	SourceNotSet:     "NotSet",
	ValueInJSStack:   "ValueInJSStack",
	Int32InJSStack:   "Int32InJSStack",
	CellInJSStack:    "CellInJSStack",
	BooleanInJSStack: "BooleanInJSStack",
	DoubleInJSStack:  "DoubleInJSStack",
	ArgumentsSource:  "Arguments",
	SourceIsDead:     "IsDead",
	HaveNode:         "HaveNode",
}

func (k ValueSourceKind) String() string {
	if int(k) < len(sourceKindNames) {
		return sourceKindNames[k]
	}
	return fmt.Sprintf("ValueSourceKind(%d)", k)
}

// ValueSource is the replay-time answer to "where does this operand's
// value come from": either directly from its own stack slot in some
// format, or from whatever a minified node evaluated to.
type ValueSource struct {
	kind ValueSourceKind
	id   dfg.MinifiedID
}

// NewValueSource returns a source of a non-node kind.
// Panics for HaveNode; use ValueSourceForNode.
func NewValueSource(kind ValueSourceKind) ValueSource {
	if kind == HaveNode {
		panic("osr.NewValueSource: HaveNode needs an ID")
	}
	return ValueSource{kind: kind, id: dfg.InvalidMinifiedID}
}

// ValueSourceForNode returns a source that follows id.
func ValueSourceForNode(id dfg.MinifiedID) ValueSource {
	if !id.IsValid() {
		return NewValueSource(SourceNotSet)
	}
	return ValueSource{kind: HaveNode, id: id}
}

// ValueSourceForDataFormat maps the format a SetLocal stored with to the
// matching in-stack source.
func ValueSourceForDataFormat(format DataFormat) ValueSource {
	switch format {
	case DataFormatInteger:
		return NewValueSource(Int32InJSStack)
	case DataFormatDouble:
		return NewValueSource(DoubleInJSStack)
	case DataFormatCell:
		return NewValueSource(CellInJSStack)
	case DataFormatBoolean:
		return NewValueSource(BooleanInJSStack)
	case DataFormatDead:
		return NewValueSource(SourceIsDead)
	case DataFormatArguments:
		return NewValueSource(ArgumentsSource)
	default:
		if !format.IsJS() {
			panic(fmt.Sprintf("osr.ValueSourceForDataFormat: bad format %s", format))
		}
		return NewValueSource(ValueInJSStack)
	}
}

func (s ValueSource) Kind() ValueSourceKind { return s.kind }

// IsSet reports whether anything was recorded.
func (s ValueSource) IsSet() bool { return s.kind != SourceNotSet }

// IsTriviallyRecoverable reports whether ValueRecovery can answer without
// consulting the graph or register state.
func (s ValueSource) IsTriviallyRecoverable() bool {
	return s.kind != SourceNotSet && s.kind != HaveNode
}

// ID returns the node a HaveNode source follows.
// Panics for other kinds.
func (s ValueSource) ID() dfg.MinifiedID {
	if s.kind != HaveNode {
		panic(fmt.Sprintf("osr.ValueSource.ID: kind %s has no node", s.kind))
	}
	return s.id
}

// DataFormat returns the stack format implied by an in-stack source.
func (s ValueSource) DataFormat() DataFormat {
	switch s.kind {
	case ValueInJSStack:
		return DataFormatJS
	case Int32InJSStack:
		return DataFormatInteger
	case CellInJSStack:
		return DataFormatCell
	case BooleanInJSStack:
		return DataFormatBoolean
	case DoubleInJSStack:
		return DataFormatDouble
	case SourceIsDead:
		return DataFormatDead
	case ArgumentsSource:
		return DataFormatArguments
	default:
		return DataFormatNone
	}
}

// ValueRecovery resolves a trivially recoverable source.
// Panics otherwise.
func (s ValueSource) ValueRecovery() ValueRecovery {
	switch s.kind {
	case ValueInJSStack:
		return RecoverAlreadyInJSStack()
	case Int32InJSStack, CellInJSStack, BooleanInJSStack, DoubleInJSStack:
		return RecoverAlreadyInJSStackAs(s.DataFormat())
	case SourceIsDead:
		return RecoverConstant(value.Undefined)
	case ArgumentsSource:
		return RecoverArgumentsThatWereNotCreated()
	default:
		panic(fmt.Sprintf("osr.ValueSource.ValueRecovery: %s is not trivially recoverable", s))
	}
}

// String implements fmt.Stringer.
func (s ValueSource) String() string {
	if s.kind == HaveNode {
		return "Node(" + s.id.String() + ")"
	}
	return s.kind.String()
}
