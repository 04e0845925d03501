package dfg

import "fmt"

// UseKind says what a consumer requires of the value flowing along an
// edge. It fits in four bits.
type UseKind uint8

const (
	UntypedUse UseKind = iota
	Int32Use
	KnownInt32Use
	RealNumberUse
	NumberUse
	KnownNumberUse
	BooleanUse
	CellUse
	KnownCellUse
	ObjectUse
	StringUse
	KnownStringUse
	NotCellUse
	OtherUse

	numUseKinds
)

var useKindNames = [...]string{
	UntypedUse:     "Untyped",
	Int32Use:       "Int32",
	KnownInt32Use:  "KnownInt32",
	RealNumberUse:  "RealNumber",
	NumberUse:      "Number",
	KnownNumberUse: "KnownNumber",
	BooleanUse:     "Boolean",
	CellUse:        "Cell",
	KnownCellUse:   "KnownCell",
	ObjectUse:      "Object",
	StringUse:      "String",
	KnownStringUse: "KnownString",
	NotCellUse:     "NotCell",
	OtherUse:       "Other",
}

// String implements fmt.Stringer.
func (k UseKind) String() string {
	if k < numUseKinds {
		return useKindNames[k]
	}
	return fmt.Sprintf("UseKind(%d)", k)
}

// IsKnown reports whether the use kind asserts a fact the producer already
// guarantees, so no check is ever emitted for it.
func (k UseKind) IsKnown() bool {
	return k == KnownInt32Use || k == KnownNumberUse || k == KnownCellUse || k == KnownStringUse
}

// ProofStatus records whether an edge's type fact was already checked
// upstream.
type ProofStatus uint8

const (
	NeedsCheck ProofStatus = iota
	IsProved
)

// String implements fmt.Stringer.
func (p ProofStatus) String() string {
	if p == IsProved {
		return "Proved"
	}
	return "NeedsCheck"
}

// Edge is a borrowed reference from one node to another carrying a use
// kind and a proof status. The zero Edge is the empty edge.
type Edge struct {
	node    *Node
	useKind UseKind
	proof   ProofStatus
}

// NewEdge returns an edge to n.
// Panics if n is nil and kind is not UntypedUse.
func NewEdge(n *Node, kind UseKind, proof ProofStatus) Edge {
	if n == nil && kind != UntypedUse {
		panic(fmt.Sprintf("dfg.NewEdge: null edge with use kind %s", kind))
	}
	if kind >= numUseKinds {
		panic(fmt.Sprintf("dfg.NewEdge: invalid use kind %d", kind))
	}
	return Edge{node: n, useKind: kind, proof: proof}
}

// UntypedEdge returns an unchecked edge to n.
func UntypedEdge(n *Node) Edge {
	return Edge{node: n}
}

// Node returns the target node, nil for the empty edge.
func (e Edge) Node() *Node { return e.node }

// IsSet reports whether the edge points at a node.
func (e Edge) IsSet() bool { return e.node != nil }

// UseKind returns the edge's use kind.
// Panics on the empty edge.
func (e Edge) UseKind() UseKind {
	if e.node == nil {
		panic("dfg.Edge.UseKind: empty edge")
	}
	return e.useKind
}

// UseKindUnchecked returns the use kind without asserting the edge is set.
// The empty edge reports UntypedUse.
func (e Edge) UseKindUnchecked() UseKind { return e.useKind }

// ProofStatus returns the edge's proof status.
// Panics on the empty edge.
func (e Edge) ProofStatus() ProofStatus {
	if e.node == nil {
		panic("dfg.Edge.ProofStatus: empty edge")
	}
	return e.proof
}

// NeedsCheck reports whether a consumer must still check the use kind.
func (e Edge) NeedsCheck() bool {
	return e.ProofStatus() == NeedsCheck && e.useKind != UntypedUse && !e.useKind.IsKnown()
}

// WithUseKind returns a copy of e with a different use kind.
// Panics on the empty edge.
func (e Edge) WithUseKind(kind UseKind) Edge {
	return NewEdge(e.nodeOrPanic("WithUseKind"), kind, e.proof)
}

// WithProofStatus returns a copy of e with a different proof status.
// Panics on the empty edge.
func (e Edge) WithProofStatus(proof ProofStatus) Edge {
	return NewEdge(e.nodeOrPanic("WithProofStatus"), e.useKind, proof)
}

func (e Edge) nodeOrPanic(op string) *Node {
	if e.node == nil {
		panic("dfg.Edge." + op + ": empty edge")
	}
	return e.node
}

// String implements fmt.Stringer.
func (e Edge) String() string {
	if e.node == nil {
		return "-"
	}
	s := fmt.Sprintf("@%d", e.node.Index())
	if e.useKind != UntypedUse {
		s += ":" + e.useKind.String()
	}
	if e.proof == IsProved {
		s += "!"
	}
	return s
}

// AdjacencyKind selects how an AdjacencyList's storage is interpreted.
type AdjacencyKind uint8

const (
	// Fixed lists hold up to three edges inline.
	Fixed AdjacencyKind = iota
	// Variable lists index a run in the graph's var-arg edge array.
	Variable
)

// AdjacencySize is the number of inline edges in a Fixed list.
const AdjacencySize = 3

// AdjacencyList holds a node's children. Accessors assert the kind the
// list was constructed with.
type AdjacencyList struct {
	kind  AdjacencyKind
	words [AdjacencySize]Edge

	firstChild  int
	numChildren int
}

// NewFixedAdjacencyList returns a Fixed list of the given children.
// Panics if more than AdjacencySize children are given.
func NewFixedAdjacencyList(children ...Edge) AdjacencyList {
	if len(children) > AdjacencySize {
		panic(fmt.Sprintf("dfg.NewFixedAdjacencyList: %d children", len(children)))
	}
	var a AdjacencyList
	a.kind = Fixed
	copy(a.words[:], children)
	return a
}

// NewVariableAdjacencyList returns a Variable list naming a run of
// numChildren edges starting at firstChild.
func NewVariableAdjacencyList(firstChild, numChildren int) AdjacencyList {
	return AdjacencyList{kind: Variable, firstChild: firstChild, numChildren: numChildren}
}

// Kind returns the list's interpretation.
func (a *AdjacencyList) Kind() AdjacencyKind { return a.kind }

func (a *AdjacencyList) assertKind(kind AdjacencyKind, op string) {
	if a.kind != kind {
		panic(fmt.Sprintf("dfg.AdjacencyList.%s: wrong adjacency kind", op))
	}
}

// Child returns inline child i of a Fixed list.
func (a *AdjacencyList) Child(i int) Edge {
	a.assertKind(Fixed, "Child")
	return a.words[i]
}

// SetChild replaces inline child i of a Fixed list.
func (a *AdjacencyList) SetChild(i int, e Edge) {
	a.assertKind(Fixed, "SetChild")
	a.words[i] = e
}

func (a *AdjacencyList) Child1() Edge { return a.Child(0) }
func (a *AdjacencyList) Child2() Edge { return a.Child(1) }
func (a *AdjacencyList) Child3() Edge { return a.Child(2) }

// NumFixedChildren returns how many leading inline children are set.
func (a *AdjacencyList) NumFixedChildren() int {
	a.assertKind(Fixed, "NumFixedChildren")
	n := 0
	for n < AdjacencySize && a.words[n].IsSet() {
		n++
	}
	return n
}

// FirstChild returns the index of the first var-arg edge.
func (a *AdjacencyList) FirstChild() int {
	a.assertKind(Variable, "FirstChild")
	return a.firstChild
}

// NumChildren returns the number of var-arg edges.
func (a *AdjacencyList) NumChildren() int {
	a.assertKind(Variable, "NumChildren")
	return a.numChildren
}

// SetFirstChild moves the var-arg run.
func (a *AdjacencyList) SetFirstChild(i int) {
	a.assertKind(Variable, "SetFirstChild")
	a.firstChild = i
}

// SetNumChildren resizes the var-arg run.
func (a *AdjacencyList) SetNumChildren(n int) {
	a.assertKind(Variable, "SetNumChildren")
	a.numChildren = n
}

// Reset clears all inline children of a Fixed list.
func (a *AdjacencyList) Reset() {
	a.assertKind(Fixed, "Reset")
	a.words = [AdjacencySize]Edge{}
}
