package dfg

import (
	"fmt"
	"math"
	"sort"

	"github.com/chazu/tierup/pkg/value"
)

// MinifiedID identifies an IR node after the full graph has been
// discarded. It is derived from the node's index in its graph.
type MinifiedID uint32

// InvalidMinifiedID names no node.
const InvalidMinifiedID MinifiedID = math.MaxUint32

// IsValid reports whether id names a node.
func (id MinifiedID) IsValid() bool { return id != InvalidMinifiedID }

// String implements fmt.Stringer.
func (id MinifiedID) String() string {
	if !id.IsValid() {
		return "@-"
	}
	return fmt.Sprintf("@%d", uint32(id))
}

// MinifiedNode is the part of one IR node an OSR exit may consult.
type MinifiedNode struct {
	ID             MinifiedID   `cbor:"1,keyasint"`
	Op             NodeType     `cbor:"2,keyasint"`
	Child1         MinifiedID   `cbor:"3,keyasint,omitempty"`
	ConstantNumber int          `cbor:"4,keyasint,omitempty"`
	Weak           value.CellID `cbor:"5,keyasint,omitempty"`
}

// MinifyNode copies the recoverable part of n.
// Panics if n's type does not belong in the minified graph.
func MinifyNode(g *Graph, n *Node) MinifiedNode {
	if !n.Op.BelongsInMinifiedGraph() {
		panic(fmt.Sprintf("dfg.MinifyNode: %s does not belong in the minified graph", n))
	}
	m := MinifiedNode{ID: g.MinifiedIDOf(n), Op: n.Op, Child1: InvalidMinifiedID}
	switch {
	case n.Op.IsNumericConversion():
		if c := n.Child1(); c.IsSet() {
			m.Child1 = g.MinifiedIDOf(c.Node())
		}
	case n.Op == JSConstant:
		m.ConstantNumber = n.ConstantNumber
	case n.Op == WeakJSConstant:
		m.Weak = n.Weak
	}
	return m
}

// HasChild1 reports whether the node records its operand.
func (m *MinifiedNode) HasChild1() bool {
	return m.Op.IsNumericConversion() && m.Child1.IsValid()
}

// HasConstant reports whether the node is a constant of either kind.
func (m *MinifiedNode) HasConstant() bool {
	return m.Op == JSConstant || m.Op == WeakJSConstant
}

// HasConstantNumber reports whether the node refers to the constant pool.
func (m *MinifiedNode) HasConstantNumber() bool { return m.Op == JSConstant }

// HasWeakConstant reports whether the node holds a cell literal.
func (m *MinifiedNode) HasWeakConstant() bool { return m.Op == WeakJSConstant }

// String implements fmt.Stringer.
func (m MinifiedNode) String() string {
	switch {
	case m.Op == JSConstant:
		return fmt.Sprintf("%s:%s(k%d)", m.ID, m.Op, m.ConstantNumber)
	case m.Op == WeakJSConstant:
		return fmt.Sprintf("%s:%s(cell#%d)", m.ID, m.Op, m.Weak)
	case m.Op.IsNumericConversion():
		return fmt.Sprintf("%s:%s(%s)", m.ID, m.Op, m.Child1)
	default:
		return fmt.Sprintf("%s:%s", m.ID, m.Op)
	}
}

// MinifiedGraph is a sorted array of MinifiedNodes queried by ID. It is
// appended to during compilation and immutable after PrepareAndShrink.
type MinifiedGraph struct {
	list     []MinifiedNode
	prepared bool
}

// NewMinifiedGraph returns a prepared graph holding nodes.
func NewMinifiedGraph(nodes []MinifiedNode) *MinifiedGraph {
	g := &MinifiedGraph{list: append([]MinifiedNode(nil), nodes...)}
	g.PrepareAndShrink()
	return g
}

// Append adds a node.
// Panics once the graph is prepared.
func (g *MinifiedGraph) Append(n MinifiedNode) {
	if g.prepared {
		panic("dfg.MinifiedGraph.Append: graph already prepared")
	}
	g.list = append(g.list, n)
}

// PrepareAndShrink sorts the nodes by ID and trims spare capacity.
// Panics if two nodes share an ID.
func (g *MinifiedGraph) PrepareAndShrink() {
	sort.Slice(g.list, func(i, j int) bool { return g.list[i].ID < g.list[j].ID })
	for i := 1; i < len(g.list); i++ {
		if g.list[i].ID == g.list[i-1].ID {
			panic(fmt.Sprintf("dfg.MinifiedGraph.PrepareAndShrink: duplicate %s", g.list[i].ID))
		}
	}
	g.list = append(make([]MinifiedNode, 0, len(g.list)), g.list...)
	g.prepared = true
}

// IsPrepared reports whether PrepareAndShrink has run.
func (g *MinifiedGraph) IsPrepared() bool { return g.prepared }

// At returns the node with the given ID, or nil.
// Panics if the graph is not prepared.
func (g *MinifiedGraph) At(id MinifiedID) *MinifiedNode {
	if !g.prepared {
		panic("dfg.MinifiedGraph.At: graph not prepared")
	}
	i := sort.Search(len(g.list), func(i int) bool { return g.list[i].ID >= id })
	if i < len(g.list) && g.list[i].ID == id {
		return &g.list[i]
	}
	return nil
}

// Len returns the number of nodes.
func (g *MinifiedGraph) Len() int { return len(g.list) }

// Nodes returns the nodes in ID order. The slice must not be modified.
func (g *MinifiedGraph) Nodes() []MinifiedNode { return g.list }

// Minify builds the prepared minified graph of g.
func Minify(g *Graph) *MinifiedGraph {
	mg := &MinifiedGraph{}
	g.ForEachNode(func(n *Node) {
		if n.Op.BelongsInMinifiedGraph() {
			mg.Append(MinifyNode(g, n))
		}
	})
	mg.PrepareAndShrink()
	return mg
}
