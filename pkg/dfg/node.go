package dfg

import (
	"fmt"

	"github.com/chazu/tierup/pkg/bytecode"
	"github.com/chazu/tierup/pkg/region"
	"github.com/chazu/tierup/pkg/value"
)

// NodeType is the operation a Node performs.
type NodeType uint16

const (
	// Constants and placeholders
	JSConstant NodeType = iota
	WeakJSConstant
	PhantomArguments

	// Numeric conversions
	Int32ToDouble
	ValueToInt32
	UInt32ToNumber
	DoubleAsInt32

	// Locals and OSR bookkeeping
	GetLocal
	SetLocal
	MovHint
	ZombieHint
	Phantom
	Flush

	// Arithmetic
	ArithAdd
	ArithSub
	ArithMul
	ArithDiv
	ArithMod
	ValueAdd
	CompareLess
	CompareEq

	// Heap access
	GetByID
	PutByID
	GetByVal
	PutByVal
	CheckStructure
	GetGlobalVar
	PutGlobalVar

	// Calls and control
	Call
	Construct
	Jump
	Branch
	Return
	ForceOSRExit
	LoopHint

	numNodeTypes
)

var nodeTypeNames = [...]string{
	JSConstant:       "JSConstant",
	WeakJSConstant:   "WeakJSConstant",
	PhantomArguments: "PhantomArguments",
	Int32ToDouble:    "Int32ToDouble",
	ValueToInt32:     "ValueToInt32",
	UInt32ToNumber:   "UInt32ToNumber",
	DoubleAsInt32:    "DoubleAsInt32",
	GetLocal:         "GetLocal",
	SetLocal:         "SetLocal",
	MovHint:          "MovHint",
	ZombieHint:       "ZombieHint",
	Phantom:          "Phantom",
	Flush:            "Flush",
	ArithAdd:         "ArithAdd",
	ArithSub:         "ArithSub",
	ArithMul:         "ArithMul",
	ArithDiv:         "ArithDiv",
	ArithMod:         "ArithMod",
	ValueAdd:         "ValueAdd",
	CompareLess:      "CompareLess",
	CompareEq:        "CompareEq",
	GetByID:          "GetByID",
	PutByID:          "PutByID",
	GetByVal:         "GetByVal",
	PutByVal:         "PutByVal",
	CheckStructure:   "CheckStructure",
	GetGlobalVar:     "GetGlobalVar",
	PutGlobalVar:     "PutGlobalVar",
	Call:             "Call",
	Construct:        "Construct",
	Jump:             "Jump",
	Branch:           "Branch",
	Return:           "Return",
	ForceOSRExit:     "ForceOSRExit",
	LoopHint:         "LoopHint",
}

// String implements fmt.Stringer.
func (t NodeType) String() string {
	if t < numNodeTypes {
		return nodeTypeNames[t]
	}
	return fmt.Sprintf("NodeType(%d)", t)
}

// ParseNodeType is the inverse of NodeType.String.
func ParseNodeType(s string) (NodeType, error) {
	for t, name := range nodeTypeNames {
		if name == s {
			return NodeType(t), nil
		}
	}
	return 0, fmt.Errorf("dfg: unknown node type %q", s)
}

// BelongsInMinifiedGraph reports whether nodes of this type are kept in
// the minified graph: those whose value, not side effect, an OSR exit may
// need to recover.
func (t NodeType) BelongsInMinifiedGraph() bool {
	switch t {
	case JSConstant, WeakJSConstant, PhantomArguments,
		Int32ToDouble, ValueToInt32, UInt32ToNumber, DoubleAsInt32:
		return true
	}
	return false
}

// IsNumericConversion reports whether the node narrows or widens a number.
func (t NodeType) IsNumericConversion() bool {
	switch t {
	case Int32ToDouble, ValueToInt32, UInt32ToNumber, DoubleAsInt32:
		return true
	}
	return false
}

// HasVarArgs reports whether nodes of this type use a Variable adjacency list.
func (t NodeType) HasVarArgs() bool {
	return t == Call || t == Construct
}

// Node is one optimizing-IR node. Nodes are owned by their Graph and
// allocated from its region allocator.
type Node struct {
	Op       NodeType
	Children AdjacencyList

	// CodeOrigin is the bytecode offset this node was parsed from.
	CodeOrigin int

	// Prediction is the speculated result type.
	Prediction value.SpeculatedType

	// Local is the operand for GetLocal, SetLocal, MovHint and Flush.
	Local bytecode.VirtualRegister

	// ConstantNumber indexes the code block's constant pool (JSConstant).
	ConstantNumber int

	// Weak is the cell a WeakJSConstant refers to.
	Weak value.CellID

	index    int
	refCount int
}

// Index returns the node's dense index within its graph.
func (n *Node) Index() int { return n.index }

// RefCount returns the number of uses recorded by the graph.
func (n *Node) RefCount() int { return n.refCount }

// Child1 returns the first child of a Fixed-arity node.
func (n *Node) Child1() Edge { return n.Children.Child1() }

// Child2 returns the second child of a Fixed-arity node.
func (n *Node) Child2() Edge { return n.Children.Child2() }

// String implements fmt.Stringer.
func (n *Node) String() string {
	return fmt.Sprintf("@%d:%s", n.index, n.Op)
}

// Graph is the optimizing compiler's IR for one compilation. Nodes are
// region-allocated and released together with the graph.
type Graph struct {
	Code *bytecode.UnlinkedCodeBlock

	alloc          *region.Allocator[Node]
	nodes          []*Node
	varArgChildren []Edge
}

// NewGraph creates an empty graph for code.
func NewGraph(code *bytecode.UnlinkedCodeBlock) *Graph {
	return &Graph{
		Code:  code,
		alloc: region.NewAllocator[Node](),
	}
}

// AddNode appends a node with up to three fixed children.
func (g *Graph) AddNode(op NodeType, origin int, children ...Edge) *Node {
	n := g.alloc.Allocate()
	n.Op = op
	n.CodeOrigin = origin
	n.Local = bytecode.InvalidVirtualRegister
	n.Children = NewFixedAdjacencyList(children...)
	g.register(n, children)
	return n
}

// AddVarArgNode appends a node whose children live in the var-arg array.
func (g *Graph) AddVarArgNode(op NodeType, origin int, children ...Edge) *Node {
	n := g.alloc.Allocate()
	n.Op = op
	n.CodeOrigin = origin
	n.Local = bytecode.InvalidVirtualRegister
	n.Children = NewVariableAdjacencyList(len(g.varArgChildren), len(children))
	g.varArgChildren = append(g.varArgChildren, children...)
	g.register(n, children)
	return n
}

func (g *Graph) register(n *Node, children []Edge) {
	n.index = g.alloc.IndexOf(n)
	for len(g.nodes) <= n.index {
		g.nodes = append(g.nodes, nil)
	}
	g.nodes[n.index] = n
	for _, c := range children {
		if c.IsSet() {
			c.Node().refCount++
		}
	}
}

// AddConstant appends a JSConstant for constant pool entry i.
func (g *Graph) AddConstant(origin, i int) *Node {
	n := g.AddNode(JSConstant, origin)
	n.ConstantNumber = i
	return n
}

// AddWeakConstant appends a WeakJSConstant for cell.
func (g *Graph) AddWeakConstant(origin int, cell value.CellID) *Node {
	n := g.AddNode(WeakJSConstant, origin)
	n.Weak = cell
	return n
}

// AddLocalNode appends a node that names a bytecode operand.
func (g *Graph) AddLocalNode(op NodeType, origin int, local bytecode.VirtualRegister, children ...Edge) *Node {
	n := g.AddNode(op, origin, children...)
	n.Local = local
	return n
}

// Node returns the node at index i, or nil if it was removed.
func (g *Graph) Node(i int) *Node {
	if i < 0 || i >= len(g.nodes) {
		return nil
	}
	return g.nodes[i]
}

// NumNodes returns the size of the index space, removed nodes included.
func (g *Graph) NumNodes() int { return len(g.nodes) }

// ForEachNode visits live nodes in index order.
func (g *Graph) ForEachNode(fn func(*Node)) {
	for _, n := range g.nodes {
		if n != nil {
			fn(n)
		}
	}
}

// NumChildren returns the number of children of n, for either kind of
// adjacency list.
func (g *Graph) NumChildren(n *Node) int {
	if n.Children.Kind() == Variable {
		return n.Children.NumChildren()
	}
	return n.Children.NumFixedChildren()
}

// Child returns child i of n, for either kind of adjacency list.
func (g *Graph) Child(n *Node, i int) Edge {
	if n.Children.Kind() == Variable {
		return g.varArgChildren[n.Children.FirstChild()+i]
	}
	return n.Children.Child(i)
}

// Remove deletes n from the graph and frees its storage. Children lose
// one reference each.
// Panics if n is still referenced.
func (g *Graph) Remove(n *Node) {
	if n.refCount != 0 {
		panic(fmt.Sprintf("dfg.Graph.Remove: %s still has %d uses", n, n.refCount))
	}
	for i := 0; i < g.NumChildren(n); i++ {
		if c := g.Child(n, i); c.IsSet() {
			c.Node().refCount--
		}
	}
	g.nodes[n.index] = nil
	g.alloc.Free(n)
}

// Release frees every node. The graph must not be used afterwards.
func (g *Graph) Release() {
	g.nodes = nil
	g.varArgChildren = nil
	g.alloc.Reset()
}

// MinifiedIDOf returns the stable identity of n used by the event stream
// and the minified graph.
func (g *Graph) MinifiedIDOf(n *Node) MinifiedID {
	return MinifiedID(n.index)
}
