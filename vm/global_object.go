package vm

import (
	"sync"

	"github.com/chazu/tierup/pkg/bytecode"
	"github.com/chazu/tierup/pkg/value"
)

// GlobalObject holds the global variables that linked code addresses by
// slot index.
type GlobalObject struct {
	mu     sync.RWMutex
	slots  map[string]int
	names  []string
	values []value.Value
}

// NewGlobalObject creates an empty global object.
func NewGlobalObject() *GlobalObject {
	return &GlobalObject{slots: make(map[string]int)}
}

// SlotFor returns the slot of the named global, registering it as
// undefined if it does not exist yet.
func (g *GlobalObject) SlotFor(name string) int {
	g.mu.RLock()
	slot, ok := g.slots[name]
	g.mu.RUnlock()
	if ok {
		return slot
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if slot, ok := g.slots[name]; ok {
		return slot
	}
	slot = len(g.values)
	g.slots[name] = slot
	g.names = append(g.names, name)
	g.values = append(g.values, value.Undefined)
	return slot
}

// Lookup returns the slot of the named global without registering it.
func (g *GlobalObject) Lookup(name string) (int, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	slot, ok := g.slots[name]
	return slot, ok
}

// Name returns the name of a slot.
func (g *GlobalObject) Name(slot int) string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.names[slot]
}

// Get returns the value in a slot.
func (g *GlobalObject) Get(slot int) value.Value {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.values[slot]
}

// Put stores a value in a slot.
func (g *GlobalObject) Put(slot int, v value.Value) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.values[slot] = v
}

// Len returns the number of registered globals.
func (g *GlobalObject) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.values)
}

// VisitAggregate reports every cell held in a global.
func (g *GlobalObject) VisitAggregate(v SlotVisitor) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, val := range g.values {
		v.Append(val)
	}
}

// Executable is the heap-visible function object that owns an
// unlinked code block. Cell is its identity in the embedding heap.
type Executable struct {
	Name     string
	Cell     value.CellID
	Unlinked *bytecode.UnlinkedCodeBlock
}

// NewExecutable wraps unlinked code.
func NewExecutable(unlinked *bytecode.UnlinkedCodeBlock, cell value.CellID) *Executable {
	return &Executable{Name: unlinked.Name, Cell: cell, Unlinked: unlinked}
}
