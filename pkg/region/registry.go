package region

import (
	"sort"
	"sync"
)

// span is the address range of one region. The Go heap does not move
// objects, so a region's slots keep their addresses for its lifetime.
//
// A span never holds its allocator strongly: owner is a
// weak.Pointer[Allocator[T]], so a dropped allocator can be collected and
// its spans are removed by its cleanup.
type span struct {
	base, end uintptr
	elem      uintptr
	id        uint64 // owning allocator
	owner     any    // weak.Pointer[Allocator[T]]
	alive     func() bool
	index     int // region ordinal within owner
}

func (s span) slot(addr uintptr) int {
	return int((addr - s.base) / s.elem)
}

func (s span) perRegion() int {
	return int((s.end - s.base) / s.elem)
}

// registry maps addresses back to regions. Allocators on different
// goroutines share it, so it is guarded.
var registry struct {
	mu    sync.RWMutex
	spans []span // sorted by base
}

func register(s span) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	// Memory of a collected allocator may be reused before its cleanup
	// has run; stale spans must not overlap new ones.
	pruneLocked(func(old span) bool { return !old.alive() })
	i := sort.Search(len(registry.spans), func(i int) bool { return registry.spans[i].base >= s.base })
	registry.spans = append(registry.spans, span{})
	copy(registry.spans[i+1:], registry.spans[i:])
	registry.spans[i] = s
}

func unregister(s span) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	i := sort.Search(len(registry.spans), func(i int) bool { return registry.spans[i].base >= s.base })
	if i < len(registry.spans) && registry.spans[i].base == s.base {
		registry.spans = append(registry.spans[:i], registry.spans[i+1:]...)
	}
}

// unregisterOwner drops every span of allocator id.
func unregisterOwner(id uint64) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	pruneLocked(func(s span) bool { return s.id == id })
}

func pruneLocked(drop func(span) bool) {
	kept := registry.spans[:0]
	for _, s := range registry.spans {
		if !drop(s) {
			kept = append(kept, s)
		}
	}
	clear(registry.spans[len(kept):])
	registry.spans = kept
}

// reindex updates the stored ordinal of a region that survived FreeAll.
func reindex(s span) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	i := sort.Search(len(registry.spans), func(i int) bool { return registry.spans[i].base >= s.base })
	if i < len(registry.spans) && registry.spans[i].base == s.base {
		registry.spans[i].index = s.index
	}
}

func lookup(addr uintptr) (span, bool) {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	// first span whose end is beyond addr
	i := sort.Search(len(registry.spans), func(i int) bool { return registry.spans[i].end > addr })
	if i < len(registry.spans) && registry.spans[i].base <= addr && registry.spans[i].alive() {
		return registry.spans[i], true
	}
	return span{}, false
}
