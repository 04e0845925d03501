package region

import (
	"math/rand"
	"runtime"
	"testing"
	"time"
)

type node struct {
	id       int
	children [3]*node
	payload  [5]uint64
}

type tracked struct {
	destroyed *int
	pad       [8]uint64
}

func (t *tracked) Destroy() { *t.destroyed++ }

func TestAllocateIsZeroed(t *testing.T) {
	a := NewAllocator[node]()
	p := a.Allocate()
	if p.id != 0 || p.children[0] != nil {
		t.Error("fresh allocation not zeroed")
	}
	p.id = 7
	a.Free(p)
	q := a.Allocate()
	if q != p {
		t.Error("free list not reused")
	}
	if q.id != 0 {
		t.Error("reused slot not zeroed")
	}
}

func TestAllocateSpillsIntoNewRegion(t *testing.T) {
	a := NewAllocator[node]()
	per := a.SlotsPerRegion()
	for i := 0; i < per+1; i++ {
		a.Allocate()
	}
	if a.Regions() != 2 {
		t.Errorf("Regions() = %d, want 2", a.Regions())
	}
	if a.Live() != per+1 {
		t.Errorf("Live() = %d, want %d", a.Live(), per+1)
	}
}

func TestRoundTripAndNoAliasing(t *testing.T) {
	a := NewAllocator[node]()
	rng := rand.New(rand.NewSource(1))
	live := make(map[*node]int)
	var order []*node
	next := 0

	for step := 0; step < 20000; step++ {
		if len(order) > 0 && rng.Intn(3) == 0 {
			i := rng.Intn(len(order))
			p := order[i]
			if p.id != live[p] {
				t.Fatalf("object %d was overwritten with %d", live[p], p.id)
			}
			order[i] = order[len(order)-1]
			order = order[:len(order)-1]
			delete(live, p)
			a.Free(p)
			continue
		}
		p := a.Allocate()
		if _, dup := live[p]; dup {
			t.Fatalf("allocation %p handed out twice", p)
		}
		next++
		p.id = next
		live[p] = next
		order = append(order, p)
	}

	seen := make(map[int]bool)
	for p := range live {
		owner := AllocatorOf(p)
		if owner != a {
			t.Fatalf("AllocatorOf(%p) = %p, want %p", p, owner, a)
		}
		idx := IndexOf(p)
		if idx != owner.IndexOf(p) {
			t.Fatalf("IndexOf mismatch: %d vs %d", idx, owner.IndexOf(p))
		}
		if seen[idx] {
			t.Fatalf("index %d shared by two live objects", idx)
		}
		seen[idx] = true
	}
	if a.Live() != len(live) {
		t.Errorf("Live() = %d, want %d", a.Live(), len(live))
	}
}

func TestFreeRunsDestroy(t *testing.T) {
	a := NewAllocator[tracked]()
	count := 0
	p := a.Allocate()
	p.destroyed = &count
	a.Free(p)
	if count != 1 {
		t.Errorf("Destroy ran %d times, want 1", count)
	}
}

func TestDoubleFreePanics(t *testing.T) {
	a := NewAllocator[node]()
	p := a.Allocate()
	a.Free(p)
	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	a.Free(p)
}

func TestFreeForeignPointerPanics(t *testing.T) {
	a := NewAllocator[node]()
	b := NewAllocator[node]()
	p := b.Allocate()
	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	a.Free(p)
}

func TestFreeAllKeepsLastRegion(t *testing.T) {
	a := NewAllocator[node]()
	per := a.SlotsPerRegion()
	var last *node
	for i := 0; i < 2*per+3; i++ {
		last = a.Allocate()
		last.id = i + 1
	}
	a.FreeAll()
	if a.Regions() != 1 || a.Live() != 0 {
		t.Errorf("after FreeAll: regions=%d live=%d", a.Regions(), a.Live())
	}
	if !a.Owns(last) {
		t.Error("most recent region should be kept")
	}
	if last.id != 0 {
		t.Error("kept region not cleared")
	}
	p := a.Allocate()
	if IndexOf(p) != 0 {
		t.Errorf("first allocation after FreeAll has index %d, want 0", IndexOf(p))
	}
}

func TestResetReleasesEverything(t *testing.T) {
	a := NewAllocator[node]()
	p := a.Allocate()
	a.Reset()
	if a.Regions() != 0 {
		t.Errorf("Regions() = %d after Reset", a.Regions())
	}
	if AllocatorOf(p) != nil {
		t.Error("released region still registered")
	}
	if IndexOf(p) != -1 {
		t.Error("IndexOf on released pointer should be -1")
	}
}

func TestForeignPointerLookup(t *testing.T) {
	n := &node{}
	if AllocatorOf(n) != nil || IndexOf(n) != -1 {
		t.Error("heap pointer reported as region-allocated")
	}
}

func TestDroppedAllocatorIsUnregistered(t *testing.T) {
	var id uint64
	var held *[64]byte
	func() {
		a := NewAllocator[[64]byte]()
		for i := 0; i < 3000; i++ {
			held = a.Allocate()
		}
		if a.Regions() != 3 {
			t.Fatalf("Regions() = %d, want 3", a.Regions())
		}
		id = a.id
		if n := spansOf(id); n != 3 {
			t.Fatalf("registered spans = %d, want 3", n)
		}
	}()

	for i := 0; i < 50 && spansOf(id) > 0; i++ {
		runtime.GC()
		time.Sleep(10 * time.Millisecond)
	}
	if n := spansOf(id); n > 0 {
		t.Errorf("dropped allocator still has %d spans registered", n)
	}
	if AllocatorOf(held) != nil || IndexOf(held) != -1 {
		t.Error("object of a collected allocator still maps to an owner")
	}
	runtime.KeepAlive(held)
}

func spansOf(id uint64) int {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	n := 0
	for _, s := range registry.spans {
		if s.id == id {
			n++
		}
	}
	return n
}
