// Package region provides a bump/free-list allocator for fixed-size
// compiler IR objects, carved out of 64 KiB regions.
//
// Objects allocated here are owned by the allocator: callers release them
// only through Free, FreeAll or Reset. Any object pointer can be mapped
// back to its allocator and to a dense per-allocator index with
// AllocatorOf and IndexOf.
package region

import (
	"fmt"
	"runtime"
	"sync/atomic"
	"unsafe"
	"weak"
)

// RegionSize is the size in bytes of one region.
const RegionSize = 64 << 10

// Destroyer is implemented by element types that hold resources which
// must be released when an object is freed.
type Destroyer interface {
	Destroy()
}

type region[T any] struct {
	slots []T
	used  []bool
	span  span
}

// Allocator hands out *T from 64 KiB regions. It is not safe for
// concurrent use; each compilation owns its own allocator.
type Allocator[T any] struct {
	regions  []*region[T]
	bump     int // next never-used slot in the last region
	freeList []*T
	live     int
	perRgn   int
	elemSize uintptr

	id   uint64
	self weak.Pointer[Allocator[T]]
}

var nextID atomic.Uint64

// NewAllocator returns an empty allocator.
// Panics if T has zero size.
func NewAllocator[T any]() *Allocator[T] {
	var zero T
	size := unsafe.Sizeof(zero)
	if size == 0 {
		panic("region.NewAllocator: zero-sized element type")
	}
	per := int(RegionSize / size)
	if per < 1 {
		per = 1
	}
	a := &Allocator[T]{perRgn: per, elemSize: size, id: nextID.Add(1)}
	a.self = weak.Make(a)
	runtime.AddCleanup(a, unregisterOwner, a.id)
	return a
}

// SlotsPerRegion returns how many objects fit in one region.
func (a *Allocator[T]) SlotsPerRegion() int { return a.perRgn }

// Live returns the number of currently allocated objects.
func (a *Allocator[T]) Live() int { return a.live }

// Regions returns the number of regions currently held.
func (a *Allocator[T]) Regions() int { return len(a.regions) }

// Allocate returns zeroed storage for one T. It reuses freed slots first,
// then bumps within the current region, and only then adds a region.
func (a *Allocator[T]) Allocate() *T {
	if n := len(a.freeList); n > 0 {
		p := a.freeList[n-1]
		a.freeList = a.freeList[:n-1]
		a.markUsed(p, true)
		a.live++
		return p
	}
	if len(a.regions) == 0 || a.bump == a.perRgn {
		a.addRegion()
	}
	r := a.regions[len(a.regions)-1]
	p := &r.slots[a.bump]
	r.used[a.bump] = true
	a.bump++
	a.live++
	return p
}

// Free destroys the object at p and makes its slot available again.
// Panics if p was not allocated by a or is already free.
func (a *Allocator[T]) Free(p *T) {
	r, slot := a.locate(p)
	if !r.used[slot] {
		panic("region.Allocator.Free: double free")
	}
	if d, ok := any(p).(Destroyer); ok {
		d.Destroy()
	}
	var zero T
	*p = zero
	r.used[slot] = false
	a.freeList = append(a.freeList, p)
	a.live--
}

// FreeAll releases every object at once without running Destroy. All but
// the most recently added region are returned to the runtime; the kept
// region becomes a fresh bump region.
func (a *Allocator[T]) FreeAll() {
	if len(a.regions) == 0 {
		return
	}
	last := a.regions[len(a.regions)-1]
	for _, r := range a.regions[:len(a.regions)-1] {
		unregister(r.span)
	}
	clear(last.slots)
	clear(last.used)
	a.regions = append(a.regions[:0], last)
	last.span.index = 0
	reindex(last.span)
	a.bump = 0
	a.freeList = nil
	a.live = 0
}

// Reset returns every region to the runtime.
func (a *Allocator[T]) Reset() {
	for _, r := range a.regions {
		unregister(r.span)
	}
	a.regions = nil
	a.bump = 0
	a.freeList = nil
	a.live = 0
}

// IndexOf returns the dense index of p within a: its region ordinal times
// SlotsPerRegion plus its slot.
// Panics if p was not allocated by a.
func (a *Allocator[T]) IndexOf(p *T) int {
	r, slot := a.locate(p)
	return r.span.index*a.perRgn + slot
}

// Owns reports whether p lies inside one of a's regions.
func (a *Allocator[T]) Owns(p *T) bool {
	s, ok := lookup(addrOf(p))
	return ok && s.id == a.id
}

func (a *Allocator[T]) addRegion() {
	r := &region[T]{
		slots: make([]T, a.perRgn),
		used:  make([]bool, a.perRgn),
	}
	base := uintptr(unsafe.Pointer(&r.slots[0]))
	self := a.self
	r.span = span{
		base:  base,
		end:   base + uintptr(a.perRgn)*a.elemSize,
		id:    a.id,
		owner: self,
		alive: func() bool { return self.Value() != nil },
		index: len(a.regions),
		elem:  a.elemSize,
	}
	register(r.span)
	a.regions = append(a.regions, r)
	a.bump = 0
}

func (a *Allocator[T]) locate(p *T) (*region[T], int) {
	s, ok := lookup(addrOf(p))
	if !ok || s.id != a.id {
		panic(fmt.Sprintf("region.Allocator: %p was not allocated by this allocator", p))
	}
	return a.regions[s.index], s.slot(addrOf(p))
}

func (a *Allocator[T]) markUsed(p *T, used bool) {
	r, slot := a.locate(p)
	r.used[slot] = used
}

func addrOf[T any](p *T) uintptr {
	return uintptr(unsafe.Pointer(p))
}

// AllocatorOf returns the allocator that owns p, or nil if p was not
// allocated by any live Allocator[T].
func AllocatorOf[T any](p *T) *Allocator[T] {
	s, ok := lookup(addrOf(p))
	if !ok {
		return nil
	}
	w, ok := s.owner.(weak.Pointer[Allocator[T]])
	if !ok {
		return nil
	}
	return w.Value()
}

// IndexOf returns the dense index of p within its owning allocator, or -1
// if p is not region-allocated.
func IndexOf[T any](p *T) int {
	s, ok := lookup(addrOf(p))
	if !ok {
		return -1
	}
	if _, ok := s.owner.(weak.Pointer[Allocator[T]]); !ok {
		return -1
	}
	return s.index*s.perRegion() + s.slot(addrOf(p))
}
