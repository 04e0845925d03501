package vm

import (
	"sync/atomic"

	"github.com/chazu/tierup/pkg/value"
)

// Inline caching for property access
//
// Each get_by_id/put_by_id site owns a StructureStubInfo. Most sites see
// one structure, some see a handful, a few see many:
//   Empty -> Monomorphic -> Polymorphic (up to MaxPolymorphicStructures)
//   -> Megamorphic
//
// The cache contents live in an immutable snapshot behind an atomic
// pointer. Writers publish a new snapshot with compare-and-swap, so the
// first writer wins and a racing writer drops its update. The collector
// clears a cache by storing the empty snapshot; readers see either the
// old snapshot or the cleared one, never a mix.

// CacheState is the shape of an inline cache.
type CacheState uint8

const (
	CacheEmpty CacheState = iota
	CacheMonomorphic
	CachePolymorphic
	CacheMegamorphic
)

// String implements fmt.Stringer.
func (s CacheState) String() string {
	switch s {
	case CacheEmpty:
		return "empty"
	case CacheMonomorphic:
		return "monomorphic"
	case CachePolymorphic:
		return "polymorphic"
	case CacheMegamorphic:
		return "megamorphic"
	default:
		return "unknown"
	}
}

// MaxPolymorphicStructures is the largest number of structures a
// polymorphic cache holds before it goes megamorphic.
const MaxPolymorphicStructures = 6

// StubEntry maps a structure to the property offset it was found at.
type StubEntry struct {
	Structure value.CellID
	Offset    int
}

type stubSnapshot struct {
	state   CacheState
	entries []StubEntry
}

var emptyStub = &stubSnapshot{state: CacheEmpty}

// StructureStubInfo is the inline cache of one property access site.
type StructureStubInfo struct {
	BytecodeOffset int

	snapshot atomic.Pointer[stubSnapshot]
	hits     atomic.Uint64
	misses   atomic.Uint64
}

// NewStructureStubInfo creates an empty cache for the site at offset.
func NewStructureStubInfo(offset int) *StructureStubInfo {
	s := &StructureStubInfo{BytecodeOffset: offset}
	s.snapshot.Store(emptyStub)
	return s
}

func (s *StructureStubInfo) load() *stubSnapshot {
	if snap := s.snapshot.Load(); snap != nil {
		return snap
	}
	return emptyStub
}

// State returns the current cache state.
func (s *StructureStubInfo) State() CacheState { return s.load().state }

// Entries returns a copy of the cached structures.
func (s *StructureStubInfo) Entries() []StubEntry {
	snap := s.load()
	out := make([]StubEntry, len(snap.entries))
	copy(out, snap.entries)
	return out
}

// Lookup returns the cached offset for structure.
func (s *StructureStubInfo) Lookup(structure value.CellID) (int, bool) {
	for _, e := range s.load().entries {
		if e.Structure == structure {
			s.hits.Add(1)
			return e.Offset, true
		}
	}
	s.misses.Add(1)
	return 0, false
}

// Update records that structure has the property at offset. It reports
// whether a new snapshot was published.
func (s *StructureStubInfo) Update(structure value.CellID, offset int) bool {
	old := s.snapshot.Load()
	cur := old
	if cur == nil {
		cur = emptyStub
	}

	var next *stubSnapshot
	switch cur.state {
	case CacheEmpty:
		next = &stubSnapshot{state: CacheMonomorphic, entries: []StubEntry{{structure, offset}}}
	case CacheMonomorphic, CachePolymorphic:
		for _, e := range cur.entries {
			if e.Structure == structure {
				return false
			}
		}
		if len(cur.entries) >= MaxPolymorphicStructures {
			next = &stubSnapshot{state: CacheMegamorphic}
			break
		}
		entries := make([]StubEntry, len(cur.entries), len(cur.entries)+1)
		copy(entries, cur.entries)
		next = &stubSnapshot{state: CachePolymorphic, entries: append(entries, StubEntry{structure, offset})}
	case CacheMegamorphic:
		return false
	}
	return s.snapshot.CompareAndSwap(old, next)
}

// Reset clears the cache and its statistics.
func (s *StructureStubInfo) Reset() {
	s.snapshot.Store(emptyStub)
	s.hits.Store(0)
	s.misses.Store(0)
}

// VisitWeak clears the cache if any cached structure is dead, and
// reports whether it did.
func (s *StructureStubInfo) VisitWeak(l Liveness) bool {
	for _, e := range s.load().entries {
		if !l.IsLive(e.Structure) {
			s.snapshot.Store(emptyStub)
			return true
		}
	}
	return false
}

// Hits returns the number of cache hits.
func (s *StructureStubInfo) Hits() uint64 { return s.hits.Load() }

// Misses returns the number of cache misses.
func (s *StructureStubInfo) Misses() uint64 { return s.misses.Load() }

// ICStats holds aggregate inline cache statistics.
type ICStats struct {
	TotalSites      int     // Property access sites with caches
	Monomorphic     int     // Sites in monomorphic state
	Polymorphic     int     // Sites in polymorphic state
	Megamorphic     int     // Sites in megamorphic state
	Empty           int     // Sites never filled
	TotalHits       uint64  // Total cache hits
	TotalMisses     uint64  // Total cache misses
	HitRate         float64 // Overall hit rate percentage
	MonomorphicRate float64 // Percentage of filled sites that are monomorphic
	LinkedCalls     int     // Call sites currently linked to a callee
	TotalCalls      int     // Call sites
}

// CollectICStats gathers inline cache statistics from a set of blocks.
func CollectICStats(blocks ...*CodeBlock) ICStats {
	var stats ICStats
	for _, cb := range blocks {
		for _, s := range cb.stubs {
			stats.TotalSites++
			switch s.State() {
			case CacheMonomorphic:
				stats.Monomorphic++
			case CachePolymorphic:
				stats.Polymorphic++
			case CacheMegamorphic:
				stats.Megamorphic++
			case CacheEmpty:
				stats.Empty++
			}
			stats.TotalHits += s.Hits()
			stats.TotalMisses += s.Misses()
		}
		for _, c := range cb.callLinks {
			stats.TotalCalls++
			if c.IsLinked() {
				stats.LinkedCalls++
			}
		}
	}

	total := stats.TotalHits + stats.TotalMisses
	if total > 0 {
		stats.HitRate = float64(stats.TotalHits) * 100 / float64(total)
	}
	nonEmpty := stats.TotalSites - stats.Empty
	if nonEmpty > 0 {
		stats.MonomorphicRate = float64(stats.Monomorphic) * 100 / float64(nonEmpty)
	}
	return stats
}
