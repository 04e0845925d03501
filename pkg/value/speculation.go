package value

import "strings"

// SpeculatedType is a bitmask of the kinds of values a profiling site has
// observed. The optimizing tier uses it to decide which type checks to
// speculate on.
type SpeculatedType uint32

const (
	SpecNone    SpeculatedType = 0
	SpecInt32   SpeculatedType = 1 << 0
	SpecDouble  SpeculatedType = 1 << 1
	SpecBoolean SpeculatedType = 1 << 2
	SpecOther   SpeculatedType = 1 << 3 // undefined or null
	SpecCell    SpeculatedType = 1 << 4
	SpecEmpty   SpeculatedType = 1 << 5

	SpecNumber SpeculatedType = SpecInt32 | SpecDouble
	SpecTop    SpeculatedType = SpecInt32 | SpecDouble | SpecBoolean | SpecOther | SpecCell | SpecEmpty
)

// SpeculationFromValue classifies a single observed value.
func SpeculationFromValue(v Value) SpeculatedType {
	switch {
	case v.IsInt32():
		return SpecInt32
	case v.IsCell():
		return SpecCell
	case v.IsBool():
		return SpecBoolean
	case v.IsOther():
		return SpecOther
	case v.IsEmpty():
		return SpecEmpty
	default:
		return SpecDouble
	}
}

// Merge returns the union of two predictions.
func (s SpeculatedType) Merge(other SpeculatedType) SpeculatedType {
	return s | other
}

// IsSubsetOf reports whether every bit of s is also set in other.
func (s SpeculatedType) IsSubsetOf(other SpeculatedType) bool {
	return s&^other == 0
}

// IsInt32 reports whether only int32s were seen.
func (s SpeculatedType) IsInt32() bool { return s != SpecNone && s.IsSubsetOf(SpecInt32) }

// IsNumber reports whether only numbers were seen.
func (s SpeculatedType) IsNumber() bool { return s != SpecNone && s.IsSubsetOf(SpecNumber) }

// IsCell reports whether only cells were seen.
func (s SpeculatedType) IsCell() bool { return s != SpecNone && s.IsSubsetOf(SpecCell) }

// String implements fmt.Stringer.
func (s SpeculatedType) String() string {
	if s == SpecNone {
		return "None"
	}
	if s == SpecTop {
		return "Top"
	}
	var parts []string
	names := []struct {
		bit  SpeculatedType
		name string
	}{
		{SpecInt32, "Int32"},
		{SpecDouble, "Double"},
		{SpecBoolean, "Boolean"},
		{SpecOther, "Other"},
		{SpecCell, "Cell"},
		{SpecEmpty, "Empty"},
	}
	for _, n := range names {
		if s&n.bit != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}
