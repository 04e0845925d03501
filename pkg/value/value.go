// Package value defines the boxed value representation shared by the
// bytecode tier, the optimizing tier and the OSR exit machinery.
package value

import (
	"fmt"
	"math"
	"strconv"
)

// Value is a boxed JavaScript-like value using NaN-boxing.
//
// All values are 64-bit IEEE 754 doubles. Non-double values live in the
// quiet-NaN space, distinguished by tag bits:
//   - Double: native IEEE 754 bits (anything that is not a tagged NaN)
//   - Int32:  quiet NaN + tagInt32 + 32-bit payload
//   - Cell:   quiet NaN + tagCell + CellID payload
//   - Special: quiet NaN + tagSpecial + undefined/null/true/false/empty
//
// Cells are referenced by ID rather than by pointer so that the Go
// collector never has to see through a boxed value; the heap that owns the
// cells is an external collaborator.
type Value uint64

// CellID identifies a heap cell owned by the embedding heap.
type CellID uint32

const (
	nanBits     uint64 = 0x7FF8000000000000
	tagMask     uint64 = 0x0007000000000000
	payloadMask uint64 = 0x0000FFFFFFFFFFFF

	tagCell    uint64 = 0x0001000000000000
	tagInt32   uint64 = 0x0002000000000000
	tagSpecial uint64 = 0x0003000000000000
)

const (
	specialUndefined uint64 = 0
	specialNull      uint64 = 1
	specialTrue      uint64 = 2
	specialFalse     uint64 = 3
	specialEmpty     uint64 = 4
)

// Pre-defined special values.
const (
	Undefined Value = Value(nanBits | tagSpecial | specialUndefined)
	Null      Value = Value(nanBits | tagSpecial | specialNull)
	True      Value = Value(nanBits | tagSpecial | specialTrue)
	False     Value = Value(nanBits | tagSpecial | specialFalse)

	// Empty marks a hole or an uninitialized register. It is never a
	// language-visible value.
	Empty Value = Value(nanBits | tagSpecial | specialEmpty)
)

// canonicalNaN is what every NaN double is folded into so it can never be
// mistaken for a tagged value.
const canonicalNaN uint64 = 0x7FF8000000000000

// ---------------------------------------------------------------------------
// Type checking
// ---------------------------------------------------------------------------

// IsDouble returns true if v holds a double.
func (v Value) IsDouble() bool {
	bits := uint64(v)
	if bits&nanBits != nanBits {
		return true
	}
	return bits&tagMask == 0
}

// IsInt32 returns true if v holds an int32.
func (v Value) IsInt32() bool {
	return uint64(v)&(nanBits|tagMask) == nanBits|tagInt32
}

// IsNumber returns true if v holds an int32 or a double.
func (v Value) IsNumber() bool {
	return v.IsInt32() || v.IsDouble()
}

// IsCell returns true if v references a heap cell.
func (v Value) IsCell() bool {
	return uint64(v)&(nanBits|tagMask) == nanBits|tagCell
}

// IsSpecial returns true for undefined, null, booleans and empty.
func (v Value) IsSpecial() bool {
	return uint64(v)&(nanBits|tagMask) == nanBits|tagSpecial
}

// IsUndefined returns true if v is undefined.
func (v Value) IsUndefined() bool { return v == Undefined }

// IsNull returns true if v is null.
func (v Value) IsNull() bool { return v == Null }

// IsBool returns true if v is true or false.
func (v Value) IsBool() bool { return v == True || v == False }

// IsEmpty returns true if v is the empty marker.
func (v Value) IsEmpty() bool { return v == Empty }

// IsOther returns true for undefined and null.
func (v Value) IsOther() bool { return v == Undefined || v == Null }

// ---------------------------------------------------------------------------
// Constructors and accessors
// ---------------------------------------------------------------------------

// FromFloat64 boxes a double. NaNs are canonicalized.
func FromFloat64(f float64) Value {
	if f != f {
		return Value(canonicalNaN)
	}
	return Value(math.Float64bits(f))
}

// Float64 returns the double held by v.
// Panics if v is not a double.
func (v Value) Float64() float64 {
	if !v.IsDouble() {
		panic("Value.Float64: not a double")
	}
	return math.Float64frombits(uint64(v))
}

// FromInt32 boxes an int32.
func FromInt32(n int32) Value {
	return Value(nanBits | tagInt32 | uint64(uint32(n)))
}

// Int32 returns the int32 held by v.
// Panics if v is not an int32.
func (v Value) Int32() int32 {
	if !v.IsInt32() {
		panic("Value.Int32: not an int32")
	}
	return int32(uint32(uint64(v)))
}

// FromNumber boxes n as an int32 when it is integral and in range, and as a
// double otherwise. Negative zero stays a double.
func FromNumber(n float64) Value {
	if i := int32(n); float64(i) == n && !(n == 0 && math.Signbit(n)) {
		return FromInt32(i)
	}
	return FromFloat64(n)
}

// AsNumber returns v as a float64 for either numeric representation.
// Panics if v is not a number.
func (v Value) AsNumber() float64 {
	if v.IsInt32() {
		return float64(v.Int32())
	}
	return v.Float64()
}

// FromCell boxes a cell reference.
func FromCell(id CellID) Value {
	return Value(nanBits | tagCell | uint64(id))
}

// Cell returns the cell referenced by v.
// Panics if v is not a cell.
func (v Value) Cell() CellID {
	if !v.IsCell() {
		panic("Value.Cell: not a cell")
	}
	return CellID(uint64(v) & payloadMask)
}

// FromBool boxes a boolean.
func FromBool(b bool) Value {
	if b {
		return True
	}
	return False
}

// Bool returns the boolean held by v.
// Panics if v is not a boolean.
func (v Value) Bool() bool {
	switch v {
	case True:
		return true
	case False:
		return false
	default:
		panic("Value.Bool: not a boolean")
	}
}

// Bits returns the raw 64-bit encoding.
func (v Value) Bits() uint64 { return uint64(v) }

// FromBits reinterprets a raw 64-bit word as a Value.
func FromBits(bits uint64) Value { return Value(bits) }

// Tag returns the high 32 bits of the encoding. Together with Payload it
// is the split representation used for register pairs.
func (v Value) Tag() uint32 { return uint32(uint64(v) >> 32) }

// Payload returns the low 32 bits of the encoding.
func (v Value) Payload() uint32 { return uint32(uint64(v)) }

// FromTagPayload joins a tag word and a payload word.
func FromTagPayload(tag, payload uint32) Value {
	return Value(uint64(tag)<<32 | uint64(payload))
}

// String implements fmt.Stringer.
func (v Value) String() string {
	switch {
	case v == Undefined:
		return "undefined"
	case v == Null:
		return "null"
	case v == True:
		return "true"
	case v == False:
		return "false"
	case v == Empty:
		return "<empty>"
	case v.IsInt32():
		return strconv.FormatInt(int64(v.Int32()), 10)
	case v.IsCell():
		return fmt.Sprintf("cell#%d", v.Cell())
	case v.IsDouble():
		return strconv.FormatFloat(v.Float64(), 'g', -1, 64)
	default:
		return fmt.Sprintf("Value(0x%016x)", uint64(v))
	}
}
