package osr

import (
	"fmt"

	"github.com/chazu/tierup/pkg/bytecode"
	"github.com/chazu/tierup/pkg/value"
)

// RecoveryTechnique says how the exit trampoline obtains one value.
type RecoveryTechnique uint8

const (
	// The value is in the baseline frame slot already, in the given form.
	AlreadyInJSStack RecoveryTechnique = iota
	AlreadyInJSStackAsUnboxedInt32
	AlreadyInJSStackAsUnboxedCell
	AlreadyInJSStackAsUnboxedBoolean
	AlreadyInJSStackAsUnboxedDouble

	// The value is in a register.
	InGPR
	UnboxedInt32InGPR
	UnboxedBooleanInGPR
	UInt32InGPR
	InPair
	InFPR

	// The value was spilled to some other stack slot.
	DisplacedInJSStack
	Int32DisplacedInJSStack
	DoubleDisplacedInJSStack
	CellDisplacedInJSStack
	BooleanDisplacedInJSStack

	// The arguments object was elided and must be created lazily.
	ArgumentsThatWereNotCreated
	Constant
	DontKnow
)

var techniqueNames = [...]string{
	AlreadyInJSStack:                 "AlreadyInJSStack",
	AlreadyInJSStackAsUnboxedInt32:   "AlreadyInJSStackAsUnboxedInt32",
	AlreadyInJSStackAsUnboxedCell:    "AlreadyInJSStackAsUnboxedCell",
	AlreadyInJSStackAsUnboxedBoolean: "AlreadyInJSStackAsUnboxedBoolean",
	AlreadyInJSStackAsUnboxedDouble:  "AlreadyInJSStackAsUnboxedDouble",
	InGPR:                            "InGPR",
	UnboxedInt32InGPR:                "UnboxedInt32InGPR",
	UnboxedBooleanInGPR:              "UnboxedBooleanInGPR",
	UInt32InGPR:                      "UInt32InGPR",
	InPair:                           "InPair",
	InFPR:                            "InFPR",
	DisplacedInJSStack:               "DisplacedInJSStack",
	Int32DisplacedInJSStack:          "Int32DisplacedInJSStack",
	DoubleDisplacedInJSStack:         "DoubleDisplacedInJSStack",
	CellDisplacedInJSStack:           "CellDisplacedInJSStack",
	BooleanDisplacedInJSStack:        "BooleanDisplacedInJSStack",
	ArgumentsThatWereNotCreated:      "ArgumentsThatWereNotCreated",
	Constant:                         "Constant",
	DontKnow:                         "DontKnow",
}

// String implements fmt.Stringer.
func (t RecoveryTechnique) String() string {
	if int(t) < len(techniqueNames) {
		return techniqueNames[t]
	}
	return fmt.Sprintf("RecoveryTechnique(%d)", t)
}

// ValueRecovery is the resolved description of how to rebuild one
// bytecode operand at an exit. Build one with the Recover constructors.
type ValueRecovery struct {
	technique RecoveryTechnique
	gpr       GPR
	tag       GPR
	payload   GPR
	fpr       FPR
	slot      bytecode.VirtualRegister
	constant  value.Value
}

func recovery(t RecoveryTechnique) ValueRecovery {
	return ValueRecovery{technique: t, gpr: InvalidGPR, tag: InvalidGPR, payload: InvalidGPR, fpr: InvalidFPR, slot: bytecode.InvalidVirtualRegister}
}

// RecoverAlreadyInJSStack is the common "nothing to do" recovery.
func RecoverAlreadyInJSStack() ValueRecovery { return recovery(AlreadyInJSStack) }

// RecoverAlreadyInJSStackAs returns the in-place recovery for a slot
// holding an unboxed value of the given format.
func RecoverAlreadyInJSStackAs(format DataFormat) ValueRecovery {
	switch format {
	case DataFormatInteger:
		return recovery(AlreadyInJSStackAsUnboxedInt32)
	case DataFormatCell:
		return recovery(AlreadyInJSStackAsUnboxedCell)
	case DataFormatBoolean:
		return recovery(AlreadyInJSStackAsUnboxedBoolean)
	case DataFormatDouble:
		return recovery(AlreadyInJSStackAsUnboxedDouble)
	default:
		return recovery(AlreadyInJSStack)
	}
}

// RecoverInGPR returns a register recovery. Unboxed ints and booleans get
// their own techniques; anything else is taken to be boxed.
func RecoverInGPR(g GPR, format DataFormat) ValueRecovery {
	var r ValueRecovery
	switch format {
	case DataFormatInteger:
		r = recovery(UnboxedInt32InGPR)
	case DataFormatBoolean:
		r = recovery(UnboxedBooleanInGPR)
	default:
		r = recovery(InGPR)
	}
	r.gpr = g
	return r
}

// RecoverUInt32InGPR returns a recovery for a uint32 that must be
// widened to a number.
func RecoverUInt32InGPR(g GPR) ValueRecovery {
	r := recovery(UInt32InGPR)
	r.gpr = g
	return r
}

// RecoverInPair returns a split tag/payload recovery.
func RecoverInPair(tag, payload GPR) ValueRecovery {
	r := recovery(InPair)
	r.tag, r.payload = tag, payload
	return r
}

// RecoverInFPR returns an unboxed double register recovery.
func RecoverInFPR(f FPR) ValueRecovery {
	r := recovery(InFPR)
	r.fpr = f
	return r
}

// RecoverDisplacedInJSStack returns a recovery from a spill slot.
func RecoverDisplacedInJSStack(slot bytecode.VirtualRegister, format DataFormat) ValueRecovery {
	var r ValueRecovery
	switch format {
	case DataFormatInteger:
		r = recovery(Int32DisplacedInJSStack)
	case DataFormatDouble:
		r = recovery(DoubleDisplacedInJSStack)
	case DataFormatCell:
		r = recovery(CellDisplacedInJSStack)
	case DataFormatBoolean:
		r = recovery(BooleanDisplacedInJSStack)
	default:
		r = recovery(DisplacedInJSStack)
	}
	r.slot = slot
	return r
}

// RecoverArgumentsThatWereNotCreated marks an elided arguments object.
func RecoverArgumentsThatWereNotCreated() ValueRecovery {
	return recovery(ArgumentsThatWereNotCreated)
}

// RecoverConstant returns a literal recovery.
func RecoverConstant(v value.Value) ValueRecovery {
	r := recovery(Constant)
	r.constant = v
	return r
}

// RecoverDontKnow is never produced by Reconstruct.
func RecoverDontKnow() ValueRecovery { return recovery(DontKnow) }

func (r ValueRecovery) Technique() RecoveryTechnique { return r.technique }

// IsSet reports whether r names a real recovery.
func (r ValueRecovery) IsSet() bool { return r.technique != DontKnow }

// IsInRegisters reports whether r reads a register.
func (r ValueRecovery) IsInRegisters() bool {
	switch r.technique {
	case InGPR, UnboxedInt32InGPR, UnboxedBooleanInGPR, UInt32InGPR, InPair, InFPR:
		return true
	}
	return false
}

// IsAlreadyInJSStack reports whether the baseline slot already holds the value.
func (r ValueRecovery) IsAlreadyInJSStack() bool {
	return r.technique <= AlreadyInJSStackAsUnboxedDouble
}

// GPR returns the register of a GPR recovery.
func (r ValueRecovery) GPR() GPR { return r.gpr }

// TagGPR and PayloadGPR return the registers of an InPair recovery.
func (r ValueRecovery) TagGPR() GPR     { return r.tag }
func (r ValueRecovery) PayloadGPR() GPR { return r.payload }

// FPR returns the register of an InFPR recovery.
func (r ValueRecovery) FPR() FPR { return r.fpr }

// Slot returns the stack slot of a displaced recovery.
func (r ValueRecovery) Slot() bytecode.VirtualRegister { return r.slot }

// Constant returns the literal of a Constant recovery.
func (r ValueRecovery) Constant() value.Value { return r.constant }

// Equal reports whether two recoveries describe the same location.
func (r ValueRecovery) Equal(other ValueRecovery) bool { return r == other }

// String implements fmt.Stringer. The forms are stable; scenario files
// and golden snapshots compare against them.
func (r ValueRecovery) String() string {
	switch r.technique {
	case AlreadyInJSStack:
		return "-"
	case AlreadyInJSStackAsUnboxedInt32:
		return "(int32)"
	case AlreadyInJSStackAsUnboxedCell:
		return "(cell)"
	case AlreadyInJSStackAsUnboxedBoolean:
		return "(bool)"
	case AlreadyInJSStackAsUnboxedDouble:
		return "(double)"
	case InGPR:
		return r.gpr.String()
	case UnboxedInt32InGPR:
		return "(int32)" + r.gpr.String()
	case UnboxedBooleanInGPR:
		return "(bool)" + r.gpr.String()
	case UInt32InGPR:
		return "(uint32)" + r.gpr.String()
	case InPair:
		return fmt.Sprintf("%s:%s", r.tag, r.payload)
	case InFPR:
		return r.fpr.String()
	case DisplacedInJSStack:
		return "*" + r.slot.String()
	case Int32DisplacedInJSStack:
		return "*(int32)" + r.slot.String()
	case DoubleDisplacedInJSStack:
		return "*(double)" + r.slot.String()
	case CellDisplacedInJSStack:
		return "*(cell)" + r.slot.String()
	case BooleanDisplacedInJSStack:
		return "*(bool)" + r.slot.String()
	case ArgumentsThatWereNotCreated:
		return "(arguments)"
	case Constant:
		return "[" + r.constant.String() + "]"
	default:
		return "?"
	}
}
