package osr

import (
	"errors"
	"fmt"
	"math"

	"github.com/chazu/tierup/pkg/bytecode"
	"github.com/chazu/tierup/pkg/value"
)

// ErrUnrecoverable is returned by Materialize for a recovery it cannot
// carry out.
var ErrUnrecoverable = errors.New("osr: value cannot be recovered")

// MachineState is the register file and stack frame of optimized code at
// the moment it exits. Stack holds raw 64-bit words; whether a word is a
// boxed Value or an unboxed int, double or cell depends on the recovery
// that reads it.
type MachineState struct {
	GPRs  [NumGPRs]uint64
	FPRs  [NumFPRs]float64
	Stack Operands[uint64]
}

// NewMachineState returns a state whose stack frame has the given shape,
// with every slot holding undefined.
func NewMachineState(numArguments, numLocals int) *MachineState {
	s := &MachineState{Stack: NewOperands[uint64](numArguments, numLocals)}
	s.Stack.Fill(value.Undefined.Bits())
	return s
}

func (s *MachineState) slot(r bytecode.VirtualRegister) (uint64, error) {
	if !s.Stack.HasOperand(r) {
		return 0, fmt.Errorf("%w: stack slot %s outside frame", ErrUnrecoverable, r)
	}
	return s.Stack.Operand(r), nil
}

// Materialize applies recoveries to state and returns the boxed values
// the baseline frame resumes with. Elided arguments objects come back as
// value.Empty; the baseline tier creates them on first use.
func Materialize(recoveries Operands[ValueRecovery], state *MachineState) (Operands[value.Value], error) {
	out := NewOperands[value.Value](recoveries.NumberOfArguments(), recoveries.NumberOfLocals())
	for i := 0; i < recoveries.Size(); i++ {
		operand := recoveries.OperandForIndex(i)
		v, err := materializeOne(recoveries.At(i), operand, state)
		if err != nil {
			return out, fmt.Errorf("%s: %w", operand, err)
		}
		out.SetAt(i, v)
	}
	return out, nil
}

func materializeOne(r ValueRecovery, operand bytecode.VirtualRegister, state *MachineState) (value.Value, error) {
	switch r.Technique() {
	case AlreadyInJSStack, AlreadyInJSStackAsUnboxedInt32, AlreadyInJSStackAsUnboxedCell,
		AlreadyInJSStackAsUnboxedBoolean, AlreadyInJSStackAsUnboxedDouble:
		w, err := state.slot(operand)
		if err != nil {
			return value.Undefined, err
		}
		return box(r.Technique(), w), nil

	case InGPR, UnboxedInt32InGPR, UnboxedBooleanInGPR, UInt32InGPR, InPair, InFPR:
		return fromRegisters(r, state)

	case DisplacedInJSStack, Int32DisplacedInJSStack, DoubleDisplacedInJSStack,
		CellDisplacedInJSStack, BooleanDisplacedInJSStack:
		w, err := state.slot(r.Slot())
		if err != nil {
			return value.Undefined, err
		}
		return box(r.Technique(), w), nil

	case Constant:
		return r.Constant(), nil
	case ArgumentsThatWereNotCreated:
		return value.Empty, nil
	}
	return value.Undefined, fmt.Errorf("%w: %s", ErrUnrecoverable, r.Technique())
}

func fromRegisters(r ValueRecovery, state *MachineState) (value.Value, error) {
	gpr := func(g GPR) (uint64, error) {
		if int(g) >= NumGPRs {
			return 0, fmt.Errorf("%w: no register %s", ErrUnrecoverable, g)
		}
		return state.GPRs[g], nil
	}

	switch r.Technique() {
	case InPair:
		tag, err := gpr(r.TagGPR())
		if err != nil {
			return value.Undefined, err
		}
		payload, err := gpr(r.PayloadGPR())
		if err != nil {
			return value.Undefined, err
		}
		return value.FromTagPayload(uint32(tag), uint32(payload)), nil
	case InFPR:
		if int(r.FPR()) >= NumFPRs {
			return value.Undefined, fmt.Errorf("%w: no register %s", ErrUnrecoverable, r.FPR())
		}
		return value.FromNumber(state.FPRs[r.FPR()]), nil
	}

	w, err := gpr(r.GPR())
	if err != nil {
		return value.Undefined, err
	}
	switch r.Technique() {
	case UnboxedInt32InGPR:
		return value.FromInt32(int32(w)), nil
	case UnboxedBooleanInGPR:
		return value.FromBool(w != 0), nil
	case UInt32InGPR:
		return value.FromNumber(float64(uint32(w))), nil
	default:
		return value.FromBits(w), nil
	}
}

// box turns a raw stack word into a Value according to the format the
// technique implies.
func box(t RecoveryTechnique, w uint64) value.Value {
	switch t {
	case AlreadyInJSStackAsUnboxedInt32, Int32DisplacedInJSStack:
		return value.FromInt32(int32(w))
	case AlreadyInJSStackAsUnboxedCell, CellDisplacedInJSStack:
		return value.FromCell(value.CellID(w))
	case AlreadyInJSStackAsUnboxedBoolean, BooleanDisplacedInJSStack:
		return value.FromBool(w != 0)
	case AlreadyInJSStackAsUnboxedDouble, DoubleDisplacedInJSStack:
		return value.FromNumber(math.Float64frombits(w))
	default:
		return value.FromBits(w)
	}
}
