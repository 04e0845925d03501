package harness

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/chazu/tierup/pkg/bytecode"
	"github.com/chazu/tierup/pkg/dfg"
	"github.com/chazu/tierup/pkg/osr"
	"github.com/chazu/tierup/pkg/value"
)

// ParseValue converts a decoded YAML scalar into a Value. Integers that
// fit in 32 bits become int32s, other numbers doubles. Strings name the
// special values ("undefined", "null", "empty") or a cell ("cell#7").
func ParseValue(v any) (value.Value, error) {
	switch v := v.(type) {
	case nil:
		return value.Null, nil
	case bool:
		return value.FromBool(v), nil
	case int:
		if v >= math.MinInt32 && v <= math.MaxInt32 {
			return value.FromInt32(int32(v)), nil
		}
		return value.FromFloat64(float64(v)), nil
	case float64:
		return value.FromNumber(v), nil
	case string:
		switch v {
		case "undefined":
			return value.Undefined, nil
		case "null":
			return value.Null, nil
		case "true":
			return value.True, nil
		case "false":
			return value.False, nil
		case "empty", "<empty>":
			return value.Empty, nil
		}
		if rest, ok := strings.CutPrefix(v, "cell#"); ok {
			n, err := strconv.ParseUint(rest, 10, 64)
			if err != nil {
				return value.Undefined, fmt.Errorf("bad cell %q", v)
			}
			return value.FromCell(value.CellID(n)), nil
		}
		return value.Undefined, fmt.Errorf("unknown value %q", v)
	default:
		return value.Undefined, fmt.Errorf("unsupported value %v (%T)", v, v)
	}
}

// parseNodeID parses "@3".
func parseNodeID(s string) (dfg.MinifiedID, error) {
	rest, ok := strings.CutPrefix(s, "@")
	if !ok {
		return dfg.InvalidMinifiedID, fmt.Errorf("bad node %q", s)
	}
	n, err := strconv.ParseUint(rest, 10, 32)
	if err != nil || n == math.MaxUint32 {
		return dfg.InvalidMinifiedID, fmt.Errorf("bad node %q", s)
	}
	return dfg.MinifiedID(n), nil
}

func parseGPR(s string) (osr.GPR, error) {
	rest, ok := strings.CutPrefix(s, "r")
	if !ok {
		return osr.InvalidGPR, fmt.Errorf("bad gpr %q", s)
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 0 || n >= osr.NumGPRs {
		return osr.InvalidGPR, fmt.Errorf("bad gpr %q", s)
	}
	return osr.GPR(n), nil
}

// ParseReg parses a machine location: "r3", "f0" or a tag:payload pair
// "r5:r6".
func ParseReg(s string) (osr.Reg, error) {
	if tag, payload, ok := strings.Cut(s, ":"); ok {
		t, err := parseGPR(tag)
		if err != nil {
			return osr.Reg{}, err
		}
		p, err := parseGPR(payload)
		if err != nil {
			return osr.Reg{}, err
		}
		return osr.InPairReg(t, p), nil
	}
	if rest, ok := strings.CutPrefix(s, "f"); ok {
		n, err := strconv.Atoi(rest)
		if err != nil || n < 0 || n >= osr.NumFPRs {
			return osr.Reg{}, fmt.Errorf("bad fpr %q", s)
		}
		return osr.InFPRReg(osr.FPR(n)), nil
	}
	g, err := parseGPR(s)
	if err != nil {
		return osr.Reg{}, err
	}
	return osr.InGPRReg(g), nil
}

func parseSlot(s string) (bytecode.VirtualRegister, error) {
	rest, ok := strings.CutPrefix(s, "*")
	if !ok {
		return bytecode.InvalidVirtualRegister, fmt.Errorf("bad stack slot %q", s)
	}
	return bytecode.ParseVirtualRegister(rest)
}

// ParseEvent parses one event in the form VariableEventStream.Dump
// prints it, e.g. "BirthToFill(@2, r1, Integer)" or "SetLocal(arg1, JS)".
func ParseEvent(s string) (osr.VariableEvent, error) {
	s = strings.TrimSpace(s)
	name, args := s, []string(nil)
	if open := strings.IndexByte(s, '('); open >= 0 {
		if !strings.HasSuffix(s, ")") {
			return nil, fmt.Errorf("event %q: missing )", s)
		}
		name = s[:open]
		for _, a := range strings.Split(s[open+1:len(s)-1], ",") {
			args = append(args, strings.TrimSpace(a))
		}
	}
	kind, err := osr.ParseVariableEventKind(name)
	if err != nil {
		return nil, fmt.Errorf("event %q: %w", s, err)
	}

	want := map[osr.VariableEventKind]int{
		osr.KindReset:        0,
		osr.KindBirthToFill:  3,
		osr.KindFill:         3,
		osr.KindBirthToSpill: 3,
		osr.KindSpill:        3,
		osr.KindDeath:        1,
		osr.KindMovHint:      2,
		osr.KindSetLocal:     2,
	}[kind]
	if len(args) != want {
		return nil, fmt.Errorf("event %q: %s takes %d arguments", s, kind, want)
	}

	e, err := buildEvent(kind, args)
	if err != nil {
		return nil, fmt.Errorf("event %q: %w", s, err)
	}
	return e, nil
}

func buildEvent(kind osr.VariableEventKind, args []string) (osr.VariableEvent, error) {
	switch kind {
	case osr.KindReset:
		return osr.Reset{}, nil
	case osr.KindSetLocal:
		operand, err := bytecode.ParseVirtualRegister(args[0])
		if err != nil {
			return nil, err
		}
		format, err := osr.ParseDataFormat(args[1])
		if err != nil {
			return nil, err
		}
		return osr.SetLocal{Operand: operand, Format: format}, nil
	}

	id, err := parseNodeID(args[0])
	if err != nil {
		return nil, err
	}
	switch kind {
	case osr.KindDeath:
		return osr.Death{ID: id}, nil
	case osr.KindMovHint:
		operand, err := bytecode.ParseVirtualRegister(args[1])
		if err != nil {
			return nil, err
		}
		return osr.MovHint{ID: id, Operand: operand}, nil
	}

	format, err := osr.ParseDataFormat(args[2])
	if err != nil {
		return nil, err
	}
	switch kind {
	case osr.KindBirthToFill, osr.KindFill:
		reg, err := ParseReg(args[1])
		if err != nil {
			return nil, err
		}
		if kind == osr.KindFill {
			return osr.Fill{ID: id, Reg: reg, Format: format}, nil
		}
		return osr.BirthToFill{ID: id, Reg: reg, Format: format}, nil
	default:
		slot, err := parseSlot(args[1])
		if err != nil {
			return nil, err
		}
		if kind == osr.KindSpill {
			return osr.Spill{ID: id, Slot: slot, Format: format}, nil
		}
		return osr.BirthToSpill{ID: id, Slot: slot, Format: format}, nil
	}
}
