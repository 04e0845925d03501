package osr

import "fmt"

// DataFormat describes how a value is represented where it currently
// lives: unboxed machine int, double, boolean, cell pointer, or a boxed
// Value (the DataFormatJS variants).
type DataFormat uint8

const (
	DataFormatNone    DataFormat = 0
	DataFormatInteger DataFormat = 1
	DataFormatDouble  DataFormat = 2
	DataFormatBoolean DataFormat = 3
	DataFormatCell    DataFormat = 4
	DataFormatStorage DataFormat = 5

	DataFormatJS        DataFormat = 8
	DataFormatJSInteger            = DataFormatJS | DataFormatInteger
	DataFormatJSDouble             = DataFormatJS | DataFormatDouble
	DataFormatJSCell               = DataFormatJS | DataFormatCell
	DataFormatJSBoolean            = DataFormatJS | DataFormatBoolean

	// Pseudo-formats only used by SetLocal events.
	DataFormatDead      DataFormat = 32
	DataFormatArguments DataFormat = 33
)

// IsJS reports whether the value is boxed.
func (f DataFormat) IsJS() bool {
	return f&DataFormatJS != 0 && f < DataFormatDead
}

// String implements fmt.Stringer.
func (f DataFormat) String() string {
	switch f {
	case DataFormatNone:
		return "None"
	case DataFormatInteger:
		return "Integer"
	case DataFormatDouble:
		return "Double"
	case DataFormatBoolean:
		return "Boolean"
	case DataFormatCell:
		return "Cell"
	case DataFormatStorage:
		return "Storage"
	case DataFormatJS:
		return "JS"
	case DataFormatJSInteger:
		return "JSInteger"
	case DataFormatJSDouble:
		return "JSDouble"
	case DataFormatJSCell:
		return "JSCell"
	case DataFormatJSBoolean:
		return "JSBoolean"
	case DataFormatDead:
		return "Dead"
	case DataFormatArguments:
		return "Arguments"
	default:
		return fmt.Sprintf("DataFormat(%d)", f)
	}
}

// ParseDataFormat is the inverse of DataFormat.String.
func ParseDataFormat(s string) (DataFormat, error) {
	for f := DataFormatNone; f <= DataFormatArguments; f++ {
		if f.String() == s {
			return f, nil
		}
	}
	return DataFormatNone, fmt.Errorf("osr: unknown data format %q", s)
}

// GPR is a general-purpose machine register.
type GPR uint8

// FPR is a floating-point machine register.
type FPR uint8

const (
	NumGPRs = 16
	NumFPRs = 16

	InvalidGPR GPR = 0xFF
	InvalidFPR FPR = 0xFF
)

func (g GPR) String() string {
	if g == InvalidGPR {
		return "gpr?"
	}
	return fmt.Sprintf("r%d", uint8(g))
}

func (f FPR) String() string {
	if f == InvalidFPR {
		return "fpr?"
	}
	return fmt.Sprintf("f%d", uint8(f))
}

// RegKind selects which fields of a Reg are meaningful.
type RegKind uint8

const (
	RegGPR RegKind = iota
	RegFPR
	RegPair
)

// Reg is where a filled value lives: one GPR, one FPR, or a tag/payload
// pair of GPRs for split boxed values.
type Reg struct {
	Kind    RegKind `cbor:"1,keyasint"`
	GPR     GPR     `cbor:"2,keyasint"`
	FPR     FPR     `cbor:"3,keyasint"`
	Tag     GPR     `cbor:"4,keyasint"`
	Payload GPR     `cbor:"5,keyasint"`
}

// InGPRReg returns a GPR location.
func InGPRReg(g GPR) Reg { return Reg{Kind: RegGPR, GPR: g, FPR: InvalidFPR, Tag: InvalidGPR, Payload: InvalidGPR} }

// InFPRReg returns an FPR location.
func InFPRReg(f FPR) Reg { return Reg{Kind: RegFPR, GPR: InvalidGPR, FPR: f, Tag: InvalidGPR, Payload: InvalidGPR} }

// InPairReg returns a tag/payload pair location.
func InPairReg(tag, payload GPR) Reg {
	return Reg{Kind: RegPair, GPR: InvalidGPR, FPR: InvalidFPR, Tag: tag, Payload: payload}
}

// String implements fmt.Stringer.
func (r Reg) String() string {
	switch r.Kind {
	case RegFPR:
		return r.FPR.String()
	case RegPair:
		return fmt.Sprintf("%s:%s", r.Tag, r.Payload)
	default:
		return r.GPR.String()
	}
}
