package osr

import "fmt"

// ExitKind says which speculation failed.
type ExitKind uint8

const (
	ExitUncountable ExitKind = iota
	ExitBadType
	ExitBadCache
	ExitBadWeakConstant
	ExitBadFunction
	ExitOverflow
	ExitNegativeZero
	ExitOutOfBounds
	ExitInadequateCoverage
	ExitArgumentsEscaped
)

var exitKindNames = [...]string{
	ExitUncountable:        "Uncountable",
	ExitBadType:            "BadType",
	ExitBadCache:           "BadCache",
	ExitBadWeakConstant:    "BadWeakConstant",
	ExitBadFunction:        "BadFunction",
	ExitOverflow:           "Overflow",
	ExitNegativeZero:       "NegativeZero",
	ExitOutOfBounds:        "OutOfBounds",
	ExitInadequateCoverage: "InadequateCoverage",
	ExitArgumentsEscaped:   "ArgumentsEscaped",
}

func (k ExitKind) String() string {
	if int(k) < len(exitKindNames) {
		return exitKindNames[k]
	}
	return fmt.Sprintf("ExitKind(%d)", k)
}

// ParseExitKind is the inverse of ExitKind.String.
func ParseExitKind(s string) (ExitKind, error) {
	for k, name := range exitKindNames {
		if name == s {
			return ExitKind(k), nil
		}
	}
	return 0, fmt.Errorf("osr: unknown exit kind %q", s)
}

// IsCountable reports whether exits of this kind count toward
// reoptimization.
func (k ExitKind) IsCountable() bool { return k != ExitUncountable }

// ExitSite is one place optimized code may leave for the baseline tier.
// StreamIndex is the event stream position to reconstruct from.
type ExitSite struct {
	Kind        ExitKind   `cbor:"1,keyasint"`
	Origin      CodeOrigin `cbor:"2,keyasint"`
	StreamIndex int        `cbor:"3,keyasint"`
}

// String implements fmt.Stringer.
func (e ExitSite) String() string {
	return fmt.Sprintf("%s at %s (event %d)", e.Kind, e.Origin, e.StreamIndex)
}
