package osr

import (
	"bytes"
	"strings"
	"testing"

	"github.com/chazu/tierup/pkg/bytecode"
	"github.com/chazu/tierup/pkg/value"
)

func TestValueSourceForDataFormat(t *testing.T) {
	tests := []struct {
		format DataFormat
		kind   ValueSourceKind
		want   ValueRecovery
	}{
		{DataFormatInteger, Int32InJSStack, RecoverAlreadyInJSStackAs(DataFormatInteger)},
		{DataFormatDouble, DoubleInJSStack, RecoverAlreadyInJSStackAs(DataFormatDouble)},
		{DataFormatCell, CellInJSStack, RecoverAlreadyInJSStackAs(DataFormatCell)},
		{DataFormatBoolean, BooleanInJSStack, RecoverAlreadyInJSStackAs(DataFormatBoolean)},
		{DataFormatJS, ValueInJSStack, RecoverAlreadyInJSStack()},
		{DataFormatJSInteger, ValueInJSStack, RecoverAlreadyInJSStack()},
		{DataFormatDead, SourceIsDead, RecoverConstant(value.Undefined)},
		{DataFormatArguments, ArgumentsSource, RecoverArgumentsThatWereNotCreated()},
	}
	for _, tt := range tests {
		s := ValueSourceForDataFormat(tt.format)
		if s.Kind() != tt.kind {
			t.Errorf("%s: kind = %s, want %s", tt.format, s.Kind(), tt.kind)
		}
		if !s.IsTriviallyRecoverable() {
			t.Errorf("%s: should be trivially recoverable", tt.format)
		}
		if got := s.ValueRecovery(); !got.Equal(tt.want) {
			t.Errorf("%s: recovery = %s, want %s", tt.format, got, tt.want)
		}
	}

	expectPanic(t, "storage format", func() { ValueSourceForDataFormat(DataFormatStorage) })
}

func TestValueSourceNode(t *testing.T) {
	s := ValueSourceForNode(5)
	if s.Kind() != HaveNode || s.ID() != 5 || s.IsTriviallyRecoverable() {
		t.Errorf("node source = %s", s)
	}
	if s.String() != "Node(@5)" {
		t.Errorf("String() = %q", s.String())
	}
	expectPanic(t, "ValueRecovery of node source", func() { s.ValueRecovery() })
	expectPanic(t, "NewValueSource(HaveNode)", func() { NewValueSource(HaveNode) })
	expectPanic(t, "ID of unset source", func() { NewValueSource(SourceNotSet).ID() })
}

func TestStreamDump(t *testing.T) {
	s := &VariableEventStream{}
	s.Append(Reset{})
	s.Logged(BirthToFill{ID: 1, Reg: InGPRReg(3), Format: DataFormatInteger})
	s.Append(MovHint{ID: 1, Operand: bytecode.LocalToOperand(2)})
	s.Append(SetLocal{Operand: bytecode.ArgumentToOperand(1), Format: DataFormatJS})

	var buf bytes.Buffer
	if err := s.Dump(&buf); err != nil {
		t.Fatal(err)
	}
	want := strings.Join([]string{
		"   0: Reset",
		"   1: BirthToFill(@1, r3, Integer)",
		"   2: MovHint(@1, r2)",
		"   3: SetLocal(arg1, JS)",
		"",
	}, "\n")
	if buf.String() != want {
		t.Errorf("Dump =\n%s\nwant\n%s", buf.String(), want)
	}
	if got := s.String(); got != "{Reset BirthToFill(@1, r3, Integer) MovHint(@1, r2) SetLocal(arg1, JS)}" {
		t.Errorf("String() = %q", got)
	}
}

func TestParseNames(t *testing.T) {
	for f := DataFormatNone; f <= DataFormatArguments; f++ {
		if name := f.String(); !strings.HasPrefix(name, "DataFormat(") {
			got, err := ParseDataFormat(name)
			if err != nil || got != f {
				t.Errorf("ParseDataFormat(%q) = %v, %v", name, got, err)
			}
		}
	}
	if _, err := ParseDataFormat("Quad"); err == nil {
		t.Error("unknown format should not parse")
	}
	for k := KindReset; k <= KindSetLocal; k++ {
		got, err := ParseVariableEventKind(k.String())
		if err != nil || got != k {
			t.Errorf("ParseVariableEventKind(%q) = %v, %v", k, got, err)
		}
	}
	for k := ExitUncountable; k <= ExitArgumentsEscaped; k++ {
		got, err := ParseExitKind(k.String())
		if err != nil || got != k {
			t.Errorf("ParseExitKind(%q) = %v, %v", k, got, err)
		}
	}
}

func expectPanic(t *testing.T, name string, fn func()) {
	t.Helper()
	defer func() {
		if recover() == nil {
			t.Errorf("%s: expected panic", name)
		}
	}()
	fn()
}
