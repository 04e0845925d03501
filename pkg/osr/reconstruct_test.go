package osr

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/chazu/tierup/pkg/bytecode"
	"github.com/chazu/tierup/pkg/dfg"
	"github.com/chazu/tierup/pkg/value"
	"github.com/google/go-cmp/cmp"
)

var testCode = FrameLayout{
	Parameters:      2,
	CalleeRegisters: 4,
	Constants:       []value.Value{value.FromInt32(5), value.FromInt32(7)},
}

func local(i int) bytecode.VirtualRegister { return bytecode.LocalToOperand(i) }

func mustReconstruct(t *testing.T, s *VariableEventStream, g *dfg.MinifiedGraph, index int, opts ...ReconstructOption) Operands[ValueRecovery] {
	t.Helper()
	got, err := Reconstruct(s, testCode, g, index, opts...)
	if err != nil {
		t.Fatalf("Reconstruct(%d): %v", index, err)
	}
	return got
}

func TestSetLocalOverridesMovHint(t *testing.T) {
	s := NewVariableEventStream(
		Reset{},
		BirthToFill{ID: 1, Reg: InGPRReg(0), Format: DataFormatInteger},
		MovHint{ID: 1, Operand: local(3)},
		SetLocal{Operand: local(3), Format: DataFormatInteger},
	)

	before := mustReconstruct(t, s, nil, 3)
	if got, want := before.Local(3), RecoverInGPR(0, DataFormatInteger); !got.Equal(want) {
		t.Errorf("before SetLocal: r3 = %s, want %s", got, want)
	}

	after := mustReconstruct(t, s, nil, 4)
	if got, want := after.Local(3), RecoverAlreadyInJSStackAs(DataFormatInteger); !got.Equal(want) {
		t.Errorf("after SetLocal: r3 = %s, want %s", got, want)
	}
}

func TestDeathDropsStaleLocation(t *testing.T) {
	s := NewVariableEventStream(
		Reset{},
		BirthToFill{ID: 1, Reg: InGPRReg(0), Format: DataFormatJS},
		Death{ID: 1},
		MovHint{ID: 1, Operand: local(2)},
	)
	got := mustReconstruct(t, s, nil, s.Len())
	if want := RecoverConstant(value.Undefined); !got.Local(2).Equal(want) {
		t.Errorf("r2 = %s, want %s", got.Local(2), want)
	}
}

func TestReplayIsIdempotent(t *testing.T) {
	s := NewVariableEventStream(
		Reset{},
		BirthToFill{ID: 1, Reg: InGPRReg(1), Format: DataFormatJS},
		BirthToSpill{ID: 2, Slot: local(3), Format: DataFormatDouble},
		MovHint{ID: 1, Operand: local(0)},
		MovHint{ID: 2, Operand: bytecode.ArgumentToOperand(1)},
	)
	first := mustReconstruct(t, s, nil, s.Len())
	second := mustReconstruct(t, s, nil, s.Len())
	if diff := cmp.Diff(first.Entries(), second.Entries()); diff != "" {
		t.Errorf("replays differ (-first +second):\n%s", diff)
	}

	want := []ValueRecovery{
		RecoverConstant(value.Undefined),
		RecoverDisplacedInJSStack(local(3), DataFormatDouble),
		RecoverInGPR(1, DataFormatJS),
		RecoverConstant(value.Undefined),
		RecoverConstant(value.Undefined),
		RecoverConstant(value.Undefined),
	}
	if diff := cmp.Diff(want, first.Entries()); diff != "" {
		t.Errorf("recoveries (-want +got):\n%s", diff)
	}
}

func TestReplayStartsAtNearestReset(t *testing.T) {
	s := NewVariableEventStream(
		Reset{},
		BirthToFill{ID: 1, Reg: InGPRReg(1), Format: DataFormatJS},
		MovHint{ID: 1, Operand: local(0)},
		Reset{},
		MovHint{ID: 1, Operand: local(1)},
	)
	got := mustReconstruct(t, s, nil, s.Len())
	undefined := RecoverConstant(value.Undefined)
	if !got.Local(0).Equal(undefined) {
		t.Errorf("r0 = %s; events before the Reset should not count", got.Local(0))
	}
	if !got.Local(1).Equal(undefined) {
		t.Errorf("r1 = %s; node 1 has no location after the Reset", got.Local(1))
	}
}

func TestIndexZeroIsAlreadyInJSStack(t *testing.T) {
	s := NewVariableEventStream(Reset{}, MovHint{ID: 1, Operand: local(0)})
	got := mustReconstruct(t, s, nil, 0)
	if got.Size() != 6 {
		t.Fatalf("Size() = %d, want 6", got.Size())
	}
	for i, r := range got.Entries() {
		if !r.Equal(RecoverAlreadyInJSStack()) {
			t.Errorf("entry %d = %s, want AlreadyInJSStack", i, r)
		}
	}
}

func TestMalformedStreams(t *testing.T) {
	tests := []struct {
		name   string
		events []VariableEvent
		index  int
	}{
		{"no reset", []VariableEvent{MovHint{ID: 1, Operand: local(0)}}, 1},
		{"fill of unborn node", []VariableEvent{Reset{}, Fill{ID: 4, Reg: InGPRReg(0), Format: DataFormatJS}}, 2},
		{"spill of unborn node", []VariableEvent{Reset{}, Spill{ID: 4, Slot: local(1), Format: DataFormatJS}}, 2},
		{"death of unborn node", []VariableEvent{Reset{}, Death{ID: 4}}, 2},
		{"born before reset", []VariableEvent{
			Reset{},
			BirthToFill{ID: 4, Reg: InGPRReg(0), Format: DataFormatJS},
			Reset{},
			Death{ID: 4},
		}, 4},
		{"index past end", []VariableEvent{Reset{}}, 2},
		{"negative index", []VariableEvent{Reset{}}, -1},
	}
	for _, tt := range tests {
		s := NewVariableEventStream(tt.events...)
		_, err := Reconstruct(s, testCode, nil, tt.index)
		if !errors.Is(err, ErrMalformedStream) {
			t.Errorf("%s: err = %v, want ErrMalformedStream", tt.name, err)
		}
	}
}

func TestNodeConstants(t *testing.T) {
	g := dfg.NewMinifiedGraph([]dfg.MinifiedNode{
		{ID: 1, Op: dfg.JSConstant, ConstantNumber: 1, Child1: dfg.InvalidMinifiedID},
		{ID: 2, Op: dfg.WeakJSConstant, Weak: 42, Child1: dfg.InvalidMinifiedID},
		{ID: 3, Op: dfg.PhantomArguments, Child1: dfg.InvalidMinifiedID},
	})
	s := NewVariableEventStream(
		Reset{},
		MovHint{ID: 1, Operand: local(0)},
		MovHint{ID: 2, Operand: local(1)},
		MovHint{ID: 3, Operand: local(2)},
		SetLocal{Operand: local(3), Format: DataFormatDead},
		SetLocal{Operand: bytecode.ArgumentToOperand(1), Format: DataFormatArguments},
	)
	got := mustReconstruct(t, s, g, s.Len())
	want := []ValueRecovery{
		RecoverConstant(value.Undefined),
		RecoverArgumentsThatWereNotCreated(),
		RecoverConstant(value.FromInt32(7)),
		RecoverConstant(value.FromCell(42)),
		RecoverArgumentsThatWereNotCreated(),
		RecoverConstant(value.Undefined),
	}
	if diff := cmp.Diff(want, got.Entries()); diff != "" {
		t.Errorf("recoveries (-want +got):\n%s", diff)
	}
}

func derivedGraph() *dfg.MinifiedGraph {
	return dfg.NewMinifiedGraph([]dfg.MinifiedNode{
		{ID: 2, Op: dfg.Int32ToDouble, Child1: 1},
		{ID: 3, Op: dfg.ValueToInt32, Child1: 1},
		{ID: 4, Op: dfg.DoubleAsInt32, Child1: 1},
		{ID: 5, Op: dfg.UInt32ToNumber, Child1: 1},
		{ID: 6, Op: dfg.Int32ToDouble, Child1: 9},
	})
}

func TestDerivedNodePreference(t *testing.T) {
	births := map[dfg.MinifiedID]VariableEvent{
		2: BirthToFill{ID: 2, Reg: InFPRReg(1), Format: DataFormatDouble},
		3: BirthToFill{ID: 3, Reg: InGPRReg(3), Format: DataFormatInteger},
		4: BirthToFill{ID: 4, Reg: InGPRReg(4), Format: DataFormatInteger},
		5: BirthToSpill{ID: 5, Slot: local(3), Format: DataFormatJS},
		6: BirthToFill{ID: 6, Reg: InFPRReg(6), Format: DataFormatDouble},
	}
	tests := []struct {
		name  string
		alive []dfg.MinifiedID
		want  ValueRecovery
	}{
		{"all alive", []dfg.MinifiedID{2, 3, 4, 5, 6}, RecoverInGPR(4, DataFormatInteger)},
		{"no DoubleAsInt32", []dfg.MinifiedID{2, 3, 5, 6}, RecoverInFPR(1)},
		{"only ValueToInt32 and UInt32ToNumber", []dfg.MinifiedID{3, 5}, RecoverInGPR(3, DataFormatInteger)},
		{"only UInt32ToNumber", []dfg.MinifiedID{5}, RecoverDisplacedInJSStack(local(3), DataFormatJS)},
		{"unrelated conversion", []dfg.MinifiedID{6}, RecoverConstant(value.Undefined)},
	}

	g := derivedGraph()
	for _, tt := range tests {
		s := NewVariableEventStream(Reset{})
		for _, id := range tt.alive {
			s.Append(births[id])
		}
		s.Append(MovHint{ID: 1, Operand: local(0)})
		got := mustReconstruct(t, s, g, s.Len())
		if !got.Local(0).Equal(tt.want) {
			t.Errorf("%s: r0 = %s, want %s", tt.name, got.Local(0), tt.want)
		}
	}
}

func TestDeadDerivedNodeIsSkipped(t *testing.T) {
	s := NewVariableEventStream(
		Reset{},
		BirthToFill{ID: 4, Reg: InGPRReg(4), Format: DataFormatInteger},
		BirthToFill{ID: 2, Reg: InFPRReg(1), Format: DataFormatDouble},
		Death{ID: 4},
		MovHint{ID: 1, Operand: local(0)},
	)
	got := mustReconstruct(t, s, derivedGraph(), s.Len())
	if want := RecoverInFPR(1); !got.Local(0).Equal(want) {
		t.Errorf("r0 = %s, want %s", got.Local(0), want)
	}
}

func TestUInt32ToNumberFallsBackToChild(t *testing.T) {
	g := dfg.NewMinifiedGraph([]dfg.MinifiedNode{
		{ID: 5, Op: dfg.UInt32ToNumber, Child1: 1},
		{ID: 6, Op: dfg.DoubleAsInt32, Child1: 2},
		{ID: 7, Op: dfg.UInt32ToNumber, Child1: 8},
		{ID: 8, Op: dfg.JSConstant, ConstantNumber: 0, Child1: dfg.InvalidMinifiedID},
	})
	s := NewVariableEventStream(
		Reset{},
		BirthToFill{ID: 1, Reg: InGPRReg(2), Format: DataFormatInteger},
		BirthToSpill{ID: 2, Slot: local(1), Format: DataFormatDouble},
		MovHint{ID: 5, Operand: local(0)},
		MovHint{ID: 6, Operand: local(2)},
		MovHint{ID: 7, Operand: local(3)},
	)
	got := mustReconstruct(t, s, g, s.Len())
	if want := RecoverUInt32InGPR(2); !got.Local(0).Equal(want) {
		t.Errorf("r0 = %s, want %s", got.Local(0), want)
	}
	if want := RecoverDisplacedInJSStack(local(1), DataFormatDouble); !got.Local(2).Equal(want) {
		t.Errorf("r2 = %s, want %s", got.Local(2), want)
	}
	if want := RecoverConstant(value.FromInt32(5)); !got.Local(3).Equal(want) {
		t.Errorf("r3 = %s, want %s", got.Local(3), want)
	}
}

func TestRegisterFormats(t *testing.T) {
	s := NewVariableEventStream(
		Reset{},
		BirthToFill{ID: 1, Reg: InPairReg(2, 3), Format: DataFormatJS},
		BirthToFill{ID: 2, Reg: InGPRReg(4), Format: DataFormatBoolean},
		BirthToFill{ID: 3, Reg: InGPRReg(5), Format: DataFormatCell},
		BirthToSpill{ID: 4, Slot: local(1), Format: DataFormatInteger},
		Fill{ID: 4, Reg: InGPRReg(6), Format: DataFormatInteger},
		MovHint{ID: 1, Operand: local(0)},
		MovHint{ID: 2, Operand: local(1)},
		MovHint{ID: 3, Operand: local(2)},
		MovHint{ID: 4, Operand: local(3)},
	)
	got := mustReconstruct(t, s, nil, s.Len())
	want := []ValueRecovery{
		RecoverInPair(2, 3),
		RecoverInGPR(4, DataFormatBoolean),
		RecoverInGPR(5, DataFormatCell),
		RecoverInGPR(6, DataFormatInteger),
	}
	for i, w := range want {
		if r := got.Local(i); !r.Equal(w) {
			t.Errorf("r%d = %s, want %s", i, r, w)
		}
	}
	if got.Local(1).Technique() != UnboxedBooleanInGPR {
		t.Errorf("boolean register technique = %s", got.Local(1).Technique())
	}
}

func TestInlineFrameHeaderSlots(t *testing.T) {
	frame := &InlineCallFrame{Executable: "callee", StackOffset: 10, NumCalleeRegisters: 3, NumArguments: 1, IsCall: true}
	origin := CodeOrigin{BytecodeIndex: 4, InlineCallFrame: frame}

	g := dfg.NewMinifiedGraph([]dfg.MinifiedNode{{ID: 1, Op: dfg.JSConstant, Child1: dfg.InvalidMinifiedID}})
	s := NewVariableEventStream(Reset{}, MovHint{ID: 1, Operand: local(9)}, MovHint{ID: 1, Operand: local(10)})
	got := mustReconstruct(t, s, g, s.Len(), WithCodeOrigin(origin))

	if got.NumberOfLocals() != 13 {
		t.Fatalf("NumberOfLocals() = %d, want 13", got.NumberOfLocals())
	}
	for i := 4; i < 10; i++ {
		if !got.Local(i).Equal(RecoverAlreadyInJSStack()) {
			t.Errorf("header local %d = %s, want AlreadyInJSStack", i, got.Local(i))
		}
	}
	if want := RecoverConstant(value.FromInt32(5)); !got.Local(10).Equal(want) {
		t.Errorf("r10 = %s, want %s", got.Local(10), want)
	}
	if origin.InlineDepth() != 1 || origin.String() != "callee bc#4 <- bc#0" {
		t.Errorf("origin = %s (depth %d)", origin, origin.InlineDepth())
	}
}

func TestLivenessOfUnsetOperands(t *testing.T) {
	s := NewVariableEventStream(Reset{}, Reset{})
	live := func(r bytecode.VirtualRegister) bool { return r == local(1) }
	got := mustReconstruct(t, s, nil, s.Len(), WithLiveness(live))
	if !got.Local(1).Equal(RecoverArgumentsThatWereNotCreated()) {
		t.Errorf("live unset operand = %s", got.Local(1))
	}
	if !got.Local(2).Equal(RecoverConstant(value.Undefined)) {
		t.Errorf("dead unset operand = %s", got.Local(2))
	}
}

// randomStream builds a well-formed stream: every window opens with a
// Reset and only touches nodes born inside it.
func randomStream(rng *rand.Rand, n int) *VariableEventStream {
	s := NewVariableEventStream(Reset{})
	var born []dfg.MinifiedID
	next := dfg.MinifiedID(0)
	formats := []DataFormat{DataFormatInteger, DataFormatDouble, DataFormatCell, DataFormatBoolean, DataFormatJS}
	operand := func() bytecode.VirtualRegister {
		if rng.Intn(3) == 0 {
			return bytecode.ArgumentToOperand(rng.Intn(testCode.Parameters))
		}
		return local(rng.Intn(testCode.CalleeRegisters + 2))
	}
	for s.Len() < n {
		f := formats[rng.Intn(len(formats))]
		switch k := rng.Intn(8); {
		case k == 0:
			s.Append(Reset{})
			born = born[:0]
		case k == 1 || len(born) == 0:
			s.Append(BirthToFill{ID: next, Reg: InGPRReg(GPR(rng.Intn(NumGPRs))), Format: f})
			born = append(born, next)
			next++
		case k == 2:
			s.Append(BirthToSpill{ID: next, Slot: local(rng.Intn(8)), Format: f})
			born = append(born, next)
			next++
		case k == 3:
			s.Append(Spill{ID: born[rng.Intn(len(born))], Slot: local(rng.Intn(8)), Format: f})
		case k == 4:
			s.Append(Death{ID: born[rng.Intn(len(born))]})
		case k == 5:
			s.Append(SetLocal{Operand: operand(), Format: f})
		default:
			s.Append(MovHint{ID: dfg.MinifiedID(rng.Intn(int(next) + 2)), Operand: operand()})
		}
	}
	return s
}

func TestTotalCoverage(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 50; trial++ {
		s := randomStream(rng, 40)
		for index := 0; index <= s.Len(); index++ {
			got, err := Reconstruct(s, testCode, nil, index)
			if err != nil {
				t.Fatalf("trial %d index %d: %v\n%s", trial, index, err, s)
			}
			if got.Size() != testCode.Parameters+testCode.CalleeRegisters {
				t.Fatalf("trial %d index %d: %d recoveries", trial, index, got.Size())
			}
			for i, r := range got.Entries() {
				if !r.IsSet() {
					t.Errorf("trial %d index %d: operand %d unresolved", trial, index, i)
				}
			}
		}
	}
}
