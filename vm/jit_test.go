package vm

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chazu/tierup/pkg/bytecode"
	"github.com/chazu/tierup/pkg/dfg"
	"github.com/chazu/tierup/store"
)

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func debugCode(t *testing.T) *bytecode.UnlinkedCodeBlock {
	t.Helper()
	b := bytecode.NewBuilder("debugged", bytecode.FunctionCode, 1)
	b.Emit(bytecode.OpDebug, 0, 1, 1)
	b.Emit(bytecode.OpRet, int32(bytecode.ArgumentToOperand(0)))
	code, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return code
}

func eventNames(t *testing.T, s *store.Store, hash string) []string {
	t.Helper()
	history, err := s.History(hash)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	var names []string
	for _, e := range history {
		names = append(names, e.Event)
	}
	return names
}

func TestCompileSyncInstalls(t *testing.T) {
	calls := 0
	vm := NewVM(flatOptions(), payloadCompiler(sampleSideTable(), &calls), nil)
	defer vm.Close()
	cb, err := vm.LinkUnlinked(sampleCode(t, "f"))
	if err != nil {
		t.Fatal(err)
	}

	optimized, err := vm.Optimize(context.Background(), cb)
	if err != nil {
		t.Fatalf("Optimize: %v", err)
	}
	if optimized.JITType() != OptimizedJIT || cb.Replacement() != optimized || cb.State() != Optimized {
		t.Fatalf("optimized = %s, baseline state %s", optimized, cb.State())
	}
	if len(optimized.Payload().MachineCode) != 1 {
		t.Errorf("payload = %+v", optimized.Payload())
	}

	again, err := vm.Optimize(context.Background(), cb)
	if err != nil || again != optimized {
		t.Errorf("second Optimize = %v, %v", again, err)
	}
	if calls != 1 {
		t.Errorf("compiler called %d times, want 1", calls)
	}
	if s := vm.Worklist().Stats(); s.Compiled != 1 || s.Failed != 0 || s.Refused != 0 {
		t.Errorf("stats = %+v", s)
	}
}

func TestCompileRefusedByCapabilities(t *testing.T) {
	s := openStore(t)
	calls := 0
	vm := NewVM(flatOptions(), payloadCompiler(sampleSideTable(), &calls), s)
	defer vm.Close()
	cb, err := vm.LinkUnlinked(debugCode(t))
	if err != nil {
		t.Fatal(err)
	}

	_, err = vm.Optimize(context.Background(), cb)
	if !errors.Is(err, ErrNotOptimizable) {
		t.Fatalf("err = %v, want ErrNotOptimizable", err)
	}
	if calls != 0 {
		t.Error("compiler should not run for refused code")
	}
	if cb.State() != Unoptimized || cb.Counter().ActiveThreshold() != 1<<31-1 {
		t.Errorf("state = %s, threshold = %d", cb.State(), cb.Counter().ActiveThreshold())
	}
	if vm.Worklist().Stats().Refused != 1 {
		t.Errorf("refused = %d", vm.Worklist().Stats().Refused)
	}
	if got := eventNames(t, s, cb.Hash()); len(got) != 1 || got[0] != "refused" {
		t.Errorf("history = %v", got)
	}
}

func TestRefusalOutsidePlanKeepsBlockUnoptimized(t *testing.T) {
	w := NewJITWorklist(payloadCompiler(sampleSideTable(), new(int)), flatOptions(), nil)
	defer w.Stop()
	cb := mustLink(t, debugCode(t), flatOptions())

	// No Candidate transition first, so returning to Unoptimized is
	// itself invalid and only logged.
	_, err := w.compile(context.Background(), newPlan(cb))
	if !errors.Is(err, ErrNotOptimizable) {
		t.Fatalf("err = %v, want ErrNotOptimizable", err)
	}
	if cb.State() != Unoptimized {
		t.Errorf("state = %s, want Unoptimized", cb.State())
	}
	if w.Stats().Refused != 1 {
		t.Errorf("refused = %d", w.Stats().Refused)
	}
}

func TestEnqueueFullQueueBacksOff(t *testing.T) {
	opts := flatOptions()
	opts.QueueSize = 1
	block := make(chan struct{})
	w := NewJITWorklist(CompilerFunc(func(ctx context.Context, plan *Plan) (*OptimizedPayload, error) {
		<-block
		return nil, ErrNotOptimizable
	}), opts, nil)
	defer w.Stop()
	defer close(block)

	var blocks []*CodeBlock
	for i := 0; i < 4; i++ {
		blocks = append(blocks, mustLink(t, sampleCode(t, fmt.Sprintf("f%d", i)), opts))
	}
	deferred := 0
	for _, cb := range blocks {
		if !w.Enqueue(cb) {
			deferred++
			if cb.State() != Unoptimized {
				t.Errorf("%s: state = %s after a full queue", cb, cb.State())
			}
		}
	}
	if deferred == 0 {
		t.Error("a one-slot queue with a stalled worker should defer some blocks")
	}
}

func TestCompileFailureWarmsUpLonger(t *testing.T) {
	vm := NewVM(flatOptions(), CompilerFunc(func(ctx context.Context, plan *Plan) (*OptimizedPayload, error) {
		return nil, errors.New("register allocation failed")
	}), nil)
	defer vm.Close()
	cb, err := vm.LinkUnlinked(sampleCode(t, "f"))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := vm.Optimize(context.Background(), cb); err == nil {
		t.Fatal("expected an error")
	}
	if cb.State() != Unoptimized || cb.Counter().ActiveThreshold() != 500 || cb.Counter().Counter() != -500 {
		t.Errorf("state = %s, threshold = %d, counter = %d", cb.State(), cb.Counter().ActiveThreshold(), cb.Counter().Counter())
	}
	if vm.Worklist().Stats().Failed != 1 {
		t.Errorf("failed = %d", vm.Worklist().Stats().Failed)
	}
}

func TestCompilerRefusal(t *testing.T) {
	vm := NewVM(flatOptions(), CompilerFunc(func(ctx context.Context, plan *Plan) (*OptimizedPayload, error) {
		return nil, fmt.Errorf("%w: unsupported intrinsic", ErrNotOptimizable)
	}), nil)
	defer vm.Close()
	cb, err := vm.LinkUnlinked(sampleCode(t, "f"))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := vm.Optimize(context.Background(), cb); !errors.Is(err, ErrNotOptimizable) {
		t.Fatalf("err = %v", err)
	}
	if cb.Counter().ActiveThreshold() != 1<<31-1 {
		t.Errorf("threshold = %d, want deferred", cb.Counter().ActiveThreshold())
	}
}

func TestBackgroundTierUp(t *testing.T) {
	var calls atomic.Int32
	table := sampleSideTable()
	vm := NewVM(flatOptions(), CompilerFunc(func(ctx context.Context, plan *Plan) (*OptimizedPayload, error) {
		calls.Add(1)
		if plan.Verdict.Compile != dfg.CanCompile {
			t.Errorf("plan verdict = %s", plan.Verdict.Compile)
		}
		return &OptimizedPayload{SideTable: table}, nil
	}), nil)
	defer vm.Close()
	cb, err := vm.LinkUnlinked(sampleCode(t, "f"))
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 99; i++ {
		if got := vm.Enter(cb); got != cb {
			t.Fatalf("entry %d ran %s before warm-up", i, got)
		}
	}
	if cb.State() != Unoptimized {
		t.Fatalf("state = %s after 99 entries", cb.State())
	}
	vm.Enter(cb)

	deadline := time.Now().Add(5 * time.Second)
	for cb.State() != Optimized {
		if time.Now().After(deadline) {
			t.Fatalf("not optimized in time, state %s", cb.State())
		}
		time.Sleep(time.Millisecond)
	}
	if got := vm.Enter(cb); got.JITType() != OptimizedJIT {
		t.Errorf("Enter after tier-up ran %s", got)
	}
	if calls.Load() != 1 {
		t.Errorf("compiler called %d times", calls.Load())
	}
}

func TestVerdictCache(t *testing.T) {
	s := openStore(t)
	opts := flatOptions()
	code := sampleCode(t, "f")
	key := store.VerdictKey(code.HashString(), opts.Capabilities)

	if err := s.PutVerdict(key, dfg.Verdict{Compile: dfg.CannotCompile}); err != nil {
		t.Fatal(err)
	}
	w := NewJITWorklist(payloadCompiler(sampleSideTable(), nil), opts, s)
	defer w.Stop()
	if got := w.Verdict(code); got.Compile != dfg.CannotCompile {
		t.Errorf("cached verdict ignored: %+v", got)
	}

	other := debugCode(t)
	if got := w.Verdict(other); got.Compile != dfg.CannotCompile {
		t.Errorf("Verdict(debug) = %+v", got)
	}
	stored, err := s.Verdict(store.VerdictKey(other.HashString(), opts.Capabilities))
	if err != nil || stored.Compile != dfg.CannotCompile {
		t.Errorf("stored verdict = %+v, %v", stored, err)
	}
}

func TestRetriesRestoredOnLink(t *testing.T) {
	s := openStore(t)
	opts := flatOptions()

	first := NewVM(opts, payloadCompiler(sampleSideTable(), nil), s)
	cb, err := first.LinkUnlinked(sampleCode(t, "f"))
	if err != nil {
		t.Fatal(err)
	}
	optimized, err := first.Optimize(context.Background(), cb)
	if err != nil {
		t.Fatal(err)
	}
	optimized.Jettison("test")
	first.Close()

	if got := eventNames(t, s, cb.Hash()); len(got) != 2 || got[0] != "optimized" || got[1] != "jettisoned" {
		t.Errorf("history = %v", got)
	}

	second := NewVM(opts, payloadCompiler(sampleSideTable(), nil), s)
	defer second.Close()
	again, err := second.LinkUnlinked(sampleCode(t, "f"))
	if err != nil {
		t.Fatal(err)
	}
	if again.ReoptimizationRetryCounter() != 1 {
		t.Errorf("retries = %d, want 1", again.ReoptimizationRetryCounter())
	}
	if again.Counter().Counter() != -200 {
		t.Errorf("counter = %d, want -200", again.Counter().Counter())
	}
}
