package vm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chazu/tierup/pkg/bytecode"
	"github.com/chazu/tierup/pkg/dfg"
	"github.com/chazu/tierup/pkg/osr"
	"github.com/chazu/tierup/store"
	"github.com/google/uuid"
	"github.com/tliron/commonlog"
	"golang.org/x/sync/singleflight"
)

var jitLog = commonlog.GetLogger("tierup.jit")

// ErrNotOptimizable is returned when capability analysis or the
// compiler refuses a code block.
var ErrNotOptimizable = errors.New("vm: code is not optimizable")

// OptimizedPayload is what the optimizing compiler hands back: opaque
// machine code plus everything needed to leave it.
type OptimizedPayload struct {
	MachineCode      []byte
	SideTable        *osr.SideTable
	InlineCallFrames []*osr.InlineCallFrame

	// Liveness reports whether operand is live in the baseline code at
	// exit. Nil means no liveness is known.
	Liveness func(exit int, operand bytecode.VirtualRegister) bool
}

// Plan is one request to optimize a baseline CodeBlock.
type Plan struct {
	ID        uuid.UUID
	CodeBlock *CodeBlock
	Verdict   dfg.Verdict
	Requested time.Time
}

// Compiler is the optimizing compiler. Returning an error wrapping
// ErrNotOptimizable stops further attempts for the block; any other
// error retries after a long warm-up.
type Compiler interface {
	Compile(ctx context.Context, plan *Plan) (*OptimizedPayload, error)
}

// CompilerFunc adapts a function to Compiler.
type CompilerFunc func(ctx context.Context, plan *Plan) (*OptimizedPayload, error)

// Compile implements Compiler.
func (f CompilerFunc) Compile(ctx context.Context, plan *Plan) (*OptimizedPayload, error) {
	return f(ctx, plan)
}

// VerdictCache persists capability verdicts and tiering history across
// processes. *store.Store implements it.
type VerdictCache interface {
	Verdict(key string) (dfg.Verdict, error)
	PutVerdict(key string, v dfg.Verdict) error
	RecordTiering(e store.HistoryEvent) error
	ReoptimizationRetries(hash string) (int, error)
}

// ---------------------------------------------------------------------------
// JITWorklist: background optimizing compiles
// ---------------------------------------------------------------------------

// JITWorklist runs optimizing compiles on background goroutines. It is
// fed by CodeBlocks whose execution counters crossed their threshold.
type JITWorklist struct {
	compiler Compiler
	opts     Options
	cache    VerdictCache

	pending chan *Plan
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	stop    sync.Once

	group    singleflight.Group
	verdicts sync.Map // verdict key -> dfg.Verdict

	compiled   atomic.Uint64
	failed     atomic.Uint64
	refused    atomic.Uint64
	jettisoned atomic.Uint64
}

// NewJITWorklist starts opts.Workers compile goroutines. cache may be nil.
func NewJITWorklist(compiler Compiler, opts Options, cache VerdictCache) *JITWorklist {
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	queue := opts.QueueSize
	if queue < 1 {
		queue = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	w := &JITWorklist{
		compiler: compiler,
		opts:     opts,
		cache:    cache,
		pending:  make(chan *Plan, queue),
		ctx:      ctx,
		cancel:   cancel,
	}
	for i := 0; i < workers; i++ {
		w.wg.Add(1)
		go w.worker()
	}
	return w
}

func (w *JITWorklist) worker() {
	defer w.wg.Done()
	for {
		select {
		case plan := <-w.pending:
			if plan.CodeBlock.State() != CandidateForOptimization {
				continue
			}
			if _, err := w.run(w.ctx, plan); err != nil {
				jitLog.Debugf("plan %s: %s", plan.ID, err)
			}
		case <-w.ctx.Done():
			return
		}
	}
}

// abandon returns cb to Unoptimized after its plan ended without code.
func abandon(cb *CodeBlock) {
	if err := cb.Transition(Unoptimized); err != nil {
		jitLog.Warningf("abandoning plan: %s", err)
	}
}

func newPlan(cb *CodeBlock) *Plan {
	return &Plan{ID: uuid.New(), CodeBlock: cb, Requested: time.Now()}
}

// Enqueue schedules cb for background optimization. It reports false if
// cb is not in a state to be optimized or the queue is full; a full
// queue asks cb to try again soon.
func (w *JITWorklist) Enqueue(cb *CodeBlock) bool {
	if err := cb.Transition(CandidateForOptimization); err != nil {
		return false
	}
	plan := newPlan(cb)
	select {
	case w.pending <- plan:
		jitLog.Infof("plan %s: queued %s", plan.ID, cb)
		return true
	default:
		abandon(cb)
		cb.OptimizeSoon()
		jitLog.Debugf("queue full, deferring %s", cb)
		return false
	}
}

// CompileSync optimizes cb on the calling goroutine and returns the
// installed optimized block. Concurrent requests for the same block
// share one compile.
func (w *JITWorklist) CompileSync(ctx context.Context, cb *CodeBlock) (*CodeBlock, error) {
	switch cb.State() {
	case Optimized:
		return cb.Replacement(), nil
	case Unoptimized:
		if err := cb.Transition(CandidateForOptimization); err != nil && cb.State() != CandidateForOptimization {
			return nil, err
		}
	}
	return w.run(ctx, newPlan(cb))
}

func (w *JITWorklist) run(ctx context.Context, plan *Plan) (*CodeBlock, error) {
	key := fmt.Sprintf("%p", plan.CodeBlock)
	v, err, _ := w.group.Do(key, func() (any, error) {
		if plan.CodeBlock.State() == Optimized {
			return plan.CodeBlock.Replacement(), nil
		}
		return w.compile(ctx, plan)
	})
	if err != nil {
		return nil, err
	}
	return v.(*CodeBlock), nil
}

func (w *JITWorklist) compile(ctx context.Context, plan *Plan) (*CodeBlock, error) {
	cb := plan.CodeBlock
	plan.Verdict = w.Verdict(cb.unlinked)
	if plan.Verdict.Compile != dfg.CanCompile {
		abandon(cb)
		cb.DontOptimizeAnytimeSoon()
		w.refused.Add(1)
		w.record(cb, "refused", plan.Verdict.Compile.String())
		return nil, fmt.Errorf("%w: %s: %s", ErrNotOptimizable, cb, plan.Verdict.Compile)
	}
	if err := cb.Transition(Optimizing); err != nil {
		return nil, err
	}

	jitLog.Infof("plan %s: compiling %s", plan.ID, cb)
	start := time.Now()
	payload, err := w.compiler.Compile(ctx, plan)
	if err == nil && payload == nil {
		err = errors.New("compiler returned no code")
	}
	if err != nil {
		abandon(cb)
		if errors.Is(err, ErrNotOptimizable) {
			cb.DontOptimizeAnytimeSoon()
			w.refused.Add(1)
			w.record(cb, "refused", err.Error())
		} else {
			cb.OptimizeAfterLongWarmUp()
			w.failed.Add(1)
			w.record(cb, "failed", err.Error())
		}
		return nil, fmt.Errorf("vm: compile %s: %w", cb, err)
	}

	optimized := newOptimizedCodeBlock(cb, payload)
	if err := cb.install(optimized); err != nil {
		return nil, err
	}
	w.compiled.Add(1)
	w.record(cb, "optimized", fmt.Sprintf("plan %s in %s", plan.ID, time.Since(start).Round(time.Microsecond)))
	return optimized, nil
}

// Verdict returns the capability verdict for code, memoized in memory
// and in the cache.
func (w *JITWorklist) Verdict(code *bytecode.UnlinkedCodeBlock) dfg.Verdict {
	key := store.VerdictKey(code.HashString(), w.opts.Capabilities)
	if v, ok := w.verdicts.Load(key); ok {
		return v.(dfg.Verdict)
	}

	if w.cache != nil {
		v, err := w.cache.Verdict(key)
		if err == nil {
			w.verdicts.Store(key, v)
			return v
		}
		if !errors.Is(err, store.ErrNotFound) {
			jitLog.Warningf("verdict cache: %s", err)
		}
	}

	v := dfg.Analyze(code, w.opts.Capabilities)
	w.verdicts.Store(key, v)
	if w.cache != nil {
		if err := w.cache.PutVerdict(key, v); err != nil {
			jitLog.Warningf("verdict cache: %s", err)
		}
	}
	return v
}

func (w *JITWorklist) record(cb *CodeBlock, event, detail string) {
	if w.cache == nil {
		return
	}
	baseline := cb.BaselineVersion()
	err := w.cache.RecordTiering(store.HistoryEvent{
		Hash:    baseline.Hash(),
		Name:    baseline.Name(),
		Event:   event,
		Retries: int(baseline.ReoptimizationRetryCounter()),
		Detail:  detail,
	})
	if err != nil {
		jitLog.Warningf("tiering history: %s", err)
	}
}

// JITStats holds worklist statistics.
type JITStats struct {
	Compiled   uint64
	Failed     uint64
	Refused    uint64
	Jettisoned uint64
	Queued     int
}

// Stats returns worklist statistics.
func (w *JITWorklist) Stats() JITStats {
	return JITStats{
		Compiled:   w.compiled.Load(),
		Failed:     w.failed.Load(),
		Refused:    w.refused.Load(),
		Jettisoned: w.jettisoned.Load(),
		Queued:     len(w.pending),
	}
}

// Stop shuts down the workers. Queued plans are dropped.
func (w *JITWorklist) Stop() {
	w.stop.Do(func() {
		w.cancel()
		w.wg.Wait()
	})
}
