// Package config handles tierup.toml configuration.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/BurntSushi/toml"

	"github.com/chazu/tierup/pkg/dfg"
	"github.com/chazu/tierup/vm"
)

// FileName is the configuration file looked up by Load and FindAndLoad.
const FileName = "tierup.toml"

//go:embed schema.cue
var schemaSource string

// Config represents a tierup.toml configuration.
type Config struct {
	Thresholds     Thresholds     `toml:"thresholds" json:"thresholds"`
	Scaling        Scaling        `toml:"scaling" json:"scaling"`
	Reoptimization Reoptimization `toml:"reoptimization" json:"reoptimization"`
	Capabilities   Capabilities   `toml:"capabilities" json:"capabilities"`
	JIT            JIT            `toml:"jit" json:"jit"`
	Store          Store          `toml:"store" json:"store"`

	// Dir is the directory containing the tierup.toml file (set at load time).
	Dir string `toml:"-" json:"-"`
}

// Thresholds are execution-count budgets before tiering up.
type Thresholds struct {
	OptimizeAfterWarmUp     int `toml:"optimize-after-warm-up" json:"optimizeAfterWarmUp"`
	OptimizeAfterLongWarmUp int `toml:"optimize-after-long-warm-up" json:"optimizeAfterLongWarmUp"`
	OptimizeSoon            int `toml:"optimize-soon" json:"optimizeSoon"`
	EntryIncrement          int `toml:"entry-increment" json:"entryIncrement"`
	LoopIncrement           int `toml:"loop-increment" json:"loopIncrement"`
}

// Scaling holds the coefficients of d + a*sqrt(n+b) + |c*n|, the factor
// applied to thresholds for a code block of n instructions.
type Scaling struct {
	A float64 `toml:"a" json:"a"`
	B float64 `toml:"b" json:"b"`
	C float64 `toml:"c" json:"c"`
	D float64 `toml:"d" json:"d"`
}

// Reoptimization controls how many exits trigger a jettison.
type Reoptimization struct {
	ExitCount         int `toml:"exit-count" json:"exitCount"`
	ExitCountFromLoop int `toml:"exit-count-from-loop" json:"exitCountFromLoop"`
	RetryCounterMax   int `toml:"retry-counter-max" json:"retryCounterMax"`
}

// Capabilities gates the optimizing tier.
type Capabilities struct {
	Enabled                     bool `toml:"enabled" json:"enabled"`
	FloatingPoint               bool `toml:"floating-point" json:"floatingPoint"`
	MaxOptimizationCandidate    int  `toml:"max-optimization-candidate" json:"maxOptimizationCandidate"`
	MaxCallInlineCandidate      int  `toml:"max-call-inline-candidate" json:"maxCallInlineCandidate"`
	MaxConstructInlineCandidate int  `toml:"max-construct-inline-candidate" json:"maxConstructInlineCandidate"`
	DebugFail                   bool `toml:"debug-fail" json:"debugFail"`
}

// JIT configures the background compile workers.
type JIT struct {
	Workers   int `toml:"workers" json:"workers"`
	QueueSize int `toml:"queue-size" json:"queueSize"`
}

// Store configures the verdict cache.
type Store struct {
	Path    string `toml:"path" json:"path"`
	Enabled bool   `toml:"enabled" json:"enabled"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Thresholds: Thresholds{
			OptimizeAfterWarmUp:     1000,
			OptimizeAfterLongWarmUp: 5000,
			OptimizeSoon:            1000,
			EntryIncrement:          15,
			LoopIncrement:           1,
		},
		Scaling: Scaling{A: 0.061504, B: 1.02406, C: 0.0, D: 0.825914},
		Reoptimization: Reoptimization{
			ExitCount:         100,
			ExitCountFromLoop: 5,
			RetryCounterMax:   18,
		},
		Capabilities: Capabilities{
			Enabled:                     true,
			FloatingPoint:               true,
			MaxOptimizationCandidate:    10000,
			MaxCallInlineCandidate:      180,
			MaxConstructInlineCandidate: 100,
		},
		JIT:   JIT{Workers: 1, QueueSize: 64},
		Store: Store{Path: filepath.Join(".tierup", "cache.db")},
	}
}

// Parse decodes TOML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	c := Default()
	if _, err := toml.Decode(string(data), c); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Load parses a tierup.toml file from the given directory.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: cannot read %s: %w", path, err)
	}

	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}

	c.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("config: cannot resolve path %s: %w", dir, err)
	}
	return c, nil
}

// FindAndLoad walks up from startDir to find a tierup.toml file, then
// loads it. Returns the defaults if none is found.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, FileName)); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return Default(), nil
		}
		dir = parent
	}
}

// Validate checks c against the embedded schema.
func (c *Config) Validate() error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("config: schema: %w", err)
	}

	v := schema.LookupPath(cue.ParsePath("#Config")).Unify(ctx.Encode(c))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("config: invalid: %s", cueerrors.Details(err, nil))
	}
	return nil
}

// StorePath returns the verdict cache location, resolved against Dir.
func (c *Config) StorePath() string {
	if filepath.IsAbs(c.Store.Path) || c.Dir == "" {
		return c.Store.Path
	}
	return filepath.Join(c.Dir, c.Store.Path)
}

// DFGOptions returns the capability-analysis options.
func (c *Config) DFGOptions() dfg.Options {
	opts := dfg.Options{
		Enabled:               c.Capabilities.Enabled,
		SupportsFloatingPoint: c.Capabilities.FloatingPoint,
		DebugFail:             c.Capabilities.DebugFail,
	}
	opts.MaximumOptimizationCandidateInstructionCount = c.Capabilities.MaxOptimizationCandidate
	opts.MaximumFunctionForCallInlineCandidateInstructionCount = c.Capabilities.MaxCallInlineCandidate
	opts.MaximumFunctionForConstructInlineCandidateInstructionCount = c.Capabilities.MaxConstructInlineCandidate
	return opts
}

// VMOptions returns the tiering options.
func (c *Config) VMOptions() vm.Options {
	return vm.Options{
		ThresholdForOptimizeAfterWarmUp:       int32(c.Thresholds.OptimizeAfterWarmUp),
		ThresholdForOptimizeAfterLongWarmUp:   int32(c.Thresholds.OptimizeAfterLongWarmUp),
		ThresholdForOptimizeSoon:              int32(c.Thresholds.OptimizeSoon),
		ExecutionCounterIncrementForEntry:     int32(c.Thresholds.EntryIncrement),
		ExecutionCounterIncrementForLoop:      int32(c.Thresholds.LoopIncrement),
		Scaling:                               vm.Scaling{A: c.Scaling.A, B: c.Scaling.B, C: c.Scaling.C, D: c.Scaling.D},
		OSRExitCountForReoptimization:         uint32(c.Reoptimization.ExitCount),
		OSRExitCountForReoptimizationFromLoop: uint32(c.Reoptimization.ExitCountFromLoop),
		ReoptimizationRetryCounterMax:         uint32(c.Reoptimization.RetryCounterMax),
		Capabilities:                          c.DFGOptions(),
		Workers:                               c.JIT.Workers,
		QueueSize:                             c.JIT.QueueSize,
	}
}
