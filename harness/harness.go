package harness

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/tliron/commonlog"

	"github.com/chazu/tierup/pkg/bytecode"
	"github.com/chazu/tierup/pkg/osr"
	"github.com/chazu/tierup/pkg/value"
)

var log = commonlog.GetLogger("tierup.harness")

// Result is the outcome of running a scenario.
type Result struct {
	Scenario *Scenario
	Layout   osr.FrameLayout
	Table    *osr.SideTable
	Exits    []ExitResult
}

// ExitResult is the outcome of one exit.
type ExitResult struct {
	Site       osr.ExitSite
	Recoveries osr.Operands[osr.ValueRecovery]

	// Values is set when the exit has a machine state.
	Values *osr.Operands[value.Value]

	// Err is the reconstruction or materialization error, if any.
	Err error

	// Mismatches lists every way the exit differed from its expectations.
	Mismatches []string
}

// Failed reports whether any exit missed its expectations.
func (r *Result) Failed() bool {
	for _, e := range r.Exits {
		if len(e.Mismatches) > 0 {
			return true
		}
	}
	return false
}

// Mismatches returns every mismatch, prefixed with its exit.
func (r *Result) Mismatches() []string {
	var out []string
	for i, e := range r.Exits {
		for _, m := range e.Mismatches {
			out = append(out, fmt.Sprintf("exit %d: %s", i, m))
		}
	}
	return out
}

// Run reconstructs every exit of s. An error means the scenario itself
// could not be built; expectation failures are reported in the result.
func Run(s *Scenario) (*Result, error) {
	layout, err := s.Layout()
	if err != nil {
		return nil, fmt.Errorf("harness: %s: %w", s.Name, err)
	}
	table, err := s.SideTable()
	if err != nil {
		return nil, fmt.Errorf("harness: %s: %w", s.Name, err)
	}

	result := &Result{Scenario: s, Layout: layout, Table: table}
	for i, spec := range s.Exits {
		er, err := runExit(layout, table, i, spec)
		if err != nil {
			return nil, fmt.Errorf("harness: %s: exits[%d]: %w", s.Name, i, err)
		}
		result.Exits = append(result.Exits, er)
	}
	log.Debugf("scenario %s: %d exits, %d mismatches", s.Name, len(result.Exits), len(result.Mismatches()))
	return result, nil
}

func runExit(layout osr.FrameLayout, table *osr.SideTable, i int, spec ExitSpec) (ExitResult, error) {
	er := ExitResult{Site: table.Exits[i]}

	var opts []osr.ReconstructOption
	live, err := spec.liveness()
	if err != nil {
		return er, err
	}
	if live != nil {
		opts = append(opts, osr.WithLiveness(live))
	}

	er.Recoveries, er.Err = table.Reconstruct(layout, i, opts...)
	malformed := errors.Is(er.Err, osr.ErrMalformedStream)
	switch {
	case spec.Malformed && !malformed:
		er.Mismatches = append(er.Mismatches, "expected a malformed stream")
	case !spec.Malformed && er.Err != nil:
		er.Mismatches = append(er.Mismatches, er.Err.Error())
	}
	if er.Err != nil {
		return er, nil
	}

	names := make([]string, 0, len(spec.Expect))
	for name := range spec.Expect {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		r, err := bytecode.ParseVirtualRegister(name)
		if err != nil {
			return er, fmt.Errorf("expect: %w", err)
		}
		if !er.Recoveries.HasOperand(r) {
			er.Mismatches = append(er.Mismatches, fmt.Sprintf("%s: not in frame", name))
			continue
		}
		if got, want := er.Recoveries.Operand(r).String(), spec.Expect[name]; got != want {
			er.Mismatches = append(er.Mismatches, fmt.Sprintf("%s: got %s, want %s", name, got, want))
		}
	}

	if spec.State != nil {
		state, err := spec.State.machineState(er.Recoveries.NumberOfArguments(), er.Recoveries.NumberOfLocals())
		if err != nil {
			return er, err
		}
		values, err := osr.Materialize(er.Recoveries, state)
		if err != nil {
			er.Err = err
			er.Mismatches = append(er.Mismatches, err.Error())
			return er, nil
		}
		er.Values = &values
	}
	return er, nil
}

// Report renders the result as plain text. The format is stable.
func (r *Result) Report() string {
	var sb strings.Builder
	s := r.Scenario
	fmt.Fprintf(&sb, "scenario: %s\n", s.Name)
	fmt.Fprintf(&sb, "frame: %d parameters, %d callee registers\n", r.Layout.Parameters, r.Layout.CalleeRegisters)
	if len(r.Layout.Constants) > 0 {
		parts := make([]string, len(r.Layout.Constants))
		for i, c := range r.Layout.Constants {
			parts[i] = fmt.Sprintf("k%d=%s", i, c)
		}
		fmt.Fprintf(&sb, "constants: %s\n", strings.Join(parts, " "))
	}
	if r.Table.Graph.Len() > 0 {
		sb.WriteString("nodes:\n")
		for _, n := range r.Table.Graph.Nodes() {
			fmt.Fprintf(&sb, "  %s\n", n)
		}
	}
	sb.WriteString("events:\n")
	r.Table.Events.Dump(&sb)

	for i, e := range r.Exits {
		fmt.Fprintf(&sb, "exit %d: %s\n", i, e.Site)
		if e.Err != nil {
			fmt.Fprintf(&sb, "  error: %s\n", e.Err)
		} else {
			e.Recoveries.ForEach(func(reg bytecode.VirtualRegister, rec osr.ValueRecovery) {
				fmt.Fprintf(&sb, "  %-6s %s\n", reg, rec)
			})
		}
		if e.Values != nil {
			var parts []string
			e.Values.ForEach(func(reg bytecode.VirtualRegister, v value.Value) {
				parts = append(parts, fmt.Sprintf("%s=%s", reg, v))
			})
			fmt.Fprintf(&sb, "  values: %s\n", strings.Join(parts, " "))
		}
		if len(e.Mismatches) == 0 {
			sb.WriteString("  ok\n")
		}
		for _, m := range e.Mismatches {
			fmt.Fprintf(&sb, "  mismatch: %s\n", m)
		}
	}
	return sb.String()
}
