package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sumProgram = `
name: sum
parameters: 3
locals: 1
constants: [1]
inlinable: true
code:
  - op_enter
  - op_add r0, arg1, arg2
  - op_jtrue r0, done
  - op_ret k0
  - "done:"
  - op_ret r0
`

const wrongScenario = `
name: wrong
frame:
  parameters: 1
  callee_registers: 1
events:
  - Reset
exits:
  - kind: BadType
    bytecode: 0
    event: 1
    expect:
      r0: "[7]"
`

// run executes the CLI with args and returns what it printed.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// writeConfig writes a tierup.toml into a fresh directory and returns its path.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tierup.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func newGoldie(t *testing.T) *goldie.Goldie {
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func TestReplayGolden(t *testing.T) {
	out, err := run(t, "replay", "testdata/basic_recovery.yaml")
	require.NoError(t, err)
	newGoldie(t).Assert(t, "replay_basic_recovery", []byte(out))
}

func TestReplayFailureExitCode(t *testing.T) {
	path := writeFile(t, "wrong.yaml", wrongScenario)
	out, err := run(t, "replay", path)
	require.Error(t, err)
	assert.Equal(t, exitFailure, exitCode(err))
	assert.Contains(t, out, "  mismatch: r0: got [undefined], want [7]")
	assert.Contains(t, out, "1 scenarios, 1 failed")
	assert.Equal(t, "1 of 1 scenarios failed", err.Error())
}

func TestReplayMissingFile(t *testing.T) {
	_, err := run(t, "replay", filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Equal(t, exitCommandError, exitCode(err))
}

func TestReplayCBORRequiresOneFile(t *testing.T) {
	out := filepath.Join(t.TempDir(), "table.cbor")
	_, err := run(t, "replay", "--cbor", out, "testdata/basic_recovery.yaml", "testdata/basic_recovery.yaml")
	require.Error(t, err)
	assert.Equal(t, exitCommandError, exitCode(err))
}

func TestDumpReadsReplayOutput(t *testing.T) {
	table := filepath.Join(t.TempDir(), "table.cbor")
	_, err := run(t, "replay", "--cbor", table, "testdata/basic_recovery.yaml")
	require.NoError(t, err)

	out, err := run(t, "dump", table)
	require.NoError(t, err)
	assert.Contains(t, out, "side table: ")
	assert.Contains(t, out, "2 nodes, 8 events, 3 exits\n")
	assert.Contains(t, out, "  @3:Int32ToDouble(@2)\n")
	assert.Contains(t, out, "   7: SetLocal(arg1, Cell)\n")
	assert.Contains(t, out, "  2: Overflow at bc#5 (event 8)\n")
	assert.NotContains(t, out, "weak refs")
}

func TestDumpRejectsGarbage(t *testing.T) {
	path := writeFile(t, "bad.cbor", "not cbor at all")
	_, err := run(t, "dump", path)
	require.Error(t, err)
	assert.Equal(t, exitCommandError, exitCode(err))
}

func TestThresholdsGolden(t *testing.T) {
	cfg := writeConfig(t, "")
	tests := []struct {
		golden string
		args   []string
	}{
		{"thresholds_function_100_1", []string{"--instructions", "100", "--retries", "1"}},
		{"thresholds_eval_40_0", []string{"--instructions", "40", "--type", "eval"}},
	}
	for _, tt := range tests {
		t.Run(tt.golden, func(t *testing.T) {
			args := append([]string{"--config", cfg, "thresholds"}, tt.args...)
			out, err := run(t, args...)
			require.NoError(t, err)
			newGoldie(t).Assert(t, tt.golden, []byte(out))
		})
	}
}

func TestThresholdsRejectsBadFlags(t *testing.T) {
	cfg := writeConfig(t, "[reoptimization]\nretry-counter-max = 4\n")
	for _, args := range [][]string{
		{"--retries", "5"},
		{"--retries", "-1"},
		{"--instructions", "-3"},
		{"--type", "module"},
	} {
		_, err := run(t, append([]string{"--config", cfg, "thresholds"}, args...)...)
		require.Error(t, err, "%v", args)
		assert.Equal(t, exitCommandError, exitCode(err))
	}
}

func TestCapabilities(t *testing.T) {
	cfg := writeConfig(t, "")
	program := writeFile(t, "sum.yaml", sumProgram)

	out, err := run(t, "--config", cfg, "capabilities", program)
	require.NoError(t, err)
	assert.Equal(t, "sum (function): 12 instruction words\n"+
		"compile: CanCompile\n"+
		"inline for call: true\n"+
		"inline for construct: true\n", out)
}

func TestCapabilitiesHonorsLimits(t *testing.T) {
	cfg := writeConfig(t, "[capabilities]\nmax-construct-inline-candidate = 10\n")
	program := writeFile(t, "sum.yaml", sumProgram)

	out, err := run(t, "--config", cfg, "capabilities", "--disasm", program)
	require.NoError(t, err)
	assert.Contains(t, out, "inline for call: true\n")
	assert.Contains(t, out, "inline for construct: false\n")
	assert.Contains(t, out, "op_add")
}

func TestCapabilitiesUsesVerdictCache(t *testing.T) {
	cfg := writeConfig(t, "[store]\nenabled = true\npath = \"cache.db\"\n")
	program := writeFile(t, "sum.yaml", sumProgram)

	out, err := run(t, "--config", cfg, "capabilities", program)
	require.NoError(t, err)
	assert.Contains(t, out, "cache: miss\n")
	assert.FileExists(t, filepath.Join(filepath.Dir(cfg), "cache.db"))

	out, err = run(t, "--config", cfg, "capabilities", program)
	require.NoError(t, err)
	assert.Contains(t, out, "compile: CanCompile\n")
	assert.Contains(t, out, "cache: hit\n")
}

func TestBadConfig(t *testing.T) {
	cfg := writeConfig(t, "[jit]\nworkers = 0\n")
	_, err := run(t, "--config", cfg, "thresholds")
	require.Error(t, err)
	assert.Equal(t, exitCommandError, exitCode(err))
	assert.Contains(t, err.Error(), "workers")
}

func TestExitCodeDefaults(t *testing.T) {
	assert.Equal(t, exitCommandError, exitCode(os.ErrNotExist))
	assert.Equal(t, exitFailure, exitCode(failure("x")))
}
