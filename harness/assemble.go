package harness

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/chazu/tierup/pkg/bytecode"
	"github.com/chazu/tierup/pkg/value"
)

// Program is a code block written as assembly text.
//
//	name: sum
//	type: function
//	parameters: 3
//	locals: 1
//	constants: [0]
//	code:
//	  - op_enter
//	  - op_add r0, arg1, arg2
//	  - op_jtrue r0, done
//	  - "done:"
//	  - op_ret r0
//
// Register operands are written the way VirtualRegister prints them, kN
// naming the Nth entry of constants. Identifier and global operands are
// bare names, regexp operands their source, and jump targets labels.
type Program struct {
	Name       string        `yaml:"name"`
	Type       string        `yaml:"type"`
	Parameters int           `yaml:"parameters"`
	Locals     int           `yaml:"locals"`
	Constants  []any         `yaml:"constants,omitempty"`
	Arguments  string        `yaml:"arguments,omitempty"`
	Activation string        `yaml:"activation,omitempty"`
	Strict     bool          `yaml:"strict,omitempty"`
	Inlinable  bool          `yaml:"inlinable,omitempty"`
	Code       []string      `yaml:"code"`
	Handlers   []HandlerSpec `yaml:"handlers,omitempty"`
}

// HandlerSpec is an exception handler over labelled offsets.
type HandlerSpec struct {
	Start  string `yaml:"start"`
	End    string `yaml:"end"`
	Target string `yaml:"target"`
	Depth  int    `yaml:"depth,omitempty"`
}

// LoadProgram reads a program file.
func LoadProgram(path string) (*Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("harness: read program: %w", err)
	}
	p, err := ParseProgram(data)
	if err != nil {
		return nil, fmt.Errorf("harness: %s: %w", path, err)
	}
	return p, nil
}

// ParseProgram decodes a program, rejecting unknown fields.
func ParseProgram(data []byte) (*Program, error) {
	var p Program
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}
	return &p, nil
}

func parseCodeType(s string) (bytecode.CodeType, error) {
	switch s {
	case "", "function":
		return bytecode.FunctionCode, nil
	case "global":
		return bytecode.GlobalCode, nil
	case "eval":
		return bytecode.EvalCode, nil
	}
	return 0, fmt.Errorf("unknown code type %q", s)
}

type assembler struct {
	b      *bytecode.Builder
	consts []bytecode.VirtualRegister
	labels map[string]*bytecode.Label
}

func (a *assembler) label(name string) *bytecode.Label {
	l, ok := a.labels[name]
	if !ok {
		l = a.b.NewLabel()
		a.labels[name] = l
	}
	return l
}

func (a *assembler) register(s string) (int32, error) {
	r, err := bytecode.ParseVirtualRegister(s)
	if err != nil {
		return 0, err
	}
	if r.IsConstant() {
		i := r.ToConstantIndex()
		if i >= len(a.consts) {
			return 0, fmt.Errorf("no constant k%d", i)
		}
		r = a.consts[i]
	}
	return int32(r), nil
}

func immediate(s string) (int32, error) {
	n, err := strconv.ParseInt(strings.TrimPrefix(s, "$"), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("bad immediate %q", s)
	}
	return int32(n), nil
}

// Assemble builds and validates the code block p describes.
func (p *Program) Assemble() (*bytecode.UnlinkedCodeBlock, error) {
	codeType, err := parseCodeType(p.Type)
	if err != nil {
		return nil, err
	}
	if p.Parameters < 1 {
		return nil, fmt.Errorf("%s: parameters must count this", p.Name)
	}

	a := &assembler{
		b:      bytecode.NewBuilder(p.Name, codeType, p.Parameters),
		labels: make(map[string]*bytecode.Label),
	}
	for i := 0; i < p.Locals; i++ {
		a.b.NewLocal()
	}
	for i, c := range p.Constants {
		v, err := ParseValue(c)
		if err != nil {
			return nil, fmt.Errorf("constants[%d]: %w", i, err)
		}
		a.consts = append(a.consts, a.b.AddConstant(v))
	}
	if p.Arguments != "" {
		r, err := bytecode.ParseVirtualRegister(p.Arguments)
		if err != nil {
			return nil, fmt.Errorf("arguments: %w", err)
		}
		a.b.SetUsesArguments(r)
	}
	if p.Activation != "" {
		r, err := bytecode.ParseVirtualRegister(p.Activation)
		if err != nil {
			return nil, fmt.Errorf("activation: %w", err)
		}
		a.b.SetNeedsActivation(r)
	}
	a.b.SetStrictMode(p.Strict)
	a.b.SetInliningCandidate(p.Inlinable)

	for i, line := range p.Code {
		if err := a.line(strings.TrimSpace(line)); err != nil {
			return nil, fmt.Errorf("%s: code[%d] %q: %w", p.Name, i, line, err)
		}
	}
	for name, l := range a.labels {
		if !l.IsBound() {
			return nil, fmt.Errorf("%s: label %s is never bound", p.Name, name)
		}
	}
	for i, h := range p.Handlers {
		labels := []string{h.Start, h.End, h.Target}
		for _, name := range labels {
			if l, ok := a.labels[name]; !ok || !l.IsBound() {
				return nil, fmt.Errorf("%s: handlers[%d]: unknown label %q", p.Name, i, name)
			}
		}
		a.b.AddHandler(a.labels[h.Start], a.labels[h.End], a.labels[h.Target], h.Depth)
	}
	return a.b.Build()
}

func (a *assembler) line(line string) error {
	if line == "" || strings.HasPrefix(line, ";") {
		return nil
	}
	if name, ok := strings.CutSuffix(line, ":"); ok && !strings.ContainsAny(name, " ,") {
		l := a.label(name)
		if l.IsBound() {
			return fmt.Errorf("label %s bound twice", name)
		}
		a.b.Bind(l)
		return nil
	}

	name, rest, _ := strings.Cut(line, " ")
	op, ok := bytecode.LookupOpcode(name)
	if !ok {
		return fmt.Errorf("unknown opcode %s", name)
	}
	var args []string
	if rest = strings.TrimSpace(rest); rest != "" {
		for _, arg := range strings.Split(rest, ",") {
			args = append(args, strings.TrimSpace(arg))
		}
	}

	var kinds []bytecode.OperandKind
	for _, k := range bytecode.GetOpcodeInfo(op).Operands {
		if !k.IsMetadata() {
			kinds = append(kinds, k)
		}
	}
	if len(args) != len(kinds) {
		return fmt.Errorf("%s takes %d operands, got %d", name, len(kinds), len(args))
	}

	var target *bytecode.Label
	words := make([]int32, 0, len(args))
	for i, k := range kinds {
		var w int32
		var err error
		switch k {
		case bytecode.OperandRegister:
			w, err = a.register(args[i])
		case bytecode.OperandImmediate:
			w, err = immediate(args[i])
		case bytecode.OperandIdentifier, bytecode.OperandGlobal:
			w = a.b.AddIdentifier(args[i])
		case bytecode.OperandRegExp:
			w = a.b.AddRegExp(args[i])
		case bytecode.OperandTarget:
			target = a.label(args[i])
			continue
		default:
			err = fmt.Errorf("%s operands are not supported", k)
		}
		if err != nil {
			return fmt.Errorf("operand %d: %w", i, err)
		}
		words = append(words, w)
	}

	if target != nil {
		a.b.EmitJump(op, target, words...)
	} else {
		a.b.Emit(op, words...)
	}
	return nil
}
