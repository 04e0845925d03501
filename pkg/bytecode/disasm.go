package bytecode

import (
	"fmt"
	"strings"
)

// Disassemble returns a human-readable bytecode listing.
func (u *UnlinkedCodeBlock) Disassemble() string {
	var sb strings.Builder

	// Header
	name := u.Name
	if name == "" {
		name = "<anonymous>"
	}
	sb.WriteString(fmt.Sprintf("; === %s (%s) ===\n", name, u.CodeType))
	sb.WriteString(fmt.Sprintf("; hash %s, %d instruction words\n", u.HashString(), u.InstructionCount()))
	sb.WriteString(fmt.Sprintf("; %d parameters, %d vars, %d callee registers\n",
		u.NumParameters, u.NumVars, u.NumCalleeRegisters))

	var flags []string
	if u.UsesArguments {
		flags = append(flags, fmt.Sprintf("ARGUMENTS(%s)", u.ArgumentsRegister))
	}
	if u.NeedsActivation {
		flags = append(flags, fmt.Sprintf("ACTIVATION(%s)", u.ActivationRegister))
	}
	if u.IsStrictMode {
		flags = append(flags, "STRICT")
	}
	if u.IsInliningCandidate {
		flags = append(flags, "INLINABLE")
	}
	if len(flags) > 0 {
		sb.WriteString("; Flags: " + strings.Join(flags, " ") + "\n")
	}
	sb.WriteString(fmt.Sprintf("; Metadata: %d profiles, %d stubs, %d call links\n",
		u.NumValueProfiles, u.NumStructureStubs, u.NumCallLinks))
	sb.WriteString("\n")

	// Constants
	if len(u.Constants) > 0 {
		sb.WriteString("; Constants:\n")
		for i, c := range u.Constants {
			sb.WriteString(fmt.Sprintf(";   k%-3d %s\n", i, c))
		}
		sb.WriteString("\n")
	}

	// Identifiers
	if len(u.Identifiers) > 0 {
		sb.WriteString("; Identifiers:\n")
		for i, id := range u.Identifiers {
			sb.WriteString(fmt.Sprintf(";   id%-2d %q\n", i, id))
		}
		sb.WriteString("\n")
	}

	// Code section
	sb.WriteString("; Code:\n")
	u.ForEachInstruction(func(offset int, op Opcode, operands []int32) bool {
		sb.WriteString(fmt.Sprintf("%04d  %s\n", offset, u.DisassembleInstruction(offset, op, operands)))
		return true
	})

	// Handlers
	if len(u.ExceptionHandlers) > 0 {
		sb.WriteString("\n; Handlers:\n")
		for _, h := range u.ExceptionHandlers {
			sb.WriteString(fmt.Sprintf(";   [%04d, %04d) -> %04d depth %d\n", h.Start, h.End, h.Target, h.ScopeDepth))
		}
	}

	return sb.String()
}

// DisassembleInstruction formats a single instruction.
func (u *UnlinkedCodeBlock) DisassembleInstruction(offset int, op Opcode, operands []int32) string {
	info := GetOpcodeInfo(op)
	if !op.IsValid() {
		return info.Name
	}
	parts := make([]string, 0, len(operands))
	for i, w := range operands {
		if i >= len(info.Operands) {
			break
		}
		parts = append(parts, u.formatOperand(offset, info.Operands[i], w))
	}
	if len(parts) == 0 {
		return info.Name
	}
	return info.Name + " " + strings.Join(parts, ", ")
}

func (u *UnlinkedCodeBlock) formatOperand(offset int, kind OperandKind, w int32) string {
	switch kind {
	case OperandRegister:
		r := VirtualRegister(w)
		if r.IsConstant() && r.ToConstantIndex() < len(u.Constants) {
			return fmt.Sprintf("%s(%s)", r, u.Constants[r.ToConstantIndex()])
		}
		return r.String()
	case OperandIdentifier:
		if w >= 0 && int(w) < len(u.Identifiers) {
			return fmt.Sprintf("id%d(%s)", w, u.Identifiers[w])
		}
		return fmt.Sprintf("id%d", w)
	case OperandGlobal:
		return fmt.Sprintf("global%d", w)
	case OperandTarget:
		return fmt.Sprintf("%d(->%d)", w, offset+int(w))
	case OperandImmediate:
		return fmt.Sprintf("$%d", w)
	default:
		return fmt.Sprintf("%s%d", kind, w)
	}
}
