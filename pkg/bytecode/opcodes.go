package bytecode

import (
	"fmt"
	"sort"
)

// Opcode identifies a bytecode instruction. Instructions are stored as a
// flat stream of 32-bit words: the opcode word followed by its operands.
type Opcode int32

const (
	// ========================================================================
	// Frame setup and scope
	// ========================================================================

	OpEnter             Opcode = iota // op_enter
	OpCreateActivation                // op_create_activation dst
	OpInitLazyReg                     // op_init_lazy_reg dst
	OpCreateArguments                 // op_create_arguments dst
	OpCreateThis                      // op_create_this dst callee
	OpGetCallee                       // op_get_callee dst profile
	OpConvertThis                     // op_convert_this this profile
	OpTearOffActivation               // op_tear_off_activation activation
	OpTearOffArguments                // op_tear_off_arguments arguments activation
	OpPushWithScope                   // op_push_with_scope scope
	OpPopScope                        // op_pop_scope
	OpPushNameScope                   // op_push_name_scope ident value attributes

	// ========================================================================
	// Object creation
	// ========================================================================

	OpNewObject  // op_new_object dst
	OpNewArray   // op_new_array dst first count
	OpNewRegExp  // op_new_regexp dst regexp
	OpNewFunc    // op_new_func dst decl
	OpNewFuncExp // op_new_func_exp dst expr

	// ========================================================================
	// Moves, arithmetic and comparison
	// ========================================================================

	OpMov         // op_mov dst src
	OpNot         // op_not dst src
	OpEq          // op_eq dst lhs rhs
	OpNeq         // op_neq dst lhs rhs
	OpStrictEq    // op_stricteq dst lhs rhs
	OpNStrictEq   // op_nstricteq dst lhs rhs
	OpLess        // op_less dst lhs rhs
	OpLessEq      // op_lesseq dst lhs rhs
	OpGreater     // op_greater dst lhs rhs
	OpGreaterEq   // op_greatereq dst lhs rhs
	OpEqNull      // op_eq_null dst src
	OpNeqNull     // op_neq_null dst src
	OpInc         // op_inc srcDst
	OpDec         // op_dec srcDst
	OpToNumber    // op_to_number dst src
	OpNegate      // op_negate dst src
	OpAdd         // op_add dst lhs rhs
	OpSub         // op_sub dst lhs rhs
	OpMul         // op_mul dst lhs rhs
	OpDiv         // op_div dst lhs rhs
	OpMod         // op_mod dst lhs rhs
	OpLShift      // op_lshift dst lhs rhs
	OpRShift      // op_rshift dst lhs rhs
	OpURShift     // op_urshift dst lhs rhs
	OpBitAnd      // op_bitand dst lhs rhs
	OpBitXor      // op_bitxor dst lhs rhs
	OpBitOr       // op_bitor dst lhs rhs
	OpTypeOf      // op_typeof dst src
	OpIsUndefined // op_is_undefined dst src
	OpIsBoolean   // op_is_boolean dst src
	OpIsNumber    // op_is_number dst src
	OpIsString    // op_is_string dst src
	OpIsObject    // op_is_object dst src
	OpIsFunction  // op_is_function dst src
	OpIn          // op_in dst property base
	OpInstanceOf  // op_instanceof dst value prototype
	OpStrCat      // op_strcat dst first count
	OpToPrimitive // op_to_primitive dst src

	// ========================================================================
	// Property and variable access
	// ========================================================================

	OpGetByID          // op_get_by_id dst base ident stub profile
	OpPutByID          // op_put_by_id base ident value stub
	OpDelByID          // op_del_by_id dst base ident
	OpGetByVal         // op_get_by_val dst base property profile
	OpPutByVal         // op_put_by_val base property value
	OpGetArgumentByVal // op_get_argument_by_val dst arguments property profile
	OpGetGlobalVar     // op_get_global_var dst global profile
	OpPutGlobalVar     // op_put_global_var global value
	OpGetScopedVar     // op_get_scoped_var dst index skip profile
	OpPutScopedVar     // op_put_scoped_var index skip value
	OpGetPNames        // op_get_pnames dst base i size breakTarget
	OpNextPName        // op_next_pname dst base i size iter target

	// ========================================================================
	// Control flow
	// ========================================================================

	OpJmp          // op_jmp target
	OpJTrue        // op_jtrue cond target
	OpJFalse       // op_jfalse cond target
	OpJEqNull      // op_jeq_null src target
	OpJNeqNull     // op_jneq_null src target
	OpJLess        // op_jless lhs rhs target
	OpJLessEq      // op_jlesseq lhs rhs target
	OpJGreater     // op_jgreater lhs rhs target
	OpJGreaterEq   // op_jgreatereq lhs rhs target
	OpLoopHint     // op_loop_hint
	OpSwitchImm    // op_switch_imm table default scrutinee
	OpSwitchString // op_switch_string table default scrutinee

	// ========================================================================
	// Calls and returns
	// ========================================================================

	OpCall            // op_call dst callee argc registerOffset callLink profile
	OpConstruct       // op_construct dst callee argc registerOffset callLink profile
	OpCallEval        // op_call_eval dst callee argc registerOffset profile
	OpCallVarargs     // op_call_varargs dst callee this arguments firstFree profile
	OpRet             // op_ret value
	OpRetObjectOrThis // op_ret_object_or_this value this
	OpEnd             // op_end value

	// ========================================================================
	// Exceptions and debugging
	// ========================================================================

	OpCatch            // op_catch exception
	OpThrow            // op_throw value
	OpThrowStaticError // op_throw_static_error message isReference
	OpDebug            // op_debug hook firstLine lastLine
	OpProfileWillCall  // op_profile_will_call function
	OpProfileDidCall   // op_profile_did_call function

	numOpcodes
)

// OperandKind describes how an operand word is interpreted.
type OperandKind uint8

const (
	OperandRegister      OperandKind = iota // VirtualRegister (local, argument or constant)
	OperandImmediate                        // plain integer
	OperandIdentifier                       // index into Identifiers
	OperandTarget                           // jump offset relative to the instruction start
	OperandRegExp                           // index into the regexp table
	OperandFunctionDecl                     // index into FunctionDecls
	OperandFunctionExpr                     // index into FunctionExprs
	OperandGlobal                           // identifier index before linking, global slot after
	OperandSwitchTable                      // index into a switch jump table
	OperandValueProfile                     // index into the CodeBlock's value profiles
	OperandStructureStub                    // index into the CodeBlock's property inline caches
	OperandCallLink                         // index into the CodeBlock's call link infos
)

// IsMetadata reports whether the operand is a per-CodeBlock metadata slot.
// Builders allocate these automatically.
func (k OperandKind) IsMetadata() bool {
	return k == OperandValueProfile || k == OperandStructureStub || k == OperandCallLink
}

// String implements fmt.Stringer.
func (k OperandKind) String() string {
	switch k {
	case OperandRegister:
		return "reg"
	case OperandImmediate:
		return "imm"
	case OperandIdentifier:
		return "ident"
	case OperandTarget:
		return "target"
	case OperandRegExp:
		return "regexp"
	case OperandFunctionDecl:
		return "funcdecl"
	case OperandFunctionExpr:
		return "funcexpr"
	case OperandGlobal:
		return "global"
	case OperandSwitchTable:
		return "switch"
	case OperandValueProfile:
		return "profile"
	case OperandStructureStub:
		return "stub"
	case OperandCallLink:
		return "calllink"
	default:
		return fmt.Sprintf("OperandKind(%d)", k)
	}
}

// OpcodeInfo provides metadata about each opcode for disassembly,
// validation and capability analysis.
type OpcodeInfo struct {
	Name     string        // Human-readable name
	Operands []OperandKind // Operand layout, in stream order
}

// Length returns the instruction length in words, opcode included.
func (i OpcodeInfo) Length() int {
	return 1 + len(i.Operands)
}

var (
	oReg     = OperandRegister
	oImm     = OperandImmediate
	oIdent   = OperandIdentifier
	oTarget  = OperandTarget
	oProfile = OperandValueProfile
	oStub    = OperandStructureStub
	oCall    = OperandCallLink
)

func ops(kinds ...OperandKind) []OperandKind { return kinds }

// opcodeInfoTable maps opcodes to their metadata.
var opcodeInfoTable = map[Opcode]OpcodeInfo{
	// Frame setup and scope
	OpEnter:             {"op_enter", nil},
	OpCreateActivation:  {"op_create_activation", ops(oReg)},
	OpInitLazyReg:       {"op_init_lazy_reg", ops(oReg)},
	OpCreateArguments:   {"op_create_arguments", ops(oReg)},
	OpCreateThis:        {"op_create_this", ops(oReg, oReg)},
	OpGetCallee:         {"op_get_callee", ops(oReg, oProfile)},
	OpConvertThis:       {"op_convert_this", ops(oReg, oProfile)},
	OpTearOffActivation: {"op_tear_off_activation", ops(oReg)},
	OpTearOffArguments:  {"op_tear_off_arguments", ops(oReg, oReg)},
	OpPushWithScope:     {"op_push_with_scope", ops(oReg)},
	OpPopScope:          {"op_pop_scope", nil},
	OpPushNameScope:     {"op_push_name_scope", ops(oIdent, oReg, oImm)},

	// Object creation
	OpNewObject:  {"op_new_object", ops(oReg)},
	OpNewArray:   {"op_new_array", ops(oReg, oReg, oImm)},
	OpNewRegExp:  {"op_new_regexp", ops(oReg, OperandRegExp)},
	OpNewFunc:    {"op_new_func", ops(oReg, OperandFunctionDecl)},
	OpNewFuncExp: {"op_new_func_exp", ops(oReg, OperandFunctionExpr)},

	// Moves, arithmetic and comparison
	OpMov:         {"op_mov", ops(oReg, oReg)},
	OpNot:         {"op_not", ops(oReg, oReg)},
	OpEq:          {"op_eq", ops(oReg, oReg, oReg)},
	OpNeq:         {"op_neq", ops(oReg, oReg, oReg)},
	OpStrictEq:    {"op_stricteq", ops(oReg, oReg, oReg)},
	OpNStrictEq:   {"op_nstricteq", ops(oReg, oReg, oReg)},
	OpLess:        {"op_less", ops(oReg, oReg, oReg)},
	OpLessEq:      {"op_lesseq", ops(oReg, oReg, oReg)},
	OpGreater:     {"op_greater", ops(oReg, oReg, oReg)},
	OpGreaterEq:   {"op_greatereq", ops(oReg, oReg, oReg)},
	OpEqNull:      {"op_eq_null", ops(oReg, oReg)},
	OpNeqNull:     {"op_neq_null", ops(oReg, oReg)},
	OpInc:         {"op_inc", ops(oReg)},
	OpDec:         {"op_dec", ops(oReg)},
	OpToNumber:    {"op_to_number", ops(oReg, oReg)},
	OpNegate:      {"op_negate", ops(oReg, oReg)},
	OpAdd:         {"op_add", ops(oReg, oReg, oReg)},
	OpSub:         {"op_sub", ops(oReg, oReg, oReg)},
	OpMul:         {"op_mul", ops(oReg, oReg, oReg)},
	OpDiv:         {"op_div", ops(oReg, oReg, oReg)},
	OpMod:         {"op_mod", ops(oReg, oReg, oReg)},
	OpLShift:      {"op_lshift", ops(oReg, oReg, oReg)},
	OpRShift:      {"op_rshift", ops(oReg, oReg, oReg)},
	OpURShift:     {"op_urshift", ops(oReg, oReg, oReg)},
	OpBitAnd:      {"op_bitand", ops(oReg, oReg, oReg)},
	OpBitXor:      {"op_bitxor", ops(oReg, oReg, oReg)},
	OpBitOr:       {"op_bitor", ops(oReg, oReg, oReg)},
	OpTypeOf:      {"op_typeof", ops(oReg, oReg)},
	OpIsUndefined: {"op_is_undefined", ops(oReg, oReg)},
	OpIsBoolean:   {"op_is_boolean", ops(oReg, oReg)},
	OpIsNumber:    {"op_is_number", ops(oReg, oReg)},
	OpIsString:    {"op_is_string", ops(oReg, oReg)},
	OpIsObject:    {"op_is_object", ops(oReg, oReg)},
	OpIsFunction:  {"op_is_function", ops(oReg, oReg)},
	OpIn:          {"op_in", ops(oReg, oReg, oReg)},
	OpInstanceOf:  {"op_instanceof", ops(oReg, oReg, oReg)},
	OpStrCat:      {"op_strcat", ops(oReg, oReg, oImm)},
	OpToPrimitive: {"op_to_primitive", ops(oReg, oReg)},

	// Property and variable access
	OpGetByID:          {"op_get_by_id", ops(oReg, oReg, oIdent, oStub, oProfile)},
	OpPutByID:          {"op_put_by_id", ops(oReg, oIdent, oReg, oStub)},
	OpDelByID:          {"op_del_by_id", ops(oReg, oReg, oIdent)},
	OpGetByVal:         {"op_get_by_val", ops(oReg, oReg, oReg, oProfile)},
	OpPutByVal:         {"op_put_by_val", ops(oReg, oReg, oReg)},
	OpGetArgumentByVal: {"op_get_argument_by_val", ops(oReg, oReg, oReg, oProfile)},
	OpGetGlobalVar:     {"op_get_global_var", ops(oReg, OperandGlobal, oProfile)},
	OpPutGlobalVar:     {"op_put_global_var", ops(OperandGlobal, oReg)},
	OpGetScopedVar:     {"op_get_scoped_var", ops(oReg, oImm, oImm, oProfile)},
	OpPutScopedVar:     {"op_put_scoped_var", ops(oImm, oImm, oReg)},
	OpGetPNames:        {"op_get_pnames", ops(oReg, oReg, oReg, oReg, oTarget)},
	OpNextPName:        {"op_next_pname", ops(oReg, oReg, oReg, oReg, oReg, oTarget)},

	// Control flow
	OpJmp:          {"op_jmp", ops(oTarget)},
	OpJTrue:        {"op_jtrue", ops(oReg, oTarget)},
	OpJFalse:       {"op_jfalse", ops(oReg, oTarget)},
	OpJEqNull:      {"op_jeq_null", ops(oReg, oTarget)},
	OpJNeqNull:     {"op_jneq_null", ops(oReg, oTarget)},
	OpJLess:        {"op_jless", ops(oReg, oReg, oTarget)},
	OpJLessEq:      {"op_jlesseq", ops(oReg, oReg, oTarget)},
	OpJGreater:     {"op_jgreater", ops(oReg, oReg, oTarget)},
	OpJGreaterEq:   {"op_jgreatereq", ops(oReg, oReg, oTarget)},
	OpLoopHint:     {"op_loop_hint", nil},
	OpSwitchImm:    {"op_switch_imm", ops(OperandSwitchTable, oTarget, oReg)},
	OpSwitchString: {"op_switch_string", ops(OperandSwitchTable, oTarget, oReg)},

	// Calls and returns
	OpCall:            {"op_call", ops(oReg, oReg, oImm, oImm, oCall, oProfile)},
	OpConstruct:       {"op_construct", ops(oReg, oReg, oImm, oImm, oCall, oProfile)},
	OpCallEval:        {"op_call_eval", ops(oReg, oReg, oImm, oImm, oProfile)},
	OpCallVarargs:     {"op_call_varargs", ops(oReg, oReg, oReg, oReg, oImm, oProfile)},
	OpRet:             {"op_ret", ops(oReg)},
	OpRetObjectOrThis: {"op_ret_object_or_this", ops(oReg, oReg)},
	OpEnd:             {"op_end", ops(oReg)},

	// Exceptions and debugging
	OpCatch:            {"op_catch", ops(oReg)},
	OpThrow:            {"op_throw", ops(oReg)},
	OpThrowStaticError: {"op_throw_static_error", ops(oReg, oImm)},
	OpDebug:            {"op_debug", ops(oImm, oImm, oImm)},
	OpProfileWillCall:  {"op_profile_will_call", ops(oReg)},
	OpProfileDidCall:   {"op_profile_did_call", ops(oReg)},
}

// GetOpcodeInfo returns metadata for an opcode.
// Returns an OpcodeInfo named "UNKNOWN(n)" if the opcode is not recognized.
func GetOpcodeInfo(op Opcode) OpcodeInfo {
	if info, ok := opcodeInfoTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN(%d)", int32(op))}
}

// IsValid reports whether op is a defined opcode.
func (op Opcode) IsValid() bool {
	_, ok := opcodeInfoTable[op]
	return ok
}

// String returns the human-readable name of an opcode.
func (op Opcode) String() string {
	return GetOpcodeInfo(op).Name
}

// Length returns the instruction length in words, opcode included.
func (op Opcode) Length() int {
	return GetOpcodeInfo(op).Length()
}

// IsJump returns true if this opcode is a (conditional) jump.
func (op Opcode) IsJump() bool {
	return op >= OpJmp && op <= OpJGreaterEq
}

// IsTerminal returns true if control never falls through this opcode.
func (op Opcode) IsTerminal() bool {
	switch op {
	case OpRet, OpRetObjectOrThis, OpEnd, OpThrow, OpThrowStaticError, OpJmp:
		return true
	}
	return false
}

// IsCall returns true for the call family.
func (op Opcode) IsCall() bool {
	return op >= OpCall && op <= OpCallVarargs
}

// AllOpcodes returns every defined opcode in numeric order.
func AllOpcodes() []Opcode {
	opcodes := make([]Opcode, 0, len(opcodeInfoTable))
	for op := range opcodeInfoTable {
		opcodes = append(opcodes, op)
	}
	sort.Slice(opcodes, func(i, j int) bool { return opcodes[i] < opcodes[j] })
	return opcodes
}

// OpcodeCount returns the number of defined opcodes.
func OpcodeCount() int {
	return len(opcodeInfoTable)
}

// LookupOpcode finds an opcode by its name ("op_add").
func LookupOpcode(name string) (Opcode, bool) {
	for op, info := range opcodeInfoTable {
		if info.Name == name {
			return op, true
		}
	}
	return 0, false
}
