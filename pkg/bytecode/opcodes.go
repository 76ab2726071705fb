package bytecode

import "fmt"

// Opcode represents a bytecode instruction.
// Every instruction is one 2-byte unit: the opcode followed by an immediate
// byte. Opcodes below HaveArgument ignore the immediate.
type Opcode byte

// HaveArgument is the first opcode that takes an operand.
const HaveArgument Opcode = 90

// UnitSize is the width of one encoded instruction in bytes.
const UnitSize = 2

const (
	// ========================================================================
	// No operand
	// ========================================================================

	OpPopTop   Opcode = 1 // Pop top of stack
	OpRotTwo   Opcode = 2 // Swap top two stack elements
	OpDupTop   Opcode = 4 // Duplicate top of stack
	OpNop      Opcode = 9 // No operation
	OpUnaryNot Opcode = 12

	OpBinaryMultiply Opcode = 20
	OpBinaryModulo   Opcode = 22
	OpBinaryAdd      Opcode = 23
	OpBinarySubtract Opcode = 24
	OpBinarySubscr   Opcode = 25 // Pop index and sequence, push sequence[index]

	OpReturnValue Opcode = 83 // Return top of stack

	// ========================================================================
	// With operand (>= HaveArgument)
	// ========================================================================

	OpStoreGlobal  Opcode = 97  // Pop and store to namespace: Names[arg]
	OpDeleteGlobal Opcode = 98  // Remove Names[arg] from namespace
	OpLoadConst    Opcode = 100 // Push Consts[arg]
	OpBuildTuple   Opcode = 102 // Pop arg values, push a Tuple
	OpCompareOp    Opcode = 107 // Pop two, push comparison result (see CompareOp)

	OpJumpAbsolute   Opcode = 113 // Jump to byte offset arg
	OpPopJumpIfFalse Opcode = 114 // Pop, jump to arg if falsy
	OpPopJumpIfTrue  Opcode = 115 // Pop, jump to arg if truthy

	OpLoadGlobal Opcode = 116 // Push namespace value: Names[arg]
	OpLoadFast   Opcode = 124 // Push local: VarNames[arg]
	OpStoreFast  Opcode = 125 // Pop and store to local: VarNames[arg]

	OpCallFunction Opcode = 131 // Pop arg values and a callable, push result
	OpMakeFunction Opcode = 132 // Pop chunk (and closure tuple if arg&MakeClosure), push function

	OpLoadClosure Opcode = 135 // Push the cell itself: (CellVars ++ FreeVars)[arg]
	OpLoadDeref   Opcode = 136 // Push the cell's contents
	OpStoreDeref  Opcode = 137 // Pop into the cell

	OpExtendedArg Opcode = 144 // Prefix: widen the next operand by 8 bits
)

// MakeFunction operand flags.
const (
	MakeClosure = 0x08
)

// CompareOp is the operand of OpCompareOp.
type CompareOp uint8

const (
	CmpLt CompareOp = iota
	CmpLe
	CmpEq
	CmpNe
	CmpGt
	CmpGe
)

var compareNames = [...]string{"<", "<=", "==", "!=", ">", ">="}

func (c CompareOp) String() string {
	if int(c) < len(compareNames) {
		return compareNames[c]
	}
	return fmt.Sprintf("CompareOp(%d)", c)
}

// OpcodeInfo provides metadata about each opcode for disassembly and stack
// sizing.
type OpcodeInfo struct {
	Name      string // Human-readable name
	StackPop  int    // How many values popped from stack (-1 = depends on operand)
	StackPush int    // How many values pushed to stack
}

var opcodeInfoTable = map[Opcode]OpcodeInfo{
	OpPopTop:   {"POP_TOP", 1, 0},
	OpRotTwo:   {"ROT_TWO", 2, 2},
	OpDupTop:   {"DUP_TOP", 1, 2},
	OpNop:      {"NOP", 0, 0},
	OpUnaryNot: {"UNARY_NOT", 1, 1},

	OpBinaryMultiply: {"BINARY_MULTIPLY", 2, 1},
	OpBinaryModulo:   {"BINARY_MODULO", 2, 1},
	OpBinaryAdd:      {"BINARY_ADD", 2, 1},
	OpBinarySubtract: {"BINARY_SUBTRACT", 2, 1},
	OpBinarySubscr:   {"BINARY_SUBSCR", 2, 1},

	OpReturnValue: {"RETURN_VALUE", 1, 0},

	OpStoreGlobal:  {"STORE_GLOBAL", 1, 0},
	OpDeleteGlobal: {"DELETE_GLOBAL", 0, 0},
	OpLoadConst:    {"LOAD_CONST", 0, 1},
	OpBuildTuple:   {"BUILD_TUPLE", -1, 1},
	OpCompareOp:    {"COMPARE_OP", 2, 1},

	OpJumpAbsolute:   {"JUMP_ABSOLUTE", 0, 0},
	OpPopJumpIfFalse: {"POP_JUMP_IF_FALSE", 1, 0},
	OpPopJumpIfTrue:  {"POP_JUMP_IF_TRUE", 1, 0},

	OpLoadGlobal: {"LOAD_GLOBAL", 0, 1},
	OpLoadFast:   {"LOAD_FAST", 0, 1},
	OpStoreFast:  {"STORE_FAST", 1, 0},

	OpCallFunction: {"CALL_FUNCTION", -1, 1},
	OpMakeFunction: {"MAKE_FUNCTION", -1, 1},

	OpLoadClosure: {"LOAD_CLOSURE", 0, 1},
	OpLoadDeref:   {"LOAD_DEREF", 0, 1},
	OpStoreDeref:  {"STORE_DEREF", 1, 0},

	OpExtendedArg: {"EXTENDED_ARG", 0, 0},
}

var opcodeByName = func() map[string]Opcode {
	m := make(map[string]Opcode, len(opcodeInfoTable))
	for op, info := range opcodeInfoTable {
		m[info.Name] = op
	}
	return m
}()

// GetOpcodeInfo returns metadata for an opcode.
// Returns a zero OpcodeInfo with name "UNKNOWN" if the opcode is not recognized.
func GetOpcodeInfo(op Opcode) OpcodeInfo {
	if info, ok := opcodeInfoTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN(0x%02X)", byte(op))}
}

// LookupOpcode returns the opcode with the given mnemonic.
func LookupOpcode(name string) (Opcode, bool) {
	op, ok := opcodeByName[name]
	return op, ok
}

// String returns the human-readable name of an opcode.
func (op Opcode) String() string {
	return GetOpcodeInfo(op).Name
}

// Valid reports whether op is part of the instruction set.
func (op Opcode) Valid() bool {
	_, ok := opcodeInfoTable[op]
	return ok
}

// HasArg reports whether the opcode reads its immediate byte.
func (op Opcode) HasArg() bool {
	return op >= HaveArgument
}

// IsJump returns true if the operand is an absolute jump target.
func (op Opcode) IsJump() bool {
	return op >= OpJumpAbsolute && op <= OpPopJumpIfTrue
}

// UsesName returns true if the operand indexes the chunk's Names table.
func (op Opcode) UsesName() bool {
	switch op {
	case OpLoadGlobal, OpStoreGlobal, OpDeleteGlobal:
		return true
	}
	return false
}

// UsesLocal returns true if the operand indexes VarNames.
func (op Opcode) UsesLocal() bool {
	return op == OpLoadFast || op == OpStoreFast
}

// UsesDeref returns true if the operand indexes CellVars ++ FreeVars.
func (op Opcode) UsesDeref() bool {
	return op >= OpLoadClosure && op <= OpStoreDeref
}

// StackEffect returns the net stack change of op with the given operand.
func (op Opcode) StackEffect(arg int) int {
	info := GetOpcodeInfo(op)
	switch op {
	case OpBuildTuple:
		return 1 - arg
	case OpCallFunction:
		return -arg
	case OpMakeFunction:
		if arg&MakeClosure != 0 {
			return -1
		}
		return 0
	}
	return info.StackPush - info.StackPop
}

// AllOpcodes returns a slice of all defined opcodes.
func AllOpcodes() []Opcode {
	opcodes := make([]Opcode, 0, len(opcodeInfoTable))
	for op := range opcodeInfoTable {
		opcodes = append(opcodes, op)
	}
	return opcodes
}
