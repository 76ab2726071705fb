package bytecode

import (
	"fmt"
	"slices"
)

// ChunkFlags describes the scoping rules a chunk executes under.
type ChunkFlags uint32

const (
	// FlagOptimized means locals live in fast slots rather than a dictionary.
	FlagOptimized ChunkFlags = 0x0001

	// FlagNewLocals means each call gets a fresh locals frame.
	FlagNewLocals ChunkFlags = 0x0002

	// FlagNested means the chunk may be bound to closure cells.
	FlagNested ChunkFlags = 0x0010

	// FlagNoFree means the chunk declares no cell or free variables.
	FlagNoFree ChunkFlags = 0x0040
)

// String lists the set flags.
func (f ChunkFlags) String() string {
	var s string
	add := func(flag ChunkFlags, name string) {
		if f&flag != 0 {
			if s != "" {
				s += "|"
			}
			s += name
		}
	}
	add(FlagOptimized, "OPTIMIZED")
	add(FlagNewLocals, "NEWLOCALS")
	add(FlagNested, "NESTED")
	add(FlagNoFree, "NOFREE")
	if s == "" {
		return "0"
	}
	return s
}

// LineEntry maps a bytecode offset to a source line.
type LineEntry struct {
	Offset uint32 // Offset in code section
	Line   uint32 // Source line number (1-based)
}

// Chunk is an executable unit: the compiled body of one function.
// A chunk is never modified once it has been handed to a Function; every
// transformation builds a new one.
type Chunk struct {
	Name      string
	Filename  string
	FirstLine uint32

	// Code section, UnitSize bytes per instruction
	Code []byte

	// Constant pool, referenced by LOAD_CONST
	Consts []Value

	// Identifiers resolved through the namespace
	Names []string

	// Locals, parameters first
	VarNames []string
	ArgCount int

	// Cells owned by this chunk, then cells supplied by the enclosing scope
	CellVars []string
	FreeVars []string

	StackSize int
	Flags     ChunkFlags

	// Debug information
	Lines []LineEntry
}

// NumLocals returns the number of local slots a frame needs.
func (c *Chunk) NumLocals() int {
	return len(c.VarNames)
}

// NumCells returns the size of the deref index space.
func (c *Chunk) NumCells() int {
	return len(c.CellVars) + len(c.FreeVars)
}

// DerefName returns the name bound to a deref operand.
func (c *Chunk) DerefName(index int) (string, bool) {
	if index < 0 {
		return "", false
	}
	if index < len(c.CellVars) {
		return c.CellVars[index], true
	}
	index -= len(c.CellVars)
	if index < len(c.FreeVars) {
		return c.FreeVars[index], true
	}
	return "", false
}

// LineFor returns the source line for a bytecode offset.
// Returns 0 if no mapping exists.
func (c *Chunk) LineFor(offset int) uint32 {
	for i := len(c.Lines) - 1; i >= 0; i-- {
		if int(c.Lines[i].Offset) <= offset {
			return c.Lines[i].Line
		}
	}
	return 0
}

// Clone returns a deep copy of the chunk's tables. Nested chunk constants are
// shared; they are immutable.
func (c *Chunk) Clone() *Chunk {
	dup := *c
	dup.Code = slices.Clone(c.Code)
	dup.Consts = slices.Clone(c.Consts)
	dup.Names = slices.Clone(c.Names)
	dup.VarNames = slices.Clone(c.VarNames)
	dup.CellVars = slices.Clone(c.CellVars)
	dup.FreeVars = slices.Clone(c.FreeVars)
	dup.Lines = slices.Clone(c.Lines)
	return &dup
}

// Validate checks that every operand in the code section indexes a valid
// entry of the chunk's tables.
func (c *Chunk) Validate() error {
	if len(c.Code)%UnitSize != 0 {
		return fmt.Errorf("%s: code length %d is not a multiple of %d", c.Name, len(c.Code), UnitSize)
	}
	if c.ArgCount < 0 || c.StackSize < 0 {
		return fmt.Errorf("%s: negative argcount %d or stack size %d", c.Name, c.ArgCount, c.StackSize)
	}
	if c.ArgCount > len(c.VarNames) {
		return fmt.Errorf("%s: argcount %d exceeds %d locals", c.Name, c.ArgCount, len(c.VarNames))
	}
	d := NewDecoder(c.Code)
	for {
		ins, ok := d.Next()
		if !ok {
			break
		}
		if !ins.Op.Valid() {
			return fmt.Errorf("%s@%d: unknown opcode 0x%02X", c.Name, ins.Offset, byte(ins.Op))
		}
		var limit int
		switch {
		case ins.Op.UsesName():
			limit = len(c.Names)
		case ins.Op.UsesLocal():
			limit = len(c.VarNames)
		case ins.Op.UsesDeref():
			limit = c.NumCells()
		case ins.Op == OpLoadConst:
			limit = len(c.Consts)
		case ins.Op.IsJump():
			// Jumping to the end falls off the code and returns nil.
			limit = len(c.Code) + 1
		default:
			continue
		}
		if ins.Arg >= limit {
			return fmt.Errorf("%s@%d: %s operand %d out of range (%d)", c.Name, ins.Offset, ins.Op, ins.Arg, limit)
		}
	}
	return nil
}
