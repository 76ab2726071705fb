package bytecode

import (
	"fmt"
	"slices"
)

// Builder assembles a Chunk instruction by instruction. Operands may be given
// symbolically; names, locals, constants and cells are interned on first use
// and EXTENDED_ARG prefixes are inserted wherever an operand needs them.
type Builder struct {
	chunk  *Chunk
	instrs []pending
	labels map[string]int
	line   uint32
	err    error
}

type pending struct {
	op    Opcode
	arg   int
	label string // jump target, resolved at layout
	deref string // cell or free variable, resolved at layout
	line  uint32
}

// NewBuilder starts an empty chunk.
func NewBuilder(name string) *Builder {
	return &Builder{
		chunk:  &Chunk{Name: name},
		labels: make(map[string]int),
	}
}

func (b *Builder) fail(format string, args ...any) {
	if b.err == nil {
		b.err = fmt.Errorf("%s: %s", b.chunk.Name, fmt.Sprintf(format, args...))
	}
}

// File records source metadata.
func (b *Builder) File(filename string, firstLine uint32) *Builder {
	b.chunk.Filename = filename
	b.chunk.FirstLine = firstLine
	if b.line == 0 {
		b.line = firstLine
	}
	return b
}

// Params declares positional parameters. They must precede any other local.
func (b *Builder) Params(names ...string) *Builder {
	if len(b.chunk.VarNames) != b.chunk.ArgCount {
		b.fail("parameters must be declared before locals")
		return b
	}
	for _, name := range names {
		if slices.Contains(b.chunk.VarNames, name) {
			b.fail("duplicate parameter %q", name)
			return b
		}
		b.chunk.VarNames = append(b.chunk.VarNames, name)
		b.chunk.ArgCount++
	}
	return b
}

// CellVars declares variables this chunk owns as cells.
func (b *Builder) CellVars(names ...string) *Builder {
	for _, name := range names {
		if !slices.Contains(b.chunk.CellVars, name) {
			b.chunk.CellVars = append(b.chunk.CellVars, name)
		}
	}
	return b
}

// FreeVars declares variables supplied by an enclosing scope.
func (b *Builder) FreeVars(names ...string) *Builder {
	for _, name := range names {
		if !slices.Contains(b.chunk.FreeVars, name) {
			b.chunk.FreeVars = append(b.chunk.FreeVars, name)
		}
	}
	return b
}

// Line sets the source line for the instructions that follow.
func (b *Builder) Line(line uint32) *Builder {
	b.line = line
	return b
}

// Local interns a local variable and returns its slot.
func (b *Builder) Local(name string) int {
	if i := slices.Index(b.chunk.VarNames, name); i >= 0 {
		return i
	}
	b.chunk.VarNames = append(b.chunk.VarNames, name)
	return len(b.chunk.VarNames) - 1
}

// Name interns a namespace identifier and returns its index.
func (b *Builder) Name(name string) int {
	if i := slices.Index(b.chunk.Names, name); i >= 0 {
		return i
	}
	b.chunk.Names = append(b.chunk.Names, name)
	return len(b.chunk.Names) - 1
}

// Const interns a constant and returns its index. Scalars are deduplicated;
// tuples and chunks always get a fresh slot.
func (b *Builder) Const(v Value) int {
	switch v.(type) {
	case nil, bool, int64, float64, string:
		for i, c := range b.chunk.Consts {
			if sameConst(c, v) {
				return i
			}
		}
	}
	b.chunk.Consts = append(b.chunk.Consts, v)
	return len(b.chunk.Consts) - 1
}

// sameConst is Equal without numeric promotion: 1 and 1.0 stay distinct.
func sameConst(a, b Value) bool {
	switch a.(type) {
	case nil, bool, int64, float64, string:
		return TypeName(a) == TypeName(b) && a == b
	}
	return false
}

// Label marks the position of the next instruction.
func (b *Builder) Label(name string) *Builder {
	if _, ok := b.labels[name]; ok {
		b.fail("duplicate label %q", name)
		return b
	}
	b.labels[name] = len(b.instrs)
	return b
}

// Emit appends an instruction with a literal operand.
func (b *Builder) Emit(op Opcode, arg int) *Builder {
	if !op.Valid() {
		b.fail("unknown opcode 0x%02X", byte(op))
		return b
	}
	if op == OpExtendedArg {
		b.fail("EXTENDED_ARG is inserted automatically")
		return b
	}
	if !op.HasArg() && arg != 0 {
		b.fail("%s takes no operand", op)
		return b
	}
	if arg < 0 {
		b.fail("%s: negative operand %d", op, arg)
		return b
	}
	b.instrs = append(b.instrs, pending{op: op, arg: arg, line: b.line})
	return b
}

// Op appends an instruction without operand.
func (b *Builder) Op(op Opcode) *Builder {
	return b.Emit(op, 0)
}

// EmitName appends a namespace instruction for name.
func (b *Builder) EmitName(op Opcode, name string) *Builder {
	if !op.UsesName() {
		b.fail("%s does not take a name operand", op)
		return b
	}
	return b.Emit(op, b.Name(name))
}

// EmitLocal appends a local-variable instruction for name.
func (b *Builder) EmitLocal(op Opcode, name string) *Builder {
	if !op.UsesLocal() {
		b.fail("%s does not take a local operand", op)
		return b
	}
	return b.Emit(op, b.Local(name))
}

// EmitConst appends LOAD_CONST for v.
func (b *Builder) EmitConst(v Value) *Builder {
	return b.Emit(OpLoadConst, b.Const(v))
}

// EmitDeref appends a cell instruction for name, which must be declared with
// CellVars or FreeVars before Build.
func (b *Builder) EmitDeref(op Opcode, name string) *Builder {
	if !op.UsesDeref() {
		b.fail("%s does not take a cell operand", op)
		return b
	}
	b.instrs = append(b.instrs, pending{op: op, deref: name, line: b.line})
	return b
}

// EmitJump appends a jump to label.
func (b *Builder) EmitJump(op Opcode, label string) *Builder {
	if !op.IsJump() {
		b.fail("%s is not a jump", op)
		return b
	}
	b.instrs = append(b.instrs, pending{op: op, label: label, line: b.line})
	return b
}

// Build lays out the code section and returns the finished chunk. The builder
// must not be used afterwards.
func (b *Builder) Build() (*Chunk, error) {
	if b.err != nil {
		return nil, b.err
	}
	c := b.chunk

	for i := range b.instrs {
		p := &b.instrs[i]
		if p.deref == "" {
			continue
		}
		if j := slices.Index(c.CellVars, p.deref); j >= 0 {
			p.arg = j
		} else if j := slices.Index(c.FreeVars, p.deref); j >= 0 {
			p.arg = len(c.CellVars) + j
		} else {
			return nil, fmt.Errorf("%s: %s references undeclared cell %q", c.Name, p.op, p.deref)
		}
	}
	for _, p := range b.instrs {
		if p.label == "" {
			continue
		}
		if _, ok := b.labels[p.label]; !ok {
			return nil, fmt.Errorf("%s: undefined label %q", c.Name, p.label)
		}
	}

	units := make([]int, len(b.instrs))
	for i, p := range b.instrs {
		units[i] = UnitsFor(p.arg)
	}
	offsets := make([]int, len(b.instrs)+1)
	// Jump operands depend on offsets, which depend on operand widths.
	// Widths only grow, so this settles.
	for {
		for i := range b.instrs {
			offsets[i+1] = offsets[i] + units[i]*UnitSize
		}
		changed := false
		for i := range b.instrs {
			p := &b.instrs[i]
			if p.label == "" {
				continue
			}
			p.arg = offsets[b.labels[p.label]]
			if u := UnitsFor(p.arg); u > units[i] {
				units[i] = u
				changed = true
			}
		}
		if !changed {
			break
		}
	}

	code := make([]byte, 0, offsets[len(b.instrs)])
	var lastLine uint32
	for i, p := range b.instrs {
		if p.line != 0 && p.line != lastLine {
			c.Lines = append(c.Lines, LineEntry{Offset: uint32(len(code)), Line: p.line})
			lastLine = p.line
		}
		enc, ok := EncodeInstruction(p.op, p.arg, units[i])
		if !ok {
			return nil, fmt.Errorf("%s: cannot encode %s %d", c.Name, p.op, p.arg)
		}
		code = append(code, enc...)
	}
	c.Code = code
	c.StackSize = b.stackSize()
	c.Flags = FlagOptimized | FlagNewLocals
	if len(c.FreeVars) > 0 {
		c.Flags |= FlagNested
	}
	if c.NumCells() == 0 {
		c.Flags |= FlagNoFree
	}
	return c, nil
}

// stackSize estimates the deepest stack along the straight-line code. The VM
// grows its stack on demand, so this is only a capacity hint.
func (b *Builder) stackSize() int {
	depth, peak := 0, 0
	for _, p := range b.instrs {
		depth += p.op.StackEffect(p.arg)
		if depth < 0 {
			depth = 0
		}
		if depth > peak {
			peak = depth
		}
	}
	return peak
}

// MustBuild is Build for chunks known to be well formed, such as test fixtures.
func (b *Builder) MustBuild() *Chunk {
	c, err := b.Build()
	if err != nil {
		panic(err)
	}
	return c
}
