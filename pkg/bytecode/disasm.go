package bytecode

import (
	"fmt"
	"strings"
)

// Disassemble returns a human-readable bytecode listing for the chunk and,
// after it, every chunk in its constant pool.
func (c *Chunk) Disassemble() string {
	var sb strings.Builder
	c.disassembleTo(&sb)
	return sb.String()
}

func (c *Chunk) disassembleTo(sb *strings.Builder) {
	// Header
	fmt.Fprintf(sb, "; === %s ===\n", c.Name)
	if c.Filename != "" {
		fmt.Fprintf(sb, "; File: %s:%d\n", c.Filename, c.FirstLine)
	}
	fmt.Fprintf(sb, "; Flags: 0x%04X [%s]\n", uint32(c.Flags), c.Flags)
	fmt.Fprintf(sb, "; Args: %d  Stack: %d\n", c.ArgCount, c.StackSize)
	writeTable(sb, "Locals", c.VarNames)
	writeTable(sb, "Names", c.Names)
	writeTable(sb, "Cells", c.CellVars)
	writeTable(sb, "Free", c.FreeVars)

	if len(c.Consts) > 0 {
		sb.WriteString("; Constants:\n")
		for i, v := range c.Consts {
			display := FormatValue(v)
			// Truncate long strings for readability
			if len(display) > 40 {
				display = display[:37] + "..."
			}
			fmt.Fprintf(sb, ";   [%3d] %s\n", i, display)
		}
	}
	sb.WriteString("\n")

	var lastLine uint32
	for _, line := range c.disassembleLines() {
		if l := c.LineFor(line.offset); l != lastLine && l != 0 {
			fmt.Fprintf(sb, "%04X  %-40s ; line %d\n", line.offset, line.text, l)
			lastLine = l
			continue
		}
		fmt.Fprintf(sb, "%04X  %s\n", line.offset, line.text)
	}

	for _, v := range c.Consts {
		if nested, ok := v.(*Chunk); ok {
			sb.WriteString("\n")
			nested.disassembleTo(sb)
		}
	}
}

func writeTable(sb *strings.Builder, title string, names []string) {
	if len(names) == 0 {
		return
	}
	fmt.Fprintf(sb, "; %s (%d): %s\n", title, len(names), strings.Join(names, ", "))
}

type listingLine struct {
	offset int
	text   string
}

func (c *Chunk) disassembleLines() []listingLine {
	var out []listingLine
	d := NewDecoder(c.Code)
	for {
		ins, ok := d.Next()
		if !ok {
			break
		}
		out = append(out, listingLine{offset: ins.Offset, text: c.FormatInstruction(ins)})
	}
	if rest := len(c.Code) - d.Offset(); rest > 0 {
		out = append(out, listingLine{offset: d.Offset(), text: fmt.Sprintf("<%d trailing bytes>", rest)})
	}
	return out
}

// FormatInstruction renders one decoded instruction with its resolved operand.
func (c *Chunk) FormatInstruction(ins Instruction) string {
	if !ins.HasArg {
		return ins.Op.String()
	}
	head := fmt.Sprintf("%-18s %d", ins.Op, ins.Arg)
	if note := c.operandNote(ins); note != "" {
		return head + " (" + note + ")"
	}
	return head
}

func (c *Chunk) operandNote(ins Instruction) string {
	switch {
	case ins.Op.UsesName():
		if ins.Arg < len(c.Names) {
			return c.Names[ins.Arg]
		}
	case ins.Op.UsesLocal():
		if ins.Arg < len(c.VarNames) {
			return c.VarNames[ins.Arg]
		}
	case ins.Op.UsesDeref():
		if name, ok := c.DerefName(ins.Arg); ok {
			return name
		}
	case ins.Op == OpLoadConst:
		if ins.Arg < len(c.Consts) {
			return FormatValue(c.Consts[ins.Arg])
		}
	case ins.Op == OpCompareOp:
		return CompareOp(ins.Arg).String()
	case ins.Op.IsJump():
		return fmt.Sprintf("-> %04X", ins.Arg)
	case ins.Op == OpMakeFunction:
		if ins.Arg&MakeClosure != 0 {
			return "closure"
		}
	}
	return ""
}

// DisassembleToLines returns the code listing without header, one line per
// instruction.
func (c *Chunk) DisassembleToLines() []string {
	lines := c.disassembleLines()
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = fmt.Sprintf("%04X  %s", l.offset, l.text)
	}
	return out
}

// InstructionCount returns the number of instructions in the chunk,
// EXTENDED_ARG prefixes included.
func (c *Chunk) InstructionCount() int {
	return len(c.Code) / UnitSize
}
