package bytecode

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// Module is the result of assembling an .exasm source: every function block
// by name, in declaration order.
type Module struct {
	Filename string
	Order    []string
	Chunks   map[string]*Chunk
}

// Chunk returns the named function body.
func (m *Module) Chunk(name string) (*Chunk, bool) {
	c, ok := m.Chunks[name]
	return c, ok
}

// Bind defines every closure-free function of the module in globals, so
// blocks can call each other through LOAD_GLOBAL.
func (m *Module) Bind(globals *Namespace) {
	for _, name := range m.Order {
		c := m.Chunks[name]
		if len(c.FreeVars) == 0 {
			globals.Set(name, NewFunction(c, globals))
		}
	}
}

// Function returns the named function bound to globals.
func (m *Module) Function(name string, globals *Namespace) (*Function, error) {
	c, ok := m.Chunks[name]
	if !ok {
		return nil, fmt.Errorf("%s: no function %q", m.Filename, name)
	}
	if len(c.FreeVars) > 0 {
		return nil, fmt.Errorf("%s: function %q has free variables and can only be created by MAKE_FUNCTION", m.Filename, name)
	}
	return NewFunction(c, globals), nil
}

// AsmError locates an assembly error.
type AsmError struct {
	File string
	Line int
	Msg  string
}

func (e *AsmError) Error() string {
	return fmt.Sprintf("%s:%d: %s", e.File, e.Line, e.Msg)
}

type asmLine struct {
	num    int
	fields []string
}

type asmBlock struct {
	name  string
	start int
	body  []asmLine
}

type assembler struct {
	file     string
	blocks   map[string]*asmBlock
	order    []string
	built    map[string]*Chunk
	building map[string]bool
}

// Assemble parses and builds an .exasm source.
//
//	; comment
//	func add_bar
//	    args x
//	    line 3
//	    LOAD_FAST x
//	    LOAD_GLOBAL bar
//	    BINARY_ADD
//	    RETURN_VALUE
//	end
//
// Directives: file NAME LINE, args, locals, cells, freevars, line N.
// Labels end in ':'. LOAD_CONST takes a literal or @block, jumps take a label,
// COMPARE_OP takes an operator, and name/local/cell instructions take the
// identifier. A '#N' operand is used verbatim.
func Assemble(filename string, src []byte) (*Module, error) {
	a := &assembler{
		file:     filename,
		blocks:   make(map[string]*asmBlock),
		built:    make(map[string]*Chunk),
		building: make(map[string]bool),
	}
	if err := a.parse(src); err != nil {
		return nil, err
	}
	m := &Module{Filename: filename, Order: a.order, Chunks: make(map[string]*Chunk)}
	for _, name := range a.order {
		c, err := a.build(name)
		if err != nil {
			return nil, err
		}
		m.Chunks[name] = c
	}
	return m, nil
}

func (a *assembler) errorf(line int, format string, args ...any) error {
	return &AsmError{File: a.file, Line: line, Msg: fmt.Sprintf(format, args...)}
}

func (a *assembler) parse(src []byte) error {
	sc := bufio.NewScanner(bytes.NewReader(src))
	var cur *asmBlock
	num := 0
	for sc.Scan() {
		num++
		fields, err := splitFields(sc.Text())
		if err != nil {
			return a.errorf(num, "%v", err)
		}
		if len(fields) == 0 {
			continue
		}
		switch {
		case fields[0] == "func":
			if cur != nil {
				return a.errorf(num, "func %q inside %q; missing end", strings.Join(fields[1:], " "), cur.name)
			}
			if len(fields) != 2 {
				return a.errorf(num, "usage: func NAME")
			}
			if _, dup := a.blocks[fields[1]]; dup {
				return a.errorf(num, "duplicate func %q", fields[1])
			}
			cur = &asmBlock{name: fields[1], start: num}
			a.blocks[cur.name] = cur
			a.order = append(a.order, cur.name)
		case fields[0] == "end":
			if cur == nil {
				return a.errorf(num, "end outside func")
			}
			cur = nil
		case cur == nil:
			return a.errorf(num, "%q outside func", fields[0])
		default:
			cur.body = append(cur.body, asmLine{num: num, fields: fields})
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("%s: %w", a.file, err)
	}
	if cur != nil {
		return a.errorf(cur.start, "func %q has no end", cur.name)
	}
	return nil
}

// splitFields tokenizes one line, keeping double-quoted strings whole and
// dropping everything after an unquoted ';'.
func splitFields(line string) ([]string, error) {
	var fields []string
	i := 0
	for i < len(line) {
		switch ch := line[i]; {
		case ch == ' ' || ch == '\t':
			i++
		case ch == ';':
			return fields, nil
		case ch == '"':
			j := i + 1
			for j < len(line) && line[j] != '"' {
				if line[j] == '\\' {
					j++
				}
				j++
			}
			if j >= len(line) {
				return nil, fmt.Errorf("unterminated string")
			}
			fields = append(fields, line[i:j+1])
			i = j + 1
		default:
			j := i
			for j < len(line) && line[j] != ' ' && line[j] != '\t' && line[j] != ';' {
				j++
			}
			fields = append(fields, line[i:j])
			i = j
		}
	}
	return fields, nil
}

func (a *assembler) build(name string) (*Chunk, error) {
	if c, ok := a.built[name]; ok {
		return c, nil
	}
	blk := a.blocks[name]
	if a.building[name] {
		return nil, a.errorf(blk.start, "func %q references itself through constants", name)
	}
	a.building[name] = true
	defer delete(a.building, name)

	b := NewBuilder(name).File(a.file, uint32(blk.start))
	for _, ln := range blk.body {
		if err := a.line(b, ln); err != nil {
			return nil, err
		}
	}
	c, err := b.Build()
	if err != nil {
		return nil, a.errorf(blk.start, "%v", err)
	}
	a.built[name] = c
	return c, nil
}

func (a *assembler) line(b *Builder, ln asmLine) error {
	head, args := ln.fields[0], ln.fields[1:]
	switch head {
	case "file":
		if len(args) != 2 {
			return a.errorf(ln.num, "usage: file NAME LINE")
		}
		first, err := strconv.ParseUint(args[1], 10, 32)
		if err != nil {
			return a.errorf(ln.num, "bad line number %q", args[1])
		}
		b.File(args[0], uint32(first))
		return nil
	case "args":
		b.Params(args...)
		return nil
	case "locals":
		for _, l := range args {
			b.Local(l)
		}
		return nil
	case "cells":
		b.CellVars(args...)
		return nil
	case "freevars":
		b.FreeVars(args...)
		return nil
	case "line":
		if len(args) != 1 {
			return a.errorf(ln.num, "usage: line N")
		}
		n, err := strconv.ParseUint(args[0], 10, 32)
		if err != nil {
			return a.errorf(ln.num, "bad line number %q", args[0])
		}
		b.Line(uint32(n))
		return nil
	}

	if strings.HasSuffix(head, ":") && len(args) == 0 {
		b.Label(strings.TrimSuffix(head, ":"))
		return nil
	}

	op, ok := LookupOpcode(head)
	if !ok {
		return a.errorf(ln.num, "unknown instruction %q", head)
	}
	if !op.HasArg() {
		if len(args) != 0 {
			return a.errorf(ln.num, "%s takes no operand", op)
		}
		b.Op(op)
		return nil
	}
	if len(args) != 1 {
		return a.errorf(ln.num, "%s takes exactly one operand", op)
	}
	operand := args[0]
	if strings.HasPrefix(operand, "#") {
		n, err := strconv.Atoi(operand[1:])
		if err != nil || n < 0 {
			return a.errorf(ln.num, "bad raw operand %q", operand)
		}
		b.Emit(op, n)
		return nil
	}

	switch {
	case op.UsesName():
		b.EmitName(op, operand)
	case op.UsesLocal():
		b.EmitLocal(op, operand)
	case op.UsesDeref():
		b.EmitDeref(op, operand)
	case op.IsJump():
		b.EmitJump(op, operand)
	case op == OpLoadConst:
		if strings.HasPrefix(operand, "@") {
			ref := operand[1:]
			if _, ok := a.blocks[ref]; !ok {
				return a.errorf(ln.num, "no func %q", ref)
			}
			nested, err := a.build(ref)
			if err != nil {
				return err
			}
			b.EmitConst(nested)
		} else {
			b.EmitConst(ParseValue(operand))
		}
	case op == OpCompareOp:
		cmp, ok := parseCompare(operand)
		if !ok {
			return a.errorf(ln.num, "unknown comparison %q", operand)
		}
		b.Emit(op, int(cmp))
	case op == OpMakeFunction && operand == "closure":
		b.Emit(op, MakeClosure)
	default:
		n, err := strconv.Atoi(operand)
		if err != nil || n < 0 {
			return a.errorf(ln.num, "%s expects a count, got %q", op, operand)
		}
		b.Emit(op, n)
	}
	return nil
}

func parseCompare(s string) (CompareOp, bool) {
	for i, name := range compareNames {
		if name == s {
			return CompareOp(i), true
		}
	}
	return 0, false
}
