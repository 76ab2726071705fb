package bytecode

import (
	"bytes"
	"fmt"
	"slices"
	"strings"
	"testing"
)

func TestBuilderSimple(t *testing.T) {
	c, err := NewBuilder("add_bar").
		File("lib.exasm", 3).
		Params("x").
		EmitLocal(OpLoadFast, "x").
		EmitName(OpLoadGlobal, "bar").
		Op(OpBinaryAdd).
		Op(OpReturnValue).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	want := []byte{
		byte(OpLoadFast), 0,
		byte(OpLoadGlobal), 0,
		byte(OpBinaryAdd), 0,
		byte(OpReturnValue), 0,
	}
	if !bytes.Equal(c.Code, want) {
		t.Errorf("Code = % x, want % x", c.Code, want)
	}
	if c.ArgCount != 1 || !slices.Equal(c.VarNames, []string{"x"}) {
		t.Errorf("args = %d %v", c.ArgCount, c.VarNames)
	}
	if !slices.Equal(c.Names, []string{"bar"}) {
		t.Errorf("Names = %v", c.Names)
	}
	if c.StackSize != 2 {
		t.Errorf("StackSize = %d, want 2", c.StackSize)
	}
	if c.Flags != FlagOptimized|FlagNewLocals|FlagNoFree {
		t.Errorf("Flags = %s", c.Flags)
	}
	if c.Filename != "lib.exasm" || c.FirstLine != 3 || c.LineFor(0) != 3 {
		t.Errorf("debug info = %q %d %d", c.Filename, c.FirstLine, c.LineFor(0))
	}
}

func TestBuilderInterning(t *testing.T) {
	b := NewBuilder("f")
	if b.Name("a") != 0 || b.Name("b") != 1 || b.Name("a") != 0 {
		t.Error("names are not interned")
	}
	if b.Const(int64(1)) != 0 || b.Const("x") != 1 || b.Const(int64(1)) != 0 {
		t.Error("scalar constants are not interned")
	}
	if b.Const(float64(1)) == 0 {
		t.Error("1.0 must not share a slot with 1")
	}
	t1 := b.Const(Tuple{int64(1)})
	t2 := b.Const(Tuple{int64(1)})
	if t1 == t2 {
		t.Error("tuple constants should get fresh slots")
	}
}

func TestBuilderParamsBeforeLocals(t *testing.T) {
	b := NewBuilder("f")
	b.Local("tmp")
	b.Params("x")
	if _, err := b.Build(); err == nil {
		t.Fatal("expected error for parameters declared after locals")
	}

	_, err := NewBuilder("f").Params("x", "x").Build()
	if err == nil || !strings.Contains(err.Error(), "duplicate parameter") {
		t.Errorf("expected duplicate parameter error, got %v", err)
	}
}

func TestBuilderRejects(t *testing.T) {
	tests := []struct {
		name  string
		build func(b *Builder)
		want  string
	}{
		{"extended arg", func(b *Builder) { b.Emit(OpExtendedArg, 1) }, "inserted automatically"},
		{"unknown opcode", func(b *Builder) { b.Emit(Opcode(0xEE), 0) }, "unknown opcode"},
		{"operand on no-arg", func(b *Builder) { b.Emit(OpPopTop, 1) }, "takes no operand"},
		{"negative operand", func(b *Builder) { b.Emit(OpLoadConst, -1) }, "negative operand"},
		{"name on local op", func(b *Builder) { b.EmitName(OpLoadFast, "x") }, "name operand"},
		{"local on name op", func(b *Builder) { b.EmitLocal(OpLoadGlobal, "x") }, "local operand"},
		{"deref on name op", func(b *Builder) { b.EmitDeref(OpLoadGlobal, "x") }, "cell operand"},
		{"jump on non-jump", func(b *Builder) { b.EmitJump(OpLoadConst, "l") }, "not a jump"},
		{"duplicate label", func(b *Builder) { b.Label("l").Label("l") }, "duplicate label"},
		{"undefined label", func(b *Builder) { b.EmitJump(OpJumpAbsolute, "nowhere") }, "undefined label"},
		{"undeclared cell", func(b *Builder) { b.EmitDeref(OpLoadDeref, "x") }, "undeclared cell"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBuilder("f")
			tt.build(b)
			_, err := b.Build()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want it to mention %q", err, tt.want)
			}
		})
	}
}

func TestBuilderDerefIndexSpace(t *testing.T) {
	c := NewBuilder("f").
		CellVars("own").
		FreeVars("outer", "bar").
		EmitDeref(OpLoadDeref, "bar").
		EmitDeref(OpLoadDeref, "own").
		EmitDeref(OpLoadClosure, "outer").
		Op(OpReturnValue).
		MustBuild()

	ins := Decode(c.Code)
	if ins[0].Arg != 2 || ins[1].Arg != 0 || ins[2].Arg != 1 {
		t.Errorf("deref operands = %d %d %d, want 2 0 1", ins[0].Arg, ins[1].Arg, ins[2].Arg)
	}
	if c.Flags&FlagNested == 0 || c.Flags&FlagNoFree != 0 {
		t.Errorf("Flags = %s", c.Flags)
	}
}

func TestBuilderLabels(t *testing.T) {
	c := NewBuilder("abs").
		Params("x").
		EmitLocal(OpLoadFast, "x").
		EmitConst(int64(0)).
		Emit(OpCompareOp, int(CmpLt)).
		EmitJump(OpPopJumpIfFalse, "done").
		EmitConst(int64(0)).
		EmitLocal(OpLoadFast, "x").
		Op(OpBinarySubtract).
		Op(OpReturnValue).
		Label("done").
		EmitLocal(OpLoadFast, "x").
		Op(OpReturnValue).
		MustBuild()

	ins := Decode(c.Code)
	if ins[3].Op != OpPopJumpIfFalse || ins[3].Arg != 16 {
		t.Errorf("jump = %s %d, want target 16", ins[3].Op, ins[3].Arg)
	}
	if err := c.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestBuilderWideOperands(t *testing.T) {
	b := NewBuilder("wide")
	for i := 0; i < 300; i++ {
		b.Name(fmt.Sprintf("g%d", i))
	}
	b.EmitJump(OpJumpAbsolute, "end")
	b.EmitName(OpLoadGlobal, "g299")
	b.Op(OpPopTop)
	b.Label("end")
	b.EmitConst(nil)
	b.Op(OpReturnValue)
	c := b.MustBuild()

	ins := Decode(c.Code)
	if ins[0].Op != OpJumpAbsolute || ins[0].Arg != 8 {
		t.Errorf("jump = %s %d, want 8", ins[0].Op, ins[0].Arg)
	}
	if ins[1].Op != OpExtendedArg || ins[1].Arg != 1 {
		t.Errorf("prefix = %s %d", ins[1].Op, ins[1].Arg)
	}
	if ins[2].Op != OpLoadGlobal || ins[2].Arg != 299 {
		t.Errorf("load = %s %d, want 299", ins[2].Op, ins[2].Arg)
	}
}

func TestBuilderWideJumpTarget(t *testing.T) {
	// 200 NOPs push the label past 0xFF, which widens the jump and in turn
	// moves the label once more.
	b := NewBuilder("far").EmitJump(OpJumpAbsolute, "end")
	for i := 0; i < 200; i++ {
		b.Op(OpNop)
	}
	b.Label("end").EmitConst(nil).Op(OpReturnValue)
	c := b.MustBuild()

	ins := Decode(c.Code)
	target := 2*UnitSize + 200*UnitSize
	if ins[0].Op != OpExtendedArg || ins[1].Op != OpJumpAbsolute || ins[1].Arg != target {
		t.Fatalf("jump = %s %s %d, want wide jump to %d", ins[0].Op, ins[1].Op, ins[1].Arg, target)
	}
	if Opcode(c.Code[target]) != OpLoadConst {
		t.Errorf("jump target holds %s", Opcode(c.Code[target]))
	}
}

func TestBuilderLineTable(t *testing.T) {
	c := NewBuilder("f").
		File("f.exasm", 10).
		EmitConst(int64(1)).
		Line(11).
		EmitConst(int64(2)).
		Op(OpBinaryAdd).
		Line(12).
		Op(OpReturnValue).
		MustBuild()

	want := []LineEntry{{0, 10}, {2, 11}, {6, 12}}
	if !slices.Equal(c.Lines, want) {
		t.Errorf("Lines = %v, want %v", c.Lines, want)
	}
	if c.LineFor(4) != 11 {
		t.Errorf("LineFor(4) = %d", c.LineFor(4))
	}
}

func TestBuilderStackSize(t *testing.T) {
	c := NewBuilder("f").
		EmitConst(int64(1)).
		EmitConst(int64(2)).
		EmitConst(int64(3)).
		Emit(OpBuildTuple, 3).
		Op(OpReturnValue).
		MustBuild()
	if c.StackSize != 3 {
		t.Errorf("StackSize = %d, want 3", c.StackSize)
	}
}
