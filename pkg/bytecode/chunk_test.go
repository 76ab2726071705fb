package bytecode

import (
	"strings"
	"testing"
)

func TestChunkFlagsString(t *testing.T) {
	tests := []struct {
		f    ChunkFlags
		want string
	}{
		{0, "0"},
		{FlagOptimized, "OPTIMIZED"},
		{FlagOptimized | FlagNewLocals | FlagNested, "OPTIMIZED|NEWLOCALS|NESTED"},
		{FlagNoFree, "NOFREE"},
	}
	for _, tt := range tests {
		if got := tt.f.String(); got != tt.want {
			t.Errorf("ChunkFlags(%#x).String() = %q, want %q", uint32(tt.f), got, tt.want)
		}
	}
}

func TestChunkDerefName(t *testing.T) {
	c := &Chunk{CellVars: []string{"a"}, FreeVars: []string{"b", "c"}}
	for i, want := range []string{"a", "b", "c"} {
		if got, ok := c.DerefName(i); !ok || got != want {
			t.Errorf("DerefName(%d) = %q, %v", i, got, ok)
		}
	}
	if _, ok := c.DerefName(3); ok {
		t.Error("DerefName(3) should be out of range")
	}
	if _, ok := c.DerefName(-1); ok {
		t.Error("DerefName(-1) should be out of range")
	}
	if c.NumCells() != 3 {
		t.Errorf("NumCells = %d", c.NumCells())
	}
}

func TestChunkLineFor(t *testing.T) {
	c := &Chunk{Lines: []LineEntry{{Offset: 2, Line: 10}, {Offset: 8, Line: 12}}}
	tests := map[int]uint32{0: 0, 2: 10, 6: 10, 8: 12, 100: 12}
	for offset, want := range tests {
		if got := c.LineFor(offset); got != want {
			t.Errorf("LineFor(%d) = %d, want %d", offset, got, want)
		}
	}
}

func TestChunkClone(t *testing.T) {
	c := NewBuilder("f").
		Params("x").
		FreeVars("bar").
		EmitLocal(OpLoadFast, "x").
		EmitName(OpLoadGlobal, "g").
		EmitConst(int64(1)).
		Op(OpReturnValue).
		MustBuild()
	dup := c.Clone()

	dup.Code[0] = byte(OpNop)
	dup.Names[0] = "changed"
	dup.VarNames[0] = "changed"
	dup.FreeVars[0] = "changed"
	dup.Consts[0] = "changed"
	if Opcode(c.Code[0]) != OpLoadFast || c.Names[0] != "g" || c.VarNames[0] != "x" ||
		c.FreeVars[0] != "bar" || c.Consts[0] != int64(1) {
		t.Error("Clone shares tables with the original")
	}
}

func TestChunkValidate(t *testing.T) {
	tests := []struct {
		name string
		c    *Chunk
		want string
	}{
		{"odd length", &Chunk{Name: "f", Code: []byte{byte(OpNop)}}, "not a multiple"},
		{"argcount", &Chunk{Name: "f", ArgCount: 2, VarNames: []string{"a"}}, "argcount"},
		{"negative argcount", &Chunk{Name: "f", ArgCount: -1}, "negative"},
		{"negative stack", &Chunk{Name: "f", StackSize: -1}, "negative"},
		{"unknown opcode", &Chunk{Name: "f", Code: []byte{0xEE, 0}}, "unknown opcode"},
		{"name", &Chunk{Name: "f", Code: []byte{byte(OpLoadGlobal), 0}}, "LOAD_GLOBAL operand 0"},
		{"local", &Chunk{Name: "f", Code: []byte{byte(OpStoreFast), 1}, VarNames: []string{"a"}}, "STORE_FAST operand 1"},
		{"deref", &Chunk{Name: "f", Code: []byte{byte(OpLoadDeref), 1}, CellVars: []string{"c"}}, "LOAD_DEREF operand 1"},
		{"const", &Chunk{Name: "f", Code: []byte{byte(OpLoadConst), 0}}, "LOAD_CONST operand 0"},
		{"jump", &Chunk{Name: "f", Code: []byte{byte(OpJumpAbsolute), 4}}, "JUMP_ABSOLUTE operand 4"},
	}
	for _, tt := range tests {
		err := tt.c.Validate()
		if err == nil || !strings.Contains(err.Error(), tt.want) {
			t.Errorf("%s: got %v, want error mentioning %q", tt.name, err, tt.want)
		}
	}

	ok := &Chunk{Name: "f", Code: []byte{byte(OpJumpAbsolute), 2}}
	if err := ok.Validate(); err != nil {
		t.Errorf("jump to the end of code should validate: %v", err)
	}
}
