package promote

import (
	"bytes"
	"errors"
	"slices"
	"testing"

	"github.com/chazu/exalt/pkg/bytecode"
)

func TestPruneNames(t *testing.T) {
	tests := []struct {
		names      []string
		overridden []string
		wantNames  []string
		wantRemap  []int
	}{
		{[]string{"a", "b", "c"}, nil, []string{"a", "b", "c"}, []int{0, 1, 2}},
		{[]string{"a", "b", "c"}, []string{"b"}, []string{"a", "c"}, []int{0, -1, 1}},
		{[]string{"a", "b", "c"}, []string{"a", "c", "zzz"}, []string{"b"}, []int{-1, 0, -1}},
		{nil, []string{"a"}, []string{}, []int{}},
	}
	for _, tt := range tests {
		slots := make(map[string]int)
		for i, n := range tt.overridden {
			slots[n] = i
		}
		names, remap := pruneNames(tt.names, slots)
		if !slices.Equal(names, tt.wantNames) {
			t.Errorf("pruneNames(%v, %v) names = %v, want %v", tt.names, tt.overridden, names, tt.wantNames)
		}
		if !slices.Equal(remap, tt.wantRemap) {
			t.Errorf("pruneNames(%v, %v) remap = %v, want %v", tt.names, tt.overridden, remap, tt.wantRemap)
		}
	}
}

func TestRewriteBytes(t *testing.T) {
	chunk := &bytecode.Chunk{
		Name:  "f",
		Names: []string{"x", "bar", "y"},
		Code: []byte{
			byte(bytecode.OpLoadGlobal), 0,
			byte(bytecode.OpLoadGlobal), 1,
			byte(bytecode.OpLoadGlobal), 2,
			byte(bytecode.OpBuildTuple), 3,
			byte(bytecode.OpReturnValue), 0,
		},
	}
	r, names := newRewriter(chunk, map[string]int{"bar": 0})
	got, err := r.rewrite(chunk.Code)
	if err != nil {
		t.Fatalf("rewrite failed: %v", err)
	}
	want := []byte{
		byte(bytecode.OpLoadGlobal), 0,
		byte(bytecode.OpLoadDeref), 0,
		byte(bytecode.OpLoadGlobal), 1,
		byte(bytecode.OpBuildTuple), 3,
		byte(bytecode.OpReturnValue), 0,
	}
	if !bytes.Equal(got, want) {
		t.Errorf("rewrite = % x\nwant      % x", got, want)
	}
	if !slices.Equal(names, []string{"x", "y"}) {
		t.Errorf("names = %v", names)
	}
}

func TestRewriteLeavesOtherOpcodes(t *testing.T) {
	// LOAD_FAST 1 and LOAD_CONST 1 share the operand of the overridden name.
	chunk := &bytecode.Chunk{
		Name:     "f",
		Names:    []string{"a", "bar"},
		VarNames: []string{"p", "q"},
		Consts:   []bytecode.Value{nil, int64(5)},
		Code: []byte{
			byte(bytecode.OpLoadFast), 1,
			byte(bytecode.OpLoadConst), 1,
			byte(bytecode.OpNop), 1,
			byte(bytecode.OpReturnValue), 0,
		},
	}
	r, _ := newRewriter(chunk, map[string]int{"bar": 0})
	got, err := r.rewrite(chunk.Code)
	if err != nil {
		t.Fatalf("rewrite failed: %v", err)
	}
	if !bytes.Equal(got, chunk.Code) {
		t.Errorf("rewrite changed non-name instructions: % x", got)
	}
}

func TestRewriteKeepsTrailingBytes(t *testing.T) {
	chunk := &bytecode.Chunk{
		Name:  "f",
		Names: []string{"bar"},
		Code: []byte{
			byte(bytecode.OpLoadGlobal), 0,
			byte(bytecode.OpExtendedArg), 1,
			0x7F,
		},
	}
	r, _ := newRewriter(chunk, map[string]int{"bar": 2})
	got, err := r.rewrite(chunk.Code)
	if err != nil {
		t.Fatalf("rewrite failed: %v", err)
	}
	want := []byte{byte(bytecode.OpLoadDeref), 2, byte(bytecode.OpExtendedArg), 1, 0x7F}
	if !bytes.Equal(got, want) {
		t.Errorf("rewrite = % x, want % x", got, want)
	}
}

func TestRewriteWidePrefixReencoded(t *testing.T) {
	names := make([]string, 0x1_02_03+1)
	for i := range names {
		names[i] = "n"
	}
	names[0x1_02_03] = "bar"
	chunk := &bytecode.Chunk{
		Name:  "f",
		Names: names,
		Code: []byte{
			byte(bytecode.OpExtendedArg), 0x01,
			byte(bytecode.OpExtendedArg), 0x02,
			byte(bytecode.OpLoadGlobal), 0x03,
		},
	}
	r, _ := newRewriter(chunk, map[string]int{"bar": 0x1FF})
	got, err := r.rewrite(chunk.Code)
	if err != nil {
		t.Fatalf("rewrite failed: %v", err)
	}
	want := []byte{
		byte(bytecode.OpExtendedArg), 0x00,
		byte(bytecode.OpExtendedArg), 0x01,
		byte(bytecode.OpLoadDeref), 0xFF,
	}
	if !bytes.Equal(got, want) {
		t.Errorf("rewrite = % x, want % x", got, want)
	}
}

func TestCheckWrites(t *testing.T) {
	chunk := &bytecode.Chunk{
		Name:  "f",
		Names: []string{"a", "bar"},
		Code: []byte{
			byte(bytecode.OpLoadGlobal), 1,
			byte(bytecode.OpStoreGlobal), 0,
			byte(bytecode.OpDeleteGlobal), 1,
		},
	}
	if err := checkWrites(chunk, map[string]int{"zzz": 0}); err != nil {
		t.Errorf("unrelated override: %v", err)
	}
	err := checkWrites(chunk, map[string]int{"bar": 0})
	var write *OverriddenWriteError
	if !errors.As(err, &write) {
		t.Fatalf("expected OverriddenWriteError, got %v", err)
	}
	if write.Op != "DELETE_GLOBAL" || write.Offset != 4 {
		t.Errorf("unexpected error fields: %+v", write)
	}
}
