package bytecode

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// WireVersion is the current .exbc format version.
// Increment when making incompatible changes to the format.
const WireVersion uint16 = 1

// cborEncMode uses canonical mode for deterministic encoding, so equal chunks
// always serialize to equal bytes.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("bytecode: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

type wireChunk struct {
	Version   uint16      `cbor:"v"`
	Name      string      `cbor:"name"`
	Filename  string      `cbor:"file,omitempty"`
	FirstLine uint32      `cbor:"firstline,omitempty"`
	Code      []byte      `cbor:"code"`
	Consts    []wireConst `cbor:"consts,omitempty"`
	Names     []string    `cbor:"names,omitempty"`
	VarNames  []string    `cbor:"varnames,omitempty"`
	CellVars  []string    `cbor:"cellvars,omitempty"`
	FreeVars  []string    `cbor:"freevars,omitempty"`
	ArgCount  int         `cbor:"argc"`
	StackSize int         `cbor:"stack"`
	Flags     uint32      `cbor:"flags"`
	Lines     []wireLine  `cbor:"lines,omitempty"`
}

type wireLine struct {
	Offset uint32 `cbor:"o"`
	Line   uint32 `cbor:"l"`
}

// Constant kinds. Every constant carries its kind so integers come back as
// int64 rather than whatever CBOR's generic decoding prefers.
const (
	kindNil uint8 = iota
	kindBool
	kindInt
	kindFloat
	kindString
	kindTuple
	kindCode
)

type wireConst struct {
	Kind  uint8       `cbor:"k"`
	Bool  bool        `cbor:"b,omitempty"`
	Int   int64       `cbor:"i,omitempty"`
	Float float64     `cbor:"f,omitempty"`
	Str   string      `cbor:"s,omitempty"`
	Tuple []wireConst `cbor:"t,omitempty"`
	Code  *wireChunk  `cbor:"c,omitempty"`
}

// MarshalChunk serializes a Chunk, nested code constants included, to CBOR.
func MarshalChunk(c *Chunk) ([]byte, error) {
	w, err := toWireChunk(c, 0)
	if err != nil {
		return nil, err
	}
	return cborEncMode.Marshal(w)
}

// UnmarshalChunk deserializes and validates a Chunk from CBOR bytes.
func UnmarshalChunk(data []byte) (*Chunk, error) {
	var w wireChunk
	if err := cbor.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("bytecode: unmarshal chunk: %w", err)
	}
	c, err := fromWireChunk(&w, 0)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// maxNesting bounds code-in-code recursion on both encode and decode.
const maxNesting = 64

func toWireChunk(c *Chunk, depth int) (*wireChunk, error) {
	if depth > maxNesting {
		return nil, fmt.Errorf("bytecode: %s: code constants nested deeper than %d", c.Name, maxNesting)
	}
	w := &wireChunk{
		Version:   WireVersion,
		Name:      c.Name,
		Filename:  c.Filename,
		FirstLine: c.FirstLine,
		Code:      c.Code,
		Names:     c.Names,
		VarNames:  c.VarNames,
		CellVars:  c.CellVars,
		FreeVars:  c.FreeVars,
		ArgCount:  c.ArgCount,
		StackSize: c.StackSize,
		Flags:     uint32(c.Flags),
	}
	for _, l := range c.Lines {
		w.Lines = append(w.Lines, wireLine{Offset: l.Offset, Line: l.Line})
	}
	for i, v := range c.Consts {
		wc, err := toWireConst(v, depth)
		if err != nil {
			return nil, fmt.Errorf("bytecode: %s: constant %d: %w", c.Name, i, err)
		}
		w.Consts = append(w.Consts, wc)
	}
	return w, nil
}

func toWireConst(v Value, depth int) (wireConst, error) {
	switch x := v.(type) {
	case nil:
		return wireConst{Kind: kindNil}, nil
	case bool:
		return wireConst{Kind: kindBool, Bool: x}, nil
	case int64:
		return wireConst{Kind: kindInt, Int: x}, nil
	case float64:
		return wireConst{Kind: kindFloat, Float: x}, nil
	case string:
		return wireConst{Kind: kindString, Str: x}, nil
	case Tuple:
		wc := wireConst{Kind: kindTuple, Tuple: make([]wireConst, len(x))}
		for i, e := range x {
			we, err := toWireConst(e, depth)
			if err != nil {
				return wireConst{}, err
			}
			wc.Tuple[i] = we
		}
		return wc, nil
	case *Chunk:
		wch, err := toWireChunk(x, depth+1)
		if err != nil {
			return wireConst{}, err
		}
		return wireConst{Kind: kindCode, Code: wch}, nil
	}
	return wireConst{}, fmt.Errorf("%s values cannot be serialized", TypeName(v))
}

func fromWireChunk(w *wireChunk, depth int) (*Chunk, error) {
	if depth > maxNesting {
		return nil, fmt.Errorf("bytecode: %s: code constants nested deeper than %d", w.Name, maxNesting)
	}
	if w.Version > WireVersion {
		return nil, fmt.Errorf("bytecode: %s: format version %d is newer than supported version %d", w.Name, w.Version, WireVersion)
	}
	c := &Chunk{
		Name:      w.Name,
		Filename:  w.Filename,
		FirstLine: w.FirstLine,
		Code:      w.Code,
		Names:     w.Names,
		VarNames:  w.VarNames,
		CellVars:  w.CellVars,
		FreeVars:  w.FreeVars,
		ArgCount:  w.ArgCount,
		StackSize: w.StackSize,
		Flags:     ChunkFlags(w.Flags),
	}
	for _, l := range w.Lines {
		c.Lines = append(c.Lines, LineEntry{Offset: l.Offset, Line: l.Line})
	}
	for i, wc := range w.Consts {
		v, err := fromWireConst(wc, depth)
		if err != nil {
			return nil, fmt.Errorf("bytecode: %s: constant %d: %w", w.Name, i, err)
		}
		c.Consts = append(c.Consts, v)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("bytecode: %w", err)
	}
	return c, nil
}

func fromWireConst(wc wireConst, depth int) (Value, error) {
	switch wc.Kind {
	case kindNil:
		return nil, nil
	case kindBool:
		return wc.Bool, nil
	case kindInt:
		return wc.Int, nil
	case kindFloat:
		return wc.Float, nil
	case kindString:
		return wc.Str, nil
	case kindTuple:
		t := make(Tuple, len(wc.Tuple))
		for i, e := range wc.Tuple {
			v, err := fromWireConst(e, depth)
			if err != nil {
				return nil, err
			}
			t[i] = v
		}
		return t, nil
	case kindCode:
		if wc.Code == nil {
			return nil, fmt.Errorf("code constant without body")
		}
		return fromWireChunk(wc.Code, depth+1)
	}
	return nil, fmt.Errorf("unknown constant kind %d", wc.Kind)
}
