package promote

import (
	"github.com/chazu/exalt/pkg/bytecode"
)

// promotedFlags are the scoping flags of every promoted chunk: its own locals
// frame, fast locals, and eligibility for closure cells.
const promotedFlags = bytecode.FlagOptimized | bytecode.FlagNewLocals | bytecode.FlagNested

// reconstruct builds the promoted function. fn and its chunk are only read.
func reconstruct(fn *bytecode.Function, code []byte, names []string, overrides []Override) *bytecode.Function {
	chunk := fn.Chunk.Clone()
	chunk.Code = code
	chunk.Names = names
	chunk.FreeVars = make([]string, len(overrides))
	chunk.Flags = promotedFlags

	values := make([]bytecode.Value, len(overrides))
	for i, o := range overrides {
		chunk.FreeVars[i] = o.Name
		values[i] = o.Value
	}
	cells := bytecode.NewCells(values...)

	return &bytecode.Function{
		Name:    fn.Name,
		Chunk:   chunk,
		Globals: fn.Globals,
		Closure: cells,
	}
}
