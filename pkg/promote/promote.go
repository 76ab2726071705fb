// Package promote rewrites a function so that chosen global reads come from
// values bound at promotion time instead of the function's namespace.
//
// Given
//
//	func foo
//	    LOAD_GLOBAL bar
//	    RETURN_VALUE
//	end
//
// Promote(foo, Override{"bar", int64(10)}) returns a new function whose
// LOAD_GLOBAL bar has become LOAD_DEREF of a cell holding 10, as if foo had
// been written as a closure over bar. The original function is untouched.
package promote

import (
	"maps"
	"slices"

	"github.com/tliron/commonlog"

	"github.com/chazu/exalt/pkg/bytecode"
)

var log = commonlog.GetLogger("exalt.promote")

// Override binds one global name to a value.
type Override struct {
	Name  string
	Value bytecode.Value
}

// Promote returns a copy of fn in which every LOAD_GLOBAL of an overridden name
// reads the override's value from a closure cell. The order of overrides fixes
// the order of the new free variables.
//
// Promote fails, before building anything, if fn or its chunk is nil, if fn
// is already a closure, if two overrides share a name, if an override names a
// local or parameter of fn, or if fn stores to or deletes an overridden global.
func Promote(fn *bytecode.Function, overrides ...Override) (*bytecode.Function, error) {
	if fn == nil || fn.Chunk == nil {
		return nil, ErrNilFunction
	}
	chunk := fn.Chunk
	if fn.IsClosure() {
		return nil, &UnsupportedCallableError{Function: fn.Name, FreeVars: slices.Clone(chunk.FreeVars)}
	}

	// Deref operands index CellVars first, so overrides come after fn's own cells.
	slots := make(map[string]int, len(overrides))
	for i, o := range overrides {
		if _, dup := slots[o.Name]; dup {
			return nil, ErrDuplicateOverride
		}
		slots[o.Name] = len(chunk.CellVars) + i
	}
	for _, o := range overrides {
		if slices.Contains(chunk.VarNames, o.Name) || slices.Contains(chunk.CellVars, o.Name) {
			return nil, &ShadowingError{Function: fn.Name, Name: o.Name}
		}
	}
	if err := checkWrites(chunk, slots); err != nil {
		return nil, err
	}

	r, names := newRewriter(chunk, slots)
	code, err := r.rewrite(chunk.Code)
	if err != nil {
		return nil, err
	}

	promoted := reconstruct(fn, code, names, overrides)
	log.Debugf("promoted %s: %d overrides, names %d -> %d", fn.Name, len(overrides), len(chunk.Names), len(names))
	return promoted, nil
}

// PromoteMap is Promote with overrides taken from a map. Names are bound in
// sorted order.
func PromoteMap(fn *bytecode.Function, overrides map[string]bytecode.Value) (*bytecode.Function, error) {
	list := make([]Override, 0, len(overrides))
	for _, name := range slices.Sorted(maps.Keys(overrides)) {
		list = append(list, Override{Name: name, Value: overrides[name]})
	}
	return Promote(fn, list...)
}
