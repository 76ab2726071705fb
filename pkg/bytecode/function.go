package bytecode

import (
	"fmt"
	"maps"
	"slices"
)

// Namespace is the global scope a function resolves namespace loads in.
// Functions defined in the same module share one Namespace by pointer.
type Namespace struct {
	Name string
	vars map[string]Value
}

// NewNamespace creates an empty namespace.
func NewNamespace(name string) *Namespace {
	return &Namespace{Name: name, vars: make(map[string]Value)}
}

// Get looks up a global.
func (ns *Namespace) Get(name string) (Value, bool) {
	if ns == nil {
		return nil, false
	}
	v, ok := ns.vars[name]
	return v, ok
}

// Set binds a global.
func (ns *Namespace) Set(name string, v Value) {
	ns.vars[name] = v
}

// Delete removes a global and reports whether it was bound.
func (ns *Namespace) Delete(name string) bool {
	if _, ok := ns.vars[name]; !ok {
		return false
	}
	delete(ns.vars, name)
	return true
}

// Names returns the bound names in sorted order.
func (ns *Namespace) Names() []string {
	return slices.Sorted(maps.Keys(ns.vars))
}

// Len returns the number of bindings.
func (ns *Namespace) Len() int {
	return len(ns.vars)
}

// Function pairs a chunk with the scope it runs in.
type Function struct {
	Name     string
	Chunk    *Chunk
	Globals  *Namespace
	Defaults []Value // Values for the trailing parameters
	Closure  []*Cell // One cell per Chunk.FreeVars entry
}

// NewFunction wraps chunk as a plain, closure-free function.
func NewFunction(chunk *Chunk, globals *Namespace) *Function {
	return &Function{Name: chunk.Name, Chunk: chunk, Globals: globals}
}

// IsClosure reports whether the function captures cells from an enclosing
// scope.
func (fn *Function) IsClosure() bool {
	return len(fn.Closure) > 0 || len(fn.Chunk.FreeVars) > 0
}

func (fn *Function) String() string {
	return fmt.Sprintf("<function %s>", fn.Name)
}

// Call runs the function on a fresh VM.
func (fn *Function) Call(args ...Value) (Value, error) {
	return NewVM().Call(fn, args...)
}
