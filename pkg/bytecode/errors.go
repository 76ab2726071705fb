package bytecode

import "fmt"

// NameError reports a name that is not bound in the scope it was read from.
type NameError struct {
	Name  string
	Scope string // "global" or "local"
}

func (e *NameError) Error() string {
	if e.Scope == "local" {
		return fmt.Sprintf("local variable %q referenced before assignment", e.Name)
	}
	return fmt.Sprintf("name %q is not defined", e.Name)
}

// UnboundCellError reports a deref load from an empty cell.
type UnboundCellError struct {
	Name string
}

func (e *UnboundCellError) Error() string {
	return fmt.Sprintf("free variable %q referenced before assignment", e.Name)
}

// ArgumentError reports a call with the wrong number of arguments.
type ArgumentError struct {
	Function string
	Want     int
	Got      int
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("%s() takes %d positional arguments but %d were given", e.Function, e.Want, e.Got)
}

// TypeError reports an operation applied to values of the wrong type.
type TypeError struct {
	Msg string
}

func (e *TypeError) Error() string {
	return e.Msg
}

func typeErrorf(format string, args ...any) *TypeError {
	return &TypeError{Msg: fmt.Sprintf(format, args...)}
}

// StackError reports malformed bytecode: stack underflow, an operand outside
// its table, or a call chain deeper than the VM allows.
type StackError struct {
	Msg string
}

func (e *StackError) Error() string {
	return e.Msg
}

// ExecError locates a runtime error inside a chunk.
type ExecError struct {
	Function string
	Offset   int
	Line     uint32
	Err      error
}

func (e *ExecError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s@%04X (line %d): %v", e.Function, e.Offset, e.Line, e.Err)
	}
	return fmt.Sprintf("%s@%04X: %v", e.Function, e.Offset, e.Err)
}

func (e *ExecError) Unwrap() error {
	return e.Err
}
