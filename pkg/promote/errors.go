package promote

import (
	"errors"
	"fmt"
	"strings"
)

// ErrDuplicateOverride is returned when the same name is overridden twice.
var ErrDuplicateOverride = errors.New("promote: duplicate override name")

// ErrNilFunction is returned when there is no function or chunk to promote.
var ErrNilFunction = errors.New("promote: nil function or chunk")

// UnsupportedCallableError rejects a target that already closes over cells
// from an enclosing scope.
type UnsupportedCallableError struct {
	Function string
	FreeVars []string
}

func (e *UnsupportedCallableError) Error() string {
	return fmt.Sprintf("closures that reference cells are not supported (%s, free: %s)",
		e.Function, strings.Join(e.FreeVars, ", "))
}

// ShadowingError rejects an override that names a local variable or parameter
// of the target.
type ShadowingError struct {
	Function string
	Name     string
}

func (e *ShadowingError) Error() string {
	return fmt.Sprintf("shadowing local %q of %s is not supported", e.Name, e.Function)
}

// OverriddenWriteError rejects a target that stores to or deletes a global it
// is asked to override. Only loads are rewritten.
type OverriddenWriteError struct {
	Function string
	Name     string
	Offset   int
	Op       string
}

func (e *OverriddenWriteError) Error() string {
	return fmt.Sprintf("%s@%04X: %s writes overridden name %q", e.Function, e.Offset, e.Op, e.Name)
}

// OperandOverflowError reports a rewritten operand that no longer fits the
// width of the instruction it replaces.
type OperandOverflowError struct {
	Function string
	Offset   int
	Operand  int
	Units    int
}

func (e *OperandOverflowError) Error() string {
	return fmt.Sprintf("%s@%04X: operand %d does not fit in %d instruction units", e.Function, e.Offset, e.Operand, e.Units)
}
