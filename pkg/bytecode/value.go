package bytecode

import (
	"fmt"
	"strconv"
	"strings"
)

// Value is anything the VM can hold on its stack. Supported dynamic types are
// nil, bool, int64, float64, string, Tuple, *Chunk, *Function, *Cell and
// *Builtin.
type Value = any

// Tuple is an immutable sequence of values.
type Tuple []Value

// Builtin is a Go function callable from bytecode.
type Builtin struct {
	Name string
	Fn   func(vm *VM, args []Value) (Value, error)
}

func (b *Builtin) String() string {
	return fmt.Sprintf("<builtin %s>", b.Name)
}

// Truthy reports whether v counts as true in a conditional jump.
func Truthy(v Value) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case int64:
		return x != 0
	case float64:
		return x != 0
	case string:
		return x != ""
	case Tuple:
		return len(x) > 0
	}
	return true
}

// Equal compares two values structurally. Tuples compare element-wise,
// everything else by Go equality after numeric promotion.
func Equal(a, b Value) bool {
	switch x := a.(type) {
	case Tuple:
		y, ok := b.(Tuple)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !Equal(x[i], y[i]) {
				return false
			}
		}
		return true
	case int64:
		switch y := b.(type) {
		case int64:
			return x == y
		case float64:
			return float64(x) == y
		}
		return false
	case float64:
		switch y := b.(type) {
		case int64:
			return x == float64(y)
		case float64:
			return x == y
		}
		return false
	}
	if _, ok := b.(Tuple); ok {
		return false
	}
	return a == b
}

// FormatValue renders v the way disassembly listings and print show it.
func FormatValue(v Value) string {
	switch x := v.(type) {
	case nil:
		return "nil"
	case bool:
		return strconv.FormatBool(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case string:
		return strconv.Quote(x)
	case Tuple:
		parts := make([]string, len(x))
		for i, e := range x {
			parts[i] = FormatValue(e)
		}
		if len(x) == 1 {
			return "(" + parts[0] + ",)"
		}
		return "(" + strings.Join(parts, ", ") + ")"
	case *Chunk:
		return fmt.Sprintf("<code %s>", x.Name)
	case *Function:
		return fmt.Sprintf("<function %s>", x.Name)
	case *Cell:
		return "<cell>"
	case fmt.Stringer:
		return x.String()
	}
	return fmt.Sprintf("%v", v)
}

// TypeName returns a short name for v's dynamic type.
func TypeName(v Value) string {
	switch v.(type) {
	case nil:
		return "nil"
	case bool:
		return "bool"
	case int64:
		return "int"
	case float64:
		return "float"
	case string:
		return "str"
	case Tuple:
		return "tuple"
	case *Chunk:
		return "code"
	case *Function:
		return "function"
	case *Cell:
		return "cell"
	case *Builtin:
		return "builtin"
	}
	return fmt.Sprintf("%T", v)
}

// ParseValue parses a literal as written in assembly and on the command line:
// nil, true, false, integers, floats and double-quoted strings. Anything else
// is taken as a bare string.
func ParseValue(s string) Value {
	switch s {
	case "nil":
		return nil
	case "true":
		return true
	case "false":
		return false
	}
	if i, err := strconv.ParseInt(s, 0, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if len(s) >= 2 && s[0] == '"' {
		if u, err := strconv.Unquote(s); err == nil {
			return u
		}
	}
	return s
}

// Normalize converts Go values produced by decoders (int, uint64, float32,
// []any) into VM values. It returns an error for types the VM cannot hold.
func Normalize(v any) (Value, error) {
	switch x := v.(type) {
	case nil, bool, int64, float64, string, Tuple, *Chunk, *Function, *Cell, *Builtin:
		return x, nil
	case int:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case uint8:
		return int64(x), nil
	case uint16:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case uint64:
		if x > 1<<63-1 {
			return nil, fmt.Errorf("integer %d overflows int64", x)
		}
		return int64(x), nil
	case uint:
		return Normalize(uint64(x))
	case float32:
		return float64(x), nil
	case []any:
		t := make(Tuple, len(x))
		for i, e := range x {
			n, err := Normalize(e)
			if err != nil {
				return nil, err
			}
			t[i] = n
		}
		return t, nil
	}
	return nil, fmt.Errorf("unsupported value type %T", v)
}
