package bytecode

import (
	"fmt"
	"io"
	"math"
	"os"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/tliron/commonlog"
)

var vmLog = commonlog.GetLogger("exalt.vm")

// DefaultMaxDepth bounds nested calls.
const DefaultMaxDepth = 512

// VM executes functions. A VM is not safe for concurrent use; create one per
// goroutine.
type VM struct {
	// Builtins is consulted when a namespace load misses the function's globals.
	Builtins *Namespace

	// Out receives output from the print builtin.
	Out io.Writer

	MaxDepth int

	// Debug/trace mode
	Trace bool

	depth int
}

// frame is one active call.
type frame struct {
	fn     *Function
	chunk  *Chunk
	locals []Value
	bound  []bool
	cells  []*Cell // CellVars then the function's closure
	stack  []Value
}

// NewVM creates a new VM instance with the default builtins.
func NewVM() *VM {
	vm := &VM{
		Builtins: NewNamespace("builtins"),
		Out:      os.Stdout,
		MaxDepth: DefaultMaxDepth,
	}
	vm.registerBuiltins()
	return vm
}

// Call invokes fn with positional arguments.
func (vm *VM) Call(fn *Function, args ...Value) (Value, error) {
	c := fn.Chunk
	if len(fn.Closure) != len(c.FreeVars) {
		return nil, typeErrorf("%s: closure has %d cells but chunk declares %d free variables",
			fn.Name, len(fn.Closure), len(c.FreeVars))
	}
	required := c.ArgCount - len(fn.Defaults)
	if len(args) > c.ArgCount || len(args) < required {
		return nil, &ArgumentError{Function: fn.Name, Want: c.ArgCount, Got: len(args)}
	}
	if vm.depth >= vm.MaxDepth {
		return nil, &StackError{Msg: fmt.Sprintf("maximum call depth %d exceeded", vm.MaxDepth)}
	}

	f := &frame{
		fn:     fn,
		chunk:  c,
		locals: make([]Value, c.NumLocals()),
		bound:  make([]bool, c.NumLocals()),
		cells:  make([]*Cell, 0, c.NumCells()),
		stack:  make([]Value, 0, max(c.StackSize, 0)),
	}
	for i := 0; i < c.ArgCount; i++ {
		if i < len(args) {
			f.locals[i] = args[i]
		} else {
			f.locals[i] = fn.Defaults[len(fn.Defaults)-(c.ArgCount-i)]
		}
		f.bound[i] = true
	}
	// Parameters captured by inner functions start out in their cell.
	for _, name := range c.CellVars {
		cell := NewEmptyCell()
		if i := slices.Index(c.VarNames[:c.ArgCount], name); i >= 0 {
			cell.Set(f.locals[i])
		}
		f.cells = append(f.cells, cell)
	}
	f.cells = append(f.cells, fn.Closure...)

	vm.depth++
	defer func() { vm.depth-- }()
	return vm.run(f)
}

// CallValue invokes any callable value.
func (vm *VM) CallValue(callee Value, args ...Value) (Value, error) {
	switch fn := callee.(type) {
	case *Function:
		return vm.Call(fn, args...)
	case *Builtin:
		return fn.Fn(vm, args)
	}
	return nil, typeErrorf("%s object is not callable", TypeName(callee))
}

// run is the main execution loop.
func (vm *VM) run(f *frame) (Value, error) {
	code := f.chunk.Code
	ip := 0
	extended := 0

	for ip+UnitSize <= len(code) {
		offset := ip
		op := Opcode(code[ip])
		arg := 0
		if op.HasArg() {
			arg = int(code[ip+1]) | extended
			extended = 0
		}
		ip += UnitSize

		if vm.Trace {
			vmLog.Debugf("[%s %04x] %-18s %-4d sp=%d", f.chunk.Name, offset, op, arg, len(f.stack))
		}

		next, result, done, err := vm.step(f, op, arg, ip)
		if err != nil {
			return nil, &ExecError{Function: f.fn.Name, Offset: offset, Line: f.chunk.LineFor(offset), Err: err}
		}
		if done {
			return result, nil
		}
		if op == OpExtendedArg {
			extended = arg << 8
		}
		ip = next
	}
	return nil, nil
}

// step executes one instruction. It returns the next instruction pointer, and
// the return value when the frame is finished.
func (vm *VM) step(f *frame, op Opcode, arg int, ip int) (int, Value, bool, error) {
	c := f.chunk
	if need := stackNeed(op, arg); len(f.stack) < need {
		return 0, nil, false, &StackError{Msg: fmt.Sprintf("%s needs %d stack values, have %d", op, need, len(f.stack))}
	}

	switch op {
	// ============ Stack Operations ============
	case OpNop, OpExtendedArg:

	case OpPopTop:
		f.pop()

	case OpRotTwo:
		n := len(f.stack)
		f.stack[n-1], f.stack[n-2] = f.stack[n-2], f.stack[n-1]

	case OpDupTop:
		f.push(f.stack[len(f.stack)-1])

	case OpUnaryNot:
		f.push(!Truthy(f.pop()))

	// ============ Arithmetic ============
	case OpBinaryAdd, OpBinarySubtract, OpBinaryMultiply, OpBinaryModulo:
		b := f.pop()
		a := f.pop()
		v, err := binaryOp(op, a, b)
		if err != nil {
			return 0, nil, false, err
		}
		f.push(v)

	case OpBinarySubscr:
		index := f.pop()
		seq := f.pop()
		v, err := subscript(seq, index)
		if err != nil {
			return 0, nil, false, err
		}
		f.push(v)

	case OpCompareOp:
		b := f.pop()
		a := f.pop()
		v, err := compare(CompareOp(arg), a, b)
		if err != nil {
			return 0, nil, false, err
		}
		f.push(v)

	// ============ Constants ============
	case OpLoadConst:
		if arg >= len(c.Consts) {
			return 0, nil, false, operandError(op, arg, len(c.Consts))
		}
		f.push(c.Consts[arg])

	case OpBuildTuple:
		n := len(f.stack)
		t := make(Tuple, arg)
		copy(t, f.stack[n-arg:])
		f.stack = f.stack[:n-arg]
		f.push(t)

	// ============ Namespace ============
	case OpLoadGlobal:
		if arg >= len(c.Names) {
			return 0, nil, false, operandError(op, arg, len(c.Names))
		}
		name := c.Names[arg]
		if v, ok := f.fn.Globals.Get(name); ok {
			f.push(v)
		} else if v, ok := vm.Builtins.Get(name); ok {
			f.push(v)
		} else {
			return 0, nil, false, &NameError{Name: name, Scope: "global"}
		}

	case OpStoreGlobal:
		if arg >= len(c.Names) {
			return 0, nil, false, operandError(op, arg, len(c.Names))
		}
		if f.fn.Globals == nil {
			return 0, nil, false, typeErrorf("%s has no global namespace", f.fn.Name)
		}
		f.fn.Globals.Set(c.Names[arg], f.pop())

	case OpDeleteGlobal:
		if arg >= len(c.Names) {
			return 0, nil, false, operandError(op, arg, len(c.Names))
		}
		if f.fn.Globals == nil || !f.fn.Globals.Delete(c.Names[arg]) {
			return 0, nil, false, &NameError{Name: c.Names[arg], Scope: "global"}
		}

	// ============ Local Variables ============
	case OpLoadFast:
		if arg >= len(f.locals) {
			return 0, nil, false, operandError(op, arg, len(f.locals))
		}
		if !f.bound[arg] {
			return 0, nil, false, &NameError{Name: c.VarNames[arg], Scope: "local"}
		}
		f.push(f.locals[arg])

	case OpStoreFast:
		if arg >= len(f.locals) {
			return 0, nil, false, operandError(op, arg, len(f.locals))
		}
		f.locals[arg] = f.pop()
		f.bound[arg] = true

	// ============ Cells ============
	case OpLoadClosure:
		if arg >= len(f.cells) {
			return 0, nil, false, operandError(op, arg, len(f.cells))
		}
		f.push(f.cells[arg])

	case OpLoadDeref:
		if arg >= len(f.cells) {
			return 0, nil, false, operandError(op, arg, len(f.cells))
		}
		v, ok := f.cells[arg].Get()
		if !ok {
			name, _ := c.DerefName(arg)
			return 0, nil, false, &UnboundCellError{Name: name}
		}
		f.push(v)

	case OpStoreDeref:
		if arg >= len(f.cells) {
			return 0, nil, false, operandError(op, arg, len(f.cells))
		}
		f.cells[arg].Set(f.pop())

	// ============ Control flow ============
	case OpJumpAbsolute:
		return arg, nil, false, nil

	case OpPopJumpIfFalse:
		if !Truthy(f.pop()) {
			return arg, nil, false, nil
		}

	case OpPopJumpIfTrue:
		if Truthy(f.pop()) {
			return arg, nil, false, nil
		}

	// ============ Functions ============
	case OpCallFunction:
		n := len(f.stack)
		args := slices.Clone(f.stack[n-arg:])
		callee := f.stack[n-arg-1]
		f.stack = f.stack[:n-arg-1]
		v, err := vm.CallValue(callee, args...)
		if err != nil {
			return 0, nil, false, err
		}
		f.push(v)

	case OpMakeFunction:
		v, err := f.makeFunction(arg)
		if err != nil {
			return 0, nil, false, err
		}
		f.push(v)

	case OpReturnValue:
		return 0, f.pop(), true, nil

	default:
		return 0, nil, false, &StackError{Msg: fmt.Sprintf("unknown opcode 0x%02X", byte(op))}
	}
	return ip, nil, false, nil
}

func (f *frame) makeFunction(arg int) (*Function, error) {
	chunk, ok := f.pop().(*Chunk)
	if !ok {
		return nil, typeErrorf("MAKE_FUNCTION expects a code constant")
	}
	fn := NewFunction(chunk, f.fn.Globals)
	if arg&MakeClosure != 0 {
		t, ok := f.pop().(Tuple)
		if !ok {
			return nil, typeErrorf("MAKE_FUNCTION closure must be a tuple of cells")
		}
		fn.Closure = make([]*Cell, len(t))
		for i, v := range t {
			cell, ok := v.(*Cell)
			if !ok {
				return nil, typeErrorf("MAKE_FUNCTION closure element %d is %s, not cell", i, TypeName(v))
			}
			fn.Closure[i] = cell
		}
	}
	if len(fn.Closure) != len(chunk.FreeVars) {
		return nil, typeErrorf("%s expects %d closure cells, got %d", chunk.Name, len(chunk.FreeVars), len(fn.Closure))
	}
	return fn, nil
}

func (f *frame) push(v Value) {
	f.stack = append(f.stack, v)
}

func (f *frame) pop() Value {
	n := len(f.stack) - 1
	v := f.stack[n]
	f.stack[n] = nil
	f.stack = f.stack[:n]
	return v
}

// stackNeed returns how many values op consumes.
func stackNeed(op Opcode, arg int) int {
	switch op {
	case OpBuildTuple:
		return arg
	case OpCallFunction:
		return arg + 1
	case OpMakeFunction:
		if arg&MakeClosure != 0 {
			return 2
		}
		return 1
	}
	return GetOpcodeInfo(op).StackPop
}

func operandError(op Opcode, arg, limit int) error {
	return &StackError{Msg: fmt.Sprintf("%s operand %d out of range (%d)", op, arg, limit)}
}

func binaryOp(op Opcode, a, b Value) (Value, error) {
	switch x := a.(type) {
	case int64:
		switch y := b.(type) {
		case int64:
			switch op {
			case OpBinaryAdd:
				return x + y, nil
			case OpBinarySubtract:
				return x - y, nil
			case OpBinaryMultiply:
				return x * y, nil
			case OpBinaryModulo:
				if y == 0 {
					return nil, typeErrorf("integer modulo by zero")
				}
				m := x % y
				if m != 0 && (m < 0) != (y < 0) {
					m += y
				}
				return m, nil
			}
		case float64:
			return floatOp(op, float64(x), y)
		}
	case float64:
		switch y := b.(type) {
		case int64:
			return floatOp(op, x, float64(y))
		case float64:
			return floatOp(op, x, y)
		}
	case string:
		if y, ok := b.(string); ok && op == OpBinaryAdd {
			return x + y, nil
		}
		if y, ok := b.(int64); ok && op == OpBinaryMultiply && y >= 0 {
			return strings.Repeat(x, int(y)), nil
		}
	case Tuple:
		if y, ok := b.(Tuple); ok && op == OpBinaryAdd {
			return append(slices.Clone(x), y...), nil
		}
	}
	return nil, typeErrorf("unsupported operand types for %s: %s and %s", op, TypeName(a), TypeName(b))
}

func floatOp(op Opcode, x, y float64) (Value, error) {
	switch op {
	case OpBinaryAdd:
		return x + y, nil
	case OpBinarySubtract:
		return x - y, nil
	case OpBinaryMultiply:
		return x * y, nil
	case OpBinaryModulo:
		if y == 0 {
			return nil, typeErrorf("float modulo by zero")
		}
		m := math.Mod(x, y)
		if m != 0 && (m < 0) != (y < 0) {
			m += y
		}
		return m, nil
	}
	return nil, typeErrorf("unsupported float operation %s", op)
}

func subscript(seq, index Value) (Value, error) {
	i, ok := index.(int64)
	if !ok {
		return nil, typeErrorf("indices must be integers, not %s", TypeName(index))
	}
	switch s := seq.(type) {
	case Tuple:
		if i = normIndex(i, len(s)); i < 0 {
			return nil, typeErrorf("index %d out of range", index)
		}
		return s[i], nil
	case string:
		r := []rune(s)
		if i = normIndex(i, len(r)); i < 0 {
			return nil, typeErrorf("index %d out of range", index)
		}
		return string(r[i]), nil
	}
	return nil, typeErrorf("%s object is not subscriptable", TypeName(seq))
}

// normIndex resolves a negative index against n. It returns -1 when i is
// out of range.
func normIndex(i int64, n int) int64 {
	if i < 0 {
		i += int64(n)
	}
	if i < 0 || i >= int64(n) {
		return -1
	}
	return i
}

func compare(cmp CompareOp, a, b Value) (Value, error) {
	switch cmp {
	case CmpEq:
		return Equal(a, b), nil
	case CmpNe:
		return !Equal(a, b), nil
	}
	var order int
	switch x := a.(type) {
	case int64, float64:
		fx, fy, ok := asFloats(x, b)
		if !ok {
			return nil, typeErrorf("%s not supported between %s and %s", cmp, TypeName(a), TypeName(b))
		}
		order = cmpFloat(fx, fy)
	case string:
		y, ok := b.(string)
		if !ok {
			return nil, typeErrorf("%s not supported between %s and %s", cmp, TypeName(a), TypeName(b))
		}
		order = strings.Compare(x, y)
	default:
		return nil, typeErrorf("%s not supported between %s and %s", cmp, TypeName(a), TypeName(b))
	}
	switch cmp {
	case CmpLt:
		return order < 0, nil
	case CmpLe:
		return order <= 0, nil
	case CmpGt:
		return order > 0, nil
	case CmpGe:
		return order >= 0, nil
	}
	return nil, typeErrorf("unknown comparison %d", cmp)
}

func asFloats(a, b Value) (float64, float64, bool) {
	toFloat := func(v Value) (float64, bool) {
		switch n := v.(type) {
		case int64:
			return float64(n), true
		case float64:
			return n, true
		}
		return 0, false
	}
	x, ok1 := toFloat(a)
	y, ok2 := toFloat(b)
	return x, y, ok1 && ok2
}

func cmpFloat(x, y float64) int {
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	}
	return 0
}

func (vm *VM) registerBuiltins() {
	vm.Builtins.Set("len", &Builtin{Name: "len", Fn: func(vm *VM, args []Value) (Value, error) {
		if len(args) != 1 {
			return nil, &ArgumentError{Function: "len", Want: 1, Got: len(args)}
		}
		switch s := args[0].(type) {
		case string:
			return int64(utf8.RuneCountInString(s)), nil
		case Tuple:
			return int64(len(s)), nil
		}
		return nil, typeErrorf("object of type %s has no len()", TypeName(args[0]))
	}})
	vm.Builtins.Set("str", &Builtin{Name: "str", Fn: func(vm *VM, args []Value) (Value, error) {
		if len(args) != 1 {
			return nil, &ArgumentError{Function: "str", Want: 1, Got: len(args)}
		}
		if s, ok := args[0].(string); ok {
			return s, nil
		}
		return FormatValue(args[0]), nil
	}})
	vm.Builtins.Set("print", &Builtin{Name: "print", Fn: func(vm *VM, args []Value) (Value, error) {
		parts := make([]string, len(args))
		for i, a := range args {
			if s, ok := a.(string); ok {
				parts[i] = s
			} else {
				parts[i] = FormatValue(a)
			}
		}
		_, err := fmt.Fprintln(vm.Out, strings.Join(parts, " "))
		return nil, err
	}})
}
