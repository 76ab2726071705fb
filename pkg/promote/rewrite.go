package promote

import (
	"github.com/chazu/exalt/pkg/bytecode"
)

// rewriter turns namespace loads of overridden names into deref loads and
// renumbers every other name operand against the pruned names table.
type rewriter struct {
	function string
	names    []string       // original names table
	slots    map[string]int // overridden name -> deref operand
	remap    []int          // original name index -> pruned index, -1 if dropped
}

func newRewriter(chunk *bytecode.Chunk, slots map[string]int) (*rewriter, []string) {
	pruned, remap := pruneNames(chunk.Names, slots)
	return &rewriter{
		function: chunk.Name,
		names:    chunk.Names,
		slots:    slots,
		remap:    remap,
	}, pruned
}

// pruneNames drops overridden names from a names table.
func pruneNames(names []string, slots map[string]int) ([]string, []int) {
	pruned := make([]string, 0, len(names))
	remap := make([]int, len(names))
	for i, name := range names {
		if _, ok := slots[name]; ok {
			remap[i] = -1
			continue
		}
		remap[i] = len(pruned)
		pruned = append(pruned, name)
	}
	return pruned, remap
}

// rewrite returns a patched copy of code. The result has the same length and
// instruction alignment: a rewritten instruction keeps the EXTENDED_ARG
// prefixes it had, re-encoded for the new operand.
func (r *rewriter) rewrite(code []byte) ([]byte, error) {
	out := make([]byte, 0, len(code))
	d := bytecode.NewDecoder(code)
	var prefix []bytecode.Instruction
	for {
		ins, ok := d.Next()
		if !ok {
			break
		}
		if ins.Op == bytecode.OpExtendedArg {
			prefix = append(prefix, ins)
			continue
		}

		op, arg, err := r.patch(ins)
		if err != nil {
			return nil, err
		}
		if op == ins.Op && arg == ins.Arg {
			for _, p := range prefix {
				out = append(out, p.Raw...)
			}
			out = append(out, ins.Raw...)
		} else {
			units := len(prefix) + 1
			enc, ok := bytecode.EncodeInstruction(op, arg, units)
			if !ok {
				start := ins.Offset - len(prefix)*bytecode.UnitSize
				return nil, &OperandOverflowError{Function: r.function, Offset: start, Operand: arg, Units: units}
			}
			out = append(out, enc...)
		}
		prefix = prefix[:0]
	}
	// Dangling prefixes and a partial trailing unit are left as they were.
	for _, p := range prefix {
		out = append(out, p.Raw...)
	}
	return append(out, code[d.Offset():]...), nil
}

func (r *rewriter) patch(ins bytecode.Instruction) (bytecode.Opcode, int, error) {
	if !ins.Op.UsesName() || ins.Arg >= len(r.names) {
		return ins.Op, ins.Arg, nil
	}
	name := r.names[ins.Arg]
	slot, overridden := r.slots[name]
	switch {
	case overridden && ins.Op == bytecode.OpLoadGlobal:
		return bytecode.OpLoadDeref, slot, nil
	case overridden:
		return 0, 0, &OverriddenWriteError{Function: r.function, Name: name, Offset: ins.Offset, Op: ins.Op.String()}
	}
	return ins.Op, r.remap[ins.Arg], nil
}

// checkWrites finds the first STORE_GLOBAL or DELETE_GLOBAL of an overridden
// name.
func checkWrites(chunk *bytecode.Chunk, slots map[string]int) error {
	d := bytecode.NewDecoder(chunk.Code)
	for {
		ins, ok := d.Next()
		if !ok {
			return nil
		}
		if !ins.Op.UsesName() || ins.Op == bytecode.OpLoadGlobal || ins.Arg >= len(chunk.Names) {
			continue
		}
		if name := chunk.Names[ins.Arg]; hasSlot(slots, name) {
			return &OverriddenWriteError{Function: chunk.Name, Name: name, Offset: ins.Offset, Op: ins.Op.String()}
		}
	}
}

func hasSlot(slots map[string]int, name string) bool {
	_, ok := slots[name]
	return ok
}
