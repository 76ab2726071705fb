package bytecode

// Instruction is a decoded view of one unit in a code section.
type Instruction struct {
	Offset int    // Byte offset of the unit
	Op     Opcode // Opcode byte of the unit
	Arg    int    // Fully assembled operand, including EXTENDED_ARG prefixes
	HasArg bool   // False when Op takes no operand; Arg is then 0
	Raw    []byte // The UnitSize bytes as encoded
}

// Decoder walks a code section one unit at a time. It is lazy and can only be
// consumed once. A trailing partial unit is not decoded.
type Decoder struct {
	code     []byte
	pos      int
	extended int
}

// NewDecoder returns a decoder positioned at the start of code.
func NewDecoder(code []byte) *Decoder {
	return &Decoder{code: code}
}

// Next decodes the next instruction. It returns false once the code section is
// exhausted.
func (d *Decoder) Next() (Instruction, bool) {
	if d.pos+UnitSize > len(d.code) {
		return Instruction{}, false
	}
	ins := Instruction{
		Offset: d.pos,
		Op:     Opcode(d.code[d.pos]),
		Raw:    d.code[d.pos : d.pos+UnitSize : d.pos+UnitSize],
	}
	if ins.Op.HasArg() {
		ins.HasArg = true
		ins.Arg = int(d.code[d.pos+1]) | d.extended
		if ins.Op == OpExtendedArg {
			d.extended = ins.Arg << 8
		} else {
			d.extended = 0
		}
	}
	d.pos += UnitSize
	return ins, true
}

// Offset returns the byte offset of the next unit.
func (d *Decoder) Offset() int {
	return d.pos
}

// Decode collects every instruction in code.
func Decode(code []byte) []Instruction {
	out := make([]Instruction, 0, len(code)/UnitSize)
	d := NewDecoder(code)
	for {
		ins, ok := d.Next()
		if !ok {
			return out
		}
		out = append(out, ins)
	}
}

// EncodeInstruction encodes op/arg into exactly units instruction units,
// spending units-1 EXTENDED_ARG prefixes on the high bytes. It returns false
// if arg does not fit.
func EncodeInstruction(op Opcode, arg int, units int) ([]byte, bool) {
	if units < 1 || arg < 0 {
		return nil, false
	}
	if units < 8 && arg >= 1<<(8*units) {
		return nil, false
	}
	if !op.HasArg() && (arg != 0 || units != 1) {
		return nil, false
	}
	out := make([]byte, 0, units*UnitSize)
	for i := units - 1; i > 0; i-- {
		out = append(out, byte(OpExtendedArg), byte(arg>>(8*i)))
	}
	return append(out, byte(op), byte(arg)), true
}

// UnitsFor returns how many units it takes to encode arg.
func UnitsFor(arg int) int {
	n := 1
	for arg > 0xFF {
		arg >>= 8
		n++
	}
	return n
}
