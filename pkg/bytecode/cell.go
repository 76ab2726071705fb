package bytecode

// Cell is a single-slot mutable box through which a chunk reads a variable
// owned by some other scope. Cells are shared by pointer: a write through one
// holder is visible to every other.
type Cell struct {
	value Value
	bound bool
}

// NewCell returns a cell holding v.
func NewCell(v Value) *Cell {
	return &Cell{value: v, bound: true}
}

// NewEmptyCell returns an unbound cell.
func NewEmptyCell() *Cell {
	return &Cell{}
}

// Get returns the cell's value and whether it is bound.
func (c *Cell) Get() (Value, bool) {
	if c == nil {
		return nil, false
	}
	return c.value, c.bound
}

// Set binds v.
func (c *Cell) Set(v Value) {
	c.value = v
	c.bound = true
}

// Clear unbinds the cell.
func (c *Cell) Clear() {
	c.value = nil
	c.bound = false
}

// NewCells builds one fresh cell per value, in order.
func NewCells(values ...Value) []*Cell {
	cells := make([]*Cell, len(values))
	for i, v := range values {
		cells[i] = NewCell(v)
	}
	return cells
}
