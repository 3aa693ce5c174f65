// Package cell defines the 32-bit addressable unit of the virtual machine
// and the compact initializer format used for arrays and strings.
//
// A Cell is always moved around as raw bits. The float and double views are
// reinterpretations of those bits, never numeric conversions, so NaN
// payloads and signed zeros survive every load, store and native call.
//
// # Doubles
//
// A double occupies one cell's worth of bits. Inside natives and the
// double pseudo-opcodes the binary32 pattern held by the cell is promoted to
// binary64, the operation is computed in double precision, and the result is
// rounded once back into the cell. The bytecode itself only moves and
// compares cells.
package cell

import "math"

// Size is the width of a cell in bytes.
const Size = 4

// Cell is the fixed-width unit of memory, registers and code.
type Cell int32

// UCell is the unsigned view of a Cell.
type UCell uint32

// FromFloat returns the cell holding the bit pattern of f.
func FromFloat(f float32) Cell {
	return Cell(math.Float32bits(f))
}

// Float reinterprets the cell bits as an IEEE-754 binary32 value.
func (c Cell) Float() float32 {
	return math.Float32frombits(uint32(c))
}

// FromDouble rounds d into a cell.
func FromDouble(d float64) Cell {
	return FromFloat(float32(d))
}

// Double promotes the cell's binary32 bits to binary64.
func (c Cell) Double() float64 {
	return float64(c.Float())
}

// FromBool returns 1 for true and 0 for false.
func FromBool(b bool) Cell {
	if b {
		return 1
	}
	return 0
}

// Unsigned returns the unsigned view of the cell.
func (c Cell) Unsigned() UCell {
	return UCell(c)
}

// Bytes returns the byte length of n cells.
func Bytes(n int) int {
	return n * Size
}
