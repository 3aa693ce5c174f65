package cell

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidArray is returned when an initializer cannot describe an
// addressable array.
var ErrInvalidArray = errors.New("invalid array initializer")

// maxCells is the largest cell count whose byte size still fits a Cell.
const maxCells = math.MaxInt32 / Size

// ArrayData is the compact initializer for an array or string.
//
// IV holds the indirection vectors of every dimension but the last, as
// pre-computed offsets; Data holds the literal cells; Zeroes is the count of
// trailing zero cells that follow Data.
type ArrayData struct {
	IV     []Cell
	Data   []Cell
	Zeroes uint32
}

// NewArrayData validates and builds an initializer.
func NewArrayData(iv, data []Cell, zeroes int) (*ArrayData, error) {
	if zeroes < 0 {
		return nil, fmt.Errorf("%w: negative zero-fill count %d", ErrInvalidArray, zeroes)
	}
	total := uint64(len(iv)) + uint64(len(data)) + uint64(zeroes)
	if total > maxCells {
		return nil, fmt.Errorf("%w: %d cells exceeds addressable size", ErrInvalidArray, total)
	}
	return &ArrayData{IV: iv, Data: data, Zeroes: uint32(zeroes)}, nil
}

// TotalSize returns the number of cells the array occupies once built.
func (a *ArrayData) TotalSize() int {
	return len(a.IV) + len(a.Data) + int(a.Zeroes)
}

// Materialize builds the runtime layout of the array.
func (a *ArrayData) Materialize() []Cell {
	out := make([]Cell, a.TotalSize())
	a.fill(out)
	return out
}

// MaterializeInto builds the array into dst, which must be exactly
// TotalSize cells long.
func (a *ArrayData) MaterializeInto(dst []Cell) error {
	if len(dst) != a.TotalSize() {
		return fmt.Errorf("%w: destination has %d cells, need %d", ErrInvalidArray, len(dst), a.TotalSize())
	}
	a.fill(dst)
	return nil
}

func (a *ArrayData) fill(dst []Cell) {
	n := copy(dst, a.IV)
	n += copy(dst[n:], a.Data)
	clear(dst[n:])
}

// DefaultArrayData is an initializer that doubles as the default value of
// a variable, so it can be replayed after the array was mutated.
type DefaultArrayData struct {
	ArrayData
	IVSize   Cell
	DataSize Cell
}

// NewDefaultArrayData records the vector sizes of ad.
func NewDefaultArrayData(ad *ArrayData) *DefaultArrayData {
	return &DefaultArrayData{
		ArrayData: *ad,
		IVSize:    Cell(len(ad.IV)),
		DataSize:  Cell(len(ad.Data)),
	}
}

// Reset restores dst to the default value. Only IVSize+DataSize cells are
// copied from the template; the remainder is zeroed.
func (d *DefaultArrayData) Reset(dst []Cell) error {
	if len(dst) != d.TotalSize() {
		return fmt.Errorf("%w: destination has %d cells, need %d", ErrInvalidArray, len(dst), d.TotalSize())
	}
	head := int(d.IVSize) + int(d.DataSize)
	if d.IVSize < 0 || d.DataSize < 0 || head > len(d.IV)+len(d.Data) {
		return fmt.Errorf("%w: recorded sizes %d+%d do not match vectors", ErrInvalidArray, d.IVSize, d.DataSize)
	}
	n := copy(dst, d.IV[:min(head, len(d.IV))])
	if rest := head - n; rest > 0 {
		copy(dst[n:], d.Data[:rest])
	}
	clear(dst[head:])
	return nil
}
