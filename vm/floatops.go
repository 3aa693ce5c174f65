package vm

import (
	"math"

	"github.com/chazu/cellvm/pkg/cell"
)

// Float and double arithmetic shared by the builtin natives and the
// pseudo-opcodes, so both paths produce identical bit patterns.
//
// A double occupies one cell holding binary32 bits. It is widened to
// float64 for the computation and rounded back once.

func floatCtor(v cell.Cell) cell.Cell { return cell.FromFloat(float32(v)) }
func floatAbs(a cell.Cell) cell.Cell  { return a &^ cell.Cell(math.MinInt32) }
func floatAdd(a, b cell.Cell) cell.Cell {
	return cell.FromFloat(a.Float() + b.Float())
}
func floatSub(a, b cell.Cell) cell.Cell {
	return cell.FromFloat(a.Float() - b.Float())
}
func floatMul(a, b cell.Cell) cell.Cell {
	return cell.FromFloat(a.Float() * b.Float())
}
func floatDiv(a, b cell.Cell) cell.Cell {
	return cell.FromFloat(a.Float() / b.Float())
}
func floatMod(a, b cell.Cell) cell.Cell {
	return cell.FromFloat(float32(math.Mod(float64(a.Float()), float64(b.Float()))))
}

func floatGt(a, b cell.Cell) cell.Cell { return cell.FromBool(a.Float() > b.Float()) }
func floatGe(a, b cell.Cell) cell.Cell { return cell.FromBool(a.Float() >= b.Float()) }
func floatLt(a, b cell.Cell) cell.Cell { return cell.FromBool(a.Float() < b.Float()) }
func floatLe(a, b cell.Cell) cell.Cell { return cell.FromBool(a.Float() <= b.Float()) }
func floatEq(a, b cell.Cell) cell.Cell { return cell.FromBool(a.Float() == b.Float()) }
func floatNe(a, b cell.Cell) cell.Cell { return cell.FromBool(a.Float() != b.Float()) }

// floatNot is 1 for NaN and for either zero.
func floatNot(a cell.Cell) cell.Cell {
	f := a.Float()
	return cell.FromBool(f != f || f == 0)
}

// floatCmp orders two floats as 1, -1 or 0. Unordered operands compare
// equal.
func floatCmp(a, b cell.Cell) cell.Cell {
	return compare(float64(a.Float()), float64(b.Float()))
}

func doubleCtor(v cell.Cell) cell.Cell { return cell.FromDouble(float64(v)) }
func doubleAdd(a, b cell.Cell) cell.Cell {
	return cell.FromDouble(a.Double() + b.Double())
}
func doubleSub(a, b cell.Cell) cell.Cell {
	return cell.FromDouble(a.Double() - b.Double())
}
func doubleMul(a, b cell.Cell) cell.Cell {
	return cell.FromDouble(a.Double() * b.Double())
}
func doubleDiv(a, b cell.Cell) cell.Cell {
	return cell.FromDouble(a.Double() / b.Double())
}
func doubleMod(a, b cell.Cell) cell.Cell {
	return cell.FromDouble(math.Mod(a.Double(), b.Double()))
}

func doubleGt(a, b cell.Cell) cell.Cell { return cell.FromBool(a.Double() > b.Double()) }
func doubleGe(a, b cell.Cell) cell.Cell { return cell.FromBool(a.Double() >= b.Double()) }
func doubleLt(a, b cell.Cell) cell.Cell { return cell.FromBool(a.Double() < b.Double()) }
func doubleLe(a, b cell.Cell) cell.Cell { return cell.FromBool(a.Double() <= b.Double()) }
func doubleEq(a, b cell.Cell) cell.Cell { return cell.FromBool(a.Double() == b.Double()) }
func doubleNe(a, b cell.Cell) cell.Cell { return cell.FromBool(a.Double() != b.Double()) }

func doubleNot(a cell.Cell) cell.Cell {
	d := a.Double()
	return cell.FromBool(math.IsNaN(d) || d == 0)
}

func doubleCmp(a, b cell.Cell) cell.Cell {
	return compare(a.Double(), b.Double())
}

// Width conversions keep the bit pattern: both widths share one cell.
func floatToDouble(a cell.Cell) cell.Cell { return a }
func doubleToFloat(a cell.Cell) cell.Cell { return a }

func compare(a, b float64) cell.Cell {
	switch {
	case a > b:
		return 1
	case a < b:
		return -1
	}
	return 0
}

// Rounding modes used by the float-to-integer pseudo-opcodes.
type roundMode int

const (
	roundNearest roundMode = iota
	roundFloor
	roundCeil
	roundZero
)

// roundToCell converts to an integer cell. NaN and values outside the
// int32 range produce MinInt32.
func roundToCell(f float64, mode roundMode) cell.Cell {
	switch mode {
	case roundNearest:
		f = math.RoundToEven(f)
	case roundFloor:
		f = math.Floor(f)
	case roundCeil:
		f = math.Ceil(f)
	case roundZero:
		f = math.Trunc(f)
	}
	if math.IsNaN(f) || f < math.MinInt32 || f > math.MaxInt32 {
		return math.MinInt32
	}
	return cell.Cell(f)
}
