package vm

import (
	"fmt"

	"github.com/chazu/cellvm/pkg/cell"
)

// BuiltinNatives returns the float and double natives every registry
// created by NewBuiltinRegistry carries.
func BuiltinNatives() []NativeInfo {
	return []NativeInfo{
		// 32-bit floating point
		{"__float_ctor", unaryNative(floatCtor)},
		{"__float_double", unaryNative(floatToDouble)},
		{"__float_mul", binaryNative(floatMul)},
		{"__float_div", binaryNative(floatDiv)},
		{"__float_mod", binaryNative(floatMod)},
		{"__float_add", binaryNative(floatAdd)},
		{"__float_sub", binaryNative(floatSub)},
		{"__float_gt", binaryNative(floatGt)},
		{"__float_ge", binaryNative(floatGe)},
		{"__float_lt", binaryNative(floatLt)},
		{"__float_le", binaryNative(floatLe)},
		{"__float_eq", binaryNative(floatEq)},
		{"__float_ne", binaryNative(floatNe)},
		{"__float_not", unaryNative(floatNot)},

		// 64-bit floating point
		{"__double_ctor", unaryNative(doubleCtor)},
		{"__double_float", unaryNative(doubleToFloat)},
		{"__double_mul", binaryNative(doubleMul)},
		{"__double_div", binaryNative(doubleDiv)},
		{"__double_mod", binaryNative(doubleMod)},
		{"__double_add", binaryNative(doubleAdd)},
		{"__double_sub", binaryNative(doubleSub)},
		{"__double_gt", binaryNative(doubleGt)},
		{"__double_ge", binaryNative(doubleGe)},
		{"__double_lt", binaryNative(doubleLt)},
		{"__double_le", binaryNative(doubleLe)},
		{"__double_eq", binaryNative(doubleEq)},
		{"__double_ne", binaryNative(doubleNe)},
		{"__double_not", unaryNative(doubleNot)},
	}
}

// NewBuiltinRegistry creates a registry holding the builtin natives.
func NewBuiltinRegistry() (*Registry, error) {
	r := NewRegistry()
	if err := r.RegisterAll(BuiltinNatives()); err != nil {
		return nil, err
	}
	return r, nil
}

func unaryNative(op func(cell.Cell) cell.Cell) NativeFunc {
	return func(_ NativeContext, params []cell.Cell) (cell.Cell, error) {
		if err := checkArgs(params, 1); err != nil {
			return 0, err
		}
		return op(params[1]), nil
	}
}

func binaryNative(op func(a, b cell.Cell) cell.Cell) NativeFunc {
	return func(_ NativeContext, params []cell.Cell) (cell.Cell, error) {
		if err := checkArgs(params, 2); err != nil {
			return 0, err
		}
		return op(params[1], params[2]), nil
	}
}

func checkArgs(params []cell.Cell, want int) error {
	if len(params) == 0 || int(params[0]) < want || len(params) < want+1 {
		return fmt.Errorf("expected %d arguments, got %v", want, argc(params))
	}
	return nil
}

func argc(params []cell.Cell) any {
	if len(params) == 0 {
		return "none"
	}
	return params[0]
}
