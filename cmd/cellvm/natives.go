package main

import (
	"fmt"
	"io"

	"github.com/chazu/cellvm/pkg/cell"
	"github.com/chazu/cellvm/vm"
)

// newRegistry returns the builtins plus the host natives scripts use for
// output.
func newRegistry(out io.Writer) (*vm.Registry, error) {
	reg, err := vm.NewBuiltinRegistry()
	if err != nil {
		return nil, err
	}
	if err := reg.RegisterAll(hostNatives(out)); err != nil {
		return nil, err
	}
	return reg, nil
}

func hostNatives(out io.Writer) []vm.NativeInfo {
	return []vm.NativeInfo{
		{Name: "print_int", Func: func(_ vm.NativeContext, params []cell.Cell) (cell.Cell, error) {
			return printArgs(out, params, func(c cell.Cell) string { return fmt.Sprint(int32(c)) })
		}},
		{Name: "print_float", Func: func(_ vm.NativeContext, params []cell.Cell) (cell.Cell, error) {
			return printArgs(out, params, func(c cell.Cell) string { return fmt.Sprint(c.Float()) })
		}},
		{Name: "print_char", Func: func(_ vm.NativeContext, params []cell.Cell) (cell.Cell, error) {
			return printArgs(out, params, func(c cell.Cell) string { return string(rune(c)) })
		}},
		{Name: "print_string", Func: func(ctx vm.NativeContext, params []cell.Cell) (cell.Cell, error) {
			if len(params) < 2 {
				return 0, fmt.Errorf("print_string: expected an address")
			}
			s, err := ctx.ReadString(params[1])
			if err != nil {
				return 0, err
			}
			n, err := io.WriteString(out, s)
			return cell.Cell(n), err
		}},
		{Name: "println", Func: func(vm.NativeContext, []cell.Cell) (cell.Cell, error) {
			_, err := io.WriteString(out, "\n")
			return 0, err
		}},
	}
}

// printArgs writes every argument, space separated, and returns the count.
func printArgs(out io.Writer, params []cell.Cell, format func(cell.Cell) string) (cell.Cell, error) {
	for i, c := range params[1:] {
		if i > 0 {
			if _, err := io.WriteString(out, " "); err != nil {
				return 0, err
			}
		}
		if _, err := io.WriteString(out, format(c)); err != nil {
			return 0, err
		}
	}
	return cell.Cell(len(params) - 1), nil
}
