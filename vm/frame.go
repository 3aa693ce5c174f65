package vm

import (
	"fmt"
	"strings"

	"github.com/chazu/cellvm/pkg/cell"
)

// Registers is the register file of an instance.
type Registers struct {
	PRI cell.Cell // Primary accumulator
	ALT cell.Cell // Alternate accumulator
	CIP cell.Cell // Code address of the next instruction
	FRM cell.Cell // Frame base
	STK cell.Cell // Stack top, grows down
	HEA cell.Cell // Heap top, grows up
	STP cell.Cell // Stack base, the end of memory
}

// Frame records one active function call. The same values live on the
// stack; the frame arena is used to cross-check them on return and to
// produce backtraces.
type Frame struct {
	Entry     cell.Cell // Address of the proc instruction
	FRM       cell.Cell
	SavedFRM  cell.Cell
	ReturnCIP cell.Cell
	Argc      cell.Cell // Argument count in cells
	SavedHeap cell.Cell
}

// Fault is a snapshot of an instance taken when an invocation failed.
type Fault struct {
	Instance  string      `cbor:"1,keyasint"`
	Program   string      `cbor:"2,keyasint"`
	Error     string      `cbor:"3,keyasint"`
	Type      string      `cbor:"4,keyasint,omitempty"`
	Offset    int         `cbor:"5,keyasint"`
	Op        string      `cbor:"6,keyasint,omitempty"`
	Registers Registers   `cbor:"7,keyasint"`
	Backtrace []Frame     `cbor:"8,keyasint"`
	Stack     []cell.Cell `cbor:"9,keyasint,omitempty"`
}

// String renders the fault with a backtrace, innermost frame first.
func (f *Fault) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s: %s\n", f.Program, f.Error)
	fmt.Fprintf(&sb, "  PRI=%d ALT=%d CIP=0x%04X FRM=0x%X STK=0x%X HEA=0x%X\n",
		f.Registers.PRI, f.Registers.ALT, f.Registers.CIP, f.Registers.FRM, f.Registers.STK, f.Registers.HEA)
	for i := len(f.Backtrace) - 1; i >= 0; i-- {
		fr := f.Backtrace[i]
		fmt.Fprintf(&sb, "  #%d func 0x%04X argc=%d return 0x%04X\n", len(f.Backtrace)-1-i, fr.Entry, fr.Argc, fr.ReturnCIP)
	}
	return sb.String()
}
