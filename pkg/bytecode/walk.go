package bytecode

import (
	"fmt"

	"github.com/chazu/cellvm/pkg/cell"
)

// DecodeError reports an instruction stream that cannot be decoded.
type DecodeError struct {
	Offset int       // Byte offset of the offending instruction
	Value  cell.Cell // The opcode cell found there
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode error at 0x%04X (cell %d): %s", e.Offset, e.Value, e.Reason)
}

// Instruction is one decoded instruction.
type Instruction struct {
	Offset   int // Byte offset of the opcode cell
	Op       Opcode
	Operands []cell.Cell
}

// Cells returns the instruction length in cells, opcode included.
func (in Instruction) Cells() int {
	return 1 + len(in.Operands)
}

// Next returns the byte offset of the following instruction.
func (in Instruction) Next() int {
	return in.Offset + cell.Bytes(in.Cells())
}

// CaseTable is the decoded form of a casetbl instruction.
type CaseTable struct {
	Default cell.Cell
	Cases   []Case
}

// Case is one value/target pair of a casetbl.
type Case struct {
	Value  cell.Cell
	Target cell.Cell
}

// CaseTable decodes a casetbl instruction. ok is false for any other opcode.
func (in Instruction) CaseTable() (CaseTable, bool) {
	if in.Op != OpCaseTbl || len(in.Operands) < 2 {
		return CaseTable{}, false
	}
	n := int(in.Operands[0])
	ct := CaseTable{Default: in.Operands[1], Cases: make([]Case, n)}
	for i := 0; i < n; i++ {
		ct.Cases[i] = Case{Value: in.Operands[2+2*i], Target: in.Operands[3+2*i]}
	}
	return ct, true
}

// InstructionCells returns the length in cells of the instruction starting
// at cell index pc, including the opcode cell.
func InstructionCells(code []cell.Cell, pc int) (int, error) {
	if pc < 0 || pc >= len(code) {
		return 0, &DecodeError{Offset: cell.Bytes(pc), Reason: "offset outside code"}
	}
	op, ok := FromCell(code[pc])
	if !ok {
		return 0, &DecodeError{Offset: cell.Bytes(pc), Value: code[pc], Reason: "unknown opcode"}
	}

	n := op.Operands()
	if n == VariableOperands {
		if pc+1 >= len(code) {
			return 0, &DecodeError{Offset: cell.Bytes(pc), Value: code[pc], Reason: "truncated casetbl"}
		}
		count := code[pc+1]
		if count < 0 || int(count) > (len(code)-pc)/2 {
			return 0, &DecodeError{Offset: cell.Bytes(pc), Value: code[pc], Reason: fmt.Sprintf("bad casetbl count %d", count)}
		}
		n = 2 + 2*int(count)
	}
	if pc+1+n > len(code) {
		return 0, &DecodeError{Offset: cell.Bytes(pc), Value: code[pc], Reason: fmt.Sprintf("truncated %s", op)}
	}
	return 1 + n, nil
}

// DecodeAt decodes the instruction at cell index pc. The operand slice
// aliases code.
func DecodeAt(code []cell.Cell, pc int) (Instruction, error) {
	n, err := InstructionCells(code, pc)
	if err != nil {
		return Instruction{}, err
	}
	return Instruction{
		Offset:   cell.Bytes(pc),
		Op:       Opcode(uint32(code[pc])),
		Operands: code[pc+1 : pc+n],
	}, nil
}

// Walk decodes every instruction in order, stopping at the first error
// from the stream or from fn.
func Walk(code []cell.Cell, fn func(Instruction) error) error {
	for pc := 0; pc < len(code); {
		in, err := DecodeAt(code, pc)
		if err != nil {
			return err
		}
		if err := fn(in); err != nil {
			return err
		}
		pc += in.Cells()
	}
	return nil
}

// InstructionCount returns the number of instructions in code.
func InstructionCount(code []cell.Cell) (int, error) {
	count := 0
	err := Walk(code, func(Instruction) error {
		count++
		return nil
	})
	return count, err
}
