package vm

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/chazu/cellvm/pkg/cell"
)

// Memory is one little-endian byte buffer:
//
//	[ data | heap -> ...          ... <- stack ]
//	0      dataSize   HEA        STK          STP
//
// An address is valid if it falls below HEA or at or above STK.

// stackMargin is the gap kept between heap and stack.
const stackMargin = 64

// fail builds an error attributed to the current instruction.
func (in *Instance) fail(t ErrorType, format string, args ...any) *RuntimeError {
	return &RuntimeError{
		Type:    t,
		Message: fmt.Sprintf(format, args...),
		Offset:  int(in.cur),
		Op:      in.curOp,
	}
}

func (in *Instance) valid(addr cell.Cell, n int) bool {
	a := int64(addr)
	end := a + int64(n)
	if a < 0 {
		return false
	}
	if end <= int64(in.regs.HEA) {
		return true
	}
	return a >= int64(in.regs.STK) && end <= int64(in.regs.STP)
}

func (in *Instance) check(addr cell.Cell, n int) {
	if !in.valid(addr, n) {
		panic(in.fail(ErrorInvalidAddress, "access of %d bytes at 0x%X", n, addr))
	}
}

func (in *Instance) load(addr cell.Cell) cell.Cell {
	in.check(addr, cell.Size)
	return cell.Cell(binary.LittleEndian.Uint32(in.mem[addr:]))
}

func (in *Instance) store(addr, v cell.Cell) {
	in.check(addr, cell.Size)
	binary.LittleEndian.PutUint32(in.mem[addr:], uint32(v))
}

// loadN reads n bytes (1, 2 or 4) zero-extended.
func (in *Instance) loadN(addr cell.Cell, n cell.Cell) cell.Cell {
	switch n {
	case 1:
		in.check(addr, 1)
		return cell.Cell(in.mem[addr])
	case 2:
		in.check(addr, 2)
		return cell.Cell(binary.LittleEndian.Uint16(in.mem[addr:]))
	case 4:
		return in.load(addr)
	}
	panic(in.fail(ErrorInvalidInstruction, "bad access width %d", n))
}

// storeN writes the low n bytes (1, 2 or 4) of v.
func (in *Instance) storeN(addr cell.Cell, n cell.Cell, v cell.Cell) {
	switch n {
	case 1:
		in.check(addr, 1)
		in.mem[addr] = byte(v)
	case 2:
		in.check(addr, 2)
		binary.LittleEndian.PutUint16(in.mem[addr:], uint16(v))
	case 4:
		in.store(addr, v)
	default:
		panic(in.fail(ErrorInvalidInstruction, "bad access width %d", n))
	}
}

// bytes returns a checked view of n bytes at addr.
func (in *Instance) bytes(addr cell.Cell, n cell.Cell) []byte {
	if n < 0 {
		panic(in.fail(ErrorInvalidAddress, "negative length %d", n))
	}
	in.check(addr, int(n))
	return in.mem[addr : int(addr)+int(n)]
}

func (in *Instance) push(v cell.Cell) {
	if in.regs.STK-cell.Size < in.regs.HEA+stackMargin {
		panic(in.fail(ErrorStackOverflow, "stack overflow"))
	}
	in.regs.STK -= cell.Size
	binary.LittleEndian.PutUint32(in.mem[in.regs.STK:], uint32(v))
}

func (in *Instance) pop() cell.Cell {
	if in.regs.STK+cell.Size > in.regs.STP {
		panic(in.fail(ErrorStackUnderflow, "stack underflow"))
	}
	v := cell.Cell(binary.LittleEndian.Uint32(in.mem[in.regs.STK:]))
	in.regs.STK += cell.Size
	return v
}

// setSTK moves the stack pointer, keeping it inside the stack region.
func (in *Instance) setSTK(v cell.Cell) {
	switch {
	case int64(v) < int64(in.regs.HEA)+stackMargin:
		panic(in.fail(ErrorStackOverflow, "stack pointer 0x%X below heap", v))
	case v > in.regs.STP:
		panic(in.fail(ErrorStackUnderflow, "stack pointer 0x%X above stack base", v))
	}
	in.regs.STK = v
}

// setHEA moves the heap pointer, keeping it between data and stack.
func (in *Instance) setHEA(v cell.Cell) {
	switch {
	case v < in.dataSize:
		panic(in.fail(ErrorHeapUnderflow, "heap pointer 0x%X below data", v))
	case int64(v) > int64(in.regs.STK)-stackMargin:
		panic(in.fail(ErrorHeapOverflow, "heap pointer 0x%X runs into stack", v))
	}
	in.regs.HEA = v
}

// alloc reserves n bytes of zeroed heap and returns their address.
func (in *Instance) alloc(n cell.Cell) cell.Cell {
	if n < 0 {
		panic(in.fail(ErrorHeapUnderflow, "negative allocation %d", n))
	}
	addr := in.regs.HEA
	if int64(addr)+int64(n) > int64(in.regs.STK)-stackMargin {
		panic(in.fail(ErrorHeapOverflow, "allocation of %d bytes runs into stack", n))
	}
	in.setHEA(addr + n)
	clear(in.mem[addr:in.regs.HEA])
	return addr
}

// guard runs fn, turning a raised RuntimeError into a return value.
func (in *Instance) guard(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			re, ok := r.(*RuntimeError)
			if !ok {
				panic(r)
			}
			err = re
		}
	}()
	fn()
	return nil
}

// ReadCell reads the cell at addr.
func (in *Instance) ReadCell(addr cell.Cell) (v cell.Cell, err error) {
	err = in.guard(func() { v = in.load(addr) })
	return v, err
}

// WriteCell writes the cell at addr.
func (in *Instance) WriteCell(addr, value cell.Cell) error {
	return in.guard(func() { in.store(addr, value) })
}

// ReadString reads a NUL-terminated byte string at addr.
func (in *Instance) ReadString(addr cell.Cell) (string, error) {
	if !in.valid(addr, 1) {
		return "", in.fail(ErrorInvalidAddress, "string at 0x%X", addr)
	}
	end := int(in.regs.HEA)
	if addr >= in.regs.STK {
		end = int(in.regs.STP)
	}
	for i := int(addr); i < end; i++ {
		if in.mem[i] == 0 {
			return string(in.mem[addr:i]), nil
		}
	}
	return "", in.fail(ErrorInvalidAddress, "unterminated string at 0x%X", addr)
}

// WriteString stores s NUL-terminated at addr, truncated to maxBytes
// including the terminator.
func (in *Instance) WriteString(addr cell.Cell, s string, maxBytes int) error {
	if maxBytes <= 0 {
		return nil
	}
	if len(s) > maxBytes-1 {
		s = s[:maxBytes-1]
	}
	return in.guard(func() {
		buf := in.bytes(addr, cell.Cell(len(s)+1))
		copy(buf, s)
		buf[len(s)] = 0
	})
}

// AllocHeap reserves zeroed heap cells. The allocation lasts until the
// enclosing Invoke returns, or for the life of the instance when made
// outside one.
func (in *Instance) AllocHeap(cells int) (addr cell.Cell, err error) {
	if cells < 0 || cells > math.MaxInt32/cell.Size {
		return 0, in.fail(ErrorHeapOverflow, "allocation of %d cells", cells)
	}
	err = in.guard(func() { addr = in.alloc(cell.Cell(cell.Bytes(cells))) })
	return addr, err
}
