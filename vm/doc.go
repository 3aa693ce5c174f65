// Package vm executes linked bytecode programs.
//
// A Program from package bytecode is checked and bound to a Registry of
// natives by Link, which yields a read-only Script. Any number of Instances
// can run one Script; each owns its registers, frames and memory:
//
//	[ data | heap -> ...free... <- stack ]
//	0      HEA                  STK     STP
//
// Cells are little-endian. A memory address is valid when it falls inside
// the data and heap region or inside the live stack.
//
// Failures never escape as panics. Invoke returns a *RuntimeError matching
// one of the category errors (ErrDecode, ErrBounds, ErrArithmetic, ErrLink,
// ErrNative, ErrAborted), restores the registers, and keeps a Fault
// snapshot for LastFault. The instance stays usable afterwards.
//
// The float and double built-ins live in BuiltinNatives; the float
// pseudo-opcodes call the same functions.
package vm
