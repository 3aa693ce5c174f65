package vm

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/chazu/cellvm/pkg/bytecode"
)

// Error categories. Every failure reported by this package matches one of
// them with errors.Is; a native failure also matches its cause.
var (
	ErrDecode                = errors.New("decode error")
	ErrBounds                = errors.New("bounds error")
	ErrArithmetic            = errors.New("arithmetic error")
	ErrLink                  = errors.New("link error")
	ErrDuplicateRegistration = errors.New("duplicate registration")
	ErrNative                = errors.New("native error")
	ErrAborted               = errors.New("aborted")
)

// ErrorType names the specific failure behind a RuntimeError.
type ErrorType string

const (
	ErrorInvalidInstruction ErrorType = "INVALID_INSTRUCTION"
	ErrorInvalidJump        ErrorType = "INVALID_JUMP"
	ErrorInvalidNative      ErrorType = "INVALID_NATIVE"

	ErrorStackOverflow  ErrorType = "STACK_OVERFLOW"
	ErrorStackUnderflow ErrorType = "STACK_UNDERFLOW"
	ErrorHeapOverflow   ErrorType = "HEAP_OVERFLOW"
	ErrorHeapUnderflow  ErrorType = "HEAP_UNDERFLOW"
	ErrorStackImbalance ErrorType = "STACK_IMBALANCE"
	ErrorInvalidAddress ErrorType = "INVALID_ADDRESS"
	ErrorArrayBounds    ErrorType = "ARRAY_BOUNDS"

	ErrorDivideByZero    ErrorType = "DIVIDE_BY_ZERO"
	ErrorIntegerOverflow ErrorType = "INTEGER_OVERFLOW"

	ErrorNative  ErrorType = "NATIVE_ERROR"
	ErrorAborted ErrorType = "ABORTED"
)

// Category returns the sentinel error for the type.
func (t ErrorType) Category() error {
	switch t {
	case ErrorInvalidInstruction, ErrorInvalidJump, ErrorInvalidNative:
		return ErrDecode
	case ErrorStackOverflow, ErrorStackUnderflow, ErrorHeapOverflow, ErrorHeapUnderflow,
		ErrorStackImbalance, ErrorInvalidAddress, ErrorArrayBounds:
		return ErrBounds
	case ErrorDivideByZero, ErrorIntegerOverflow:
		return ErrArithmetic
	case ErrorAborted:
		return ErrAborted
	}
	return ErrNative
}

// RuntimeError reports a failure while executing an instruction. The
// invocation that raised it is abandoned.
type RuntimeError struct {
	Type    ErrorType
	Message string
	Offset  int             // Code address of the failing instruction
	Op      bytecode.Opcode // The failing instruction
	Err     error           // Underlying cause, for native and decode failures
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("[%s] %s at 0x%04X (%s)", e.Type, e.Message, e.Offset, e.Op)
}

// Unwrap exposes the category sentinel and the underlying cause.
func (e *RuntimeError) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Type.Category(), e.Err}
	}
	return []error{e.Type.Category()}
}

// HaltError is returned when a script executes halt with a nonzero code.
type HaltError struct {
	Code   int32
	Offset int
}

func (e *HaltError) Error() string {
	return fmt.Sprintf("halted with code %d at 0x%04X", e.Code, e.Offset)
}

// LinkError lists every native a program references that the registry
// does not provide.
type LinkError struct {
	Program string
	Missing []string
}

func (e *LinkError) Error() string {
	names := append([]string(nil), e.Missing...)
	sort.Strings(names)
	return fmt.Sprintf("link %s: unresolved natives: %s", e.Program, strings.Join(names, ", "))
}

func (e *LinkError) Unwrap() error { return ErrLink }

// DuplicateRegistrationError is returned when a native name is registered
// twice.
type DuplicateRegistrationError struct {
	Name string
}

func (e *DuplicateRegistrationError) Error() string {
	return fmt.Sprintf("native %q already registered", e.Name)
}

func (e *DuplicateRegistrationError) Unwrap() error { return ErrDuplicateRegistration }

// verifyError wraps a decode failure found while linking.
type verifyError struct {
	err *bytecode.DecodeError
}

func (e *verifyError) Error() string { return "verify: " + e.err.Error() }

func (e *verifyError) Unwrap() []error { return []error{ErrDecode, e.err} }
