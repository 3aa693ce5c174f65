package vm

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"

	"github.com/chazu/cellvm/pkg/bytecode"
	"github.com/chazu/cellvm/pkg/cell"
)

// DefaultMemorySize is the memory given to an instance unless
// WithMemorySize says otherwise.
const DefaultMemorySize = 64 * 1024

// cancelCheckInterval is how many instructions run between context checks.
const cancelCheckInterval = 1024

// DebugHook is called by the break instruction. Returning an error aborts
// the invocation.
type DebugHook func(in *Instance, cip cell.Cell) error

// Option configures an Instance.
type Option func(*Instance)

// WithMemorySize sets the size in bytes of data, heap and stack together.
func WithMemorySize(bytes int) Option {
	return func(in *Instance) { in.memSize = bytes }
}

// WithMaxInstructions bounds the instructions one outermost Invoke may run.
// Zero means no bound.
func WithMaxInstructions(n uint64) Option {
	return func(in *Instance) { in.maxInstructions = n }
}

// WithTrace logs every executed instruction at debug level.
func WithTrace(on bool) Option {
	return func(in *Instance) { in.trace = on }
}

// WithDebugHook installs the break handler.
func WithDebugHook(h DebugHook) Option {
	return func(in *Instance) { in.hook = h }
}

// WithLogger replaces the instance logger.
func WithLogger(l commonlog.Logger) Option {
	return func(in *Instance) { in.log = l }
}

// Instance is one running copy of a script: its own memory, registers and
// frames. An instance runs on one goroutine at a time; separate instances
// are independent.
type Instance struct {
	id     uuid.UUID
	script *Script
	code   []cell.Cell

	mem      []byte
	dataSize cell.Cell
	regs     Registers
	frames   []Frame

	memSize         int
	maxInstructions uint64
	trace           bool
	hook            DebugHook
	log             commonlog.Logger

	ctx      context.Context
	executed uint64
	depth    int
	aborted  atomic.Bool

	pendingFault *Fault
	lastFault    *Fault

	// Instruction being executed
	cur   cell.Cell
	curOp bytecode.Opcode
}

// NewInstance creates an instance of s with the data section loaded.
func NewInstance(s *Script, opts ...Option) (*Instance, error) {
	in := &Instance{
		id:      uuid.New(),
		script:  s,
		code:    s.Program.Code,
		memSize: DefaultMemorySize,
		log:     commonlog.GetLogger("cellvm.vm"),
	}
	for _, opt := range opts {
		opt(in)
	}

	data := cell.Bytes(len(s.Program.Data))
	if in.memSize%cell.Size != 0 || in.memSize > math.MaxInt32 || in.memSize < data+2*stackMargin {
		return nil, fmt.Errorf("%w: memory of %d bytes cannot hold %d bytes of data", ErrBounds, in.memSize, data)
	}

	in.mem = make([]byte, in.memSize)
	for i, c := range s.Program.Data {
		binary.LittleEndian.PutUint32(in.mem[cell.Bytes(i):], uint32(c))
	}
	in.dataSize = cell.Cell(data)
	in.regs = Registers{
		HEA: in.dataSize,
		STK: cell.Cell(in.memSize),
		STP: cell.Cell(in.memSize),
	}

	in.log.Info("instance created", "id", in.id.String(), "program", s.Program.Name, "memory", in.memSize)
	return in, nil
}

// ID returns the instance identifier.
func (in *Instance) ID() uuid.UUID { return in.id }

// Script returns the script the instance runs.
func (in *Instance) Script() *Script { return in.script }

// Registers returns a copy of the register file.
func (in *Instance) Registers() Registers { return in.regs }

// Frames returns a copy of the active frames, outermost first.
func (in *Instance) Frames() []Frame {
	return append([]Frame(nil), in.frames...)
}

// LastFault returns the snapshot of the most recent failed invocation.
func (in *Instance) LastFault() *Fault { return in.lastFault }

// Abort stops the running invocation before its next instruction, or the
// next invocation if none is running. It may be called from any goroutine.
func (in *Instance) Abort() {
	in.aborted.Store(true)
}

// InvokePublic calls an exported function by name.
func (in *Instance) InvokePublic(ctx context.Context, name string, args ...cell.Cell) (cell.Cell, error) {
	addr, ok := in.script.Public(name)
	if !ok {
		return 0, fmt.Errorf("%w: no public function %q", ErrLink, name)
	}
	return in.Invoke(ctx, addr, args...)
}

// Invoke calls the function at fn with args and returns its result.
//
// The call runs to completion, fails, or is stopped by ctx or Abort. On
// return the registers and frames are back to their state before the
// call; heap allocated during the call is released. Natives may call
// Invoke again on the same instance.
func (in *Instance) Invoke(ctx context.Context, fn cell.Cell, args ...cell.Cell) (cell.Cell, error) {
	if !in.script.isProc(fn) {
		return 0, &RuntimeError{Type: ErrorInvalidJump, Message: fmt.Sprintf("0x%04X is not a function", fn), Offset: int(fn)}
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return 0, &RuntimeError{Type: ErrorAborted, Message: "context done before start", Offset: int(fn), Err: err}
	}

	outer := in.depth == 0
	saved := in.regs
	savedCur, savedOp := in.cur, in.curOp
	base := len(in.frames)
	prevCtx := in.ctx

	if outer {
		in.executed = 0
		in.pendingFault = nil
		in.log.Debug("invoke", "id", in.id.String(), "fn", fn, "argc", len(args))
	}
	in.ctx = ctx
	in.depth++

	result, err := in.call(fn, args, base)

	in.depth--
	in.ctx = prevCtx

	var halt *HaltError
	if errors.As(err, &halt) && halt.Code == 0 {
		err = nil
	} else if err == nil && (in.regs.STK != saved.STK || in.regs.FRM != saved.FRM) {
		e := in.fail(ErrorStackImbalance, "stack 0x%X, frame 0x%X after return; want 0x%X, 0x%X",
			in.regs.STK, in.regs.FRM, saved.STK, saved.FRM)
		in.noteFault(e)
		err = e
	}

	in.regs = saved
	in.frames = in.frames[:base]
	in.cur, in.curOp = savedCur, savedOp

	if outer {
		if err != nil && in.pendingFault != nil {
			in.lastFault = in.pendingFault
			in.log.Error("invocation failed", "id", in.id.String(), "error", err.Error())
		}
		in.pendingFault = nil
	}
	if err != nil {
		return 0, err
	}
	return result, nil
}

// call pushes the arguments the way a call instruction would and runs
// until the frame arena is back at base.
func (in *Instance) call(fn cell.Cell, args []cell.Cell, base int) (result cell.Cell, err error) {
	defer func() {
		if r := recover(); r != nil {
			switch e := r.(type) {
			case *RuntimeError:
				in.noteFault(e)
				err = e
			case *HaltError:
				result, err = in.regs.PRI, e
			default:
				panic(r)
			}
		}
	}()

	for i := len(args) - 1; i >= 0; i-- {
		in.push(args[i])
	}
	in.push(cell.Cell(len(args)))
	in.push(0)
	in.regs.CIP = fn

	for !in.step(base) {
	}
	return in.regs.PRI, nil
}

// watchdog runs before every instruction.
func (in *Instance) watchdog() {
	if in.aborted.CompareAndSwap(true, false) {
		panic(in.fail(ErrorAborted, "aborted by host"))
	}
	in.executed++
	if in.maxInstructions > 0 && in.executed > in.maxInstructions {
		panic(in.fail(ErrorAborted, "instruction budget of %d exhausted", in.maxInstructions))
	}
	if in.executed%cancelCheckInterval == 0 {
		if err := in.ctx.Err(); err != nil {
			e := in.fail(ErrorAborted, "context done")
			e.Err = err
			panic(e)
		}
	}
}

// noteFault keeps the first snapshot of a failing invocation chain, which
// is the innermost one.
func (in *Instance) noteFault(e *RuntimeError) {
	if in.pendingFault != nil {
		return
	}
	f := &Fault{
		Instance:  in.id.String(),
		Program:   in.script.Program.Name,
		Error:     e.Error(),
		Type:      string(e.Type),
		Offset:    e.Offset,
		Op:        e.Op.String(),
		Registers: in.regs,
		Backtrace: in.Frames(),
	}
	for addr := in.regs.STK; addr+cell.Size <= in.regs.STP && len(f.Stack) < 16; addr += cell.Size {
		f.Stack = append(f.Stack, cell.Cell(binary.LittleEndian.Uint32(in.mem[addr:])))
	}
	in.pendingFault = f
}
