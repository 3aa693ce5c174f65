package vm

import (
	"bytes"
	"errors"
	"math"

	"github.com/tliron/commonlog"

	"github.com/chazu/cellvm/pkg/bytecode"
	"github.com/chazu/cellvm/pkg/cell"
)

// ---------------------------------------------------------------------------
// Dispatch
// ---------------------------------------------------------------------------

// step executes one instruction. It reports true when a return brings the
// frame arena back to base.
func (in *Instance) step(base int) bool {
	r := &in.regs
	cip := r.CIP
	in.cur = cip
	if !in.script.isStart(cip) {
		in.curOp = bytecode.OpNone
		panic(in.fail(ErrorInvalidJump, "no instruction at 0x%04X", cip))
	}

	pc := int(cip / cell.Size)
	op := bytecode.Opcode(in.code[pc])
	in.curOp = op
	in.watchdog()

	n := op.Operands()
	if n == bytecode.VariableOperands {
		panic(in.fail(ErrorInvalidInstruction, "casetbl is data, not code"))
	}
	args := in.code[pc+1 : pc+1+n]
	r.CIP = cip + cell.Cell(cell.Bytes(1+n))

	if in.trace && in.log.AllowLevel(commonlog.Debug) {
		in.log.Debug("exec", "cip", cip, "op", op.String(), "pri", r.PRI, "alt", r.ALT, "stk", r.STK, "frm", r.FRM)
	}

	switch op {
	// --- Loads and stores ---
	case bytecode.OpLoadPri:
		r.PRI = in.load(args[0])
	case bytecode.OpLoadAlt:
		r.ALT = in.load(args[0])
	case bytecode.OpLoadSPri:
		r.PRI = in.load(r.FRM + args[0])
	case bytecode.OpLoadSAlt:
		r.ALT = in.load(r.FRM + args[0])
	case bytecode.OpLrefPri:
		r.PRI = in.load(in.load(args[0]))
	case bytecode.OpLrefAlt:
		r.ALT = in.load(in.load(args[0]))
	case bytecode.OpLrefSPri:
		r.PRI = in.load(in.load(r.FRM + args[0]))
	case bytecode.OpLrefSAlt:
		r.ALT = in.load(in.load(r.FRM + args[0]))
	case bytecode.OpLoadI:
		r.PRI = in.load(r.PRI)
	case bytecode.OpLodbI:
		r.PRI = in.loadN(r.PRI, args[0])
	case bytecode.OpConstPri:
		r.PRI = args[0]
	case bytecode.OpConstAlt:
		r.ALT = args[0]
	case bytecode.OpAddrPri:
		r.PRI = r.FRM + args[0]
	case bytecode.OpAddrAlt:
		r.ALT = r.FRM + args[0]
	case bytecode.OpStorPri:
		in.store(args[0], r.PRI)
	case bytecode.OpStorAlt:
		in.store(args[0], r.ALT)
	case bytecode.OpStorSPri:
		in.store(r.FRM+args[0], r.PRI)
	case bytecode.OpStorSAlt:
		in.store(r.FRM+args[0], r.ALT)
	case bytecode.OpSrefPri:
		in.store(in.load(args[0]), r.PRI)
	case bytecode.OpSrefAlt:
		in.store(in.load(args[0]), r.ALT)
	case bytecode.OpSrefSPri:
		in.store(in.load(r.FRM+args[0]), r.PRI)
	case bytecode.OpSrefSAlt:
		in.store(in.load(r.FRM+args[0]), r.ALT)
	case bytecode.OpStorI:
		in.store(r.ALT, r.PRI)
	case bytecode.OpStrbI:
		in.storeN(r.ALT, args[0], r.PRI)
	case bytecode.OpLidx:
		r.PRI = in.load(r.ALT + r.PRI*cell.Size)
	case bytecode.OpLidxB:
		r.PRI = in.load(r.ALT + shl(r.PRI, args[0]))
	case bytecode.OpIdxAddr:
		r.PRI = r.ALT + r.PRI*cell.Size
	case bytecode.OpIdxAddrB:
		r.PRI = r.ALT + shl(r.PRI, args[0])
	case bytecode.OpAlignPri, bytecode.OpAlignAlt:
		// Cells are little-endian; byte addresses need no adjustment.
	case bytecode.OpLCtrl:
		r.PRI = in.control(args[0])
	case bytecode.OpSCtrl:
		in.setControl(args[0], r.PRI)
	case bytecode.OpMovePri:
		r.PRI = r.ALT
	case bytecode.OpMoveAlt:
		r.ALT = r.PRI
	case bytecode.OpXchg:
		r.PRI, r.ALT = r.ALT, r.PRI
	case bytecode.OpLoadBoth:
		r.PRI = in.load(args[0])
		r.ALT = in.load(args[1])
	case bytecode.OpLoadSBoth:
		r.PRI = in.load(r.FRM + args[0])
		r.ALT = in.load(r.FRM + args[1])
	case bytecode.OpConst:
		in.store(args[0], args[1])
	case bytecode.OpConstS:
		in.store(r.FRM+args[0], args[1])

	// --- Stack ---
	case bytecode.OpPushPri:
		in.push(r.PRI)
	case bytecode.OpPushAlt:
		in.push(r.ALT)
	case bytecode.OpPushR:
		if args[0] < 0 {
			panic(in.fail(ErrorInvalidInstruction, "negative repeat %d", args[0]))
		}
		for i := cell.Cell(0); i < args[0]; i++ {
			in.push(r.PRI)
		}
	case bytecode.OpPushC, bytecode.OpPush2C, bytecode.OpPush3C, bytecode.OpPush4C, bytecode.OpPush5C:
		for _, v := range args {
			in.push(v)
		}
	case bytecode.OpPush, bytecode.OpPush2, bytecode.OpPush3, bytecode.OpPush4, bytecode.OpPush5:
		for _, addr := range args {
			in.push(in.load(addr))
		}
	case bytecode.OpPushS, bytecode.OpPush2S, bytecode.OpPush3S, bytecode.OpPush4S, bytecode.OpPush5S:
		for _, off := range args {
			in.push(in.load(r.FRM + off))
		}
	case bytecode.OpPushAdr, bytecode.OpPush2Adr, bytecode.OpPush3Adr, bytecode.OpPush4Adr, bytecode.OpPush5Adr:
		for _, off := range args {
			in.push(r.FRM + off)
		}
	case bytecode.OpPopPri:
		r.PRI = in.pop()
	case bytecode.OpPopAlt:
		r.ALT = in.pop()
	case bytecode.OpSwapPri:
		top := in.load(r.STK)
		in.store(r.STK, r.PRI)
		r.PRI = top
	case bytecode.OpSwapAlt:
		top := in.load(r.STK)
		in.store(r.STK, r.ALT)
		r.ALT = top
	case bytecode.OpStack:
		r.ALT = r.STK
		in.setSTK(in.offset(r.STK, args[0]))
	case bytecode.OpHeap:
		r.ALT = r.HEA
		in.setHEA(in.offset(r.HEA, args[0]))
	case bytecode.OpStackAdjust:
		in.setSTK(in.offset(r.FRM, args[0]))
	case bytecode.OpHeapSave:
		in.topFrame().SavedHeap = r.HEA
	case bytecode.OpHeapRestore:
		in.setHEA(in.topFrame().SavedHeap)
	case bytecode.OpTrackerPushC:
		if args[0] < 0 {
			panic(in.fail(ErrorHeapUnderflow, "negative tracker %d", args[0]))
		}
		in.pushTracker(args[0] * cell.Size)
	case bytecode.OpTrackerPop:
		in.popTracker()

	// --- Calls ---
	case bytecode.OpProc:
		saved := r.FRM
		in.push(r.FRM)
		r.FRM = r.STK
		in.frames = append(in.frames, Frame{
			Entry:     cip,
			FRM:       r.FRM,
			SavedFRM:  saved,
			ReturnCIP: in.load(r.FRM + cell.Size),
			Argc:      in.load(r.FRM + 2*cell.Size),
			SavedHeap: r.HEA,
		})
	case bytecode.OpRetn:
		return in.ret(true, base)
	case bytecode.OpRet:
		return in.ret(false, base)
	case bytecode.OpCall:
		in.callTo(args[0])
	case bytecode.OpCallPri:
		in.callTo(r.PRI)
	case bytecode.OpLdgfnPri:
		if !in.script.isProc(args[0]) {
			panic(in.fail(ErrorInvalidJump, "0x%04X is not a function", args[0]))
		}
		r.PRI = args[0]

	// --- Branches ---
	case bytecode.OpJump:
		in.jumpTo(args[0])
	case bytecode.OpJRel:
		in.jumpTo(r.CIP + args[0])
	case bytecode.OpJumpPri:
		in.jumpTo(r.PRI)
	case bytecode.OpJZer:
		if r.PRI == 0 {
			in.jumpTo(args[0])
		}
	case bytecode.OpJNz:
		if r.PRI != 0 {
			in.jumpTo(args[0])
		}
	case bytecode.OpJEq:
		if r.PRI == r.ALT {
			in.jumpTo(args[0])
		}
	case bytecode.OpJNeq:
		if r.PRI != r.ALT {
			in.jumpTo(args[0])
		}
	case bytecode.OpJLess:
		if r.PRI.Unsigned() < r.ALT.Unsigned() {
			in.jumpTo(args[0])
		}
	case bytecode.OpJLeq:
		if r.PRI.Unsigned() <= r.ALT.Unsigned() {
			in.jumpTo(args[0])
		}
	case bytecode.OpJGrtr:
		if r.PRI.Unsigned() > r.ALT.Unsigned() {
			in.jumpTo(args[0])
		}
	case bytecode.OpJGeq:
		if r.PRI.Unsigned() >= r.ALT.Unsigned() {
			in.jumpTo(args[0])
		}
	case bytecode.OpJSLess:
		if r.PRI < r.ALT {
			in.jumpTo(args[0])
		}
	case bytecode.OpJSLeq:
		if r.PRI <= r.ALT {
			in.jumpTo(args[0])
		}
	case bytecode.OpJSGrtr:
		if r.PRI > r.ALT {
			in.jumpTo(args[0])
		}
	case bytecode.OpJSGeq:
		if r.PRI >= r.ALT {
			in.jumpTo(args[0])
		}
	case bytecode.OpSwitch:
		in.jumpTo(in.caseTarget(args[0], r.PRI))

	// --- Arithmetic ---
	case bytecode.OpShl:
		r.PRI = shl(r.PRI, r.ALT)
	case bytecode.OpShr:
		r.PRI = shr(r.PRI, r.ALT)
	case bytecode.OpSShr:
		r.PRI >>= uint32(r.ALT) & 31
	case bytecode.OpShlCPri:
		r.PRI = shl(r.PRI, args[0])
	case bytecode.OpShlCAlt:
		r.ALT = shl(r.ALT, args[0])
	case bytecode.OpShrCPri:
		r.PRI = shr(r.PRI, args[0])
	case bytecode.OpShrCAlt:
		r.ALT = shr(r.ALT, args[0])
	case bytecode.OpSMul:
		r.PRI *= r.ALT
	case bytecode.OpSDiv:
		r.PRI, r.ALT = in.sdiv(r.PRI, r.ALT)
	case bytecode.OpSDivAlt:
		r.PRI, r.ALT = in.sdiv(r.ALT, r.PRI)
	case bytecode.OpUMul:
		r.PRI = cell.Cell(r.PRI.Unsigned() * r.ALT.Unsigned())
	case bytecode.OpUDiv:
		r.PRI, r.ALT = in.udiv(r.PRI, r.ALT)
	case bytecode.OpUDivAlt:
		r.PRI, r.ALT = in.udiv(r.ALT, r.PRI)
	case bytecode.OpAdd:
		r.PRI += r.ALT
	case bytecode.OpSub:
		r.PRI -= r.ALT
	case bytecode.OpSubAlt:
		r.PRI = r.ALT - r.PRI
	case bytecode.OpAnd:
		r.PRI &= r.ALT
	case bytecode.OpOr:
		r.PRI |= r.ALT
	case bytecode.OpXor:
		r.PRI ^= r.ALT
	case bytecode.OpNot:
		r.PRI = cell.FromBool(r.PRI == 0)
	case bytecode.OpNeg:
		r.PRI = -r.PRI
	case bytecode.OpInvert:
		r.PRI = ^r.PRI
	case bytecode.OpAddC:
		r.PRI += args[0]
	case bytecode.OpSMulC:
		r.PRI *= args[0]
	case bytecode.OpZeroPri:
		r.PRI = 0
	case bytecode.OpZeroAlt:
		r.ALT = 0
	case bytecode.OpZero:
		in.store(args[0], 0)
	case bytecode.OpZeroS:
		in.store(r.FRM+args[0], 0)
	case bytecode.OpSignPri:
		r.PRI = cell.Cell(int8(r.PRI))
	case bytecode.OpSignAlt:
		r.ALT = cell.Cell(int8(r.ALT))
	case bytecode.OpStrAdjustPri:
		r.PRI = (r.PRI + cell.Size) >> 2

	case bytecode.OpIncPri:
		r.PRI++
	case bytecode.OpIncAlt:
		r.ALT++
	case bytecode.OpInc:
		in.store(args[0], in.load(args[0])+1)
	case bytecode.OpIncS:
		in.store(r.FRM+args[0], in.load(r.FRM+args[0])+1)
	case bytecode.OpIncI:
		in.store(r.PRI, in.load(r.PRI)+1)
	case bytecode.OpDecPri:
		r.PRI--
	case bytecode.OpDecAlt:
		r.ALT--
	case bytecode.OpDec:
		in.store(args[0], in.load(args[0])-1)
	case bytecode.OpDecS:
		in.store(r.FRM+args[0], in.load(r.FRM+args[0])-1)
	case bytecode.OpDecI:
		in.store(r.PRI, in.load(r.PRI)-1)

	// --- Comparisons ---
	case bytecode.OpEq:
		r.PRI = cell.FromBool(r.PRI == r.ALT)
	case bytecode.OpNeq:
		r.PRI = cell.FromBool(r.PRI != r.ALT)
	case bytecode.OpLess:
		r.PRI = cell.FromBool(r.PRI.Unsigned() < r.ALT.Unsigned())
	case bytecode.OpLeq:
		r.PRI = cell.FromBool(r.PRI.Unsigned() <= r.ALT.Unsigned())
	case bytecode.OpGrtr:
		r.PRI = cell.FromBool(r.PRI.Unsigned() > r.ALT.Unsigned())
	case bytecode.OpGeq:
		r.PRI = cell.FromBool(r.PRI.Unsigned() >= r.ALT.Unsigned())
	case bytecode.OpSLess:
		r.PRI = cell.FromBool(r.PRI < r.ALT)
	case bytecode.OpSLeq:
		r.PRI = cell.FromBool(r.PRI <= r.ALT)
	case bytecode.OpSGrtr:
		r.PRI = cell.FromBool(r.PRI > r.ALT)
	case bytecode.OpSGeq:
		r.PRI = cell.FromBool(r.PRI >= r.ALT)
	case bytecode.OpEqCPri:
		r.PRI = cell.FromBool(r.PRI == args[0])
	case bytecode.OpEqCAlt:
		r.PRI = cell.FromBool(r.ALT == args[0])

	// --- Memory blocks ---
	case bytecode.OpMovs:
		copy(in.bytes(r.ALT, args[0]), in.bytes(r.PRI, args[0]))
	case bytecode.OpCmps:
		r.PRI = cell.Cell(bytes.Compare(in.bytes(r.ALT, args[0]), in.bytes(r.PRI, args[0])))
	case bytecode.OpFill:
		in.bytes(r.ALT, args[0])
		for off := cell.Cell(0); off+cell.Size <= args[0]; off += cell.Size {
			in.store(r.ALT+off, r.PRI)
		}

	// --- Arrays ---
	case bytecode.OpBounds:
		if r.PRI.Unsigned() > args[0].Unsigned() {
			panic(in.fail(ErrorArrayBounds, "index %d out of bounds [0, %d]", r.PRI, args[0]))
		}
	case bytecode.OpGenArray, bytecode.OpGenArrayZ:
		in.genArray(args[0])
	case bytecode.OpInitArrayPri:
		in.initArray(r.PRI, args)
	case bytecode.OpInitArrayAlt:
		in.initArray(r.ALT, args)
	case bytecode.OpRebase:
		in.rebase(args[0], args[1], args[2])

	// --- Natives ---
	case bytecode.OpSysreqPri:
		r.PRI = in.callNative(r.PRI)
	case bytecode.OpSysreqC, bytecode.OpSysreqD:
		r.PRI = in.callNative(args[0])
	case bytecode.OpSysreqN, bytecode.OpSysreqND:
		in.push(args[1])
		r.PRI = in.callNative(args[0])
		in.setSTK(in.offset(r.STK, (args[1]+1)*cell.Size))

	// --- Control ---
	case bytecode.OpHalt:
		panic(&HaltError{Code: int32(args[0]), Offset: int(cip)})
	case bytecode.OpBreak:
		if in.hook != nil {
			if err := in.hook(in, cip); err != nil {
				e := in.fail(ErrorAborted, "stopped by debug hook")
				e.Err = err
				panic(e)
			}
		}
	case bytecode.OpNop, bytecode.OpFile, bytecode.OpLine, bytecode.OpSymbol, bytecode.OpSRange, bytecode.OpSymTag:

	// --- Float pseudo-opcodes ---
	case bytecode.OpFAbs:
		r.PRI = floatAbs(r.PRI)
	case bytecode.OpFloat:
		r.PRI = floatCtor(r.PRI)
	case bytecode.OpDoubleToFloat:
		r.PRI = doubleToFloat(r.PRI)
	case bytecode.OpFloatAdd:
		r.PRI = floatAdd(r.PRI, r.ALT)
	case bytecode.OpFloatSub:
		r.PRI = floatSub(r.PRI, r.ALT)
	case bytecode.OpFloatMul:
		r.PRI = floatMul(r.PRI, r.ALT)
	case bytecode.OpFloatDiv:
		r.PRI = floatDiv(r.PRI, r.ALT)
	case bytecode.OpRndToNearest:
		r.PRI = roundToCell(float64(r.PRI.Float()), roundNearest)
	case bytecode.OpRndToFloor:
		r.PRI = roundToCell(float64(r.PRI.Float()), roundFloor)
	case bytecode.OpRndToCeil:
		r.PRI = roundToCell(float64(r.PRI.Float()), roundCeil)
	case bytecode.OpRndToZero:
		r.PRI = roundToCell(float64(r.PRI.Float()), roundZero)
	case bytecode.OpFloatCmp:
		r.PRI = floatCmp(r.PRI, r.ALT)
	case bytecode.OpFloatGt:
		r.PRI = floatGt(r.PRI, r.ALT)
	case bytecode.OpFloatGe:
		r.PRI = floatGe(r.PRI, r.ALT)
	case bytecode.OpFloatLt:
		r.PRI = floatLt(r.PRI, r.ALT)
	case bytecode.OpFloatLe:
		r.PRI = floatLe(r.PRI, r.ALT)
	case bytecode.OpFloatNe:
		r.PRI = floatNe(r.PRI, r.ALT)
	case bytecode.OpFloatEq:
		r.PRI = floatEq(r.PRI, r.ALT)
	case bytecode.OpFloatNot:
		r.PRI = floatNot(r.PRI)

	// --- Double pseudo-opcodes ---
	case bytecode.OpDbAbs:
		r.PRI = floatAbs(r.PRI)
	case bytecode.OpDouble:
		r.PRI = doubleCtor(r.PRI)
	case bytecode.OpFloatToDouble:
		r.PRI = floatToDouble(r.PRI)
	case bytecode.OpDoubleAdd:
		r.PRI = doubleAdd(r.PRI, r.ALT)
	case bytecode.OpDoubleSub:
		r.PRI = doubleSub(r.PRI, r.ALT)
	case bytecode.OpDoubleMul:
		r.PRI = doubleMul(r.PRI, r.ALT)
	case bytecode.OpDoubleDiv:
		r.PRI = doubleDiv(r.PRI, r.ALT)
	case bytecode.OpRndToNearestDouble:
		r.PRI = roundToCell(r.PRI.Double(), roundNearest)
	case bytecode.OpRndToFloorDouble:
		r.PRI = roundToCell(r.PRI.Double(), roundFloor)
	case bytecode.OpRndToCeilDouble:
		r.PRI = roundToCell(r.PRI.Double(), roundCeil)
	case bytecode.OpRndToZeroDouble:
		r.PRI = roundToCell(r.PRI.Double(), roundZero)
	case bytecode.OpDoubleCmp:
		r.PRI = doubleCmp(r.PRI, r.ALT)
	case bytecode.OpDoubleGt:
		r.PRI = doubleGt(r.PRI, r.ALT)
	case bytecode.OpDoubleGe:
		r.PRI = doubleGe(r.PRI, r.ALT)
	case bytecode.OpDoubleLt:
		r.PRI = doubleLt(r.PRI, r.ALT)
	case bytecode.OpDoubleLe:
		r.PRI = doubleLe(r.PRI, r.ALT)
	case bytecode.OpDoubleNe:
		r.PRI = doubleNe(r.PRI, r.ALT)
	case bytecode.OpDoubleEq:
		r.PRI = doubleEq(r.PRI, r.ALT)
	case bytecode.OpDoubleNot:
		r.PRI = doubleNot(r.PRI)

	default:
		// none, endproc, firstfake
		panic(in.fail(ErrorInvalidInstruction, "%s is not executable", op))
	}
	return false
}

// ---------------------------------------------------------------------------
// Control flow helpers
// ---------------------------------------------------------------------------

func (in *Instance) jumpTo(target cell.Cell) {
	if !in.script.isStart(target) {
		panic(in.fail(ErrorInvalidJump, "jump to 0x%04X", target))
	}
	in.regs.CIP = target
}

func (in *Instance) callTo(target cell.Cell) {
	if !in.script.isProc(target) {
		panic(in.fail(ErrorInvalidJump, "call to 0x%04X, which is not a function", target))
	}
	in.push(in.regs.CIP)
	in.regs.CIP = target
}

// ret unwinds the frame built by proc. With dropArgs the argument count
// and the arguments are popped too. Every popped value is checked against
// the frame arena.
func (in *Instance) ret(dropArgs bool, base int) bool {
	r := &in.regs
	if len(in.frames) <= base {
		panic(in.fail(ErrorStackImbalance, "return without a frame"))
	}
	fr := in.frames[len(in.frames)-1]
	if r.STK != r.FRM || r.FRM != fr.FRM {
		panic(in.fail(ErrorStackImbalance, "stack 0x%X does not match frame 0x%X", r.STK, fr.FRM))
	}

	savedFRM := in.pop()
	retCIP := in.pop()
	if savedFRM != fr.SavedFRM || retCIP != fr.ReturnCIP {
		panic(in.fail(ErrorStackImbalance, "frame record at 0x%X was overwritten", fr.FRM))
	}
	done := len(in.frames)-1 == base
	if dropArgs || done {
		argc := in.pop()
		if argc != fr.Argc || argc < 0 {
			panic(in.fail(ErrorStackImbalance, "argument count %d, frame has %d", argc, fr.Argc))
		}
		in.setSTK(in.offset(r.STK, argc*cell.Size))
	}

	r.FRM = savedFRM
	in.frames = in.frames[:len(in.frames)-1]
	if done {
		return true
	}
	in.jumpTo(retCIP)
	return false
}

// caseTarget looks v up in the casetbl at addr.
func (in *Instance) caseTarget(addr, v cell.Cell) cell.Cell {
	if !in.script.isStart(addr) || in.code[addr/cell.Size] != cell.Cell(bytecode.OpCaseTbl) {
		panic(in.fail(ErrorInvalidJump, "switch to 0x%04X, which is not a casetbl", addr))
	}
	pc := int(addr / cell.Size)
	count := int(in.code[pc+1])
	for i := 0; i < count; i++ {
		if in.code[pc+3+2*i] == v {
			return in.code[pc+4+2*i]
		}
	}
	return in.code[pc+2]
}

func (in *Instance) topFrame() *Frame {
	if len(in.frames) == 0 {
		panic(in.fail(ErrorStackImbalance, "no active frame"))
	}
	return &in.frames[len(in.frames)-1]
}

// control reads a special register for lctrl.
func (in *Instance) control(idx cell.Cell) cell.Cell {
	switch idx {
	case 0, 1: // Code and data both start at address 0
		return 0
	case 2:
		return in.regs.HEA
	case 3:
		return in.regs.STP
	case 4:
		return in.regs.STK
	case 5:
		return in.regs.FRM
	case 6:
		return in.regs.CIP
	}
	panic(in.fail(ErrorInvalidInstruction, "no control register %d", idx))
}

func (in *Instance) setControl(idx, v cell.Cell) {
	switch idx {
	case 2:
		in.setHEA(v)
	case 4:
		in.setSTK(v)
	case 5:
		if v < in.regs.STK || v > in.regs.STP {
			panic(in.fail(ErrorInvalidAddress, "frame pointer 0x%X outside stack", v))
		}
		in.regs.FRM = v
	case 6:
		in.jumpTo(v)
	default:
		panic(in.fail(ErrorInvalidInstruction, "control register %d is read-only", idx))
	}
}

// offset adds delta to a pointer, failing instead of wrapping.
func (in *Instance) offset(p, delta cell.Cell) cell.Cell {
	v := int64(p) + int64(delta)
	if v < 0 || v > math.MaxInt32 {
		panic(in.fail(ErrorInvalidAddress, "pointer 0x%X%+d out of range", p, delta))
	}
	return cell.Cell(v)
}

// ---------------------------------------------------------------------------
// Arithmetic helpers
// ---------------------------------------------------------------------------

func shl(v, n cell.Cell) cell.Cell { return v << (uint32(n) & 31) }
func shr(v, n cell.Cell) cell.Cell { return cell.Cell(v.Unsigned() >> (uint32(n) & 31)) }

func (in *Instance) sdiv(dividend, divisor cell.Cell) (quot, rem cell.Cell) {
	if divisor == 0 {
		panic(in.fail(ErrorDivideByZero, "division by zero"))
	}
	if dividend == math.MinInt32 && divisor == -1 {
		panic(in.fail(ErrorIntegerOverflow, "%d / -1 overflows", dividend))
	}
	return dividend / divisor, dividend % divisor
}

func (in *Instance) udiv(dividend, divisor cell.Cell) (quot, rem cell.Cell) {
	if divisor == 0 {
		panic(in.fail(ErrorDivideByZero, "division by zero"))
	}
	a, b := dividend.Unsigned(), divisor.Unsigned()
	return cell.Cell(a / b), cell.Cell(a % b)
}

// ---------------------------------------------------------------------------
// Natives
// ---------------------------------------------------------------------------

// callNative calls the native at idx with the argument block on top of the
// stack: the argument count followed by the arguments.
func (in *Instance) callNative(idx cell.Cell) cell.Cell {
	fn, ok := in.script.Native(idx)
	if !ok {
		panic(in.fail(ErrorInvalidNative, "no native %d", idx))
	}
	name := in.script.Program.Natives[idx]

	argc := in.load(in.regs.STK)
	if argc < 0 {
		panic(in.fail(ErrorStackImbalance, "native %s: negative argument count %d", name, argc))
	}
	in.check(in.regs.STK, cell.Bytes(int(argc)+1))
	params := make([]cell.Cell, argc+1)
	for i := range params {
		params[i] = in.load(in.regs.STK + cell.Cell(cell.Bytes(i)))
	}

	next := in.regs.CIP
	result, err := fn(in, params)
	if err != nil {
		e := in.fail(ErrorNative, "native %s: %v", name, err)
		e.Err = err
		var re *RuntimeError
		if !errors.As(err, &re) {
			in.pendingFault = nil
		}
		panic(e)
	}
	// A native may have swallowed a failed callback.
	in.pendingFault = nil
	in.regs.CIP = next
	return result
}

// ---------------------------------------------------------------------------
// Heap trackers and arrays
// ---------------------------------------------------------------------------

// pushTracker records a heap allocation of n bytes so trk.pop can free it.
// The record is a cell on the heap right after the allocation.
func (in *Instance) pushTracker(n cell.Cell) {
	addr := in.alloc(cell.Size)
	in.store(addr, n)
}

func (in *Instance) popTracker() {
	if in.regs.HEA-cell.Size < in.dataSize {
		panic(in.fail(ErrorHeapUnderflow, "no heap tracker"))
	}
	n := in.load(in.regs.HEA - cell.Size)
	if n < 0 || int64(in.regs.HEA)-cell.Size-int64(n) < int64(in.dataSize) {
		panic(in.fail(ErrorHeapUnderflow, "tracker of %d bytes exceeds heap", n))
	}
	in.setHEA(in.regs.HEA - cell.Size - n)
}

// genArray builds an n-dimensional array on the heap. The dimensions are
// on the stack with the innermost on top. Each level of indirection
// vectors is followed by the next; entries hold the byte distance from
// the entry to its sub-array. The array address replaces the outermost
// dimension and the other dimensions are popped.
func (in *Instance) genArray(n cell.Cell) {
	r := &in.regs
	if n < 1 {
		panic(in.fail(ErrorInvalidInstruction, "genarray with %d dimensions", n))
	}
	in.check(r.STK, cell.Bytes(int(n)))

	dims := make([]cell.Cell, n)
	for i := range dims {
		dims[i] = in.load(r.STK + cell.Cell(cell.Bytes(int(n)-1-i)))
		if dims[i] <= 0 {
			panic(in.fail(ErrorArrayBounds, "dimension %d has size %d", i, dims[i]))
		}
	}

	var total, count int64 = 0, 1
	for _, d := range dims {
		count *= int64(d)
		total += count
		if total > math.MaxInt32/cell.Size {
			panic(in.fail(ErrorHeapOverflow, "array of %v cells", dims))
		}
	}
	size := cell.Cell(total * cell.Size)
	base := in.alloc(size)

	level, entries := base, cell.Cell(1)
	for k := 0; k < len(dims)-1; k++ {
		entries *= dims[k]
		next := level + entries*cell.Size
		for j := cell.Cell(0); j < entries; j++ {
			entry := level + j*cell.Size
			in.store(entry, next+j*dims[k+1]*cell.Size-entry)
		}
		level = next
	}

	slot := r.STK + cell.Cell(cell.Bytes(int(n)-1))
	in.store(slot, base)
	in.setSTK(slot)
	in.pushTracker(size)
}

// initArray copies an initializer from the data section to dst and fills
// the remainder. Operands: template address, iv size, data size, fill
// size (all in cells) and fill value.
func (in *Instance) initArray(dst cell.Cell, args []cell.Cell) {
	addr, ivSize, dataSize, fillSize, fillValue := args[0], args[1], args[2], args[3], args[4]
	if ivSize < 0 || dataSize < 0 || fillSize < 0 {
		panic(in.fail(ErrorInvalidInstruction, "initarray sizes %d/%d/%d", ivSize, dataSize, fillSize))
	}
	head := int(ivSize) + int(dataSize)
	in.check(addr, cell.Bytes(head))

	tmpl := make([]cell.Cell, head)
	for i := range tmpl {
		tmpl[i] = in.load(addr + cell.Cell(cell.Bytes(i)))
	}
	ad, err := cell.NewArrayData(tmpl[:ivSize], tmpl[ivSize:], int(fillSize))
	if err != nil {
		panic(in.fail(ErrorArrayBounds, "%v", err))
	}
	buf := make([]cell.Cell, ad.TotalSize())
	if err := cell.NewDefaultArrayData(ad).Reset(buf); err != nil {
		panic(in.fail(ErrorArrayBounds, "%v", err))
	}
	if fillValue != 0 {
		for i := head; i < len(buf); i++ {
			buf[i] = fillValue
		}
	}

	in.check(dst, cell.Bytes(len(buf)))
	for i, v := range buf {
		in.store(dst+cell.Cell(cell.Bytes(i)), v)
	}
}

// rebase turns indirection-vector entries that hold offsets from the array
// start into offsets from the entry itself.
func (in *Instance) rebase(addr, ivSize, dataSize cell.Cell) {
	if ivSize < 0 || dataSize < 0 {
		panic(in.fail(ErrorInvalidInstruction, "rebase sizes %d/%d", ivSize, dataSize))
	}
	in.check(addr, cell.Bytes(int(ivSize)+int(dataSize)))
	for i := cell.Cell(0); i < ivSize; i++ {
		entry := addr + i*cell.Size
		in.store(entry, in.load(entry)-i*cell.Size)
	}
}
