package bytecode

import (
	"fmt"

	"github.com/chazu/cellvm/pkg/cell"
)

// Opcode identifies an instruction. The numbering is the position in the
// closed SMX v1 instruction list; changing it breaks every compiled program.
type Opcode uint32

const (
	// Loads and stores
	OpNone Opcode = iota
	OpLoadPri
	OpLoadAlt
	OpLoadSPri
	OpLoadSAlt
	OpLrefPri
	OpLrefAlt
	OpLrefSPri
	OpLrefSAlt
	OpLoadI
	OpLodbI
	OpConstPri
	OpConstAlt
	OpAddrPri
	OpAddrAlt
	OpStorPri
	OpStorAlt
	OpStorSPri
	OpStorSAlt
	OpSrefPri
	OpSrefAlt
	OpSrefSPri
	OpSrefSAlt
	OpStorI
	OpStrbI

	// Indexing, control registers and register moves
	OpLidx
	OpLidxB
	OpIdxAddr
	OpIdxAddrB
	OpAlignPri
	OpAlignAlt
	OpLCtrl
	OpSCtrl
	OpMovePri
	OpMoveAlt
	OpXchg

	// Stack, heap and calls
	OpPushPri
	OpPushAlt
	OpPushR
	OpPushC
	OpPush
	OpPushS
	OpPopPri
	OpPopAlt
	OpStack
	OpHeap
	OpProc
	OpRet
	OpRetn
	OpCall
	OpCallPri

	// Branches
	OpJump
	OpJRel
	OpJZer
	OpJNz
	OpJEq
	OpJNeq
	OpJLess
	OpJLeq
	OpJGrtr
	OpJGeq
	OpJSLess
	OpJSLeq
	OpJSGrtr
	OpJSGeq

	// Arithmetic and logic
	OpShl
	OpShr
	OpSShr
	OpShlCPri
	OpShlCAlt
	OpShrCPri
	OpShrCAlt
	OpSMul
	OpSDiv
	OpSDivAlt
	OpUMul
	OpUDiv
	OpUDivAlt
	OpAdd
	OpSub
	OpSubAlt
	OpAnd
	OpOr
	OpXor
	OpNot
	OpNeg
	OpInvert
	OpAddC
	OpSMulC
	OpZeroPri
	OpZeroAlt
	OpZero
	OpZeroS
	OpSignPri
	OpSignAlt

	// Comparisons, increments, block memory
	OpEq
	OpNeq
	OpLess
	OpLeq
	OpGrtr
	OpGeq
	OpSLess
	OpSLeq
	OpSGrtr
	OpSGeq
	OpEqCPri
	OpEqCAlt
	OpIncPri
	OpIncAlt
	OpInc
	OpIncS
	OpIncI
	OpDecPri
	OpDecAlt
	OpDec
	OpDecS
	OpDecI
	OpMovs
	OpCmps
	OpFill

	// Control, natives, debug information
	OpHalt
	OpBounds
	OpSysreqPri
	OpSysreqC
	OpFile
	OpLine
	OpSymbol
	OpSRange
	OpJumpPri
	OpSwitch
	OpCaseTbl
	OpSwapPri
	OpSwapAlt
	OpPushAdr
	OpNop
	OpSysreqN
	OpSymTag
	OpBreak

	// Packed pushes and loads
	OpPush2C
	OpPush2
	OpPush2S
	OpPush2Adr
	OpPush3C
	OpPush3
	OpPush3S
	OpPush3Adr
	OpPush4C
	OpPush4
	OpPush4S
	OpPush4Adr
	OpPush5C
	OpPush5
	OpPush5S
	OpPush5Adr
	OpLoadBoth
	OpLoadSBoth
	OpConst
	OpConstS

	// Arrays, trackers, frames
	OpSysreqD
	OpSysreqND
	OpTrackerPushC
	OpTrackerPop
	OpGenArray
	OpGenArrayZ
	OpStrAdjustPri
	OpStackAdjust
	OpEndProc
	OpLdgfnPri
	OpRebase
	OpInitArrayPri
	OpInitArrayAlt
	OpHeapSave
	OpHeapRestore

	// Opcodes from here on are VM-internal pseudo-opcodes. They are not part
	// of the ABI and may be renumbered between releases.
	OpFirstFake
	OpFAbs
	OpFloat
	OpDoubleToFloat
	OpFloatAdd
	OpFloatSub
	OpFloatMul
	OpFloatDiv
	OpRndToNearest
	OpRndToFloor
	OpRndToCeil
	OpRndToZero
	OpFloatCmp
	OpFloatGt
	OpFloatGe
	OpFloatLt
	OpFloatLe
	OpFloatNe
	OpFloatEq
	OpFloatNot
	OpDbAbs
	OpDouble
	OpFloatToDouble
	OpDoubleAdd
	OpDoubleSub
	OpDoubleMul
	OpDoubleDiv
	OpRndToNearestDouble
	OpRndToFloorDouble
	OpRndToCeilDouble
	OpRndToZeroDouble
	OpDoubleCmp
	OpDoubleGt
	OpDoubleGe
	OpDoubleLt
	OpDoubleLe
	OpDoubleNe
	OpDoubleEq
	OpDoubleNot

	// OpcodeCount is the number of identifiers in the table.
	OpcodeCount
)

// VariableOperands marks an instruction whose length is encoded in its own
// operands. Only casetbl uses it.
const VariableOperands = -1

// OpcodeInfo describes an instruction.
type OpcodeInfo struct {
	Name      string // Mnemonic
	Operands  int    // Cells following the opcode cell, or VariableOperands
	Generated bool   // The compiler may emit it
	Pseudo    bool   // Below the ABI-stable boundary
}

// opcodeTable is indexed by identifier.
var opcodeTable = [OpcodeCount]OpcodeInfo{
	// Loads and stores
	OpNone:     {"none", 0, true, false},
	OpLoadPri:  {"load.pri", 1, true, false},
	OpLoadAlt:  {"load.alt", 1, true, false},
	OpLoadSPri: {"load.s.pri", 1, true, false},
	OpLoadSAlt: {"load.s.alt", 1, true, false},
	OpLrefPri:  {"lref.pri", 1, false, false},
	OpLrefAlt:  {"lref.alt", 1, false, false},
	OpLrefSPri: {"lref.s.pri", 1, true, false},
	OpLrefSAlt: {"lref.s.alt", 1, true, false},
	OpLoadI:    {"load.i", 0, true, false},
	OpLodbI:    {"lodb.i", 1, true, false},
	OpConstPri: {"const.pri", 1, true, false},
	OpConstAlt: {"const.alt", 1, true, false},
	OpAddrPri:  {"addr.pri", 1, true, false},
	OpAddrAlt:  {"addr.alt", 1, true, false},
	OpStorPri:  {"stor.pri", 1, true, false},
	OpStorAlt:  {"stor.alt", 1, true, false},
	OpStorSPri: {"stor.s.pri", 1, true, false},
	OpStorSAlt: {"stor.s.alt", 1, true, false},
	OpSrefPri:  {"sref.pri", 1, false, false},
	OpSrefAlt:  {"sref.alt", 1, false, false},
	OpSrefSPri: {"sref.s.pri", 1, true, false},
	OpSrefSAlt: {"sref.s.alt", 1, true, false},
	OpStorI:    {"stor.i", 0, true, false},
	OpStrbI:    {"strb.i", 1, true, false},

	// Indexing, control registers and register moves
	OpLidx:     {"lidx", 0, true, false},
	OpLidxB:    {"lidx.b", 1, false, false},
	OpIdxAddr:  {"idxaddr", 0, true, false},
	OpIdxAddrB: {"idxaddr.b", 1, false, false},
	OpAlignPri: {"align.pri", 1, false, false},
	OpAlignAlt: {"align.alt", 1, false, false},
	OpLCtrl:    {"lctrl", 1, false, false},
	OpSCtrl:    {"sctrl", 1, false, false},
	OpMovePri:  {"move.pri", 0, true, false},
	OpMoveAlt:  {"move.alt", 0, true, false},
	OpXchg:     {"xchg", 0, true, false},

	// Stack, heap and calls
	OpPushPri: {"push.pri", 0, true, false},
	OpPushAlt: {"push.alt", 0, true, false},
	OpPushR:   {"push.r", 1, false, false},
	OpPushC:   {"push.c", 1, true, false},
	OpPush:    {"push", 1, true, false},
	OpPushS:   {"push.s", 1, true, false},
	OpPopPri:  {"pop.pri", 0, true, false},
	OpPopAlt:  {"pop.alt", 0, true, false},
	OpStack:   {"stack", 1, true, false},
	OpHeap:    {"heap", 1, true, false},
	OpProc:    {"proc", 0, true, false},
	OpRet:     {"ret", 0, false, false},
	OpRetn:    {"retn", 0, true, false},
	OpCall:    {"call", 1, true, false},
	OpCallPri: {"call.pri", 0, false, false},

	// Branches
	OpJump:   {"jump", 1, true, false},
	OpJRel:   {"jrel", 1, false, false},
	OpJZer:   {"jzer", 1, true, false},
	OpJNz:    {"jnz", 1, true, false},
	OpJEq:    {"jeq", 1, true, false},
	OpJNeq:   {"jneq", 1, true, false},
	OpJLess:  {"jless", 1, false, false},
	OpJLeq:   {"jleq", 1, false, false},
	OpJGrtr:  {"jgrtr", 1, false, false},
	OpJGeq:   {"jgeq", 1, false, false},
	OpJSLess: {"jsless", 1, true, false},
	OpJSLeq:  {"jsleq", 1, true, false},
	OpJSGrtr: {"jsgrtr", 1, true, false},
	OpJSGeq:  {"jsgeq", 1, true, false},

	// Arithmetic and logic
	OpShl:     {"shl", 0, true, false},
	OpShr:     {"shr", 0, true, false},
	OpSShr:    {"sshr", 0, true, false},
	OpShlCPri: {"shl.c.pri", 1, true, false},
	OpShlCAlt: {"shl.c.alt", 1, true, false},
	OpShrCPri: {"shr.c.pri", 1, false, false},
	OpShrCAlt: {"shr.c.alt", 1, false, false},
	OpSMul:    {"smul", 0, true, false},
	OpSDiv:    {"sdiv", 0, true, false},
	OpSDivAlt: {"sdiv.alt", 0, true, false},
	OpUMul:    {"umul", 0, false, false},
	OpUDiv:    {"udiv", 0, false, false},
	OpUDivAlt: {"udiv.alt", 0, false, false},
	OpAdd:     {"add", 0, true, false},
	OpSub:     {"sub", 0, true, false},
	OpSubAlt:  {"sub.alt", 0, true, false},
	OpAnd:     {"and", 0, true, false},
	OpOr:      {"or", 0, true, false},
	OpXor:     {"xor", 0, true, false},
	OpNot:     {"not", 0, true, false},
	OpNeg:     {"neg", 0, true, false},
	OpInvert:  {"invert", 0, true, false},
	OpAddC:    {"add.c", 1, true, false},
	OpSMulC:   {"smul.c", 1, true, false},
	OpZeroPri: {"zero.pri", 0, true, false},
	OpZeroAlt: {"zero.alt", 0, true, false},
	OpZero:    {"zero", 1, true, false},
	OpZeroS:   {"zero.s", 1, true, false},
	OpSignPri: {"sign.pri", 0, false, false},
	OpSignAlt: {"sign.alt", 0, false, false},

	// Comparisons, increments, block memory
	OpEq:     {"eq", 0, true, false},
	OpNeq:    {"neq", 0, true, false},
	OpLess:   {"less", 0, false, false},
	OpLeq:    {"leq", 0, false, false},
	OpGrtr:   {"grtr", 0, false, false},
	OpGeq:    {"geq", 0, false, false},
	OpSLess:  {"sless", 0, true, false},
	OpSLeq:   {"sleq", 0, true, false},
	OpSGrtr:  {"sgrtr", 0, true, false},
	OpSGeq:   {"sgeq", 0, true, false},
	OpEqCPri: {"eq.c.pri", 1, true, false},
	OpEqCAlt: {"eq.c.alt", 1, true, false},
	OpIncPri: {"inc.pri", 0, true, false},
	OpIncAlt: {"inc.alt", 0, true, false},
	OpInc:    {"inc", 1, true, false},
	OpIncS:   {"inc.s", 1, true, false},
	OpIncI:   {"inc.i", 0, true, false},
	OpDecPri: {"dec.pri", 0, true, false},
	OpDecAlt: {"dec.alt", 0, true, false},
	OpDec:    {"dec", 1, true, false},
	OpDecS:   {"dec.s", 1, true, false},
	OpDecI:   {"dec.i", 0, true, false},
	OpMovs:   {"movs", 1, true, false},
	OpCmps:   {"cmps", 1, false, false},
	OpFill:   {"fill", 1, true, false},

	// Control, natives, debug information
	OpHalt:      {"halt", 1, true, false},
	OpBounds:    {"bounds", 1, true, false},
	OpSysreqPri: {"sysreq.pri", 0, false, false},
	OpSysreqC:   {"sysreq.c", 1, true, false},
	OpFile:      {"file", 1, false, false},
	OpLine:      {"line", 2, false, false},
	OpSymbol:    {"symbol", 0, false, false},
	OpSRange:    {"srange", 2, false, false},
	OpJumpPri:   {"jump.pri", 0, false, false},
	OpSwitch:    {"switch", 1, true, false},
	OpCaseTbl:   {"casetbl", VariableOperands, true, false},
	OpSwapPri:   {"swap.pri", 0, true, false},
	OpSwapAlt:   {"swap.alt", 0, true, false},
	OpPushAdr:   {"push.adr", 1, true, false},
	OpNop:       {"nop", 0, true, false},
	OpSysreqN:   {"sysreq.n", 2, true, false},
	OpSymTag:    {"symtag", 1, false, false},
	OpBreak:     {"break", 0, true, false},

	// Packed pushes and loads
	OpPush2C:    {"push2.c", 2, true, false},
	OpPush2:     {"push2", 2, true, false},
	OpPush2S:    {"push2.s", 2, true, false},
	OpPush2Adr:  {"push2.adr", 2, true, false},
	OpPush3C:    {"push3.c", 3, true, false},
	OpPush3:     {"push3", 3, true, false},
	OpPush3S:    {"push3.s", 3, true, false},
	OpPush3Adr:  {"push3.adr", 3, true, false},
	OpPush4C:    {"push4.c", 4, true, false},
	OpPush4:     {"push4", 4, true, false},
	OpPush4S:    {"push4.s", 4, true, false},
	OpPush4Adr:  {"push4.adr", 4, true, false},
	OpPush5C:    {"push5.c", 5, true, false},
	OpPush5:     {"push5", 5, true, false},
	OpPush5S:    {"push5.s", 5, true, false},
	OpPush5Adr:  {"push5.adr", 5, true, false},
	OpLoadBoth:  {"load.both", 2, true, false},
	OpLoadSBoth: {"load.s.both", 2, true, false},
	OpConst:     {"const", 2, true, false},
	OpConstS:    {"const.s", 2, true, false},

	// Arrays, trackers, frames
	OpSysreqD:      {"sysreq.d", 1, false, false},
	OpSysreqND:     {"sysreq.nd", 2, false, false},
	OpTrackerPushC: {"trk.push.c", 1, true, false},
	OpTrackerPop:   {"trk.pop", 0, true, false},
	OpGenArray:     {"genarray", 1, true, false},
	OpGenArrayZ:    {"genarray.z", 1, true, false},
	OpStrAdjustPri: {"stradjust.pri", 0, true, false},
	OpStackAdjust:  {"stackadjust", 1, false, false},
	OpEndProc:      {"endproc", 0, true, false},
	OpLdgfnPri:     {"ldgfn.pri", 1, false, false},
	OpRebase:       {"rebase", 3, false, false},
	OpInitArrayPri: {"initarray.pri", 5, true, false},
	OpInitArrayAlt: {"initarray.alt", 5, true, false},
	OpHeapSave:     {"heap.save", 0, true, false},
	OpHeapRestore:  {"heap.restore", 0, true, false},

	// Pseudo-opcodes
	OpFirstFake:          {"firstfake", 0, false, false},
	OpFAbs:               {"fabs", 0, true, true},
	OpFloat:              {"float", 0, true, true},
	OpDoubleToFloat:      {"floatdb", 0, true, true},
	OpFloatAdd:           {"float.add", 0, true, true},
	OpFloatSub:           {"float.sub", 0, true, true},
	OpFloatMul:           {"float.mul", 0, true, true},
	OpFloatDiv:           {"float.div", 0, true, true},
	OpRndToNearest:       {"round", 0, true, true},
	OpRndToFloor:         {"floor", 0, true, true},
	OpRndToCeil:          {"ceil", 0, true, true},
	OpRndToZero:          {"rndtozero", 0, true, true},
	OpFloatCmp:           {"float.cmp", 0, true, true},
	OpFloatGt:            {"float.gt", 0, true, true},
	OpFloatGe:            {"float.ge", 0, true, true},
	OpFloatLt:            {"float.lt", 0, true, true},
	OpFloatLe:            {"float.le", 0, true, true},
	OpFloatNe:            {"float.ne", 0, true, true},
	OpFloatEq:            {"float.eq", 0, true, true},
	OpFloatNot:           {"float.not", 0, true, true},
	OpDbAbs:              {"dbabs", 0, true, true},
	OpDouble:             {"double", 0, true, true},
	OpFloatToDouble:      {"doublef", 0, true, true},
	OpDoubleAdd:          {"double.add", 0, true, true},
	OpDoubleSub:          {"double.sub", 0, true, true},
	OpDoubleMul:          {"double.mul", 0, true, true},
	OpDoubleDiv:          {"double.div", 0, true, true},
	OpRndToNearestDouble: {"double.round", 0, true, true},
	OpRndToFloorDouble:   {"double.floor", 0, true, true},
	OpRndToCeilDouble:    {"double.ceil", 0, true, true},
	OpRndToZeroDouble:    {"double.rndtozero", 0, true, true},
	OpDoubleCmp:          {"double.cmp", 0, true, true},
	OpDoubleGt:           {"double.gt", 0, true, true},
	OpDoubleGe:           {"double.ge", 0, true, true},
	OpDoubleLt:           {"double.lt", 0, true, true},
	OpDoubleLe:           {"double.le", 0, true, true},
	OpDoubleNe:           {"double.ne", 0, true, true},
	OpDoubleEq:           {"double.eq", 0, true, true},
	OpDoubleNot:          {"double.not", 0, true, true},
}

var mnemonics = func() map[string]Opcode {
	m := make(map[string]Opcode, len(opcodeTable))
	for i, info := range opcodeTable {
		m[info.Name] = Opcode(i)
	}
	return m
}()

// GetOpcodeInfo returns metadata for an opcode.
// Returns a zero OpcodeInfo with name "UNKNOWN" if the opcode is not recognized.
func GetOpcodeInfo(op Opcode) OpcodeInfo {
	if op.Valid() {
		return opcodeTable[op]
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN(%d)", uint32(op))}
}

// Lookup returns the identifier for a mnemonic.
func Lookup(mnemonic string) (Opcode, bool) {
	op, ok := mnemonics[mnemonic]
	return op, ok
}

// Valid reports whether op is in the table.
func (op Opcode) Valid() bool {
	return op < OpcodeCount
}

// String returns the mnemonic of an opcode.
func (op Opcode) String() string {
	return GetOpcodeInfo(op).Name
}

// Operands returns the number of operand cells, or VariableOperands.
func (op Opcode) Operands() int {
	return GetOpcodeInfo(op).Operands
}

// IsGenerated reports whether the compiler may emit op.
func (op Opcode) IsGenerated() bool {
	return GetOpcodeInfo(op).Generated
}

// IsPseudo reports whether op is a VM-internal pseudo-opcode.
func (op Opcode) IsPseudo() bool {
	return GetOpcodeInfo(op).Pseudo
}

// IsJump returns true if the first operand of op is a code address.
func (op Opcode) IsJump() bool {
	switch op {
	case OpJump, OpJZer, OpJNz, OpJEq, OpJNeq, OpJLess, OpJLeq, OpJGrtr, OpJGeq,
		OpJSLess, OpJSLeq, OpJSGrtr, OpJSGeq, OpCall, OpSwitch:
		return true
	}
	return false
}

// IsNativeCall returns true if op calls out to a native function.
func (op Opcode) IsNativeCall() bool {
	switch op {
	case OpSysreqC, OpSysreqN, OpSysreqPri, OpSysreqD, OpSysreqND:
		return true
	}
	return false
}

// HasNativeIndex reports whether the first operand of op indexes the
// program's native table.
func (op Opcode) HasNativeIndex() bool {
	switch op {
	case OpSysreqC, OpSysreqN, OpSysreqD, OpSysreqND:
		return true
	}
	return false
}

// AllOpcodes returns every identifier in numeric order.
func AllOpcodes() []Opcode {
	opcodes := make([]Opcode, OpcodeCount)
	for i := range opcodes {
		opcodes[i] = Opcode(i)
	}
	return opcodes
}

// FromCell decodes an opcode cell.
func FromCell(c cell.Cell) (Opcode, bool) {
	op := Opcode(uint32(c))
	return op, op.Valid()
}
