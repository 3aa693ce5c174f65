package bytecode

import (
	"strings"
	"testing"

	"github.com/chazu/cellvm/pkg/cell"
)

func TestAllOpcodesHaveMetadata(t *testing.T) {
	for _, op := range AllOpcodes() {
		info := GetOpcodeInfo(op)
		if info.Name == "" || strings.HasPrefix(info.Name, "UNKNOWN") {
			t.Errorf("Opcode %d has no metadata", uint32(op))
		}
	}
}

func TestOpcodeCount(t *testing.T) {
	if OpcodeCount != 212 {
		t.Errorf("OpcodeCount = %d, want 212", OpcodeCount)
	}
	if len(AllOpcodes()) != int(OpcodeCount) {
		t.Errorf("AllOpcodes() has %d entries", len(AllOpcodes()))
	}
}

func TestOpcodeNumbering(t *testing.T) {
	tests := []struct {
		op   Opcode
		id   uint32
		name string
	}{
		{OpNone, 0, "none"},
		{OpLoadPri, 1, "load.pri"},
		{OpPushC, 39, "push.c"},
		{OpProc, 46, "proc"},
		{OpRetn, 48, "retn"},
		{OpCall, 49, "call"},
		{OpHalt, 120, "halt"},
		{OpBounds, 121, "bounds"},
		{OpSysreqC, 123, "sysreq.c"},
		{OpCaseTbl, 130, "casetbl"},
		{OpNop, 134, "nop"},
		{OpSysreqN, 135, "sysreq.n"},
		{OpBreak, 137, "break"},
		{OpGenArray, 162, "genarray"},
		{OpHeapRestore, 172, "heap.restore"},
		{OpFirstFake, 173, "firstfake"},
		{OpFAbs, 174, "fabs"},
		{OpDoubleNot, 211, "double.not"},
	}

	for _, tt := range tests {
		if uint32(tt.op) != tt.id {
			t.Errorf("%s = %d, want %d", tt.name, uint32(tt.op), tt.id)
		}
		if got := tt.op.String(); got != tt.name {
			t.Errorf("Opcode(%d).String() = %q, want %q", tt.id, got, tt.name)
		}
	}
}

func TestUnknownOpcodeString(t *testing.T) {
	op := Opcode(212)
	if got := op.String(); !strings.HasPrefix(got, "UNKNOWN") {
		t.Errorf("Unknown opcode should return UNKNOWN, got %q", got)
	}
	if op.Valid() {
		t.Error("212 should not be valid")
	}
	if _, ok := FromCell(cell.Cell(-1)); ok {
		t.Error("FromCell(-1) should fail")
	}
}

func TestMnemonicRoundTrip(t *testing.T) {
	for _, op := range AllOpcodes() {
		got, ok := Lookup(op.String())
		if !ok || got != op {
			t.Errorf("Lookup(%q) = %d, %v; want %d", op.String(), got, ok, op)
		}
	}
	if _, ok := Lookup("no.such.op"); ok {
		t.Error("Lookup should fail for unknown mnemonic")
	}
}

func TestOpcodeOperands(t *testing.T) {
	tests := []struct {
		op   Opcode
		want int
	}{
		{OpNone, 0},
		{OpLoadPri, 1},
		{OpLoadI, 0},
		{OpPushC, 1},
		{OpPush5Adr, 5},
		{OpSysreqN, 2},
		{OpSysreqC, 1},
		{OpInitArrayPri, 5},
		{OpRebase, 3},
		{OpLine, 2},
		{OpRet, 0},
		{OpCaseTbl, VariableOperands},
		{OpFloatAdd, 0},
	}

	for _, tt := range tests {
		if got := tt.op.Operands(); got != tt.want {
			t.Errorf("%s.Operands() = %d, want %d", tt.op, got, tt.want)
		}
	}
}

func TestOnlyCaseTableIsVariable(t *testing.T) {
	for _, op := range AllOpcodes() {
		if op.Operands() == VariableOperands && op != OpCaseTbl {
			t.Errorf("%s has variable operands", op)
		}
	}
}

func TestPseudoBoundary(t *testing.T) {
	for _, op := range AllOpcodes() {
		want := op > OpFirstFake
		if op.IsPseudo() != want {
			t.Errorf("%s.IsPseudo() = %v, want %v", op, op.IsPseudo(), want)
		}
	}
	if OpFirstFake.IsGenerated() {
		t.Error("firstfake is a marker and is never generated")
	}
}

func TestUngeneratedOpcodes(t *testing.T) {
	for _, op := range []Opcode{OpLrefPri, OpSrefAlt, OpRet, OpCallPri, OpJRel, OpSysreqPri, OpSysreqD, OpRebase, OpFile, OpLine} {
		if op.IsGenerated() {
			t.Errorf("%s should be marked as never generated", op)
		}
	}
	for _, op := range []Opcode{OpProc, OpRetn, OpCall, OpSysreqN, OpGenArray, OpHeapSave, OpFloatAdd} {
		if !op.IsGenerated() {
			t.Errorf("%s should be marked as generated", op)
		}
	}
}

func TestOpcodeClassification(t *testing.T) {
	if !OpJump.IsJump() || !OpCall.IsJump() || !OpSwitch.IsJump() {
		t.Error("jump, call and switch carry code addresses")
	}
	if OpJRel.IsJump() || OpPushC.IsJump() {
		t.Error("jrel and push.c do not carry absolute code addresses")
	}
	if !OpSysreqC.IsNativeCall() || !OpSysreqPri.IsNativeCall() {
		t.Error("sysreq variants call natives")
	}
	if !OpSysreqN.HasNativeIndex() || !OpSysreqD.HasNativeIndex() || OpSysreqPri.HasNativeIndex() {
		t.Error("sysreq.pri takes its native index from PRI, the others from an operand")
	}
}
