package vm

import (
	"errors"
	"fmt"

	"github.com/tliron/commonlog"

	"github.com/chazu/cellvm/pkg/bytecode"
	"github.com/chazu/cellvm/pkg/cell"
)

// Script is a verified program with every native resolved. It is
// read-only and may back any number of instances.
type Script struct {
	Program *bytecode.Program

	natives []NativeFunc
	starts  []bool // Cell index begins an instruction
	procs   []bool // Cell index holds a proc
}

// Link verifies the instruction stream of p and resolves its natives
// against reg. A stream that does not decode, or that jumps between
// instructions, fails with ErrDecode; unresolved natives fail with a
// *LinkError naming all of them.
func Link(p *bytecode.Program, reg *Registry) (*Script, error) {
	log := commonlog.GetLogger("cellvm.vm")

	s := &Script{
		Program: p,
		starts:  make([]bool, len(p.Code)),
		procs:   make([]bool, len(p.Code)),
	}

	var targets []bytecode.Instruction
	err := bytecode.Walk(p.Code, func(in bytecode.Instruction) error {
		pc := in.Offset / cell.Size
		s.starts[pc] = true
		switch {
		case in.Op == bytecode.OpProc:
			s.procs[pc] = true
		case in.Op.HasNativeIndex():
			if idx := in.Operands[0]; idx < 0 || int(idx) >= len(p.Natives) {
				return &bytecode.DecodeError{Offset: in.Offset, Value: cell.Cell(in.Op),
					Reason: fmt.Sprintf("native index %d out of range", idx)}
			}
		case in.Op.IsJump() || in.Op == bytecode.OpCaseTbl:
			targets = append(targets, in)
		}
		return nil
	})
	if err != nil {
		return nil, wrapDecode(err)
	}

	for _, in := range targets {
		if err := s.checkTargets(in); err != nil {
			return nil, wrapDecode(err)
		}
	}

	var missing []string
	s.natives = make([]NativeFunc, len(p.Natives))
	for i, name := range p.Natives {
		fn, ok := reg.Lookup(name)
		if !ok {
			missing = append(missing, name)
			continue
		}
		s.natives[i] = fn
	}
	if len(missing) > 0 {
		return nil, &LinkError{Program: p.Name, Missing: missing}
	}

	for name, addr := range p.Publics {
		if !s.isProc(addr) {
			return nil, fmt.Errorf("%w: public %q at 0x%04X is not a function", ErrLink, name, addr)
		}
	}

	log.Debug("linked program", "program", p.Name, "code", p.CodeSize(), "natives", len(p.Natives))
	return s, nil
}

func (s *Script) checkTargets(in bytecode.Instruction) error {
	check := func(target cell.Cell) error {
		if in.Op == bytecode.OpCall {
			if !s.isProc(target) {
				return &bytecode.DecodeError{Offset: in.Offset, Value: cell.Cell(in.Op),
					Reason: fmt.Sprintf("call target 0x%04X is not a function", target)}
			}
			return nil
		}
		if in.Op == bytecode.OpSwitch {
			if !s.isStart(target) || s.Program.Code[target/cell.Size] != cell.Cell(bytecode.OpCaseTbl) {
				return &bytecode.DecodeError{Offset: in.Offset, Value: cell.Cell(in.Op),
					Reason: fmt.Sprintf("switch target 0x%04X is not a casetbl", target)}
			}
			return nil
		}
		if !s.isStart(target) {
			return &bytecode.DecodeError{Offset: in.Offset, Value: cell.Cell(in.Op),
				Reason: fmt.Sprintf("jump target 0x%04X is not an instruction", target)}
		}
		return nil
	}

	if ct, ok := in.CaseTable(); ok {
		if err := check(ct.Default); err != nil {
			return err
		}
		for _, c := range ct.Cases {
			if err := check(c.Target); err != nil {
				return err
			}
		}
		return nil
	}
	return check(in.Operands[0])
}

func (s *Script) isStart(addr cell.Cell) bool {
	if addr < 0 || addr%cell.Size != 0 || int(addr/cell.Size) >= len(s.starts) {
		return false
	}
	return s.starts[addr/cell.Size]
}

func (s *Script) isProc(addr cell.Cell) bool {
	return s.isStart(addr) && s.procs[addr/cell.Size]
}

// Public returns the address of an exported function.
func (s *Script) Public(name string) (cell.Cell, bool) {
	addr, ok := s.Program.Publics[name]
	return addr, ok
}

// Native returns the function bound to a native index.
func (s *Script) Native(idx cell.Cell) (NativeFunc, bool) {
	if idx < 0 || int(idx) >= len(s.natives) {
		return nil, false
	}
	return s.natives[idx], true
}

func wrapDecode(err error) error {
	var de *bytecode.DecodeError
	if errors.As(err, &de) {
		return &verifyError{err: de}
	}
	return err
}
