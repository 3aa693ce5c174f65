package bytecode

import (
	"errors"
	"fmt"
	"sort"

	"github.com/chazu/cellvm/pkg/cell"
)

// ProgramVersion is the instruction-set version programs are built for.
const ProgramVersion uint16 = 1

// ArrayInfo describes an initializer template placed in the data section.
type ArrayInfo struct {
	Addr cell.Cell // Byte address of the first cell
	Init cell.DefaultArrayData
}

// Program is a compiled unit as handed over by a loader: the instruction
// stream, the initial data section, and the names of the natives it calls.
//
// Code addresses are byte offsets into Code; data addresses are byte
// offsets into Data. Native operands index Natives.
type Program struct {
	Name    string
	Version uint16

	Code []cell.Cell
	Data []cell.Cell

	Natives []string

	// Publics maps exported function names to their code address.
	Publics map[string]cell.Cell

	// Arrays and DataLabels are debug information.
	Arrays     map[string]ArrayInfo
	DataLabels map[string]cell.Cell
}

// PublicNames returns the exported names in sorted order.
func (p *Program) PublicNames() []string {
	names := make([]string, 0, len(p.Publics))
	for name := range p.Publics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CodeSize returns the code section length in bytes.
func (p *Program) CodeSize() int {
	return cell.Bytes(len(p.Code))
}

// DataSize returns the data section length in bytes.
func (p *Program) DataSize() int {
	return cell.Bytes(len(p.Data))
}

// LabeledCase is a casetbl entry whose target is a code label.
type LabeledCase struct {
	Value cell.Cell
	Label string
}

type fixup struct {
	index int // Cell index to patch
	label string
}

// Builder assembles a Program. Forward references to code labels are
// patched by Finish; errors are sticky and reported there.
type Builder struct {
	prog    *Program
	labels  map[string]int
	fixups  []fixup
	natives map[string]int
	exports map[string]string
	errs    []error
}

// NewBuilder creates an empty builder.
func NewBuilder(name string) *Builder {
	return &Builder{
		prog: &Program{
			Name:       name,
			Version:    ProgramVersion,
			Code:       make([]cell.Cell, 0, 64),
			Publics:    make(map[string]cell.Cell),
			Arrays:     make(map[string]ArrayInfo),
			DataLabels: make(map[string]cell.Cell),
		},
		labels:  make(map[string]int),
		natives: make(map[string]int),
		exports: make(map[string]string),
	}
}

func (b *Builder) fail(format string, args ...any) {
	b.errs = append(b.errs, fmt.Errorf(format, args...))
}

// CurrentOffset returns the byte offset of the next instruction.
func (b *Builder) CurrentOffset() int {
	return cell.Bytes(len(b.prog.Code))
}

// Emit appends an instruction and returns its byte offset.
func (b *Builder) Emit(op Opcode, operands ...cell.Cell) int {
	offset := b.CurrentOffset()
	if !op.Valid() {
		b.fail("emit at 0x%04X: unknown opcode %d", offset, uint32(op))
		return offset
	}
	if n := op.Operands(); n != VariableOperands && n != len(operands) {
		b.fail("emit %s at 0x%04X: want %d operands, got %d", op, offset, n, len(operands))
	}
	b.prog.Code = append(b.prog.Code, cell.Cell(op))
	b.prog.Code = append(b.prog.Code, operands...)
	return offset
}

// EmitJump emits op with a code label as its first operand.
func (b *Builder) EmitJump(op Opcode, label string, rest ...cell.Cell) int {
	offset := b.Emit(op, append([]cell.Cell{0}, rest...)...)
	b.fixups = append(b.fixups, fixup{index: offset/cell.Size + 1, label: label})
	return offset
}

// EmitCaseTable emits a casetbl whose targets are code labels.
func (b *Builder) EmitCaseTable(defaultLabel string, cases []LabeledCase) int {
	offset := b.CurrentOffset()
	base := offset / cell.Size
	operands := make([]cell.Cell, 2+2*len(cases))
	operands[0] = cell.Cell(len(cases))
	b.fixups = append(b.fixups, fixup{index: base + 2, label: defaultLabel})
	for i, c := range cases {
		operands[2+2*i] = c.Value
		b.fixups = append(b.fixups, fixup{index: base + 4 + 2*i, label: c.Label})
	}
	b.Emit(OpCaseTbl, operands...)
	return offset
}

// Native returns the native index for name, declaring it if needed.
func (b *Builder) Native(name string) cell.Cell {
	if idx, ok := b.natives[name]; ok {
		return cell.Cell(idx)
	}
	idx := len(b.prog.Natives)
	b.prog.Natives = append(b.prog.Natives, name)
	b.natives[name] = idx
	return cell.Cell(idx)
}

// EmitNative emits a native call instruction by native name.
func (b *Builder) EmitNative(op Opcode, name string, rest ...cell.Cell) int {
	if !op.HasNativeIndex() {
		b.fail("emit %s: operand is not a native index", op)
	}
	return b.Emit(op, append([]cell.Cell{b.Native(name)}, rest...)...)
}

// Label binds name to the current code offset.
func (b *Builder) Label(name string) {
	if _, dup := b.labels[name]; dup {
		b.fail("duplicate label %q", name)
		return
	}
	b.labels[name] = b.CurrentOffset()
}

// LabelOffset returns the byte offset bound to a code label.
func (b *Builder) LabelOffset(name string) (cell.Cell, bool) {
	off, ok := b.labels[name]
	return cell.Cell(off), ok
}

// AddData appends cells to the data section and returns their address.
func (b *Builder) AddData(label string, cells ...cell.Cell) cell.Cell {
	addr := cell.Cell(b.prog.DataSize())
	b.prog.Data = append(b.prog.Data, cells...)
	if label != "" {
		if _, dup := b.prog.DataLabels[label]; dup {
			b.fail("duplicate data label %q", label)
		}
		b.prog.DataLabels[label] = addr
	}
	return addr
}

// AddArray materializes an initializer into the data section so that
// initarray can copy it later.
func (b *Builder) AddArray(label string, ad *cell.ArrayData) cell.Cell {
	addr := b.AddData(label, ad.Materialize()...)
	if label != "" {
		b.prog.Arrays[label] = ArrayInfo{Addr: addr, Init: *cell.NewDefaultArrayData(ad)}
	}
	return addr
}

// Export publishes a code label under name.
func (b *Builder) Export(name, label string) {
	if _, dup := b.exports[name]; dup {
		b.fail("duplicate public %q", name)
		return
	}
	b.exports[name] = label
}

// Finish resolves label references and returns the program.
func (b *Builder) Finish() (*Program, error) {
	for _, f := range b.fixups {
		off, ok := b.labels[f.label]
		if !ok {
			b.fail("undefined label %q", f.label)
			continue
		}
		b.prog.Code[f.index] = cell.Cell(off)
	}
	for name, label := range b.exports {
		off, ok := b.labels[label]
		if !ok {
			b.fail("public %q: undefined label %q", name, label)
			continue
		}
		b.prog.Publics[name] = cell.Cell(off)
	}
	if len(b.errs) > 0 {
		return nil, fmt.Errorf("build %s: %w", b.prog.Name, errors.Join(b.errs...))
	}
	return b.prog, nil
}
