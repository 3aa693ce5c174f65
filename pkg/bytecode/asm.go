package bytecode

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/chazu/cellvm/pkg/cell"
)

// AsmError reports a problem in assembler source.
type AsmError struct {
	Line int
	Msg  string
}

func (e *AsmError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
}

// Assemble translates textual assembly into a Program.
//
// One instruction per line, written as a mnemonic followed by its operands.
// A line may start with "label:". Comments start with ';'. Directives:
//
//	.native name...                 declare natives in index order
//	.data label value...            append cells to the data section
//	.string label "text"            append a packed, NUL-terminated string
//	.array label iv v... data v... zero n
//	.public name [label]            export a code label
//
// Operands are integers (decimal, 0x hex, 'c' chars), float literals with
// an f suffix (1.5f), or symbols. The first operand of a sysreq with a native
// index names a native; other symbols resolve to code labels first, then to data
// labels. A casetbl is written as "casetbl default value target...".
func Assemble(name, src string) (*Program, error) {
	a := &assembler{
		b:    NewBuilder(name),
		code: make(map[string]int),
	}
	if err := a.layout(src); err != nil {
		return nil, err
	}
	if err := a.emit(); err != nil {
		return nil, err
	}
	return a.b.Finish()
}

type asmInstr struct {
	line   int
	labels []string
	op     Opcode
	args   []string
}

type assembler struct {
	b      *Builder
	code   map[string]int // Code label -> byte offset
	instrs []asmInstr
}

// layout runs the first pass: data directives are applied and every code
// label gets its offset.
func (a *assembler) layout(src string) error {
	offset := 0
	var pending []string

	for i, raw := range strings.Split(src, "\n") {
		num := i + 1
		fields, err := splitFields(raw)
		if err != nil {
			return &AsmError{Line: num, Msg: err.Error()}
		}
		for len(fields) > 0 && strings.HasSuffix(fields[0], ":") {
			label := strings.TrimSuffix(fields[0], ":")
			if !isSymbol(label) {
				return &AsmError{Line: num, Msg: fmt.Sprintf("bad label %q", label)}
			}
			if _, dup := a.code[label]; dup {
				return &AsmError{Line: num, Msg: fmt.Sprintf("duplicate label %q", label)}
			}
			a.code[label] = offset
			pending = append(pending, label)
			fields = fields[1:]
		}
		if len(fields) == 0 {
			continue
		}

		if strings.HasPrefix(fields[0], ".") {
			if err := a.directive(fields); err != nil {
				return &AsmError{Line: num, Msg: err.Error()}
			}
			continue
		}

		op, ok := Lookup(fields[0])
		if !ok {
			return &AsmError{Line: num, Msg: fmt.Sprintf("unknown mnemonic %q", fields[0])}
		}
		args := fields[1:]
		width := op.Operands()
		if width == VariableOperands {
			if len(args) == 0 || len(args)%2 == 0 {
				return &AsmError{Line: num, Msg: "casetbl wants a default and value/target pairs"}
			}
			width = 2 + 2*((len(args)-1)/2)
		} else if len(args) != width {
			return &AsmError{Line: num, Msg: fmt.Sprintf("%s wants %d operands, got %d", op, width, len(args))}
		}

		a.instrs = append(a.instrs, asmInstr{line: num, labels: pending, op: op, args: args})
		pending = nil
		offset += cell.Bytes(1 + width)
	}

	// Trailing labels bind to the end of code.
	if len(pending) > 0 {
		a.instrs = append(a.instrs, asmInstr{labels: pending, op: OpcodeCount})
	}
	return nil
}

func (a *assembler) directive(fields []string) error {
	args := fields[1:]
	switch fields[0] {
	case ".native":
		for _, name := range args {
			a.b.Native(name)
		}

	case ".data":
		if len(args) == 0 {
			return fmt.Errorf(".data wants a label")
		}
		cells := make([]cell.Cell, 0, len(args)-1)
		for _, arg := range args[1:] {
			v, err := a.dataValue(arg)
			if err != nil {
				return err
			}
			cells = append(cells, v)
		}
		a.b.AddData(args[0], cells...)

	case ".string":
		if len(args) != 2 {
			return fmt.Errorf(".string wants a label and a quoted string")
		}
		s, err := strconv.Unquote(args[1])
		if err != nil {
			return fmt.Errorf(".string %s: %w", args[0], err)
		}
		a.b.AddData(args[0], PackString(s)...)

	case ".array":
		if len(args) == 0 {
			return fmt.Errorf(".array wants a label")
		}
		ad, err := a.arrayData(args[1:])
		if err != nil {
			return fmt.Errorf(".array %s: %w", args[0], err)
		}
		a.b.AddArray(args[0], ad)

	case ".public":
		switch len(args) {
		case 1:
			a.b.Export(args[0], args[0])
		case 2:
			a.b.Export(args[0], args[1])
		default:
			return fmt.Errorf(".public wants a name and an optional label")
		}

	default:
		return fmt.Errorf("unknown directive %s", fields[0])
	}
	return nil
}

func (a *assembler) arrayData(args []string) (*cell.ArrayData, error) {
	var iv, data []cell.Cell
	zeroes := 0
	section := ""
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "iv", "data":
			section = args[i]
			continue
		case "zero":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("zero wants a count")
			}
			n, err := strconv.Atoi(args[i+1])
			if err != nil {
				return nil, fmt.Errorf("zero count %q: %w", args[i+1], err)
			}
			zeroes = n
			i++
			continue
		}
		v, err := parseLiteral(args[i])
		if err != nil {
			return nil, err
		}
		switch section {
		case "iv":
			iv = append(iv, v)
		case "data":
			data = append(data, v)
		default:
			return nil, fmt.Errorf("value %s outside iv or data", args[i])
		}
	}
	return cell.NewArrayData(iv, data, zeroes)
}

func (a *assembler) dataValue(arg string) (cell.Cell, error) {
	if isSymbol(arg) {
		if addr, ok := a.b.prog.DataLabels[arg]; ok {
			return addr, nil
		}
		return 0, fmt.Errorf("undefined data label %q", arg)
	}
	return parseLiteral(arg)
}

// emit runs the second pass.
func (a *assembler) emit() error {
	for _, in := range a.instrs {
		for _, label := range in.labels {
			a.b.Label(label)
		}
		if in.op == OpcodeCount {
			continue
		}
		operands := make([]cell.Cell, 0, len(in.args)+1)
		if in.op == OpCaseTbl {
			operands = append(operands, cell.Cell((len(in.args)-1)/2))
		}
		for i, arg := range in.args {
			v, err := a.operand(in.op, i, arg)
			if err != nil {
				return &AsmError{Line: in.line, Msg: err.Error()}
			}
			operands = append(operands, v)
		}
		a.b.Emit(in.op, operands...)
	}
	return nil
}

func (a *assembler) operand(op Opcode, pos int, arg string) (cell.Cell, error) {
	if !isSymbol(arg) {
		return parseLiteral(arg)
	}
	if pos == 0 && op.HasNativeIndex() {
		return a.b.Native(arg), nil
	}
	if off, ok := a.code[arg]; ok {
		return cell.Cell(off), nil
	}
	if addr, ok := a.b.prog.DataLabels[arg]; ok {
		return addr, nil
	}
	return 0, fmt.Errorf("undefined symbol %q", arg)
}

// PackString lays s out as NUL-terminated bytes packed little-endian into
// cells.
func PackString(s string) []cell.Cell {
	buf := make([]byte, cell.Bytes((len(s)+cell.Size)/cell.Size))
	copy(buf, s)
	cells := make([]cell.Cell, len(buf)/cell.Size)
	for i := range cells {
		cells[i] = cell.Cell(binary.LittleEndian.Uint32(buf[cell.Bytes(i):]))
	}
	return cells
}

func parseLiteral(s string) (cell.Cell, error) {
	if strings.HasPrefix(s, "'") {
		r, err := strconv.Unquote(s)
		if err != nil || len([]rune(r)) != 1 {
			return 0, fmt.Errorf("bad character literal %s", s)
		}
		return cell.Cell([]rune(r)[0]), nil
	}
	digits := strings.TrimLeft(s, "+-")
	isHex := strings.HasPrefix(digits, "0x") || strings.HasPrefix(digits, "0X")
	if strings.HasSuffix(s, "f") && strings.ContainsAny(s, ".eE") && !isHex {
		f, err := strconv.ParseFloat(strings.TrimSuffix(s, "f"), 32)
		if err != nil {
			return 0, fmt.Errorf("bad float literal %s", s)
		}
		return cell.FromFloat(float32(f)), nil
	}
	n, err := strconv.ParseInt(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("bad literal %s", s)
	}
	if n < -1<<31 || n > 1<<32-1 {
		return 0, fmt.Errorf("literal %s does not fit a cell", s)
	}
	return cell.Cell(int32(uint32(n))), nil
}

func isSymbol(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_' || r == '.' || r == '@':
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

// splitFields breaks a line into whitespace or comma separated fields,
// keeping quoted strings intact and dropping comments.
func splitFields(line string) ([]string, error) {
	var fields []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			fields = append(fields, cur.String())
			cur.Reset()
		}
	}

	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case c == ';':
			flush()
			return fields, nil
		case c == ' ' || c == '\t' || c == ',' || c == '\r':
			flush()
		case c == '"' || c == '\'':
			j := i + 1
			for j < len(line) && line[j] != c {
				if line[j] == '\\' {
					j++
				}
				j++
			}
			if j >= len(line) {
				return nil, fmt.Errorf("unterminated quote")
			}
			cur.WriteString(line[i : j+1])
			i = j
		default:
			cur.WriteByte(c)
		}
	}
	flush()
	return fields, nil
}
