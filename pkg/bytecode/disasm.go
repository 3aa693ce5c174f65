package bytecode

import (
	"fmt"
	"strings"

	"github.com/chazu/cellvm/pkg/cell"
)

// Disassemble returns a human-readable listing of the program.
func (p *Program) Disassemble() string {
	var sb strings.Builder

	if p.Name != "" {
		fmt.Fprintf(&sb, "; === %s ===\n", p.Name)
	}
	fmt.Fprintf(&sb, "; cellvm bytecode v%d\n", p.Version)
	fmt.Fprintf(&sb, "; Code: %d bytes, Data: %d bytes\n", p.CodeSize(), p.DataSize())

	if len(p.Natives) > 0 {
		sb.WriteString("; Natives:\n")
		for i, name := range p.Natives {
			fmt.Fprintf(&sb, ";   [%3d] %s\n", i, name)
		}
	}
	if len(p.Publics) > 0 {
		sb.WriteString("; Publics:\n")
		for _, name := range p.PublicNames() {
			fmt.Fprintf(&sb, ";   %04X %s\n", p.Publics[name], name)
		}
	}
	sb.WriteString("\n; Code:\n")

	lines, err := DisassembleToLines(p.Code, p.Natives)
	for _, line := range lines {
		sb.WriteString(line)
		sb.WriteByte('\n')
	}
	if err != nil {
		fmt.Fprintf(&sb, "; %v\n", err)
	}
	return sb.String()
}

// Disassemble renders code without native names.
func Disassemble(code []cell.Cell) (string, error) {
	lines, err := DisassembleToLines(code, nil)
	return strings.Join(lines, "\n"), err
}

// DisassembleToLines returns one line per instruction, plus one line per
// casetbl entry. Lines decoded before an error are still returned.
func DisassembleToLines(code []cell.Cell, natives []string) ([]string, error) {
	var lines []string
	err := Walk(code, func(in Instruction) error {
		lines = append(lines, fmt.Sprintf("%04X  %s", in.Offset, FormatInstruction(in, natives)))
		if ct, ok := in.CaseTable(); ok {
			for _, c := range ct.Cases {
				lines = append(lines, fmt.Sprintf("        case %d -> %04X", c.Value, c.Target))
			}
		}
		return nil
	})
	return lines, err
}

// FormatInstruction renders one instruction. Native operands are annotated
// with their name when natives is given.
func FormatInstruction(in Instruction, natives []string) string {
	name := in.Op.String()
	switch {
	case in.Op == OpCaseTbl:
		ct, _ := in.CaseTable()
		return fmt.Sprintf("%s %d default -> %04X", name, len(ct.Cases), ct.Default)

	case in.Op.IsJump():
		return fmt.Sprintf("%s %04X", name, in.Operands[0])

	case in.Op.HasNativeIndex():
		idx := in.Operands[0]
		rest := formatOperands(in.Operands[1:])
		note := ""
		if idx >= 0 && int(idx) < len(natives) {
			note = " ; " + natives[idx]
		}
		if rest != "" {
			return fmt.Sprintf("%s %d %s%s", name, idx, rest, note)
		}
		return fmt.Sprintf("%s %d%s", name, idx, note)
	}

	if len(in.Operands) == 0 {
		return name
	}
	return name + " " + formatOperands(in.Operands)
}

func formatOperands(ops []cell.Cell) string {
	parts := make([]string, len(ops))
	for i, v := range ops {
		parts[i] = fmt.Sprintf("%d", v)
	}
	return strings.Join(parts, " ")
}
