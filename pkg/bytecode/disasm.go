package bytecode

import (
	"fmt"
	"strings"
)

// ConstantNamer describes constant-pool entries for disassembly comments.
// classfile.ConstantPool satisfies it.
type ConstantNamer interface {
	Describe(index int) string
}

// Disassemble returns a javap-style listing of code. pool may be nil.
func Disassemble(code []byte, pool ConstantNamer) string {
	var sb strings.Builder
	s := NewStream(code)
	for s.Next() {
		sb.WriteString(FormatInstruction(s.Instr(), pool))
		sb.WriteString("\n")
	}
	if err := s.Err(); err != nil {
		sb.WriteString(fmt.Sprintf("; error: %v\n", err))
	}
	return sb.String()
}

// DisassembleToLines returns the listing as individual lines.
func DisassembleToLines(code []byte, pool ConstantNamer) []string {
	text := strings.TrimRight(Disassemble(code, pool), "\n")
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}

// FormatInstruction renders one instruction.
func FormatInstruction(in Instruction, pool ConstantNamer) string {
	name := in.Op.String()
	if in.Wide {
		name = "wide " + name
	}
	head := fmt.Sprintf("%6d: %-16s", in.PC, name)
	op := in.Op

	switch {
	case op == OpBipush || op == OpSipush || op == OpNewarray:
		return strings.TrimRight(fmt.Sprintf("%s%d", head, in.Value), " ")
	case op == OpIinc:
		return fmt.Sprintf("%s%d, %d", head, in.Index, in.Value)
	case op.IsConditionalBranch() || op.IsGoto() || op == OpJsr || op == OpJsrW:
		return fmt.Sprintf("%s%d", head, in.Target)
	case in.Switch != nil:
		var sb strings.Builder
		sb.WriteString(fmt.Sprintf("%s{ // %d cases", head, len(in.Switch.Targets)))
		for i, t := range in.Switch.Targets {
			key := in.Switch.Low + int32(i)
			if in.Switch.Keys != nil {
				key = in.Switch.Keys[i]
			}
			sb.WriteString(fmt.Sprintf("\n%12d: %d", key, t))
		}
		sb.WriteString(fmt.Sprintf("\n%12s: %d\n        }", "default", in.Switch.Default))
		return sb.String()
	case op == OpLdc || op == OpLdcW || op == OpLdc2W,
		op >= OpGetstatic && op <= OpNew,
		op == OpAnewarray || op == OpCheckcast || op == OpInstanceof || op == OpMultianewarray:
		line := fmt.Sprintf("%s#%d", head, in.Index)
		if op == OpInvokeinterface || op == OpMultianewarray {
			line += fmt.Sprintf(", %d", in.Value)
		}
		if pool != nil {
			if desc := pool.Describe(in.Index); desc != "" {
				line += " // " + desc
			}
		}
		return line
	case (op >= OpIload && op <= OpAload) || (op >= OpIstore && op <= OpAstore) || op == OpRet:
		return fmt.Sprintf("%s%d", head, in.Index)
	}
	return strings.TrimRight(head, " ")
}

// InstructionCount returns the number of instructions in code.
func InstructionCount(code []byte) int {
	n := 0
	s := NewStream(code)
	for s.Next() {
		n++
	}
	return n
}
