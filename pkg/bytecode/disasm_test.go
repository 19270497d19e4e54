package bytecode

import (
	"strings"
	"testing"
)

type fakePool map[int]string

func (p fakePool) Describe(i int) string { return p[i] }

func TestDisassemble(t *testing.T) {
	a := NewAssembler()
	a.Load(OpIload, 0).Load(OpIload, 1).Emit(OpIadd)
	a.EmitU16(OpInvokestatic, 7)
	a.Emit(OpIreturn)
	lines := DisassembleToLines(a.MustBytes(), fakePool{7: "Method Foo.bar:(I)I"})
	if len(lines) != 5 {
		t.Fatalf("got %d lines: %v", len(lines), lines)
	}
	if !strings.Contains(lines[0], "iload_0") {
		t.Errorf("line 0 = %q", lines[0])
	}
	if !strings.Contains(lines[3], "invokestatic") || !strings.Contains(lines[3], "#7 // Method Foo.bar:(I)I") {
		t.Errorf("line 3 = %q", lines[3])
	}
	if InstructionCount(a.MustBytes()) != 5 {
		t.Errorf("InstructionCount = %d", InstructionCount(a.MustBytes()))
	}
}

func TestDisassembleReportsErrors(t *testing.T) {
	out := Disassemble([]byte{byte(OpNop), 0xfe}, nil)
	if !strings.Contains(out, "error") {
		t.Errorf("expected error in listing, got %q", out)
	}
}
