package bytecode

import (
	"strings"
	"testing"
)

func TestAllOpcodesHaveMetadata(t *testing.T) {
	for _, op := range AllOpcodes() {
		info := GetOpcodeInfo(op)
		if info.Name == "" || strings.HasPrefix(info.Name, "unknown") {
			t.Errorf("Opcode 0x%02X has no metadata", byte(op))
		}
	}
}

func TestOpcodeCount(t *testing.T) {
	// 0x00 through 0xc9 inclusive.
	if got := OpcodeCount(); got != 0xca {
		t.Errorf("OpcodeCount() = %d, want %d", got, 0xca)
	}
}

func TestOpcodeString(t *testing.T) {
	tests := []struct {
		op   Opcode
		want string
	}{
		{OpNop, "nop"},
		{OpIconstM1, "iconst_m1"},
		{OpIadd, "iadd"},
		{OpIfIcmplt, "if_icmplt"},
		{OpInvokevirtual, "invokevirtual"},
		{OpMonitorenter, "monitorenter"},
		{OpGotoW, "goto_w"},
		{Opcode(0xfe), "unknown(0xfe)"},
	}
	for _, tt := range tests {
		if got := tt.op.String(); got != tt.want {
			t.Errorf("%#x.String() = %q, want %q", byte(tt.op), got, tt.want)
		}
	}
}

func TestOpcodeCategories(t *testing.T) {
	if !OpIfnull.IsConditionalBranch() || !OpIfeq.IsConditionalBranch() {
		t.Error("ifnull/ifeq should be conditional branches")
	}
	if OpGoto.IsConditionalBranch() {
		t.Error("goto is not conditional")
	}
	for _, op := range []Opcode{OpIreturn, OpLreturn, OpFreturn, OpDreturn, OpAreturn, OpReturn} {
		if !op.IsReturn() || !op.EndsBlock() {
			t.Errorf("%s should be a block-ending return", op)
		}
	}
	if !OpAthrow.EndsBlock() || !OpTableswitch.EndsBlock() {
		t.Error("athrow and tableswitch end blocks")
	}
	if OpIadd.EndsBlock() || OpInvokestatic.EndsBlock() {
		t.Error("iadd and invokestatic fall through")
	}
	if !OpInvokeinterface.IsInvoke() || OpNew.IsInvoke() {
		t.Error("IsInvoke misclassifies")
	}
}

func TestCanTrap(t *testing.T) {
	trapping := []Opcode{OpIdiv, OpLrem, OpIaload, OpAastore, OpGetfield, OpInvokestatic, OpAthrow, OpCheckcast, OpMonitorenter, OpNew}
	for _, op := range trapping {
		if !CanTrap(op) {
			t.Errorf("CanTrap(%s) = false, want true", op)
		}
	}
	safe := []Opcode{OpIadd, OpFdiv, OpIload, OpGoto, OpIreturn, OpDup, OpIinc, OpLcmp}
	for _, op := range safe {
		if CanTrap(op) {
			t.Errorf("CanTrap(%s) = true, want false", op)
		}
	}
}
