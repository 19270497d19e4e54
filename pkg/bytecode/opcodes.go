package bytecode

import "fmt"

// Opcode is a single JVM instruction byte.
type Opcode byte

const (
	// ========================================================================
	// Constants (0x00-0x14)
	// ========================================================================

	OpNop        Opcode = 0x00
	OpAconstNull Opcode = 0x01
	OpIconstM1   Opcode = 0x02
	OpIconst0    Opcode = 0x03
	OpIconst1    Opcode = 0x04
	OpIconst2    Opcode = 0x05
	OpIconst3    Opcode = 0x06
	OpIconst4    Opcode = 0x07
	OpIconst5    Opcode = 0x08
	OpLconst0    Opcode = 0x09
	OpLconst1    Opcode = 0x0a
	OpFconst0    Opcode = 0x0b
	OpFconst1    Opcode = 0x0c
	OpFconst2    Opcode = 0x0d
	OpDconst0    Opcode = 0x0e
	OpDconst1    Opcode = 0x0f
	OpBipush     Opcode = 0x10 // OpBipush <byte:s8>
	OpSipush     Opcode = 0x11 // OpSipush <short:s16>
	OpLdc        Opcode = 0x12 // OpLdc <index:u8>
	OpLdcW       Opcode = 0x13 // OpLdcW <index:u16>
	OpLdc2W      Opcode = 0x14 // OpLdc2W <index:u16>

	// ========================================================================
	// Loads (0x15-0x35)
	// ========================================================================

	OpIload  Opcode = 0x15
	OpLload  Opcode = 0x16
	OpFload  Opcode = 0x17
	OpDload  Opcode = 0x18
	OpAload  Opcode = 0x19
	OpIload0 Opcode = 0x1a
	OpIload1 Opcode = 0x1b
	OpIload2 Opcode = 0x1c
	OpIload3 Opcode = 0x1d
	OpLload0 Opcode = 0x1e
	OpLload1 Opcode = 0x1f
	OpLload2 Opcode = 0x20
	OpLload3 Opcode = 0x21
	OpFload0 Opcode = 0x22
	OpFload1 Opcode = 0x23
	OpFload2 Opcode = 0x24
	OpFload3 Opcode = 0x25
	OpDload0 Opcode = 0x26
	OpDload1 Opcode = 0x27
	OpDload2 Opcode = 0x28
	OpDload3 Opcode = 0x29
	OpAload0 Opcode = 0x2a
	OpAload1 Opcode = 0x2b
	OpAload2 Opcode = 0x2c
	OpAload3 Opcode = 0x2d
	OpIaload Opcode = 0x2e
	OpLaload Opcode = 0x2f
	OpFaload Opcode = 0x30
	OpDaload Opcode = 0x31
	OpAaload Opcode = 0x32
	OpBaload Opcode = 0x33
	OpCaload Opcode = 0x34
	OpSaload Opcode = 0x35

	// ========================================================================
	// Stores (0x36-0x56)
	// ========================================================================

	OpIstore  Opcode = 0x36
	OpLstore  Opcode = 0x37
	OpFstore  Opcode = 0x38
	OpDstore  Opcode = 0x39
	OpAstore  Opcode = 0x3a
	OpIstore0 Opcode = 0x3b
	OpIstore1 Opcode = 0x3c
	OpIstore2 Opcode = 0x3d
	OpIstore3 Opcode = 0x3e
	OpLstore0 Opcode = 0x3f
	OpLstore1 Opcode = 0x40
	OpLstore2 Opcode = 0x41
	OpLstore3 Opcode = 0x42
	OpFstore0 Opcode = 0x43
	OpFstore1 Opcode = 0x44
	OpFstore2 Opcode = 0x45
	OpFstore3 Opcode = 0x46
	OpDstore0 Opcode = 0x47
	OpDstore1 Opcode = 0x48
	OpDstore2 Opcode = 0x49
	OpDstore3 Opcode = 0x4a
	OpAstore0 Opcode = 0x4b
	OpAstore1 Opcode = 0x4c
	OpAstore2 Opcode = 0x4d
	OpAstore3 Opcode = 0x4e
	OpIastore Opcode = 0x4f
	OpLastore Opcode = 0x50
	OpFastore Opcode = 0x51
	OpDastore Opcode = 0x52
	OpAastore Opcode = 0x53
	OpBastore Opcode = 0x54
	OpCastore Opcode = 0x55
	OpSastore Opcode = 0x56

	// ========================================================================
	// Stack (0x57-0x5f)
	// ========================================================================

	OpPop    Opcode = 0x57
	OpPop2   Opcode = 0x58
	OpDup    Opcode = 0x59
	OpDupX1  Opcode = 0x5a
	OpDupX2  Opcode = 0x5b
	OpDup2   Opcode = 0x5c
	OpDup2X1 Opcode = 0x5d
	OpDup2X2 Opcode = 0x5e
	OpSwap   Opcode = 0x5f

	// ========================================================================
	// Math (0x60-0x84)
	// ========================================================================

	OpIadd  Opcode = 0x60
	OpLadd  Opcode = 0x61
	OpFadd  Opcode = 0x62
	OpDadd  Opcode = 0x63
	OpIsub  Opcode = 0x64
	OpLsub  Opcode = 0x65
	OpFsub  Opcode = 0x66
	OpDsub  Opcode = 0x67
	OpImul  Opcode = 0x68
	OpLmul  Opcode = 0x69
	OpFmul  Opcode = 0x6a
	OpDmul  Opcode = 0x6b
	OpIdiv  Opcode = 0x6c
	OpLdiv  Opcode = 0x6d
	OpFdiv  Opcode = 0x6e
	OpDdiv  Opcode = 0x6f
	OpIrem  Opcode = 0x70
	OpLrem  Opcode = 0x71
	OpFrem  Opcode = 0x72
	OpDrem  Opcode = 0x73
	OpIneg  Opcode = 0x74
	OpLneg  Opcode = 0x75
	OpFneg  Opcode = 0x76
	OpDneg  Opcode = 0x77
	OpIshl  Opcode = 0x78
	OpLshl  Opcode = 0x79
	OpIshr  Opcode = 0x7a
	OpLshr  Opcode = 0x7b
	OpIushr Opcode = 0x7c
	OpLushr Opcode = 0x7d
	OpIand  Opcode = 0x7e
	OpLand  Opcode = 0x7f
	OpIor   Opcode = 0x80
	OpLor   Opcode = 0x81
	OpIxor  Opcode = 0x82
	OpLxor  Opcode = 0x83
	OpIinc  Opcode = 0x84 // OpIinc <index:u8> <const:s8>

	// ========================================================================
	// Conversions (0x85-0x93)
	// ========================================================================

	OpI2l Opcode = 0x85
	OpI2f Opcode = 0x86
	OpI2d Opcode = 0x87
	OpL2i Opcode = 0x88
	OpL2f Opcode = 0x89
	OpL2d Opcode = 0x8a
	OpF2i Opcode = 0x8b
	OpF2l Opcode = 0x8c
	OpF2d Opcode = 0x8d
	OpD2i Opcode = 0x8e
	OpD2l Opcode = 0x8f
	OpD2f Opcode = 0x90
	OpI2b Opcode = 0x91
	OpI2c Opcode = 0x92
	OpI2s Opcode = 0x93

	// ========================================================================
	// Comparisons and branches (0x94-0xa8)
	// ========================================================================

	OpLcmp     Opcode = 0x94
	OpFcmpl    Opcode = 0x95
	OpFcmpg    Opcode = 0x96
	OpDcmpl    Opcode = 0x97
	OpDcmpg    Opcode = 0x98
	OpIfeq     Opcode = 0x99 // IF<cond> <offset:s16>
	OpIfne     Opcode = 0x9a
	OpIflt     Opcode = 0x9b
	OpIfge     Opcode = 0x9c
	OpIfgt     Opcode = 0x9d
	OpIfle     Opcode = 0x9e
	OpIfIcmpeq Opcode = 0x9f
	OpIfIcmpne Opcode = 0xa0
	OpIfIcmplt Opcode = 0xa1
	OpIfIcmpge Opcode = 0xa2
	OpIfIcmpgt Opcode = 0xa3
	OpIfIcmple Opcode = 0xa4
	OpIfAcmpeq Opcode = 0xa5
	OpIfAcmpne Opcode = 0xa6
	OpGoto     Opcode = 0xa7
	OpJsr      Opcode = 0xa8

	// ========================================================================
	// Control (0xa9-0xb1)
	// ========================================================================

	OpRet          Opcode = 0xa9
	OpTableswitch  Opcode = 0xaa // padded; default, low, high, offsets
	OpLookupswitch Opcode = 0xab // padded; default, npairs, (match, offset)*
	OpIreturn      Opcode = 0xac
	OpLreturn      Opcode = 0xad
	OpFreturn      Opcode = 0xae
	OpDreturn      Opcode = 0xaf
	OpAreturn      Opcode = 0xb0
	OpReturn       Opcode = 0xb1

	// ========================================================================
	// References (0xb2-0xc3)
	// ========================================================================

	OpGetstatic       Opcode = 0xb2
	OpPutstatic       Opcode = 0xb3
	OpGetfield        Opcode = 0xb4
	OpPutfield        Opcode = 0xb5
	OpInvokevirtual   Opcode = 0xb6
	OpInvokespecial   Opcode = 0xb7
	OpInvokestatic    Opcode = 0xb8
	OpInvokeinterface Opcode = 0xb9 // <index:u16> <count:u8> <0:u8>
	OpInvokedynamic   Opcode = 0xba
	OpNew             Opcode = 0xbb
	OpNewarray        Opcode = 0xbc // OpNewarray <atype:u8>
	OpAnewarray       Opcode = 0xbd
	OpArraylength     Opcode = 0xbe
	OpAthrow          Opcode = 0xbf
	OpCheckcast       Opcode = 0xc0
	OpInstanceof      Opcode = 0xc1
	OpMonitorenter    Opcode = 0xc2
	OpMonitorexit     Opcode = 0xc3

	// ========================================================================
	// Extended (0xc4-0xc9)
	// ========================================================================

	OpWide           Opcode = 0xc4
	OpMultianewarray Opcode = 0xc5 // <index:u16> <dims:u8>
	OpIfnull         Opcode = 0xc6
	OpIfnonnull      Opcode = 0xc7
	OpGotoW          Opcode = 0xc8 // OpGotoW <offset:s32>
	OpJsrW           Opcode = 0xc9
)

// Element type codes carried by newarray.
const (
	ArrayBoolean = 4
	ArrayChar    = 5
	ArrayFloat   = 6
	ArrayDouble  = 7
	ArrayByte    = 8
	ArrayShort   = 9
	ArrayInt     = 10
	ArrayLong    = 11
)

// VariableLength marks opcodes whose operand length depends on the
// instruction's position and contents (switches and wide).
const VariableLength = -1

// OpcodeInfo provides metadata about each opcode for decoding and display.
type OpcodeInfo struct {
	Name       string // Mnemonic, lower case as printed by javap
	OperandLen int    // Operand bytes following the opcode, or VariableLength
}

// opcodeInfoTable maps opcodes to their metadata.
var opcodeInfoTable = map[Opcode]OpcodeInfo{
	OpNop: {"nop", 0}, OpAconstNull: {"aconst_null", 0},
	OpIconstM1: {"iconst_m1", 0}, OpIconst0: {"iconst_0", 0}, OpIconst1: {"iconst_1", 0},
	OpIconst2: {"iconst_2", 0}, OpIconst3: {"iconst_3", 0}, OpIconst4: {"iconst_4", 0},
	OpIconst5: {"iconst_5", 0}, OpLconst0: {"lconst_0", 0}, OpLconst1: {"lconst_1", 0},
	OpFconst0: {"fconst_0", 0}, OpFconst1: {"fconst_1", 0}, OpFconst2: {"fconst_2", 0},
	OpDconst0: {"dconst_0", 0}, OpDconst1: {"dconst_1", 0},
	OpBipush: {"bipush", 1}, OpSipush: {"sipush", 2},
	OpLdc: {"ldc", 1}, OpLdcW: {"ldc_w", 2}, OpLdc2W: {"ldc2_w", 2},

	// Loads
	OpIload: {"iload", 1}, OpLload: {"lload", 1}, OpFload: {"fload", 1}, OpDload: {"dload", 1}, OpAload: {"aload", 1},
	OpIload0: {"iload_0", 0}, OpIload1: {"iload_1", 0}, OpIload2: {"iload_2", 0}, OpIload3: {"iload_3", 0},
	OpLload0: {"lload_0", 0}, OpLload1: {"lload_1", 0}, OpLload2: {"lload_2", 0}, OpLload3: {"lload_3", 0},
	OpFload0: {"fload_0", 0}, OpFload1: {"fload_1", 0}, OpFload2: {"fload_2", 0}, OpFload3: {"fload_3", 0},
	OpDload0: {"dload_0", 0}, OpDload1: {"dload_1", 0}, OpDload2: {"dload_2", 0}, OpDload3: {"dload_3", 0},
	OpAload0: {"aload_0", 0}, OpAload1: {"aload_1", 0}, OpAload2: {"aload_2", 0}, OpAload3: {"aload_3", 0},
	OpIaload: {"iaload", 0}, OpLaload: {"laload", 0}, OpFaload: {"faload", 0}, OpDaload: {"daload", 0},
	OpAaload: {"aaload", 0}, OpBaload: {"baload", 0}, OpCaload: {"caload", 0}, OpSaload: {"saload", 0},

	// Stores
	OpIstore: {"istore", 1}, OpLstore: {"lstore", 1}, OpFstore: {"fstore", 1}, OpDstore: {"dstore", 1}, OpAstore: {"astore", 1},
	OpIstore0: {"istore_0", 0}, OpIstore1: {"istore_1", 0}, OpIstore2: {"istore_2", 0}, OpIstore3: {"istore_3", 0},
	OpLstore0: {"lstore_0", 0}, OpLstore1: {"lstore_1", 0}, OpLstore2: {"lstore_2", 0}, OpLstore3: {"lstore_3", 0},
	OpFstore0: {"fstore_0", 0}, OpFstore1: {"fstore_1", 0}, OpFstore2: {"fstore_2", 0}, OpFstore3: {"fstore_3", 0},
	OpDstore0: {"dstore_0", 0}, OpDstore1: {"dstore_1", 0}, OpDstore2: {"dstore_2", 0}, OpDstore3: {"dstore_3", 0},
	OpAstore0: {"astore_0", 0}, OpAstore1: {"astore_1", 0}, OpAstore2: {"astore_2", 0}, OpAstore3: {"astore_3", 0},
	OpIastore: {"iastore", 0}, OpLastore: {"lastore", 0}, OpFastore: {"fastore", 0}, OpDastore: {"dastore", 0},
	OpAastore: {"aastore", 0}, OpBastore: {"bastore", 0}, OpCastore: {"castore", 0}, OpSastore: {"sastore", 0},

	// Stack
	OpPop: {"pop", 0}, OpPop2: {"pop2", 0}, OpDup: {"dup", 0}, OpDupX1: {"dup_x1", 0}, OpDupX2: {"dup_x2", 0},
	OpDup2: {"dup2", 0}, OpDup2X1: {"dup2_x1", 0}, OpDup2X2: {"dup2_x2", 0}, OpSwap: {"swap", 0},

	// Math
	OpIadd: {"iadd", 0}, OpLadd: {"ladd", 0}, OpFadd: {"fadd", 0}, OpDadd: {"dadd", 0},
	OpIsub: {"isub", 0}, OpLsub: {"lsub", 0}, OpFsub: {"fsub", 0}, OpDsub: {"dsub", 0},
	OpImul: {"imul", 0}, OpLmul: {"lmul", 0}, OpFmul: {"fmul", 0}, OpDmul: {"dmul", 0},
	OpIdiv: {"idiv", 0}, OpLdiv: {"ldiv", 0}, OpFdiv: {"fdiv", 0}, OpDdiv: {"ddiv", 0},
	OpIrem: {"irem", 0}, OpLrem: {"lrem", 0}, OpFrem: {"frem", 0}, OpDrem: {"drem", 0},
	OpIneg: {"ineg", 0}, OpLneg: {"lneg", 0}, OpFneg: {"fneg", 0}, OpDneg: {"dneg", 0},
	OpIshl: {"ishl", 0}, OpLshl: {"lshl", 0}, OpIshr: {"ishr", 0}, OpLshr: {"lshr", 0},
	OpIushr: {"iushr", 0}, OpLushr: {"lushr", 0}, OpIand: {"iand", 0}, OpLand: {"land", 0},
	OpIor: {"ior", 0}, OpLor: {"lor", 0}, OpIxor: {"ixor", 0}, OpLxor: {"lxor", 0},
	OpIinc: {"iinc", 2},

	// Conversions
	OpI2l: {"i2l", 0}, OpI2f: {"i2f", 0}, OpI2d: {"i2d", 0}, OpL2i: {"l2i", 0}, OpL2f: {"l2f", 0},
	OpL2d: {"l2d", 0}, OpF2i: {"f2i", 0}, OpF2l: {"f2l", 0}, OpF2d: {"f2d", 0}, OpD2i: {"d2i", 0},
	OpD2l: {"d2l", 0}, OpD2f: {"d2f", 0}, OpI2b: {"i2b", 0}, OpI2c: {"i2c", 0}, OpI2s: {"i2s", 0},

	// Comparisons and branches
	OpLcmp: {"lcmp", 0}, OpFcmpl: {"fcmpl", 0}, OpFcmpg: {"fcmpg", 0}, OpDcmpl: {"dcmpl", 0}, OpDcmpg: {"dcmpg", 0},
	OpIfeq: {"ifeq", 2}, OpIfne: {"ifne", 2}, OpIflt: {"iflt", 2}, OpIfge: {"ifge", 2}, OpIfgt: {"ifgt", 2}, OpIfle: {"ifle", 2},
	OpIfIcmpeq: {"if_icmpeq", 2}, OpIfIcmpne: {"if_icmpne", 2}, OpIfIcmplt: {"if_icmplt", 2},
	OpIfIcmpge: {"if_icmpge", 2}, OpIfIcmpgt: {"if_icmpgt", 2}, OpIfIcmple: {"if_icmple", 2},
	OpIfAcmpeq: {"if_acmpeq", 2}, OpIfAcmpne: {"if_acmpne", 2},
	OpGoto: {"goto", 2}, OpJsr: {"jsr", 2},

	// Control
	OpRet: {"ret", 1}, OpTableswitch: {"tableswitch", VariableLength}, OpLookupswitch: {"lookupswitch", VariableLength},
	OpIreturn: {"ireturn", 0}, OpLreturn: {"lreturn", 0}, OpFreturn: {"freturn", 0}, OpDreturn: {"dreturn", 0},
	OpAreturn: {"areturn", 0}, OpReturn: {"return", 0},

	// References
	OpGetstatic: {"getstatic", 2}, OpPutstatic: {"putstatic", 2}, OpGetfield: {"getfield", 2}, OpPutfield: {"putfield", 2},
	OpInvokevirtual: {"invokevirtual", 2}, OpInvokespecial: {"invokespecial", 2}, OpInvokestatic: {"invokestatic", 2},
	OpInvokeinterface: {"invokeinterface", 4}, OpInvokedynamic: {"invokedynamic", 4},
	OpNew: {"new", 2}, OpNewarray: {"newarray", 1}, OpAnewarray: {"anewarray", 2}, OpArraylength: {"arraylength", 0},
	OpAthrow: {"athrow", 0}, OpCheckcast: {"checkcast", 2}, OpInstanceof: {"instanceof", 2},
	OpMonitorenter: {"monitorenter", 0}, OpMonitorexit: {"monitorexit", 0},

	// Extended
	OpWide: {"wide", VariableLength}, OpMultianewarray: {"multianewarray", 3},
	OpIfnull: {"ifnull", 2}, OpIfnonnull: {"ifnonnull", 2}, OpGotoW: {"goto_w", 4}, OpJsrW: {"jsr_w", 4},
}

// GetOpcodeInfo returns metadata for an opcode.
// Returns an OpcodeInfo named "unknown(0x..)" if the opcode is not defined.
func GetOpcodeInfo(op Opcode) OpcodeInfo {
	if info, ok := opcodeInfoTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("unknown(0x%02x)", byte(op))}
}

// IsDefined reports whether op is a JVM opcode.
func (op Opcode) IsDefined() bool {
	_, ok := opcodeInfoTable[op]
	return ok
}

// String returns the mnemonic of an opcode.
func (op Opcode) String() string {
	return GetOpcodeInfo(op).Name
}

// OperandLen returns the number of operand bytes, or VariableLength.
func (op Opcode) OperandLen() int {
	return GetOpcodeInfo(op).OperandLen
}

// IsConditionalBranch returns true for the IF* family.
func (op Opcode) IsConditionalBranch() bool {
	return (op >= OpIfeq && op <= OpIfAcmpne) || op == OpIfnull || op == OpIfnonnull
}

// IsGoto returns true for unconditional jumps.
func (op Opcode) IsGoto() bool {
	return op == OpGoto || op == OpGotoW
}

// IsSwitch returns true for tableswitch and lookupswitch.
func (op Opcode) IsSwitch() bool {
	return op == OpTableswitch || op == OpLookupswitch
}

// IsReturn returns true if this opcode returns from the method.
func (op Opcode) IsReturn() bool {
	return op >= OpIreturn && op <= OpReturn
}

// IsInvoke returns true for method invocations.
func (op Opcode) IsInvoke() bool {
	return op >= OpInvokevirtual && op <= OpInvokedynamic
}

// EndsBlock returns true if control never falls through to the next
// instruction unconditionally (branches, switches, returns, athrow).
func (op Opcode) EndsBlock() bool {
	return op.IsConditionalBranch() || op.IsGoto() || op.IsSwitch() || op.IsReturn() ||
		op == OpAthrow || op == OpJsr || op == OpJsrW || op == OpRet
}

// AllOpcodes returns a slice of all defined opcodes.
func AllOpcodes() []Opcode {
	opcodes := make([]Opcode, 0, len(opcodeInfoTable))
	for op := range opcodeInfoTable {
		opcodes = append(opcodes, op)
	}
	return opcodes
}

// OpcodeCount returns the number of defined opcodes.
func OpcodeCount() int {
	return len(opcodeInfoTable)
}
