package bytecode

// CanTrap reports whether executing op may raise a guest exception.
// Exception edges in a method's control-flow graph are attached only to
// instructions for which CanTrap is true.
func CanTrap(op Opcode) bool {
	switch op {
	case OpIdiv, OpIrem, OpLdiv, OpLrem,
		OpIaload, OpLaload, OpFaload, OpDaload, OpAaload, OpBaload, OpCaload, OpSaload,
		OpIastore, OpLastore, OpFastore, OpDastore, OpAastore, OpBastore, OpCastore, OpSastore,
		OpArraylength,
		OpGetstatic, OpPutstatic, OpGetfield, OpPutfield,
		OpInvokevirtual, OpInvokespecial, OpInvokestatic, OpInvokeinterface, OpInvokedynamic,
		OpNew, OpNewarray, OpAnewarray, OpMultianewarray,
		OpAthrow, OpCheckcast, OpInstanceof,
		OpMonitorenter, OpMonitorexit,
		OpLdc, OpLdcW:
		return true
	}
	return false
}
