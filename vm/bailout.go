package vm

// ---------------------------------------------------------------------------
// Bailout: compiled activation -> interpreter frame
// ---------------------------------------------------------------------------

// SuspendedActivation is the state of a compiled activation captured when
// it has to leave compiled code. Frame rebuilds the interpreter frame that
// continues it, as if the method had been interpreted all along.
type SuspendedActivation struct {
	Method *Method
	// PC is where the interpreter resumes. OpPC is the instruction that
	// was executing, for exception handler lookup.
	PC     int
	OpPC   int
	Locals []Value
	Stack  []Value
	Lock   *Object
	Locked bool
}

// Capture copies the locals and operand stack of activation f.
func Capture(f *Frame, pc, opPC int) *SuspendedActivation {
	return &SuspendedActivation{
		Method: f.Method,
		PC:     pc,
		OpPC:   opPC,
		Locals: append([]Value(nil), f.Locals...),
		Stack:  append([]Value(nil), f.Stack...),
		Lock:   f.Lock,
		Locked: f.locked,
	}
}

// Frame reconstructs the interpreter frame.
func (a *SuspendedActivation) Frame() *Frame {
	f := &Frame{
		Method: a.Method,
		PC:     a.PC,
		OpPC:   a.OpPC,
		Locals: make([]Value, a.Method.MaxLocals),
		Stack:  make([]Value, len(a.Stack), max(a.Method.MaxStack, len(a.Stack))),
		Lock:   a.Lock,
		locked: a.Locked,
	}
	copy(f.Locals, a.Locals)
	copy(f.Stack, a.Stack)
	return f
}

// bailout replaces the compiled activation f with an interpreter frame at
// index base, below any frames its callees left behind, and reports the
// suspension.
func (ctx *Context) bailout(f *Frame, base, pc, opPC int) Result {
	act := Capture(f, pc, opPC)
	ctx.insertFrame(base, act.Frame())
	jitLog.Debugf("thread %d bailed out of %s at %d", ctx.ID, f.Method.Key(), pc)
	return suspended()
}

// deopt continues the compiled activation f in the interpreter from pc.
func (ctx *Context) deopt(cm *CompiledMethod, f *Frame, base, pc int) Result {
	jitLog.Debugf("deoptimizing %s at %d", cm.Method.Key(), pc)
	cm.deopts++
	act := Capture(f, pc, pc)
	ctx.insertFrame(base, act.Frame())
	r := ctx.interpret(base, nil)
	if r.IsSuspended() && !cm.canYield {
		fatalf(f, "%s suspended after deoptimizing a method that cannot yield", cm.Method.Key())
	}
	return r
}
