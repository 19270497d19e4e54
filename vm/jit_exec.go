package vm

import (
	"github.com/chazu/cldc/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// Compiled execution
// ---------------------------------------------------------------------------

// callCompiled runs a call of cm to a Result. On suspension the activation
// is left on the call stack as an interpreter frame.
func (ctx *Context) callCompiled(cm *CompiledMethod, args []Value) Result {
	m := cm.Method
	f := newFrame(m, args)
	if m.IsSynchronized() {
		f.Lock = ctx.vm.lockObject(m, args)
		f.locked = true
		if !ctx.MonitorEnter(f.Lock) {
			return ctx.bailout(f, len(ctx.frames), 0, 0)
		}
	}
	return ctx.execCompiled(cm, f, 0)
}

// call runs m to completion or suspension, whatever its implementation.
func (ctx *Context) call(m *Method, args []Value) Result {
	r, pushed := ctx.invoke(m, args)
	if !pushed || r.IsSuspended() {
		return r
	}
	return ctx.interpret(len(ctx.frames)-1, nil)
}

// execCompiled runs the activation f from op start. Frames pushed while it
// runs sit above index base.
func (ctx *Context) execCompiled(cm *CompiledMethod, f *Frame, start int) Result {
	vm := ctx.vm
	base := len(ctx.frames)
	ctx.compiledDepth++
	defer func() { ctx.compiledDepth-- }()
	if !cm.canYield {
		ctx.noYield++
		defer func() { ctx.noYield-- }()
	}

	var exc *Object
	i := start
	for {
		if exc != nil {
			h := vm.findHandler(cm.Method, f.OpPC, exc.Class)
			if h < 0 {
				ctx.leave(f, false)
				return threw(exc)
			}
			next, ok := cm.entry[h]
			if !ok {
				fatalf(f, "handler at %d was not compiled", h)
			}
			f.Stack = f.Stack[:0]
			f.push(Ref(exc))
			exc = nil
			i = next
		}

		op := &cm.ops[i]
		in := op.in
		f.OpPC = in.PC

		switch op.kind {
		case copSafepoint:
			if ctx.noYield == 0 && vm.sched.ShouldPreempt() {
				ctx.Yield()
				return ctx.bailout(f, base, in.PC, in.PC)
			}
			i++
			continue
		case copDeopt:
			return ctx.deopt(cm, f, base, in.PC)
		}
		if c := op.init; c != nil && !c.Initialized() {
			return ctx.deopt(cm, f, base, in.PC)
		}

		handled, err := ctx.execSimple(f, in)
		if handled {
			if err != nil {
				exc = ctx.toThrowable(err)
				continue
			}
			i++
			continue
		}

		switch o := in.Op; o {
		case bytecode.OpLdc, bytecode.OpLdcW, bytecode.OpLdc2W:
			f.pushValue(op.value)

		case bytecode.OpIfeq, bytecode.OpIfne, bytecode.OpIflt, bytecode.OpIfge, bytecode.OpIfgt, bytecode.OpIfle,
			bytecode.OpIfIcmpeq, bytecode.OpIfIcmpne, bytecode.OpIfIcmplt, bytecode.OpIfIcmpge,
			bytecode.OpIfIcmpgt, bytecode.OpIfIcmple, bytecode.OpIfAcmpeq, bytecode.OpIfAcmpne,
			bytecode.OpIfnull, bytecode.OpIfnonnull:
			if branchTaken(f, o) {
				i = op.target
				continue
			}
		case bytecode.OpGoto, bytecode.OpGotoW:
			i = op.target
			continue
		case bytecode.OpTableswitch, bytecode.OpLookupswitch:
			target := in.Switch.Lookup(f.popInt())
			next, ok := cm.entry[target]
			if !ok {
				return ctx.deopt(cm, f, base, target)
			}
			i = next
			continue

		case bytecode.OpIreturn, bytecode.OpLreturn, bytecode.OpFreturn, bytecode.OpDreturn,
			bytecode.OpAreturn, bytecode.OpReturn:
			v := Void
			if o != bytecode.OpReturn {
				v = f.popValue()
			}
			ctx.leave(f, true)
			return completed(v)

		case bytecode.OpGetstatic:
			f.pushValue(op.field.get(nil))
		case bytecode.OpPutstatic:
			op.field.set(nil, f.popValue())
		case bytecode.OpGetfield:
			o := f.popRef()
			if o == nil {
				exc = vm.newThrowable(classNullPointer, "getfield "+op.field.name)
				continue
			}
			f.pushValue(op.field.get(o))
		case bytecode.OpPutfield:
			v := f.popValue()
			o := f.popRef()
			if o == nil {
				exc = vm.newThrowable(classNullPointer, "putfield "+op.field.name)
				continue
			}
			op.field.set(o, v)

		case bytecode.OpInvokestatic, bytecode.OpInvokespecial, bytecode.OpInvokevirtual, bytecode.OpInvokeinterface:
			args := f.popArgs(op.method.ArgSlots)
			target, err := ctx.dispatch(cm.Method, o, op.method, args)
			if err != nil {
				exc = ctx.toThrowable(err)
				continue
			}
			r := ctx.call(target, args)
			switch r.Status {
			case Threw:
				exc = r.Exception
				continue
			case Suspended:
				if !cm.canYield {
					fatalf(f, "%s suspended inside %s, which cannot yield", target.Key(), cm.Method.Key())
				}
				return ctx.bailout(f, base, in.Next(), in.PC)
			}
			if target.ReturnsValue() {
				f.pushValue(r.Value)
			}

		case bytecode.OpNew:
			f.push(Ref(vm.NewObject(op.class)))
		case bytecode.OpNewarray, bytecode.OpAnewarray:
			a, err := ctx.newArray(op.array, f.popInt())
			if err != nil {
				exc = ctx.toThrowable(err)
				continue
			}
			f.push(Ref(a))
		case bytecode.OpMultianewarray:
			dims := make([]int32, in.Value)
			for d := len(dims) - 1; d >= 0; d-- {
				dims[d] = f.popInt()
			}
			a, err := ctx.newMultiArray(op.class.Name, dims)
			if err != nil {
				exc = ctx.toThrowable(err)
				continue
			}
			f.push(Ref(a))

		case bytecode.OpCheckcast:
			if o := f.peek().R; o != nil && !vm.isAssignable(o.Class, op.class) {
				exc = vm.newThrowable(classClassCast, javaName(o.Class.Name)+" cannot be cast to "+javaName(op.class.Name))
				continue
			}
		case bytecode.OpInstanceof:
			o := f.popRef()
			f.push(Bool(o != nil && vm.isAssignable(o.Class, op.class)))

		case bytecode.OpAthrow:
			o := f.popRef()
			if o == nil {
				o = vm.newThrowable(classNullPointer, "throw of null")
			}
			exc = o
			continue

		case bytecode.OpMonitorenter:
			o := f.popRef()
			if o == nil {
				exc = vm.newThrowable(classNullPointer, "monitorenter on null")
				continue
			}
			if !ctx.MonitorEnter(o) {
				if !cm.canYield {
					fatalf(f, "monitor contention inside %s, which cannot yield", cm.Method.Key())
				}
				return ctx.bailout(f, base, in.Next(), in.PC)
			}
		case bytecode.OpMonitorexit:
			o := f.popRef()
			if o == nil {
				exc = vm.newThrowable(classNullPointer, "monitorexit on null")
				continue
			}
			if err := ctx.MonitorExit(o); err != nil {
				exc = ctx.toThrowable(err)
				continue
			}

		default:
			return ctx.deopt(cm, f, base, in.PC)
		}
		i++
	}
}

// osr moves the interpreted activation f into compiled code at the loop
// header target when its method has been compiled. f must be the top
// frame. entered reports whether compiled code ran; r is then the result
// of the whole activation.
func (ctx *Context) osr(f *Frame, target int) (r Result, entered bool) {
	m := f.Method
	ctx.vm.profiler.RecordBackedge(m)
	cm := m.compiled
	if cm == nil || f.initClass != nil {
		return Result{}, false
	}
	start, ok := cm.entry[target]
	if !ok {
		return Result{}, false
	}
	jitLog.Debugf("thread %d enters %s at %d", ctx.ID, m.Key(), target)
	ctx.popFrame()
	return ctx.execCompiled(cm, f, start), true
}
