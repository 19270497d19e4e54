package vm

import (
	"github.com/chazu/cldc/pkg/bytecode"
	"github.com/chazu/cldc/pkg/classfile"
)

// ---------------------------------------------------------------------------
// Interpreter loop
// ---------------------------------------------------------------------------

// interpret runs the frames above stop until the frame at index stop
// returns (Completed), an exception escapes it (Threw) or the thread must
// suspend (Suspended, frames left in place). A non-nil exc is thrown in
// the top frame first.
func (ctx *Context) interpret(stop int, exc *Object) Result {
	vm := ctx.vm
	for {
		if exc != nil {
			if !ctx.unwind(exc, stop) {
				return threw(exc)
			}
			exc = nil
		}
		if len(ctx.frames) <= stop {
			return completed(Void)
		}
		f := ctx.frames[len(ctx.frames)-1]
		in, err := bytecode.Decode(f.Method.Code, f.PC)
		if err != nil {
			fatalf(f, "%s", err)
		}
		f.OpPC = f.PC

		handled, err := ctx.execSimple(f, in)
		if handled {
			if err != nil {
				exc = ctx.toThrowable(err)
				continue
			}
			f.PC = in.Next()
			continue
		}

		switch op := in.Op; op {
		case bytecode.OpLdc, bytecode.OpLdcW, bytecode.OpLdc2W:
			v, err := vm.resolveConstant(f.Method.Class, in.Index)
			if err != nil {
				exc = ctx.toThrowable(err)
				continue
			}
			f.pushValue(v)

		case bytecode.OpIfeq, bytecode.OpIfne, bytecode.OpIflt, bytecode.OpIfge, bytecode.OpIfgt, bytecode.OpIfle,
			bytecode.OpIfIcmpeq, bytecode.OpIfIcmpne, bytecode.OpIfIcmplt, bytecode.OpIfIcmpge,
			bytecode.OpIfIcmpgt, bytecode.OpIfIcmple, bytecode.OpIfAcmpeq, bytecode.OpIfAcmpne,
			bytecode.OpIfnull, bytecode.OpIfnonnull:
			if !branchTaken(f, op) {
				break
			}
			if r, done, e := ctx.jump(f, in.Target, stop); done {
				return r
			} else if e != nil {
				exc = e
			}
			continue
		case bytecode.OpGoto, bytecode.OpGotoW:
			if r, done, e := ctx.jump(f, in.Target, stop); done {
				return r
			} else if e != nil {
				exc = e
			}
			continue
		case bytecode.OpTableswitch, bytecode.OpLookupswitch:
			if r, done, e := ctx.jump(f, in.Switch.Lookup(f.popInt()), stop); done {
				return r
			} else if e != nil {
				exc = e
			}
			continue
		case bytecode.OpJsr, bytecode.OpJsrW:
			f.push(Int(int32(in.Next())))
			f.PC = in.Target
			continue
		case bytecode.OpRet:
			f.PC = int(f.load(in.Index).AsInt())
			continue

		case bytecode.OpIreturn, bytecode.OpLreturn, bytecode.OpFreturn, bytecode.OpDreturn,
			bytecode.OpAreturn, bytecode.OpReturn:
			v := Void
			if op != bytecode.OpReturn {
				v = f.popValue()
			}
			if r, done := ctx.ret(f, v, stop); done {
				return r
			}
			continue

		case bytecode.OpGetstatic, bytecode.OpPutstatic:
			ref, err := vm.resolveField(f.Method.Class, in.Index, true)
			if err != nil {
				exc = ctx.toThrowable(err)
				continue
			}
			if st, e := ctx.ensureInit(ref.owner); st != initReady {
				if st == initYield {
					return suspended()
				}
				exc = e
				continue
			}
			if op == bytecode.OpGetstatic {
				f.pushValue(ref.get(nil))
			} else {
				ref.set(nil, f.popValue())
			}
		case bytecode.OpGetfield:
			ref, err := vm.resolveField(f.Method.Class, in.Index, false)
			if err != nil {
				exc = ctx.toThrowable(err)
				continue
			}
			o := f.popRef()
			if o == nil {
				exc = vm.newThrowable(classNullPointer, "getfield "+ref.name)
				continue
			}
			f.pushValue(ref.get(o))
		case bytecode.OpPutfield:
			ref, err := vm.resolveField(f.Method.Class, in.Index, false)
			if err != nil {
				exc = ctx.toThrowable(err)
				continue
			}
			v := f.popValue()
			o := f.popRef()
			if o == nil {
				exc = vm.newThrowable(classNullPointer, "putfield "+ref.name)
				continue
			}
			ref.set(o, v)

		case bytecode.OpInvokestatic, bytecode.OpInvokespecial, bytecode.OpInvokevirtual, bytecode.OpInvokeinterface:
			m, err := vm.resolveMethod(f.Method.Class, in.Index)
			if err != nil {
				exc = ctx.toThrowable(err)
				continue
			}
			if op == bytecode.OpInvokestatic {
				if !m.IsStatic() {
					exc = vm.newThrowable("java/lang/IncompatibleClassChangeError", m.Key())
					continue
				}
				if st, e := ctx.ensureInit(m.Class); st != initReady {
					if st == initYield {
						return suspended()
					}
					exc = e
					continue
				}
			}
			args := f.popArgs(m.ArgSlots)
			target, err := ctx.dispatch(f.Method, op, m, args)
			if err != nil {
				exc = ctx.toThrowable(err)
				continue
			}
			f.PC = in.Next()
			r, pushed := ctx.invoke(target, args)
			if pushed {
				if r.IsSuspended() {
					return r
				}
				continue
			}
			switch r.Status {
			case Threw:
				exc = r.Exception
			case Suspended:
				return r
			default:
				if target.ReturnsValue() {
					f.pushValue(r.Value)
				}
			}
			continue
		case bytecode.OpInvokedynamic:
			exc = vm.newThrowable(classInternal, "invokedynamic is not supported")
			continue

		case bytecode.OpNew:
			c, err := vm.resolveClass(f.Method.Class, in.Index)
			if err != nil {
				exc = ctx.toThrowable(err)
				continue
			}
			if c.IsInterface() || c.Flags&classfile.AccAbstract != 0 {
				exc = vm.newThrowable(classInstantiation, javaName(c.Name))
				continue
			}
			if st, e := ctx.ensureInit(c); st != initReady {
				if st == initYield {
					return suspended()
				}
				exc = e
				continue
			}
			f.push(Ref(vm.NewObject(c)))
		case bytecode.OpNewarray:
			name, ok := primitiveArrayClass(in.Value)
			if !ok {
				fatalf(f, "newarray of type %d", in.Value)
			}
			a, err := ctx.newArray(name, f.popInt())
			if err != nil {
				exc = ctx.toThrowable(err)
				continue
			}
			f.push(Ref(a))
		case bytecode.OpAnewarray:
			c, err := vm.resolveClass(f.Method.Class, in.Index)
			if err != nil {
				exc = ctx.toThrowable(err)
				continue
			}
			a, err := ctx.newArray(arrayOf(c), f.popInt())
			if err != nil {
				exc = ctx.toThrowable(err)
				continue
			}
			f.push(Ref(a))
		case bytecode.OpMultianewarray:
			c, err := vm.resolveClass(f.Method.Class, in.Index)
			if err != nil {
				exc = ctx.toThrowable(err)
				continue
			}
			dims := make([]int32, in.Value)
			for i := len(dims) - 1; i >= 0; i-- {
				dims[i] = f.popInt()
			}
			a, err := ctx.newMultiArray(c.Name, dims)
			if err != nil {
				exc = ctx.toThrowable(err)
				continue
			}
			f.push(Ref(a))

		case bytecode.OpCheckcast, bytecode.OpInstanceof:
			c, err := vm.resolveClass(f.Method.Class, in.Index)
			if err != nil {
				exc = ctx.toThrowable(err)
				continue
			}
			if op == bytecode.OpCheckcast {
				if o := f.peek().R; o != nil && !vm.isAssignable(o.Class, c) {
					exc = vm.newThrowable(classClassCast, javaName(o.Class.Name)+" cannot be cast to "+javaName(c.Name))
					continue
				}
			} else {
				o := f.popRef()
				f.push(Bool(o != nil && vm.isAssignable(o.Class, c)))
			}

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
			f.PC = in.Next()
			if !ctx.MonitorEnter(o) {
				return suspended()
			}
			continue
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
			fatalf(f, "unimplemented opcode %s", op)
		}
		f.PC = in.Next()
	}
}

// arrayOf returns the name of the array class with elements of class c.
func arrayOf(c *Class) string {
	if c.IsArray() {
		return "[" + c.Name
	}
	return "[L" + c.Name + ";"
}

// dispatch selects the method an invoke instruction in caller runs.
func (ctx *Context) dispatch(caller *Method, op bytecode.Opcode, m *Method, args []Value) (*Method, error) {
	if op == bytecode.OpInvokestatic {
		return m, nil
	}
	receiver := args[0].R
	if receiver == nil {
		return nil, javaErrorf(classNullPointer, "invoking %s.%s on null", javaName(m.Class.Name), m.Name)
	}
	if op == bytecode.OpInvokespecial {
		// Superclass calls bind to the nearest override above the caller.
		if m.Name != "<init>" && !m.IsPrivate() && caller.Class.Flags&classfile.AccSuper != 0 &&
			caller.Class != m.Class && caller.Class.IsSubclassOf(m.Class) && caller.Class.Super != nil {
			if impl := caller.Class.Super.FindVirtual(m.Name, m.Desc); impl != nil {
				return impl, nil
			}
		}
		return m, nil
	}
	return selectMethod(m, receiver)
}

// jump transfers control to target. Backward jumps count toward OSR and
// are safe points for preemption. done means the loop must return r; a
// non-nil exception escaped compiled code entered by OSR.
func (ctx *Context) jump(f *Frame, target, stop int) (r Result, done bool, exc *Object) {
	backward := target <= f.OpPC
	f.PC = target
	if !backward {
		return Result{}, false, nil
	}
	if r, entered := ctx.osr(f, target); entered {
		switch {
		case r.IsSuspended():
			return r, true, nil
		case len(ctx.frames) <= stop:
			return r, true, nil
		case r.Status == Threw:
			return Result{}, false, r.Exception
		}
		if r.Value.K != KindVoid {
			ctx.top().pushValue(r.Value)
		}
		return Result{}, false, nil
	}
	if ctx.noYield == 0 && ctx.vm.sched.ShouldPreempt() {
		ctx.Yield()
		return suspended(), true, nil
	}
	return Result{}, false, nil
}

// ret pops f after a return of v. It reports done when f was the frame at
// stop.
func (ctx *Context) ret(f *Frame, v Value, stop int) (Result, bool) {
	ctx.leave(f, true)
	ctx.popFrame()
	if len(ctx.frames) <= stop {
		return completed(v), true
	}
	if v.K != KindVoid {
		ctx.top().pushValue(v)
	}
	return Result{}, false
}

// unwind searches the frames above stop for a handler of exc, popping the
// ones that have none. It reports whether a handler was found.
func (ctx *Context) unwind(exc *Object, stop int) bool {
	for len(ctx.frames) > stop {
		f := ctx.top()
		if h := ctx.vm.findHandler(f.Method, f.OpPC, exc.Class); h >= 0 {
			f.Stack = f.Stack[:0]
			f.push(Ref(exc))
			f.PC = h
			return true
		}
		ctx.leave(f, false)
		ctx.popFrame()
	}
	return false
}

// ---------------------------------------------------------------------------
// Class initialization
// ---------------------------------------------------------------------------

type initStatus uint8

const (
	initReady initStatus = iota
	// initPushed means <clinit> frames were pushed; the instruction runs
	// again once they return.
	initPushed
	// initYield means another thread is initializing the class.
	initYield
	initFailed
)

// ensureInit starts initialization of c and its superclasses if needed.
func (ctx *Context) ensureInit(c *Class) (initStatus, *Object) {
	if c.state == ClassInitialized {
		return initReady, nil
	}
	var chain []*Class
	for k := c; k != nil; k = k.Super {
		switch k.state {
		case ClassLinked:
			chain = append(chain, k)
		case ClassInitializing:
			if k.initCtx != ctx {
				ctx.Yield()
				return initYield, nil
			}
		case ClassErroneous:
			return initFailed, ctx.vm.newThrowable(classNoClassDefFound, "could not initialize "+javaName(k.Name))
		}
	}
	pushed := false
	for _, k := range chain {
		clinit := k.Method("<clinit>", "()V")
		if clinit == nil {
			k.state = ClassInitialized
			continue
		}
		k.state = ClassInitializing
		k.initCtx = ctx
		f := newFrame(clinit, nil)
		f.initClass = k
		ctx.pushFrame(f)
		pushed = true
	}
	if pushed {
		return initPushed, nil
	}
	return initReady, nil
}
