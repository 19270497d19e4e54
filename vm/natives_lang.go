package vm

import (
	"fmt"
	"math"
	"strconv"
)

// ---------------------------------------------------------------------------
// java.lang natives
// ---------------------------------------------------------------------------

func (vm *VM) registerNatives() {
	vm.registerObjectNatives()
	vm.registerThreadNatives()
	vm.registerSystemNatives()
	vm.registerStringNatives()
	vm.registerStringBufferNatives("java/lang/StringBuffer")
	vm.registerStringBufferNatives("java/lang/StringBuilder")
	vm.registerPrintStreamNatives()
	vm.registerThrowableNatives()
}

func receiver(args []Value) *Object { return args[0].R }

func returnsVoid(ctx *Context, args []Value) (Value, error) { return Void, nil }

func (vm *VM) registerObjectNatives() {
	t := vm.natives
	t.Register("java/lang/Object.<init>.()V", false, returnsVoid)
	t.Register("java/lang/Object.hashCode.()I", false, func(ctx *Context, args []Value) (Value, error) {
		return Int(identityHash(receiver(args))), nil
	})
	t.Register("java/lang/Object.equals.(Ljava/lang/Object;)Z", false, func(ctx *Context, args []Value) (Value, error) {
		return Bool(args[0].R == args[1].R), nil
	})
	t.Register("java/lang/Object.getClass.()Ljava/lang/Class;", false, func(ctx *Context, args []Value) (Value, error) {
		return Ref(ctx.vm.ClassObject(receiver(args).Class)), nil
	})
	t.Register("java/lang/Object.toString.()Ljava/lang/String;", false, func(ctx *Context, args []Value) (Value, error) {
		o := receiver(args)
		return Ref(ctx.vm.NewString(fmt.Sprintf("%s@%x", javaName(o.Class.Name), identityHash(o)))), nil
	})
	t.Register("java/lang/Object.wait.()V", true, func(ctx *Context, args []Value) (Value, error) {
		return Void, ctx.Wait(receiver(args), 0)
	})
	t.Register("java/lang/Object.wait.(J)V", true, func(ctx *Context, args []Value) (Value, error) {
		return Void, ctx.Wait(receiver(args), args[1].I)
	})
	t.Register("java/lang/Object.notify.()V", false, func(ctx *Context, args []Value) (Value, error) {
		return Void, ctx.Notify(receiver(args), false)
	})
	t.Register("java/lang/Object.notifyAll.()V", false, func(ctx *Context, args []Value) (Value, error) {
		return Void, ctx.Notify(receiver(args), true)
	})

	t.Register("java/lang/Class.getName.()Ljava/lang/String;", false, func(ctx *Context, args []Value) (Value, error) {
		return Ref(ctx.vm.Intern(javaName(mirrored(args).Name))), nil
	})
	t.Register("java/lang/Class.toString.()Ljava/lang/String;", false, func(ctx *Context, args []Value) (Value, error) {
		c := mirrored(args)
		prefix := "class "
		if c.IsInterface() {
			prefix = "interface "
		}
		return Ref(ctx.vm.NewString(prefix + javaName(c.Name))), nil
	})
	t.Register("java/lang/Class.isInstance.(Ljava/lang/Object;)Z", false, func(ctx *Context, args []Value) (Value, error) {
		o := args[1].R
		return Bool(o != nil && ctx.vm.isAssignable(o.Class, mirrored(args))), nil
	})
	t.Register("java/lang/Class.isArray.()Z", false, func(ctx *Context, args []Value) (Value, error) {
		return Bool(mirrored(args).IsArray()), nil
	})
	t.Register("java/lang/Class.isInterface.()Z", false, func(ctx *Context, args []Value) (Value, error) {
		return Bool(mirrored(args).IsInterface()), nil
	})
}

// identityHash is stable for the life of o.
func identityHash(o *Object) int32 {
	return int32(o.id * 0x9E3779B1 >> 1)
}

func mirrored(args []Value) *Class { return receiver(args).Native.(*Class) }

// ---------------------------------------------------------------------------
// Threads
// ---------------------------------------------------------------------------

func threadContext(t *Object) *Context {
	ctx, _ := t.Native.(*Context)
	return ctx
}

func (vm *VM) initThread(t *Object, target *Object, name *Object) {
	if name == nil {
		vm.threadSeq++
		name = vm.NewString(fmt.Sprintf("Thread-%d", vm.threadSeq))
	}
	t.SetField("target", Ref(target))
	t.SetField("name", Ref(name))
	t.SetField("priority", Int(NormPriority))
}

// threadObject returns the java/lang/Thread of ctx, creating one for
// threads the embedder started.
func (ctx *Context) threadObject() *Object {
	if ctx.Thread == nil {
		vm := ctx.vm
		t := vm.NewObject(vm.mustClass("java/lang/Thread"))
		vm.initThread(t, nil, vm.NewString(ctx.Name))
		t.SetField("priority", Int(int32(ctx.Priority())))
		t.Native = ctx
		ctx.Thread = t
	}
	return ctx.Thread
}

// startThread creates and enqueues the context that runs t.run().
func (vm *VM) startThread(t *Object) (*Context, error) {
	if t.Native != nil {
		return nil, javaErrorf(classIllegalThreadState, "thread already started")
	}
	run := t.Class.FindVirtual("run", "()V")
	if run == nil {
		return nil, javaErrorf(classAbstractMethod, "%s.run()V", javaName(t.Class.Name))
	}
	name, _ := t.Field("name")
	ctx := vm.newContext(GoString(name.R), t)
	if p, ok := t.Field("priority"); ok {
		ctx.SetPriority(int(p.I))
	}
	ctx.entry = &entryCall{method: run, args: []Value{Ref(t)}}
	t.Native = ctx
	vm.sched.Enqueue(ctx)
	return ctx, nil
}

func (vm *VM) registerThreadNatives() {
	t := vm.natives
	t.Register("java/lang/Thread.<init>.()V", false, func(ctx *Context, args []Value) (Value, error) {
		ctx.vm.initThread(receiver(args), nil, nil)
		return Void, nil
	})
	t.Register("java/lang/Thread.<init>.(Ljava/lang/Runnable;)V", false, func(ctx *Context, args []Value) (Value, error) {
		ctx.vm.initThread(receiver(args), args[1].R, nil)
		return Void, nil
	})
	t.Register("java/lang/Thread.<init>.(Ljava/lang/String;)V", false, func(ctx *Context, args []Value) (Value, error) {
		ctx.vm.initThread(receiver(args), nil, args[1].R)
		return Void, nil
	})
	t.Register("java/lang/Thread.<init>.(Ljava/lang/Runnable;Ljava/lang/String;)V", false, func(ctx *Context, args []Value) (Value, error) {
		ctx.vm.initThread(receiver(args), args[1].R, args[2].R)
		return Void, nil
	})
	t.Register("java/lang/Thread.start.()V", false, func(ctx *Context, args []Value) (Value, error) {
		_, err := ctx.vm.startThread(receiver(args))
		return Void, err
	})
	t.Register("java/lang/Thread.join.()V", true, func(ctx *Context, args []Value) (Value, error) {
		if target := threadContext(receiver(args)); target != nil && target != ctx {
			ctx.Join(target)
		}
		return Void, nil
	})
	t.Register("java/lang/Thread.isAlive.()Z", false, func(ctx *Context, args []Value) (Value, error) {
		target := threadContext(receiver(args))
		return Bool(target != nil && target.State() != ThreadTerminated), nil
	})
	t.Register("java/lang/Thread.setPriority.(I)V", false, func(ctx *Context, args []Value) (Value, error) {
		p := args[1].AsInt()
		if p < MinPriority || p > MaxPriority {
			return Void, javaErrorf(classIllegalArgument, "priority %d out of range", p)
		}
		self := receiver(args)
		self.SetField("priority", Int(p))
		if target := threadContext(self); target != nil {
			target.SetPriority(int(p))
		}
		return Void, nil
	})
	t.Register("java/lang/Thread.getPriority.()I", false, func(ctx *Context, args []Value) (Value, error) {
		p, _ := receiver(args).Field("priority")
		return p, nil
	})
	t.Register("java/lang/Thread.getName.()Ljava/lang/String;", false, func(ctx *Context, args []Value) (Value, error) {
		n, _ := receiver(args).Field("name")
		return n, nil
	})
	t.Register("java/lang/Thread.toString.()Ljava/lang/String;", false, func(ctx *Context, args []Value) (Value, error) {
		self := receiver(args)
		n, _ := self.Field("name")
		p, _ := self.Field("priority")
		return Ref(ctx.vm.NewString(fmt.Sprintf("Thread[%s,%d]", GoString(n.R), p.I))), nil
	})
	t.Register("java/lang/Thread.sleep.(J)V", true, func(ctx *Context, args []Value) (Value, error) {
		millis := args[0].I
		switch {
		case millis < 0:
			return Void, javaErrorf(classIllegalArgument, "timeout value is negative")
		case millis == 0:
			ctx.Yield()
		default:
			d, _ := millisDuration(millis)
			ctx.Sleep(d)
		}
		return Void, nil
	})
	t.Register("java/lang/Thread.yield.()V", true, func(ctx *Context, args []Value) (Value, error) {
		ctx.Yield()
		return Void, nil
	})
	t.Register("java/lang/Thread.currentThread.()Ljava/lang/Thread;", false, func(ctx *Context, args []Value) (Value, error) {
		return Ref(ctx.threadObject()), nil
	})
	t.Register("java/lang/Thread.activeCount.()I", false, func(ctx *Context, args []Value) (Value, error) {
		return Int(int32(len(ctx.vm.contexts))), nil
	})
}

// ---------------------------------------------------------------------------
// System, Math, Integer
// ---------------------------------------------------------------------------

func (vm *VM) registerSystemNatives() {
	t := vm.natives
	t.Register("java/lang/System.currentTimeMillis.()J", false, func(ctx *Context, args []Value) (Value, error) {
		return Long(ctx.vm.host.Now().UnixMilli()), nil
	})
	t.Register("java/lang/System.identityHashCode.(Ljava/lang/Object;)I", false, func(ctx *Context, args []Value) (Value, error) {
		if o := args[0].R; o != nil {
			return Int(identityHash(o)), nil
		}
		return Int(0), nil
	})
	t.Register("java/lang/System.gc.()V", false, returnsVoid)
	t.Register("java/lang/System.arraycopy.(Ljava/lang/Object;ILjava/lang/Object;II)V", false, func(ctx *Context, args []Value) (Value, error) {
		return Void, ctx.vm.arraycopy(args[0].R, args[1].AsInt(), args[2].R, args[3].AsInt(), args[4].AsInt())
	})

	t.Register("java/lang/Math.abs.(I)I", false, func(ctx *Context, args []Value) (Value, error) {
		if v := args[0].AsInt(); v < 0 {
			return Int(-v), nil
		}
		return args[0], nil
	})
	t.Register("java/lang/Math.abs.(J)J", false, func(ctx *Context, args []Value) (Value, error) {
		if v := args[0].I; v < 0 {
			return Long(-v), nil
		}
		return args[0], nil
	})
	t.Register("java/lang/Math.abs.(F)F", false, func(ctx *Context, args []Value) (Value, error) {
		return Float(float32(math.Abs(args[0].F))), nil
	})
	t.Register("java/lang/Math.abs.(D)D", false, func(ctx *Context, args []Value) (Value, error) {
		return Double(math.Abs(args[0].F)), nil
	})
	t.Register("java/lang/Math.max.(II)I", false, func(ctx *Context, args []Value) (Value, error) {
		return Int(max(args[0].AsInt(), args[1].AsInt())), nil
	})
	t.Register("java/lang/Math.min.(II)I", false, func(ctx *Context, args []Value) (Value, error) {
		return Int(min(args[0].AsInt(), args[1].AsInt())), nil
	})
	t.Register("java/lang/Math.max.(JJ)J", false, func(ctx *Context, args []Value) (Value, error) {
		return Long(max(args[0].I, args[2].I)), nil
	})
	t.Register("java/lang/Math.min.(JJ)J", false, func(ctx *Context, args []Value) (Value, error) {
		return Long(min(args[0].I, args[2].I)), nil
	})
	t.Register("java/lang/Math.max.(DD)D", false, func(ctx *Context, args []Value) (Value, error) {
		return Double(math.Max(args[0].F, args[2].F)), nil
	})
	t.Register("java/lang/Math.min.(DD)D", false, func(ctx *Context, args []Value) (Value, error) {
		return Double(math.Min(args[0].F, args[2].F)), nil
	})

	t.Register("java/lang/Integer.toString.(I)Ljava/lang/String;", false, func(ctx *Context, args []Value) (Value, error) {
		return Ref(ctx.vm.NewString(strconv.Itoa(int(args[0].AsInt())))), nil
	})
	t.Register("java/lang/Integer.toHexString.(I)Ljava/lang/String;", false, func(ctx *Context, args []Value) (Value, error) {
		return Ref(ctx.vm.NewString(strconv.FormatUint(uint64(uint32(args[0].AsInt())), 16))), nil
	})
	t.Register("java/lang/Integer.parseInt.(Ljava/lang/String;)I", false, func(ctx *Context, args []Value) (Value, error) {
		s := args[0].R
		if s == nil {
			return Void, javaErrorf(classNumberFormat, "null")
		}
		n, err := strconv.ParseInt(s.Str, 10, 32)
		if err != nil {
			return Void, javaErrorf(classNumberFormat, "For input string: %q", s.Str)
		}
		return Int(int32(n)), nil
	})
}

// arraycopy implements System.arraycopy.
func (vm *VM) arraycopy(src *Object, srcPos int32, dst *Object, dstPos, n int32) error {
	if src == nil || dst == nil {
		return javaErrorf(classNullPointer, "arraycopy")
	}
	if !src.IsArray() || !dst.IsArray() {
		return javaErrorf(classArrayStore, "arraycopy: not an array")
	}
	srcElem, dstElem := src.Class.Name[1:], dst.Class.Name[1:]
	primitive := !isReferenceDesc(srcElem) || !isReferenceDesc(dstElem)
	if primitive && srcElem != dstElem {
		return javaErrorf(classArrayStore, "arraycopy: type mismatch")
	}
	if srcPos < 0 || dstPos < 0 || n < 0 ||
		int64(srcPos)+int64(n) > int64(len(src.Elems)) || int64(dstPos)+int64(n) > int64(len(dst.Elems)) {
		return javaErrorf(classArrayIndex, "arraycopy: last source index %d out of bounds for length %d",
			int64(srcPos)+int64(n), len(src.Elems))
	}
	if primitive || vm.isAssignable(src.Class, dst.Class) {
		copy(dst.Elems[dstPos:dstPos+n], src.Elems[srcPos:srcPos+n])
		return nil
	}
	elem, err := vm.elementClass(dst.Class)
	if err != nil {
		return err
	}
	for i := int32(0); i < n; i++ {
		v := src.Elems[srcPos+i]
		if v.R != nil && !vm.isAssignable(v.R.Class, elem) {
			return javaErrorf(classArrayStore, "arraycopy: element type mismatch")
		}
		dst.Elems[dstPos+i] = v
	}
	return nil
}

func isReferenceDesc(desc string) bool {
	return desc != "" && (desc[0] == 'L' || desc[0] == '[')
}

// ---------------------------------------------------------------------------
// Throwable
// ---------------------------------------------------------------------------

func (vm *VM) registerThrowableNatives() {
	t := vm.natives
	t.Register("java/lang/Throwable.<init>.()V", false, returnsVoid)
	t.Register("java/lang/Throwable.<init>.(Ljava/lang/String;)V", false, func(ctx *Context, args []Value) (Value, error) {
		receiver(args).SetField("detailMessage", args[1])
		return Void, nil
	})
	t.Register("java/lang/Throwable.getMessage.()Ljava/lang/String;", false, func(ctx *Context, args []Value) (Value, error) {
		v, _ := receiver(args).Field("detailMessage")
		return v, nil
	})
	t.Register("java/lang/Throwable.toString.()Ljava/lang/String;", false, func(ctx *Context, args []Value) (Value, error) {
		return Ref(ctx.vm.NewString(describeThrowable(receiver(args)))), nil
	})
	t.Register("java/lang/Throwable.printStackTrace.()V", false, func(ctx *Context, args []Value) (Value, error) {
		fmt.Fprintln(ctx.vm.stderr, describeThrowable(receiver(args)))
		for i := len(ctx.frames) - 1; i >= 0; i-- {
			f := ctx.frames[i]
			fmt.Fprintf(ctx.vm.stderr, "\tat %s (pc %d)\n", f.Method.Key(), f.OpPC)
		}
		return Void, nil
	})
}
