package vm

import (
	"math"
	"testing"
	"time"

	"github.com/chazu/cldc/pkg/bytecode"
	"github.com/chazu/cldc/pkg/classfile"
)

// emitPrintln emits System.out.println(s).
func emitPrintln(b *classfile.Builder, a *bytecode.Assembler, s string) {
	out := b.Fieldref("java/lang/System", "out", "Ljava/io/PrintStream;")
	printString := b.Methodref("java/io/PrintStream", "println", "(Ljava/lang/String;)V")
	a.EmitU16(bytecode.OpGetstatic, int(out)).
		Emit(bytecode.OpLdc, byte(b.StringConst(s))).
		EmitU16(bytecode.OpInvokevirtual, int(printString))
}

func defineThreadClasses(tv *testVM) {
	worker := classfile.NewBuilder("Worker", "java/lang/Thread", publicClass)
	defaultInit(worker, "java/lang/Thread")
	method(worker, classfile.AccPublic, "run", "()V", 2, 1, func(a *bytecode.Assembler) {
		emitPrintln(worker, a, "worker")
		a.Emit(bytecode.OpReturn)
	})
	tv.define(worker)

	task := classfile.NewBuilder("Task", "java/lang/Object", publicClass).AddInterface("java/lang/Runnable")
	defaultInit(task, "java/lang/Object")
	method(task, classfile.AccPublic, "run", "()V", 2, 1, func(a *bytecode.Assembler) {
		emitPrintln(task, a, "task")
		a.Emit(bytecode.OpReturn)
	})
	tv.define(task)

	b := classfile.NewBuilder("Threads", "java/lang/Object", publicClass)
	workerClass := b.Class("Worker")
	workerInit := b.Methodref("Worker", "<init>", "()V")
	start := b.Methodref("java/lang/Thread", "start", "()V")
	join := b.Methodref("java/lang/Thread", "join", "()V")
	method(b, publicStatic, "startJoin", "()V", 2, 1, func(a *bytecode.Assembler) {
		a.EmitU16(bytecode.OpNew, int(workerClass)).Emit(bytecode.OpDup).
			EmitU16(bytecode.OpInvokespecial, int(workerInit)).Store(bytecode.OpAstore, 0).
			Load(bytecode.OpAload, 0).EmitU16(bytecode.OpInvokevirtual, int(start)).
			Load(bytecode.OpAload, 0).EmitU16(bytecode.OpInvokevirtual, int(join))
		emitPrintln(b, a, "done")
		a.Emit(bytecode.OpReturn)
	})
	method(b, publicStatic, "doubleStart", "()V", 2, 1, func(a *bytecode.Assembler) {
		a.EmitU16(bytecode.OpNew, int(workerClass)).Emit(bytecode.OpDup).
			EmitU16(bytecode.OpInvokespecial, int(workerInit)).Store(bytecode.OpAstore, 0).
			Load(bytecode.OpAload, 0).EmitU16(bytecode.OpInvokevirtual, int(start)).
			Load(bytecode.OpAload, 0).EmitU16(bytecode.OpInvokevirtual, int(start)).
			Emit(bytecode.OpReturn)
	})

	threadClass := b.Class("java/lang/Thread")
	threadInit := b.Methodref("java/lang/Thread", "<init>", "(Ljava/lang/Runnable;)V")
	taskClass := b.Class("Task")
	taskInit := b.Methodref("Task", "<init>", "()V")
	method(b, publicStatic, "runnable", "()V", 4, 1, func(a *bytecode.Assembler) {
		a.EmitU16(bytecode.OpNew, int(threadClass)).Emit(bytecode.OpDup).
			EmitU16(bytecode.OpNew, int(taskClass)).Emit(bytecode.OpDup).
			EmitU16(bytecode.OpInvokespecial, int(taskInit)).
			EmitU16(bytecode.OpInvokespecial, int(threadInit)).Store(bytecode.OpAstore, 0).
			Load(bytecode.OpAload, 0).EmitU16(bytecode.OpInvokevirtual, int(start)).
			Load(bytecode.OpAload, 0).EmitU16(bytecode.OpInvokevirtual, int(join)).
			Emit(bytecode.OpReturn)
	})

	now := b.Methodref("java/lang/System", "currentTimeMillis", "()J")
	sleep := b.Methodref("java/lang/Thread", "sleep", "(J)V")
	nap := b.Long(250)
	method(b, publicStatic, "nap", "()J", 4, 2, func(a *bytecode.Assembler) {
		a.EmitU16(bytecode.OpInvokestatic, int(now)).Store(bytecode.OpLstore, 0).
			EmitU16(bytecode.OpLdc2W, int(nap)).EmitU16(bytecode.OpInvokestatic, int(sleep)).
			EmitU16(bytecode.OpInvokestatic, int(now)).Load(bytecode.OpLload, 0).Emit(bytecode.OpLsub).
			Emit(bytecode.OpLreturn)
	})
	method(b, publicStatic, "doze", "(J)V", 2, 2, func(a *bytecode.Assembler) {
		a.Load(bytecode.OpLload, 0).EmitU16(bytecode.OpInvokestatic, int(sleep)).
			Emit(bytecode.OpReturn)
	})

	out := b.Fieldref("java/lang/System", "out", "Ljava/io/PrintStream;")
	printString := b.Methodref("java/io/PrintStream", "print", "(Ljava/lang/String;)V")
	yield := b.Methodref("java/lang/Thread", "yield", "()V")
	method(b, publicStatic, "chatter", "(Ljava/lang/String;)V", 2, 2, func(a *bytecode.Assembler) {
		loop, end := a.NewLabel(), a.NewLabel()
		a.Emit(bytecode.OpIconst0).Store(bytecode.OpIstore, 1).
			Bind(loop).
			Load(bytecode.OpIload, 1).Emit(bytecode.OpIconst3).Branch(bytecode.OpIfIcmpge, end).
			EmitU16(bytecode.OpGetstatic, int(out)).Load(bytecode.OpAload, 0).
			EmitU16(bytecode.OpInvokevirtual, int(printString)).
			EmitU16(bytecode.OpInvokestatic, int(yield)).
			Iinc(1, 1).Branch(bytecode.OpGoto, loop).
			Bind(end).
			Emit(bytecode.OpReturn)
	})

	current := b.Methodref("java/lang/Thread", "currentThread", "()Ljava/lang/Thread;")
	getName := b.Methodref("java/lang/Thread", "getName", "()Ljava/lang/String;")
	method(b, publicStatic, "name", "()Ljava/lang/String;", 1, 0, func(a *bytecode.Assembler) {
		a.EmitU16(bytecode.OpInvokestatic, int(current)).
			EmitU16(bytecode.OpInvokevirtual, int(getName)).
			Emit(bytecode.OpAreturn)
	})
	tv.define(b)

	counter := classfile.NewBuilder("Counter", "java/lang/Object", publicClass)
	counter.AddField(classfile.AccStatic, "count", "I")
	count := counter.Fieldref("Counter", "count", "I")
	cyield := counter.Methodref("java/lang/Thread", "yield", "()V")
	// bump reads, yields, then writes: only the lock keeps it from losing
	// updates.
	method(counter, publicStatic|classfile.AccSynchronized, "bump", "()V", 2, 1, func(a *bytecode.Assembler) {
		a.EmitU16(bytecode.OpGetstatic, int(count)).Store(bytecode.OpIstore, 0).
			EmitU16(bytecode.OpInvokestatic, int(cyield)).
			Load(bytecode.OpIload, 0).Emit(bytecode.OpIconst1).Emit(bytecode.OpIadd).
			EmitU16(bytecode.OpPutstatic, int(count)).
			Emit(bytecode.OpReturn)
	})
	bump := counter.Methodref("Counter", "bump", "()V")
	method(counter, publicStatic, "worker", "()V", 2, 1, func(a *bytecode.Assembler) {
		loop, end := a.NewLabel(), a.NewLabel()
		a.Emit(bytecode.OpIconst0).Store(bytecode.OpIstore, 0).
			Bind(loop).
			Load(bytecode.OpIload, 0).Emit(bytecode.OpIconst5).Branch(bytecode.OpIfIcmpge, end).
			EmitU16(bytecode.OpInvokestatic, int(bump)).
			Iinc(0, 1).Branch(bytecode.OpGoto, loop).
			Bind(end).
			Emit(bytecode.OpReturn)
	})
	tv.define(counter)
}

func TestThreadStartJoin(t *testing.T) {
	tv := newTestVM(t, Options{})
	defineThreadClasses(tv)
	r := tv.call("Threads", "startJoin", "()V")
	if r.Status != Completed {
		t.Fatalf("Status = %v (%s)", r.Status, describe(r.Exception))
	}
	if got := tv.out.String(); got != "worker\ndone\n" {
		t.Errorf("output = %q, want worker then done", got)
	}
}

func TestThreadWithRunnable(t *testing.T) {
	tv := newTestVM(t, Options{})
	defineThreadClasses(tv)
	tv.call("Threads", "runnable", "()V")
	if got := tv.out.String(); got != "task\n" {
		t.Errorf("output = %q, want %q", got, "task\n")
	}
}

func TestThreadDoubleStart(t *testing.T) {
	tv := newTestVM(t, Options{})
	defineThreadClasses(tv)
	wantThrown(t, tv.call("Threads", "doubleStart", "()V"), classIllegalThreadState)
}

func TestThreadSleepAdvancesClock(t *testing.T) {
	tv := newTestVM(t, Options{})
	defineThreadClasses(tv)
	r := tv.call("Threads", "nap", "()J")
	if r.Status != Completed || r.Value.I != 250 {
		t.Errorf("nap() = %v %v, want 250", r.Status, r.Value)
	}
}

func TestThreadSleepBeyondDurationRange(t *testing.T) {
	tv := newTestVM(t, Options{})
	defineThreadClasses(tv)
	ctx := tv.spawn("Threads", "doze", "(J)V", Long(math.MaxInt64), Top)
	tv.h.RunPending()
	if ctx.State() != ThreadBlocked {
		t.Fatalf("State() = %v, want Blocked", ctx.State())
	}
	tv.h.Advance(24 * 365 * time.Hour)
	tv.h.RunPending()
	if ctx.State() != ThreadBlocked {
		t.Errorf("after a year State() = %v, want Blocked", ctx.State())
	}
}

func TestMillisDuration(t *testing.T) {
	for _, tt := range []struct {
		millis int64
		want   time.Duration
		ok     bool
	}{
		{0, 0, true},
		{250, 250 * time.Millisecond, true},
		{maxMillis, time.Duration(maxMillis) * time.Millisecond, true},
		{maxMillis + 1, math.MaxInt64, false},
		{math.MaxInt64, math.MaxInt64, false},
	} {
		got, ok := millisDuration(tt.millis)
		if got != tt.want || ok != tt.ok {
			t.Errorf("millisDuration(%d) = %v %t, want %v %t", tt.millis, got, ok, tt.want, tt.ok)
		}
		if got < 0 {
			t.Errorf("millisDuration(%d) is negative", tt.millis)
		}
	}
}

func TestThreadYieldInterleaves(t *testing.T) {
	tv := newTestVM(t, Options{})
	defineThreadClasses(tv)
	tv.spawn("Threads", "chatter", "(Ljava/lang/String;)V", Ref(tv.NewString("a")))
	tv.spawn("Threads", "chatter", "(Ljava/lang/String;)V", Ref(tv.NewString("b")))
	tv.settle()
	if got := tv.out.String(); got != "ababab" {
		t.Errorf("output = %q, want %q", got, "ababab")
	}
}

func TestSynchronizedMethodExcludes(t *testing.T) {
	tv := newTestVM(t, Options{})
	defineThreadClasses(tv)
	tv.spawn("Counter", "worker", "()V")
	tv.spawn("Counter", "worker", "()V")
	tv.settle()
	c, _ := tv.LoadClass("Counter")
	if v, _ := c.GetStatic("count"); v.AsInt() != 10 {
		t.Errorf("count = %d, want 10", v.AsInt())
	}
}

func TestCurrentThreadOfEmbedderThread(t *testing.T) {
	tv := newTestVM(t, Options{})
	defineThreadClasses(tv)
	r := tv.call("Threads", "name", "()Ljava/lang/String;")
	if r.Status != Completed || GoString(r.Value.R) != "test" {
		t.Errorf("name() = %v %v, want \"test\"", r.Status, r.Value)
	}
}
