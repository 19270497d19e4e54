package vm

import (
	"strings"
	"testing"

	"github.com/chazu/cldc/pkg/bytecode"
	"github.com/chazu/cldc/pkg/classfile"
)

const tInt = 10 // newarray type code

// progClass builds Prog, a grab bag of static methods.
func progClass() *classfile.Builder {
	b := classfile.NewBuilder("Prog", "java/lang/Object", publicClass)
	fib := b.Methodref("Prog", "fib", "(I)I")
	method(b, publicStatic, "fib", "(I)I", 3, 1, func(a *bytecode.Assembler) {
		rec := a.NewLabel()
		a.Load(bytecode.OpIload, 0).Emit(bytecode.OpIconst2).Branch(bytecode.OpIfIcmpge, rec).
			Load(bytecode.OpIload, 0).Emit(bytecode.OpIreturn).
			Bind(rec).
			Load(bytecode.OpIload, 0).Emit(bytecode.OpIconst1).Emit(bytecode.OpIsub).
			EmitU16(bytecode.OpInvokestatic, int(fib)).
			Load(bytecode.OpIload, 0).Emit(bytecode.OpIconst2).Emit(bytecode.OpIsub).
			EmitU16(bytecode.OpInvokestatic, int(fib)).
			Emit(bytecode.OpIadd).Emit(bytecode.OpIreturn)
	})

	// sum(n) = 0 + 1 + ... + n-1 as a long
	method(b, publicStatic, "sum", "(I)J", 4, 4, func(a *bytecode.Assembler) {
		loop, end := a.NewLabel(), a.NewLabel()
		a.Emit(bytecode.OpLconst0).Store(bytecode.OpLstore, 1).
			Emit(bytecode.OpIconst0).Store(bytecode.OpIstore, 3).
			Bind(loop).
			Load(bytecode.OpIload, 3).Load(bytecode.OpIload, 0).Branch(bytecode.OpIfIcmpge, end).
			Load(bytecode.OpLload, 1).Load(bytecode.OpIload, 3).Emit(bytecode.OpI2l).Emit(bytecode.OpLadd).
			Store(bytecode.OpLstore, 1).
			Iinc(3, 1).
			Branch(bytecode.OpGoto, loop).
			Bind(end).
			Load(bytecode.OpLload, 1).Emit(bytecode.OpLreturn)
	})

	method(b, publicStatic, "div", "(II)I", 2, 2, func(a *bytecode.Assembler) {
		a.Load(bytecode.OpIload, 0).Load(bytecode.OpIload, 1).Emit(bytecode.OpIdiv).Emit(bytecode.OpIreturn)
	})

	methodCatching(b, publicStatic, "safeDiv", "(II)I", 2, 3, func(a *bytecode.Assembler) []handler {
		start := a.PC()
		a.Load(bytecode.OpIload, 0).Load(bytecode.OpIload, 1).Emit(bytecode.OpIdiv).Emit(bytecode.OpIreturn)
		end := a.PC()
		a.Store(bytecode.OpAstore, 2).Emit(bytecode.OpIconstM1).Emit(bytecode.OpIreturn)
		return []handler{{start, end, end, "java/lang/ArithmeticException"}}
	})

	rt := b.Class("java/lang/RuntimeException")
	rtInit := b.Methodref("java/lang/RuntimeException", "<init>", "(Ljava/lang/String;)V")
	boomMsg := b.StringConst("boom")
	method(b, publicStatic, "boom", "()V", 3, 0, func(a *bytecode.Assembler) {
		a.EmitU16(bytecode.OpNew, int(rt)).Emit(bytecode.OpDup).
			Emit(bytecode.OpLdc, byte(boomMsg)).
			EmitU16(bytecode.OpInvokespecial, int(rtInit)).
			Emit(bytecode.OpAthrow)
	})

	boom := b.Methodref("Prog", "boom", "()V")
	getMessage := b.Methodref("java/lang/Throwable", "getMessage", "()Ljava/lang/String;")
	length := b.Methodref("java/lang/String", "length", "()I")
	methodCatching(b, publicStatic, "catchMessage", "()I", 2, 0, func(a *bytecode.Assembler) []handler {
		start := a.PC()
		a.EmitU16(bytecode.OpInvokestatic, int(boom)).Emit(bytecode.OpIconst0).Emit(bytecode.OpIreturn)
		end := a.PC()
		a.EmitU16(bytecode.OpInvokevirtual, int(getMessage)).
			EmitU16(bytecode.OpInvokevirtual, int(length)).
			Emit(bytecode.OpIreturn)
		return []handler{{start, end, end, "java/lang/RuntimeException"}}
	})

	// squares fills int[5] with i*i and sums it.
	method(b, publicStatic, "squares", "()I", 4, 3, func(a *bytecode.Assembler) {
		fill, filled, add, done := a.NewLabel(), a.NewLabel(), a.NewLabel(), a.NewLabel()
		a.Emit(bytecode.OpIconst5).Emit(bytecode.OpNewarray, tInt).Store(bytecode.OpAstore, 0).
			Emit(bytecode.OpIconst0).Store(bytecode.OpIstore, 1).
			Bind(fill).
			Load(bytecode.OpIload, 1).Emit(bytecode.OpIconst5).Branch(bytecode.OpIfIcmpge, filled).
			Load(bytecode.OpAload, 0).Load(bytecode.OpIload, 1).
			Load(bytecode.OpIload, 1).Load(bytecode.OpIload, 1).Emit(bytecode.OpImul).
			Emit(bytecode.OpIastore).
			Iinc(1, 1).Branch(bytecode.OpGoto, fill).
			Bind(filled).
			Emit(bytecode.OpIconst0).Store(bytecode.OpIstore, 2).
			Emit(bytecode.OpIconst0).Store(bytecode.OpIstore, 1).
			Bind(add).
			Load(bytecode.OpIload, 1).Load(bytecode.OpAload, 0).Emit(bytecode.OpArraylength).
			Branch(bytecode.OpIfIcmpge, done).
			Load(bytecode.OpIload, 2).Load(bytecode.OpAload, 0).Load(bytecode.OpIload, 1).Emit(bytecode.OpIaload).
			Emit(bytecode.OpIadd).Store(bytecode.OpIstore, 2).
			Iinc(1, 1).Branch(bytecode.OpGoto, add).
			Bind(done).
			Load(bytecode.OpIload, 2).Emit(bytecode.OpIreturn)
	})

	method(b, publicStatic, "outOfBounds", "()I", 2, 0, func(a *bytecode.Assembler) {
		a.Emit(bytecode.OpIconst2).Emit(bytecode.OpNewarray, tInt).
			Emit(bytecode.OpIconst2).Emit(bytecode.OpIaload).Emit(bytecode.OpIreturn)
	})

	method(b, publicStatic, "table", "(I)I", 1, 1, func(a *bytecode.Assembler) {
		c0, c1, c2, def := a.NewLabel(), a.NewLabel(), a.NewLabel(), a.NewLabel()
		a.Load(bytecode.OpIload, 0).TableSwitch(0, def, c0, c1, c2).
			Bind(c0).Push(10).Emit(bytecode.OpIreturn).
			Bind(c1).Push(20).Emit(bytecode.OpIreturn).
			Bind(c2).Push(30).Emit(bytecode.OpIreturn).
			Bind(def).Emit(bytecode.OpIconstM1).Emit(bytecode.OpIreturn)
	})

	method(b, publicStatic, "underflow", "()I", 2, 0, func(a *bytecode.Assembler) {
		a.Emit(bytecode.OpIadd).Emit(bytecode.OpIreturn)
	})
	return b
}

func TestInterpretRecursion(t *testing.T) {
	tv := newTestVM(t, Options{})
	tv.define(progClass())
	wantInt(t, tv.call("Prog", "fib", "(I)I", Int(15)), 610)
}

func TestInterpretLongLoop(t *testing.T) {
	tv := newTestVM(t, Options{})
	tv.define(progClass())
	r := tv.call("Prog", "sum", "(I)J", Int(100000))
	if r.Status != Completed || r.Value.K != KindLong || r.Value.I != 4999950000 {
		t.Errorf("sum(100000) = %v %v, want long 4999950000", r.Status, r.Value)
	}
}

func TestInterpretArrays(t *testing.T) {
	tv := newTestVM(t, Options{})
	tv.define(progClass())
	wantInt(t, tv.call("Prog", "squares", "()I"), 30)
	wantThrown(t, tv.call("Prog", "outOfBounds", "()I"), classArrayIndex)
}

func TestInterpretTableSwitch(t *testing.T) {
	tv := newTestVM(t, Options{})
	tv.define(progClass())
	for in, want := range map[int32]int32{0: 10, 1: 20, 2: 30, 3: -1, -5: -1} {
		wantInt(t, tv.call("Prog", "table", "(I)I", Int(in)), want)
	}
}

func TestInterpretExceptions(t *testing.T) {
	tv := newTestVM(t, Options{})
	tv.define(progClass())

	wantInt(t, tv.call("Prog", "safeDiv", "(II)I", Int(7), Int(2)), 3)
	wantInt(t, tv.call("Prog", "safeDiv", "(II)I", Int(7), Int(0)), -1)
	wantInt(t, tv.call("Prog", "catchMessage", "()I"), 4)

	r := tv.call("Prog", "div", "(II)I", Int(1), Int(0))
	wantThrown(t, r, classArithmetic)
	if !strings.Contains(tv.out.String(), "java.lang.ArithmeticException") {
		t.Errorf("uncaught exception not reported, output %q", tv.out.String())
	}
}

func TestInterpretFatalErrorIsContained(t *testing.T) {
	dir := t.TempDir()
	tv := newTestVM(t, Options{DumpDir: dir})
	tv.define(progClass())

	bad := tv.spawn("Prog", "underflow", "()I")
	good := tv.spawn("Prog", "fib", "(I)I", Int(10))
	tv.settle()

	if bad.Fatal() == nil {
		t.Fatal("underflow did not abort its thread")
	}
	wantThrown(t, bad.Result(), classInternal)
	wantInt(t, good.Result(), 55)
}

// configClass builds Config, whose <clinit> sets value to 42 and counts
// its runs in inits.
func configClass() *classfile.Builder {
	b := classfile.NewBuilder("Config", "java/lang/Object", publicClass)
	b.AddField(classfile.AccStatic, "value", "I")
	b.AddField(classfile.AccStatic, "inits", "I")
	value := b.Fieldref("Config", "value", "I")
	inits := b.Fieldref("Config", "inits", "I")
	method(b, classfile.AccStatic, "<clinit>", "()V", 2, 0, func(a *bytecode.Assembler) {
		a.EmitU16(bytecode.OpGetstatic, int(inits)).Emit(bytecode.OpIconst1).Emit(bytecode.OpIadd).
			EmitU16(bytecode.OpPutstatic, int(inits)).
			Push(42).EmitU16(bytecode.OpPutstatic, int(value)).
			Emit(bytecode.OpReturn)
	})
	method(b, publicStatic, "get", "()I", 3, 0, func(a *bytecode.Assembler) {
		a.EmitU16(bytecode.OpGetstatic, int(value)).
			EmitU16(bytecode.OpGetstatic, int(inits)).Push(1000).Emit(bytecode.OpImul).
			Emit(bytecode.OpIadd).Emit(bytecode.OpIreturn)
	})
	return b
}

func TestClassInitialization(t *testing.T) {
	tv := newTestVM(t, Options{})
	c := tv.define(configClass())
	if c.Initialized() {
		t.Fatal("Config initialized before first use")
	}
	wantInt(t, tv.call("Config", "get", "()I"), 1042)
	wantInt(t, tv.call("Config", "get", "()I"), 1042)
	if !c.Initialized() {
		t.Error("Config not marked initialized")
	}
}

func TestFailedClassInitialization(t *testing.T) {
	tv := newTestVM(t, Options{})
	b := classfile.NewBuilder("Broken", "java/lang/Object", publicClass)
	method(b, classfile.AccStatic, "<clinit>", "()V", 2, 0, func(a *bytecode.Assembler) {
		a.Emit(bytecode.OpIconst1).Emit(bytecode.OpIconst0).Emit(bytecode.OpIdiv).
			Emit(bytecode.OpPop).Emit(bytecode.OpReturn)
	})
	method(b, publicStatic, "get", "()I", 1, 0, func(a *bytecode.Assembler) {
		a.Emit(bytecode.OpIconst1).Emit(bytecode.OpIreturn)
	})
	c := tv.define(b)

	wantThrown(t, tv.call("Broken", "get", "()I"), classArithmetic)
	if c.State() != ClassErroneous {
		t.Errorf("State() = %v, want erroneous", c.State())
	}
	wantThrown(t, tv.call("Broken", "get", "()I"), classNoClassDefFound)
}

func TestVirtualDispatch(t *testing.T) {
	tv := newTestVM(t, Options{})

	base := defaultInit(classfile.NewBuilder("Base", "java/lang/Object", publicClass), "java/lang/Object")
	method(base, classfile.AccPublic, "f", "()I", 1, 1, func(a *bytecode.Assembler) {
		a.Emit(bytecode.OpIconst1).Emit(bytecode.OpIreturn)
	})
	f := base.Methodref("Base", "f", "()I")
	method(base, classfile.AccPublic, "g", "()I", 2, 1, func(a *bytecode.Assembler) {
		a.Load(bytecode.OpAload, 0).EmitU16(bytecode.OpInvokevirtual, int(f)).
			Push(10).Emit(bytecode.OpImul).Emit(bytecode.OpIreturn)
	})
	tv.define(base)

	derived := defaultInit(classfile.NewBuilder("Derived", "Base", publicClass), "Base")
	method(derived, classfile.AccPublic, "f", "()I", 1, 1, func(a *bytecode.Assembler) {
		a.Emit(bytecode.OpIconst2).Emit(bytecode.OpIreturn)
	})
	baseF := derived.Methodref("Base", "f", "()I")
	method(derived, classfile.AccPublic, "viaSuper", "()I", 1, 1, func(a *bytecode.Assembler) {
		a.Load(bytecode.OpAload, 0).EmitU16(bytecode.OpInvokespecial, int(baseF)).Emit(bytecode.OpIreturn)
	})
	tv.define(derived)

	b := classfile.NewBuilder("Dispatch", "java/lang/Object", publicClass)
	dc := b.Class("Derived")
	dInit := b.Methodref("Derived", "<init>", "()V")
	g := b.Methodref("Base", "g", "()I")
	viaSuper := b.Methodref("Derived", "viaSuper", "()I")
	method(b, publicStatic, "run", "()I", 3, 1, func(a *bytecode.Assembler) {
		a.EmitU16(bytecode.OpNew, int(dc)).Emit(bytecode.OpDup).
			EmitU16(bytecode.OpInvokespecial, int(dInit)).Store(bytecode.OpAstore, 0).
			Load(bytecode.OpAload, 0).EmitU16(bytecode.OpInvokevirtual, int(g)).
			Load(bytecode.OpAload, 0).EmitU16(bytecode.OpInvokevirtual, int(viaSuper)).
			Emit(bytecode.OpIadd).Emit(bytecode.OpIreturn)
	})
	nullCall := b.Methodref("Base", "f", "()I")
	method(b, publicStatic, "nullCall", "()I", 1, 0, func(a *bytecode.Assembler) {
		a.Emit(bytecode.OpAconstNull).EmitU16(bytecode.OpInvokevirtual, int(nullCall)).Emit(bytecode.OpIreturn)
	})
	tv.define(b)

	// Derived.g() dispatches f to Derived (20); viaSuper binds Base.f (1).
	wantInt(t, tv.call("Dispatch", "run", "()I"), 21)
	wantThrown(t, tv.call("Dispatch", "nullCall", "()I"), classNullPointer)
}
