package vm

import (
	"fmt"

	"github.com/chazu/cldc/pkg/bytecode"
	"github.com/chazu/cldc/pkg/classfile"
)

// ---------------------------------------------------------------------------
// Builtin classes
// ---------------------------------------------------------------------------

const (
	accNative   = classfile.AccPublic | classfile.AccNative
	accStatic   = classfile.AccPublic | classfile.AccStatic | classfile.AccNative
	accAbstract = classfile.AccPublic | classfile.AccAbstract
	accCode     = classfile.AccPublic
)

type builtinField struct {
	flags      uint16
	name, desc string
}

// builtinMethod is native unless code is set.
type builtinMethod struct {
	flags      uint16
	name, desc string
	code       func(b *classfile.Builder) *classfile.CodeAttribute
}

type builtinClass struct {
	name, super string
	flags       uint16
	interfaces  []string
	fields      []builtinField
	methods     []builtinMethod
}

func natives(flags uint16, descs ...string) []builtinMethod {
	out := make([]builtinMethod, 0, len(descs)/2)
	for i := 0; i+1 < len(descs); i += 2 {
		out = append(out, builtinMethod{flags: flags, name: descs[i], desc: descs[i+1]})
	}
	return out
}

func concat(groups ...[]builtinMethod) []builtinMethod {
	var out []builtinMethod
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

func exceptionClass(name, super string) builtinClass {
	return builtinClass{name: name, super: super, flags: classfile.AccPublic | classfile.AccSuper}
}

// builtinClasses lists the core classes, each after its superclass.
func builtinClasses() []builtinClass {
	classes := []builtinClass{
		{
			name:  "java/lang/Object",
			flags: classfile.AccPublic | classfile.AccSuper,
			methods: natives(accNative,
				"<init>", "()V",
				"hashCode", "()I",
				"equals", "(Ljava/lang/Object;)Z",
				"getClass", "()Ljava/lang/Class;",
				"toString", "()Ljava/lang/String;",
				"wait", "()V",
				"wait", "(J)V",
				"notify", "()V",
				"notifyAll", "()V",
			),
		},
		{
			name: "java/lang/Class", super: "java/lang/Object",
			flags: classfile.AccPublic | classfile.AccFinal | classfile.AccSuper,
			methods: natives(accNative,
				"getName", "()Ljava/lang/String;",
				"isInstance", "(Ljava/lang/Object;)Z",
				"isArray", "()Z",
				"isInterface", "()Z",
				"toString", "()Ljava/lang/String;",
			),
		},
		{
			name: "java/lang/Runnable", super: "java/lang/Object",
			flags:   classfile.AccPublic | classfile.AccInterface | classfile.AccAbstract,
			methods: natives(accAbstract, "run", "()V"),
		},
		{
			name: "java/lang/Thread", super: "java/lang/Object",
			flags:      classfile.AccPublic | classfile.AccSuper,
			interfaces: []string{"java/lang/Runnable"},
			fields: []builtinField{
				{classfile.AccPrivate, "target", "Ljava/lang/Runnable;"},
				{classfile.AccPrivate, "name", "Ljava/lang/String;"},
				{classfile.AccPrivate, "priority", "I"},
			},
			methods: concat(
				natives(accNative,
					"<init>", "()V",
					"<init>", "(Ljava/lang/Runnable;)V",
					"<init>", "(Ljava/lang/String;)V",
					"<init>", "(Ljava/lang/Runnable;Ljava/lang/String;)V",
					"start", "()V",
					"join", "()V",
					"isAlive", "()Z",
					"setPriority", "(I)V",
					"getPriority", "()I",
					"getName", "()Ljava/lang/String;",
					"toString", "()Ljava/lang/String;",
				),
				natives(accStatic,
					"sleep", "(J)V",
					"yield", "()V",
					"currentThread", "()Ljava/lang/Thread;",
					"activeCount", "()I",
				),
				[]builtinMethod{{flags: accCode, name: "run", desc: "()V", code: threadRun}},
			),
		},
		{
			name: "java/lang/String", super: "java/lang/Object",
			flags: classfile.AccPublic | classfile.AccFinal | classfile.AccSuper,
			methods: concat(
				natives(accNative,
					"<init>", "()V",
					"<init>", "(Ljava/lang/String;)V",
					"<init>", "([C)V",
					"<init>", "([CII)V",
					"length", "()I",
					"charAt", "(I)C",
					"equals", "(Ljava/lang/Object;)Z",
					"equalsIgnoreCase", "(Ljava/lang/String;)Z",
					"hashCode", "()I",
					"toString", "()Ljava/lang/String;",
					"compareTo", "(Ljava/lang/String;)I",
					"concat", "(Ljava/lang/String;)Ljava/lang/String;",
					"substring", "(I)Ljava/lang/String;",
					"substring", "(II)Ljava/lang/String;",
					"indexOf", "(I)I",
					"indexOf", "(Ljava/lang/String;)I",
					"startsWith", "(Ljava/lang/String;)Z",
					"endsWith", "(Ljava/lang/String;)Z",
					"toUpperCase", "()Ljava/lang/String;",
					"toLowerCase", "()Ljava/lang/String;",
					"trim", "()Ljava/lang/String;",
					"toCharArray", "()[C",
					"intern", "()Ljava/lang/String;",
				),
				natives(accStatic,
					"valueOf", "(I)Ljava/lang/String;",
					"valueOf", "(J)Ljava/lang/String;",
					"valueOf", "(C)Ljava/lang/String;",
					"valueOf", "(Z)Ljava/lang/String;",
					"valueOf", "(F)Ljava/lang/String;",
					"valueOf", "(D)Ljava/lang/String;",
				),
				[]builtinMethod{{
					flags: classfile.AccPublic | classfile.AccStatic,
					name:  "valueOf", desc: "(Ljava/lang/Object;)Ljava/lang/String;",
					code: stringValueOf,
				}},
			),
		},
		stringBufferClass("java/lang/StringBuffer"),
		stringBufferClass("java/lang/StringBuilder"),
		{
			name: "java/io/PrintStream", super: "java/lang/Object",
			flags: classfile.AccPublic | classfile.AccSuper,
			methods: concat(
				natives(accNative,
					"println", "()V",
					"println", "(Ljava/lang/String;)V",
					"println", "(I)V",
					"println", "(J)V",
					"println", "(C)V",
					"println", "(Z)V",
					"println", "(F)V",
					"println", "(D)V",
					"print", "(Ljava/lang/String;)V",
					"print", "(I)V",
					"print", "(J)V",
					"print", "(C)V",
					"print", "(Z)V",
					"print", "(F)V",
					"print", "(D)V",
					"flush", "()V",
				),
				[]builtinMethod{
					{flags: accCode, name: "println", desc: "(Ljava/lang/Object;)V", code: printObject("println")},
					{flags: accCode, name: "print", desc: "(Ljava/lang/Object;)V", code: printObject("print")},
				},
			),
		},
		{
			name: "java/lang/System", super: "java/lang/Object",
			flags: classfile.AccPublic | classfile.AccFinal | classfile.AccSuper,
			fields: []builtinField{
				{classfile.AccPublic | classfile.AccStatic | classfile.AccFinal, "out", "Ljava/io/PrintStream;"},
				{classfile.AccPublic | classfile.AccStatic | classfile.AccFinal, "err", "Ljava/io/PrintStream;"},
			},
			methods: natives(accStatic,
				"currentTimeMillis", "()J",
				"arraycopy", "(Ljava/lang/Object;ILjava/lang/Object;II)V",
				"identityHashCode", "(Ljava/lang/Object;)I",
				"gc", "()V",
			),
		},
		{
			name: "java/lang/Math", super: "java/lang/Object",
			flags: classfile.AccPublic | classfile.AccFinal | classfile.AccSuper,
			methods: natives(accStatic,
				"abs", "(I)I",
				"abs", "(J)J",
				"abs", "(F)F",
				"abs", "(D)D",
				"max", "(II)I",
				"max", "(JJ)J",
				"max", "(DD)D",
				"min", "(II)I",
				"min", "(JJ)J",
				"min", "(DD)D",
			),
		},
		{
			name: "java/lang/Integer", super: "java/lang/Object",
			flags: classfile.AccPublic | classfile.AccFinal | classfile.AccSuper,
			methods: natives(accStatic,
				"toString", "(I)Ljava/lang/String;",
				"toHexString", "(I)Ljava/lang/String;",
				"parseInt", "(Ljava/lang/String;)I",
			),
		},
		{
			name: classThrowable, super: "java/lang/Object",
			flags: classfile.AccPublic | classfile.AccSuper,
			fields: []builtinField{
				{classfile.AccPrivate, "detailMessage", "Ljava/lang/String;"},
			},
			methods: natives(accNative,
				"<init>", "()V",
				"<init>", "(Ljava/lang/String;)V",
				"getMessage", "()Ljava/lang/String;",
				"toString", "()Ljava/lang/String;",
				"printStackTrace", "()V",
			),
		},
	}
	for _, e := range exceptionHierarchy {
		classes = append(classes, exceptionClass(e[0], e[1]))
	}
	return classes
}

// exceptionHierarchy pairs each standard throwable with its superclass.
var exceptionHierarchy = [][2]string{
	{"java/lang/Exception", classThrowable},
	{"java/lang/Error", classThrowable},
	{"java/lang/RuntimeException", "java/lang/Exception"},
	{"java/lang/InterruptedException", "java/lang/Exception"},
	{"java/lang/ClassNotFoundException", "java/lang/Exception"},
	{"java/lang/IllegalAccessException", "java/lang/Exception"},
	{classInstantiation, "java/lang/Exception"},
	{"java/io/IOException", "java/lang/Exception"},
	{classArithmetic, "java/lang/RuntimeException"},
	{classArrayStore, "java/lang/RuntimeException"},
	{classClassCast, "java/lang/RuntimeException"},
	{classIllegalArgument, "java/lang/RuntimeException"},
	{classIllegalThreadState, classIllegalArgument},
	{classNumberFormat, classIllegalArgument},
	{classIllegalMonitorState, "java/lang/RuntimeException"},
	{"java/lang/IndexOutOfBoundsException", "java/lang/RuntimeException"},
	{classArrayIndex, "java/lang/IndexOutOfBoundsException"},
	{classStringIndex, "java/lang/IndexOutOfBoundsException"},
	{classNegativeArraySize, "java/lang/RuntimeException"},
	{classNullPointer, "java/lang/RuntimeException"},
	{"java/lang/SecurityException", "java/lang/RuntimeException"},
	{"java/lang/VirtualMachineError", "java/lang/Error"},
	{classInternal, "java/lang/VirtualMachineError"},
	{"java/lang/OutOfMemoryError", "java/lang/VirtualMachineError"},
	{classStackOverflow, "java/lang/VirtualMachineError"},
	{"java/lang/LinkageError", "java/lang/Error"},
	{classNoClassDefFound, "java/lang/LinkageError"},
	{"java/lang/UnsatisfiedLinkError", "java/lang/LinkageError"},
	{"java/lang/IncompatibleClassChangeError", "java/lang/LinkageError"},
	{classAbstractMethod, "java/lang/IncompatibleClassChangeError"},
	{classNoSuchField, "java/lang/IncompatibleClassChangeError"},
	{classNoSuchMethod, "java/lang/IncompatibleClassChangeError"},
}

func stringBufferClass(name string) builtinClass {
	self := "L" + name + ";"
	return builtinClass{
		name: name, super: "java/lang/Object",
		flags: classfile.AccPublic | classfile.AccFinal | classfile.AccSuper,
		methods: concat(
			natives(accNative,
				"<init>", "()V",
				"<init>", "(I)V",
				"<init>", "(Ljava/lang/String;)V",
				"append", "(Ljava/lang/String;)"+self,
				"append", "(I)"+self,
				"append", "(J)"+self,
				"append", "(C)"+self,
				"append", "(Z)"+self,
				"append", "(F)"+self,
				"append", "(D)"+self,
				"length", "()I",
				"setLength", "(I)V",
				"toString", "()Ljava/lang/String;",
			),
			[]builtinMethod{{flags: accCode, name: "append", desc: "(Ljava/lang/Object;)" + self, code: appendObject(name)}},
		),
	}
}

// threadRun calls target.run() when the thread was given a Runnable.
func threadRun(b *classfile.Builder) *classfile.CodeAttribute {
	target := b.Fieldref("java/lang/Thread", "target", "Ljava/lang/Runnable;")
	run := b.InterfaceMethodref("java/lang/Runnable", "run", "()V")
	a := bytecode.NewAssembler()
	none := a.NewLabel()
	a.Load(bytecode.OpAload, 0).
		EmitU16(bytecode.OpGetfield, int(target)).
		Emit(bytecode.OpDup).
		Branch(bytecode.OpIfnull, none).
		Emit(bytecode.OpInvokeinterface, byte(run>>8), byte(run), 1, 0).
		Emit(bytecode.OpReturn).
		Bind(none).
		Emit(bytecode.OpPop).
		Emit(bytecode.OpReturn)
	return &classfile.CodeAttribute{MaxStack: 2, MaxLocals: 1, Code: a.MustBytes()}
}

// stringValueOf returns "null" or obj.toString().
func stringValueOf(b *classfile.Builder) *classfile.CodeAttribute {
	null := b.StringConst("null")
	toString := b.Methodref("java/lang/Object", "toString", "()Ljava/lang/String;")
	a := bytecode.NewAssembler()
	nonNull := a.NewLabel()
	a.Load(bytecode.OpAload, 0).
		Branch(bytecode.OpIfnonnull, nonNull).
		EmitU16(bytecode.OpLdcW, int(null)).
		Emit(bytecode.OpAreturn).
		Bind(nonNull).
		Load(bytecode.OpAload, 0).
		EmitU16(bytecode.OpInvokevirtual, int(toString)).
		Emit(bytecode.OpAreturn)
	return &classfile.CodeAttribute{MaxStack: 1, MaxLocals: 1, Code: a.MustBytes()}
}

func appendObject(class string) func(b *classfile.Builder) *classfile.CodeAttribute {
	return func(b *classfile.Builder) *classfile.CodeAttribute {
		valueOf := b.Methodref("java/lang/String", "valueOf", "(Ljava/lang/Object;)Ljava/lang/String;")
		appendString := b.Methodref(class, "append", "(Ljava/lang/String;)L"+class+";")
		a := bytecode.NewAssembler()
		a.Load(bytecode.OpAload, 0).
			Load(bytecode.OpAload, 1).
			EmitU16(bytecode.OpInvokestatic, int(valueOf)).
			EmitU16(bytecode.OpInvokevirtual, int(appendString)).
			Emit(bytecode.OpAreturn)
		return &classfile.CodeAttribute{MaxStack: 2, MaxLocals: 2, Code: a.MustBytes()}
	}
}

func printObject(name string) func(b *classfile.Builder) *classfile.CodeAttribute {
	return func(b *classfile.Builder) *classfile.CodeAttribute {
		valueOf := b.Methodref("java/lang/String", "valueOf", "(Ljava/lang/Object;)Ljava/lang/String;")
		printString := b.Methodref("java/io/PrintStream", name, "(Ljava/lang/String;)V")
		a := bytecode.NewAssembler()
		a.Load(bytecode.OpAload, 0).
			Load(bytecode.OpAload, 1).
			EmitU16(bytecode.OpInvokestatic, int(valueOf)).
			EmitU16(bytecode.OpInvokevirtual, int(printString)).
			Emit(bytecode.OpReturn)
		return &classfile.CodeAttribute{MaxStack: 2, MaxLocals: 2, Code: a.MustBytes()}
	}
}

func (bc builtinClass) build() *classfile.ClassFile {
	b := classfile.NewBuilder(bc.name, bc.super, bc.flags)
	for _, i := range bc.interfaces {
		b.AddInterface(i)
	}
	for _, f := range bc.fields {
		b.AddField(f.flags, f.name, f.desc)
	}
	for _, m := range bc.methods {
		var code *classfile.CodeAttribute
		if m.code != nil {
			code = m.code(b)
		}
		b.AddMethod(m.flags, m.name, m.desc, code)
	}
	return b.Build()
}

// defineBuiltins links the core classes and sets up System.out and
// System.err.
func (vm *VM) defineBuiltins() error {
	for _, bc := range builtinClasses() {
		if _, err := vm.Define(bc.build()); err != nil {
			return err
		}
	}
	for _, c := range vm.classes {
		for _, m := range c.Methods {
			if m.IsNative() && m.native == nil {
				return fmt.Errorf("core native %s has no implementation", m.Key())
			}
		}
	}
	system := vm.classes["java/lang/System"]
	ps := vm.classes["java/io/PrintStream"]
	out := vm.NewObject(ps)
	out.Native = vm.stdout
	errs := vm.NewObject(ps)
	errs.Native = vm.stderr
	system.SetStatic("out", Ref(out))
	system.SetStatic("err", Ref(errs))
	return nil
}
