package vm

// ---------------------------------------------------------------------------
// Frame: one method activation
// ---------------------------------------------------------------------------

// Frame is an interpreter activation. Long and double values take two
// slots in Locals and Stack, the upper one holding Top.
type Frame struct {
	Method *Method
	// PC is the next instruction to execute. While a call made by this
	// frame is in progress it already points past the invoke.
	PC int
	// OpPC is the instruction being executed, used for handler lookup.
	OpPC   int
	Locals []Value
	Stack  []Value

	// Lock is the object a synchronized method locks. locked is set
	// while the frame owns it.
	Lock   *Object
	locked bool

	// initClass is set on <clinit> frames pushed for class initialization.
	initClass *Class
}

func newFrame(m *Method, args []Value) *Frame {
	f := &Frame{
		Method: m,
		Locals: make([]Value, m.MaxLocals),
		Stack:  make([]Value, 0, m.MaxStack),
	}
	copy(f.Locals, args)
	return f
}

func (f *Frame) push(v Value) { f.Stack = append(f.Stack, v) }

func (f *Frame) pop() Value {
	n := len(f.Stack) - 1
	if n < 0 {
		fatalf(f, "operand stack underflow")
	}
	v := f.Stack[n]
	f.Stack = f.Stack[:n]
	return v
}

func (f *Frame) peek() Value {
	if len(f.Stack) == 0 {
		fatalf(f, "operand stack underflow")
	}
	return f.Stack[len(f.Stack)-1]
}

// pushValue pushes v using one or two slots depending on its kind.
func (f *Frame) pushValue(v Value) {
	f.push(v)
	if v.IsWide() {
		f.push(Top)
	}
}

// popValue pops a category-1 or category-2 value.
func (f *Frame) popValue() Value {
	v := f.pop()
	if v.K == KindTop {
		return f.pop()
	}
	return v
}

func (f *Frame) pushInt(v int32)      { f.push(Int(v)) }
func (f *Frame) popInt() int32        { return f.pop().AsInt() }
func (f *Frame) pushLong(v int64)     { f.push(Long(v)); f.push(Top) }
func (f *Frame) popLong() int64       { f.pop(); return f.pop().I }
func (f *Frame) pushFloat(v float32)  { f.push(Float(v)) }
func (f *Frame) popFloat() float32    { return f.pop().AsFloat() }
func (f *Frame) pushDouble(v float64) { f.push(Double(v)); f.push(Top) }
func (f *Frame) popDouble() float64   { f.pop(); return f.pop().F }
func (f *Frame) popRef() *Object      { return f.pop().R }

// popArgs removes n slots from the stack and returns them in order.
func (f *Frame) popArgs(n int) []Value {
	if n > len(f.Stack) {
		fatalf(f, "operand stack underflow: need %d arguments, have %d", n, len(f.Stack))
	}
	at := len(f.Stack) - n
	args := make([]Value, n)
	copy(args, f.Stack[at:])
	f.Stack = f.Stack[:at]
	return args
}

func (f *Frame) load(slot int) Value {
	if slot >= len(f.Locals) {
		fatalf(f, "local %d out of range", slot)
	}
	return f.Locals[slot]
}

func (f *Frame) store(slot int, v Value) {
	if slot >= len(f.Locals) {
		fatalf(f, "local %d out of range", slot)
	}
	f.Locals[slot] = v
}

// loadWide pushes the two-slot value at slot.
func (f *Frame) loadWide(slot int) {
	f.push(f.load(slot))
	f.push(Top)
}

// storeWide pops a two-slot value into slot and slot+1.
func (f *Frame) storeWide(slot int) {
	f.pop()
	f.store(slot, f.pop())
	f.store(slot+1, Top)
}

func (f *Frame) clone() *Frame {
	g := *f
	g.Locals = append([]Value(nil), f.Locals...)
	g.Stack = append(make([]Value, 0, cap(f.Stack)), f.Stack...)
	return &g
}
