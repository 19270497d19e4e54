package vm

import (
	"math"

	"github.com/chazu/cldc/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// Instruction semantics shared by the interpreter and compiled code
// ---------------------------------------------------------------------------

// execSimple executes in if it neither transfers control nor needs the
// constant pool. It reports whether it handled the instruction; guest
// exceptions come back as *JavaError.
func (ctx *Context) execSimple(f *Frame, in bytecode.Instruction) (bool, error) {
	switch op := in.Op; op {
	case bytecode.OpNop:
	case bytecode.OpAconstNull:
		f.push(Null)
	case bytecode.OpIconstM1, bytecode.OpIconst0, bytecode.OpIconst1, bytecode.OpIconst2,
		bytecode.OpIconst3, bytecode.OpIconst4, bytecode.OpIconst5:
		f.pushInt(int32(op) - int32(bytecode.OpIconst0))
	case bytecode.OpLconst0, bytecode.OpLconst1:
		f.pushLong(int64(op - bytecode.OpLconst0))
	case bytecode.OpFconst0, bytecode.OpFconst1, bytecode.OpFconst2:
		f.pushFloat(float32(op - bytecode.OpFconst0))
	case bytecode.OpDconst0, bytecode.OpDconst1:
		f.pushDouble(float64(op - bytecode.OpDconst0))
	case bytecode.OpBipush, bytecode.OpSipush:
		f.pushInt(in.Value)

	case bytecode.OpIload, bytecode.OpFload, bytecode.OpAload,
		bytecode.OpIload0, bytecode.OpIload1, bytecode.OpIload2, bytecode.OpIload3,
		bytecode.OpFload0, bytecode.OpFload1, bytecode.OpFload2, bytecode.OpFload3,
		bytecode.OpAload0, bytecode.OpAload1, bytecode.OpAload2, bytecode.OpAload3:
		f.push(f.load(in.Index))
	case bytecode.OpLload, bytecode.OpDload,
		bytecode.OpLload0, bytecode.OpLload1, bytecode.OpLload2, bytecode.OpLload3,
		bytecode.OpDload0, bytecode.OpDload1, bytecode.OpDload2, bytecode.OpDload3:
		f.loadWide(in.Index)
	case bytecode.OpIstore, bytecode.OpFstore, bytecode.OpAstore,
		bytecode.OpIstore0, bytecode.OpIstore1, bytecode.OpIstore2, bytecode.OpIstore3,
		bytecode.OpFstore0, bytecode.OpFstore1, bytecode.OpFstore2, bytecode.OpFstore3,
		bytecode.OpAstore0, bytecode.OpAstore1, bytecode.OpAstore2, bytecode.OpAstore3:
		f.store(in.Index, f.pop())
	case bytecode.OpLstore, bytecode.OpDstore,
		bytecode.OpLstore0, bytecode.OpLstore1, bytecode.OpLstore2, bytecode.OpLstore3,
		bytecode.OpDstore0, bytecode.OpDstore1, bytecode.OpDstore2, bytecode.OpDstore3:
		f.storeWide(in.Index)
	case bytecode.OpIinc:
		f.store(in.Index, Int(f.load(in.Index).AsInt()+in.Value))

	case bytecode.OpIaload, bytecode.OpLaload, bytecode.OpFaload, bytecode.OpDaload,
		bytecode.OpAaload, bytecode.OpBaload, bytecode.OpCaload, bytecode.OpSaload:
		return true, arrayLoad(f, op)
	case bytecode.OpIastore, bytecode.OpLastore, bytecode.OpFastore, bytecode.OpDastore,
		bytecode.OpAastore, bytecode.OpBastore, bytecode.OpCastore, bytecode.OpSastore:
		return true, ctx.arrayStore(f, op)
	case bytecode.OpArraylength:
		a := f.popRef()
		if a == nil {
			return true, javaErrorf(classNullPointer, "arraylength on null")
		}
		f.pushInt(int32(len(a.Elems)))

	case bytecode.OpPop:
		f.pop()
	case bytecode.OpPop2:
		f.pop()
		f.pop()
	case bytecode.OpDup:
		f.push(f.peek())
	case bytecode.OpDupX1:
		v1, v2 := f.pop(), f.pop()
		f.push(v1)
		f.push(v2)
		f.push(v1)
	case bytecode.OpDupX2:
		v1, v2, v3 := f.pop(), f.pop(), f.pop()
		f.push(v1)
		f.push(v3)
		f.push(v2)
		f.push(v1)
	case bytecode.OpDup2:
		v1, v2 := f.pop(), f.pop()
		f.push(v2)
		f.push(v1)
		f.push(v2)
		f.push(v1)
	case bytecode.OpDup2X1:
		v1, v2, v3 := f.pop(), f.pop(), f.pop()
		f.push(v2)
		f.push(v1)
		f.push(v3)
		f.push(v2)
		f.push(v1)
	case bytecode.OpDup2X2:
		v1, v2, v3, v4 := f.pop(), f.pop(), f.pop(), f.pop()
		f.push(v2)
		f.push(v1)
		f.push(v4)
		f.push(v3)
		f.push(v2)
		f.push(v1)
	case bytecode.OpSwap:
		v1, v2 := f.pop(), f.pop()
		f.push(v1)
		f.push(v2)

	default:
		if op >= bytecode.OpIadd && op <= bytecode.OpLxor {
			return true, arith(f, op)
		}
		if op >= bytecode.OpI2l && op <= bytecode.OpDcmpg {
			convert(f, op)
			return true, nil
		}
		return false, nil
	}
	return true, nil
}

func arith(f *Frame, op bytecode.Opcode) error {
	switch op {
	case bytecode.OpIadd, bytecode.OpIsub, bytecode.OpImul, bytecode.OpIdiv, bytecode.OpIrem,
		bytecode.OpIshl, bytecode.OpIshr, bytecode.OpIushr, bytecode.OpIand, bytecode.OpIor, bytecode.OpIxor:
		b, a := f.popInt(), f.popInt()
		r, err := intOp(op, a, b)
		if err != nil {
			return err
		}
		f.pushInt(r)
	case bytecode.OpLshl, bytecode.OpLshr, bytecode.OpLushr:
		s := f.popInt() & 63
		a := f.popLong()
		switch op {
		case bytecode.OpLshl:
			f.pushLong(a << s)
		case bytecode.OpLshr:
			f.pushLong(a >> s)
		default:
			f.pushLong(int64(uint64(a) >> s))
		}
	case bytecode.OpLadd, bytecode.OpLsub, bytecode.OpLmul, bytecode.OpLdiv, bytecode.OpLrem,
		bytecode.OpLand, bytecode.OpLor, bytecode.OpLxor:
		b, a := f.popLong(), f.popLong()
		r, err := longOp(op, a, b)
		if err != nil {
			return err
		}
		f.pushLong(r)
	case bytecode.OpFadd, bytecode.OpFsub, bytecode.OpFmul, bytecode.OpFdiv, bytecode.OpFrem:
		b, a := f.popFloat(), f.popFloat()
		f.pushFloat(floatOp(op, a, b))
	case bytecode.OpDadd, bytecode.OpDsub, bytecode.OpDmul, bytecode.OpDdiv, bytecode.OpDrem:
		b, a := f.popDouble(), f.popDouble()
		f.pushDouble(doubleOp(op, a, b))
	case bytecode.OpIneg:
		f.pushInt(-f.popInt())
	case bytecode.OpLneg:
		f.pushLong(-f.popLong())
	case bytecode.OpFneg:
		f.pushFloat(-f.popFloat())
	case bytecode.OpDneg:
		f.pushDouble(-f.popDouble())
	}
	return nil
}

func intOp(op bytecode.Opcode, a, b int32) (int32, error) {
	switch op {
	case bytecode.OpIadd:
		return a + b, nil
	case bytecode.OpIsub:
		return a - b, nil
	case bytecode.OpImul:
		return a * b, nil
	case bytecode.OpIdiv:
		if b == 0 {
			return 0, javaErrorf(classArithmetic, "/ by zero")
		}
		return a / b, nil
	case bytecode.OpIrem:
		if b == 0 {
			return 0, javaErrorf(classArithmetic, "/ by zero")
		}
		return a % b, nil
	case bytecode.OpIshl:
		return a << (b & 31), nil
	case bytecode.OpIshr:
		return a >> (b & 31), nil
	case bytecode.OpIushr:
		return int32(uint32(a) >> (b & 31)), nil
	case bytecode.OpIand:
		return a & b, nil
	case bytecode.OpIor:
		return a | b, nil
	case bytecode.OpIxor:
		return a ^ b, nil
	}
	return 0, nil
}

func longOp(op bytecode.Opcode, a, b int64) (int64, error) {
	switch op {
	case bytecode.OpLadd:
		return a + b, nil
	case bytecode.OpLsub:
		return a - b, nil
	case bytecode.OpLmul:
		return a * b, nil
	case bytecode.OpLdiv:
		if b == 0 {
			return 0, javaErrorf(classArithmetic, "/ by zero")
		}
		return a / b, nil
	case bytecode.OpLrem:
		if b == 0 {
			return 0, javaErrorf(classArithmetic, "/ by zero")
		}
		return a % b, nil
	case bytecode.OpLand:
		return a & b, nil
	case bytecode.OpLor:
		return a | b, nil
	case bytecode.OpLxor:
		return a ^ b, nil
	}
	return 0, nil
}

func floatOp(op bytecode.Opcode, a, b float32) float32 {
	switch op {
	case bytecode.OpFadd:
		return a + b
	case bytecode.OpFsub:
		return a - b
	case bytecode.OpFmul:
		return a * b
	case bytecode.OpFdiv:
		return a / b
	}
	return float32(math.Mod(float64(a), float64(b)))
}

func doubleOp(op bytecode.Opcode, a, b float64) float64 {
	switch op {
	case bytecode.OpDadd:
		return a + b
	case bytecode.OpDsub:
		return a - b
	case bytecode.OpDmul:
		return a * b
	case bytecode.OpDdiv:
		return a / b
	}
	return math.Mod(a, b)
}

// convert handles the i2x, l2x, f2x and d2x conversions and the
// comparisons that follow them in the opcode table.
func convert(f *Frame, op bytecode.Opcode) {
	switch op {
	case bytecode.OpI2l:
		f.pushLong(int64(f.popInt()))
	case bytecode.OpI2f:
		f.pushFloat(float32(f.popInt()))
	case bytecode.OpI2d:
		f.pushDouble(float64(f.popInt()))
	case bytecode.OpL2i:
		f.pushInt(int32(f.popLong()))
	case bytecode.OpL2f:
		f.pushFloat(float32(f.popLong()))
	case bytecode.OpL2d:
		f.pushDouble(float64(f.popLong()))
	case bytecode.OpF2i:
		f.pushInt(int32(floatToLong(float64(f.popFloat()), math.MinInt32, math.MaxInt32)))
	case bytecode.OpF2l:
		f.pushLong(floatToLong(float64(f.popFloat()), math.MinInt64, math.MaxInt64))
	case bytecode.OpF2d:
		f.pushDouble(float64(f.popFloat()))
	case bytecode.OpD2i:
		f.pushInt(int32(floatToLong(f.popDouble(), math.MinInt32, math.MaxInt32)))
	case bytecode.OpD2l:
		f.pushLong(floatToLong(f.popDouble(), math.MinInt64, math.MaxInt64))
	case bytecode.OpD2f:
		f.pushFloat(float32(f.popDouble()))
	case bytecode.OpI2b:
		f.pushInt(int32(int8(f.popInt())))
	case bytecode.OpI2c:
		f.pushInt(int32(uint16(f.popInt())))
	case bytecode.OpI2s:
		f.pushInt(int32(int16(f.popInt())))
	case bytecode.OpLcmp:
		b, a := f.popLong(), f.popLong()
		f.pushInt(cmp3(a < b, a > b))
	case bytecode.OpFcmpl, bytecode.OpFcmpg:
		b, a := f.popFloat(), f.popFloat()
		f.pushInt(fcmp(float64(a), float64(b), op == bytecode.OpFcmpg))
	case bytecode.OpDcmpl, bytecode.OpDcmpg:
		b, a := f.popDouble(), f.popDouble()
		f.pushInt(fcmp(a, b, op == bytecode.OpDcmpg))
	}
}

// floatToLong converts with Java's saturating rules: NaN is 0 and values
// out of range clamp to min or max.
func floatToLong(v float64, min, max int64) int64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v <= float64(min):
		return min
	case v >= float64(max):
		return max
	}
	return int64(v)
}

func cmp3(less, greater bool) int32 {
	switch {
	case less:
		return -1
	case greater:
		return 1
	}
	return 0
}

func fcmp(a, b float64, nanIsGreater bool) int32 {
	if math.IsNaN(a) || math.IsNaN(b) {
		if nanIsGreater {
			return 1
		}
		return -1
	}
	return cmp3(a < b, a > b)
}

// branchTaken evaluates a conditional branch, popping its operands.
func branchTaken(f *Frame, op bytecode.Opcode) bool {
	switch op {
	case bytecode.OpIfeq, bytecode.OpIfne, bytecode.OpIflt, bytecode.OpIfge, bytecode.OpIfgt, bytecode.OpIfle:
		v := f.popInt()
		return compareInt(op-bytecode.OpIfeq, v, 0)
	case bytecode.OpIfIcmpeq, bytecode.OpIfIcmpne, bytecode.OpIfIcmplt,
		bytecode.OpIfIcmpge, bytecode.OpIfIcmpgt, bytecode.OpIfIcmple:
		b, a := f.popInt(), f.popInt()
		return compareInt(op-bytecode.OpIfIcmpeq, a, b)
	case bytecode.OpIfAcmpeq:
		return f.popRef() == f.popRef()
	case bytecode.OpIfAcmpne:
		return f.popRef() != f.popRef()
	case bytecode.OpIfnull:
		return f.popRef() == nil
	case bytecode.OpIfnonnull:
		return f.popRef() != nil
	}
	fatalf(f, "%s is not a conditional branch", op)
	return false
}

// compareInt applies condition c in eq, ne, lt, ge, gt, le order.
func compareInt(c bytecode.Opcode, a, b int32) bool {
	switch c {
	case 0:
		return a == b
	case 1:
		return a != b
	case 2:
		return a < b
	case 3:
		return a >= b
	case 4:
		return a > b
	}
	return a <= b
}

// ---------------------------------------------------------------------------
// Arrays
// ---------------------------------------------------------------------------

func arrayIndex(a *Object, i int32) error {
	if a == nil {
		return javaErrorf(classNullPointer, "array access on null")
	}
	if i < 0 || int(i) >= len(a.Elems) {
		return javaErrorf(classArrayIndex, "%d", i)
	}
	return nil
}

func arrayLoad(f *Frame, op bytecode.Opcode) error {
	i := f.popInt()
	a := f.popRef()
	if err := arrayIndex(a, i); err != nil {
		return err
	}
	f.pushValue(a.Elems[i])
	return nil
}

func (ctx *Context) arrayStore(f *Frame, op bytecode.Opcode) error {
	v := f.popValue()
	i := f.popInt()
	a := f.popRef()
	if err := arrayIndex(a, i); err != nil {
		return err
	}
	switch op {
	case bytecode.OpBastore:
		if a.Class.Name == "[Z" {
			v = Int(v.AsInt() & 1)
		} else {
			v = Int(int32(int8(v.AsInt())))
		}
	case bytecode.OpCastore:
		v = Int(int32(uint16(v.AsInt())))
	case bytecode.OpSastore:
		v = Int(int32(int16(v.AsInt())))
	case bytecode.OpAastore:
		if v.R != nil {
			elem, err := ctx.vm.elementClass(a.Class)
			if err != nil {
				return err
			}
			if !ctx.vm.isAssignable(v.R.Class, elem) {
				return javaErrorf(classArrayStore, "%s", javaName(v.R.Class.Name))
			}
		}
	}
	a.Elems[i] = v
	return nil
}

// elementClass returns the component class of a reference array class.
func (vm *VM) elementClass(arr *Class) (*Class, error) {
	elem := arr.Name[1:]
	if elem[0] == '[' {
		return vm.LoadClass(elem)
	}
	return vm.LoadClass(elem[1 : len(elem)-1])
}

// newArray allocates a one-dimensional array of the named class.
func (ctx *Context) newArray(name string, n int32) (*Object, error) {
	if n < 0 {
		return nil, javaErrorf(classNegativeArraySize, "%d", n)
	}
	c, err := ctx.vm.LoadClass(name)
	if err != nil {
		return nil, err
	}
	return ctx.vm.NewArray(c, int(n)), nil
}

// newMultiArray allocates nested arrays for the first len(dims) dimensions
// of class name.
func (ctx *Context) newMultiArray(name string, dims []int32) (*Object, error) {
	for _, d := range dims {
		if d < 0 {
			return nil, javaErrorf(classNegativeArraySize, "%d", d)
		}
	}
	a, err := ctx.newArray(name, dims[0])
	if err != nil {
		return nil, err
	}
	if len(dims) > 1 {
		for i := range a.Elems {
			sub, err := ctx.newMultiArray(name[1:], dims[1:])
			if err != nil {
				return nil, err
			}
			a.Elems[i] = Ref(sub)
		}
	}
	return a, nil
}
