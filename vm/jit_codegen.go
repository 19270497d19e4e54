package vm

import (
	"errors"
	"fmt"
	"strings"

	"github.com/chazu/cldc/compiler"
	"github.com/chazu/cldc/pkg/bytecode"
	"github.com/chazu/cldc/pkg/classfile"
)

// ---------------------------------------------------------------------------
// Baseline code generation
// ---------------------------------------------------------------------------

type copKind uint8

const (
	copPlain copKind = iota
	// copSafepoint checks for preemption at a loop header.
	copSafepoint
	// copDeopt hands the activation to the interpreter.
	copDeopt
)

// cop is one compiled operation: a decoded instruction with its symbolic
// operand resolved and its branch target translated to an op index.
type cop struct {
	in     bytecode.Instruction
	kind   copKind
	target int

	field  *fieldRef
	method *Method
	class  *Class
	value  Value
	array  string // array class created by newarray and anewarray

	// init must be initialized before the op runs; otherwise it deopts.
	init *Class
}

// CompiledMethod is the baseline-compiled form of a method: its ops in
// reverse postorder with explicit jumps.
type CompiledMethod struct {
	Method *Method
	Yield  compiler.YieldReason
	Blocks int
	Loops  int
	Hash   string

	ops   []cop
	entry map[int]int // block start bci -> op index
	// canYield is false only when the method and every class it uses
	// were settled at compile time and the method never suspends.
	canYield bool
	deopts   uint64
}

// CanYield reports whether the compiled code contains bailout paths.
func (cm *CompiledMethod) CanYield() bool { return cm.canYield }

// Ops returns the number of compiled operations.
func (cm *CompiledMethod) Ops() int { return len(cm.ops) }

// EntryOp returns the op index that begins the block at bci.
func (cm *CompiledMethod) EntryOp(bci int) (int, bool) {
	i, ok := cm.entry[bci]
	return i, ok
}

func (cm *CompiledMethod) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s yield=%s blocks=%d loops=%d\n", cm.Method.Key(), cm.Yield, cm.Blocks, cm.Loops)
	for i, op := range cm.ops {
		switch op.kind {
		case copSafepoint:
			fmt.Fprintf(&b, "%4d: safepoint @%d\n", i, op.in.PC)
		case copDeopt:
			fmt.Fprintf(&b, "%4d: deopt @%d (%s)\n", i, op.in.PC, op.in.Op)
		default:
			fmt.Fprintf(&b, "%4d: %s", i, op.in)
			if op.in.Op.IsConditionalBranch() || op.in.Op.IsGoto() {
				fmt.Fprintf(&b, " -> %d", op.target)
			}
			b.WriteByte('\n')
		}
	}
	return b.String()
}

type codegen struct {
	vm  *VM
	m   *Method
	bm  *compiler.BlockMap
	cm  *CompiledMethod
	ops []cop
}

// compile builds the compiled form of m. A *compiler.Bailout error means m
// stays interpreted.
func (vm *VM) compile(m *Method) (*CompiledMethod, error) {
	switch {
	case m.Code == nil:
		return nil, &compiler.Bailout{Method: m.Key(), Reason: "no bytecode"}
	case m.Name == "<clinit>":
		return nil, &compiler.Bailout{Method: m.Key(), Reason: "class initializer"}
	}
	bm, err := compiler.BuildBlockMap(m.Code, m.Handlers)
	if err != nil {
		var b *compiler.Bailout
		if errors.As(err, &b) && b.Method == "" {
			b.Method = m.Key()
		}
		return nil, err
	}
	yield := vm.classifier.Classify(m)
	g := &codegen{
		vm: vm,
		m:  m,
		bm: bm,
		cm: &CompiledMethod{
			Method:   m,
			Yield:    yield,
			Blocks:   len(bm.Order),
			Loops:    bm.LoopCount,
			entry:    make(map[int]int),
			canYield: yield.CanYield(),
		},
	}
	if err := g.emitBlocks(); err != nil {
		return nil, err
	}
	g.link()
	g.cm.ops = g.ops
	return g.cm, nil
}

func (g *codegen) emitBlocks() error {
	var blocks []*compiler.Block
	for _, id := range g.bm.Order {
		if b := g.bm.Blocks[id]; !b.IsDispatch() {
			blocks = append(blocks, b)
		}
	}
	for i, b := range blocks {
		g.cm.entry[b.StartBCI] = len(g.ops)
		if b.IsLoopHeader && g.cm.canYield {
			g.ops = append(g.ops, cop{in: bytecode.Instruction{PC: b.StartBCI, Op: bytecode.OpNop}, kind: copSafepoint})
		}
		var last bytecode.Instruction
		for pc := b.StartBCI; pc <= b.EndBCI; {
			in, err := bytecode.Decode(g.m.Code, pc)
			if err != nil {
				return err
			}
			g.ops = append(g.ops, g.emit(in))
			last = in
			pc = in.Next()
		}
		if !fallsThrough(last.Op) {
			continue
		}
		next := last.Next()
		if i+1 < len(blocks) && blocks[i+1].StartBCI == next {
			continue
		}
		g.ops = append(g.ops, cop{in: bytecode.Instruction{PC: last.PC, Op: bytecode.OpGoto, Target: next}})
	}
	return nil
}

func fallsThrough(op bytecode.Opcode) bool {
	switch {
	case op.IsGoto(), op.IsReturn(), op.IsSwitch():
		return false
	case op == bytecode.OpAthrow, op == bytecode.OpRet, op == bytecode.OpJsr, op == bytecode.OpJsrW:
		return false
	}
	return true
}

// link translates branch targets to op indexes.
func (g *codegen) link() {
	for i := range g.ops {
		op := &g.ops[i]
		if op.kind != copPlain || !(op.in.Op.IsConditionalBranch() || op.in.Op.IsGoto()) {
			continue
		}
		t, ok := g.cm.entry[op.in.Target]
		if !ok {
			op.kind = copDeopt
			continue
		}
		op.target = t
	}
}

func (g *codegen) deopt(in bytecode.Instruction, why string, err error) cop {
	if err != nil {
		jitLog.Debugf("%s: %s at %d deopts: %s: %s", g.m.Key(), in.Op, in.PC, why, err)
	} else {
		jitLog.Debugf("%s: %s at %d deopts: %s", g.m.Key(), in.Op, in.PC, why)
	}
	return cop{in: in, kind: copDeopt}
}

// needsInit makes op check c at run time if it is not initialized yet. The
// check can end in the interpreter running <clinit>, so the method gains
// bailout paths.
func (g *codegen) needsInit(op cop, c *Class) cop {
	if c.Initialized() {
		return op
	}
	op.init = c
	if !g.cm.canYield {
		jitLog.Debugf("%s: %s is not initialized yet; compiling with bailout paths", g.m.Key(), c.Name)
		g.cm.canYield = true
	}
	return op
}

func (g *codegen) emit(in bytecode.Instruction) cop {
	vm, owner := g.vm, g.m.Class
	op := cop{in: in}
	switch in.Op {
	case bytecode.OpLdc, bytecode.OpLdcW, bytecode.OpLdc2W:
		v, err := vm.resolveConstant(owner, in.Index)
		if err != nil {
			return g.deopt(in, "constant", err)
		}
		op.value = v

	case bytecode.OpGetstatic, bytecode.OpPutstatic:
		ref, err := vm.resolveField(owner, in.Index, true)
		if err != nil {
			return g.deopt(in, "field", err)
		}
		op.field = ref
		return g.needsInit(op, ref.owner)
	case bytecode.OpGetfield, bytecode.OpPutfield:
		ref, err := vm.resolveField(owner, in.Index, false)
		if err != nil {
			return g.deopt(in, "field", err)
		}
		op.field = ref

	case bytecode.OpInvokestatic, bytecode.OpInvokespecial, bytecode.OpInvokevirtual, bytecode.OpInvokeinterface:
		m, err := vm.resolveMethod(owner, in.Index)
		if err != nil {
			return g.deopt(in, "method", err)
		}
		op.method = m
		if in.Op == bytecode.OpInvokestatic {
			if !m.IsStatic() {
				return g.deopt(in, "static call of instance method", nil)
			}
			return g.needsInit(op, m.Class)
		}

	case bytecode.OpNew:
		c, err := vm.resolveClass(owner, in.Index)
		if err != nil {
			return g.deopt(in, "class", err)
		}
		if c.IsInterface() || c.Flags&classfile.AccAbstract != 0 {
			return g.deopt(in, "abstract class", nil)
		}
		op.class = c
		return g.needsInit(op, c)
	case bytecode.OpNewarray:
		name, ok := primitiveArrayClass(in.Value)
		if !ok {
			return g.deopt(in, "array type", nil)
		}
		op.array = name
	case bytecode.OpAnewarray, bytecode.OpMultianewarray, bytecode.OpCheckcast, bytecode.OpInstanceof:
		c, err := vm.resolveClass(owner, in.Index)
		if err != nil {
			return g.deopt(in, "class", err)
		}
		op.class = c
		if in.Op == bytecode.OpAnewarray {
			op.array = arrayOf(c)
		}

	case bytecode.OpJsr, bytecode.OpJsrW, bytecode.OpRet, bytecode.OpInvokedynamic:
		return g.deopt(in, "unsupported", nil)
	}
	return op
}
