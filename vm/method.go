package vm

import (
	"fmt"

	"github.com/chazu/cldc/compiler"
	"github.com/chazu/cldc/pkg/classfile"
)

// Method is a linked method. It satisfies compiler.Method.
type Method struct {
	Class     *Class
	Name      string
	Desc      string
	Flags     uint16
	Code      []byte
	MaxStack  int
	MaxLocals int
	Handlers  []compiler.Handler
	Sig       classfile.MethodDescriptor

	// ArgSlots counts parameter slots including the receiver.
	ArgSlots int

	key      string
	native   *Native
	compiled *CompiledMethod
	// noCompile is set once compilation bailed out or failed.
	noCompile bool
}

var _ compiler.Method = (*Method)(nil)

func newMethod(c *Class, info *classfile.MethodInfo) (*Method, error) {
	sig, err := classfile.ParseMethodDescriptor(info.Descriptor)
	if err != nil {
		return nil, fmt.Errorf("method %s: %w", info.Name, err)
	}
	m := &Method{
		Class: c,
		Name:  info.Name,
		Desc:  info.Descriptor,
		Flags: info.AccessFlags,
		Sig:   sig,
		key:   c.Name + "." + info.Name + "." + info.Descriptor,
	}
	m.ArgSlots = sig.ArgSlots()
	if !m.IsStatic() {
		m.ArgSlots++
	}
	if code := info.Code; code != nil {
		m.Code = code.Code
		m.MaxStack = int(code.MaxStack)
		m.MaxLocals = int(code.MaxLocals)
		if m.MaxLocals < m.ArgSlots {
			m.MaxLocals = m.ArgSlots
		}
		if m.Handlers, err = catchHandlers(c.File.ConstantPool, code); err != nil {
			return nil, fmt.Errorf("method %s: %w", m.key, err)
		}
	}
	return m, nil
}

// Key is "class.name.descriptor".
func (m *Method) Key() string { return m.key }

func (m *Method) String() string { return m.key }

// Bytecode returns the method body, nil for native and abstract methods.
func (m *Method) Bytecode() []byte { return m.Code }

func (m *Method) IsStatic() bool       { return m.Flags&classfile.AccStatic != 0 }
func (m *Method) IsNative() bool       { return m.Flags&classfile.AccNative != 0 }
func (m *Method) IsAbstract() bool     { return m.Flags&classfile.AccAbstract != 0 }
func (m *Method) IsFinal() bool        { return m.Flags&classfile.AccFinal != 0 }
func (m *Method) IsPrivate() bool      { return m.Flags&classfile.AccPrivate != 0 }
func (m *Method) IsSynchronized() bool { return m.Flags&classfile.AccSynchronized != 0 }

// ReturnsValue reports whether the method pushes a result.
func (m *Method) ReturnsValue() bool { return m.Sig.Return != "V" }

// Compiled returns the JIT output for m, or nil.
func (m *Method) Compiled() *CompiledMethod { return m.compiled }

// boundStatically reports whether a call to m through op always runs m.
func (m *Method) boundStatically(invokeVirtual bool) bool {
	if !invokeVirtual {
		return true
	}
	return m.IsFinal() || m.IsPrivate() || m.Class.IsFinal()
}

// lockObject returns the object a synchronized method locks: the receiver,
// or the class mirror for static methods.
func (vm *VM) lockObject(m *Method, args []Value) *Object {
	if m.IsStatic() {
		return vm.ClassObject(m.Class)
	}
	return args[0].R
}

// findHandler returns the handler pc for an exception of class exc thrown
// at pc, or -1.
func (vm *VM) findHandler(m *Method, pc int, exc *Class) int {
	for _, h := range m.Handlers {
		if !h.Covers(pc) {
			continue
		}
		if h.CatchAll() {
			return h.HandlerPC
		}
		catch, err := vm.LoadClass(h.CatchType)
		if err != nil {
			log.Warningf("%s: catch type %s: %s", m.key, h.CatchType, err)
			continue
		}
		if exc.IsSubclassOf(catch) {
			return h.HandlerPC
		}
	}
	return -1
}
