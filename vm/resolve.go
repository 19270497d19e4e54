package vm

import (
	"errors"
	"fmt"

	"github.com/chazu/cldc/compiler"
	"github.com/chazu/cldc/pkg/bytecode"
	"github.com/chazu/cldc/pkg/classfile"
)

// ---------------------------------------------------------------------------
// Constant-pool resolution
// ---------------------------------------------------------------------------

// fieldRef is a resolved Fieldref. Static fields name their declaring
// class; instance fields carry the slot.
type fieldRef struct {
	owner  *Class
	name   string
	desc   string
	slot   int
	static bool
}

func (r *fieldRef) get(o *Object) Value {
	if r.static {
		return r.owner.Statics[r.slot]
	}
	return o.Fields[r.slot]
}

func (r *fieldRef) set(o *Object, v Value) {
	if r.static {
		r.owner.Statics[r.slot] = v
		return
	}
	o.Fields[r.slot] = v
}

// linkageError converts a loading failure into the guest error a resolver
// raises for it.
func linkageError(name string, err error) error {
	var je *JavaError
	if errors.As(err, &je) {
		return err
	}
	if errors.Is(err, ErrClassNotFound) {
		return &JavaError{Class: classNoClassDefFound, Message: javaName(name), Cause: err}
	}
	return err
}

// resolveClass resolves a Class constant of c.
func (vm *VM) resolveClass(c *Class, idx int) (*Class, error) {
	if r, ok := c.resolved[idx].(*Class); ok {
		return r, nil
	}
	name, err := c.File.ConstantPool.ClassName(uint16(idx))
	if err != nil {
		return nil, err
	}
	k, err := vm.LoadClass(name)
	if err != nil {
		return nil, linkageError(name, err)
	}
	c.resolved[idx] = k
	return k, nil
}

// resolveField resolves a Fieldref constant of c.
func (vm *VM) resolveField(c *Class, idx int, static bool) (*fieldRef, error) {
	if r, ok := c.resolved[idx].(*fieldRef); ok {
		if r.static != static {
			return nil, javaErrorf("java/lang/IncompatibleClassChangeError", "%s.%s", javaName(r.owner.Name), r.name)
		}
		return r, nil
	}
	ref, err := c.File.ConstantPool.Member(uint16(idx))
	if err != nil {
		return nil, err
	}
	k, err := vm.LoadClass(ref.ClassName)
	if err != nil {
		return nil, linkageError(ref.ClassName, err)
	}
	r := &fieldRef{name: ref.Name, desc: ref.Descriptor, static: static}
	if static {
		owner := k.staticOwner(ref.Name)
		if owner == nil {
			return nil, javaErrorf(classNoSuchField, "%s.%s", javaName(k.Name), ref.Name)
		}
		r.owner, r.slot = owner, owner.staticSlots[ref.Name]
	} else {
		slot, ok := k.fieldSlot(ref.Name)
		if !ok {
			return nil, javaErrorf(classNoSuchField, "%s.%s", javaName(k.Name), ref.Name)
		}
		r.owner, r.slot = k, slot
	}
	c.resolved[idx] = r
	return r, nil
}

// resolveMethod resolves a Methodref or InterfaceMethodref constant of c.
func (vm *VM) resolveMethod(c *Class, idx int) (*Method, error) {
	if r, ok := c.resolved[idx].(*Method); ok {
		return r, nil
	}
	ref, err := c.File.ConstantPool.Member(uint16(idx))
	if err != nil {
		return nil, err
	}
	k, err := vm.LoadClass(ref.ClassName)
	if err != nil {
		return nil, linkageError(ref.ClassName, err)
	}
	m := k.LookupMethod(ref.Name, ref.Descriptor)
	if m == nil {
		return nil, javaErrorf(classNoSuchMethod, "%s.%s%s", javaName(k.Name), ref.Name, ref.Descriptor)
	}
	c.resolved[idx] = m
	return m, nil
}

// resolveConstant resolves an ldc operand.
func (vm *VM) resolveConstant(c *Class, idx int) (Value, error) {
	if v, ok := c.resolved[idx].(Value); ok {
		return v, nil
	}
	k, err := c.File.ConstantPool.Get(uint16(idx), 0)
	if err != nil {
		return Void, err
	}
	var v Value
	switch k.Tag {
	case classfile.TagInteger:
		v = Int(k.Int)
	case classfile.TagFloat:
		v = Float(k.Float)
	case classfile.TagLong:
		v = Long(k.Long)
	case classfile.TagDouble:
		v = Double(k.Double)
	case classfile.TagString:
		s, err := c.File.ConstantPool.Utf8(k.A)
		if err != nil {
			return Void, err
		}
		v = Ref(vm.Intern(s))
	case classfile.TagClass:
		cls, err := vm.resolveClass(c, idx)
		if err != nil {
			return Void, err
		}
		v = Ref(vm.ClassObject(cls))
	default:
		return Void, fmt.Errorf("ldc of constant tag %d", k.Tag)
	}
	c.resolved[idx] = v
	return v, nil
}

// selectMethod picks the implementation a virtual or interface call on
// receiver runs.
func selectMethod(m *Method, receiver *Object) (*Method, error) {
	if m.IsPrivate() || m.Name == "<init>" {
		return m, nil
	}
	impl := receiver.Class.FindVirtual(m.Name, m.Desc)
	if impl == nil {
		return nil, javaErrorf(classAbstractMethod, "%s", m.Key())
	}
	if impl.IsAbstract() {
		return nil, javaErrorf(classAbstractMethod, "%s", impl.Key())
	}
	return impl, nil
}

// ---------------------------------------------------------------------------
// Call resolution for the yield classifier
// ---------------------------------------------------------------------------

type callResolver struct{ vm *VM }

// ResolveCall implements compiler.Resolver.
func (r callResolver) ResolveCall(caller compiler.Method, in bytecode.Instruction) (compiler.Method, bool, error) {
	m, ok := caller.(*Method)
	if !ok {
		return nil, false, fmt.Errorf("foreign method %s", caller.Key())
	}
	callee, err := r.vm.resolveMethod(m.Class, in.Index)
	if err != nil {
		return nil, false, err
	}
	static := callee.boundStatically(in.Op == bytecode.OpInvokevirtual || in.Op == bytecode.OpInvokeinterface)
	return callee, static, nil
}
