package vm

import (
	"fmt"
	"strings"

	"github.com/chazu/cldc/compiler"
	"github.com/chazu/cldc/pkg/classfile"
)

// ClassState tracks class initialization.
type ClassState uint8

const (
	ClassLinked ClassState = iota
	ClassInitializing
	ClassInitialized
	ClassErroneous
)

// Class is a linked class, interface or array class.
type Class struct {
	Name       string
	Super      *Class
	Interfaces []*Class
	Flags      uint16
	File       *classfile.ClassFile // nil for array classes

	Methods []*Method
	methods map[string]*Method // name+desc, declared here

	// Instance layout covers superclass fields first.
	fieldSlots map[string]int
	fieldDescs []string

	staticSlots map[string]int
	Statics     []Value

	vcache   map[string]*Method
	resolved []any // per constant-pool index

	state   ClassState
	initCtx *Context
	mirror  *Object
}

func (c *Class) String() string { return c.Name }

func (c *Class) IsInterface() bool { return c.Flags&classfile.AccInterface != 0 }
func (c *Class) IsFinal() bool     { return c.Flags&classfile.AccFinal != 0 }
func (c *Class) IsArray() bool     { return strings.HasPrefix(c.Name, "[") }

// State returns the initialization state.
func (c *Class) State() ClassState { return c.state }

// Initialized reports whether <clinit> has completed.
func (c *Class) Initialized() bool { return c.state == ClassInitialized }

// Method returns the method declared by c with the given name and
// descriptor.
func (c *Class) Method(name, desc string) *Method {
	return c.methods[name+desc]
}

// LookupMethod resolves name/desc against c, its superclasses and then its
// superinterfaces.
func (c *Class) LookupMethod(name, desc string) *Method {
	for k := c; k != nil; k = k.Super {
		if m := k.methods[name+desc]; m != nil {
			return m
		}
	}
	for k := c; k != nil; k = k.Super {
		for _, i := range k.Interfaces {
			if m := i.LookupMethod(name, desc); m != nil {
				return m
			}
		}
	}
	return nil
}

// FindVirtual selects the implementation of name/desc for a receiver of
// class c.
func (c *Class) FindVirtual(name, desc string) *Method {
	key := name + desc
	if m, ok := c.vcache[key]; ok {
		return m
	}
	var found *Method
	for k := c; k != nil; k = k.Super {
		if m := k.methods[key]; m != nil && !m.IsStatic() {
			found = m
			break
		}
	}
	if c.vcache == nil {
		c.vcache = make(map[string]*Method)
	}
	c.vcache[key] = found
	return found
}

// IsSubclassOf reports whether c is other, extends it or implements it.
func (c *Class) IsSubclassOf(other *Class) bool {
	for k := c; k != nil; k = k.Super {
		if k == other {
			return true
		}
		for _, i := range k.Interfaces {
			if i.IsSubclassOf(other) {
				return true
			}
		}
	}
	return false
}

func (c *Class) fieldSlot(name string) (int, bool) {
	s, ok := c.fieldSlots[name]
	return s, ok
}

// staticOwner finds the class that declares static field name, searching
// c, its interfaces and then its superclasses.
func (c *Class) staticOwner(name string) *Class {
	for k := c; k != nil; k = k.Super {
		if _, ok := k.staticSlots[name]; ok {
			return k
		}
		for _, i := range k.Interfaces {
			if o := i.staticOwner(name); o != nil {
				return o
			}
		}
	}
	return nil
}

// GetStatic reads a static field declared by c or a supertype.
func (c *Class) GetStatic(name string) (Value, bool) {
	o := c.staticOwner(name)
	if o == nil {
		return Void, false
	}
	return o.Statics[o.staticSlots[name]], true
}

// SetStatic writes a static field declared by c or a supertype.
func (c *Class) SetStatic(name string, v Value) bool {
	o := c.staticOwner(name)
	if o == nil {
		return false
	}
	o.Statics[o.staticSlots[name]] = v
	return true
}

// isAssignable reports whether a value of class from can be stored where
// class to is expected.
func (vm *VM) isAssignable(from, to *Class) bool {
	if from == to {
		return true
	}
	if !from.IsArray() {
		return from.IsSubclassOf(to)
	}
	if !to.IsArray() {
		return to.Name == "java/lang/Object"
	}
	fe, te := from.Name[1:], to.Name[1:]
	if fe[0] != 'L' && fe[0] != '[' || te[0] != 'L' && te[0] != '[' {
		return fe == te
	}
	fc, err := vm.LoadClass(classfile.FieldType(fe).ClassName())
	if err != nil {
		return false
	}
	tc, err := vm.LoadClass(classfile.FieldType(te).ClassName())
	if err != nil {
		return false
	}
	return vm.isAssignable(fc, tc)
}

// ---------------------------------------------------------------------------
// Linking
// ---------------------------------------------------------------------------

// link builds a Class from a parsed class file. Superclass and interfaces
// are loaded first.
func (vm *VM) link(cf *classfile.ClassFile) (*Class, error) {
	c := &Class{
		Name:        cf.Name(),
		Flags:       cf.AccessFlags,
		File:        cf,
		methods:     make(map[string]*Method),
		fieldSlots:  make(map[string]int),
		staticSlots: make(map[string]int),
		resolved:    make([]any, len(cf.ConstantPool)),
	}
	if super := cf.SuperClassName(); super != "" {
		s, err := vm.LoadClass(super)
		if err != nil {
			return nil, fmt.Errorf("linking %s: superclass: %w", c.Name, err)
		}
		if s.IsInterface() {
			return nil, fmt.Errorf("linking %s: superclass %s is an interface", c.Name, s.Name)
		}
		c.Super = s
	}
	for _, name := range cf.InterfaceNames() {
		i, err := vm.LoadClass(name)
		if err != nil {
			return nil, fmt.Errorf("linking %s: interface: %w", c.Name, err)
		}
		c.Interfaces = append(c.Interfaces, i)
	}

	if c.Super != nil {
		for name, slot := range c.Super.fieldSlots {
			c.fieldSlots[name] = slot
		}
		c.fieldDescs = append(c.fieldDescs, c.Super.fieldDescs...)
	}
	for _, f := range cf.Fields {
		if f.AccessFlags&classfile.AccStatic != 0 {
			c.staticSlots[f.Name] = len(c.Statics)
			v := zeroValue(f.Descriptor)
			if f.ConstantValue != 0 {
				cv, err := constantValue(cf.ConstantPool, f.ConstantValue)
				if err != nil {
					return nil, fmt.Errorf("linking %s.%s: %w", c.Name, f.Name, err)
				}
				v = cv
			}
			c.Statics = append(c.Statics, v)
			continue
		}
		c.fieldSlots[f.Name] = len(c.fieldDescs)
		c.fieldDescs = append(c.fieldDescs, f.Descriptor)
	}

	for i := range cf.Methods {
		m, err := newMethod(c, &cf.Methods[i])
		if err != nil {
			return nil, fmt.Errorf("linking %s: %w", c.Name, err)
		}
		if m.IsNative() {
			m.native = vm.natives.Lookup(m.Key())
		}
		c.Methods = append(c.Methods, m)
		c.methods[m.Name+m.Desc] = m
	}
	return c, nil
}

// constantValue decodes a ConstantValue attribute.
func constantValue(pool classfile.ConstantPool, idx uint16) (Value, error) {
	k, err := pool.Get(idx, 0)
	if err != nil {
		return Void, err
	}
	switch k.Tag {
	case classfile.TagInteger:
		return Int(k.Int), nil
	case classfile.TagLong:
		return Long(k.Long), nil
	case classfile.TagFloat:
		return Float(k.Float), nil
	case classfile.TagDouble:
		return Double(k.Double), nil
	}
	// String constants are interned lazily by ldc; the field starts null
	// and <clinit> of javac output assigns it anyway.
	return Null, nil
}

// arrayClass returns the class for array descriptor name, creating it on
// first use.
func (vm *VM) arrayClass(name string) (*Class, error) {
	if c, ok := vm.classes[name]; ok {
		return c, nil
	}
	if len(name) < 2 {
		return nil, fmt.Errorf("bad array class %q: %w", name, ErrClassNotFound)
	}
	elem := name[1:]
	if elem[0] == 'L' || elem[0] == '[' {
		if _, err := vm.LoadClass(classfile.FieldType(elem).ClassName()); err != nil {
			return nil, err
		}
	} else if !strings.ContainsRune("ZBCSIJFD", rune(elem[0])) || len(elem) != 1 {
		return nil, fmt.Errorf("bad array class %q: %w", name, ErrClassNotFound)
	}
	object, err := vm.LoadClass("java/lang/Object")
	if err != nil {
		return nil, err
	}
	c := &Class{
		Name:        name,
		Super:       object,
		Flags:       classfile.AccPublic | classfile.AccFinal,
		methods:     make(map[string]*Method),
		fieldSlots:  make(map[string]int),
		staticSlots: make(map[string]int),
		state:       ClassInitialized,
	}
	vm.classes[name] = c
	return c, nil
}

// primitiveArrayClass maps a newarray type code to its array class name.
func primitiveArrayClass(code int32) (string, bool) {
	switch code {
	case 4:
		return "[Z", true
	case 5:
		return "[C", true
	case 6:
		return "[F", true
	case 7:
		return "[D", true
	case 8:
		return "[B", true
	case 9:
		return "[S", true
	case 10:
		return "[I", true
	case 11:
		return "[J", true
	}
	return "", false
}

// catchHandlers converts a Code attribute's exception table.
func catchHandlers(pool classfile.ConstantPool, code *classfile.CodeAttribute) ([]compiler.Handler, error) {
	out := make([]compiler.Handler, 0, len(code.ExceptionHandlers))
	for _, h := range code.ExceptionHandlers {
		ch := compiler.Handler{StartPC: int(h.StartPC), EndPC: int(h.EndPC), HandlerPC: int(h.HandlerPC)}
		if h.CatchType != 0 {
			name, err := pool.ClassName(h.CatchType)
			if err != nil {
				return nil, fmt.Errorf("catch type: %w", err)
			}
			ch.CatchType = name
		}
		out = append(out, ch)
	}
	return out, nil
}
