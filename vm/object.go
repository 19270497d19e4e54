package vm

import (
	"fmt"
	"strconv"
)

// ---------------------------------------------------------------------------
// Object: instances, arrays, strings and class mirrors
// ---------------------------------------------------------------------------

// Object is a heap object. Plain instances use Fields, arrays use Elems and
// strings keep their text in Str. Native carries host state for builtin
// classes: *Class for class mirrors, *Context for started threads and
// *strings.Builder for string buffers.
type Object struct {
	Class  *Class
	Fields []Value
	Elems  []Value
	Str    string
	Native any

	id      uint64
	monitor *Monitor
}

// ID is the object's identity, unique within one VM. It doubles as the
// identity hash code and as the handle in snapshots.
func (o *Object) ID() uint64 { return o.id }

// IsArray reports whether o is an array.
func (o *Object) IsArray() bool { return o.Class.IsArray() }

// Len returns the length of an array.
func (o *Object) Len() int { return len(o.Elems) }

func (o *Object) String() string {
	if o == nil {
		return "null"
	}
	if o.Class != nil && o.Class.Name == "java/lang/String" {
		return strconv.Quote(o.Str)
	}
	if o.IsArray() {
		return fmt.Sprintf("%s[%d]@%d", o.Class.Name, len(o.Elems), o.id)
	}
	return fmt.Sprintf("%s@%d", o.Class.Name, o.id)
}

// Field returns the named instance field.
func (o *Object) Field(name string) (Value, bool) {
	slot, ok := o.Class.fieldSlot(name)
	if !ok {
		return Void, false
	}
	return o.Fields[slot], true
}

// SetField sets the named instance field.
func (o *Object) SetField(name string, v Value) bool {
	slot, ok := o.Class.fieldSlot(name)
	if !ok {
		return false
	}
	o.Fields[slot] = v
	return true
}

func (vm *VM) nextID() uint64 {
	vm.objectID++
	return vm.objectID
}

// NewObject allocates an instance of c with zeroed fields. Constructors are
// not run.
func (vm *VM) NewObject(c *Class) *Object {
	o := &Object{Class: c, id: vm.nextID()}
	if n := len(c.fieldDescs); n > 0 {
		o.Fields = make([]Value, n)
		for i, d := range c.fieldDescs {
			o.Fields[i] = zeroValue(d)
		}
	}
	return o
}

// NewArray allocates an array of class c (whose name is the array
// descriptor) with n zeroed elements.
func (vm *VM) NewArray(c *Class, n int) *Object {
	o := &Object{Class: c, Elems: make([]Value, n), id: vm.nextID()}
	zero := zeroValue(c.Name[1:])
	for i := range o.Elems {
		o.Elems[i] = zero
	}
	return o
}

// NewString returns a new java/lang/String holding s.
func (vm *VM) NewString(s string) *Object {
	o := vm.NewObject(vm.mustClass("java/lang/String"))
	o.Str = s
	return o
}

// Intern returns the canonical String object for s, as ldc does.
func (vm *VM) Intern(s string) *Object {
	if o, ok := vm.interned[s]; ok {
		return o
	}
	o := vm.NewString(s)
	vm.interned[s] = o
	return o
}

// GoString returns the text of a String object ("null" for nil).
func GoString(o *Object) string {
	if o == nil {
		return "null"
	}
	return o.Str
}

// ClassObject returns the java/lang/Class mirror of c.
func (vm *VM) ClassObject(c *Class) *Object {
	if c.mirror == nil {
		c.mirror = vm.NewObject(vm.mustClass("java/lang/Class"))
		c.mirror.Native = c
	}
	return c.mirror
}
