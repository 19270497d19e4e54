package vm

import (
	"fmt"
	"math"
)

// Kind tags a Value.
type Kind uint8

const (
	KindVoid Kind = iota
	KindInt
	KindLong
	KindFloat
	KindDouble
	KindRef
	// KindTop fills the upper slot of a long or double in locals and on
	// the operand stack.
	KindTop
)

var kindNames = [...]string{"void", "int", "long", "float", "double", "ref", "top"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", k)
}

// Value is a tagged JVM value. Narrow integer types are ints; float is
// kept at float32 precision inside F.
type Value struct {
	K Kind
	I int64
	F float64
	R *Object
}

var (
	Void = Value{}
	Null = Value{K: KindRef}
	Top  = Value{K: KindTop}
)

func Int(v int32) Value      { return Value{K: KindInt, I: int64(v)} }
func Long(v int64) Value     { return Value{K: KindLong, I: v} }
func Float(v float32) Value  { return Value{K: KindFloat, F: float64(v)} }
func Double(v float64) Value { return Value{K: KindDouble, F: v} }
func Ref(o *Object) Value    { return Value{K: KindRef, R: o} }

// Bool converts a Go bool to a JVM int.
func Bool(b bool) Value {
	if b {
		return Int(1)
	}
	return Int(0)
}

func (v Value) AsInt() int32      { return int32(v.I) }
func (v Value) AsLong() int64     { return v.I }
func (v Value) AsFloat() float32  { return float32(v.F) }
func (v Value) AsDouble() float64 { return v.F }
func (v Value) AsRef() *Object    { return v.R }

// IsWide reports whether v takes two slots.
func (v Value) IsWide() bool { return v.K == KindLong || v.K == KindDouble }

// IsNull reports whether v is the null reference.
func (v Value) IsNull() bool { return v.K == KindRef && v.R == nil }

// Equal compares two values the way snapshots and tests need: floats
// compare by bit pattern so NaN equals itself.
func (v Value) Equal(o Value) bool {
	if v.K != o.K {
		return false
	}
	switch v.K {
	case KindFloat:
		return math.Float32bits(v.AsFloat()) == math.Float32bits(o.AsFloat())
	case KindDouble:
		return math.Float64bits(v.F) == math.Float64bits(o.F)
	case KindRef:
		return v.R == o.R
	}
	return v.I == o.I
}

func (v Value) String() string {
	switch v.K {
	case KindVoid:
		return "void"
	case KindInt:
		return fmt.Sprintf("%d", v.AsInt())
	case KindLong:
		return fmt.Sprintf("%dL", v.I)
	case KindFloat:
		return fmt.Sprintf("%gf", v.AsFloat())
	case KindDouble:
		return fmt.Sprintf("%gd", v.F)
	case KindRef:
		if v.R == nil {
			return "null"
		}
		return v.R.String()
	case KindTop:
		return "top"
	}
	return "?"
}

// zeroValue returns the default value for a field descriptor.
func zeroValue(desc string) Value {
	if desc == "" {
		return Null
	}
	switch desc[0] {
	case 'Z', 'B', 'C', 'S', 'I':
		return Int(0)
	case 'J':
		return Long(0)
	case 'F':
		return Float(0)
	case 'D':
		return Double(0)
	}
	return Null
}
