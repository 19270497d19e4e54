package classfile

import (
	"fmt"
)

// Constant pool tags.
const (
	TagUtf8               = 1
	TagInteger            = 3
	TagFloat              = 4
	TagLong               = 5
	TagDouble             = 6
	TagClass              = 7
	TagString             = 8
	TagFieldref           = 9
	TagMethodref          = 10
	TagInterfaceMethodref = 11
	TagNameAndType        = 12
	TagMethodHandle       = 15
	TagMethodType         = 16
	TagDynamic            = 17
	TagInvokeDynamic      = 18
)

// Constant is one constant-pool entry. Which fields are meaningful depends
// on Tag: Str for Utf8, Int/Long/Float/Double for numeric constants, A for
// the single index of Class/String/MethodType, A and B for the two indices
// of member references and NameAndType.
type Constant struct {
	Tag    uint8
	Str    string
	Int    int32
	Long   int64
	Float  float32
	Double float64
	A, B   uint16
}

// ConstantPool is 1-indexed: entry 0 and the slot after every long or
// double are nil.
type ConstantPool []*Constant

// MemberRef is a resolved Fieldref, Methodref or InterfaceMethodref.
type MemberRef struct {
	Tag        uint8
	ClassName  string
	Name       string
	Descriptor string
}

func (r MemberRef) String() string {
	return r.ClassName + "." + r.Name + ":" + r.Descriptor
}

// Key returns the "class.name.descriptor" key used for method tables.
func (r MemberRef) Key() string {
	return r.ClassName + "." + r.Name + "." + r.Descriptor
}

// Get returns the entry at index, checking its tag when tag is non-zero.
func (p ConstantPool) Get(index uint16, tag uint8) (*Constant, error) {
	if int(index) >= len(p) || p[index] == nil {
		return nil, fmt.Errorf("classfile: invalid constant pool index %d", index)
	}
	c := p[index]
	if tag != 0 && c.Tag != tag {
		return nil, fmt.Errorf("classfile: constant pool index %d has tag %d, want %d", index, c.Tag, tag)
	}
	return c, nil
}

// Utf8 returns the string at a Utf8 entry.
func (p ConstantPool) Utf8(index uint16) (string, error) {
	c, err := p.Get(index, TagUtf8)
	if err != nil {
		return "", err
	}
	return c.Str, nil
}

// ClassName returns the name referenced by a Class entry.
func (p ConstantPool) ClassName(index uint16) (string, error) {
	c, err := p.Get(index, TagClass)
	if err != nil {
		return "", err
	}
	return p.Utf8(c.A)
}

// StringValue returns the text of a String entry.
func (p ConstantPool) StringValue(index uint16) (string, error) {
	c, err := p.Get(index, TagString)
	if err != nil {
		return "", err
	}
	return p.Utf8(c.A)
}

// NameAndType returns the name and descriptor of a NameAndType entry.
func (p ConstantPool) NameAndType(index uint16) (name, desc string, err error) {
	c, err := p.Get(index, TagNameAndType)
	if err != nil {
		return "", "", err
	}
	if name, err = p.Utf8(c.A); err != nil {
		return "", "", err
	}
	if desc, err = p.Utf8(c.B); err != nil {
		return "", "", err
	}
	return name, desc, nil
}

// Member resolves a field, method or interface-method reference.
func (p ConstantPool) Member(index uint16) (MemberRef, error) {
	c, err := p.Get(index, 0)
	if err != nil {
		return MemberRef{}, err
	}
	switch c.Tag {
	case TagFieldref, TagMethodref, TagInterfaceMethodref:
	default:
		return MemberRef{}, fmt.Errorf("classfile: constant pool index %d (tag %d) is not a member reference", index, c.Tag)
	}
	class, err := p.ClassName(c.A)
	if err != nil {
		return MemberRef{}, fmt.Errorf("resolving member class: %w", err)
	}
	name, desc, err := p.NameAndType(c.B)
	if err != nil {
		return MemberRef{}, fmt.Errorf("resolving member name and type: %w", err)
	}
	return MemberRef{Tag: c.Tag, ClassName: class, Name: name, Descriptor: desc}, nil
}

// Describe renders an entry for disassembly comments.
func (p ConstantPool) Describe(index int) string {
	if index <= 0 || index >= len(p) || p[index] == nil {
		return ""
	}
	c := p[index]
	switch c.Tag {
	case TagUtf8:
		return fmt.Sprintf("Utf8 %q", c.Str)
	case TagInteger:
		return fmt.Sprintf("int %d", c.Int)
	case TagFloat:
		return fmt.Sprintf("float %v", c.Float)
	case TagLong:
		return fmt.Sprintf("long %d", c.Long)
	case TagDouble:
		return fmt.Sprintf("double %v", c.Double)
	case TagClass:
		name, _ := p.ClassName(uint16(index))
		return "class " + name
	case TagString:
		s, _ := p.StringValue(uint16(index))
		return fmt.Sprintf("String %q", s)
	case TagFieldref, TagMethodref, TagInterfaceMethodref:
		ref, err := p.Member(uint16(index))
		if err != nil {
			return ""
		}
		kind := map[uint8]string{TagFieldref: "Field", TagMethodref: "Method", TagInterfaceMethodref: "InterfaceMethod"}[c.Tag]
		return kind + " " + ref.String()
	case TagNameAndType:
		name, desc, _ := p.NameAndType(uint16(index))
		return "NameAndType " + name + ":" + desc
	}
	return fmt.Sprintf("tag %d", c.Tag)
}
