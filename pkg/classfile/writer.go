package classfile

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

type writer struct {
	buf bytes.Buffer
}

func (w *writer) u1(v uint8)  { w.buf.WriteByte(v) }
func (w *writer) u2(v uint16) { w.buf.Write(binary.BigEndian.AppendUint16(nil, v)) }
func (w *writer) u4(v uint32) { w.buf.Write(binary.BigEndian.AppendUint32(nil, v)) }
func (w *writer) u8(v uint64) { w.buf.Write(binary.BigEndian.AppendUint64(nil, v)) }

// Bytes serializes the class file.
func (cf *ClassFile) Bytes() ([]byte, error) {
	var w writer
	w.u4(classMagic)
	w.u2(cf.MinorVersion)
	w.u2(cf.MajorVersion)

	pool := cf.ConstantPool
	attr := newAttrNamer(&pool)
	// Attribute names may extend the pool, so encode the body first.
	var body writer
	body.u2(cf.AccessFlags)
	body.u2(cf.ThisClass)
	body.u2(cf.SuperClass)
	body.u2(uint16(len(cf.Interfaces)))
	for _, i := range cf.Interfaces {
		body.u2(i)
	}
	body.u2(uint16(len(cf.Fields)))
	for _, f := range cf.Fields {
		body.u2(f.AccessFlags)
		body.u2(pool.intern(f.Name))
		body.u2(pool.intern(f.Descriptor))
		attrs := append([]AttributeInfo(nil), f.Attributes...)
		if f.ConstantValue != 0 {
			attrs = append(attrs, AttributeInfo{Name: "ConstantValue", Data: binary.BigEndian.AppendUint16(nil, f.ConstantValue)})
		}
		writeAttributes(&body, attrs, attr)
	}
	body.u2(uint16(len(cf.Methods)))
	for _, m := range cf.Methods {
		body.u2(m.AccessFlags)
		body.u2(pool.intern(m.Name))
		body.u2(pool.intern(m.Descriptor))
		attrs := append([]AttributeInfo(nil), m.Attributes...)
		if m.Code != nil {
			attrs = append(attrs, AttributeInfo{Name: "Code", Data: encodeCode(m.Code, attr)})
		}
		writeAttributes(&body, attrs, attr)
	}
	var classAttrs []AttributeInfo
	if cf.SourceFile != "" {
		classAttrs = append(classAttrs, AttributeInfo{Name: "SourceFile", Data: binary.BigEndian.AppendUint16(nil, pool.intern(cf.SourceFile))})
	}
	writeAttributes(&body, classAttrs, attr)

	if len(pool) > math.MaxUint16 {
		return nil, fmt.Errorf("classfile: constant pool too large (%d)", len(pool))
	}
	w.u2(uint16(len(pool)))
	for i := 1; i < len(pool); i++ {
		c := pool[i]
		if c == nil {
			continue
		}
		w.u1(c.Tag)
		switch c.Tag {
		case TagUtf8:
			b := encodeModifiedUTF8(c.Str)
			w.u2(uint16(len(b)))
			w.buf.Write(b)
		case TagInteger:
			w.u4(uint32(c.Int))
		case TagFloat:
			w.u4(math.Float32bits(c.Float))
		case TagLong:
			w.u8(uint64(c.Long))
		case TagDouble:
			w.u8(math.Float64bits(c.Double))
		case TagClass, TagString, TagMethodType:
			w.u2(c.A)
		case TagMethodHandle:
			w.u1(uint8(c.A))
			w.u2(c.B)
		default:
			w.u2(c.A)
			w.u2(c.B)
		}
	}
	w.buf.Write(body.buf.Bytes())
	return w.buf.Bytes(), nil
}

// WriteTo writes the serialized class file to out.
func (cf *ClassFile) WriteTo(out io.Writer) (int64, error) {
	b, err := cf.Bytes()
	if err != nil {
		return 0, err
	}
	n, err := out.Write(b)
	return int64(n), err
}

func encodeCode(c *CodeAttribute, attr func(string) uint16) []byte {
	var w writer
	w.u2(c.MaxStack)
	w.u2(c.MaxLocals)
	w.u4(uint32(len(c.Code)))
	w.buf.Write(c.Code)
	w.u2(uint16(len(c.ExceptionHandlers)))
	for _, h := range c.ExceptionHandlers {
		w.u2(h.StartPC)
		w.u2(h.EndPC)
		w.u2(h.HandlerPC)
		w.u2(h.CatchType)
	}
	writeAttributes(&w, c.Attributes, attr)
	return w.buf.Bytes()
}

func writeAttributes(w *writer, attrs []AttributeInfo, attr func(string) uint16) {
	w.u2(uint16(len(attrs)))
	for _, a := range attrs {
		w.u2(attr(a.Name))
		w.u4(uint32(len(a.Data)))
		w.buf.Write(a.Data)
	}
}

func newAttrNamer(pool *ConstantPool) func(string) uint16 {
	return func(name string) uint16 { return pool.intern(name) }
}

// intern returns the index of a Utf8 entry equal to s, appending one if
// none exists.
func (p *ConstantPool) intern(s string) uint16 {
	for i, c := range *p {
		if c != nil && c.Tag == TagUtf8 && c.Str == s {
			return uint16(i)
		}
	}
	if len(*p) == 0 {
		*p = append(*p, nil)
	}
	*p = append(*p, &Constant{Tag: TagUtf8, Str: s})
	return uint16(len(*p) - 1)
}
