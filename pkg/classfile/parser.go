package classfile

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
)

const classMagic = 0xCAFEBABE

// ErrBadMagic is returned when the input does not start with 0xCAFEBABE.
var ErrBadMagic = errors.New("classfile: bad magic number")

// reader reads big-endian values and remembers the first error.
type reader struct {
	r   io.Reader
	err error
	buf [8]byte
}

func (r *reader) fill(n int) []byte {
	if r.err != nil {
		return r.buf[:n]
	}
	if _, err := io.ReadFull(r.r, r.buf[:n]); err != nil {
		r.err = err
	}
	return r.buf[:n]
}

func (r *reader) u1() uint8  { return r.fill(1)[0] }
func (r *reader) u2() uint16 { return binary.BigEndian.Uint16(r.fill(2)) }
func (r *reader) u4() uint32 { return binary.BigEndian.Uint32(r.fill(4)) }
func (r *reader) u8() uint64 { return binary.BigEndian.Uint64(r.fill(8)) }

func (r *reader) bytes(n int) []byte {
	if r.err != nil {
		return nil
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r.r, b); err != nil {
		r.err = err
	}
	return b
}

// ParseFile opens and parses a .class file.
func ParseFile(path string) (*ClassFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	cf, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cf, nil
}

// ParseBytes parses an in-memory class file.
func ParseBytes(data []byte) (*ClassFile, error) {
	return Parse(bytes.NewReader(data))
}

// Parse reads a class file.
func Parse(in io.Reader) (*ClassFile, error) {
	r := &reader{r: in}
	if magic := r.u4(); r.err == nil && magic != classMagic {
		return nil, fmt.Errorf("%w: 0x%X", ErrBadMagic, magic)
	}
	cf := &ClassFile{}
	cf.MinorVersion = r.u2()
	cf.MajorVersion = r.u2()
	if r.err != nil {
		return nil, fmt.Errorf("reading header: %w", r.err)
	}

	pool, err := parseConstantPool(r)
	if err != nil {
		return nil, fmt.Errorf("parsing constant pool: %w", err)
	}
	cf.ConstantPool = pool

	cf.AccessFlags = r.u2()
	cf.ThisClass = r.u2()
	cf.SuperClass = r.u2()
	n := int(r.u2())
	cf.Interfaces = make([]uint16, n)
	for i := range cf.Interfaces {
		cf.Interfaces[i] = r.u2()
	}
	if r.err != nil {
		return nil, fmt.Errorf("reading class header: %w", r.err)
	}

	if cf.Fields, err = parseFields(r, pool); err != nil {
		return nil, fmt.Errorf("parsing fields: %w", err)
	}
	if cf.Methods, err = parseMethods(r, pool); err != nil {
		return nil, fmt.Errorf("parsing methods: %w", err)
	}
	attrs, err := parseAttributes(r, pool)
	if err != nil {
		return nil, fmt.Errorf("parsing class attributes: %w", err)
	}
	for _, a := range attrs {
		if a.Name == "SourceFile" && len(a.Data) == 2 {
			cf.SourceFile, _ = pool.Utf8(binary.BigEndian.Uint16(a.Data))
		}
	}
	if _, err := cf.ConstantPool.ClassName(cf.ThisClass); err != nil {
		return nil, fmt.Errorf("this_class: %w", err)
	}
	return cf, nil
}

func parseConstantPool(r *reader) (ConstantPool, error) {
	count := int(r.u2())
	if r.err != nil {
		return nil, r.err
	}
	pool := make(ConstantPool, count)
	for i := 1; i < count; i++ {
		c := &Constant{Tag: r.u1()}
		switch c.Tag {
		case TagUtf8:
			c.Str = decodeModifiedUTF8(r.bytes(int(r.u2())))
		case TagInteger:
			c.Int = int32(r.u4())
		case TagFloat:
			c.Float = math.Float32frombits(r.u4())
		case TagLong:
			c.Long = int64(r.u8())
		case TagDouble:
			c.Double = math.Float64frombits(r.u8())
		case TagClass, TagString, TagMethodType:
			c.A = r.u2()
		case TagFieldref, TagMethodref, TagInterfaceMethodref, TagNameAndType, TagDynamic, TagInvokeDynamic:
			c.A = r.u2()
			c.B = r.u2()
		case TagMethodHandle:
			c.A = uint16(r.u1())
			c.B = r.u2()
		default:
			if r.err != nil {
				return nil, r.err
			}
			return nil, fmt.Errorf("unknown constant pool tag %d at index %d", c.Tag, i)
		}
		if r.err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, r.err)
		}
		pool[i] = c
		if c.Tag == TagLong || c.Tag == TagDouble {
			i++
		}
	}
	return pool, nil
}

// decodeModifiedUTF8 decodes the JVM's modified UTF-8: NUL is encoded as
// 0xC0 0x80 and supplementary characters as surrogate pairs.
func decodeModifiedUTF8(b []byte) string {
	ascii := true
	for _, c := range b {
		if c >= 0x80 {
			ascii = false
			break
		}
	}
	if ascii {
		return string(b)
	}
	units := make([]uint16, 0, len(b))
	for i := 0; i < len(b); {
		c := b[i]
		switch {
		case c < 0x80:
			units = append(units, uint16(c))
			i++
		case c&0xE0 == 0xC0 && i+1 < len(b):
			units = append(units, uint16(c&0x1F)<<6|uint16(b[i+1]&0x3F))
			i += 2
		case c&0xF0 == 0xE0 && i+2 < len(b):
			units = append(units, uint16(c&0x0F)<<12|uint16(b[i+1]&0x3F)<<6|uint16(b[i+2]&0x3F))
			i += 3
		default:
			units = append(units, 0xFFFD)
			i++
		}
	}
	return utf16ToString(units)
}

func parseFields(r *reader, pool ConstantPool) ([]FieldInfo, error) {
	count := int(r.u2())
	fields := make([]FieldInfo, count)
	for i := range fields {
		f := &fields[i]
		f.AccessFlags = r.u2()
		nameIdx, descIdx := r.u2(), r.u2()
		if r.err != nil {
			return nil, r.err
		}
		var err error
		if f.Name, err = pool.Utf8(nameIdx); err != nil {
			return nil, fmt.Errorf("field %d name: %w", i, err)
		}
		if f.Descriptor, err = pool.Utf8(descIdx); err != nil {
			return nil, fmt.Errorf("field %d descriptor: %w", i, err)
		}
		attrs, err := parseAttributes(r, pool)
		if err != nil {
			return nil, fmt.Errorf("field %s attributes: %w", f.Name, err)
		}
		for _, a := range attrs {
			if a.Name == "ConstantValue" && len(a.Data) == 2 {
				f.ConstantValue = binary.BigEndian.Uint16(a.Data)
				continue
			}
			f.Attributes = append(f.Attributes, a)
		}
	}
	return fields, r.err
}

func parseMethods(r *reader, pool ConstantPool) ([]MethodInfo, error) {
	count := int(r.u2())
	methods := make([]MethodInfo, count)
	for i := range methods {
		m := &methods[i]
		m.AccessFlags = r.u2()
		nameIdx, descIdx := r.u2(), r.u2()
		if r.err != nil {
			return nil, r.err
		}
		var err error
		if m.Name, err = pool.Utf8(nameIdx); err != nil {
			return nil, fmt.Errorf("method %d name: %w", i, err)
		}
		if m.Descriptor, err = pool.Utf8(descIdx); err != nil {
			return nil, fmt.Errorf("method %d descriptor: %w", i, err)
		}
		attrs, err := parseAttributes(r, pool)
		if err != nil {
			return nil, fmt.Errorf("method %s attributes: %w", m, err)
		}
		for _, a := range attrs {
			if a.Name != "Code" {
				m.Attributes = append(m.Attributes, a)
				continue
			}
			code, err := parseCode(a.Data, pool)
			if err != nil {
				return nil, fmt.Errorf("method %s Code: %w", m, err)
			}
			m.Code = code
		}
	}
	return methods, r.err
}

func parseAttributes(r *reader, pool ConstantPool) ([]AttributeInfo, error) {
	count := int(r.u2())
	var attrs []AttributeInfo
	for i := 0; i < count; i++ {
		nameIdx := r.u2()
		length := r.u4()
		if r.err != nil {
			return nil, r.err
		}
		name, err := pool.Utf8(nameIdx)
		if err != nil {
			return nil, fmt.Errorf("attribute %d name: %w", i, err)
		}
		data := r.bytes(int(length))
		if r.err != nil {
			return nil, fmt.Errorf("attribute %s: %w", name, r.err)
		}
		attrs = append(attrs, AttributeInfo{Name: name, Data: data})
	}
	return attrs, r.err
}

func parseCode(data []byte, pool ConstantPool) (*CodeAttribute, error) {
	r := &reader{r: bytes.NewReader(data)}
	c := &CodeAttribute{MaxStack: r.u2(), MaxLocals: r.u2()}
	c.Code = r.bytes(int(r.u4()))
	n := int(r.u2())
	if r.err != nil {
		return nil, r.err
	}
	c.ExceptionHandlers = make([]ExceptionHandler, n)
	for i := range c.ExceptionHandlers {
		c.ExceptionHandlers[i] = ExceptionHandler{StartPC: r.u2(), EndPC: r.u2(), HandlerPC: r.u2(), CatchType: r.u2()}
	}
	attrs, err := parseAttributes(r, pool)
	if err != nil {
		return nil, err
	}
	c.Attributes = attrs
	return c, nil
}
