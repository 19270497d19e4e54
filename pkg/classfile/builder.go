package classfile

// PoolBuilder appends constant-pool entries, reusing identical ones.
type PoolBuilder struct {
	pool  ConstantPool
	index map[Constant]uint16
}

// NewPoolBuilder creates a builder with the reserved zero entry.
func NewPoolBuilder() *PoolBuilder {
	return &PoolBuilder{pool: ConstantPool{nil}, index: make(map[Constant]uint16)}
}

func (b *PoolBuilder) add(c Constant) uint16 {
	if i, ok := b.index[c]; ok {
		return i
	}
	cc := c
	b.pool = append(b.pool, &cc)
	i := uint16(len(b.pool) - 1)
	if c.Tag == TagLong || c.Tag == TagDouble {
		b.pool = append(b.pool, nil)
	}
	b.index[c] = i
	return i
}

// Pool returns the entries added so far.
func (b *PoolBuilder) Pool() ConstantPool { return b.pool }

// Utf8 adds a Utf8 entry.
func (b *PoolBuilder) Utf8(s string) uint16 { return b.add(Constant{Tag: TagUtf8, Str: s}) }

// Class adds a Class entry.
func (b *PoolBuilder) Class(name string) uint16 {
	return b.add(Constant{Tag: TagClass, A: b.Utf8(name)})
}

// StringConst adds a String entry.
func (b *PoolBuilder) StringConst(s string) uint16 {
	return b.add(Constant{Tag: TagString, A: b.Utf8(s)})
}

// Int adds an Integer entry.
func (b *PoolBuilder) Int(v int32) uint16 { return b.add(Constant{Tag: TagInteger, Int: v}) }

// Float adds a Float entry.
func (b *PoolBuilder) Float(v float32) uint16 { return b.add(Constant{Tag: TagFloat, Float: v}) }

// Long adds a Long entry.
func (b *PoolBuilder) Long(v int64) uint16 { return b.add(Constant{Tag: TagLong, Long: v}) }

// Double adds a Double entry.
func (b *PoolBuilder) Double(v float64) uint16 { return b.add(Constant{Tag: TagDouble, Double: v}) }

// NameAndType adds a NameAndType entry.
func (b *PoolBuilder) NameAndType(name, desc string) uint16 {
	return b.add(Constant{Tag: TagNameAndType, A: b.Utf8(name), B: b.Utf8(desc)})
}

// Fieldref adds a Fieldref entry.
func (b *PoolBuilder) Fieldref(class, name, desc string) uint16 {
	return b.add(Constant{Tag: TagFieldref, A: b.Class(class), B: b.NameAndType(name, desc)})
}

// Methodref adds a Methodref entry.
func (b *PoolBuilder) Methodref(class, name, desc string) uint16 {
	return b.add(Constant{Tag: TagMethodref, A: b.Class(class), B: b.NameAndType(name, desc)})
}

// InterfaceMethodref adds an InterfaceMethodref entry.
func (b *PoolBuilder) InterfaceMethodref(class, name, desc string) uint16 {
	return b.add(Constant{Tag: TagInterfaceMethodref, A: b.Class(class), B: b.NameAndType(name, desc)})
}

// Builder assembles a ClassFile in memory.
//
//	b := classfile.NewBuilder("Main", "java/lang/Object", classfile.AccPublic)
//	b.AddMethod(classfile.AccPublic|classfile.AccStatic, "add", "(II)I", &classfile.CodeAttribute{...})
//	cf := b.Build()
type Builder struct {
	*PoolBuilder
	cf ClassFile
}

// NewBuilder starts a class. super may be "" for java/lang/Object itself.
func NewBuilder(name, super string, flags uint16) *Builder {
	b := &Builder{PoolBuilder: NewPoolBuilder()}
	b.cf.MajorVersion = 49
	b.cf.AccessFlags = flags
	b.cf.ThisClass = b.Class(name)
	if super != "" {
		b.cf.SuperClass = b.Class(super)
	}
	return b
}

// AddInterface declares a direct superinterface.
func (b *Builder) AddInterface(name string) *Builder {
	b.cf.Interfaces = append(b.cf.Interfaces, b.Class(name))
	return b
}

// AddField declares a field.
func (b *Builder) AddField(flags uint16, name, desc string) *Builder {
	b.Utf8(name)
	b.Utf8(desc)
	b.cf.Fields = append(b.cf.Fields, FieldInfo{AccessFlags: flags, Name: name, Descriptor: desc})
	return b
}

// AddMethod declares a method. code is nil for native and abstract methods.
func (b *Builder) AddMethod(flags uint16, name, desc string, code *CodeAttribute) *Builder {
	b.Utf8(name)
	b.Utf8(desc)
	b.cf.Methods = append(b.cf.Methods, MethodInfo{AccessFlags: flags, Name: name, Descriptor: desc, Code: code})
	return b
}

// Build returns the assembled class file.
func (b *Builder) Build() *ClassFile {
	cf := b.cf
	cf.ConstantPool = b.pool
	return &cf
}
