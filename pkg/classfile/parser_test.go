package classfile

import (
	"errors"
	"testing"
)

func buildSample(t *testing.T) *ClassFile {
	t.Helper()
	b := NewBuilder("demo/Counter", "java/lang/Object", AccPublic|AccSuper)
	b.AddInterface("java/lang/Runnable")
	b.AddField(AccPrivate, "count", "I")
	b.AddField(AccStatic|AccFinal, "LIMIT", "J")
	ref := b.Methodref("demo/Counter", "tick", "()V")
	b.StringConst("hello\x00world")
	b.Long(1 << 40)
	b.Double(2.5)
	b.AddMethod(AccPublic, "run", "()V", &CodeAttribute{
		MaxStack:  1,
		MaxLocals: 1,
		Code:      []byte{0x2a, 0xb7, byte(ref >> 8), byte(ref), 0xb1},
		ExceptionHandlers: []ExceptionHandler{
			{StartPC: 0, EndPC: 4, HandlerPC: 4, CatchType: 0},
		},
	})
	b.AddMethod(AccPublic|AccNative, "tick", "()V", nil)
	return b.Build()
}

func TestWriteThenParse(t *testing.T) {
	data, err := buildSample(t).Bytes()
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	cf, err := ParseBytes(data)
	if err != nil {
		t.Fatalf("ParseBytes: %v", err)
	}
	if cf.Name() != "demo/Counter" {
		t.Errorf("Name() = %q, want demo/Counter", cf.Name())
	}
	if cf.SuperClassName() != "java/lang/Object" {
		t.Errorf("SuperClassName() = %q", cf.SuperClassName())
	}
	if got := cf.InterfaceNames(); len(got) != 1 || got[0] != "java/lang/Runnable" {
		t.Errorf("InterfaceNames() = %v", got)
	}
	if len(cf.Fields) != 2 || cf.Fields[1].Descriptor != "J" {
		t.Errorf("Fields = %+v", cf.Fields)
	}
	run := cf.FindMethod("run", "()V")
	if run == nil || run.Code == nil {
		t.Fatalf("run()V missing or without code")
	}
	if len(run.Code.Code) != 5 || run.Code.MaxLocals != 1 {
		t.Errorf("run code = %+v", run.Code)
	}
	if len(run.Code.ExceptionHandlers) != 1 || run.Code.ExceptionHandlers[0].HandlerPC != 4 {
		t.Errorf("handlers = %+v", run.Code.ExceptionHandlers)
	}
	if tick := cf.FindMethod("tick", "()V"); tick == nil || tick.Code != nil || tick.AccessFlags&AccNative == 0 {
		t.Errorf("tick = %+v", tick)
	}
}

func TestConstantPoolLookups(t *testing.T) {
	b := NewBuilder("A", "java/lang/Object", AccPublic)
	m := b.Methodref("B", "f", "(I)J")
	fl := b.Fieldref("C", "x", "Ljava/lang/String;")
	s := b.StringConst("text")
	l := b.Long(-7)
	after := b.Int(3)
	pool := b.Build().ConstantPool

	ref, err := pool.Member(m)
	if err != nil {
		t.Fatalf("Member: %v", err)
	}
	if ref.Key() != "B.f.(I)J" {
		t.Errorf("Key() = %q", ref.Key())
	}
	if fref, _ := pool.Member(fl); fref.Tag != TagFieldref || fref.Name != "x" {
		t.Errorf("field ref = %+v", fref)
	}
	if v, _ := pool.StringValue(s); v != "text" {
		t.Errorf("StringValue = %q", v)
	}
	if pool[l+1] != nil || after != l+2 {
		t.Errorf("long must occupy two slots: long=%d next=%d", l, after)
	}
	if _, err := pool.Member(s); err == nil {
		t.Error("Member on a String entry should fail")
	}
	if got := pool.Describe(int(m)); got != "Method B.f:(I)J" {
		t.Errorf("Describe = %q", got)
	}
}

func TestPoolBuilderDeduplicates(t *testing.T) {
	b := NewPoolBuilder()
	if b.Class("X") != b.Class("X") {
		t.Error("Class entries are not shared")
	}
	if b.Methodref("X", "m", "()V") != b.Methodref("X", "m", "()V") {
		t.Error("Methodref entries are not shared")
	}
}

func TestParseBadMagic(t *testing.T) {
	_, err := ParseBytes([]byte{0xCA, 0xFE, 0xBA, 0xBF, 0, 0, 0, 49})
	if !errors.Is(err, ErrBadMagic) {
		t.Errorf("err = %v, want ErrBadMagic", err)
	}
}

func TestParseTruncated(t *testing.T) {
	data, err := buildSample(t).Bytes()
	if err != nil {
		t.Fatal(err)
	}
	for _, n := range []int{4, 10, len(data) / 2, len(data) - 1} {
		if _, err := ParseBytes(data[:n]); err == nil {
			t.Errorf("ParseBytes(%d of %d bytes) succeeded", n, len(data))
		}
	}
}

func TestModifiedUTF8(t *testing.T) {
	for _, s := range []string{"plain", "nul\x00byte", "π≈3", "emoji 😀"} {
		if got := decodeModifiedUTF8(encodeModifiedUTF8(s)); got != s {
			t.Errorf("round trip %q = %q", s, got)
		}
	}
	if b := encodeModifiedUTF8("\x00"); len(b) != 2 || b[0] != 0xC0 || b[1] != 0x80 {
		t.Errorf("NUL encodes as % x", b)
	}
}
