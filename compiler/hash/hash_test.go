package hash

import (
	"testing"

	"github.com/chazu/cldc/pkg/bytecode"
	"github.com/chazu/cldc/pkg/classfile"
)

func callBody(t *testing.T, padding int) (Body, classfile.ConstantPool) {
	t.Helper()
	pb := classfile.NewPoolBuilder()
	for i := 0; i < padding; i++ {
		pb.Int(int32(1000 + i))
	}
	ref := pb.Methodref("demo/Util", "twice", "(I)I")
	code := bytecode.NewAssembler().
		Load(bytecode.OpIload, 0).
		EmitU16(bytecode.OpInvokestatic, int(ref)).
		Emit(bytecode.OpIreturn).
		MustBytes()
	return Body{Key: "demo/A.f.(I)I", MaxStack: 1, MaxLocals: 1, Code: code}, pb.Pool()
}

func TestHashIgnoresPoolLayout(t *testing.T) {
	b1, p1 := callBody(t, 0)
	b2, p2 := callBody(t, 5)
	h1, err := HashMethod(b1, p1)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := HashMethod(b2, p2)
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Errorf("hashes differ for identical bodies: %s vs %s", Hex(h1), Hex(h2))
	}
}

func TestHashSeesSemanticChanges(t *testing.T) {
	b, p := callBody(t, 0)
	base, _ := HashMethod(b, p)

	changed := b
	changed.Code = append([]byte(nil), b.Code...)
	changed.Code[0] = byte(bytecode.OpIload1)
	if h, _ := HashMethod(changed, p); h == base {
		t.Error("changing an instruction did not change the hash")
	}

	handled := b
	handled.Handlers = []Handler{{StartPC: 0, EndPC: 4, HandlerPC: 4}}
	if h, _ := HashMethod(handled, p); h == base {
		t.Error("adding a handler did not change the hash")
	}

	renamed := b
	renamed.Key = "demo/A.g.(I)I"
	if h, _ := HashMethod(renamed, p); h == base {
		t.Error("changing the key did not change the hash")
	}
}

func TestHashRejectsBadCode(t *testing.T) {
	if _, err := HashMethod(Body{Key: "x", Code: []byte{0xfe}}, nil); err == nil {
		t.Error("expected decode error")
	}
}
