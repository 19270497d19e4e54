package bytecode

import (
	"errors"
	"testing"

	"pgregory.net/rapid"
)

func TestDecodeShortForms(t *testing.T) {
	code := []byte{byte(OpIload2), byte(OpAstore3), byte(OpLload0)}
	ins, err := DecodeAll(code)
	if err != nil {
		t.Fatalf("DecodeAll: %v", err)
	}
	want := []int{2, 3, 0}
	for i, in := range ins {
		if in.Index != want[i] {
			t.Errorf("ins[%d].Index = %d, want %d", i, in.Index, want[i])
		}
	}
}

func TestDecodeBranchTargets(t *testing.T) {
	a := NewAssembler()
	top := a.NewLabel()
	a.Bind(top)
	a.Load(OpIload, 0)
	a.Branch(OpIfeq, top)
	a.Emit(OpReturn)
	ins, err := DecodeAll(a.MustBytes())
	if err != nil {
		t.Fatalf("DecodeAll: %v", err)
	}
	if len(ins) != 3 {
		t.Fatalf("len = %d, want 3", len(ins))
	}
	if ins[1].Target != 0 {
		t.Errorf("ifeq target = %d, want 0", ins[1].Target)
	}
	if ins[1].Next() != 4 {
		t.Errorf("ifeq next = %d, want 4", ins[1].Next())
	}
}

func TestDecodeTableSwitch(t *testing.T) {
	a := NewAssembler()
	def, c0, c1 := a.NewLabel(), a.NewLabel(), a.NewLabel()
	a.Load(OpIload, 0)
	a.TableSwitch(10, def, c0, c1)
	a.Bind(c0).Push(1).Emit(OpIreturn)
	a.Bind(c1).Push(2).Emit(OpIreturn)
	a.Bind(def).Push(0).Emit(OpIreturn)
	code := a.MustBytes()

	in, err := Decode(code, 1)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if in.Switch == nil || len(in.Switch.Targets) != 2 {
		t.Fatalf("switch = %+v", in.Switch)
	}
	// pc 1: opcode, 2 pad bytes, 12 header bytes, 8 table bytes.
	if in.Len != 1+2+12+8 {
		t.Errorf("Len = %d, want %d", in.Len, 23)
	}
	if got := in.Switch.Lookup(11); got != in.Switch.Targets[1] {
		t.Errorf("Lookup(11) = %d, want %d", got, in.Switch.Targets[1])
	}
	if got := in.Switch.Lookup(99); got != in.Switch.Default {
		t.Errorf("Lookup(99) = %d, want default %d", got, in.Switch.Default)
	}
}

func TestDecodeLookupSwitch(t *testing.T) {
	a := NewAssembler()
	def, c0, c1 := a.NewLabel(), a.NewLabel(), a.NewLabel()
	a.Load(OpIload, 0)
	a.LookupSwitch(def, []int32{-5, 100}, []Label{c0, c1})
	a.Bind(c0).Emit(OpReturn)
	a.Bind(c1).Emit(OpReturn)
	a.Bind(def).Emit(OpReturn)
	in, err := Decode(a.MustBytes(), 1)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got := in.Switch.Lookup(-5); got != in.Switch.Targets[0] {
		t.Errorf("Lookup(-5) = %d, want %d", got, in.Switch.Targets[0])
	}
	if got := in.Switch.Lookup(7); got != in.Switch.Default {
		t.Errorf("Lookup(7) = %d, want %d", got, in.Switch.Default)
	}
}

func TestSwitchSuccessorsDistinct(t *testing.T) {
	a := NewAssembler()
	def, shared, other := a.NewLabel(), a.NewLabel(), a.NewLabel()
	a.Load(OpIload, 0)
	a.TableSwitch(0, def, shared, other, shared, def)
	a.Bind(shared).Emit(OpReturn)
	a.Bind(other).Emit(OpReturn)
	a.Bind(def).Emit(OpReturn)
	in, err := Decode(a.MustBytes(), 1)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(in.Switch.Targets) != 4 {
		t.Fatalf("len(Targets) = %d, want 4", len(in.Switch.Targets))
	}
	got := in.Switch.Successors()
	want := []int{in.Switch.Targets[0], in.Switch.Targets[1], in.Switch.Default}
	if len(got) != len(want) {
		t.Fatalf("Successors() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Successors()[%d] = %d, want %d", i, got[i], want[i])
		}
	}
	if in.Switch.Targets[2] != in.Switch.Targets[0] || in.Switch.Targets[3] != in.Switch.Default {
		t.Errorf("Successors() changed Targets: %v", in.Switch.Targets)
	}
}

func TestSwitchSuccessorsUnique(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := &Switch{
			Targets: rapid.SliceOf(rapid.IntRange(0, 8)).Draw(t, "targets"),
			Default: rapid.IntRange(0, 8).Draw(t, "default"),
		}
		got := s.Successors()
		seen := map[int]bool{}
		for _, pc := range got {
			if seen[pc] {
				t.Fatalf("Successors() = %v repeats %d", got, pc)
			}
			seen[pc] = true
		}
		for _, pc := range append([]int{s.Default}, s.Targets...) {
			if !seen[pc] {
				t.Fatalf("Successors() = %v misses %d", got, pc)
			}
		}
	})
}

func TestDecodeWide(t *testing.T) {
	code := []byte{byte(OpWide), byte(OpIinc), 0x01, 0x00, 0xff, 0xfe, byte(OpWide), byte(OpAload), 0x01, 0x02}
	ins, err := DecodeAll(code)
	if err != nil {
		t.Fatalf("DecodeAll: %v", err)
	}
	if ins[0].Op != OpIinc || !ins[0].Wide || ins[0].Index != 256 || ins[0].Value != -2 {
		t.Errorf("wide iinc = %+v", ins[0])
	}
	if ins[1].Op != OpAload || ins[1].Index != 258 || ins[1].Len != 4 {
		t.Errorf("wide aload = %+v", ins[1])
	}
}

func TestDecodeErrors(t *testing.T) {
	if _, err := Decode([]byte{byte(OpSipush), 0x01}, 0); !errors.Is(err, ErrTruncated) {
		t.Errorf("truncated sipush err = %v, want ErrTruncated", err)
	}
	if _, err := Decode([]byte{0xfe}, 0); !errors.Is(err, ErrBadOpcode) {
		t.Errorf("bad opcode err = %v, want ErrBadOpcode", err)
	}
	s := NewStream([]byte{byte(OpNop), 0xff})
	n := 0
	for s.Next() {
		n++
	}
	if n != 1 || s.Err() == nil {
		t.Errorf("stream decoded %d instructions, err = %v", n, s.Err())
	}
}

func TestPushRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		v := rapid.Int32Range(-32768, 32767).Draw(t, "v")
		code := NewAssembler().Push(v).MustBytes()
		in, err := Decode(code, 0)
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		var got int32
		switch {
		case in.Op >= OpIconstM1 && in.Op <= OpIconst5:
			got = int32(in.Op) - int32(OpIconst0)
		default:
			got = in.Value
		}
		if got != v {
			t.Fatalf("pushed %d, decoded %d (%s)", v, got, in.Op)
		}
	})
}
