package compiler

import (
	"errors"
	"testing"

	"pgregory.net/rapid"

	"github.com/chazu/cldc/pkg/bytecode"
)

func mustBuild(t *testing.T, code []byte, handlers ...Handler) *BlockMap {
	t.Helper()
	m, err := BuildBlockMap(code, handlers)
	if err != nil {
		t.Fatalf("BuildBlockMap: %v", err)
	}
	return m
}

func TestBlockMapStraightLine(t *testing.T) {
	code := bytecode.NewAssembler().
		Load(bytecode.OpIload, 0).
		Load(bytecode.OpIload, 1).
		Emit(bytecode.OpIadd).
		Emit(bytecode.OpIreturn).
		MustBytes()
	m := mustBuild(t, code)

	if len(m.Blocks) != 1 {
		t.Fatalf("len(Blocks) = %d, want 1", len(m.Blocks))
	}
	b := m.Entry()
	if b.StartBCI != 0 || b.EndBCI != 3 {
		t.Errorf("entry = [%d..%d], want [0..3]", b.StartBCI, b.EndBCI)
	}
	if len(b.Successors) != 0 {
		t.Errorf("Successors = %v, want none", b.Successors)
	}
	if m.LoopCount != 0 {
		t.Errorf("LoopCount = %d, want 0", m.LoopCount)
	}
}

func TestBlockMapSwitchSharedTargets(t *testing.T) {
	a := bytecode.NewAssembler()
	def, shared, other := a.NewLabel(), a.NewLabel(), a.NewLabel()
	a.Load(bytecode.OpIload, 0).
		TableSwitch(0, def, shared, other, shared, def).
		Bind(shared).Emit(bytecode.OpIconst1).Emit(bytecode.OpIreturn).
		Bind(other).Emit(bytecode.OpIconst2).Emit(bytecode.OpIreturn).
		Bind(def).Emit(bytecode.OpIconst0).Emit(bytecode.OpIreturn)
	m := mustBuild(t, a.MustBytes())

	entry := m.Entry()
	if len(entry.Successors) != 3 || entry.NormalSuccessors != 3 {
		t.Fatalf("entry successors = %v (normal %d), want 3 distinct", entry.Successors, entry.NormalSuccessors)
	}
	seen := map[int]bool{}
	for i := range entry.Successors {
		s := m.Successor(entry, i)
		if seen[s.ID] {
			t.Errorf("successor B%d listed twice", s.ID)
		}
		seen[s.ID] = true
		if s.Predecessors != 1 {
			t.Errorf("B%d Predecessors = %d, want 1", s.ID, s.Predecessors)
		}
	}
	if len(m.Blocks) != 4 {
		t.Errorf("len(Blocks) = %d, want 4\n%s", len(m.Blocks), m)
	}
}

func TestBlockMapDiamond(t *testing.T) {
	a := bytecode.NewAssembler()
	els := a.NewLabel()
	a.Load(bytecode.OpIload, 0).
		Branch(bytecode.OpIfeq, els).
		Emit(bytecode.OpIconst1).
		Emit(bytecode.OpIreturn).
		Bind(els).
		Emit(bytecode.OpIconst0).
		Emit(bytecode.OpIreturn)
	m := mustBuild(t, a.MustBytes())

	entry := m.Entry()
	if entry.EndBCI != 1 {
		t.Errorf("entry.EndBCI = %d, want 1", entry.EndBCI)
	}
	if len(entry.Successors) != 2 {
		t.Fatalf("entry successors = %v, want 2", entry.Successors)
	}
	if got := m.Successor(entry, 0).StartBCI; got != 6 {
		t.Errorf("taken successor starts at %d, want 6", got)
	}
	if got := m.Successor(entry, 1).StartBCI; got != 4 {
		t.Errorf("fall-through successor starts at %d, want 4", got)
	}
	if len(m.Order) != 3 || m.Order[0] != entry.ID {
		t.Errorf("Order = %v, want 3 blocks starting with entry", m.Order)
	}
}

func TestBlockMapLoopSplitsBlock(t *testing.T) {
	a := bytecode.NewAssembler()
	top := a.NewLabel()
	a.Emit(bytecode.OpIconst0).
		Store(bytecode.OpIstore, 0).
		Bind(top).
		Iinc(0, 1).
		Load(bytecode.OpIload, 0).
		Push(10).
		Branch(bytecode.OpIfIcmplt, top).
		Emit(bytecode.OpReturn)
	m := mustBuild(t, a.MustBytes())

	entry := m.Entry()
	if entry.EndBCI != 1 {
		t.Errorf("entry.EndBCI = %d, want 1 after split", entry.EndBCI)
	}
	header := m.BlockAt(2)
	if header == entry || header.StartBCI != 2 {
		t.Fatalf("no block starts at 2: %v", m)
	}
	if !header.IsLoopHeader {
		t.Errorf("block at 2 is not a loop header")
	}
	if !header.IsLoopEnd {
		t.Errorf("block at 2 is not a loop end")
	}
	if len(entry.Successors) != 1 || entry.Successors[0] != header.ID {
		t.Errorf("entry successors = %v, want [%d]", entry.Successors, header.ID)
	}
	if m.LoopCount != 1 {
		t.Errorf("LoopCount = %d, want 1", m.LoopCount)
	}
	if got := m.LoopHeaders(); len(got) != 1 || got[0] != 2 {
		t.Errorf("LoopHeaders() = %v, want [2]", got)
	}
	if header.Loops != 1 {
		t.Errorf("header.Loops = %#x, want 0x1", header.Loops)
	}
	exit := m.BlockAt(len(m.Code()) - 1)
	if exit.Loops != 0 {
		t.Errorf("exit.Loops = %#x, want 0", exit.Loops)
	}
}

func TestBlockMapExceptionDispatch(t *testing.T) {
	a := bytecode.NewAssembler()
	a.Load(bytecode.OpAload, 0).
		EmitU16(bytecode.OpInvokevirtual, 7).
		Emit(bytecode.OpReturn)
	catchIO := a.PC()
	a.Emit(bytecode.OpPop).Emit(bytecode.OpReturn)
	catchAll := a.PC()
	a.Emit(bytecode.OpAthrow)

	m := mustBuild(t, a.MustBytes(),
		Handler{StartPC: 0, EndPC: 4, HandlerPC: catchIO, CatchType: "java/io/IOException"},
		Handler{StartPC: 0, EndPC: 4, HandlerPC: catchAll},
	)

	if !m.CanTrapAt(1) {
		t.Errorf("CanTrapAt(1) = false, want true")
	}
	if m.CanTrapAt(0) {
		t.Errorf("CanTrapAt(0) = true, want false")
	}
	entry := m.Entry()
	if !entry.HasHandlers {
		t.Errorf("entry.HasHandlers = false")
	}
	if entry.NormalSuccessors != 0 || len(entry.Successors) != 1 {
		t.Fatalf("entry successors = %v (normal %d), want one dispatch", entry.Successors, entry.NormalSuccessors)
	}
	d := m.Successor(entry, 0)
	if !d.IsDispatch() || d.Handler.CatchType != "java/io/IOException" {
		t.Fatalf("first dispatch = %+v", d)
	}
	if len(d.Successors) != 2 {
		t.Fatalf("dispatch successors = %v, want 2", d.Successors)
	}
	if got := m.Successor(d, 0).StartBCI; got != catchIO {
		t.Errorf("dispatch handler starts at %d, want %d", got, catchIO)
	}
	// The catch-all ends the chain with the handler block itself.
	last := m.Successor(d, 1)
	if last.IsDispatch() || last.StartBCI != catchAll || !last.IsExceptionEntry {
		t.Errorf("chain tail = %+v, want handler block at %d", last, catchAll)
	}
}

func TestBlockMapUnreachableBlock(t *testing.T) {
	a := bytecode.NewAssembler()
	end := a.NewLabel()
	a.Branch(bytecode.OpGoto, end).
		Emit(bytecode.OpIconst0).
		Emit(bytecode.OpPop).
		Bind(end).
		Emit(bytecode.OpReturn)
	m := mustBuild(t, a.MustBytes())

	dead := m.BlockAt(3)
	if dead == nil {
		t.Fatal("BlockAt(3) = nil")
	}
	for _, id := range m.Order {
		if id == dead.ID {
			t.Errorf("unreachable block %d is in Order %v", id, m.Order)
		}
	}
	if len(m.Order) != 2 {
		t.Errorf("len(Order) = %d, want 2", len(m.Order))
	}
}

func TestBlockMapNonReducible(t *testing.T) {
	a := bytecode.NewAssembler()
	first, second := a.NewLabel(), a.NewLabel()
	a.Load(bytecode.OpIload, 0).
		Branch(bytecode.OpIfeq, second).
		Bind(first).
		Iinc(0, 1).
		Bind(second).
		Iinc(0, -1).
		Load(bytecode.OpIload, 0).
		Branch(bytecode.OpIfne, first).
		Emit(bytecode.OpReturn)

	_, err := BuildBlockMap(a.MustBytes(), nil)
	var b *Bailout
	if !errors.As(err, &b) {
		t.Fatalf("err = %v, want *Bailout", err)
	}
	if b.Reason != "non-reducible loop" {
		t.Errorf("Reason = %q", b.Reason)
	}
}

func TestBlockMapTooManyLoops(t *testing.T) {
	a := bytecode.NewAssembler()
	for i := 0; i < MaxLoops+1; i++ {
		top := a.NewLabel()
		a.Bind(top).
			Iinc(0, -1).
			Load(bytecode.OpIload, 0).
			Branch(bytecode.OpIfne, top)
	}
	a.Emit(bytecode.OpReturn)

	_, err := BuildBlockMap(a.MustBytes(), nil)
	var b *Bailout
	if !errors.As(err, &b) {
		t.Fatalf("err = %v, want *Bailout", err)
	}
}

func TestBlockMapExactlyMaxLoops(t *testing.T) {
	a := bytecode.NewAssembler()
	for i := 0; i < MaxLoops; i++ {
		top := a.NewLabel()
		a.Bind(top).
			Iinc(0, -1).
			Load(bytecode.OpIload, 0).
			Branch(bytecode.OpIfne, top)
	}
	a.Emit(bytecode.OpReturn)

	m := mustBuild(t, a.MustBytes())
	if m.LoopCount != MaxLoops {
		t.Errorf("LoopCount = %d, want %d", m.LoopCount, MaxLoops)
	}
}

func TestBlockMapSubroutineBailsOut(t *testing.T) {
	a := bytecode.NewAssembler()
	sub := a.NewLabel()
	a.Branch(bytecode.OpJsr, sub).
		Emit(bytecode.OpReturn).
		Bind(sub).
		Store(bytecode.OpAstore, 1).
		Emit(bytecode.OpRet, 1)

	_, err := BuildBlockMap(a.MustBytes(), nil)
	var b *Bailout
	if !errors.As(err, &b) {
		t.Fatalf("err = %v, want *Bailout", err)
	}
}

func TestBlockMapMalformed(t *testing.T) {
	tests := []struct {
		name string
		code []byte
	}{
		{"empty", nil},
		{"branch past end", []byte{byte(bytecode.OpGoto), 0x00, 0x10}},
		{"branch into operand", []byte{byte(bytecode.OpGoto), 0x00, 0x04, byte(bytecode.OpBipush), 5, byte(bytecode.OpReturn)}},
		{"truncated", []byte{byte(bytecode.OpSipush), 1}},
		{"conditional falls off", []byte{byte(bytecode.OpIconst0), byte(bytecode.OpIfeq), 0xff, 0xff}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildBlockMap(tt.code, nil)
			if err == nil {
				t.Fatal("BuildBlockMap succeeded, want error")
			}
			var b *Bailout
			if errors.As(err, &b) {
				t.Errorf("err = %v, want a malformed-code error, not a bailout", err)
			}
		})
	}
}

type genInstr struct {
	op     bytecode.Opcode
	target int
}

// genProgram draws a method of n instructions whose branches target
// instruction starts. The last instruction is a return so control never
// falls off the end.
func genProgram(t *rapid.T) ([]byte, []genInstr) {
	n := rapid.IntRange(1, 40).Draw(t, "n")
	kinds := []bytecode.Opcode{
		bytecode.OpNop, bytecode.OpIload0, bytecode.OpPop, bytecode.OpSipush,
		bytecode.OpIfeq, bytecode.OpIfIcmplt, bytecode.OpGoto, bytecode.OpIreturn,
	}
	prog := make([]genInstr, n)
	for i := range prog {
		op := rapid.SampledFrom(kinds).Draw(t, "op")
		if i == n-1 {
			op = bytecode.OpReturn
		}
		prog[i] = genInstr{op: op, target: rapid.IntRange(0, n-1).Draw(t, "target")}
	}

	a := bytecode.NewAssembler()
	labels := make([]bytecode.Label, n)
	for i := range labels {
		labels[i] = a.NewLabel()
	}
	for i, in := range prog {
		a.Bind(labels[i])
		switch {
		case in.op.IsConditionalBranch() || in.op.IsGoto():
			a.Branch(in.op, labels[in.target])
		case in.op == bytecode.OpSipush:
			a.EmitU16(in.op, 300)
		default:
			a.Emit(in.op)
		}
	}
	return a.MustBytes(), prog
}

func TestBlockMapSoundness(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		code, _ := genProgram(t)
		// Partitioning is checked on every program, reducible or not.
		m, err := partition(code, nil)
		if err != nil {
			t.Fatalf("partition: %v", err)
		}

		entries := 0
		for _, b := range m.Blocks {
			if b.StartBCI == 0 {
				entries++
			}
		}
		if entries != 1 {
			t.Fatalf("%d blocks start at 0", entries)
		}

		for bci := range code {
			b := m.BlockAt(bci)
			if b == nil {
				t.Fatalf("offset %d has no block", bci)
			}
			// The owning block's last instruction must cover bci.
			last, err := bytecode.Decode(code, b.EndBCI)
			if err != nil {
				t.Fatalf("decode end of block %d: %v", b.ID, err)
			}
			if bci < b.StartBCI || bci >= last.Next() {
				t.Fatalf("offset %d outside its block [%d..%d]", bci, b.StartBCI, b.EndBCI)
			}
		}

		for _, b := range m.Blocks {
			if m.BlockAt(b.StartBCI) != b {
				t.Fatalf("block %d does not own its start %d", b.ID, b.StartBCI)
			}
			in, err := bytecode.Decode(code, b.EndBCI)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			var want []int
			switch {
			case in.Op.IsReturn():
			case in.Op.IsGoto():
				want = []int{in.Target}
			case in.Op.IsConditionalBranch():
				want = []int{in.Target, in.Next()}
			default:
				want = []int{in.Next()}
			}
			if len(b.Successors) != len(want) {
				t.Fatalf("block %d [%d..%d] successors %v, want starts %v", b.ID, b.StartBCI, b.EndBCI, b.Successors, want)
			}
			for i, pc := range want {
				if s := m.Successor(b, i); s.StartBCI != pc {
					t.Fatalf("block %d successor %d starts at %d, want %d", b.ID, i, s.StartBCI, pc)
				}
			}
		}

		full, err := BuildBlockMap(code, nil)
		var b *Bailout
		switch {
		case errors.As(err, &b):
		case err != nil:
			t.Fatalf("BuildBlockMap: %v", err)
		default:
			if full.Order[0] != full.Entry().ID {
				t.Fatalf("Order starts with %d, want entry %d", full.Order[0], full.Entry().ID)
			}
			// Reverse postorder: every forward edge goes to a later block.
			pos := make(map[int]int, len(full.Order))
			for i, id := range full.Order {
				pos[id] = i
			}
			for _, id := range full.Order {
				blk := full.Blocks[id]
				for _, s := range blk.Successors {
					if pos[s] <= pos[id] && !full.Blocks[s].IsLoopHeader {
						t.Fatalf("edge B%d -> B%d goes backward to a non-header\n%s", id, s, full)
					}
				}
			}
		}
	})
}
