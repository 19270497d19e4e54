package bytecode

import (
	"encoding/binary"
	"fmt"
)

// Label is a branch target created by Assembler.NewLabel.
type Label int

type fixup struct {
	at    int // byte offset of the offset field
	from  int // pc of the branching instruction
	label Label
	wide  bool
}

// Assembler builds a method body.
type Assembler struct {
	code   []byte
	labels []int
	fixups []fixup
}

// NewAssembler creates an empty assembler.
func NewAssembler() *Assembler {
	return &Assembler{}
}

// PC returns the offset of the next emitted instruction.
func (a *Assembler) PC() int { return len(a.code) }

// NewLabel allocates an unbound label.
func (a *Assembler) NewLabel() Label {
	a.labels = append(a.labels, -1)
	return Label(len(a.labels) - 1)
}

// Bind binds l to the current offset.
func (a *Assembler) Bind(l Label) *Assembler {
	a.labels[l] = len(a.code)
	return a
}

// Emit appends an opcode followed by raw operand bytes.
func (a *Assembler) Emit(op Opcode, operands ...byte) *Assembler {
	a.code = append(a.code, byte(op))
	a.code = append(a.code, operands...)
	return a
}

// EmitU16 appends an opcode with a 16-bit operand (pool index or sipush).
func (a *Assembler) EmitU16(op Opcode, v int) *Assembler {
	a.code = append(a.code, byte(op), byte(v>>8), byte(v))
	return a
}

// Push emits the shortest instruction pushing the int constant v.
func (a *Assembler) Push(v int32) *Assembler {
	switch {
	case v >= -1 && v <= 5:
		return a.Emit(OpIconst0 + Opcode(v))
	case v >= -128 && v <= 127:
		return a.Emit(OpBipush, byte(int8(v)))
	case v >= -32768 && v <= 32767:
		return a.EmitU16(OpSipush, int(uint16(int16(v))))
	}
	panic(fmt.Sprintf("bytecode: Push(%d) needs an ldc", v))
}

// Load emits xload for slot, using the short form when possible. op must be
// one of OpIload, OpLload, OpFload, OpDload or OpAload.
func (a *Assembler) Load(op Opcode, slot int) *Assembler {
	if slot <= 3 {
		return a.Emit(OpIload0 + Opcode(int(op-OpIload)*4+slot))
	}
	return a.local(op, slot)
}

// Store emits xstore for slot, using the short form when possible.
func (a *Assembler) Store(op Opcode, slot int) *Assembler {
	if slot <= 3 {
		return a.Emit(OpIstore0 + Opcode(int(op-OpIstore)*4+slot))
	}
	return a.local(op, slot)
}

func (a *Assembler) local(op Opcode, slot int) *Assembler {
	if slot > 255 {
		a.code = append(a.code, byte(OpWide), byte(op), byte(slot>>8), byte(slot))
		return a
	}
	return a.Emit(op, byte(slot))
}

// Iinc emits iinc slot, delta.
func (a *Assembler) Iinc(slot int, delta int8) *Assembler {
	return a.Emit(OpIinc, byte(slot), byte(delta))
}

// Branch emits a conditional branch, goto or goto_w to l.
func (a *Assembler) Branch(op Opcode, l Label) *Assembler {
	pc := len(a.code)
	a.code = append(a.code, byte(op))
	wide := op == OpGotoW || op == OpJsrW
	a.fixups = append(a.fixups, fixup{at: len(a.code), from: pc, label: l, wide: wide})
	if wide {
		a.code = append(a.code, 0, 0, 0, 0)
	} else {
		a.code = append(a.code, 0, 0)
	}
	return a
}

// TableSwitch emits a tableswitch covering low..low+len(cases)-1.
func (a *Assembler) TableSwitch(low int32, def Label, cases ...Label) *Assembler {
	pc := len(a.code)
	a.code = append(a.code, byte(OpTableswitch))
	for i := 0; i < switchPad(pc); i++ {
		a.code = append(a.code, 0)
	}
	a.switchTarget(pc, def)
	a.code = binary.BigEndian.AppendUint32(a.code, uint32(low))
	a.code = binary.BigEndian.AppendUint32(a.code, uint32(low+int32(len(cases))-1))
	for _, l := range cases {
		a.switchTarget(pc, l)
	}
	return a
}

// LookupSwitch emits a lookupswitch. keys must be sorted ascending.
func (a *Assembler) LookupSwitch(def Label, keys []int32, cases []Label) *Assembler {
	pc := len(a.code)
	a.code = append(a.code, byte(OpLookupswitch))
	for i := 0; i < switchPad(pc); i++ {
		a.code = append(a.code, 0)
	}
	a.switchTarget(pc, def)
	a.code = binary.BigEndian.AppendUint32(a.code, uint32(len(keys)))
	for i, k := range keys {
		a.code = binary.BigEndian.AppendUint32(a.code, uint32(k))
		a.switchTarget(pc, cases[i])
	}
	return a
}

func (a *Assembler) switchTarget(pc int, l Label) {
	a.fixups = append(a.fixups, fixup{at: len(a.code), from: pc, label: l, wide: true})
	a.code = append(a.code, 0, 0, 0, 0)
}

// Bytes resolves labels and returns the method body.
func (a *Assembler) Bytes() ([]byte, error) {
	out := make([]byte, len(a.code))
	copy(out, a.code)
	for _, f := range a.fixups {
		target := a.labels[f.label]
		if target < 0 {
			return nil, fmt.Errorf("bytecode: label %d never bound", f.label)
		}
		off := target - f.from
		if f.wide {
			binary.BigEndian.PutUint32(out[f.at:], uint32(int32(off)))
			continue
		}
		if off < -32768 || off > 32767 {
			return nil, fmt.Errorf("bytecode: branch at %d out of range", f.from)
		}
		binary.BigEndian.PutUint16(out[f.at:], uint16(int16(off)))
	}
	return out, nil
}

// MustBytes is Bytes for code known to be well formed.
func (a *Assembler) MustBytes() []byte {
	b, err := a.Bytes()
	if err != nil {
		panic(err)
	}
	return b
}
