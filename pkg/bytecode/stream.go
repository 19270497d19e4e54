package bytecode

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	// ErrTruncated is returned when an instruction runs past the end of the code.
	ErrTruncated = errors.New("bytecode: truncated instruction")
	// ErrBadOpcode is returned for bytes that are not JVM opcodes.
	ErrBadOpcode = errors.New("bytecode: undefined opcode")
)

// Switch holds the decoded operands of a tableswitch or lookupswitch.
// Targets are absolute bytecode offsets.
type Switch struct {
	Default int
	Low     int32   // tableswitch only
	Keys    []int32 // lookupswitch only
	Targets []int
}

// Lookup returns the branch target for key.
func (s *Switch) Lookup(key int32) int {
	if s.Keys == nil {
		idx := int64(key) - int64(s.Low)
		if idx < 0 || idx >= int64(len(s.Targets)) {
			return s.Default
		}
		return s.Targets[idx]
	}
	lo, hi := 0, len(s.Keys)-1
	for lo <= hi {
		mid := (lo + hi) / 2
		switch k := s.Keys[mid]; {
		case k == key:
			return s.Targets[mid]
		case k < key:
			lo = mid + 1
		default:
			hi = mid - 1
		}
	}
	return s.Default
}

// Successors returns each distinct target once, in order of first
// appearance among the cases, then the default.
func (s *Switch) Successors() []int {
	out := make([]int, 0, len(s.Targets)+1)
	seen := make(map[int]bool, len(s.Targets)+1)
	add := func(t int) {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	for _, t := range s.Targets {
		add(t)
	}
	add(s.Default)
	return out
}

// Instruction is one decoded instruction. Short forms such as iload_2 are
// normalized so that Index carries the implied local slot.
type Instruction struct {
	PC     int
	Op     Opcode
	Len    int
	Wide   bool  // operands were widened by a wide prefix
	Index  int   // local slot, or constant-pool index
	Value  int32 // bipush/sipush immediate, iinc delta, newarray type, dims, or interface arg count
	Target int   // absolute branch target for IF*, goto and jsr
	Switch *Switch
}

// Next returns the offset of the following instruction.
func (in Instruction) Next() int { return in.PC + in.Len }

func (in Instruction) String() string {
	switch {
	case in.Op.IsConditionalBranch() || in.Op.IsGoto():
		return fmt.Sprintf("%d: %s %d", in.PC, in.Op, in.Target)
	case in.Switch != nil:
		return fmt.Sprintf("%d: %s default=%d cases=%d", in.PC, in.Op, in.Switch.Default, len(in.Switch.Targets))
	case in.Op.OperandLen() == 0 && !in.Wide:
		return fmt.Sprintf("%d: %s", in.PC, in.Op)
	}
	return fmt.Sprintf("%d: %s #%d %d", in.PC, in.Op, in.Index, in.Value)
}

func switchPad(pc int) int {
	return (4 - (pc+1)%4) % 4
}

func readS32(code []byte, at int) (int32, error) {
	if at+4 > len(code) {
		return 0, ErrTruncated
	}
	return int32(binary.BigEndian.Uint32(code[at:])), nil
}

// LengthAt returns the length in bytes of the instruction at pc.
func LengthAt(code []byte, pc int) (int, error) {
	if pc < 0 || pc >= len(code) {
		return 0, ErrTruncated
	}
	op := Opcode(code[pc])
	if !op.IsDefined() {
		return 0, fmt.Errorf("%w 0x%02x at %d", ErrBadOpcode, byte(op), pc)
	}
	var n int
	switch op {
	case OpTableswitch:
		base := pc + 1 + switchPad(pc)
		lo, err := readS32(code, base+4)
		if err != nil {
			return 0, err
		}
		hi, err := readS32(code, base+8)
		if err != nil {
			return 0, err
		}
		if hi < lo {
			return 0, fmt.Errorf("bytecode: tableswitch at %d has high %d < low %d", pc, hi, lo)
		}
		n = base + 12 + 4*int(int64(hi)-int64(lo)+1) - pc
	case OpLookupswitch:
		base := pc + 1 + switchPad(pc)
		npairs, err := readS32(code, base+4)
		if err != nil {
			return 0, err
		}
		if npairs < 0 {
			return 0, fmt.Errorf("bytecode: lookupswitch at %d has %d pairs", pc, npairs)
		}
		n = base + 8 + 8*int(npairs) - pc
	case OpWide:
		if pc+1 >= len(code) {
			return 0, ErrTruncated
		}
		if Opcode(code[pc+1]) == OpIinc {
			n = 6
		} else {
			n = 4
		}
	default:
		n = 1 + op.OperandLen()
	}
	if pc+n > len(code) {
		return 0, ErrTruncated
	}
	return n, nil
}

// Decode decodes the instruction at pc.
func Decode(code []byte, pc int) (Instruction, error) {
	n, err := LengthAt(code, pc)
	if err != nil {
		return Instruction{}, err
	}
	in := Instruction{PC: pc, Op: Opcode(code[pc]), Len: n}
	u8 := func(at int) int { return int(code[at]) }
	u16 := func(at int) int { return int(binary.BigEndian.Uint16(code[at:])) }
	s16 := func(at int) int32 { return int32(int16(binary.BigEndian.Uint16(code[at:]))) }

	switch op := in.Op; {
	case op == OpBipush:
		in.Value = int32(int8(code[pc+1]))
	case op == OpSipush:
		in.Value = s16(pc + 1)
	case op == OpLdc:
		in.Index = u8(pc + 1)
	case op == OpLdcW || op == OpLdc2W:
		in.Index = u16(pc + 1)
	case op >= OpIload && op <= OpAload, op >= OpIstore && op <= OpAstore, op == OpRet:
		in.Index = u8(pc + 1)
	case op >= OpIload0 && op <= OpAload3:
		in.Index = int(op-OpIload0) % 4
	case op >= OpIstore0 && op <= OpAstore3:
		in.Index = int(op-OpIstore0) % 4
	case op == OpIinc:
		in.Index = u8(pc + 1)
		in.Value = int32(int8(code[pc+2]))
	case op.IsConditionalBranch() || op == OpGoto || op == OpJsr:
		in.Target = pc + int(s16(pc+1))
	case op == OpGotoW || op == OpJsrW:
		off, _ := readS32(code, pc+1)
		in.Target = pc + int(off)
	case op == OpTableswitch:
		base := pc + 1 + switchPad(pc)
		def, _ := readS32(code, base)
		lo, _ := readS32(code, base+4)
		hi, _ := readS32(code, base+8)
		sw := &Switch{Default: pc + int(def), Low: lo}
		for i := int64(0); i <= int64(hi)-int64(lo); i++ {
			off, _ := readS32(code, base+12+4*int(i))
			sw.Targets = append(sw.Targets, pc+int(off))
		}
		in.Switch = sw
	case op == OpLookupswitch:
		base := pc + 1 + switchPad(pc)
		def, _ := readS32(code, base)
		npairs, _ := readS32(code, base+4)
		sw := &Switch{Default: pc + int(def), Keys: make([]int32, 0, npairs)}
		for i := 0; i < int(npairs); i++ {
			key, _ := readS32(code, base+8+8*i)
			off, _ := readS32(code, base+12+8*i)
			sw.Keys = append(sw.Keys, key)
			sw.Targets = append(sw.Targets, pc+int(off))
		}
		in.Switch = sw
	case op == OpGetstatic || op == OpPutstatic || op == OpGetfield || op == OpPutfield,
		op == OpInvokevirtual || op == OpInvokespecial || op == OpInvokestatic,
		op == OpNew || op == OpAnewarray || op == OpCheckcast || op == OpInstanceof:
		in.Index = u16(pc + 1)
	case op == OpInvokeinterface:
		in.Index = u16(pc + 1)
		in.Value = int32(code[pc+3])
	case op == OpInvokedynamic:
		in.Index = u16(pc + 1)
	case op == OpNewarray:
		in.Value = int32(code[pc+1])
	case op == OpMultianewarray:
		in.Index = u16(pc + 1)
		in.Value = int32(code[pc+3])
	case op == OpWide:
		in.Wide = true
		in.Op = Opcode(code[pc+1])
		in.Index = u16(pc + 2)
		if in.Op == OpIinc {
			in.Value = s16(pc + 4)
		} else if !((in.Op >= OpIload && in.Op <= OpAload) || (in.Op >= OpIstore && in.Op <= OpAstore) || in.Op == OpRet) {
			return Instruction{}, fmt.Errorf("bytecode: wide cannot modify %s at %d", in.Op, pc)
		}
	}
	return in, nil
}

// Stream iterates over the instructions of a method in address order.
//
//	s := bytecode.NewStream(code)
//	for s.Next() {
//	    in := s.Instr()
//	}
//	if err := s.Err(); err != nil { ... }
type Stream struct {
	code []byte
	pc   int
	cur  Instruction
	err  error
}

// NewStream creates a stream positioned before the first instruction.
func NewStream(code []byte) *Stream {
	return &Stream{code: code}
}

// Next decodes the next instruction. It returns false at the end of the
// code or on a decoding error.
func (s *Stream) Next() bool {
	if s.err != nil || s.pc >= len(s.code) {
		return false
	}
	in, err := Decode(s.code, s.pc)
	if err != nil {
		s.err = err
		return false
	}
	s.cur = in
	s.pc = in.Next()
	return true
}

// Instr returns the instruction decoded by the last call to Next.
func (s *Stream) Instr() Instruction { return s.cur }

// Err returns the first decoding error, if any.
func (s *Stream) Err() error { return s.err }

// DecodeAll decodes every instruction in code.
func DecodeAll(code []byte) ([]Instruction, error) {
	var out []Instruction
	s := NewStream(code)
	for s.Next() {
		out = append(out, s.Instr())
	}
	return out, s.Err()
}
