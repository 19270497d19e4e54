package hash

import (
	"encoding/binary"
	"fmt"

	"github.com/chazu/cldc/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// Deterministic binary serialization of a method body.
//
// Encoding conventions:
//   - First byte: HashVersion
//   - Integers: big-endian int32
//   - Strings: uint32 big-endian length + UTF-8 bytes
//   - Pool operands are replaced by their symbolic description
//   - Branch targets are stored relative to the branching instruction
// ---------------------------------------------------------------------------

// Serialize produces the byte stream that HashMethod hashes.
func Serialize(b Body, pool Pool) ([]byte, error) {
	s := &serializer{buf: make([]byte, 0, 2*len(b.Code)+64)}
	s.writeByte(HashVersion)
	s.writeByte(TagKey)
	s.writeString(b.Key)
	s.writeByte(TagMaxStack)
	s.writeInt(b.MaxStack)
	s.writeByte(TagMaxLocals)
	s.writeInt(b.MaxLocals)

	st := bytecode.NewStream(b.Code)
	for st.Next() {
		s.serializeInstr(st.Instr(), pool)
	}
	if err := st.Err(); err != nil {
		return nil, fmt.Errorf("hash: %s: %w", b.Key, err)
	}
	for _, h := range b.Handlers {
		s.writeByte(TagHandler)
		s.writeInt(h.StartPC)
		s.writeInt(h.EndPC)
		s.writeInt(h.HandlerPC)
		s.writeString(h.CatchType)
	}
	s.writeByte(TagEnd)
	return s.buf, nil
}

type serializer struct {
	buf []byte
}

func (s *serializer) writeByte(b byte) {
	s.buf = append(s.buf, b)
}

func (s *serializer) writeInt(v int) {
	s.buf = binary.BigEndian.AppendUint32(s.buf, uint32(int32(v)))
}

func (s *serializer) writeString(v string) {
	s.buf = binary.BigEndian.AppendUint32(s.buf, uint32(len(v)))
	s.buf = append(s.buf, v...)
}

func (s *serializer) serializeInstr(in bytecode.Instruction, pool Pool) {
	op := in.Op
	switch {
	case in.Switch != nil:
		s.writeByte(TagSwitch)
		s.writeByte(byte(op))
		s.writeInt(in.Switch.Default - in.PC)
		s.writeInt(len(in.Switch.Targets))
		for i, t := range in.Switch.Targets {
			key := int(in.Switch.Low) + i
			if in.Switch.Keys != nil {
				key = int(in.Switch.Keys[i])
			}
			s.writeInt(key)
			s.writeInt(t - in.PC)
		}
	case op.IsConditionalBranch() || op.IsGoto() || op == bytecode.OpJsr || op == bytecode.OpJsrW:
		s.writeByte(TagBranch)
		s.writeByte(byte(op))
		s.writeInt(in.Target - in.PC)
	case usesPool(op):
		s.writeByte(TagPoolRef)
		s.writeByte(byte(op))
		desc := ""
		if pool != nil {
			desc = pool.Describe(in.Index)
		}
		if desc == "" {
			desc = fmt.Sprintf("#%d", in.Index)
		}
		s.writeString(desc)
		s.writeInt(int(in.Value))
	default:
		s.writeByte(TagInstr)
		s.writeByte(byte(op))
		if in.Wide {
			s.writeByte(1)
		}
		s.writeInt(in.Index)
		s.writeInt(int(in.Value))
	}
}

func usesPool(op bytecode.Opcode) bool {
	switch op {
	case bytecode.OpLdc, bytecode.OpLdcW, bytecode.OpLdc2W,
		bytecode.OpGetstatic, bytecode.OpPutstatic, bytecode.OpGetfield, bytecode.OpPutfield,
		bytecode.OpInvokevirtual, bytecode.OpInvokespecial, bytecode.OpInvokestatic,
		bytecode.OpInvokeinterface, bytecode.OpInvokedynamic,
		bytecode.OpNew, bytecode.OpAnewarray, bytecode.OpCheckcast, bytecode.OpInstanceof,
		bytecode.OpMultianewarray:
		return true
	}
	return false
}
