package vm

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fxamacker/cbor/v2"
)

// ---------------------------------------------------------------------------
// Context snapshots
// ---------------------------------------------------------------------------

// SnapshotValue is a tagged value with references replaced by object
// handles.
type SnapshotValue struct {
	Kind   string  `cbor:"1,keyasint"`
	Int    int64   `cbor:"2,keyasint,omitempty"`
	Float  float64 `cbor:"3,keyasint,omitempty"`
	Object uint64  `cbor:"4,keyasint,omitempty"` // 0 is null
}

// SnapshotObject describes an object referenced from a frame.
type SnapshotObject struct {
	Class  string `cbor:"1,keyasint"`
	Length int    `cbor:"2,keyasint,omitempty"`
	Text   string `cbor:"3,keyasint,omitempty"`
}

// SnapshotFrame is one frame, bottom first in Snapshot.Frames.
type SnapshotFrame struct {
	Method string          `cbor:"1,keyasint"`
	PC     int             `cbor:"2,keyasint"`
	OpPC   int             `cbor:"3,keyasint"`
	Locals []SnapshotValue `cbor:"4,keyasint"`
	Stack  []SnapshotValue `cbor:"5,keyasint"`
	Locked bool            `cbor:"6,keyasint,omitempty"`
}

// Snapshot is a diagnostic image of a context.
type Snapshot struct {
	VM      string                    `cbor:"1,keyasint"`
	Thread  uint64                    `cbor:"2,keyasint"`
	Name    string                    `cbor:"3,keyasint"`
	State   string                    `cbor:"4,keyasint"`
	Frames  []SnapshotFrame           `cbor:"5,keyasint"`
	Objects map[uint64]SnapshotObject `cbor:"6,keyasint,omitempty"`
	Fatal   string                    `cbor:"7,keyasint,omitempty"`
}

var snapshotEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("vm: failed to create CBOR enc mode: %v", err))
	}
	snapshotEncMode = em
}

// SnapshotContext captures the frames of ctx.
func SnapshotContext(ctx *Context) *Snapshot {
	s := &Snapshot{
		VM:     ctx.vm.ID.String(),
		Thread: ctx.ID,
		Name:   ctx.Name,
		State:  ctx.state.String(),
	}
	if ctx.fatal != nil {
		s.Fatal = ctx.fatal.Error()
	}
	for _, f := range ctx.frames {
		s.Frames = append(s.Frames, SnapshotFrame{
			Method: f.Method.Key(),
			PC:     f.PC,
			OpPC:   f.OpPC,
			Locals: s.values(f.Locals),
			Stack:  s.values(f.Stack),
			Locked: f.locked,
		})
	}
	return s
}

// Snapshot captures the frames of ctx.
func (ctx *Context) Snapshot() *Snapshot { return SnapshotContext(ctx) }

func (s *Snapshot) values(vs []Value) []SnapshotValue {
	out := make([]SnapshotValue, len(vs))
	for i, v := range vs {
		sv := SnapshotValue{Kind: v.K.String()}
		switch v.K {
		case KindInt, KindLong:
			sv.Int = v.I
		case KindFloat, KindDouble:
			sv.Float = v.F
		case KindRef:
			if o := v.R; o != nil {
				sv.Object = o.id
				s.addObject(o)
			}
		}
		out[i] = sv
	}
	return out
}

func (s *Snapshot) addObject(o *Object) {
	if s.Objects == nil {
		s.Objects = make(map[uint64]SnapshotObject)
	}
	if _, ok := s.Objects[o.id]; ok {
		return
	}
	so := SnapshotObject{Class: o.Class.Name, Text: o.Str}
	if o.IsArray() {
		so.Length = len(o.Elems)
	}
	s.Objects[o.id] = so
}

// Marshal encodes s in canonical CBOR.
func (s *Snapshot) Marshal() ([]byte, error) {
	return snapshotEncMode.Marshal(s)
}

// UnmarshalSnapshot decodes a snapshot written by Marshal.
func UnmarshalSnapshot(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := cbor.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("vm: unmarshal snapshot: %w", err)
	}
	return &s, nil
}

// writeDump stores s under the configured dump directory and returns the
// file written, or "" when dumps are disabled.
func (vm *VM) writeDump(s *Snapshot) (string, error) {
	if vm.opts.DumpDir == "" {
		return "", nil
	}
	data, err := s.Marshal()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(vm.opts.DumpDir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(vm.opts.DumpDir, fmt.Sprintf("%s-thread%d.cbor", vm.ID, s.Thread))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}
