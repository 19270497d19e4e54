package compiler

import (
	"fmt"
	"math/bits"
	"strings"

	"github.com/bits-and-blooms/bitset"

	"github.com/chazu/cldc/pkg/bytecode"
)

// MaxLoops is the number of distinct loops a method may contain before
// compilation gives up. Loop membership is a uint32 bit mask.
const MaxLoops = 32

// Handler is one exception-table entry. CatchType "" catches everything.
type Handler struct {
	StartPC   int
	EndPC     int
	HandlerPC int
	CatchType string
}

// CatchAll reports whether h catches every throwable.
func (h Handler) CatchAll() bool { return h.CatchType == "" }

// Covers reports whether pc lies in the protected range.
func (h Handler) Covers(pc int) bool { return h.StartPC <= pc && pc < h.EndPC }

// Block is a basic block. Blocks live in BlockMap.Blocks and refer to each
// other by index, so loops are plain index cycles.
type Block struct {
	ID       int
	StartBCI int // -1 for exception-dispatch blocks
	EndBCI   int // offset of the last instruction

	// Successors lists normal successors first (branch targets in
	// instruction order, fall-through last for conditionals), followed
	// by at most one exception-dispatch successor.
	Successors       []int
	NormalSuccessors int
	Predecessors     int

	IsExceptionEntry bool
	IsLoopHeader     bool
	IsLoopEnd        bool
	HasHandlers      bool

	Loops  uint32 // loops this block belongs to
	Exits  uint32 // loops left when control enters this block
	LoopID int    // loop number when IsLoopHeader, else -1

	// Exception-dispatch blocks test one handler and fall to the next.
	Handler  *Handler
	DeoptBCI int

	visited bool
	active  bool
}

// IsDispatch reports whether b is a synthetic exception-dispatch block.
func (b *Block) IsDispatch() bool { return b.Handler != nil }

// Contains reports whether bci belongs to b.
func (b *Block) Contains(bci int) bool {
	return !b.IsDispatch() && b.StartBCI <= bci && bci <= b.EndBCI
}

// BlockMap is the control-flow graph of one method body.
type BlockMap struct {
	Blocks    []*Block // arena, including unreachable and dispatch blocks
	Order     []int    // reachable blocks in reverse postorder
	Handlers  []Handler
	LoopCount int

	code     []byte
	byBCI    []int
	starts   *bitset.BitSet // offsets that begin an instruction
	canTrap  *bitset.BitSet
	dispatch map[string]int
}

// BuildBlockMap partitions code into basic blocks, attaches exception
// dispatch edges, finds loops and orders the reachable blocks. A *Bailout
// error means the method should stay interpreted; any other error means
// the bytecode is malformed.
func BuildBlockMap(code []byte, handlers []Handler) (*BlockMap, error) {
	m, err := partition(code, handlers)
	if err != nil {
		return nil, err
	}
	if err := m.computeBlockOrder(); err != nil {
		return nil, err
	}
	if err := m.fixLoopBits(); err != nil {
		return nil, err
	}
	m.initializeBlockIDs()
	return m, nil
}

// partition splits code into blocks and attaches exception edges.
func partition(code []byte, handlers []Handler) (*BlockMap, error) {
	if len(code) == 0 {
		return nil, fmt.Errorf("compiler: empty method body")
	}
	m := &BlockMap{
		Handlers: handlers,
		code:     code,
		byBCI:    make([]int, len(code)),
		starts:   bitset.New(uint(len(code))),
		canTrap:  bitset.New(uint(len(code))),
		dispatch: make(map[string]int),
	}
	for i := range m.byBCI {
		m.byBCI[i] = -1
	}
	if err := m.makeExceptionEntries(); err != nil {
		return nil, err
	}
	if err := m.iterateOverBytecodes(); err != nil {
		return nil, err
	}
	m.addExceptionEdges()
	return m, nil
}

// Code returns the method body the map was built from.
func (m *BlockMap) Code() []byte { return m.code }

// BlockAt returns the block containing bci, or nil.
func (m *BlockMap) BlockAt(bci int) *Block {
	if bci < 0 || bci >= len(m.byBCI) || m.byBCI[bci] < 0 {
		return nil
	}
	return m.Blocks[m.byBCI[bci]]
}

// Entry returns the method entry block.
func (m *BlockMap) Entry() *Block { return m.BlockAt(0) }

// CanTrapAt reports whether the instruction at bci may throw.
func (m *BlockMap) CanTrapAt(bci int) bool {
	return bci >= 0 && bci < len(m.code) && m.canTrap.Test(uint(bci))
}

// TrapSites returns every offset whose instruction may throw.
func (m *BlockMap) TrapSites() []int {
	var out []int
	for i, ok := m.canTrap.NextSet(0); ok; i, ok = m.canTrap.NextSet(i + 1) {
		out = append(out, int(i))
	}
	return out
}

// LoopHeaders returns the start offsets of all loop headers in block order.
func (m *BlockMap) LoopHeaders() []int {
	var out []int
	for _, id := range m.Order {
		if b := m.Blocks[id]; b.IsLoopHeader && !b.IsDispatch() {
			out = append(out, b.StartBCI)
		}
	}
	return out
}

// IsLoopHeaderBCI reports whether a loop header starts at bci.
func (m *BlockMap) IsLoopHeaderBCI(bci int) bool {
	b := m.BlockAt(bci)
	return b != nil && b.StartBCI == bci && b.IsLoopHeader
}

// Successor returns the i'th successor block of b.
func (m *BlockMap) Successor(b *Block, i int) *Block {
	return m.Blocks[b.Successors[i]]
}

func (m *BlockMap) newBlock(start int) *Block {
	b := &Block{ID: len(m.Blocks), StartBCI: start, EndBCI: start, LoopID: -1, DeoptBCI: -1}
	m.Blocks = append(m.Blocks, b)
	return b
}

func (m *BlockMap) makeExceptionEntries() error {
	for _, h := range m.Handlers {
		if h.HandlerPC < 0 || h.HandlerPC >= len(m.code) {
			return fmt.Errorf("compiler: handler pc %d outside method", h.HandlerPC)
		}
		m.makeBlock(h.HandlerPC).IsExceptionEntry = true
	}
	return nil
}

// makeBlock returns the block starting at bci, splitting an already
// scanned block when a backward branch lands in its middle.
func (m *BlockMap) makeBlock(bci int) *Block {
	idx := m.byBCI[bci]
	if idx < 0 {
		b := m.newBlock(bci)
		m.byBCI[bci] = b.ID
		return b
	}
	old := m.Blocks[idx]
	if old.StartBCI == bci {
		return old
	}
	b := m.newBlock(bci)
	b.EndBCI = old.EndBCI
	b.Successors = append(b.Successors, old.Successors...)
	b.NormalSuccessors = old.NormalSuccessors

	old.EndBCI = m.prevStart(bci)
	old.Successors = []int{b.ID}
	old.NormalSuccessors = 1

	for i := bci; i < len(m.byBCI) && m.byBCI[i] == old.ID; i++ {
		m.byBCI[i] = b.ID
	}
	return b
}

// prevStart returns the start of the instruction before bci.
func (m *BlockMap) prevStart(bci int) int {
	for i := bci - 1; i > 0; i-- {
		if m.starts.Test(uint(i)) {
			return i
		}
	}
	return 0
}

func (m *BlockMap) setSuccessors(predBCI int, succs ...*Block) {
	pred := m.Blocks[m.byBCI[predBCI]]
	pred.Successors = pred.Successors[:0]
	for _, s := range succs {
		pred.Successors = append(pred.Successors, s.ID)
	}
	pred.NormalSuccessors = len(succs)
}

func (m *BlockMap) checkTarget(from, to int) error {
	if to < 0 || to >= len(m.code) {
		return fmt.Errorf("compiler: branch at %d to %d outside method", from, to)
	}
	return nil
}

func (m *BlockMap) iterateOverBytecodes() error {
	var current *Block
	st := bytecode.NewStream(m.code)
	var targets [][2]int
	for st.Next() {
		in := st.Instr()
		bci := in.PC
		m.starts.Set(uint(bci))
		if current == nil || m.byBCI[bci] >= 0 {
			b := m.makeBlock(bci)
			if current != nil {
				m.setSuccessors(current.EndBCI, b)
			}
			current = b
		}
		m.byBCI[bci] = current.ID
		current.EndBCI = bci
		for i := bci + 1; i < in.Next(); i++ {
			m.byBCI[i] = current.ID
		}

		op := in.Op
		switch {
		case op.IsReturn():
			current = nil
		case op == bytecode.OpAthrow:
			current = nil
			m.canTrap.Set(uint(bci))
		case op.IsConditionalBranch():
			current = nil
			if err := m.checkTarget(bci, in.Target); err != nil {
				return err
			}
			if err := m.checkTarget(bci, in.Next()); err != nil {
				return fmt.Errorf("compiler: conditional branch at %d falls off the method", bci)
			}
			targets = append(targets, [2]int{bci, in.Target})
			b1 := m.makeBlock(in.Target)
			b2 := m.makeBlock(in.Next())
			m.setSuccessors(bci, b1, b2)
		case op.IsGoto():
			current = nil
			if err := m.checkTarget(bci, in.Target); err != nil {
				return err
			}
			targets = append(targets, [2]int{bci, in.Target})
			m.setSuccessors(bci, m.makeBlock(in.Target))
		case op.IsSwitch():
			current = nil
			var succs []*Block
			for _, t := range in.Switch.Successors() {
				if err := m.checkTarget(bci, t); err != nil {
					return err
				}
				targets = append(targets, [2]int{bci, t})
				succs = append(succs, m.makeBlock(t))
			}
			m.setSuccessors(bci, succs...)
		case op == bytecode.OpJsr || op == bytecode.OpJsrW || op == bytecode.OpRet:
			return &Bailout{Reason: "subroutine (" + op.String() + ") at " + fmt.Sprint(bci)}
		default:
			if bytecode.CanTrap(op) {
				m.canTrap.Set(uint(bci))
			}
		}
	}
	if err := st.Err(); err != nil {
		return fmt.Errorf("compiler: %w", err)
	}
	for _, t := range targets {
		if !m.starts.Test(uint(t[1])) {
			return fmt.Errorf("compiler: branch at %d targets %d, which is not an instruction", t[0], t[1])
		}
	}
	for _, h := range m.Handlers {
		if !m.starts.Test(uint(h.HandlerPC)) {
			return fmt.Errorf("compiler: handler pc %d is not an instruction", h.HandlerPC)
		}
	}
	return nil
}

// makeExceptionDispatch returns the dispatch chain testing handlers[index:]
// in order. A catch-all handler jumps straight to its handler block.
func (m *BlockMap) makeExceptionDispatch(handlers []int, index, bci int) int {
	h := m.Handlers[handlers[index]]
	if h.CatchAll() {
		return m.byBCI[h.HandlerPC]
	}
	key := fmt.Sprint(handlers[index:])
	if id, ok := m.dispatch[key]; ok {
		return id
	}
	b := m.newBlock(-1)
	b.EndBCI = -1
	b.DeoptBCI = bci
	b.Handler = &m.Handlers[handlers[index]]
	m.dispatch[key] = b.ID
	b.Successors = append(b.Successors, m.byBCI[h.HandlerPC])
	if index < len(handlers)-1 {
		b.Successors = append(b.Successors, m.makeExceptionDispatch(handlers, index+1, bci))
	}
	b.NormalSuccessors = len(b.Successors)
	return b.ID
}

func (m *BlockMap) addExceptionEdges() {
	for i, ok := m.canTrap.NextSet(0); ok; i, ok = m.canTrap.NextSet(i + 1) {
		bci := int(i)
		var covering []int
		for hi, h := range m.Handlers {
			if h.Covers(bci) {
				covering = append(covering, hi)
				if h.CatchAll() {
					break
				}
			}
		}
		if len(covering) == 0 {
			continue
		}
		block := m.Blocks[m.byBCI[bci]]
		dispatch := m.makeExceptionDispatch(covering, 0, bci)
		if !containsInt(block.Successors[block.NormalSuccessors:], dispatch) {
			block.Successors = append(block.Successors, dispatch)
		}
		block.HasHandlers = true
	}
}

func containsInt(xs []int, x int) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

func (m *BlockMap) computeBlockOrder() error {
	var post []int
	loops, err := m.computeBlockOrderFrom(m.Blocks[m.byBCI[0]], &post)
	if err != nil {
		return err
	}
	if loops != 0 {
		// A path from a loop end reaches the entry without passing the
		// loop header: the loop has more than one entry.
		return &Bailout{Reason: "non-reducible loop"}
	}
	m.Order = make([]int, len(post))
	for i, id := range post {
		m.Order[len(post)-1-i] = id
	}
	return nil
}

// computeBlockOrderFrom is a depth-first traversal. visited marks blocks
// seen once; active marks blocks on the current path, so reaching an
// active block is a backward edge and makes it a loop header.
func (m *BlockMap) computeBlockOrderFrom(b *Block, post *[]int) (uint32, error) {
	if b.visited {
		switch {
		case b.active:
			if err := m.makeLoopHeader(b); err != nil {
				return 0, err
			}
			return b.Loops, nil
		case b.IsLoopHeader:
			return b.Loops &^ (1 << uint(b.LoopID)), nil
		default:
			return b.Loops, nil
		}
	}
	b.visited = true
	b.active = true

	var loops uint32
	for _, sid := range b.Successors {
		s := m.Blocks[sid]
		s.Predecessors++
		l, err := m.computeBlockOrderFrom(s, post)
		if err != nil {
			return 0, err
		}
		loops |= l
		if s.active {
			b.IsLoopEnd = true
		}
	}
	b.Loops = loops
	if b.IsLoopHeader {
		loops &^= 1 << uint(b.LoopID)
	}
	b.active = false
	*post = append(*post, b.ID)
	return loops, nil
}

func (m *BlockMap) makeLoopHeader(b *Block) error {
	if b.IsLoopHeader {
		return nil
	}
	if m.LoopCount >= MaxLoops {
		return &Bailout{Reason: "too many loops in method"}
	}
	b.IsLoopHeader = true
	b.Loops = 1 << uint(m.LoopCount)
	b.LoopID = m.LoopCount
	m.LoopCount++
	return nil
}

// fixLoopBits propagates loop membership until it is stable. Blocks
// reachable from a loop body but outside the DFS subtree of its header
// pick up the loop's bit here.
func (m *BlockMap) fixLoopBits() error {
	for {
		changed := false
		for _, b := range m.Blocks {
			b.visited = false
		}
		var visit func(b *Block) uint32
		visit = func(b *Block) uint32 {
			if b.visited {
				if b.IsLoopHeader {
					return b.Loops &^ (1 << uint(b.LoopID))
				}
				return b.Loops
			}
			b.visited = true
			loops := b.Loops
			for _, sid := range b.Successors {
				loops |= visit(m.Blocks[sid])
			}
			for _, sid := range b.Successors {
				s := m.Blocks[sid]
				s.Exits = loops &^ s.Loops
			}
			if b.Loops != loops {
				changed = true
				b.Loops = loops
			}
			if b.IsLoopHeader {
				loops &^= 1 << uint(b.LoopID)
			}
			return loops
		}
		if visit(m.Blocks[m.byBCI[0]]) != 0 {
			return &Bailout{Reason: "non-reducible loop"}
		}
		if !changed {
			return nil
		}
	}
}

func (m *BlockMap) initializeBlockIDs() {
	for _, b := range m.Blocks {
		b.visited = false
		b.active = false
	}
}

// LoopDepth returns how many loops contain b.
func (b *Block) LoopDepth() int { return bits.OnesCount32(b.Loops) }

// String renders the map in block order, one block per line.
func (m *BlockMap) String() string {
	var sb strings.Builder
	for _, id := range m.Order {
		b := m.Blocks[id]
		if b.IsDispatch() {
			fmt.Fprintf(&sb, "B%d dispatch(%s -> %d)", b.ID, b.Handler.CatchType, b.Handler.HandlerPC)
		} else {
			fmt.Fprintf(&sb, "B%d [%d..%d]", b.ID, b.StartBCI, b.EndBCI)
		}
		if b.IsLoopHeader {
			fmt.Fprintf(&sb, " loop-header(%d)", b.LoopID)
		}
		if b.IsLoopEnd {
			sb.WriteString(" loop-end")
		}
		if b.IsExceptionEntry {
			sb.WriteString(" handler")
		}
		if b.Loops != 0 {
			fmt.Fprintf(&sb, " loops=%#x", b.Loops)
		}
		sb.WriteString(" ->")
		for _, s := range b.Successors {
			fmt.Fprintf(&sb, " B%d", s)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
