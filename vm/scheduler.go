package vm

import (
	"fmt"
	"time"

	"github.com/emirpasic/gods/trees/redblacktree"
	"github.com/emirpasic/gods/utils"

	"github.com/chazu/cldc/host"
)

// ---------------------------------------------------------------------------
// Scheduler: virtual-runtime fair queue
// ---------------------------------------------------------------------------

// SliceOutcome says how a task's slice ended.
type SliceOutcome uint8

const (
	// SliceYield puts the task back on the run queue.
	SliceYield SliceOutcome = iota
	// SliceBlocked leaves the task off the queue until it is enqueued
	// again by whatever it waits for.
	SliceBlocked
	// SliceDone retires the task.
	SliceDone
)

// Task is something the scheduler runs. Context is the only production
// Task.
type Task interface {
	Sched() *SchedEntity
	RunSlice() SliceOutcome
}

// SchedEntity is the scheduler's bookkeeping for one task.
type SchedEntity struct {
	// Vruntime is weighted run time in nanoseconds. Zero means the task
	// has never been placed.
	Vruntime uint64
	Priority int

	key        schedKey
	queued     bool
	terminated bool
}

type schedKey struct {
	vruntime uint64
	seq      uint64
}

func compareSchedKeys(a, b interface{}) int {
	x, y := a.(schedKey), b.(schedKey)
	if c := utils.UInt64Comparator(x.vruntime, y.vruntime); c != 0 {
		return c
	}
	return utils.UInt64Comparator(x.seq, y.seq)
}

// Thread priorities.
const (
	MinPriority  = 1
	NormPriority = 5
	MaxPriority  = 10
)

const nice0Weight = 1024

// priorityWeights maps Java priorities 1..10 to load weights, normal
// priority being 1024. Each step is roughly 25%.
var priorityWeights = [...]uint64{423, 526, 655, 820, 1024, 1277, 1586, 1991, 2501, 3121}

func weightOf(priority int) uint64 {
	if priority < MinPriority {
		priority = MinPriority
	}
	if priority > MaxPriority {
		priority = MaxPriority
	}
	return priorityWeights[priority-1]
}

// scaleRuntime converts elapsed wall time into virtual runtime for a task
// of the given priority.
func scaleRuntime(elapsed time.Duration, priority int) uint64 {
	if elapsed <= 0 {
		return 0
	}
	return uint64(elapsed) * nice0Weight / weightOf(priority)
}

// Scheduler multiplexes tasks onto the host goroutine. It is not safe for
// concurrent use; every call happens on the host loop.
type Scheduler struct {
	host     host.Host
	window   time.Duration
	minSlice time.Duration
	strict   bool

	queue       *redblacktree.Tree
	seq         uint64
	minVruntime uint64

	current     Task
	requeue     bool
	running     bool
	posted      bool
	windowStart time.Time
	sliceStart  time.Time

	// OnIdle is called when a window ends with nothing runnable.
	OnIdle func()

	slices  uint64
	windows uint64
}

// NewScheduler creates a scheduler. window bounds one RunWindow call;
// minSlice is how far a running task may get ahead of the queue head
// before ShouldPreempt asks it to yield.
func NewScheduler(h host.Host, window, minSlice time.Duration, strict bool) *Scheduler {
	return &Scheduler{
		host:     h,
		window:   window,
		minSlice: minSlice,
		strict:   strict,
		queue:    redblacktree.NewWith(compareSchedKeys),
	}
}

// Len returns the number of runnable tasks.
func (s *Scheduler) Len() int { return s.queue.Size() }

// MinVruntime returns the queue's monotonic minimum virtual runtime.
func (s *Scheduler) MinVruntime() uint64 { return s.minVruntime }

// Current returns the running task, or nil.
func (s *Scheduler) Current() Task { return s.current }

// Stats returns how many slices and windows have run.
func (s *Scheduler) Stats() (slices, windows uint64) { return s.slices, s.windows }

func (s *Scheduler) violation(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if s.strict {
		panic("scheduler: " + msg)
	}
	schedLog.Warningf("ignoring contract violation: %s", msg)
}

// Enqueue makes t runnable. A task placed for the first time starts at the
// current minimum virtual runtime.
func (s *Scheduler) Enqueue(t Task) {
	e := t.Sched()
	switch {
	case e.terminated:
		s.violation("enqueue of a terminated task")
		return
	case e.queued:
		s.violation("task enqueued twice")
		return
	case t == s.current:
		s.requeue = true
		return
	}
	if e.Vruntime == 0 {
		e.Vruntime = s.minVruntime
	}
	s.seq++
	e.key = schedKey{vruntime: e.Vruntime, seq: s.seq}
	e.queued = true
	s.queue.Put(e.key, t)
	s.updateMin()
	s.schedule()
}

// Remove takes t off the run queue.
func (s *Scheduler) Remove(t Task) {
	e := t.Sched()
	if !e.queued {
		s.violation("remove of a task that is not queued")
		return
	}
	s.queue.Remove(e.key)
	e.queued = false
}

// Queued reports whether t is on the run queue.
func (s *Scheduler) Queued(t Task) bool { return t.Sched().queued }

// Retire marks t terminated and drops it from the queue if it is there.
func (s *Scheduler) Retire(t Task) {
	e := t.Sched()
	if e.queued {
		s.Remove(t)
	}
	if t == s.current {
		s.requeue = false
	}
	e.terminated = true
}

func (s *Scheduler) updateMin() {
	min := s.minVruntime
	var candidate uint64
	have := false
	if s.current != nil {
		candidate, have = s.current.Sched().Vruntime, true
	}
	if n := s.queue.Left(); n != nil {
		v := n.Key.(schedKey).vruntime
		if !have || v < candidate {
			candidate, have = v, true
		}
	}
	if have && candidate > min {
		min = candidate
	}
	s.minVruntime = min
}

// schedule posts a window unless one is running or already posted.
func (s *Scheduler) schedule() {
	if s.running || s.posted {
		return
	}
	s.posted = true
	s.host.Post(s.RunWindow)
}

// RunWindow runs tasks lowest virtual runtime first until the queue is
// empty or the window budget is spent, then posts itself again if work
// remains. It is the host's single entry point into the VM.
func (s *Scheduler) RunWindow() {
	s.posted = false
	if s.running {
		return
	}
	s.running = true
	s.windows++
	s.windowStart = s.host.Now()
	defer func() { s.running = false }()

	for !s.queue.Empty() {
		if s.host.Now().Sub(s.windowStart) >= s.window {
			schedLog.Debugf("window exhausted with %d runnable", s.queue.Size())
			s.running = false
			s.schedule()
			return
		}
		n := s.queue.Left()
		t := n.Value.(Task)
		s.queue.Remove(n.Key)
		e := t.Sched()
		e.queued = false

		s.current = t
		s.sliceStart = s.host.Now()
		out := t.RunSlice()
		e.Vruntime += scaleRuntime(s.host.Now().Sub(s.sliceStart), e.Priority)
		s.slices++
		requeue := s.requeue
		s.requeue = false
		s.current = nil
		s.updateMin()

		switch {
		case e.terminated || out == SliceDone:
			e.terminated = true
		case out == SliceYield || requeue:
			s.Enqueue(t)
		}
	}
	if s.OnIdle != nil {
		s.OnIdle()
	}
}

// ShouldPreempt reports whether the running task should yield at its next
// safe point: the window is spent, or its projected virtual runtime is
// more than minSlice past the queue head.
func (s *Scheduler) ShouldPreempt() bool {
	if s.current == nil {
		return false
	}
	now := s.host.Now()
	if now.Sub(s.windowStart) >= s.window {
		return true
	}
	head := s.queue.Left()
	if head == nil {
		return false
	}
	e := s.current.Sched()
	projected := e.Vruntime + scaleRuntime(now.Sub(s.sliceStart), e.Priority)
	return projected > head.Key.(schedKey).vruntime+uint64(s.minSlice)
}
