package vm

import (
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/chazu/cldc/host"
)

// clockHost is a host whose clock only moves when a task says so, which
// lets tests charge each slice an exact cost.
type clockHost struct {
	now    time.Time
	posted []func()
}

func (h *clockHost) Post(fn func())                             { h.posted = append(h.posted, fn) }
func (h *clockHost) AfterFunc(time.Duration, func()) host.Timer { panic("clockHost: no timers") }
func (h *clockHost) Now() time.Time                             { return h.now }

func (h *clockHost) drain(limit int) int {
	n := 0
	for len(h.posted) > 0 && n < limit {
		fn := h.posted[0]
		h.posted = h.posted[1:]
		fn()
		n++
	}
	return n
}

type fakeTask struct {
	name   string
	e      SchedEntity
	h      *clockHost
	cost   time.Duration
	slices int
	left   int
	onRun  func(*fakeTask)
}

func (f *fakeTask) Sched() *SchedEntity { return &f.e }

func (f *fakeTask) RunSlice() SliceOutcome {
	if f.onRun != nil {
		f.onRun(f)
	}
	f.h.now = f.h.now.Add(f.cost)
	f.slices++
	f.left--
	if f.left <= 0 {
		return SliceDone
	}
	return SliceYield
}

func newFakeTask(h *clockHost, name string, priority int, cost time.Duration, slices int) *fakeTask {
	return &fakeTask{name: name, e: SchedEntity{Priority: priority}, h: h, cost: cost, left: slices}
}

func TestSchedulerRunsLowestVruntimeFirst(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		h := &clockHost{now: epoch}
		s := NewScheduler(h, time.Hour, time.Millisecond, true)
		n := rapid.IntRange(1, 6).Draw(t, "tasks")
		tasks := make([]*fakeTask, n)
		lastMin := uint64(0)
		for i := range tasks {
			prio := rapid.IntRange(MinPriority, MaxPriority).Draw(t, "priority")
			cost := time.Duration(rapid.IntRange(1, 50).Draw(t, "cost")) * time.Microsecond
			slices := rapid.IntRange(1, 20).Draw(t, "slices")
			tasks[i] = newFakeTask(h, "t", prio, cost, slices)
		}
		for _, task := range tasks {
			task.onRun = func(cur *fakeTask) {
				for _, other := range tasks {
					if other != cur && s.Queued(other) && other.e.Vruntime < cur.e.Vruntime {
						t.Fatalf("ran vruntime %d while %d was queued", cur.e.Vruntime, other.e.Vruntime)
					}
				}
				if m := s.MinVruntime(); m < lastMin {
					t.Fatalf("MinVruntime went back from %d to %d", lastMin, m)
				}
				lastMin = s.MinVruntime()
			}
			s.Enqueue(task)
		}
		h.drain(100)
		if s.Len() != 0 {
			t.Fatalf("Len() = %d after drain, want 0", s.Len())
		}
		for _, task := range tasks {
			if task.left != 0 {
				t.Fatalf("task has %d slices left", task.left)
			}
		}
	})
}

func TestSchedulerPriorityWeights(t *testing.T) {
	h := &clockHost{now: epoch}
	s := NewScheduler(h, time.Hour, time.Millisecond, false)
	high := newFakeTask(h, "high", MaxPriority, time.Millisecond, 1<<30)
	low := newFakeTask(h, "low", MinPriority, time.Millisecond, 1<<30)
	total := 0
	stop := func(f *fakeTask) {
		total++
		if total == 400 {
			high.left, low.left = 1, 1
		}
	}
	high.onRun, low.onRun = stop, stop
	s.Enqueue(high)
	s.Enqueue(low)
	h.drain(10)

	if high.slices < 5*low.slices {
		t.Errorf("high ran %d slices, low %d; want high at least 5x low", high.slices, low.slices)
	}
	if low.slices == 0 {
		t.Error("low priority task starved")
	}
}

func TestSchedulerEqualPrioritiesShareEvenly(t *testing.T) {
	h := &clockHost{now: epoch}
	s := NewScheduler(h, time.Hour, time.Millisecond, false)
	a := newFakeTask(h, "a", NormPriority, time.Millisecond, 50)
	b := newFakeTask(h, "b", NormPriority, time.Millisecond, 50)
	var order []string
	a.onRun = func(f *fakeTask) { order = append(order, f.name) }
	b.onRun = a.onRun
	s.Enqueue(a)
	s.Enqueue(b)
	h.drain(10)

	for i := 0; i+1 < len(order); i += 2 {
		if order[i] == order[i+1] {
			t.Fatalf("slices %d and %d both went to %s: %v", i, i+1, order[i], order[:i+2])
		}
	}
}

func TestSchedulerWindowReposts(t *testing.T) {
	h := &clockHost{now: epoch}
	s := NewScheduler(h, 10*time.Millisecond, time.Millisecond, false)
	task := newFakeTask(h, "busy", NormPriority, 3*time.Millisecond, 10)
	idle := 0
	s.OnIdle = func() { idle++ }
	s.Enqueue(task)

	if ran := h.drain(1); ran != 1 {
		t.Fatalf("drain(1) ran %d", ran)
	}
	if task.slices != 4 {
		t.Errorf("first window ran %d slices, want 4", task.slices)
	}
	if len(h.posted) != 1 {
		t.Errorf("posted %d windows after exhausting one, want 1", len(h.posted))
	}
	h.drain(10)
	if task.left != 0 {
		t.Errorf("task has %d slices left", task.left)
	}
	if idle != 1 {
		t.Errorf("OnIdle ran %d times, want 1", idle)
	}
	if _, windows := s.Stats(); windows != 3 {
		t.Errorf("windows = %d, want 3", windows)
	}
}

func TestSchedulerNewTaskStartsAtMinimum(t *testing.T) {
	h := &clockHost{now: epoch}
	s := NewScheduler(h, time.Hour, time.Millisecond, false)
	old := newFakeTask(h, "old", NormPriority, time.Millisecond, 5)
	s.Enqueue(old)
	h.drain(10)

	late := newFakeTask(h, "late", NormPriority, time.Millisecond, 1)
	s.Enqueue(late)
	if late.e.Vruntime != s.MinVruntime() {
		t.Errorf("late Vruntime = %d, want MinVruntime %d", late.e.Vruntime, s.MinVruntime())
	}
	if late.e.Vruntime == 0 {
		t.Error("late task placed at zero after others ran")
	}
}

func TestSchedulerShouldPreempt(t *testing.T) {
	h := &clockHost{now: epoch}
	s := NewScheduler(h, time.Hour, time.Millisecond, false)
	var decisions []bool
	hog := newFakeTask(h, "hog", NormPriority, 0, 1)
	hog.onRun = func(*fakeTask) {
		decisions = append(decisions, s.ShouldPreempt())
		h.now = h.now.Add(2 * time.Millisecond)
		decisions = append(decisions, s.ShouldPreempt())
	}
	other := newFakeTask(h, "other", NormPriority, 0, 1)
	s.Enqueue(hog)
	s.Enqueue(other)
	h.drain(10)

	want := []bool{false, true}
	if len(decisions) != 2 || decisions[0] != want[0] || decisions[1] != want[1] {
		t.Errorf("ShouldPreempt decisions = %v, want %v", decisions, want)
	}
	if s.ShouldPreempt() {
		t.Error("ShouldPreempt() with nothing running = true")
	}
}

func TestSchedulerStrictViolations(t *testing.T) {
	h := &clockHost{now: epoch}
	s := NewScheduler(h, time.Hour, time.Millisecond, true)
	task := newFakeTask(h, "t", NormPriority, 0, 1)
	s.Enqueue(task)

	defer func() {
		if recover() == nil {
			t.Error("double Enqueue in strict mode did not panic")
		}
	}()
	s.Enqueue(task)
}

func TestSchedulerLenientViolations(t *testing.T) {
	h := &clockHost{now: epoch}
	s := NewScheduler(h, time.Hour, time.Millisecond, false)
	task := newFakeTask(h, "t", NormPriority, 0, 1)
	s.Enqueue(task)
	s.Enqueue(task)
	if s.Len() != 1 {
		t.Errorf("Len() = %d after double Enqueue, want 1", s.Len())
	}
	s.Retire(task)
	s.Enqueue(task)
	if s.Len() != 0 {
		t.Errorf("Len() = %d after enqueueing a retired task, want 0", s.Len())
	}
}
