package host

import (
	"fmt"
	"sync"
	"time"
)

// Manual is a Host on a virtual clock. Time moves only when Advance or
// RunUntilIdle move it, or by Step on every Now call, and posted functions
// run only inside RunPending, Advance or RunUntilIdle, on the caller's
// goroutine.
type Manual struct {
	// Step is added to the clock each time Now is called. A nonzero Step
	// makes work observed through Now appear to take time.
	Step time.Duration

	mu        sync.Mutex
	now       time.Time
	queue     []func()
	scheduled []*manualTimer
	lastID    uint64
}

type manualTimer struct {
	fn func()
	at time.Time
	id uint64
	m  *Manual
}

// NewManual creates a manual host whose clock starts at start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

// Post queues fn.
func (m *Manual) Post(fn func()) {
	m.mu.Lock()
	m.queue = append(m.queue, fn)
	m.mu.Unlock()
}

// AfterFunc posts fn once the clock has advanced by d.
func (m *Manual) AfterFunc(d time.Duration, fn func()) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastID++
	t := &manualTimer{fn: fn, at: m.now.Add(d), id: m.lastID, m: m}
	// Keep scheduled sorted by (at, id) so equal deadlines fire in
	// creation order.
	i := len(m.scheduled)
	for i > 0 && t.before(m.scheduled[i-1]) {
		i--
	}
	m.scheduled = append(m.scheduled, nil)
	copy(m.scheduled[i+1:], m.scheduled[i:])
	m.scheduled[i] = t
	return t
}

func (t *manualTimer) before(o *manualTimer) bool {
	return t.at.Before(o.at) || (t.at.Equal(o.at) && t.id < o.id)
}

func (t *manualTimer) Stop() bool {
	m := t.m
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, s := range m.scheduled {
		if s == t {
			m.scheduled = append(m.scheduled[:i], m.scheduled[i+1:]...)
			return true
		}
	}
	return false
}

// Now returns the virtual time, then advances it by Step.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now
	m.now = m.now.Add(m.Step)
	return now
}

// Elapsed returns the virtual time without advancing it.
func (m *Manual) Elapsed(since time.Time) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now.Sub(since)
}

// ActiveTimers returns the number of timers that have not fired.
func (m *Manual) ActiveTimers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.scheduled)
}

// Queued returns the number of posted functions waiting to run.
func (m *Manual) Queued() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// RunPending runs posted functions, including ones they post, until the
// queue is empty. It returns how many ran.
func (m *Manual) RunPending() int {
	n := 0
	for m.runOne() {
		n++
	}
	return n
}

func (m *Manual) runOne() bool {
	m.mu.Lock()
	if len(m.queue) == 0 {
		m.mu.Unlock()
		return false
	}
	fn := m.queue[0]
	m.queue[0] = nil
	m.queue = m.queue[1:]
	m.mu.Unlock()
	fn()
	return true
}

// fireDue posts every timer due at or before end and reports whether any
// fired.
func (m *Manual) fireDue(end time.Time) bool {
	m.mu.Lock()
	fired := false
	for len(m.scheduled) > 0 && !m.scheduled[0].at.After(end) {
		t := m.scheduled[0]
		m.scheduled = m.scheduled[1:]
		if t.at.After(m.now) {
			m.now = t.at
		}
		m.queue = append(m.queue, t.fn)
		fired = true
	}
	m.mu.Unlock()
	return fired
}

// Advance moves the clock forward by d, running posted functions and
// timers that come due along the way in deadline order.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	end := m.now.Add(d)
	m.mu.Unlock()

	m.RunPending()
	for {
		m.mu.Lock()
		var next *manualTimer
		if len(m.scheduled) > 0 && !m.scheduled[0].at.After(end) {
			next = m.scheduled[0]
		}
		m.mu.Unlock()
		if next == nil {
			break
		}
		m.fireDue(next.at)
		m.RunPending()
	}
	m.mu.Lock()
	if end.After(m.now) {
		m.now = end
	}
	m.mu.Unlock()
}

// RunUntilIdle runs posted functions and jumps the clock to each pending
// timer until nothing is left. It fails after limit functions have run,
// which catches programs that never go idle.
func (m *Manual) RunUntilIdle(limit int) error {
	ran := 0
	for {
		for m.runOne() {
			ran++
			if ran > limit {
				return fmt.Errorf("host: still busy after %d posted functions", limit)
			}
		}
		m.mu.Lock()
		if len(m.scheduled) == 0 {
			m.mu.Unlock()
			return nil
		}
		at := m.scheduled[0].at
		m.mu.Unlock()
		m.fireDue(at)
	}
}
