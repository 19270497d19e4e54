package vm

// ---------------------------------------------------------------------------
// Monitor: reentrant lock with wait and notify
// ---------------------------------------------------------------------------

// Monitor is the lock and wait set of one object. Both queues are FIFO.
//
// Ownership is handed off: when the owner releases the monitor and a
// thread is queued, that thread becomes the owner before it is woken, at
// the level it asked for. A thread that blocked in monitorenter therefore
// resumes already holding the lock.
type Monitor struct {
	owner   *Context
	level   int
	ready   []*Context
	waiting []*Context
}

// Owner returns the owning thread, or nil.
func (m *Monitor) Owner() *Context { return m.owner }

// Level returns the recursion depth of the owner.
func (m *Monitor) Level() int { return m.level }

// Blocked returns the number of threads waiting to acquire the monitor.
func (m *Monitor) Blocked() int { return len(m.ready) }

// Waiting returns the number of threads inside wait.
func (m *Monitor) Waiting() int { return len(m.waiting) }

func (o *Object) lock() *Monitor {
	if o.monitor == nil {
		o.monitor = &Monitor{}
	}
	return o.monitor
}

// MonitorOf returns the monitor of o, creating it on first use.
func MonitorOf(o *Object) *Monitor { return o.lock() }

// MonitorEnter acquires the monitor of o. It returns false when the
// thread blocked; the thread is then Pausing and owns the monitor when it
// next runs.
func (ctx *Context) MonitorEnter(o *Object) bool {
	m := o.lock()
	switch m.owner {
	case nil:
		m.owner, m.level = ctx, 1
		return true
	case ctx:
		m.level++
		return true
	}
	ctx.lockLevel = 1
	ctx.blockedOn = m
	m.ready = append(m.ready, ctx)
	ctx.Pause()
	return false
}

// MonitorExit releases one level of o's monitor.
func (ctx *Context) MonitorExit(o *Object) error {
	m := o.lock()
	if m.owner != ctx {
		return javaErrorf(classIllegalMonitorState, "current thread does not own the monitor of %s", o)
	}
	m.level--
	if m.level == 0 {
		m.release()
	}
	return nil
}

// release clears ownership and hands the monitor to the first queued
// thread.
func (m *Monitor) release() {
	m.owner, m.level = nil, 0
	if len(m.ready) == 0 {
		return
	}
	next := m.ready[0]
	m.ready = remove(m.ready, next)
	next.blockedOn = nil
	m.owner, m.level = next, next.lockLevel
	next.lockLevel = 0
	next.wake()
}

// Wait implements Object.wait. millis 0 waits until notified. On success
// the thread is Pausing; it resumes after reacquiring the monitor at its
// previous level.
func (ctx *Context) Wait(o *Object, millis int64) error {
	if millis < 0 {
		return javaErrorf(classIllegalArgument, "timeout value is negative")
	}
	m := o.lock()
	if m.owner != ctx {
		return javaErrorf(classIllegalMonitorState, "current thread does not own the monitor of %s", o)
	}
	ctx.lockLevel = m.level
	ctx.blockedOn = m
	m.waiting = append(m.waiting, ctx)
	m.release()
	// Timeouts too long for a Duration never fire.
	if d, ok := millisDuration(millis); millis > 0 && ok {
		ctx.arm(d, func() { m.timeout(ctx) })
	}
	ctx.Pause()
	return nil
}

// timeout moves ctx from the wait set toward ownership after its wait
// timed out.
func (m *Monitor) timeout(ctx *Context) {
	if !contains(m.waiting, ctx) {
		return
	}
	m.waiting = remove(m.waiting, ctx)
	m.reacquire(ctx)
}

// reacquire gives a former waiter the monitor at its saved level, or
// queues it behind the current owner.
func (m *Monitor) reacquire(ctx *Context) {
	if m.owner == nil {
		m.owner, m.level = ctx, ctx.lockLevel
		ctx.lockLevel = 0
		ctx.blockedOn = nil
		ctx.wake()
		return
	}
	m.ready = append(m.ready, ctx)
}

// Notify implements Object.notify and Object.notifyAll.
func (ctx *Context) Notify(o *Object, all bool) error {
	m := o.lock()
	if m.owner != ctx {
		return javaErrorf(classIllegalMonitorState, "current thread does not own the monitor of %s", o)
	}
	for len(m.waiting) > 0 {
		w := m.waiting[0]
		m.waiting = m.waiting[1:]
		w.stopTimer()
		// The notifier owns the monitor, so this always queues.
		m.reacquire(w)
		if !all {
			break
		}
	}
	return nil
}

// forget removes ctx from the monitor's queues.
func (m *Monitor) forget(ctx *Context) {
	m.ready = remove(m.ready, ctx)
	m.waiting = remove(m.waiting, ctx)
}

func contains(q []*Context, ctx *Context) bool {
	for _, c := range q {
		if c == ctx {
			return true
		}
	}
	return false
}

func remove(q []*Context, ctx *Context) []*Context {
	for i, c := range q {
		if c == ctx {
			return append(q[:i:i], q[i+1:]...)
		}
	}
	return q
}
