package vm

import (
	"fmt"
	"math"
	"runtime"
	"time"

	"github.com/davecgh/go-spew/spew"

	"github.com/chazu/cldc/host"
)

// ---------------------------------------------------------------------------
// Context: one Java thread
// ---------------------------------------------------------------------------

// ThreadState is the lifecycle state of a Context.
type ThreadState uint8

const (
	ThreadNew ThreadState = iota
	ThreadRunnable
	ThreadRunning
	ThreadBlocked
	ThreadTerminated
)

var threadStateNames = [...]string{"New", "Runnable", "Running", "Blocked", "Terminated"}

func (s ThreadState) String() string {
	if int(s) < len(threadStateNames) {
		return threadStateNames[s]
	}
	return fmt.Sprintf("ThreadState(%d)", s)
}

// maxFrames bounds the call stack; deeper calls raise StackOverflowError.
const maxFrames = 2048

var dumper = spew.ConfigState{Indent: "  ", DisablePointerAddresses: true, MaxDepth: 4}

type entryCall struct {
	method *Method
	args   []Value
}

// Context is a Java thread: a call stack plus the state the scheduler and
// the monitors need. All methods must be called on the host loop.
type Context struct {
	ID     uint64
	Name   string
	Thread *Object // java/lang/Thread, nil for threads started by the embedder

	vm     *VM
	frames []*Frame
	sched  SchedEntity
	state  ThreadState

	suspend SuspendKind
	resume  *resumeAction
	entry   *entryCall
	calling *Method

	// noYield counts compiled activations on the Go stack that were
	// classified as never suspending.
	noYield int
	// compiledDepth counts compiled activations, which have no Frame on
	// the call stack.
	compiledDepth int

	lockLevel int
	blockedOn *Monitor
	timer     host.Timer

	joiners []*Context
	result  Result
	fatal   *FatalError
	killed  bool
}

// Sched implements Task.
func (ctx *Context) Sched() *SchedEntity { return &ctx.sched }

// VM returns the machine the thread runs in.
func (ctx *Context) VM() *VM { return ctx.vm }

// State returns the lifecycle state.
func (ctx *Context) State() ThreadState { return ctx.state }

// Result returns how the thread ended. It is meaningful once the state is
// ThreadTerminated.
func (ctx *Context) Result() Result { return ctx.result }

// Fatal returns the host-fatal error that aborted the thread, if any.
func (ctx *Context) Fatal() *FatalError { return ctx.fatal }

// Priority returns the Java priority.
func (ctx *Context) Priority() int { return ctx.sched.Priority }

// SetPriority changes the Java priority, clamped to 1..10.
func (ctx *Context) SetPriority(p int) {
	if p < MinPriority {
		p = MinPriority
	}
	if p > MaxPriority {
		p = MaxPriority
	}
	ctx.sched.Priority = p
}

// Depth returns the number of interpreter frames.
func (ctx *Context) Depth() int { return len(ctx.frames) }

// Frames returns the call stack, bottom first.
func (ctx *Context) Frames() []*Frame {
	return append([]*Frame(nil), ctx.frames...)
}

func (ctx *Context) top() *Frame {
	if len(ctx.frames) == 0 {
		return nil
	}
	return ctx.frames[len(ctx.frames)-1]
}

func (ctx *Context) pushFrame(f *Frame) {
	ctx.frames = append(ctx.frames, f)
}

func (ctx *Context) popFrame() {
	n := len(ctx.frames) - 1
	ctx.frames[n] = nil
	ctx.frames = ctx.frames[:n]
}

// insertFrame places f at index at, shifting the frames above it up.
func (ctx *Context) insertFrame(at int, f *Frame) {
	ctx.frames = append(ctx.frames, nil)
	copy(ctx.frames[at+1:], ctx.frames[at:])
	ctx.frames[at] = f
}

func (ctx *Context) String() string {
	return fmt.Sprintf("thread %d %q (%s)", ctx.ID, ctx.Name, ctx.state)
}

// ---------------------------------------------------------------------------
// Suspension
// ---------------------------------------------------------------------------

// Yield ends the slice; the thread goes straight back on the run queue.
func (ctx *Context) Yield() { ctx.suspend = Yielding }

// Pause ends the slice; the thread stays off the run queue until woken.
func (ctx *Context) Pause() { ctx.suspend = Pausing }

// Stop ends the slice and terminates the thread.
func (ctx *Context) Stop() { ctx.suspend = Stopping }

// Sleep pauses the thread for d.
func (ctx *Context) Sleep(d time.Duration) {
	ctx.Pause()
	ctx.arm(d, ctx.wake)
}

// maxMillis is the longest timeout a time.Duration can hold.
const maxMillis = math.MaxInt64 / int64(time.Millisecond)

// millisDuration converts a guest timeout. ok is false when millis does
// not fit in a time.Duration; d is then the largest Duration.
func millisDuration(millis int64) (d time.Duration, ok bool) {
	if millis > maxMillis {
		return math.MaxInt64, false
	}
	return time.Duration(millis) * time.Millisecond, true
}

// arm sets the thread's timer to run fn after d. A callback whose timer
// was stopped or replaced in the meantime does nothing.
func (ctx *Context) arm(d time.Duration, fn func()) {
	var t host.Timer
	t = ctx.vm.host.AfterFunc(d, func() {
		if ctx.timer != t {
			return
		}
		ctx.timer = nil
		fn()
	})
	ctx.timer = t
}

// Join pauses the calling thread until target terminates. It reports
// false, without pausing, when target has already terminated.
func (ctx *Context) Join(target *Context) bool {
	if target.state == ThreadTerminated {
		return false
	}
	target.joiners = append(target.joiners, ctx)
	ctx.Pause()
	return true
}

// wake makes a paused thread runnable.
func (ctx *Context) wake() {
	if ctx.state == ThreadTerminated || ctx.sched.queued {
		return
	}
	ctx.state = ThreadRunnable
	ctx.vm.sched.Enqueue(ctx)
}

func (ctx *Context) stopTimer() {
	if ctx.timer != nil {
		ctx.timer.Stop()
		ctx.timer = nil
	}
}

// Kill terminates the thread and removes it from every queue. Monitors it
// owns stay owned.
func (ctx *Context) Kill() {
	if ctx.state == ThreadTerminated {
		return
	}
	if ctx == ctx.vm.sched.Current() {
		ctx.killed = true
		ctx.Stop()
		return
	}
	if ctx.blockedOn != nil {
		ctx.blockedOn.forget(ctx)
		ctx.blockedOn = nil
	}
	ctx.killed = true
	ctx.terminate(Result{Status: Completed, Value: Void})
}

// Killed reports whether Kill ended the thread.
func (ctx *Context) Killed() bool { return ctx.killed }

// ---------------------------------------------------------------------------
// Running
// ---------------------------------------------------------------------------

// RunSlice implements Task. It runs the thread until it suspends or ends.
// A host-fatal error aborts only this thread.
func (ctx *Context) RunSlice() (out SliceOutcome) {
	ctx.state = ThreadRunning
	ctx.suspend = notSuspending
	defer func() {
		if r := recover(); r != nil {
			fe, ok := r.(*FatalError)
			if !ok {
				re, isRuntime := r.(runtime.Error)
				if !isRuntime {
					panic(r)
				}
				fe = &FatalError{Reason: "runtime fault", Err: re, PC: -1}
				if f := ctx.top(); f != nil {
					fe.Method, fe.PC = f.Method.Key(), f.OpPC
				}
			}
			ctx.abort(fe)
			out = SliceDone
		}
	}()

	return ctx.endSlice(ctx.run())
}

// run continues the thread: first any frames left from the last slice,
// then the entry call if it has not been made yet.
func (ctx *Context) run() Result {
	exc := ctx.applyResume()
	if len(ctx.frames) > 0 || exc != nil {
		r := ctx.interpret(0, exc)
		if r.Status != Completed || ctx.entry == nil {
			return r
		}
	}
	e := ctx.entry
	if e == nil {
		return completed(Void)
	}
	if e.method.IsStatic() {
		switch st, exc := ctx.ensureInit(e.method.Class); st {
		case initYield:
			return suspended()
		case initFailed:
			ctx.entry = nil
			return threw(exc)
		case initPushed:
			if r := ctx.interpret(0, nil); r.Status != Completed {
				if r.Status == Threw {
					ctx.entry = nil
				}
				return r
			}
		}
	}
	ctx.entry = nil
	r, pushed := ctx.invoke(e.method, e.args)
	if pushed && !r.IsSuspended() {
		r = ctx.interpret(0, nil)
	}
	return r
}

func (ctx *Context) endSlice(r Result) SliceOutcome {
	switch r.Status {
	case Completed:
		ctx.terminate(r)
		return SliceDone
	case Threw:
		ctx.uncaught(r.Exception)
		ctx.terminate(r)
		return SliceDone
	}
	kind := ctx.suspend
	ctx.suspend = notSuspending
	switch kind {
	case Yielding:
		ctx.state = ThreadRunnable
		return SliceYield
	case Pausing:
		if ctx.state == ThreadRunning {
			ctx.state = ThreadBlocked
		}
		return SliceBlocked
	case Stopping:
		ctx.terminate(Result{Status: Completed, Value: Void})
		return SliceDone
	}
	fatalf(ctx.top(), "thread suspended without saying why")
	return SliceDone
}

func (ctx *Context) uncaught(exc *Object) {
	if exc == nil {
		return
	}
	fmt.Fprintf(ctx.vm.stderr, "Exception in thread %q %s\n", ctx.Name, describeThrowable(exc))
	log.Infof("thread %d died of %s", ctx.ID, describeThrowable(exc))
}

// abort ends the thread after a host-fatal error.
func (ctx *Context) abort(fe *FatalError) {
	log.Errorf("thread %d aborted: %s", ctx.ID, fe)
	ctx.fatal = fe
	snap := ctx.Snapshot()
	log.Debugf("thread %d state:\n%s", ctx.ID, dumper.Sdump(snap))
	if path, err := ctx.vm.writeDump(snap); err != nil {
		log.Warningf("writing dump for thread %d: %s", ctx.ID, err)
	} else if path != "" {
		log.Errorf("thread %d state written to %s", ctx.ID, path)
	}
	if ctx.blockedOn != nil {
		ctx.blockedOn.forget(ctx)
		ctx.blockedOn = nil
	}
	ctx.terminate(Result{Status: Threw, Exception: ctx.vm.newThrowable(classInternal, fe.Error())})
}

// terminate retires the thread and wakes its joiners.
func (ctx *Context) terminate(r Result) {
	if ctx.state == ThreadTerminated {
		return
	}
	ctx.state = ThreadTerminated
	ctx.result = r
	ctx.frames = nil
	ctx.stopTimer()
	ctx.vm.sched.Retire(ctx)
	joiners := ctx.joiners
	ctx.joiners = nil
	for _, j := range joiners {
		j.wake()
	}
	ctx.vm.threadExited(ctx)
}

// invoke calls m with args. Interpreted methods get a new frame and pushed
// is true; the caller's run loop executes it. Natives and compiled methods
// run to a Result here.
func (ctx *Context) invoke(m *Method, args []Value) (r Result, pushed bool) {
	if len(ctx.frames)+ctx.compiledDepth >= maxFrames {
		return threw(ctx.vm.newThrowable(classStackOverflow, "")), false
	}
	switch {
	case m.IsNative():
		return ctx.callNative(m, args), false
	case m.IsAbstract() || m.Code == nil:
		return threw(ctx.vm.newThrowable(classAbstractMethod, m.Key())), false
	}
	ctx.vm.profiler.RecordInvocation(m)
	if cm := m.compiled; cm != nil {
		return ctx.callCompiled(cm, args), false
	}
	f := newFrame(m, args)
	ctx.pushFrame(f)
	if m.IsSynchronized() {
		f.Lock = ctx.vm.lockObject(m, args)
		f.locked = true
		if !ctx.MonitorEnter(f.Lock) {
			return suspended(), true
		}
	}
	return Result{}, true
}

func (ctx *Context) callNative(m *Method, args []Value) Result {
	n := m.native
	if n == nil {
		return threw(ctx.vm.newThrowable("java/lang/UnsatisfiedLinkError", m.Key()))
	}
	ctx.calling = m
	v, err := n.Fn(ctx, args)
	ctx.calling = nil
	if err != nil {
		ctx.suspend = notSuspending
		return threw(ctx.toThrowable(err))
	}
	if ctx.suspend != notSuspending {
		return suspended()
	}
	return completed(v)
}

// leave runs the exit actions of a frame that is being popped.
func (ctx *Context) leave(f *Frame, normal bool) {
	if f.locked {
		f.locked = false
		if err := ctx.MonitorExit(f.Lock); err != nil {
			fatalf(f, "releasing monitor of synchronized method: %s", err)
		}
	}
	if c := f.initClass; c != nil {
		c.initCtx = nil
		if normal {
			c.state = ClassInitialized
		} else {
			c.state = ClassErroneous
			log.Warningf("initialization of %s failed", c.Name)
		}
	}
}
