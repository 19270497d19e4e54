package vm

import (
	"fmt"
	"sort"
	"strings"
)

// NativeFunc implements a native method. args holds the receiver (for
// instance methods) followed by the parameters, one Value per slot, so a
// long parameter is followed by Top. A *JavaError result is thrown in the
// guest; any other error is fatal to the calling thread.
//
// A native that must wait calls ctx.Yield, ctx.Sleep, ctx.Defer or a
// monitor operation that suspends, then returns. Its return value is
// ignored in that case; a deferred native delivers it through the
// Completion instead.
type NativeFunc func(ctx *Context, args []Value) (Value, error)

// Native is one entry of the native table.
type Native struct {
	Key string
	Fn  NativeFunc
	// Suspends declares whether Fn may suspend the calling thread. The
	// yield classifier trusts it.
	Suspends bool
}

// NativeTable maps "class.name.descriptor" keys to implementations. It
// implements compiler.NativeOracle.
type NativeTable struct {
	m map[string]*Native
}

// NewNativeTable creates an empty table.
func NewNativeTable() *NativeTable {
	return &NativeTable{m: make(map[string]*Native)}
}

// Register adds or replaces a native.
func (t *NativeTable) Register(key string, suspends bool, fn NativeFunc) {
	t.m[key] = &Native{Key: key, Fn: fn, Suspends: suspends}
}

// Lookup returns the native registered under key, or nil.
func (t *NativeTable) Lookup(key string) *Native { return t.m[key] }

// NativeSuspends reports the declared behavior of key.
func (t *NativeTable) NativeSuspends(key string) (suspends, known bool) {
	n, ok := t.m[key]
	if !ok {
		return false, false
	}
	return n.Suspends, true
}

// Keys returns the registered keys in sorted order.
func (t *NativeTable) Keys() []string {
	keys := make([]string, 0, len(t.m))
	for k := range t.m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ---------------------------------------------------------------------------
// Completion: results of deferred natives
// ---------------------------------------------------------------------------

// Completion delivers the result of a deferred native. Resolve or Reject
// may be called from any goroutine, once; the thread resumes on the host
// loop.
type Completion struct {
	ctx  *Context
	push bool
	done bool
}

// resumeAction is applied when a suspended thread next runs.
type resumeAction struct {
	value Value
	push  bool
	exc   *Object
	err   *JavaError
}

// Defer suspends the calling thread until the returned Completion is
// settled. Only natives may call it.
func (ctx *Context) Defer() *Completion {
	f := ctx.top()
	push := false
	if ctx.calling != nil {
		push = ctx.calling.ReturnsValue()
	}
	ctx.Pause()
	log.Debugf("thread %d deferred in %s", ctx.ID, methodKeyOf(f))
	return &Completion{ctx: ctx, push: push}
}

// Resolve resumes the thread with v as the native's return value.
func (c *Completion) Resolve(v Value) {
	c.settle(&resumeAction{value: v, push: c.push})
}

// Reject resumes the thread by throwing err in it.
func (c *Completion) Reject(err *JavaError) {
	c.settle(&resumeAction{err: err})
}

func (c *Completion) settle(a *resumeAction) {
	ctx := c.ctx
	ctx.vm.host.Post(func() {
		if c.done {
			return
		}
		c.done = true
		if ctx.state == ThreadTerminated {
			return
		}
		ctx.resume = a
		ctx.wake()
	})
}

// applyResume delivers a pending Completion result to the top frame.
// It reports an exception to throw, if any.
func (ctx *Context) applyResume() *Object {
	a := ctx.resume
	if a == nil {
		return nil
	}
	ctx.resume = nil
	switch {
	case a.err != nil:
		return ctx.toThrowable(a.err)
	case a.exc != nil:
		return a.exc
	case a.push:
		if f := ctx.top(); f != nil {
			f.pushValue(a.value)
		}
	}
	return nil
}

func methodKeyOf(f *Frame) string {
	if f == nil {
		return "<no frame>"
	}
	return f.Method.Key()
}

// javaName converts an internal class name to its dotted form.
func javaName(internal string) string {
	return strings.ReplaceAll(internal, "/", ".")
}

// nativeArgs describes args for diagnostics.
func nativeArgs(args []Value) string {
	parts := make([]string, 0, len(args))
	for _, a := range args {
		if a.K == KindTop {
			continue
		}
		parts = append(parts, a.String())
	}
	return fmt.Sprintf("(%s)", strings.Join(parts, ", "))
}
