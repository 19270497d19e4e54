package vm

// ---------------------------------------------------------------------------
// Result: how an invocation ended
// ---------------------------------------------------------------------------

// Status says how an invocation ended.
type Status uint8

const (
	// Completed means the method returned; Value holds the return value.
	Completed Status = iota
	// Suspended means the thread must stop running. The interrupted
	// activations are on the Context's call stack as interpreter Frames.
	Suspended
	// Threw means an exception propagated out of the method.
	Threw
)

func (s Status) String() string {
	switch s {
	case Completed:
		return "Completed"
	case Suspended:
		return "Suspended"
	case Threw:
		return "Threw"
	}
	return "Status(?)"
}

// Result is the outcome of running bytecode. Guest exceptions travel here,
// never as Go errors.
type Result struct {
	Status    Status
	Value     Value
	Exception *Object
}

func completed(v Value) Result     { return Result{Status: Completed, Value: v} }
func threw(exc *Object) Result     { return Result{Status: Threw, Exception: exc} }
func suspended() Result            { return Result{Status: Suspended} }
func (r Result) IsSuspended() bool { return r.Status == Suspended }

// SuspendKind says what a suspending thread waits for.
type SuspendKind uint8

const (
	notSuspending SuspendKind = iota
	// Yielding threads go straight back on the run queue.
	Yielding
	// Pausing threads wait for a wakeup: a monitor, a timer, a join or a
	// deferred native.
	Pausing
	// Stopping threads terminate.
	Stopping
)

func (k SuspendKind) String() string {
	switch k {
	case Yielding:
		return "Yielding"
	case Pausing:
		return "Pausing"
	case Stopping:
		return "Stopping"
	}
	return "Running"
}
