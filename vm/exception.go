package vm

import (
	"errors"
	"fmt"
)

var (
	// ErrClassNotFound is returned when no classpath entry defines a class.
	ErrClassNotFound = errors.New("class not found")
	// ErrNoSuchMethod is returned when an entry point does not exist.
	ErrNoSuchMethod = errors.New("no such method")
)

// Exception classes raised by the VM itself.
const (
	classThrowable           = "java/lang/Throwable"
	classArithmetic          = "java/lang/ArithmeticException"
	classArrayIndex          = "java/lang/ArrayIndexOutOfBoundsException"
	classArrayStore          = "java/lang/ArrayStoreException"
	classClassCast           = "java/lang/ClassCastException"
	classIllegalArgument     = "java/lang/IllegalArgumentException"
	classIllegalMonitorState = "java/lang/IllegalMonitorStateException"
	classIllegalThreadState  = "java/lang/IllegalThreadStateException"
	classInstantiation       = "java/lang/InstantiationException"
	classNegativeArraySize   = "java/lang/NegativeArraySizeException"
	classNullPointer         = "java/lang/NullPointerException"
	classNumberFormat        = "java/lang/NumberFormatException"
	classStringIndex         = "java/lang/StringIndexOutOfBoundsException"
	classNoClassDefFound     = "java/lang/NoClassDefFoundError"
	classNoSuchField         = "java/lang/NoSuchFieldError"
	classNoSuchMethod        = "java/lang/NoSuchMethodError"
	classAbstractMethod      = "java/lang/AbstractMethodError"
	classStackOverflow       = "java/lang/StackOverflowError"
	classInternal            = "java/lang/InternalError"
)

// JavaError is a guest exception raised by Go code: natives, the monitor
// protocol and resolution. The interpreter turns it into a Throwable.
type JavaError struct {
	Class   string
	Message string
	Cause   error
	// Object is set when the exception already exists on the heap, for
	// example one rejected into a Completion.
	Object *Object
}

func (e *JavaError) Error() string {
	if e.Message == "" {
		return e.Class
	}
	return e.Class + ": " + e.Message
}

func (e *JavaError) Unwrap() error { return e.Cause }

func javaErrorf(class, format string, args ...any) *JavaError {
	return &JavaError{Class: class, Message: fmt.Sprintf(format, args...)}
}

// FatalError aborts the running Context. It is raised with panic and
// recovered at the RunSlice boundary.
type FatalError struct {
	Method string
	PC     int
	Reason string
	Err    error
}

func (e *FatalError) Error() string {
	msg := e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Method != "" {
		return fmt.Sprintf("fatal in %s at pc %d: %s", e.Method, e.PC, msg)
	}
	return "fatal: " + msg
}

func (e *FatalError) Unwrap() error { return e.Err }

func fatalf(f *Frame, format string, args ...any) {
	fe := &FatalError{Reason: fmt.Sprintf(format, args...), PC: -1}
	if f != nil {
		fe.Method = f.Method.Key()
		fe.PC = f.OpPC
	}
	panic(fe)
}

// newThrowable allocates an exception without running its constructor.
func (vm *VM) newThrowable(className, msg string) *Object {
	c, err := vm.LoadClass(className)
	if err != nil {
		log.Errorf("exception class %s: %s", className, err)
		c = vm.mustClass(classInternal)
	}
	o := vm.NewObject(c)
	if msg != "" {
		o.SetField("detailMessage", Ref(vm.NewString(msg)))
	}
	return o
}

// toThrowable converts a Go error raised on behalf of the guest into an
// exception object. Errors that are not JavaErrors are host faults.
func (ctx *Context) toThrowable(err error) *Object {
	var je *JavaError
	if !errors.As(err, &je) {
		fatalf(ctx.top(), "%s", err)
	}
	if je.Object != nil {
		return je.Object
	}
	return ctx.vm.newThrowable(je.Class, je.Message)
}

// ThrowableMessage returns the detail message of an exception object.
func ThrowableMessage(o *Object) string {
	if o == nil {
		return ""
	}
	v, ok := o.Field("detailMessage")
	if !ok || v.R == nil {
		return ""
	}
	return v.R.Str
}

// describeThrowable renders an exception the way Throwable.toString does.
func describeThrowable(o *Object) string {
	name := javaName(o.Class.Name)
	if msg := ThrowableMessage(o); msg != "" {
		return name + ": " + msg
	}
	return name
}
