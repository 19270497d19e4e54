// Package vm executes CLDC bytecode on a single host goroutine.
//
// Java threads are Contexts. A Scheduler picks the Context with the lowest
// virtual runtime and runs it for one slice; slices end when the thread
// suspends (monitor contention, wait, sleep, deferred natives), terminates
// or is asked to yield at a safe point. Nothing here blocks the host: every
// wakeup is a function posted to host.Host.
//
// Methods start out interpreted. Hot methods are compiled by a baseline JIT
// that predecodes them into an op list. When compiled code must suspend it
// rebuilds the interpreter Frame it would have had and hands it back to the
// Context, so resumption always happens in the interpreter.
package vm
