// Package host is the event loop the VM runs on.
//
// The VM never blocks the host goroutine. Everything it does is a function
// posted to the host: scheduler windows, monitor wakeups, timer callbacks
// and the completion of deferred natives. Loop is the production host;
// Manual is a deterministic host with a virtual clock for tests.
package host

import "time"

// Timer is a pending AfterFunc callback.
type Timer interface {
	// Stop cancels the callback. It reports whether the callback had not
	// yet been posted.
	Stop() bool
}

// Host runs posted functions one at a time, in posting order.
type Host interface {
	Post(fn func())
	// AfterFunc posts fn once d has elapsed.
	AfterFunc(d time.Duration, fn func()) Timer
	Now() time.Time
}
