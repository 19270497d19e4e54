package host

import (
	"context"
	"sync"
	"time"
)

// Loop is a Host backed by a single goroutine. Run drains posted functions
// until Stop is called or its context ends. Post and AfterFunc may be called
// from any goroutine.
type Loop struct {
	mu      sync.Mutex
	queue   []func()
	wake    chan struct{}
	stopped bool
	timers  map[*loopTimer]struct{}
}

type loopTimer struct {
	l *Loop
	t *time.Timer
}

// NewLoop creates a loop. Nothing runs until Run is called.
func NewLoop() *Loop {
	return &Loop{
		wake:   make(chan struct{}, 1),
		timers: make(map[*loopTimer]struct{}),
	}
}

// Post queues fn. Functions posted after Stop are dropped.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()
	l.signal()
}

func (l *Loop) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// AfterFunc posts fn to the loop after d.
func (l *Loop) AfterFunc(d time.Duration, fn func()) Timer {
	lt := &loopTimer{l: l}
	l.mu.Lock()
	l.timers[lt] = struct{}{}
	l.mu.Unlock()
	lt.t = time.AfterFunc(d, func() {
		l.mu.Lock()
		delete(l.timers, lt)
		l.mu.Unlock()
		l.Post(fn)
	})
	return lt
}

func (lt *loopTimer) Stop() bool {
	lt.l.mu.Lock()
	delete(lt.l.timers, lt)
	lt.l.mu.Unlock()
	return lt.t.Stop()
}

// Now returns the wall clock.
func (l *Loop) Now() time.Time { return time.Now() }

// Stop makes Run return after the function it is running, if any. Pending
// timers are cancelled.
func (l *Loop) Stop() {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.stopped = true
	l.queue = nil
	timers := l.timers
	l.timers = make(map[*loopTimer]struct{})
	l.mu.Unlock()
	for lt := range timers {
		lt.t.Stop()
	}
	l.signal()
}

// Pending returns the number of queued functions and armed timers.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue) + len(l.timers)
}

// Run executes posted functions on the calling goroutine. It returns nil
// after Stop, or the context's error.
func (l *Loop) Run(ctx context.Context) error {
	for {
		l.mu.Lock()
		if l.stopped {
			l.mu.Unlock()
			return nil
		}
		var fn func()
		if len(l.queue) > 0 {
			fn = l.queue[0]
			l.queue[0] = nil
			l.queue = l.queue[1:]
		}
		l.mu.Unlock()

		if fn != nil {
			fn()
			continue
		}
		select {
		case <-ctx.Done():
			l.Stop()
			return ctx.Err()
		case <-l.wake:
		}
	}
}
