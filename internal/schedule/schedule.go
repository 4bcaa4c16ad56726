// Package schedule delivers controller timer firings onto the daemon's event loop.
package schedule

import (
	"sync"
	"time"

	"github.com/sweeney/humidity-fan/internal/logic"
)

// Timers is a logic.Scheduler backed by time.AfterFunc. Each firing is sent
// on the channel returned by C; the receiver is the only goroutine that
// touches the controller.
type Timers struct {
	mu     sync.Mutex
	next   logic.TimerHandle
	active map[logic.TimerHandle]*time.Timer

	out       chan logic.TimerFired
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a scheduler whose firing channel holds up to buffer undelivered firings.
func New(buffer int) *Timers {
	return &Timers{
		active: make(map[logic.TimerHandle]*time.Timer),
		out:    make(chan logic.TimerFired, buffer),
		done:   make(chan struct{}),
	}
}

// C returns the channel firings are delivered on.
func (t *Timers) C() <-chan logic.TimerFired {
	return t.out
}

// Schedule arms a one-shot timer and returns its handle. Handles are never reused.
func (t *Timers) Schedule(kind logic.TimerKind, delay time.Duration) logic.TimerHandle {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.next++
	h := t.next
	t.active[h] = time.AfterFunc(delay, func() { t.fire(kind, h) })
	return h
}

// Cancel stops the timer. A firing already queued on C is not recalled;
// the controller rejects it by handle.
func (t *Timers) Cancel(h logic.TimerHandle) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if tm, ok := t.active[h]; ok {
		tm.Stop()
		delete(t.active, h)
	}
}

// Pending reports how many timers are armed and not yet fired.
func (t *Timers) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.active)
}

// Close stops every armed timer and releases any goroutine blocked delivering a firing.
func (t *Timers) Close() {
	t.closeOnce.Do(func() {
		close(t.done)
		t.mu.Lock()
		for h, tm := range t.active {
			tm.Stop()
			delete(t.active, h)
		}
		t.mu.Unlock()
	})
}

func (t *Timers) fire(kind logic.TimerKind, h logic.TimerHandle) {
	t.mu.Lock()
	if _, ok := t.active[h]; !ok {
		t.mu.Unlock()
		return
	}
	delete(t.active, h)
	t.mu.Unlock()

	select {
	case t.out <- logic.TimerFired{Kind: kind, Handle: h}:
	case <-t.done:
	}
}
