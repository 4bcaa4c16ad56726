package schedule

import (
	"sort"
	"time"

	"github.com/sweeney/humidity-fan/internal/logic"
)

type fakeTimer struct {
	kind     logic.TimerKind
	deadline time.Time
}

// Fake is a deterministic logic.Scheduler for tests. Timers only fire when
// Advance is called.
type Fake struct {
	now    func() time.Time
	next   logic.TimerHandle
	active map[logic.TimerHandle]fakeTimer

	// Scheduled records every kind passed to Schedule, in order.
	Scheduled []logic.TimerKind
	// Cancelled records every handle passed to Cancel, in order.
	Cancelled []logic.TimerHandle
}

// NewFake creates a Fake that computes deadlines from now.
func NewFake(now func() time.Time) *Fake {
	return &Fake{now: now, active: make(map[logic.TimerHandle]fakeTimer)}
}

// Schedule records a timer due at now()+delay.
func (f *Fake) Schedule(kind logic.TimerKind, delay time.Duration) logic.TimerHandle {
	f.next++
	f.active[f.next] = fakeTimer{kind: kind, deadline: f.now().Add(delay)}
	f.Scheduled = append(f.Scheduled, kind)
	return f.next
}

// Cancel forgets the timer.
func (f *Fake) Cancel(h logic.TimerHandle) {
	delete(f.active, h)
	f.Cancelled = append(f.Cancelled, h)
}

// Advance removes and returns every timer due at or before now, earliest first.
func (f *Fake) Advance(now time.Time) []logic.TimerFired {
	var due []logic.TimerHandle
	for h, t := range f.active {
		if !t.deadline.After(now) {
			due = append(due, h)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		a, b := f.active[due[i]], f.active[due[j]]
		if a.deadline.Equal(b.deadline) {
			return due[i] < due[j]
		}
		return a.deadline.Before(b.deadline)
	})

	out := make([]logic.TimerFired, 0, len(due))
	for _, h := range due {
		out = append(out, logic.TimerFired{Kind: f.active[h].kind, Handle: h})
		delete(f.active, h)
	}
	return out
}

// Active reports the number of armed timers of kind.
func (f *Fake) Active(kind logic.TimerKind) int {
	n := 0
	for _, t := range f.active {
		if t.kind == kind {
			n++
		}
	}
	return n
}

// Deadline returns the deadline of an armed timer.
func (f *Fake) Deadline(h logic.TimerHandle) (time.Time, bool) {
	t, ok := f.active[h]
	return t.deadline, ok
}
