package logic

import "time"

// Scheduler runs delayed callbacks. Firings come back as TimerFired through
// the same serialized queue as every other event.
type Scheduler interface {
	Schedule(kind TimerKind, delay time.Duration) TimerHandle
	Cancel(h TimerHandle)
}

// Timers owns at most one pending timer per kind.
type Timers struct {
	scheduler Scheduler
	now       func() time.Time
	pending   [numTimerKinds]*PendingTimer
}

// NewTimers creates an orchestrator over the given scheduler.
func NewTimers(s Scheduler, now func() time.Time) *Timers {
	return &Timers{scheduler: s, now: now}
}

// ScheduleIfAbsent arms a timer for kind unless one is already pending.
// It returns the pending handle and whether a new timer was created.
func (t *Timers) ScheduleIfAbsent(kind TimerKind, delay time.Duration, differential float64) (TimerHandle, bool) {
	if p := t.pending[kind]; p != nil {
		return p.Handle, false
	}
	h := t.scheduler.Schedule(kind, delay)
	t.pending[kind] = &PendingTimer{
		Handle:       h,
		Deadline:     t.now().Add(delay),
		Differential: differential,
	}
	return h, true
}

// Cancel cancels and clears the pending timer for kind. It reports whether one existed.
func (t *Timers) Cancel(kind TimerKind) bool {
	p := t.pending[kind]
	if p == nil {
		return false
	}
	t.pending[kind] = nil
	t.scheduler.Cancel(p.Handle)
	return true
}

// CancelAll cancels every pending timer and returns the kinds that were pending.
func (t *Timers) CancelAll() []TimerKind {
	var cancelled []TimerKind
	for k := TimerKind(0); k < numTimerKinds; k++ {
		if t.Cancel(k) {
			cancelled = append(cancelled, k)
		}
	}
	return cancelled
}

// Fired clears the handle for a firing and reports whether it should be acted on.
// A firing for a handle that is no longer registered was cancelled after the
// scheduler queued it and is dropped.
func (t *Timers) Fired(f TimerFired) bool {
	if f.Kind < 0 || f.Kind >= numTimerKinds {
		return false
	}
	p := t.pending[f.Kind]
	if p == nil || p.Handle != f.Handle {
		return false
	}
	t.pending[f.Kind] = nil
	return true
}

// Pending returns a copy of the pending timer for kind, if any.
func (t *Timers) Pending(kind TimerKind) (PendingTimer, bool) {
	p := t.pending[kind]
	if p == nil {
		return PendingTimer{}, false
	}
	return *p, true
}

func (t *Timers) has(kind TimerKind) bool {
	return t.pending[kind] != nil
}
