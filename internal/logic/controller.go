package logic

import (
	"fmt"
	"strings"
	"time"
)

// Commander switches the actuator.
type Commander interface {
	Command(entity string, on bool) error
}

// Controller is the activation state machine. It handles one event at a time
// and is not safe for concurrent use; the caller serializes every change and
// timer firing onto a single goroutine.
type Controller struct {
	cfg       Config
	reader    StateReader
	commander Commander
	timers    *Timers
	now       func() time.Time

	state State
	// selfCausedOff marks the next on->off actuator transition as our own shutoff.
	selfCausedOff bool

	readings        Readings
	readingsValid   bool
	differential    float64
	lastEvaluatedAt time.Time

	startTime     time.Time
	lastHeartbeat time.Time
	counts        EventCounts

	events []Event
}

// New validates cfg and creates an idle controller with no pending timers.
func New(cfg Config, reader StateReader, commander Commander, scheduler Scheduler, now func() time.Time) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	start := now()
	return &Controller{
		cfg:           cfg,
		reader:        reader,
		commander:     commander,
		timers:        NewTimers(scheduler, now),
		now:           now,
		state:         StateIdle,
		startTime:     start,
		lastHeartbeat: start,
	}, nil
}

// Config returns the controller's policy.
func (c *Controller) Config() Config {
	return c.cfg
}

// WatchedEntities lists the entities the caller must deliver changes for.
func (c *Controller) WatchedEntities() []string {
	return c.cfg.Watched()
}

// State returns the current activation state.
func (c *Controller) State() State {
	return c.state
}

// HandleChange processes one entity change. The reader must already reflect ch.New.
func (c *Controller) HandleChange(ch Change) []Event {
	switch {
	case c.cfg.Entities.Gate != "" && ch.Entity == c.cfg.Entities.Gate:
		c.handleGate(ch)
	case ch.Entity == c.cfg.Entities.Actuator:
		c.handleActuator(ch)
	default:
		if c.enabled() {
			c.evaluate()
		}
	}
	return c.flush()
}

// HandleTimer processes a timer firing. Firings for cancelled timers are ignored.
func (c *Controller) HandleTimer(f TimerFired) []Event {
	if !c.timers.Fired(f) {
		return nil
	}

	switch f.Kind {
	case TimerAutoShutoff:
		c.shutoff(f.Kind, 0, false)
	case TimerManualShutoff:
		d, ok := c.snapshot()
		if !ok {
			break
		}
		if d <= c.cfg.Threshold {
			c.shutoff(f.Kind, d, true)
		} else {
			c.emit(Event{
				Type:            EventShutoffDeferred,
				Timer:           f.Kind.String(),
				Differential:    d,
				HasDifferential: true,
				Detail:          fmt.Sprintf("differential %.3f still above threshold %.3f after manual delay", d, c.cfg.Threshold),
			})
		}
	}
	return c.flush()
}

// Shutdown cancels every pending timer. The controller must not be used afterwards.
func (c *Controller) Shutdown() []Event {
	c.cancelAll("shutdown")
	return c.flush()
}

// Status returns a copy of the controller state.
func (c *Controller) Status() Status {
	act, _ := c.reader.Value(c.cfg.Entities.Actuator)
	s := Status{
		State:           c.state,
		Enabled:         c.enabled(),
		Actuator:        act,
		Readings:        c.readings,
		ReadingsValid:   c.readingsValid,
		Differential:    c.differential,
		SelfCausedOff:   c.selfCausedOff,
		Counts:          c.counts,
		LastEvaluatedAt: c.lastEvaluatedAt,
	}
	if p, ok := c.timers.Pending(TimerAutoShutoff); ok {
		s.AutoShutoff = &p
	}
	if p, ok := c.timers.Pending(TimerManualShutoff); ok {
		s.ManualShutoff = &p
	}
	return s
}

// CheckHeartbeat returns heartbeat data if interval has elapsed since the last
// heartbeat (or startup). Returns nil if interval is <= 0 (disabled).
func (c *Controller) CheckHeartbeat(now time.Time, interval time.Duration) *HeartbeatData {
	if interval <= 0 {
		return nil
	}
	if now.Sub(c.lastHeartbeat) < interval {
		return nil
	}
	c.lastHeartbeat = now
	return &HeartbeatData{
		Timestamp: now,
		Uptime:    now.Sub(c.startTime),
		Counts:    c.counts,
	}
}

func (c *Controller) handleGate(ch Change) {
	if !c.enabled() {
		if isOn(ch.Old) {
			c.emit(Event{Type: EventGateOff, Entity: ch.Entity, Detail: "automatic control suspended"})
		}
		c.cancelAll("gate off")
		return
	}

	if !isOn(ch.Old) {
		c.emit(Event{Type: EventGateOn, Entity: ch.Entity})
		// Someone left the actuator running while we were not in control.
		if c.actuatorOn() && c.state != StateAutoActive {
			c.state = StateManualActive
			c.armManual()
		}
	}
	c.evaluate()
}

func (c *Controller) handleActuator(ch Change) {
	turnedOn := isOn(ch.New) && !isOn(ch.Old)
	turnedOff := isOn(ch.Old) && isOff(ch.New)

	if !c.enabled() {
		// Manual actuation is still tracked so the state is right when the gate returns.
		switch {
		case turnedOff:
			c.selfCausedOff = false
			if c.state != StateIdle {
				c.state = StateIdle
				c.emit(Event{Type: EventManualOff, Entity: ch.Entity, Detail: "observed while disabled"})
			}
		case turnedOn:
			c.selfCausedOff = false
			if c.state == StateIdle {
				c.state = StateManualActive
				c.emit(Event{Type: EventManualOn, Entity: ch.Entity, Detail: "observed while disabled"})
			}
		}
		return
	}

	if turnedOff {
		if c.selfCausedOff {
			c.selfCausedOff = false
			return
		}
		wasAuto := c.state == StateAutoActive
		c.state = StateIdle
		c.cancelTimer(TimerManualShutoff, "actuator turned off")
		c.cancelTimer(TimerAutoShutoff, "actuator turned off")
		if !wasAuto {
			c.emit(Event{Type: EventManualOff, Entity: ch.Entity})
			return
		}
		c.emit(Event{Type: EventOverride, Entity: ch.Entity, Detail: "turned off manually after automatic activation"})
		if d, ok := c.snapshot(); ok && d > c.cfg.Threshold {
			c.activate(d)
		}
		return
	}

	if turnedOn {
		c.selfCausedOff = false
		if c.state == StateIdle {
			c.state = StateManualActive
			c.emit(Event{Type: EventManualOn, Entity: ch.Entity})
			c.armManual()
			return
		}
	}

	c.evaluate()
}

// evaluate applies the dual-threshold policy to the current differential.
func (c *Controller) evaluate() {
	d, ok := c.snapshot()
	if !ok {
		return
	}

	switch {
	case d > c.cfg.Threshold:
		c.activate(d)
	case d <= c.cfg.LowerThreshold:
		if c.timers.has(TimerManualShutoff) || !c.actuatorOn() {
			return
		}
		if _, created := c.timers.ScheduleIfAbsent(TimerAutoShutoff, c.cfg.AutoDelay, d); created {
			c.emit(Event{
				Type:            EventShutoffScheduled,
				Timer:           TimerAutoShutoff.String(),
				Differential:    d,
				HasDifferential: true,
				Detail:          fmt.Sprintf("within lower threshold %.3f, turning off %s in %v", c.cfg.LowerThreshold, c.cfg.Entities.Actuator, c.cfg.AutoDelay),
			})
		}
	}
}

func (c *Controller) activate(d float64) {
	prev := c.state
	c.state = StateAutoActive

	// An off command still awaiting its echo leaves the store reading "on".
	// The marker stays set so that echo is not taken for an override.
	if !c.actuatorOn() || c.selfCausedOff {
		c.emit(Event{
			Type:            EventAutoOn,
			Entity:          c.cfg.Entities.Actuator,
			Differential:    d,
			HasDifferential: true,
			Detail:          fmt.Sprintf("above threshold %.3f, turning on %s", c.cfg.Threshold, c.cfg.Entities.Actuator),
		})
		if err := c.commander.Command(c.cfg.Entities.Actuator, true); err != nil {
			c.emit(Event{Type: EventCommandFailed, Entity: c.cfg.Entities.Actuator, Detail: "turn on: " + err.Error()})
		}
	} else if prev != StateAutoActive {
		c.emit(Event{
			Type:            EventAutoOn,
			Entity:          c.cfg.Entities.Actuator,
			Differential:    d,
			HasDifferential: true,
			Detail:          fmt.Sprintf("above threshold %.3f, %s already on", c.cfg.Threshold, c.cfg.Entities.Actuator),
		})
	}

	c.cancelTimer(TimerAutoShutoff, "differential above threshold")
	c.cancelTimer(TimerManualShutoff, "differential above threshold")
}

func (c *Controller) armManual() {
	d, ok := c.peekDifferential()
	if _, created := c.timers.ScheduleIfAbsent(TimerManualShutoff, c.cfg.ManualDelay, d); created {
		c.emit(Event{
			Type:            EventShutoffScheduled,
			Timer:           TimerManualShutoff.String(),
			Differential:    d,
			HasDifferential: ok,
			Detail:          fmt.Sprintf("manual activation, turning off %s in %v unless above threshold", c.cfg.Entities.Actuator, c.cfg.ManualDelay),
		})
	}
}

func (c *Controller) shutoff(kind TimerKind, d float64, hasDiff bool) {
	c.state = StateIdle
	ev := Event{
		Type:            EventShutoff,
		Timer:           kind.String(),
		Entity:          c.cfg.Entities.Actuator,
		Differential:    d,
		HasDifferential: hasDiff,
	}
	if !c.actuatorOn() {
		// Already off: no off transition will follow, so no marker.
		ev.Detail = "actuator already off"
		c.emit(ev)
		return
	}

	ev.Detail = "turning off " + c.cfg.Entities.Actuator
	c.emit(ev)
	c.selfCausedOff = true
	if err := c.commander.Command(c.cfg.Entities.Actuator, false); err != nil {
		c.selfCausedOff = false
		c.emit(Event{Type: EventCommandFailed, Entity: c.cfg.Entities.Actuator, Detail: "turn off: " + err.Error()})
	}
}

func (c *Controller) cancelTimer(kind TimerKind, reason string) {
	if c.timers.Cancel(kind) {
		c.emit(Event{Type: EventShutoffCancelled, Timer: kind.String(), Detail: reason})
	}
}

func (c *Controller) cancelAll(reason string) {
	for _, kind := range c.timers.CancelAll() {
		c.emit(Event{Type: EventShutoffCancelled, Timer: kind.String(), Detail: reason})
	}
}

// snapshot reads all sensors and records the result. Invalid readings emit a
// diagnostic and leave state and timers alone.
func (c *Controller) snapshot() (float64, bool) {
	r, err := ReadSnapshot(c.reader, c.cfg)
	if err != nil {
		c.readingsValid = false
		c.emit(Event{Type: EventInvalidReadings, Detail: err.Error()})
		return 0, false
	}
	c.readings = r
	c.readingsValid = true
	c.differential = r.Differential(c.cfg)
	c.lastEvaluatedAt = c.now()
	return c.differential, true
}

func (c *Controller) peekDifferential() (float64, bool) {
	r, err := ReadSnapshot(c.reader, c.cfg)
	if err != nil {
		return 0, false
	}
	return r.Differential(c.cfg), true
}

func (c *Controller) enabled() bool {
	if c.cfg.Entities.Gate == "" {
		return true
	}
	v, _ := c.reader.Value(c.cfg.Entities.Gate)
	return isOn(v)
}

func (c *Controller) actuatorOn() bool {
	v, _ := c.reader.Value(c.cfg.Entities.Actuator)
	return isOn(v)
}

func (c *Controller) emit(e Event) {
	e.Timestamp = c.now()
	e.State = c.state
	c.events = append(c.events, e)
}

func (c *Controller) flush() []Event {
	events := c.events
	c.events = nil
	for _, e := range events {
		switch e.Type {
		case EventAutoOn:
			c.counts.AutoOn++
		case EventManualOn:
			c.counts.ManualOn++
		case EventManualOff:
			c.counts.ManualOff++
		case EventOverride:
			c.counts.Override++
		case EventShutoff:
			c.counts.Shutoff++
		case EventShutoffDeferred:
			c.counts.Deferred++
		case EventInvalidReadings:
			c.counts.InvalidReadings++
		case EventCommandFailed:
			c.counts.CommandFailed++
		}
	}
	return events
}

func isOn(v string) bool {
	return strings.EqualFold(strings.TrimSpace(v), "on")
}

func isOff(v string) bool {
	return strings.EqualFold(strings.TrimSpace(v), "off")
}
