// Package logic contains the pure control core for the humidity fan.
// This package has NO external dependencies (no MQTT, GPIO, OS, logging or time.Sleep).
// Time is always injectable, and every collaborator is an interface.
package logic

import "time"

// State is the controller's view of why the actuator is (or is not) running.
type State string

const (
	StateIdle         State = "IDLE"
	StateAutoActive   State = "AUTO_ACTIVE"
	StateManualActive State = "MANUAL_ACTIVE"
)

// TimerKind identifies one of the two delayed-shutoff timers.
type TimerKind int

const (
	TimerAutoShutoff TimerKind = iota
	TimerManualShutoff
	numTimerKinds
)

func (k TimerKind) String() string {
	switch k {
	case TimerAutoShutoff:
		return "AUTO_SHUTOFF"
	case TimerManualShutoff:
		return "MANUAL_SHUTOFF"
	}
	return "UNKNOWN"
}

// TimerHandle is an opaque scheduler handle. Zero means "no timer".
type TimerHandle uint64

// TimerFired is delivered to the controller when a scheduled timer elapses.
type TimerFired struct {
	Kind   TimerKind
	Handle TimerHandle
}

// Change is a state-change notification for one watched entity.
type Change struct {
	Entity string
	Old    string
	New    string
}

// EventType classifies controller events.
type EventType string

const (
	EventAutoOn           EventType = "AUTO_ON"
	EventManualOn         EventType = "MANUAL_ON"
	EventManualOff        EventType = "MANUAL_OFF"
	EventOverride         EventType = "OVERRIDE"
	EventShutoffScheduled EventType = "SHUTOFF_SCHEDULED"
	EventShutoffCancelled EventType = "SHUTOFF_CANCELLED"
	EventShutoff          EventType = "SHUTOFF"
	EventShutoffDeferred  EventType = "SHUTOFF_DEFERRED"
	EventGateOn           EventType = "GATE_ON"
	EventGateOff          EventType = "GATE_OFF"
	EventInvalidReadings  EventType = "INVALID_READINGS"
	EventCommandFailed    EventType = "COMMAND_FAILED"
)

// Event is something the controller did or noticed. Callers log, publish and journal these.
type Event struct {
	Timestamp    time.Time
	Type         EventType
	State        State
	Differential float64
	// HasDifferential is false when no valid snapshot backed the event.
	HasDifferential bool
	Timer           string
	Entity          string
	Detail          string
}

// EventCounts tracks the number of each event type since startup.
type EventCounts struct {
	AutoOn          int
	ManualOn        int
	ManualOff       int
	Override        int
	Shutoff         int
	Deferred        int
	InvalidReadings int
	CommandFailed   int
}

// HeartbeatData contains information for a heartbeat event.
type HeartbeatData struct {
	Timestamp time.Time
	Uptime    time.Duration
	Counts    EventCounts
}

// PendingTimer describes an armed shutoff timer.
type PendingTimer struct {
	Handle   TimerHandle
	Deadline time.Time
	// Differential at the time the timer was armed.
	Differential float64
}

// Status is a point-in-time copy of controller state for status pages.
type Status struct {
	State           State
	Enabled         bool
	Actuator        string
	Readings        Readings
	ReadingsValid   bool
	Differential    float64
	AutoShutoff     *PendingTimer
	ManualShutoff   *PendingTimer
	SelfCausedOff   bool
	Counts          EventCounts
	LastEvaluatedAt time.Time
}
