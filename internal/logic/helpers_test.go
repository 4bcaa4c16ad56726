package logic

import (
	"sort"
	"testing"
	"time"
)

const (
	testGate     = "input_boolean.auto_bathroom_fan"
	testBathRH   = "sensor.bathroom_humidity"
	testBathTemp = "sensor.bathroom_temperature"
	testLivRH    = "sensor.living_humidity"
	testLivTemp  = "sensor.living_temperature"
	testActuator = "switch.bathroom_fan"
)

// Bathroom humidity values (at 70°F, living room 40% @ 70°F) and the resulting differential.
const (
	rhBelowLower = "45" // ~0.92 g/m³
	rhDeadZoneLo = "50" // ~1.84 g/m³
	rhDeadZoneHi = "55" // ~2.76 g/m³
	rhAbove      = "60" // ~3.69 g/m³
)

func testConfig() Config {
	return Config{
		Entities: Entities{
			Gate:                testGate,
			BathroomHumidity:    testBathRH,
			BathroomTemperature: testBathTemp,
			LivingHumidity:      testLivRH,
			LivingTemperature:   testLivTemp,
			Actuator:            testActuator,
		},
		Unit:           Fahrenheit,
		Mode:           ModeAbsoluteHumidity,
		Threshold:      3.54,
		LowerThreshold: 1.377,
		AutoDelay:      60 * time.Second,
		ManualDelay:    600 * time.Second,
	}
}

type fakeTimer struct {
	kind     TimerKind
	deadline time.Time
}

// fakeScheduler records scheduled timers and fires them when the clock is advanced.
type fakeScheduler struct {
	now       func() time.Time
	next      TimerHandle
	active    map[TimerHandle]fakeTimer
	scheduled []TimerKind
	cancelled []TimerHandle
}

func newFakeScheduler(now func() time.Time) *fakeScheduler {
	return &fakeScheduler{now: now, active: make(map[TimerHandle]fakeTimer)}
}

func (s *fakeScheduler) Schedule(kind TimerKind, delay time.Duration) TimerHandle {
	s.next++
	s.active[s.next] = fakeTimer{kind: kind, deadline: s.now().Add(delay)}
	s.scheduled = append(s.scheduled, kind)
	return s.next
}

func (s *fakeScheduler) Cancel(h TimerHandle) {
	delete(s.active, h)
	s.cancelled = append(s.cancelled, h)
}

func (s *fakeScheduler) due(now time.Time) []TimerFired {
	var out []TimerFired
	for h, t := range s.active {
		if !t.deadline.After(now) {
			out = append(out, TimerFired{Kind: t.kind, Handle: h})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return s.active[out[i].Handle].deadline.Before(s.active[out[j].Handle].deadline)
	})
	for _, f := range out {
		delete(s.active, f.Handle)
	}
	return out
}

func (s *fakeScheduler) activeOfKind(kind TimerKind) int {
	n := 0
	for _, t := range s.active {
		if t.kind == kind {
			n++
		}
	}
	return n
}

type command struct {
	entity string
	on     bool
}

type fakeCommander struct {
	commands []command
	err      error
}

func (f *fakeCommander) Command(entity string, on bool) error {
	if f.err != nil {
		return f.err
	}
	f.commands = append(f.commands, command{entity: entity, on: on})
	return nil
}

type harness struct {
	t     *testing.T
	clock time.Time
	store *Store
	sched *fakeScheduler
	cmd   *fakeCommander
	c     *Controller
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		t:     t,
		clock: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
		store: NewStore(),
		cmd:   &fakeCommander{},
	}
	now := func() time.Time { return h.clock }
	h.sched = newFakeScheduler(now)
	c, err := New(cfg, h.store, h.cmd, h.sched, now)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.c = c
	return h
}

// seed sets values without notifying the controller.
func (h *harness) seed(values map[string]string) {
	for e, v := range values {
		h.store.Apply(e, v)
	}
}

// seedDefaults seeds an enabled gate, an off actuator and dead-zone readings.
func (h *harness) seedDefaults() {
	h.seed(map[string]string{
		testGate:     "on",
		testActuator: "off",
		testBathRH:   rhDeadZoneLo,
		testBathTemp: "70",
		testLivRH:    "40",
		testLivTemp:  "70",
	})
}

// set applies a value and delivers the change to the controller.
func (h *harness) set(entity, value string) []Event {
	h.t.Helper()
	ch, ok := h.store.Apply(entity, value)
	if !ok {
		return nil
	}
	return h.c.HandleChange(ch)
}

// advance moves the clock forward and delivers every due timer.
func (h *harness) advance(d time.Duration) []Event {
	h.clock = h.clock.Add(d)
	var events []Event
	for _, f := range h.sched.due(h.clock) {
		events = append(events, h.c.HandleTimer(f)...)
	}
	return events
}

// activate drives the controller into AUTO_ACTIVE with the actuator reported on.
func (h *harness) activate() {
	h.t.Helper()
	h.set(testBathRH, rhAbove)
	h.set(testActuator, "on")
	if h.c.State() != StateAutoActive {
		h.t.Fatalf("setup: expected AUTO_ACTIVE, got %s", h.c.State())
	}
	h.cmd.commands = nil
}

func hasEvent(events []Event, typ EventType) bool {
	for _, e := range events {
		if e.Type == typ {
			return true
		}
	}
	return false
}

func countEvents(events []Event, typ EventType) int {
	n := 0
	for _, e := range events {
		if e.Type == typ {
			n++
		}
	}
	return n
}
