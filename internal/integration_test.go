package internal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/sweeney/humidity-fan/internal/gpio"
	"github.com/sweeney/humidity-fan/internal/journal"
	"github.com/sweeney/humidity-fan/internal/logic"
	"github.com/sweeney/humidity-fan/internal/mqtt"
	"github.com/sweeney/humidity-fan/internal/schedule"
	"github.com/sweeney/humidity-fan/internal/status"
	"github.com/sweeney/humidity-fan/internal/web"
)

const (
	gate     = "input_boolean.bathroom_fan_auto"
	bathRH   = "sensor.bathroom_humidity"
	bathTemp = "sensor.bathroom_temperature"
	livRH    = "sensor.living_humidity"
	livTemp  = "sensor.living_temperature"
	fan      = "switch.bathroom_fan"
)

func integrationConfig(autoDelay, manualDelay time.Duration) logic.Config {
	return logic.Config{
		Entities: logic.Entities{
			Gate:                gate,
			BathroomHumidity:    bathRH,
			BathroomTemperature: bathTemp,
			LivingHumidity:      livRH,
			LivingTemperature:   livTemp,
			Actuator:            fan,
		},
		Unit:           logic.Fahrenheit,
		Mode:           logic.ModeAbsoluteHumidity,
		Threshold:      3.54,
		LowerThreshold: 1.377,
		AutoDelay:      autoDelay,
		ManualDelay:    manualDelay,
	}
}

// daemon wires the real scheduler, journal and status surfaces around the
// controller the way cmd/humidity-fan does, with the MQTT client faked.
type daemon struct {
	t       *testing.T
	store   *logic.Store
	ctl     *logic.Controller
	timers  *schedule.Timers
	client  *mqtt.FakeClient
	journal *journal.Journal
	tracker *status.Tracker
}

func newDaemon(t *testing.T, cfg logic.Config, commander logic.Commander, client *mqtt.FakeClient) *daemon {
	t.Helper()

	j, err := journal.Open(filepath.Join(t.TempDir(), "events.db"))
	if err != nil {
		t.Fatalf("journal.Open: %v", err)
	}
	t.Cleanup(func() { j.Close() })

	timers := schedule.New(4)
	t.Cleanup(timers.Close)

	store := logic.NewStore()
	if commander == nil {
		commander = client
	}
	ctl, err := logic.New(cfg, store, commander, timers, time.Now)
	if err != nil {
		t.Fatalf("logic.New: %v", err)
	}

	return &daemon{
		t:       t,
		store:   store,
		ctl:     ctl,
		timers:  timers,
		client:  client,
		journal: j,
		tracker: status.NewTracker(time.Now(), status.Config{Actuator: fan, Threshold: cfg.Threshold}),
	}
}

func (d *daemon) handle(events []logic.Event) {
	d.t.Helper()
	for _, e := range events {
		if err := d.client.Publish(e); err != nil {
			d.t.Fatalf("publish %s: %v", e.Type, err)
		}
		if err := d.journal.Append(context.Background(), e); err != nil {
			d.t.Fatalf("journal %s: %v", e.Type, err)
		}
	}
	values := make(map[string]string)
	for _, e := range d.ctl.WatchedEntities() {
		if v, ok := d.store.Value(e); ok {
			values[e] = v
		}
	}
	d.tracker.Update(d.ctl.Status(), values)
}

func (d *daemon) set(entity, value string) {
	if ch, ok := d.store.Apply(entity, value); ok {
		d.handle(d.ctl.HandleChange(ch))
	}
}

// waitTimer blocks for the next real timer firing and hands it to the controller.
func (d *daemon) waitTimer(within time.Duration) logic.TimerFired {
	d.t.Helper()
	select {
	case f := <-d.timers.C():
		d.handle(d.ctl.HandleTimer(f))
		return f
	case <-time.After(within):
		d.t.Fatalf("no timer fired within %v", within)
		return logic.TimerFired{}
	}
}

func types(events []logic.Event) []logic.EventType {
	out := make([]logic.EventType, len(events))
	for i, e := range events {
		out[i] = e.Type
	}
	return out
}

func TestIntegrationFullCycle(t *testing.T) {
	client := mqtt.NewFakeClient()
	d := newDaemon(t, integrationConfig(50*time.Millisecond, time.Hour), nil, client)

	d.set(livTemp, "70")
	d.set(livRH, "40")
	d.set(bathTemp, "70")
	d.set(bathRH, "60")
	d.set(fan, "off")
	d.set(gate, "on")

	if len(client.Commands) != 1 || !client.Commands[0].On {
		t.Fatalf("commands after shower: got %+v, want one on", client.Commands)
	}
	d.set(fan, "on")

	d.set(bathRH, "45")
	f := d.waitTimer(2 * time.Second)
	if f.Kind != logic.TimerAutoShutoff {
		t.Errorf("fired: got %v, want AUTO_SHUTOFF", f.Kind)
	}
	d.set(fan, "off")

	want := []logic.EventType{logic.EventGateOn, logic.EventAutoOn, logic.EventShutoffScheduled, logic.EventShutoff}
	got := types(client.Events)
	if len(got) != len(want) {
		t.Fatalf("events: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d: got %s, want %s", i, got[i], want[i])
		}
	}
	if len(client.Commands) != 2 || client.Commands[1].On {
		t.Errorf("commands: got %+v, want on then off", client.Commands)
	}

	// Every published payload is valid JSON under "fan".
	for i, p := range client.Payloads {
		var payload mqtt.Payload
		if err := json.Unmarshal(p, &payload); err != nil {
			t.Fatalf("payload %d: %v", i, err)
		}
		if payload.Fan.Event != string(want[i]) {
			t.Errorf("payload %d event: got %q, want %q", i, payload.Fan.Event, want[i])
		}
	}

	entries, err := d.journal.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 4 {
		t.Fatalf("journal entries: got %d, want 4", len(entries))
	}
	if entries[0].Type != string(logic.EventShutoff) || entries[0].Timer != "AUTO_SHUTOFF" {
		t.Errorf("newest entry: got %+v", entries[0])
	}
	if entries[2].Differential == nil {
		t.Error("AUTO_ON entry lost its differential")
	}

	snap := d.tracker.Snapshot()
	if snap.Fan.State != logic.StateIdle || snap.Fan.SelfCausedOff {
		t.Errorf("final status: state=%s selfCausedOff=%v", snap.Fan.State, snap.Fan.SelfCausedOff)
	}
	if d.timers.Pending() != 0 {
		t.Errorf("pending timers: got %d, want 0", d.timers.Pending())
	}
}

func TestIntegrationCancelledTimerNeverActs(t *testing.T) {
	client := mqtt.NewFakeClient()
	d := newDaemon(t, integrationConfig(30*time.Millisecond, time.Hour), nil, client)

	d.set(livTemp, "70")
	d.set(livRH, "40")
	d.set(bathTemp, "70")
	d.set(bathRH, "60")
	d.set(fan, "off")
	d.set(gate, "on")
	d.set(fan, "on")

	// Arm, then let the real timer fire before the cancelling rise is handled.
	d.set(bathRH, "45")
	time.Sleep(100 * time.Millisecond)
	d.set(bathRH, "60")

	select {
	case f := <-d.timers.C():
		if events := d.ctl.HandleTimer(f); len(events) != 0 {
			t.Errorf("stale firing produced events: %v", types(events))
		}
	case <-time.After(time.Second):
		t.Fatal("expected the queued firing to be delivered")
	}

	for _, c := range client.Commands {
		if !c.On {
			t.Errorf("fan commanded off by a cancelled timer: %+v", client.Commands)
		}
	}
	if d.ctl.State() != logic.StateAutoActive {
		t.Errorf("state: got %s, want AUTO_ACTIVE", d.ctl.State())
	}
}

func TestIntegrationRelayManualCycle(t *testing.T) {
	client := mqtt.NewFakeClient()
	relay := gpio.NewFakeRelay(false, true)
	act := gpio.NewActuator(fan, relay)
	d := newDaemon(t, integrationConfig(time.Hour, 50*time.Millisecond), act, client)

	d.set(livTemp, "70")
	d.set(livRH, "40")
	d.set(bathTemp, "70")
	d.set(bathRH, "45")
	d.set(gate, "on")

	poll := func() {
		v, err := act.Poll()
		if err != nil {
			t.Fatalf("Poll: %v", err)
		}
		d.set(fan, v)
	}
	poll() // released: off
	poll() // pressed: toggles on

	if d.ctl.State() != logic.StateManualActive {
		t.Fatalf("state after button: got %s, want MANUAL_ACTIVE", d.ctl.State())
	}

	d.waitTimer(2 * time.Second)
	if relay.On {
		t.Error("relay still on after manual delay with dry air")
	}
	poll()

	snap := d.tracker.Snapshot()
	if snap.Fan.State != logic.StateIdle {
		t.Errorf("state: got %s, want IDLE", snap.Fan.State)
	}
	if snap.Fan.Counts.ManualOn != 1 || snap.Fan.Counts.Shutoff != 1 {
		t.Errorf("counts: got %+v", snap.Fan.Counts)
	}
	if snap.Fan.Counts.ManualOff != 0 {
		t.Errorf("own shutoff reported as manual off: %+v", snap.Fan.Counts)
	}
}

func TestIntegrationWebSurfaces(t *testing.T) {
	client := mqtt.NewFakeClient()
	d := newDaemon(t, integrationConfig(time.Minute, time.Hour), nil, client)

	d.set(livTemp, "70")
	d.set(livRH, "40")
	d.set(bathTemp, "70")
	d.set(bathRH, "60")
	d.set(fan, "off")
	d.set(gate, "on")

	srv := web.New(":0", d.tracker, d.journal, zap.NewNop().Sugar())
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/index.json")
	if err != nil {
		t.Fatalf("GET /index.json: %v", err)
	}
	var sj status.StatusJSON
	err = json.NewDecoder(resp.Body).Decode(&sj)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if sj.Status.State != string(logic.StateAutoActive) {
		t.Errorf("state: got %q, want AUTO_ACTIVE", sj.Status.State)
	}
	if sj.Status.Differential == nil || *sj.Status.Differential < 3.54 {
		t.Errorf("differential: got %v, want above 3.54", sj.Status.Differential)
	}
	if len(sj.Status.Entities) != 6 {
		t.Errorf("entities: got %d, want 6", len(sj.Status.Entities))
	}

	resp, err = http.Get(ts.URL + "/events.json?limit=1")
	if err != nil {
		t.Fatalf("GET /events.json: %v", err)
	}
	var ej web.EventsJSON
	err = json.NewDecoder(resp.Body).Decode(&ej)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("decode events: %v", err)
	}
	if len(ej.Events) != 1 || ej.Events[0].Type != string(logic.EventAutoOn) {
		t.Errorf("events: got %+v, want the AUTO_ON row", ej.Events)
	}
}
