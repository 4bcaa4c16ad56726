package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/sweeney/humidity-fan/internal/journal"
	"github.com/sweeney/humidity-fan/internal/logic"
	"github.com/sweeney/humidity-fan/internal/status"
)

type fakeEvents struct {
	entries []journal.Entry
	err     error
	limits  []int
}

func (f *fakeEvents) Recent(_ context.Context, limit int) ([]journal.Entry, error) {
	f.limits = append(f.limits, limit)
	if f.err != nil {
		return nil, f.err
	}
	return f.entries, nil
}

func testConfig() status.Config {
	return status.Config{
		HeartbeatMs:    900000,
		Broker:         "tcp://192.168.1.200:1883",
		HTTPAddr:       ":80",
		Backend:        "mqtt",
		Mode:           "dewpoint",
		Unit:           "C",
		Threshold:      5,
		LowerThreshold: 2,
		AutoDelay:      5 * time.Minute,
		ManualDelay:    10 * time.Minute,
		Gate:           "input_boolean.fan_auto",
		Actuator:       "switch.bathroom_fan",
	}
}

func newTestServer(t *testing.T, events EventSource) (*Server, *httptest.Server, *status.Tracker) {
	t.Helper()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tr := status.NewTracker(start, testConfig())
	srv := New(":0", tr, events, zap.NewNop().Sugar())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts, tr
}

func activeStatus() logic.Status {
	return logic.Status{
		State:         logic.StateAutoActive,
		Enabled:       true,
		Actuator:      "on",
		ReadingsValid: true,
		Readings: logic.Readings{
			Bathroom: logic.Zone{Humidity: 85, Temperature: 23},
			Living:   logic.Zone{Humidity: 45, Temperature: 21},
		},
		Differential:    7.7602,
		Counts:          logic.EventCounts{AutoOn: 3, Shutoff: 2},
		LastEvaluatedAt: time.Date(2026, 1, 1, 0, 5, 0, 0, time.UTC),
	}
}

func TestJSONEndpoint(t *testing.T) {
	_, ts, tr := newTestServer(t, nil)
	tr.Update(activeStatus(), map[string]string{"switch.bathroom_fan": "on"})
	tr.SetMQTTConnected(true)

	resp, err := http.Get(ts.URL + "/index.json")
	if err != nil {
		t.Fatalf("GET /index.json: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Errorf("status: got %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: got %q, want application/json", ct)
	}

	var sj status.StatusJSON
	if err := json.NewDecoder(resp.Body).Decode(&sj); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if sj.Status.State != "AUTO_ACTIVE" {
		t.Errorf("State: got %q, want AUTO_ACTIVE", sj.Status.State)
	}
	if sj.Status.Actuator != "on" {
		t.Errorf("Actuator: got %q, want on", sj.Status.Actuator)
	}
	if !sj.Status.MQTT.Connected {
		t.Error("expected MQTT.Connected=true")
	}
	if sj.Status.Counts.AutoOn != 3 {
		t.Errorf("Counts.AutoOn: got %d, want 3", sj.Status.Counts.AutoOn)
	}
	if sj.Status.Differential == nil || *sj.Status.Differential != 7.76 {
		t.Errorf("Differential: got %v, want 7.76", sj.Status.Differential)
	}
	if sj.Status.Config.Actuator != "switch.bathroom_fan" {
		t.Errorf("Config.Actuator: got %q", sj.Status.Config.Actuator)
	}
}

func TestHTMLEndpoint(t *testing.T) {
	_, ts, tr := newTestServer(t, nil)
	tr.Update(activeStatus(), map[string]string{"sensor.bathroom_humidity": "85"})

	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Errorf("status: got %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/html; charset=utf-8" {
		t.Errorf("Content-Type: got %q", ct)
	}
	body, _ := io.ReadAll(resp.Body)
	html := string(body)

	for _, want := range []string{
		"Bathroom Fan",
		"AUTO_ACTIVE",
		"7.760",
		"sensor.bathroom_humidity",
		"switch.bathroom_fan",
		"/ws",
	} {
		if !strings.Contains(html, want) {
			t.Errorf("HTML missing %q", want)
		}
	}
}

func TestHTMLIndexAlias(t *testing.T) {
	_, ts, _ := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/index.html")
	if err != nil {
		t.Fatalf("GET /index.html: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Errorf("status: got %d, want 200", resp.StatusCode)
	}
}

func TestHTMLBeforeFirstEvaluation(t *testing.T) {
	_, ts, _ := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	html := string(body)

	if !strings.Contains(html, "IDLE") {
		t.Error("expected IDLE state on fresh tracker")
	}
	if strings.Contains(html, "<h2>Readings</h2>") {
		t.Error("readings shown before any evaluation")
	}
}

func TestNotFound(t *testing.T) {
	_, ts, _ := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/nope")
	if err != nil {
		t.Fatalf("GET /nope: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != 404 {
		t.Errorf("status: got %d, want 404", resp.StatusCode)
	}
}

func TestEventsEndpoint(t *testing.T) {
	d := 7.7602
	events := &fakeEvents{entries: []journal.Entry{
		{ID: "b", OccurredAt: time.Date(2026, 1, 1, 0, 10, 0, 0, time.UTC), Type: "SHUTOFF", State: "IDLE", Timer: "AUTO_SHUTOFF"},
		{ID: "a", OccurredAt: time.Date(2026, 1, 1, 0, 5, 0, 0, time.UTC), Type: "AUTO_ON", State: "AUTO_ACTIVE", Differential: &d},
	}}
	_, ts, _ := newTestServer(t, events)

	resp, err := http.Get(ts.URL + "/events.json")
	if err != nil {
		t.Fatalf("GET /events.json: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("status: got %d, want 200", resp.StatusCode)
	}

	var body EventsJSON
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Events) != 2 {
		t.Fatalf("events: got %d, want 2", len(body.Events))
	}
	if body.Events[0].Type != "SHUTOFF" {
		t.Errorf("events[0].Type: got %q, want SHUTOFF", body.Events[0].Type)
	}
	if body.Events[1].Differential == nil || *body.Events[1].Differential != d {
		t.Errorf("events[1].Differential: got %v, want %v", body.Events[1].Differential, d)
	}
	if len(events.limits) != 1 || events.limits[0] != journal.DefaultLimit {
		t.Errorf("limits: got %v, want [%d]", events.limits, journal.DefaultLimit)
	}
}

func TestEventsLimit(t *testing.T) {
	events := &fakeEvents{}
	_, ts, _ := newTestServer(t, events)

	tests := []struct {
		query string
		code  int
	}{
		{"?limit=10", 200},
		{"?limit=500", 200},
		{"?limit=0", 400},
		{"?limit=501", 400},
		{"?limit=-1", 400},
		{"?limit=abc", 400},
	}
	for _, tc := range tests {
		resp, err := http.Get(ts.URL + "/events.json" + tc.query)
		if err != nil {
			t.Fatalf("GET %s: %v", tc.query, err)
		}
		resp.Body.Close()
		if resp.StatusCode != tc.code {
			t.Errorf("%s: got %d, want %d", tc.query, resp.StatusCode, tc.code)
		}
	}
	if len(events.limits) != 2 || events.limits[0] != 10 || events.limits[1] != 500 {
		t.Errorf("limits: got %v, want [10 500]", events.limits)
	}
}

func TestEventsWithoutJournal(t *testing.T) {
	_, ts, _ := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/events.json")
	if err != nil {
		t.Fatalf("GET /events.json: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `"events": []`) {
		t.Errorf("body: got %s, want empty events list", body)
	}
}

func TestEventsJournalError(t *testing.T) {
	_, ts, _ := newTestServer(t, &fakeEvents{err: errors.New("disk I/O error")})

	resp, err := http.Get(ts.URL + "/events.json")
	if err != nil {
		t.Fatalf("GET /events.json: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != 500 {
		t.Errorf("status: got %d, want 500", resp.StatusCode)
	}
}

func readStatus(t *testing.T, conn *websocket.Conn) status.StatusJSON {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read message: %v", err)
	}
	var sj status.StatusJSON
	if err := json.Unmarshal(data, &sj); err != nil {
		t.Fatalf("decode message: %v", err)
	}
	return sj
}

func dialWS(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestWebSocketPushesChanges(t *testing.T) {
	_, ts, tr := newTestServer(t, nil)
	conn := dialWS(t, ts)

	first := readStatus(t, conn)
	if first.Status.State != "IDLE" {
		t.Errorf("initial state: got %q, want IDLE", first.Status.State)
	}

	tr.Update(activeStatus(), nil)

	// A push may race the initial send; read until the update arrives.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		sj := readStatus(t, conn)
		if sj.Status.State == "AUTO_ACTIVE" {
			return
		}
	}
	t.Error("no AUTO_ACTIVE push received")
}

func TestWebSocketClosedOnShutdown(t *testing.T) {
	srv, ts, _ := newTestServer(t, nil)
	conn := dialWS(t, ts)
	readStatus(t, conn)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	srv.Shutdown(ctx)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Errorf("read after shutdown: got %v, want going-away close", err)
	}
}
